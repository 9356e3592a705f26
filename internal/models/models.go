package models

import (
	"time"
)

// User represents an account in the system
type User struct {
	ID                 int64     `json:"id"`
	Username           string    `json:"username"`
	Email              string    `json:"email"`
	PasswordHash       string    `json:"-"` // never exposed in JSON
	PushToken          string    `json:"-"`
	LocationCiphertext string    `json:"-"`
	LocationIV         string    `json:"-"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// HasLocation reports whether an encrypted location is stored for the user
func (u *User) HasLocation() bool {
	return u.LocationCiphertext != "" && u.LocationIV != ""
}

// Location is a latitude/longitude pair. It only ever reaches the store encrypted.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Message is a one-to-one text message. Messages are immutable once stored.
type Message struct {
	ID         int64     `json:"id"`
	SenderID   int64     `json:"senderId"`
	ReceiverID int64     `json:"receiverId"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}
