package repository

import (
	"context"
	"errors"

	"chatline-backend/internal/models"
)

var (
	ErrUserExists   = errors.New("user already exists")
	ErrUserNotFound = errors.New("user does not exist")
)

// UserStore defines the user operations on the database
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	GetAllUsers(ctx context.Context, exceptID int64) ([]*models.User, error)
	UpdatePushToken(ctx context.Context, id int64, token string) error
	UpdateLocation(ctx context.Context, id int64, ciphertext, iv string) error
	GetUsersWithLocation(ctx context.Context, exceptID int64) ([]*models.User, error)
	GetPushTokens(ctx context.Context, ids []int64) ([]string, error)
}

// MessageStore defines the message operations on the database
type MessageStore interface {
	CreateMessage(ctx context.Context, message *models.Message) error
	// GetConversation returns the limit most recent messages exchanged between
	// userA and userB, oldest first.
	GetConversation(ctx context.Context, userA, userB int64, limit int) ([]*models.Message, error)
}

// Store aggregates every store operation to ease dependency injection
type Store interface {
	UserStore
	MessageStore
}
