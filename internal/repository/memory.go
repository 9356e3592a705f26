package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"chatline-backend/internal/models"
)

// InMemoryStore is an in-memory implementation of Store
type InMemoryStore struct {
	mu           sync.RWMutex
	usersByID    map[int64]*models.User
	usersByEmail map[string]*models.User
	messages     []*models.Message
	lastUserID   int64
	lastMsgID    int64
}

// NewInMemoryStore creates an empty in-memory store
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		usersByID:    make(map[int64]*models.User),
		usersByEmail: make(map[string]*models.User),
	}
}

// copies are handed out so callers cannot mutate stored records

func cloneUser(u *models.User) *models.User {
	c := *u
	return &c
}

func cloneMessage(m *models.Message) *models.Message {
	c := *m
	return &c
}

// --- UserStore ---

func (s *InMemoryStore) CreateUser(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByEmail[user.Email]; exists {
		return ErrUserExists
	}

	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = user.CreatedAt
	}

	s.lastUserID++
	user.ID = s.lastUserID

	stored := cloneUser(user)
	s.usersByID[stored.ID] = stored
	s.usersByEmail[stored.Email] = stored
	return nil
}

func (s *InMemoryStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, exists := s.usersByEmail[email]
	if !exists {
		return nil, ErrUserNotFound
	}
	return cloneUser(user), nil
}

func (s *InMemoryStore) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, exists := s.usersByID[id]
	if !exists {
		return nil, ErrUserNotFound
	}
	return cloneUser(user), nil
}

func (s *InMemoryStore) GetAllUsers(ctx context.Context, exceptID int64) ([]*models.User, error) {
	return s.filterUsers(func(u *models.User) bool { return u.ID != exceptID }), nil
}

func (s *InMemoryStore) GetUsersWithLocation(ctx context.Context, exceptID int64) ([]*models.User, error) {
	return s.filterUsers(func(u *models.User) bool { return u.ID != exceptID && u.HasLocation() }), nil
}

func (s *InMemoryStore) filterUsers(keep func(*models.User) bool) []*models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := []*models.User{}
	for _, u := range s.usersByID {
		if keep(u) {
			users = append(users, cloneUser(u))
		}
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].Username != users[j].Username {
			return users[i].Username < users[j].Username
		}
		return users[i].ID < users[j].ID
	})
	return users
}

func (s *InMemoryStore) UpdatePushToken(ctx context.Context, id int64, token string) error {
	return s.updateUser(id, func(u *models.User) {
		u.PushToken = token
	})
}

func (s *InMemoryStore) UpdateLocation(ctx context.Context, id int64, ciphertext, iv string) error {
	return s.updateUser(id, func(u *models.User) {
		u.LocationCiphertext = ciphertext
		u.LocationIV = iv
	})
}

func (s *InMemoryStore) updateUser(id int64, update func(*models.User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.usersByID[id]
	if !exists {
		return ErrUserNotFound
	}
	update(user)
	user.UpdatedAt = time.Now()
	return nil
}

func (s *InMemoryStore) GetPushTokens(ctx context.Context, ids []int64) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tokens := []string{}
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if u, ok := s.usersByID[id]; ok && u.PushToken != "" {
			tokens = append(tokens, u.PushToken)
		}
	}
	return tokens, nil
}

// --- MessageStore ---

func (s *InMemoryStore) CreateMessage(ctx context.Context, message *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.usersByID[message.SenderID]; !ok {
		return ErrUserNotFound
	}
	if _, ok := s.usersByID[message.ReceiverID]; !ok {
		return ErrUserNotFound
	}

	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now()
	}
	if message.UpdatedAt.IsZero() {
		message.UpdatedAt = message.CreatedAt
	}

	s.lastMsgID++
	message.ID = s.lastMsgID
	s.messages = append(s.messages, cloneMessage(message))
	return nil
}

func (s *InMemoryStore) GetConversation(ctx context.Context, userA, userB int64, limit int) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conversation := []*models.Message{}
	for _, m := range s.messages {
		if (m.SenderID == userA && m.ReceiverID == userB) || (m.SenderID == userB && m.ReceiverID == userA) {
			conversation = append(conversation, cloneMessage(m))
		}
	}

	sort.SliceStable(conversation, func(i, j int) bool {
		if !conversation[i].CreatedAt.Equal(conversation[j].CreatedAt) {
			return conversation[i].CreatedAt.Before(conversation[j].CreatedAt)
		}
		return conversation[i].ID < conversation[j].ID
	})

	if limit > 0 && len(conversation) > limit {
		conversation = conversation[len(conversation)-limit:]
	}
	return conversation, nil
}

// MessageCount returns how many messages are stored
func (s *InMemoryStore) MessageCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// UserCount returns how many users are stored
func (s *InMemoryStore) UserCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.usersByID)
}
