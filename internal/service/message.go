package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"chatline-backend/internal/models"
	"chatline-backend/internal/repository"

	"go.uber.org/zap"
)

// MaxHistoryLimit caps the number of messages returned by History
const MaxHistoryLimit = 50

// MessageNotifier is told about every stored message
type MessageNotifier interface {
	NotifyOnMessage(senderID, receiverID int64, content string) bool
}

// MessageService handles the message business logic
type MessageService struct {
	logger   *zap.SugaredLogger
	store    repository.Store
	notifier MessageNotifier
	now      func() time.Time
}

// NewMessageService creates a message service
func NewMessageService(logger *zap.SugaredLogger, store repository.Store, notifier MessageNotifier) *MessageService {
	return &MessageService{
		logger:   logger,
		store:    store,
		notifier: notifier,
		now:      time.Now,
	}
}

// Send validates and stores a message, then hands it to the notifier.
// The notification outcome never changes the result of Send.
func (s *MessageService) Send(ctx context.Context, senderID, receiverID int64, content string) (*models.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, validationError("content is required")
	}
	if receiverID <= 0 {
		return nil, validationError("receiverId is required")
	}

	// database precision, so the returned message equals what a later read returns
	now := s.now().UTC().Truncate(time.Microsecond)
	message := &models.Message{
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.store.CreateMessage(ctx, message); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, notFoundError("receiver not found")
		}
		s.logger.Errorw("Error saving message", "senderId", senderID, "receiverId", receiverID, "error", err)
		return nil, internalError("error sending message")
	}

	if s.notifier != nil {
		s.notifier.NotifyOnMessage(senderID, receiverID, content)
	}

	return message, nil
}

// History returns the latest messages between userID and otherID, oldest first.
// limit is clamped to (0, MaxHistoryLimit].
func (s *MessageService) History(ctx context.Context, userID, otherID int64, limit int) ([]*models.Message, error) {
	if otherID <= 0 {
		return nil, validationError("invalid user id")
	}
	if limit <= 0 || limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	if _, err := s.store.GetUserByID(ctx, otherID); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, notFoundError("user not found")
		}
		s.logger.Errorw("Error getting user", "userId", otherID, "error", err)
		return nil, internalError("error fetching chat history")
	}

	messages, err := s.store.GetConversation(ctx, userID, otherID, limit)
	if err != nil {
		s.logger.Errorw("Error fetching chat history", "userId", userID, "otherUserId", otherID, "error", err)
		return nil, internalError("error fetching chat history")
	}
	return messages, nil
}
