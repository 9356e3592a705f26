package service

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"chatline-backend/internal/auth"
	"chatline-backend/internal/crypto"
	"chatline-backend/internal/models"
	"chatline-backend/internal/notify"
	"chatline-backend/internal/repository"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const testPassword = "correct-horse-battery-staple"

type messageCall struct {
	senderID, receiverID int64
	content              string
}

type nearbyCall struct {
	userID int64
	ids    []int64
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []messageCall
	nearby   []nearbyCall
}

func (n *recordingNotifier) NotifyOnMessage(senderID, receiverID int64, content string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, messageCall{senderID, receiverID, content})
	return true
}

// NotifyLocationUpdate runs the finder right away and records non-empty results
func (n *recordingNotifier) NotifyLocationUpdate(userID int64, findNearby notify.NearbyFinder) bool {
	ids, err := findNearby(context.Background())
	if err != nil || len(ids) == 0 {
		return true
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.nearby = append(n.nearby, nearbyCall{userID, ids})
	return true
}

type fixture struct {
	store    *repository.InMemoryStore
	tokens   *auth.TokenService
	notifier *recordingNotifier
	users    *UserService
	messages *MessageService
}

func bootstrap(t *testing.T, opts UserOptions) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()

	tokens, err := auth.NewTokenService("test-secret")
	require.NoError(t, err)
	cipher, err := crypto.NewLocationCipher(bytes.Repeat([]byte{7}, crypto.KeySize))
	require.NoError(t, err)

	f := &fixture{
		store:    repository.NewInMemoryStore(),
		tokens:   tokens,
		notifier: &recordingNotifier{},
	}
	f.users = NewUserService(logger, f.store, tokens, cipher, f.notifier, opts)
	f.messages = NewMessageService(logger, f.store, f.notifier)
	return f
}

func (f *fixture) register(t *testing.T, username string) *models.User {
	t.Helper()
	res, err := f.users.Register(context.Background(), username, username+"@example.com", testPassword)
	require.NoError(t, err)
	return res.User
}
