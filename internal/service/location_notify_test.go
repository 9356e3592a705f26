package service

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"chatline-backend/internal/auth"
	"chatline-backend/internal/crypto"
	"chatline-backend/internal/models"
	"chatline-backend/internal/notify"
	"chatline-backend/internal/push"
	"chatline-backend/internal/repository"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// slowLocationStore makes the nearby candidate scan slow and context aware
type slowLocationStore struct {
	*repository.InMemoryStore
	delay time.Duration
}

func (s *slowLocationStore) GetUsersWithLocation(ctx context.Context, exceptID int64) ([]*models.User, error) {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s.InMemoryStore.GetUsersWithLocation(ctx, exceptID)
}

type multicastGateway struct {
	mu     sync.Mutex
	tokens [][]string
}

func (g *multicastGateway) Send(ctx context.Context, token string, n push.Notification) (string, error) {
	if _, err := g.SendMulticast(ctx, []string{token}, n); err != nil {
		return "", err
	}
	return "id", nil
}

func (g *multicastGateway) SendMulticast(ctx context.Context, tokens []string, n push.Notification) (push.BatchResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tokens = append(g.tokens, append([]string(nil), tokens...))
	return push.BatchResult{SuccessCount: len(tokens)}, nil
}

func (g *multicastGateway) sent() [][]string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([][]string(nil), g.tokens...)
}

func TestUpdateLocationDoesNotWaitForNearbyScan(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	store := &slowLocationStore{InMemoryStore: repository.NewInMemoryStore(), delay: 300 * time.Millisecond}
	gateway := &multicastGateway{}
	dispatcher := notify.NewDispatcher(logger, store, gateway, notify.Options{Timeout: 5 * time.Second})

	tokens, err := auth.NewTokenService("test-secret")
	require.NoError(t, err)
	cipher, err := crypto.NewLocationCipher(bytes.Repeat([]byte{9}, crypto.KeySize))
	require.NoError(t, err)
	users := NewUserService(logger, store, tokens, cipher, dispatcher, UserOptions{NearbyRadiusKm: 5})

	ctx := context.Background()
	alice, err := users.Register(ctx, "alice", "alice@example.com", testPassword)
	require.NoError(t, err)
	bob, err := users.Register(ctx, "bob", "bob@example.com", testPassword)
	require.NoError(t, err)
	require.NoError(t, users.UpdatePushToken(ctx, bob.User.ID, "bob-device"))

	require.NoError(t, users.UpdateLocation(ctx, bob.User.ID, models.Location{Latitude: 52.5200, Longitude: 13.4050}))
	dispatcher.Wait()
	require.Empty(t, gateway.sent())

	// the client is already gone when alice's update is handled
	reqCtx, cancel := context.WithCancel(ctx)
	cancel()

	start := time.Now()
	require.NoError(t, users.UpdateLocation(reqCtx, alice.User.ID, models.Location{Latitude: 52.5290, Longitude: 13.4050}))
	require.Less(t, time.Since(start), store.delay)

	dispatcher.Wait()
	require.Equal(t, [][]string{{"bob-device"}}, gateway.sent())
}
