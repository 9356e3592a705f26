package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"chatline-backend/internal/models"

	"github.com/rs/xid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// bootstrapPostgres connects to DATABASE_URL and applies the schema.
// Every test creates its own users, so runs can share one database.
func bootstrapPostgres(t *testing.T) *PostgresStore {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := NewPostgresStore(ctx, zaptest.NewLogger(t).Sugar(), url)
	require.NoError(t, err)
	t.Cleanup(s.Close)

	migration, err := os.ReadFile("../../migrations/001_init.sql")
	require.NoError(t, err)
	require.NoError(t, s.RunMigrations(ctx, string(migration)))
	return s
}

func createPostgresUser(t *testing.T, s *PostgresStore) *models.User {
	t.Helper()
	name := xid.New().String()
	now := time.Now().UTC()
	u := &models.User{
		Username:     name,
		Email:        name + "@example.com",
		PasswordHash: "hash",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, s.CreateUser(context.Background(), u))
	require.NotZero(t, u.ID)
	return u
}

func TestPostgresCreateUserExists(t *testing.T) {
	s := bootstrapPostgres(t)
	u := createPostgresUser(t, s)

	dup := &models.User{Username: "other", Email: u.Email, PasswordHash: "hash", CreatedAt: u.CreatedAt, UpdatedAt: u.UpdatedAt}
	require.Equal(t, ErrUserExists, s.CreateUser(context.Background(), dup))

	got, err := s.GetUserByEmail(context.Background(), u.Email)
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)
	require.Equal(t, u.Username, got.Username)
}

func TestPostgresGetUserNotFound(t *testing.T) {
	s := bootstrapPostgres(t)

	_, err := s.GetUserByID(context.Background(), -1)
	require.Equal(t, ErrUserNotFound, err)
	require.Equal(t, ErrUserNotFound, s.UpdatePushToken(context.Background(), -1, "token"))
}

func TestPostgresCreateMessageViolationFK(t *testing.T) {
	s := bootstrapPostgres(t)
	u := createPostgresUser(t, s)

	now := time.Now().UTC()
	m := &models.Message{SenderID: u.ID, ReceiverID: -1, Content: "hi", CreatedAt: now, UpdatedAt: now}
	require.Equal(t, ErrUserNotFound, s.CreateMessage(context.Background(), m))
}

func TestPostgresGetConversation(t *testing.T) {
	s := bootstrapPostgres(t)
	alice := createPostgresUser(t, s)
	bob := createPostgresUser(t, s)
	carol := createPostgresUser(t, s)

	base := time.Now().UTC().Truncate(time.Microsecond)
	for i := 0; i < 7; i++ {
		from, to := alice.ID, bob.ID
		if i%2 == 1 {
			from, to = to, from
		}
		at := base.Add(time.Duration(i) * time.Second)
		m := &models.Message{SenderID: from, ReceiverID: to, Content: string(rune('a' + i)), CreatedAt: at, UpdatedAt: at}
		require.NoError(t, s.CreateMessage(context.Background(), m))
	}
	other := &models.Message{SenderID: carol.ID, ReceiverID: alice.ID, Content: "carol", CreatedAt: base, UpdatedAt: base}
	require.NoError(t, s.CreateMessage(context.Background(), other))

	got, err := s.GetConversation(context.Background(), bob.ID, alice.ID, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, want := range []string{"e", "f", "g"} {
		require.Equal(t, want, got[i].Content)
		require.NotEqual(t, carol.ID, got[i].SenderID)
	}
	require.True(t, got[0].CreatedAt.Before(got[2].CreatedAt))

	all, err := s.GetConversation(context.Background(), alice.ID, bob.ID, 50)
	require.NoError(t, err)
	require.Len(t, all, 7)
}

func TestPostgresGetPushTokens(t *testing.T) {
	s := bootstrapPostgres(t)
	alice := createPostgresUser(t, s)
	bob := createPostgresUser(t, s)
	carol := createPostgresUser(t, s)

	require.NoError(t, s.UpdatePushToken(context.Background(), alice.ID, "alice-device"))
	require.NoError(t, s.UpdatePushToken(context.Background(), bob.ID, "bob-device"))
	// an empty token clears it
	require.NoError(t, s.UpdatePushToken(context.Background(), bob.ID, ""))

	tokens, err := s.GetPushTokens(context.Background(), []int64{alice.ID, bob.ID, carol.ID, -1})
	require.NoError(t, err)
	require.Equal(t, []string{"alice-device"}, tokens)

	tokens, err = s.GetPushTokens(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, tokens)
}
