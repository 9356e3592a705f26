package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func TestNewTokenServiceEmptySecret(t *testing.T) {
	_, err := NewTokenService("")
	require.Error(t, err)
}

func TestIssueVerify(t *testing.T) {
	s, err := NewTokenService(testSecret)
	require.NoError(t, err)

	token, err := s.NewToken(42)
	require.NoError(t, err)

	userID, err := s.Verify(token)
	require.NoError(t, err)
	require.Equal(t, int64(42), userID)
}

func TestTokensAreUnique(t *testing.T) {
	s, err := NewTokenService(testSecret)
	require.NoError(t, err)

	a, err := s.NewToken(1)
	require.NoError(t, err)
	b, err := s.NewToken(1)
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestVerifyExpired(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	s, err := NewTokenService(testSecret, WithClock(clock.now))
	require.NoError(t, err)

	token, err := s.NewToken(7)
	require.NoError(t, err)

	clock.t = clock.t.Add(TokenTTL - time.Minute)
	userID, err := s.Verify(token)
	require.NoError(t, err)
	require.Equal(t, int64(7), userID)

	clock.t = clock.t.Add(2 * time.Minute)
	_, err = s.Verify(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyWrongSecret(t *testing.T) {
	issuer, err := NewTokenService("another-secret")
	require.NoError(t, err)
	token, err := issuer.NewToken(1)
	require.NoError(t, err)

	s, err := NewTokenService(testSecret)
	require.NoError(t, err)
	_, err = s.Verify(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyTampered(t *testing.T) {
	s, err := NewTokenService(testSecret)
	require.NoError(t, err)
	token, err := s.NewToken(1)
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)

	// swap in the claims of another user while keeping the old signature
	other, err := s.NewToken(2)
	require.NoError(t, err)
	forged := parts[0] + "." + strings.Split(other, ".")[1] + "." + parts[2]

	_, err = s.Verify(forged)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyMalformed(t *testing.T) {
	s, err := NewTokenService(testSecret)
	require.NoError(t, err)

	for _, token := range []string{"", "abc", "a.b.c", "Bearer xyz"} {
		_, err := s.Verify(token)
		require.ErrorIs(t, err, ErrInvalidToken, token)
	}
}

func TestVerifyRejectsOtherAlgorithms(t *testing.T) {
	s, err := NewTokenService(testSecret)
	require.NoError(t, err)

	claims := jwt.RegisteredClaims{
		Subject:   "1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = s.Verify(none)
	require.ErrorIs(t, err, ErrInvalidToken)

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = s.Verify(hs512)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRequiresExpiryAndUserSubject(t *testing.T) {
	s, err := NewTokenService(testSecret)
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "1"}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = s.Verify(noExpiry)
	require.ErrorIs(t, err, ErrInvalidToken)

	badSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "not-a-number",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = s.Verify(badSubject)
	require.ErrorIs(t, err, ErrInvalidToken)
}
