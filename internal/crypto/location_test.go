package crypto

import (
	"bytes"
	"encoding/hex"
	"testing"

	"chatline-backend/internal/models"

	"github.com/stretchr/testify/require"
)

func newTestCipher(t *testing.T) *LocationCipher {
	t.Helper()
	c, err := NewLocationCipher(bytes.Repeat([]byte{0x42}, KeySize))
	require.NoError(t, err)
	return c
}

func TestNewLocationCipherKeyLength(t *testing.T) {
	for _, n := range []int{0, 16, 24, 31, 33} {
		_, err := NewLocationCipher(make([]byte, n))
		require.ErrorIs(t, err, ErrInvalidKeyLength)
	}
}

func TestRoundTrip(t *testing.T) {
	c := newTestCipher(t)

	locations := []models.Location{
		{Latitude: 0, Longitude: 0},
		{Latitude: -6.200000, Longitude: 106.816666},
		{Latitude: 90, Longitude: -180},
		{Latitude: -90, Longitude: 180},
		{Latitude: 51.5072178, Longitude: -0.1275862},
	}
	for _, loc := range locations {
		p, err := c.Encrypt(loc)
		require.NoError(t, err)

		got := c.Decrypt(p.Ciphertext, p.IV)
		require.NotNil(t, got)
		require.Equal(t, loc, *got)
	}
}

func TestEncryptFreshIV(t *testing.T) {
	c := newTestCipher(t)
	loc := models.Location{Latitude: 1.5, Longitude: 2.5}

	a, err := c.Encrypt(loc)
	require.NoError(t, err)
	b, err := c.Encrypt(loc)
	require.NoError(t, err)

	require.NotEqual(t, a.IV, b.IV)
	require.NotEqual(t, a.Ciphertext, b.Ciphertext)

	iv, err := hex.DecodeString(a.IV)
	require.NoError(t, err)
	require.Len(t, iv, IVSize)
}

func flipByte(t *testing.T, s string, i int) string {
	t.Helper()
	raw, err := hex.DecodeString(s)
	require.NoError(t, err)
	raw[i] ^= 0x01
	return hex.EncodeToString(raw)
}

func TestTamperingYieldsNil(t *testing.T) {
	c := newTestCipher(t)
	p, err := c.Encrypt(models.Location{Latitude: 10, Longitude: 20})
	require.NoError(t, err)

	sealedLen := len(p.Ciphertext) / 2
	for i := 0; i < sealedLen; i++ {
		require.Nil(t, c.Decrypt(flipByte(t, p.Ciphertext, i), p.IV), "ciphertext byte %d", i)
	}
	for i := 0; i < IVSize; i++ {
		require.Nil(t, c.Decrypt(p.Ciphertext, flipByte(t, p.IV, i)), "iv byte %d", i)
	}
}

func TestDecryptMalformedInput(t *testing.T) {
	c := newTestCipher(t)
	p, err := c.Encrypt(models.Location{Latitude: 10, Longitude: 20})
	require.NoError(t, err)

	cases := map[string][2]string{
		"empty ciphertext": {"", p.IV},
		"empty iv":         {p.Ciphertext, ""},
		"non hex":          {"zz" + p.Ciphertext[2:], p.IV},
		"short iv":         {p.Ciphertext, p.IV[:10]},
		"short ciphertext": {p.Ciphertext[:8], p.IV},
		"truncated tag":    {p.Ciphertext[:len(p.Ciphertext)-2], p.IV},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			require.NotPanics(t, func() {
				require.Nil(t, c.Decrypt(in[0], in[1]))
			})
		})
	}

	_, err = c.Open("", "")
	require.ErrorIs(t, err, ErrMissingPayload)
	_, err = c.Open(p.Ciphertext, "xyz")
	require.ErrorIs(t, err, ErrMalformedPayload)
}

func TestDecryptWithOtherKey(t *testing.T) {
	c := newTestCipher(t)
	p, err := c.Encrypt(models.Location{Latitude: 10, Longitude: 20})
	require.NoError(t, err)

	other, err := NewLocationCipher(bytes.Repeat([]byte{0x24}, KeySize))
	require.NoError(t, err)
	require.Nil(t, other.Decrypt(p.Ciphertext, p.IV))
}
