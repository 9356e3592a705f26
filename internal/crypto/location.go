// Package crypto encrypts user locations at rest with AES-256-GCM.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"chatline-backend/internal/models"
)

const (
	// KeySize is the AES-256 key length in bytes
	KeySize = 32
	// IVSize is the length of the random nonce generated for every encryption
	IVSize = 16
	// TagSize is the GCM authentication tag appended to the ciphertext
	TagSize = 16
)

var (
	// ErrInvalidKeyLength is returned when the provided key is not 32 bytes
	ErrInvalidKeyLength = errors.New("invalid key length")
	// ErrMissingPayload is returned when ciphertext or iv is empty
	ErrMissingPayload = errors.New("missing ciphertext or iv")
	// ErrMalformedPayload is returned when ciphertext or iv cannot be decoded
	ErrMalformedPayload = errors.New("malformed ciphertext or iv")
)

// EncryptedPayload is the stored form of a location. Ciphertext carries the
// GCM tag in its last TagSize bytes.
type EncryptedPayload struct {
	Ciphertext string `json:"ciphertext"`
	IV         string `json:"iv"`
}

// LocationCipher seals and opens locations with a process-wide key
type LocationCipher struct {
	aead cipher.AEAD
	rand io.Reader
}

// NewLocationCipher creates a cipher from a 256-bit key
func NewLocationCipher(key []byte) (*LocationCipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidKeyLength, len(key), KeySize)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES block: %w", err)
	}

	aead, err := cipher.NewGCMWithNonceSize(block, IVSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &LocationCipher{aead: aead, rand: rand.Reader}, nil
}

// Encrypt serializes loc and seals it under a fresh random IV
func (c *LocationCipher) Encrypt(loc models.Location) (EncryptedPayload, error) {
	plaintext, err := json.Marshal(loc)
	if err != nil {
		return EncryptedPayload{}, fmt.Errorf("failed to serialize location: %w", err)
	}

	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(c.rand, iv); err != nil {
		return EncryptedPayload{}, fmt.Errorf("failed to generate iv: %w", err)
	}

	// Seal appends the tag to the ciphertext
	sealed := c.aead.Seal(nil, iv, plaintext, nil)

	return EncryptedPayload{
		Ciphertext: hex.EncodeToString(sealed),
		IV:         hex.EncodeToString(iv),
	}, nil
}

// Open verifies and decrypts a payload produced by Encrypt
func (c *LocationCipher) Open(ciphertextHex, ivHex string) (models.Location, error) {
	if ciphertextHex == "" || ivHex == "" {
		return models.Location{}, ErrMissingPayload
	}

	iv, err := hex.DecodeString(ivHex)
	if err != nil || len(iv) != IVSize {
		return models.Location{}, fmt.Errorf("%w: iv", ErrMalformedPayload)
	}

	sealed, err := hex.DecodeString(ciphertextHex)
	if err != nil || len(sealed) < TagSize {
		return models.Location{}, fmt.Errorf("%w: ciphertext", ErrMalformedPayload)
	}

	plaintext, err := c.aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return models.Location{}, fmt.Errorf("failed to authenticate location: %w", err)
	}

	var loc models.Location
	if err := json.Unmarshal(plaintext, &loc); err != nil {
		return models.Location{}, fmt.Errorf("failed to parse location: %w", err)
	}
	return loc, nil
}

// Decrypt is Open for callers that only care whether a location is available.
// It returns nil on any failure.
func (c *LocationCipher) Decrypt(ciphertextHex, ivHex string) *models.Location {
	loc, err := c.Open(ciphertextHex, ivHex)
	if err != nil {
		return nil
	}
	return &loc
}
