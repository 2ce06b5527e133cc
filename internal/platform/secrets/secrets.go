package secrets

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// KeySize is the length in bytes of a population secret.
const KeySize = 32

// ErrInvalidSecret is returned for secrets that are not KeySize bytes of hex.
var ErrInvalidSecret = errors.New("invalid secret")

// Generate creates a random secret and returns it hex-encoded.
func Generate() (string, error) {
	buf := make([]byte, KeySize)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("could not generate secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Decode parses a hex-encoded secret. The error never echoes the input.
func Decode(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, fmt.Errorf("secret is empty: %w", ErrInvalidSecret)
	}
	key, err := hex.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("secret is not hex: %w", ErrInvalidSecret)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("secret is %d bytes, want %d: %w", len(key), KeySize, ErrInvalidSecret)
	}
	return key, nil
}
