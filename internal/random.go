// Package internal holds the random-material generators shared by the
// engine and its store adapters.
package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

const (
	selectorSize  = 12
	validatorSize = 20
	rawTokenSize  = 32
)

// NewID returns a fresh row identifier.
func NewID() string {
	return uuid.NewString()
}

// NewSelector returns the public lookup half of a remember-me token:
// 12 random bytes, base64url without padding.
func NewSelector() (string, error) {
	return randomString(selectorSize)
}

// NewValidator returns the secret half of a remember-me token:
// 20 random bytes, base64url without padding. Only its hash is stored.
func NewValidator() (string, error) {
	return randomString(validatorSize)
}

// NewRawToken returns a raw access-token or magic-link value:
// 32 random bytes, base64url without padding.
func NewRawToken() (string, error) {
	return randomString(rawTokenSize)
}

// HashToken returns the SHA-256 hex digest used as the stored form of
// validators and access-token secrets.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// NewOTP returns a random numeric one-time code of the given length.
func NewOTP(digits int) (string, error) {
	if digits < 4 || digits > 10 {
		return "", errors.New("invalid otp digits")
	}

	var b strings.Builder
	b.Grow(digits)

	max := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}

	return b.String(), nil
}

func randomString(size int) (string, error) {
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
