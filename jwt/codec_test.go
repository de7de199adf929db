package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var hsSecret = []byte("0123456789abcdef0123456789abcdef")

func hsCodec(t *testing.T, mutate func(*Config)) *Codec {
	t.Helper()

	cfg := Config{
		TTL:        5 * time.Minute,
		Issuer:     "authtest",
		Method:     MethodHS256,
		PrivateKey: hsSecret,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := New(cfg)
	require.NoError(t, err)
	return c
}

func TestRoundTripHS256(t *testing.T) {
	c := hsCodec(t, nil)

	raw, err := c.Encode("user-42", 0)
	require.NoError(t, err)

	subject, err := c.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, "user-42", subject)
}

func TestRoundTripEd25519(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	c, err := New(Config{
		TTL:        time.Minute,
		Method:     MethodEd25519,
		PrivateKey: []byte(priv),
	})
	require.NoError(t, err)

	raw, err := c.Encode("user-42", 0)
	require.NoError(t, err)
	subject, err := c.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, "user-42", subject)
}

func TestDecodeEmptySubject(t *testing.T) {
	c := hsCodec(t, nil)

	raw, err := c.Encode("", 0)
	require.NoError(t, err)

	// A verified token with no subject is not an error; the caller
	// decides what an empty subject means.
	subject, err := c.Decode(raw)
	require.NoError(t, err)
	assert.Empty(t, subject)
}

func TestDecodeRejectsExpired(t *testing.T) {
	c := hsCodec(t, nil)

	raw, err := c.Encode("user-42", time.Nanosecond)
	require.NoError(t, err)

	_, err = c.Decode(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestDecodeLeeway(t *testing.T) {
	c := hsCodec(t, func(cfg *Config) { cfg.Leeway = time.Minute })

	raw, err := c.Encode("user-42", time.Nanosecond)
	require.NoError(t, err)

	subject, err := c.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, "user-42", subject)
}

func TestDecodeRejectsWrongKey(t *testing.T) {
	c := hsCodec(t, nil)
	other := hsCodec(t, func(cfg *Config) { cfg.PrivateKey = []byte("ffffffffffffffffffffffffffffffff") })

	raw, err := c.Encode("user-42", 0)
	require.NoError(t, err)

	_, err = other.Decode(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestDecodeRejectsWrongIssuer(t *testing.T) {
	c := hsCodec(t, nil)
	other := hsCodec(t, func(cfg *Config) { cfg.Issuer = "someone-else" })

	raw, err := c.Encode("user-42", 0)
	require.NoError(t, err)

	_, err = other.Decode(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	c := hsCodec(t, nil)

	for _, raw := range []string{"", "x", "a.b.c"} {
		_, err := c.Decode(raw)
		assert.ErrorIs(t, err, ErrInvalidToken, "raw = %q", raw)
	}
}

func TestNewValidation(t *testing.T) {
	_, err := New(Config{TTL: 0, Method: MethodHS256, PrivateKey: hsSecret})
	assert.Error(t, err)

	_, err = New(Config{TTL: time.Minute, Method: MethodHS256})
	assert.Error(t, err, "hs256 without secret")

	_, err = New(Config{TTL: time.Minute, Method: "rs256", PrivateKey: hsSecret})
	assert.Error(t, err, "unsupported method")

	_, err = New(Config{TTL: time.Minute, Method: MethodHS256, PrivateKey: hsSecret, Leeway: time.Hour})
	assert.Error(t, err, "leeway out of range")
}
