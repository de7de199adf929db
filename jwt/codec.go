// Package jwt implements the engine's token codec contract on
// github.com/golang-jwt/jwt/v5, supporting HS256 and Ed25519 signing.
package jwt

import (
	"crypto/ed25519"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Method selects the signing algorithm.
type Method string

const (
	// MethodHS256 signs with an HMAC-SHA256 shared secret.
	MethodHS256 Method = "hs256"
	// MethodEd25519 signs with an Ed25519 private key.
	MethodEd25519 Method = "ed25519"
)

// ErrInvalidToken covers every verification failure: bad signature,
// expired, wrong issuer or audience, malformed input.
var ErrInvalidToken = errors.New("invalid token")

// Config holds the codec parameters.
type Config struct {
	TTL        time.Duration
	Issuer     string
	Audience   string
	Method     Method
	PrivateKey []byte
	PublicKey  []byte
	Leeway     time.Duration
}

// Codec encodes and decodes signed tokens. Safe for concurrent use.
type Codec struct {
	cfg     Config
	signKey any
	sign    jwt.SigningMethod
	verify  any
}

// New validates the configuration and key material and returns a Codec.
func New(cfg Config) (*Codec, error) {
	if cfg.TTL <= 0 {
		return nil, errors.New("jwt: ttl must be positive")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("jwt: leeway out of range")
	}

	c := &Codec{cfg: cfg}
	switch cfg.Method {
	case MethodHS256:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("jwt: hs256 requires a shared secret")
		}
		c.sign = jwt.SigningMethodHS256
		c.signKey = cfg.PrivateKey
		c.verify = cfg.PrivateKey
	case MethodEd25519:
		priv, err := parseEdPrivate(cfg.PrivateKey)
		if err != nil {
			return nil, err
		}
		pub, err := parseEdPublic(cfg.PublicKey, priv)
		if err != nil {
			return nil, err
		}
		c.sign = jwt.SigningMethodEdDSA
		c.signKey = priv
		c.verify = pub
	default:
		return nil, fmt.Errorf("jwt: unsupported signing method %q", cfg.Method)
	}

	return c, nil
}

// Encode issues a signed token for the given subject. A zero ttl uses
// the configured default.
func (c *Codec) Encode(subject string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = c.cfg.TTL
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    c.cfg.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if c.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{c.cfg.Audience}
	}

	return jwt.NewWithClaims(c.sign, claims).SignedString(c.signKey)
}

// Decode verifies signature and registered claims and returns the
// subject claim verbatim; an absent subject decodes to the empty
// string without error.
func (c *Codec) Decode(raw string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{c.sign.Alg()}),
		jwt.WithLeeway(c.cfg.Leeway),
		jwt.WithExpirationRequired(),
	}
	if c.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.cfg.Issuer))
	}
	if c.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(c.cfg.Audience))
	}

	var claims jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return c.verify, nil
	}, opts...)
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}

	return claims.Subject, nil
}

func parseEdPrivate(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == 0 {
		return nil, errors.New("jwt: ed25519 requires a private key")
	}
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	block, _ := pem.Decode(key)
	if block == nil {
		return nil, errors.New("jwt: ed25519 private key is neither raw nor PEM")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("jwt: parsing ed25519 private key: %w", err)
	}
	priv, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("jwt: PEM key is not ed25519")
	}
	return priv, nil
}

func parseEdPublic(key []byte, priv ed25519.PrivateKey) (ed25519.PublicKey, error) {
	if len(key) == 0 {
		return priv.Public().(ed25519.PublicKey), nil
	}
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	block, _ := pem.Decode(key)
	if block == nil {
		return nil, errors.New("jwt: ed25519 public key is neither raw nor PEM")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("jwt: parsing ed25519 public key: %w", err)
	}
	pub, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("jwt: PEM key is not ed25519")
	}
	return pub, nil
}
