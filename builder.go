package auth

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/daycry/auth/jwt"
	"github.com/daycry/auth/password"
	"github.com/daycry/auth/throttle"
)

// Builder wires an [Engine]. A user provider and an identity store are
// required; a Redis client is required when throttling is enabled, and
// a remember store when remember-me is. The redisstore and postgres
// subpackages provide store implementations.
type Builder struct {
	cfg   Config
	redis redis.UniversalClient

	users      UserProvider
	identities IdentityStore
	remembers  RememberStore
	groups     GroupStore
	recorder   LoginRecorder

	codec   TokenCodec
	clock   Clock
	log     *slog.Logger
	actions map[string]Action
}

// New starts a builder with [DefaultConfig].
func New() *Builder {
	return &Builder{
		cfg:     DefaultConfig(),
		actions: map[string]Action{},
	}
}

// WithConfig replaces the configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.cfg = cfg
	return b
}

// WithRedis sets the Redis client used for throttle counters.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithUserProvider sets the account backend.
func (b *Builder) WithUserProvider(users UserProvider) *Builder {
	b.users = users
	return b
}

// WithIdentityStore sets the credential backend.
func (b *Builder) WithIdentityStore(idents IdentityStore) *Builder {
	b.identities = idents
	return b
}

// WithRememberStore sets the remember-me token backend.
func (b *Builder) WithRememberStore(store RememberStore) *Builder {
	b.remembers = store
	return b
}

// WithGroupStore sets the membership backend behind [Engine.Authorize].
func (b *Builder) WithGroupStore(store GroupStore) *Builder {
	b.groups = store
	return b
}

// WithRecorder sets the login-attempt recorder.
func (b *Builder) WithRecorder(rec LoginRecorder) *Builder {
	b.recorder = rec
	return b
}

// WithCodec overrides the JWT codec built from [JWTConfig].
func (b *Builder) WithCodec(codec TokenCodec) *Builder {
	b.codec = codec
	return b
}

// WithClock overrides the wall clock, for tests.
func (b *Builder) WithClock(clock Clock) *Builder {
	b.clock = clock
	return b
}

// WithLogger sets the structured logger.
func (b *Builder) WithLogger(log *slog.Logger) *Builder {
	b.log = log
	return b
}

// WithAction registers an action under name, on top of the defaults.
func (b *Builder) WithAction(name string, action Action) *Builder {
	b.actions[name] = action
	return b
}

// Build validates the configuration and assembles the engine.
func (b *Builder) Build() (*Engine, error) {
	if err := b.cfg.Validate(); err != nil {
		return nil, err
	}
	if b.users == nil {
		return nil, fmt.Errorf("%w: user provider required", ErrEngineNotReady)
	}
	if b.identities == nil {
		return nil, fmt.Errorf("%w: identity store required", ErrEngineNotReady)
	}
	if b.cfg.Remember.Enabled && b.remembers == nil {
		return nil, fmt.Errorf("%w: remember store required", ErrEngineNotReady)
	}

	hasher, err := password.New(password.Config{
		Memory:      b.cfg.Password.Memory,
		Time:        b.cfg.Password.Time,
		Parallelism: b.cfg.Password.Parallelism,
		SaltLength:  b.cfg.Password.SaltLength,
		KeyLength:   b.cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}

	var limiter *throttle.Limiter
	if b.cfg.Throttle.Enabled {
		if b.redis == nil {
			return nil, fmt.Errorf("%w: redis client required for throttling", ErrEngineNotReady)
		}
		limiter = throttle.New(b.redis, "auth:throttle:", throttle.Config{
			MaxAttempts:   b.cfg.Throttle.MaxAttempts,
			Window:        b.cfg.Throttle.Window,
			BlockDuration: b.cfg.Throttle.BlockDuration,
		})
	}

	codec := b.codec
	if codec == nil && len(b.cfg.JWT.PrivateKey) > 0 {
		codec, err = jwt.New(jwt.Config{
			TTL:        b.cfg.JWT.TTL,
			Issuer:     b.cfg.JWT.Issuer,
			Audience:   b.cfg.JWT.Audience,
			Method:     jwt.Method(b.cfg.JWT.SigningMethod),
			PrivateKey: b.cfg.JWT.PrivateKey,
			PublicKey:  b.cfg.JWT.PublicKey,
			Leeway:     b.cfg.JWT.Leeway,
		})
		if err != nil {
			return nil, err
		}
	}

	clock := b.clock
	if clock == nil {
		clock = SystemClock()
	}
	log := b.log
	if log == nil {
		log = slog.Default()
	}

	actions := map[string]Action{
		ActionEmailActivate: &EmailActivateAction{Digits: 6, Lifetime: time.Hour},
		ActionEmail2FA:      &Email2FAAction{Digits: 6, Lifetime: 10 * time.Minute},
		ActionMagicLink:     &MagicLinkAction{Lifetime: time.Hour},
	}
	for name, action := range b.actions {
		actions[name] = action
	}

	return &Engine{
		cfg:        b.cfg,
		clock:      clock,
		log:        log.With("component", "auth"),
		users:      b.users,
		identities: b.identities,
		remembers:  b.remembers,
		groups:     b.groups,
		recorder:   b.recorder,
		limiter:    limiter,
		codec:      codec,
		hasher:     hasher,
		actions:    actions,
		metrics:    &Metrics{},
	}, nil
}
