package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AttemptPolicy selects which authentication attempts are handed to the
// configured [LoginRecorder]. Throttle counters are maintained
// regardless of policy.
type AttemptPolicy int

const (
	// RecordNone disables attempt recording.
	RecordNone AttemptPolicy = iota
	// RecordFailures records failed attempts only.
	RecordFailures
	// RecordAll records every attempt, success or failure.
	RecordAll
)

// Config carries every tunable of the engine. Build one with
// [DefaultConfig] and override, or load overrides from the environment
// with [ConfigFromEnv].
type Config struct {
	Session       SessionConfig
	Remember      RememberConfig
	AccessToken   AccessTokenConfig
	JWT           JWTConfig
	Password      PasswordConfig
	Throttle      ThrottleConfig
	Actions       ActionsConfig
	Authorization AuthorizationConfig

	// RecordAttempts selects the attempt-recording policy.
	RecordAttempts AttemptPolicy
}

// SessionConfig tunes the session strategy and its Redis state store.
type SessionConfig struct {
	KeyPrefix string
	Lifetime  time.Duration
}

// RememberConfig tunes remember-me token issuance.
type RememberConfig struct {
	Enabled    bool
	CookieName string
	Lifetime   time.Duration
	// PurgeChance is the percent probability (0-100) that a successful
	// login sweeps expired tokens instead of relying on a scheduler.
	PurgeChance int
}

// AccessTokenConfig tunes the opaque access-token strategy.
type AccessTokenConfig struct {
	HeaderName string
	// UnusedLifetime fails tokens whose last use is older than this.
	// Zero disables the check.
	UnusedLifetime time.Duration
}

// JWTConfig tunes the default JWT codec built by [Builder.Build] when
// no codec is injected.
type JWTConfig struct {
	TTL           time.Duration
	Issuer        string
	Audience      string
	SigningMethod string // "hs256" or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	Leeway        time.Duration
}

// PasswordConfig carries Argon2id parameters, mirrored into the
// password subpackage by the builder.
type PasswordConfig struct {
	Memory      uint32 // KiB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	// UpgradeOnLogin transparently rehashes a verified password when
	// the configured parameters are stronger than the stored hash's.
	UpgradeOnLogin bool
}

// ThrottleConfig tunes brute-force throttling of login attempts.
type ThrottleConfig struct {
	Enabled     bool
	MaxAttempts int
	Window      time.Duration
	// BlockDuration extends the counter's life once MaxAttempts is
	// reached; further attempts are rejected until it elapses.
	BlockDuration time.Duration
	// ByIP adds a per-client-IP counter next to the per-identifier one.
	ByIP bool
	// ByRoute adds a per-route counter when the request context carries
	// a route via [WithRoute].
	ByRoute bool
}

// ActionsConfig names the pending action started after each trigger.
// Empty means no action is owed for that trigger. Chain order for owed
// identity scanning is Login first, then Register.
type ActionsConfig struct {
	Login    string
	Register string
}

// AuthorizationConfig is the static permission matrix: group name to
// granted permission strings, where an entry "scope.*" grants every
// action within the scope. Permissions lists grantable permission names
// beyond those appearing in the matrix.
type AuthorizationConfig struct {
	Groups       map[string][]string
	Permissions  []string
	DefaultGroup string
}

// DefaultConfig returns the baseline configuration. Secrets (JWT keys)
// and the permission matrix are application-specific and start empty.
func DefaultConfig() Config {
	return Config{
		Session: SessionConfig{
			KeyPrefix: "auth:session:",
			Lifetime:  2 * time.Hour,
		},
		Remember: RememberConfig{
			Enabled:     true,
			CookieName:  "remember",
			Lifetime:    30 * 24 * time.Hour,
			PurgeChance: 20,
		},
		AccessToken: AccessTokenConfig{
			HeaderName:     "Authorization",
			UnusedLifetime: 365 * 24 * time.Hour,
		},
		JWT: JWTConfig{
			TTL:           5 * time.Minute,
			SigningMethod: "hs256",
			Leeway:        30 * time.Second,
		},
		Password: PasswordConfig{
			Memory:         64 * 1024,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			UpgradeOnLogin: true,
		},
		Throttle: ThrottleConfig{
			Enabled:       true,
			MaxAttempts:   5,
			Window:        time.Minute,
			BlockDuration: 5 * time.Minute,
			ByIP:          true,
		},
		Actions: ActionsConfig{},
		Authorization: AuthorizationConfig{
			Groups: map[string][]string{},
		},
		RecordAttempts: RecordFailures,
	}
}

// Validate checks internal consistency. Build refuses invalid configs.
func (c Config) Validate() error {
	if c.Session.Lifetime <= 0 {
		return errors.New("config: session lifetime must be positive")
	}
	if c.Remember.Enabled {
		if c.Remember.CookieName == "" {
			return errors.New("config: remember cookie name required")
		}
		if c.Remember.Lifetime <= 0 {
			return errors.New("config: remember lifetime must be positive")
		}
		if c.Remember.PurgeChance < 0 || c.Remember.PurgeChance > 100 {
			return errors.New("config: remember purge chance must be 0-100")
		}
	}
	if c.Throttle.Enabled {
		if c.Throttle.MaxAttempts <= 0 {
			return errors.New("config: throttle max attempts must be positive")
		}
		if c.Throttle.Window <= 0 || c.Throttle.BlockDuration <= 0 {
			return errors.New("config: throttle window and block duration must be positive")
		}
	}
	if c.RecordAttempts < RecordNone || c.RecordAttempts > RecordAll {
		return errors.New("config: invalid attempt policy")
	}
	for group, perms := range c.Authorization.Groups {
		for _, p := range perms {
			if !validPermission(p) {
				return fmt.Errorf("config: group %q grants malformed permission %q", group, p)
			}
		}
	}
	for _, p := range c.Authorization.Permissions {
		if !validPermission(p) {
			return fmt.Errorf("config: malformed permission %q", p)
		}
	}
	if c.Authorization.DefaultGroup != "" {
		if _, ok := c.Authorization.Groups[c.Authorization.DefaultGroup]; !ok {
			return fmt.Errorf("config: default group %q not present in matrix", c.Authorization.DefaultGroup)
		}
	}
	return nil
}

// envOverrides is the flat environment mapping consumed by
// [ConfigFromEnv]. Only scalar tunables are exposed; the permission
// matrix and signing keys are wired in code.
type envOverrides struct {
	SessionLifetime    time.Duration `envconfig:"SESSION_LIFETIME"`
	SessionKeyPrefix   string        `envconfig:"SESSION_KEY_PREFIX"`
	RememberEnabled    *bool         `envconfig:"REMEMBER_ENABLED"`
	RememberCookie     string        `envconfig:"REMEMBER_COOKIE"`
	RememberLifetime   time.Duration `envconfig:"REMEMBER_LIFETIME"`
	TokenHeader        string        `envconfig:"TOKEN_HEADER"`
	TokenUnusedLife    time.Duration `envconfig:"TOKEN_UNUSED_LIFETIME"`
	JWTTTL             time.Duration `envconfig:"JWT_TTL"`
	JWTIssuer          string        `envconfig:"JWT_ISSUER"`
	JWTAudience        string        `envconfig:"JWT_AUDIENCE"`
	JWTSecret          string        `envconfig:"JWT_SECRET"`
	ThrottleEnabled    *bool         `envconfig:"THROTTLE_ENABLED"`
	ThrottleMax        int           `envconfig:"THROTTLE_MAX_ATTEMPTS"`
	ThrottleWindow     time.Duration `envconfig:"THROTTLE_WINDOW"`
	ThrottleBlock      time.Duration `envconfig:"THROTTLE_BLOCK"`
	ActionLogin        string        `envconfig:"ACTION_LOGIN"`
	ActionRegister     string        `envconfig:"ACTION_REGISTER"`
}

// ConfigFromEnv returns [DefaultConfig] with environment overrides
// applied under the given prefix (e.g. prefix "AUTH" reads
// AUTH_SESSION_LIFETIME).
func ConfigFromEnv(prefix string) (Config, error) {
	cfg := DefaultConfig()

	var env envOverrides
	if err := envconfig.Process(prefix, &env); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}

	if env.SessionLifetime > 0 {
		cfg.Session.Lifetime = env.SessionLifetime
	}
	if env.SessionKeyPrefix != "" {
		cfg.Session.KeyPrefix = env.SessionKeyPrefix
	}
	if env.RememberEnabled != nil {
		cfg.Remember.Enabled = *env.RememberEnabled
	}
	if env.RememberCookie != "" {
		cfg.Remember.CookieName = env.RememberCookie
	}
	if env.RememberLifetime > 0 {
		cfg.Remember.Lifetime = env.RememberLifetime
	}
	if env.TokenHeader != "" {
		cfg.AccessToken.HeaderName = env.TokenHeader
	}
	if env.TokenUnusedLife > 0 {
		cfg.AccessToken.UnusedLifetime = env.TokenUnusedLife
	}
	if env.JWTTTL > 0 {
		cfg.JWT.TTL = env.JWTTTL
	}
	if env.JWTIssuer != "" {
		cfg.JWT.Issuer = env.JWTIssuer
	}
	if env.JWTAudience != "" {
		cfg.JWT.Audience = env.JWTAudience
	}
	if env.JWTSecret != "" {
		cfg.JWT.PrivateKey = []byte(env.JWTSecret)
	}
	if env.ThrottleEnabled != nil {
		cfg.Throttle.Enabled = *env.ThrottleEnabled
	}
	if env.ThrottleMax > 0 {
		cfg.Throttle.MaxAttempts = env.ThrottleMax
	}
	if env.ThrottleWindow > 0 {
		cfg.Throttle.Window = env.ThrottleWindow
	}
	if env.ThrottleBlock > 0 {
		cfg.Throttle.BlockDuration = env.ThrottleBlock
	}
	if env.ActionLogin != "" {
		cfg.Actions.Login = env.ActionLogin
	}
	if env.ActionRegister != "" {
		cfg.Actions.Register = env.ActionRegister
	}

	return cfg, cfg.Validate()
}
