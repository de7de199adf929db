package auth

import (
	"testing"
	"time"
)

func TestDefaultConfigValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero session lifetime", func(c *Config) { c.Session.Lifetime = 0 }},
		{"remember without cookie name", func(c *Config) { c.Remember.CookieName = "" }},
		{"negative purge chance", func(c *Config) { c.Remember.PurgeChance = -1 }},
		{"purge chance over 100", func(c *Config) { c.Remember.PurgeChance = 101 }},
		{"zero throttle attempts", func(c *Config) { c.Throttle.MaxAttempts = 0 }},
		{"zero throttle window", func(c *Config) { c.Throttle.Window = 0 }},
		{"malformed matrix permission", func(c *Config) {
			c.Authorization.Groups = map[string][]string{"admin": {"admin"}}
		}},
		{"malformed grantable permission", func(c *Config) {
			c.Authorization.Permissions = []string{"nodot"}
		}},
		{"default group missing from matrix", func(c *Config) {
			c.Authorization.DefaultGroup = "ghost"
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestConfigValidateDisabledSections(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Remember.Enabled = false
	cfg.Remember.CookieName = ""
	cfg.Throttle.Enabled = false
	cfg.Throttle.MaxAttempts = 0
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled sections must not be validated: %v", err)
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("AUTH_SESSION_LIFETIME", "45m")
	t.Setenv("AUTH_REMEMBER_ENABLED", "false")
	t.Setenv("AUTH_THROTTLE_MAX_ATTEMPTS", "9")
	t.Setenv("AUTH_JWT_SECRET", "0123456789abcdef")
	t.Setenv("AUTH_ACTION_LOGIN", ActionEmail2FA)

	cfg, err := ConfigFromEnv("AUTH")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Session.Lifetime != 45*time.Minute {
		t.Fatalf("session lifetime = %s", cfg.Session.Lifetime)
	}
	if cfg.Remember.Enabled {
		t.Fatal("remember override not applied")
	}
	if cfg.Throttle.MaxAttempts != 9 {
		t.Fatalf("max attempts = %d", cfg.Throttle.MaxAttempts)
	}
	if string(cfg.JWT.PrivateKey) != "0123456789abcdef" {
		t.Fatal("jwt secret override not applied")
	}
	if cfg.Actions.Login != ActionEmail2FA {
		t.Fatalf("login action = %q", cfg.Actions.Login)
	}

	// Untouched values keep their defaults.
	if cfg.AccessToken.UnusedLifetime != 365*24*time.Hour {
		t.Fatalf("token unused lifetime = %s", cfg.AccessToken.UnusedLifetime)
	}
}

func TestOAuthKind(t *testing.T) {
	if got := OAuthKind("GitHub"); got != IdentityKind("oauth_github") {
		t.Fatalf("OAuthKind = %q", got)
	}
}
