package auth

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// IdentityKind is the closed enumeration of stored credential types.
// OAuth identities use the "oauth_" prefix via [OAuthKind].
type IdentityKind string

const (
	// KindEmailPassword is the primary password credential for a user.
	KindEmailPassword IdentityKind = "email_password"
	// KindAccessToken is a long-lived opaque API token, stored hashed.
	KindAccessToken IdentityKind = "access_token"
	// KindMagicLink is a single-use, expiring login link token.
	KindMagicLink IdentityKind = "magic-link"
	// KindEmail2FA is a single-use second-factor code sent by email.
	KindEmail2FA IdentityKind = "email_2fa"
	// KindEmailActivate is a single-use account activation code.
	KindEmailActivate IdentityKind = "email_activate"
	// KindUsername marks a claimed username record.
	KindUsername IdentityKind = "username"
	// KindJWT marks an identity established through a decoded JWT.
	KindJWT IdentityKind = "jwt"
)

// OAuthKind returns the identity kind for a third-party OAuth provider,
// e.g. OAuthKind("github") == "oauth_github".
func OAuthKind(provider string) IdentityKind {
	return IdentityKind("oauth_" + strings.ToLower(provider))
}

// User is an identity-independent account record. Credentials live in
// [Identity] rows owned by the user; group and permission membership is
// resolved through an [Authorizer].
type User struct {
	ID         string
	Username   string
	Email      string
	Active     bool
	Banned     bool
	BanMessage string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	DeletedAt  time.Time // zero for live accounts

	token *Token // attached by the access-token strategy
}

// Token returns the access token this user authenticated with, or nil
// when the user was established by another strategy.
func (u *User) Token() *Token {
	return u.token
}

// Identity is one stored credential record of a given kind, owned by a
// user. Secrets for passwords and access tokens are one-way hashed
// before storage; magic-link and one-time-code secrets are stored as
// verifiable random tokens with a separate expiry.
type Identity struct {
	ID         string
	UserID     string
	Kind       IdentityKind
	Name       string
	Secret     string
	Secret2    string
	Extra      string
	Expires    time.Time // zero = never
	ForceReset bool
	CreatedAt  time.Time
	LastUsedAt time.Time
}

// Expired reports whether the identity carries an expiry in the past.
func (i *Identity) Expired(now time.Time) bool {
	return !i.Expires.IsZero() && i.Expires.Before(now)
}

// Token wraps an access-token identity and answers scope checks. A
// stored scope of "*" grants every scope.
type Token struct {
	identity Identity
	scopes   []string
}

// NewToken builds a Token from its backing identity, decoding the scope
// list from the identity's extra field.
func NewToken(ident Identity) *Token {
	t := &Token{identity: ident}
	if ident.Extra != "" {
		_ = json.Unmarshal([]byte(ident.Extra), &t.scopes)
	}
	return t
}

// Name returns the label the token was generated under.
func (t *Token) Name() string { return t.identity.Name }

// ID returns the backing identity row ID.
func (t *Token) ID() string { return t.identity.ID }

// Scopes returns the granted scope list.
func (t *Token) Scopes() []string { return t.scopes }

// Can reports whether the token grants the given scope.
func (t *Token) Can(scope string) bool {
	for _, s := range t.scopes {
		if s == "*" || s == scope {
			return true
		}
	}
	return false
}

// RememberToken is one issued remember-me credential. The selector is a
// public lookup key; the validator only ever leaves the system inside
// the cookie value and is stored as a SHA-256 hex digest.
type RememberToken struct {
	Selector        string
	HashedValidator string
	UserID          string
	Expires         time.Time
}

// Credentials is the strategy-agnostic credential bag handed to Check
// and Attempt. Well-known keys: "email", "username", "password",
// "token" (raw access token or JWT).
type Credentials map[string]string

// UserProvider is the persistence contract for account records. Lookups
// return [ErrUserNotFound] when no live account matches; any other
// error is infrastructure failure and propagates.
type UserProvider interface {
	FindByID(ctx context.Context, id string) (*User, error)
	FindByCredentials(ctx context.Context, creds Credentials) (*User, error)
	Save(ctx context.Context, u *User) error
}

// IdentityStore persists credential records keyed by (user, kind). The
// store permits multiple rows per pair; uniqueness rules belong to the
// calling logic. Delete must be atomic so that two concurrent consumers
// of a single-use code cannot both observe a successful delete.
type IdentityStore interface {
	Create(ctx context.Context, ident *Identity) error
	Update(ctx context.Context, ident *Identity) error
	GetByKind(ctx context.Context, userID string, kind IdentityKind) (*Identity, error)
	GetAllByKinds(ctx context.Context, userID string, kinds ...IdentityKind) ([]Identity, error)
	FindBySecret(ctx context.Context, kind IdentityKind, secret string) (*Identity, error)
	DeleteByKind(ctx context.Context, userID string, kind IdentityKind) error
	Delete(ctx context.Context, id string) (bool, error)
	Touch(ctx context.Context, id string, at time.Time) error
}

// RememberStore persists remember-me tokens keyed by selector. Rotate
// is a compare-and-swap on the previous validator hash: it must return
// false without writing when the stored hash no longer matches, so two
// concurrent requests bearing the same stale cookie cannot both win.
type RememberStore interface {
	Save(ctx context.Context, t *RememberToken) error
	FindBySelector(ctx context.Context, selector string) (*RememberToken, error)
	Rotate(ctx context.Context, selector, oldHash, newHash string, expires time.Time) (bool, error)
	DeleteBySelector(ctx context.Context, selector string) error
	DeleteForUser(ctx context.Context, userID string) error
	PurgeExpired(ctx context.Context) error
}

// GroupStore persists group and direct-permission membership. Read
// queries must exclude rows whose until_at lies in the past at the
// query layer, keeping resolver caches consistent with storage.
type GroupStore interface {
	GroupsForUser(ctx context.Context, userID string) ([]string, error)
	PermissionsForUser(ctx context.Context, userID string) ([]string, error)
	AddGroups(ctx context.Context, userID string, groups []string) error
	RemoveGroups(ctx context.Context, userID string, groups []string) error
	AddPermissions(ctx context.Context, userID string, perms []string) error
	RemovePermissions(ctx context.Context, userID string, perms []string) error
}

// CookieSink is the narrow response contract the remember-me service
// needs. HTTP adapters set HttpOnly on everything written here.
type CookieSink interface {
	SetCookie(name, value string, ttl time.Duration)
	DeleteCookie(name string)
}

// SessionState is the narrow contract over the caller's session
// mechanism: keyed string values plus ID regeneration. The session
// subpackage provides a Redis-backed implementation.
type SessionState interface {
	ID() string
	Get(key string) (string, bool)
	Set(key, value string)
	Remove(key string)
	RegenerateID() error
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns a Clock reading the wall clock.
func SystemClock() Clock { return systemClock{} }

// LoginAttempt is one recorded authentication attempt.
type LoginAttempt struct {
	Strategy   string
	Identifier string
	UserID     string
	IP         string
	Success    bool
	Reason     string
	At         time.Time
}

// LoginRecorder receives attempts according to the configured
// [AttemptPolicy]. Recording is best-effort: a recorder error never
// changes the authentication outcome.
type LoginRecorder interface {
	Record(ctx context.Context, attempt LoginAttempt) error
}

// TokenCodec encodes and decodes signed tokens for the JWT strategy.
// Cryptographic verification is the codec's responsibility; Decode
// returns the subject claim verbatim, which may be empty.
type TokenCodec interface {
	Encode(subject string, ttl time.Duration) (string, error)
	Decode(raw string) (subject string, err error)
}

// Action is one named post-login/post-register verification step. Kind
// names the identity type backing the step; Create issues a fresh
// identity (replacing any previous one of the same kind) whose secret
// the controller delivers out of band.
type Action interface {
	Kind() IdentityKind
	Create(ctx context.Context, user *User) (*Identity, error)
}
