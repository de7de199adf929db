package auth

import (
	"context"
	"errors"
	"time"

	"github.com/daycry/auth/internal"
)

// TokenAuth authenticates requests bearing an opaque access token. It
// is stateless: nothing persists between requests except the token
// row's last-used timestamp, so LoggedIn re-derives the user from the
// bearer token on the context.
type TokenAuth struct {
	engine *Engine
	user   *User
}

// Tokens returns a request-scoped access-token authenticator.
func (e *Engine) Tokens() *TokenAuth {
	return &TokenAuth{engine: e}
}

// Check verifies the raw token in creds["token"] and returns its owner
// with the token attached, without recording anything.
func (t *TokenAuth) Check(ctx context.Context, creds Credentials) (Result, error) {
	e := t.engine

	raw := creds["token"]
	if raw == "" {
		return Fail(ReasonNoToken), nil
	}

	ident, err := e.identities.FindBySecret(ctx, KindAccessToken, internal.HashToken(raw))
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return Fail(ReasonBadToken), nil
		}
		return Result{}, err
	}

	now := e.clock.Now()
	if ident.Expired(now) {
		return Fail(ReasonOldToken), nil
	}
	if life := e.cfg.AccessToken.UnusedLifetime; life > 0 && !ident.LastUsedAt.IsZero() {
		if now.Sub(ident.LastUsedAt) > life {
			return Fail(ReasonOldToken), nil
		}
	}

	user, err := e.users.FindByID(ctx, ident.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return Fail(ReasonUnknownUser), nil
		}
		return Result{}, err
	}
	if user.Banned {
		return FailHint(ReasonBannedUser, user.BanMessage), nil
	}

	// Skip the write when the token was already touched this second.
	if now.Sub(ident.LastUsedAt) >= time.Second {
		if err := e.identities.Touch(ctx, ident.ID, now); err != nil {
			e.log.WarnContext(ctx, "token last-used update failed", "error", err)
		}
	}

	user.token = NewToken(*ident)
	return OK(user), nil
}

// Attempt runs Check, records the outcome per policy and binds the
// user to this authenticator. Access tokens are not throttled; the
// token space is too large to brute-force online.
func (t *TokenAuth) Attempt(ctx context.Context, creds Credentials) (Result, error) {
	e := t.engine

	res, err := t.Check(ctx, creds)
	if err != nil {
		return Result{}, err
	}

	userID := ""
	if res.User() != nil {
		userID = res.User().ID
	}
	e.recordAttempt(ctx, "token", "", userID, res)

	if !res.OK() {
		e.metrics.inc(MetricTokenFailure)
		return res, nil
	}

	t.user = res.User()
	e.metrics.inc(MetricTokenSuccess)
	return res, nil
}

// Login binds an already-verified user for the rest of the request.
func (t *TokenAuth) Login(ctx context.Context, user *User, withActions bool) error {
	t.user = user
	return nil
}

// Logout drops the request binding. The token itself stays valid;
// revoke it through the engine to kill it.
func (t *TokenAuth) Logout(ctx context.Context) error {
	t.user = nil
	return nil
}

// LoggedIn reports whether a user is bound, attempting the context's
// bearer token first when none is.
func (t *TokenAuth) LoggedIn(ctx context.Context) bool {
	if t.user != nil {
		return true
	}
	raw := bearerTokenFromContext(ctx)
	if raw == "" {
		return false
	}
	res, err := t.Attempt(ctx, Credentials{"token": raw})
	return err == nil && res.OK()
}

// User returns the bound user, nil when anonymous.
func (t *TokenAuth) User() *User {
	return t.user
}
