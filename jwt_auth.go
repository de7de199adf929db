package auth

import (
	"context"
	"errors"
	"time"
)

// JWTAuth authenticates requests bearing a signed token. Verification
// belongs to the configured [TokenCodec]; this strategy only resolves
// the decoded subject to a live user. Like [TokenAuth] it carries no
// state between requests.
type JWTAuth struct {
	engine *Engine
	user   *User
}

// JWT returns a request-scoped JWT authenticator.
func (e *Engine) JWT() *JWTAuth {
	return &JWTAuth{engine: e}
}

// IssueJWT encodes a signed token for user with the configured TTL.
func (e *Engine) IssueJWT(user *User) (string, error) {
	if e.codec == nil {
		return "", ErrNoCodec
	}
	return e.codec.Encode(user.ID, e.cfg.JWT.TTL)
}

// IssueJWTFor encodes a signed token with an explicit lifetime.
func (e *Engine) IssueJWTFor(user *User, ttl time.Duration) (string, error) {
	if e.codec == nil {
		return "", ErrNoCodec
	}
	return e.codec.Encode(user.ID, ttl)
}

// Check decodes and verifies the token in creds["token"] and resolves
// its subject. A verified token whose subject claim is empty fails with
// its own reason so callers can tell a stripped claim from a forgery.
func (j *JWTAuth) Check(ctx context.Context, creds Credentials) (Result, error) {
	e := j.engine
	if e.codec == nil {
		return Result{}, ErrNoCodec
	}

	raw := creds["token"]
	if raw == "" {
		return Fail(ReasonNoToken), nil
	}

	subject, err := e.codec.Decode(raw)
	if err != nil {
		return Fail(ReasonBadToken), nil
	}
	if subject == "" {
		return Fail(ReasonMissingSubject), nil
	}

	user, err := e.users.FindByID(ctx, subject)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return Fail(ReasonUnknownUser), nil
		}
		return Result{}, err
	}
	if user.Banned {
		return FailHint(ReasonBannedUser, user.BanMessage), nil
	}

	return OK(user), nil
}

// Attempt runs Check, records the outcome per policy and binds the
// user to this authenticator.
func (j *JWTAuth) Attempt(ctx context.Context, creds Credentials) (Result, error) {
	e := j.engine

	res, err := j.Check(ctx, creds)
	if err != nil {
		return Result{}, err
	}

	userID := ""
	if res.User() != nil {
		userID = res.User().ID
	}
	e.recordAttempt(ctx, "jwt", "", userID, res)

	if !res.OK() {
		e.metrics.inc(MetricJWTFailure)
		return res, nil
	}

	j.user = res.User()
	e.metrics.inc(MetricJWTSuccess)
	return res, nil
}

// Login binds an already-verified user for the rest of the request.
func (j *JWTAuth) Login(ctx context.Context, user *User, withActions bool) error {
	j.user = user
	return nil
}

// Logout drops the request binding. Issued tokens stay valid until
// they expire.
func (j *JWTAuth) Logout(ctx context.Context) error {
	j.user = nil
	return nil
}

// LoggedIn reports whether a user is bound, attempting the context's
// bearer token first when none is.
func (j *JWTAuth) LoggedIn(ctx context.Context) bool {
	if j.user != nil {
		return true
	}
	raw := bearerTokenFromContext(ctx)
	if raw == "" {
		return false
	}
	res, err := j.Attempt(ctx, Credentials{"token": raw})
	return err == nil && res.OK()
}

// User returns the bound user, nil when anonymous.
func (j *JWTAuth) User() *User {
	return j.user
}
