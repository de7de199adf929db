package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"math/rand"
	"strings"

	"github.com/daycry/auth/internal"
)

// RememberService issues and validates remember-me tokens. A cookie
// value is "selector:validator": the selector is the public lookup key
// and the validator is the secret half, stored only as a hash. Each
// successful validation rotates the validator, so a stolen cookie stops
// working the moment its owner uses theirs.
type RememberService struct {
	engine *Engine
	sink   CookieSink
}

// Remember returns a RememberService writing cookies to sink.
func (e *Engine) Remember(sink CookieSink) *RememberService {
	return &RememberService{engine: e, sink: sink}
}

// Remember issues a fresh token for user and sets the cookie.
func (r *RememberService) Remember(ctx context.Context, user *User) error {
	e := r.engine

	selector, err := internal.NewSelector()
	if err != nil {
		return err
	}
	validator, err := internal.NewValidator()
	if err != nil {
		return err
	}

	tok := &RememberToken{
		Selector:        selector,
		HashedValidator: internal.HashToken(validator),
		UserID:          user.ID,
		Expires:         e.clock.Now().Add(e.cfg.Remember.Lifetime),
	}
	if err := e.remembers.Save(ctx, tok); err != nil {
		return err
	}

	r.sink.SetCookie(e.cfg.Remember.CookieName, selector+":"+validator, e.cfg.Remember.Lifetime)
	e.metrics.inc(MetricRememberIssued)
	return nil
}

// Check validates a raw cookie value and returns its user, rotating
// the validator and re-issuing the cookie on success. Any failure,
// including store errors, returns nil: remember-me only ever degrades
// to anonymous.
func (r *RememberService) Check(ctx context.Context, raw string) *User {
	e := r.engine

	user, err := r.check(ctx, raw)
	if err != nil {
		e.metrics.inc(MetricRememberRejected)
		if !errors.Is(err, ErrTokenNotFound) {
			e.log.DebugContext(ctx, "remember-me cookie rejected", "error", err)
		}
		return nil
	}

	e.metrics.inc(MetricRememberValidated)
	return user
}

var errRememberMismatch = errors.New("remember validator mismatch")

func (r *RememberService) check(ctx context.Context, raw string) (*User, error) {
	e := r.engine

	selector, validator, ok := strings.Cut(raw, ":")
	if !ok || selector == "" || validator == "" {
		return nil, errors.New("malformed remember cookie")
	}

	tok, err := e.remembers.FindBySelector(ctx, selector)
	if err != nil {
		return nil, err
	}
	if !tok.Expires.After(e.clock.Now()) {
		_ = e.remembers.DeleteBySelector(ctx, selector)
		return nil, errors.New("remember token expired")
	}

	oldHash := internal.HashToken(validator)
	if subtle.ConstantTimeCompare([]byte(oldHash), []byte(tok.HashedValidator)) != 1 {
		return nil, errRememberMismatch
	}

	// Rotate before trusting the login. Losing the compare-and-swap
	// means another request with the same cookie got there first.
	next, err := internal.NewValidator()
	if err != nil {
		return nil, err
	}
	expires := e.clock.Now().Add(e.cfg.Remember.Lifetime)
	swapped, err := e.remembers.Rotate(ctx, selector, oldHash, internal.HashToken(next), expires)
	if err != nil {
		return nil, err
	}
	if !swapped {
		return nil, errRememberMismatch
	}

	user, err := e.users.FindByID(ctx, tok.UserID)
	if err != nil {
		return nil, err
	}
	if user.Banned {
		return nil, errors.New("banned user")
	}

	r.sink.SetCookie(e.cfg.Remember.CookieName, selector+":"+next, e.cfg.Remember.Lifetime)
	return user, nil
}

// Forget revokes the token behind a raw cookie value and clears the
// cookie.
func (r *RememberService) Forget(ctx context.Context, raw string) error {
	defer r.sink.DeleteCookie(r.engine.cfg.Remember.CookieName)

	selector, _, ok := strings.Cut(raw, ":")
	if !ok || selector == "" {
		return nil
	}
	return r.engine.remembers.DeleteBySelector(ctx, selector)
}

// ForgetUser revokes every token the user holds and clears the cookie.
func (r *RememberService) ForgetUser(ctx context.Context, user *User) error {
	r.sink.DeleteCookie(r.engine.cfg.Remember.CookieName)
	return r.engine.remembers.DeleteForUser(ctx, user.ID)
}

// maybePurge sweeps expired tokens with the configured probability,
// amortizing cleanup over logins instead of needing a scheduler.
func (r *RememberService) maybePurge(ctx context.Context) {
	e := r.engine
	if e.cfg.Remember.PurgeChance <= 0 || rand.Intn(100) >= e.cfg.Remember.PurgeChance {
		return
	}
	if err := e.remembers.PurgeExpired(ctx); err != nil {
		e.log.WarnContext(ctx, "remember token purge failed", "error", err)
		return
	}
	e.metrics.inc(MetricRememberPurged)
}
