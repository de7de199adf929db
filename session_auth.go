package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/daycry/auth/internal"
)

// Session value keys owned by the engine.
const (
	sessionKeyUser   = "auth.user_id"
	sessionKeyAction = "auth.action"
	sessionKeyCSRF   = "auth.csrf"
)

// SessionAuth is the interactive strategy. A session is in one of
// three states: anonymous, pending (user bound but a verification step
// owed) and logged in. LoggedIn is true only in the last one; a
// pending user is reachable through PendingUser so controllers can
// render the verification step.
//
// Build one per request with [Engine.Session]; it memoizes the state
// evaluation for its own lifetime.
type SessionAuth struct {
	engine *Engine
	state  SessionState
	sink   CookieSink

	user      *User
	pending   bool
	evaluated bool
}

// Session returns a session authenticator bound to the request's
// session state and cookie sink.
func (e *Engine) Session(state SessionState, sink CookieSink) *SessionAuth {
	return &SessionAuth{engine: e, state: state, sink: sink}
}

// evaluate resolves the session to a user once per request. A session
// naming a vanished user degrades to anonymous and is cleared; an
// anonymous session with a valid remember-me cookie logs in silently.
func (s *SessionAuth) evaluate(ctx context.Context) {
	if s.evaluated {
		return
	}
	s.evaluated = true
	e := s.engine

	uid, ok := s.state.Get(sessionKeyUser)
	if !ok {
		s.tryRemember(ctx)
		return
	}

	user, err := e.users.FindByID(ctx, uid)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			s.state.Remove(sessionKeyUser)
			s.state.Remove(sessionKeyAction)
			return
		}
		// Transient provider failure: this request stays anonymous but
		// the binding survives for the next one.
		e.log.WarnContext(ctx, "session user lookup failed", "error", err)
		return
	}

	s.user = user
	_, s.pending = s.state.Get(sessionKeyAction)
}

func (s *SessionAuth) tryRemember(ctx context.Context) {
	e := s.engine
	if !e.cfg.Remember.Enabled {
		return
	}
	raw := rememberCookieFromContext(ctx)
	if raw == "" {
		return
	}

	user := e.Remember(s.sink).Check(ctx, raw)
	if user == nil {
		return
	}

	s.user = user
	s.state.Set(sessionKeyUser, user.ID)
	if err := s.completeLogin(ctx, user); err != nil {
		e.log.WarnContext(ctx, "remember-me login incomplete", "error", err)
	}
}

// Check verifies interactive credentials without touching the session:
// user lookup, ban and force-reset gates, then the password. When the
// stored hash is weaker than the configured parameters the password is
// transparently rehashed.
func (s *SessionAuth) Check(ctx context.Context, creds Credentials) (Result, error) {
	e := s.engine

	user, err := e.users.FindByCredentials(ctx, creds)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return Fail(ReasonUnknownUser), nil
		}
		return Result{}, err
	}
	if user.Banned {
		return FailHint(ReasonBannedUser, user.BanMessage), nil
	}

	ident, err := e.identities.GetByKind(ctx, user.ID, KindEmailPassword)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return Fail(ReasonNoIdentity), nil
		}
		return Result{}, err
	}
	if ident.ForceReset {
		return Fail(ReasonForceReset), nil
	}

	match, err := e.hasher.Verify(creds["password"], ident.Secret)
	if err != nil {
		return Result{}, err
	}
	if !match {
		return Fail(ReasonInvalidPassword), nil
	}

	if e.cfg.Password.UpgradeOnLogin {
		if stale, err := e.hasher.NeedsUpgrade(ident.Secret); err == nil && stale {
			if rehashed, err := e.hasher.Hash(creds["password"]); err == nil {
				ident.Secret = rehashed
				if err := e.identities.Update(ctx, ident); err != nil {
					e.log.WarnContext(ctx, "password rehash not stored", "error", err)
				}
			}
		}
	}

	return OK(user), nil
}

// Attempt is the full interactive login: throttle, Check, attempt
// recording and Login with actions on success. When a verification
// step starts the returned Result still carries the user, but LoggedIn
// stays false until the step completes.
func (s *SessionAuth) Attempt(ctx context.Context, creds Credentials) (Result, error) {
	return s.engine.runAttempt(ctx, "session", creds, s.Check, func(ctx context.Context, user *User) error {
		return s.Login(ctx, user, true)
	})
}

// Login binds an already-verified user to the session. With
// withActions, the first applicable configured action starts and the
// session parks in the pending state; without, an owed verification
// step refuses the login with [ErrActionPending]. A session already
// bound to a different user refuses with [ErrAlreadyLoggedIn].
func (s *SessionAuth) Login(ctx context.Context, user *User, withActions bool) error {
	e := s.engine

	if uid, ok := s.state.Get(sessionKeyUser); ok && uid != user.ID {
		return ErrAlreadyLoggedIn
	}
	if !withActions {
		if name, ok := s.state.Get(sessionKeyAction); ok {
			return fmt.Errorf("%w: %s", ErrActionPending, name)
		}
	}

	name, action, err := e.applicableAction(user)
	if err != nil {
		return err
	}

	if action != nil && !withActions {
		return fmt.Errorf("%w: %s", ErrActionPending, name)
	}

	s.evaluated = true
	s.user = user
	s.state.Set(sessionKeyUser, user.ID)
	s.touchPasswordIdentity(ctx, user)

	if action != nil {
		if _, err := e.startAction(ctx, action, user); err != nil {
			return err
		}
		// No session rotation yet: the session stays half-trusted
		// until the step completes.
		s.state.Set(sessionKeyAction, name)
		s.pending = true
		return nil
	}

	s.pending = false
	return s.completeLogin(ctx, user)
}

// touchPasswordIdentity stamps the password identity's last-used time.
// Best effort: users without a password identity (magic-link only) are
// skipped, store failures are logged.
func (s *SessionAuth) touchPasswordIdentity(ctx context.Context, user *User) {
	e := s.engine
	ident, err := e.identities.GetByKind(ctx, user.ID, KindEmailPassword)
	if err != nil {
		if !errors.Is(err, ErrIdentityNotFound) {
			e.log.WarnContext(ctx, "password identity lookup failed", "error", err)
		}
		return
	}
	if err := e.identities.Touch(ctx, ident.ID, e.clock.Now()); err != nil {
		e.log.WarnContext(ctx, "password identity touch failed", "error", err)
	}
}

// completeLogin promotes the session to fully logged in: fresh session
// ID, fresh CSRF token, hooks, and remember-me issuance when the
// request asked for it.
func (s *SessionAuth) completeLogin(ctx context.Context, user *User) error {
	e := s.engine

	if err := s.state.RegenerateID(); err != nil {
		return err
	}
	csrf, err := internal.NewRawToken()
	if err != nil {
		return err
	}
	s.state.Set(sessionKeyCSRF, csrf)

	e.fireLogin(ctx, user)

	if e.cfg.Remember.Enabled && rememberRequestedFromContext(ctx) {
		remember := e.Remember(s.sink)
		if err := remember.Remember(ctx, user); err != nil {
			e.log.WarnContext(ctx, "remember token not issued", "error", err)
		}
		remember.maybePurge(ctx)
	}
	return nil
}

// HasAction reports whether a verification step is owed.
func (s *SessionAuth) HasAction(ctx context.Context) bool {
	s.evaluate(ctx)
	return s.pending
}

// ActionName returns the pending step's configured name, empty when
// none is owed.
func (s *SessionAuth) ActionName(ctx context.Context) string {
	s.evaluate(ctx)
	name, _ := s.state.Get(sessionKeyAction)
	return name
}

// CheckAction verifies the submitted code against the pending step and
// completes the login on success. Codes are single-use: the backing
// identity is deleted atomically, so a replayed or raced code fails
// with invalid code. An expired code is deleted and fails with its own
// reason; the step stays pending so a fresh code can be requested with
// RestartAction. Wrong codes count against the attempt throttle, keyed
// on the pending user: one-time codes are short enough to brute-force
// otherwise.
func (s *SessionAuth) CheckAction(ctx context.Context, code string) (Result, error) {
	e := s.engine
	s.evaluate(ctx)

	name, ok := s.state.Get(sessionKeyAction)
	if !ok {
		return Result{}, fmt.Errorf("%w: no step pending", ErrUnknownAction)
	}
	action, ok := e.actions[name]
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownAction, name)
	}
	if s.user == nil {
		return Result{}, ErrEngineNotReady
	}

	keys := e.throttleKeys(ctx, s.user.ID)
	if res, throttled, err := e.checkThrottle(ctx, keys); err != nil {
		return Result{}, err
	} else if throttled {
		e.metrics.inc(MetricActionFailed)
		return res, nil
	}
	fail := func(reason string) (Result, error) {
		e.metrics.inc(MetricActionFailed)
		e.bumpThrottle(ctx, keys)
		return Fail(reason), nil
	}

	ident, err := e.identities.GetByKind(ctx, s.user.ID, action.Kind())
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return fail(ReasonInvalidCode)
		}
		return Result{}, err
	}

	if ident.Expired(e.clock.Now()) {
		_, _ = e.identities.Delete(ctx, ident.ID)
		return fail(ReasonExpiredCode)
	}

	if subtle.ConstantTimeCompare([]byte(code), []byte(ident.Secret)) != 1 {
		return fail(ReasonInvalidCode)
	}

	// The delete is the consumption point: exactly one of two racing
	// submissions of the same code observes true.
	deleted, err := e.identities.Delete(ctx, ident.ID)
	if err != nil {
		return Result{}, err
	}
	if !deleted {
		return fail(ReasonInvalidCode)
	}
	e.resetThrottle(ctx, keys)

	if action.Kind() == KindEmailActivate && !s.user.Active {
		s.user.Active = true
		if err := e.users.Save(ctx, s.user); err != nil {
			return Result{}, err
		}
	}

	s.state.Remove(sessionKeyAction)
	s.pending = false
	if err := s.completeLogin(ctx, s.user); err != nil {
		return Result{}, err
	}

	e.metrics.inc(MetricActionCompleted)
	return OK(s.user), nil
}

// RestartAction replaces the pending step's code with a fresh one and
// returns the identity carrying it for out-of-band delivery.
func (s *SessionAuth) RestartAction(ctx context.Context) (*Identity, error) {
	e := s.engine
	s.evaluate(ctx)

	name, ok := s.state.Get(sessionKeyAction)
	if !ok {
		return nil, fmt.Errorf("%w: no step pending", ErrUnknownAction)
	}
	action, ok := e.actions[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, name)
	}
	if s.user == nil {
		return nil, ErrEngineNotReady
	}
	return e.startAction(ctx, action, s.user)
}

// Logout clears the session binding and revokes the request's
// remember-me cookie. Idempotent on an anonymous session.
func (s *SessionAuth) Logout(ctx context.Context) error {
	e := s.engine
	s.evaluate(ctx)

	user := s.user
	s.user = nil
	s.pending = false
	s.state.Remove(sessionKeyUser)
	s.state.Remove(sessionKeyAction)
	s.state.Remove(sessionKeyCSRF)
	if err := s.state.RegenerateID(); err != nil {
		return err
	}

	if user == nil {
		return nil
	}

	if e.cfg.Remember.Enabled {
		if raw := rememberCookieFromContext(ctx); raw != "" {
			if err := e.Remember(s.sink).Forget(ctx, raw); err != nil {
				e.log.WarnContext(ctx, "remember token not revoked", "error", err)
			}
		} else {
			s.sink.DeleteCookie(e.cfg.Remember.CookieName)
		}
	}

	e.fireLogout(ctx, user)
	e.metrics.inc(MetricLogout)
	return nil
}

// LoggedIn reports whether the session is fully authenticated. False
// while a verification step is pending.
func (s *SessionAuth) LoggedIn(ctx context.Context) bool {
	s.evaluate(ctx)
	return s.user != nil && !s.pending
}

// User returns the fully authenticated user, nil while anonymous or
// pending.
func (s *SessionAuth) User() *User {
	if s.pending {
		return nil
	}
	return s.user
}

// PendingUser returns the user parked behind a verification step, nil
// otherwise.
func (s *SessionAuth) PendingUser(ctx context.Context) *User {
	s.evaluate(ctx)
	if !s.pending {
		return nil
	}
	return s.user
}

// CSRFToken returns the session's CSRF token, rotated on every
// completed login. Empty for anonymous sessions.
func (s *SessionAuth) CSRFToken() string {
	csrf, _ := s.state.Get(sessionKeyCSRF)
	return csrf
}
