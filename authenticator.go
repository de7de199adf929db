package auth

import (
	"context"
	"errors"
	"strconv"

	"github.com/daycry/auth/throttle"
)

// Authenticator is the shared surface of the session, access-token and
// JWT strategies. Check verifies credentials without side effects;
// Attempt adds throttling, attempt recording and login on success.
// Errors are infrastructure or caller misuse; expected credential
// failures come back inside the [Result].
type Authenticator interface {
	Check(ctx context.Context, creds Credentials) (Result, error)
	Attempt(ctx context.Context, creds Credentials) (Result, error)
	Login(ctx context.Context, user *User, withActions bool) error
	Logout(ctx context.Context) error
	LoggedIn(ctx context.Context) bool
	User() *User
}

func credentialIdentifier(creds Credentials) string {
	if email, ok := creds["email"]; ok && email != "" {
		return email
	}
	if username, ok := creds["username"]; ok && username != "" {
		return username
	}
	return ""
}

func (e *Engine) throttleKeys(ctx context.Context, identifier string) []string {
	if e.limiter == nil || !e.cfg.Throttle.Enabled {
		return nil
	}
	var keys []string
	if identifier != "" {
		keys = append(keys, throttle.KeyForUser(identifier))
	}
	if e.cfg.Throttle.ByIP {
		if ip := clientIPFromContext(ctx); ip != "" {
			keys = append(keys, throttle.KeyForIP(ip))
		}
	}
	if e.cfg.Throttle.ByRoute {
		if route := routeFromContext(ctx); route != "" {
			keys = append(keys, throttle.KeyForRoute(route))
		}
	}
	return keys
}

// checkThrottle rejects when any of the keys is blocked. The bool
// reports a throttle rejection carrying the remaining cooldown, in
// seconds, as the result hint; infrastructure failures come back as
// errors.
func (e *Engine) checkThrottle(ctx context.Context, keys []string) (Result, bool, error) {
	for _, key := range keys {
		if err := e.limiter.Check(ctx, key); err != nil {
			var tooMany *throttle.TooManyRequestsError
			if errors.As(err, &tooMany) {
				e.metrics.inc(MetricLoginThrottled)
				return FailHint(ReasonThrottled, strconv.Itoa(tooMany.RetrySeconds())), true, nil
			}
			return Result{}, false, err
		}
	}
	return Result{}, false, nil
}

// bumpThrottle counts a failed attempt against every key. Counter
// failures are logged, never surfaced.
func (e *Engine) bumpThrottle(ctx context.Context, keys []string) {
	for _, key := range keys {
		if err := e.limiter.Increment(ctx, key); err != nil {
			e.log.WarnContext(ctx, "throttle increment failed", "key", key, "error", err)
		}
	}
}

// resetThrottle clears the keys after a success.
func (e *Engine) resetThrottle(ctx context.Context, keys []string) {
	if len(keys) == 0 {
		return
	}
	if err := e.limiter.Reset(ctx, keys...); err != nil {
		e.log.WarnContext(ctx, "throttle reset failed", "error", err)
	}
}

// runAttempt wraps a strategy's credential check with throttling,
// attempt recording, counter bookkeeping and the success callback.
func (e *Engine) runAttempt(
	ctx context.Context,
	strategy string,
	creds Credentials,
	check func(context.Context, Credentials) (Result, error),
	onSuccess func(context.Context, *User) error,
) (Result, error) {
	identifier := credentialIdentifier(creds)
	keys := e.throttleKeys(ctx, identifier)

	if res, throttled, err := e.checkThrottle(ctx, keys); err != nil {
		return Result{}, err
	} else if throttled {
		e.recordAttempt(ctx, strategy, identifier, "", res)
		return res, nil
	}

	res, err := check(ctx, creds)
	if err != nil {
		return Result{}, err
	}

	userID := ""
	if res.User() != nil {
		userID = res.User().ID
	}
	e.recordAttempt(ctx, strategy, identifier, userID, res)

	if !res.OK() {
		e.metrics.inc(MetricLoginFailure)
		e.bumpThrottle(ctx, keys)
		return res, nil
	}

	e.resetThrottle(ctx, keys)

	if onSuccess != nil {
		if err := onSuccess(ctx, res.User()); err != nil {
			return Result{}, err
		}
	}

	e.metrics.inc(MetricLoginSuccess)
	return res, nil
}

// recordAttempt hands the attempt to the configured recorder according
// to policy. Recorder failures are logged, never surfaced.
func (e *Engine) recordAttempt(ctx context.Context, strategy, identifier, userID string, res Result) {
	if e.recorder == nil || e.cfg.RecordAttempts == RecordNone {
		return
	}
	if e.cfg.RecordAttempts == RecordFailures && res.OK() {
		return
	}

	attempt := LoginAttempt{
		Strategy:   strategy,
		Identifier: identifier,
		UserID:     userID,
		IP:         clientIPFromContext(ctx),
		Success:    res.OK(),
		Reason:     res.Reason(),
		At:         e.clock.Now(),
	}
	if err := e.recorder.Record(ctx, attempt); err != nil {
		e.log.WarnContext(ctx, "login attempt not recorded", "strategy", strategy, "error", err)
	}
}
