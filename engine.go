package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/daycry/auth/internal"
	"github.com/daycry/auth/password"
	"github.com/daycry/auth/throttle"
)

// Engine owns the wired collaborators and hands out request-scoped
// strategies. Build one with [New]; an Engine is safe for concurrent
// use once built.
type Engine struct {
	cfg   Config
	clock Clock
	log   *slog.Logger

	users      UserProvider
	identities IdentityStore
	remembers  RememberStore
	groups     GroupStore
	recorder   LoginRecorder

	limiter *throttle.Limiter
	codec   TokenCodec
	hasher  *password.Hasher

	actions map[string]Action

	metrics *Metrics

	loginHooks  []LoginHook
	logoutHooks []LogoutHook
}

// Config returns the engine's configuration.
func (e *Engine) Config() Config { return e.cfg }

// Metrics returns the engine's counters.
func (e *Engine) Metrics() *Metrics { return e.metrics }

// Hasher returns the configured password hasher.
func (e *Engine) Hasher() *password.Hasher { return e.hasher }

// RegisterAction makes an action available under name so
// [ActionsConfig] can reference it.
func (e *Engine) RegisterAction(name string, action Action) {
	e.actions[name] = action
}

// Register creates a new account with a password credential. The user
// starts inactive when an activation step is configured for
// registration.
func (e *Engine) Register(ctx context.Context, user *User, plainPassword string) error {
	hash, err := e.hasher.Hash(plainPassword)
	if err != nil {
		return err
	}

	user.Active = e.cfg.Actions.Register == ""
	if err := e.users.Save(ctx, user); err != nil {
		return err
	}

	return e.identities.Create(ctx, &Identity{
		UserID: user.ID,
		Kind:   KindEmailPassword,
		Secret: hash,
	})
}

// ChangePassword replaces the user's password credential after
// verifying the current one. It clears any force-reset flag.
func (e *Engine) ChangePassword(ctx context.Context, user *User, current, next string) (Result, error) {
	ident, err := e.identities.GetByKind(ctx, user.ID, KindEmailPassword)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return Fail(ReasonNoIdentity), nil
		}
		return Result{}, err
	}

	match, err := e.hasher.Verify(current, ident.Secret)
	if err != nil {
		return Result{}, err
	}
	if !match {
		return Fail(ReasonInvalidPassword), nil
	}

	hash, err := e.hasher.Hash(next)
	if err != nil {
		return Result{}, err
	}
	ident.Secret = hash
	ident.ForceReset = false
	if err := e.identities.Update(ctx, ident); err != nil {
		return Result{}, err
	}

	// A password change invalidates every standing remember-me token.
	if e.remembers != nil {
		if err := e.remembers.DeleteForUser(ctx, user.ID); err != nil {
			e.log.WarnContext(ctx, "remember tokens not revoked", "error", err)
		}
	}

	return OK(user), nil
}

// ForcePasswordReset flags the user's password credential so the next
// interactive login fails with [ReasonForceReset].
func (e *Engine) ForcePasswordReset(ctx context.Context, user *User) error {
	ident, err := e.identities.GetByKind(ctx, user.ID, KindEmailPassword)
	if err != nil {
		return err
	}
	ident.ForceReset = true
	return e.identities.Update(ctx, ident)
}

// GenerateAccessToken mints a named opaque token for user, granting
// the given scopes ("*" for all). The raw value is returned exactly
// once; only its hash is stored.
func (e *Engine) GenerateAccessToken(ctx context.Context, user *User, name string, scopes ...string) (string, *Token, error) {
	raw, err := internal.NewRawToken()
	if err != nil {
		return "", nil, err
	}

	extra := ""
	if len(scopes) > 0 {
		b, err := json.Marshal(scopes)
		if err != nil {
			return "", nil, err
		}
		extra = string(b)
	}

	ident := &Identity{
		UserID:    user.ID,
		Kind:      KindAccessToken,
		Name:      name,
		Secret:    internal.HashToken(raw),
		Extra:     extra,
		CreatedAt: e.clock.Now(),
	}
	if err := e.identities.Create(ctx, ident); err != nil {
		return "", nil, err
	}

	return raw, NewToken(*ident), nil
}

// AccessTokens lists the user's tokens. Secrets stay hashed; the raw
// values are unrecoverable.
func (e *Engine) AccessTokens(ctx context.Context, user *User) ([]*Token, error) {
	idents, err := e.identities.GetAllByKinds(ctx, user.ID, KindAccessToken)
	if err != nil {
		return nil, err
	}
	tokens := make([]*Token, 0, len(idents))
	for _, ident := range idents {
		tokens = append(tokens, NewToken(ident))
	}
	return tokens, nil
}

// RevokeAccessToken kills the token with the given raw value.
// Revoking an unknown token is a no-op.
func (e *Engine) RevokeAccessToken(ctx context.Context, raw string) error {
	ident, err := e.identities.FindBySecret(ctx, KindAccessToken, internal.HashToken(raw))
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return nil
		}
		return err
	}
	_, err = e.identities.Delete(ctx, ident.ID)
	return err
}

// RevokeAllAccessTokens kills every token the user holds.
func (e *Engine) RevokeAllAccessTokens(ctx context.Context, user *User) error {
	return e.identities.DeleteByKind(ctx, user.ID, KindAccessToken)
}

// IssueMagicLink mints a single-use login token for the user,
// replacing any outstanding one, and returns the raw value for
// delivery.
func (e *Engine) IssueMagicLink(ctx context.Context, user *User) (string, error) {
	action, ok := e.actions[ActionMagicLink]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, ActionMagicLink)
	}
	ident, err := e.startAction(ctx, action, user)
	if err != nil {
		return "", err
	}
	return ident.Secret, nil
}

// ConsumeMagicLink resolves a raw magic-link token to its user,
// consuming it. Session binding is the caller's move: pass the
// returned user to [SessionAuth.Login].
func (e *Engine) ConsumeMagicLink(ctx context.Context, raw string) (Result, error) {
	ident, err := e.identities.FindBySecret(ctx, KindMagicLink, raw)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			e.metrics.inc(MetricActionFailed)
			return Fail(ReasonInvalidCode), nil
		}
		return Result{}, err
	}

	if ident.Expired(e.clock.Now()) {
		_, _ = e.identities.Delete(ctx, ident.ID)
		e.metrics.inc(MetricActionFailed)
		return Fail(ReasonExpiredCode), nil
	}

	deleted, err := e.identities.Delete(ctx, ident.ID)
	if err != nil {
		return Result{}, err
	}
	if !deleted {
		e.metrics.inc(MetricActionFailed)
		return Fail(ReasonInvalidCode), nil
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

	e.metrics.inc(MetricActionCompleted)
	return OK(user), nil
}

// applicableAction picks the verification step owed by user on login:
// the login trigger when configured, else the register trigger for
// not-yet-active accounts.
func (e *Engine) applicableAction(user *User) (string, Action, error) {
	name := ""
	switch {
	case e.cfg.Actions.Login != "":
		name = e.cfg.Actions.Login
	case e.cfg.Actions.Register != "" && !user.Active:
		name = e.cfg.Actions.Register
	default:
		return "", nil, nil
	}

	action, ok := e.actions[name]
	if !ok {
		return "", nil, fmt.Errorf("%w: %q", ErrUnknownAction, name)
	}
	return name, action, nil
}

// startAction issues a fresh identity for the step, replacing any
// previous one of the same kind. The caller delivers the secret out of
// band.
func (e *Engine) startAction(ctx context.Context, action Action, user *User) (*Identity, error) {
	ident, err := action.Create(ctx, user)
	if err != nil {
		return nil, err
	}
	if err := e.identities.DeleteByKind(ctx, user.ID, action.Kind()); err != nil {
		return nil, err
	}
	if err := e.identities.Create(ctx, ident); err != nil {
		return nil, err
	}
	e.metrics.inc(MetricActionStarted)
	return ident, nil
}
