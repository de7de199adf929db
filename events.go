package auth

import "context"

// LoginHook observes a completed login. Hooks run synchronously on the
// authenticating goroutine and must not block.
type LoginHook func(ctx context.Context, user *User)

// LogoutHook observes an explicit logout.
type LogoutHook func(ctx context.Context, user *User)

// OnLogin registers a hook fired after every completed login,
// interactive or remember-me. Register hooks during setup; the slice is
// not guarded after the engine starts serving.
func (e *Engine) OnLogin(h LoginHook) {
	e.loginHooks = append(e.loginHooks, h)
}

// OnLogout registers a hook fired on explicit logout.
func (e *Engine) OnLogout(h LogoutHook) {
	e.logoutHooks = append(e.logoutHooks, h)
}

func (e *Engine) fireLogin(ctx context.Context, user *User) {
	for _, h := range e.loginHooks {
		h(ctx, user)
	}
}

func (e *Engine) fireLogout(ctx context.Context, user *User) {
	for _, h := range e.logoutHooks {
		h(ctx, user)
	}
}
