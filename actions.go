package auth

import (
	"context"
	"encoding/json"
	"time"

	"github.com/daycry/auth/internal"
)

// Default action names registered by the builder. Configure them in
// [ActionsConfig] to activate the corresponding step.
const (
	ActionEmailActivate = "email-activate"
	ActionEmail2FA      = "email-2fa"
	ActionMagicLink     = "magic-link"
)

// EmailActivateAction issues a numeric account-activation code.
// Completing it marks the user active.
type EmailActivateAction struct {
	Digits   int
	Lifetime time.Duration
}

func (a *EmailActivateAction) Kind() IdentityKind { return KindEmailActivate }

// Create builds a fresh activation identity. The engine persists it,
// replacing any previous code of the same kind.
func (a *EmailActivateAction) Create(ctx context.Context, user *User) (*Identity, error) {
	code, err := internal.NewOTP(a.Digits)
	if err != nil {
		return nil, err
	}
	return &Identity{
		UserID:  user.ID,
		Kind:    KindEmailActivate,
		Name:    "register",
		Secret:  code,
		Extra:   actionExtra(user.Email),
		Expires: time.Now().Add(a.Lifetime),
	}, nil
}

// Email2FAAction issues a numeric second-factor code on every login.
type Email2FAAction struct {
	Digits   int
	Lifetime time.Duration
}

func (a *Email2FAAction) Kind() IdentityKind { return KindEmail2FA }

func (a *Email2FAAction) Create(ctx context.Context, user *User) (*Identity, error) {
	code, err := internal.NewOTP(a.Digits)
	if err != nil {
		return nil, err
	}
	return &Identity{
		UserID:  user.ID,
		Kind:    KindEmail2FA,
		Name:    "login",
		Secret:  code,
		Extra:   actionExtra(user.Email),
		Expires: time.Now().Add(a.Lifetime),
	}, nil
}

// MagicLinkAction issues a single-use login-link token. Unlike the
// numeric codes it is consumed out of session through
// [Engine.ConsumeMagicLink].
type MagicLinkAction struct {
	Lifetime time.Duration
}

func (a *MagicLinkAction) Kind() IdentityKind { return KindMagicLink }

func (a *MagicLinkAction) Create(ctx context.Context, user *User) (*Identity, error) {
	token, err := internal.NewRawToken()
	if err != nil {
		return nil, err
	}
	return &Identity{
		UserID:  user.ID,
		Kind:    KindMagicLink,
		Name:    "magic-link",
		Secret:  token,
		Extra:   actionExtra(user.Email),
		Expires: time.Now().Add(a.Lifetime),
	}, nil
}

// actionExtra records the delivery address the code was issued for, so
// mailers can read it off the identity.
func actionExtra(email string) string {
	raw, _ := json.Marshal(map[string]string{"email": email})
	return string(raw)
}
