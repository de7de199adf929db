package auth

import "errors"

var (
	// ErrUserNotFound is returned by user providers when no live account matches.
	ErrUserNotFound = errors.New("user not found")
	// ErrIdentityNotFound is returned by identity stores when no record matches.
	ErrIdentityNotFound = errors.New("identity not found")
	// ErrTokenNotFound is returned by remember stores when no selector matches.
	ErrTokenNotFound = errors.New("remember token not found")
	// ErrAlreadyLoggedIn rejects starting a login for a session already bound
	// to a different user. Caller misuse, never converted into a Result.
	ErrAlreadyLoggedIn = errors.New("session already bound to another user")
	// ErrActionPending rejects a non-interactive login while a verification
	// step is still owed.
	ErrActionPending = errors.New("pending authentication action")
	// ErrUnknownAction means no action is registered under the configured name.
	ErrUnknownAction = errors.New("unknown auth action")
	// ErrUnknownGroup rejects membership changes naming an unconfigured group.
	ErrUnknownGroup = errors.New("unknown group")
	// ErrUnknownPermission rejects grants naming an unconfigured permission.
	ErrUnknownPermission = errors.New("unknown permission")
	// ErrNoCodec means the JWT strategy was used without a token codec.
	ErrNoCodec = errors.New("no token codec configured")
	// ErrEngineNotReady means the engine is missing a required collaborator.
	ErrEngineNotReady = errors.New("engine not initialized")
)
