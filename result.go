package auth

// Machine-readable failure reasons. Controllers map these onto their
// own localized messages; the engine never renders user-facing text.
const (
	ReasonUnknownUser     = "unknown user"
	ReasonInvalidPassword = "invalid password"
	ReasonBannedUser      = "banned user"
	ReasonForceReset      = "password reset required"
	ReasonNoToken         = "no token"
	ReasonBadToken        = "bad token"
	ReasonOldToken        = "old token"
	ReasonMissingSubject  = "missing subject"
	ReasonNoIdentity      = "no identity"
	ReasonExpiredCode     = "expired code"
	ReasonInvalidCode     = "invalid code"
	ReasonThrottled       = "too many requests"
)

// Result is the immutable outcome of an authenticate/check call: a
// success flag, a machine-readable reason on failure, the authenticated
// user on success, and an optional human hint (ban message, remaining
// cooldown seconds).
type Result struct {
	ok     bool
	reason string
	user   *User
	hint   string
}

// OK builds a successful Result carrying the authenticated user.
func OK(user *User) Result {
	return Result{ok: true, user: user}
}

// Fail builds a failed Result with a machine-readable reason.
func Fail(reason string) Result {
	return Result{reason: reason}
}

// FailHint builds a failed Result with a reason and a human hint.
func FailHint(reason, hint string) Result {
	return Result{reason: reason, hint: hint}
}

// OK reports whether the call succeeded.
func (r Result) OK() bool { return r.ok }

// Reason returns the machine-readable failure reason, empty on success.
func (r Result) Reason() string { return r.reason }

// User returns the authenticated user, nil on failure.
func (r Result) User() *User { return r.user }

// Hint returns the optional human-readable hint.
func (r Result) Hint() string { return r.hint }
