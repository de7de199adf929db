package throttle

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTooManyRequests is the sentinel every throttled rejection
	// unwraps to.
	ErrTooManyRequests = errors.New("too many requests")
	// ErrRedisUnavailable wraps backend failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
)

// TooManyRequestsError is a throttled rejection carrying the remaining
// cooldown, surfaced to clients as a Retry-After hint.
type TooManyRequestsError struct {
	RetryAfter time.Duration
}

func (e *TooManyRequestsError) Error() string {
	return fmt.Sprintf("too many requests, retry in %ds", int(e.RetryAfter.Seconds())+1)
}

// Unwrap lets errors.Is match [ErrTooManyRequests].
func (e *TooManyRequestsError) Unwrap() error { return ErrTooManyRequests }

// RetrySeconds returns the cooldown rounded up to whole seconds, never
// below one while a block is active.
func (e *TooManyRequestsError) RetrySeconds() int {
	secs := int((e.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
