package auth

import "sync/atomic"

// MetricID indexes one engine counter.
type MetricID uint16

const (
	// MetricLoginSuccess counts completed interactive logins.
	MetricLoginSuccess MetricID = iota
	// MetricLoginFailure counts rejected credential checks.
	MetricLoginFailure
	// MetricLoginThrottled counts attempts rejected by the throttle.
	MetricLoginThrottled
	// MetricTokenSuccess counts accepted access tokens.
	MetricTokenSuccess
	// MetricTokenFailure counts rejected access tokens.
	MetricTokenFailure
	// MetricJWTSuccess counts accepted JWTs.
	MetricJWTSuccess
	// MetricJWTFailure counts rejected JWTs.
	MetricJWTFailure
	// MetricRememberIssued counts remember-me tokens handed out.
	MetricRememberIssued
	// MetricRememberValidated counts remember-me cookies accepted and rotated.
	MetricRememberValidated
	// MetricRememberRejected counts remember-me cookies that failed validation.
	MetricRememberRejected
	// MetricRememberPurged counts expired-token sweeps.
	MetricRememberPurged
	// MetricActionStarted counts pending verification steps opened.
	MetricActionStarted
	// MetricActionCompleted counts verification codes accepted.
	MetricActionCompleted
	// MetricActionFailed counts verification codes rejected.
	MetricActionFailed
	// MetricLogout counts explicit logouts.
	MetricLogout

	metricCount
)

var metricNames = [metricCount]string{
	MetricLoginSuccess:      "login_success",
	MetricLoginFailure:      "login_failure",
	MetricLoginThrottled:    "login_throttled",
	MetricTokenSuccess:      "token_success",
	MetricTokenFailure:      "token_failure",
	MetricJWTSuccess:        "jwt_success",
	MetricJWTFailure:        "jwt_failure",
	MetricRememberIssued:    "remember_issued",
	MetricRememberValidated: "remember_validated",
	MetricRememberRejected:  "remember_rejected",
	MetricRememberPurged:    "remember_purged",
	MetricActionStarted:     "action_started",
	MetricActionCompleted:   "action_completed",
	MetricActionFailed:      "action_failed",
	MetricLogout:            "logout",
}

// Metrics holds the engine's in-process counters. All methods are safe
// for concurrent use.
type Metrics struct {
	counters [metricCount]atomic.Uint64
}

func (m *Metrics) inc(id MetricID) {
	if m == nil || id >= metricCount {
		return
	}
	m.counters[id].Add(1)
}

// Get returns the current value of one counter.
func (m *Metrics) Get(id MetricID) uint64 {
	if m == nil || id >= metricCount {
		return 0
	}
	return m.counters[id].Load()
}

// Snapshot returns a point-in-time copy of every counter keyed by its
// wire name.
func (m *Metrics) Snapshot() map[string]uint64 {
	out := make(map[string]uint64, metricCount)
	for id := MetricID(0); id < metricCount; id++ {
		out[metricNames[id]] = m.Get(id)
	}
	return out
}
