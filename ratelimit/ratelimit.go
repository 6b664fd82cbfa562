// Package ratelimit provides distributed rate limiting over Redis.
//
// SlidingWindow is the main limiter: a time-ordered set per key, purged and
// counted by a single Lua script so that concurrent requests against the same
// key are strictly serialized at the store. FixedWindow is a simpler
// process-local gate for traffic that never crosses instances, such as
// WebSocket connection attempts.
//
// Both fail open. A rate limiter that cannot reach its store admits the
// request; throttling must never become an availability hazard.
package ratelimit

import (
	"errors"
	"time"
)

// Error is the base error for invalid limiter configuration.
var Error = errors.New("ratelimit")

// Result describes one admission decision.
type Result struct {
	Allow     bool
	Limit     int64
	Remaining int64

	// ResetAt is when the oldest surviving entry leaves the window.
	ResetAt time.Time

	// RetryAt is when a denied request may be retried, at least one second
	// out. Equal to the decision time for allowed requests.
	RetryAt time.Time
}

// RetryIn returns the duration until RetryAt, clamped at zero.
func (r *Result) RetryIn() time.Duration {
	d := time.Until(r.RetryAt)
	if d < 0 {
		return 0
	}

	return d
}

// ResetIn returns the duration until ResetAt, clamped at zero.
func (r *Result) ResetIn() time.Duration {
	d := time.Until(r.ResetAt)
	if d < 0 {
		return 0
	}

	return d
}
