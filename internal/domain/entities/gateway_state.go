package entities

import (
	"net/http"
	"time"
)

// RateLimitEntry is the fixed-window counter for one identifier
type RateLimitEntry struct {
	Count           int       `json:"count"`
	WindowResetTime time.Time `json:"window_reset_time"`
}

// Exceeded reports whether the counter is above max
func (e RateLimitEntry) Exceeded(max int) bool {
	return e.Count > max
}

// RetryAfter returns whole seconds until the window resets, at least 1
func (e RateLimitEntry) RetryAfter(now time.Time) int {
	d := e.WindowResetTime.Sub(now)
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

// NonceEntry records a consumed nonce
type NonceEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Used      bool      `json:"used"`
}

// IdempotencyEntry is the first response produced for an idempotency key
type IdempotencyEntry struct {
	Response   []byte      `json:"response"`
	StatusCode int         `json:"status_code"`
	Header     http.Header `json:"header,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}

// SecurityOutcome is the decision a gateway took on a request
type SecurityOutcome string

const (
	SecurityOutcomePass   SecurityOutcome = "pass"
	SecurityOutcomeReject SecurityOutcome = "reject"
)

// SecurityEvent is the structured record emitted for every gateway decision.
// It never carries a secret or a full signature.
type SecurityEvent struct {
	Outcome    SecurityOutcome `json:"outcome"`
	Reason     string          `json:"reason"`
	Identifier string          `json:"identifier"`
	Endpoint   string          `json:"endpoint"`
	Status     int             `json:"status"`
	At         time.Time       `json:"at"`
}
