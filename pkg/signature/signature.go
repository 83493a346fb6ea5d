// Package signature holds the HMAC and timestamp primitives used to
// authenticate partner webhooks.
//
// A signature is HMAC-SHA256(secret, "{timestamp}.{rawBody}") rendered as
// lowercase hex. It is always computed over the exact bytes received, never
// over a re-serialized object.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// HeaderPrefix is the scheme prefix partners put in front of the hex digest.
const HeaderPrefix = "sha256="

// Sign returns the hex HMAC-SHA256 of "{ts}.{body}".
func Sign(body []byte, ts int64, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Header formats a signature for the X-Signature header.
func Header(sig string) string {
	return HeaderPrefix + sig
}

// ParseHeader strips the optional sha256= prefix and surrounding space.
func ParseHeader(value string) string {
	value = strings.TrimSpace(value)
	if len(value) >= len(HeaderPrefix) && strings.EqualFold(value[:len(HeaderPrefix)], HeaderPrefix) {
		value = value[len(HeaderPrefix):]
	}
	return strings.ToLower(value)
}

// Verify recomputes the signature and compares it in constant time.
func Verify(sig string, body []byte, ts int64, secret string) bool {
	if secret == "" || sig == "" {
		return false
	}
	return ConstantTimeEqual(ParseHeader(sig), Sign(body, ts, secret))
}

// ConstantTimeEqual compares two strings without leaking where they differ.
func ConstantTimeEqual(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}

// ParseTimestamp parses a Unix-seconds header value.
func ParseTimestamp(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("timestamp is empty")
	}
	ts, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid timestamp %q: %w", value, err)
	}
	return ts, nil
}

// WithinWindow reports whether |now - ts| <= maxAge.
func WithinWindow(ts int64, now time.Time, maxAge time.Duration) bool {
	if maxAge < 0 {
		return false
	}
	limit := uint64(maxAge / time.Second)
	n := now.Unix()
	// unsigned differences cannot overflow for any pair of int64 values
	if ts >= n {
		return uint64(ts)-uint64(n) <= limit
	}
	return uint64(n)-uint64(ts) <= limit
}

// Redact keeps a short prefix of a signature for log lines.
func Redact(sig string) string {
	sig = ParseHeader(sig)
	if len(sig) <= 8 {
		return "***"
	}
	return sig[:8] + "..."
}
