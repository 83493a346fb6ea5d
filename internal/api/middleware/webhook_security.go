package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/zatekoja/telemedsync/internal/domain/entities"
	"github.com/zatekoja/telemedsync/internal/domain/providers"
	"github.com/zatekoja/telemedsync/internal/infrastructure/observability"
	"github.com/zatekoja/telemedsync/pkg/config"
	"github.com/zatekoja/telemedsync/pkg/signature"
)

// Webhook headers
const (
	HeaderSignature        = "X-Signature"
	HeaderWebhookSignature = "X-Webhook-Signature"
	HeaderTimestamp        = "X-Timestamp"
	HeaderNonce            = "X-Nonce"
	HeaderIdempotencyKey   = "X-Idempotency-Key"
	HeaderProviderKey      = "X-Provider-Key"
	HeaderIdempotentReplay = "X-Idempotent-Replay"
)

// Security event reasons
const (
	ReasonAccepted              = "accepted"
	ReasonIdempotentReplay      = "idempotent_replay"
	ReasonRateLimited           = "rate_limited"
	ReasonBodyTooLarge          = "body_too_large"
	ReasonBodyUnreadable        = "body_unreadable"
	ReasonMissingTimestamp      = "missing_timestamp"
	ReasonInvalidTimestamp      = "invalid_timestamp"
	ReasonStaleTimestamp        = "stale_timestamp"
	ReasonMissingNonce          = "missing_nonce"
	ReasonNonceReplay           = "nonce_replay"
	ReasonMissingSignature      = "missing_signature"
	ReasonInvalidSignature      = "invalid_signature"
	ReasonSecretNotConfigured   = "secret_not_configured"
	ReasonInvalidJSON           = "invalid_json"
	ReasonIdempotencyInProgress = "idempotency_in_progress"
	ReasonStateStoreError       = "state_store_error"
)

const internalValidationFailure = "internal validation failure"

// WebhookSecurityConfig selects the gateway checks
type WebhookSecurityConfig struct {
	RequireSignature  bool
	RequireTimestamp  bool
	RequireNonce      bool
	EnableRateLimit   bool
	EnableIdempotency bool
	Secret            string

	// RateLimitIdentifierFn keys the rate limit. Defaults to the
	// X-Provider-Key header, else the client IP.
	RateLimitIdentifierFn func(r *http.Request) string

	RateLimitWindow      time.Duration
	RateLimitMaxRequests int
	MaxTimestampAge      time.Duration
	NonceTTL             time.Duration
	IdempotencyTTL       time.Duration
	MaxBodyBytes         int64
	Clock                func() time.Time
}

// DefaultWebhookSecurityConfig enables every check except nonces
func DefaultWebhookSecurityConfig() WebhookSecurityConfig {
	return WebhookSecurityConfig{
		RequireSignature:     true,
		RequireTimestamp:     true,
		EnableRateLimit:      true,
		EnableIdempotency:    true,
		RateLimitWindow:      60 * time.Second,
		RateLimitMaxRequests: 100,
		MaxTimestampAge:      300 * time.Second,
		NonceTTL:             10 * time.Minute,
		IdempotencyTTL:       24 * time.Hour,
		MaxBodyBytes:         1 << 20,
	}
}

// WebhookSecurityConfigFrom converts the env configuration
func WebhookSecurityConfigFrom(cfg config.GatewayConfig) WebhookSecurityConfig {
	return WebhookSecurityConfig{
		RequireSignature:     cfg.RequireSignature,
		RequireTimestamp:     cfg.RequireTimestamp,
		RequireNonce:         cfg.RequireNonce,
		EnableRateLimit:      cfg.EnableRateLimit,
		EnableIdempotency:    cfg.EnableIdempotency,
		Secret:               cfg.Secret,
		RateLimitWindow:      cfg.RateLimitWindow,
		RateLimitMaxRequests: cfg.RateLimitMax,
		MaxTimestampAge:      cfg.MaxTimestampAge,
		NonceTTL:             cfg.NonceTTL,
		IdempotencyTTL:       cfg.IdempotencyTTL,
		MaxBodyBytes:         cfg.MaxBodyBytes,
	}
}

// DefaultRateLimitIdentifier keys requests by X-Provider-Key, else client IP
func DefaultRateLimitIdentifier(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get(HeaderProviderKey)); key != "" {
		return key
	}
	return clientIP(r)
}

type payloadContextKey struct{}

// WebhookPayloadFromContext returns the verified raw JSON body
func WebhookPayloadFromContext(ctx context.Context) (json.RawMessage, bool) {
	p, ok := ctx.Value(payloadContextKey{}).(json.RawMessage)
	return p, ok
}

// WebhookSecurity authenticates and de-duplicates partner webhooks
type WebhookSecurity struct {
	cfg     WebhookSecurityConfig
	store   providers.GatewayStateStore
	metrics *observability.Metrics
}

// NewWebhookSecurity creates the gateway. store is shared by every gateway
// instance in the process.
func NewWebhookSecurity(cfg WebhookSecurityConfig, store providers.GatewayStateStore, metrics *observability.Metrics) *WebhookSecurity {
	defaults := DefaultWebhookSecurityConfig()
	if cfg.RateLimitIdentifierFn == nil {
		cfg.RateLimitIdentifierFn = DefaultRateLimitIdentifier
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = defaults.RateLimitWindow
	}
	if cfg.RateLimitMaxRequests <= 0 {
		cfg.RateLimitMaxRequests = defaults.RateLimitMaxRequests
	}
	if cfg.MaxTimestampAge <= 0 {
		cfg.MaxTimestampAge = defaults.MaxTimestampAge
	}
	if cfg.NonceTTL <= 0 {
		cfg.NonceTTL = defaults.NonceTTL
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = defaults.IdempotencyTTL
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaults.MaxBodyBytes
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &WebhookSecurity{cfg: cfg, store: store, metrics: metrics}
}

// decision carries the per-request fields of a security event
type decision struct {
	identifier string
	endpoint   string
}

// Middleware wraps next with the gateway pipeline. Every failed check ends
// the request.
func (g *WebhookSecurity) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		now := g.cfg.Clock()
		d := decision{identifier: g.cfg.RateLimitIdentifierFn(r), endpoint: r.URL.Path}

		// Rate limit
		if g.cfg.EnableRateLimit {
			entry, err := g.store.IncrementRateLimit(ctx, d.identifier, g.cfg.RateLimitWindow, now)
			if err != nil {
				g.storeFailure(ctx, w, d, err)
				return
			}
			if entry.Exceeded(g.cfg.RateLimitMaxRequests) {
				retryAfter := entry.RetryAfter(now)
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				g.emit(ctx, entities.SecurityOutcomeReject, ReasonRateLimited, d, http.StatusTooManyRequests)
				respondWithJSON(w, http.StatusTooManyRequests, map[string]interface{}{
					"error":      "rate limit exceeded",
					"retryAfter": retryAfter,
				})
				return
			}
		}

		// Idempotency lookup
		var idemKey string
		if g.cfg.EnableIdempotency {
			idemKey = strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
		}
		if idemKey != "" {
			cached, err := g.store.GetIdempotency(ctx, idemKey, now)
			if err != nil {
				g.storeFailure(ctx, w, d, err)
				return
			}
			if cached != nil {
				g.emit(ctx, entities.SecurityOutcomePass, ReasonIdempotentReplay, d, cached.StatusCode)
				replay(w, cached)
				return
			}
		}

		// Body buffering
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, g.cfg.MaxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				g.reject(ctx, w, d, http.StatusRequestEntityTooLarge, ReasonBodyTooLarge, "payload too large")
				return
			}
			g.reject(ctx, w, d, http.StatusBadRequest, ReasonBodyUnreadable, "failed to read body")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		// Timestamp
		var ts int64
		hasTimestamp := false
		if raw := r.Header.Get(HeaderTimestamp); raw != "" {
			parsed, err := signature.ParseTimestamp(raw)
			if err != nil {
				g.reject(ctx, w, d, http.StatusUnauthorized, ReasonInvalidTimestamp, "invalid timestamp")
				return
			}
			ts, hasTimestamp = parsed, true
		}
		if g.cfg.RequireTimestamp {
			if !hasTimestamp {
				g.reject(ctx, w, d, http.StatusUnauthorized, ReasonMissingTimestamp, "missing timestamp")
				return
			}
			if !signature.WithinWindow(ts, now, g.cfg.MaxTimestampAge) {
				g.reject(ctx, w, d, http.StatusUnauthorized, ReasonStaleTimestamp, "timestamp outside allowed window")
				return
			}
		}

		// Nonce
		if g.cfg.RequireNonce {
			nonce := strings.TrimSpace(r.Header.Get(HeaderNonce))
			if nonce == "" {
				g.reject(ctx, w, d, http.StatusUnauthorized, ReasonMissingNonce, "missing nonce")
				return
			}
			fresh, err := g.store.ConsumeNonce(ctx, nonce, g.cfg.NonceTTL, now)
			if err != nil {
				g.storeFailure(ctx, w, d, err)
				return
			}
			if !fresh {
				g.reject(ctx, w, d, http.StatusForbidden, ReasonNonceReplay, "replay detected")
				return
			}
		}

		// Signature
		if g.cfg.RequireSignature {
			if g.cfg.Secret == "" {
				observability.LoggerFromContext(ctx).Error().Msg("Webhook signature required but no secret is configured")
				g.reject(ctx, w, d, http.StatusInternalServerError, ReasonSecretNotConfigured, internalValidationFailure)
				return
			}
			sig := r.Header.Get(HeaderSignature)
			if sig == "" {
				sig = r.Header.Get(HeaderWebhookSignature)
			}
			if sig == "" {
				g.reject(ctx, w, d, http.StatusUnauthorized, ReasonMissingSignature, "missing signature")
				return
			}
			if !hasTimestamp {
				g.reject(ctx, w, d, http.StatusUnauthorized, ReasonMissingTimestamp, "missing timestamp")
				return
			}
			if !signature.Verify(sig, body, ts, g.cfg.Secret) {
				observability.LoggerFromContext(ctx).Debug().
					Str("signature_prefix", signature.Redact(sig)).
					Str("identifier", d.identifier).
					Msg("Webhook signature mismatch")
				g.reject(ctx, w, d, http.StatusUnauthorized, ReasonInvalidSignature, "invalid signature")
				return
			}
		}

		// JSON decode
		if !json.Valid(body) {
			g.reject(ctx, w, d, http.StatusBadRequest, ReasonInvalidJSON, "invalid JSON payload")
			return
		}
		ctx = context.WithValue(ctx, payloadContextKey{}, json.RawMessage(body))
		r = r.WithContext(ctx)

		if idemKey == "" {
			g.emit(ctx, entities.SecurityOutcomePass, ReasonAccepted, d, 0)
			next.ServeHTTP(w, r)
			return
		}

		// Response capture
		reserved, err := g.store.ReserveIdempotency(ctx, idemKey, g.cfg.IdempotencyTTL, now)
		if err != nil {
			g.storeFailure(ctx, w, d, err)
			return
		}
		if !reserved {
			if cached, err := g.store.GetIdempotency(ctx, idemKey, now); err == nil && cached != nil {
				g.emit(ctx, entities.SecurityOutcomePass, ReasonIdempotentReplay, d, cached.StatusCode)
				replay(w, cached)
				return
			}
			g.reject(ctx, w, d, http.StatusConflict, ReasonIdempotencyInProgress, "idempotent request in progress")
			return
		}

		g.emit(ctx, entities.SecurityOutcomePass, ReasonAccepted, d, 0)
		g.serveCaptured(ctx, w, r, next, idemKey)
	})
}

// serveCaptured runs next into a buffer, stores the response under key and
// only then sends it. A 5xx response or a failed store releases the key so a
// redelivery runs again.
func (g *WebhookSecurity) serveCaptured(ctx context.Context, w http.ResponseWriter, r *http.Request, next http.Handler, key string) {
	storeCtx := context.WithoutCancel(ctx)
	logger := observability.LoggerFromContext(ctx)

	defer func() {
		if p := recover(); p != nil {
			if err := g.store.ReleaseIdempotency(storeCtx, key); err != nil {
				logger.Error().Err(err).Msg("Failed to release idempotency key")
			}
			panic(p)
		}
	}()

	cw := newCaptureWriter()
	next.ServeHTTP(cw, r)

	release := cw.status >= http.StatusInternalServerError
	if !release {
		now := g.cfg.Clock()
		entry := entities.IdempotencyEntry{
			Response:   cw.body.Bytes(),
			StatusCode: cw.status,
			Header:     cw.header.Clone(),
			Timestamp:  now,
		}
		if err := g.store.SaveIdempotency(storeCtx, key, entry, g.cfg.IdempotencyTTL, now); err != nil {
			logger.Error().Err(err).Msg("Failed to store idempotent response")
			release = true
		}
	}
	if release {
		if err := g.store.ReleaseIdempotency(storeCtx, key); err != nil {
			logger.Error().Err(err).Msg("Failed to release idempotency key")
		}
	}

	cw.flushTo(w)
}

func (g *WebhookSecurity) reject(ctx context.Context, w http.ResponseWriter, d decision, status int, reason, message string) {
	g.emit(ctx, entities.SecurityOutcomeReject, reason, d, status)
	respondWithError(w, status, message)
}

func (g *WebhookSecurity) storeFailure(ctx context.Context, w http.ResponseWriter, d decision, err error) {
	observability.LoggerFromContext(ctx).Error().Err(err).Msg("Gateway state store failure")
	g.reject(ctx, w, d, http.StatusInternalServerError, ReasonStateStoreError, internalValidationFailure)
}

func (g *WebhookSecurity) emit(ctx context.Context, outcome entities.SecurityOutcome, reason string, d decision, status int) {
	observability.LogSecurityEvent(ctx, entities.SecurityEvent{
		Outcome:    outcome,
		Reason:     reason,
		Identifier: d.identifier,
		Endpoint:   d.endpoint,
		Status:     status,
		At:         g.cfg.Clock(),
	})
	observability.RecordSecurityDecision(ctx, g.metrics, string(outcome), reason)
}

// replay writes a stored response byte for byte
func replay(w http.ResponseWriter, entry *entities.IdempotencyEntry) {
	for k, vs := range entry.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set(HeaderIdempotentReplay, "true")
	w.WriteHeader(entry.StatusCode)
	_, _ = w.Write(entry.Response)
}

// captureWriter buffers a handler's response
type captureWriter struct {
	header      http.Header
	body        bytes.Buffer
	status      int
	wroteHeader bool
}

func newCaptureWriter() *captureWriter {
	return &captureWriter{header: make(http.Header), status: http.StatusOK}
}

func (c *captureWriter) Header() http.Header {
	return c.header
}

func (c *captureWriter) WriteHeader(statusCode int) {
	if c.wroteHeader {
		return
	}
	c.status = statusCode
	c.wroteHeader = true
}

func (c *captureWriter) Write(b []byte) (int, error) {
	if !c.wroteHeader {
		c.WriteHeader(http.StatusOK)
	}
	return c.body.Write(b)
}

func (c *captureWriter) flushTo(w http.ResponseWriter) {
	for k, vs := range c.header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(c.status)
	_, _ = w.Write(c.body.Bytes())
}
