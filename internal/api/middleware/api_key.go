package middleware

import (
	"net/http"
	"strings"

	"github.com/zatekoja/telemedsync/internal/domain/entities"
	"github.com/zatekoja/telemedsync/internal/infrastructure/observability"
	"github.com/zatekoja/telemedsync/pkg/config"
	"github.com/zatekoja/telemedsync/pkg/signature"
)

// APIKeyConfig configures the API-key gateway
type APIKeyConfig struct {
	Keys            []string
	HeaderName      string
	AllowQueryParam bool
	QueryParamName  string
}

// APIKeyConfigFrom builds the gateway config for keys, taking header and
// query settings from cfg
func APIKeyConfigFrom(cfg config.APIKeyConfig, keys []string) APIKeyConfig {
	return APIKeyConfig{
		Keys:            keys,
		HeaderName:      cfg.HeaderName,
		AllowQueryParam: cfg.AllowQueryParam,
	}
}

// APIKeyAuth admits requests carrying a key from a static allow-list
type APIKeyAuth struct {
	keys    []string
	header  string
	query   string
	metrics *observability.Metrics
}

// NewAPIKeyAuth creates the gateway. An empty allow-list rejects every key.
func NewAPIKeyAuth(cfg APIKeyConfig, metrics *observability.Metrics) *APIKeyAuth {
	a := &APIKeyAuth{header: cfg.HeaderName, metrics: metrics}
	if a.header == "" {
		a.header = "X-Api-Key"
	}
	if cfg.AllowQueryParam {
		a.query = cfg.QueryParamName
		if a.query == "" {
			a.query = "api_key"
		}
	}
	for _, k := range cfg.Keys {
		if k = strings.TrimSpace(k); k != "" {
			a.keys = append(a.keys, k)
		}
	}
	return a
}

// Middleware rejects requests without a valid key
func (a *APIKeyAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := a.extract(r)
		if key == "" {
			a.emit(r, entities.SecurityOutcomeReject, "missing_api_key", http.StatusUnauthorized)
			respondWithError(w, http.StatusUnauthorized, "API key required")
			return
		}
		if !a.valid(key) {
			a.emit(r, entities.SecurityOutcomeReject, "invalid_api_key", http.StatusUnauthorized)
			respondWithError(w, http.StatusUnauthorized, "invalid API key")
			return
		}
		a.emit(r, entities.SecurityOutcomePass, "api_key_accepted", 0)
		next.ServeHTTP(w, r)
	})
}

// extract looks at the configured header, then a bearer token, then the
// query string when allowed
func (a *APIKeyAuth) extract(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(a.header)); v != "" {
		return v
	}
	if auth := r.Header.Get("Authorization"); auth != "" {
		scheme, token, ok := strings.Cut(auth, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			if token = strings.TrimSpace(token); token != "" {
				return token
			}
		}
	}
	if a.query != "" {
		return strings.TrimSpace(r.URL.Query().Get(a.query))
	}
	return ""
}

// valid compares against every key so timing does not depend on the match
// position
func (a *APIKeyAuth) valid(key string) bool {
	found := false
	for _, k := range a.keys {
		if signature.ConstantTimeEqual(k, key) {
			found = true
		}
	}
	return found
}

func (a *APIKeyAuth) emit(r *http.Request, outcome entities.SecurityOutcome, reason string, status int) {
	ctx := r.Context()
	observability.LogSecurityEvent(ctx, entities.SecurityEvent{
		Outcome:    outcome,
		Reason:     reason,
		Identifier: clientIP(r),
		Endpoint:   r.URL.Path,
		Status:     status,
		At:         timeNow(),
	})
	observability.RecordSecurityDecision(ctx, a.metrics, string(outcome), reason)
}
