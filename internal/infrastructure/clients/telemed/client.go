package telemed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"github.com/zatekoja/telemedsync/internal/domain/entities"
	"github.com/zatekoja/telemedsync/internal/infrastructure/observability"
	"github.com/zatekoja/telemedsync/pkg/config"
	apperrors "github.com/zatekoja/telemedsync/pkg/errors"
	"github.com/zatekoja/telemedsync/pkg/retry"
	"golang.org/x/time/rate"
)

// Partner API resource paths
const (
	PathConsultations  = "/consultations"
	PathPrescriptions  = "/prescriptions"
	PathMedicalRecords = "/medical-records"
)

// maxErrorBody bounds how much of a failed response is kept for diagnostics
const maxErrorBody = 512

// FetchRequest selects a window and page of partner records
type FetchRequest struct {
	Since   *time.Time
	Until   *time.Time
	Limit   int
	Cursor  string
	Filters map[string]string
}

// Options tunes a partner client
type Options struct {
	// Timeout bounds each attempt independently of the retry schedule.
	Timeout            time.Duration
	PageSize           int
	Retry              retry.Config
	BreakerFailures    uint32
	BreakerOpenTimeout time.Duration
	// RequestsPerSecond paces attempts to one partner; 0 means unpaced.
	RequestsPerSecond  float64
	Burst              int
	HTTPClient         *http.Client
	Metrics            *observability.Metrics
}

// DefaultOptions returns the standard partner policy
func DefaultOptions() Options {
	return Options{
		Timeout:            30 * time.Second,
		PageSize:           100,
		Retry:              retry.ProviderConfig(),
		BreakerFailures:    5,
		BreakerOpenTimeout: 60 * time.Second,
	}
}

// OptionsFromConfig builds options from the provider client settings
func OptionsFromConfig(cfg config.ProviderClientConfig, metrics *observability.Metrics) Options {
	opts := DefaultOptions()
	if cfg.HTTPTimeout > 0 {
		opts.Timeout = cfg.HTTPTimeout
	}
	if cfg.PageSize > 0 {
		opts.PageSize = cfg.PageSize
	}
	if cfg.MaxAttempts > 0 {
		opts.Retry.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.BreakerFailures > 0 {
		opts.BreakerFailures = uint32(cfg.BreakerFailures)
	}
	if cfg.BreakerOpenTimeout > 0 {
		opts.BreakerOpenTimeout = cfg.BreakerOpenTimeout
	}
	opts.RequestsPerSecond = cfg.RateLimitRPS
	opts.Burst = cfg.RateLimitBurst
	opts.Metrics = metrics
	return opts
}

// Client talks to one partner's API
type Client struct {
	providerID string
	baseURL    string
	httpClient *http.Client
	auth       Authenticator
	opts       Options
	breaker    *gobreaker.CircuitBreaker
	limiter    *rate.Limiter
}

// NewClient creates a client for provider using its declared auth scheme
func NewClient(provider *entities.Provider, opts Options) (*Client, error) {
	if strings.TrimSpace(provider.APIURL) == "" {
		return nil, apperrors.NewValidationError(fmt.Sprintf("provider %s has no api url", provider.ID))
	}
	if _, err := url.ParseRequestURI(provider.APIURL); err != nil {
		return nil, apperrors.NewValidationError(fmt.Sprintf("provider %s has an invalid api url", provider.ID))
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	c := &Client{
		providerID: provider.ID,
		baseURL:    strings.TrimRight(provider.APIURL, "/"),
		httpClient: httpClient,
		auth:       NewAuthenticator(provider.ID, provider.AuthConfig.Type, provider.AllCredentials()),
		opts:       opts,
	}

	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	failures := opts.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "telemed:" + provider.ID,
		MaxRequests: 1,
		Timeout:     opts.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Partner circuit breaker state changed")
		},
	})

	return c, nil
}

// ProviderID returns the provider this client talks to
func (c *Client) ProviderID() string {
	return c.providerID
}

// AuthScheme returns the scheme requests are signed with
func (c *Client) AuthScheme() string {
	return c.auth.Scheme()
}

// FetchConsultations fetches one page of consultations
func (c *Client) FetchConsultations(ctx context.Context, req FetchRequest) (*Page[ConsultationDTO], error) {
	return fetchPage[ConsultationDTO](ctx, c, PathConsultations, req)
}

// FetchPrescriptions fetches one page of prescriptions
func (c *Client) FetchPrescriptions(ctx context.Context, req FetchRequest) (*Page[PrescriptionDTO], error) {
	return fetchPage[PrescriptionDTO](ctx, c, PathPrescriptions, req)
}

// FetchMedicalRecords fetches one page of medical records
func (c *Client) FetchMedicalRecords(ctx context.Context, req FetchRequest) (*Page[MedicalRecordDTO], error) {
	return fetchPage[MedicalRecordDTO](ctx, c, PathMedicalRecords, req)
}

func fetchPage[T Record](ctx context.Context, c *Client, path string, req FetchRequest) (*Page[T], error) {
	endpoint, err := c.buildURL(path, req)
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := c.getJSON(ctx, endpoint, &env); err != nil {
		return nil, err
	}

	page := &Page[T]{
		Data:       make([]Decoded[T], 0, len(env.Data)),
		HasMore:    env.HasMore,
		NextCursor: env.NextCursor,
	}
	for _, raw := range env.Data {
		page.Data = append(page.Data, DecodeRecord[T](raw))
	}
	// A partner claiming more pages without a cursor would loop forever
	if page.HasMore && page.NextCursor == "" {
		return nil, apperrors.NewTransformError(fmt.Sprintf("%s: hasMore without nextCursor", path), nil)
	}
	return page, nil
}

func (c *Client) buildURL(path string, req FetchRequest) (string, error) {
	parsed, err := url.Parse(c.baseURL + path)
	if err != nil {
		return "", apperrors.NewValidationError(fmt.Sprintf("invalid partner url: %v", err))
	}

	limit := req.Limit
	if limit <= 0 {
		limit = c.opts.PageSize
	}

	query := parsed.Query()
	for k, v := range req.Filters {
		query.Set(k, v)
	}
	if req.Since != nil {
		query.Set("since", req.Since.UTC().Format(time.RFC3339))
	}
	if req.Until != nil {
		query.Set("until", req.Until.UTC().Format(time.RFC3339))
	}
	query.Set("limit", strconv.Itoa(limit))
	if req.Cursor != "" {
		query.Set("cursor", req.Cursor)
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

// getJSON performs a GET with retry and circuit breaking
func (c *Client) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	cfg := c.opts.Retry
	cfg.Retryable = isRetryable
	cfg.OnRetry = func(attempt int, err error, nextDelay time.Duration) {
		observability.LoggerFromContext(ctx).Warn().
			Err(err).
			Str("provider_id", c.providerID).
			Int("attempt", attempt).
			Dur("next_delay", nextDelay).
			Msg("Partner API call failed, retrying")
	}

	body, err := retry.DoValue(ctx, cfg, func(ctx context.Context) ([]byte, error) {
		return c.attempt(ctx, endpoint)
	})
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return apperrors.NewTransformError("malformed partner response", err)
	}
	return nil
}

// nonRetryable carries a 4xx answer through the breaker as a success so
// client mistakes do not open the circuit
type nonRetryable struct{ err error }

func (c *Client) attempt(ctx context.Context, endpoint string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, apperrors.NewTransientNetworkError("partner rate limiter", 0, err)
		}
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		body, err := c.do(ctx, endpoint)
		if err != nil && apperrors.IsType(err, apperrors.ErrorTypeAuth) {
			return nonRetryable{err: err}, nil
		}
		return body, err
	})

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		observability.RecordProviderAttempt(ctx, c.opts.Metrics, c.providerID, "circuit_open")
		return nil, apperrors.NewExternalError(fmt.Sprintf("partner %s circuit open", c.providerID), err)
	case err != nil:
		observability.RecordProviderAttempt(ctx, c.opts.Metrics, c.providerID, "retryable")
		return nil, err
	}

	if nr, ok := result.(nonRetryable); ok {
		observability.RecordProviderAttempt(ctx, c.opts.Metrics, c.providerID, "non_retryable")
		return nil, nr.err
	}
	observability.RecordProviderAttempt(ctx, c.opts.Metrics, c.providerID, "success")
	return result.([]byte), nil
}

// do runs a single attempt under its own timeout
func (c *Client) do(ctx context.Context, endpoint string) ([]byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, apperrors.NewValidationError(fmt.Sprintf("invalid partner request: %v", err))
	}
	httpReq.Header.Set("Accept", "application/json")
	c.auth.Apply(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperrors.NewTransientNetworkError("partner request failed", 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := fmt.Sprintf("partner api returned status %d", resp.StatusCode)
		if s := strings.TrimSpace(string(snippet)); s != "" {
			msg += ": " + s
		}
		if IsNonRetryableStatus(resp.StatusCode) {
			return nil, apperrors.NewAuthError(msg, resp.StatusCode)
		}
		return nil, apperrors.NewTransientNetworkError(msg, resp.StatusCode, nil)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.NewTransientNetworkError("failed to read partner response", resp.StatusCode, err)
	}
	return body, nil
}

// IsNonRetryableStatus reports the statuses that fail a call immediately
func IsNonRetryableStatus(status int) bool {
	switch status {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return true
	}
	return false
}

func isRetryable(err error) bool {
	return apperrors.IsType(err, apperrors.ErrorTypeTransientNetwork)
}
