package telemed

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/telemedsync/internal/domain/entities"
	apperrors "github.com/zatekoja/telemedsync/pkg/errors"
	"github.com/zatekoja/telemedsync/pkg/retry"
)

func testOptions() Options {
	opts := DefaultOptions()
	opts.Timeout = 2 * time.Second
	opts.Retry = retry.Config{MaxAttempts: 3, Schedule: []time.Duration{time.Millisecond}}
	return opts
}

func testProvider(url string) *entities.Provider {
	return &entities.Provider{
		ID:                "prov-1",
		Name:              "Partner",
		APIURL:            url,
		IsActive:          true,
		IntegrationStatus: entities.IntegrationStatusActive,
		AuthConfig: entities.AuthConfig{
			Type:        entities.AuthTypeAPIKey,
			Credentials: map[string]string{"api_key": "secret-key"},
		},
	}
}

func newTestClient(t *testing.T, url string, opts Options) *Client {
	t.Helper()
	c, err := NewClient(testProvider(url), opts)
	require.NoError(t, err)
	return c
}

func TestClient_PaginatesWithCursor(t *testing.T) {
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PathConsultations, r.URL.Path)
		seen = append(seen, r.URL.Query().Get("cursor"))
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("cursor") {
		case "":
			fmt.Fprint(w, `{"data":[{"id":"c1","patientId":"p1","status":"completed"},{"id":"c2","patientId":"p2","status":"booked"}],"hasMore":true,"nextCursor":"page2"}`)
		case "page2":
			fmt.Fprint(w, `{"data":[{"id":"c3","patientId":"p3","status":"cancelled"}],"hasMore":false}`)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, testOptions())

	var ids []string
	req := FetchRequest{}
	for {
		page, err := c.FetchConsultations(context.Background(), req)
		require.NoError(t, err)
		for _, d := range page.Data {
			require.NoError(t, d.Err)
			ids = append(ids, d.Value.ID)
		}
		if !page.HasMore {
			break
		}
		req.Cursor = page.NextCursor
	}

	assert.Equal(t, []string{"c1", "c2", "c3"}, ids)
	assert.Equal(t, []string{"", "page2"}, seen)
}

func TestClient_QueryParameters(t *testing.T) {
	since := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	until := since.Add(7 * 24 * time.Hour)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "2026-05-01T10:00:00Z", q.Get("since"))
		assert.Equal(t, "2026-05-08T10:00:00Z", q.Get("until"))
		assert.Equal(t, "25", q.Get("limit"))
		assert.Equal(t, "active", q.Get("status"))
		fmt.Fprint(w, `{"data":[],"hasMore":false}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, testOptions())
	_, err := c.FetchPrescriptions(context.Background(), FetchRequest{
		Since:   &since,
		Until:   &until,
		Limit:   25,
		Filters: map[string]string{"status": "active"},
	})
	require.NoError(t, err)
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"data":[{"id":"r1","patientId":"p1"}],"hasMore":false}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, testOptions())
	page, err := c.FetchMedicalRecords(context.Background(), FetchRequest{})

	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClient_GivesUpAfterMaxAttempts(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, testOptions())
	_, err := c.FetchConsultations(context.Background(), FetchRequest{})

	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeTransientNetwork))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			var calls int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(status)
			}))
			defer srv.Close()

			c := newTestClient(t, srv.URL, testOptions())
			_, err := c.FetchConsultations(context.Background(), FetchRequest{})

			require.Error(t, err)
			assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeAuth))
			assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
		})
	}
}

func TestClient_ClientErrorsDoNotOpenBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	opts := testOptions()
	opts.BreakerFailures = 2
	c := newTestClient(t, srv.URL, opts)

	for i := 0; i < 5; i++ {
		_, err := c.FetchConsultations(context.Background(), FetchRequest{})
		require.True(t, apperrors.IsType(err, apperrors.ErrorTypeAuth), "call %d: %v", i, err)
	}
}

func TestClient_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	opts := testOptions()
	opts.Retry.MaxAttempts = 1
	opts.BreakerFailures = 2
	opts.BreakerOpenTimeout = time.Minute
	c := newTestClient(t, srv.URL, opts)

	for i := 0; i < 2; i++ {
		_, err := c.FetchConsultations(context.Background(), FetchRequest{})
		require.Error(t, err)
	}

	_, err := c.FetchConsultations(context.Background(), FetchRequest{})
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeExternal))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestClient_InvalidRecordsBecomeTransformErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[
			{"id":"rx1","patientId":"p1","medications":[{"name":"amoxicillin"}]},
			{"id":"rx2","patientId":"p1","medications":[]},
			{"id":"rx3","patientId":"p1","medications":"oops"}
		],"hasMore":false}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, testOptions())
	page, err := c.FetchPrescriptions(context.Background(), FetchRequest{})
	require.NoError(t, err)
	require.Len(t, page.Data, 3)

	assert.NoError(t, page.Data[0].Err)
	assert.Equal(t, "amoxicillin", page.Data[0].Value.Medications[0].Name)

	for _, d := range page.Data[1:] {
		assert.Nil(t, d.Value)
		assert.True(t, apperrors.IsType(d.Err, apperrors.ErrorTypeTransform))
	}
	assert.Equal(t, "rx2", page.Data[1].ExternalID)
	assert.Equal(t, "rx3", page.Data[2].ExternalID)
}

func TestClient_MalformedEnvelope(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `<html>maintenance</html>`},
		{"has more without cursor", `{"data":[],"hasMore":true}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			c := newTestClient(t, srv.URL, testOptions())
			_, err := c.FetchConsultations(context.Background(), FetchRequest{})
			require.Error(t, err)
			assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeTransform))
		})
	}
}

func TestClient_PerAttemptTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	opts := testOptions()
	opts.Timeout = 20 * time.Millisecond
	opts.Retry.MaxAttempts = 1
	c := newTestClient(t, srv.URL, opts)

	_, err := c.FetchConsultations(context.Background(), FetchRequest{})
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeTransientNetwork))
}

func TestClient_CancelledContextStops(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := newTestClient(t, srv.URL, testOptions())
	_, err := c.FetchConsultations(ctx, FetchRequest{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestNewClient_RequiresURL(t *testing.T) {
	_, err := NewClient(testProvider(""), testOptions())
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
}

func TestAuthenticator(t *testing.T) {
	tests := []struct {
		name       string
		authType   entities.AuthType
		creds      map[string]string
		wantHeader string
		wantValue  string
		wantScheme string
	}{
		{
			name:       "api key default header",
			authType:   entities.AuthTypeAPIKey,
			creds:      map[string]string{"api_key": "k1"},
			wantHeader: "X-Api-Key",
			wantValue:  "k1",
			wantScheme: "api_key",
		},
		{
			name:       "api key custom header",
			authType:   entities.AuthTypeAPIKey,
			creds:      map[string]string{"apiKey": "k2", "header": "X-Partner-Key"},
			wantHeader: "X-Partner-Key",
			wantValue:  "k2",
			wantScheme: "api_key",
		},
		{
			name:       "bearer",
			authType:   entities.AuthTypeBearer,
			creds:      map[string]string{"token": "t1"},
			wantHeader: "Authorization",
			wantValue:  "Bearer t1",
			wantScheme: "bearer",
		},
		{
			name:       "oauth access token",
			authType:   entities.AuthTypeOAuth,
			creds:      map[string]string{"access_token": "t2"},
			wantHeader: "Authorization",
			wantValue:  "Bearer t2",
			wantScheme: "oauth",
		},
		{
			name:       "basic",
			authType:   entities.AuthTypeBasic,
			creds:      map[string]string{"username": "u", "password": "p"},
			wantHeader: "Authorization",
			wantValue:  "Basic " + base64.StdEncoding.EncodeToString([]byte("u:p")),
			wantScheme: "basic",
		},
		{
			name:       "missing credential",
			authType:   entities.AuthTypeBearer,
			creds:      map[string]string{},
			wantScheme: "none",
		},
		{
			name:       "unsupported scheme",
			authType:   entities.AuthType("hmac"),
			creds:      map[string]string{"token": "x"},
			wantScheme: "none",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auth := NewAuthenticator("prov-1", tt.authType, tt.creds)
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			auth.Apply(req)

			assert.Equal(t, tt.wantScheme, auth.Scheme())
			if tt.wantHeader != "" {
				assert.Equal(t, tt.wantValue, req.Header.Get(tt.wantHeader))
			} else {
				assert.Empty(t, req.Header.Get("Authorization"))
				assert.Empty(t, req.Header.Get("X-Api-Key"))
			}
		})
	}
}

func TestClient_SendsCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "secret-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"data":[],"hasMore":false}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, testOptions())
	_, err := c.FetchConsultations(context.Background(), FetchRequest{})
	require.NoError(t, err)
}

func TestClientFactory_RejectsUnconfigured(t *testing.T) {
	f := NewClientFactory(testOptions(), nil)
	p := testProvider("http://partner.test")
	p.IsActive = false

	_, err := f.NewClient(context.Background(), p)
	require.Error(t, err)
}

func TestClientFactory_VaultReferenceWithoutVault(t *testing.T) {
	f := NewClientFactory(testOptions(), nil)
	p := testProvider("http://partner.test")
	p.AuthConfig.Credentials["api_key"] = "vault:partners/acme#api_key"

	_, err := f.NewClient(context.Background(), p)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeInternal))
}

func TestClient_RateLimiterPacesAttempts(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		fmt.Fprint(w, `{"data":[],"hasMore":false}`)
	}))
	defer srv.Close()

	opts := testOptions()
	opts.RequestsPerSecond = 20
	opts.Burst = 1
	c := newTestClient(t, srv.URL, opts)

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := c.FetchConsultations(context.Background(), FetchRequest{})
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClient_RateLimiterHonorsCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[],"hasMore":false}`)
	}))
	defer srv.Close()

	opts := testOptions()
	opts.RequestsPerSecond = 0.1
	c := newTestClient(t, srv.URL, opts)

	_, err := c.FetchConsultations(context.Background(), FetchRequest{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.FetchConsultations(ctx, FetchRequest{})
	require.Error(t, err)
}
