package secrets

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newVaultServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		if r.Header.Get("X-Vault-Token") != "root" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if r.URL.Path != "/v1/secret/data/partners/acme" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"data":{"token":"tok-123","port":8443}}}`))
	}))
}

func TestCredentialResolver_Resolve(t *testing.T) {
	var hits int32
	srv := newVaultServer(t, &hits)
	defer srv.Close()

	resolver := NewCredentialResolver(VaultConfig{
		Enabled:   true,
		Addr:      srv.URL,
		Token:     "root",
		Mount:     "secret",
		KVVersion: 2,
		Timeout:   time.Second,
	})

	ctx := context.Background()

	plain, err := resolver.Resolve(ctx, "literal-value")
	require.NoError(t, err)
	assert.Equal(t, "literal-value", plain)

	token, err := resolver.Resolve(ctx, "vault:partners/acme#token")
	require.NoError(t, err)
	assert.Equal(t, "tok-123", token)

	port, err := resolver.Resolve(ctx, "vault:partners/acme#port")
	require.NoError(t, err)
	assert.Equal(t, "8443", port)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "path is fetched once")

	_, err = resolver.Resolve(ctx, "vault:partners/acme#missing")
	assert.Error(t, err)

	_, err = resolver.Resolve(ctx, "vault:partners/acme")
	assert.Error(t, err)
}

func TestCredentialResolver_DisabledVault(t *testing.T) {
	resolver := NewCredentialResolver(VaultConfig{Enabled: false})

	_, err := resolver.Resolve(context.Background(), "vault:a#b")
	assert.Error(t, err)

	resolved, err := resolver.ResolveAll(context.Background(), map[string]string{"token": "abc"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"token": "abc"}, resolved)
}

func TestBuildVaultURL(t *testing.T) {
	url, err := buildVaultURL("http://vault:8200/", "/secret/", "/app", 2)
	require.NoError(t, err)
	assert.Equal(t, "http://vault:8200/v1/secret/data/app", url)

	url, err = buildVaultURL("http://vault:8200", "kv", "app", 1)
	require.NoError(t, err)
	assert.Equal(t, "http://vault:8200/v1/kv/app", url)

	_, err = buildVaultURL("", "kv", "app", 2)
	assert.Error(t, err)
}
