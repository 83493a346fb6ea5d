package middleware

import (
	"net/http"
	"strings"
)

const (
	adminCORSMethods = "GET, POST, OPTIONS"
	adminCORSHeaders = "Content-Type, Authorization, X-Api-Key, X-Request-ID"
)

// AdminCORS lets browser dashboards on allowedOrigins call routes under
// pathPrefix. Wildcards are not honoured since those routes carry admin keys.
// Paths outside the prefix never get CORS headers; partner webhooks are
// server to server. An empty list leaves the admin API same-origin only.
func AdminCORS(pathPrefix string, allowedOrigins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" && o != "*" {
			allowed[o] = true
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" || !strings.HasPrefix(r.URL.Path, pathPrefix) {
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Add("Vary", "Origin")
			preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""

			if !allowed[origin] {
				if preflight {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("Access-Control-Allow-Origin", origin)
			if preflight {
				w.Header().Set("Access-Control-Allow-Methods", adminCORSMethods)
				w.Header().Set("Access-Control-Allow-Headers", adminCORSHeaders)
				w.Header().Set("Access-Control-Max-Age", "600")
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
