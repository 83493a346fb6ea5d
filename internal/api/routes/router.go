package routes

import (
	"net/http"

	"github.com/zatekoja/telemedsync/internal/api/handlers"
	"github.com/zatekoja/telemedsync/internal/api/middleware"
	"github.com/zatekoja/telemedsync/internal/infrastructure/observability"
)

// Router holds all route handlers and the gateways in front of them
type Router struct {
	mux *http.ServeMux

	webhookHandler *handlers.TelemedWebhookHandler
	adminHandler   *handlers.SyncAdminHandler

	webhookSecurity *middleware.WebhookSecurity
	partnerKeys     *middleware.APIKeyAuth
	adminKeys       *middleware.APIKeyAuth
	adminOrigins    []string

	metrics *observability.Metrics
}

// NewRouter creates a new router
func NewRouter(
	webhookHandler *handlers.TelemedWebhookHandler,
	adminHandler *handlers.SyncAdminHandler,
	webhookSecurity *middleware.WebhookSecurity,
	partnerKeys *middleware.APIKeyAuth,
	adminKeys *middleware.APIKeyAuth,
	adminOrigins []string,
	metrics *observability.Metrics,
) *Router {
	return &Router{
		mux:             http.NewServeMux(),
		webhookHandler:  webhookHandler,
		adminHandler:    adminHandler,
		webhookSecurity: webhookSecurity,
		partnerKeys:     partnerKeys,
		adminKeys:       adminKeys,
		adminOrigins:    adminOrigins,
		metrics:         metrics,
	}
}

// SetupRoutes configures all application routes
func (r *Router) SetupRoutes() http.Handler {
	r.mux.HandleFunc("GET /health", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// Partner webhooks: signed pushes and key-authenticated sync requests
	r.mux.Handle("POST /webhooks/telemed/{providerId}",
		middleware.NoStore(r.webhookSecurity.Middleware(http.HandlerFunc(r.webhookHandler.HandleEvent))))
	r.mux.Handle("POST /webhooks/partner/{providerId}/sync",
		middleware.NoStore(r.partnerKeys.Middleware(http.HandlerFunc(r.webhookHandler.RequestSync))))

	// Sync operations
	admin := func(h http.HandlerFunc) http.Handler {
		return r.adminKeys.Middleware(middleware.ResponseOptimization(h))
	}
	r.mux.Handle("GET /api/sync/status", admin(r.adminHandler.GetStatus))
	r.mux.Handle("GET /api/sync/jobs", admin(r.adminHandler.ListJobs))
	r.mux.Handle("GET /api/sync/jobs/{id}", admin(r.adminHandler.GetJob))
	r.mux.Handle("POST /api/sync/trigger", admin(r.adminHandler.Trigger))
	r.mux.Handle("POST /api/sync/backfill", admin(r.adminHandler.Backfill))

	// Apply middleware in reverse order (last middleware wraps first)
	var handler http.Handler = r.mux
	handler = middleware.LoggingMiddleware(handler)
	handler = middleware.ObservabilityMiddleware(r.metrics)(handler)
	handler = middleware.AdminCORS("/api/", r.adminOrigins)(handler)

	return handler
}
