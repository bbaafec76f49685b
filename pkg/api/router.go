// Package api is the HTTP boundary of the REM gate.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/Mindburn-Labs/helm-rem/pkg/audit"
	"github.com/Mindburn-Labs/helm-rem/pkg/auth"
	"github.com/Mindburn-Labs/helm-rem/pkg/gate"
	"github.com/Mindburn-Labs/helm-rem/pkg/observability"
	"github.com/Mindburn-Labs/helm-rem/pkg/registry"
)

// RouterConfig wires the API's collaborators.
type RouterConfig struct {
	Gate *gate.Gate
	// Registry enables the custodian key routes when set.
	Registry registry.Store
	Audit    audit.Logger
	// Validator enables bearer auth. Without it the API is open and the
	// custodian key write routes are not mounted.
	Validator *auth.JWTValidator
	// RateLimiter is optional.
	RateLimiter *GlobalRateLimiter
	// Telemetry is optional.
	Telemetry    *observability.Provider
	HealthChecks map[string]HealthCheck
	Now          func() time.Time
}

// NewRouter builds the REM HTTP handler:
//
//	POST   /api/v1/decide
//	GET    /api/v1/custodians/keys
//	GET    /api/v1/custodians/approvers/{approver_id}
//	POST   /api/v1/custodians/keys                          (auth only)
//	PUT    /api/v1/custodians/keys/{custodian_id}/{key_id}  (auth only)
//	DELETE /api/v1/custodians/keys/{custodian_id}/{key_id}  (auth only)
//	GET    /health
func NewRouter(cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()

	track := func(route string, h http.Handler) http.Handler {
		if cfg.Telemetry == nil {
			return h
		}
		return cfg.Telemetry.HTTPMiddleware(route)(h)
	}

	decide := &DecideHandler{Gate: cfg.Gate, Now: cfg.Now}
	mux.Handle("POST /api/v1/decide", track("/api/v1/decide", http.HandlerFunc(decide.HandleDecide)))

	if cfg.Registry != nil {
		keys := &CustodianKeyHandler{Registry: cfg.Registry, Audit: cfg.Audit}
		admin := auth.RequireRole(auth.RoleCustodianAdmin, cfg.Validator == nil)
		mux.Handle("GET /api/v1/custodians/keys", track("/api/v1/custodians/keys", admin(http.HandlerFunc(keys.HandleListKeys))))
		mux.Handle("GET /api/v1/custodians/approvers/{approver_id}",
			track("/api/v1/custodians/approvers/{approver_id}", admin(http.HandlerFunc(keys.HandleApproverStatus))))

		// An open API must not let callers enroll the keys the gate trusts.
		if cfg.Validator != nil {
			slotRoute := "/api/v1/custodians/keys/{custodian_id}/{key_id}"
			mux.Handle("POST /api/v1/custodians/keys", track("/api/v1/custodians/keys", admin(http.HandlerFunc(keys.HandleAddKey))))
			mux.Handle("PUT "+slotRoute, track(slotRoute, admin(http.HandlerFunc(keys.HandleRotateKey))))
			mux.Handle("DELETE "+slotRoute, track(slotRoute, admin(http.HandlerFunc(keys.HandleRevokeKey))))
		}
	}

	mux.Handle("GET /health", &HealthHandler{Checks: cfg.HealthChecks})

	var h http.Handler = mux
	if cfg.Validator != nil {
		h = auth.NewMiddleware(cfg.Validator)(h)
	}
	if cfg.RateLimiter != nil {
		h = cfg.RateLimiter.Middleware(h)
	}
	return auth.RequestIDMiddleware(h)
}

// NewHealthServer serves only /health, for the separate probe port.
func NewHealthServer(addr string, checks map[string]HealthCheck) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /health", &HealthHandler{Checks: checks})
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Serve runs srv until ctx is cancelled, then shuts it down gracefully.
func Serve(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
