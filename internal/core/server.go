// Package core provides the API chassis for the airtime service. It creates
// the chi router and enforces cross-cutting concerns -- panic recovery,
// request correlation, logging, auth, and traffic limits -- before requests
// reach domain handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"airtime/internal/config"
	"airtime/internal/external"
	"airtime/internal/lockstore"
)

// MetricsCollector records API request telemetry. Subset of the telemetry
// package's collector so core does not depend on a concrete backend.
type MetricsCollector interface {
	RecordRequest(method, endpoint, status string, duration time.Duration)
}

// Server holds all HTTP-layer dependencies, injected at construction so tests
// can swap any of them.
type Server struct {
	Config    *config.Config
	Logger    *slog.Logger
	Validator *Validator

	// Identity resolves bearer tokens via the external auth provider. Nil
	// disables the auth middleware (tests).
	Identity external.IdentityVerifier

	// Locks backs the per-user traffic limiter. Nil disables rate limiting.
	Locks lockstore.LockStore

	Metrics MetricsCollector

	HealthProbes []HealthProbe

	// V1RouteRegistrars mount domain handler routes under /v1, behind the
	// auth and rate-limit middleware. Populated by the entry point to avoid
	// an import cycle between core and handlers.
	V1RouteRegistrars []func(chi.Router)

	// PublicRouteRegistrars mount routes under /v1 that bypass bearer-token
	// auth, such as the Stripe webhook which verifies its own signature.
	PublicRouteRegistrars []func(chi.Router)

	router *chi.Mux
}

// NewServer initializes the chassis. The caller mounts routes afterwards via
// MountRoutes; the separation lets tests customize route registration.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the router as an http.Handler for http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration in tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown performs graceful termination of server-owned resources.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown complete")
	return nil
}
