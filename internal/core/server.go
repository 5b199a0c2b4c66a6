// Package core provides the API chassis for the mailfan service: a chi
// router with the cross-cutting middleware chain (recovery, request IDs,
// structured logging, bearer auth, submission rate limiting) applied before
// requests reach the domain handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"mailfan/internal/config"
	"mailfan/internal/store"
)

// SubmitLimiter is the slice of the rate-limit store the chassis needs for
// the job-submission window.
type SubmitLimiter interface {
	Allow(ctx context.Context, key string) store.RateLimitDecision
}

// RouteRegistrar mounts a group of domain handler routes onto the /v1
// router. The indirection keeps core free of handler imports.
type RouteRegistrar func(r chi.Router)

// Server bundles the dependencies of the HTTP layer so tests can inject
// fakes and environments can differ in configuration only.
type Server struct {
	Config    *config.Config
	Logger    *slog.Logger
	Validator *Validator

	// Limiter guards the job-submission route. Nil disables rate limiting
	// (tests).
	Limiter SubmitLimiter

	// HealthProbes are checked by GET /health.
	HealthProbes []HealthProbe

	// V1RouteRegistrars is populated by the entry point before MountRoutes.
	V1RouteRegistrars []RouteRegistrar

	router *chi.Mux
}

// NewServer validates the critical dependencies and prepares the router.
// The caller mounts routes afterwards via MountRoutes.
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

// Handler returns the router as an http.Handler for http.ListenAndServe.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration and tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}
