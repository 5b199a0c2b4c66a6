package core

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// defaultRequestTimeout is the soft deadline applied to request contexts.
// It must exceed one batch's worst case (sequential sends plus backoff) so
// webhook deliveries are never cut off mid-batch.
const defaultRequestTimeout = 55 * time.Second

// MountRoutes registers the global middleware chain, the /v1 route groups,
// and the health endpoint.
//
// Middleware order matters:
//  1. Recoverer      - outermost, catches every panic
//  2. ContextTimeout - soft deadline before the platform hard timeout
//  3. RequestID      - correlation ID for logs and upstream calls
//  4. RequestLogger  - structured logging with redacted credentials
//  5. Auth           - dashboard bearer token (webhook and health exempt)
//
// SubmitRateLimit is applied per-route by the job-submission registrar, not
// globally.
func (s *Server) MountRoutes() {
	s.router.Use(s.Recoverer)
	s.router.Use(ContextTimeoutMiddleware(defaultRequestTimeout))
	s.router.Use(RequestIDMiddleware)
	s.router.Use(RequestLogger(s.Logger, defaultRedactedHeaders))
	s.router.Use(s.AuthMiddleware)

	s.router.Route("/v1", func(r chi.Router) {
		for _, registrar := range s.V1RouteRegistrars {
			registrar(r)
		}
	})

	s.router.Get("/health", s.HandleHealth)
}

// ContextTimeoutMiddleware sets a deadline on the request context so
// handlers observe cancellation before the hosting platform kills the
// process.
func ContextTimeoutMiddleware(duration time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), duration)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
