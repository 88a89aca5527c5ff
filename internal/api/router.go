/**
 * @description
 * This file sets up the HTTP router for the payments-service using chi. It
 * wires the middleware stack and maps the API routes to their handlers.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: The router and its standard middleware.
 */

package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/fanlipa/payments-service/internal/metrics"
)

// NewRouter creates and configures the service's router.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", h.HealthCheck)
	r.Method("GET", "/metrics", metrics.Handler())

	r.Route("/payments", func(r chi.Router) {
		r.Post("/initiate", h.InitiatePayment)
		r.Post("/callback/{secret}", h.GatewayCallback)
		r.Get("/{kind}/{id}/status", h.PaymentStatus)
	})

	return r
}
