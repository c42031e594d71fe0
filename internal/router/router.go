package router

import (
	"dropmint/internal/handler"
	"dropmint/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

// Config holds the configuration for creating a router.
type Config struct {
	HealthHandler *handler.HealthHandler
	MintHandler   *handler.MintHandler
	IntentHandler *handler.IntentHandler
	StatusHandler *handler.StatusHandler
}

// New creates and configures the HTTP router.
func New(cfg Config) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recovery)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	if cfg.HealthHandler != nil {
		r.Get("/health", cfg.HealthHandler.Health)
	}
	if cfg.MintHandler != nil {
		r.Get("/mint-progress", cfg.MintHandler.Progress)
	}
	if cfg.IntentHandler != nil {
		r.Post("/create-payment-intent", cfg.IntentHandler.CreatePaymentIntent)
	}
	if cfg.StatusHandler != nil {
		r.Get("/check-payment-status/{sessionId}", cfg.StatusHandler.CheckPaymentStatus)
	}

	return r
}
