package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/capitalize-ai/character-chat/internal/middleware"
	"github.com/capitalize-ai/character-chat/pkg/logger"
)

// RouterConfig collects the handlers and middleware settings of the API.
type RouterConfig struct {
	Chats    *ChatHandler
	Messages *MessageHandler
	Stream   *StreamHandler
	Health   *HealthHandler

	Logger         *logger.Logger
	AllowedOrigins []string

	// RateLimitRequests applies per client IP to the whole API;
	// SendRateLimitRequests applies per client IP and chat to sends.
	// Zero disables a limit.
	RateLimitRequests     int
	SendRateLimitRequests int
	RateLimitWindow       time.Duration
}

// NewRouter builds the HTTP routes.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(logger.OrGlobal(cfg.Logger)))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	r.Get("/health", cfg.Health.Health)
	r.Get("/ready", cfg.Health.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.RateLimitRequests > 0 {
			r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
		}

		r.Route("/chats", func(r chi.Router) {
			r.Get("/", cfg.Chats.List)
			r.Post("/", cfg.Chats.Create)
			r.Get("/events", cfg.Stream.Events)

			r.Route("/{name}", func(r chi.Router) {
				r.Delete("/", cfg.Chats.Remove)
				r.Post("/select", cfg.Chats.Select)
				r.Post("/hide", cfg.Chats.Hide)

				r.Get("/messages", cfg.Messages.List)
				r.With(sendLimit(cfg)).Post("/messages", cfg.Messages.Send)
			})
		})
	})

	return r
}

func sendLimit(cfg RouterConfig) func(http.Handler) http.Handler {
	if cfg.SendRateLimitRequests <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return middleware.RateLimit(cfg.SendRateLimitRequests, cfg.RateLimitWindow,
		httprate.KeyByIP, middleware.KeyByChat)
}
