package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/redgarden/venue-workers/internal/metrics"
)

type RouterConfig struct {
	JWTSecret string
	// Limiter guards the public enqueue route; nil disables rate limiting.
	Limiter   Limiter
	RateLimit int
	Logger    *zap.Logger
}

// NewRouter wires the gateway routes.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration_ms", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/push/vapid", h.VAPIDPublicKey)
		r.With(RateLimitMiddleware(cfg.Limiter, cfg.RateLimit, logger, IPKeyFunc)).
			Post("/notifications", h.CreateNotification)

		r.Group(func(r chi.Router) {
			r.Use(AdminAuth(cfg.JWTSecret, logger))

			r.Post("/invoices", h.RequestInvoice)
			r.Post("/notifications/{id}/resend", h.ResendNotification)
			r.Post("/notifications/{id}/mark-sent", h.MarkNotificationSent)
			r.Delete("/notifications/{id}", h.DeleteNotification)
			r.Post("/push/subscriptions", h.CreatePushSubscription)
			r.Post("/dispatch", h.Dispatch)
		})
	})

	return r
}
