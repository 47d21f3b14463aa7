package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	custommiddleware "github.com/mmeshcher/videobot-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(custommiddleware.TelegramAuth(h.webhookSecret))
			r.Post("/telegram/webhook", h.TelegramWebhook)
		})

		r.Post("/payments/webhook", h.PaymentWebhook)
		r.Post("/provider/callback", h.ProviderCallback)

		r.Route("/admin", func(r chi.Router) {
			r.Use(custommiddleware.AdminAuth(h.adminToken))

			r.Get("/dashboard", h.AdminDashboard)
			r.Post("/adjust", h.AdminAdjust)
		})
	})

	r.Handle("/metrics", promhttp.Handler())

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
