package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/R2D1-BOT/retell-telegram-proxy/internal/handler/webhook"
	middlewarePkg "github.com/R2D1-BOT/retell-telegram-proxy/internal/middleware"
	"github.com/R2D1-BOT/retell-telegram-proxy/pkg/utils"
)

// NewRouter wires HTTP routes to the relay services.
func NewRouter(webhookHandler *webhook.Handler, webhookSecret string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Telegram-facing surface, guarded by the registered webhook secret.
	r.Group(func(g chi.Router) {
		g.Use(middlewarePkg.WebhookSecret(webhookSecret))
		webhookHandler.RegisterRoutes(g)
	})

	return r
}
