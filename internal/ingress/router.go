package ingress

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/fb-discord-relay/relay/internal/store"
)

// NewRouter wires the ingress HTTP surface of spec §6: the webhook
// verification handshake and signed event endpoint under
// /<prefix>/webhook, plus the liveness and readiness probes.
func NewRouter(webhookPrefix string, webhook *WebhookHandler, admin *AdminHandler, pgStore *store.PostgresStore) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/"+webhookPrefix+"/webhook", webhook.Handshake)
	r.Post("/"+webhookPrefix+"/webhook", webhook.Event)

	r.Get("/healthz", HealthHandler(pgStore))
	r.Get("/readyz", ReadyHandler(pgStore))

	admin.Mount(r)

	return r
}
