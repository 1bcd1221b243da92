package ingress

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/fb-discord-relay/relay/internal/store"
)

// AdminHandler exposes read-only listing endpoints over the post store,
// grounded in the teacher's dashboard/events API — the operator-visible
// counterpart to spec §7's "failed and needs-review posts surface as
// rows queryable by operators" requirement, so that querying doesn't
// strictly require raw SQL access.
type AdminHandler struct {
	store *store.PostgresStore
}

func NewAdminHandler(s *store.PostgresStore) *AdminHandler {
	return &AdminHandler{store: s}
}

func (h *AdminHandler) ListPosts(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	posts, err := h.store.ListPosts(r.Context(), status, limit)
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list posts"})
		return
	}
	respondJSON(w, http.StatusOK, posts)
}

func (h *AdminHandler) GetPost(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	post, err := h.store.GetPost(r.Context(), id)
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get post"})
		return
	}
	if post == nil {
		respondJSON(w, http.StatusNotFound, map[string]string{"error": "post not found"})
		return
	}
	respondJSON(w, http.StatusOK, post)
}

func (h *AdminHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	events, err := h.store.ListEvents(r.Context(), id)
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list events"})
		return
	}
	respondJSON(w, http.StatusOK, events)
}

func (h *AdminHandler) ListDeliveryLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	logs, err := h.store.ListDeliveryLogs(r.Context(), id)
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list delivery logs"})
		return
	}
	respondJSON(w, http.StatusOK, logs)
}

// ListRecentDeliveries is the cross-post activity feed: the most recent
// dispatch attempts regardless of which post produced them, for an
// operator dashboard's recent-activity view.
func (h *AdminHandler) ListRecentDeliveries(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	logs, err := h.store.ListRecentDeliveryLogs(r.Context(), limit)
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list recent deliveries"})
		return
	}
	respondJSON(w, http.StatusOK, logs)
}

// Mount attaches the admin routes under /api/v1 on r.
func (h *AdminHandler) Mount(r chi.Router) {
	r.Route("/api/v1/posts", func(r chi.Router) {
		r.Get("/", h.ListPosts)
		r.Get("/{id}", h.GetPost)
		r.Get("/{id}/events", h.ListEvents)
		r.Get("/{id}/deliveries", h.ListDeliveryLogs)
	})
	r.Get("/api/v1/deliveries", h.ListRecentDeliveries)
}
