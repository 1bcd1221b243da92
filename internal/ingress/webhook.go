// Package ingress implements the HTTP surface spec §4.1/§4.2 describe:
// the verification handshake, the signed event endpoint, and the
// liveness/readiness probes. It authenticates each delivery and
// durably enqueues at most one job per new post id; it never calls the
// upstream fetch API or the downstream sink itself.
package ingress

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/fb-discord-relay/relay/internal/queue"
	"github.com/fb-discord-relay/relay/internal/signature"
	"github.com/fb-discord-relay/relay/internal/store"
)

const maxBodyBytes = 1 << 20 // 1 MiB; a single webhook delivery never approaches this.

// WebhookHandler serves both verbs of spec §4.1/§4.2's webhook route.
type WebhookHandler struct {
	store             *store.PostgresStore
	queueClient       queue.Inserter
	verifyToken       string
	appSecret         string
	maxPostAgeMinutes int
	logger            *slog.Logger
}

func NewWebhookHandler(s *store.PostgresStore, qc queue.Inserter, verifyToken, appSecret string, maxPostAgeMinutes int, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		store:             s,
		queueClient:       qc,
		verifyToken:       verifyToken,
		appSecret:         appSecret,
		maxPostAgeMinutes: maxPostAgeMinutes,
		logger:            logger,
	}
}

// Handshake answers the GET verification challenge spec §4.1 describes.
// No state is written either way.
func (h *WebhookHandler) Handshake(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	if mode == "" {
		mode = q.Get("mode")
	}
	token := q.Get("hub.verify_token")
	if token == "" {
		token = q.Get("verify_token")
	}
	challenge := q.Get("hub.challenge")
	if challenge == "" {
		challenge = q.Get("challenge")
	}

	if mode != "subscribe" || token != h.verifyToken {
		http.Error(w, "verification failed", http.StatusForbidden)
		return
	}
	if challenge == "" {
		http.Error(w, "missing challenge", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(challenge))
}

type webhookPayload struct {
	Object string        `json:"object"`
	Entry  []webhookEntry `json:"entry"`
}

type webhookEntry struct {
	ID      string          `json:"id"`
	Time    int64           `json:"time"`
	Changes []webhookChange `json:"changes"`
}

type webhookChange struct {
	Field string      `json:"field"`
	Value changeValue `json:"value"`
}

type changeValue struct {
	Item        string          `json:"item"`
	Verb        string          `json:"verb"`
	PostID      string          `json:"post_id"`
	Message     string          `json:"message"`
	CreatedTime json.Number     `json:"created_time"`
	From        changeValueFrom `json:"from"`
}

type changeValueFrom struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Event is the entry point for POST /<prefix>/webhook, the signed
// event endpoint of spec §4.2.
func (h *WebhookHandler) Event(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "error reading body", http.StatusBadRequest)
		return
	}

	if !signature.VerifyWebhook(r.Header.Get("X-Hub-Signature-256"), raw, h.appSecret) {
		h.logger.Warn("rejecting webhook with invalid signature")
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	correlationID := uuid.NewString()
	log := h.logger.With("correlation_id", correlationID)

	var payload webhookPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		log.Warn("failed to decode webhook body", "error", err)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
		return
	}

	if payload.Object != "page" {
		log.Info("ignoring non-page object", "object", payload.Object)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
		return
	}

	ctx := r.Context()
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if change.Field != "feed" || change.Value.Verb != "add" || change.Value.PostID == "" {
				continue
			}
			h.processChange(ctx, log, correlationID, change.Value)
		}
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// processChange upserts the post row and, iff it was newly created,
// enqueues exactly one processing job in the same transaction, so a
// duplicate upstream delivery can never produce a second live job
// (spec §4.5, §8 invariant 2). Failures here are logged, never turned
// into a non-200 response: the upstream is a retry-hungry peer and a
// per-entry failure must not poison the rest of the request or the
// next delivery attempt.
func (h *WebhookHandler) processChange(ctx context.Context, log *slog.Logger, correlationID string, v changeValue) {
	log = log.With("fb_post_id", v.PostID)

	if h.maxPostAgeMinutes > 0 {
		if secs, err := v.CreatedTime.Int64(); err == nil && secs > 0 {
			age := time.Since(time.Unix(secs, 0))
			if age > time.Duration(h.maxPostAgeMinutes)*time.Minute {
				log.Info("skipping change at ingress age gate", "age", age.String())
				return
			}
		}
	}

	tx, err := h.store.Pool().Begin(ctx)
	if err != nil {
		log.Error("failed to begin transaction", "error", err)
		return
	}
	defer tx.Rollback(ctx)

	_, created, err := h.store.GetOrCreateTx(ctx, tx, v.PostID, correlationID)
	if err != nil {
		log.Error("failed to upsert post", "error", err)
		return
	}

	if created {
		var createdTime int64
		if secs, err := v.CreatedTime.Int64(); err == nil {
			createdTime = secs
		}
		args := queue.ProcessPostArgs{
			FBPostID:      v.PostID,
			CorrelationID: correlationID,
			WebhookData: &queue.WebhookData{
				Message:     v.Message,
				FromID:      v.From.ID,
				FromName:    v.From.Name,
				CreatedTime: createdTime,
			},
		}
		if err := queue.Enqueue(ctx, h.queueClient, tx, args); err != nil {
			log.Error("failed to enqueue process-post job", "error", err)
			return
		}
	}

	if err := tx.Commit(ctx); err != nil {
		log.Error("failed to commit transaction", "error", err)
		return
	}

	log.Info("processed webhook change", "created", created)
}
