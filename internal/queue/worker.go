package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/riverqueue/river"

	"github.com/fb-discord-relay/relay/internal/breaker"
	"github.com/fb-discord-relay/relay/internal/domain"
	"github.com/fb-discord-relay/relay/internal/feed"
	"github.com/fb-discord-relay/relay/internal/ratelimit"
	"github.com/fb-discord-relay/relay/internal/sink"
	st "github.com/fb-discord-relay/relay/internal/store"
	"github.com/fb-discord-relay/relay/internal/upstream"
)

// Worker drives a claimed job through the full post lifecycle of spec
// §4.6: load, kill switch, fetch, persist, age-gate, tag-filter,
// dispatch, record. It returns an error only for the retryable cases,
// since returning an error is the signal river uses to reschedule with
// backoff; every other outcome is handled locally with a state
// transition and a nil return.
type Worker struct {
	river.WorkerDefaults[ProcessPostArgs]

	postStore   Store
	upstream    Fetcher
	sink        Dispatcher
	router      *sink.Router
	rateLimiter *ratelimit.RateLimiter
	breaker     *breaker.CircuitBreaker
	feed        *feed.Hub
	logger      *slog.Logger

	alertsEnabled     bool
	triggerTag        string
	maxPostAgeMinutes int
	disclaimer        string
	mentionRoleID     string
	rateLimitPerSec   int
}

type WorkerConfig struct {
	AlertsEnabled     bool
	TriggerTag        string
	MaxPostAgeMinutes int
	Disclaimer        string
	MentionRoleID     string
	RateLimitPerSec   int
}

func NewWorker(
	st Store,
	up Fetcher,
	sk Dispatcher,
	router *sink.Router,
	rl *ratelimit.RateLimiter,
	cb *breaker.CircuitBreaker,
	fd *feed.Hub,
	logger *slog.Logger,
	cfg WorkerConfig,
) *Worker {
	return &Worker{
		postStore:         st,
		upstream:          up,
		sink:              sk,
		router:            router,
		rateLimiter:       rl,
		breaker:           cb,
		feed:              fd,
		logger:            logger,
		alertsEnabled:     cfg.AlertsEnabled,
		triggerTag:        cfg.TriggerTag,
		maxPostAgeMinutes: cfg.MaxPostAgeMinutes,
		disclaimer:        cfg.Disclaimer,
		mentionRoleID:     cfg.MentionRoleID,
		rateLimitPerSec:   cfg.RateLimitPerSec,
	}
}

func (w *Worker) Work(ctx context.Context, job *river.Job[ProcessPostArgs]) error {
	args := job.Args
	log := w.logger.With("fb_post_id", args.FBPostID, "correlation_id", args.CorrelationID)

	// 1. Load.
	post, err := w.postStore.GetPost(ctx, args.FBPostID)
	if err != nil {
		return fmt.Errorf("loading post: %w", err)
	}
	if post == nil {
		log.Warn("post row absent, treating job as already deleted")
		return nil
	}
	if post.Status == domain.StatusDelivered || post.Status == domain.StatusIgnored {
		log.Debug("post already in terminal state, skipping")
		return nil
	}

	// 2. Kill switch.
	if !w.alertsEnabled {
		log.Info("alerts disabled, skipping without transition")
		return nil
	}

	// 3. Transition to fetching.
	if _, err := w.postStore.ApplyTransition(ctx, args.FBPostID, domain.StatusFetching, st.TransitionFields{}, nil); err != nil {
		return fmt.Errorf("transitioning to fetching: %w", err)
	}

	// 4. Fetch.
	fetched, ferr := w.upstream.FetchPost(ctx, args.FBPostID)
	if ferr != nil {
		if args.WebhookData != nil && args.WebhookData.Message != "" {
			fetched = synthesizeFromWebhookData(args.FBPostID, args.WebhookData)
			log.Warn("upstream fetch failed, falling back to webhook payload", "error", ferr.Message)
		} else if ferr.Retryable {
			if ok, merr := w.postStore.MarkForRetry(ctx, args.FBPostID, ferr.Message); merr != nil {
				return fmt.Errorf("marking for retry: %w", merr)
			} else if ok {
				w.notify(args.FBPostID, domain.EventMarkedForRetry, domain.StatusReceived, map[string]any{"error": ferr.Message})
			}
			return fmt.Errorf("retryable fetch error: %s", ferr.Message)
		} else {
			if _, terr := w.postStore.ApplyTransition(ctx, args.FBPostID, domain.StatusFailed, st.TransitionFields{LastError: &ferr.Message}, map[string]any{"error": ferr.Message}); terr != nil {
				return fmt.Errorf("transitioning to failed: %w", terr)
			}
			w.notify(args.FBPostID, domain.StatusEventName(domain.StatusFailed), domain.StatusFailed, map[string]any{"error": ferr.Message})
			return nil
		}
	}

	// 5. Persist fetched fields (data-only, no transition).
	if err := w.postStore.UpdateFetchedFields(ctx, args.FBPostID, fetched.AuthorID, fetched.AuthorName, fetched.Message, fetched.Permalink, fetched.CreatedAt); err != nil {
		return fmt.Errorf("persisting fetched fields: %w", err)
	}

	// 6. Age gate (post-fetch).
	if w.maxPostAgeMinutes > 0 {
		if fetched.CreatedAt == nil || time.Since(*fetched.CreatedAt) > time.Duration(w.maxPostAgeMinutes)*time.Minute {
			reason := "Post age unknown"
			if fetched.CreatedAt != nil {
				reason = "Post too old"
			}
			return w.ignore(ctx, args.FBPostID, reason)
		}
	}

	// 7. Tag filter.
	message := ""
	if fetched.Message != nil {
		message = *fetched.Message
	}
	if !sink.ContainsTriggerTag(message, w.triggerTag) {
		return w.ignore(ctx, args.FBPostID, "No trigger tag")
	}

	// 8. Transition to eligible, then sending.
	if _, err := w.postStore.ApplyTransition(ctx, args.FBPostID, domain.StatusEligible, st.TransitionFields{}, nil); err != nil {
		return fmt.Errorf("transitioning to eligible: %w", err)
	}
	if _, err := w.postStore.ApplyTransition(ctx, args.FBPostID, domain.StatusSending, st.TransitionFields{}, nil); err != nil {
		return fmt.Errorf("transitioning to sending: %w", err)
	}

	// 9. Dispatch.
	sinkURL := w.router.Resolve(message)

	if state, allowed := w.breaker.AllowRequest(ctx, sinkURL); !allowed {
		log.Warn("circuit breaker open, deferring dispatch", "state", state)
		if ok, merr := w.postStore.MarkForRetry(ctx, args.FBPostID, "sink circuit breaker open"); merr != nil {
			return fmt.Errorf("marking for retry: %w", merr)
		} else if ok {
			w.notify(args.FBPostID, domain.EventMarkedForRetry, domain.StatusReceived, map[string]any{"error": "circuit breaker open"})
		}
		return fmt.Errorf("sink circuit breaker open for %s", sinkURL)
	}

	if !w.rateLimiter.Allow(ctx, sinkURL, w.rateLimitPerSec) {
		if ok, merr := w.postStore.MarkForRetry(ctx, args.FBPostID, "sink rate limit exceeded"); merr != nil {
			return fmt.Errorf("marking for retry: %w", merr)
		} else if ok {
			w.notify(args.FBPostID, domain.EventMarkedForRetry, domain.StatusReceived, map[string]any{"error": "rate limited"})
		}
		return fmt.Errorf("rate limit exceeded for sink %s", sinkURL)
	}

	payload := sink.BuildPayload(fetched, w.triggerTag, w.disclaimer, w.mentionRoleID)

	dispatchStart := time.Now()
	result := w.sink.Send(ctx, sinkURL, payload)
	latencyMs := int(time.Since(dispatchStart).Milliseconds())

	// 10. Record delivery log (always).
	success := result.Outcome == sink.OutcomeSuccess
	var discordMsgID, errMessage *string
	if result.MessageID != "" {
		id := result.MessageID
		discordMsgID = &id
	}
	if result.Reason != "" {
		reason := result.Reason
		errMessage = &reason
	}
	if err := w.postStore.RecordDeliveryLog(ctx, args.FBPostID, success, discordMsgID, errMessage, latencyMs); err != nil {
		log.Error("failed to record delivery log", "error", err)
	}

	// 11. Outcome.
	switch result.Outcome {
	case sink.OutcomeSuccess:
		w.breaker.RecordSuccess(ctx, sinkURL)
		now := time.Now()
		if _, err := w.postStore.ApplyTransition(ctx, args.FBPostID, domain.StatusDelivered, st.TransitionFields{DiscordMsgID: discordMsgID, DeliveredAt: &now}, map[string]any{"discord_msg_id": result.MessageID}); err != nil {
			return fmt.Errorf("transitioning to delivered: %w", err)
		}
		w.notify(args.FBPostID, domain.StatusEventName(domain.StatusDelivered), domain.StatusDelivered, map[string]any{"discord_msg_id": result.MessageID})
		return nil

	case sink.OutcomeAmbiguous:
		if _, err := w.postStore.ApplyTransition(ctx, args.FBPostID, domain.StatusNeedsReview, st.TransitionFields{LastError: &result.Reason}, map[string]any{"reason": result.Reason}); err != nil {
			return fmt.Errorf("transitioning to needs_review: %w", err)
		}
		w.notify(args.FBPostID, domain.StatusEventName(domain.StatusNeedsReview), domain.StatusNeedsReview, map[string]any{"reason": result.Reason})
		return nil

	case sink.OutcomeRetryable:
		w.breaker.RecordFailure(ctx, sinkURL)
		if ok, merr := w.postStore.MarkForRetry(ctx, args.FBPostID, result.Reason); merr != nil {
			return fmt.Errorf("marking for retry: %w", merr)
		} else if ok {
			w.notify(args.FBPostID, domain.EventMarkedForRetry, domain.StatusReceived, map[string]any{"error": result.Reason, "retry_after_ms": result.RetryAfterMs})
		}
		if result.RetryAfterMs > 0 {
			log.Warn("sink asked for backoff via retry-after", "retry_after_ms", result.RetryAfterMs)
		}
		return fmt.Errorf("retryable sink error: %s", result.Reason)

	default: // sink.OutcomeNonRetryable
		w.breaker.RecordFailure(ctx, sinkURL)
		if _, err := w.postStore.ApplyTransition(ctx, args.FBPostID, domain.StatusFailed, st.TransitionFields{LastError: &result.Reason}, map[string]any{"error": result.Reason}); err != nil {
			return fmt.Errorf("transitioning to failed: %w", err)
		}
		w.notify(args.FBPostID, domain.StatusEventName(domain.StatusFailed), domain.StatusFailed, map[string]any{"error": result.Reason})
		return nil
	}
}

func (w *Worker) ignore(ctx context.Context, fbPostID, reason string) error {
	if _, err := w.postStore.ApplyTransition(ctx, fbPostID, domain.StatusIgnored, st.TransitionFields{}, map[string]any{"reason": reason}); err != nil {
		return fmt.Errorf("transitioning to ignored: %w", err)
	}
	w.notify(fbPostID, domain.StatusEventName(domain.StatusIgnored), domain.StatusIgnored, map[string]any{"reason": reason})
	return nil
}

func (w *Worker) notify(fbPostID, eventName string, status domain.Status, details map[string]any) {
	if w.feed == nil {
		return
	}
	w.feed.BroadcastTransition(fbPostID, eventName, status, details)
}

func synthesizeFromWebhookData(fbPostID string, data *WebhookData) *upstream.FetchedPost {
	post := &upstream.FetchedPost{ID: fbPostID}
	if data.Message != "" {
		post.Message = &data.Message
	}
	if data.FromID != "" {
		post.AuthorID = &data.FromID
	}
	if data.FromName != "" {
		post.AuthorName = &data.FromName
	}
	if data.CreatedTime > 0 {
		t := time.Unix(data.CreatedTime, 0).UTC()
		post.CreatedAt = &t
	}
	return post
}
