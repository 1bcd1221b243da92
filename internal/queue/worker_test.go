package queue

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/riverqueue/river"

	"github.com/alicebob/miniredis/v2"

	"github.com/fb-discord-relay/relay/internal/breaker"
	"github.com/fb-discord-relay/relay/internal/domain"
	"github.com/fb-discord-relay/relay/internal/ratelimit"
	"github.com/fb-discord-relay/relay/internal/sink"
	st "github.com/fb-discord-relay/relay/internal/store"
	"github.com/fb-discord-relay/relay/internal/upstream"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeStore is an in-memory stand-in for internal/store.PostgresStore,
// exercising the same narrow surface the Worker depends on.
type fakeStore struct {
	posts           map[string]*domain.Post
	transitions     []domain.Status
	retryCalls      int
	deliveryLogs    int
	fetchedUpdated  bool
	applyTransErr   error
	markRetryErr    error
}

func newFakeStore(initial *domain.Post) *fakeStore {
	return &fakeStore{posts: map[string]*domain.Post{initial.FBPostID: initial}}
}

func (f *fakeStore) GetPost(ctx context.Context, fbPostID string) (*domain.Post, error) {
	p, ok := f.posts[fbPostID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (f *fakeStore) ApplyTransition(ctx context.Context, fbPostID string, target domain.Status, fields st.TransitionFields, details map[string]any) (bool, error) {
	if f.applyTransErr != nil {
		return false, f.applyTransErr
	}
	p := f.posts[fbPostID]
	p.Status = target
	if fields.LastError != nil {
		p.LastError = fields.LastError
	}
	if fields.DiscordMsgID != nil {
		p.DiscordMsgID = fields.DiscordMsgID
	}
	if fields.DeliveredAt != nil {
		p.DeliveredAt = fields.DeliveredAt
	}
	f.transitions = append(f.transitions, target)
	return true, nil
}

func (f *fakeStore) MarkForRetry(ctx context.Context, fbPostID, errMsg string) (bool, error) {
	if f.markRetryErr != nil {
		return false, f.markRetryErr
	}
	f.retryCalls++
	p := f.posts[fbPostID]
	if p.Status == domain.StatusDelivered {
		return false, nil
	}
	p.Status = domain.StatusReceived
	p.RetryCount++
	return true, nil
}

func (f *fakeStore) UpdateFetchedFields(ctx context.Context, fbPostID string, authorID, authorName, message, permalink *string, postCreatedAt *time.Time) error {
	f.fetchedUpdated = true
	p := f.posts[fbPostID]
	p.AuthorID = authorID
	p.AuthorName = authorName
	p.Message = message
	p.Permalink = permalink
	p.PostCreatedAt = postCreatedAt
	return nil
}

func (f *fakeStore) RecordDeliveryLog(ctx context.Context, fbPostID string, success bool, discordMsgID, errMessage *string, latencyMs int) error {
	f.deliveryLogs++
	return nil
}

// fakeFetcher returns a canned FetchedPost or FetchError per call.
type fakeFetcher struct {
	post *upstream.FetchedPost
	err  *upstream.FetchError
}

func (f *fakeFetcher) FetchPost(ctx context.Context, postID string) (*upstream.FetchedPost, *upstream.FetchError) {
	return f.post, f.err
}

// fakeDispatcher returns a canned Result per call.
type fakeDispatcher struct {
	result sink.Result
}

func (f *fakeDispatcher) Send(ctx context.Context, sinkURL string, payload sink.Payload) sink.Result {
	return f.result
}

func testBreakerAndLimiter(t *testing.T) (*breaker.CircuitBreaker, *ratelimit.RateLimiter) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	logger := testLogger()
	return breaker.New(client, logger, 5, 30*time.Second), ratelimit.New(client, logger)
}

func strp(s string) *string { return &s }

func newTestWorker(t *testing.T, fs *fakeStore, fetcher Fetcher, dispatcher Dispatcher) *Worker {
	t.Helper()
	cb, rl := testBreakerAndLimiter(t)
	router := sink.NewRouter("https://sink.example/default", nil, nil)
	return NewWorker(fs, fetcher, dispatcher, router, rl, cb, nil, testLogger(), WorkerConfig{
		AlertsEnabled:     true,
		TriggerTag:        "#discord",
		MaxPostAgeMinutes: 0,
		Disclaimer:        "Posted automatically.",
		MentionRoleID:     "",
		RateLimitPerSec:   100,
	})
}

func testJob(fbPostID string) *river.Job[ProcessPostArgs] {
	return &river.Job[ProcessPostArgs]{
		Args: ProcessPostArgs{FBPostID: fbPostID, CorrelationID: "corr-1"},
	}
}

func TestWork_DeliversWhenTagPresentAndSinkAccepts(t *testing.T) {
	message := "Big news #discord"
	fs := newFakeStore(&domain.Post{FBPostID: "post-1", Status: domain.StatusReceived})
	fetcher := &fakeFetcher{post: &upstream.FetchedPost{ID: "post-1", Message: &message, AuthorName: strp("Page")}}
	dispatcher := &fakeDispatcher{result: sink.Result{Outcome: sink.OutcomeSuccess, MessageID: "msg-1"}}

	w := newTestWorker(t, fs, fetcher, dispatcher)
	if err := w.Work(context.Background(), testJob("post-1")); err != nil {
		t.Fatalf("Work() returned error: %v", err)
	}

	if fs.posts["post-1"].Status != domain.StatusDelivered {
		t.Fatalf("expected status delivered, got %s", fs.posts["post-1"].Status)
	}
	if fs.posts["post-1"].DiscordMsgID == nil || *fs.posts["post-1"].DiscordMsgID != "msg-1" {
		t.Fatalf("expected discord_msg_id recorded")
	}
	if fs.deliveryLogs != 1 {
		t.Fatalf("expected one delivery log, got %d", fs.deliveryLogs)
	}
}

func TestWork_IgnoresWhenTriggerTagAbsent(t *testing.T) {
	message := "No tag here"
	fs := newFakeStore(&domain.Post{FBPostID: "post-2", Status: domain.StatusReceived})
	fetcher := &fakeFetcher{post: &upstream.FetchedPost{ID: "post-2", Message: &message}}
	dispatcher := &fakeDispatcher{}

	w := newTestWorker(t, fs, fetcher, dispatcher)
	if err := w.Work(context.Background(), testJob("post-2")); err != nil {
		t.Fatalf("Work() returned error: %v", err)
	}

	if fs.posts["post-2"].Status != domain.StatusIgnored {
		t.Fatalf("expected status ignored, got %s", fs.posts["post-2"].Status)
	}
	if fs.deliveryLogs != 0 {
		t.Fatalf("expected no dispatch for untagged post")
	}
}

func TestWork_RetryableFetchErrorMarksForRetryAndReturnsError(t *testing.T) {
	fs := newFakeStore(&domain.Post{FBPostID: "post-3", Status: domain.StatusReceived})
	fetcher := &fakeFetcher{err: &upstream.FetchError{Message: "temporary", Retryable: true}}
	dispatcher := &fakeDispatcher{}

	w := newTestWorker(t, fs, fetcher, dispatcher)
	err := w.Work(context.Background(), testJob("post-3"))
	if err == nil {
		t.Fatal("expected error to signal river retry")
	}
	if fs.retryCalls != 1 {
		t.Fatalf("expected MarkForRetry called once, got %d", fs.retryCalls)
	}
	if fs.posts["post-3"].Status != domain.StatusReceived {
		t.Fatalf("expected status reset to received, got %s", fs.posts["post-3"].Status)
	}
}

func TestWork_NonRetryableFetchErrorTransitionsToFailed(t *testing.T) {
	fs := newFakeStore(&domain.Post{FBPostID: "post-4", Status: domain.StatusReceived})
	fetcher := &fakeFetcher{err: &upstream.FetchError{Message: "post not from configured page", Retryable: false}}
	dispatcher := &fakeDispatcher{}

	w := newTestWorker(t, fs, fetcher, dispatcher)
	if err := w.Work(context.Background(), testJob("post-4")); err != nil {
		t.Fatalf("Work() returned error: %v", err)
	}
	if fs.posts["post-4"].Status != domain.StatusFailed {
		t.Fatalf("expected status failed, got %s", fs.posts["post-4"].Status)
	}
}

func TestWork_FetchErrorFallsBackToWebhookData(t *testing.T) {
	fs := newFakeStore(&domain.Post{FBPostID: "post-5", Status: domain.StatusReceived})
	fetcher := &fakeFetcher{err: &upstream.FetchError{Message: "temporary", Retryable: true}}
	dispatcher := &fakeDispatcher{result: sink.Result{Outcome: sink.OutcomeSuccess, MessageID: "msg-5"}}

	w := newTestWorker(t, fs, fetcher, dispatcher)
	job := testJob("post-5")
	job.Args.WebhookData = &WebhookData{Message: "Fallback content #discord", FromID: "page-1"}

	if err := w.Work(context.Background(), job); err != nil {
		t.Fatalf("Work() returned error: %v", err)
	}
	if fs.posts["post-5"].Status != domain.StatusDelivered {
		t.Fatalf("expected status delivered via fallback, got %s", fs.posts["post-5"].Status)
	}
}

func TestWork_AmbiguousDispatchTransitionsToNeedsReview(t *testing.T) {
	message := "Timed out post #discord"
	fs := newFakeStore(&domain.Post{FBPostID: "post-6", Status: domain.StatusReceived})
	fetcher := &fakeFetcher{post: &upstream.FetchedPost{ID: "post-6", Message: &message}}
	dispatcher := &fakeDispatcher{result: sink.Result{Outcome: sink.OutcomeAmbiguous, Reason: "dispatch timed out after 30s"}}

	w := newTestWorker(t, fs, fetcher, dispatcher)
	if err := w.Work(context.Background(), testJob("post-6")); err != nil {
		t.Fatalf("Work() returned error: %v", err)
	}
	if fs.posts["post-6"].Status != domain.StatusNeedsReview {
		t.Fatalf("expected status needs_review, got %s", fs.posts["post-6"].Status)
	}
}

func TestWork_RetryableDispatchMarksForRetry(t *testing.T) {
	message := "Rate limited post #discord"
	fs := newFakeStore(&domain.Post{FBPostID: "post-7", Status: domain.StatusReceived})
	fetcher := &fakeFetcher{post: &upstream.FetchedPost{ID: "post-7", Message: &message}}
	dispatcher := &fakeDispatcher{result: sink.Result{Outcome: sink.OutcomeRetryable, Reason: "rate limited", RetryAfterMs: 2000}}

	w := newTestWorker(t, fs, fetcher, dispatcher)
	if err := w.Work(context.Background(), testJob("post-7")); err == nil {
		t.Fatal("expected error to signal river retry")
	}
	if fs.retryCalls != 1 {
		t.Fatalf("expected MarkForRetry called once, got %d", fs.retryCalls)
	}
}

func TestWork_NonRetryableDispatchTransitionsToFailed(t *testing.T) {
	message := "Rejected post #discord"
	fs := newFakeStore(&domain.Post{FBPostID: "post-8", Status: domain.StatusReceived})
	fetcher := &fakeFetcher{post: &upstream.FetchedPost{ID: "post-8", Message: &message}}
	dispatcher := &fakeDispatcher{result: sink.Result{Outcome: sink.OutcomeNonRetryable, Reason: "sink returned status 400"}}

	w := newTestWorker(t, fs, fetcher, dispatcher)
	if err := w.Work(context.Background(), testJob("post-8")); err != nil {
		t.Fatalf("Work() returned error: %v", err)
	}
	if fs.posts["post-8"].Status != domain.StatusFailed {
		t.Fatalf("expected status failed, got %s", fs.posts["post-8"].Status)
	}
}

func TestWork_AlreadyTerminalSkipsWithoutTransition(t *testing.T) {
	fs := newFakeStore(&domain.Post{FBPostID: "post-9", Status: domain.StatusDelivered})
	fetcher := &fakeFetcher{}
	dispatcher := &fakeDispatcher{}

	w := newTestWorker(t, fs, fetcher, dispatcher)
	if err := w.Work(context.Background(), testJob("post-9")); err != nil {
		t.Fatalf("Work() returned error: %v", err)
	}
	if len(fs.transitions) != 0 {
		t.Fatalf("expected no transitions for already-terminal post, got %v", fs.transitions)
	}
}

func TestWork_KillSwitchSkipsWithoutTransition(t *testing.T) {
	fs := newFakeStore(&domain.Post{FBPostID: "post-10", Status: domain.StatusReceived})
	fetcher := &fakeFetcher{}
	dispatcher := &fakeDispatcher{}

	cb, rl := testBreakerAndLimiter(t)
	router := sink.NewRouter("https://sink.example/default", nil, nil)
	w := NewWorker(fs, fetcher, dispatcher, router, rl, cb, nil, testLogger(), WorkerConfig{
		AlertsEnabled: false,
	})

	if err := w.Work(context.Background(), testJob("post-10")); err != nil {
		t.Fatalf("Work() returned error: %v", err)
	}
	if len(fs.transitions) != 0 {
		t.Fatalf("expected no transitions while alerts disabled, got %v", fs.transitions)
	}
}

func TestWork_AgeGateIgnoresStalePost(t *testing.T) {
	message := "Old post #discord"
	old := time.Now().Add(-48 * time.Hour)
	fs := newFakeStore(&domain.Post{FBPostID: "post-11", Status: domain.StatusReceived})
	fetcher := &fakeFetcher{post: &upstream.FetchedPost{ID: "post-11", Message: &message, CreatedAt: &old}}
	dispatcher := &fakeDispatcher{}

	cb, rl := testBreakerAndLimiter(t)
	router := sink.NewRouter("https://sink.example/default", nil, nil)
	w := NewWorker(fs, fetcher, dispatcher, router, rl, cb, nil, testLogger(), WorkerConfig{
		AlertsEnabled:     true,
		TriggerTag:        "#discord",
		MaxPostAgeMinutes: 60,
	})

	if err := w.Work(context.Background(), testJob("post-11")); err != nil {
		t.Fatalf("Work() returned error: %v", err)
	}
	if fs.posts["post-11"].Status != domain.StatusIgnored {
		t.Fatalf("expected status ignored for stale post, got %s", fs.posts["post-11"].Status)
	}
}
