package queue

import (
	"context"
	"time"

	"github.com/fb-discord-relay/relay/internal/domain"
	"github.com/fb-discord-relay/relay/internal/store"
)

// Store is the slice of internal/store.PostgresStore the worker
// pipeline needs. Defined as an interface here so the pipeline can be
// exercised against a fake in tests without a live Postgres instance —
// the same tradeoff the teacher makes by testing its deliverer against
// miniredis alone and skipping Postgres in unit tests.
type Store interface {
	GetPost(ctx context.Context, fbPostID string) (*domain.Post, error)
	ApplyTransition(ctx context.Context, fbPostID string, target domain.Status, fields store.TransitionFields, details map[string]any) (bool, error)
	MarkForRetry(ctx context.Context, fbPostID, errMsg string) (bool, error)
	UpdateFetchedFields(ctx context.Context, fbPostID string, authorID, authorName, message, permalink *string, postCreatedAt *time.Time) error
	RecordDeliveryLog(ctx context.Context, fbPostID string, success bool, discordMsgID, errMessage *string, latencyMs int) error
}
