package queue

import (
	"context"

	"github.com/fb-discord-relay/relay/internal/sink"
	"github.com/fb-discord-relay/relay/internal/upstream"
)

// Fetcher is the slice of internal/upstream.Client the worker pipeline
// needs. Narrowed to an interface for the same reason as Store: it lets
// the pipeline run against a fake in tests instead of a live Graph API
// host.
type Fetcher interface {
	FetchPost(ctx context.Context, postID string) (*upstream.FetchedPost, *upstream.FetchError)
}

// Dispatcher is the slice of internal/sink.Client the worker pipeline
// needs.
type Dispatcher interface {
	Send(ctx context.Context, sinkURL string, payload sink.Payload) sink.Result
}
