package domain

import "time"

// Status is the closed set of states a Post can occupy. See the
// transition table in internal/statemachine.
type Status string

const (
	StatusReceived    Status = "received"
	StatusFetching    Status = "fetching"
	StatusEligible    Status = "eligible"
	StatusSending     Status = "sending"
	StatusDelivered   Status = "delivered"
	StatusIgnored     Status = "ignored"
	StatusFailed      Status = "failed"
	StatusNeedsReview Status = "needs_review"
)

// Post is one row per observed upstream post identifier.
type Post struct {
	FBPostID      string     `json:"fb_post_id"`
	Status        Status     `json:"status"`
	AuthorID      *string    `json:"author_id,omitempty"`
	AuthorName    *string    `json:"author_name,omitempty"`
	Message       *string    `json:"message,omitempty"`
	Permalink     *string    `json:"permalink,omitempty"`
	PostCreatedAt *time.Time `json:"post_created_at,omitempty"`
	ReceivedAt    time.Time  `json:"received_at"`
	DiscordMsgID  *string    `json:"discord_msg_id,omitempty"`
	DeliveredAt   *time.Time `json:"delivered_at,omitempty"`
	RetryCount    int        `json:"retry_count"`
	LastError     *string    `json:"last_error,omitempty"`
}

// PostEvent is an append-only audit entry keyed by post.
type PostEvent struct {
	ID        int64          `json:"id"`
	FBPostID  string         `json:"fb_post_id"`
	Event     string         `json:"event"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// DeliveryLog is one row per dispatch attempt.
type DeliveryLog struct {
	ID           int64     `json:"id"`
	FBPostID     string    `json:"fb_post_id"`
	Success      bool      `json:"success"`
	DiscordMsgID *string   `json:"discord_msg_id,omitempty"`
	ErrorMessage *string   `json:"error_message,omitempty"`
	LatencyMs    int       `json:"latency_ms"`
	CreatedAt    time.Time `json:"created_at"`
}

const (
	EventWebhookReceived = "webhook_received"
	EventMarkedForRetry  = "marked_for_retry"
)

// StatusEventName returns the PostEvent name for a transition into target.
func StatusEventName(target Status) string {
	return "status_" + string(target)
}
