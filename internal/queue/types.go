package queue

// WebhookData is the slice of the inbound webhook payload the ingress
// threads through to the worker so the pipeline can synthesize a post
// record when the upstream fetch itself fails transiently (spec §4.6
// step 4's fallback).
type WebhookData struct {
	Message     string `json:"message,omitempty"`
	FromID      string `json:"from_id,omitempty"`
	FromName    string `json:"from_name,omitempty"`
	CreatedTime int64  `json:"created_time,omitempty"`
}

// ProcessPostArgs is the job payload enqueued by ingress and claimed by
// the worker. FBPostID alone carries the `river:"unique"` tag so the
// singleton-key guarantee (spec §4.5) is keyed on the post identifier,
// not the full payload — two webhook deliveries for the same post
// differ in CorrelationID but must still collapse to one live job.
type ProcessPostArgs struct {
	FBPostID      string        `json:"fb_post_id" river:"unique"`
	CorrelationID string        `json:"correlation_id"`
	WebhookData   *WebhookData  `json:"webhook_data,omitempty"`
}

func (ProcessPostArgs) Kind() string { return "process_post" }
