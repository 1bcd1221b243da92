package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const dispatchTimeout = 30 * time.Second

// Outcome classifies the result of one dispatch attempt per the table
// in spec §4.7.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeRetryable
	OutcomeNonRetryable
	OutcomeAmbiguous
)

// Result carries the outcome plus whatever detail is available for it.
type Result struct {
	Outcome        Outcome
	MessageID      string
	Reason         string
	RetryAfterMs   int
}

type Client struct {
	httpClient *http.Client
	wait       bool
}

// NewClient builds a sink dispatcher. wait controls whether requests
// carry Discord's wait=true query param, which makes the webhook POST
// block for message creation and return the created message's id
// (DISCORD_WEBHOOK_WAIT, default true); with it off, Send never gets a
// MessageID back even on success.
func NewClient(wait bool) *Client {
	return &Client{httpClient: &http.Client{}, wait: wait}
}

type sinkResponse struct {
	ID string `json:"id"`
}

// Send posts payload to sinkURL, requesting a message identifier via
// wait=true when the client was built with wait enabled, and
// classifies the response (or lack of one) per spec
// §4.7's table. A context cancellation mid-flight — our own 30s
// timeout firing — is reported as ambiguous, never retryable: the
// bytes may already be on the wire.
func (c *Client) Send(ctx context.Context, sinkURL string, payload Payload) Result {
	ctx, cancel := context.WithTimeout(ctx, dispatchTimeout)
	defer cancel()

	body, err := json.Marshal(payload)
	if err != nil {
		return Result{Outcome: OutcomeNonRetryable, Reason: fmt.Sprintf("encoding payload: %v", err)}
	}

	dest := sinkURL
	if c.wait {
		dest = appendWaitParam(sinkURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, dest, bytes.NewReader(body))
	if err != nil {
		return Result{Outcome: OutcomeNonRetryable, Reason: fmt.Sprintf("building request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Result{Outcome: OutcomeAmbiguous, Reason: "dispatch timed out after 30s"}
		}
		return Result{Outcome: OutcomeRetryable, Reason: fmt.Sprintf("transport error: %v", err)}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var parsed sinkResponse
		_ = json.Unmarshal(respBody, &parsed)
		return Result{Outcome: OutcomeSuccess, MessageID: parsed.ID}

	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfterMs := 5000
		if h := resp.Header.Get("Retry-After"); h != "" {
			if secs, err := strconv.Atoi(h); err == nil {
				retryAfterMs = secs * 1000
			}
		}
		return Result{Outcome: OutcomeRetryable, Reason: "rate limited", RetryAfterMs: retryAfterMs}

	case resp.StatusCode >= 500:
		return Result{Outcome: OutcomeRetryable, Reason: fmt.Sprintf("sink returned status %d", resp.StatusCode)}

	case resp.StatusCode >= 400:
		return Result{Outcome: OutcomeNonRetryable, Reason: fmt.Sprintf("sink returned status %d: %s", resp.StatusCode, string(respBody))}

	default:
		return Result{Outcome: OutcomeRetryable, Reason: fmt.Sprintf("unexpected sink status %d", resp.StatusCode)}
	}
}

func appendWaitParam(sinkURL string) string {
	u, err := url.Parse(sinkURL)
	if err != nil {
		return sinkURL
	}
	q := u.Query()
	q.Set("wait", "true")
	u.RawQuery = q.Encode()
	return u.String()
}
