// Package upstream talks to the Meta Graph API: fetching a post's
// content by id, and a one-shot startup probe that the configured page
// token still works.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/fb-discord-relay/relay/internal/signature"
)

// retryableErrorCodes are the Graph API error codes spec §4.4 classifies
// as transient: rate-limit and temporary-unavailability classes.
var retryableErrorCodes = map[int]bool{1: true, 2: true, 4: true, 17: true}

// FetchedPost is the fixed field projection pulled from the Graph API,
// or synthesized from a webhook payload when the fetch itself fails
// transiently (spec §4.6 step 4's fallback).
type FetchedPost struct {
	ID         string
	AuthorID   *string
	AuthorName *string
	Message    *string
	Permalink  *string
	CreatedAt  *time.Time
	ImageURL   *string
}

// FetchError wraps an upstream fetch failure with the retryable
// classification spec §4.4 defines.
type FetchError struct {
	Message   string
	Retryable bool
}

func (e *FetchError) Error() string { return e.Message }

type graphErrorBody struct {
	Error struct {
		Message      string `json:"message"`
		Code         int    `json:"code"`
		ErrorSubcode int    `json:"error_subcode"`
	} `json:"error"`
}

type graphPostBody struct {
	ID        string `json:"id"`
	Message   string `json:"message"`
	Permalink string `json:"permalink_url"`
	Created   string `json:"created_time"`
	From      struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"from"`
	Attachments struct {
		Data []struct {
			Media struct {
				Image struct {
					Src string `json:"src"`
				} `json:"image"`
			} `json:"media"`
		} `json:"data"`
	} `json:"attachments"`
}

// fetchFields is the fixed projection spec §4.4 names: id, message,
// permalink, created time, author, attachments subtree.
const fetchFields = "id,message,permalink_url,created_time,from,attachments{media}"

// Client is the upstream Graph API client.
type Client struct {
	httpClient   *http.Client
	scheme       string
	graphHost    string
	graphVersion string
	pageID       string
	accessToken  string
	appSecret    string
	logger       *slog.Logger
}

func NewClient(graphHost, graphVersion, pageID, accessToken, appSecret string, logger *slog.Logger) *Client {
	return &Client{
		httpClient:   &http.Client{Timeout: 15 * time.Second},
		scheme:       "https",
		graphHost:    graphHost,
		graphVersion: graphVersion,
		pageID:       pageID,
		accessToken:  accessToken,
		appSecret:    appSecret,
		logger:       logger,
	}
}

func (c *Client) baseURL() string {
	return fmt.Sprintf("%s://%s/%s", c.scheme, c.graphHost, c.graphVersion)
}

// FetchPost retrieves a single post by id. A non-nil *FetchError carries
// the retryable classification the worker pipeline needs to decide
// between mark_for_retry and a terminal failed transition.
func (c *Client) FetchPost(ctx context.Context, postID string) (*FetchedPost, *FetchError) {
	proof := signature.AppSecretProof(c.accessToken, c.appSecret)

	reqURL := fmt.Sprintf("%s/%s?%s", c.baseURL(), url.PathEscape(postID), url.Values{
		"fields":         {fetchFields},
		"access_token":   {c.accessToken},
		"appsecret_proof": {proof},
	}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, &FetchError{Message: fmt.Sprintf("building request: %v", err), Retryable: false}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{Message: fmt.Sprintf("transport error: %v", err), Retryable: true}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &FetchError{Message: fmt.Sprintf("reading response: %v", err), Retryable: true}
	}

	if resp.StatusCode >= 400 {
		var errBody graphErrorBody
		_ = json.Unmarshal(body, &errBody)

		retryable := resp.StatusCode >= 500 || retryableErrorCodes[errBody.Error.Code]
		msg := errBody.Error.Message
		if msg == "" {
			msg = fmt.Sprintf("graph api returned status %d", resp.StatusCode)
		}
		return nil, &FetchError{Message: msg, Retryable: retryable}
	}

	var parsed graphPostBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &FetchError{Message: fmt.Sprintf("decoding response: %v", err), Retryable: false}
	}

	// An absent from.id is treated the same as a mismatch: the Graph API
	// only omits "from" when the caller can't resolve the author, which
	// is itself a reason not to trust the post as coming from the
	// configured page (spec §4.4).
	if parsed.From.ID != c.pageID {
		return nil, &FetchError{Message: "post not from configured page", Retryable: false}
	}

	post := &FetchedPost{ID: parsed.ID}
	if parsed.From.ID != "" {
		post.AuthorID = &parsed.From.ID
	}
	if parsed.From.Name != "" {
		post.AuthorName = &parsed.From.Name
	}
	if parsed.Message != "" {
		post.Message = &parsed.Message
	}
	if parsed.Permalink != "" {
		post.Permalink = &parsed.Permalink
	}
	if parsed.Created != "" {
		if t, err := time.Parse("2006-01-02T15:04:05-0700", parsed.Created); err == nil {
			post.CreatedAt = &t
		} else if t, err := time.Parse(time.RFC3339, parsed.Created); err == nil {
			post.CreatedAt = &t
		}
	}
	if len(parsed.Attachments.Data) > 0 && parsed.Attachments.Data[0].Media.Image.Src != "" {
		src := parsed.Attachments.Data[0].Media.Image.Src
		post.ImageURL = &src
	}

	return post, nil
}

// VerifyPageAccess is the one-shot startup probe of spec §4.4: it
// refuses silently entering a retry loop on an expired token by
// failing loudly before the worker starts claiming jobs.
func (c *Client) VerifyPageAccess(ctx context.Context) error {
	reqURL := fmt.Sprintf("%s/%s?%s", c.baseURL(), url.PathEscape(c.pageID), url.Values{
		"fields":       {"id,name"},
		"access_token": {c.accessToken},
	}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("building verify request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("verifying page access: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("page access verification failed with status %d: %s", resp.StatusCode, string(body))
	}

	c.logger.Info("verified page access", "page_id", c.pageID)
	return nil
}

// SubscribeApp performs the page subscription handshake described in
// spec §6's CLI operation: POST /<page_id>/subscribed_apps.
func (c *Client) SubscribeApp(ctx context.Context) error {
	proof := signature.AppSecretProof(c.accessToken, c.appSecret)

	reqURL := fmt.Sprintf("%s/%s/subscribed_apps?%s", c.baseURL(), url.PathEscape(c.pageID), url.Values{
		"subscribed_fields": {"feed"},
		"access_token":      {c.accessToken},
		"appsecret_proof":   {proof},
	}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, nil)
	if err != nil {
		return fmt.Errorf("building subscribe request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("subscribing app: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("subscribe failed with status %d: %s", resp.StatusCode, string(body))
	}

	return nil
}
