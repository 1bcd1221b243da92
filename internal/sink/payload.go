package sink

import (
	"strings"
	"time"

	"github.com/fb-discord-relay/relay/internal/upstream"
)

// Payload mirrors the chat sink's webhook body: a plain-text content
// string plus a single rich embed.
type Payload struct {
	Content         string          `json:"content"`
	Embeds          []embed         `json:"embeds,omitempty"`
	AllowedMentions allowedMentions `json:"allowed_mentions"`
}

type embed struct {
	Title     string     `json:"title,omitempty"`
	URL       string     `json:"url,omitempty"`
	Timestamp string     `json:"timestamp,omitempty"`
	Image     *embedImage `json:"image,omitempty"`
}

type embedImage struct {
	URL string `json:"url"`
}

type allowedMentions struct {
	Parse []string `json:"parse"`
	Roles []string `json:"roles,omitempty"`
}

// BuildPayload assembles the sink-bound message for post, per spec
// §4.7: content ordered as sanitized message, optional blank
// separator, disclaimer, optional role mention; a single embed; and
// allowed_mentions pinned to the configured role with an empty parse
// list so post text can never trigger an accidental broad mention.
func BuildPayload(post *upstream.FetchedPost, triggerTag, disclaimer, mentionRoleID string) Payload {
	var body string
	if post.Message != nil {
		body = Sanitize(*post.Message, triggerTag)
	}

	var parts []string
	if body != "" {
		parts = append(parts, body)
	}
	if disclaimer != "" {
		parts = append(parts, disclaimer)
	}
	if mentionRoleID != "" {
		parts = append(parts, "<@&"+mentionRoleID+">")
	}
	content := strings.Join(parts, "\n\n")

	e := embed{}
	if post.AuthorName != nil {
		e.Title = *post.AuthorName
	}
	if post.Permalink != nil {
		e.URL = *post.Permalink
	}
	if post.CreatedAt != nil {
		e.Timestamp = post.CreatedAt.UTC().Format(time.RFC3339)
	}
	if post.ImageURL != nil {
		e.Image = &embedImage{URL: *post.ImageURL}
	}

	mentions := allowedMentions{Parse: []string{}}
	if mentionRoleID != "" {
		mentions.Roles = []string{mentionRoleID}
	}

	return Payload{
		Content:         content,
		Embeds:          []embed{e},
		AllowedMentions: mentions,
	}
}
