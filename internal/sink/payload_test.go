package sink

import (
	"strings"
	"testing"
	"time"

	"github.com/fb-discord-relay/relay/internal/upstream"
)

func strPtr(s string) *string { return &s }

func TestBuildPayload_ContentOrdering(t *testing.T) {
	msg := "hello world #discord"
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	post := &upstream.FetchedPost{
		ID:        "post-1",
		Message:   &msg,
		CreatedAt: &now,
	}

	p := BuildPayload(post, "#discord", "New post from the page!", "role-123")

	if !strings.HasPrefix(p.Content, "hello world") {
		t.Fatalf("expected sanitized message first, got %q", p.Content)
	}
	if !strings.Contains(p.Content, "New post from the page!") {
		t.Error("expected disclaimer present")
	}
	if !strings.Contains(p.Content, "<@&role-123>") {
		t.Error("expected role mention present")
	}

	idxMsg := strings.Index(p.Content, "hello world")
	idxDisc := strings.Index(p.Content, "New post from the page!")
	idxRole := strings.Index(p.Content, "<@&role-123>")
	if !(idxMsg < idxDisc && idxDisc < idxRole) {
		t.Errorf("expected message, disclaimer, role mention order; got %q", p.Content)
	}
}

func TestBuildPayload_AllowedMentionsPinnedToRole(t *testing.T) {
	post := &upstream.FetchedPost{ID: "post-1", Message: strPtr("hi #discord")}
	p := BuildPayload(post, "#discord", "", "role-999")

	if len(p.AllowedMentions.Parse) != 0 {
		t.Error("expected empty parse list")
	}
	if len(p.AllowedMentions.Roles) != 1 || p.AllowedMentions.Roles[0] != "role-999" {
		t.Errorf("expected roles pinned to role-999, got %v", p.AllowedMentions.Roles)
	}
}

func TestBuildPayload_NoMentionRoleConfigured(t *testing.T) {
	post := &upstream.FetchedPost{ID: "post-1", Message: strPtr("hi #discord")}
	p := BuildPayload(post, "#discord", "", "")

	if len(p.AllowedMentions.Roles) != 0 {
		t.Error("expected no roles when mention role unconfigured")
	}
	if strings.Contains(p.Content, "<@&") {
		t.Error("expected no role mention text")
	}
}

func TestBuildPayload_EmbedCarriesPermalinkAndImage(t *testing.T) {
	post := &upstream.FetchedPost{
		ID:        "post-1",
		Message:   strPtr("hi #discord"),
		Permalink: strPtr("https://facebook.com/post-1"),
		ImageURL:  strPtr("https://fbcdn.example/image.jpg"),
	}
	p := BuildPayload(post, "#discord", "", "")

	if len(p.Embeds) != 1 {
		t.Fatalf("expected exactly one embed, got %d", len(p.Embeds))
	}
	if p.Embeds[0].URL != "https://facebook.com/post-1" {
		t.Errorf("got embed url %q", p.Embeds[0].URL)
	}
	if p.Embeds[0].Image == nil || p.Embeds[0].Image.URL != "https://fbcdn.example/image.jpg" {
		t.Errorf("expected embed image, got %+v", p.Embeds[0].Image)
	}
}
