package upstream

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func testClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	host := strings.TrimPrefix(srv.URL, "http://")
	return &Client{
		httpClient:   srv.Client(),
		scheme:       "http",
		graphHost:    host,
		graphVersion: "v19.0",
		pageID:       "page-123",
		accessToken:  "token",
		appSecret:    "secret",
		logger:       slog.Default(),
	}
}

func TestFetchPost_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"id": "post-1",
			"message": "hello #discord",
			"permalink_url": "https://facebook.com/post-1",
			"created_time": "2026-01-01T12:00:00+0000",
			"from": {"id": "page-123", "name": "My Page"}
		}`)
	}))
	defer srv.Close()

	c := testClient(t, srv)
	post, ferr := c.FetchPost(context.Background(), "post-1")
	if ferr != nil {
		t.Fatalf("unexpected error: %v", ferr)
	}
	if post.ID != "post-1" || post.Message == nil || *post.Message != "hello #discord" {
		t.Errorf("unexpected post: %+v", post)
	}
	if post.AuthorID == nil || *post.AuthorID != "page-123" {
		t.Errorf("expected author id page-123, got %+v", post.AuthorID)
	}
}

func TestFetchPost_AuthorMismatchIsNonRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id": "post-1", "from": {"id": "some-other-page", "name": "Other"}}`)
	}))
	defer srv.Close()

	c := testClient(t, srv)
	_, ferr := c.FetchPost(context.Background(), "post-1")
	if ferr == nil {
		t.Fatal("expected error for author mismatch")
	}
	if ferr.Retryable {
		t.Error("author mismatch must be non-retryable")
	}
}

func TestFetchPost_MissingAuthorIsNonRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id": "post-1", "message": "no from field at all"}`)
	}))
	defer srv.Close()

	c := testClient(t, srv)
	_, ferr := c.FetchPost(context.Background(), "post-1")
	if ferr == nil {
		t.Fatal("expected error when from.id is absent")
	}
	if ferr.Retryable {
		t.Error("missing author must be non-retryable, not treated as a pass")
	}
}

func TestFetchPost_RetryableErrorCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error": {"message": "rate limited", "code": 4}}`)
	}))
	defer srv.Close()

	c := testClient(t, srv)
	_, ferr := c.FetchPost(context.Background(), "post-1")
	if ferr == nil || !ferr.Retryable {
		t.Fatalf("expected retryable error, got %+v", ferr)
	}
}

func TestFetchPost_NonRetryableErrorCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error": {"message": "bad request", "code": 100}}`)
	}))
	defer srv.Close()

	c := testClient(t, srv)
	_, ferr := c.FetchPost(context.Background(), "post-1")
	if ferr == nil || ferr.Retryable {
		t.Fatalf("expected non-retryable error, got %+v", ferr)
	}
}

func TestFetchPost_ServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error": {"message": "internal", "code": 99}}`)
	}))
	defer srv.Close()

	c := testClient(t, srv)
	_, ferr := c.FetchPost(context.Background(), "post-1")
	if ferr == nil || !ferr.Retryable {
		t.Fatalf("expected 5xx to be retryable, got %+v", ferr)
	}
}

func TestVerifyPageAccess_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id": "page-123", "name": "My Page"}`)
	}))
	defer srv.Close()

	c := testClient(t, srv)
	if err := c.VerifyPageAccess(context.Background()); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
}

func TestVerifyPageAccess_Failure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error": {"message": "token expired", "code": 190}}`)
	}))
	defer srv.Close()

	c := testClient(t, srv)
	if err := c.VerifyPageAccess(context.Background()); err == nil {
		t.Fatal("expected error for expired token")
	}
}
