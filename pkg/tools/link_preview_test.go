package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func servePage(t *testing.T, body string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func previewFrom(t *testing.T, outcome ToolOutcome) Preview {
	t.Helper()
	if outcome.Status != StatusSuccess {
		t.Fatalf("status = %q, err = %v", outcome.Status, outcome.Err)
	}
	var p Preview
	if err := json.Unmarshal([]byte(outcome.Result), &p); err != nil {
		t.Fatalf("result not JSON: %v", err)
	}
	return p
}

func TestLinkPreviewOpenGraphWins(t *testing.T) {
	server := servePage(t, `<html><head>
<title>Plain Title</title>
<meta property="og:title" content="OG Title">
<meta name="twitter:title" content="Twitter Title">
<meta property="og:description" content="OG description">
<meta property="og:site_name" content="Example">
<meta property="og:image" content="https://cdn.example.com/cover.png">
</head><body></body></html>`)

	tool := NewLinkPreviewTool(5 * time.Second)
	p := previewFrom(t, tool.Invoke(context.Background(), map[string]any{"url": server.URL}))

	if p.Title != "OG Title" {
		t.Errorf("title = %q, want OG Title", p.Title)
	}
	if p.Description != "OG description" {
		t.Errorf("description = %q", p.Description)
	}
	if p.SiteName != "Example" {
		t.Errorf("site_name = %q", p.SiteName)
	}
	if p.Image != "https://cdn.example.com/cover.png" {
		t.Errorf("image = %q", p.Image)
	}
	if p.URL != server.URL {
		t.Errorf("url = %q, want %q", p.URL, server.URL)
	}
}

func TestLinkPreviewTwitterAndTitleFallback(t *testing.T) {
	server := servePage(t, `<html><head>
<title>Doc Title</title>
<meta name="twitter:description" content="From the card">
</head><body></body></html>`)

	tool := NewLinkPreviewTool(5 * time.Second)
	p := previewFrom(t, tool.Invoke(context.Background(), map[string]any{"url": server.URL}))

	if p.Title != "Doc Title" {
		t.Errorf("title fallback = %q, want Doc Title", p.Title)
	}
	if p.Description != "From the card" {
		t.Errorf("description = %q", p.Description)
	}
}

func TestLinkPreviewResolvesRelativeImage(t *testing.T) {
	server := servePage(t, `<html><head>
<meta property="og:image" content="/static/cover.png">
</head><body></body></html>`)

	tool := NewLinkPreviewTool(5 * time.Second)
	p := previewFrom(t, tool.Invoke(context.Background(), map[string]any{"url": server.URL}))

	want := server.URL + "/static/cover.png"
	if p.Image != want {
		t.Errorf("image = %q, want %q", p.Image, want)
	}
}

func TestLinkPreviewHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer server.Close()

	tool := NewLinkPreviewTool(5 * time.Second)
	outcome := tool.Invoke(context.Background(), map[string]any{"url": server.URL})
	if outcome.Status != StatusFailed {
		t.Errorf("403 should fail, got %q", outcome.Status)
	}
}
