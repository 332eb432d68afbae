package tools

import (
	"strings"
	"testing"
)

func TestRenderChunksFormat(t *testing.T) {
	out := renderChunks([]contextChunk{
		{ID: "42", Source: "SLACK_CONNECTOR", Title: "standup notes", Content: "we shipped it\n"},
		{ID: "doc-api/auth.md#2", Source: "Lore Docs", Title: "Auth", Content: "use the header"},
	})

	if !strings.HasPrefix(out, "<chunks>\n") || !strings.HasSuffix(out, "</chunks>") {
		t.Fatalf("missing wrapper: %q", out)
	}
	if !strings.Contains(out, "<chunk id='42' source='SLACK_CONNECTOR' title='standup notes'>\nwe shipped it\n</chunk>") {
		t.Errorf("first chunk malformed:\n%s", out)
	}
	if !strings.Contains(out, "<chunk id='doc-api/auth.md#2'") {
		t.Errorf("doc id not preserved:\n%s", out)
	}
}

func TestRenderChunksEscapesAttributes(t *testing.T) {
	out := renderChunks([]contextChunk{
		{ID: "7", Source: "FILE", Title: "Tom's <secret> & more", Content: "body with 'quotes' kept"},
	})
	if !strings.Contains(out, "title='Tom&#39;s &lt;secret&gt; &amp; more'") {
		t.Errorf("attributes not escaped:\n%s", out)
	}
	// Content is what the model cites from; it must stay verbatim.
	if !strings.Contains(out, "body with 'quotes' kept") {
		t.Errorf("content was altered:\n%s", out)
	}
}

func TestRenderChunksEmpty(t *testing.T) {
	if got := renderChunks(nil); got != "No results found." {
		t.Errorf("empty render = %q", got)
	}
}

func TestClip(t *testing.T) {
	if got := clip("short", 10); got != "short" {
		t.Errorf("clip below limit = %q", got)
	}
	if got := clip("abcdefgh", 4); got != "abcd..." {
		t.Errorf("clip = %q, want abcd...", got)
	}
	if got := clip("héllo wörld", 5); got != "héllo..." {
		t.Errorf("clip must cut on runes, got %q", got)
	}
	if got := clip("anything", 0); got != "anything" {
		t.Errorf("zero max should disable clipping, got %q", got)
	}
}
