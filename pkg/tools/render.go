package tools

import (
	"fmt"
	"strings"
)

// contextChunk is one entry of the citation context block. Both the
// knowledge-base and docs search tools render through it so the model
// sees one format and the citation filter can scan one pattern.
type contextChunk struct {
	ID      string
	Source  string
	Title   string
	Content string
}

// renderChunks serializes chunks into the block the model cites from.
// Ids use single-quoted attributes to match the citation contract;
// attribute values are escaped, content is passed through verbatim.
func renderChunks(chunks []contextChunk) string {
	if len(chunks) == 0 {
		return "No results found."
	}
	var b strings.Builder
	b.WriteString("<chunks>\n")
	for _, c := range chunks {
		fmt.Fprintf(&b, "<chunk id='%s' source='%s' title='%s'>\n", escapeAttr(c.ID), escapeAttr(c.Source), escapeAttr(c.Title))
		b.WriteString(strings.TrimSpace(c.Content))
		b.WriteString("\n</chunk>\n")
	}
	b.WriteString("</chunks>")
	return b.String()
}

var attrEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", "'", "&#39;")

func escapeAttr(s string) string {
	return attrEscaper.Replace(s)
}

// clip truncates s to at most max runes, marking the cut.
func clip(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
