package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/lorehq/lore/pkg/config"
)

const promptPreamble = `You are Lore, a personal knowledge assistant. You answer questions over the user's connected sources: documents, messages, issues, pages, calendar events, and anything else they have indexed.

Ground your answers in the user's content. When a question concerns their data, search the knowledge base before answering; do not guess at facts a search could settle. Questions about Lore itself are answered from the product documentation.`

const promptCitations = `Citation rules:
- After any claim drawn from search results, append [citation:<id>] where <id> is the id attribute of a <chunk> returned earlier in this turn.
- Cite only ids you actually received this turn. Never invent ids or reuse ids from earlier turns.
- Emit one token per id; do not combine ids inside a single token.
- Ids prefixed doc- point at the Lore documentation; all other ids point at the user's knowledge.`

const promptNoCitations = `Citations are disabled for this workspace. Write plain prose without [citation:...] tokens.`

// systemPrompt is a pure function of the clock and the agent config, so a
// turn replayed with the same inputs sees the same prompt.
func systemPrompt(today time.Time, cfg config.AgentConfig) string {
	var b strings.Builder
	b.WriteString(promptPreamble)
	fmt.Fprintf(&b, "\n\nToday's date is %s.", today.UTC().Format("Monday, 2 January 2006"))
	b.WriteString("\n\n")
	if cfg.CitationsEnabled == nil || *cfg.CitationsEnabled {
		b.WriteString(promptCitations)
	} else {
		b.WriteString(promptNoCitations)
	}
	if instructions := strings.TrimSpace(cfg.Instructions); instructions != "" {
		b.WriteString("\n\nUser instructions:\n")
		b.WriteString(instructions)
	}
	return b.String()
}
