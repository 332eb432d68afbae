package podcast

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lorehq/lore/pkg/llms"
)

// Transcript is the structured script drafted before synthesis.
type Transcript struct {
	Title string           `json:"title"`
	Turns []TranscriptTurn `json:"turns"`
}

// TranscriptTurn is one spoken passage. Speaker names map to provider
// voices through the TTS config.
type TranscriptTurn struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

var transcriptSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"title": map[string]any{"type": "string"},
		"turns": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"speaker": map[string]any{
						"type":        "string",
						"description": "Either host or expert.",
					},
					"text": map[string]any{"type": "string"},
				},
				"required": []string{"speaker", "text"},
			},
		},
	},
	"required": []string{"title", "turns"},
}

const scriptSystemPrompt = `You write two-speaker podcast scripts. The host asks questions and steers the conversation; the expert explains. Draft a natural spoken conversation grounded in the source material, 8 to 20 turns, each turn a few sentences of plain spoken language with no stage directions, markdown, or speaker labels inside the text. Respond with JSON only.`

func (g *Generator) script(ctx context.Context, p Payload) (*Transcript, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Podcast title: %s\n\n", p.Title)
	if p.UserPrompt != "" {
		fmt.Fprintf(&sb, "Listener request: %s\n\n", p.UserPrompt)
	}
	fmt.Fprintf(&sb, "Source material:\n\n%s", p.SourceContent)

	text, _, _, err := g.llm.GenerateStructured(ctx, []llms.Message{
		llms.SystemMessage(scriptSystemPrompt),
		llms.UserMessage(sb.String()),
	}, nil, &llms.StructuredOutputConfig{
		Format: "json",
		Schema: transcriptSchema,
	})
	if err != nil {
		return nil, fmt.Errorf("draft transcript: %w", err)
	}

	var t Transcript
	if err := json.Unmarshal([]byte(stripFence(text)), &t); err != nil {
		return nil, fmt.Errorf("parse transcript: %w", err)
	}
	if len(t.Turns) == 0 {
		return nil, fmt.Errorf("transcript has no turns")
	}
	return &t, nil
}

// stripFence unwraps a ```json fence some models insist on emitting
// around structured output.
func stripFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 || strings.TrimSpace(lines[len(lines)-1]) != "```" {
		return trimmed
	}
	return strings.TrimSpace(strings.Join(lines[1:len(lines)-1], "\n"))
}
