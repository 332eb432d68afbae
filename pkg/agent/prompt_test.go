package agent

import (
	"strings"
	"testing"
	"time"

	"github.com/lorehq/lore/pkg/config"
)

func TestSystemPromptDeterministic(t *testing.T) {
	today := time.Date(2026, time.March, 7, 14, 30, 0, 0, time.UTC)
	cfg := config.AgentConfig{CitationsEnabled: config.BoolPtr(true), Instructions: "Answer in French."}

	first := systemPrompt(today, cfg)
	second := systemPrompt(today, cfg)
	if first != second {
		t.Fatal("prompt differs across calls with identical inputs")
	}

	if !strings.Contains(first, "Saturday, 7 March 2026") {
		t.Errorf("prompt missing formatted date:\n%s", first)
	}
	if !strings.Contains(first, "[citation:<id>]") {
		t.Errorf("prompt missing citation rules:\n%s", first)
	}
	if !strings.Contains(first, "doc-") {
		t.Errorf("prompt missing docs id routing:\n%s", first)
	}
	if !strings.Contains(first, "User instructions:\nAnswer in French.") {
		t.Errorf("prompt missing user instructions:\n%s", first)
	}
}

func TestSystemPromptCitationsDisabled(t *testing.T) {
	today := time.Date(2026, time.March, 7, 0, 0, 0, 0, time.UTC)

	prompt := systemPrompt(today, config.AgentConfig{CitationsEnabled: config.BoolPtr(false)})
	if strings.Contains(prompt, "Citation rules") {
		t.Errorf("disabled config still carries citation rules:\n%s", prompt)
	}
	if !strings.Contains(prompt, "Citations are disabled") {
		t.Errorf("prompt missing disabled notice:\n%s", prompt)
	}
	if strings.Contains(prompt, "User instructions") {
		t.Errorf("prompt has an instructions section without instructions:\n%s", prompt)
	}
}

func TestSystemPromptDefaultsCitationsOn(t *testing.T) {
	prompt := systemPrompt(time.Date(2026, time.March, 7, 0, 0, 0, 0, time.UTC), config.AgentConfig{})
	if !strings.Contains(prompt, "Citation rules") {
		t.Errorf("nil citations flag should enable citations:\n%s", prompt)
	}
}

func TestSystemPromptUsesUTCDate(t *testing.T) {
	east := time.FixedZone("UTC+5", 5*3600)
	oneAM := time.Date(2026, time.March, 8, 1, 0, 0, 0, east)

	prompt := systemPrompt(oneAM, config.AgentConfig{})
	if !strings.Contains(prompt, "Saturday, 7 March 2026") {
		t.Errorf("prompt did not use the UTC date:\n%s", prompt)
	}
}
