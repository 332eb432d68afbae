package llms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lorehq/lore/pkg/config"
)

func anthropicTestConfig(host string) *config.LLMProviderConfig {
	return &config.LLMProviderConfig{
		Type:      "anthropic",
		Model:     "claude-sonnet-4-20250514",
		Host:      host,
		APIKey:    "sk-ant-test",
		MaxTokens: 1024,
	}
}

func TestAnthropicProvider_Generate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("expected /v1/messages, got %s", r.URL.Path)
		}
		if key := r.Header.Get("x-api-key"); key != "sk-ant-test" {
			t.Errorf("x-api-key = %q", key)
		}
		if v := r.Header.Get("anthropic-version"); v != "2023-06-01" {
			t.Errorf("anthropic-version = %q", v)
		}

		var req AnthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		if req.System != "You are terse." {
			t.Errorf("system = %q, system turns must move to the top-level field", req.System)
		}
		if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
			t.Errorf("unexpected messages: %+v", req.Messages)
		}
		if req.MaxTokens != 1024 {
			t.Errorf("max_tokens = %d, want 1024", req.MaxTokens)
		}

		response := AnthropicResponse{
			Content:    []AnthropicResponseContent{{Type: "text", Text: "Hi."}},
			StopReason: "end_turn",
			Usage:      AnthropicUsage{InputTokens: 9, OutputTokens: 12},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response)
	}))
	defer server.Close()

	provider, err := NewAnthropicProviderFromConfig(anthropicTestConfig(server.URL))
	if err != nil {
		t.Fatalf("NewAnthropicProviderFromConfig: %v", err)
	}

	messages := []Message{
		SystemMessage("You are terse."),
		UserMessage("Hello"),
	}

	text, toolCalls, tokens, err := provider.Generate(context.Background(), messages, nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != "Hi." {
		t.Errorf("text = %q, want Hi.", text)
	}
	if len(toolCalls) != 0 {
		t.Errorf("toolCalls = %d, want 0", len(toolCalls))
	}
	if tokens != 21 {
		t.Errorf("tokens = %d, want input+output = 21", tokens)
	}
}

func TestAnthropicProvider_Generate_ToolUse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req AnthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		if len(req.Tools) != 1 || req.Tools[0].Name != "read_document" {
			t.Errorf("unexpected tools: %+v", req.Tools)
		}

		response := AnthropicResponse{
			Content: []AnthropicResponseContent{
				{Type: "text", Text: "Let me check."},
				{Type: "tool_use", ID: "toolu_01", Name: "read_document", Input: map[string]interface{}{"document_id": "doc-7"}},
			},
			StopReason: "tool_use",
			Usage:      AnthropicUsage{InputTokens: 30, OutputTokens: 20},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response)
	}))
	defer server.Close()

	provider, err := NewAnthropicProviderFromConfig(anthropicTestConfig(server.URL))
	if err != nil {
		t.Fatalf("NewAnthropicProviderFromConfig: %v", err)
	}

	tools := []ToolDefinition{{
		Name:        "read_document",
		Description: "Fetch one document",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"document_id": map[string]interface{}{"type": "string"},
			},
		},
	}}

	text, toolCalls, _, err := provider.Generate(context.Background(), []Message{UserMessage("what is in doc-7?")}, tools)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != "Let me check." {
		t.Errorf("text = %q", text)
	}
	if len(toolCalls) != 1 {
		t.Fatalf("toolCalls = %d, want 1", len(toolCalls))
	}
	if toolCalls[0].ID != "toolu_01" || toolCalls[0].Name != "read_document" {
		t.Errorf("unexpected tool call: %+v", toolCalls[0])
	}
	if got := toolCalls[0].Args["document_id"]; got != "doc-7" {
		t.Errorf("args.document_id = %v, want doc-7", got)
	}
}

func TestConvertToAnthropicMessages_ToolTraffic(t *testing.T) {
	calls := []ToolCall{
		{ID: "toolu_a", Name: "list_spaces", Args: map[string]interface{}{}},
		{ID: "toolu_b", Name: "read_document", Args: map[string]interface{}{"document_id": "doc-1"}},
	}
	messages := []Message{
		SystemMessage("first"),
		SystemMessage("second"),
		UserMessage("go"),
		AssistantToolCalls("", calls),
		ToolResultMessage("toolu_a", "list_spaces", "[]"),
		ToolResultMessage("toolu_b", "read_document", "contents"),
	}

	system, out := convertToAnthropicMessages(messages)

	if system != "first\n\nsecond" {
		t.Errorf("system = %q", system)
	}
	if len(out) != 3 {
		t.Fatalf("messages = %d, want 3 (results share one user turn)", len(out))
	}

	assistantBlocks, ok := out[1].Content.([]AnthropicContentBlock)
	if !ok || len(assistantBlocks) != 2 {
		t.Fatalf("assistant blocks = %+v", out[1].Content)
	}
	if assistantBlocks[0].Type != "tool_use" || assistantBlocks[0].ID != "toolu_a" {
		t.Errorf("first block = %+v", assistantBlocks[0])
	}

	resultBlocks, ok := out[2].Content.([]AnthropicContentBlock)
	if !ok || len(resultBlocks) != 2 {
		t.Fatalf("result blocks = %+v", out[2].Content)
	}
	if resultBlocks[1].ToolUseID != "toolu_b" || resultBlocks[1].Content != "contents" {
		t.Errorf("second result = %+v", resultBlocks[1])
	}
}

func TestAnthropicProvider_GenerateStructured_Prefill(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req AnthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		if !strings.Contains(req.System, "schema") {
			t.Error("expected schema instructions in system prompt")
		}
		last := req.Messages[len(req.Messages)-1]
		if last.Role != "assistant" || last.Content != "{" {
			t.Errorf("expected assistant prefill {, got %+v", last)
		}

		// The model continues from the prefilled brace.
		response := AnthropicResponse{
			Content:    []AnthropicResponseContent{{Type: "text", Text: `"title": "Digest"}`}},
			StopReason: "end_turn",
			Usage:      AnthropicUsage{InputTokens: 5, OutputTokens: 5},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response)
	}))
	defer server.Close()

	provider, err := NewAnthropicProviderFromConfig(anthropicTestConfig(server.URL))
	if err != nil {
		t.Fatalf("NewAnthropicProviderFromConfig: %v", err)
	}

	structConfig := &StructuredOutputConfig{
		Format: "json",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"title": map[string]interface{}{"type": "string"},
			},
		},
	}

	text, _, _, err := provider.GenerateStructured(context.Background(), []Message{UserMessage("plan")}, nil, structConfig)
	if err != nil {
		t.Fatalf("GenerateStructured: %v", err)
	}

	var out map[string]string
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		t.Fatalf("prefill was not prepended, response %q is not valid JSON: %v", text, err)
	}
	if out["title"] != "Digest" {
		t.Errorf("title = %q", out["title"])
	}
}

func TestAnthropicProvider_GenerateStreaming(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		lines := []string{
			`event: message_start`,
			`data: {"type":"message_start","message":{"usage":{"input_tokens":10,"output_tokens":1}}}`,
			`event: content_block_start`,
			`data: {"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
			`event: content_block_delta`,
			`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hel"}}`,
			`event: content_block_delta`,
			`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"lo"}}`,
			`event: content_block_stop`,
			`data: {"type":"content_block_stop","index":0}`,
			`event: content_block_start`,
			`data: {"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_9","name":"search_documents","input":{}}}`,
			`event: content_block_delta`,
			`data: {"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"query\":"}}`,
			`event: content_block_delta`,
			`data: {"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"\"golang\"}"}}`,
			`event: content_block_stop`,
			`data: {"type":"content_block_stop","index":1}`,
			`event: message_delta`,
			`data: {"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":7}}`,
			`event: message_stop`,
			`data: {"type":"message_stop"}`,
		}
		for _, line := range lines {
			_, _ = w.Write([]byte(line + "\n"))
		}
	}))
	defer server.Close()

	provider, err := NewAnthropicProviderFromConfig(anthropicTestConfig(server.URL))
	if err != nil {
		t.Fatalf("NewAnthropicProviderFromConfig: %v", err)
	}

	ch, err := provider.GenerateStreaming(context.Background(), []Message{UserMessage("Hello")}, nil)
	if err != nil {
		t.Fatalf("GenerateStreaming: %v", err)
	}

	var text strings.Builder
	var toolCalls []*ToolCall
	var done *StreamChunk
	for chunk := range ch {
		switch chunk.Type {
		case "text":
			text.WriteString(chunk.Text)
		case "tool_call":
			toolCalls = append(toolCalls, chunk.ToolCall)
		case "done":
			c := chunk
			done = &c
		case "error":
			t.Fatalf("unexpected error chunk: %v", chunk.Error)
		}
	}

	if text.String() != "Hello" {
		t.Errorf("streamed text = %q, want Hello", text.String())
	}
	if len(toolCalls) != 1 {
		t.Fatalf("toolCalls = %d, want 1", len(toolCalls))
	}
	if toolCalls[0].ID != "toolu_9" || toolCalls[0].Name != "search_documents" {
		t.Errorf("unexpected tool call: %+v", toolCalls[0])
	}
	if got := toolCalls[0].Args["query"]; got != "golang" {
		t.Errorf("assembled args.query = %v, want golang", got)
	}
	if done == nil {
		t.Fatal("missing done chunk")
	}
	if done.Tokens != 17 {
		t.Errorf("done tokens = %d, want 17", done.Tokens)
	}
}

func TestNewAnthropicProviderFromConfig_RequiresKey(t *testing.T) {
	_, err := NewAnthropicProviderFromConfig(&config.LLMProviderConfig{Type: "anthropic", Model: "claude-sonnet-4-20250514"})
	if err == nil {
		t.Fatal("expected error for missing API key")
	}
}
