package llms

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/lorehq/lore/pkg/config"
	"github.com/lorehq/lore/pkg/httpclient"
	"github.com/lorehq/lore/pkg/observability"
)

// AnthropicProvider speaks the Anthropic messages wire format.
type AnthropicProvider struct {
	config     *config.LLMProviderConfig
	httpClient *httpclient.Client
}

type AnthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Messages    []AnthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	Temperature float64            `json:"temperature,omitempty"`
	Stream      bool               `json:"stream,omitempty"`
	Tools       []AnthropicTool    `json:"tools,omitempty"`
}

// AnthropicMessage content is either a plain string or a
// []AnthropicContentBlock once tool blocks are involved.
type AnthropicMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type AnthropicContentBlock struct {
	Type      string      `json:"type"`
	Text      string      `json:"text,omitempty"`
	ID        string      `json:"id,omitempty"`
	Name      string      `json:"name,omitempty"`
	Input     interface{} `json:"input,omitempty"`
	ToolUseID string      `json:"tool_use_id,omitempty"`
	Content   string      `json:"content,omitempty"`
}

type AnthropicTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

type AnthropicResponse struct {
	ID         string                     `json:"id"`
	Content    []AnthropicResponseContent `json:"content"`
	StopReason string                     `json:"stop_reason"`
	Usage      AnthropicUsage             `json:"usage"`
	Error      *AnthropicError            `json:"error,omitempty"`
}

type AnthropicResponseContent struct {
	Type  string                 `json:"type"`
	Text  string                 `json:"text,omitempty"`
	ID    string                 `json:"id,omitempty"`
	Name  string                 `json:"name,omitempty"`
	Input map[string]interface{} `json:"input,omitempty"`
}

type AnthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type AnthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type AnthropicStreamEvent struct {
	Type         string                    `json:"type"`
	Index        int                       `json:"index"`
	Message      *AnthropicStreamMessage   `json:"message,omitempty"`
	ContentBlock *AnthropicResponseContent `json:"content_block,omitempty"`
	Delta        *AnthropicStreamDelta     `json:"delta,omitempty"`
	Usage        *AnthropicUsage           `json:"usage,omitempty"`
	Error        *AnthropicError           `json:"error,omitempty"`
}

type AnthropicStreamMessage struct {
	Usage AnthropicUsage `json:"usage"`
}

type AnthropicStreamDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}

func NewAnthropicProviderFromConfig(cfg *config.LLMProviderConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for Anthropic")
	}
	if cfg.Host == "" {
		cfg.Host = "https://api.anthropic.com"
	}

	return &AnthropicProvider{
		config:     cfg,
		httpClient: createHTTPClient(cfg, httpclient.ParseAnthropicHeaders),
	}, nil
}

func (p *AnthropicProvider) GetModelName() string {
	return p.config.Model
}

func (p *AnthropicProvider) GetMaxTokens() int {
	return p.config.MaxTokens
}

func (p *AnthropicProvider) GetTemperature() float64 {
	return temperature(p.config)
}

func (p *AnthropicProvider) Close() error {
	return nil
}

func (p *AnthropicProvider) Generate(ctx context.Context, messages []Message, tools []ToolDefinition) (string, []*ToolCall, int, error) {
	return p.generate(ctx, messages, tools, nil)
}

// GenerateStructured has no native JSON mode to lean on: the schema is
// embedded in the system prompt and the assistant turn is prefilled so
// the model continues from an opening brace.
func (p *AnthropicProvider) GenerateStructured(ctx context.Context, messages []Message, tools []ToolDefinition, structConfig *StructuredOutputConfig) (string, []*ToolCall, int, error) {
	return p.generate(ctx, messages, tools, structConfig)
}

func (p *AnthropicProvider) SupportsStructuredOutput() bool {
	return true
}

func (p *AnthropicProvider) generate(ctx context.Context, messages []Message, tools []ToolDefinition, structConfig *StructuredOutputConfig) (string, []*ToolCall, int, error) {
	startTime := time.Now()

	tracer := observability.GetTracer("lore.llm")
	ctx, span := tracer.Start(ctx, observability.SpanLLMRequest,
		trace.WithAttributes(
			attribute.String(observability.AttrLLMModel, p.config.Model),
			attribute.String("provider", "anthropic"),
			attribute.Bool("streaming", false),
			attribute.Bool("structured", structConfig != nil),
		),
	)
	defer span.End()

	req, prefill, err := p.buildRequest(messages, false, tools, structConfig)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid schema")
		return "", nil, 0, err
	}

	response, err := p.makeRequest(ctx, req)
	duration := time.Since(startTime)
	metrics := observability.GetGlobalMetrics()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.RecordLLMCall(ctx, p.config.Model, duration, 0, 0, err)
		return "", nil, 0, err
	}

	if response.Error != nil {
		apiErr := fmt.Errorf("Anthropic API error: %s", response.Error.Message)
		span.RecordError(apiErr)
		span.SetStatus(codes.Error, response.Error.Message)
		metrics.RecordLLMCall(ctx, p.config.Model, duration, 0, 0, apiErr)
		return "", nil, 0, apiErr
	}

	var text strings.Builder
	var toolCalls []*ToolCall
	for _, block := range response.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			args := block.Input
			if args == nil {
				args = map[string]interface{}{}
			}
			toolCalls = append(toolCalls, &ToolCall{
				ID:   block.ID,
				Name: block.Name,
				Args: args,
			})
		}
	}

	// The prefilled opening brace is part of the answer but never echoed
	// back by the API.
	out := prefill + text.String()
	tokensUsed := response.Usage.InputTokens + response.Usage.OutputTokens

	span.SetAttributes(
		attribute.Int("llm.tokens.input", response.Usage.InputTokens),
		attribute.Int("llm.tokens.output", response.Usage.OutputTokens),
		attribute.Int("llm.tool_calls", len(toolCalls)),
	)
	span.SetStatus(codes.Ok, "success")
	metrics.RecordLLMCall(ctx, p.config.Model, duration, response.Usage.InputTokens, response.Usage.OutputTokens, nil)

	return out, toolCalls, tokensUsed, nil
}

func (p *AnthropicProvider) GenerateStreaming(ctx context.Context, messages []Message, tools []ToolDefinition) (<-chan StreamChunk, error) {
	req, _, err := p.buildRequest(messages, true, tools, nil)
	if err != nil {
		return nil, err
	}

	outputCh := make(chan StreamChunk, 100)

	go func() {
		defer close(outputCh)

		if err := p.makeStreamingRequest(ctx, req, outputCh); err != nil {
			outputCh <- StreamChunk{
				Type:  "error",
				Error: err,
			}
		}
	}()

	return outputCh, nil
}

func (p *AnthropicProvider) buildRequest(messages []Message, stream bool, tools []ToolDefinition, structConfig *StructuredOutputConfig) (AnthropicRequest, string, error) {
	system, anthropicMessages := convertToAnthropicMessages(messages)

	prefill := ""
	if structConfig != nil && structConfig.Format == "json" {
		if structConfig.Schema != nil {
			withSchema, err := appendSchemaInstructions(system, structConfig)
			if err != nil {
				return AnthropicRequest{}, "", err
			}
			system = withSchema
		}
		prefill = structConfig.Prefill
		if prefill == "" {
			prefill = "{"
		}
		anthropicMessages = append(anthropicMessages, AnthropicMessage{
			Role:    "assistant",
			Content: prefill,
		})
	}

	maxTokens := p.config.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	// Anthropic caps temperature at 1.
	temp := temperature(p.config)
	if temp > 1 {
		temp = 1
	}

	request := AnthropicRequest{
		Model:       p.config.Model,
		MaxTokens:   maxTokens,
		Messages:    anthropicMessages,
		System:      system,
		Temperature: temp,
		Stream:      stream,
	}

	if len(tools) > 0 {
		request.Tools = convertToAnthropicTools(tools)
	}

	return request, prefill, nil
}

// convertToAnthropicMessages splits system turns out into the top-level
// system field and renders tool traffic as content blocks.
func convertToAnthropicMessages(messages []Message) (string, []AnthropicMessage) {
	var systemParts []string
	out := make([]AnthropicMessage, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			systemParts = append(systemParts, msg.Content)

		case RoleTool:
			block := AnthropicContentBlock{
				Type:      "tool_result",
				ToolUseID: msg.ToolCallID,
				Content:   msg.Content,
			}
			// Results for parallel tool calls share one user turn.
			if n := len(out); n > 0 && out[n-1].Role == "user" {
				if blocks, ok := out[n-1].Content.([]AnthropicContentBlock); ok {
					out[n-1].Content = append(blocks, block)
					continue
				}
			}
			out = append(out, AnthropicMessage{
				Role:    "user",
				Content: []AnthropicContentBlock{block},
			})

		case RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				out = append(out, AnthropicMessage{Role: "assistant", Content: msg.Content})
				continue
			}
			blocks := make([]AnthropicContentBlock, 0, len(msg.ToolCalls)+1)
			if msg.Content != "" {
				blocks = append(blocks, AnthropicContentBlock{Type: "text", Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				input := tc.Args
				if input == nil {
					input = map[string]interface{}{}
				}
				blocks = append(blocks, AnthropicContentBlock{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: input,
				})
			}
			out = append(out, AnthropicMessage{Role: "assistant", Content: blocks})

		default:
			out = append(out, AnthropicMessage{Role: "user", Content: msg.Content})
		}
	}

	return strings.Join(systemParts, "\n\n"), out
}

func convertToAnthropicTools(tools []ToolDefinition) []AnthropicTool {
	result := make([]AnthropicTool, len(tools))
	for i, tool := range tools {
		schema := tool.Parameters
		if schema == nil {
			schema = map[string]interface{}{"type": "object"}
		}
		result[i] = AnthropicTool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
		}
	}
	return result
}

// appendSchemaInstructions embeds the response schema in the system
// prompt for providers without a native structured-output mode.
func appendSchemaInstructions(system string, structConfig *StructuredOutputConfig) (string, error) {
	schemaJSON, err := json.MarshalIndent(structConfig.Schema, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal schema: %w", err)
	}

	var b strings.Builder
	if system != "" {
		b.WriteString(system)
		b.WriteString("\n\n")
	}
	b.WriteString("You must respond with a single JSON object matching this schema exactly:\n\n")
	b.Write(schemaJSON)
	if len(structConfig.PropertyOrdering) > 0 {
		b.WriteString("\n\nEmit the properties in this order: ")
		b.WriteString(strings.Join(structConfig.PropertyOrdering, ", "))
	}
	b.WriteString("\n\nRespond ONLY with the JSON object. No prose, no code fences.")

	return b.String(), nil
}

func parseAnthropicError(body []byte) *AnthropicError {
	if len(body) == 0 {
		return nil
	}
	var errorResp struct {
		Error AnthropicError `json:"error"`
	}
	if err := json.Unmarshal(body, &errorResp); err == nil && errorResp.Error.Message != "" {
		return &errorResp.Error
	}
	return nil
}

func (p *AnthropicProvider) newRequest(ctx context.Context, request AnthropicRequest) (*http.Request, error) {
	requestBody, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.config.Host+"/v1/messages", bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	// The retrying client replays bodies across attempts.
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(requestBody)), nil
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.config.APIKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	return req, nil
}

func checkAnthropicStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	body, readErr := io.ReadAll(resp.Body)
	errorBody := string(body)
	if readErr != nil {
		errorBody = fmt.Sprintf("(failed to read error body: %v)", readErr)
	}
	if apiErr := parseAnthropicError(body); apiErr != nil {
		return fmt.Errorf("API request failed with status %d: %s (type: %s)",
			resp.StatusCode, apiErr.Message, apiErr.Type)
	}
	return fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, errorBody)
}

func (p *AnthropicProvider) makeRequest(ctx context.Context, request AnthropicRequest) (*AnthropicResponse, error) {
	req, err := p.newRequest(ctx, request)
	if err != nil {
		return nil, err
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkAnthropicStatus(resp); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var response AnthropicResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return &response, nil
}

// anthropicStreamBlock accumulates one content block across SSE events.
// Tool input arrives as partial JSON fragments on input_json_delta.
type anthropicStreamBlock struct {
	blockType string
	id        string
	name      string
	inputJSON strings.Builder
}

func (p *AnthropicProvider) makeStreamingRequest(ctx context.Context, request AnthropicRequest, outputCh chan<- StreamChunk) error {
	req, err := p.newRequest(ctx, request)
	if err != nil {
		return err
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkAnthropicStatus(resp); err != nil {
		return err
	}

	reader := bufio.NewReader(resp.Body)
	blocks := make(map[int]*anthropicStreamBlock)
	inputTokens := 0
	outputTokens := 0

	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("failed to read stream: %w", err)
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 || !bytes.HasPrefix(line, []byte("data: ")) {
			continue
		}
		line = line[6:]

		var event AnthropicStreamEvent
		if err := json.Unmarshal(line, &event); err != nil {
			continue
		}

		switch event.Type {
		case "error":
			if event.Error != nil {
				return fmt.Errorf("API error: %s", event.Error.Message)
			}
			return fmt.Errorf("API error")

		case "message_start":
			if event.Message != nil {
				inputTokens = event.Message.Usage.InputTokens
			}

		case "content_block_start":
			if event.ContentBlock == nil {
				continue
			}
			blocks[event.Index] = &anthropicStreamBlock{
				blockType: event.ContentBlock.Type,
				id:        event.ContentBlock.ID,
				name:      event.ContentBlock.Name,
			}

		case "content_block_delta":
			if event.Delta == nil {
				continue
			}
			switch event.Delta.Type {
			case "text_delta":
				if event.Delta.Text != "" {
					outputCh <- StreamChunk{
						Type: "text",
						Text: event.Delta.Text,
					}
				}
			case "input_json_delta":
				if block, ok := blocks[event.Index]; ok {
					block.inputJSON.WriteString(event.Delta.PartialJSON)
				}
			}

		case "content_block_stop":
			block, ok := blocks[event.Index]
			if !ok {
				continue
			}
			delete(blocks, event.Index)
			if block.blockType != "tool_use" {
				continue
			}
			args := map[string]interface{}{}
			if raw := block.inputJSON.String(); raw != "" {
				if err := json.Unmarshal([]byte(raw), &args); err != nil {
					return fmt.Errorf("failed to parse tool arguments: %w", err)
				}
			}
			outputCh <- StreamChunk{
				Type: "tool_call",
				ToolCall: &ToolCall{
					ID:   block.id,
					Name: block.name,
					Args: args,
				},
			}

		case "message_delta":
			if event.Usage != nil {
				outputTokens = event.Usage.OutputTokens
			}

		case "message_stop":
			outputCh <- StreamChunk{
				Type:   "done",
				Tokens: inputTokens + outputTokens,
			}
			return nil
		}
	}

	outputCh <- StreamChunk{
		Type:   "done",
		Tokens: inputTokens + outputTokens,
	}

	return nil
}
