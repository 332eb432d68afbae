package llms

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/lorehq/lore/pkg/config"
	"github.com/lorehq/lore/pkg/httpclient"
	"github.com/lorehq/lore/pkg/observability"
)

// OllamaProvider talks to a local or remote Ollama server over /api/chat.
type OllamaProvider struct {
	config     *config.LLMProviderConfig
	httpClient *httpclient.Client
}

type OllamaRequest struct {
	Model    string          `json:"model"`
	Messages []OllamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   interface{}     `json:"format,omitempty"`
	Options  *OllamaOptions  `json:"options,omitempty"`
	Tools    []OllamaTool    `json:"tools,omitempty"`
}

type OllamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type OllamaMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []OllamaToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	ToolName   string           `json:"tool_name,omitempty"`
}

type OllamaTool struct {
	Type     string             `json:"type"`
	Function OllamaToolFunction `json:"function"`
}

type OllamaToolFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// OllamaToolCall arguments arrive as a decoded JSON object, unlike the
// OpenAI wire format where they are a string.
type OllamaToolCall struct {
	Function OllamaToolCallFunction `json:"function"`
}

type OllamaToolCallFunction struct {
	Index     int                    `json:"index,omitempty"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

type OllamaResponse struct {
	Model           string        `json:"model"`
	Message         OllamaMessage `json:"message"`
	Done            bool          `json:"done"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
	Error           string        `json:"error,omitempty"`
}

func NewOllamaProviderFromConfig(cfg *config.LLMProviderConfig) (*OllamaProvider, error) {
	if cfg.Host == "" {
		cfg.Host = "http://localhost:11434"
	}

	return &OllamaProvider{
		config:     cfg,
		httpClient: createHTTPClient(cfg, httpclient.ParseRetryAfterHeaders),
	}, nil
}

func (p *OllamaProvider) GetModelName() string {
	return p.config.Model
}

func (p *OllamaProvider) GetMaxTokens() int {
	return p.config.MaxTokens
}

func (p *OllamaProvider) GetTemperature() float64 {
	return temperature(p.config)
}

func (p *OllamaProvider) Close() error {
	return nil
}

func (p *OllamaProvider) Generate(ctx context.Context, messages []Message, tools []ToolDefinition) (string, []*ToolCall, int, error) {
	return p.generate(ctx, messages, tools, nil)
}

func (p *OllamaProvider) GenerateStructured(ctx context.Context, messages []Message, tools []ToolDefinition, structConfig *StructuredOutputConfig) (string, []*ToolCall, int, error) {
	return p.generate(ctx, messages, tools, structConfig)
}

func (p *OllamaProvider) SupportsStructuredOutput() bool {
	return true
}

func (p *OllamaProvider) generate(ctx context.Context, messages []Message, tools []ToolDefinition, structConfig *StructuredOutputConfig) (string, []*ToolCall, int, error) {
	startTime := time.Now()

	tracer := observability.GetTracer("lore.llm")
	ctx, span := tracer.Start(ctx, observability.SpanLLMRequest,
		trace.WithAttributes(
			attribute.String(observability.AttrLLMModel, p.config.Model),
			attribute.String("provider", "ollama"),
			attribute.Bool("streaming", false),
			attribute.Bool("structured", structConfig != nil),
		),
	)
	defer span.End()

	req, err := p.buildRequest(messages, false, tools, structConfig)
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

	if response.Error != "" {
		apiErr := fmt.Errorf("Ollama API error: %s", response.Error)
		span.RecordError(apiErr)
		span.SetStatus(codes.Error, response.Error)
		metrics.RecordLLMCall(ctx, p.config.Model, duration, 0, 0, apiErr)
		return "", nil, 0, apiErr
	}

	text := response.Message.Content
	toolCalls := convertOllamaToolCalls(response.Message.ToolCalls)
	tokensUsed := response.PromptEvalCount + response.EvalCount

	span.SetAttributes(
		attribute.Int("llm.tokens.input", response.PromptEvalCount),
		attribute.Int("llm.tokens.output", response.EvalCount),
		attribute.Int("llm.tool_calls", len(toolCalls)),
	)
	span.SetStatus(codes.Ok, "success")
	metrics.RecordLLMCall(ctx, p.config.Model, duration, response.PromptEvalCount, response.EvalCount, nil)

	return text, toolCalls, tokensUsed, nil
}

func (p *OllamaProvider) GenerateStreaming(ctx context.Context, messages []Message, tools []ToolDefinition) (<-chan StreamChunk, error) {
	req, err := p.buildRequest(messages, true, tools, nil)
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

func (p *OllamaProvider) buildRequest(messages []Message, stream bool, tools []ToolDefinition, structConfig *StructuredOutputConfig) (OllamaRequest, error) {
	request := OllamaRequest{
		Model:    p.config.Model,
		Messages: convertToOllamaMessages(messages),
		Stream:   stream,
	}

	options := &OllamaOptions{Temperature: temperature(p.config)}
	if p.config.MaxTokens > 0 {
		options.NumPredict = p.config.MaxTokens
	}
	request.Options = options

	if len(tools) > 0 {
		request.Tools = convertToOllamaTools(tools)
	}

	if structConfig != nil && structConfig.Format == "json" {
		if structConfig.Schema == nil {
			request.Format = "json"
			return request, nil
		}
		schema, ok := structConfig.Schema.(map[string]interface{})
		if !ok {
			return OllamaRequest{}, fmt.Errorf("schema must be a map")
		}
		request.Format = schema
		// Local models follow the grammar better when the schema is also
		// spelled out in the prompt.
		instructions, err := appendSchemaInstructions("", structConfig)
		if err != nil {
			return OllamaRequest{}, err
		}
		request.Messages = append(request.Messages, OllamaMessage{
			Role:    "system",
			Content: instructions,
		})
	}

	return request, nil
}

func convertToOllamaMessages(messages []Message) []OllamaMessage {
	out := make([]OllamaMessage, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == RoleTool {
			out = append(out, OllamaMessage{
				Role:       "tool",
				Content:    msg.Content,
				ToolCallID: msg.ToolCallID,
				ToolName:   msg.Name,
			})
			continue
		}

		ollamaMsg := OllamaMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
		for _, tc := range msg.ToolCalls {
			args := tc.Args
			if args == nil {
				args = map[string]interface{}{}
			}
			ollamaMsg.ToolCalls = append(ollamaMsg.ToolCalls, OllamaToolCall{
				Function: OllamaToolCallFunction{
					Name:      tc.Name,
					Arguments: args,
				},
			})
		}
		out = append(out, ollamaMsg)
	}
	return out
}

func convertToOllamaTools(tools []ToolDefinition) []OllamaTool {
	result := make([]OllamaTool, len(tools))
	for i, tool := range tools {
		result[i] = OllamaTool{
			Type: "function",
			Function: OllamaToolFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		}
	}
	return result
}

// convertOllamaToolCalls assigns synthetic IDs since Ollama has none.
func convertOllamaToolCalls(calls []OllamaToolCall) []*ToolCall {
	if len(calls) == 0 {
		return nil
	}
	result := make([]*ToolCall, len(calls))
	for i, tc := range calls {
		args := tc.Function.Arguments
		if args == nil {
			args = map[string]interface{}{}
		}
		result[i] = &ToolCall{
			ID:   fmt.Sprintf("call_%d", i),
			Name: tc.Function.Name,
			Args: args,
		}
	}
	return result
}

func (p *OllamaProvider) newRequest(ctx context.Context, request OllamaRequest) (*http.Request, error) {
	requestBody, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.config.Host+"/api/chat", bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	// The retrying client replays bodies across attempts.
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(requestBody)), nil
	}

	req.Header.Set("Content-Type", "application/json")
	if p.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	}

	return req, nil
}

func checkOllamaStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	body, readErr := io.ReadAll(resp.Body)
	errorBody := string(body)
	if readErr != nil {
		errorBody = fmt.Sprintf("(failed to read error body: %v)", readErr)
	}
	var apiErr struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error != "" {
		return fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, apiErr.Error)
	}
	return fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, errorBody)
}

func (p *OllamaProvider) makeRequest(ctx context.Context, request OllamaRequest) (*OllamaResponse, error) {
	req, err := p.newRequest(ctx, request)
	if err != nil {
		return nil, err
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkOllamaStatus(resp); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var response OllamaResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return &response, nil
}

// makeStreamingRequest consumes Ollama's JSON-lines stream. Each line is
// a complete response object; the final one has done=true and carries
// the token counts.
func (p *OllamaProvider) makeStreamingRequest(ctx context.Context, request OllamaRequest, outputCh chan<- StreamChunk) error {
	req, err := p.newRequest(ctx, request)
	if err != nil {
		return err
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkOllamaStatus(resp); err != nil {
		return err
	}

	reader := bufio.NewReader(resp.Body)
	totalTokens := 0
	callIndex := 0

	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("failed to read stream: %w", err)
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		var streamResp OllamaResponse
		if err := json.Unmarshal(line, &streamResp); err != nil {
			continue
		}

		if streamResp.Error != "" {
			return fmt.Errorf("API error: %s", streamResp.Error)
		}

		if streamResp.Message.Content != "" {
			outputCh <- StreamChunk{
				Type: "text",
				Text: streamResp.Message.Content,
			}
		}

		// Tool calls arrive whole, never fragmented across lines.
		for _, tc := range streamResp.Message.ToolCalls {
			args := tc.Function.Arguments
			if args == nil {
				args = map[string]interface{}{}
			}
			outputCh <- StreamChunk{
				Type: "tool_call",
				ToolCall: &ToolCall{
					ID:   fmt.Sprintf("call_%d", callIndex),
					Name: tc.Function.Name,
					Args: args,
				},
			}
			callIndex++
		}

		if streamResp.Done {
			totalTokens = streamResp.PromptEvalCount + streamResp.EvalCount
			break
		}
	}

	outputCh <- StreamChunk{
		Type:   "done",
		Tokens: totalTokens,
	}

	return nil
}
