package llms

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/genai"

	"github.com/lorehq/lore/pkg/config"
	"github.com/lorehq/lore/pkg/observability"
)

const geminiDefaultHost = "https://generativelanguage.googleapis.com"

// GeminiProvider wraps the official genai SDK. Retries and rate-limit
// handling live inside the SDK client rather than our HTTP wrapper.
type GeminiProvider struct {
	config *config.LLMProviderConfig
	client *genai.Client
}

func NewGeminiProviderFromConfig(cfg *config.LLMProviderConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for Gemini")
	}

	clientConfig := &genai.ClientConfig{
		APIKey: cfg.APIKey,
	}
	if cfg.Host != "" && cfg.Host != geminiDefaultHost {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.Host}
	}

	// Client construction does no I/O, so background context is fine.
	client, err := genai.NewClient(context.Background(), clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiProvider{
		config: cfg,
		client: client,
	}, nil
}

func (p *GeminiProvider) GetModelName() string {
	return p.config.Model
}

func (p *GeminiProvider) GetMaxTokens() int {
	return p.config.MaxTokens
}

func (p *GeminiProvider) GetTemperature() float64 {
	return temperature(p.config)
}

func (p *GeminiProvider) Close() error {
	return nil
}

func (p *GeminiProvider) Generate(ctx context.Context, messages []Message, tools []ToolDefinition) (string, []*ToolCall, int, error) {
	return p.generate(ctx, messages, tools, nil)
}

func (p *GeminiProvider) GenerateStructured(ctx context.Context, messages []Message, tools []ToolDefinition, structConfig *StructuredOutputConfig) (string, []*ToolCall, int, error) {
	return p.generate(ctx, messages, tools, structConfig)
}

func (p *GeminiProvider) SupportsStructuredOutput() bool {
	return true
}

func (p *GeminiProvider) generate(ctx context.Context, messages []Message, tools []ToolDefinition, structConfig *StructuredOutputConfig) (string, []*ToolCall, int, error) {
	startTime := time.Now()

	tracer := observability.GetTracer("lore.llm")
	ctx, span := tracer.Start(ctx, observability.SpanLLMRequest,
		trace.WithAttributes(
			attribute.String(observability.AttrLLMModel, p.config.Model),
			attribute.String("provider", "gemini"),
			attribute.Bool("streaming", false),
			attribute.Bool("structured", structConfig != nil),
		),
	)
	defer span.End()

	contents, systemInstruction := p.buildContents(messages)
	genConfig, err := p.buildGenConfig(systemInstruction, tools, structConfig)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid schema")
		return "", nil, 0, err
	}

	genResp, err := p.client.Models.GenerateContent(ctx, p.config.Model, contents, genConfig)
	duration := time.Since(startTime)
	metrics := observability.GetGlobalMetrics()

	if err != nil {
		genErr := fmt.Errorf("Gemini generation failed: %w", err)
		span.RecordError(genErr)
		span.SetStatus(codes.Error, err.Error())
		metrics.RecordLLMCall(ctx, p.config.Model, duration, 0, 0, genErr)
		return "", nil, 0, genErr
	}

	if len(genResp.Candidates) == 0 {
		emptyErr := fmt.Errorf("empty response from Gemini")
		span.RecordError(emptyErr)
		span.SetStatus(codes.Error, "no candidates")
		metrics.RecordLLMCall(ctx, p.config.Model, duration, 0, 0, emptyErr)
		return "", nil, 0, emptyErr
	}

	var text strings.Builder
	var toolCalls []*ToolCall

	candidate := genResp.Candidates[0]
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part.Text != "" && !part.Thought {
				text.WriteString(part.Text)
			}
			if part.FunctionCall != nil {
				toolCalls = append(toolCalls, toolCallFromFunctionCall(part.FunctionCall))
			}
		}
	}

	inputTokens, outputTokens, tokensUsed := 0, 0, 0
	if genResp.UsageMetadata != nil {
		inputTokens = int(genResp.UsageMetadata.PromptTokenCount)
		outputTokens = int(genResp.UsageMetadata.CandidatesTokenCount)
		tokensUsed = int(genResp.UsageMetadata.TotalTokenCount)
	}

	span.SetAttributes(
		attribute.Int("llm.tokens.input", inputTokens),
		attribute.Int("llm.tokens.output", outputTokens),
		attribute.Int("llm.tool_calls", len(toolCalls)),
	)
	span.SetStatus(codes.Ok, "success")
	metrics.RecordLLMCall(ctx, p.config.Model, duration, inputTokens, outputTokens, nil)

	return text.String(), toolCalls, tokensUsed, nil
}

func (p *GeminiProvider) GenerateStreaming(ctx context.Context, messages []Message, tools []ToolDefinition) (<-chan StreamChunk, error) {
	contents, systemInstruction := p.buildContents(messages)
	genConfig, err := p.buildGenConfig(systemInstruction, tools, nil)
	if err != nil {
		return nil, err
	}

	outputCh := make(chan StreamChunk, 100)

	go func() {
		defer close(outputCh)

		// Gemini can resend a function call in later chunks; each call is
		// emitted once, keyed by its (possibly derived) ID.
		emitted := make(map[string]bool)
		totalTokens := 0

		for genResp, err := range p.client.Models.GenerateContentStream(ctx, p.config.Model, contents, genConfig) {
			if err != nil {
				outputCh <- StreamChunk{
					Type:  "error",
					Error: fmt.Errorf("Gemini streaming error: %w", err),
				}
				return
			}

			if genResp.UsageMetadata != nil {
				totalTokens = int(genResp.UsageMetadata.TotalTokenCount)
			}

			if len(genResp.Candidates) == 0 || genResp.Candidates[0].Content == nil {
				continue
			}

			for _, part := range genResp.Candidates[0].Content.Parts {
				if part.Text != "" && !part.Thought {
					outputCh <- StreamChunk{
						Type: "text",
						Text: part.Text,
					}
				}

				if part.FunctionCall == nil {
					continue
				}
				tc := toolCallFromFunctionCall(part.FunctionCall)
				if emitted[tc.ID] {
					continue
				}
				emitted[tc.ID] = true
				outputCh <- StreamChunk{
					Type:     "tool_call",
					ToolCall: tc,
				}
			}
		}

		outputCh <- StreamChunk{
			Type:   "done",
			Tokens: totalTokens,
		}
	}()

	return outputCh, nil
}

// buildContents converts the conversation; system turns become the
// system instruction, tool results become function response parts.
func (p *GeminiProvider) buildContents(messages []Message) ([]*genai.Content, *genai.Content) {
	var systemParts []string
	var contents []*genai.Content

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			systemParts = append(systemParts, msg.Content)

		case RoleTool:
			contents = append(contents, &genai.Content{
				Role: "user",
				Parts: []*genai.Part{{
					FunctionResponse: &genai.FunctionResponse{
						ID:       msg.ToolCallID,
						Name:     msg.Name,
						Response: map[string]any{"result": msg.Content},
					},
				}},
			})

		case RoleAssistant:
			var parts []*genai.Part
			if msg.Content != "" {
				parts = append(parts, &genai.Part{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				args := tc.Args
				if args == nil {
					args = map[string]interface{}{}
				}
				parts = append(parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{
						ID:   tc.ID,
						Name: tc.Name,
						Args: args,
					},
				})
			}
			if len(parts) == 0 {
				continue
			}
			contents = append(contents, &genai.Content{Role: "model", Parts: parts})

		default:
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []*genai.Part{{Text: msg.Content}},
			})
		}
	}

	var systemInstruction *genai.Content
	if len(systemParts) > 0 {
		systemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: strings.Join(systemParts, "\n\n")}},
			Role:  "user",
		}
	}

	return contents, systemInstruction
}

func (p *GeminiProvider) buildGenConfig(systemInstruction *genai.Content, tools []ToolDefinition, structConfig *StructuredOutputConfig) (*genai.GenerateContentConfig, error) {
	genConfig := &genai.GenerateContentConfig{
		SystemInstruction: systemInstruction,
		Temperature:       genai.Ptr(float32(temperature(p.config))),
	}

	if p.config.MaxTokens > 0 {
		genConfig.MaxOutputTokens = int32(p.config.MaxTokens)
	}

	if len(tools) > 0 {
		genConfig.Tools = convertToGenaiTools(tools)
	}

	if structConfig != nil && structConfig.Format == "json" {
		genConfig.ResponseMIMEType = "application/json"
		if structConfig.Schema != nil {
			schema, ok := structConfig.Schema.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("schema must be a map")
			}
			genConfig.ResponseSchema = toGenaiSchema(schema)
			if len(structConfig.PropertyOrdering) > 0 {
				genConfig.ResponseSchema.PropertyOrdering = structConfig.PropertyOrdering
			}
		}
	}

	return genConfig, nil
}

func convertToGenaiTools(tools []ToolDefinition) []*genai.Tool {
	genaiTools := make([]*genai.Tool, len(tools))
	for i, tool := range tools {
		genaiTools[i] = &genai.Tool{
			FunctionDeclarations: []*genai.FunctionDeclaration{{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  toGenaiSchema(tool.Parameters),
			}},
		}
	}
	return genaiTools
}

// toGenaiSchema converts a JSON schema map to the SDK schema type.
func toGenaiSchema(schema map[string]interface{}) *genai.Schema {
	if schema == nil {
		return nil
	}

	s := &genai.Schema{}

	if t, ok := schema["type"].(string); ok {
		s.Type = genai.Type(t)
	}
	if desc, ok := schema["description"].(string); ok {
		s.Description = desc
	}
	if props, ok := schema["properties"].(map[string]interface{}); ok {
		s.Properties = make(map[string]*genai.Schema)
		for name, prop := range props {
			if propMap, ok := prop.(map[string]interface{}); ok {
				s.Properties[name] = toGenaiSchema(propMap)
			}
		}
	}
	if required, ok := schema["required"].([]interface{}); ok {
		for _, r := range required {
			if rs, ok := r.(string); ok {
				s.Required = append(s.Required, rs)
			}
		}
	}
	if items, ok := schema["items"].(map[string]interface{}); ok {
		s.Items = toGenaiSchema(items)
	}
	if enum, ok := schema["enum"].([]interface{}); ok {
		for _, e := range enum {
			if es, ok := e.(string); ok {
				s.Enum = append(s.Enum, es)
			}
		}
	}

	return s
}

func toolCallFromFunctionCall(fc *genai.FunctionCall) *ToolCall {
	id := fc.ID
	if id == "" {
		id = stableFunctionCallID(fc.Name, fc.Args)
	}
	args := fc.Args
	if args == nil {
		args = map[string]interface{}{}
	}
	return &ToolCall{
		ID:   id,
		Name: fc.Name,
		Args: args,
	}
}

// stableFunctionCallID derives a deterministic ID for calls Gemini sends
// without one, so a call repeated across chunks maps to the same ID.
func stableFunctionCallID(name string, args map[string]interface{}) string {
	payload, _ := json.Marshal(map[string]interface{}{
		"name": name,
		"args": args,
	})
	hash := sha256.Sum256(payload)
	return fmt.Sprintf("lore-%x", hash[:16])
}
