// Package agent runs the conversational loop: one Turn per user message,
// driving the LLM in streaming mode, executing the tool calls it emits in
// order, and suspending on approval-gated tools until the host answers.
// The loop is single-threaded and cooperative; everything the client sees
// flows through a protocol.Sink.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/lorehq/lore/pkg/config"
	"github.com/lorehq/lore/pkg/llms"
	"github.com/lorehq/lore/pkg/logger"
	"github.com/lorehq/lore/pkg/observability"
	"github.com/lorehq/lore/pkg/protocol"
	"github.com/lorehq/lore/pkg/store"
	"github.com/lorehq/lore/pkg/tools"
)

// ChatStore is the persistence surface one chat turn needs.
type ChatStore interface {
	GetChat(ctx context.Context, id uuid.UUID) (*store.Chat, error)
	ListChatMessages(ctx context.Context, chatID uuid.UUID) ([]store.ChatMessage, error)
	AppendChatMessage(ctx context.Context, chatID uuid.UUID, role, content string, citations []int64) (*store.ChatMessage, error)
	ListConnectors(ctx context.Context, searchSpaceID uuid.UUID) ([]store.Connector, error)
}

// Assembler builds the per-turn tool set. *tools.Toolbox implements it.
type Assembler interface {
	Assemble(ctx context.Context, userID string, searchSpaceID uuid.UUID, sink protocol.Sink, conversation func() string, rows []store.Connector) (*tools.Turn, error)
}

// Decider blocks until the host answers an approval request. A nil
// Decider rejects every gated action, so headless callers never mutate
// external systems by accident.
type Decider func(ctx context.Context, approval *protocol.Approval) (protocol.Decision, error)

// TurnRequest is one user message addressed to a chat.
type TurnRequest struct {
	UserID  string
	ChatID  uuid.UUID
	Message string
}

// Agent answers chat turns over the user's knowledge.
type Agent struct {
	store   ChatStore
	toolbox Assembler
	llm     llms.LLMProvider
	log     *slog.Logger

	// mu guards cfg; config reloads swap it between turns.
	mu  sync.RWMutex
	cfg config.AgentConfig
}

func New(st ChatStore, toolbox Assembler, llm llms.LLMProvider, cfg config.AgentConfig) *Agent {
	return &Agent{
		store:   st,
		toolbox: toolbox,
		llm:     llm,
		cfg:     cfg,
		log:     logger.Component("agent"),
	}
}

// SetConfig swaps the agent toggles (citations, instructions, iteration
// budget). Turns already in flight keep the config they started with.
func (a *Agent) SetConfig(cfg config.AgentConfig) {
	a.mu.Lock()
	a.cfg = cfg
	a.mu.Unlock()
}

func (a *Agent) config() config.AgentConfig {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg
}

// Turn runs one user message to completion and returns the persisted
// assistant reply. Events stream to sink as they happen, ending with a
// done frame carrying the turn's token total. Failures are returned, not
// framed; the caller owns the error event.
func (a *Agent) Turn(ctx context.Context, req TurnRequest, sink protocol.Sink, decide Decider) (*store.ChatMessage, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, fmt.Errorf("message is required")
	}
	if req.UserID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	if decide == nil {
		decide = func(context.Context, *protocol.Approval) (protocol.Decision, error) {
			return protocol.Decision{Action: protocol.DecisionReject}, nil
		}
	}
	cfg := a.config()

	chat, err := a.store.GetChat(ctx, req.ChatID)
	if err != nil {
		return nil, fmt.Errorf("load chat: %w", err)
	}

	tracer := observability.GetTracer("agent")
	ctx, span := tracer.Start(ctx, observability.SpanAgentTurn,
		trace.WithAttributes(
			attribute.String(observability.AttrSearchSpaceID, chat.SearchSpaceID.String()),
			attribute.String("chat.id", chat.ID.String()),
		))
	defer span.End()

	history, err := a.store.ListChatMessages(ctx, chat.ID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("load chat history: %w", err)
	}
	rows, err := a.store.ListConnectors(ctx, chat.SearchSpaceID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("load connectors: %w", err)
	}

	turn, err := a.toolbox.Assemble(ctx, req.UserID, chat.SearchSpaceID, sink,
		func() string { return transcript(history, req.Message) }, rows)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("assemble tools: %w", err)
	}
	defer turn.Close()

	if _, err := a.store.AppendChatMessage(ctx, chat.ID, store.ChatRoleUser, req.Message, nil); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("persist user message: %w", err)
	}

	msgs := make([]llms.Message, 0, len(history)+2)
	msgs = append(msgs, llms.SystemMessage(systemPrompt(time.Now(), cfg)))
	msgs = append(msgs, historyMessages(history)...)
	msgs = append(msgs, llms.UserMessage(req.Message))

	defs := turn.Registry.Definitions()
	scope := newCitationScope()
	start := time.Now()

	var reply strings.Builder
	totalTokens := 0
	totalCalls := 0
	answered := false

	for iteration := 0; iteration < cfg.MaxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}

		text, calls, tokens, err := a.stream(ctx, msgs, defs, sink)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("llm round %d: %w", iteration+1, err)
		}
		totalTokens += tokens
		if text != "" {
			if reply.Len() > 0 {
				reply.WriteString("\n\n")
			}
			reply.WriteString(text)
		}

		if len(calls) == 0 {
			answered = true
			break
		}

		a.log.Debug("tool round",
			"chat_id", chat.ID,
			"iteration", iteration+1,
			"tools", toolNames(calls))

		msgs = append(msgs, llms.AssistantToolCalls(text, calls))
		for _, call := range calls {
			content, err := a.runTool(ctx, turn.Registry, call, sink, decide)
			if err != nil {
				span.SetStatus(codes.Error, err.Error())
				return nil, err
			}
			totalCalls++
			scope.observe(content)
			if _, err := a.store.AppendChatMessage(ctx, chat.ID, store.ChatRoleTool, content, nil); err != nil {
				span.SetStatus(codes.Error, err.Error())
				return nil, fmt.Errorf("persist tool message: %w", err)
			}
			msgs = append(msgs, llms.ToolResultMessage(call.ID, call.Name, content))
		}
	}

	if !answered {
		err := fmt.Errorf("turn exceeded %d tool iterations", cfg.MaxIterations)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	content, citations := scope.filter(reply.String())
	saved, err := a.store.AppendChatMessage(ctx, chat.ID, store.ChatRoleAssistant, content, citations)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("persist assistant message: %w", err)
	}

	span.SetStatus(codes.Ok, "answered")
	a.log.Info("turn complete",
		"chat_id", chat.ID,
		"tool_calls", totalCalls,
		"citations", len(citations),
		"tokens", totalTokens,
		"duration", time.Since(start))
	sink.Send(protocol.Event{Kind: protocol.EventDone, Tokens: totalTokens})
	return saved, nil
}

// stream drives one LLM round, forwarding text deltas to the sink and
// collecting the round's tool calls. Tokens come from the final done
// chunk.
func (a *Agent) stream(ctx context.Context, msgs []llms.Message, defs []llms.ToolDefinition, sink protocol.Sink) (string, []llms.ToolCall, int, error) {
	ch, err := a.llm.GenerateStreaming(ctx, msgs, defs)
	if err != nil {
		return "", nil, 0, err
	}

	var text strings.Builder
	var calls []llms.ToolCall
	tokens := 0
	for chunk := range ch {
		switch chunk.Type {
		case "text":
			text.WriteString(chunk.Text)
			sink.Send(protocol.Event{Kind: protocol.EventMessageDelta, Delta: chunk.Text})
		case "tool_call":
			if chunk.ToolCall != nil {
				calls = append(calls, *chunk.ToolCall)
			}
		case "done":
			tokens = chunk.Tokens
		case "error":
			return "", nil, 0, chunk.Error
		}
	}
	if err := ctx.Err(); err != nil {
		return "", nil, 0, err
	}
	return text.String(), calls, tokens, nil
}

// runTool executes one call and returns the content the model sees.
// Suspended outcomes block on the host's decision; a reject resumes with
// a rejected result instead of executing. Tool failures stay
// conversational, so the only errors returned are the host's.
func (a *Agent) runTool(ctx context.Context, registry *tools.Registry, call llms.ToolCall, sink protocol.Sink, decide Decider) (string, error) {
	sink.Send(protocol.Event{Kind: protocol.EventToolCall, ToolCall: &protocol.ToolCall{
		ID:   call.ID,
		Name: call.Name,
		Args: call.Args,
	}})

	outcome := registry.Invoke(ctx, call.Name, call.Args)
	rejected := false
	if outcome.Status == tools.StatusSuspended {
		approval := outcome.Approval
		approval.CallID = call.ID
		sink.Send(protocol.Event{Kind: protocol.EventApprovalRequest, Approval: approval})

		decision, err := decide(ctx, approval)
		if err != nil {
			return "", fmt.Errorf("approval for %s: %w", call.Name, err)
		}
		rejected = decision.Action == protocol.DecisionReject
		outcome = registry.Resume(ctx, approval, decision)
	}

	result := protocol.ToolResult{ToolCallID: call.ID, Name: call.Name}
	var content string
	if outcome.Status == tools.StatusFailed {
		content = fmt.Sprintf("Error: %v", outcome.Err)
		result.Status = "error"
		result.Error = outcome.Err.Error()
	} else {
		content = outcome.Result
		result.Content = content
		result.Status = "success"
		if rejected {
			result.Status = "rejected"
		}
	}
	sink.Send(protocol.Event{Kind: protocol.EventToolResult, ToolResult: &result})
	return content, nil
}

// historyMessages replays stored turns as provider messages. Tool rows
// are kept for the record but not replayed; providers require
// call/result pairing that the store does not reconstruct.
func historyMessages(history []store.ChatMessage) []llms.Message {
	msgs := make([]llms.Message, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case store.ChatRoleUser:
			msgs = append(msgs, llms.UserMessage(m.Content))
		case store.ChatRoleAssistant:
			msgs = append(msgs, llms.AssistantMessage(m.Content))
		}
	}
	return msgs
}

// transcript renders the conversation for the report generator's
// conversation strategy. The current message is included because it is
// not yet part of the loaded history.
func transcript(history []store.ChatMessage, current string) string {
	var b strings.Builder
	for _, m := range history {
		switch m.Role {
		case store.ChatRoleUser:
			fmt.Fprintf(&b, "User: %s\n\n", m.Content)
		case store.ChatRoleAssistant:
			fmt.Fprintf(&b, "Assistant: %s\n\n", m.Content)
		}
	}
	fmt.Fprintf(&b, "User: %s", current)
	return b.String()
}

func toolNames(calls []llms.ToolCall) []string {
	names := make([]string, len(calls))
	for i, c := range calls {
		names[i] = c.Name
	}
	return names
}
