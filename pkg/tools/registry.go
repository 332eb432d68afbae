package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/lorehq/lore/pkg/llms"
	"github.com/lorehq/lore/pkg/observability"
	"github.com/lorehq/lore/pkg/protocol"
)

// rejectedResult is what the model sees when the user declines a gated
// tool. The wording tells it to stop, not to negotiate.
const rejectedResult = `{"status": "rejected", "message": "The user rejected this action. Acknowledge briefly and do not retry it."}`

// Registry holds one chat turn's toolbox and wraps every invocation with
// tracing and metrics.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry(list ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool, len(list))}
	for _, t := range list {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(t Tool) error {
	name := t.Name()
	if name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}
	r.tools[name] = t
	return nil
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns the registered tools sorted by name.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Definitions returns the tool set in the shape the LLM layer advertises.
func (r *Registry) Definitions() []llms.ToolDefinition {
	list := r.List()
	defs := make([]llms.ToolDefinition, len(list))
	for i, t := range list {
		defs[i] = Definition(t)
	}
	return defs
}

// Invoke runs one tool call under a span and records its duration.
// Unknown tool names fail the call, not the turn.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) ToolOutcome {
	tool, ok := r.Get(name)
	if !ok {
		return r.observe(ctx, name, func(context.Context) ToolOutcome {
			return Failedf("tool not found: %s", name)
		})
	}
	return r.observe(ctx, name, func(ctx context.Context) ToolOutcome {
		return tool.Invoke(ctx, args)
	})
}

// Resume finishes a suspended invocation with the host's decision.
// Approve executes the proposed arguments, edit executes the replacement
// arguments, reject short-circuits with a rejected result the model is
// told not to retry.
func (r *Registry) Resume(ctx context.Context, approval *protocol.Approval, decision protocol.Decision) ToolOutcome {
	if approval == nil {
		return Failedf("no approval to resume")
	}
	if decision.Action == protocol.DecisionReject {
		return Success(rejectedResult)
	}

	tool, ok := r.Get(approval.ToolName)
	if !ok {
		return Failedf("tool not found: %s", approval.ToolName)
	}
	gated, ok := tool.(Gated)
	if !ok {
		return Failedf("tool %s does not support approval resume", approval.ToolName)
	}

	args := approval.Args
	if decision.Action == protocol.DecisionEdit && decision.Args != nil {
		args = decision.Args
	} else if decision.Action != protocol.DecisionApprove && decision.Action != protocol.DecisionEdit {
		return Failedf("unknown decision action %q", decision.Action)
	}

	return r.observe(ctx, approval.ToolName, func(ctx context.Context) ToolOutcome {
		return gated.Execute(ctx, args)
	})
}

func (r *Registry) observe(ctx context.Context, name string, fn func(context.Context) ToolOutcome) ToolOutcome {
	start := time.Now()
	tracer := observability.GetTracer("tools")
	ctx, span := tracer.Start(ctx, observability.SpanToolExecution,
		trace.WithAttributes(attribute.String(observability.AttrToolName, name)))
	defer span.End()

	outcome := fn(ctx)
	duration := time.Since(start)

	var recordErr error
	switch outcome.Status {
	case StatusFailed:
		recordErr = outcome.Err
		span.RecordError(outcome.Err)
		span.SetStatus(codes.Error, outcome.Err.Error())
	case StatusSuspended:
		span.SetStatus(codes.Ok, "suspended for approval")
	default:
		span.SetStatus(codes.Ok, "success")
	}
	observability.GetGlobalMetrics().RecordToolExecution(ctx, name, duration, recordErr)

	span.SetAttributes(
		attribute.String("tool.status", outcome.Status),
		attribute.Int64("tool.duration_ms", duration.Milliseconds()),
	)
	return outcome
}
