// Package tools implements the agent's callable tool set: knowledge and
// docs search, web scraping and previews, memory, podcast and report
// generation, approval-gated Linear mutations, and user-defined MCP
// tools. The agent loop inspects each invocation's ToolOutcome variant;
// tools never signal control flow by panicking or by error alone.
package tools

import (
	"context"
	"fmt"

	"github.com/lorehq/lore/pkg/llms"
	"github.com/lorehq/lore/pkg/protocol"
)

// ToolOutcome statuses.
const (
	StatusSuccess   = "success"
	StatusSuspended = "suspended"
	StatusFailed    = "failed"
)

// ToolOutcome is the result of one invocation. Exactly one of Result,
// Approval, or Err is meaningful, selected by Status.
type ToolOutcome struct {
	Status   string
	Result   string
	Approval *protocol.Approval
	Err      error
}

func Success(result string) ToolOutcome {
	return ToolOutcome{Status: StatusSuccess, Result: result}
}

func Suspended(approval *protocol.Approval) ToolOutcome {
	return ToolOutcome{Status: StatusSuspended, Approval: approval}
}

func Failed(err error) ToolOutcome {
	return ToolOutcome{Status: StatusFailed, Err: err}
}

// Failedf is Failed with formatting.
func Failedf(format string, args ...any) ToolOutcome {
	return Failed(fmt.Errorf(format, args...))
}

// Tool is one callable capability exposed to the model.
type Tool interface {
	Name() string
	Description() string
	// ArgsSchema returns the JSON schema of the tool's arguments.
	ArgsSchema() map[string]any
	Invoke(ctx context.Context, args map[string]any) ToolOutcome
}

// Gated marks tools whose Invoke suspends for approval instead of acting.
// Execute performs the action once the host approves, with the original
// or edited arguments.
type Gated interface {
	Tool
	Execute(ctx context.Context, args map[string]any) ToolOutcome
}

// Definition maps a tool onto the provider-neutral shape the LLM layer
// advertises.
func Definition(t Tool) llms.ToolDefinition {
	return llms.ToolDefinition{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  t.ArgsSchema(),
	}
}

// Argument readers. Tool-call arguments arrive JSON-decoded, so numbers
// are float64 and lists are []any.

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	default:
		return def
	}
}

func stringListArg(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		if list, ok := args[key].([]string); ok {
			return list
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
