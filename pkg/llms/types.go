// Package llms provides the LLM provider abstraction: a uniform chat
// interface over OpenAI, Anthropic, Gemini, and Ollama, plus a role router
// that maps workloads (fast, long_context, strategic) onto configured
// providers.
package llms

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one turn of provider-neutral chat history.
type Message struct {
	Role    string
	Content string

	// ToolCalls carries the calls an assistant turn proposed.
	ToolCalls []ToolCall

	// ToolCallID and Name identify which call a tool turn answers.
	ToolCallID string
	Name       string
}

func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// AssistantToolCalls builds the assistant turn echoing proposed tool calls
// back into history before their results.
func AssistantToolCalls(content string, calls []ToolCall) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: calls}
}

// ToolResultMessage builds the tool turn answering one call.
func ToolResultMessage(callID, name, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: callID, Name: name}
}

// ToolCall is a provider-neutral function call emitted by a model.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]interface{}
}

// ToolDefinition describes a callable tool to the model. Parameters is a
// JSON schema object.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// StreamChunk is a piece of streaming output.
//
// Types: "text" (delta), "tool_call" (complete accumulated call), "done"
// (final, carries total tokens), "error".
type StreamChunk struct {
	Type     string
	Text     string
	ToolCall *ToolCall
	Tokens   int
	Error    error
}

// StructuredOutputConfig requests schema-constrained output. Providers with
// native JSON modes use them; others are steered by prompt and prefill.
type StructuredOutputConfig struct {
	// Format is "json" for now.
	Format string

	// Schema is a JSON schema object (map[string]interface{}).
	Schema interface{}

	// Prefill seeds the assistant response, for providers that support it.
	Prefill string

	// PropertyOrdering hints key order to providers that honor it.
	PropertyOrdering []string
}
