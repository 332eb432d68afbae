// Package protocol defines the event frames a chat turn streams to its
// client. The agent and long-running tools produce them, background jobs
// reuse them for progress, and the HTTP server serializes them as SSE.
package protocol

// Event kinds.
const (
	// EventMessageDelta carries one streamed text fragment.
	EventMessageDelta = "message_delta"
	// EventToolCall announces a tool invocation the model requested.
	EventToolCall = "tool_call"
	// EventToolResult carries a finished tool invocation.
	EventToolResult = "tool_result"
	// EventApprovalRequest suspends the turn until the client answers
	// with a Decision.
	EventApprovalRequest = "approval_request"
	// EventSources carries the source envelopes a retrieval produced, so
	// clients can map citation ids back to URLs.
	EventSources = "sources"
	// EventReportProgress reports report-generation stages.
	EventReportProgress = "report_progress"
	// EventPodcastStatus reports podcast job transitions.
	EventPodcastStatus = "podcast_status"
	// EventDone closes the turn.
	EventDone = "done"
	// EventError closes the turn with a failure.
	EventError = "error"
)

// ToolCall is a model-requested invocation, echoed to the client before
// the tool runs.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"arguments,omitempty"`
}

// ToolResult is the outcome of one invocation. Status is "success",
// "rejected", or "error".
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Status     string `json:"status"`
	Content    string `json:"content,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Approval is the structured payload emitted when a gated tool suspends.
// Args are the proposed arguments; the client may return them edited.
type Approval struct {
	ID       string         `json:"id"`
	CallID   string         `json:"tool_call_id"`
	ToolName string         `json:"tool_name"`
	Summary  string         `json:"summary"`
	Args     map[string]any `json:"arguments"`
}

// Decision actions.
const (
	DecisionApprove = "approve"
	DecisionEdit    = "edit"
	DecisionReject  = "reject"
)

// Decision answers an Approval. Args replace the proposed arguments when
// Action is "edit".
type Decision struct {
	ApprovalID string         `json:"approval_id"`
	Action     string         `json:"action"`
	Args       map[string]any `json:"arguments,omitempty"`
}

// Event is one frame on the turn stream. Kind selects which optional
// field is populated.
type Event struct {
	Kind       string         `json:"kind"`
	Delta      string         `json:"delta,omitempty"`
	ToolCall   *ToolCall      `json:"tool_call,omitempty"`
	ToolResult *ToolResult    `json:"tool_result,omitempty"`
	Approval   *Approval      `json:"approval,omitempty"`
	Progress   map[string]any `json:"progress,omitempty"`
	Error      string         `json:"error,omitempty"`
	Tokens     int            `json:"tokens,omitempty"`
}

// Sink receives events. A nil Sink drops them, so producers emit through
// Send unconditionally.
type Sink func(Event)

func (s Sink) Send(e Event) {
	if s != nil {
		s(e)
	}
}

// Progress emits a progress frame of the given kind.
func (s Sink) Progress(kind string, fields map[string]any) {
	s.Send(Event{Kind: kind, Progress: fields})
}
