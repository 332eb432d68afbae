package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/lorehq/lore/pkg/agent"
	"github.com/lorehq/lore/pkg/protocol"
	"github.com/lorehq/lore/pkg/store"
)

// eventStream writes protocol events as SSE data frames. Sends are
// serialized; tools may emit from helper goroutines.
type eventStream struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
}

func newEventStream(w http.ResponseWriter) (*eventStream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &eventStream{w: w, flusher: flusher}, nil
}

func (es *eventStream) send(e protocol.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	es.mu.Lock()
	fmt.Fprintf(es.w, "data: %s\n\n", data)
	es.flusher.Flush()
	es.mu.Unlock()
}

// approvalBroker hands decisions from POST /approvals/{id} to the turns
// blocked on them. Channels are buffered and stay registered until the
// waiter consumes, so a decision landing between the approval frame
// going out and the turn blocking in wait is not lost.
type approvalBroker struct {
	mu      sync.Mutex
	pending map[string]chan protocol.Decision
}

func newApprovalBroker() *approvalBroker {
	return &approvalBroker{pending: make(map[string]chan protocol.Decision)}
}

// open registers a waiter channel before the approval frame reaches the
// client. Idempotent.
func (b *approvalBroker) open(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.pending[id]; !ok {
		b.pending[id] = make(chan protocol.Decision, 1)
	}
}

// wait blocks until a decision arrives or ctx ends. The entry is removed
// on delivery; abandoned entries are swept by the turn's drop.
func (b *approvalBroker) wait(ctx context.Context, id string) (protocol.Decision, error) {
	b.mu.Lock()
	ch, ok := b.pending[id]
	if !ok {
		ch = make(chan protocol.Decision, 1)
		b.pending[id] = ch
	}
	b.mu.Unlock()

	select {
	case d := <-ch:
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
		return d, nil
	case <-ctx.Done():
		return protocol.Decision{}, ctx.Err()
	}
}

// resolve delivers a decision. False means nothing is pending under id:
// never issued, already decided, or its turn ended.
func (b *approvalBroker) resolve(id string, d protocol.Decision) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.pending[id]
	if !ok {
		return false
	}
	select {
	case ch <- d:
		return true
	default:
		return false
	}
}

// drop discards the ids a finished turn leaves behind.
func (b *approvalBroker) drop(ids []string) {
	b.mu.Lock()
	for _, id := range ids {
		delete(b.pending, id)
	}
	b.mu.Unlock()
}

type turnRequest struct {
	Message string `json:"message"`
}

// handleTurn runs one agent turn and streams its protocol events as SSE.
// The sink wrapper registers approval waiters before their frames go
// out, so a decision POSTed the moment the client sees the frame cannot
// miss the turn.
func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	var req turnRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	chat, err := s.ownedChat(r, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "chat not found")
			return
		}
		s.internalError(w, "resolve chat", err)
		return
	}

	stream, err := newEventStream(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}

	var issuedMu sync.Mutex
	var issued []string
	sink := protocol.Sink(func(e protocol.Event) {
		if e.Kind == protocol.EventApprovalRequest && e.Approval != nil {
			s.approvals.open(e.Approval.ID)
			issuedMu.Lock()
			issued = append(issued, e.Approval.ID)
			issuedMu.Unlock()
		}
		stream.send(e)
	})
	defer func() {
		issuedMu.Lock()
		ids := issued
		issuedMu.Unlock()
		s.approvals.drop(ids)
	}()

	decide := func(ctx context.Context, approval *protocol.Approval) (protocol.Decision, error) {
		return s.approvals.wait(ctx, approval.ID)
	}

	ctx := r.Context()
	if _, err := s.deps.Agent.Turn(ctx, agent.TurnRequest{
		UserID:  requestUser(r),
		ChatID:  chat.ID,
		Message: req.Message,
	}, sink, decide); err != nil {
		s.log.Error("turn failed", "chat_id", chat.ID, "error", err)
		stream.send(protocol.Event{Kind: protocol.EventError, Error: err.Error()})
		return
	}

	// Name the chat from its first message once a turn lands. Survives
	// the client hanging up right after the done frame.
	if chat.Title == "" {
		if err := s.deps.Store.UpdateChatTitle(context.WithoutCancel(ctx), chat.ID, deriveTitle(req.Message)); err != nil {
			s.log.Warn("chat auto-name failed", "chat_id", chat.ID, "error", err)
		}
	}
}

// deriveTitle names a chat after its first message: whitespace collapsed,
// capped at 80 runes.
func deriveTitle(message string) string {
	title := strings.Join(strings.Fields(message), " ")
	if runes := []rune(title); len(runes) > 80 {
		title = strings.TrimSpace(string(runes[:80]))
	}
	return title
}

// handleApprovalDecision answers a pending approval request.
func (s *Server) handleApprovalDecision(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var d protocol.Decision
	if err := decodeJSON(r, &d); err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	switch d.Action {
	case protocol.DecisionApprove, protocol.DecisionEdit, protocol.DecisionReject:
	default:
		writeError(w, http.StatusBadRequest, "unknown action %q", d.Action)
		return
	}
	d.ApprovalID = id
	if !s.approvals.resolve(id, d) {
		writeError(w, http.StatusNotFound, "no pending approval %s", id)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}
