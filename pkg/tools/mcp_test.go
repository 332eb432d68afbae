package tools

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

type mcpRPCRequest struct {
	ID     int            `json:"id"`
	Method string         `json:"method"`
	Params map[string]any `json:"params"`
}

func TestNewMCPSourceValidation(t *testing.T) {
	if _, err := NewMCPSource("broken", map[string]any{}, 0); err == nil {
		t.Error("expected an error without a command or url")
	}

	source, err := NewMCPSource("notes", map[string]any{"url": "http://localhost:9"}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if source.Name() != "notes" {
		t.Errorf("Name() = %q", source.Name())
	}
	if source.timeout != 30*time.Second {
		t.Errorf("timeout = %v, want the 30s default", source.timeout)
	}
}

func TestMCPDeclaredTools(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Error("declared tools must not dial the server")
	}))
	defer server.Close()

	source, err := NewMCPSource("notes", map[string]any{
		"url": server.URL,
		"tools": []any{
			map[string]any{
				"name":        "search_notes",
				"description": "Searches the notes database.",
				"parameters": map[string]any{
					"type":       "object",
					"properties": map[string]any{"q": map[string]any{"type": "string"}},
				},
			},
			map[string]any{"description": "nameless, skipped"},
			map[string]any{"name": "list_notes"},
		},
	}, 0)
	if err != nil {
		t.Fatal(err)
	}

	tools, err := source.Tools(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(tools) != 2 {
		t.Fatalf("tools = %d, want 2", len(tools))
	}
	if tools[0].Name() != "search_notes" || tools[0].Description() != "Searches the notes database." {
		t.Errorf("tool[0] = %q %q", tools[0].Name(), tools[0].Description())
	}
	props, ok := tools[0].ArgsSchema()["properties"].(map[string]any)
	if !ok || props["q"] == nil {
		t.Errorf("schema = %v, want the declared parameters", tools[0].ArgsSchema())
	}
	if tools[1].Name() != "list_notes" {
		t.Errorf("tool[1] = %q", tools[1].Name())
	}
	if tools[1].ArgsSchema()["type"] != "object" {
		t.Errorf("schema = %v, want an empty object schema", tools[1].ArgsSchema())
	}
}

func TestMCPHTTPDiscovery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req mcpRPCRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode rpc request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		var result any
		switch req.Method {
		case "initialize":
			result = map[string]any{"protocolVersion": mcpProtocolVersion}
		case "tools/list":
			result = map[string]any{"tools": []any{
				map[string]any{
					"name":        "lookup",
					"description": "Looks up a record.",
					"inputSchema": map[string]any{
						"type":       "object",
						"properties": map[string]any{"id": map[string]any{"type": "string"}},
					},
				},
				map[string]any{"description": "nameless, skipped"},
				map[string]any{"name": "bare"},
			}}
		default:
			t.Errorf("unexpected method %q", req.Method)
		}
		json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result})
	}))
	defer server.Close()

	source, err := NewMCPSource("tracker", map[string]any{"url": server.URL}, 0)
	if err != nil {
		t.Fatal(err)
	}
	tools, err := source.Tools(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(tools) != 2 {
		t.Fatalf("tools = %d, want 2", len(tools))
	}
	if tools[0].Name() != "lookup" || tools[0].Description() != "Looks up a record." {
		t.Errorf("tool[0] = %q %q", tools[0].Name(), tools[0].Description())
	}
	if _, ok := tools[0].ArgsSchema()["properties"]; !ok {
		t.Errorf("schema = %v, want the server's inputSchema", tools[0].ArgsSchema())
	}
	if tools[1].Name() != "bare" || tools[1].ArgsSchema()["type"] != "object" {
		t.Errorf("tool[1] = %q %v", tools[1].Name(), tools[1].ArgsSchema())
	}
}

func TestMCPToolCallOverHTTP(t *testing.T) {
	var mu sync.Mutex
	var sessionHeaders []string
	var callParams map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req mcpRPCRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode rpc request: %v", err)
		}
		mu.Lock()
		sessionHeaders = append(sessionHeaders, r.Header.Get("mcp-session-id"))
		if req.Method == "tools/call" {
			callParams = req.Params
		}
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		var result any
		switch req.Method {
		case "initialize":
			w.Header().Set("mcp-session-id", "sess-42")
			result = map[string]any{"protocolVersion": mcpProtocolVersion}
		case "tools/call":
			result = map[string]any{"content": []any{
				map[string]any{"type": "text", "text": "hello"},
				map[string]any{"type": "image", "data": "ignored"},
				map[string]any{"type": "text", "text": "world"},
			}}
		default:
			t.Errorf("unexpected method %q", req.Method)
		}
		json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result})
	}))
	defer server.Close()

	source, err := NewMCPSource("notes", map[string]any{
		"url":   server.URL,
		"tools": []any{map[string]any{"name": "echo", "description": "Echoes input."}},
	}, 0)
	if err != nil {
		t.Fatal(err)
	}
	tools, err := source.Tools(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	outcome := tools[0].Invoke(context.Background(), map[string]any{"message": "hi"})
	if outcome.Status != StatusSuccess {
		t.Fatalf("invoke failed: %v", outcome.Err)
	}
	if outcome.Result != "hello\nworld" {
		t.Errorf("result = %q, want the joined text content", outcome.Result)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(sessionHeaders) != 2 {
		t.Fatalf("requests = %d, want initialize then tools/call", len(sessionHeaders))
	}
	if sessionHeaders[0] != "" || sessionHeaders[1] != "sess-42" {
		t.Errorf("session headers = %v, want the id from initialize echoed back", sessionHeaders)
	}
	if callParams["name"] != "echo" {
		t.Errorf("call params = %v", callParams)
	}
	args, ok := callParams["arguments"].(map[string]any)
	if !ok || args["message"] != "hi" {
		t.Errorf("call arguments = %v", callParams["arguments"])
	}
}

func TestMCPToolCallIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req mcpRPCRequest
		json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		var result any
		if req.Method == "initialize" {
			result = map[string]any{}
		} else {
			result = map[string]any{
				"content": []any{map[string]any{"type": "text", "text": "index unavailable"}},
				"isError": true,
			}
		}
		json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result})
	}))
	defer server.Close()

	source, err := NewMCPSource("notes", map[string]any{
		"url":   server.URL,
		"tools": []any{map[string]any{"name": "echo"}},
	}, 0)
	if err != nil {
		t.Fatal(err)
	}
	tools, err := source.Tools(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	outcome := tools[0].Invoke(context.Background(), nil)
	if outcome.Status != StatusFailed {
		t.Fatalf("status = %q, want %q", outcome.Status, StatusFailed)
	}
	if !strings.Contains(outcome.Err.Error(), "echo") || !strings.Contains(outcome.Err.Error(), "index unavailable") {
		t.Errorf("err = %v", outcome.Err)
	}
}

func TestMCPToolCallEventStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req mcpRPCRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Method == "initialize" {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": map[string]any{}})
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "event: message\n")
		io.WriteString(w, `data: {"jsonrpc":"2.0","id":2,"result":{"content":[]}}`+"\n\n")
	}))
	defer server.Close()

	source, err := NewMCPSource("notes", map[string]any{
		"url":   server.URL,
		"tools": []any{map[string]any{"name": "echo"}},
	}, 0)
	if err != nil {
		t.Fatal(err)
	}
	tools, err := source.Tools(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	outcome := tools[0].Invoke(context.Background(), nil)
	if outcome.Status != StatusSuccess {
		t.Fatalf("invoke failed: %v", outcome.Err)
	}
	if outcome.Result != "(no output)" {
		t.Errorf("result = %q, want the empty-content placeholder", outcome.Result)
	}
}

func TestReadSSEResponseNoData(t *testing.T) {
	if _, err := readSSEResponse(strings.NewReader("event: ping\n\n")); err == nil {
		t.Error("expected an error for a stream without a json-rpc message")
	}
}
