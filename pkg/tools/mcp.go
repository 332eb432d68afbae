package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mitchellh/mapstructure"

	"github.com/lorehq/lore/pkg/httpclient"
	"github.com/lorehq/lore/pkg/logger"
)

const mcpProtocolVersion = "2024-11-05"

// MCPToolSpec is a user-authored tool declaration. Declared tools
// materialize without a discovery round-trip; the server is only dialed
// on first invocation.
type MCPToolSpec struct {
	Name        string         `mapstructure:"name"`
	Description string         `mapstructure:"description"`
	Parameters  map[string]any `mapstructure:"parameters"`
}

// MCPConfig is the config stored on an MCP connector row. Command
// selects the stdio transport, URL the HTTP transport.
type MCPConfig struct {
	Command string            `mapstructure:"command"`
	Args    []string          `mapstructure:"args"`
	Env     map[string]string `mapstructure:"env"`
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
	Tools   []MCPToolSpec     `mapstructure:"tools"`
}

// MCPSource owns one MCP server connection and the tools it exposes.
// Connection is lazy: declared tools only dial on first call, discovery
// dials when the toolbox is assembled.
type MCPSource struct {
	name    string
	cfg     MCPConfig
	timeout time.Duration
	log     *slog.Logger

	mu        sync.Mutex
	connected bool
	stdio     *client.Client
	http      *httpclient.Client
	sessionID string
	requestID int
}

// NewMCPSource builds a source from an MCP connector row's name and
// decrypted config.
func NewMCPSource(name string, raw map[string]any, timeout time.Duration) (*MCPSource, error) {
	var cfg MCPConfig
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("failed to decode mcp config: %w", err)
	}
	if cfg.Command == "" && cfg.URL == "" {
		return nil, fmt.Errorf("mcp connector %s needs a command or url", name)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &MCPSource{
		name:    name,
		cfg:     cfg,
		timeout: timeout,
		log:     logger.Component("mcp"),
	}, nil
}

// Tools materializes the agent-callable tools. Declared specs win;
// otherwise the server is asked once via tools/list.
func (s *MCPSource) Tools(ctx context.Context) ([]Tool, error) {
	if len(s.cfg.Tools) > 0 {
		out := make([]Tool, 0, len(s.cfg.Tools))
		for _, spec := range s.cfg.Tools {
			if spec.Name == "" {
				continue
			}
			schema := spec.Parameters
			if schema == nil {
				schema = map[string]any{"type": "object"}
			}
			out = append(out, &MCPTool{source: s, name: spec.Name, desc: spec.Description, schema: schema})
		}
		return out, nil
	}
	return s.discover(ctx)
}

func (s *MCPSource) discover(ctx context.Context) ([]Tool, error) {
	if err := s.connect(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	stdio := s.stdio
	s.mu.Unlock()

	if stdio != nil {
		listResp, err := stdio.ListTools(ctx, mcp.ListToolsRequest{})
		if err != nil {
			return nil, fmt.Errorf("failed to list mcp tools: %w", err)
		}
		out := make([]Tool, 0, len(listResp.Tools))
		for _, t := range listResp.Tools {
			out = append(out, &MCPTool{source: s, name: t.Name, desc: t.Description, schema: convertInputSchema(t.InputSchema)})
		}
		return out, nil
	}

	resp, err := s.rpc(ctx, "tools/list", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list mcp tools: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("mcp tools/list: %s", resp.Error.Message)
	}
	resultMap, ok := resp.Result.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("unexpected tools/list result")
	}
	rawTools, _ := resultMap["tools"].([]any)

	out := make([]Tool, 0, len(rawTools))
	for _, raw := range rawTools {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		name, _ := m["name"].(string)
		if name == "" {
			continue
		}
		desc, _ := m["description"].(string)
		schema, _ := m["inputSchema"].(map[string]any)
		if schema == nil {
			schema = map[string]any{"type": "object"}
		}
		out = append(out, &MCPTool{source: s, name: name, desc: desc, schema: schema})
	}
	return out, nil
}

// connect dials the server once. Later calls reuse the session.
func (s *MCPSource) connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return nil
	}
	if s.cfg.Command != "" {
		if err := s.connectStdio(ctx); err != nil {
			return err
		}
	} else {
		if err := s.connectHTTP(ctx); err != nil {
			return err
		}
	}
	s.connected = true
	return nil
}

func (s *MCPSource) connectStdio(ctx context.Context) error {
	env := make([]string, 0, len(s.cfg.Env))
	for k, v := range s.cfg.Env {
		env = append(env, k+"="+v)
	}

	mcpClient, err := client.NewStdioMCPClient(s.cfg.Command, env, s.cfg.Args...)
	if err != nil {
		return fmt.Errorf("failed to create mcp client: %w", err)
	}
	if err := mcpClient.Start(ctx); err != nil {
		return fmt.Errorf("failed to start mcp client: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: "lore", Version: "1.0.0"}
	initReq.Params.ProtocolVersion = mcpProtocolVersion
	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		mcpClient.Close()
		return fmt.Errorf("failed to initialize mcp: %w", err)
	}

	s.stdio = mcpClient
	s.log.Info("connected to mcp server", "connector", s.name, "transport", "stdio", "command", s.cfg.Command)
	return nil
}

func (s *MCPSource) connectHTTP(ctx context.Context) error {
	s.http = httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: s.timeout}),
		httpclient.WithMaxRetries(2),
	)

	resp, err := s.rpcLocked(ctx, "initialize", map[string]any{
		"protocolVersion": mcpProtocolVersion,
		"clientInfo":      map[string]any{"name": "lore", "version": "1.0.0"},
		"capabilities":    map[string]any{},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize mcp: %w", err)
	}
	if resp.Error != nil {
		return fmt.Errorf("mcp initialize: %s", resp.Error.Message)
	}

	s.log.Info("connected to mcp server", "connector", s.name, "transport", "http", "url", s.cfg.URL)
	return nil
}

// Name returns the connector row name the source was built from.
func (s *MCPSource) Name() string { return s.name }

// Close tears down a stdio subprocess. HTTP sessions need no teardown.
func (s *MCPSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	if s.stdio != nil {
		err := s.stdio.Close()
		s.stdio = nil
		return err
	}
	return nil
}

type mcpRPCResponse struct {
	JSONRPC string       `json:"jsonrpc"`
	ID      int          `json:"id"`
	Result  any          `json:"result,omitempty"`
	Error   *mcpRPCError `json:"error,omitempty"`
}

type mcpRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *MCPSource) rpc(ctx context.Context, method string, params any) (*mcpRPCResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rpcLocked(ctx, method, params)
}

// rpcLocked sends one JSON-RPC request over HTTP. Callers hold s.mu, so
// the session id and request counter stay consistent.
func (s *MCPSource) rpcLocked(ctx context.Context, method string, params any) (*mcpRPCResponse, error) {
	s.requestID++
	payload, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      s.requestID,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, strings.NewReader(string(payload)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	for k, v := range s.cfg.Headers {
		req.Header.Set(k, v)
	}
	if s.sessionID != "" {
		req.Header.Set("mcp-session-id", s.sessionID)
	}

	resp, err := s.http.Do(req)
	if resp == nil {
		return nil, fmt.Errorf("mcp request failed: %w", err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if sessionID := resp.Header.Get("mcp-session-id"); sessionID != "" {
		s.sessionID = sessionID
	}
	if err != nil || resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mcp request failed: HTTP %d", resp.StatusCode)
	}

	if strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		return readSSEResponse(resp.Body)
	}

	var rpcResp mcpRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("failed to parse mcp response: %w", err)
	}
	return &rpcResp, nil
}

// readSSEResponse returns the first complete JSON-RPC message from an
// event stream. The HTTP client timeout bounds the read.
func readSSEResponse(body io.Reader) (*mcpRPCResponse, error) {
	reader := bufio.NewReader(body)
	var data strings.Builder
	for {
		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("failed to read mcp event stream: %w", err)
		}
		trimmed := strings.TrimSpace(line)

		if trimmed == "" {
			if data.Len() > 0 {
				var rpcResp mcpRPCResponse
				if parseErr := json.Unmarshal([]byte(data.String()), &rpcResp); parseErr == nil {
					return &rpcResp, nil
				}
				data.Reset()
			}
			if err == io.EOF {
				break
			}
			continue
		}
		if strings.HasPrefix(trimmed, "data:") {
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(trimmed, "data:")))
		}
		if err == io.EOF {
			break
		}
	}
	if data.Len() > 0 {
		var rpcResp mcpRPCResponse
		if parseErr := json.Unmarshal([]byte(data.String()), &rpcResp); parseErr == nil {
			return &rpcResp, nil
		}
	}
	return nil, fmt.Errorf("no json-rpc response in mcp event stream")
}

// call invokes one tool and returns the joined text content.
func (s *MCPSource) call(ctx context.Context, tool string, args map[string]any) (string, error) {
	if err := s.connect(ctx); err != nil {
		return "", err
	}

	s.mu.Lock()
	stdio := s.stdio
	s.mu.Unlock()

	if stdio != nil {
		req := mcp.CallToolRequest{}
		req.Params.Name = tool
		req.Params.Arguments = args
		resp, err := stdio.CallTool(ctx, req)
		if err != nil {
			return "", fmt.Errorf("mcp call failed: %w", err)
		}
		var texts []string
		for _, content := range resp.Content {
			if text, ok := content.(mcp.TextContent); ok {
				texts = append(texts, text.Text)
			}
		}
		joined := strings.Join(texts, "\n")
		if resp.IsError {
			if joined == "" {
				joined = "unknown error"
			}
			return "", fmt.Errorf("mcp tool %s: %s", tool, joined)
		}
		return joined, nil
	}

	resp, err := s.rpc(ctx, "tools/call", map[string]any{"name": tool, "arguments": args})
	if err != nil {
		return "", fmt.Errorf("mcp call failed: %w", err)
	}
	if resp.Error != nil {
		return "", fmt.Errorf("mcp tool %s: %s", tool, resp.Error.Message)
	}

	resultMap, ok := resp.Result.(map[string]any)
	if !ok {
		data, _ := json.Marshal(resp.Result)
		return string(data), nil
	}

	var texts []string
	if content, ok := resultMap["content"].([]any); ok {
		for _, c := range content {
			m, ok := c.(map[string]any)
			if !ok {
				continue
			}
			if m["type"] == "text" {
				if text, ok := m["text"].(string); ok {
					texts = append(texts, text)
				}
			}
		}
	}
	joined := strings.Join(texts, "\n")
	if isError, _ := resultMap["isError"].(bool); isError {
		if joined == "" {
			joined = "unknown error"
		}
		return "", fmt.Errorf("mcp tool %s: %s", tool, joined)
	}
	return joined, nil
}

func convertInputSchema(schema mcp.ToolInputSchema) map[string]any {
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]any{"type": "object"}
	}
	return out
}

// MCPTool exposes one remote tool through the agent's Tool interface.
// Every invocation is bounded by the source's timeout.
type MCPTool struct {
	source *MCPSource
	name   string
	desc   string
	schema map[string]any
}

func (t *MCPTool) Name() string        { return t.name }
func (t *MCPTool) Description() string { return t.desc }

func (t *MCPTool) ArgsSchema() map[string]any { return t.schema }

func (t *MCPTool) Invoke(ctx context.Context, args map[string]any) ToolOutcome {
	ctx, cancel := context.WithTimeout(ctx, t.source.timeout)
	defer cancel()

	result, err := t.source.call(ctx, t.name, args)
	if err != nil {
		return Failed(err)
	}
	if result == "" {
		result = "(no output)"
	}
	return Success(result)
}
