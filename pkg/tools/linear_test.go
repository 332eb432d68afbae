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

	"github.com/lorehq/lore/pkg/protocol"
)

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
	auth      string
}

// newLinearClient points a client at a stub GraphQL endpoint. respond
// receives each decoded request and returns the raw response body.
func newLinearClient(t *testing.T, respond func(req graphqlRequest) string) (*LinearClient, func() []graphqlRequest) {
	t.Helper()
	var mu sync.Mutex
	var calls []graphqlRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req graphqlRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode graphql request: %v", err)
		}
		req.auth = r.Header.Get("Authorization")
		mu.Lock()
		calls = append(calls, req)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, respond(req))
	}))
	t.Cleanup(server.Close)
	client := NewLinearClient("lin_api_test", server.URL)
	return client, func() []graphqlRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]graphqlRequest(nil), calls...)
	}
}

func TestCreateLinearIssueSuspends(t *testing.T) {
	tool := NewCreateLinearIssueTool(NewLinearClient("key", ""))

	args := map[string]any{"title": "Fix login crash", "priority": float64(2)}
	outcome := tool.Invoke(context.Background(), args)
	if outcome.Status != StatusSuspended {
		t.Fatalf("status = %q, want %q", outcome.Status, StatusSuspended)
	}
	approval := outcome.Approval
	if approval == nil {
		t.Fatal("expected an approval payload")
	}
	if approval.ID == "" {
		t.Error("approval id is empty")
	}
	if approval.ToolName != "create_linear_issue" {
		t.Errorf("approval tool = %q", approval.ToolName)
	}
	if !strings.Contains(approval.Summary, "Fix login crash") {
		t.Errorf("summary %q does not name the issue", approval.Summary)
	}
	if approval.Args["priority"] != float64(2) {
		t.Errorf("approval args = %v, want the proposed arguments", approval.Args)
	}

	if outcome := tool.Invoke(context.Background(), map[string]any{}); outcome.Status != StatusFailed {
		t.Errorf("missing title: status = %q, want %q", outcome.Status, StatusFailed)
	}
}

func TestCreateLinearIssueExecute(t *testing.T) {
	client, calls := newLinearClient(t, func(req graphqlRequest) string {
		if !strings.Contains(req.Query, "issueCreate") {
			t.Errorf("unexpected query: %s", req.Query)
		}
		return `{"data": {"issueCreate": {"success": true, "issue": {"id": "iss-1", "identifier": "LOR-42", "title": "Fix login crash", "url": "https://linear.app/lor/issue/LOR-42"}}}}`
	})
	tool := NewCreateLinearIssueTool(client)

	outcome := tool.Execute(context.Background(), map[string]any{
		"title":       "Fix login crash",
		"description": "Stack trace attached.",
		"team_id":     "team-1",
		"priority":    float64(1),
	})
	if outcome.Status != StatusSuccess {
		t.Fatalf("execute failed: %v", outcome.Err)
	}

	got := calls()
	if len(got) != 1 {
		t.Fatalf("api calls = %d, want 1", len(got))
	}
	if got[0].auth != "lin_api_test" {
		t.Errorf("Authorization = %q, want the api key", got[0].auth)
	}
	input, ok := got[0].Variables["input"].(map[string]any)
	if !ok {
		t.Fatalf("variables = %v, want an input object", got[0].Variables)
	}
	if input["teamId"] != "team-1" || input["title"] != "Fix login crash" {
		t.Errorf("input = %v", input)
	}
	if input["description"] != "Stack trace attached." || input["priority"] != float64(1) {
		t.Errorf("input = %v", input)
	}

	var result map[string]string
	if err := json.Unmarshal([]byte(outcome.Result), &result); err != nil {
		t.Fatalf("result is not JSON: %v", err)
	}
	if result["status"] != "created" || result["identifier"] != "LOR-42" {
		t.Errorf("result = %v", result)
	}
}

func TestCreateLinearIssueDefaultTeam(t *testing.T) {
	client, calls := newLinearClient(t, func(req graphqlRequest) string {
		if strings.Contains(req.Query, "teams(first: 1)") {
			return `{"data": {"teams": {"nodes": [{"id": "team-default", "name": "Core"}]}}}`
		}
		return `{"data": {"issueCreate": {"success": true, "issue": {"id": "iss-2", "identifier": "LOR-43", "title": "t", "url": "u"}}}}`
	})
	tool := NewCreateLinearIssueTool(client)

	outcome := tool.Execute(context.Background(), map[string]any{"title": "t"})
	if outcome.Status != StatusSuccess {
		t.Fatalf("execute failed: %v", outcome.Err)
	}

	got := calls()
	if len(got) != 2 {
		t.Fatalf("api calls = %d, want teams lookup then create", len(got))
	}
	input := got[1].Variables["input"].(map[string]any)
	if input["teamId"] != "team-default" {
		t.Errorf("teamId = %v, want the workspace's first team", input["teamId"])
	}
}

func TestUpdateLinearIssueNotFound(t *testing.T) {
	client, _ := newLinearClient(t, func(graphqlRequest) string {
		return `{"errors": [{"message": "Entity not found: Issue"}]}`
	})
	tool := NewUpdateLinearIssueTool(client)

	outcome := tool.Execute(context.Background(), map[string]any{"issue_id": "iss-9", "title": "New title"})
	if outcome.Status != StatusSuccess {
		t.Fatalf("missing issues should resolve conversationally, got %v", outcome.Err)
	}
	var result map[string]string
	if err := json.Unmarshal([]byte(outcome.Result), &result); err != nil {
		t.Fatalf("result is not JSON: %v", err)
	}
	if result["status"] != "not_found" {
		t.Errorf("status = %q, want %q", result["status"], "not_found")
	}
	if !strings.Contains(result["message"], "iss-9") {
		t.Errorf("message %q does not name the issue", result["message"])
	}
}

func TestUpdateLinearIssueRequiresChange(t *testing.T) {
	tool := NewUpdateLinearIssueTool(NewLinearClient("key", ""))

	outcome := tool.Invoke(context.Background(), map[string]any{"issue_id": "iss-1"})
	if outcome.Status != StatusFailed {
		t.Fatalf("status = %q, want %q", outcome.Status, StatusFailed)
	}
	if !strings.Contains(outcome.Err.Error(), "nothing to update") {
		t.Errorf("err = %v", outcome.Err)
	}

	if outcome := tool.Invoke(context.Background(), map[string]any{"title": "x"}); outcome.Status != StatusFailed {
		t.Errorf("missing issue_id: status = %q, want %q", outcome.Status, StatusFailed)
	}
}

func TestDeleteLinearIssueApproveFlow(t *testing.T) {
	client, calls := newLinearClient(t, func(req graphqlRequest) string {
		if !strings.Contains(req.Query, "issueDelete") {
			t.Errorf("unexpected query: %s", req.Query)
		}
		return `{"data": {"issueDelete": {"success": true}}}`
	})
	registry, err := NewRegistry(NewDeleteLinearIssueTool(client))
	if err != nil {
		t.Fatal(err)
	}

	outcome := registry.Invoke(context.Background(), "delete_linear_issue", map[string]any{"issue_id": "iss-3"})
	if outcome.Status != StatusSuspended {
		t.Fatalf("status = %q, want %q", outcome.Status, StatusSuspended)
	}
	if len(calls()) != 0 {
		t.Fatal("invoke must not touch the api before approval")
	}

	resumed := registry.Resume(context.Background(), outcome.Approval, protocol.Decision{Action: protocol.DecisionApprove})
	if resumed.Status != StatusSuccess {
		t.Fatalf("resume failed: %v", resumed.Err)
	}
	got := calls()
	if len(got) != 1 {
		t.Fatalf("api calls = %d, want 1", len(got))
	}
	if got[0].Variables["id"] != "iss-3" {
		t.Errorf("variables = %v", got[0].Variables)
	}

	var result map[string]string
	if err := json.Unmarshal([]byte(resumed.Result), &result); err != nil {
		t.Fatalf("result is not JSON: %v", err)
	}
	if result["status"] != "deleted" || result["issue_id"] != "iss-3" {
		t.Errorf("result = %v", result)
	}
}

func TestLinearRejectSkipsAPI(t *testing.T) {
	client, calls := newLinearClient(t, func(graphqlRequest) string {
		t.Error("rejected invocation must not reach the api")
		return `{}`
	})
	registry, err := NewRegistry(NewCreateLinearIssueTool(client))
	if err != nil {
		t.Fatal(err)
	}

	outcome := registry.Invoke(context.Background(), "create_linear_issue", map[string]any{"title": "t"})
	if outcome.Status != StatusSuspended {
		t.Fatalf("status = %q, want %q", outcome.Status, StatusSuspended)
	}
	resumed := registry.Resume(context.Background(), outcome.Approval, protocol.Decision{Action: protocol.DecisionReject})
	if resumed.Status != StatusSuccess {
		t.Fatalf("reject should succeed with a refusal payload, got %v", resumed.Err)
	}
	if !strings.Contains(resumed.Result, `"rejected"`) {
		t.Errorf("result = %q", resumed.Result)
	}
	if len(calls()) != 0 {
		t.Error("rejected invocation reached the api")
	}
}
