package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lorehq/lore/pkg/httpclient"
	"github.com/lorehq/lore/pkg/protocol"
)

// The Linear tools mutate an external tracker, so none of them act on
// Invoke: they suspend with an approval payload and only Execute once
// the host passes back an approve or edit decision.

const defaultLinearAPIURL = "https://api.linear.app/graphql"

const linearTeamsQuery = `query { teams(first: 1) { nodes { id name } } }`

const linearCreateIssueMutation = `mutation IssueCreate($input: IssueCreateInput!) {
  issueCreate(input: $input) {
    success
    issue { id identifier title url }
  }
}`

const linearUpdateIssueMutation = `mutation IssueUpdate($id: String!, $input: IssueUpdateInput!) {
  issueUpdate(id: $id, input: $input) {
    success
    issue { id identifier title url }
  }
}`

const linearDeleteIssueMutation = `mutation IssueDelete($id: String!) {
  issueDelete(id: $id) { success }
}`

// LinearClient executes GraphQL mutations against the Linear API.
type LinearClient struct {
	apiKey string
	apiURL string
	client *httpclient.Client
}

// NewLinearClient builds a client from a connector's API key. An empty
// apiURL selects the production endpoint.
func NewLinearClient(apiKey, apiURL string) *LinearClient {
	if apiURL == "" {
		apiURL = defaultLinearAPIURL
	}
	return &LinearClient{
		apiKey: apiKey,
		apiURL: apiURL,
		client: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
			httpclient.WithMaxRetries(2),
		),
	}
}

type linearIssueRef struct {
	ID         string `json:"id"`
	Identifier string `json:"identifier"`
	Title      string `json:"title"`
	URL        string `json:"url"`
}

// linearAPIError carries a GraphQL-level error message so callers can
// tell a missing entity from a transport failure.
type linearAPIError struct {
	Message string
}

func (e *linearAPIError) Error() string { return "linear api: " + e.Message }

func (e *linearAPIError) NotFound() bool {
	return strings.Contains(strings.ToLower(e.Message), "not found")
}

func (c *LinearClient) do(ctx context.Context, query string, variables map[string]any, out any) error {
	payload, err := json.Marshal(map[string]any{"query": query, "variables": variables})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if resp == nil {
		return fmt.Errorf("linear api request failed: %w", err)
	}
	if err != nil || resp.StatusCode < 200 || resp.StatusCode >= 300 {
		status := resp.StatusCode
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return fmt.Errorf("linear api: HTTP %d", status)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("failed to decode linear response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		return &linearAPIError{Message: envelope.Errors[0].Message}
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("failed to decode linear data: %w", err)
		}
	}
	return nil
}

// defaultTeamID resolves the workspace's first team for creates that do
// not name one.
func (c *LinearClient) defaultTeamID(ctx context.Context) (string, error) {
	var out struct {
		Teams struct {
			Nodes []struct {
				ID   string `json:"id"`
				Name string `json:"name"`
			} `json:"nodes"`
		} `json:"teams"`
	}
	if err := c.do(ctx, linearTeamsQuery, nil, &out); err != nil {
		return "", err
	}
	if len(out.Teams.Nodes) == 0 {
		return "", fmt.Errorf("linear workspace has no teams")
	}
	return out.Teams.Nodes[0].ID, nil
}

// notFoundResult is the conversational outcome for a missing issue.
func notFoundResult(issueID string) ToolOutcome {
	data, _ := json.Marshal(map[string]string{
		"status":  "not_found",
		"message": fmt.Sprintf("Linear issue %s does not exist.", issueID),
	})
	return Success(string(data))
}

func issueResult(status string, issue linearIssueRef) ToolOutcome {
	data, err := json.Marshal(map[string]string{
		"status":     status,
		"issue_id":   issue.ID,
		"identifier": issue.Identifier,
		"title":      issue.Title,
		"url":        issue.URL,
	})
	if err != nil {
		return Failed(err)
	}
	return Success(string(data))
}

type createLinearIssueArgs struct {
	Title       string `json:"title" jsonschema:"required,description=Issue title"`
	Description string `json:"description,omitempty" jsonschema:"description=Issue body in Markdown"`
	TeamID      string `json:"team_id,omitempty" jsonschema:"description=Linear team id; defaults to the workspace's first team"`
	Priority    int    `json:"priority,omitempty" jsonschema:"description=0 none 1 urgent 2 high 3 normal 4 low,minimum=0,maximum=4"`
}

// CreateLinearIssueTool proposes a new Linear issue.
type CreateLinearIssueTool struct {
	client *LinearClient
}

func NewCreateLinearIssueTool(client *LinearClient) *CreateLinearIssueTool {
	return &CreateLinearIssueTool{client: client}
}

func (t *CreateLinearIssueTool) Name() string { return "create_linear_issue" }

func (t *CreateLinearIssueTool) Description() string {
	return "Create a Linear issue. Requires user approval before anything is written."
}

func (t *CreateLinearIssueTool) ArgsSchema() map[string]any {
	return argsSchema[createLinearIssueArgs]()
}

func (t *CreateLinearIssueTool) Invoke(_ context.Context, args map[string]any) ToolOutcome {
	title := stringArg(args, "title")
	if title == "" {
		return Failedf("title is required")
	}
	return Suspended(&protocol.Approval{
		ID:       uuid.NewString(),
		ToolName: t.Name(),
		Summary:  fmt.Sprintf("Create Linear issue %q", title),
		Args:     args,
	})
}

func (t *CreateLinearIssueTool) Execute(ctx context.Context, args map[string]any) ToolOutcome {
	title := stringArg(args, "title")
	if title == "" {
		return Failedf("title is required")
	}

	teamID := stringArg(args, "team_id")
	if teamID == "" {
		resolved, err := t.client.defaultTeamID(ctx)
		if err != nil {
			return Failed(err)
		}
		teamID = resolved
	}

	input := map[string]any{"teamId": teamID, "title": title}
	if description := stringArg(args, "description"); description != "" {
		input["description"] = description
	}
	if priority := intArg(args, "priority", 0); priority > 0 {
		input["priority"] = priority
	}

	var out struct {
		IssueCreate struct {
			Success bool           `json:"success"`
			Issue   linearIssueRef `json:"issue"`
		} `json:"issueCreate"`
	}
	if err := t.client.do(ctx, linearCreateIssueMutation, map[string]any{"input": input}, &out); err != nil {
		return Failed(err)
	}
	if !out.IssueCreate.Success {
		return Failedf("linear rejected the create")
	}
	return issueResult("created", out.IssueCreate.Issue)
}

type updateLinearIssueArgs struct {
	IssueID     string `json:"issue_id" jsonschema:"required,description=Id of the issue to update"`
	Title       string `json:"title,omitempty" jsonschema:"description=New title"`
	Description string `json:"description,omitempty" jsonschema:"description=New body in Markdown"`
	Priority    int    `json:"priority,omitempty" jsonschema:"description=0 none 1 urgent 2 high 3 normal 4 low,minimum=0,maximum=4"`
}

// UpdateLinearIssueTool proposes edits to an existing issue.
type UpdateLinearIssueTool struct {
	client *LinearClient
}

func NewUpdateLinearIssueTool(client *LinearClient) *UpdateLinearIssueTool {
	return &UpdateLinearIssueTool{client: client}
}

func (t *UpdateLinearIssueTool) Name() string { return "update_linear_issue" }

func (t *UpdateLinearIssueTool) Description() string {
	return "Update a Linear issue's title, description, or priority. Requires user approval."
}

func (t *UpdateLinearIssueTool) ArgsSchema() map[string]any {
	return argsSchema[updateLinearIssueArgs]()
}

func (t *UpdateLinearIssueTool) Invoke(_ context.Context, args map[string]any) ToolOutcome {
	issueID := stringArg(args, "issue_id")
	if issueID == "" {
		return Failedf("issue_id is required")
	}
	if stringArg(args, "title") == "" && stringArg(args, "description") == "" && intArg(args, "priority", -1) < 0 {
		return Failedf("nothing to update")
	}
	return Suspended(&protocol.Approval{
		ID:       uuid.NewString(),
		ToolName: t.Name(),
		Summary:  fmt.Sprintf("Update Linear issue %s", issueID),
		Args:     args,
	})
}

func (t *UpdateLinearIssueTool) Execute(ctx context.Context, args map[string]any) ToolOutcome {
	issueID := stringArg(args, "issue_id")
	if issueID == "" {
		return Failedf("issue_id is required")
	}

	input := map[string]any{}
	if title := stringArg(args, "title"); title != "" {
		input["title"] = title
	}
	if description := stringArg(args, "description"); description != "" {
		input["description"] = description
	}
	if priority := intArg(args, "priority", -1); priority >= 0 {
		input["priority"] = priority
	}
	if len(input) == 0 {
		return Failedf("nothing to update")
	}

	var out struct {
		IssueUpdate struct {
			Success bool           `json:"success"`
			Issue   linearIssueRef `json:"issue"`
		} `json:"issueUpdate"`
	}
	err := t.client.do(ctx, linearUpdateIssueMutation, map[string]any{"id": issueID, "input": input}, &out)
	if apiErr, ok := err.(*linearAPIError); ok && apiErr.NotFound() {
		return notFoundResult(issueID)
	}
	if err != nil {
		return Failed(err)
	}
	if !out.IssueUpdate.Success {
		return Failedf("linear rejected the update")
	}
	return issueResult("updated", out.IssueUpdate.Issue)
}

type deleteLinearIssueArgs struct {
	IssueID string `json:"issue_id" jsonschema:"required,description=Id of the issue to delete"`
}

// DeleteLinearIssueTool proposes deleting an issue.
type DeleteLinearIssueTool struct {
	client *LinearClient
}

func NewDeleteLinearIssueTool(client *LinearClient) *DeleteLinearIssueTool {
	return &DeleteLinearIssueTool{client: client}
}

func (t *DeleteLinearIssueTool) Name() string { return "delete_linear_issue" }

func (t *DeleteLinearIssueTool) Description() string {
	return "Delete a Linear issue. Requires user approval; this cannot be undone."
}

func (t *DeleteLinearIssueTool) ArgsSchema() map[string]any {
	return argsSchema[deleteLinearIssueArgs]()
}

func (t *DeleteLinearIssueTool) Invoke(_ context.Context, args map[string]any) ToolOutcome {
	issueID := stringArg(args, "issue_id")
	if issueID == "" {
		return Failedf("issue_id is required")
	}
	return Suspended(&protocol.Approval{
		ID:       uuid.NewString(),
		ToolName: t.Name(),
		Summary:  fmt.Sprintf("Delete Linear issue %s", issueID),
		Args:     args,
	})
}

func (t *DeleteLinearIssueTool) Execute(ctx context.Context, args map[string]any) ToolOutcome {
	issueID := stringArg(args, "issue_id")
	if issueID == "" {
		return Failedf("issue_id is required")
	}

	var out struct {
		IssueDelete struct {
			Success bool `json:"success"`
		} `json:"issueDelete"`
	}
	err := t.client.do(ctx, linearDeleteIssueMutation, map[string]any{"id": issueID}, &out)
	if apiErr, ok := err.(*linearAPIError); ok && apiErr.NotFound() {
		return notFoundResult(issueID)
	}
	if err != nil {
		return Failed(err)
	}
	if !out.IssueDelete.Success {
		return Failedf("linear rejected the delete")
	}

	data, _ := json.Marshal(map[string]string{"status": "deleted", "issue_id": issueID})
	return Success(string(data))
}
