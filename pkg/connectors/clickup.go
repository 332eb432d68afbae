package connectors

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lorehq/lore/pkg/canonical"
	"github.com/lorehq/lore/pkg/httpclient"
	"github.com/lorehq/lore/pkg/store"
)

const clickupAPIBase = "https://api.clickup.com/api/v2"

// clickupSource builds one document per task updated in the window.
type clickupSource struct {
	cfg    ClickUpConfig
	client *httpclient.Client
}

func newClickUpSource(_ context.Context, raw map[string]any) (Source, error) {
	var cfg ClickUpConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return nil, err
	}
	if cfg.APIToken == "" || cfg.TeamID == "" {
		return nil, newError(KindMissingCredentials, store.TypeClickUp, nil, "api_token and team_id required")
	}
	return &clickupSource{cfg: cfg, client: newHTTPClient()}, nil
}

func (c *clickupSource) Type() string { return store.TypeClickUp }

type clickupTask struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	TextContent string `json:"text_content"`
	DateUpdated string `json:"date_updated"`
	URL         string `json:"url"`
	Status      struct {
		Status string `json:"status"`
	} `json:"status"`
	Assignees []struct {
		Username string `json:"username"`
	} `json:"assignees"`
	List struct {
		Name string `json:"name"`
	} `json:"list"`
}

type clickupTasksResponse struct {
	Tasks    []clickupTask `json:"tasks"`
	LastPage bool          `json:"last_page"`
}

func (c *clickupSource) FetchWindow(ctx context.Context, cursor Cursor, window Window) ([]RawItem, Cursor, error) {
	page := 0
	if cursor.PageToken != "" {
		fmt.Sscanf(cursor.PageToken, "%d", &page)
	}

	params := url.Values{
		"page":            {fmt.Sprintf("%d", page)},
		"date_updated_gt": {fmt.Sprintf("%d", window.Start.UnixMilli())},
		"date_updated_lt": {fmt.Sprintf("%d", window.End.UnixMilli())},
		"include_closed":  {"true"},
		"subtasks":        {"true"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/team/%s/task?%s", clickupAPIBase, c.cfg.TeamID, params.Encode()), nil)
	if err != nil {
		return nil, cursor, err
	}
	req.Header.Set("Authorization", c.cfg.APIToken)

	var resp clickupTasksResponse
	if err := doJSON(c.client, req, &resp, store.TypeClickUp, "task list"); err != nil {
		return nil, cursor, err
	}

	items := make([]RawItem, 0, len(resp.Tasks))
	for _, task := range resp.Tasks {
		items = append(items, RawItem{ID: task.ID, Title: task.Name, Data: task})
	}

	next := Cursor{}
	if !resp.LastPage && len(resp.Tasks) > 0 {
		next = Cursor{PageToken: fmt.Sprintf("%d", page+1), HasMore: true}
	}
	return items, next, nil
}

func (c *clickupSource) ToCanonical(item RawItem) (*canonical.Document, error) {
	task, ok := item.Data.(clickupTask)
	if !ok {
		return nil, fmt.Errorf("unexpected clickup item payload %T", item.Data)
	}

	var assignees []string
	for _, a := range task.Assignees {
		assignees = append(assignees, a.Username)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", task.Name)
	fmt.Fprintf(&b, "Status: %s\n", task.Status.Status)
	if len(assignees) > 0 {
		fmt.Fprintf(&b, "Assignees: %s\n", strings.Join(assignees, ", "))
	}
	if task.TextContent != "" {
		b.WriteString("\n")
		b.WriteString(task.TextContent)
	}

	return &canonical.Document{
		Title:    task.Name,
		Type:     store.TypeClickUp,
		SourceID: task.ID,
		Metadata: map[string]string{
			"TASK_ID":    task.ID,
			"TASK_URL":   task.URL,
			"LIST_NAME":  task.List.Name,
			"STATUS":     task.Status.Status,
			"UPDATED_AT": clickupMillis(task.DateUpdated),
		},
		Body: b.String(),
	}, nil
}

// clickupMillis renders ClickUp epoch-millisecond strings as RFC 3339.
func clickupMillis(ms string) string {
	var n int64
	if _, err := fmt.Sscanf(ms, "%d", &n); err != nil {
		return ms
	}
	return time.UnixMilli(n).UTC().Format(time.RFC3339)
}
