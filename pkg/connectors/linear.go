package connectors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lorehq/lore/pkg/canonical"
	"github.com/lorehq/lore/pkg/httpclient"
	"github.com/lorehq/lore/pkg/store"
)

const linearAPIURL = "https://api.linear.app/graphql"

// linearIssuesQuery pulls issues updated inside the window with their
// comments, relay-paged.
const linearIssuesQuery = `query Issues($after: String, $from: DateTimeOrDuration!, $to: DateTimeOrDuration!) {
  issues(
    first: 50
    after: $after
    filter: { updatedAt: { gte: $from, lte: $to } }
    orderBy: updatedAt
  ) {
    nodes {
      id
      identifier
      title
      description
      updatedAt
      state { name }
      assignee { name }
      comments { nodes { body createdAt user { name } } }
    }
    pageInfo { hasNextPage endCursor }
  }
}`

// linearSource builds one document per issue including its comments.
type linearSource struct {
	cfg    LinearConfig
	client *httpclient.Client
}

func newLinearSource(_ context.Context, raw map[string]any) (Source, error) {
	var cfg LinearConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return nil, err
	}
	if cfg.APIKey == "" {
		return nil, newError(KindMissingCredentials, store.TypeLinear, nil, "api_key missing")
	}
	return &linearSource{cfg: cfg, client: newHTTPClient()}, nil
}

func (l *linearSource) Type() string { return store.TypeLinear }

type linearIssue struct {
	ID          string `json:"id"`
	Identifier  string `json:"identifier"`
	Title       string `json:"title"`
	Description string `json:"description"`
	UpdatedAt   string `json:"updatedAt"`
	State       struct {
		Name string `json:"name"`
	} `json:"state"`
	Assignee struct {
		Name string `json:"name"`
	} `json:"assignee"`
	Comments struct {
		Nodes []linearComment `json:"nodes"`
	} `json:"comments"`
}

type linearComment struct {
	Body      string `json:"body"`
	CreatedAt string `json:"createdAt"`
	User      struct {
		Name string `json:"name"`
	} `json:"user"`
}

type linearResponse struct {
	Data struct {
		Issues struct {
			Nodes    []linearIssue `json:"nodes"`
			PageInfo struct {
				HasNextPage bool   `json:"hasNextPage"`
				EndCursor   string `json:"endCursor"`
			} `json:"pageInfo"`
		} `json:"issues"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (l *linearSource) FetchWindow(ctx context.Context, cursor Cursor, window Window) ([]RawItem, Cursor, error) {
	variables := map[string]any{
		"from": window.Start.UTC().Format(time.RFC3339),
		"to":   window.End.UTC().Format(time.RFC3339),
	}
	if cursor.PageToken != "" {
		variables["after"] = cursor.PageToken
	}

	payload, err := json.Marshal(map[string]any{"query": linearIssuesQuery, "variables": variables})
	if err != nil {
		return nil, cursor, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, linearAPIURL, bytes.NewReader(payload))
	if err != nil {
		return nil, cursor, err
	}
	req.Header.Set("Authorization", l.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	var resp linearResponse
	if err := doJSON(l.client, req, &resp, store.TypeLinear, "issues query"); err != nil {
		return nil, cursor, err
	}
	if len(resp.Errors) > 0 {
		msg := resp.Errors[0].Message
		if strings.Contains(strings.ToLower(msg), "authentication") {
			return nil, cursor, newError(KindAuthExpired, store.TypeLinear, nil, msg)
		}
		return nil, cursor, newError(KindUnknown, store.TypeLinear, nil, msg)
	}

	items := make([]RawItem, 0, len(resp.Data.Issues.Nodes))
	for _, issue := range resp.Data.Issues.Nodes {
		items = append(items, RawItem{
			ID:    issue.ID,
			Title: fmt.Sprintf("%s: %s", issue.Identifier, issue.Title),
			Data:  issue,
		})
	}

	page := resp.Data.Issues.PageInfo
	next := Cursor{}
	if page.HasNextPage {
		next = Cursor{PageToken: page.EndCursor, HasMore: true}
	}
	return items, next, nil
}

func (l *linearSource) ToCanonical(item RawItem) (*canonical.Document, error) {
	issue, ok := item.Data.(linearIssue)
	if !ok {
		return nil, fmt.Errorf("unexpected linear item payload %T", item.Data)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s: %s\n\n", issue.Identifier, issue.Title)
	if issue.Description != "" {
		b.WriteString(issue.Description)
		b.WriteString("\n\n")
	}
	if len(issue.Comments.Nodes) > 0 {
		b.WriteString("## Comments\n\n")
		for _, c := range issue.Comments.Nodes {
			fmt.Fprintf(&b, "**%s** (%s):\n%s\n\n", c.User.Name, c.CreatedAt, c.Body)
		}
	}

	return &canonical.Document{
		Title:    item.Title,
		Type:     store.TypeLinear,
		SourceID: issue.ID,
		Metadata: map[string]string{
			"ISSUE_IDENTIFIER": issue.Identifier,
			"STATE":            issue.State.Name,
			"ASSIGNEE":         issue.Assignee.Name,
			"UPDATED_AT":       issue.UpdatedAt,
		},
		Body: b.String(),
	}, nil
}
