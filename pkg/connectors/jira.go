package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/lorehq/lore/pkg/canonical"
	"github.com/lorehq/lore/pkg/httpclient"
	"github.com/lorehq/lore/pkg/store"
)

// jiraSource builds one document per issue plus comments, paging the
// search API with a JQL window filter.
type jiraSource struct {
	cfg    JiraConfig
	client *httpclient.Client
}

func newJiraSource(_ context.Context, raw map[string]any) (Source, error) {
	var cfg JiraConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return nil, err
	}
	if cfg.BaseURL == "" || cfg.Email == "" || cfg.APIToken == "" {
		return nil, newError(KindMissingCredentials, store.TypeJira, nil, "base_url, email, and api_token required")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &jiraSource{cfg: cfg, client: newHTTPClient()}, nil
}

func (j *jiraSource) Type() string { return store.TypeJira }

type jiraIssue struct {
	ID     string `json:"id"`
	Key    string `json:"key"`
	Fields struct {
		Summary     string          `json:"summary"`
		Description json.RawMessage `json:"description"`
		Updated     string          `json:"updated"`
		Status      struct {
			Name string `json:"name"`
		} `json:"status"`
		Comment struct {
			Comments []jiraComment `json:"comments"`
		} `json:"comment"`
	} `json:"fields"`
}

type jiraComment struct {
	Author struct {
		DisplayName string `json:"displayName"`
	} `json:"author"`
	Body    json.RawMessage `json:"body"`
	Created string          `json:"created"`
}

type jiraSearchResponse struct {
	StartAt    int         `json:"startAt"`
	MaxResults int         `json:"maxResults"`
	Total      int         `json:"total"`
	Issues     []jiraIssue `json:"issues"`
}

func (j *jiraSource) FetchWindow(ctx context.Context, cursor Cursor, window Window) ([]RawItem, Cursor, error) {
	startAt := 0
	if cursor.PageToken != "" {
		fmt.Sscanf(cursor.PageToken, "%d", &startAt)
	}

	jql := fmt.Sprintf(`updated >= "%s" AND updated <= "%s" ORDER BY updated ASC`,
		window.Start.UTC().Format("2006-01-02 15:04"),
		window.End.UTC().Format("2006-01-02 15:04"))
	params := url.Values{
		"jql":        {jql},
		"fields":     {"summary,description,comment,updated,status"},
		"startAt":    {fmt.Sprintf("%d", startAt)},
		"maxResults": {"50"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/rest/api/3/search?%s", j.cfg.BaseURL, params.Encode()), nil)
	if err != nil {
		return nil, cursor, err
	}
	req.SetBasicAuth(j.cfg.Email, j.cfg.APIToken)

	var resp jiraSearchResponse
	if err := doJSON(j.client, req, &resp, store.TypeJira, "issue search"); err != nil {
		return nil, cursor, err
	}

	items := make([]RawItem, 0, len(resp.Issues))
	for _, issue := range resp.Issues {
		items = append(items, RawItem{
			ID:    issue.ID,
			Title: fmt.Sprintf("%s: %s", issue.Key, issue.Fields.Summary),
			Data:  issue,
		})
	}

	fetched := startAt + len(resp.Issues)
	next := Cursor{}
	if fetched < resp.Total && len(resp.Issues) > 0 {
		next = Cursor{PageToken: fmt.Sprintf("%d", fetched), HasMore: true}
	}
	return items, next, nil
}

func (j *jiraSource) ToCanonical(item RawItem) (*canonical.Document, error) {
	issue, ok := item.Data.(jiraIssue)
	if !ok {
		return nil, fmt.Errorf("unexpected jira item payload %T", item.Data)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s: %s\n\n", issue.Key, issue.Fields.Summary)
	if desc := renderADF(issue.Fields.Description); desc != "" {
		b.WriteString(desc)
		b.WriteString("\n\n")
	}
	if len(issue.Fields.Comment.Comments) > 0 {
		b.WriteString("## Comments\n\n")
		for _, c := range issue.Fields.Comment.Comments {
			fmt.Fprintf(&b, "**%s** (%s):\n%s\n\n", c.Author.DisplayName, c.Created, renderADF(c.Body))
		}
	}

	return &canonical.Document{
		Title:    item.Title,
		Type:     store.TypeJira,
		SourceID: issue.ID,
		Metadata: map[string]string{
			"ISSUE_KEY":  issue.Key,
			"STATUS":     issue.Fields.Status.Name,
			"UPDATED_AT": issue.Fields.Updated,
		},
		Body: b.String(),
	}, nil
}

// renderADF flattens an Atlassian Document Format tree to plain text by
// collecting text nodes in order.
func renderADF(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	// Plain-string descriptions show up on older API versions.
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return strings.TrimSpace(asString)
	}

	var node struct {
		Type    string            `json:"type"`
		Text    string            `json:"text"`
		Content []json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(raw, &node); err != nil {
		return ""
	}

	var parts []string
	if node.Text != "" {
		parts = append(parts, node.Text)
	}
	for _, child := range node.Content {
		if text := renderADF(child); text != "" {
			parts = append(parts, text)
		}
	}

	sep := " "
	if node.Type == "doc" || node.Type == "paragraph" || node.Type == "bulletList" || node.Type == "orderedList" {
		sep = "\n"
	}
	return strings.TrimSpace(strings.Join(parts, sep))
}
