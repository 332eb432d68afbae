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

const (
	notionAPIBase = "https://api.notion.com/v1"
	notionVersion = "2022-06-28"
)

// notionSource builds one document per page, flattening the block tree
// to Markdown. Pages edited inside the window are picked up; the search
// endpoint pages via cursor.
type notionSource struct {
	cfg    NotionConfig
	client *httpclient.Client
}

func newNotionSource(_ context.Context, raw map[string]any) (Source, error) {
	var cfg NotionConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return nil, err
	}
	if cfg.IntegrationToken == "" {
		return nil, newError(KindMissingCredentials, store.TypeNotion, nil, "integration_token missing")
	}
	return &notionSource{cfg: cfg, client: newHTTPClient()}, nil
}

func (n *notionSource) Type() string { return store.TypeNotion }

type notionPage struct {
	ID             string                          `json:"id"`
	LastEditedTime time.Time                       `json:"last_edited_time"`
	URL            string                          `json:"url"`
	Properties     map[string]notionTitleContainer `json:"properties"`
}

type notionTitleContainer struct {
	Type  string           `json:"type"`
	Title []notionRichText `json:"title"`
}

type notionRichText struct {
	PlainText string `json:"plain_text"`
}

type notionSearchResponse struct {
	Results    []notionPage `json:"results"`
	NextCursor string       `json:"next_cursor"`
	HasMore    bool         `json:"has_more"`
}

func (n *notionSource) FetchWindow(ctx context.Context, cursor Cursor, window Window) ([]RawItem, Cursor, error) {
	body := map[string]any{
		"filter":    map[string]string{"property": "object", "value": "page"},
		"sort":      map[string]string{"direction": "descending", "timestamp": "last_edited_time"},
		"page_size": 100,
	}
	if cursor.PageToken != "" {
		body["start_cursor"] = cursor.PageToken
	}

	var resp notionSearchResponse
	if err := n.post(ctx, "/search", body, &resp); err != nil {
		return nil, cursor, err
	}

	var items []RawItem
	for _, page := range resp.Results {
		if page.LastEditedTime.Before(window.Start) || page.LastEditedTime.After(window.End) {
			continue
		}
		body, err := n.renderBlocks(ctx, page.ID, 0)
		if err != nil {
			return nil, cursor, err
		}
		items = append(items, RawItem{
			ID:    page.ID,
			Title: notionTitle(page),
			Data:  notionPageDoc{Page: page, Body: body},
		})
	}

	// Results are newest-first: once a page predates the window, every
	// following page does too.
	hasMore := resp.HasMore
	if len(resp.Results) > 0 && resp.Results[len(resp.Results)-1].LastEditedTime.Before(window.Start) {
		hasMore = false
	}
	return items, Cursor{PageToken: resp.NextCursor, HasMore: hasMore}, nil
}

type notionPageDoc struct {
	Page notionPage
	Body string
}

func (n *notionSource) ToCanonical(item RawItem) (*canonical.Document, error) {
	data, ok := item.Data.(notionPageDoc)
	if !ok {
		return nil, fmt.Errorf("unexpected notion item payload %T", item.Data)
	}
	return &canonical.Document{
		Title:    item.Title,
		Type:     store.TypeNotion,
		SourceID: data.Page.ID,
		Metadata: map[string]string{
			"PAGE_ID":          data.Page.ID,
			"PAGE_URL":         data.Page.URL,
			"LAST_EDITED_TIME": data.Page.LastEditedTime.UTC().Format(time.RFC3339),
		},
		Body: data.Body,
	}, nil
}

type notionChildrenResponse struct {
	Results    []json.RawMessage `json:"results"`
	NextCursor string            `json:"next_cursor"`
	HasMore    bool              `json:"has_more"`
}

// renderBlocks flattens a block tree into Markdown, recursing into
// children up to a fixed depth.
func (n *notionSource) renderBlocks(ctx context.Context, blockID string, depth int) (string, error) {
	if depth > 4 {
		return "", nil
	}

	var lines []string
	cursor := ""
	for {
		path := fmt.Sprintf("/blocks/%s/children?page_size=100", blockID)
		if cursor != "" {
			path += "&start_cursor=" + cursor
		}
		var resp notionChildrenResponse
		if err := n.get(ctx, path, &resp); err != nil {
			return "", err
		}

		for _, raw := range resp.Results {
			var block struct {
				ID          string `json:"id"`
				Type        string `json:"type"`
				HasChildren bool   `json:"has_children"`
			}
			if err := json.Unmarshal(raw, &block); err != nil {
				continue
			}
			line := renderNotionBlock(raw, block.Type)
			if line != "" {
				lines = append(lines, line)
			}
			if block.HasChildren && block.Type != "child_page" {
				children, err := n.renderBlocks(ctx, block.ID, depth+1)
				if err != nil {
					return "", err
				}
				if children != "" {
					lines = append(lines, children)
				}
			}
		}

		if !resp.HasMore || resp.NextCursor == "" {
			break
		}
		cursor = resp.NextCursor
	}
	return strings.Join(lines, "\n\n"), nil
}

// renderNotionBlock converts one block to its Markdown line.
func renderNotionBlock(raw json.RawMessage, blockType string) string {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return ""
	}
	payload, ok := envelope[blockType]
	if !ok {
		return ""
	}

	var content struct {
		RichText []notionRichText `json:"rich_text"`
		Language string           `json:"language"`
		Checked  bool             `json:"checked"`
	}
	if err := json.Unmarshal(payload, &content); err != nil {
		return ""
	}
	text := joinRichText(content.RichText)
	if text == "" {
		return ""
	}

	switch blockType {
	case "heading_1":
		return "# " + text
	case "heading_2":
		return "## " + text
	case "heading_3":
		return "### " + text
	case "bulleted_list_item":
		return "- " + text
	case "numbered_list_item":
		return "1. " + text
	case "to_do":
		if content.Checked {
			return "- [x] " + text
		}
		return "- [ ] " + text
	case "quote":
		return "> " + text
	case "code":
		return "```" + content.Language + "\n" + text + "\n```"
	case "paragraph", "callout", "toggle":
		return text
	default:
		return ""
	}
}

func joinRichText(parts []notionRichText) string {
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(p.PlainText)
	}
	return strings.TrimSpace(b.String())
}

func notionTitle(page notionPage) string {
	for _, prop := range page.Properties {
		if prop.Type == "title" {
			if t := joinRichText(prop.Title); t != "" {
				return t
			}
		}
	}
	return "Untitled"
}

func (n *notionSource) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, notionAPIBase+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	n.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	return doJSON(n.client, req, out, store.TypeNotion, path)
}

func (n *notionSource) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, notionAPIBase+path, nil)
	if err != nil {
		return err
	}
	n.setHeaders(req)
	return doJSON(n.client, req, out, store.TypeNotion, path)
}

func (n *notionSource) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+n.cfg.IntegrationToken)
	req.Header.Set("Notion-Version", notionVersion)
}
