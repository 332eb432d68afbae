package connectors

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/lorehq/lore/pkg/canonical"
	"github.com/lorehq/lore/pkg/httpclient"
	"github.com/lorehq/lore/pkg/store"
)

// confluenceSource builds one document per page plus its comments,
// converting storage-format HTML to Markdown.
type confluenceSource struct {
	cfg    ConfluenceConfig
	client *httpclient.Client
}

func newConfluenceSource(_ context.Context, raw map[string]any) (Source, error) {
	var cfg ConfluenceConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return nil, err
	}
	if cfg.BaseURL == "" || cfg.Email == "" || cfg.APIToken == "" {
		return nil, newError(KindMissingCredentials, store.TypeConfluence, nil, "base_url, email, and api_token required")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &confluenceSource{cfg: cfg, client: newHTTPClient()}, nil
}

func (c *confluenceSource) Type() string { return store.TypeConfluence }

type confluencePage struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Body  struct {
		Storage struct {
			Value string `json:"value"`
		} `json:"storage"`
	} `json:"body"`
	Version struct {
		When string `json:"when"`
	} `json:"version"`
	Links struct {
		WebUI string `json:"webui"`
	} `json:"_links"`
}

type confluenceSearchResponse struct {
	Results []confluencePage `json:"results"`
	Size    int              `json:"size"`
	Limit   int              `json:"limit"`
	Start   int              `json:"start"`
}

func (c *confluenceSource) FetchWindow(ctx context.Context, cursor Cursor, window Window) ([]RawItem, Cursor, error) {
	start := 0
	if cursor.PageToken != "" {
		fmt.Sscanf(cursor.PageToken, "%d", &start)
	}

	cql := fmt.Sprintf(`type=page AND lastmodified >= "%s" AND lastmodified <= "%s" ORDER BY lastmodified ASC`,
		window.Start.UTC().Format("2006-01-02 15:04"),
		window.End.UTC().Format("2006-01-02 15:04"))
	params := url.Values{
		"cql":    {cql},
		"expand": {"body.storage,version"},
		"limit":  {"25"},
		"start":  {fmt.Sprintf("%d", start)},
	}

	var resp confluenceSearchResponse
	if err := c.get(ctx, "/wiki/rest/api/content/search?"+params.Encode(), &resp); err != nil {
		return nil, cursor, err
	}

	var items []RawItem
	for _, page := range resp.Results {
		comments, err := c.pageComments(ctx, page.ID)
		if err != nil {
			return nil, cursor, err
		}
		items = append(items, RawItem{
			ID:    page.ID,
			Title: page.Title,
			Data:  confluencePageDoc{Page: page, Comments: comments},
		})
	}

	next := Cursor{}
	if resp.Size == resp.Limit && resp.Size > 0 {
		next = Cursor{PageToken: fmt.Sprintf("%d", start+resp.Size), HasMore: true}
	}
	return items, next, nil
}

type confluencePageDoc struct {
	Page     confluencePage
	Comments []string
}

func (c *confluenceSource) ToCanonical(item RawItem) (*canonical.Document, error) {
	data, ok := item.Data.(confluencePageDoc)
	if !ok {
		return nil, fmt.Errorf("unexpected confluence item payload %T", item.Data)
	}

	body, err := htmltomarkdown.ConvertString(data.Page.Body.Storage.Value)
	if err != nil {
		return nil, fmt.Errorf("convert page %s: %w", data.Page.ID, err)
	}
	if len(data.Comments) > 0 {
		body += "\n\n## Comments\n\n" + strings.Join(data.Comments, "\n\n")
	}

	return &canonical.Document{
		Title:    data.Page.Title,
		Type:     store.TypeConfluence,
		SourceID: data.Page.ID,
		Metadata: map[string]string{
			"PAGE_ID":    data.Page.ID,
			"PAGE_URL":   c.cfg.BaseURL + "/wiki" + data.Page.Links.WebUI,
			"UPDATED_AT": data.Page.Version.When,
		},
		Body: body,
	}, nil
}

type confluenceCommentsResponse struct {
	Results []struct {
		Body struct {
			Storage struct {
				Value string `json:"value"`
			} `json:"storage"`
		} `json:"body"`
	} `json:"results"`
}

func (c *confluenceSource) pageComments(ctx context.Context, pageID string) ([]string, error) {
	var resp confluenceCommentsResponse
	path := fmt.Sprintf("/wiki/rest/api/content/%s/child/comment?expand=body.storage&limit=50", pageID)
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}

	var comments []string
	for _, result := range resp.Results {
		md, err := htmltomarkdown.ConvertString(result.Body.Storage.Value)
		if err != nil {
			continue
		}
		if md = strings.TrimSpace(md); md != "" {
			comments = append(comments, md)
		}
	}
	return comments, nil
}

func (c *confluenceSource) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.cfg.Email, c.cfg.APIToken)
	return doJSON(c.client, req, out, store.TypeConfluence, path)
}
