package connectors

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/go-shiori/go-readability"

	"github.com/lorehq/lore/pkg/canonical"
	"github.com/lorehq/lore/pkg/httpclient"
	"github.com/lorehq/lore/pkg/store"
)

// crawlerSource fetches configured URLs and extracts the readable
// article from each. Like youtube, it ignores the window; dedupe
// keeps reruns idempotent.
type crawlerSource struct {
	cfg    CrawlerConfig
	client *httpclient.Client
}

func newCrawlerSource(_ context.Context, raw map[string]any) (Source, error) {
	var cfg CrawlerConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return nil, err
	}
	if len(cfg.URLs) == 0 {
		return nil, newError(KindMissingCredentials, store.TypeCrawledURL, nil, "urls missing")
	}
	return &crawlerSource{cfg: cfg, client: newHTTPClient()}, nil
}

func (c *crawlerSource) Type() string { return store.TypeCrawledURL }

func (c *crawlerSource) FetchWindow(ctx context.Context, cursor Cursor, _ Window) ([]RawItem, Cursor, error) {
	index := 0
	if cursor.PageToken != "" {
		fmt.Sscanf(cursor.PageToken, "%d", &index)
	}
	if index >= len(c.cfg.URLs) {
		return nil, Cursor{}, nil
	}

	pageURL := c.cfg.URLs[index]
	next := Cursor{}
	if index+1 < len(c.cfg.URLs) {
		next = Cursor{PageToken: fmt.Sprintf("%d", index+1), HasMore: true}
	}

	title, body, err := c.fetchPage(ctx, pageURL)
	if err != nil {
		return nil, cursor, err
	}

	item := RawItem{
		ID:    pageURL,
		Title: title,
		Data:  crawledPageDoc{URL: pageURL, Title: title, Body: body},
	}
	return []RawItem{item}, next, nil
}

type crawledPageDoc struct {
	URL   string
	Title string
	Body  string
}

func (c *crawlerSource) ToCanonical(item RawItem) (*canonical.Document, error) {
	data, ok := item.Data.(crawledPageDoc)
	if !ok {
		return nil, fmt.Errorf("unexpected crawler item payload %T", item.Data)
	}
	return &canonical.Document{
		Title:    data.Title,
		Type:     store.TypeCrawledURL,
		SourceID: data.URL,
		Metadata: map[string]string{"PAGE_URL": data.URL},
		Body:     data.Body,
	}, nil
}

func (c *crawlerSource) fetchPage(ctx context.Context, pageURL string) (string, string, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid url %q: %w", pageURL, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Accept", "text/html")

	resp, err := c.client.Do(req)
	if resp == nil {
		return "", "", newError(KindTransientUpstream, store.TypeCrawledURL, err, "fetch "+pageURL)
	}
	if err != nil || resp.StatusCode < 200 || resp.StatusCode >= 300 {
		status := resp.StatusCode
		drain(resp)
		return "", "", classifyStatus(store.TypeCrawledURL, status, "fetch "+pageURL)
	}

	var page strings.Builder
	if _, err := copyBounded(&page, resp.Body, 8<<20); err != nil {
		drain(resp)
		return "", "", err
	}
	drain(resp)

	article, err := readability.FromReader(strings.NewReader(page.String()), parsed)
	if err != nil {
		return "", "", fmt.Errorf("extract article from %s: %w", pageURL, err)
	}

	markdown, err := htmltomarkdown.ConvertString(article.Content)
	if err != nil {
		return "", "", fmt.Errorf("convert %s to markdown: %w", pageURL, err)
	}

	title := strings.TrimSpace(article.Title)
	if title == "" {
		title = pageURL
	}
	return title, strings.TrimSpace(markdown), nil
}
