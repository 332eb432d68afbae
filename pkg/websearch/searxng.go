package websearch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/lorehq/lore/pkg/config"
	"github.com/lorehq/lore/pkg/httpclient"
)

// SearxNGProvider queries a self-hosted SearxNG instance. No API key;
// reachability of the host is the only requirement.
type SearxNGProvider struct {
	config config.SearxNGConfig
	client *httpclient.Client
}

type searxngResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

func NewSearxNGProvider(cfg config.SearxNGConfig) *SearxNGProvider {
	return &SearxNGProvider{config: cfg, client: newSearchClient()}
}

func (p *SearxNGProvider) Kind() string {
	return KindSearxNG
}

func (p *SearxNGProvider) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		p.config.Host+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create searxng request: %w", err)
	}

	var resp searxngResponse
	if err := p.client.DoJSON(req, &resp); err != nil {
		return nil, fmt.Errorf("searxng search: %w", err)
	}

	results := make([]Result, 0, len(resp.Results))
	for _, r := range resp.Results {
		results = append(results, Result{Title: r.Title, URL: r.URL, Content: r.Content})
		if len(results) == maxResults {
			break
		}
	}
	return results, nil
}
