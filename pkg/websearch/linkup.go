package websearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/lorehq/lore/pkg/config"
	"github.com/lorehq/lore/pkg/httpclient"
)

// LinkupProvider speaks the Linkup search API. Depth comes from config:
// "standard" for one-shot lookups, "deep" for iterative ones.
type LinkupProvider struct {
	config config.LinkupConfig
	client *httpclient.Client
}

type linkupRequest struct {
	Query      string `json:"q"`
	Depth      string `json:"depth"`
	OutputType string `json:"outputType"`
}

type linkupResponse struct {
	Results []struct {
		Type    string `json:"type"`
		Name    string `json:"name"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

func NewLinkupProvider(cfg config.LinkupConfig) *LinkupProvider {
	return &LinkupProvider{config: cfg, client: newSearchClient()}
}

func (p *LinkupProvider) Kind() string {
	return KindLinkup
}

func (p *LinkupProvider) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	body, err := json.Marshal(linkupRequest{
		Query:      query,
		Depth:      p.config.Depth,
		OutputType: "searchResults",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal linkup request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.config.Host+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create linkup request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.config.APIKey)

	var resp linkupResponse
	if err := p.client.DoJSON(req, &resp); err != nil {
		return nil, fmt.Errorf("linkup search: %w", err)
	}

	results := make([]Result, 0, len(resp.Results))
	for _, r := range resp.Results {
		if r.Type != "" && r.Type != "text" {
			continue
		}
		results = append(results, Result{Title: r.Name, URL: r.URL, Content: r.Content})
		if len(results) == maxResults {
			break
		}
	}
	return results, nil
}
