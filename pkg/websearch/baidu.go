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

// BaiduProvider speaks the Qianfan AI search API. Ordering of its
// results is not stable across identical queries.
type BaiduProvider struct {
	config config.BaiduConfig
	client *httpclient.Client
}

type baiduRequest struct {
	Messages       []baiduMessage `json:"messages"`
	SearchSource   string         `json:"search_source"`
	ResourceTypes  []string       `json:"resource_type_filter,omitempty"`
	SearchRecency  string         `json:"search_recency_filter,omitempty"`
	MaxResultCount int            `json:"max_result_count,omitempty"`
}

type baiduMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type baiduResponse struct {
	References []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"references"`
}

func NewBaiduProvider(cfg config.BaiduConfig) *BaiduProvider {
	return &BaiduProvider{config: cfg, client: newSearchClient()}
}

func (p *BaiduProvider) Kind() string {
	return KindBaidu
}

func (p *BaiduProvider) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	body, err := json.Marshal(baiduRequest{
		Messages:       []baiduMessage{{Role: "user", Content: query}},
		SearchSource:   "baidu_search_v2",
		MaxResultCount: maxResults,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal baidu request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.config.Host+"/v2/ai_search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create baidu request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.config.APIKey)

	var resp baiduResponse
	if err := p.client.DoJSON(req, &resp); err != nil {
		return nil, fmt.Errorf("baidu search: %w", err)
	}

	results := make([]Result, 0, len(resp.References))
	for _, r := range resp.References {
		results = append(results, Result{Title: r.Title, URL: r.URL, Content: r.Content})
	}
	return results, nil
}
