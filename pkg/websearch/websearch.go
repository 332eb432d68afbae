// Package websearch adapts external search APIs (Tavily, Linkup,
// SearxNG, Baidu) to one provider interface. Results are already in a
// citable shape; the retrieval engine maps them into source envelopes
// alongside indexed content.
package websearch

import (
	"context"
	"time"

	"github.com/lorehq/lore/pkg/config"
	"github.com/lorehq/lore/pkg/httpclient"
)

// Provider kinds. These are the stable names used in search options and
// envelopes.
const (
	KindTavily  = "TAVILY_API"
	KindLinkup  = "LINKUP_API"
	KindSearxNG = "SEARXNG_API"
	KindBaidu   = "BAIDU_SEARCH_API"
)

// Result is one web hit.
type Result struct {
	Title   string
	URL     string
	Content string
}

// Provider is a web search backend.
type Provider interface {
	Kind() string
	Search(ctx context.Context, query string, maxResults int) ([]Result, error)
}

// NewProviders returns one provider per configured backend. Backends
// without credentials (or host, for SearxNG) are simply absent.
func NewProviders(cfg config.WebSearchConfig) []Provider {
	var providers []Provider
	if cfg.Tavily.APIKey != "" {
		providers = append(providers, NewTavilyProvider(cfg.Tavily))
	}
	if cfg.Linkup.APIKey != "" {
		providers = append(providers, NewLinkupProvider(cfg.Linkup))
	}
	if cfg.SearxNG.Host != "" {
		providers = append(providers, NewSearxNGProvider(cfg.SearxNG))
	}
	if cfg.Baidu.APIKey != "" {
		providers = append(providers, NewBaiduProvider(cfg.Baidu))
	}
	return providers
}

func newSearchClient() *httpclient.Client {
	return httpclient.New(
		httpclient.WithTimeout(30*time.Second),
		httpclient.WithMaxRetries(2),
		httpclient.WithHeaderParser(httpclient.ParseRetryAfterHeaders),
	)
}
