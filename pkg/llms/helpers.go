package llms

import (
	"net/http"
	"time"

	"github.com/lorehq/lore/pkg/config"
	"github.com/lorehq/lore/pkg/httpclient"
)

// createHTTPClient builds the retrying HTTP client for a provider, wiring
// its rate-limit headers into the backoff calculation.
func createHTTPClient(cfg *config.LLMProviderConfig, parser httpclient.RateLimitHeaderParser) *httpclient.Client {
	opts := []httpclient.Option{
		httpclient.WithHTTPClient(&http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		}),
		httpclient.WithMaxRetries(cfg.MaxRetries),
		httpclient.WithBaseDelay(time.Duration(cfg.RetryDelay) * time.Second),
	}
	if parser != nil {
		opts = append(opts, httpclient.WithHeaderParser(parser))
	}
	return httpclient.New(opts...)
}

// temperature returns the configured temperature or the provider default.
func temperature(cfg *config.LLMProviderConfig) float64 {
	if cfg.Temperature == nil {
		return 0.7
	}
	return *cfg.Temperature
}
