package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/go-shiori/go-readability"

	"github.com/lorehq/lore/pkg/httpclient"
)

const (
	defaultScrapeMaxLength = 10000
	scrapeBodyLimit        = 8 << 20
)

type scrapeWebpageArgs struct {
	URL       string `json:"url" jsonschema:"required,description=The webpage URL to fetch"`
	MaxLength int    `json:"max_length,omitempty" jsonschema:"description=Truncate the extracted content to this many characters,default=10000"`
}

// ScrapeWebpageTool fetches a page, extracts the readable article, and
// returns it as Markdown. The timeout is a hard bound on the whole
// fetch, extraction included.
type ScrapeWebpageTool struct {
	client  *httpclient.Client
	timeout time.Duration
}

func NewScrapeWebpageTool(timeout time.Duration) *ScrapeWebpageTool {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ScrapeWebpageTool{
		client: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: timeout}),
			httpclient.WithMaxRetries(1),
		),
		timeout: timeout,
	}
}

func (t *ScrapeWebpageTool) Name() string { return "scrape_webpage" }

func (t *ScrapeWebpageTool) Description() string {
	return "Fetch a webpage and return its readable content as Markdown. Use for pages the user links or that web search surfaced."
}

func (t *ScrapeWebpageTool) ArgsSchema() map[string]any {
	return argsSchema[scrapeWebpageArgs]()
}

func (t *ScrapeWebpageTool) Invoke(ctx context.Context, args map[string]any) ToolOutcome {
	pageURL := stringArg(args, "url")
	if pageURL == "" {
		return Failedf("url is required")
	}
	maxLength := intArg(args, "max_length", defaultScrapeMaxLength)
	if maxLength <= 0 {
		maxLength = defaultScrapeMaxLength
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	parsed, err := url.Parse(pageURL)
	if err != nil {
		return Failedf("invalid url %q: %v", pageURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return Failedf("unsupported scheme %q", parsed.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return Failed(err)
	}
	req.Header.Set("Accept", "text/html")

	resp, err := t.client.Do(req)
	if resp == nil {
		return Failedf("fetch %s: %v", pageURL, err)
	}
	if err != nil || resp.StatusCode < 200 || resp.StatusCode >= 300 {
		status := resp.StatusCode
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return Failedf("fetch %s: HTTP %d", pageURL, status)
	}

	var page strings.Builder
	_, err = io.Copy(&page, io.LimitReader(resp.Body, scrapeBodyLimit))
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if err != nil {
		return Failed(err)
	}

	article, err := readability.FromReader(strings.NewReader(page.String()), parsed)
	if err != nil {
		return Failedf("extract article from %s: %v", pageURL, err)
	}
	markdown, err := htmltomarkdown.ConvertString(article.Content)
	if err != nil {
		return Failedf("convert %s to markdown: %v", pageURL, err)
	}

	title := strings.TrimSpace(article.Title)
	content := strings.TrimSpace(markdown)
	if content == "" {
		return Failedf("no readable content at %s", pageURL)
	}

	var b strings.Builder
	if title != "" {
		fmt.Fprintf(&b, "# %s\n\n", title)
	}
	b.WriteString(clip(content, maxLength))
	return Success(b.String())
}
