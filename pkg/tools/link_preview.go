package tools

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/lorehq/lore/pkg/httpclient"
)

const previewBodyLimit = 2 << 20

type linkPreviewArgs struct {
	URL string `json:"url" jsonschema:"required,description=The URL to preview"`
}

// Preview is the card metadata extracted from a page.
type Preview struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Image       string `json:"image,omitempty"`
	SiteName    string `json:"site_name,omitempty"`
}

// LinkPreviewTool fetches a page and returns its OpenGraph or Twitter
// card metadata as JSON.
type LinkPreviewTool struct {
	client  *httpclient.Client
	timeout time.Duration
}

func NewLinkPreviewTool(timeout time.Duration) *LinkPreviewTool {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &LinkPreviewTool{
		client: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: timeout}),
			httpclient.WithMaxRetries(1),
		),
		timeout: timeout,
	}
}

func (t *LinkPreviewTool) Name() string { return "link_preview" }

func (t *LinkPreviewTool) Description() string {
	return "Fetch a URL and return its link-preview metadata (title, description, image) from OpenGraph or Twitter card tags."
}

func (t *LinkPreviewTool) ArgsSchema() map[string]any {
	return argsSchema[linkPreviewArgs]()
}

func (t *LinkPreviewTool) Invoke(ctx context.Context, args map[string]any) ToolOutcome {
	pageURL := stringArg(args, "url")
	if pageURL == "" {
		return Failedf("url is required")
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	parsed, err := url.Parse(pageURL)
	if err != nil {
		return Failedf("invalid url %q: %v", pageURL, err)
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

	preview := parsePreview(io.LimitReader(resp.Body, previewBodyLimit))
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	preview.URL = pageURL
	if preview.Image != "" {
		if img, err := url.Parse(preview.Image); err == nil {
			preview.Image = parsed.ResolveReference(img).String()
		}
	}

	data, err := json.Marshal(preview)
	if err != nil {
		return Failed(err)
	}
	return Success(string(data))
}

// parsePreview tokenizes the document head. OpenGraph tags win over
// Twitter card tags, which win over plain title/description.
func parsePreview(r io.Reader) Preview {
	tz := html.NewTokenizer(r)
	meta := make(map[string]string)
	var docTitle string

loop:
	for {
		switch tz.Next() {
		case html.ErrorToken:
			break loop
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := tz.Token()
			switch tok.Data {
			case "meta":
				var key, content string
				for _, a := range tok.Attr {
					switch a.Key {
					case "property", "name":
						key = strings.ToLower(a.Val)
					case "content":
						content = a.Val
					}
				}
				if key != "" && content != "" {
					if _, seen := meta[key]; !seen {
						meta[key] = content
					}
				}
			case "title":
				if tz.Next() == html.TextToken {
					docTitle = strings.TrimSpace(tz.Token().Data)
				}
			case "body":
				// Card tags live in the head.
				break loop
			}
		}
	}

	pick := func(keys ...string) string {
		for _, k := range keys {
			if v := meta[k]; v != "" {
				return v
			}
		}
		return ""
	}

	p := Preview{
		Title:       pick("og:title", "twitter:title"),
		Description: pick("og:description", "twitter:description", "description"),
		Image:       pick("og:image", "twitter:image"),
		SiteName:    meta["og:site_name"],
	}
	if p.Title == "" {
		p.Title = docTitle
	}
	return p
}
