package connectors

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lorehq/lore/pkg/canonical"
	"github.com/lorehq/lore/pkg/httpclient"
	"github.com/lorehq/lore/pkg/store"
)

const lumaAPIBase = "https://api.lu.ma/public/v1"

// lumaSource builds one document per calendar event in the window.
type lumaSource struct {
	cfg    LumaConfig
	client *httpclient.Client
}

func newLumaSource(_ context.Context, raw map[string]any) (Source, error) {
	var cfg LumaConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return nil, err
	}
	if cfg.APIKey == "" {
		return nil, newError(KindMissingCredentials, store.TypeLuma, nil, "api_key missing")
	}
	return &lumaSource{cfg: cfg, client: newHTTPClient()}, nil
}

func (l *lumaSource) Type() string { return store.TypeLuma }

type lumaEvent struct {
	APIID       string    `json:"api_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	StartAt     time.Time `json:"start_at"`
	EndAt       time.Time `json:"end_at"`
	URL         string    `json:"url"`
	GeoAddress  struct {
		FullAddress string `json:"full_address"`
	} `json:"geo_address_json"`
}

type lumaListResponse struct {
	Entries []struct {
		Event lumaEvent `json:"event"`
	} `json:"entries"`
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor"`
}

func (l *lumaSource) FetchWindow(ctx context.Context, cursor Cursor, window Window) ([]RawItem, Cursor, error) {
	params := url.Values{
		"after":  {window.Start.UTC().Format(time.RFC3339)},
		"before": {window.End.UTC().Format(time.RFC3339)},
	}
	if cursor.PageToken != "" {
		params.Set("pagination_cursor", cursor.PageToken)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/calendar/list-events?%s", lumaAPIBase, params.Encode()), nil)
	if err != nil {
		return nil, cursor, err
	}
	req.Header.Set("x-luma-api-key", l.cfg.APIKey)

	var resp lumaListResponse
	if err := doJSON(l.client, req, &resp, store.TypeLuma, "list-events"); err != nil {
		return nil, cursor, err
	}

	items := make([]RawItem, 0, len(resp.Entries))
	for _, entry := range resp.Entries {
		items = append(items, RawItem{ID: entry.Event.APIID, Title: entry.Event.Name, Data: entry.Event})
	}

	next := Cursor{}
	if resp.HasMore && resp.NextCursor != "" {
		next = Cursor{PageToken: resp.NextCursor, HasMore: true}
	}
	return items, next, nil
}

func (l *lumaSource) ToCanonical(item RawItem) (*canonical.Document, error) {
	event, ok := item.Data.(lumaEvent)
	if !ok {
		return nil, fmt.Errorf("unexpected luma item payload %T", item.Data)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", event.Name)
	fmt.Fprintf(&b, "Starts: %s\n", event.StartAt.UTC().Format(time.RFC1123))
	fmt.Fprintf(&b, "Ends: %s\n", event.EndAt.UTC().Format(time.RFC1123))
	if event.GeoAddress.FullAddress != "" {
		fmt.Fprintf(&b, "Location: %s\n", event.GeoAddress.FullAddress)
	}
	if event.Description != "" {
		b.WriteString("\n")
		b.WriteString(event.Description)
	}

	return &canonical.Document{
		Title:    event.Name,
		Type:     store.TypeLuma,
		SourceID: event.APIID,
		Metadata: map[string]string{
			"EVENT_ID":  event.APIID,
			"EVENT_URL": event.URL,
			"START_AT":  event.StartAt.UTC().Format(time.RFC3339),
			"END_AT":    event.EndAt.UTC().Format(time.RFC3339),
		},
		Body: b.String(),
	}, nil
}
