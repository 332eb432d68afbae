package connectors

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/lorehq/lore/pkg/canonical"
	"github.com/lorehq/lore/pkg/httpclient"
	"github.com/lorehq/lore/pkg/store"
)

const airtableAPIBase = "https://api.airtable.com/v0"

// airtableSource builds one document per record across every table of
// the configured base. Pages one table at a time; the table index and
// record offset travel in PageToken as "index:offset".
type airtableSource struct {
	cfg    AirtableConfig
	client *httpclient.Client
	tables []airtableTable
}

func newAirtableSource(_ context.Context, raw map[string]any) (Source, error) {
	var cfg AirtableConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return nil, err
	}
	if cfg.APIKey == "" || cfg.BaseID == "" {
		return nil, newError(KindMissingCredentials, store.TypeAirtable, nil, "api_key and base_id required")
	}
	return &airtableSource{cfg: cfg, client: newHTTPClient()}, nil
}

func (a *airtableSource) Type() string { return store.TypeAirtable }

type airtableTable struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type airtableRecord struct {
	ID          string         `json:"id"`
	CreatedTime time.Time      `json:"createdTime"`
	Fields      map[string]any `json:"fields"`
}

type airtableRecordsResponse struct {
	Records []airtableRecord `json:"records"`
	Offset  string           `json:"offset"`
}

func (a *airtableSource) FetchWindow(ctx context.Context, cursor Cursor, window Window) ([]RawItem, Cursor, error) {
	if a.tables == nil {
		var meta struct {
			Tables []airtableTable `json:"tables"`
		}
		if err := a.get(ctx, fmt.Sprintf("/meta/bases/%s/tables", a.cfg.BaseID), &meta); err != nil {
			return nil, cursor, err
		}
		a.tables = meta.Tables
	}
	if len(a.tables) == 0 {
		return nil, Cursor{}, newError(KindSourceEmpty, store.TypeAirtable, nil, "base has no tables")
	}

	index, offset := splitAirtableToken(cursor.PageToken)
	if index >= len(a.tables) {
		return nil, Cursor{}, nil
	}
	table := a.tables[index]

	params := url.Values{"pageSize": {"100"}}
	if offset != "" {
		params.Set("offset", offset)
	}
	var resp airtableRecordsResponse
	if err := a.get(ctx, fmt.Sprintf("/%s/%s?%s", a.cfg.BaseID, url.PathEscape(table.Name), params.Encode()), &resp); err != nil {
		return nil, cursor, err
	}

	var items []RawItem
	for _, record := range resp.Records {
		if record.CreatedTime.Before(window.Start) || record.CreatedTime.After(window.End) {
			continue
		}
		items = append(items, RawItem{
			ID:    record.ID,
			Title: fmt.Sprintf("%s - %s", table.Name, record.ID),
			Data:  airtableRecordDoc{Table: table, Record: record},
		})
	}

	next := Cursor{}
	switch {
	case resp.Offset != "":
		next = Cursor{PageToken: fmt.Sprintf("%d:%s", index, resp.Offset), HasMore: true}
	case index+1 < len(a.tables):
		next = Cursor{PageToken: fmt.Sprintf("%d:", index+1), HasMore: true}
	}
	return items, next, nil
}

type airtableRecordDoc struct {
	Table  airtableTable
	Record airtableRecord
}

func (a *airtableSource) ToCanonical(item RawItem) (*canonical.Document, error) {
	data, ok := item.Data.(airtableRecordDoc)
	if !ok {
		return nil, fmt.Errorf("unexpected airtable item payload %T", item.Data)
	}

	names := make([]string, 0, len(data.Record.Fields))
	for name := range data.Record.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "%s: %v\n", name, data.Record.Fields[name])
	}

	return &canonical.Document{
		Title:    item.Title,
		Type:     store.TypeAirtable,
		SourceID: data.Record.ID,
		Metadata: map[string]string{
			"BASE_ID":      a.cfg.BaseID,
			"TABLE_NAME":   data.Table.Name,
			"RECORD_ID":    data.Record.ID,
			"CREATED_TIME": data.Record.CreatedTime.UTC().Format(time.RFC3339),
		},
		Body: b.String(),
	}, nil
}

func (a *airtableSource) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, airtableAPIBase+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	return doJSON(a.client, req, out, store.TypeAirtable, path)
}

func splitAirtableToken(token string) (index int, offset string) {
	if token == "" {
		return 0, ""
	}
	parts := strings.SplitN(token, ":", 2)
	fmt.Sscanf(parts[0], "%d", &index)
	if len(parts) == 2 {
		offset = parts[1]
	}
	return index, offset
}
