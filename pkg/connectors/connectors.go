// Package connectors pulls content out of external sources (Slack,
// Notion, GitHub, Google Workspace, ...) and feeds it to the ingest
// pipeline. Each source implements a small capability interface; the
// orchestrator owns windowing, batching, cursor persistence, and task
// logging.
package connectors

import (
	"context"
	"time"

	"github.com/lorehq/lore/pkg/canonical"
	"github.com/lorehq/lore/pkg/store"
)

// TypeMCP marks connector rows that hold MCP tool definitions. They are
// materialized into agent tools, never run for documents.
const TypeMCP = "MCP_CONNECTOR"

// Window bounds one run in source time.
type Window struct {
	Start time.Time
	End   time.Time
}

// Cursor is the resume state a source threads between FetchWindow calls
// and across runs. Interpretation is per connector: most use
// LastIndexedAt, Drive uses a change-page token, paged APIs stash their
// page cursor in PageToken mid-scan.
type Cursor struct {
	LastIndexedAt time.Time
	PageToken     string
	// HasMore tells the orchestrator to call FetchWindow again within
	// the same window.
	HasMore bool
}

// RawItem is one source-native unit of content. ID is the stable source
// identifier (drives idempotent updates); Data carries the connector's
// native payload through to ToCanonical.
type RawItem struct {
	ID    string
	Title string
	Data  any
}

// Source is the capability interface every concrete connector
// implements. FetchWindow pulls one page of items; the orchestrator owns
// the loop and persistence.
type Source interface {
	Type() string
	FetchWindow(ctx context.Context, cursor Cursor, window Window) ([]RawItem, Cursor, error)
	ToCanonical(item RawItem) (*canonical.Document, error)
}

// Fingerprinted is implemented by sources that can detect unchanged
// content from listing metadata alone, before any download. When the
// fingerprint matches the stored document, the orchestrator applies
// RenamePatch instead of running the pipeline.
type Fingerprinted interface {
	Fingerprint(item RawItem) string
	RenamePatch(item RawItem) (title string, metadata map[string]string)
}

// Factory builds a source from a decrypted connector config.
type Factory func(ctx context.Context, cfg map[string]any) (Source, error)

// factories maps connector type to source constructor. MCP rows are
// deliberately absent.
var factories = map[string]Factory{
	store.TypeSlack:          newSlackSource,
	store.TypeNotion:         newNotionSource,
	store.TypeGitHub:         newGitHubSource,
	store.TypeLinear:         newLinearSource,
	store.TypeJira:           newJiraSource,
	store.TypeDiscord:        newDiscordSource,
	store.TypeConfluence:     newConfluenceSource,
	store.TypeClickUp:        newClickUpSource,
	store.TypeAirtable:       newAirtableSource,
	store.TypeLuma:           newLumaSource,
	store.TypeGoogleDrive:    newGoogleDriveSource,
	store.TypeGmail:          newGmailSource,
	store.TypeGoogleCalendar: newGoogleCalendarSource,
	store.TypeYouTubeVideo:   newYouTubeSource,
	store.TypeCrawledURL:     newCrawlerSource,
}

// NewSource instantiates the source for a connector type.
func NewSource(ctx context.Context, connectorType string, cfg map[string]any) (Source, error) {
	factory, ok := factories[connectorType]
	if !ok {
		return nil, newError(KindConnectorNotFound, connectorType, nil, "no source for connector type")
	}
	return factory(ctx, cfg)
}

// Runnable reports whether a connector type produces documents.
func Runnable(connectorType string) bool {
	_, ok := factories[connectorType]
	return ok
}

// Types lists the runnable connector types.
func Types() []string {
	out := make([]string, 0, len(factories))
	for t := range factories {
		out = append(out, t)
	}
	return out
}
