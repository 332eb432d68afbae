package connectors

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/lorehq/lore/pkg/canonical"
	"github.com/lorehq/lore/pkg/config"
	"github.com/lorehq/lore/pkg/ingest"
	"github.com/lorehq/lore/pkg/logger"
	"github.com/lorehq/lore/pkg/observability"
	"github.com/lorehq/lore/pkg/secrets"
	"github.com/lorehq/lore/pkg/store"
	"github.com/lorehq/lore/pkg/tasklog"
)

// MetaFingerprint is the document metadata key sources use to record a
// cheap content fingerprint (md5, modified time) for rename-only
// detection on later runs.
const MetaFingerprint = "CONTENT_FINGERPRINT"

// Descriptor is the boundary-facing view of a connector row.
type Descriptor struct {
	ID            uuid.UUID
	Name          string
	Type          string
	SearchSpaceID uuid.UUID
	LastIndexedAt *time.Time
	Runnable      bool
}

// Store is the persistence surface the orchestrator needs.
type Store interface {
	GetConnector(ctx context.Context, id uuid.UUID) (*store.Connector, error)
	ListConnectors(ctx context.Context, searchSpaceID uuid.UUID) ([]store.Connector, error)
	UpdateConnectorCursor(ctx context.Context, id uuid.UUID, indexedAt time.Time, pageToken string) error
	UpdateConnectorConfig(ctx context.Context, id uuid.UUID, seenModifiedAt time.Time, cfg map[string]any) (map[string]any, bool, error)
	GetSearchSpace(ctx context.Context, id uuid.UUID, userID string) (*store.SearchSpace, error)
	GetDocumentByUniqueHash(ctx context.Context, uniqueHash string) (*store.Document, error)
	UpdateDocumentTitleMetadata(ctx context.Context, id uuid.UUID, title string, metadata map[string]any) error
}

// Ingestor is the pipeline surface the orchestrator drives.
type Ingestor interface {
	Ingest(ctx context.Context, searchSpaceID uuid.UUID, connectorID *uuid.UUID, doc *canonical.Document) (*ingest.Result, error)
}

// Orchestrator runs connectors: it resolves windows, loops FetchWindow,
// feeds items through the pipeline in commit batches, and persists the
// cursor on success.
type Orchestrator struct {
	store    Store
	ingestor Ingestor
	tasks    *tasklog.Service
	cipher   *secrets.Cipher
	cfg      config.ConnectorsConfig
	log      *slog.Logger
}

func NewOrchestrator(s Store, ingestor Ingestor, tasks *tasklog.Service, cipher *secrets.Cipher, cfg config.ConnectorsConfig) *Orchestrator {
	return &Orchestrator{
		store:    s,
		ingestor: ingestor,
		tasks:    tasks,
		cipher:   cipher,
		cfg:      cfg,
		log:      logger.Component("connectors"),
	}
}

// ListConnectors returns the connectors of one search space, enforcing
// ownership.
func (o *Orchestrator) ListConnectors(ctx context.Context, userID string, searchSpaceID uuid.UUID) ([]Descriptor, error) {
	if _, err := o.store.GetSearchSpace(ctx, searchSpaceID, userID); err != nil {
		return nil, err
	}
	rows, err := o.store.ListConnectors(ctx, searchSpaceID)
	if err != nil {
		return nil, err
	}
	out := make([]Descriptor, 0, len(rows))
	for _, row := range rows {
		out = append(out, Descriptor{
			ID:            row.ID,
			Name:          row.Name,
			Type:          row.ConnectorType,
			SearchSpaceID: row.SearchSpaceID,
			LastIndexedAt: row.LastIndexedAt,
			Runnable:      Runnable(row.ConnectorType),
		})
	}
	return out, nil
}

// RunConnector executes one sync run. Per-item failures are logged and
// skipped; a fetch failure fails the run and leaves the cursor
// untouched. The cursor advances only on success and only when
// opts.UpdateCursor is set.
func (o *Orchestrator) RunConnector(ctx context.Context, connectorID uuid.UUID, opts RunOptions) (RunStats, error) {
	var stats RunStats

	connector, err := o.store.GetConnector(ctx, connectorID)
	if errors.Is(err, store.ErrNotFound) {
		return stats, newError(KindConnectorNotFound, connectorID.String(), err, "connector not found")
	}
	if err != nil {
		return stats, err
	}

	tracer := observability.GetTracer("connectors")
	ctx, span := tracer.Start(ctx, observability.SpanConnectorRun)
	defer span.End()
	span.SetAttributes(
		attribute.String(observability.AttrConnectorType, connector.ConnectorType),
		attribute.String(observability.AttrConnectorID, connector.ID.String()),
	)
	metrics := observability.GetGlobalMetrics()

	task, _ := o.tasks.Start(ctx, "connector_run", connector.ConnectorType, map[string]any{
		"connector_id":   connector.ID.String(),
		"connector_name": connector.Name,
	})

	source, err := o.buildSource(ctx, connector)
	if err != nil {
		task.Fail(ctx, err, nil)
		span.SetStatus(codes.Error, err.Error())
		return stats, err
	}

	window := resolveWindow(opts, connector.LastIndexedAt, o.cfg.LookbackDays, time.Now().UTC())
	cursor := Cursor{PageToken: connector.PageToken}
	if connector.LastIndexedAt != nil {
		cursor.LastIndexedAt = *connector.LastIndexedAt
	}
	o.log.Info("connector run started",
		"connector", connector.Name,
		"type", connector.ConnectorType,
		"window_start", window.Start,
		"window_end", window.End,
	)

	stopHeartbeat := task.HeartbeatEvery(ctx, o.cfg.HeartbeatInterval)
	defer stopHeartbeat()

	processed := 0
	for {
		items, next, err := o.fetchPage(ctx, source, cursor, window)
		if err != nil {
			if KindOf(err) == KindSourceEmpty {
				break
			}
			task.Fail(ctx, err, statsMetadata(stats))
			metrics.RecordIngest(ctx, connector.ConnectorType, stats.DocumentsIndexed, stats.DocumentsSkipped, err)
			span.SetStatus(codes.Error, err.Error())
			return stats, err
		}

		for _, item := range items {
			if o.applyRenameOnly(ctx, source, connector, item) {
				stats.DocumentsIndexed++
				continue
			}

			doc, err := source.ToCanonical(item)
			if err != nil {
				stats.Failures++
				task.Progress(ctx, "item_failed", map[string]any{"item": item.ID, "error": err.Error()})
				o.log.Warn("item failed", "connector", connector.Name, "item", item.ID, "error", err)
				continue
			}
			res, err := o.ingestor.Ingest(ctx, connector.SearchSpaceID, &connector.ID, doc)
			if err != nil {
				stats.Failures++
				task.Progress(ctx, "item_failed", map[string]any{"item": item.ID, "error": err.Error()})
				o.log.Warn("item failed", "connector", connector.Name, "item", item.ID, "error", err)
				continue
			}
			if res.Outcome == ingest.OutcomeSkipped {
				stats.DocumentsSkipped++
			} else {
				stats.DocumentsIndexed++
			}

			processed++
			if processed%o.cfg.BatchSize == 0 {
				task.Progress(ctx, "batch_committed", statsMetadata(stats))
			}
		}

		cursor = next
		if !next.HasMore {
			break
		}
	}

	if opts.UpdateCursor {
		// An explicit past window re-indexes history; the high-water
		// mark never moves backwards.
		cursorAt := window.End
		if connector.LastIndexedAt != nil && connector.LastIndexedAt.After(cursorAt) {
			cursorAt = *connector.LastIndexedAt
		}
		if err := o.store.UpdateConnectorCursor(ctx, connector.ID, cursorAt, cursor.PageToken); err != nil {
			task.Fail(ctx, err, statsMetadata(stats))
			span.SetStatus(codes.Error, err.Error())
			return stats, err
		}
	}

	task.Succeed(ctx, statsMetadata(stats))
	metrics.RecordIngest(ctx, connector.ConnectorType, stats.DocumentsIndexed, stats.DocumentsSkipped, nil)
	o.log.Info("connector run finished",
		"connector", connector.Name,
		"indexed", stats.DocumentsIndexed,
		"skipped", stats.DocumentsSkipped,
		"failures", stats.Failures,
	)
	return stats, nil
}

// RefreshCredentials rotates OAuth tokens for Google connectors and
// re-seals the config. Idempotent; connectors with static tokens are a
// no-op.
func (o *Orchestrator) RefreshCredentials(ctx context.Context, connectorID uuid.UUID) error {
	connector, err := o.store.GetConnector(ctx, connectorID)
	if errors.Is(err, store.ErrNotFound) {
		return newError(KindConnectorNotFound, connectorID.String(), err, "connector not found")
	}
	if err != nil {
		return err
	}

	switch connector.ConnectorType {
	case store.TypeGoogleDrive, store.TypeGmail, store.TypeGoogleCalendar:
	default:
		return nil
	}

	work := maps.Clone(connector.Config)
	fields := SecretFields(connector.ConnectorType)
	if err := o.cipher.DecryptFields(work, fields...); err != nil {
		return err
	}

	var oauthCfg GoogleOAuthConfig
	if err := decodeConfig(work, &oauthCfg); err != nil {
		return err
	}
	if oauthCfg.RefreshToken == "" {
		return newError(KindMissingCredentials, connector.ConnectorType, nil, "refresh_token missing")
	}

	conf := &oauth2.Config{
		ClientID:     oauthCfg.ClientID,
		ClientSecret: oauthCfg.ClientSecret,
		Endpoint:     google.Endpoint,
	}
	token, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: oauthCfg.RefreshToken}).Token()
	if err != nil {
		return newError(KindAuthExpired, connector.ConnectorType, err, "token refresh failed")
	}

	work["access_token"] = token.AccessToken
	if token.RefreshToken != "" {
		work["refresh_token"] = token.RefreshToken
	}
	work["token_expiry"] = token.Expiry.UTC().Format(time.RFC3339)

	if err := o.cipher.EncryptFields(work, fields...); err != nil {
		return err
	}

	var seen time.Time
	if connector.ConfigModifiedAt != nil {
		seen = *connector.ConfigModifiedAt
	}
	// A lost race means another refresh already landed newer credentials.
	if _, _, err := o.store.UpdateConnectorConfig(ctx, connector.ID, seen, work); err != nil {
		return err
	}
	return nil
}

// buildSource decrypts a working copy of the config and instantiates the
// source.
func (o *Orchestrator) buildSource(ctx context.Context, connector *store.Connector) (Source, error) {
	work := maps.Clone(connector.Config)
	if work == nil {
		work = map[string]any{}
	}
	if err := o.cipher.DecryptFields(work, SecretFields(connector.ConnectorType)...); err != nil {
		return nil, err
	}
	return NewSource(ctx, connector.ConnectorType, work)
}

// fetchPage bounds one upstream page fetch.
func (o *Orchestrator) fetchPage(ctx context.Context, source Source, cursor Cursor, window Window) ([]RawItem, Cursor, error) {
	pageCtx, cancel := context.WithTimeout(ctx, o.cfg.PageTimeout)
	defer cancel()
	return source.FetchWindow(pageCtx, cursor, window)
}

// applyRenameOnly short-circuits the pipeline when a fingerprinting
// source reports content identical to the stored document: only title
// and source-name metadata are updated, no download, no LLM, no
// embedding.
func (o *Orchestrator) applyRenameOnly(ctx context.Context, source Source, connector *store.Connector, item RawItem) bool {
	fp, ok := source.(Fingerprinted)
	if !ok {
		return false
	}
	fingerprint := fp.Fingerprint(item)
	if fingerprint == "" {
		return false
	}

	uniqueHash := canonical.UniqueIdentifierHash(source.Type(), item.ID, connector.SearchSpaceID.String())
	existing, err := o.store.GetDocumentByUniqueHash(ctx, uniqueHash)
	if err != nil {
		return false
	}
	stored, _ := existing.Metadata[MetaFingerprint].(string)
	if stored != fingerprint {
		return false
	}

	title, patch := fp.RenamePatch(item)
	metadata := maps.Clone(existing.Metadata)
	if metadata == nil {
		metadata = map[string]any{}
	}
	for k, v := range patch {
		metadata[k] = v
	}
	if err := o.store.UpdateDocumentTitleMetadata(ctx, existing.ID, title, metadata); err != nil {
		o.log.Warn("rename-only update failed", "item", item.ID, "error", err)
		return false
	}
	return true
}

func statsMetadata(stats RunStats) map[string]any {
	return map[string]any{
		"indexed":  stats.DocumentsIndexed,
		"skipped":  stats.DocumentsSkipped,
		"failures": stats.Failures,
	}
}
