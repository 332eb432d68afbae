package connectors

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/lorehq/lore/pkg/canonical"
	"github.com/lorehq/lore/pkg/ingest"
	"github.com/lorehq/lore/pkg/store"
)

// maxDriveDownload caps per-file download size.
const maxDriveDownload = 16 << 20

const driveListFields = "nextPageToken, files(id, name, mimeType, md5Checksum, modifiedTime, webViewLink, trashed)"

// workspaceExports maps Google Workspace editor types to export
// handling. Everything exports to PDF; other google-apps types are
// skipped.
var workspaceExportable = map[string]bool{
	"application/vnd.google-apps.document":     true,
	"application/vnd.google-apps.spreadsheet":  true,
	"application/vnd.google-apps.presentation": true,
}

// driveSource syncs Google Drive. With a stored change-page token it
// walks the changes feed; otherwise it runs a full scan bounded by the
// window and emits a fresh start token for the next run. Listing
// metadata alone is enough to detect unchanged content (md5 for binary
// files, modifiedTime for Workspace files), so renames never download.
type driveSource struct {
	srv *drive.Service
	// runCtx bounds downloads in ToCanonical; set per FetchWindow call.
	runCtx context.Context
	// mode is "delta" or "scan", fixed by the first FetchWindow call.
	mode string
	// startToken is captured before a full scan and becomes the stored
	// page token once the scan completes.
	startToken string
}

func newGoogleDriveSource(ctx context.Context, raw map[string]any) (Source, error) {
	ts, err := googleTokenSource(ctx, raw, store.TypeGoogleDrive)
	if err != nil {
		return nil, err
	}
	srv, err := drive.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("drive service: %w", err)
	}
	return &driveSource{srv: srv, runCtx: ctx}, nil
}

func (d *driveSource) Type() string { return store.TypeGoogleDrive }

func (d *driveSource) FetchWindow(ctx context.Context, cursor Cursor, window Window) ([]RawItem, Cursor, error) {
	d.runCtx = ctx
	if d.mode == "" {
		if cursor.PageToken != "" {
			d.mode = "delta"
		} else {
			d.mode = "scan"
		}
	}
	if d.mode == "delta" {
		return d.fetchChanges(ctx, cursor)
	}
	return d.fetchScan(ctx, cursor, window)
}

// fetchChanges walks the changes feed from the stored token.
func (d *driveSource) fetchChanges(ctx context.Context, cursor Cursor) ([]RawItem, Cursor, error) {
	list, err := d.srv.Changes.List(cursor.PageToken).
		Fields("nextPageToken, newStartPageToken, changes(fileId, removed, file(id, name, mimeType, md5Checksum, modifiedTime, webViewLink, trashed))").
		PageSize(100).
		IncludeRemoved(false).
		Context(ctx).Do()
	if err != nil {
		return nil, cursor, driveError(err)
	}

	var items []RawItem
	for _, change := range list.Changes {
		file := change.File
		if change.Removed || file == nil || file.Trashed || !driveExtractable(file) {
			continue
		}
		items = append(items, RawItem{ID: file.Id, Title: file.Name, Data: file})
	}

	next := Cursor{PageToken: list.NewStartPageToken}
	if list.NextPageToken != "" {
		next = Cursor{PageToken: list.NextPageToken, HasMore: true}
	}
	return items, next, nil
}

// fetchScan lists files modified inside the window. The start token
// captured up front becomes the cursor once the scan completes, so the
// next run picks up anything changed mid-scan.
func (d *driveSource) fetchScan(ctx context.Context, cursor Cursor, window Window) ([]RawItem, Cursor, error) {
	if d.startToken == "" {
		start, err := d.srv.Changes.GetStartPageToken().Context(ctx).Do()
		if err != nil {
			return nil, cursor, driveError(err)
		}
		d.startToken = start.StartPageToken
	}

	query := fmt.Sprintf(
		"trashed = false and mimeType != 'application/vnd.google-apps.folder' and modifiedTime >= '%s' and modifiedTime <= '%s'",
		window.Start.UTC().Format(time.RFC3339), window.End.UTC().Format(time.RFC3339))

	call := d.srv.Files.List().Q(query).Fields(driveListFields).PageSize(100).Context(ctx)
	if cursor.PageToken != "" {
		call = call.PageToken(cursor.PageToken)
	}
	list, err := call.Do()
	if err != nil {
		return nil, cursor, driveError(err)
	}

	var items []RawItem
	for _, file := range list.Files {
		if !driveExtractable(file) {
			continue
		}
		items = append(items, RawItem{ID: file.Id, Title: file.Name, Data: file})
	}

	next := Cursor{PageToken: d.startToken}
	if list.NextPageToken != "" {
		next = Cursor{PageToken: list.NextPageToken, HasMore: true}
	}
	return items, next, nil
}

// Fingerprint identifies content from listing metadata: md5 for binary
// files, modifiedTime for Workspace files which carry no checksum.
func (d *driveSource) Fingerprint(item RawItem) string {
	file, ok := item.Data.(*drive.File)
	if !ok {
		return ""
	}
	if file.Md5Checksum != "" {
		return "md5:" + file.Md5Checksum
	}
	if file.ModifiedTime != "" {
		return "mtime:" + file.ModifiedTime
	}
	return ""
}

// RenamePatch updates what a rename changes and nothing else.
func (d *driveSource) RenamePatch(item RawItem) (string, map[string]string) {
	file, _ := item.Data.(*drive.File)
	patch := map[string]string{}
	if file != nil {
		patch["GOOGLE_DRIVE_FILE_NAME"] = file.Name
	}
	return item.Title, patch
}

func (d *driveSource) ToCanonical(item RawItem) (*canonical.Document, error) {
	file, ok := item.Data.(*drive.File)
	if !ok {
		return nil, fmt.Errorf("unexpected drive item payload %T", item.Data)
	}

	body, err := d.fileText(d.runCtx, file)
	if err != nil {
		return nil, err
	}

	return &canonical.Document{
		Title:    file.Name,
		Type:     store.TypeGoogleDrive,
		SourceID: file.Id,
		Metadata: map[string]string{
			"GOOGLE_DRIVE_FILE_ID":   file.Id,
			"GOOGLE_DRIVE_FILE_NAME": file.Name,
			"MIME_TYPE":              file.MimeType,
			"MODIFIED_TIME":          file.ModifiedTime,
			"WEB_VIEW_LINK":          file.WebViewLink,
			MetaFingerprint:          d.Fingerprint(item),
		},
		Body: body,
	}, nil
}

// fileText downloads and extracts one file. Workspace files export to
// PDF first.
func (d *driveSource) fileText(ctx context.Context, file *drive.File) (string, error) {
	if strings.HasPrefix(file.MimeType, "application/vnd.google-apps.") {
		resp, err := d.srv.Files.Export(file.Id, "application/pdf").Context(ctx).Download()
		if err != nil {
			return "", driveError(err)
		}
		data, err := readBounded(resp.Body, maxDriveDownload)
		if err != nil {
			return "", err
		}
		return ingest.ExtractPDFBytes(ctx, data)
	}

	resp, err := d.srv.Files.Get(file.Id).Context(ctx).Download()
	if err != nil {
		return "", driveError(err)
	}
	data, err := readBounded(resp.Body, maxDriveDownload)
	if err != nil {
		return "", err
	}

	if ingest.SupportedFile(file.Name) {
		return ingest.ExtractBytes(ctx, file.Name, data)
	}
	// Text mime types without a recognized extension pass through raw.
	return string(data), nil
}

// driveExtractable filters the listing down to files we can turn into
// text.
func driveExtractable(file *drive.File) bool {
	if workspaceExportable[file.MimeType] {
		return true
	}
	if strings.HasPrefix(file.MimeType, "application/vnd.google-apps.") {
		return false
	}
	if strings.HasPrefix(file.MimeType, "text/") {
		return true
	}
	return ingest.SupportedFile(file.Name)
}

// driveError classifies Drive API failures by status text; the client
// already retried transiently.
func driveError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "401") || strings.Contains(msg, "invalid_grant") || strings.Contains(msg, "403"):
		return newError(KindAuthExpired, store.TypeGoogleDrive, err, "drive api")
	case strings.Contains(msg, "429"):
		return newError(KindRateLimited, store.TypeGoogleDrive, err, "drive api")
	default:
		return newError(KindTransientUpstream, store.TypeGoogleDrive, err, "drive api")
	}
}

func readBounded(r io.ReadCloser, limit int64) ([]byte, error) {
	defer r.Close()
	var buf bytes.Buffer
	if _, err := copyBounded(&buf, r, limit); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
