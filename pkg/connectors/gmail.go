package connectors

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/lorehq/lore/pkg/canonical"
	"github.com/lorehq/lore/pkg/store"
)

// gmailSource builds one document per message, with the RFC 2822
// headers carried in metadata.
type gmailSource struct {
	srv    *gmail.Service
	runCtx context.Context
}

func newGmailSource(ctx context.Context, raw map[string]any) (Source, error) {
	ts, err := googleTokenSource(ctx, raw, store.TypeGmail)
	if err != nil {
		return nil, err
	}
	srv, err := gmail.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("gmail service: %w", err)
	}
	return &gmailSource{srv: srv, runCtx: ctx}, nil
}

func (g *gmailSource) Type() string { return store.TypeGmail }

func (g *gmailSource) FetchWindow(ctx context.Context, cursor Cursor, window Window) ([]RawItem, Cursor, error) {
	g.runCtx = ctx

	query := fmt.Sprintf("after:%d before:%d", window.Start.Unix(), window.End.Unix())
	call := g.srv.Users.Messages.List("me").Q(query).MaxResults(100).Context(ctx)
	if cursor.PageToken != "" {
		call = call.PageToken(cursor.PageToken)
	}
	list, err := call.Do()
	if err != nil {
		return nil, cursor, googleAPIError(store.TypeGmail, err)
	}

	var items []RawItem
	for _, ref := range list.Messages {
		msg, err := g.srv.Users.Messages.Get("me", ref.Id).Format("full").Context(ctx).Do()
		if err != nil {
			return nil, cursor, googleAPIError(store.TypeGmail, err)
		}
		items = append(items, RawItem{ID: msg.Id, Title: gmailHeader(msg, "Subject"), Data: msg})
	}

	next := Cursor{}
	if list.NextPageToken != "" {
		next = Cursor{PageToken: list.NextPageToken, HasMore: true}
	}
	return items, next, nil
}

func (g *gmailSource) ToCanonical(item RawItem) (*canonical.Document, error) {
	msg, ok := item.Data.(*gmail.Message)
	if !ok {
		return nil, fmt.Errorf("unexpected gmail item payload %T", item.Data)
	}

	subject := gmailHeader(msg, "Subject")
	if subject == "" {
		subject = "(no subject)"
	}
	body := gmailBody(msg.Payload)
	if strings.TrimSpace(body) == "" {
		body = msg.Snippet
	}

	return &canonical.Document{
		Title:    subject,
		Type:     store.TypeGmail,
		SourceID: msg.Id,
		Metadata: map[string]string{
			"MESSAGE_ID": msg.Id,
			"THREAD_ID":  msg.ThreadId,
			"FROM":       gmailHeader(msg, "From"),
			"TO":         gmailHeader(msg, "To"),
			"DATE":       gmailHeader(msg, "Date"),
			"SUBJECT":    subject,
		},
		Body: body,
	}, nil
}

func gmailHeader(msg *gmail.Message, name string) string {
	if msg.Payload == nil {
		return ""
	}
	for _, h := range msg.Payload.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// gmailBody walks the MIME tree preferring text/plain parts.
func gmailBody(part *gmail.MessagePart) string {
	if part == nil {
		return ""
	}
	if part.MimeType == "text/plain" && part.Body != nil && part.Body.Data != "" {
		if decoded, err := base64.URLEncoding.DecodeString(part.Body.Data); err == nil {
			return string(decoded)
		}
	}
	for _, child := range part.Parts {
		if text := gmailBody(child); text != "" {
			return text
		}
	}
	// Fall back to text/html when no plain part exists.
	if part.MimeType == "text/html" && part.Body != nil && part.Body.Data != "" {
		if decoded, err := base64.URLEncoding.DecodeString(part.Body.Data); err == nil {
			return string(decoded)
		}
	}
	return ""
}

// googleAPIError classifies Google client errors shared by the Gmail
// and Calendar sources.
func googleAPIError(connectorType string, err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "401") || strings.Contains(msg, "invalid_grant") || strings.Contains(msg, "403"):
		return newError(KindAuthExpired, connectorType, err, "google api")
	case strings.Contains(msg, "429"):
		return newError(KindRateLimited, connectorType, err, "google api")
	default:
		return newError(KindTransientUpstream, connectorType, err, "google api")
	}
}
