package connectors

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/lorehq/lore/pkg/canonical"
	"github.com/lorehq/lore/pkg/store"
)

// calendarSource builds one document per event on the primary calendar.
type calendarSource struct {
	srv *calendar.Service
}

func newGoogleCalendarSource(ctx context.Context, raw map[string]any) (Source, error) {
	ts, err := googleTokenSource(ctx, raw, store.TypeGoogleCalendar)
	if err != nil {
		return nil, err
	}
	srv, err := calendar.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("calendar service: %w", err)
	}
	return &calendarSource{srv: srv}, nil
}

func (c *calendarSource) Type() string { return store.TypeGoogleCalendar }

func (c *calendarSource) FetchWindow(ctx context.Context, cursor Cursor, window Window) ([]RawItem, Cursor, error) {
	call := c.srv.Events.List("primary").
		TimeMin(window.Start.UTC().Format(time.RFC3339)).
		TimeMax(window.End.UTC().Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		MaxResults(100).
		Context(ctx)
	if cursor.PageToken != "" {
		call = call.PageToken(cursor.PageToken)
	}
	list, err := call.Do()
	if err != nil {
		return nil, cursor, googleAPIError(store.TypeGoogleCalendar, err)
	}

	var items []RawItem
	for _, event := range list.Items {
		if event.Status == "cancelled" {
			continue
		}
		title := event.Summary
		if title == "" {
			title = "(untitled event)"
		}
		items = append(items, RawItem{ID: event.Id, Title: title, Data: event})
	}

	next := Cursor{}
	if list.NextPageToken != "" {
		next = Cursor{PageToken: list.NextPageToken, HasMore: true}
	}
	return items, next, nil
}

func (c *calendarSource) ToCanonical(item RawItem) (*canonical.Document, error) {
	event, ok := item.Data.(*calendar.Event)
	if !ok {
		return nil, fmt.Errorf("unexpected calendar item payload %T", item.Data)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", item.Title)
	fmt.Fprintf(&b, "Starts: %s\n", eventTime(event.Start))
	fmt.Fprintf(&b, "Ends: %s\n", eventTime(event.End))
	if event.Location != "" {
		fmt.Fprintf(&b, "Location: %s\n", event.Location)
	}
	if len(event.Attendees) > 0 {
		var names []string
		for _, a := range event.Attendees {
			if a.DisplayName != "" {
				names = append(names, a.DisplayName)
			} else {
				names = append(names, a.Email)
			}
		}
		fmt.Fprintf(&b, "Attendees: %s\n", strings.Join(names, ", "))
	}
	if event.Description != "" {
		b.WriteString("\n")
		b.WriteString(event.Description)
	}

	return &canonical.Document{
		Title:    item.Title,
		Type:     store.TypeGoogleCalendar,
		SourceID: event.Id,
		Metadata: map[string]string{
			"EVENT_ID":   event.Id,
			"EVENT_LINK": event.HtmlLink,
			"START_AT":   eventTime(event.Start),
			"END_AT":     eventTime(event.End),
			"ORGANIZER":  eventOrganizer(event),
		},
		Body: b.String(),
	}, nil
}

func eventTime(t *calendar.EventDateTime) string {
	if t == nil {
		return ""
	}
	if t.DateTime != "" {
		return t.DateTime
	}
	return t.Date
}

func eventOrganizer(event *calendar.Event) string {
	if event.Organizer == nil {
		return ""
	}
	if event.Organizer.DisplayName != "" {
		return event.Organizer.DisplayName
	}
	return event.Organizer.Email
}
