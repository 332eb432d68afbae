package connectors

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lorehq/lore/pkg/canonical"
	"github.com/lorehq/lore/pkg/httpclient"
	"github.com/lorehq/lore/pkg/store"
)

const slackAPIBase = "https://slack.com/api"

// slackSource builds one document per joined channel per window. Pages
// at the channel level: each FetchWindow call handles one
// conversations.list page.
type slackSource struct {
	cfg    SlackConfig
	client *httpclient.Client
}

func newSlackSource(_ context.Context, raw map[string]any) (Source, error) {
	var cfg SlackConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return nil, err
	}
	if cfg.BotToken == "" {
		return nil, newError(KindMissingCredentials, store.TypeSlack, nil, "bot_token missing")
	}
	return &slackSource{cfg: cfg, client: newHTTPClient()}, nil
}

func (s *slackSource) Type() string { return store.TypeSlack }

type slackChannel struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	IsMember bool   `json:"is_member"`
}

type slackMessage struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype"`
	User    string `json:"user"`
	Text    string `json:"text"`
	TS      string `json:"ts"`
}

type slackListResponse struct {
	OK               bool           `json:"ok"`
	Error            string         `json:"error"`
	Channels         []slackChannel `json:"channels"`
	ResponseMetadata struct {
		NextCursor string `json:"next_cursor"`
	} `json:"response_metadata"`
}

type slackHistoryResponse struct {
	OK               bool           `json:"ok"`
	Error            string         `json:"error"`
	Messages         []slackMessage `json:"messages"`
	ResponseMetadata struct {
		NextCursor string `json:"next_cursor"`
	} `json:"response_metadata"`
}

func (s *slackSource) FetchWindow(ctx context.Context, cursor Cursor, window Window) ([]RawItem, Cursor, error) {
	params := url.Values{
		"types":            {"public_channel,private_channel"},
		"exclude_archived": {"true"},
		"limit":            {"200"},
	}
	if cursor.PageToken != "" {
		params.Set("cursor", cursor.PageToken)
	}

	var list slackListResponse
	if err := s.get(ctx, "conversations.list", params, &list); err != nil {
		return nil, cursor, err
	}
	if !list.OK {
		return nil, cursor, s.apiError("conversations.list", list.Error)
	}

	var items []RawItem
	for _, channel := range list.Channels {
		// Private channels the bot was never invited to are skipped,
		// not failed.
		if !channel.IsMember {
			continue
		}
		body, err := s.channelHistory(ctx, channel.ID, window)
		if err != nil {
			return nil, cursor, err
		}
		if body == "" {
			continue
		}
		items = append(items, RawItem{
			ID:    fmt.Sprintf("%s/%s", channel.ID, window.Start.Format("2006-01-02")),
			Title: fmt.Sprintf("Slack - #%s", channel.Name),
			Data:  slackChannelDoc{Channel: channel, Body: body, Window: window},
		})
	}

	next := Cursor{PageToken: list.ResponseMetadata.NextCursor, HasMore: list.ResponseMetadata.NextCursor != ""}
	return items, next, nil
}

type slackChannelDoc struct {
	Channel slackChannel
	Body    string
	Window  Window
}

func (s *slackSource) ToCanonical(item RawItem) (*canonical.Document, error) {
	data, ok := item.Data.(slackChannelDoc)
	if !ok {
		return nil, fmt.Errorf("unexpected slack item payload %T", item.Data)
	}
	return &canonical.Document{
		Title:    item.Title,
		Type:     store.TypeSlack,
		SourceID: item.ID,
		Metadata: map[string]string{
			"CHANNEL_ID":   data.Channel.ID,
			"CHANNEL_NAME": data.Channel.Name,
			"START_DATE":   data.Window.Start.Format("2006-01-02"),
			"END_DATE":     data.Window.End.Format("2006-01-02"),
		},
		Body: data.Body,
	}, nil
}

// channelHistory pages through one channel's messages inside the window
// and formats them oldest-first.
func (s *slackSource) channelHistory(ctx context.Context, channelID string, window Window) (string, error) {
	params := url.Values{
		"channel": {channelID},
		"oldest":  {fmt.Sprintf("%d.000000", window.Start.Unix())},
		"latest":  {fmt.Sprintf("%d.000000", window.End.Unix())},
		"limit":   {"200"},
	}

	var lines []string
	for {
		var history slackHistoryResponse
		if err := s.get(ctx, "conversations.history", params, &history); err != nil {
			return "", err
		}
		if !history.OK {
			// Membership can lag conversations.list; treat as skipped.
			if history.Error == "not_in_channel" {
				return "", nil
			}
			return "", s.apiError("conversations.history", history.Error)
		}

		for _, msg := range history.Messages {
			if msg.Type != "message" || msg.Subtype != "" || strings.TrimSpace(msg.Text) == "" {
				continue
			}
			lines = append(lines, fmt.Sprintf("[%s] %s: %s", slackTS(msg.TS), msg.User, msg.Text))
		}

		if history.ResponseMetadata.NextCursor == "" {
			break
		}
		params.Set("cursor", history.ResponseMetadata.NextCursor)
	}

	// History arrives newest-first.
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return strings.Join(lines, "\n"), nil
}

func (s *slackSource) get(ctx context.Context, method string, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/%s?%s", slackAPIBase, method, params.Encode()), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.BotToken)
	return doJSON(s.client, req, out, store.TypeSlack, method)
}

func (s *slackSource) apiError(method, code string) error {
	switch code {
	case "invalid_auth", "token_revoked", "token_expired", "account_inactive":
		return newError(KindAuthExpired, store.TypeSlack, nil, method+": "+code)
	case "ratelimited":
		return newError(KindRateLimited, store.TypeSlack, nil, method+": "+code)
	default:
		return newError(KindUnknown, store.TypeSlack, nil, method+": "+code)
	}
}

// slackTS renders a Slack epoch timestamp as a readable UTC time.
func slackTS(ts string) string {
	seconds, err := strconv.ParseFloat(ts, 64)
	if err != nil {
		return ts
	}
	return time.Unix(int64(seconds), 0).UTC().Format("2006-01-02 15:04")
}
