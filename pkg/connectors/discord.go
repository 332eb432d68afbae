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

const (
	discordAPIBase = "https://discord.com/api/v10"
	// discordEpoch is the snowflake origin (2015-01-01T00:00:00Z).
	discordEpoch = int64(1420070400000)
)

// discordSource builds one document per guild text channel per window.
// Channels the bot cannot read are skipped, not failed.
type discordSource struct {
	cfg    DiscordConfig
	client *httpclient.Client
}

func newDiscordSource(_ context.Context, raw map[string]any) (Source, error) {
	var cfg DiscordConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return nil, err
	}
	if cfg.BotToken == "" || cfg.GuildID == "" {
		return nil, newError(KindMissingCredentials, store.TypeDiscord, nil, "bot_token and guild_id required")
	}
	return &discordSource{cfg: cfg, client: newHTTPClient()}, nil
}

func (d *discordSource) Type() string { return store.TypeDiscord }

type discordChannel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type int    `json:"type"`
}

type discordMessage struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Author    struct {
		Username string `json:"username"`
	} `json:"author"`
}

func (d *discordSource) FetchWindow(ctx context.Context, cursor Cursor, window Window) ([]RawItem, Cursor, error) {
	var channels []discordChannel
	if err := d.get(ctx, fmt.Sprintf("/guilds/%s/channels", d.cfg.GuildID), &channels); err != nil {
		return nil, cursor, err
	}

	var items []RawItem
	for _, channel := range channels {
		// 0 = guild text channel.
		if channel.Type != 0 {
			continue
		}
		body, skipped, err := d.channelMessages(ctx, channel.ID, window)
		if err != nil {
			return nil, cursor, err
		}
		if skipped || body == "" {
			continue
		}
		items = append(items, RawItem{
			ID:    fmt.Sprintf("%s/%s", channel.ID, window.Start.Format("2006-01-02")),
			Title: fmt.Sprintf("Discord - #%s", channel.Name),
			Data:  discordChannelDoc{Channel: channel, Body: body, Window: window},
		})
	}
	return items, Cursor{}, nil
}

type discordChannelDoc struct {
	Channel discordChannel
	Body    string
	Window  Window
}

func (d *discordSource) ToCanonical(item RawItem) (*canonical.Document, error) {
	data, ok := item.Data.(discordChannelDoc)
	if !ok {
		return nil, fmt.Errorf("unexpected discord item payload %T", item.Data)
	}
	return &canonical.Document{
		Title:    item.Title,
		Type:     store.TypeDiscord,
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

// channelMessages pages forward from the window start. The skipped
// return marks channels the bot lacks permission to read.
func (d *discordSource) channelMessages(ctx context.Context, channelID string, window Window) (string, bool, error) {
	after := timeToSnowflake(window.Start)
	var lines []string

	for {
		params := url.Values{"after": {after}, "limit": {"100"}}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			fmt.Sprintf("%s/channels/%s/messages?%s", discordAPIBase, channelID, params.Encode()), nil)
		if err != nil {
			return "", false, err
		}
		req.Header.Set("Authorization", "Bot "+d.cfg.BotToken)

		resp, err := d.client.Do(req)
		if resp == nil {
			return "", false, newError(KindTransientUpstream, store.TypeDiscord, err, "messages fetch failed")
		}
		// The bot may lack history permission on individual channels.
		if resp.StatusCode == http.StatusForbidden {
			drain(resp)
			return "", true, nil
		}
		if err != nil || resp.StatusCode != http.StatusOK {
			status := resp.StatusCode
			drain(resp)
			return "", false, classifyStatus(store.TypeDiscord, status, "messages fetch")
		}

		var page []discordMessage
		if err := decodeBody(resp, &page); err != nil {
			return "", false, err
		}
		if len(page) == 0 {
			break
		}

		// Pages arrive newest-first; walk backwards to keep order.
		for i := len(page) - 1; i >= 0; i-- {
			msg := page[i]
			if msg.Timestamp.After(window.End) {
				continue
			}
			if strings.TrimSpace(msg.Content) == "" {
				continue
			}
			lines = append(lines, fmt.Sprintf("[%s] %s: %s",
				msg.Timestamp.UTC().Format("2006-01-02 15:04"), msg.Author.Username, msg.Content))
		}

		newest := page[0]
		if newest.Timestamp.After(window.End) {
			break
		}
		after = newest.ID
	}
	return strings.Join(lines, "\n"), false, nil
}

func (d *discordSource) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, discordAPIBase+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bot "+d.cfg.BotToken)
	return doJSON(d.client, req, out, store.TypeDiscord, path)
}

// timeToSnowflake converts a time to the minimal snowflake for that
// instant, usable as an "after" anchor.
func timeToSnowflake(t time.Time) string {
	ms := t.UnixMilli() - discordEpoch
	if ms < 0 {
		ms = 0
	}
	return fmt.Sprintf("%d", ms<<22)
}
