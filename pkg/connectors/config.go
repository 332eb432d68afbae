package connectors

import (
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/lorehq/lore/pkg/store"
)

// Per-connector config variants. The connector row stores these as JSON;
// fields listed in SecretFields are sealed at rest and decrypted by the
// orchestrator before a source sees them.

type SlackConfig struct {
	BotToken string `mapstructure:"bot_token"`
}

type NotionConfig struct {
	IntegrationToken string `mapstructure:"integration_token"`
}

type GitHubConfig struct {
	Token string   `mapstructure:"token"`
	Repos []string `mapstructure:"repos"`
}

type LinearConfig struct {
	APIKey string `mapstructure:"api_key"`
}

type JiraConfig struct {
	BaseURL  string `mapstructure:"base_url"`
	Email    string `mapstructure:"email"`
	APIToken string `mapstructure:"api_token"`
}

type DiscordConfig struct {
	BotToken string `mapstructure:"bot_token"`
	GuildID  string `mapstructure:"guild_id"`
}

type ConfluenceConfig struct {
	BaseURL  string `mapstructure:"base_url"`
	Email    string `mapstructure:"email"`
	APIToken string `mapstructure:"api_token"`
}

type ClickUpConfig struct {
	APIToken string `mapstructure:"api_token"`
	TeamID   string `mapstructure:"team_id"`
}

type AirtableConfig struct {
	APIKey string `mapstructure:"api_key"`
	BaseID string `mapstructure:"base_id"`
}

type LumaConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// GoogleOAuthConfig is shared by the Drive, Gmail, and Calendar
// connectors. RefreshCredentials rotates AccessToken in place.
type GoogleOAuthConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	AccessToken  string `mapstructure:"access_token"`
	RefreshToken string `mapstructure:"refresh_token"`
	TokenExpiry  string `mapstructure:"token_expiry"`
}

type YouTubeConfig struct {
	VideoURLs []string `mapstructure:"video_urls"`
}

type CrawlerConfig struct {
	URLs []string `mapstructure:"urls"`
}

// decodeConfig maps a connector row's JSON config onto its variant
// struct, tolerating numeric/string looseness from JSONB round-trips.
func decodeConfig(input map[string]any, output any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           output,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(input); err != nil {
		return fmt.Errorf("failed to decode connector config: %w", err)
	}
	return nil
}

// SecretFields names the config fields sealed at rest for a connector
// type. Unknown types have none.
func SecretFields(connectorType string) []string {
	switch connectorType {
	case store.TypeSlack, store.TypeDiscord:
		return []string{"bot_token"}
	case store.TypeNotion:
		return []string{"integration_token"}
	case store.TypeGitHub:
		return []string{"token"}
	case store.TypeLinear, store.TypeLuma, store.TypeAirtable:
		return []string{"api_key"}
	case store.TypeJira, store.TypeConfluence, store.TypeClickUp:
		return []string{"api_token"}
	case store.TypeGoogleDrive, store.TypeGmail, store.TypeGoogleCalendar:
		return []string{"client_secret", "access_token", "refresh_token"}
	default:
		return nil
	}
}
