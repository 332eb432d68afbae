package connectors

import (
	"context"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// googleTokenSource builds a self-refreshing token source from a
// decrypted connector config. The orchestrator's RefreshCredentials
// persists rotated tokens; this source only refreshes in memory for the
// duration of a run.
func googleTokenSource(ctx context.Context, raw map[string]any, connectorType string) (oauth2.TokenSource, error) {
	var cfg GoogleOAuthConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return nil, err
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.RefreshToken == "" {
		return nil, newError(KindMissingCredentials, connectorType, nil, "client_id, client_secret, and refresh_token required")
	}

	conf := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     google.Endpoint,
	}
	token := &oauth2.Token{
		AccessToken:  cfg.AccessToken,
		RefreshToken: cfg.RefreshToken,
	}
	if cfg.TokenExpiry != "" {
		if expiry, err := time.Parse(time.RFC3339, cfg.TokenExpiry); err == nil {
			token.Expiry = expiry
		}
	}
	return conf.TokenSource(ctx, token), nil
}
