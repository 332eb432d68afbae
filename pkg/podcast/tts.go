package podcast

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lorehq/lore/pkg/config"
	"github.com/lorehq/lore/pkg/httpclient"
)

// TTSClient speaks transcript turns through an OpenAI-compatible
// POST /audio/speech endpoint.
type TTSClient struct {
	cfg    config.TTSConfig
	client *httpclient.Client
}

func NewTTSClient(cfg config.TTSConfig) *TTSClient {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &TTSClient{
		cfg: cfg,
		client: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: timeout}),
			httpclient.WithMaxRetries(2),
		),
	}
}

// Speak synthesizes one turn and returns the encoded audio.
func (c *TTSClient) Speak(ctx context.Context, voice, text string) ([]byte, error) {
	body, err := json.Marshal(map[string]any{
		"model":           c.cfg.Model,
		"voice":           voice,
		"input":           text,
		"response_format": "mp3",
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.Host+"/audio/speech", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if resp == nil {
		return nil, fmt.Errorf("tts request: %w", err)
	}
	if err != nil || resp.StatusCode < 200 || resp.StatusCode >= 300 {
		status := resp.StatusCode
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("tts request failed: HTTP %d", status)
	}

	audio, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("read tts audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("tts returned no audio")
	}
	return audio, nil
}
