package config

import (
	"fmt"
	"time"
)

// TTSConfig configures the speech synthesis provider (OpenAI-compatible
// POST /audio/speech).
type TTSConfig struct {
	APIKey  string `yaml:"api_key"`
	Host    string `yaml:"host"`
	Model   string `yaml:"model"`
	Timeout int    `yaml:"timeout"` // seconds, per turn
	// Voices maps transcript speaker names to provider voice ids.
	Voices map[string]string `yaml:"voices"`
}

func (c *TTSConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "https://api.openai.com/v1"
	}
	if c.Model == "" {
		c.Model = "tts-1"
	}
	if c.Timeout == 0 {
		c.Timeout = 120
	}
	if c.APIKey == "" {
		c.APIKey = GetProviderAPIKey("openai")
	}
	if len(c.Voices) == 0 {
		c.Voices = map[string]string{
			"host":   "alloy",
			"expert": "onyx",
		}
	}
}

// PodcastConfig tunes podcast synthesis.
type PodcastConfig struct {
	TTS TTSConfig `yaml:"tts"`
	// MediaDir is where finished audio files land; podcast rows store the
	// path relative to it.
	MediaDir string `yaml:"media_dir"`
	// LockTTL bounds how long the per-space generation lock may be held by
	// a crashed worker before expiring.
	LockTTL time.Duration `yaml:"lock_ttl"`
}

func (c *PodcastConfig) SetDefaults() {
	c.TTS.SetDefaults()
	if c.MediaDir == "" {
		c.MediaDir = "media/podcasts"
	}
	if c.LockTTL == 0 {
		c.LockTTL = 30 * time.Minute
	}
}

func (c *PodcastConfig) Validate() error {
	if c.MediaDir == "" {
		return fmt.Errorf("media_dir is required")
	}
	if c.LockTTL < time.Minute {
		return fmt.Errorf("lock_ttl must be at least 1m")
	}
	return nil
}
