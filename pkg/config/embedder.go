package config

import "fmt"

// EmbedderProviderConfig configures one embedding provider instance.
type EmbedderProviderConfig struct {
	Type       string `yaml:"type"`      // "openai", "ollama"
	Model      string `yaml:"model"`     // Embedding model identifier
	APIKey     string `yaml:"api_key"`   // API key, supports ${ENV} expansion
	Host       string `yaml:"host"`      // Endpoint override
	Dimension  int    `yaml:"dimension"` // Vector dimension the model emits
	Timeout    int    `yaml:"timeout"`   // Request timeout in seconds
	MaxRetries int    `yaml:"max_retries"`
	BatchSize  int    `yaml:"batch_size"` // Inputs per embeddings request
}

func (c *EmbedderProviderConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "openai"
	}
	if c.Model == "" {
		switch c.Type {
		case "ollama":
			c.Model = "nomic-embed-text"
		default:
			c.Model = "text-embedding-3-small"
		}
	}
	if c.APIKey == "" {
		c.APIKey = GetProviderAPIKey(c.Type)
	}
	if c.Host == "" {
		switch c.Type {
		case "ollama":
			c.Host = "http://localhost:11434"
		default:
			c.Host = "https://api.openai.com/v1"
		}
	}
	if c.Dimension == 0 {
		switch c.Model {
		case "nomic-embed-text":
			c.Dimension = 768
		case "text-embedding-3-large":
			c.Dimension = 3072
		default:
			c.Dimension = 1536
		}
	}
	if c.Timeout == 0 {
		c.Timeout = 60
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.BatchSize == 0 {
		c.BatchSize = 64
	}
}

func (c *EmbedderProviderConfig) Validate() error {
	switch c.Type {
	case "openai", "ollama":
	default:
		return fmt.Errorf("invalid type %q (valid: openai, ollama)", c.Type)
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.Type == "openai" && c.APIKey == "" {
		return fmt.Errorf("api_key is required for OpenAI embeddings")
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("dimension must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive")
	}
	return nil
}
