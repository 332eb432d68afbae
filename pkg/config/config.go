// Package config defines the Lore configuration tree and its processing
// pipeline. Every section implements SetDefaults and Validate; loading runs
// parse, env expansion, decode, defaults, validation in that order.
package config

import (
	"fmt"
	"os"

	"github.com/lorehq/lore/pkg/chunking"
	"github.com/lorehq/lore/pkg/kvstore"
	"github.com/lorehq/lore/pkg/observability"
)

// Config is the root configuration, usually loaded from lore.yaml.
type Config struct {
	Name string `yaml:"name"`

	Logging       LoggingConfig        `yaml:"logging"`
	Server        ServerConfig         `yaml:"server"`
	Postgres      PostgresConfig       `yaml:"postgres"`
	Redis         kvstore.Config       `yaml:"redis"`
	Observability observability.Config `yaml:"observability"`

	LLMs  map[string]*LLMProviderConfig `yaml:"llms"`
	Roles RolesConfig                   `yaml:"roles"`

	Embedders       map[string]*EmbedderProviderConfig `yaml:"embedders"`
	DefaultEmbedder string                             `yaml:"default_embedder"`

	Connectors ConnectorsConfig `yaml:"connectors"`
	Chunking   chunking.Config  `yaml:"chunking"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Agent      AgentConfig      `yaml:"agent"`
	Jobs       JobsConfig       `yaml:"jobs"`
	Podcast    PodcastConfig    `yaml:"podcast"`
	WebSearch  WebSearchConfig  `yaml:"web_search"`
	DocsIndex  DocsIndexConfig  `yaml:"docs_index"`

	// SecretKey seals connector credentials at rest (AES-256-GCM).
	// Falls back to LORE_SECRET_KEY.
	SecretKey string `yaml:"secret_key"`
}

// ProcessConfigPipeline applies defaults then validates, returning the same
// config for chaining. Loaders call this; tests building configs by hand
// can too.
func ProcessConfigPipeline(cfg *Config) (*Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("ProcessConfigPipeline: config cannot be nil")
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("ProcessConfigPipeline: validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) SetDefaults() {
	if c.Name == "" {
		c.Name = "lore"
	}

	c.Logging.SetDefaults()
	c.Server.SetDefaults()
	c.Postgres.SetDefaults()
	c.Redis.SetDefaults()
	c.Observability.SetDefaults()

	if c.LLMs == nil {
		c.LLMs = map[string]*LLMProviderConfig{
			"default": {},
		}
	}
	for _, llm := range c.LLMs {
		if llm != nil {
			llm.SetDefaults()
		}
	}
	c.Roles.SetRoleDefaults(c.LLMs)

	if c.Embedders == nil {
		c.Embedders = map[string]*EmbedderProviderConfig{
			"default": {},
		}
	}
	for _, emb := range c.Embedders {
		if emb != nil {
			emb.SetDefaults()
		}
	}
	if c.DefaultEmbedder == "" {
		if len(c.Embedders) == 1 {
			for name := range c.Embedders {
				c.DefaultEmbedder = name
			}
		} else if _, ok := c.Embedders["default"]; ok {
			c.DefaultEmbedder = "default"
		}
	}

	c.Connectors.SetDefaults()
	c.Chunking.SetDefaults()
	c.Retrieval.SetDefaults()
	c.Agent.SetDefaults()
	c.Jobs.SetDefaults()
	c.Podcast.SetDefaults()
	c.WebSearch.SetDefaults()
	c.DocsIndex.SetDefaults()

	if c.SecretKey == "" {
		c.SecretKey = os.Getenv("LORE_SECRET_KEY")
	}
}

func (c *Config) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging validation failed: %w", err)
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server validation failed: %w", err)
	}
	if err := c.Postgres.Validate(); err != nil {
		return fmt.Errorf("postgres validation failed: %w", err)
	}
	if err := c.Redis.Validate(); err != nil {
		return fmt.Errorf("redis validation failed: %w", err)
	}
	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("observability validation failed: %w", err)
	}

	for name, llm := range c.LLMs {
		if llm != nil {
			if err := llm.Validate(); err != nil {
				return fmt.Errorf("llm %q validation failed: %w", name, err)
			}
		}
	}
	if err := c.Roles.Validate(c.LLMs); err != nil {
		return fmt.Errorf("roles validation failed: %w", err)
	}

	for name, emb := range c.Embedders {
		if emb != nil {
			if err := emb.Validate(); err != nil {
				return fmt.Errorf("embedder %q validation failed: %w", name, err)
			}
		}
	}
	if c.DefaultEmbedder == "" {
		return fmt.Errorf("default_embedder is required when several embedders are configured")
	}
	if _, ok := c.Embedders[c.DefaultEmbedder]; !ok {
		return fmt.Errorf("default_embedder %q not found (available: %v)", c.DefaultEmbedder, mapKeys(c.Embedders))
	}

	if err := c.Connectors.Validate(); err != nil {
		return fmt.Errorf("connectors validation failed: %w", err)
	}
	if err := c.Chunking.Validate(); err != nil {
		return fmt.Errorf("chunking validation failed: %w", err)
	}
	if err := c.Retrieval.Validate(); err != nil {
		return fmt.Errorf("retrieval validation failed: %w", err)
	}
	if err := c.Agent.Validate(); err != nil {
		return fmt.Errorf("agent validation failed: %w", err)
	}
	if err := c.Jobs.Validate(); err != nil {
		return fmt.Errorf("jobs validation failed: %w", err)
	}
	if err := c.Podcast.Validate(); err != nil {
		return fmt.Errorf("podcast validation failed: %w", err)
	}
	if err := c.WebSearch.Validate(); err != nil {
		return fmt.Errorf("web_search validation failed: %w", err)
	}
	if err := c.DocsIndex.Validate(); err != nil {
		return fmt.Errorf("docs_index validation failed: %w", err)
	}

	return nil
}

func mapKeys[K comparable, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
