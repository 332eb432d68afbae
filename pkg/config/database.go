package config

import (
	"fmt"
	"os"
	"time"
)

// PostgresConfig configures the document store pool. The deployment-wide
// embedding dimension lives here because the vector columns are declared
// with it at bootstrap.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	EmbeddingDim    int           `yaml:"embedding_dim"`
	StatementDebug  bool          `yaml:"statement_debug"`
	BootstrapSchema bool          `yaml:"bootstrap_schema"`
}

func (c *PostgresConfig) SetDefaults() {
	if c.DSN == "" {
		c.DSN = os.Getenv("LORE_DATABASE_URL")
	}
	if c.MaxConns == 0 {
		c.MaxConns = 10
	}
	if c.MinConns == 0 {
		c.MinConns = 2
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.EmbeddingDim == 0 {
		c.EmbeddingDim = 1536
	}
}

func (c *PostgresConfig) Validate() error {
	if c.DSN == "" {
		return fmt.Errorf("dsn is required (or set LORE_DATABASE_URL)")
	}
	if c.MaxConns < c.MinConns {
		return fmt.Errorf("max_conns (%d) must be >= min_conns (%d)", c.MaxConns, c.MinConns)
	}
	if c.EmbeddingDim <= 0 {
		return fmt.Errorf("embedding_dim must be positive")
	}
	return nil
}
