package config

import "fmt"

// DocsIndexConfig configures the product-documentation index behind the
// search_lore_docs tool.
type DocsIndexConfig struct {
	// Backend selects the vector store: "chromem" (embedded, default) or
	// "qdrant".
	Backend    string `yaml:"backend"`
	Collection string `yaml:"collection"`
	// Path is the chromem persistence directory.
	Path string `yaml:"path"`
	// Qdrant connection settings, used when backend is "qdrant".
	QdrantHost   string `yaml:"qdrant_host"`
	QdrantPort   int    `yaml:"qdrant_port"`
	QdrantAPIKey string `yaml:"qdrant_api_key"`
	QdrantUseTLS bool   `yaml:"qdrant_use_tls"`
	// DocsDir is the Markdown documentation tree `lore docs index` ingests.
	DocsDir string `yaml:"docs_dir"`
}

func (c *DocsIndexConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "chromem"
	}
	if c.Collection == "" {
		c.Collection = "lore-docs"
	}
	if c.Path == "" {
		c.Path = ".lore/docsindex"
	}
	if c.QdrantHost == "" {
		c.QdrantHost = "localhost"
	}
	if c.QdrantPort == 0 {
		c.QdrantPort = 6334
	}
	if c.DocsDir == "" {
		c.DocsDir = "docs"
	}
}

func (c *DocsIndexConfig) Validate() error {
	switch c.Backend {
	case "chromem", "qdrant":
	default:
		return fmt.Errorf("invalid backend %q (valid: chromem, qdrant)", c.Backend)
	}
	if c.Collection == "" {
		return fmt.Errorf("collection is required")
	}
	return nil
}
