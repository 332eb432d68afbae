package config

import (
	"fmt"
	"time"
)

// AgentConfig tunes the chat agent loop.
type AgentConfig struct {
	// CitationsEnabled gates the citation instruction block in the system
	// prompt. When off the model is told to answer without citation tokens.
	CitationsEnabled *bool `yaml:"citations_enabled"`
	// Instructions is appended to the system prompt verbatim (per-user
	// custom instructions).
	Instructions string `yaml:"instructions"`
	// MaxIterations caps tool-call rounds per turn.
	MaxIterations int `yaml:"max_iterations"`
	// ScrapeTimeout bounds the scrape_webpage tool.
	ScrapeTimeout time.Duration `yaml:"scrape_timeout"`
	// MCPTimeout bounds a single user MCP tool invocation.
	MCPTimeout time.Duration `yaml:"mcp_timeout"`
}

func (c *AgentConfig) SetDefaults() {
	if c.CitationsEnabled == nil {
		c.CitationsEnabled = BoolPtr(true)
	}
	if c.MaxIterations == 0 {
		c.MaxIterations = 10
	}
	if c.ScrapeTimeout == 0 {
		c.ScrapeTimeout = 10 * time.Second
	}
	if c.MCPTimeout == 0 {
		c.MCPTimeout = 30 * time.Second
	}
}

func (c *AgentConfig) Validate() error {
	if c.MaxIterations <= 0 {
		return fmt.Errorf("max_iterations must be positive")
	}
	if c.ScrapeTimeout <= 0 {
		return fmt.Errorf("scrape_timeout must be positive")
	}
	if c.MCPTimeout <= 0 {
		return fmt.Errorf("mcp_timeout must be positive")
	}
	return nil
}
