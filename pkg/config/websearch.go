package config

import "fmt"

// WebSearchConfig holds credentials for the optional web search providers.
// A provider with no key (or host, for SearxNG) is simply not offered to
// the retrieval engine.
type WebSearchConfig struct {
	Tavily  TavilyConfig  `yaml:"tavily"`
	Linkup  LinkupConfig  `yaml:"linkup"`
	SearxNG SearxNGConfig `yaml:"searxng"`
	Baidu   BaiduConfig   `yaml:"baidu"`
}

type TavilyConfig struct {
	APIKey string `yaml:"api_key"`
	Host   string `yaml:"host"`
}

type LinkupConfig struct {
	APIKey string `yaml:"api_key"`
	Host   string `yaml:"host"`
	Depth  string `yaml:"depth"` // "standard" or "deep"
}

type SearxNGConfig struct {
	Host string `yaml:"host"`
}

type BaiduConfig struct {
	APIKey string `yaml:"api_key"`
	Host   string `yaml:"host"`
}

func (c *WebSearchConfig) SetDefaults() {
	if c.Tavily.Host == "" {
		c.Tavily.Host = "https://api.tavily.com"
	}
	if c.Linkup.Host == "" {
		c.Linkup.Host = "https://api.linkup.so/v1"
	}
	if c.Linkup.Depth == "" {
		c.Linkup.Depth = "standard"
	}
	if c.Baidu.Host == "" {
		c.Baidu.Host = "https://qianfan.baidubce.com"
	}
}

func (c *WebSearchConfig) Validate() error {
	if c.Linkup.Depth != "standard" && c.Linkup.Depth != "deep" {
		return fmt.Errorf("linkup depth must be \"standard\" or \"deep\", got %q", c.Linkup.Depth)
	}
	return nil
}
