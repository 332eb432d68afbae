package config

import "fmt"

// RetrievalConfig tunes the hybrid search engine.
type RetrievalConfig struct {
	// DenseWeight and LexicalWeight blend cosine similarity with ts_rank_cd.
	// They must sum to 1.
	DenseWeight   float64 `yaml:"dense_weight"`
	LexicalWeight float64 `yaml:"lexical_weight"`
	TopK          int     `yaml:"top_k"`
	// FanOutLimit bounds concurrent source queries and embedding calls.
	FanOutLimit int `yaml:"fan_out_limit"`
}

func (c *RetrievalConfig) SetDefaults() {
	if c.DenseWeight == 0 && c.LexicalWeight == 0 {
		c.DenseWeight = 0.6
		c.LexicalWeight = 0.4
	}
	if c.TopK == 0 {
		c.TopK = 10
	}
	if c.FanOutLimit == 0 {
		c.FanOutLimit = 4
	}
}

func (c *RetrievalConfig) Validate() error {
	if c.DenseWeight < 0 || c.LexicalWeight < 0 {
		return fmt.Errorf("weights must be non-negative")
	}
	sum := c.DenseWeight + c.LexicalWeight
	if sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("dense_weight + lexical_weight must sum to 1, got %.3f", sum)
	}
	if c.TopK <= 0 {
		return fmt.Errorf("top_k must be positive")
	}
	if c.FanOutLimit <= 0 {
		return fmt.Errorf("fan_out_limit must be positive")
	}
	return nil
}
