// Package chunking splits document bodies into the semantic fragments the
// ingestion pipeline embeds and stores. Prose uses the recursive strategy,
// code files a structure-aware variant; both size chunks in tokens.
package chunking

import "fmt"

// Strategy identifies a chunking strategy.
type Strategy string

const (
	// StrategyRecursive splits at natural boundaries (paragraphs, lines,
	// sentences), descending the separator hierarchy until chunks fit.
	StrategyRecursive Strategy = "recursive"

	// StrategyCode splits line-wise, preferring declaration and block
	// boundaries so functions stay intact.
	StrategyCode Strategy = "code"
)

// Chunk is one fragment of a document body.
type Chunk struct {
	Content   string
	Index     int
	Total     int
	StartLine int
	EndLine   int
	// Tokens is the measured token count of Content.
	Tokens int
}

// Chunker splits content into ordered chunks.
type Chunker interface {
	Chunk(content string) ([]Chunk, error)
	Strategy() Strategy
}

// Config tunes chunk sizing. Sizes are in tokens.
type Config struct {
	Strategy Strategy `yaml:"strategy,omitempty"`
	// Size is the target chunk size.
	Size int `yaml:"size,omitempty"`
	// Overlap carries trailing content into the next chunk.
	Overlap int `yaml:"overlap,omitempty"`
	// MinSize merges trailing fragments smaller than this into the
	// previous chunk.
	MinSize int `yaml:"min_size,omitempty"`
	// Separators is the recursive split hierarchy, most preferred first.
	Separators []string `yaml:"separators,omitempty"`
}

func (c *Config) SetDefaults() {
	if c.Strategy == "" {
		c.Strategy = StrategyRecursive
	}
	if c.Size <= 0 {
		c.Size = 512
	}
	if c.Overlap < 0 {
		c.Overlap = 0
	}
	if c.MinSize <= 0 {
		c.MinSize = 64
	}
	if len(c.Separators) == 0 {
		c.Separators = []string{"\n\n", "\n", ". ", " "}
	}
}

func (c *Config) Validate() error {
	switch c.Strategy {
	case StrategyRecursive, StrategyCode, "":
	default:
		return fmt.Errorf("invalid chunker strategy: %q", c.Strategy)
	}
	if c.Size <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.Size)
	}
	if c.Overlap < 0 {
		return fmt.Errorf("overlap must be non-negative, got %d", c.Overlap)
	}
	if c.Overlap >= c.Size {
		return fmt.Errorf("overlap (%d) must be less than size (%d)", c.Overlap, c.Size)
	}
	if c.MinSize > c.Size {
		return fmt.Errorf("min_size (%d) must not exceed size (%d)", c.MinSize, c.Size)
	}
	return nil
}

// New creates a chunker from configuration.
func New(cfg Config) (Chunker, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid chunker config: %w", err)
	}

	counter := NewTokenCounter()
	switch cfg.Strategy {
	case StrategyCode:
		return NewCodeChunker(cfg, counter), nil
	default:
		return NewRecursiveChunker(cfg, counter), nil
	}
}

// ForContent returns the chunker matching a document's nature: the code
// strategy for source files, recursive for everything else. isCode is
// decided by the caller (connector type or file extension).
func ForContent(cfg Config, isCode bool) (Chunker, error) {
	if isCode {
		cfg.Strategy = StrategyCode
	} else {
		cfg.Strategy = StrategyRecursive
	}
	return New(cfg)
}

func countLines(content string) int {
	if len(content) == 0 {
		return 0
	}
	lines := 1
	for _, c := range content {
		if c == '\n' {
			lines++
		}
	}
	return lines
}
