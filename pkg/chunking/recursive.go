package chunking

import (
	"strings"
)

// RecursiveChunker splits content at natural boundaries, descending the
// separator hierarchy (paragraphs, lines, sentences, words) until every
// piece fits the token budget, then packs pieces back into chunks near the
// target size with the configured overlap.
type RecursiveChunker struct {
	config  Config
	counter *TokenCounter
}

func NewRecursiveChunker(cfg Config, counter *TokenCounter) *RecursiveChunker {
	cfg.SetDefaults()
	if counter == nil {
		counter = NewTokenCounter()
	}
	return &RecursiveChunker{config: cfg, counter: counter}
}

func (c *RecursiveChunker) Strategy() Strategy {
	return StrategyRecursive
}

func (c *RecursiveChunker) Chunk(content string) ([]Chunk, error) {
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}

	if c.counter.Count(content) <= c.config.Size {
		return []Chunk{{
			Content:   content,
			Index:     0,
			Total:     1,
			StartLine: 1,
			EndLine:   countLines(content),
			Tokens:    c.counter.Count(content),
		}}, nil
	}

	pieces := c.split(content, c.config.Separators)
	packed := c.pack(pieces)

	chunks := make([]Chunk, 0, len(packed))
	line := 1
	for i, text := range packed {
		chunks = append(chunks, Chunk{
			Content:   text,
			Index:     i,
			Total:     len(packed),
			StartLine: line,
			EndLine:   line + countLines(text) - 1,
			Tokens:    c.counter.Count(text),
		})
		// Overlapped prefixes repeat content; line tracking follows the
		// non-overlapped tail so citations still land near the source.
		line += strings.Count(text, "\n")
	}
	return chunks, nil
}

// split recursively divides content on the first separator that produces
// pieces, descending to finer separators for any piece still over budget.
func (c *RecursiveChunker) split(content string, separators []string) []string {
	if c.counter.Count(content) <= c.config.Size {
		return []string{content}
	}
	if len(separators) == 0 {
		return c.hardSplit(content)
	}

	sep := separators[0]
	parts := strings.Split(content, sep)
	if len(parts) == 1 {
		return c.split(content, separators[1:])
	}

	var pieces []string
	for i, part := range parts {
		if i < len(parts)-1 {
			part += sep
		}
		if part == "" {
			continue
		}
		if c.counter.Count(part) > c.config.Size {
			pieces = append(pieces, c.split(part, separators[1:])...)
		} else {
			pieces = append(pieces, part)
		}
	}
	return pieces
}

// hardSplit cuts by rune count as the last resort, sized from the token
// budget at the 4-chars-per-token estimate.
func (c *RecursiveChunker) hardSplit(content string) []string {
	limit := c.config.Size * 4
	if limit <= 0 {
		limit = 2048
	}
	runes := []rune(content)
	var pieces []string
	for start := 0; start < len(runes); start += limit {
		end := start + limit
		if end > len(runes) {
			end = len(runes)
		}
		pieces = append(pieces, string(runes[start:end]))
	}
	return pieces
}

// pack greedily joins pieces up to the size budget, carrying Overlap tokens
// of trailing pieces into each following chunk. Trailing fragments under
// MinSize merge into the previous chunk.
func (c *RecursiveChunker) pack(pieces []string) []string {
	var chunks []string
	var current strings.Builder
	currentTokens := 0

	flush := func() {
		if current.Len() == 0 {
			return
		}
		chunks = append(chunks, current.String())
		current.Reset()
		currentTokens = 0
	}

	for _, piece := range pieces {
		tokens := c.counter.Count(piece)
		if currentTokens > 0 && currentTokens+tokens > c.config.Size {
			tail := c.overlapTail(current.String())
			flush()
			if tail != "" {
				current.WriteString(tail)
				currentTokens = c.counter.Count(tail)
			}
		}
		current.WriteString(piece)
		currentTokens += tokens
	}
	flush()

	if n := len(chunks); n > 1 && c.counter.Count(chunks[n-1]) < c.config.MinSize {
		chunks[n-2] += chunks[n-1]
		chunks = chunks[:n-1]
	}
	return chunks
}

// overlapTail returns the suffix of text worth about Overlap tokens,
// aligned to a whitespace boundary.
func (c *RecursiveChunker) overlapTail(text string) string {
	if c.config.Overlap <= 0 {
		return ""
	}
	approx := c.config.Overlap * 4
	if approx >= len(text) {
		return text
	}
	tail := text[len(text)-approx:]
	if idx := strings.IndexAny(tail, " \n\t"); idx >= 0 && idx+1 < len(tail) {
		tail = tail[idx+1:]
	}
	return tail
}

var _ Chunker = (*RecursiveChunker)(nil)
