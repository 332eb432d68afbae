package chunking

import (
	"path/filepath"
	"strings"
)

// CodeChunker splits source files line-wise, cutting only at declaration
// or block boundaries (blank lines, closing braces, new top-level defs) so
// a retrieved chunk reads as complete code. A chunk running past twice the
// budget is cut wherever it stands.
type CodeChunker struct {
	config  Config
	counter *TokenCounter
}

func NewCodeChunker(cfg Config, counter *TokenCounter) *CodeChunker {
	cfg.SetDefaults()
	if counter == nil {
		counter = NewTokenCounter()
	}
	return &CodeChunker{config: cfg, counter: counter}
}

func (c *CodeChunker) Strategy() Strategy {
	return StrategyCode
}

func (c *CodeChunker) Chunk(content string) ([]Chunk, error) {
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

	lines := strings.Split(content, "\n")
	var chunks []Chunk
	var current strings.Builder
	currentTokens := 0
	startLine := 1

	flush := func(endLine int) {
		if current.Len() == 0 {
			return
		}
		text := current.String()
		chunks = append(chunks, Chunk{
			Content:   text,
			Index:     len(chunks),
			StartLine: startLine,
			EndLine:   endLine,
			Tokens:    c.counter.Count(text),
		})
		current.Reset()
		currentTokens = 0
		startLine = endLine + 1
	}

	for i, line := range lines {
		lineNum := i + 1
		withNewline := line
		if i < len(lines)-1 {
			withNewline += "\n"
		}
		lineTokens := c.counter.Count(withNewline)

		if currentTokens > 0 && currentTokens+lineTokens > c.config.Size && isBreakPoint(line) {
			flush(lineNum - 1)
		} else if currentTokens > c.config.Size*2 {
			flush(lineNum - 1)
		}

		current.WriteString(withNewline)
		currentTokens += lineTokens
	}
	flush(len(lines))

	if n := len(chunks); n > 1 && chunks[n-1].Tokens < c.config.MinSize {
		chunks[n-2].Content += chunks[n-1].Content
		chunks[n-2].EndLine = chunks[n-1].EndLine
		chunks[n-2].Tokens = c.counter.Count(chunks[n-2].Content)
		chunks = chunks[:n-1]
	}

	for i := range chunks {
		chunks[i].Index = i
		chunks[i].Total = len(chunks)
	}
	return chunks, nil
}

// isBreakPoint reports whether cutting before this line keeps declarations
// intact: blank lines, block closers, or new top-level definitions across
// the common languages connectors index.
func isBreakPoint(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || trimmed == "}" || trimmed == "}," || trimmed == "};" || trimmed == "end" {
		return true
	}
	for _, prefix := range []string{
		"func ", "type ", "def ", "class ", "fn ", "impl ", "pub fn ",
		"function ", "export ", "const ", "var ", "public ", "private ",
		"#", "//",
	} {
		if strings.HasPrefix(trimmed, prefix) {
			return true
		}
	}
	return false
}

// codeExtensions covers the file types the GitHub connector and file
// uploads route to the code strategy.
var codeExtensions = map[string]bool{
	".go": true, ".py": true, ".js": true, ".jsx": true, ".ts": true,
	".tsx": true, ".java": true, ".c": true, ".h": true, ".cc": true,
	".cpp": true, ".hpp": true, ".cs": true, ".rb": true, ".rs": true,
	".php": true, ".swift": true, ".kt": true, ".scala": true, ".sh": true,
	".bash": true, ".zsh": true, ".sql": true, ".proto": true, ".tf": true,
	".lua": true, ".pl": true, ".r": true, ".m": true, ".ex": true,
	".exs": true, ".erl": true, ".hs": true, ".ml": true, ".clj": true,
}

// IsCodePath reports whether a file path should use the code strategy.
func IsCodePath(path string) bool {
	return codeExtensions[strings.ToLower(filepath.Ext(path))]
}

var _ Chunker = (*CodeChunker)(nil)
