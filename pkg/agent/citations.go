package agent

import (
	"regexp"
	"strconv"
	"strings"
)

// Chunk blocks carry single-quoted id attributes; the renderer escapes
// quotes inside values, so the scan cannot run past the closing quote.
var (
	chunkIDPattern  = regexp.MustCompile(`<chunk id='([^']+)'`)
	citationPattern = regexp.MustCompile(`\[citation:([^\]\s]+)\]`)
)

// citationScope tracks which chunk ids this turn's tool results exposed.
// The reply may only cite those; a token referencing anything else is
// dropped rather than shipped to a client that cannot resolve it.
type citationScope struct {
	ids map[string]struct{}
}

func newCitationScope() *citationScope {
	return &citationScope{ids: make(map[string]struct{})}
}

// observe records the chunk ids in one tool result.
func (s *citationScope) observe(toolResult string) {
	for _, m := range chunkIDPattern.FindAllStringSubmatch(toolResult, -1) {
		s.ids[m[1]] = struct{}{}
	}
}

// filter strips citation tokens whose ids were never seen this turn and
// returns the numeric ids that survived, deduplicated in order of first
// use. doc- prefixed ids stay in the text but are not returned; they
// resolve against the docs index, not the chunk table.
func (s *citationScope) filter(text string) (string, []int64) {
	var kept []int64
	seen := make(map[int64]struct{})
	cleaned := citationPattern.ReplaceAllStringFunc(text, func(token string) string {
		id := citationPattern.FindStringSubmatch(token)[1]
		if _, ok := s.ids[id]; !ok {
			return ""
		}
		if !strings.HasPrefix(id, "doc-") {
			if n, err := strconv.ParseInt(id, 10, 64); err == nil {
				if _, dup := seen[n]; !dup {
					seen[n] = struct{}{}
					kept = append(kept, n)
				}
			}
		}
		return token
	})
	return cleaned, kept
}
