package reports

import "strings"

// Footer is appended to every saved report after a --- separator.
// Revisions strip the existing footer before sectioning so it is never
// duplicated.
const Footer = "*Generated by Lore*"

const footerSeparator = "---"

// ParseSections splits Markdown into sections at top- and second-level
// headings. Headings inside fenced code blocks do not split. Text before
// the first heading is its own section, and concatenating the returned
// slices reproduces the input byte for byte.
func ParseSections(content string) []string {
	if content == "" {
		return nil
	}
	lines := strings.SplitAfter(content, "\n")

	var sections []string
	var current strings.Builder
	inFence := false
	fence := ""
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case inFence:
			if strings.HasPrefix(trimmed, fence) {
				inFence = false
			}
		case strings.HasPrefix(trimmed, "```"), strings.HasPrefix(trimmed, "~~~"):
			inFence = true
			fence = trimmed[:3]
		case isSectionHeading(trimmed) && current.Len() > 0:
			sections = append(sections, current.String())
			current.Reset()
		}
		current.WriteString(line)
	}
	if current.Len() > 0 {
		sections = append(sections, current.String())
	}
	return sections
}

func isSectionHeading(trimmedLine string) bool {
	return strings.HasPrefix(trimmedLine, "# ") || strings.HasPrefix(trimmedLine, "## ")
}

// CountSections reports how many heading-led sections a report has. A
// non-empty report without headings counts as one section.
func CountSections(content string) int {
	n := 0
	for _, sec := range ParseSections(content) {
		if isSectionHeading(firstLine(sec)) {
			n++
		}
	}
	if n == 0 && strings.TrimSpace(content) != "" {
		return 1
	}
	return n
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// stripOuterFence unwraps a code fence around the entire document.
// Models occasionally return the whole report inside ```markdown.
func stripOuterFence(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return content
	}
	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 || strings.TrimSpace(lines[len(lines)-1]) != "```" {
		return content
	}
	for _, line := range lines[1 : len(lines)-1] {
		// An interior fence means the opener wasn't wrapping the
		// whole document.
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			return content
		}
	}
	return strings.TrimSpace(strings.Join(lines[1:len(lines)-1], "\n"))
}

func stripFooter(content string) string {
	trimmed := strings.TrimRight(content, " \t\n")
	if !strings.HasSuffix(trimmed, Footer) {
		return trimmed
	}
	trimmed = strings.TrimRight(strings.TrimSuffix(trimmed, Footer), " \t\n")
	trimmed = strings.TrimSuffix(trimmed, footerSeparator)
	return strings.TrimRight(trimmed, " \t\n")
}

func appendFooter(content string) string {
	return strings.TrimRight(content, " \t\n") + "\n\n" + footerSeparator + "\n" + Footer + "\n"
}

// asSection normalizes regenerated text so it splices cleanly between
// byte-preserved neighbours.
func asSection(text string) string {
	return strings.TrimSpace(text) + "\n\n"
}

func clipText(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
