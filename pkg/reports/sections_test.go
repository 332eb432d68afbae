package reports

import (
	"strings"
	"testing"
)

const sectionedDoc = `Intro paragraph before any heading.

# Overview

Opening text.

## Setup

` + "```bash\n# not a heading\necho hi\n```" + `

Closing text.

## Usage

Final section.
`

func TestParseSections(t *testing.T) {
	sections := ParseSections(sectionedDoc)
	if len(sections) != 4 {
		t.Fatalf("sections = %d, want 4: %q", len(sections), sections)
	}
	if got := strings.Join(sections, ""); got != sectionedDoc {
		t.Errorf("concatenated sections differ from input:\n%q\n%q", got, sectionedDoc)
	}
	if !strings.HasPrefix(sections[0], "Intro paragraph") {
		t.Errorf("section 0 = %q, want the pre-heading text", sections[0])
	}
	if !strings.HasPrefix(sections[1], "# Overview") {
		t.Errorf("section 1 = %q", sections[1])
	}
	if !strings.Contains(sections[2], "# not a heading") {
		t.Errorf("fenced heading split section 2: %q", sections[2])
	}
	if !strings.HasPrefix(sections[3], "## Usage") {
		t.Errorf("section 3 = %q", sections[3])
	}
}

func TestParseSectionsEmpty(t *testing.T) {
	if sections := ParseSections(""); sections != nil {
		t.Errorf("sections = %q, want nil", sections)
	}
}

func TestCountSections(t *testing.T) {
	cases := []struct {
		content string
		want    int
	}{
		{sectionedDoc, 3},
		{"# Only\n\nBody.", 1},
		{"just prose, no headings", 1},
		{"", 0},
		{"   \n\n", 0},
	}
	for _, tc := range cases {
		if got := CountSections(tc.content); got != tc.want {
			t.Errorf("CountSections(%q) = %d, want %d", tc.content, got, tc.want)
		}
	}
}

func TestStripOuterFence(t *testing.T) {
	wrapped := "```markdown\n# Title\n\nBody.\n```"
	if got := stripOuterFence(wrapped); got != "# Title\n\nBody." {
		t.Errorf("stripOuterFence(%q) = %q", wrapped, got)
	}

	// An interior fence means the opener was not wrapping the document.
	interior := "```markdown\n# Title\n\n```go\ncode\n```"
	if got := stripOuterFence(interior); got != interior {
		t.Errorf("interior fence was unwrapped: %q", got)
	}

	plain := "# Title\n\nBody."
	if got := stripOuterFence(plain); got != plain {
		t.Errorf("unfenced input changed: %q", got)
	}

	unclosed := "```markdown\n# Title"
	if got := stripOuterFence(unclosed); got != unclosed {
		t.Errorf("unclosed fence was unwrapped: %q", got)
	}
}

func TestFooterRoundTrip(t *testing.T) {
	body := "# Title\n\nBody text."
	withFooter := appendFooter(body)

	if n := strings.Count(withFooter, Footer); n != 1 {
		t.Errorf("footer appears %d times, want 1", n)
	}
	if !strings.HasSuffix(withFooter, Footer+"\n") {
		t.Errorf("content does not end with the footer: %q", withFooter)
	}
	if got := stripFooter(withFooter); got != body {
		t.Errorf("stripFooter = %q, want %q", got, body)
	}

	// Re-appending must not stack a second footer.
	again := appendFooter(stripFooter(withFooter))
	if again != withFooter {
		t.Errorf("appendFooter is not idempotent:\n%q\n%q", again, withFooter)
	}

	if got := stripFooter(body); got != body {
		t.Errorf("stripFooter without a footer = %q, want input", got)
	}
}
