package reports

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/lorehq/lore/pkg/llms"
	"github.com/lorehq/lore/pkg/protocol"
	"github.com/lorehq/lore/pkg/store"
)

const (
	sectionConcurrency = 4
	neighborClip       = 1200
	planSectionClip    = 2000
	planSourceClip     = 8000
)

// revisionPlan is the schema-constrained planning response. Indexes
// refer to the parent's section list.
type revisionPlan struct {
	Modify []int        `json:"modify"`
	Add    []plannedAdd `json:"add"`
	Remove []int        `json:"remove"`
}

// plannedAdd inserts a new section after the section at index After.
// A negative After prepends.
type plannedAdd struct {
	After       int    `json:"after"`
	Heading     string `json:"heading"`
	Description string `json:"description"`
}

var planSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"modify": map[string]any{
			"type":        "array",
			"items":       map[string]any{"type": "integer"},
			"description": "Indexes of sections to regenerate.",
		},
		"add": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"after":       map[string]any{"type": "integer"},
					"heading":     map[string]any{"type": "string"},
					"description": map[string]any{"type": "string"},
				},
				"required": []string{"after", "heading", "description"},
			},
			"description": "New sections, each inserted after the section at the given index.",
		},
		"remove": map[string]any{
			"type":        "array",
			"items":       map[string]any{"type": "integer"},
			"description": "Indexes of sections to delete.",
		},
	},
	"required": []string{"modify", "add", "remove"},
}

const planSystemPrompt = `You plan a targeted revision of an existing Markdown report. Given the numbered sections, the revision request, and any new source material, decide the minimal set of changes: which section indexes to regenerate, which new sections to add and where, and which indexes to remove. Prefer touching as few sections as possible. Respond with JSON only.`

const sectionSystemPrompt = `You revise one section of a Markdown report at a time. Return only the section Markdown, keeping its heading level, with no surrounding code fence. Do not repeat neighbouring sections.`

// revise applies a section-level revision to the parent report. The plan
// decides which sections change; everything else is carried over
// byte for byte. A plan that touches every section degrades to a full
// rewrite.
func (g *Generator) revise(ctx context.Context, parent *store.Report, req Request, source string, sink protocol.Sink) (string, error) {
	body := stripFooter(parent.Content)
	sections := ParseSections(body)
	if len(sections) == 0 {
		sink.Progress(protocol.EventReportProgress, map[string]any{"stage": "drafting"})
		return g.draft(ctx, req.Topic, req.Length, source)
	}

	sink.Progress(protocol.EventReportProgress, map[string]any{
		"stage":    "planning",
		"sections": len(sections),
	})
	plan, err := g.plan(ctx, req.Topic, sections, source)
	if err != nil {
		return "", err
	}

	if modifiesEverySection(plan.Modify, len(sections)) {
		g.log.Info("revision plan touches every section, rewriting",
			"report_id", parent.ID, "sections", len(sections))
		sink.Progress(protocol.EventReportProgress, map[string]any{"stage": "drafting"})
		return g.draft(ctx, req.Topic, req.Length, source)
	}

	sink.Progress(protocol.EventReportProgress, map[string]any{
		"stage":  "revising",
		"modify": len(plan.Modify),
		"add":    len(plan.Add),
		"remove": len(plan.Remove),
	})
	return g.applyPlan(ctx, req.Topic, sections, plan, source)
}

func (g *Generator) plan(ctx context.Context, topic string, sections []string, source string) (*revisionPlan, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Revision request: %s\n\nCurrent report sections:\n\n", topic)
	for i, sec := range sections {
		fmt.Fprintf(&sb, "[%d]\n%s\n\n", i, clipText(sec, planSectionClip))
	}
	if strings.TrimSpace(source) != "" {
		fmt.Fprintf(&sb, "New source material:\n\n%s", clipText(source, planSourceClip))
	}

	text, _, _, err := g.llm.GenerateStructured(ctx, []llms.Message{
		llms.SystemMessage(planSystemPrompt),
		llms.UserMessage(sb.String()),
	}, nil, &llms.StructuredOutputConfig{
		Format: "json",
		Schema: planSchema,
	})
	if err != nil {
		return nil, fmt.Errorf("plan revision: %w", err)
	}

	var plan revisionPlan
	if err := json.Unmarshal([]byte(stripOuterFence(text)), &plan); err != nil {
		return nil, fmt.Errorf("parse revision plan: %w", err)
	}
	return &plan, nil
}

func modifiesEverySection(modify []int, total int) bool {
	if total == 0 {
		return false
	}
	seen := make(map[int]struct{}, total)
	for _, idx := range modify {
		if idx >= 0 && idx < total {
			seen[idx] = struct{}{}
		}
	}
	return len(seen) == total
}

// applyPlan regenerates the targeted sections with bounded concurrency
// and splices the result back together on the original indexes.
func (g *Generator) applyPlan(ctx context.Context, topic string, sections []string, plan *revisionPlan, source string) (string, error) {
	revised := make([]string, len(sections))
	copy(revised, sections)

	removed := make(map[int]struct{}, len(plan.Remove))
	for _, idx := range plan.Remove {
		if idx >= 0 && idx < len(sections) {
			removed[idx] = struct{}{}
		}
	}

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(sectionConcurrency)

	seen := make(map[int]struct{}, len(plan.Modify))
	for _, idx := range plan.Modify {
		if idx < 0 || idx >= len(sections) {
			continue
		}
		if _, dup := seen[idx]; dup {
			continue
		}
		seen[idx] = struct{}{}
		if _, gone := removed[idx]; gone {
			continue
		}
		eg.Go(func() error {
			text, err := g.rewriteSection(gctx, topic, sections, idx, source)
			if err != nil {
				return err
			}
			revised[idx] = text
			return nil
		})
	}

	added := make([]string, len(plan.Add))
	for i, add := range plan.Add {
		eg.Go(func() error {
			text, err := g.newSection(gctx, topic, add, sections, source)
			if err != nil {
				return err
			}
			added[i] = text
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return "", err
	}

	// Splice on original indexes: removed sections drop out, added ones
	// follow their anchor. Anchors out of range prepend or append. The
	// last parsed section has no trailing newline, so pieces that follow
	// a bare line get a blank-line separator.
	var out strings.Builder
	endsClean := true
	write := func(s string) {
		if s == "" {
			return
		}
		if !endsClean {
			out.WriteString("\n\n")
		}
		out.WriteString(s)
		endsClean = strings.HasSuffix(s, "\n")
	}
	for i, add := range plan.Add {
		if add.After < 0 {
			write(added[i])
		}
	}
	for i := range revised {
		if _, gone := removed[i]; !gone {
			write(revised[i])
		}
		for j, add := range plan.Add {
			if add.After == i {
				write(added[j])
			}
		}
	}
	for i, add := range plan.Add {
		if add.After >= len(revised) {
			write(added[i])
		}
	}
	return strings.TrimRight(out.String(), "\n"), nil
}

func (g *Generator) rewriteSection(ctx context.Context, topic string, sections []string, idx int, source string) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Revision request: %s\n\n", topic)
	if idx > 0 {
		fmt.Fprintf(&sb, "Preceding section (context only):\n%s\n\n", clipText(sections[idx-1], neighborClip))
	}
	fmt.Fprintf(&sb, "Rewrite this section:\n%s\n\n", sections[idx])
	if idx+1 < len(sections) {
		fmt.Fprintf(&sb, "Following section (context only):\n%s\n\n", clipText(sections[idx+1], neighborClip))
	}
	if strings.TrimSpace(source) != "" {
		fmt.Fprintf(&sb, "Source material:\n\n%s", source)
	}

	text, _, _, err := g.llm.Generate(ctx, []llms.Message{
		llms.SystemMessage(sectionSystemPrompt),
		llms.UserMessage(sb.String()),
	}, nil)
	if err != nil {
		return "", fmt.Errorf("rewrite section %d: %w", idx, err)
	}
	content := stripOuterFence(text)
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("model returned empty section %d", idx)
	}
	return asSection(content), nil
}

func (g *Generator) newSection(ctx context.Context, topic string, add plannedAdd, sections []string, source string) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Revision request: %s\n\n", topic)
	fmt.Fprintf(&sb, "Write a new section titled %q.\nIt should cover: %s\n\n", add.Heading, add.Description)
	if add.After >= 0 && add.After < len(sections) {
		fmt.Fprintf(&sb, "It follows this section (context only):\n%s\n\n", clipText(sections[add.After], neighborClip))
	}
	if strings.TrimSpace(source) != "" {
		fmt.Fprintf(&sb, "Source material:\n\n%s", source)
	}

	text, _, _, err := g.llm.Generate(ctx, []llms.Message{
		llms.SystemMessage(sectionSystemPrompt),
		llms.UserMessage(sb.String()),
	}, nil)
	if err != nil {
		return "", fmt.Errorf("write section %q: %w", add.Heading, err)
	}
	content := stripOuterFence(text)
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("model returned empty section %q", add.Heading)
	}
	if !isSectionHeading(firstLine(content)) {
		content = "## " + add.Heading + "\n\n" + content
	}
	return asSection(content), nil
}
