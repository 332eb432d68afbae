package main

import (
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lorehq/lore/pkg/connectors"
	"github.com/lorehq/lore/pkg/retrieval"
	"github.com/lorehq/lore/pkg/runtime"
)

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("lore version %s\n", version)
	return nil
}

// SyncCmd runs one connector in the foreground and prints its stats.
type SyncCmd struct {
	Connector string `help:"Connector id to run." required:""`
	Start     string `help:"Window start (YYYY-MM-DD)."`
	End       string `help:"Window end (YYYY-MM-DD)."`
	Backfill  bool   `help:"Leave the incremental cursor untouched."`
}

func (c *SyncCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, cleanup, err := setup(ctx, cli)
	if err != nil {
		return err
	}
	defer cleanup()

	id, err := uuid.Parse(c.Connector)
	if err != nil {
		return fmt.Errorf("invalid --connector: %w", err)
	}
	opts := connectors.RunOptions{UpdateCursor: !c.Backfill}
	if c.Start != "" {
		t, err := time.Parse("2006-01-02", c.Start)
		if err != nil {
			return fmt.Errorf("invalid --start %q, want YYYY-MM-DD", c.Start)
		}
		opts.StartDate = &t
	}
	if c.End != "" {
		t, err := time.Parse("2006-01-02", c.End)
		if err != nil {
			return fmt.Errorf("invalid --end %q, want YYYY-MM-DD", c.End)
		}
		opts.EndDate = &t
	}

	rt, err := runtime.NewWithConfig(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	stats, err := rt.Connectors.RunConnector(ctx, id, opts)
	if err != nil {
		return err
	}
	fmt.Printf("indexed %d, skipped %d, failures %d\n",
		stats.DocumentsIndexed, stats.DocumentsSkipped, stats.Failures)
	return nil
}

// SearchCmd queries a search space and prints the citable chunks.
type SearchCmd struct {
	Query string `arg:"" help:"Search query."`
	Space string `help:"Search space id." required:""`
	User  string `help:"User the query runs as." default:"local"`
	TopK  int    `name:"top-k" help:"Result count." default:"10"`
}

func (c *SearchCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, cleanup, err := setup(ctx, cli)
	if err != nil {
		return err
	}
	defer cleanup()

	spaceID, err := uuid.Parse(c.Space)
	if err != nil {
		return fmt.Errorf("invalid --space: %w", err)
	}

	rt, err := runtime.NewWithConfig(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	_, chunks, err := rt.Retrieval.Search(ctx, c.User, spaceID, c.Query, retrieval.SearchOptions{TopK: c.TopK})
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		fmt.Println("no results")
		return nil
	}
	for _, ch := range chunks {
		fmt.Printf("[%d] %.2f  %s\n", ch.ChunkID, ch.Score, ch.Document.Title)
		fmt.Printf("     %s\n", snippet(ch.Content, 160))
	}
	return nil
}

// snippet collapses whitespace and truncates for one-line display.
func snippet(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if runes := []rune(s); len(runes) > max {
		return string(runes[:max-3]) + "..."
	}
	return s
}

// DocsCmd manages the documentation index.
type DocsCmd struct {
	Index DocsIndexCmd `cmd:"" help:"Index the Markdown documentation tree."`
}

type DocsIndexCmd struct {
	Dir string `help:"Documentation directory (defaults to docs_index.docs_dir)." type:"path"`
}

func (c *DocsIndexCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, cleanup, err := setup(ctx, cli)
	if err != nil {
		return err
	}
	defer cleanup()

	rt, err := runtime.NewWithConfig(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	dir := c.Dir
	if dir == "" {
		dir = cfg.DocsIndex.DocsDir
	}
	n, err := rt.Docs.IndexDir(ctx, dir)
	if err != nil {
		return err
	}
	fmt.Printf("indexed %d documentation files from %s\n", n, dir)
	return nil
}
