// Command lore runs the Lore personal knowledge platform.
//
// Usage:
//
//	lore serve --config lore.yaml
//	lore sync --connector <id> --start 2025-01-01
//	lore search "deploy schedule" --space <id>
//	lore chat --space <id>
//	lore docs index
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/lorehq/lore/pkg/config"
	"github.com/lorehq/lore/pkg/logger"
)

// CLI defines the command-line interface.
type CLI struct {
	Version VersionCmd `cmd:"" help:"Show version information."`
	Serve   ServeCmd   `cmd:"" help:"Start the HTTP server and job workers."`
	Sync    SyncCmd    `cmd:"" help:"Run one connector and exit."`
	Search  SearchCmd  `cmd:"" help:"Query a search space from the terminal."`
	Chat    ChatCmd    `cmd:"" help:"Chat with the agent interactively."`
	Docs    DocsCmd    `cmd:"" help:"Manage the documentation index."`

	Config    string `short:"c" help:"Path to config file." default:"lore.yaml" type:"path"`
	LogLevel  string `name:"log-level" help:"Log level override (debug, info, warn, error)."`
	LogFile   string `name:"log-file" help:"Log to a file instead of the configured output."`
	LogFormat string `name:"log-format" help:"Log format override (text, json)."`
}

// setup loads env files and the config, then applies the logging section
// with CLI overrides on top. The cleanup closes the log file if one was
// opened.
func setup(ctx context.Context, cli *CLI) (*config.Config, func(), error) {
	if err := config.LoadEnvFiles(); err != nil {
		return nil, nil, err
	}
	cfg, err := config.LoadFile(ctx, cli.Config)
	if err != nil {
		return nil, nil, fmt.Errorf("load config %s: %w", cli.Config, err)
	}
	cleanup, err := initLogging(cli, cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, cleanup, nil
}

func initLogging(cli *CLI, cfg *config.Config) (func(), error) {
	levelStr := cfg.Logging.Level
	if cli.LogLevel != "" {
		levelStr = cli.LogLevel
	}
	level, err := logger.ParseLevel(levelStr)
	if err != nil {
		return nil, err
	}

	format := cfg.Logging.Format
	if cli.LogFormat != "" {
		format = cli.LogFormat
	}
	output := cfg.Logging.Output
	if cli.LogFile != "" {
		output = cli.LogFile
	}

	switch output {
	case "", "stderr":
		logger.Init(level, os.Stderr, format)
		return func() {}, nil
	case "stdout":
		logger.Init(level, os.Stdout, format)
		return func() {}, nil
	default:
		file, cleanup, err := logger.OpenLogFile(output)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		logger.Init(level, file, format)
		return cleanup, nil
	}
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx, cancel
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("lore"),
		kong.Description("Lore - search, chat, and research over your own knowledge."),
		kong.UsageOnError(),
	)
	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
