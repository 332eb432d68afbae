package main

import (
	"fmt"
	"log/slog"

	"github.com/lorehq/lore/pkg/config"
	"github.com/lorehq/lore/pkg/observability"
	"github.com/lorehq/lore/pkg/runtime"
	"github.com/lorehq/lore/pkg/server"
)

// ServeCmd starts the HTTP boundary and the background job workers.
type ServeCmd struct {
	Port  int  `help:"Port to listen on (overrides config)."`
	Watch bool `help:"Watch the config file and apply reloadable settings."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, cleanup, err := setup(ctx, cli)
	if err != nil {
		return err
	}
	defer cleanup()

	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	if err := observability.NewManager(cfg.Observability).Initialize(ctx); err != nil {
		return fmt.Errorf("observability: %w", err)
	}

	rt, err := runtime.NewWithConfig(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	if c.Watch {
		loader, err := config.NewLoader(cli.Config, config.WithOnChange(rt.Reload))
		if err != nil {
			return err
		}
		go func() {
			if err := loader.Watch(ctx); err != nil && ctx.Err() == nil {
				slog.Error("config watch failed", "error", err)
			}
		}()
	}

	go func() {
		if err := rt.Jobs.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("job runner stopped", "error", err)
		}
	}()

	srv := server.New(cfg.Server, server.Deps{
		Store:      rt.Store,
		KV:         rt.KV,
		Agent:      rt.Agent,
		Search:     rt.Retrieval,
		Connectors: rt.Connectors,
		Reports:    rt.Reports,
		Ingest:     rt.Ingest,
	})

	fmt.Printf("Lore ready on http://%s\n", cfg.Server.Address())
	fmt.Printf("  Health:  http://%s/healthz\n", cfg.Server.Address())
	fmt.Printf("  Metrics: http://%s/metrics\n", cfg.Server.Address())
	fmt.Println("Press Ctrl+C to stop")

	return srv.Start(ctx)
}
