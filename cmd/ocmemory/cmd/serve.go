package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/NewTurn2017/oc-memory/internal/daemon"
	"github.com/NewTurn2017/oc-memory/internal/httpapi"
	"github.com/NewTurn2017/oc-memory/internal/mcpserver"
	"github.com/NewTurn2017/oc-memory/internal/watcher"
)

type serveOptions struct {
	transport string
	addr      string
	watchDir  string
}

func newServeCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the memory engine as a server",
		Long: `Run the memory engine, exposing it over either the MCP stdio
transport (for AI coding assistants) or the REST transport (for
programmatic access).`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.transport, "transport", "stdio", "Transport to expose: stdio or rest")
	cmd.Flags().StringVar(&opts.addr, "addr", "127.0.0.1:8765", "Listen address for the rest transport")
	cmd.Flags().StringVar(&opts.watchDir, "watch", "", "Directory to watch for memory files (markdown/json), empty disables")

	return cmd
}

func runServe(ctx context.Context, opts serveOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	lock := daemon.NewInstanceLock(filepath.Join(cfg.Paths.DataDir, "instance.lock"))
	if err := lock.Acquire(); err != nil {
		if errors.Is(err, daemon.ErrAlreadyRunning) {
			return fmt.Errorf("another ocmemory instance already holds %s", lock.Path())
		}
		return fmt.Errorf("failed to acquire instance lock: %w", err)
	}
	defer func() { _ = lock.Release() }()

	eng, vectorPath, err := openEngine(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open engine: %w", err)
	}
	defer closeEngine(eng, vectorPath)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	eng.Start(ctx)

	watchDir := opts.watchDir
	if watchDir == "" {
		watchDir = cfg.Paths.WatchDir
	}
	if watchDir != "" {
		fw, err := watcher.New(watcher.DefaultOptions())
		if err != nil {
			return fmt.Errorf("failed to create watcher: %w", err)
		}
		producer := watcher.NewProducer(fw, eng)
		go func() {
			if err := producer.Run(ctx, watchDir); err != nil && ctx.Err() == nil {
				slog.Error("watcher stopped", slog.String("error", err.Error()))
			}
		}()
	}

	switch opts.transport {
	case "stdio":
		srv, err := mcpserver.NewServer(eng)
		if err != nil {
			return fmt.Errorf("failed to create mcp server: %w", err)
		}
		return srv.Serve(ctx)
	case "rest":
		srv := httpapi.NewServer(eng)
		return srv.Serve(ctx, opts.addr, 10*time.Second)
	default:
		return fmt.Errorf("unknown transport %q: must be stdio or rest", opts.transport)
	}
}
