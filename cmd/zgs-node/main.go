// Command zgs-node runs a standalone flow-store node: it opens a pebble
// database, recovers the log manager's two-level Merkle tree from it, and
// serves Prometheus metrics while accepting no external traffic of its
// own (ingest is driven by code that uses package logmanager as a
// library).
//
// Usage:
//
//	zgs-node [flags]
//
// Flags:
//
//	--datadir      Data directory for the pebble database (default: ./data)
//	--metrics.addr Metrics HTTP server listening address (default: 127.0.0.1)
//	--metrics.port Metrics HTTP server port (default: 9090)
//	--log.file     Optional rotating log file path (default: stderr)
//	--verbosity    Log level 0-3 (0=error, 1=warn, 2=info, 3=debug)
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/zerog-labs/zerog-storage-node/kv"
	"github.com/zerog-labs/zerog-storage-node/log"
	"github.com/zerog-labs/zerog-storage-node/logmanager"
	"github.com/zerog-labs/zerog-storage-node/metrics"
)

// Build-time version info, overridable with ldflags:
//
//	go build -ldflags "-X main.version=v0.1.0 -X main.commit=abc1234"
var (
	version = "v0.1.0-dev"
	commit  = "unknown"
)

func main() {
	app := &cli.App{
		Name:    "zgs-node",
		Usage:   "flow-store node for an append-only PoRA Merkle log",
		Version: fmt.Sprintf("%s (commit %s)", version, commit),
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "datadir", Value: "./data", Usage: "data directory for the pebble database"},
			&cli.StringFlag{Name: "metrics.addr", Value: "127.0.0.1", Usage: "metrics HTTP server listening address"},
			&cli.IntFlag{Name: "metrics.port", Value: 9090, Usage: "metrics HTTP server port"},
			&cli.StringFlag{Name: "log.file", Value: "", Usage: "optional rotating log file path (default: stderr)"},
			&cli.IntFlag{Name: "verbosity", Value: 2, Usage: "log level 0-3 (0=error, 1=warn, 2=info, 3=debug)"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "zgs-node: %v\n", err)
		os.Exit(1)
	}
}

func verbosityToLevel(v int) slog.Level {
	switch {
	case v <= 0:
		return slog.LevelError
	case v == 1:
		return slog.LevelWarn
	case v == 2:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

func run(c *cli.Context) error {
	level := verbosityToLevel(c.Int("verbosity"))
	if path := c.String("log.file"); path != "" {
		log.SetDefault(log.NewRotatingFile(path, level, 0))
	} else {
		log.SetDefault(log.New(level))
	}
	logger := log.Default().Module("main")

	datadir := c.String("datadir")
	if err := os.MkdirAll(datadir, 0o755); err != nil {
		return fmt.Errorf("create datadir: %w", err)
	}

	db, err := kv.OpenPebbleStore(datadir)
	if err != nil {
		return fmt.Errorf("open pebble store: %w", err)
	}
	defer db.Close()

	mgr, err := logmanager.New(db)
	if err != nil {
		return fmt.Errorf("recover log manager: %w", err)
	}
	ctx := mgr.GetContext()
	logger.Info("recovered flow", "root", ctx.Root.String(), "totalEntries", ctx.TotalEntries)

	metricsAddr := fmt.Sprintf("%s:%d", c.String("metrics.addr"), c.Int("metrics.port"))
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: metricsAddr, Handler: mux}
	go func() {
		logger.Info("metrics server listening", "addr", metricsAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "err", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown error", "err", err)
	}
	return nil
}
