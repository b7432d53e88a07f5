// Package main is the entry point for the azdls upload gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bleepstore/azdls/internal/auth"
	"github.com/bleepstore/azdls/internal/azdls"
	"github.com/bleepstore/azdls/internal/config"
	"github.com/bleepstore/azdls/internal/journal"
	"github.com/bleepstore/azdls/internal/logging"
	"github.com/bleepstore/azdls/internal/metrics"
	"github.com/bleepstore/azdls/internal/server"
)

func main() {
	os.Exit(run())
}

// run starts the gateway and blocks until it stops. It returns the process
// exit code so deferred cleanup runs before exiting.
func run() int {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	port := flag.Int("port", 0, "override listening port (default: from config or 9010)")
	host := flag.String("host", "", "override listening host (default: from config or 0.0.0.0)")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error (default: from config or info)")
	logFormat := flag.String("log-format", "", "log format: text, json (default: from config or text)")
	shutdownTimeout := flag.Int("shutdown-timeout", 0, "graceful shutdown timeout in seconds (default: from config or 30)")
	maxObjectSize := flag.Int64("max-object-size", 0, "maximum upload size in bytes (default: from config or 268435456)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}

	// Command-line flags override config file values.
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Logging.Format = *logFormat
	}
	if *shutdownTimeout != 0 {
		cfg.Server.ShutdownTimeout = *shutdownTimeout
	}
	if *maxObjectSize != 0 {
		cfg.Server.MaxObjectSize = *maxObjectSize
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	if cfg.Observability.Metrics {
		metrics.Register()
	}

	signer, err := auth.NewSigner(cfg.Azdls)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create signer: %v\n", err)
		return 1
	}
	core, err := azdls.NewCore(cfg.Azdls, signer)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create azdls core: %v\n", err)
		return 1
	}
	slog.Info("Writing to ADLS Gen2",
		"endpoint", cfg.Azdls.Endpoint,
		"filesystem", cfg.Azdls.Filesystem,
		"root", core.Root(),
		"credentials", auth.ResolveType(cfg.Azdls),
	)

	var opts []server.ServerOption
	if cfg.Journal.Enabled {
		store, err := journal.NewStore(cfg.Journal.Path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open journal: %v\n", err)
			return 1
		}
		defer store.Close()
		slog.Info("Write journal opened", "path", cfg.Journal.Path)
		opts = append(opts, server.WithJournal(store))
	}

	srv, err := server.New(cfg, core, opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create server: %v\n", err)
		return 1
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	errCh := make(chan error, 1)
	go func() {
		slog.Info("azdls gateway listening", "addr", addr)
		if err := srv.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Shutdown stops accepting connections and waits for in-flight uploads
	// until the timeout. An upload that finishes with a created but unwritten
	// file is journaled as update_failed; one still running at the timeout
	// may miss the journal, which is closed on return.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("Received signal, shutting down", "signal", sig)

		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("Shutdown error", "error", err)
		}
		slog.Info("Server stopped")

	case err := <-errCh:
		if err != nil {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
			return 1
		}
	}
	return 0
}
