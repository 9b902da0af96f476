// Tbcvd is the content validation daemon.
//
// This binary starts the tbcv HTTP server with full service initialization:
// SQLite store, validation service, workflow manager, and the optional
// content watcher.
//
// Configuration is loaded from an optional YAML file and TBCV_-prefixed
// environment variables. See internal/config for details.
//
// Usage:
//
//	# Start with defaults
//	tbcvd
//
//	# Point at a config file
//	tbcvd -config /etc/tbcv/config.yaml
//
//	# Configure via environment
//	TBCV_SERVER_PORT=9350 TBCV_CONTENT_DIR=./docs tbcvd
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/tbcv/internal/config"
	tbcvhttp "github.com/fyrsmithlabs/tbcv/internal/http"
	"github.com/fyrsmithlabs/tbcv/internal/logging"
	"github.com/fyrsmithlabs/tbcv/internal/store"
	"github.com/fyrsmithlabs/tbcv/internal/telemetry"
	"github.com/fyrsmithlabs/tbcv/internal/validate"
	"github.com/fyrsmithlabs/tbcv/internal/watch"
	"github.com/fyrsmithlabs/tbcv/internal/workflow"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  tbcvd            Start the tbcv daemon\n")
			fmt.Fprintf(os.Stderr, "  tbcvd version    Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("tbcvd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the tbcv daemon and blocks until the context is cancelled.
//
// Initialization order:
//  1. Load and validate configuration
//  2. Build the logger
//  3. Install the telemetry providers
//  4. Open the SQLite store
//  5. Create the validation service and workflow manager
//  6. Start the content watcher when enabled
//  7. Start the HTTP server
//  8. Graceful shutdown on context cancellation
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("starting tbcvd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("database", cfg.Database.Path),
		zap.String("content_dir", cfg.Content.Dir))

	// Providers must be installed before any instrumented component is built.
	tel, err := telemetry.New("tbcvd", version, logger)
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	db, err := store.Open(cfg.Database.Path, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Warn("failed to close store", zap.Error(err))
		}
	}()

	contentSvc, err := validate.NewService(db, logger)
	if err != nil {
		return fmt.Errorf("create validation service: %w", err)
	}

	manager, err := workflow.NewManager(db, contentSvc, &workflow.Config{
		CheckpointEvery:     cfg.Workflow.CheckpointEvery,
		CheckpointRetention: cfg.Workflow.CheckpointRetention,
	}, logger)
	if err != nil {
		return fmt.Errorf("create workflow manager: %w", err)
	}

	if cfg.Content.Watch {
		watcher, err := watch.NewWatcher(cfg.Content.Dir, logger)
		if err != nil {
			return fmt.Errorf("create content watcher: %w", err)
		}
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("start content watcher: %w", err)
		}
		defer watcher.Stop()

		go revalidateChanges(ctx, watcher, contentSvc, logger)
	}

	srv, err := tbcvhttp.NewServer(manager, contentSvc, logger, &tbcvhttp.Config{
		Host:                cfg.Server.Host,
		Port:                cfg.Server.Port,
		CheckpointRetention: cfg.Workflow.CheckpointRetention,
	})
	if err != nil {
		return fmt.Errorf("create http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	logger.Info("shutting down http server",
		zap.Duration("timeout", cfg.Server.ShutdownTimeout))
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return <-errCh
}

// revalidateChanges re-validates markdown files as the watcher reports them.
// Results carry no workflow id since they come from the watcher, not a
// workflow run.
func revalidateChanges(ctx context.Context, watcher *watch.Watcher, svc *validate.Service, logger *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-watcher.Changes():
			if !ok {
				return
			}
			res, err := svc.ValidateFile(ctx, "", change.Path)
			if err != nil {
				logger.Warn("watcher re-validation failed",
					zap.String("path", change.Path), zap.Error(err))
				continue
			}
			logger.Info("re-validated changed file",
				zap.String("path", change.Path),
				zap.Bool("passed", res.Passed),
				zap.Int("errors", res.ErrorCount))
		}
	}
}
