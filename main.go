package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"inbox_worker/config"
	"inbox_worker/internal/bootstrap"
	"inbox_worker/pkg/logger"

	"github.com/spf13/cobra"
)

const (
	shutdownTimeout = 30 * time.Second // Maximum time to wait for graceful shutdown
)

// Version info set via ldflags at build time.
var Version = "dev"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "inbox-worker",
		Short:         "Unified inbox classification and notification worker",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSimulateCmd())
	cmd.AddCommand(newReconcileCmd())
	cmd.AddCommand(newKnowledgeCmd())
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "inbox-worker %s\n", Version)
		},
	})
	return cmd
}

// loadConfig loads configuration and initializes the logger at the
// configured level.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger.Init(logger.Config{
		Level:   logger.ParseLevel(cfg.LogLevel),
		Service: "inbox-worker",
		Pretty:  cfg.IsDevelopment(),
	})
	return cfg, nil
}

func newServeCmd() *cobra.Command {
	var mode string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the API, the dispatch worker, or both",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := bootstrap.ParseMode(mode)
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, m)
		},
	}

	cmd.Flags().StringVar(&mode, "mode", string(bootstrap.ModeAll), "run mode: api, worker, all")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, mode bootstrap.Mode) error {
	deps, cleanup, err := bootstrap.NewDependencies(ctx, cfg, mode)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}
	defer cleanup()

	w := bootstrap.NewWorker(deps)
	workerErr := make(chan error, 1)
	go func() { workerErr <- w.Start() }()

	var serverErr chan error
	var app interface{ ShutdownWithContext(context.Context) error }
	if mode != bootstrap.ModeWorker {
		api := bootstrap.NewAPI(deps)
		app = api
		serverErr = make(chan error, 1)
		go func() {
			addr := ":" + cfg.Port
			logger.Info("API server listening on %s", addr)
			serverErr <- api.Listen(addr)
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigChan:
		logger.Info("Received %s, shutting down (timeout: %v)...", sig, shutdownTimeout)
	case runErr = <-serverErr:
		logger.WithError(runErr).Error("API server stopped")
	case runErr = <-workerErr:
		if runErr != nil {
			logger.WithError(runErr).Error("Worker stopped")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// stop intake before draining the pool
	if app != nil {
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			logger.WithError(err).Warn("API server shutdown error")
		}
	}
	if err := w.Stop(shutdownCtx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			logger.Warn("Shutdown timed out; unfinished records stay for the reconcile sweep")
		} else {
			logger.WithError(err).Warn("Worker shutdown error")
		}
	}

	logger.Info("Shutdown complete")
	return runErr
}

func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Release stale claims and requeue unclassified records once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			deps, cleanup, err := bootstrap.NewDependencies(cmd.Context(), cfg, bootstrap.ModeWorker)
			if err != nil {
				return err
			}
			defer cleanup()

			res, err := deps.Sweeper.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "released %d stale claims, requeued %d records\n", res.Released, res.Requeued)
			return nil
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
