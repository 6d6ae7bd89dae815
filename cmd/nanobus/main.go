// Command nanobus runs the request dispatcher: it loads the bus document,
// compiles pipelines and authorization policy, and serves invocations over
// HTTP until terminated.
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

	"github.com/spf13/cobra"

	"github.com/shazaibn/nanobus/pkg/config"
	"github.com/shazaibn/nanobus/pkg/engine"
	"github.com/shazaibn/nanobus/pkg/logging"
	"github.com/shazaibn/nanobus/pkg/storage"
	"github.com/shazaibn/nanobus/pkg/telemetry"
	"github.com/shazaibn/nanobus/pkg/transport/httprpc"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "nanobus",
		Short:         "Pipeline dispatcher for declarative service interfaces",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "server configuration file")

	root.AddCommand(newRunCmd(&configPath))
	root.AddCommand(newValidateCmd())

	return root
}

func newRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Serve invocations over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), *configPath)
		},
	}
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <bus-document>",
		Short: "Check that a bus document parses and compiles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return validate(cmd.Context(), args[0])
		},
	}
}

func run(parent context.Context, configPath string) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadServer(configPath)
	if err != nil {
		return err
	}

	logger := logging.NewLogger(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	slog.SetDefault(logger)

	shutdownTracing, err := telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName: "nanobus",
		Endpoint:    cfg.Telemetry.Endpoint,
		Environment: cfg.Telemetry.Environment,
		Insecure:    cfg.Telemetry.Insecure,
	})
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()

	var recorder engine.Recorder
	if cfg.Audit.Path != "" {
		audit, err := storage.NewAuditLog(cfg.Audit.Path, logger)
		if err != nil {
			return fmt.Errorf("open audit log: %w", err)
		}
		defer audit.Close()
		recorder = audit
	}

	dispatcher := engine.NewDispatcher(engine.DispatcherConfig{
		Logger:   logger,
		Recorder: recorder,
	})

	provider, err := config.NewFileProvider(cfg.Bus, logger)
	if err != nil {
		return err
	}
	defer provider.Close()

	snapshots := provider.Subscribe()

	// The first snapshot must apply; the process has nothing to serve
	// without it.
	select {
	case snapshot := <-snapshots:
		if err := dispatcher.Apply(ctx, snapshot); err != nil {
			return err
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	go func() {
		for snapshot := range snapshots {
			err := dispatcher.Apply(ctx, snapshot)
			telemetry.RecordConfigReload(ctx, snapshot.Generation, err)
			if err != nil {
				logger.Error("snapshot rejected; previous configuration stays active",
					"generation", snapshot.Generation,
					"error", err,
				)
			}
		}
	}()

	transport := httprpc.NewServer(dispatcher, httprpc.Config{
		Secret: cfg.Auth.Secret,
		Logger: logger,
	})

	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           transport.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Listen, "bus", cfg.Bus)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// validate compiles the bus document against the builtin units without
// serving, so CI can gate configuration changes.
func validate(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	doc, err := config.Parse(data)
	if err != nil {
		return err
	}

	dispatcher := engine.NewDispatcher(engine.DispatcherConfig{})
	if err := dispatcher.Apply(ctx, &config.Snapshot{
		Generation: 1,
		ReceivedAt: time.Now().UTC(),
		Document:   doc,
	}); err != nil {
		return err
	}

	fmt.Printf("%s: ok (%d interfaces)\n", path, len(doc.Interfaces))
	return nil
}
