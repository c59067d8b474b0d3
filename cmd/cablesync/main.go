// Command cablesync serves the cable spreadsheet import API and offers the
// same import from the command line.
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

	"github.com/hazyhaar/cablesync/cablesync"
)

// rootOptions holds the flags shared by every command.
type rootOptions struct {
	ConfigPath string
	cfg        *cablesync.Config
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "cablesync",
		Short:         "Versioned sync of cable status spreadsheets",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cablesync.LoadConfig(opts.ConfigPath)
			if err != nil {
				return err
			}
			opts.cfg = cfg
			logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
			slog.SetDefault(logger)
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", os.Getenv("CABLESYNC_CONFIG"), "YAML config file")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newImportCommand(opts))
	cmd.AddCommand(newRunsCommand(opts))
	cmd.AddCommand(newTracesCommand(opts))
	cmd.AddCommand(newTokenCommand(opts))
	return cmd
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts.cfg)
		},
	}
}

func runServe(parent context.Context, cfg *cablesync.Config) error {
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	engine, err := cablesync.OpenEngine(cfg, cablesync.WithLogger(slog.Default()))
	if err != nil {
		return err
	}
	defer engine.Close()

	srv := &http.Server{
		Addr: cfg.Listen,
		Handler: cablesync.NewHandler(engine, cablesync.HandlerConfig{
			JWTSecret:   []byte(cfg.JWTSecret),
			ImportRoles: cfg.ImportRoles,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", cfg.Listen, "auth", cfg.JWTSecret != "")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
	slog.Info("server stopped")
	return nil
}
