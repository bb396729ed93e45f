// Command flatvecd serves flatvec stores over HTTP and maintains their logs.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/hupe1980/flatvec/registry"
	"github.com/hupe1980/flatvec/server"
	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "flatvecd",
	Short: "flatvec document search service",
	Long: `flatvecd hosts named flatvec stores behind a JSON HTTP API and embeds
documents and queries through an OpenAI-compatible embedding API.

Each store lives in <data_dir>/<name>.wal. The maintenance commands work on
those files directly and must not run against a store the server holds open.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runServer(ctx)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "flatvecd %s\n", version)
		if info, ok := debug.ReadBuildInfo(); ok {
			fmt.Fprintf(out, "Go version: %s\n", info.GoVersion)
			for _, s := range info.Settings {
				if s.Key == "vcs.revision" {
					fmt.Fprintf(out, "Git commit: %s\n", s.Value)
				}
			}
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (YAML)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(compactCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)
}

func runServer(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	storeOpts, err := storeOptions(cfg, logger)
	if err != nil {
		return err
	}
	reg, err := registry.New(cfg.DataDir, func(o *registry.Options) {
		o.StoreOptions = storeOpts
		o.Logger = logger
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := reg.Close(); err != nil {
			logger.Error("close stores", "error", err)
		}
	}()
	if err := reg.OpenAll(ctx); err != nil {
		return err
	}

	backups, err := newBlobStore(ctx, cfg)
	if err != nil {
		return err
	}
	metric, err := cfg.Metric()
	if err != nil {
		return err
	}
	embedder := newEmbedder(cfg)
	if embedder == nil {
		logger.Warn("no embedding api key configured, requests must carry vectors")
	}

	srv := server.New(reg, func(o *server.Options) {
		o.Embedder = embedder
		o.Backups = backups
		o.DefaultMetric = metric
		o.Logger = logger
		o.MaxBodyBytes = cfg.Server.MaxBodyBytes
	})
	httpSrv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Server.Addr, "stores", len(reg.Names()))
		errc <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
