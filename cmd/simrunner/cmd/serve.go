package cmd

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hugo-lorenzo-mato/simrunner/internal/adapters/state"
	"github.com/hugo-lorenzo-mato/simrunner/internal/api"
	"github.com/hugo-lorenzo-mato/simrunner/internal/config"
	"github.com/hugo-lorenzo-mato/simrunner/internal/events"
	"github.com/hugo-lorenzo-mato/simrunner/internal/logging"
	"github.com/hugo-lorenzo-mato/simrunner/internal/simconfig"
	"github.com/hugo-lorenzo-mato/simrunner/internal/supervisor"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the simulation supervisor and its REST API",
	Long: `Start the supervisor daemon.

On startup any simulation left in a running or paused state by a previous
instance is reconciled, then the REST API starts accepting requests.

Examples:
  # Start with defaults (localhost:8080)
  simrunner serve

  # Start on custom host and port
  simrunner serve --host 0.0.0.0 --port 3000

  # Disable CORS (for production behind a reverse proxy)
  simrunner serve --no-cors`,
	RunE: runServe,
}

var (
	serveHost   string
	servePort   int
	serveNoCORS bool
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "localhost",
		"Host address to bind to")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8080,
		"Port to listen on")
	serveCmd.Flags().BoolVar(&serveNoCORS, "no-cors", false,
		"Disable CORS headers")

	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("server.no_cors", serveCmd.Flags().Lookup("no-cors"))
}

func runServe(_ *cobra.Command, _ []string) error {
	logger := logging.New(logging.Config{
		Level:  logLevel,
		Format: logFormat,
		Output: os.Stdout,
	})

	loader := config.NewLoaderWithViper(viper.GetViper())
	if cfgFile != "" {
		loader.WithConfigFile(cfgFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	store, err := state.NewSQLiteStore(cfg.State.Path)
	if err != nil {
		return fmt.Errorf("opening state store: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logger.Warn("failed to close state store", "error", closeErr)
		}
	}()
	logger.Info("state store initialized", "path", cfg.State.Path)

	bus := events.New(100)
	defer bus.Close()

	materializer := simconfig.New(simconfig.Defaults{
		Executable: cfg.Simulator.Executable,
		Args:       cfg.Simulator.Args,
		WorkDir:    cfg.Simulator.WorkDir,
	})

	sup := supervisor.New(cfg, store, store.Checkpoints(), materializer, bus, logger)

	reconciled, err := sup.Reconcile(context.Background())
	if err != nil {
		return fmt.Errorf("reconciling orphaned simulations: %w", err)
	}
	if reconciled > 0 {
		logger.Info("reconciled orphaned simulations", "count", reconciled)
	}

	serverOpts := []api.ServerOption{api.WithLogger(logger)}
	if cfg.Server.NoCORS {
		serverOpts = append(serverOpts, api.WithoutCORS())
	}
	server := api.NewServer(sup, bus, serverOpts...)

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe(ctx, addr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down...")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := sup.Shutdown(shutdownCtx); err != nil {
		logger.Warn("supervisor shutdown incomplete", "error", err)
	}

	logger.Info("server stopped")
	return nil
}
