package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"gasexchange-platform/internal/config"
	"gasexchange-platform/internal/handlers"
	"gasexchange-platform/internal/repository"
	"gasexchange-platform/internal/services"
	"gasexchange-platform/pkg/database"
	"gasexchange-platform/pkg/logging"
	"gasexchange-platform/pkg/metrics"
)

const version = "1.0.0"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "gasx-server",
	Short: "Serve stored Medlyn fit runs over HTTP",
	Long: `Serves fit runs, fitted observations and group summaries from the run
store, evaluates stored models on request, and exposes Prometheus metrics.

Configuration comes from --config (or GASX_CONFIG) and GASX_* variables.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func main() {
	rootCmd.Flags().StringVar(&configPath, "config", os.Getenv(config.EnvConfigPath), "path to a YAML config file")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func serve(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := logging.NewStructuredLogger("gasx-api", version, cfg.Logging.LogLevel())
	defer logger.Sync()

	logger.Info(ctx, "[STARTUP] Starting gas exchange API server", logging.Fields{
		"version":     version,
		"server_host": cfg.Server.Host,
		"server_port": cfg.Server.Port,
		"db_driver":   cfg.Database.Driver,
		"db_name":     cfg.Database.Database,
	})

	metricsCollector := metrics.NewCollector("gasx", prometheus.DefaultRegisterer)

	db, err := database.Open(cfg.Database.Connection(), logger, metricsCollector)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	repo := repository.NewGasExchangeRepository(db, logger, metricsCollector)
	service := services.NewGasExchangeService(repo, logger, metricsCollector)
	handler := handlers.NewGasExchangeHandler(service, logger, metricsCollector)

	router := mux.NewRouter()
	handler.RegisterRoutes(router)
	router.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "[SERVER_START] HTTP server listening", logging.Fields{
			"address": server.Addr,
		})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error(ctx, "[SERVER_ERROR] Server failed", logging.Fields{}, err)
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info(ctx, "[SHUTDOWN] Shutting down server...", logging.Fields{})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "[SHUTDOWN_ERROR] Server forced to shutdown", logging.Fields{}, err)
		return err
	}

	logger.Info(ctx, "[SHUTDOWN_COMPLETE] Server stopped", logging.Fields{})
	return nil
}
