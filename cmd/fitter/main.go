package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"gasexchange-platform/internal/artifacts"
	"gasexchange-platform/internal/config"
	"gasexchange-platform/internal/models"
	"gasexchange-platform/internal/report"
	"gasexchange-platform/internal/repository"
	"gasexchange-platform/internal/services"
	"gasexchange-platform/migrations"
	"gasexchange-platform/pkg/database"
	"gasexchange-platform/pkg/logging"
	"gasexchange-platform/pkg/metrics"
)

const version = "1.0.0"

var (
	configPath  string
	persist     bool
	migrate     bool
	noArtifacts bool
	outDir      string
	width       int
	strictRank  bool
	startG0     float64
	startG1     float64
)

var rootCmd = &cobra.Command{
	Use:   "gasx-fit [file]",
	Short: "Fit the Medlyn stomatal conductance model to a gas-exchange file",
	Long: `Loads a comma-separated gas-exchange file, cleans it, converts water-vapour
conductance to CO2 conductance, fits gs_co2 = g0 + (1 + g1/sqrt(vpd)) * photo/400
by nonlinear least squares and evaluates the fitted model on every row.

Artifacts (plots, report, fit summary, fitted table) go to the configured
store unless --no-artifacts is given. With --persist the run is also written
to the run store.

Example:
  gasx-fit data/leaf_gas_exchange.csv --out results --persist`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return fit(cmd, args[0])
	},
}

func main() {
	flags := rootCmd.Flags()
	flags.StringVar(&configPath, "config", os.Getenv(config.EnvConfigPath), "path to a YAML config file")
	flags.BoolVar(&persist, "persist", false, "write the run to the run store")
	flags.BoolVar(&migrate, "migrate", false, "apply the schema before persisting")
	flags.BoolVar(&noArtifacts, "no-artifacts", false, "skip writing plots and report files")
	flags.StringVar(&outDir, "out", "", "local artifact directory (overrides artifacts.dir)")
	flags.IntVar(&width, "width", 100, "terminal width for the rendered report")
	flags.BoolVar(&strictRank, "strict-rank", false, "fail on frond labels without a numeric rank")
	flags.Float64Var(&startG0, "start-g0", 0, "starting value for g0 (default from config)")
	flags.Float64Var(&startG1, "start-g1", 0, "starting value for g1 (default from config)")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func fit(cmd *cobra.Command, path string) error {
	ctx := cmd.Context()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cmd.Flags().Changed("strict-rank") {
		cfg.Fit.StrictRank = strictRank
	}
	if cmd.Flags().Changed("start-g0") {
		cfg.Fit.StartG0 = startG0
	}
	if cmd.Flags().Changed("start-g1") {
		cfg.Fit.StartG1 = startG1
	}
	if outDir != "" {
		cfg.Artifacts.Driver = artifacts.DriverLocal
		cfg.Artifacts.Dir = outDir
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := logging.NewStructuredLogger("gasx-fitter", version, cfg.Logging.LogLevel())
	logger.SetOutput(os.Stderr)
	defer logger.Sync()

	logger.Info(ctx, "[FITTER_START] Starting Medlyn fit", logging.Fields{
		"version":   version,
		"file":      path,
		"persist":   persist,
		"artifacts": !noArtifacts,
		"start_g0":  cfg.Fit.StartG0,
		"start_g1":  cfg.Fit.StartG1,
	})

	metricsCollector := metrics.NewCollector("gasx_fitter", prometheus.NewRegistry())

	var store artifacts.Store
	if !noArtifacts {
		store, err = artifacts.Open(ctx, cfg.Artifacts)
		if err != nil {
			return fmt.Errorf("failed to open artifact store: %w", err)
		}
	}

	var repo repository.GasExchangeRepository
	if persist {
		db, err := database.Open(cfg.Database.Connection(), logger, metricsCollector)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()

		if migrate {
			if _, err := db.Migrate(ctx, migrations.Up); err != nil {
				return err
			}
		}
		repo = repository.NewGasExchangeRepository(db, logger, metricsCollector)
	}

	pipeline := services.NewPipelineService(
		services.NewIngestionService(logger, metricsCollector, models.ConversionOptions{StrictRank: cfg.Fit.StrictRank}),
		services.NewCleaningService(logger, metricsCollector),
		services.NewFittingService(logger, metricsCollector, cfg.Fit.Options()),
		services.NewSummaryService(logger, metricsCollector),
		repo,
		store,
		logger,
		metricsCollector,
	)

	result, err := pipeline.RunFile(ctx, path)
	if err != nil {
		logger.Error(ctx, "[FITTER_ERROR] Fit failed", logging.Fields{"file": path}, err)
		return err
	}

	rendered, err := report.RenderTerminal(result.Report, width)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprint(out, rendered)

	if len(result.Artifacts) > 0 {
		fmt.Fprintln(out, strings.Repeat("=", 80))
		fmt.Fprintln(out, "ARTIFACTS")
		fmt.Fprintln(out, strings.Repeat("=", 80))
		names := make([]string, 0, len(result.Artifacts))
		for name := range result.Artifacts {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(out, "%-28s %s\n", name, result.Artifacts[name])
		}
	}
	if result.Persisted {
		fmt.Fprintf(out, "Run stored as %s\n", result.Run.ID)
	}

	logger.Info(ctx, "[FITTER_COMPLETE] Fit completed successfully", logging.Fields{
		"run_id":           result.Run.ID,
		"g0":               result.Fit.Params.G0,
		"g1":               result.Fit.Params.G1,
		"sigma":            result.Fit.Sigma,
		"duration_seconds": result.Duration.Seconds(),
	})
	return nil
}
