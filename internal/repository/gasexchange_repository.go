package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gasexchange-platform/internal/models"
	"gasexchange-platform/pkg/database"
	"gasexchange-platform/pkg/logging"
	"gasexchange-platform/pkg/metrics"
)

// GasExchangeRepository provides data access for fit runs and their data
type GasExchangeRepository interface {
	// Run operations
	CreateRun(ctx context.Context, run *models.FitRun) error
	GetRun(ctx context.Context, runID string) (*models.FitRun, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*models.FitRun, int, error)
	DeleteRun(ctx context.Context, runID string) error

	// Observation operations
	CreateObservationsBatch(ctx context.Context, runID string, observations []*models.Observation) error
	GetObservations(ctx context.Context, filter ObservationFilter) ([]*models.Observation, int, error)

	// Summary operations
	ReplaceSummaries(ctx context.Context, runID string, summaries []models.GroupSummary) error
	GetSummaries(ctx context.Context, runID string, dimension *string) ([]models.GroupSummary, error)

	// Utility operations
	HealthCheck(ctx context.Context) error
}

// ObservationFilter defines filters for querying observations of one run
type ObservationFilter struct {
	RunID    string
	Season   *string
	Progeny  *string
	Position *string
	Limit    int
	Offset   int
}

// gasExchangeRepository implements GasExchangeRepository
type gasExchangeRepository struct {
	db      *database.DB
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewGasExchangeRepository creates a new repository over db
func NewGasExchangeRepository(db *database.DB, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) GasExchangeRepository {
	return &gasExchangeRepository{
		db:      db,
		logger:  logger,
		metrics: metricsCollector,
	}
}

const runColumns = `
	id, source_file, g0, g1, sigma, rss,
	g0_std_error, g1_std_error, g0_t_value, g1_t_value, g0_p_value, g1_p_value,
	r_squared, rmse, df, n_used, n_excluded, iterations, status,
	start_g0, start_g1, created_at`

const observationColumns = `
	id, run_id, row_number, observation_date, hour_of_day,
	frond, leaf_rank, position_label, relative_position,
	season, progeny, tree,
	vpd, gs_h2o, gs_co2, photo, transpiration, gs_medlyn_co2`

// CreateRun inserts a fit run. Runs are never updated.
func (r *gasExchangeRepository) CreateRun(ctx context.Context, run *models.FitRun) error {
	query := `INSERT INTO fit_runs (` + runColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, "insert_run", query,
		run.ID,
		run.SourceFile,
		run.G0,
		run.G1,
		run.Sigma,
		run.RSS,
		run.G0StdError,
		run.G1StdError,
		run.G0TValue,
		run.G1TValue,
		run.G0PValue,
		run.G1PValue,
		run.RSquared,
		run.RMSE,
		run.DF,
		run.NUsed,
		run.NExcluded,
		run.Iterations,
		run.Status,
		run.StartG0,
		run.StartG1,
		run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	r.logger.Debug(ctx, "[REPO_CREATE_RUN] Fit run created", logging.Fields{
		"run_id": run.ID,
		"source": run.SourceFile,
	})

	return nil
}

// GetRun retrieves a fit run by ID
func (r *gasExchangeRepository) GetRun(ctx context.Context, runID string) (*models.FitRun, error) {
	query := `SELECT ` + runColumns + ` FROM fit_runs WHERE id = ?`

	var run models.FitRun
	err := r.db.GetContext(ctx, "get_run", &run, query, runID)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{
			Resource: "fit_run",
			ID:       runID,
		}
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return &run, nil
}

// ListRuns retrieves fit runs, newest first, with pagination
func (r *gasExchangeRepository) ListRuns(ctx context.Context, limit, offset int) ([]*models.FitRun, int, error) {
	var total int
	if err := r.db.GetContext(ctx, "count_runs", &total, `SELECT COUNT(*) FROM fit_runs`); err != nil {
		return nil, 0, fmt.Errorf("failed to count runs: %w", err)
	}

	query := `SELECT ` + runColumns + ` FROM fit_runs
		ORDER BY created_at DESC, id
		LIMIT ? OFFSET ?`

	var runs []*models.FitRun
	if err := r.db.SelectContext(ctx, "list_runs", &runs, query, limit, offset); err != nil {
		return nil, 0, fmt.Errorf("failed to list runs: %w", err)
	}

	return runs, total, nil
}

// DeleteRun removes a run; observations and summaries cascade
func (r *gasExchangeRepository) DeleteRun(ctx context.Context, runID string) error {
	result, err := r.db.ExecContext(ctx, "delete_run", `DELETE FROM fit_runs WHERE id = ?`, runID)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}

	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return &NotFoundError{Resource: "fit_run", ID: runID}
	}

	return nil
}

// CreateObservationsBatch stores the observations of a run in a single transaction
func (r *gasExchangeRepository) CreateObservationsBatch(ctx context.Context, runID string, observations []*models.Observation) error {
	if len(observations) == 0 {
		return nil
	}

	timer := time.Now()
	defer func() {
		duration := time.Since(timer)
		r.metrics.DBBatchSize.Observe(float64(len(observations)))
		r.logger.Debug(ctx, "[REPO_BATCH_INSERT] Batch insert completed", logging.Fields{
			"run_id":      runID,
			"count":       len(observations),
			"duration_ms": duration.Milliseconds(),
		})
	}()

	// Begin transaction
	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Prepare statement
	stmt, err := tx.PrepareContext(ctx, r.db.Rebind(`
		INSERT INTO observations (
			run_id, row_number, observation_date, hour_of_day,
			frond, leaf_rank, position_label, relative_position,
			season, progeny, tree,
			vpd, gs_h2o, gs_co2, photo, transpiration, gs_medlyn_co2
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`))
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	// Execute batch
	for _, obs := range observations {
		_, err := stmt.ExecContext(ctx,
			runID,
			obs.RowNumber,
			obs.Date,
			obs.Hour,
			obs.Frond,
			obs.Rank,
			obs.Position,
			obs.RelativePosition,
			string(obs.Season),
			obs.Progeny,
			obs.Tree,
			obs.VPD,
			obs.GsH2O,
			obs.GsCO2,
			obs.Photo,
			obs.Transpiration,
			obs.GsMedlynCO2,
		)
		if err != nil {
			return fmt.Errorf("failed to insert observation row %d: %w", obs.RowNumber, err)
		}
		obs.RunID = runID
	}

	// Commit transaction
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetObservations retrieves the observations of a run with filtering and pagination
func (r *gasExchangeRepository) GetObservations(ctx context.Context, filter ObservationFilter) ([]*models.Observation, int, error) {
	// Build query with filters
	where := ` FROM observations WHERE run_id = ?`
	args := []interface{}{filter.RunID}

	if filter.Season != nil {
		where += " AND season = ?"
		args = append(args, *filter.Season)
	}

	if filter.Progeny != nil {
		where += " AND progeny = ?"
		args = append(args, *filter.Progeny)
	}

	if filter.Position != nil {
		where += " AND position_label = ?"
		args = append(args, *filter.Position)
	}

	// Get total count
	var totalCount int
	err := r.db.GetContext(ctx, "count_observations", &totalCount, "SELECT COUNT(*)"+where, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count observations: %w", err)
	}

	// Add ordering and pagination
	query := "SELECT " + observationColumns + where + " ORDER BY row_number LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	var observations []*models.Observation
	err = r.db.SelectContext(ctx, "get_observations", &observations, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get observations: %w", err)
	}

	return observations, totalCount, nil
}

// ReplaceSummaries swaps the stored group summaries of a run for summaries
func (r *gasExchangeRepository) ReplaceSummaries(ctx context.Context, runID string, summaries []models.GroupSummary) error {
	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, r.db.Rebind(`DELETE FROM group_summaries WHERE run_id = ?`), runID); err != nil {
		return fmt.Errorf("failed to clear summaries: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, r.db.Rebind(`
		INSERT INTO group_summaries (
			run_id, dimension, group_key, n,
			mean_gs_co2, sd_gs_co2, mean_photo, mean_vpd, mean_transpiration
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`))
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, s := range summaries {
		_, err := stmt.ExecContext(ctx,
			runID,
			s.Dimension,
			s.GroupKey,
			s.N,
			s.MeanGsCO2,
			s.SdGsCO2,
			s.MeanPhoto,
			s.MeanVPD,
			s.MeanTranspiration,
		)
		if err != nil {
			return fmt.Errorf("failed to insert summary %s/%s: %w", s.Dimension, s.GroupKey, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.logger.Debug(ctx, "[REPO_SUMMARIES] Group summaries stored", logging.Fields{
		"run_id": runID,
		"count":  len(summaries),
	})

	return nil
}

// GetSummaries returns the stored summaries of a run, optionally for one dimension
func (r *gasExchangeRepository) GetSummaries(ctx context.Context, runID string, dimension *string) ([]models.GroupSummary, error) {
	query := `
		SELECT run_id, dimension, group_key, n,
		       mean_gs_co2, sd_gs_co2, mean_photo, mean_vpd, mean_transpiration
		FROM group_summaries
		WHERE run_id = ?`
	args := []interface{}{runID}

	if dimension != nil {
		query += " AND dimension = ?"
		args = append(args, *dimension)
	}
	query += " ORDER BY dimension, group_key"

	var summaries []models.GroupSummary
	if err := r.db.SelectContext(ctx, "get_summaries", &summaries, query, args...); err != nil {
		return nil, fmt.Errorf("failed to get summaries: %w", err)
	}

	return summaries, nil
}

// HealthCheck performs a repository health check
func (r *gasExchangeRepository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}

// NotFoundError represents a resource not found error
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

func (e *NotFoundError) IsTransient() bool {
	return false
}
