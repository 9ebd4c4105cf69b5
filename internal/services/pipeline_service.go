package services

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	"gasexchange-platform/internal/artifacts"
	"gasexchange-platform/internal/medlyn"
	"gasexchange-platform/internal/models"
	"gasexchange-platform/internal/report"
	"gasexchange-platform/internal/repository"
	"gasexchange-platform/pkg/logging"
	"gasexchange-platform/pkg/metrics"
)

// PipelineService runs load, clean, convert, fit, evaluate and report over
// one input table
type PipelineService struct {
	ingestion *IngestionService
	cleaning  *CleaningService
	fitting   *FittingService
	summary   *SummaryService
	repo      repository.GasExchangeRepository
	store     artifacts.Store
	logger    *logging.StructuredLogger
	metrics   *metrics.Collector

	now   func() time.Time
	newID func() string
}

// PipelineResult contains everything one run produced
type PipelineResult struct {
	Run       *models.FitRun
	Fit       *medlyn.Result
	Load      *LoadResult
	Cleaning  CleaningReport
	Predicted int
	Summaries []models.GroupSummary
	Report    []byte
	Artifacts map[string]string
	Persisted bool
	Duration  time.Duration
}

// NewPipelineService wires the pipeline stages. repo and store may be nil,
// in which case the run is neither persisted nor published.
func NewPipelineService(
	ingestion *IngestionService,
	cleaning *CleaningService,
	fitting *FittingService,
	summary *SummaryService,
	repo repository.GasExchangeRepository,
	store artifacts.Store,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *PipelineService {
	return &PipelineService{
		ingestion: ingestion,
		cleaning:  cleaning,
		fitting:   fitting,
		summary:   summary,
		repo:      repo,
		store:     store,
		logger:    logger,
		metrics:   metricsCollector,
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}
}

// RunFile runs the pipeline over a file on disk
func (s *PipelineService) RunFile(ctx context.Context, path string) (*PipelineResult, error) {
	file, err := os.Open(path)
	if err != nil {
		s.metrics.RecordIngestionError("file_error")
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	return s.Run(ctx, file, path)
}

// Run loads r and processes it
func (s *PipelineService) Run(ctx context.Context, r io.Reader, source string) (*PipelineResult, error) {
	load, err := s.ingestion.Load(ctx, r, source)
	if err != nil {
		return nil, fmt.Errorf("load failed: %w", err)
	}
	return s.Process(ctx, load)
}

// Process runs every stage after loading. A fit failure aborts the run
// before anything is persisted or published.
func (s *PipelineService) Process(ctx context.Context, load *LoadResult) (*PipelineResult, error) {
	startTime := s.now()
	runID := s.newID()
	ctx = logging.WithRequestID(ctx, runID)

	s.logger.Info(ctx, "[PIPELINE_START] Processing gas-exchange table", logging.Fields{
		"run_id": runID,
		"source": load.Source,
		"rows":   len(load.Observations),
		"stage":  "INITIALIZATION",
	})

	result := &PipelineResult{Load: load}
	observations := load.Observations

	result.Cleaning = s.cleaning.Clean(ctx, observations)

	fit, err := s.fitting.Fit(ctx, observations)
	if err != nil {
		return nil, fmt.Errorf("fit step failed: %w", err)
	}
	result.Fit = fit

	result.Predicted = Evaluate(fit.Params, observations)
	result.Summaries = s.summary.Summarize(ctx, observations)
	result.Run = NewFitRun(runID, load.Source, fit, startTime)

	data := &report.Data{
		Run:                   result.Run,
		Observations:          observations,
		Summaries:             result.Summaries,
		TotalRows:             load.TotalRows,
		NullCounts:            load.NullCounts,
		TranspirationRescaled: result.Cleaning.TranspirationRescaled,
		PositionsUnmapped:     result.Cleaning.PositionsUnmapped,
	}

	// stored before publishing; a failed publish removes the stored run
	if s.repo != nil {
		if err := s.persist(ctx, result); err != nil {
			return nil, err
		}
		result.Persisted = true
	}

	if s.store != nil {
		locations, md, err := s.publish(ctx, data)
		if err != nil {
			if result.Persisted {
				s.discard(ctx, runID)
			}
			return nil, err
		}
		result.Artifacts = locations
		result.Report = md
	} else {
		md, err := report.Markdown(data)
		if err != nil {
			return nil, err
		}
		result.Report = md
	}

	result.Duration = time.Since(startTime)

	s.logger.Info(ctx, "[PIPELINE_COMPLETE] Run finished", logging.Fields{
		"run_id":      runID,
		"g0":          fit.Params.G0,
		"g1":          fit.Params.G1,
		"sigma":       fit.Sigma,
		"predicted":   result.Predicted,
		"artifacts":   len(result.Artifacts),
		"persisted":   result.Persisted,
		"duration_ms": result.Duration.Milliseconds(),
		"stage":       "COMPLETE",
	})

	return result, nil
}

func (s *PipelineService) publish(ctx context.Context, data *report.Data) (map[string]string, []byte, error) {
	built, err := report.Build(data)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build report: %w", err)
	}

	locations := make(map[string]string, len(built))
	var md []byte
	for _, a := range built {
		loc, err := s.store.Put(ctx, a.Name, a.Body, a.ContentType)
		if err != nil {
			s.logger.Error(ctx, "[ARTIFACT_ERROR] Failed to store artifact", logging.Fields{
				"artifact": a.Name,
				"driver":   s.store.Driver(),
			}, err)
			return nil, nil, fmt.Errorf("failed to store %s: %w", a.Name, err)
		}
		locations[a.Name] = loc
		if a.Name == report.FileReport {
			md = a.Body
		}
	}

	s.logger.Info(ctx, "[ARTIFACT_COMPLETE] Artifacts stored", logging.Fields{
		"count":  len(locations),
		"driver": s.store.Driver(),
		"stage":  "REPORT",
	})

	return locations, md, nil
}

func (s *PipelineService) persist(ctx context.Context, result *PipelineResult) error {
	runID := result.Run.ID

	if err := s.repo.CreateRun(ctx, result.Run); err != nil {
		return fmt.Errorf("failed to persist run: %w", err)
	}

	if err := s.repo.CreateObservationsBatch(ctx, runID, result.Load.Observations); err != nil {
		s.discard(ctx, runID)
		return fmt.Errorf("failed to persist observations: %w", err)
	}

	for i := range result.Summaries {
		result.Summaries[i].RunID = runID
	}
	if err := s.repo.ReplaceSummaries(ctx, runID, result.Summaries); err != nil {
		s.discard(ctx, runID)
		return fmt.Errorf("failed to persist summaries: %w", err)
	}

	s.logger.Info(ctx, "[PERSIST_COMPLETE] Run stored", logging.Fields{
		"run_id":       runID,
		"observations": len(result.Load.Observations),
		"summaries":    len(result.Summaries),
		"stage":        "PERSIST",
	})

	return nil
}

// discard removes a partially stored run.
func (s *PipelineService) discard(ctx context.Context, runID string) {
	if err := s.repo.DeleteRun(ctx, runID); err != nil {
		s.logger.Warn(ctx, "[PERSIST_ROLLBACK_FAILED] Partial run left in store", logging.Fields{
			"run_id": runID,
			"error":  err.Error(),
		})
	}
}
