package services

import (
	"context"
	"strconv"

	"gasexchange-platform/internal/medlyn"
	"gasexchange-platform/internal/models"
	"gasexchange-platform/internal/repository"
	"gasexchange-platform/pkg/logging"
	"gasexchange-platform/pkg/metrics"
)

// GasExchangeService serves stored runs, observations and summaries
type GasExchangeService struct {
	repo    repository.GasExchangeRepository
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewGasExchangeService creates a new read-side service
func NewGasExchangeService(repo repository.GasExchangeRepository, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *GasExchangeService {
	return &GasExchangeService{
		repo:    repo,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// ListRuns retrieves stored runs, newest first
func (s *GasExchangeService) ListRuns(ctx context.Context, limit, offset int) ([]*models.FitRun, int, error) {
	return s.repo.ListRuns(ctx, limit, offset)
}

// GetRun retrieves one run
func (s *GasExchangeService) GetRun(ctx context.Context, runID string) (*models.FitRun, error) {
	return s.repo.GetRun(ctx, runID)
}

// GetObservations retrieves the fitted observations of a run
func (s *GasExchangeService) GetObservations(ctx context.Context, filter repository.ObservationFilter) ([]*models.Observation, int, error) {
	if _, err := s.repo.GetRun(ctx, filter.RunID); err != nil {
		return nil, 0, err
	}
	return s.repo.GetObservations(ctx, filter)
}

// GetSummaries retrieves the group summaries of a run
func (s *GasExchangeService) GetSummaries(ctx context.Context, runID string, dimension *string) ([]models.GroupSummary, error) {
	if dimension != nil {
		if _, ok := Dimensions[*dimension]; !ok {
			return nil, &models.ValidationError{
				Field:   "dimension",
				Value:   *dimension,
				Message: "must be one of season_progeny, position, rank",
			}
		}
	}
	if _, err := s.repo.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	return s.repo.GetSummaries(ctx, runID, dimension)
}

// Prediction is a model evaluation with a stored run's coefficients
type Prediction struct {
	RunID       string  `json:"run_id"`
	VPD         float64 `json:"vpd"`
	Photo       float64 `json:"photo"`
	GsMedlynCO2 float64 `json:"gs_medlyn_co2"`
}

// Predict evaluates the Medlyn model of a stored run at (vpd, photo)
func (s *GasExchangeService) Predict(ctx context.Context, runID string, vpd, photo float64) (*Prediction, error) {
	if !(medlyn.Sample{VPD: vpd, Photo: 0}).CanPredict() {
		return nil, &models.ValidationError{
			Field:   "vpd",
			Value:   strconv.FormatFloat(vpd, 'g', -1, 64),
			Message: "must be a positive finite number",
		}
	}
	if !(medlyn.Sample{VPD: vpd, Photo: photo}).CanPredict() {
		return nil, &models.ValidationError{
			Field:   "photo",
			Value:   strconv.FormatFloat(photo, 'g', -1, 64),
			Message: "must be a finite number",
		}
	}

	run, err := s.repo.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	params := medlyn.Params{G0: run.G0, G1: run.G1}
	return &Prediction{
		RunID:       run.ID,
		VPD:         vpd,
		Photo:       photo,
		GsMedlynCO2: medlyn.Predict(params, vpd, photo),
	}, nil
}

// HealthCheck checks the backing store
func (s *GasExchangeService) HealthCheck(ctx context.Context) error {
	return s.repo.HealthCheck(ctx)
}
