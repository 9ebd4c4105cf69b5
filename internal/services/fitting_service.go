package services

import (
	"context"
	"errors"
	"math"
	"time"

	"gasexchange-platform/internal/medlyn"
	"gasexchange-platform/internal/models"
	"gasexchange-platform/pkg/logging"
	"gasexchange-platform/pkg/metrics"
)

// FittingService fits the Medlyn model to cleaned observations and
// evaluates the fitted model back onto them
type FittingService struct {
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
	opts    medlyn.Options
}

// NewFittingService creates a new fitting service
func NewFittingService(logger *logging.StructuredLogger, metricsCollector *metrics.Collector, opts medlyn.Options) *FittingService {
	return &FittingService{
		logger:  logger,
		metrics: metricsCollector,
		opts:    opts,
	}
}

// Fit runs the nonlinear least-squares fit over observations.
// Failures are *medlyn.ConvergenceError.
func (s *FittingService) Fit(ctx context.Context, observations []*models.Observation) (*medlyn.Result, error) {
	timer := s.metrics.NewTimer(s.metrics.FitDuration)

	s.logger.Info(ctx, "[FIT_START] Fitting Medlyn model", logging.Fields{
		"rows":           len(observations),
		"start_g0":       s.opts.Start.G0,
		"start_g1":       s.opts.Start.G1,
		"max_iterations": s.opts.MaxIterations,
		"stage":          "FIT",
	})

	result, err := medlyn.Fit(Samples(observations), s.opts)
	duration := timer.ObserveDuration()

	if err != nil {
		fields := logging.Fields{"duration_ms": duration.Milliseconds(), "stage": "FIT"}
		var ce *medlyn.ConvergenceError
		if errors.As(err, &ce) {
			fields["reason"] = ce.Reason
			fields["status"] = ce.Status
			fields["n_used"] = ce.NUsed
			fields["excluded"] = ce.Excluded
			s.metrics.RecordFit("failed", ce.Iterations, ce.Excluded)
		} else {
			s.metrics.RecordFit("failed", 0, 0)
		}
		s.logger.Error(ctx, "[FIT_ERROR] Medlyn fit failed", fields, err)
		return nil, err
	}

	s.metrics.RecordFit("converged", result.Iterations, result.Excluded)
	s.metrics.SetCoefficients(result.Params.G0, result.Params.G1, result.Sigma)

	s.logger.Info(ctx, "[FIT_COMPLETE] Medlyn model fitted", logging.Fields{
		"g0":          result.Params.G0,
		"g1":          result.Params.G1,
		"sigma":       result.Sigma,
		"rss":         result.RSS,
		"n_used":      result.N,
		"excluded":    result.Excluded,
		"iterations":  result.Iterations,
		"status":      result.Status,
		"duration_ms": duration.Milliseconds(),
		"stage":       "FIT",
	})

	return result, nil
}

// Samples converts observations into fit inputs, using NaN for nulls.
func Samples(observations []*models.Observation) []medlyn.Sample {
	samples := make([]medlyn.Sample, len(observations))
	for i, obs := range observations {
		samples[i] = medlyn.Sample{
			VPD:   valueOrNaN(obs.VPD),
			Photo: valueOrNaN(obs.Photo),
			GsCO2: valueOrNaN(obs.GsCO2),
		}
	}
	return samples
}

// Evaluate sets GsMedlynCO2 on every observation the model is defined for
// (non-null vpd and photo, vpd > 0) and clears it elsewhere. It returns the
// number of predictions made.
func Evaluate(params medlyn.Params, observations []*models.Observation) int {
	predicted := 0
	for _, obs := range observations {
		sample := medlyn.Sample{VPD: valueOrNaN(obs.VPD), Photo: valueOrNaN(obs.Photo)}
		if !sample.CanPredict() {
			obs.GsMedlynCO2 = nil
			continue
		}
		v := medlyn.Predict(params, sample.VPD, sample.Photo)
		obs.GsMedlynCO2 = &v
		predicted++
	}
	return predicted
}

// NewFitRun flattens a fit result into its persisted form.
func NewFitRun(id, source string, result *medlyn.Result, createdAt time.Time) *models.FitRun {
	return &models.FitRun{
		ID:         id,
		SourceFile: source,
		G0:         result.Params.G0,
		G1:         result.Params.G1,
		Sigma:      result.Sigma,
		RSS:        result.RSS,
		G0StdError: finiteOrZero(result.StdErrors.G0),
		G1StdError: finiteOrZero(result.StdErrors.G1),
		G0TValue:   finiteOrZero(result.TValues.G0),
		G1TValue:   finiteOrZero(result.TValues.G1),
		G0PValue:   finiteOrZero(result.PValues.G0),
		G1PValue:   finiteOrZero(result.PValues.G1),
		RSquared:   finiteOrZero(result.RSquared),
		RMSE:       result.RMSE,
		DF:         result.DF,
		NUsed:      result.N,
		NExcluded:  result.Excluded,
		Iterations: result.Iterations,
		Status:     result.Status,
		StartG0:    result.Start.G0,
		StartG1:    result.Start.G1,
		CreatedAt:  createdAt.UTC(),
	}
}

func valueOrNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}

func finiteOrZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
