package services

import (
	"context"

	"gasexchange-platform/internal/models"
	"gasexchange-platform/pkg/logging"
	"gasexchange-platform/pkg/metrics"
)

// CleaningService applies the in-place corrections and derived columns
// that run between loading and fitting
type CleaningService struct {
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// CleaningReport counts what the cleaning pass changed
type CleaningReport struct {
	TranspirationRescaled int
	PositionsMapped       int
	PositionsUnmapped     int
	ConductanceConverted  int
}

// NewCleaningService creates a new cleaning service
func NewCleaningService(logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *CleaningService {
	return &CleaningService{
		logger:  logger,
		metrics: metricsCollector,
	}
}

// Clean corrects transpiration, maps leaflet positions and converts
// conductance to its CO2 equivalent, mutating observations in place.
func (s *CleaningService) Clean(ctx context.Context, observations []*models.Observation) CleaningReport {
	var report CleaningReport

	report.TranspirationRescaled = CorrectTranspiration(observations)
	report.PositionsMapped, report.PositionsUnmapped = AssignRelativePositions(observations)
	report.ConductanceConverted = ConvertConductance(observations)

	s.metrics.RecordCorrection("transpiration_rescaled", report.TranspirationRescaled)
	s.metrics.RecordCorrection("position_unmapped", report.PositionsUnmapped)

	if report.PositionsUnmapped > 0 {
		s.logger.Warn(ctx, "[CLEAN_POSITION_UNMAPPED] Unrecognised leaflet positions left null", logging.Fields{
			"unmapped": report.PositionsUnmapped,
		})
	}

	s.logger.Info(ctx, "[CLEAN_COMPLETE] Cleaning pass finished", logging.Fields{
		"rows":                   len(observations),
		"transpiration_rescaled": report.TranspirationRescaled,
		"positions_mapped":       report.PositionsMapped,
		"positions_unmapped":     report.PositionsUnmapped,
		"conductance_converted":  report.ConductanceConverted,
		"stage":                  "CLEANING",
	})

	return report
}

// CorrectTranspiration divides every non-null transpiration above the
// artifact threshold by the artifact scale and returns how many changed.
func CorrectTranspiration(observations []*models.Observation) int {
	changed := 0
	for _, obs := range observations {
		if obs.Transpiration == nil || *obs.Transpiration <= models.TranspirationArtifactThreshold {
			continue
		}
		v := *obs.Transpiration / models.TranspirationArtifactScale
		obs.Transpiration = &v
		changed++
	}
	return changed
}

// AssignRelativePositions sets RelativePosition from the position label.
// Unrecognised labels leave it nil.
func AssignRelativePositions(observations []*models.Observation) (mapped, unmapped int) {
	for _, obs := range observations {
		label, ok := models.ParsePositionLabel(obs.Position)
		if !ok {
			obs.RelativePosition = nil
			unmapped++
			continue
		}
		rel, _ := label.RelativePosition()
		obs.RelativePosition = &rel
		mapped++
	}
	return mapped, unmapped
}

// ConvertConductance sets GsCO2 = GsH2O / 1.57; a null GsH2O gives a null GsCO2.
func ConvertConductance(observations []*models.Observation) int {
	converted := 0
	for _, obs := range observations {
		if obs.GsH2O == nil {
			obs.GsCO2 = nil
			continue
		}
		v := *obs.GsH2O / models.H2OToCO2Diffusivity
		obs.GsCO2 = &v
		converted++
	}
	return converted
}
