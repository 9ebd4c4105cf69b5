package services

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gasexchange-platform/internal/medlyn"
	"gasexchange-platform/internal/models"
	"gasexchange-platform/internal/repository"
	"gasexchange-platform/pkg/logging"
	"gasexchange-platform/pkg/metrics"
)

func seededService(t *testing.T) *GasExchangeService {
	t.Helper()
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.CreateRun(ctx, &models.FitRun{
		ID: "run-1", SourceFile: "a.csv", G0: 0.0033, G1: 12.5, DF: 1, NUsed: 3,
		Status: "GradientThreshold", StartG0: 0.0033, StartG1: 12.5,
		CreatedAt: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	}))
	require.NoError(t, repo.CreateObservationsBatch(ctx, "run-1", []*models.Observation{
		{RowNumber: 1, Season: models.SeasonWet, Progeny: "P1", Position: "A"},
		{RowNumber: 2, Season: models.SeasonDry, Progeny: "P1", Position: "B"},
	}))
	require.NoError(t, repo.ReplaceSummaries(ctx, "run-1", []models.GroupSummary{
		{Dimension: models.DimensionPosition, GroupKey: "A", N: 1},
		{Dimension: models.DimensionPosition, GroupKey: "B", N: 1},
		{Dimension: models.DimensionRank, GroupKey: "17", N: 2},
	}))

	return NewGasExchangeService(repo, logging.Nop(), metrics.NewNopCollector())
}

func TestGasExchangeService_Predict(t *testing.T) {
	svc := seededService(t)

	p, err := svc.Predict(context.Background(), "run-1", 1.5, 20)
	require.NoError(t, err)
	assert.Equal(t, "run-1", p.RunID)
	assert.InDelta(t, 0.5636, p.GsMedlynCO2, 1e-4)
	assert.Equal(t, medlyn.Predict(medlyn.DefaultStart, 1.5, 20), p.GsMedlynCO2)
}

func TestGasExchangeService_PredictValidation(t *testing.T) {
	svc := seededService(t)

	tests := []struct {
		name      string
		vpd       float64
		photo     float64
		wantField string
	}{
		{"zero vpd", 0, 10, "vpd"},
		{"negative vpd", -1, 10, "vpd"},
		{"nan vpd", math.NaN(), 10, "vpd"},
		{"infinite photo", 1, math.Inf(1), "photo"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Predict(context.Background(), "run-1", tt.vpd, tt.photo)
			var ve *models.ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tt.wantField, ve.Field)
		})
	}

	_, err := svc.Predict(context.Background(), "missing", 1, 10)
	var nf *repository.NotFoundError
	assert.True(t, errors.As(err, &nf))
}

func TestGasExchangeService_Reads(t *testing.T) {
	svc := seededService(t)
	ctx := context.Background()

	runs, total, err := svc.ListRuns(ctx, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "run-1", runs[0].ID)

	dry := "dry"
	obs, total, err := svc.GetObservations(ctx, repository.ObservationFilter{RunID: "run-1", Season: &dry, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, 2, obs[0].RowNumber)

	_, _, err = svc.GetObservations(ctx, repository.ObservationFilter{RunID: "missing", Limit: 10})
	var nf *repository.NotFoundError
	assert.True(t, errors.As(err, &nf))

	dim := models.DimensionPosition
	summaries, err := svc.GetSummaries(ctx, "run-1", &dim)
	require.NoError(t, err)
	assert.Len(t, summaries, 2)

	bad := "colour"
	_, err = svc.GetSummaries(ctx, "run-1", &bad)
	var ve *models.ValidationError
	assert.True(t, errors.As(err, &ve))

	assert.NoError(t, svc.HealthCheck(ctx))
}
