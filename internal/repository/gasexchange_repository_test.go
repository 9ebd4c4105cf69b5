package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gasexchange-platform/internal/models"
	"gasexchange-platform/migrations"
	"gasexchange-platform/pkg/database"
	"gasexchange-platform/pkg/logging"
	"gasexchange-platform/pkg/metrics"
)

func newTestRepository(t *testing.T) GasExchangeRepository {
	t.Helper()
	db, err := database.Open(&database.Config{
		Driver: database.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "repo.db"),
	}, logging.Nop(), metrics.NewNopCollector())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Migrate(context.Background(), migrations.Up)
	require.NoError(t, err)

	return NewGasExchangeRepository(db, logging.Nop(), metrics.NewNopCollector())
}

func testRun(id string, createdAt time.Time) *models.FitRun {
	return &models.FitRun{
		ID:         id,
		SourceFile: "gas_exchange.csv",
		G0:         0.004,
		G1:         11.8,
		Sigma:      0.021,
		RSS:        0.35,
		G0StdError: 0.001,
		G1StdError: 0.4,
		RSquared:   0.71,
		RMSE:       0.02,
		DF:         798,
		NUsed:      800,
		NExcluded:  12,
		Iterations: 17,
		Status:     "GradientThreshold",
		StartG0:    0.0033,
		StartG1:    12.5,
		CreatedAt:  createdAt,
	}
}

func testObservations() []*models.Observation {
	date := time.Date(2019, 3, 15, 0, 0, 0, 0, time.UTC)
	return []*models.Observation{
		{
			RowNumber:        1,
			Date:             &date,
			Hour:             models.Int(10),
			Frond:            "F17",
			Rank:             models.Int(17),
			Position:         "B",
			RelativePosition: models.Float(2.0 / 3.0),
			Season:           models.SeasonWet,
			Progeny:          "P1",
			VPD:              models.Float(1.5),
			GsH2O:            models.Float(0.3),
			GsCO2:            models.Float(0.3 / 1.57),
			Photo:            models.Float(20),
			Transpiration:    models.Float(4.2),
			GsMedlynCO2:      models.Float(0.5636),
		},
		{
			RowNumber: 2,
			Frond:     "F9a",
			Position:  "Z",
			Season:    models.SeasonDry,
			Progeny:   "P2",
			VPD:       models.Float(-0.2),
		},
		{
			RowNumber: 3,
			Position:  "A",
			Season:    models.SeasonWet,
			Progeny:   "P2",
			Photo:     models.Float(12),
		},
	}
}

func TestRepository_RunRoundTrip(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	run := testRun("run-1", created)
	require.NoError(t, repo.CreateRun(ctx, run))

	got, err := repo.GetRun(ctx, "run-1")
	require.NoError(t, err)
	if diff := cmp.Diff(run, got); diff != "" {
		t.Errorf("GetRun mismatch (-want +got):\n%s", diff)
	}

	// runs are immutable
	assert.Error(t, repo.CreateRun(ctx, run))
}

func TestRepository_GetRunNotFound(t *testing.T) {
	repo := newTestRepository(t)

	_, err := repo.GetRun(context.Background(), "missing")
	var nf *NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "fit_run", nf.Resource)
	assert.False(t, nf.IsTransient())
}

func TestRepository_ListRunsNewestFirst(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, repo.CreateRun(ctx, testRun(id, base.Add(time.Duration(i)*time.Hour))))
	}

	runs, total, err := repo.ListRuns(ctx, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, "b", runs[1].ID)

	runs, _, err = repo.ListRuns(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "a", runs[0].ID)
}

func TestRepository_ObservationsRoundTrip(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	require.NoError(t, repo.CreateRun(ctx, testRun("run-1", time.Now().UTC())))

	want := testObservations()
	require.NoError(t, repo.CreateObservationsBatch(ctx, "run-1", want))

	got, total, err := repo.GetObservations(ctx, ObservationFilter{RunID: "run-1", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(models.Observation{}, "ID")); diff != "" {
		t.Errorf("observations mismatch (-want +got):\n%s", diff)
	}
}

func TestRepository_GetObservationsFilters(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	require.NoError(t, repo.CreateRun(ctx, testRun("run-1", time.Now().UTC())))
	require.NoError(t, repo.CreateObservationsBatch(ctx, "run-1", testObservations()))

	wet := "wet"
	p2 := "P2"
	posA := "A"

	tests := []struct {
		name     string
		filter   ObservationFilter
		wantRows []int
		wantTot  int
	}{
		{"season", ObservationFilter{RunID: "run-1", Season: &wet, Limit: 10}, []int{1, 3}, 2},
		{"progeny", ObservationFilter{RunID: "run-1", Progeny: &p2, Limit: 10}, []int{2, 3}, 2},
		{"season and progeny", ObservationFilter{RunID: "run-1", Season: &wet, Progeny: &p2, Limit: 10}, []int{3}, 1},
		{"position", ObservationFilter{RunID: "run-1", Position: &posA, Limit: 10}, []int{3}, 1},
		{"pagination", ObservationFilter{RunID: "run-1", Limit: 1, Offset: 1}, []int{2}, 3},
		{"other run", ObservationFilter{RunID: "run-2", Limit: 10}, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, total, err := repo.GetObservations(ctx, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.wantTot, total)

			var rows []int
			for _, o := range got {
				rows = append(rows, o.RowNumber)
			}
			assert.Equal(t, tt.wantRows, rows)
		})
	}
}

func TestRepository_ObservationsRequireRun(t *testing.T) {
	repo := newTestRepository(t)

	err := repo.CreateObservationsBatch(context.Background(), "no-such-run", testObservations())
	assert.Error(t, err)
}

func TestRepository_ReplaceSummaries(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	require.NoError(t, repo.CreateRun(ctx, testRun("run-1", time.Now().UTC())))

	first := []models.GroupSummary{
		{Dimension: models.DimensionPosition, GroupKey: "A", N: 4, MeanGsCO2: models.Float(0.2)},
		{Dimension: models.DimensionRank, GroupKey: "17", N: 2, MeanGsCO2: models.Float(0.1), SdGsCO2: models.Float(0.01)},
	}
	require.NoError(t, repo.ReplaceSummaries(ctx, "run-1", first))

	second := []models.GroupSummary{
		{Dimension: models.DimensionSeasonProgeny, GroupKey: "wet/P1", N: 3, MeanPhoto: models.Float(18)},
		{Dimension: models.DimensionRank, GroupKey: "9", N: 1},
	}
	require.NoError(t, repo.ReplaceSummaries(ctx, "run-1", second))

	all, err := repo.GetSummaries(ctx, "run-1", nil)
	require.NoError(t, err)
	require.Len(t, all, 2)

	dim := models.DimensionRank
	ranks, err := repo.GetSummaries(ctx, "run-1", &dim)
	require.NoError(t, err)
	want := []models.GroupSummary{{RunID: "run-1", Dimension: models.DimensionRank, GroupKey: "9", N: 1}}
	if diff := cmp.Diff(want, ranks); diff != "" {
		t.Errorf("rank summaries mismatch (-want +got):\n%s", diff)
	}
}

func TestRepository_DeleteRunCascades(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	require.NoError(t, repo.CreateRun(ctx, testRun("run-1", time.Now().UTC())))
	require.NoError(t, repo.CreateObservationsBatch(ctx, "run-1", testObservations()))
	require.NoError(t, repo.ReplaceSummaries(ctx, "run-1", []models.GroupSummary{
		{Dimension: models.DimensionPosition, GroupKey: "A", N: 1},
	}))

	require.NoError(t, repo.DeleteRun(ctx, "run-1"))

	_, total, err := repo.GetObservations(ctx, ObservationFilter{RunID: "run-1", Limit: 10})
	require.NoError(t, err)
	assert.Zero(t, total)

	summaries, err := repo.GetSummaries(ctx, "run-1", nil)
	require.NoError(t, err)
	assert.Empty(t, summaries)

	var nf *NotFoundError
	assert.True(t, errors.As(repo.DeleteRun(ctx, "run-1"), &nf))
}

func TestRepository_HealthCheck(t *testing.T) {
	repo := newTestRepository(t)
	assert.NoError(t, repo.HealthCheck(context.Background()))
}
