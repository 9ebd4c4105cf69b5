package report

import (
	"bytes"
	"encoding/csv"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"gasexchange-platform/internal/models"
)

func sampleData() *Data {
	date := time.Date(2019, 3, 15, 0, 0, 0, 0, time.UTC)
	return &Data{
		Run: &models.FitRun{
			ID:         "3f1c2b1e-0000-4000-8000-000000000001",
			SourceFile: "gas_exchange.csv",
			G0:         0.0041,
			G1:         10.2,
			Sigma:      0.0123,
			RSS:        0.05,
			G0StdError: 0.0002,
			G1StdError: 0.3,
			DF:         2,
			NUsed:      4,
			NExcluded:  1,
			Iterations: 9,
			Status:     "GradientThreshold",
			StartG0:    0.0033,
			StartG1:    12.5,
			CreatedAt:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		},
		Observations: []*models.Observation{
			{
				RowNumber: 1, Date: &date, Hour: models.Int(10), Frond: "F17", Rank: models.Int(17),
				Position: "B", RelativePosition: models.Float(2.0 / 3.0), Season: models.SeasonWet, Progeny: "P1",
				VPD: models.Float(1.5), GsH2O: models.Float(0.3), GsCO2: models.Float(0.3 / 1.57),
				Photo: models.Float(20), Transpiration: models.Float(4.2), GsMedlynCO2: models.Float(0.5636),
			},
			{
				RowNumber: 2, Frond: "F9a", Position: "Z", Season: models.SeasonDry, Progeny: "P2",
				VPD: models.Float(2.5), GsCO2: models.Float(0.1), Photo: models.Float(12), GsMedlynCO2: models.Float(0.12),
			},
		},
		Summaries: []models.GroupSummary{
			{Dimension: models.DimensionPosition, GroupKey: "B", N: 1, MeanGsCO2: models.Float(0.19)},
			{Dimension: models.DimensionSeasonProgeny, GroupKey: "wet/P1", N: 1, MeanGsCO2: models.Float(0.19)},
		},
		TotalRows:             2,
		NullCounts:            map[string]int{"rank": 1, "date": 1, "hour": 0},
		TranspirationRescaled: 3,
		PositionsUnmapped:     1,
	}
}

func TestMarkdown(t *testing.T) {
	md, err := Markdown(sampleData())
	require.NoError(t, err)
	out := string(md)

	assert.Contains(t, out, "# Medlyn stomatal conductance fit")
	assert.Contains(t, out, ModelFormula)
	assert.Contains(t, out, "| g0 | 0.0033 | 0.0041 | 0.0002 |")
	assert.Contains(t, out, "| g1 | 12.5 | 10.2 | 0.3 |")
	assert.Contains(t, out, "Residual standard error: 0.0123 on 2 degrees of freedom.")
	assert.Contains(t, out, "| Transpiration values rescaled | 3 |")
	assert.Contains(t, out, "| Null `date` | 1 |")
	assert.NotContains(t, out, "Null `hour`")
	assert.Contains(t, out, "## Summary by leaflet position")
	assert.Contains(t, out, "| B | 1 | 0.19 | NA |")
	assert.Contains(t, out, "## Summary by season and progeny")
	assert.Contains(t, out, "![Gs vs VPD](Gs_vs_VPD.png)")

	// null fields listed in name order
	assert.Less(t, strings.Index(out, "Null `date`"), strings.Index(out, "Null `rank`"))
}

func TestSummaryYAML(t *testing.T) {
	raw, err := SummaryYAML(sampleData())
	require.NoError(t, err)

	var got FitSummary
	require.NoError(t, yaml.Unmarshal(raw, &got))
	assert.Equal(t, "gas_exchange.csv", got.Source)
	assert.Equal(t, 0.0041, got.G0.Estimate)
	assert.Equal(t, 0.3, got.G1.StdError)
	assert.Equal(t, 0.0123, got.Sigma)
	assert.Equal(t, map[string]float64{"g0": 0.0033, "g1": 12.5}, got.Start)
	assert.Equal(t, 1, got.NullCounts["rank"])
	assert.True(t, got.CreatedAt.Equal(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)))
}

func TestObservationsCSV(t *testing.T) {
	raw, err := ObservationsCSV(sampleData().Observations)
	require.NoError(t, err)

	records, err := csv.NewReader(bytes.NewReader(raw)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, ObservationColumns, records[0])

	first := records[1]
	assert.Equal(t, "15/03/2019", first[1])
	assert.Equal(t, "17", first[4])
	assert.Equal(t, "0.5636", first[15])

	second := records[2]
	assert.Equal(t, "NA", second[1])
	assert.Equal(t, "NA", second[4])
	assert.Equal(t, "NA", second[6])
	assert.Equal(t, "dry", second[7])
}

func TestPlotsArePNG(t *testing.T) {
	obs := sampleData().Observations

	for name, render := range map[string]func([]*models.Observation) ([]byte, error){
		FileGsVsVPD:             GsVsVPDPlot,
		FilePredictedVsObserved: PredictedVsObservedPlot,
	} {
		t.Run(name, func(t *testing.T) {
			raw, err := render(obs)
			require.NoError(t, err)
			cfg, err := png.DecodeConfig(bytes.NewReader(raw))
			require.NoError(t, err)
			assert.Greater(t, cfg.Width, 0)
		})
	}
}

func TestBuild(t *testing.T) {
	artifacts, err := Build(sampleData())
	require.NoError(t, err)

	var names []string
	for _, a := range artifacts {
		names = append(names, a.Name)
		assert.NotEmpty(t, a.Body, a.Name)
		assert.NotEmpty(t, a.ContentType, a.Name)
	}
	assert.ElementsMatch(t, []string{
		FileReport, FileFitSummary, FileObservations, FileGsVsVPD, FilePredictedVsObserved,
	}, names)
}

func TestRenderTerminal(t *testing.T) {
	out, err := RenderTerminal([]byte("# Title\n\nSome **bold** text."), 60)
	require.NoError(t, err)
	assert.Contains(t, out, "Title")
	assert.Contains(t, out, "bold")
}
