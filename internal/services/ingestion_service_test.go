package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gasexchange-platform/internal/models"
	"gasexchange-platform/pkg/logging"
	"gasexchange-platform/pkg/metrics"
)

const sampleFile = "../../testdata/sample_gas_exchange.csv"

func newIngestion(opts models.ConversionOptions) *IngestionService {
	return NewIngestionService(logging.Nop(), metrics.NewNopCollector(), opts)
}

func TestIngestionService_LoadFile(t *testing.T) {
	result, err := newIngestion(models.ConversionOptions{}).LoadFile(context.Background(), sampleFile)
	require.NoError(t, err)

	assert.Equal(t, 41, result.TotalRows)
	assert.Len(t, result.Observations, 41)
	assert.Zero(t, result.RaggedRows)
	assert.Equal(t, map[string]int{"date": 1, "rank": 1, "vpd": 1, "gs_h2o": 1}, result.NullCounts)

	last := result.Observations[40]
	assert.Equal(t, 41, last.RowNumber)
	assert.Equal(t, time.Date(2019, 3, 15, 0, 0, 0, 0, time.UTC), *last.Date)
	assert.Equal(t, 10, *last.Hour)
	assert.Equal(t, 17, *last.Rank)
	assert.Equal(t, "T1", last.Tree)
	assert.Equal(t, models.SeasonWet, last.Season)
	assert.Equal(t, 1.5, *last.VPD)
	assert.Equal(t, 0.3, *last.GsH2O)
	assert.Nil(t, last.GsCO2, "conversion happens after loading")
}

func TestIngestionService_Load(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		opts      models.ConversionOptions
		wantErr   bool
		wantRows  int
		wantNulls map[string]int
		check     func(*testing.T, *LoadResult, error)
	}{
		{
			name: "header with BOM, padding and extra columns",
			input: "\ufeffDate, HHMMSS,Frond,Position,Season,Progeny,VpdL,gs,Photo,trans,Comment\n" +
				"01/02/2020,07:30:00,F3,A,dry,P7,2.0,0.2,10,3,ok\n",
			wantRows:  1,
			wantNulls: map[string]int{},
			check: func(t *testing.T, r *LoadResult, _ error) {
				obs := r.Observations[0]
				assert.Equal(t, 7, *obs.Hour)
				assert.Equal(t, models.SeasonDry, obs.Season)
				assert.Equal(t, "", obs.Tree)
			},
		},
		{
			name: "null tokens and malformed cells",
			input: "Date,HHMMSS,Frond,Position,Season,Progeny,VpdL,gs,Photo,trans\n" +
				"NA,bad,Fx,B,wet,P1,NA,NaN,,abc\n",
			wantRows: 1,
			wantNulls: map[string]int{
				"date": 1, "hour": 1, "rank": 1, "vpd": 1, "gs_h2o": 1, "photo": 1, "transpiration": 1,
			},
		},
		{
			name: "stray quote in a numeric cell",
			input: "Date,HHMMSS,Frond,Position,Season,Progeny,VpdL,gs,Photo,trans\n" +
				"01/02/2020,07:30:00,F3,A,dry,P7,2.0,0.2,10,3\n" +
				"01/02/2020,08:30:00,F4,B,dry,P7,1.5,0.25 \"x,12,3\n" +
				"01/02/2020,09:30:00,F5,B,wet,P7,1.2,0.3,14,3\n",
			wantRows:  3,
			wantNulls: map[string]int{"gs_h2o": 1},
			check: func(t *testing.T, r *LoadResult, _ error) {
				assert.Nil(t, r.Observations[1].GsH2O)
				assert.Equal(t, 12.0, *r.Observations[1].Photo)
				assert.Equal(t, 0.3, *r.Observations[2].GsH2O)
			},
		},
		{
			name: "short and blank rows",
			input: "Date,HHMMSS,Frond,Position,Season,Progeny,VpdL,gs,Photo,trans\n" +
				"01/02/2020,07:30:00,F3,A\n" +
				",,,,,,,,,\n" +
				"\n" +
				"02/02/2020,07:30:00,F4,B,wet,P1,1,0.1,5,2\n",
			wantRows:  2,
			wantNulls: map[string]int{"vpd": 1, "gs_h2o": 1, "photo": 1, "transpiration": 1},
			check: func(t *testing.T, r *LoadResult, _ error) {
				assert.Equal(t, 1, r.RaggedRows)
				assert.Equal(t, 2, r.Observations[1].RowNumber)
			},
		},
		{
			name:    "missing required columns",
			input:   "Date,HHMMSS,Frond,Position,Season,Progeny,VpdL,gs\n",
			wantErr: true,
			check: func(t *testing.T, _ *LoadResult, err error) {
				var ve *models.ValidationError
				require.True(t, errors.As(err, &ve))
				assert.Contains(t, ve.Message, "Photo, trans")
			},
		},
		{
			name:    "empty input",
			input:   "",
			wantErr: true,
			check: func(t *testing.T, _ *LoadResult, err error) {
				var ve *models.ValidationError
				assert.True(t, errors.As(err, &ve))
			},
		},
		{
			name: "strict rank",
			input: "Date,HHMMSS,Frond,Position,Season,Progeny,VpdL,gs,Photo,trans\n" +
				"01/02/2020,07:30:00,F3,A,dry,P7,2.0,0.2,10,3\n" +
				"01/02/2020,07:30:00,F9a,A,dry,P7,2.0,0.2,10,3\n",
			opts:    models.ConversionOptions{StrictRank: true},
			wantErr: true,
			check: func(t *testing.T, _ *LoadResult, err error) {
				var pe *models.ParseError
				require.True(t, errors.As(err, &pe))
				assert.Equal(t, 2, pe.Row)
				assert.Equal(t, "F9a", pe.Value)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := newIngestion(tt.opts).Load(context.Background(), strings.NewReader(tt.input), "test.csv")
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantRows, result.TotalRows)
				assert.Equal(t, tt.wantNulls, result.NullCounts)
			}
			if tt.check != nil {
				tt.check(t, result, err)
			}
		})
	}
}

func TestIngestionService_LoadFileMissing(t *testing.T) {
	_, err := newIngestion(models.ConversionOptions{}).LoadFile(context.Background(), "does-not-exist.csv")
	assert.Error(t, err)
}
