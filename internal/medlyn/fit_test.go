package medlyn

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// synthetic draws n samples from the model with Gaussian noise of sd noise.
func synthetic(n int, truth Params, noise float64, seed int64) []Sample {
	rng := rand.New(rand.NewSource(seed))
	out := make([]Sample, n)
	for i := range out {
		vpd := 0.5 + 3*rng.Float64()
		photo := 2 + 28*rng.Float64()
		out[i] = Sample{
			VPD:   vpd,
			Photo: photo,
			GsCO2: Predict(truth, vpd, photo) + noise*rng.NormFloat64(),
		}
	}
	return out
}

func TestPredict_KnownRow(t *testing.T) {
	got := Predict(DefaultStart, 1.5, 20)
	assert.InDelta(t, 0.5636, got, 1e-4)
	assert.InDelta(t, 0.0033+(1+12.5/math.Sqrt(1.5))*0.05, got, 1e-12)
}

func TestFit_RecoversSyntheticParameters(t *testing.T) {
	truth := Params{G0: 0.004, G1: 10}
	const noise = 0.0005
	samples := synthetic(1000, truth, noise, 7)

	res, err := Fit(samples, DefaultOptions())
	require.NoError(t, err)

	assert.InEpsilon(t, truth.G0, res.Params.G0, 0.05)
	assert.InEpsilon(t, truth.G1, res.Params.G1, 0.05)
	assert.InEpsilon(t, noise, res.Sigma, 0.10)

	assert.Equal(t, 1000, res.N)
	assert.Equal(t, 0, res.Excluded)
	assert.Equal(t, 998, res.DF)
	assert.Equal(t, DefaultStart, res.Start)
	assert.Greater(t, res.RSquared, 0.99)
	assert.NotEmpty(t, res.Status)

	require.NotNil(t, res.Covariance)
	assert.Greater(t, res.StdErrors.G0, 0.0)
	assert.Greater(t, res.StdErrors.G1, 0.0)
	assert.Less(t, res.PValues.G1, 1e-6)
	assert.InDelta(t, res.Params.G1/res.StdErrors.G1, res.TValues.G1, 1e-9)
}

func TestFit_ExcludesInvalidSamples(t *testing.T) {
	truth := Params{G0: 0.004, G1: 10}
	clean := synthetic(300, truth, 0.0005, 11)

	dirty := append([]Sample{}, clean...)
	dirty = append(dirty,
		Sample{VPD: 0, Photo: 10, GsCO2: 0.2},
		Sample{VPD: -1, Photo: 10, GsCO2: 0.2},
		Sample{VPD: math.NaN(), Photo: 10, GsCO2: 0.2},
		Sample{VPD: 1, Photo: math.NaN(), GsCO2: 0.2},
		Sample{VPD: 1, Photo: 10, GsCO2: math.NaN()},
	)

	want, err := Fit(clean, DefaultOptions())
	require.NoError(t, err)
	got, err := Fit(dirty, DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, 5, got.Excluded)
	assert.Equal(t, 300, got.N)
	assert.InDelta(t, want.Params.G0, got.Params.G0, 1e-9)
	assert.InDelta(t, want.Params.G1, got.Params.G1, 1e-6)
}

func TestFit_AllNonPositiveVPD(t *testing.T) {
	samples := []Sample{
		{VPD: 0, Photo: 10, GsCO2: 0.2},
		{VPD: -0.5, Photo: 12, GsCO2: 0.3},
		{VPD: -2, Photo: 8, GsCO2: 0.1},
	}

	res, err := Fit(samples, DefaultOptions())
	require.Error(t, err)
	assert.Nil(t, res)

	var ce *ConvergenceError
	require.True(t, errors.As(err, &ce))
	assert.True(t, errors.Is(err, ErrNoValidSamples))
	assert.Equal(t, 3, ce.Excluded)
	assert.False(t, ce.IsTransient())
}

func TestFit_EmptyInput(t *testing.T) {
	_, err := Fit(nil, DefaultOptions())
	assert.ErrorIs(t, err, ErrNoValidSamples)
}

func TestFit_InsufficientSamples(t *testing.T) {
	samples := []Sample{
		{VPD: 1, Photo: 10, GsCO2: 0.2},
		{VPD: 2, Photo: 12, GsCO2: 0.3},
	}
	_, err := Fit(samples, DefaultOptions())
	assert.ErrorIs(t, err, ErrInsufficientSamples)
}

func TestFit_IterationBudgetExhausted(t *testing.T) {
	samples := synthetic(200, Params{G0: 0.004, G1: 10}, 0.0005, 3)

	opts := DefaultOptions()
	opts.MaxIterations = 1

	_, err := Fit(samples, opts)
	require.Error(t, err)

	var ce *ConvergenceError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 200, ce.NUsed)
	assert.Contains(t, err.Error(), "medlyn fit failed")
}

func TestFit_ResidualsReproduceObjective(t *testing.T) {
	samples := synthetic(250, Params{G0: 0.004, G1: 10}, 0.001, 5)
	samples = append(samples, Sample{VPD: 0, Photo: 5, GsCO2: 1})

	res, err := Fit(samples, DefaultOptions())
	require.NoError(t, err)

	residuals := Residuals(res.Params, samples)
	require.Len(t, residuals, res.N)

	var ss float64
	for _, r := range residuals {
		ss += r * r
	}
	assert.InDelta(t, res.RSS, ss, 1e-12)
	assert.InDelta(t, res.RSS, RSS(res.Params, samples), 1e-12)
	assert.InDelta(t, math.Sqrt(ss/float64(res.DF)), res.Sigma, 1e-12)
}

func TestFit_CustomStart(t *testing.T) {
	truth := Params{G0: 0.004, G1: 10}
	samples := synthetic(500, truth, 0.0005, 19)

	opts := DefaultOptions()
	opts.Start = Params{G0: 0.05, G1: 2}

	res, err := Fit(samples, opts)
	require.NoError(t, err)
	assert.InEpsilon(t, truth.G1, res.Params.G1, 0.05)
	assert.Equal(t, opts.Start, res.Start)
}

func TestSample_Valid(t *testing.T) {
	tests := []struct {
		name       string
		s          Sample
		valid      bool
		canPredict bool
	}{
		{"complete", Sample{VPD: 1, Photo: 10, GsCO2: 0.2}, true, true},
		{"zero vpd", Sample{VPD: 0, Photo: 10, GsCO2: 0.2}, false, false},
		{"missing gs", Sample{VPD: 1, Photo: 10, GsCO2: math.NaN()}, false, true},
		{"infinite photo", Sample{VPD: 1, Photo: math.Inf(1), GsCO2: 0.2}, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, tt.s.Valid())
			assert.Equal(t, tt.canPredict, tt.s.CanPredict())
		})
	}
}
