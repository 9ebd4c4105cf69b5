package medlyn

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

const (
	defaultMaxIterations     = 200
	defaultGradientThreshold = 1e-12

	// a solver error is forgiven when the gradient has already shrunk this much
	precisionLimitRatio = 1e-8
)

// Options configure a fit.
type Options struct {
	Start             Params
	MaxIterations     int
	GradientThreshold float64
}

// DefaultOptions starts from DefaultStart with the default iteration budget.
func DefaultOptions() Options {
	return Options{
		Start:             DefaultStart,
		MaxIterations:     defaultMaxIterations,
		GradientThreshold: defaultGradientThreshold,
	}
}

// Result holds the fitted coefficients and their diagnostics.
type Result struct {
	Params Params `json:"params" yaml:"params"`
	Start  Params `json:"start" yaml:"start"`

	// Sigma is the residual standard error sqrt(RSS / DF).
	Sigma float64 `json:"sigma" yaml:"sigma"`
	// RSS is the minimised residual sum of squares.
	RSS  float64 `json:"rss" yaml:"rss"`
	RMSE float64 `json:"rmse" yaml:"rmse"`
	// RSquared compares fitted and observed conductance.
	RSquared float64 `json:"r_squared" yaml:"r_squared"`
	DF       int     `json:"df" yaml:"df"`
	N        int     `json:"n" yaml:"n"`
	Excluded int     `json:"excluded" yaml:"excluded"`

	StdErrors Params `json:"std_errors" yaml:"std_errors"`
	TValues   Params `json:"t_values" yaml:"t_values"`
	PValues   Params `json:"p_values" yaml:"p_values"`
	// Covariance is nil when J'J is singular.
	Covariance *mat.SymDense `json:"-" yaml:"-"`

	Iterations      int    `json:"iterations" yaml:"iterations"`
	FuncEvaluations int    `json:"func_evaluations" yaml:"func_evaluations"`
	Status          string `json:"status" yaml:"status"`
}

// Fit estimates g0 and g1 by nonlinear least squares.
//
// Samples failing Valid are excluded, not zero-filled. The objective is the
// mean squared residual, minimised by BFGS with an analytic gradient.
func Fit(samples []Sample, opts Options) (*Result, error) {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = defaultMaxIterations
	}
	if opts.GradientThreshold <= 0 {
		opts.GradientThreshold = defaultGradientThreshold
	}

	valid := ValidSamples(samples)
	excluded := len(samples) - len(valid)

	if len(valid) == 0 {
		return nil, &ConvergenceError{
			Reason:   "every sample was excluded",
			Excluded: excluded,
			Err:      ErrNoValidSamples,
		}
	}
	if len(valid) <= NumParams {
		return nil, &ConvergenceError{
			Reason:   "fewer samples than parameters plus one",
			NUsed:    len(valid),
			Excluded: excluded,
			Err:      ErrInsufficientSamples,
		}
	}

	n := float64(len(valid))
	objective := func(x []float64) float64 {
		return RSS(Params{G0: x[0], G1: x[1]}, valid) / n
	}
	gradient := func(grad, x []float64) {
		p := Params{G0: x[0], G1: x[1]}
		grad[0], grad[1] = 0, 0
		for _, s := range valid {
			r := Predict(p, s.VPD, s.Photo) - s.GsCO2
			grad[0] += r
			grad[1] += r * photoTerm(s)
		}
		grad[0] *= 2 / n
		grad[1] *= 2 / n
	}

	start := []float64{opts.Start.G0, opts.Start.G1}
	startGrad := make([]float64, NumParams)
	gradient(startGrad, start)

	problem := optimize.Problem{Func: objective, Grad: gradient}
	settings := &optimize.Settings{
		MajorIterations:   opts.MaxIterations,
		GradientThreshold: opts.GradientThreshold,
	}

	res, err := optimize.Minimize(problem, start, settings, &optimize.BFGS{})
	if res == nil {
		return nil, &ConvergenceError{
			Reason:   "solver returned no result",
			NUsed:    len(valid),
			Excluded: excluded,
			Err:      err,
		}
	}

	status := res.Status.String()
	if err != nil {
		// Line searches give up once the objective stops changing in the last
		// bits; that is a converged fit if the gradient has collapsed.
		finalGrad := make([]float64, NumParams)
		gradient(finalGrad, res.X)
		if floats.Norm(finalGrad, math.Inf(1)) > precisionLimitRatio*floats.Norm(startGrad, math.Inf(1)) {
			return nil, &ConvergenceError{
				Reason:     "solver error",
				Status:     status,
				Iterations: res.Stats.MajorIterations,
				NUsed:      len(valid),
				Excluded:   excluded,
				Err:        err,
			}
		}
		status = "PrecisionLimit"
	} else if !converged(res.Status) {
		return nil, &ConvergenceError{
			Reason:     "iteration budget exhausted or solver gave up",
			Status:     status,
			Iterations: res.Stats.MajorIterations,
			NUsed:      len(valid),
			Excluded:   excluded,
			Err:        ErrNotConverged,
		}
	}

	params := Params{G0: res.X[0], G1: res.X[1]}
	if !finite(params.G0) || !finite(params.G1) {
		return nil, &ConvergenceError{
			Reason:     "solver produced non-finite coefficients",
			Status:     status,
			Iterations: res.Stats.MajorIterations,
			NUsed:      len(valid),
			Excluded:   excluded,
			Err:        ErrNotConverged,
		}
	}

	result := &Result{
		Params:          params,
		Start:           opts.Start,
		N:               len(valid),
		Excluded:        excluded,
		DF:              len(valid) - NumParams,
		Iterations:      res.Stats.MajorIterations,
		FuncEvaluations: res.Stats.FuncEvaluations,
		Status:          status,
	}
	result.describe(valid)

	return result, nil
}

func converged(s optimize.Status) bool {
	switch s {
	case optimize.Success, optimize.GradientThreshold, optimize.FunctionConvergence, optimize.FunctionThreshold:
		return true
	}
	return false
}

// describe fills the residual and inference statistics, following the usual
// nonlinear-regression conventions (covariance sigma^2 (J'J)^-1, Student t).
func (r *Result) describe(valid []Sample) {
	observed := make([]float64, len(valid))
	predicted := make([]float64, len(valid))
	var sumJ, sumJ2 float64
	for i, s := range valid {
		observed[i] = s.GsCO2
		predicted[i] = Predict(r.Params, s.VPD, s.Photo)
		j := photoTerm(s)
		sumJ += j
		sumJ2 += j * j
	}

	r.RSS = RSS(r.Params, valid)
	r.Sigma = math.Sqrt(r.RSS / float64(r.DF))
	r.RMSE = math.Sqrt(r.RSS / float64(r.N))
	r.RSquared = stat.RSquaredFrom(predicted, observed, nil)

	jtj := mat.NewDense(NumParams, NumParams, []float64{
		float64(len(valid)), sumJ,
		sumJ, sumJ2,
	})
	var inv mat.Dense
	if err := inv.Inverse(jtj); err != nil {
		return
	}

	s2 := r.Sigma * r.Sigma
	cov := mat.NewSymDense(NumParams, []float64{
		s2 * inv.At(0, 0), s2 * inv.At(0, 1),
		s2 * inv.At(1, 0), s2 * inv.At(1, 1),
	})
	r.Covariance = cov
	r.StdErrors = Params{G0: math.Sqrt(cov.At(0, 0)), G1: math.Sqrt(cov.At(1, 1))}

	if r.StdErrors.G0 > 0 && r.StdErrors.G1 > 0 {
		r.TValues = Params{G0: r.Params.G0 / r.StdErrors.G0, G1: r.Params.G1 / r.StdErrors.G1}
		t := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(r.DF)}
		r.PValues = Params{
			G0: 2 * (1 - t.CDF(math.Abs(r.TValues.G0))),
			G1: 2 * (1 - t.CDF(math.Abs(r.TValues.G1))),
		}
	}
}
