// Package medlyn fits the Medlyn et al. (2011) stomatal conductance model
//
//	gs = g0 + (1 + g1/sqrt(D)) * A/Ca
//
// to leaf gas-exchange data, with D the vapour pressure deficit (kPa),
// A net photosynthesis and Ca fixed at ReferenceCO2.
package medlyn

import "math"

// ReferenceCO2 is the atmospheric CO2 concentration used as Ca.
const ReferenceCO2 = 400.0

// NumParams is the number of fitted coefficients.
const NumParams = 2

// Params are the two model coefficients.
type Params struct {
	G0 float64 `json:"g0" yaml:"g0"`
	G1 float64 `json:"g1" yaml:"g1"`
}

// DefaultStart is the starting point used unless the caller overrides it.
var DefaultStart = Params{G0: 0.0033, G1: 12.5}

// Predict evaluates the model at one point. vpd must be positive.
func Predict(p Params, vpd, photo float64) float64 {
	return p.G0 + (1+p.G1/math.Sqrt(vpd))*(photo/ReferenceCO2)
}

// Sample is one fit input. NaN marks a null value.
type Sample struct {
	VPD   float64
	Photo float64
	GsCO2 float64
}

// Valid reports whether the sample can enter the fit: all values finite and vpd > 0.
func (s Sample) Valid() bool {
	return finite(s.VPD) && finite(s.Photo) && finite(s.GsCO2) && s.VPD > 0
}

// CanPredict reports whether the model is defined for the sample's inputs,
// regardless of the observed conductance.
func (s Sample) CanPredict() bool {
	return finite(s.VPD) && finite(s.Photo) && s.VPD > 0
}

// ValidSamples returns the samples that pass Valid, preserving order.
func ValidSamples(samples []Sample) []Sample {
	out := make([]Sample, 0, len(samples))
	for _, s := range samples {
		if s.Valid() {
			out = append(out, s)
		}
	}
	return out
}

// Residuals returns observed minus predicted conductance for every valid sample.
func Residuals(p Params, samples []Sample) []float64 {
	out := make([]float64, 0, len(samples))
	for _, s := range samples {
		if !s.Valid() {
			continue
		}
		out = append(out, s.GsCO2-Predict(p, s.VPD, s.Photo))
	}
	return out
}

// RSS is the residual sum of squares over the valid samples.
func RSS(p Params, samples []Sample) float64 {
	var sum float64
	for _, r := range Residuals(p, samples) {
		sum += r * r
	}
	return sum
}

// photoTerm is d(prediction)/d(g1).
func photoTerm(s Sample) float64 {
	return s.Photo / (ReferenceCO2 * math.Sqrt(s.VPD))
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
