package report

import (
	"bytes"
	"fmt"
	"image/color"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"gasexchange-platform/internal/models"
)

var (
	observedColor  = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	predictedColor = color.RGBA{R: 214, G: 39, B: 40, A: 255}
)

const (
	plotWidth  = 7 * vg.Inch
	plotHeight = 5 * vg.Inch
)

// GsVsVPDPlot scatters observed and model gs_co2 against vpd.
func GsVsVPDPlot(observations []*models.Observation) ([]byte, error) {
	var observed, predicted plotter.XYs
	for _, o := range observations {
		if o.VPD == nil {
			continue
		}
		if o.GsCO2 != nil {
			observed = append(observed, plotter.XY{X: *o.VPD, Y: *o.GsCO2})
		}
		if o.GsMedlynCO2 != nil {
			predicted = append(predicted, plotter.XY{X: *o.VPD, Y: *o.GsMedlynCO2})
		}
	}

	p := plot.New()
	p.Title.Text = "Stomatal conductance vs VPD"
	p.X.Label.Text = "VPD (kPa)"
	p.Y.Label.Text = "gs CO2 (mol m-2 s-1)"
	p.Add(plotter.NewGrid())

	if err := addScatter(p, "observed", observed, observedColor, draw.CircleGlyph{}); err != nil {
		return nil, err
	}
	if err := addScatter(p, "Medlyn", predicted, predictedColor, draw.CrossGlyph{}); err != nil {
		return nil, err
	}
	p.Legend.Top = true

	return encodePNG(p)
}

// PredictedVsObservedPlot scatters model against observed gs_co2 with a 1:1 line.
func PredictedVsObservedPlot(observations []*models.Observation) ([]byte, error) {
	var pts plotter.XYs
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, o := range observations {
		if o.GsCO2 == nil || o.GsMedlynCO2 == nil {
			continue
		}
		pts = append(pts, plotter.XY{X: *o.GsCO2, Y: *o.GsMedlynCO2})
		lo = math.Min(lo, math.Min(*o.GsCO2, *o.GsMedlynCO2))
		hi = math.Max(hi, math.Max(*o.GsCO2, *o.GsMedlynCO2))
	}

	p := plot.New()
	p.Title.Text = "Predicted vs observed gs CO2"
	p.X.Label.Text = "observed gs CO2"
	p.Y.Label.Text = "predicted gs CO2"
	p.Add(plotter.NewGrid())

	if err := addScatter(p, "rows", pts, observedColor, draw.CircleGlyph{}); err != nil {
		return nil, err
	}

	if len(pts) > 0 {
		identity, err := plotter.NewLine(plotter.XYs{{X: lo, Y: lo}, {X: hi, Y: hi}})
		if err != nil {
			return nil, fmt.Errorf("failed to build 1:1 line: %w", err)
		}
		identity.LineStyle.Color = predictedColor
		identity.LineStyle.Dashes = []vg.Length{vg.Points(4), vg.Points(4)}
		p.Add(identity)
		p.Legend.Add("1:1", identity)
	}
	p.Legend.Top = true

	return encodePNG(p)
}

func addScatter(p *plot.Plot, name string, pts plotter.XYs, c color.Color, shape draw.GlyphDrawer) error {
	if len(pts) == 0 {
		return nil
	}
	s, err := plotter.NewScatter(pts)
	if err != nil {
		return fmt.Errorf("failed to build %s scatter: %w", name, err)
	}
	s.GlyphStyle.Color = c
	s.GlyphStyle.Radius = vg.Points(2)
	s.GlyphStyle.Shape = shape
	p.Add(s)
	p.Legend.Add(name, s)
	return nil
}

func encodePNG(p *plot.Plot) ([]byte, error) {
	w, err := p.WriterTo(plotWidth, plotHeight, "png")
	if err != nil {
		return nil, fmt.Errorf("failed to render plot: %w", err)
	}
	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode plot: %w", err)
	}
	return buf.Bytes(), nil
}
