// Package report turns a finished fit into the files handed to users:
// a markdown report, a YAML fit summary, the fitted observations as CSV
// and two diagnostic plots.
package report

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"sort"
	"strconv"
	"text/template"
	"time"

	"github.com/charmbracelet/glamour"
	"gopkg.in/yaml.v3"

	"gasexchange-platform/internal/models"
)

// Artifact file names.
const (
	FileGsVsVPD             = "Gs_vs_VPD.png"
	FilePredictedVsObserved = "predicted_vs_observed.png"
	FileReport              = "report.md"
	FileFitSummary          = "fit_summary.yaml"
	FileObservations        = "observations_fitted.csv"
)

// ModelFormula is the fitted model as printed in reports.
const ModelFormula = "gs_co2 = g0 + (1 + g1 / sqrt(vpd)) * (photo / 400)"

// Data is everything a report is built from.
type Data struct {
	Run                   *models.FitRun
	Observations          []*models.Observation
	Summaries             []models.GroupSummary
	TotalRows             int
	NullCounts            map[string]int
	TranspirationRescaled int
	PositionsUnmapped     int
}

// Artifact is one generated file.
type Artifact struct {
	Name        string
	ContentType string
	Body        []byte
}

// Build renders every artifact for d.
func Build(d *Data) ([]Artifact, error) {
	md, err := Markdown(d)
	if err != nil {
		return nil, err
	}
	summary, err := SummaryYAML(d)
	if err != nil {
		return nil, err
	}
	fitted, err := ObservationsCSV(d.Observations)
	if err != nil {
		return nil, err
	}
	gsVPD, err := GsVsVPDPlot(d.Observations)
	if err != nil {
		return nil, err
	}
	predObs, err := PredictedVsObservedPlot(d.Observations)
	if err != nil {
		return nil, err
	}

	return []Artifact{
		{Name: FileReport, ContentType: "text/markdown; charset=utf-8", Body: md},
		{Name: FileFitSummary, ContentType: "application/yaml", Body: summary},
		{Name: FileObservations, ContentType: "text/csv; charset=utf-8", Body: fitted},
		{Name: FileGsVsVPD, ContentType: "image/png", Body: gsVPD},
		{Name: FilePredictedVsObserved, ContentType: "image/png", Body: predObs},
	}, nil
}

// Coefficient is one fitted parameter with its inference statistics.
type Coefficient struct {
	Estimate float64 `yaml:"estimate"`
	StdError float64 `yaml:"std_error"`
	TValue   float64 `yaml:"t_value"`
	PValue   float64 `yaml:"p_value"`
}

// FitSummary is the document written to fit_summary.yaml.
type FitSummary struct {
	RunID      string             `yaml:"run_id"`
	Source     string             `yaml:"source"`
	CreatedAt  time.Time          `yaml:"created_at"`
	Model      string             `yaml:"model"`
	Start      map[string]float64 `yaml:"start"`
	G0         Coefficient        `yaml:"g0"`
	G1         Coefficient        `yaml:"g1"`
	Sigma      float64            `yaml:"sigma"`
	RSS        float64            `yaml:"rss"`
	RSquared   float64            `yaml:"r_squared"`
	RMSE       float64            `yaml:"rmse"`
	DF         int                `yaml:"df"`
	NUsed      int                `yaml:"n_used"`
	NExcluded  int                `yaml:"n_excluded"`
	Iterations int                `yaml:"iterations"`
	Status     string             `yaml:"status"`
	Rows       int                `yaml:"rows"`
	NullCounts map[string]int     `yaml:"null_counts,omitempty"`
}

// NewFitSummary flattens d into a FitSummary.
func NewFitSummary(d *Data) FitSummary {
	run := d.Run
	return FitSummary{
		RunID:     run.ID,
		Source:    run.SourceFile,
		CreatedAt: run.CreatedAt,
		Model:     ModelFormula,
		Start:     map[string]float64{"g0": run.StartG0, "g1": run.StartG1},
		G0: Coefficient{
			Estimate: run.G0,
			StdError: run.G0StdError,
			TValue:   run.G0TValue,
			PValue:   run.G0PValue,
		},
		G1: Coefficient{
			Estimate: run.G1,
			StdError: run.G1StdError,
			TValue:   run.G1TValue,
			PValue:   run.G1PValue,
		},
		Sigma:      run.Sigma,
		RSS:        run.RSS,
		RSquared:   run.RSquared,
		RMSE:       run.RMSE,
		DF:         run.DF,
		NUsed:      run.NUsed,
		NExcluded:  run.NExcluded,
		Iterations: run.Iterations,
		Status:     run.Status,
		Rows:       d.TotalRows,
		NullCounts: d.NullCounts,
	}
}

// SummaryYAML encodes the fit summary.
func SummaryYAML(d *Data) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(NewFitSummary(d)); err != nil {
		return nil, fmt.Errorf("failed to encode fit summary: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode fit summary: %w", err)
	}
	return buf.Bytes(), nil
}

var funcs = template.FuncMap{
	"num": func(v float64) string { return strconv.FormatFloat(v, 'g', 6, 64) },
	"ptr": func(v *float64) string {
		if v == nil {
			return "NA"
		}
		return strconv.FormatFloat(*v, 'g', 6, 64)
	},
	"date": func(t time.Time) string { return t.UTC().Format(time.RFC3339) },
}

var reportTemplate = template.Must(template.New("report").Funcs(funcs).Parse(`# Medlyn stomatal conductance fit

- Run: ` + "`{{.Run.ID}}`" + `
- Source: ` + "`{{.Run.SourceFile}}`" + `
- Created: {{date .Run.CreatedAt}}
- Model: ` + "`{{.Formula}}`" + `

## Data

| Item | Count |
|---|---|
| Rows loaded | {{.TotalRows}} |
| Rows used in fit | {{.Run.NUsed}} |
| Rows excluded from fit | {{.Run.NExcluded}} |
| Transpiration values rescaled | {{.TranspirationRescaled}} |
| Unrecognised leaflet positions | {{.PositionsUnmapped}} |
{{- range .Nulls}}
| Null ` + "`{{.Field}}`" + ` | {{.Count}} |
{{- end}}

## Coefficients

| Parameter | Start | Estimate | Std. error | t value | p value |
|---|---|---|---|---|---|
| g0 | {{num .Run.StartG0}} | {{num .Run.G0}} | {{num .Run.G0StdError}} | {{num .Run.G0TValue}} | {{num .Run.G0PValue}} |
| g1 | {{num .Run.StartG1}} | {{num .Run.G1}} | {{num .Run.G1StdError}} | {{num .Run.G1TValue}} | {{num .Run.G1PValue}} |

Residual standard error: {{num .Run.Sigma}} on {{.Run.DF}} degrees of freedom.
RSS {{num .Run.RSS}}, RMSE {{num .Run.RMSE}}, R² {{num .Run.RSquared}}.
Solver status ` + "`{{.Run.Status}}`" + ` after {{.Run.Iterations}} iterations.
{{range .Dimensions}}
## Summary by {{.Name}}

| Group | n | mean gs_co2 | sd gs_co2 | mean photo | mean vpd | mean trans |
|---|---|---|---|---|---|---|
{{- range .Groups}}
| {{.GroupKey}} | {{.N}} | {{ptr .MeanGsCO2}} | {{ptr .SdGsCO2}} | {{ptr .MeanPhoto}} | {{ptr .MeanVPD}} | {{ptr .MeanTranspiration}} |
{{- end}}
{{end}}
## Figures

![Gs vs VPD](` + FileGsVsVPD + `)

![Predicted vs observed](` + FilePredictedVsObserved + `)
`))

type nullCount struct {
	Field string
	Count int
}

type dimension struct {
	Name   string
	Groups []models.GroupSummary
}

var dimensionTitles = map[string]string{
	models.DimensionSeasonProgeny: "season and progeny",
	models.DimensionPosition:      "leaflet position",
	models.DimensionRank:          "leaf rank",
}

// Markdown renders the run report.
func Markdown(d *Data) ([]byte, error) {
	view := struct {
		*Data
		Formula    string
		Nulls      []nullCount
		Dimensions []dimension
	}{Data: d, Formula: ModelFormula}

	for field, n := range d.NullCounts {
		if n > 0 {
			view.Nulls = append(view.Nulls, nullCount{Field: field, Count: n})
		}
	}
	sort.Slice(view.Nulls, func(i, j int) bool { return view.Nulls[i].Field < view.Nulls[j].Field })

	index := map[string]int{}
	for _, s := range d.Summaries {
		i, ok := index[s.Dimension]
		if !ok {
			title := dimensionTitles[s.Dimension]
			if title == "" {
				title = s.Dimension
			}
			i = len(view.Dimensions)
			index[s.Dimension] = i
			view.Dimensions = append(view.Dimensions, dimension{Name: title})
		}
		view.Dimensions[i].Groups = append(view.Dimensions[i].Groups, s)
	}

	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, view); err != nil {
		return nil, fmt.Errorf("failed to render report: %w", err)
	}
	return buf.Bytes(), nil
}

// RenderTerminal formats markdown for a terminal of the given width.
func RenderTerminal(markdown []byte, width int) (string, error) {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("notty"),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create renderer: %w", err)
	}
	out, err := renderer.RenderBytes(markdown)
	if err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	return string(out), nil
}

// ObservationColumns is the header of observations_fitted.csv.
var ObservationColumns = []string{
	"row", "date", "hour", "frond", "rank", "position", "relative_position",
	"season", "progeny", "tree",
	"vpd", "gs_h2o", "gs_co2", "photo", "transpiration", "gs_medlyn_co2",
}

// ObservationsCSV writes observations with nulls as NA.
func ObservationsCSV(observations []*models.Observation) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(ObservationColumns); err != nil {
		return nil, err
	}

	for _, o := range observations {
		date := "NA"
		if o.Date != nil {
			date = o.Date.Format("02/01/2006")
		}
		record := []string{
			strconv.Itoa(o.RowNumber),
			date,
			intCell(o.Hour),
			o.Frond,
			intCell(o.Rank),
			o.Position,
			floatCell(o.RelativePosition),
			string(o.Season),
			o.Progeny,
			o.Tree,
			floatCell(o.VPD),
			floatCell(o.GsH2O),
			floatCell(o.GsCO2),
			floatCell(o.Photo),
			floatCell(o.Transpiration),
			floatCell(o.GsMedlynCO2),
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to write observations: %w", err)
	}
	return buf.Bytes(), nil
}

func floatCell(v *float64) string {
	if v == nil {
		return "NA"
	}
	return strconv.FormatFloat(*v, 'g', -1, 64)
}

func intCell(v *int) string {
	if v == nil {
		return "NA"
	}
	return strconv.Itoa(*v)
}
