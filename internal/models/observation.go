package models

import (
	"strings"
	"time"
)

const (
	// H2OToCO2Diffusivity is the ratio of water vapour to CO2 diffusivity in air.
	H2OToCO2Diffusivity = 1.57

	// TranspirationArtifactThreshold marks readings that were entered 100x too large.
	TranspirationArtifactThreshold = 100.0
	// TranspirationArtifactScale is the factor those readings are divided by.
	TranspirationArtifactScale = 100.0
)

// PositionLabel identifies a leaflet position along the rachis.
// Only the five constants below are recognised.
type PositionLabel string

const (
	PositionA         PositionLabel = "A"
	PositionHalfAB    PositionLabel = "1/2_AB"
	PositionB         PositionLabel = "B"
	PositionQuarterBC PositionLabel = "1/4_BC"
	PositionHalfBC    PositionLabel = "1/2_BC"
)

// Positions lists the recognised labels from the rachis tip (A) downwards.
var Positions = []PositionLabel{PositionA, PositionHalfAB, PositionB, PositionQuarterBC, PositionHalfBC}

var relativePositions = map[PositionLabel]float64{
	PositionA:         1,
	PositionHalfAB:    5.0 / 6.0,
	PositionB:         2.0 / 3.0,
	PositionQuarterBC: 0.5,
	PositionHalfBC:    1.0 / 3.0,
}

// ParsePositionLabel returns the label for s and whether it is one of the five codes.
func ParsePositionLabel(s string) (PositionLabel, bool) {
	label := PositionLabel(strings.TrimSpace(s))
	_, ok := relativePositions[label]
	return label, ok
}

// RelativePosition returns the numeric position in (0,1] for a recognised label.
func (p PositionLabel) RelativePosition() (float64, bool) {
	v, ok := relativePositions[p]
	return v, ok
}

// Season of the measurement campaign.
type Season string

const (
	SeasonUnknown Season = ""
	SeasonWet     Season = "wet"
	SeasonDry     Season = "dry"
)

// ParseSeason maps a free-form cell onto a Season; anything but wet/dry is SeasonUnknown.
func ParseSeason(s string) Season {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "wet":
		return SeasonWet
	case "dry":
		return SeasonDry
	default:
		return SeasonUnknown
	}
}

// Observation is one gas-exchange reading. Nil pointers are null cells.
type Observation struct {
	ID               int64      `json:"id,omitempty" db:"id"`
	RunID            string     `json:"run_id,omitempty" db:"run_id"`
	RowNumber        int        `json:"row_number" db:"row_number"`
	Date             *time.Time `json:"date,omitempty" db:"observation_date"`
	Hour             *int       `json:"hour,omitempty" db:"hour_of_day"`
	Frond            string     `json:"frond" db:"frond"`
	Rank             *int       `json:"rank,omitempty" db:"leaf_rank"`
	Position         string     `json:"position" db:"position_label"`
	RelativePosition *float64   `json:"relative_position,omitempty" db:"relative_position"`
	Season           Season     `json:"season" db:"season"`
	Progeny          string     `json:"progeny" db:"progeny"`
	Tree             string     `json:"tree,omitempty" db:"tree"`
	VPD              *float64   `json:"vpd,omitempty" db:"vpd"`
	GsH2O            *float64   `json:"gs_h2o,omitempty" db:"gs_h2o"`
	GsCO2            *float64   `json:"gs_co2,omitempty" db:"gs_co2"`
	Photo            *float64   `json:"photo,omitempty" db:"photo"`
	Transpiration    *float64   `json:"transpiration,omitempty" db:"transpiration"`
	GsMedlynCO2      *float64   `json:"gs_medlyn_co2,omitempty" db:"gs_medlyn_co2"`
}

// RawObservationRecord holds the untyped cells of one input row.
// Used during ingestion.
type RawObservationRecord struct {
	RowNumber     int
	Date          string
	Time          string
	Frond         string
	Position      string
	Season        string
	Progeny       string
	Tree          string
	VPD           string
	Gs            string
	Photo         string
	Transpiration string
}

// ConversionOptions controls how strictly raw cells are parsed.
type ConversionOptions struct {
	// StrictRank turns a frond label without a numeric suffix into a ParseError
	// instead of a null rank.
	StrictRank bool
}

// ToObservation converts the raw cells to an Observation.
// Unparsable cells become nulls and their field names are returned in nulls;
// err is only non-nil for a strict-mode rank failure.
func (r *RawObservationRecord) ToObservation(opts ConversionOptions) (obs *Observation, nulls []string, err error) {
	obs = &Observation{
		RowNumber: r.RowNumber,
		Frond:     strings.TrimSpace(r.Frond),
		Position:  strings.TrimSpace(r.Position),
		Season:    ParseSeason(r.Season),
		Progeny:   strings.TrimSpace(r.Progeny),
		Tree:      strings.TrimSpace(r.Tree),
	}

	if d, ok := ParseDMYDate(r.Date); ok {
		obs.Date = &d
	} else {
		nulls = append(nulls, "date")
	}

	if h, ok := ParseHour(r.Time); ok {
		obs.Hour = &h
	} else {
		nulls = append(nulls, "hour")
	}

	rank, rankErr := ParseRank(r.Frond, opts.StrictRank)
	if rankErr != nil {
		return nil, nil, rankErr
	}
	if rank == nil {
		nulls = append(nulls, "rank")
	}
	obs.Rank = rank

	numeric := []struct {
		name string
		cell string
		dst  **float64
	}{
		{"vpd", r.VPD, &obs.VPD},
		{"gs_h2o", r.Gs, &obs.GsH2O},
		{"photo", r.Photo, &obs.Photo},
		{"transpiration", r.Transpiration, &obs.Transpiration},
	}
	for _, n := range numeric {
		v, ok := ParseFloat(n.cell)
		if !ok {
			nulls = append(nulls, n.name)
			continue
		}
		*n.dst = &v
	}

	return obs, nulls, nil
}

// Float returns a pointer to v. Handy for building observations in code.
func Float(v float64) *float64 {
	return &v
}

// Int returns a pointer to v.
func Int(v int) *int {
	return &v
}
