package models

import "time"

// FitRun is one persisted Medlyn fit over a dataset. Immutable after creation.
type FitRun struct {
	ID         string    `json:"id" db:"id"`
	SourceFile string    `json:"source_file" db:"source_file"`
	G0         float64   `json:"g0" db:"g0"`
	G1         float64   `json:"g1" db:"g1"`
	Sigma      float64   `json:"sigma" db:"sigma"`
	RSS        float64   `json:"rss" db:"rss"`
	G0StdError float64   `json:"g0_std_error" db:"g0_std_error"`
	G1StdError float64   `json:"g1_std_error" db:"g1_std_error"`
	G0TValue   float64   `json:"g0_t_value" db:"g0_t_value"`
	G1TValue   float64   `json:"g1_t_value" db:"g1_t_value"`
	G0PValue   float64   `json:"g0_p_value" db:"g0_p_value"`
	G1PValue   float64   `json:"g1_p_value" db:"g1_p_value"`
	RSquared   float64   `json:"r_squared" db:"r_squared"`
	RMSE       float64   `json:"rmse" db:"rmse"`
	DF         int       `json:"df" db:"df"`
	NUsed      int       `json:"n_used" db:"n_used"`
	NExcluded  int       `json:"n_excluded" db:"n_excluded"`
	Iterations int       `json:"iterations" db:"iterations"`
	Status     string    `json:"status" db:"status"`
	StartG0    float64   `json:"start_g0" db:"start_g0"`
	StartG1    float64   `json:"start_g1" db:"start_g1"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// Summary dimensions.
const (
	DimensionSeasonProgeny = "season_progeny"
	DimensionPosition      = "position"
	DimensionRank          = "rank"
)

// GroupSummary holds descriptive statistics for one group of observations.
// Means over empty groups are nil.
type GroupSummary struct {
	RunID             string   `json:"run_id,omitempty" db:"run_id"`
	Dimension         string   `json:"dimension" db:"dimension"`
	GroupKey          string   `json:"group_key" db:"group_key"`
	N                 int      `json:"n" db:"n"`
	MeanGsCO2         *float64 `json:"mean_gs_co2,omitempty" db:"mean_gs_co2"`
	SdGsCO2           *float64 `json:"sd_gs_co2,omitempty" db:"sd_gs_co2"`
	MeanPhoto         *float64 `json:"mean_photo,omitempty" db:"mean_photo"`
	MeanVPD           *float64 `json:"mean_vpd,omitempty" db:"mean_vpd"`
	MeanTranspiration *float64 `json:"mean_transpiration,omitempty" db:"mean_transpiration"`
}
