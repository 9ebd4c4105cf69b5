package services

import (
	"context"
	"sort"
	"strconv"

	"gonum.org/v1/gonum/stat"

	"gasexchange-platform/internal/models"
	"gasexchange-platform/pkg/logging"
	"gasexchange-platform/pkg/metrics"
)

// SummaryService computes descriptive statistics over groups of observations
type SummaryService struct {
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewSummaryService creates a new summary service
func NewSummaryService(logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *SummaryService {
	return &SummaryService{
		logger:  logger,
		metrics: metricsCollector,
	}
}

// GroupKeyFunc returns the group an observation belongs to, or false to skip it.
type GroupKeyFunc func(*models.Observation) (string, bool)

// Dimensions maps each summary dimension to its grouping function.
var Dimensions = map[string]GroupKeyFunc{
	models.DimensionSeasonProgeny: func(obs *models.Observation) (string, bool) {
		season := string(obs.Season)
		if season == "" {
			season = "unknown"
		}
		progeny := obs.Progeny
		if progeny == "" {
			progeny = "unknown"
		}
		return season + "/" + progeny, true
	},
	models.DimensionPosition: func(obs *models.Observation) (string, bool) {
		if _, ok := models.ParsePositionLabel(obs.Position); !ok {
			return "", false
		}
		return obs.Position, true
	},
	models.DimensionRank: func(obs *models.Observation) (string, bool) {
		if obs.Rank == nil {
			return "", false
		}
		return strconv.Itoa(*obs.Rank), true
	},
}

// Summarize computes group summaries for every dimension, ordered by
// dimension then key
func (s *SummaryService) Summarize(ctx context.Context, observations []*models.Observation) []models.GroupSummary {
	dims := make([]string, 0, len(Dimensions))
	for d := range Dimensions {
		dims = append(dims, d)
	}
	sort.Strings(dims)

	var summaries []models.GroupSummary
	for _, dim := range dims {
		groups := SummarizeBy(observations, dim, Dimensions[dim])
		summaries = append(summaries, groups...)

		s.logger.Debug(ctx, "[SUMMARY_DIMENSION] Dimension summarised", logging.Fields{
			"dimension": dim,
			"groups":    len(groups),
		})
	}

	s.logger.Info(ctx, "[SUMMARY_COMPLETE] Group summaries computed", logging.Fields{
		"rows":   len(observations),
		"groups": len(summaries),
		"stage":  "SUMMARY",
	})

	return summaries
}

// SummarizeBy groups observations with key and describes each group.
func SummarizeBy(observations []*models.Observation, dimension string, key GroupKeyFunc) []models.GroupSummary {
	groups := make(map[string][]*models.Observation)
	for _, obs := range observations {
		k, ok := key(obs)
		if !ok {
			continue
		}
		groups[k] = append(groups[k], obs)
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return naturalLess(keys[i], keys[j]) })

	summaries := make([]models.GroupSummary, 0, len(keys))
	for _, k := range keys {
		summaries = append(summaries, describeGroup(dimension, k, groups[k]))
	}
	return summaries
}

func describeGroup(dimension, key string, members []*models.Observation) models.GroupSummary {
	summary := models.GroupSummary{
		Dimension: dimension,
		GroupKey:  key,
		N:         len(members),
	}

	gs := column(members, func(o *models.Observation) *float64 { return o.GsCO2 })
	if len(gs) > 0 {
		summary.MeanGsCO2 = models.Float(stat.Mean(gs, nil))
	}
	if len(gs) > 1 {
		_, sd := stat.MeanStdDev(gs, nil)
		summary.SdGsCO2 = models.Float(sd)
	}
	summary.MeanPhoto = meanOf(column(members, func(o *models.Observation) *float64 { return o.Photo }))
	summary.MeanVPD = meanOf(column(members, func(o *models.Observation) *float64 { return o.VPD }))
	summary.MeanTranspiration = meanOf(column(members, func(o *models.Observation) *float64 { return o.Transpiration }))

	return summary
}

func column(members []*models.Observation, get func(*models.Observation) *float64) []float64 {
	out := make([]float64, 0, len(members))
	for _, obs := range members {
		if v := get(obs); v != nil {
			out = append(out, *v)
		}
	}
	return out
}

func meanOf(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	return models.Float(stat.Mean(values, nil))
}

// naturalLess orders integer keys numerically and everything else lexically.
func naturalLess(a, b string) bool {
	ai, aErr := strconv.Atoi(a)
	bi, bErr := strconv.Atoi(b)
	if aErr == nil && bErr == nil {
		return ai < bi
	}
	return a < b
}
