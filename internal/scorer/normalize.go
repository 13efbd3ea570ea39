package scorer

import (
	"fmt"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"github.com/sells-group/etf-advisor/internal/config"
	"github.com/sells-group/etf-advisor/internal/model"
)

// midpoint is assigned to every instrument when a metric has zero range.
const midpoint = 0.5

// Normalize rescales each configured metric onto [0,1] using the min and max
// observed across the whole batch. Metrics with direction "lower" are
// inverted so that higher always means better. The result is aligned with
// instruments by index.
//
// Missing values are excluded from the range and receive fallback. A metric
// whose observed values are all equal gives every instrument the midpoint.
// Both cases are reported as warnings.
func Normalize(instruments []model.Instrument, metrics []config.MetricWeight, fallback float64) ([]map[string]float64, []model.Warning) {
	out := make([]map[string]float64, len(instruments))
	for i := range out {
		out[i] = make(map[string]float64, len(metrics))
	}

	var warnings []model.Warning
	for _, m := range metrics {
		var observed []float64
		for _, inst := range instruments {
			if v, ok := inst.Metric(m.Name); ok {
				observed = append(observed, v)
			}
		}

		if len(observed) == 0 {
			for i := range instruments {
				out[i][m.Name] = fallback
			}
			warnings = append(warnings, model.Warning{
				Kind:    model.WarningDegenerateDistribution,
				Subject: m.Name,
				Message: fmt.Sprintf("no instrument reports the metric, using fallback %.2f", fallback),
			})
			continue
		}

		lo, hi := floats.Min(observed), floats.Max(observed)
		span := hi - lo
		if span == 0 && len(instruments) > 1 {
			warnings = append(warnings, model.Warning{
				Kind:    model.WarningDegenerateDistribution,
				Subject: m.Name,
				Message: fmt.Sprintf("all observed values equal %g, using midpoint", lo),
			})
		}

		for i, inst := range instruments {
			v, ok := inst.Metric(m.Name)
			if !ok {
				out[i][m.Name] = fallback
				warnings = append(warnings, model.Warning{
					Kind:    model.WarningMissingMetric,
					Subject: inst.ID,
					Message: fmt.Sprintf("%s missing, using fallback %.2f", m.Name, fallback),
				})
				continue
			}
			out[i][m.Name] = scale(v, lo, span, m.Direction)
		}
	}

	zap.L().Debug("scorer: normalized metrics",
		zap.Int("instruments", len(instruments)),
		zap.Int("metrics", len(metrics)),
		zap.Int("warnings", len(warnings)),
	)
	return out, warnings
}

func scale(v, lo, span float64, direction string) float64 {
	if span == 0 {
		return midpoint
	}
	n := (v - lo) / span
	if direction == config.DirectionLower {
		n = 1 - n
	}
	// Guard against rounding just outside the unit interval.
	switch {
	case n < 0:
		return 0
	case n > 1:
		return 1
	}
	return n
}
