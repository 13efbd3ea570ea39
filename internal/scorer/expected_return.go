package scorer

import (
	"maps"

	"github.com/sells-group/etf-advisor/internal/config"
	"github.com/sells-group/etf-advisor/internal/model"
)

// ExpectedReturn extrapolates an annual return from the trailing returns an
// instrument reports. Each available horizon is annualized by its factor and
// contributes with its weight; absent horizons are skipped. It returns false
// when no configured horizon is available.
func ExpectedReturn(inst model.Instrument, horizons []config.ReturnHorizon) (float64, bool) {
	var weighted, applicable float64
	for _, h := range horizons {
		v, ok := inst.Metric(h.Metric)
		if !ok || h.Weight == 0 {
			continue
		}
		weighted += v * h.Factor * h.Weight
		applicable += h.Weight
	}
	if applicable == 0 {
		return 0, false
	}
	return weighted / applicable, true
}

// WithExpectedReturn returns copies of the instruments carrying the derived
// expected_return metric. Input instruments are not modified.
func WithExpectedReturn(instruments []model.Instrument, horizons []config.ReturnHorizon) []model.Instrument {
	out := make([]model.Instrument, len(instruments))
	for i, inst := range instruments {
		metrics := maps.Clone(inst.Metrics)
		if metrics == nil {
			metrics = make(map[string]float64, 1)
		}
		delete(metrics, model.MetricExpectedReturn)
		if er, ok := ExpectedReturn(inst, horizons); ok {
			metrics[model.MetricExpectedReturn] = er
		}
		inst.Metrics = metrics
		out[i] = inst
	}
	return out
}
