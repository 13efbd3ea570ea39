package scorer

import (
	"cmp"
	"slices"

	"go.uber.org/zap"

	"github.com/sells-group/etf-advisor/internal/config"
	"github.com/sells-group/etf-advisor/internal/model"
)

// Composite returns the weighted sum of normalized metric values. Metrics are
// summed in configuration order so the result is reproducible bit for bit.
func Composite(normalized map[string]float64, metrics []config.MetricWeight) float64 {
	var total float64
	for _, m := range metrics {
		total += normalized[m.Name] * m.Weight
	}
	return total
}

// Score derives expected returns, normalizes the batch and computes each
// instrument's composite score. Tier fields are left for the classifier.
// The result is aligned with instruments by index.
func Score(instruments []model.Instrument, cfg config.ScoringConfig) ([]model.ScoredInstrument, []model.Warning) {
	enriched := WithExpectedReturn(instruments, cfg.Horizons)
	normalized, warnings := Normalize(enriched, cfg.Metrics, cfg.MissingFallback)

	scored := make([]model.ScoredInstrument, len(enriched))
	for i, inst := range enriched {
		scored[i] = model.ScoredInstrument{
			Instrument:     inst,
			Normalized:     normalized[i],
			CompositeScore: Composite(normalized[i], cfg.Metrics),
		}
	}

	zap.L().Info("scorer: scoring complete",
		zap.Int("instruments", len(scored)),
		zap.Int("warnings", len(warnings)),
	)
	return scored, warnings
}

// Compare orders instruments by composite score descending, then assets under
// management descending, then identifier ascending. Identifiers are unique
// within a batch, so this is a total order.
func Compare(a, b model.ScoredInstrument) int {
	if c := cmp.Compare(b.CompositeScore, a.CompositeScore); c != 0 {
		return c
	}
	if c := cmp.Compare(b.AUM(), a.AUM()); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// Sort orders instruments in place using Compare.
func Sort(items []model.ScoredInstrument) {
	slices.SortFunc(items, Compare)
}
