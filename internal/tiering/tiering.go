// Package tiering partitions scored instruments into risk tiers and selects
// the top candidates of each tier.
package tiering

import (
	"fmt"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/sells-group/etf-advisor/internal/config"
	"github.com/sells-group/etf-advisor/internal/model"
	"github.com/sells-group/etf-advisor/internal/scorer"
)

// DefaultConfig returns a config.TieringConfig splitting the batch into
// volatility thirds with five candidates per tier.
func DefaultConfig() config.TieringConfig {
	return config.TieringConfig{
		Metric:    model.MetricVolatility,
		CutPoints: []float64{1.0 / 3, 2.0 / 3},
		TopN:      config.TierCounts{Low: 5, Medium: 5, High: 5},
	}
}

// ValidateConfig checks that a TieringConfig is internally consistent.
func ValidateConfig(c config.TieringConfig) error {
	var errs []string

	if !model.IsKnownMetric(c.Metric) {
		errs = append(errs, fmt.Sprintf("unknown tiering metric %q", c.Metric))
	}
	if len(c.CutPoints) != len(model.Tiers)-1 {
		errs = append(errs, fmt.Sprintf("cut_points needs %d values, got %d", len(model.Tiers)-1, len(c.CutPoints)))
	}
	for i, p := range c.CutPoints {
		if p <= 0 || p >= 1 {
			errs = append(errs, fmt.Sprintf("cut point %g must be in (0,1)", p))
		}
		if i > 0 && p <= c.CutPoints[i-1] {
			errs = append(errs, "cut_points must be strictly increasing")
		}
	}
	for _, t := range model.Tiers {
		if c.TopN.For(t) < 0 {
			errs = append(errs, fmt.Sprintf("top_n.%s must be >= 0", t))
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("tiering: config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Cuts returns the boundary values of the tiers at the given cumulative
// probabilities of the empirical distribution of values.
func Cuts(values, cutPoints []float64) []float64 {
	if len(values) == 0 {
		return nil
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)

	cuts := make([]float64, len(cutPoints))
	for i, p := range cutPoints {
		cuts[i] = stat.Quantile(p, stat.Empirical, sorted, nil)
	}
	return cuts
}

// TierFor returns the tier whose interval contains v. A value equal to a
// boundary belongs to the lower-risk tier.
func TierFor(v float64, cuts []float64) model.RiskTier {
	for i, c := range cuts {
		if v <= c {
			return model.Tiers[i]
		}
	}
	return model.Tiers[len(model.Tiers)-1]
}

// Classify assigns every instrument to exactly one tier, ranks each tier with
// the scorer's total order and marks the top-N of each tier as selected. The
// returned slice keeps the input order; the selection lists each tier's
// selected instruments in rank order.
//
// Instruments without the tiering metric are placed in the highest tier. A
// tier left empty is reported as a degenerate distribution and appears in the
// selection as an empty slice.
func Classify(scored []model.ScoredInstrument, cfg config.TieringConfig) ([]model.ScoredInstrument, model.Selection, []model.Warning) {
	var warnings []model.Warning

	var values []float64
	for _, s := range scored {
		if v, ok := s.Metric(cfg.Metric); ok {
			values = append(values, v)
		}
	}
	cuts := Cuts(values, cfg.CutPoints)

	out := make([]model.ScoredInstrument, len(scored))
	members := make(map[model.RiskTier][]int, len(model.Tiers))
	for i, s := range scored {
		v, ok := s.Metric(cfg.Metric)
		if ok {
			s.Tier = TierFor(v, cuts)
		} else {
			s.Tier = model.Tiers[len(model.Tiers)-1]
			warnings = append(warnings, model.Warning{
				Kind:    model.WarningMissingMetric,
				Subject: s.ID,
				Message: fmt.Sprintf("%s missing, classified as %s", cfg.Metric, s.Tier),
			})
		}
		s.TierRank = 0
		s.Selected = false
		out[i] = s
		members[s.Tier] = append(members[s.Tier], i)
	}

	selection := make(model.Selection, len(model.Tiers))
	for _, t := range model.Tiers {
		idx := members[t]
		slices.SortFunc(idx, func(a, b int) int { return scorer.Compare(out[a], out[b]) })

		limit := cfg.TopN.For(t)
		selected := make([]model.ScoredInstrument, 0, min(limit, len(idx)))
		for rank, i := range idx {
			out[i].TierRank = rank + 1
			if rank < limit {
				out[i].Selected = true
				selected = append(selected, out[i])
			}
		}
		selection[t] = selected

		if len(idx) == 0 && len(scored) > 0 {
			warnings = append(warnings, model.Warning{
				Kind:    model.WarningDegenerateDistribution,
				Subject: string(t),
				Message: fmt.Sprintf("no instrument falls in the %s tier", t),
			})
		}
	}

	zap.L().Info("tiering: classification complete",
		zap.Float64s("cuts", cuts),
		zap.Int("low", len(members[model.TierLow])),
		zap.Int("medium", len(members[model.TierMedium])),
		zap.Int("high", len(members[model.TierHigh])),
	)
	return out, selection, warnings
}
