// Package scorer normalizes instrument metrics and computes composite scores.
package scorer

import (
	"fmt"
	"math"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/etf-advisor/internal/config"
	"github.com/sells-group/etf-advisor/internal/model"
)

// weightTolerance bounds floating-point drift in the weight sum.
const weightTolerance = 1e-6

// DefaultConfig returns a config.ScoringConfig with sensible defaults.
// Metric weights sum to 1.
func DefaultConfig() config.ScoringConfig {
	return config.ScoringConfig{
		Metrics: []config.MetricWeight{
			{Name: model.MetricExpectedReturn, Direction: config.DirectionHigher, Weight: 0.30},
			{Name: model.MetricSharpe3Y, Direction: config.DirectionHigher, Weight: 0.20},
			{Name: model.MetricReturn1Y, Direction: config.DirectionHigher, Weight: 0.10},
			{Name: model.MetricVolatility, Direction: config.DirectionLower, Weight: 0.15},
			{Name: model.MetricExpenseRatio, Direction: config.DirectionLower, Weight: 0.15},
			{Name: model.MetricAUM, Direction: config.DirectionHigher, Weight: 0.10},
		},
		MissingFallback: 0.5,
		Horizons: []config.ReturnHorizon{
			{Metric: model.MetricReturn1M, Factor: 12, Weight: 0.2},
			{Metric: model.MetricReturn3M, Factor: 4, Weight: 0.3},
			{Metric: model.MetricReturn6M, Factor: 2, Weight: 0.5},
			{Metric: model.MetricReturn1Y, Factor: 1, Weight: 1},
			{Metric: model.MetricReturn3Y, Factor: 1.0 / 3, Weight: 1},
			{Metric: model.MetricReturn5Y, Factor: 1.0 / 5, Weight: 1},
			{Metric: model.MetricReturn10Y, Factor: 1.0 / 10, Weight: 1},
		},
	}
}

// WeightSum returns the sum of all metric weights.
func WeightSum(c config.ScoringConfig) float64 {
	var sum float64
	for _, m := range c.Metrics {
		sum += m.Weight
	}
	return sum
}

// ValidateConfig checks that a ScoringConfig is internally consistent.
func ValidateConfig(c config.ScoringConfig) error {
	var errs []string

	if len(c.Metrics) == 0 {
		errs = append(errs, "at least one metric is required")
	}

	seen := make(map[string]bool, len(c.Metrics))
	for _, m := range c.Metrics {
		if m.Name != model.MetricExpectedReturn && !model.IsKnownMetric(m.Name) {
			errs = append(errs, fmt.Sprintf("unknown metric %q", m.Name))
		}
		if seen[m.Name] {
			errs = append(errs, fmt.Sprintf("metric %q listed twice", m.Name))
		}
		seen[m.Name] = true
		if m.Direction != config.DirectionHigher && m.Direction != config.DirectionLower {
			errs = append(errs, fmt.Sprintf("metric %q direction must be higher or lower", m.Name))
		}
		if m.Weight < 0 {
			errs = append(errs, fmt.Sprintf("metric %q weight must be >= 0", m.Name))
		}
	}

	if sum := WeightSum(c); len(c.Metrics) > 0 && math.Abs(sum-1) > weightTolerance {
		errs = append(errs, fmt.Sprintf("metric weights should sum to 1, got %.4f", sum))
	}

	if c.MissingFallback < 0 || c.MissingFallback > 1 {
		errs = append(errs, "missing_fallback must be between 0 and 1")
	}

	for _, h := range c.Horizons {
		if !model.IsKnownMetric(h.Metric) {
			errs = append(errs, fmt.Sprintf("unknown horizon metric %q", h.Metric))
		}
		if h.Factor <= 0 {
			errs = append(errs, fmt.Sprintf("horizon %q factor must be > 0", h.Metric))
		}
		if h.Weight < 0 {
			errs = append(errs, fmt.Sprintf("horizon %q weight must be >= 0", h.Metric))
		}
	}
	if seen[model.MetricExpectedReturn] && len(c.Horizons) == 0 {
		errs = append(errs, "expected_return is scored but no horizons are configured")
	}

	if len(errs) > 0 {
		return eris.Errorf("scorer: config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
