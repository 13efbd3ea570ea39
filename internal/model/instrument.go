package model

import "math"

// Metric names in the known instrument metric set. Trailing returns are
// cumulative percentages over the named horizon; volatility and expense
// ratio are annual percentages; aum is in the fund's base currency.
const (
	MetricReturn1M       = "return_1m"
	MetricReturn3M       = "return_3m"
	MetricReturn6M       = "return_6m"
	MetricReturn1Y       = "return_1y"
	MetricReturn3Y       = "return_3y"
	MetricReturn5Y       = "return_5y"
	MetricReturn10Y      = "return_10y"
	MetricVolatility     = "volatility"
	MetricExpenseRatio   = "expense_ratio"
	MetricAUM            = "aum"
	MetricSharpe3Y       = "sharpe_3y"
	MetricExpectedReturn = "expected_return" // derived, never read from input
)

// KnownMetrics lists the raw metrics accepted from an instrument record, in
// column order.
var KnownMetrics = []string{
	MetricReturn1M,
	MetricReturn3M,
	MetricReturn6M,
	MetricReturn1Y,
	MetricReturn3Y,
	MetricReturn5Y,
	MetricReturn10Y,
	MetricVolatility,
	MetricExpenseRatio,
	MetricAUM,
	MetricSharpe3Y,
}

// IsKnownMetric reports whether name is part of the raw metric set.
func IsKnownMetric(name string) bool {
	for _, m := range KnownMetrics {
		if m == name {
			return true
		}
	}
	return false
}

// Instrument is one ETF as handed over by the cleaning stage.
type Instrument struct {
	ID       string             `json:"id" yaml:"id" validate:"required"`
	Category string             `json:"category" yaml:"category"`
	Metrics  map[string]float64 `json:"metrics" yaml:"metrics"`
}

// Metric returns the raw value of a metric. Absent and non-finite values
// are reported as missing.
func (i Instrument) Metric(name string) (float64, bool) {
	v, ok := i.Metrics[name]
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// AUM returns assets under management, or 0 when unknown.
func (i Instrument) AUM() float64 {
	v, _ := i.Metric(MetricAUM)
	return v
}

// ScoredInstrument is an Instrument together with everything derived from
// one snapshot of its metrics. Values are built in a single pass by the
// engine and are not modified afterwards.
type ScoredInstrument struct {
	Instrument
	Normalized     map[string]float64 `json:"normalized_metrics" yaml:"normalized_metrics"`
	CompositeScore float64            `json:"composite_score" yaml:"composite_score"`
	Tier           RiskTier           `json:"risk_tier" yaml:"risk_tier"`
	TierRank       int                `json:"tier_rank" yaml:"tier_rank"`
	Selected       bool               `json:"selected" yaml:"selected"`
}
