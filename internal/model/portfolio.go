package model

// PortfolioLine is one recommended instrument. Weights are percentages:
// WithinTierWeight is the share of the tier (0-100) and FinalWeight the
// share of the whole portfolio.
type PortfolioLine struct {
	InstrumentID     string   `json:"instrument_id" yaml:"instrument_id"`
	Category         string   `json:"category,omitempty" yaml:"category,omitempty"`
	Tier             RiskTier `json:"risk_tier" yaml:"risk_tier"`
	CompositeScore   float64  `json:"composite_score" yaml:"composite_score"`
	WithinTierWeight float64  `json:"within_tier_weight" yaml:"within_tier_weight"`
	FinalWeight      float64  `json:"final_portfolio_weight" yaml:"final_portfolio_weight"`
	ExpectedReturn   *float64 `json:"expected_return,omitempty" yaml:"expected_return,omitempty"`
}

// Portfolio is a client's final weighted set of instruments.
type Portfolio struct {
	ClientID string          `json:"client_id" yaml:"client_id"`
	Lines    []PortfolioLine `json:"lines" yaml:"lines"`

	// TierWeights holds the effective percentage per tier after empty tiers
	// were redistributed.
	TierWeights map[RiskTier]float64 `json:"tier_weights" yaml:"tier_weights"`

	// Redistributed holds the percentage moved away from each empty tier.
	Redistributed map[RiskTier]float64 `json:"redistributed,omitempty" yaml:"redistributed,omitempty"`
}

// TotalWeight sums FinalWeight over all lines.
func (p Portfolio) TotalWeight() float64 {
	var sum float64
	for _, l := range p.Lines {
		sum += l.FinalWeight
	}
	return sum
}
