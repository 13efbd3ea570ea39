package model

import "github.com/shopspring/decimal"

// Hundred is 100% as a decimal.
var Hundred = decimal.NewFromInt(100)

// TierAllocation is a client's target percentage per tier. Percentages are
// fixed point so that the three entries sum to exactly 100.
type TierAllocation struct {
	ClientID string          `json:"client_id" yaml:"client_id"`
	Low      decimal.Decimal `json:"low" yaml:"low"`
	Medium   decimal.Decimal `json:"medium" yaml:"medium"`
	High     decimal.Decimal `json:"high" yaml:"high"`
}

// Of returns the target percentage of a tier.
func (a TierAllocation) Of(t RiskTier) decimal.Decimal {
	switch t {
	case TierLow:
		return a.Low
	case TierMedium:
		return a.Medium
	case TierHigh:
		return a.High
	}
	return decimal.Zero
}

// With returns a copy of a with the percentage of t replaced.
func (a TierAllocation) With(t RiskTier, pct decimal.Decimal) TierAllocation {
	switch t {
	case TierLow:
		a.Low = pct
	case TierMedium:
		a.Medium = pct
	case TierHigh:
		a.High = pct
	}
	return a
}

// Sum returns the total over all tiers.
func (a TierAllocation) Sum() decimal.Decimal {
	return a.Low.Add(a.Medium).Add(a.High)
}
