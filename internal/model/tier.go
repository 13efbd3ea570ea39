package model

import "github.com/rotisserie/eris"

// RiskTier is one of the three risk buckets.
type RiskTier string

const (
	TierLow    RiskTier = "low"
	TierMedium RiskTier = "medium"
	TierHigh   RiskTier = "high"
)

// Tiers lists every tier from lowest to highest risk.
var Tiers = []RiskTier{TierLow, TierMedium, TierHigh}

// Index returns the position of t in Tiers, or -1 for an unknown tier.
func (t RiskTier) Index() int {
	switch t {
	case TierLow:
		return 0
	case TierMedium:
		return 1
	case TierHigh:
		return 2
	}
	return -1
}

// Valid reports whether t is one of the three tiers.
func (t RiskTier) Valid() bool { return t.Index() >= 0 }

// ParseRiskTier parses a tier name.
func ParseRiskTier(s string) (RiskTier, error) {
	t := RiskTier(s)
	if !t.Valid() {
		return "", eris.Errorf("model: unknown risk tier %q", s)
	}
	return t, nil
}

// Selection maps each tier to its top-N instruments in rank order. A tier
// with no eligible instruments maps to an empty slice.
type Selection map[RiskTier][]ScoredInstrument

// Empty reports whether no tier has a selected instrument.
func (s Selection) Empty() bool {
	for _, items := range s {
		if len(items) > 0 {
			return false
		}
	}
	return true
}

// IDs returns the selected instrument identifiers of a tier in rank order.
func (s Selection) IDs(t RiskTier) []string {
	ids := make([]string, 0, len(s[t]))
	for _, it := range s[t] {
		ids = append(ids, it.ID)
	}
	return ids
}
