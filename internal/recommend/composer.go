// Package recommend composes a client's weighted portfolio from the tier
// selections and the client's target allocation.
package recommend

import (
	"fmt"
	"math"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/etf-advisor/internal/config"
	"github.com/sells-group/etf-advisor/internal/model"
)

// DefaultConfig returns a config.ComposerConfig that uses every selected
// instrument and accepts a weight total within 0.01 of 100.
func DefaultConfig() config.ComposerConfig {
	return config.ComposerConfig{Tolerance: 0.01}
}

// ValidateConfig checks that a ComposerConfig is internally consistent.
func ValidateConfig(c config.ComposerConfig) error {
	var errs []string

	if c.Tolerance <= 0 || c.Tolerance > 1 {
		errs = append(errs, "tolerance must be in (0,1]")
	}
	seen := make(map[float64]bool, len(c.LineRules))
	for _, r := range c.LineRules {
		if r.MinPercent < 0 || r.MinPercent > 100 {
			errs = append(errs, fmt.Sprintf("line rule min_percent %g must be in [0,100]", r.MinPercent))
		}
		if r.MaxLines < 1 {
			errs = append(errs, fmt.Sprintf("line rule at %g%% must allow at least one line", r.MinPercent))
		}
		if seen[r.MinPercent] {
			errs = append(errs, fmt.Sprintf("line rule min_percent %g listed twice", r.MinPercent))
		}
		seen[r.MinPercent] = true
	}

	if len(errs) > 0 {
		return eris.Errorf("recommend: config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Compose builds the portfolio of one client.
//
// Each tier's target percentage is split among its selected instruments in
// proportion to composite score. A tier with a positive target but no
// selected instruments hands its percentage to the non-empty tiers in
// proportion to their own targets, or equally when they all target zero.
// The distributed total must be within the configured tolerance of 100; it
// is then renormalized to remove floating-point drift and checked again. A
// miss is returned as ErrInvalidAllocationSum.
func Compose(sel model.Selection, alloc model.TierAllocation, cfg config.ComposerConfig) (model.Portfolio, []model.Warning, error) {
	if sel.Empty() {
		return model.Portfolio{}, nil, eris.Wrapf(model.ErrNoEligibleInstruments, "recommend: client %s", alloc.ClientID)
	}

	effective, moved, warnings := Redistribute(sel, alloc)

	portfolio := model.Portfolio{
		ClientID:      alloc.ClientID,
		TierWeights:   effective,
		Redistributed: moved,
	}
	for _, t := range model.Tiers {
		pct := effective[t]
		if pct <= 0 {
			continue
		}
		candidates := sel[t]
		if n := maxLines(pct, cfg.LineRules); n < len(candidates) {
			candidates = candidates[:n]
		}
		portfolio.Lines = append(portfolio.Lines, tierLines(t, pct, candidates)...)
	}

	if err := renormalize(portfolio.Lines, cfg.Tolerance); err != nil {
		return model.Portfolio{}, nil, eris.Wrapf(err, "recommend: client %s", alloc.ClientID)
	}

	zap.L().Debug("recommend: portfolio composed",
		zap.String("client_id", alloc.ClientID),
		zap.Int("lines", len(portfolio.Lines)),
		zap.Int("warnings", len(warnings)),
	)
	return portfolio, warnings, nil
}

// Redistribute returns the effective percentage of every tier after the
// targets of empty tiers were moved to the non-empty ones, together with the
// amount moved away from each empty tier.
func Redistribute(sel model.Selection, alloc model.TierAllocation) (effective, moved map[model.RiskTier]float64, warnings []model.Warning) {
	effective = make(map[model.RiskTier]float64, len(model.Tiers))
	var (
		removed  float64
		base     float64
		nonEmpty []model.RiskTier
	)
	for _, t := range model.Tiers {
		target := alloc.Of(t).InexactFloat64()
		if len(sel[t]) == 0 {
			if target > 0 {
				removed += target
				if moved == nil {
					moved = make(map[model.RiskTier]float64)
				}
				moved[t] = target
				warnings = append(warnings, model.Warning{
					Kind:    model.WarningEmptyTierSelection,
					Subject: alloc.ClientID,
					Message: fmt.Sprintf("%s tier has no selected instruments, redistributing %.2f%%", t, target),
				})
			}
			effective[t] = 0
			continue
		}
		effective[t] = target
		base += target
		nonEmpty = append(nonEmpty, t)
	}

	if removed == 0 || len(nonEmpty) == 0 {
		return effective, moved, warnings
	}
	for _, t := range nonEmpty {
		if base > 0 {
			effective[t] += removed * effective[t] / base
		} else {
			effective[t] += removed / float64(len(nonEmpty))
		}
	}
	return effective, moved, warnings
}

// maxLines returns the number of instruments used for a tier holding pct
// percent. The rule with the highest MinPercent not above pct applies; with
// no applicable rule every selected instrument is used.
func maxLines(pct float64, rules []config.LineRule) int {
	best := -1
	for i, r := range rules {
		if pct >= r.MinPercent && (best < 0 || r.MinPercent > rules[best].MinPercent) {
			best = i
		}
	}
	if best < 0 {
		return math.MaxInt
	}
	return rules[best].MaxLines
}

func tierLines(t model.RiskTier, pct float64, candidates []model.ScoredInstrument) []model.PortfolioLine {
	var total float64
	for _, c := range candidates {
		total += math.Max(c.CompositeScore, 0)
	}

	lines := make([]model.PortfolioLine, 0, len(candidates))
	for _, c := range candidates {
		share := 1 / float64(len(candidates))
		if total > 0 {
			share = math.Max(c.CompositeScore, 0) / total
		}
		if share == 0 {
			continue
		}
		lines = append(lines, model.PortfolioLine{
			InstrumentID:     c.ID,
			Category:         c.Category,
			Tier:             t,
			CompositeScore:   c.CompositeScore,
			WithinTierWeight: share * 100,
			FinalWeight:      pct * share,
		})
	}
	return lines
}

func renormalize(lines []model.PortfolioLine, tolerance float64) error {
	var total float64
	for _, l := range lines {
		total += l.FinalWeight
	}
	if math.Abs(total-100) > tolerance {
		return eris.Wrapf(model.ErrInvalidAllocationSum, "distributed weights sum to %.6f", total)
	}

	factor := 100 / total
	var sum float64
	for i := range lines {
		lines[i].FinalWeight *= factor
		sum += lines[i].FinalWeight
	}
	if math.Abs(sum-100) > tolerance {
		return eris.Wrapf(model.ErrInvalidAllocationSum, "portfolio weights sum to %.6f", sum)
	}
	return nil
}
