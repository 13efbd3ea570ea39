// Package allocation derives a client's target percentage per risk tier from
// their risk tolerance and horizon.
package allocation

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sells-group/etf-advisor/internal/config"
	"github.com/sells-group/etf-advisor/internal/model"
)

// DefaultConfig returns a config.AllocationConfig on a 1..5 tolerance scale
// with a neutral horizon of ten years.
func DefaultConfig() config.AllocationConfig {
	return config.AllocationConfig{
		MaxTolerance: 5,
		Baselines: []config.ToleranceBaseline{
			{Tolerance: 1, TierPercents: config.TierPercents{Low: 60, Medium: 30, High: 10}},
			{Tolerance: 2, TierPercents: config.TierPercents{Low: 50, Medium: 40, High: 10}},
			{Tolerance: 3, TierPercents: config.TierPercents{Low: 40, Medium: 50, High: 10}},
			{Tolerance: 4, TierPercents: config.TierPercents{Low: 30, Medium: 50, High: 20}},
			{Tolerance: 5, TierPercents: config.TierPercents{Low: 20, Medium: 55, High: 25}},
		},
		Labels: map[string]int{
			"low": 1, "medium": 3, "high": 5,
			"baja": 1, "media": 3, "alta": 5,
		},
		NeutralHorizonYears: 10,
		ShiftPerYear:        1,
		MaxShift:            10,
		Precision:           2,
	}
}

// ValidateConfig checks that an AllocationConfig is internally consistent.
func ValidateConfig(c config.AllocationConfig) error {
	var errs []string

	if c.MaxTolerance < 1 {
		errs = append(errs, "max_tolerance must be >= 1")
	}

	seen := make(map[int]bool, len(c.Baselines))
	for _, b := range c.Baselines {
		if b.Tolerance < 1 || b.Tolerance > c.MaxTolerance {
			errs = append(errs, fmt.Sprintf("baseline tolerance %d outside 1..%d", b.Tolerance, c.MaxTolerance))
		}
		if seen[b.Tolerance] {
			errs = append(errs, fmt.Sprintf("baseline tolerance %d listed twice", b.Tolerance))
		}
		seen[b.Tolerance] = true

		for _, t := range model.Tiers {
			if p := b.For(t); p < 0 || p > 100 {
				errs = append(errs, fmt.Sprintf("baseline %d %s must be in [0,100]", b.Tolerance, t))
			}
		}
		if sum := percents(b.TierPercents).Sum(); !sum.Equal(model.Hundred) {
			errs = append(errs, fmt.Sprintf("baseline %d sums to %s, want 100", b.Tolerance, sum))
		}
	}
	for tol := 1; tol <= c.MaxTolerance; tol++ {
		if !seen[tol] {
			errs = append(errs, fmt.Sprintf("no baseline for tolerance %d", tol))
		}
	}

	for label, tol := range c.Labels {
		if tol < 1 || tol > c.MaxTolerance {
			errs = append(errs, fmt.Sprintf("label %q maps outside 1..%d", label, c.MaxTolerance))
		}
	}

	if c.NeutralHorizonYears < 0 {
		errs = append(errs, "neutral_horizon_years must be >= 0")
	}
	if c.ShiftPerYear < 0 {
		errs = append(errs, "shift_per_year must be >= 0")
	}
	if c.MaxShift < 0 || c.MaxShift > 100 {
		errs = append(errs, "max_shift must be in [0,100]")
	}

	for _, t := range model.Tiers {
		if c.Floors.For(t) < 0 {
			errs = append(errs, fmt.Sprintf("floors.%s must be >= 0", t))
		}
	}
	if sum := percents(c.Floors).Sum(); sum.GreaterThan(model.Hundred) {
		errs = append(errs, fmt.Sprintf("floors sum to %s, must be <= 100", sum))
	}

	if c.Precision < 0 || c.Precision > 6 {
		errs = append(errs, "precision must be in [0,6]")
	}

	if len(errs) > 0 {
		return eris.Errorf("allocation: config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ParseTolerance resolves a risk tolerance given either as a number on the
// configured scale or as one of the configured labels.
func ParseTolerance(raw string, c config.AllocationConfig) (int, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return 0, eris.New("allocation: empty risk tolerance")
	}
	if tol, ok := c.Labels[s]; ok {
		return tol, nil
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, eris.Errorf("allocation: unknown risk tolerance %q", raw)
	}
	tol := int(f)
	if float64(tol) != f {
		return 0, eris.Errorf("allocation: risk tolerance %q is not a whole number", raw)
	}
	if tol < 1 || tol > c.MaxTolerance {
		return 0, eris.Errorf("allocation: risk tolerance %d outside 1..%d", tol, c.MaxTolerance)
	}
	return tol, nil
}

// Derive maps a profile to its TierAllocation. The tolerance selects a
// baseline; the horizon then moves up to MaxShift points between LOW and
// HIGH, never taking a tier below zero. Floors are restored afterwards and
// the result is rounded to Precision with any rounding drift placed on the
// largest tier, so the entries always sum to exactly 100.
func Derive(p model.ClientProfile, c config.AllocationConfig) (model.TierAllocation, error) {
	base, ok := baseline(p.RiskTolerance, c)
	if !ok {
		return model.TierAllocation{}, eris.Errorf("allocation: no baseline for risk tolerance %d of client %s", p.RiskTolerance, p.ID)
	}

	alloc := percents(base)
	alloc.ClientID = p.ID
	alloc = applyHorizon(alloc, HorizonShift(p.HorizonYears, c))
	alloc = applyFloors(alloc, percents(c.Floors))
	alloc = round(alloc, c.Precision)

	if err := Check(alloc); err != nil {
		return model.TierAllocation{}, eris.Wrapf(err, "allocation: client %s", p.ID)
	}

	zap.L().Debug("allocation: derived",
		zap.String("client_id", p.ID),
		zap.Int("risk_tolerance", p.RiskTolerance),
		zap.Int("horizon_years", p.HorizonYears),
		zap.String("low", alloc.Low.String()),
		zap.String("medium", alloc.Medium.String()),
		zap.String("high", alloc.High.String()),
	)
	return alloc, nil
}

// HorizonShift returns the signed number of points to move from LOW to HIGH.
// Horizons longer than neutral give a positive shift, shorter ones negative,
// clamped to MaxShift either way.
func HorizonShift(horizonYears int, c config.AllocationConfig) decimal.Decimal {
	years := decimal.NewFromInt(int64(horizonYears - c.NeutralHorizonYears))
	shift := years.Mul(decimal.NewFromFloat(c.ShiftPerYear))
	limit := decimal.NewFromFloat(c.MaxShift)
	return decimal.Min(decimal.Max(shift, limit.Neg()), limit)
}

// Check returns ErrInvalidAllocationSum when an entry is outside [0,100] or
// the entries do not sum to exactly 100.
func Check(a model.TierAllocation) error {
	for _, t := range model.Tiers {
		v := a.Of(t)
		if v.IsNegative() || v.GreaterThan(model.Hundred) {
			return eris.Wrapf(model.ErrInvalidAllocationSum, "%s is %s", t, v)
		}
	}
	if sum := a.Sum(); !sum.Equal(model.Hundred) {
		return eris.Wrapf(model.ErrInvalidAllocationSum, "sum is %s", sum)
	}
	return nil
}

func baseline(tolerance int, c config.AllocationConfig) (config.TierPercents, bool) {
	if tolerance < 1 || tolerance > c.MaxTolerance {
		return config.TierPercents{}, false
	}
	for _, b := range c.Baselines {
		if b.Tolerance == tolerance {
			return b.TierPercents, true
		}
	}
	return config.TierPercents{}, false
}

func percents(p config.TierPercents) model.TierAllocation {
	return model.TierAllocation{
		Low:    decimal.NewFromFloat(p.Low),
		Medium: decimal.NewFromFloat(p.Medium),
		High:   decimal.NewFromFloat(p.High),
	}
}

func applyHorizon(a model.TierAllocation, shift decimal.Decimal) model.TierAllocation {
	switch {
	case shift.IsPositive():
		move := decimal.Min(shift, a.Low)
		a.Low = a.Low.Sub(move)
		a.High = a.High.Add(move)
	case shift.IsNegative():
		move := decimal.Min(shift.Neg(), a.High)
		a.High = a.High.Sub(move)
		a.Low = a.Low.Add(move)
	}
	return a
}

// applyFloors raises every tier below its floor, taking the deficit from the
// tiers with the largest surplus over their own floors.
func applyFloors(a, floors model.TierAllocation) model.TierAllocation {
	for _, t := range model.Tiers {
		need := floors.Of(t).Sub(a.Of(t))
		for need.IsPositive() {
			donor, surplus := largestSurplus(a, floors, t)
			if !surplus.IsPositive() {
				break
			}
			take := decimal.Min(need, surplus)
			a = a.With(donor, a.Of(donor).Sub(take))
			a = a.With(t, a.Of(t).Add(take))
			need = need.Sub(take)
		}
	}
	return a
}

func largestSurplus(a, floors model.TierAllocation, skip model.RiskTier) (model.RiskTier, decimal.Decimal) {
	var (
		best    model.RiskTier
		surplus = decimal.Zero
	)
	for _, t := range model.Tiers {
		if t == skip {
			continue
		}
		if s := a.Of(t).Sub(floors.Of(t)); s.GreaterThan(surplus) {
			best, surplus = t, s
		}
	}
	return best, surplus
}

func round(a model.TierAllocation, places int32) model.TierAllocation {
	for _, t := range model.Tiers {
		a = a.With(t, a.Of(t).Round(places))
	}
	drift := model.Hundred.Sub(a.Sum())
	if drift.IsZero() {
		return a
	}
	largest := model.TierLow
	for _, t := range model.Tiers[1:] {
		if a.Of(t).GreaterThan(a.Of(largest)) {
			largest = t
		}
	}
	return a.With(largest, a.Of(largest).Add(drift))
}
