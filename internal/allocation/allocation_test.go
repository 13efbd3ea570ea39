package allocation

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/etf-advisor/internal/config"
	"github.com/sells-group/etf-advisor/internal/model"
)

func profile(tolerance, horizon int) model.ClientProfile {
	return model.ClientProfile{ID: "C-1", Age: 40, HorizonYears: horizon, RiskTolerance: tolerance}
}

func assertAlloc(t *testing.T, a model.TierAllocation, low, medium, high string) {
	t.Helper()
	assert.True(t, a.Low.Equal(decimal.RequireFromString(low)), "low = %s, want %s", a.Low, low)
	assert.True(t, a.Medium.Equal(decimal.RequireFromString(medium)), "medium = %s, want %s", a.Medium, medium)
	assert.True(t, a.High.Equal(decimal.RequireFromString(high)), "high = %s, want %s", a.High, high)
}

func TestDerive(t *testing.T) {
	tests := []struct {
		name              string
		tolerance         int
		horizon           int
		low, medium, high string
	}{
		{"neutral horizon keeps baseline", 3, 10, "40", "50", "10"},
		{"conservative neutral", 1, 10, "60", "30", "10"},
		{"long horizon shifts to high", 2, 14, "46", "40", "14"},
		{"long horizon clamped", 1, 50, "50", "30", "20"},
		{"short horizon shifts to low", 3, 2, "48", "50", "2"},
		{"shortest horizon", 3, 1, "49", "50", "1"},
		{"aggressive long", 5, 30, "10", "55", "35"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Derive(profile(tt.tolerance, tt.horizon), DefaultConfig())
			require.NoError(t, err)
			assert.Equal(t, "C-1", got.ClientID)
			assertAlloc(t, got, tt.low, tt.medium, tt.high)
		})
	}
}

func TestDeriveMaxToleranceLongHorizon(t *testing.T) {
	cfg := DefaultConfig()
	got, err := Derive(profile(cfg.MaxTolerance, 30), cfg)
	require.NoError(t, err)
	assert.True(t, got.High.GreaterThanOrEqual(got.Low), "high %s < low %s", got.High, got.Low)
}

func TestDeriveShiftNeverGoesNegative(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxShift = 100
	cfg.ShiftPerYear = 2

	got, err := Derive(profile(5, 100), cfg)
	require.NoError(t, err)
	assertAlloc(t, got, "0", "55", "45")

	got, err = Derive(profile(1, 1), cfg)
	require.NoError(t, err)
	assertAlloc(t, got, "70", "30", "0")
}

func TestDeriveFloors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Floors = config.TierPercents{Low: 20, Medium: 20, High: 10}

	got, err := Derive(profile(5, 30), cfg)
	require.NoError(t, err)
	// LOW falls to 10 after the shift and is restored from MEDIUM.
	assertAlloc(t, got, "20", "45", "35")

	got, err = Derive(profile(1, 1), cfg)
	require.NoError(t, err)
	// HIGH falls to 1 and is restored from LOW.
	assertAlloc(t, got, "60", "30", "10")
}

func TestDeriveRoundingDrift(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Baselines[2] = config.ToleranceBaseline{
		Tolerance:    3,
		TierPercents: config.TierPercents{Low: 33.333, Medium: 33.333, High: 33.334},
	}

	got, err := Derive(profile(3, 10), cfg)
	require.NoError(t, err)
	assertAlloc(t, got, "33.34", "33.33", "33.33")
	assert.True(t, got.Sum().Equal(model.Hundred))
}

func TestDeriveAlwaysSumsToHundred(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Floors = config.TierPercents{Low: 5, Medium: 5, High: 5}
	cfg.ShiftPerYear = 0.75

	for tol := 1; tol <= cfg.MaxTolerance; tol++ {
		for horizon := 1; horizon <= 60; horizon++ {
			got, err := Derive(profile(tol, horizon), cfg)
			require.NoError(t, err)
			require.True(t, got.Sum().Equal(model.Hundred), "tol %d horizon %d sums to %s", tol, horizon, got.Sum())
			for _, tier := range model.Tiers {
				v := got.Of(tier)
				require.False(t, v.IsNegative())
				require.True(t, v.LessThanOrEqual(model.Hundred))
			}

			again, err := Derive(profile(tol, horizon), cfg)
			require.NoError(t, err)
			require.Equal(t, got, again)
		}
	}
}

func TestDeriveUnknownTolerance(t *testing.T) {
	_, err := Derive(profile(9, 10), DefaultConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no baseline")
}

func TestHorizonShift(t *testing.T) {
	cfg := DefaultConfig()
	assert.True(t, HorizonShift(10, cfg).IsZero())
	assert.True(t, HorizonShift(13, cfg).Equal(decimal.NewFromInt(3)))
	assert.True(t, HorizonShift(40, cfg).Equal(decimal.NewFromInt(10)))
	assert.True(t, HorizonShift(1, cfg).Equal(decimal.NewFromInt(-9)))

	cfg.ShiftPerYear = 5
	assert.True(t, HorizonShift(1, cfg).Equal(decimal.NewFromInt(-10)))
}

func TestCheck(t *testing.T) {
	ok := model.TierAllocation{Low: decimal.NewFromInt(20), Medium: decimal.NewFromInt(30), High: decimal.NewFromInt(50)}
	assert.NoError(t, Check(ok))

	short := ok.With(model.TierHigh, decimal.RequireFromString("49.98"))
	err := Check(short)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrInvalidAllocationSum))

	negative := model.TierAllocation{Low: decimal.NewFromInt(-10), Medium: decimal.NewFromInt(60), High: decimal.NewFromInt(50)}
	assert.True(t, errors.Is(Check(negative), model.ErrInvalidAllocationSum))
}

func TestParseTolerance(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		raw     string
		want    int
		wantErr bool
	}{
		{"3", 3, false},
		{" 5 ", 5, false},
		{"2.0", 2, false},
		{"Alta", 5, false},
		{"baja", 1, false},
		{"MEDIUM", 3, false},
		{"2.5", 0, true},
		{"0", 0, true},
		{"6", 0, true},
		{"extreme", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseTolerance(tt.raw, cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.AllocationConfig)
		wantErr string
	}{
		{name: "defaults", mutate: func(*config.AllocationConfig) {}},
		{name: "baseline sum", mutate: func(c *config.AllocationConfig) { c.Baselines[0].Low = 70 }, wantErr: "sums to"},
		{name: "missing baseline", mutate: func(c *config.AllocationConfig) { c.Baselines = c.Baselines[:4] }, wantErr: "no baseline for tolerance 5"},
		{name: "duplicate baseline", mutate: func(c *config.AllocationConfig) { c.Baselines[1].Tolerance = 1 }, wantErr: "listed twice"},
		{name: "label out of scale", mutate: func(c *config.AllocationConfig) { c.Labels["extreme"] = 7 }, wantErr: "label \"extreme\""},
		{name: "floors too big", mutate: func(c *config.AllocationConfig) {
			c.Floors = config.TierPercents{Low: 50, Medium: 40, High: 20}
		}, wantErr: "floors sum"},
		{name: "negative shift", mutate: func(c *config.AllocationConfig) { c.ShiftPerYear = -1 }, wantErr: "shift_per_year"},
		{name: "max shift", mutate: func(c *config.AllocationConfig) { c.MaxShift = 150 }, wantErr: "max_shift"},
		{name: "precision", mutate: func(c *config.AllocationConfig) { c.Precision = 9 }, wantErr: "precision"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := ValidateConfig(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
