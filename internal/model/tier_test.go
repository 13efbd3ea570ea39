package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRiskTierIndex(t *testing.T) {
	t.Parallel()

	tests := []struct {
		tier RiskTier
		want int
	}{
		{TierLow, 0},
		{TierMedium, 1},
		{TierHigh, 2},
		{RiskTier("extreme"), -1},
	}

	for _, tt := range tests {
		t.Run(string(tt.tier), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.tier.Index())
			assert.Equal(t, tt.want >= 0, tt.tier.Valid())
		})
	}
}

func TestParseRiskTier(t *testing.T) {
	got, err := ParseRiskTier("medium")
	require.NoError(t, err)
	assert.Equal(t, TierMedium, got)

	_, err = ParseRiskTier("MEDIUM")
	assert.Error(t, err)
}

func TestTiersOrder(t *testing.T) {
	for i, tier := range Tiers {
		assert.Equal(t, i, tier.Index())
	}
}
