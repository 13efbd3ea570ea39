package tiering

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/etf-advisor/internal/config"
	"github.com/sells-group/etf-advisor/internal/model"
)

func scored(id string, vol, score float64) model.ScoredInstrument {
	return model.ScoredInstrument{
		Instrument: model.Instrument{
			ID:      id,
			Metrics: map[string]float64{model.MetricVolatility: vol, model.MetricAUM: 1000},
		},
		CompositeScore: score,
	}
}

func countByTier(items []model.ScoredInstrument) map[model.RiskTier]int {
	counts := map[model.RiskTier]int{}
	for _, it := range items {
		counts[it.Tier]++
	}
	return counts
}

func TestClassifyEvenThirds(t *testing.T) {
	// Nine distinct volatilities, deliberately out of order.
	vols := []float64{7, 2, 9, 4, 1, 6, 3, 8, 5}
	var items []model.ScoredInstrument
	for i, v := range vols {
		items = append(items, scored(fmt.Sprintf("ETF%d", i), v, float64(i)/10))
	}

	out, selection, warnings := Classify(items, DefaultConfig())
	require.Len(t, out, 9)
	assert.Empty(t, warnings)

	counts := countByTier(out)
	assert.Equal(t, 3, counts[model.TierLow])
	assert.Equal(t, 3, counts[model.TierMedium])
	assert.Equal(t, 3, counts[model.TierHigh])

	for _, it := range out {
		vol, _ := it.Metric(model.MetricVolatility)
		switch {
		case vol <= 3:
			assert.Equal(t, model.TierLow, it.Tier, it.ID)
		case vol <= 6:
			assert.Equal(t, model.TierMedium, it.Tier, it.ID)
		default:
			assert.Equal(t, model.TierHigh, it.Tier, it.ID)
		}
	}

	// Input order is preserved.
	for i := range items {
		assert.Equal(t, items[i].ID, out[i].ID)
	}

	for _, tier := range model.Tiers {
		assert.Len(t, selection[tier], 3)
	}
}

func TestClassifyBoundaryTiesGoLower(t *testing.T) {
	cuts := []float64{2, 3}
	assert.Equal(t, model.TierLow, TierFor(2, cuts))
	assert.Equal(t, model.TierMedium, TierFor(2.0001, cuts))
	assert.Equal(t, model.TierMedium, TierFor(3, cuts))
	assert.Equal(t, model.TierHigh, TierFor(3.5, cuts))

	items := []model.ScoredInstrument{
		scored("A", 1, 0.1), scored("B", 2, 0.1), scored("C", 3, 0.1),
		scored("D", 3, 0.1), scored("E", 5, 0.1), scored("F", 6, 0.1),
	}
	out, _, _ := Classify(items, DefaultConfig())
	got := map[string]model.RiskTier{}
	for _, it := range out {
		got[it.ID] = it.Tier
	}
	assert.Equal(t, map[string]model.RiskTier{
		"A": model.TierLow, "B": model.TierLow,
		"C": model.TierMedium, "D": model.TierMedium,
		"E": model.TierHigh, "F": model.TierHigh,
	}, got)
}

func TestClassifyDegenerateDistribution(t *testing.T) {
	items := []model.ScoredInstrument{
		scored("A", 10, 0.3), scored("B", 10, 0.5), scored("C", 10, 0.4),
	}

	out, selection, warnings := Classify(items, DefaultConfig())

	counts := countByTier(out)
	assert.Equal(t, 3, counts[model.TierLow])
	require.Contains(t, selection, model.TierMedium)
	require.Contains(t, selection, model.TierHigh)
	assert.Empty(t, selection[model.TierMedium])
	assert.Empty(t, selection[model.TierHigh])
	assert.Equal(t, []string{"B", "C", "A"}, selection.IDs(model.TierLow))

	require.Len(t, warnings, 2)
	for _, w := range warnings {
		assert.Equal(t, model.WarningDegenerateDistribution, w.Kind)
	}
	assert.False(t, selection.Empty())
}

func TestClassifyTopN(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TopN = config.TierCounts{Low: 2, Medium: 1, High: 0}

	items := []model.ScoredInstrument{
		scored("L1", 1, 0.2), scored("L2", 2, 0.9), scored("L3", 3, 0.5),
		scored("M1", 4, 0.4), scored("M2", 5, 0.6), scored("M3", 6, 0.6),
		scored("H1", 7, 0.8), scored("H2", 8, 0.1), scored("H3", 9, 0.3),
	}

	out, selection, _ := Classify(items, cfg)

	assert.Equal(t, []string{"L2", "L3"}, selection.IDs(model.TierLow))
	// Equal score and AUM fall back to identifier order.
	assert.Equal(t, []string{"M2"}, selection.IDs(model.TierMedium))
	assert.Empty(t, selection.IDs(model.TierHigh))

	byID := map[string]model.ScoredInstrument{}
	for _, it := range out {
		byID[it.ID] = it
	}
	assert.Equal(t, 3, byID["L1"].TierRank)
	assert.False(t, byID["L1"].Selected)
	assert.True(t, byID["L2"].Selected)
	assert.Equal(t, 2, byID["M3"].TierRank)
	assert.False(t, byID["M3"].Selected)
	assert.Equal(t, 1, byID["H1"].TierRank)
	assert.False(t, byID["H1"].Selected)
}

func TestClassifyMissingMetric(t *testing.T) {
	items := []model.ScoredInstrument{
		scored("A", 1, 0.1), scored("B", 2, 0.1), scored("C", 3, 0.1),
		{Instrument: model.Instrument{ID: "X"}, CompositeScore: 0.9},
	}

	out, _, warnings := Classify(items, DefaultConfig())
	assert.Equal(t, model.TierHigh, out[3].Tier)

	var missing int
	for _, w := range warnings {
		if w.Kind == model.WarningMissingMetric {
			missing++
			assert.Equal(t, "X", w.Subject)
		}
	}
	assert.Equal(t, 1, missing)
}

func TestClassifyEmptyBatch(t *testing.T) {
	out, selection, warnings := Classify(nil, DefaultConfig())
	assert.Empty(t, out)
	assert.Empty(t, warnings)
	assert.True(t, selection.Empty())
	assert.Len(t, selection, 3)
}

func TestClassifyIdempotent(t *testing.T) {
	var items []model.ScoredInstrument
	for i := 0; i < 20; i++ {
		items = append(items, scored(fmt.Sprintf("E%02d", i), float64((i*11)%17), float64((i*5)%7)/7))
	}
	first, _, _ := Classify(items, DefaultConfig())
	second, _, _ := Classify(first, DefaultConfig())
	assert.Equal(t, first, second)
}

func TestCuts(t *testing.T) {
	assert.Nil(t, Cuts(nil, []float64{0.5}))
	assert.Equal(t, []float64{3, 6}, Cuts([]float64{9, 8, 7, 6, 5, 4, 3, 2, 1}, []float64{1.0 / 3, 2.0 / 3}))
	assert.Equal(t, []float64{4}, Cuts([]float64{4}, []float64{0.5}))
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.TieringConfig)
		wantErr string
	}{
		{name: "defaults", mutate: func(*config.TieringConfig) {}},
		{name: "unknown metric", mutate: func(c *config.TieringConfig) { c.Metric = "beta" }, wantErr: "unknown tiering metric"},
		{name: "one cut", mutate: func(c *config.TieringConfig) { c.CutPoints = []float64{0.5} }, wantErr: "needs 2 values"},
		{name: "out of range", mutate: func(c *config.TieringConfig) { c.CutPoints = []float64{0, 0.5} }, wantErr: "must be in (0,1)"},
		{name: "not increasing", mutate: func(c *config.TieringConfig) { c.CutPoints = []float64{0.6, 0.4} }, wantErr: "strictly increasing"},
		{name: "negative top n", mutate: func(c *config.TieringConfig) { c.TopN.High = -1 }, wantErr: "top_n.high"},
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
