package export

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/etf-advisor/internal/model"
)

func ptr(v float64) *float64 { return &v }

func sampleRecommendation() model.Recommendation {
	return model.Recommendation{
		ClientID: "C-1",
		Profile:  model.ClientProfile{ID: "C-1", HorizonYears: 2, RiskTolerance: 3},
		Allocation: model.TierAllocation{
			ClientID: "C-1",
			Low:      decimal.NewFromInt(48),
			Medium:   decimal.NewFromInt(50),
			High:     decimal.NewFromInt(2),
		},
		Portfolio: model.Portfolio{
			ClientID: "C-1",
			Lines: []model.PortfolioLine{
				{InstrumentID: "A", Tier: model.TierLow, CompositeScore: 0.8, WithinTierWeight: 100, FinalWeight: 48, ExpectedReturn: ptr(3.5)},
				{InstrumentID: "B", Tier: model.TierMedium, CompositeScore: 0.6, WithinTierWeight: 100, FinalWeight: 50},
				{InstrumentID: "C", Tier: model.TierHigh, CompositeScore: 0.4, WithinTierWeight: 100, FinalWeight: 2},
			},
			TierWeights: map[model.RiskTier]float64{model.TierLow: 48, model.TierMedium: 50, model.TierHigh: 2},
		},
		Projection: model.ProjectionSeries{
			ClientID:       "C-1",
			PeriodsPerYear: 2,
			Points: []model.ProjectionPoint{
				{Period: 0, Years: 0, Contributed: 0, Value: 0},
				{Period: 1, Years: 0.5, Contributed: 1000, Value: 1000},
				{Period: 2, Years: 1, Contributed: 2000, Value: 2010.5},
			},
		},
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"table", FormatTable, false},
		{" CSV ", FormatCSV, false},
		{"xlsx", FormatXLSX, false},
		{"json", FormatJSON, false},
		{"yml", FormatYAML, false},
		{"yaml", FormatYAML, false},
		{"pdf", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.True(t, FormatCSV.Tabular())
	assert.False(t, FormatJSON.Tabular())
}

func TestWriteCSV(t *testing.T) {
	recs := []model.Recommendation{sampleRecommendation()}

	var buf bytes.Buffer
	err := NewWriter(FormatCSV, language.English).Write(&buf, recs, PortfolioTable(recs))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "client_id,instrument_id,category,risk_tier,composite_score,within_tier_weight,final_portfolio_weight,expected_return", lines[0])
	assert.Equal(t, "C-1,A,,low,0.8,100,48,3.5", lines[1])
	assert.Equal(t, "C-1,B,,medium,0.6,100,50,", lines[2])
}

func TestWriteCSVMultipleTables(t *testing.T) {
	recs := []model.Recommendation{sampleRecommendation()}

	var buf bytes.Buffer
	err := NewWriter(FormatCSV, language.English).Write(&buf, nil, AllocationTable(recs), SummaryTable(recs))
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "# Allocations\n")
	assert.Contains(t, out, "\n\n# Summary\n")
	assert.Contains(t, out, "C-1,3,2,48,50,2,48,50,2\n")
}

func TestWriteText(t *testing.T) {
	items := []model.ScoredInstrument{
		{
			Instrument:     model.Instrument{ID: "IE00B4L5Y983", Category: "equity", Metrics: map[string]float64{"aum": 72000000000}},
			CompositeScore: 0.71234,
			Tier:           model.TierMedium,
			TierRank:       1,
			Selected:       true,
		},
	}

	var buf bytes.Buffer
	err := NewWriter(FormatTable, language.English).Write(&buf, items, ScoredTable(items, []string{"aum", "volatility"}))
	require.NoError(t, err)

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "Scored instruments\n"))
	assert.Contains(t, out, "72,000,000,000.00")
	assert.Contains(t, out, "0.7123")
	assert.Contains(t, out, "IE00B4L5Y983")
	// absent volatility
	assert.Contains(t, out, " -")
}

func TestWriteJSON(t *testing.T) {
	rec := sampleRecommendation()

	var buf bytes.Buffer
	require.NoError(t, NewWriter(FormatJSON, language.English).Write(&buf, rec))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "C-1", decoded["client_id"])
	alloc := decoded["allocation"].(map[string]any)
	assert.Equal(t, "48", alloc["low"])
}

func TestWriteYAML(t *testing.T) {
	rec := sampleRecommendation()

	var buf bytes.Buffer
	require.NoError(t, NewWriter(FormatYAML, language.English).Write(&buf, rec))

	var decoded map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "C-1", decoded["client_id"])
	portfolio := decoded["portfolio"].(map[string]any)
	assert.Len(t, portfolio["lines"], 3)
	assert.Contains(t, buf.String(), "final_portfolio_weight: 48")
}

func TestWriteXLSX(t *testing.T) {
	recs := []model.Recommendation{sampleRecommendation()}
	path := filepath.Join(t.TempDir(), "out.xlsx")

	w := NewWriter(FormatXLSX, language.English)
	require.NoError(t, w.WriteFile(path, recs, SummaryTable(recs), ProjectionTable(recs, true)))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	require.Len(t, f.Sheets, 2)
	assert.Equal(t, "Summary", f.Sheets[0].Name)

	proj := f.Sheet["Projections"]
	require.NotNil(t, proj)
	// header + periods 0 and 2
	assert.Len(t, proj.Rows, 3)
	assert.Equal(t, "client_id", proj.Rows[0].Cells[0].String())
	v, err := proj.Rows[2].Cells[4].Float()
	require.NoError(t, err)
	assert.InDelta(t, 2010.5, v, 1e-9)
}

func TestWriteFileXLSXNeedsPath(t *testing.T) {
	err := NewWriter(FormatXLSX, language.English).WriteFile("", nil)
	assert.Error(t, err)
}

func TestSelectionTable(t *testing.T) {
	sel := model.Selection{
		model.TierLow:    {{Instrument: model.Instrument{ID: "A"}, TierRank: 1}, {Instrument: model.Instrument{ID: "B"}, TierRank: 2}},
		model.TierMedium: {},
		model.TierHigh:   {{Instrument: model.Instrument{ID: "C"}, TierRank: 1}},
	}
	tbl := SelectionTable(sel)
	require.Len(t, tbl.Rows, 3)
	assert.Equal(t, model.TierLow, tbl.Rows[0][0])
	assert.Equal(t, "B", tbl.Rows[1][2])
	assert.Equal(t, model.TierHigh, tbl.Rows[2][0])
}

func TestWarningTable(t *testing.T) {
	tbl := WarningTable([]model.Warning{{Kind: model.WarningMissingMetric, Subject: "X", Message: "volatility missing"}})
	require.Len(t, tbl.Rows, 1)
	assert.Equal(t, []any{"missing_metric", "X", "volatility missing"}, tbl.Rows[0])
	assert.Equal(t, []string{"kind", "subject", "message"}, tbl.Header())
}

func TestProjectionTableFull(t *testing.T) {
	recs := []model.Recommendation{sampleRecommendation()}
	assert.Len(t, ProjectionTable(recs, false).Rows, 3)
	assert.Len(t, ProjectionTable(recs, true).Rows, 2)
}

func TestTargetTable(t *testing.T) {
	profiles := []model.ClientProfile{{ID: "C-1", RiskTolerance: 2, HorizonYears: 12}}
	allocs := []model.TierAllocation{{
		ClientID: "C-1",
		Low:      decimal.RequireFromString("48"),
		Medium:   decimal.RequireFromString("40"),
		High:     decimal.RequireFromString("12"),
	}}
	tbl := TargetTable(profiles, allocs)
	require.Len(t, tbl.Rows, 1)
	assert.Equal(t, []string{"client_id", "risk_tolerance", "horizon_years", "low", "medium", "high"}, tbl.Header())

	var buf bytes.Buffer
	require.NoError(t, NewWriter(FormatCSV, language.English).Write(&buf, nil, tbl))
	assert.Contains(t, buf.String(), "C-1,2,12,48,40,12")
}
