package export

import (
	"github.com/sells-group/etf-advisor/internal/model"
)

// ScoredTable lists every scored instrument with the raw value of each
// named metric. Absent metrics render empty.
func ScoredTable(items []model.ScoredInstrument, metrics []string) Table {
	t := Table{
		Name: "Scored instruments",
		Columns: []Column{
			{Name: "id"},
			{Name: "category"},
			{Name: "risk_tier"},
			{Name: "tier_rank"},
			{Name: "selected"},
			{Name: "composite_score", Decimals: 4},
		},
	}
	for _, m := range metrics {
		t.Columns = append(t.Columns, Column{Name: m, Decimals: 2})
	}

	for _, it := range items {
		row := []any{it.ID, it.Category, it.Tier, it.TierRank, it.Selected, it.CompositeScore}
		for _, m := range metrics {
			if v, ok := it.Metric(m); ok {
				row = append(row, v)
			} else {
				row = append(row, (*float64)(nil))
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

// SelectionTable lists the top-N instruments of every tier in rank order.
func SelectionTable(sel model.Selection) Table {
	t := Table{
		Name: "Selection",
		Columns: []Column{
			{Name: "risk_tier"},
			{Name: "rank"},
			{Name: "id"},
			{Name: "category"},
			{Name: "composite_score", Decimals: 4},
		},
	}
	for _, tier := range model.Tiers {
		for _, it := range sel[tier] {
			t.Rows = append(t.Rows, []any{tier, it.TierRank, it.ID, it.Category, it.CompositeScore})
		}
	}
	return t
}

// AllocationTable shows each client's target and effective tier split.
func AllocationTable(recs []model.Recommendation) Table {
	t := Table{
		Name: "Allocations",
		Columns: []Column{
			{Name: "client_id"},
			{Name: "risk_tolerance"},
			{Name: "horizon_years"},
			{Name: "target_low", Decimals: 2},
			{Name: "target_medium", Decimals: 2},
			{Name: "target_high", Decimals: 2},
			{Name: "effective_low", Decimals: 2},
			{Name: "effective_medium", Decimals: 2},
			{Name: "effective_high", Decimals: 2},
		},
	}
	for _, r := range recs {
		t.Rows = append(t.Rows, []any{
			r.ClientID,
			r.Profile.RiskTolerance,
			r.Profile.HorizonYears,
			r.Allocation.Low,
			r.Allocation.Medium,
			r.Allocation.High,
			r.Portfolio.TierWeights[model.TierLow],
			r.Portfolio.TierWeights[model.TierMedium],
			r.Portfolio.TierWeights[model.TierHigh],
		})
	}
	return t
}

// TargetTable shows the target tier split derived for each client.
func TargetTable(profiles []model.ClientProfile, allocs []model.TierAllocation) Table {
	t := Table{
		Name: "Targets",
		Columns: []Column{
			{Name: "client_id"},
			{Name: "risk_tolerance"},
			{Name: "horizon_years"},
			{Name: "low", Decimals: 2},
			{Name: "medium", Decimals: 2},
			{Name: "high", Decimals: 2},
		},
	}
	for i, a := range allocs {
		p := profiles[i]
		t.Rows = append(t.Rows, []any{a.ClientID, p.RiskTolerance, p.HorizonYears, a.Low, a.Medium, a.High})
	}
	return t
}

// PortfolioTable lists every portfolio line of every client.
func PortfolioTable(recs []model.Recommendation) Table {
	t := Table{
		Name: "Portfolios",
		Columns: []Column{
			{Name: "client_id"},
			{Name: "instrument_id"},
			{Name: "category"},
			{Name: "risk_tier"},
			{Name: "composite_score", Decimals: 4},
			{Name: "within_tier_weight", Decimals: 2},
			{Name: "final_portfolio_weight", Decimals: 2},
			{Name: "expected_return", Decimals: 2},
		},
	}
	for _, r := range recs {
		for _, l := range r.Portfolio.Lines {
			t.Rows = append(t.Rows, []any{
				r.ClientID,
				l.InstrumentID,
				l.Category,
				l.Tier,
				l.CompositeScore,
				l.WithinTierWeight,
				l.FinalWeight,
				l.ExpectedReturn,
			})
		}
	}
	return t
}

// ProjectionTable lists the projected value path of every client. With
// yearly set only the start and year-end points are kept.
func ProjectionTable(recs []model.Recommendation, yearly bool) Table {
	t := Table{
		Name: "Projections",
		Columns: []Column{
			{Name: "client_id"},
			{Name: "period"},
			{Name: "years", Decimals: 2},
			{Name: "contributed", Decimals: 2},
			{Name: "value", Decimals: 2},
		},
	}
	for _, r := range recs {
		points := r.Projection.Points
		if yearly {
			points = r.Projection.Yearly()
		}
		for _, p := range points {
			t.Rows = append(t.Rows, []any{r.ClientID, p.Period, p.Years, p.Contributed, p.Value})
		}
	}
	return t
}

// SummaryTable shows one line per client with the final projected value.
func SummaryTable(recs []model.Recommendation) Table {
	t := Table{
		Name: "Summary",
		Columns: []Column{
			{Name: "client_id"},
			{Name: "lines"},
			{Name: "blended_return", Decimals: 2},
			{Name: "contributed", Decimals: 2},
			{Name: "final_value", Decimals: 2},
			{Name: "gain", Decimals: 2},
			{Name: "warnings"},
		},
	}
	for _, r := range recs {
		final := r.Projection.Final()
		t.Rows = append(t.Rows, []any{
			r.ClientID,
			len(r.Portfolio.Lines),
			r.Projection.BlendedReturn,
			final.Contributed,
			final.Value,
			r.Projection.Gain(),
			len(r.Warnings),
		})
	}
	return t
}

// WarningTable lists data-quality warnings.
func WarningTable(warnings []model.Warning) Table {
	t := Table{
		Name: "Warnings",
		Columns: []Column{
			{Name: "kind"},
			{Name: "subject"},
			{Name: "message"},
		},
	}
	for _, w := range warnings {
		t.Rows = append(t.Rows, []any{string(w.Kind), w.Subject, w.Message})
	}
	return t
}
