package model

// ProjectionPoint is the projected state after Period contribution periods.
type ProjectionPoint struct {
	Period      int     `json:"period" yaml:"period"`
	Years       float64 `json:"years" yaml:"years"`
	Contributed float64 `json:"contributed" yaml:"contributed"`
	Value       float64 `json:"value" yaml:"value"`
}

// ProjectionSeries is the deterministic value path of one portfolio.
type ProjectionSeries struct {
	ClientID       string            `json:"client_id" yaml:"client_id"`
	BlendedReturn  float64           `json:"blended_return" yaml:"blended_return"`
	PeriodsPerYear int               `json:"periods_per_year" yaml:"periods_per_year"`
	Points         []ProjectionPoint `json:"points" yaml:"points"`
}

// Final returns the last point, or a zero point for an empty series.
func (s ProjectionSeries) Final() ProjectionPoint {
	if len(s.Points) == 0 {
		return ProjectionPoint{}
	}
	return s.Points[len(s.Points)-1]
}

// Gain is the final value minus everything contributed.
func (s ProjectionSeries) Gain() float64 {
	f := s.Final()
	return f.Value - f.Contributed
}

// Yearly keeps the starting point and every point that closes a year.
func (s ProjectionSeries) Yearly() []ProjectionPoint {
	if s.PeriodsPerYear <= 1 {
		return s.Points
	}
	var out []ProjectionPoint
	for _, p := range s.Points {
		if p.Period%s.PeriodsPerYear == 0 {
			out = append(out, p)
		}
	}
	return out
}
