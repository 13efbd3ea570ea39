// Package projection simulates the value of a portfolio under periodic
// contributions with deterministic compound growth.
package projection

import (
	"fmt"
	"math"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"github.com/sells-group/etf-advisor/internal/config"
	"github.com/sells-group/etf-advisor/internal/model"
)

var validate = validator.New()

// Params configures one projection. Zero PeriodsPerYear and RateConversion
// take their defaults.
type Params struct {
	ClientID       string  `json:"client_id"`
	Contribution   float64 `json:"contribution" validate:"gte=0"`
	HorizonYears   int     `json:"horizon_years" validate:"gte=0,lte=100"`
	PeriodsPerYear int     `json:"periods_per_year" default:"12" validate:"gte=1,lte=365"`
	RateConversion string  `json:"rate_conversion" default:"effective" validate:"oneof=effective nominal"`
	InitialValue   float64 `json:"initial_value" validate:"gte=0"`
}

// DefaultConfig returns a config.ProjectionConfig with monthly periods and
// effective rate conversion.
func DefaultConfig() config.ProjectionConfig {
	return config.ProjectionConfig{
		PeriodsPerYear:       12,
		RateConversion:       config.RateEffective,
		ReturnMetric:         model.MetricExpectedReturn,
		FallbackReturnMetric: model.MetricReturn1Y,
	}
}

// ValidateConfig checks that a ProjectionConfig is internally consistent.
func ValidateConfig(c config.ProjectionConfig) error {
	var errs []string

	if c.PeriodsPerYear < 1 || c.PeriodsPerYear > 365 {
		errs = append(errs, "periods_per_year must be in [1,365]")
	}
	if c.RateConversion != config.RateEffective && c.RateConversion != config.RateNominal {
		errs = append(errs, "rate_conversion must be effective or nominal")
	}
	if c.InitialValue < 0 {
		errs = append(errs, "initial_value must be >= 0")
	}
	if !returnMetric(c.ReturnMetric) {
		errs = append(errs, fmt.Sprintf("unknown return_metric %q", c.ReturnMetric))
	}
	if c.FallbackReturnMetric != "" && !returnMetric(c.FallbackReturnMetric) {
		errs = append(errs, fmt.Sprintf("unknown fallback_return_metric %q", c.FallbackReturnMetric))
	}

	if len(errs) > 0 {
		return eris.Errorf("projection: config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func returnMetric(name string) bool {
	return name == model.MetricExpectedReturn || model.IsKnownMetric(name)
}

// ParamsFor builds the projection parameters of a client.
func ParamsFor(p model.ClientProfile, c config.ProjectionConfig) Params {
	return Params{
		ClientID:       p.ID,
		Contribution:   p.PeriodicContribution,
		HorizonYears:   p.HorizonYears,
		PeriodsPerYear: c.PeriodsPerYear,
		RateConversion: c.RateConversion,
		InitialValue:   c.InitialValue,
	}
}

// WithReturns returns a copy of the portfolio whose lines carry the annual
// return used for projection: ReturnMetric when the instrument reports it,
// otherwise FallbackReturnMetric. Lines with neither keep a nil return and
// are reported.
func WithReturns(p model.Portfolio, lookup func(id string) (model.Instrument, bool), c config.ProjectionConfig) (model.Portfolio, []model.Warning) {
	var warnings []model.Warning

	lines := make([]model.PortfolioLine, len(p.Lines))
	for i, l := range p.Lines {
		l.ExpectedReturn = nil
		if inst, ok := lookup(l.InstrumentID); ok {
			if v, ok := inst.Metric(c.ReturnMetric); ok {
				l.ExpectedReturn = &v
			} else if v, ok := inst.Metric(c.FallbackReturnMetric); ok {
				l.ExpectedReturn = &v
			}
		}
		if l.ExpectedReturn == nil {
			warnings = append(warnings, model.Warning{
				Kind:    model.WarningMissingMetric,
				Subject: l.InstrumentID,
				Message: fmt.Sprintf("no %s for client %s, projecting at 0%%", c.ReturnMetric, p.ClientID),
			})
		}
		lines[i] = l
	}
	p.Lines = lines
	return p, warnings
}

// BlendedReturn is the portfolio's annual return in percent: each line's
// return weighted by its final weight. Lines without a return count as 0.
func BlendedReturn(p model.Portfolio) float64 {
	if len(p.Lines) == 0 {
		return 0
	}
	weights := make([]float64, len(p.Lines))
	returns := make([]float64, len(p.Lines))
	for i, l := range p.Lines {
		weights[i] = l.FinalWeight / 100
		if l.ExpectedReturn != nil {
			returns[i] = *l.ExpectedReturn
		}
	}
	return floats.Dot(weights, returns)
}

// PeriodRate converts an annual return in percent to a per-period growth
// rate. Effective conversion compounds to the annual figure over a year;
// nominal conversion divides it evenly. Returns at or below -100% give -1.
func PeriodRate(annualPct float64, periodsPerYear int, conversion string) float64 {
	r := annualPct / 100
	if r <= -1 {
		return -1
	}
	if conversion == config.RateNominal {
		return math.Max(r/float64(periodsPerYear), -1)
	}
	return math.Pow(1+r, 1/float64(periodsPerYear)) - 1
}

// Simulate projects the portfolio over the horizon. Point 0 holds the
// initial value; each following period adds the contribution and then
// applies that period's growth.
func Simulate(p model.Portfolio, params Params) (model.ProjectionSeries, error) {
	if err := defaults.Set(&params); err != nil {
		return model.ProjectionSeries{}, eris.Wrap(err, "projection: set defaults")
	}
	if err := validate.Struct(params); err != nil {
		return model.ProjectionSeries{}, eris.Wrapf(err, "projection: invalid parameters for client %s", params.ClientID)
	}

	blended := BlendedReturn(p)
	rate := PeriodRate(blended, params.PeriodsPerYear, params.RateConversion)
	periods := params.HorizonYears * params.PeriodsPerYear

	series := model.ProjectionSeries{
		ClientID:       params.ClientID,
		BlendedReturn:  blended,
		PeriodsPerYear: params.PeriodsPerYear,
		Points:         make([]model.ProjectionPoint, 0, periods+1),
	}

	value, contributed := params.InitialValue, params.InitialValue
	series.Points = append(series.Points, model.ProjectionPoint{Contributed: contributed, Value: value})
	for period := 1; period <= periods; period++ {
		contributed += params.Contribution
		value = (value + params.Contribution) * (1 + rate)
		series.Points = append(series.Points, model.ProjectionPoint{
			Period:      period,
			Years:       float64(period) / float64(params.PeriodsPerYear),
			Contributed: contributed,
			Value:       value,
		})
	}

	zap.L().Debug("projection: simulated",
		zap.String("client_id", params.ClientID),
		zap.Float64("blended_return", blended),
		zap.Int("periods", periods),
		zap.Float64("final_value", value),
	)
	return series, nil
}
