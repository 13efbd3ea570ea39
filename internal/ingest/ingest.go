// Package ingest turns raw table records into validated instruments and
// client profiles. Records that cannot be decoded are rejected one by one
// and reported as malformed_record warnings; the table only fails when no
// record survives.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/etf-advisor/internal/allocation"
	"github.com/sells-group/etf-advisor/internal/config"
	"github.com/sells-group/etf-advisor/internal/fetcher"
	"github.com/sells-group/etf-advisor/internal/model"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
}

// Options controls instrument decoding.
type Options struct {
	// RequiredMetrics must be present on every instrument record.
	RequiredMetrics []string `default:"[\"volatility\"]"`
}

// Instruments decodes instrument records. Rejected records become warnings.
func Instruments(records []fetcher.Record, opts Options) ([]model.Instrument, []model.Warning, error) {
	if err := defaults.Set(&opts); err != nil {
		return nil, nil, eris.Wrap(err, "ingest: set defaults")
	}

	var (
		out      []model.Instrument
		warnings []model.Warning
	)
	seen := make(map[string]int, len(records))

	for _, rec := range records {
		inst, err := ParseInstrument(rec, opts)
		if err == nil {
			if row, dup := seen[inst.ID]; dup {
				err = &model.RecordError{
					RecordID: inst.ID,
					Row:      rec.Row,
					Field:    "id",
					Reason:   fmt.Sprintf("duplicate of row %d", row),
				}
			}
		}
		if err != nil {
			warnings = append(warnings, reject(err))
			continue
		}
		seen[inst.ID] = rec.Row
		out = append(out, inst)
	}

	if len(out) == 0 {
		return nil, warnings, eris.Wrapf(model.ErrNoValidRecords, "ingest: %d instrument records", len(records))
	}

	zap.L().Info("ingest: instruments decoded",
		zap.Int("accepted", len(out)),
		zap.Int("rejected", len(warnings)),
	)
	return out, warnings, nil
}

// ParseInstrument decodes one instrument record. Unknown columns are
// ignored and empty metric cells are treated as missing.
func ParseInstrument(rec fetcher.Record, opts Options) (model.Instrument, error) {
	id, _ := rec.Get("id")
	inst := model.Instrument{
		ID:      id,
		Metrics: make(map[string]float64),
	}
	inst.Category, _ = rec.Get("category")

	if err := validate.Struct(inst); err != nil {
		return model.Instrument{}, recordError(id, rec.Row, err)
	}

	for _, name := range model.KnownMetrics {
		raw, ok := rec.Get(name)
		if !ok {
			continue
		}
		v, err := parseNumber(raw)
		if err != nil {
			return model.Instrument{}, &model.RecordError{RecordID: id, Row: rec.Row, Field: name, Reason: err.Error()}
		}
		inst.Metrics[name] = v
	}

	for _, name := range opts.RequiredMetrics {
		if _, ok := inst.Metric(name); !ok {
			return model.Instrument{}, &model.RecordError{RecordID: id, Row: rec.Row, Field: name, Reason: "is required"}
		}
	}
	return inst, nil
}

// Clients decodes client profile records. Rejected records become warnings.
func Clients(records []fetcher.Record, cfg config.AllocationConfig) ([]model.ClientProfile, []model.Warning, error) {
	var (
		out      []model.ClientProfile
		warnings []model.Warning
	)
	seen := make(map[string]int, len(records))

	for _, rec := range records {
		p, err := ParseClient(rec, cfg)
		if err == nil {
			if row, dup := seen[p.ID]; dup {
				err = &model.RecordError{
					RecordID: p.ID,
					Row:      rec.Row,
					Field:    "id",
					Reason:   fmt.Sprintf("duplicate of row %d", row),
				}
			}
		}
		if err != nil {
			warnings = append(warnings, reject(err))
			continue
		}
		seen[p.ID] = rec.Row
		out = append(out, p)
	}

	if len(out) == 0 {
		return nil, warnings, eris.Wrapf(model.ErrNoValidRecords, "ingest: %d client records", len(records))
	}

	zap.L().Info("ingest: clients decoded",
		zap.Int("accepted", len(out)),
		zap.Int("rejected", len(warnings)),
	)
	return out, warnings, nil
}

// ParseClient decodes one client record. risk_tolerance accepts a whole
// number or one of the configured labels.
func ParseClient(rec fetcher.Record, cfg config.AllocationConfig) (model.ClientProfile, error) {
	id, _ := rec.Get("id")
	p := model.ClientProfile{ID: id}

	ints := []struct {
		name string
		dst  *int
	}{
		{"age", &p.Age},
		{"horizon_years", &p.HorizonYears},
	}
	for _, f := range ints {
		raw, ok := rec.Get(f.name)
		if !ok {
			continue
		}
		v, err := parseWhole(raw)
		if err != nil {
			return model.ClientProfile{}, &model.RecordError{RecordID: id, Row: rec.Row, Field: f.name, Reason: err.Error()}
		}
		*f.dst = v
	}

	floats := []struct {
		name string
		dst  *float64
	}{
		{"annual_income", &p.AnnualIncome},
		{"net_worth", &p.NetWorth},
		{"periodic_contribution", &p.PeriodicContribution},
	}
	for _, f := range floats {
		raw, ok := rec.Get(f.name)
		if !ok {
			continue
		}
		v, err := parseNumber(raw)
		if err != nil {
			return model.ClientProfile{}, &model.RecordError{RecordID: id, Row: rec.Row, Field: f.name, Reason: err.Error()}
		}
		*f.dst = v
	}

	if raw, ok := rec.Get("risk_tolerance"); ok {
		tol, err := allocation.ParseTolerance(raw, cfg)
		if err != nil {
			return model.ClientProfile{}, &model.RecordError{
				RecordID: id,
				Row:      rec.Row,
				Field:    "risk_tolerance",
				Reason:   strings.TrimPrefix(err.Error(), "allocation: "),
			}
		}
		p.RiskTolerance = tol
	}

	if err := ValidateProfile(p); err != nil {
		var re *model.RecordError
		if errors.As(err, &re) {
			re.Row = rec.Row
		}
		return model.ClientProfile{}, err
	}
	return p, nil
}

// ValidateProfile checks a profile against its validation tags and returns
// a *model.RecordError naming the first failing field.
func ValidateProfile(p model.ClientProfile) error {
	if err := validate.Struct(p); err != nil {
		return recordError(p.ID, 0, err)
	}
	return nil
}

// LoadInstruments reads and decodes an instrument table file.
func LoadInstruments(ctx context.Context, path string, opts Options) ([]model.Instrument, []model.Warning, error) {
	records, err := fetcher.Collect(fetcher.Open(ctx, path))
	if err != nil {
		return nil, nil, eris.Wrapf(err, "ingest: read instruments %s", path)
	}
	return Instruments(records, opts)
}

// LoadClients reads and decodes a client profile table file.
func LoadClients(ctx context.Context, path string, cfg config.AllocationConfig) ([]model.ClientProfile, []model.Warning, error) {
	records, err := fetcher.Collect(fetcher.Open(ctx, path))
	if err != nil {
		return nil, nil, eris.Wrapf(err, "ingest: read clients %s", path)
	}
	return Clients(records, cfg)
}

// Messages renders validator errors as one readable message per field.
// Any other error is returned as its single message.
func Messages(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, fe.Field()+" "+describe(fe))
	}
	return out
}

func reject(err error) model.Warning {
	var re *model.RecordError
	if !errors.As(err, &re) {
		re = &model.RecordError{Reason: err.Error()}
	}
	w := re.Warning()
	zap.L().Warn("ingest: record rejected",
		zap.String("subject", w.Subject),
		zap.String("reason", w.Message),
	)
	return w
}

func recordError(id string, row int, err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &model.RecordError{RecordID: id, Row: row, Field: fe.Field(), Reason: describe(fe)}
	}
	return &model.RecordError{RecordID: id, Row: row, Reason: err.Error()}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min", "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max", "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", strings.ReplaceAll(fe.Param(), " ", ", "))
	default:
		return fmt.Sprintf("failed validation: %s", fe.Tag())
	}
}

// parseNumber accepts plain decimals with an optional trailing percent sign.
func parseNumber(raw string) (float64, error) {
	s := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(raw), "%"))
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, eris.Errorf("not a number: %q", raw)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, eris.Errorf("not a finite number: %q", raw)
	}
	return v, nil
}

func parseWhole(raw string) (int, error) {
	v, err := parseNumber(raw)
	if err != nil {
		return 0, err
	}
	if v != math.Trunc(v) {
		return 0, eris.Errorf("not a whole number: %q", raw)
	}
	return int(v), nil
}
