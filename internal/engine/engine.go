// Package engine runs the scoring and recommendation pipeline: one batch of
// instruments is scored and tiered once, then any number of client profiles
// are turned into recommendations against it.
package engine

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/etf-advisor/internal/allocation"
	"github.com/sells-group/etf-advisor/internal/config"
	"github.com/sells-group/etf-advisor/internal/model"
	"github.com/sells-group/etf-advisor/internal/projection"
	"github.com/sells-group/etf-advisor/internal/recommend"
	"github.com/sells-group/etf-advisor/internal/scorer"
	"github.com/sells-group/etf-advisor/internal/tiering"
)

// Recorder observes engine activity.
type Recorder interface {
	ObserveBatch(instruments, warnings int, elapsed time.Duration)
	ObserveRecommendation(err error, elapsed time.Duration)
}

// Option configures an Engine.
type Option func(*Engine)

// WithRecorder attaches a Recorder.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// Engine holds a validated configuration. It is safe for concurrent use.
type Engine struct {
	cfg      config.EngineConfig
	hash     string
	recorder Recorder
}

// DefaultConfig returns the default policy of every component.
func DefaultConfig() config.EngineConfig {
	return config.EngineConfig{
		Scoring:    scorer.DefaultConfig(),
		Tiering:    tiering.DefaultConfig(),
		Allocation: allocation.DefaultConfig(),
		Composer:   recommend.DefaultConfig(),
		Projection: projection.DefaultConfig(),
	}
}

// ValidateConfig validates every component section and joins the failures.
func ValidateConfig(cfg config.EngineConfig) error {
	var errs []string
	for _, err := range []error{
		scorer.ValidateConfig(cfg.Scoring),
		tiering.ValidateConfig(cfg.Tiering),
		allocation.ValidateConfig(cfg.Allocation),
		recommend.ValidateConfig(cfg.Composer),
		projection.ValidateConfig(cfg.Projection),
	} {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return eris.Errorf("engine: invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ConfigHash returns a SHA-256 hash of a configuration for reproducibility.
func ConfigHash(cfg any) string {
	data, err := json.Marshal(cfg)
	if err != nil {
		return ""
	}
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:16]) // 32 hex chars
}

// New validates cfg and returns an Engine.
func New(cfg config.EngineConfig, opts ...Option) (*Engine, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	e := &Engine{cfg: cfg, hash: ConfigHash(cfg)}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() config.EngineConfig { return e.cfg }

// ConfigHash returns the hash of the engine configuration.
func (e *Engine) ConfigHash() string { return e.hash }

// BuildBatch scores and tiers a snapshot of instruments. Records with an
// empty or repeated identifier are dropped with a warning. The returned Batch
// is read-only and may be shared between goroutines.
func (e *Engine) BuildBatch(instruments []model.Instrument) (*Batch, error) {
	start := time.Now()

	valid, warnings := dedupe(instruments)
	if len(valid) == 0 {
		return nil, eris.Wrap(model.ErrNoValidRecords, "engine: build batch")
	}

	scored, scoreWarnings := scorer.Score(valid, e.cfg.Scoring)
	tiered, selection, tierWarnings := tiering.Classify(scored, e.cfg.Tiering)
	warnings = append(warnings, scoreWarnings...)
	warnings = append(warnings, tierWarnings...)

	b := newBatch(tiered, selection, warnings, e.hash)

	elapsed := time.Since(start)
	if e.recorder != nil {
		e.recorder.ObserveBatch(len(tiered), len(warnings), elapsed)
	}
	zap.L().Info("engine: batch built",
		zap.Int("instruments", len(tiered)),
		zap.Int("selected", b.SelectedCount()),
		zap.Int("warnings", len(warnings)),
		zap.Duration("elapsed", elapsed),
	)
	return b, nil
}

func dedupe(instruments []model.Instrument) ([]model.Instrument, []model.Warning) {
	var warnings []model.Warning
	seen := make(map[string]bool, len(instruments))
	valid := make([]model.Instrument, 0, len(instruments))
	for i, inst := range instruments {
		var rerr *model.RecordError
		switch {
		case strings.TrimSpace(inst.ID) == "":
			rerr = &model.RecordError{Row: i + 1, Field: "id", Reason: "missing identifier"}
		case seen[inst.ID]:
			rerr = &model.RecordError{RecordID: inst.ID, Row: i + 1, Field: "id", Reason: "duplicate identifier"}
		}
		if rerr != nil {
			warnings = append(warnings, rerr.Warning())
			continue
		}
		seen[inst.ID] = true
		valid = append(valid, inst)
	}
	return valid, warnings
}

// Recommend derives the allocation, portfolio and projection of one client.
func (e *Engine) Recommend(b *Batch, p model.ClientProfile) (model.Recommendation, error) {
	start := time.Now()
	rec, err := e.recommend(b, p)
	if e.recorder != nil {
		e.recorder.ObserveRecommendation(err, time.Since(start))
	}
	return rec, err
}

func (e *Engine) recommend(b *Batch, p model.ClientProfile) (model.Recommendation, error) {
	alloc, err := allocation.Derive(p, e.cfg.Allocation)
	if err != nil {
		return model.Recommendation{}, eris.Wrap(err, "engine: derive allocation")
	}

	portfolio, warnings, err := recommend.Compose(b.Selection, alloc, e.cfg.Composer)
	if err != nil {
		return model.Recommendation{}, eris.Wrap(err, "engine: compose portfolio")
	}

	portfolio, returnWarnings := projection.WithReturns(portfolio, b.Instrument, e.cfg.Projection)
	warnings = append(warnings, returnWarnings...)

	series, err := projection.Simulate(portfolio, projection.ParamsFor(p, e.cfg.Projection))
	if err != nil {
		return model.Recommendation{}, eris.Wrap(err, "engine: project portfolio")
	}

	return model.Recommendation{
		ClientID:   p.ID,
		Profile:    p,
		Allocation: alloc,
		Portfolio:  portfolio,
		Projection: series,
		Warnings:   warnings,
	}, nil
}

// RecommendAll runs Recommend for every profile with at most concurrency
// clients in flight. Results keep the order of profiles. The first failure
// cancels the remaining clients and is returned.
func (e *Engine) RecommendAll(ctx context.Context, b *Batch, profiles []model.ClientProfile, concurrency int) ([]model.Recommendation, error) {
	if concurrency < 1 {
		concurrency = 1
	}

	log := zap.L().With(zap.Int("clients", len(profiles)), zap.Int("concurrency", concurrency))
	log.Info("engine: starting recommendations")
	start := time.Now()

	results := make([]model.Recommendation, len(profiles))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var completed atomic.Int64
	for i, p := range profiles {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rec, err := e.Recommend(b, p)
			if err != nil {
				return eris.Wrapf(err, "engine: client %s", p.ID)
			}
			results[i] = rec
			completed.Add(1)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	log.Info("engine: recommendations complete",
		zap.Int64("completed", completed.Load()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return results, nil
}

// Batch is the scored and tiered instrument table of one run. It is never
// modified after BuildBatch returns.
type Batch struct {
	Instruments []model.ScoredInstrument `json:"instruments"`
	Selection   model.Selection          `json:"selection"`
	Warnings    []model.Warning          `json:"warnings,omitempty"`
	ConfigHash  string                   `json:"config_hash"`
	BuiltAt     time.Time                `json:"built_at"`

	index map[string]int
}

func newBatch(items []model.ScoredInstrument, sel model.Selection, warnings []model.Warning, hash string) *Batch {
	index := make(map[string]int, len(items))
	for i, it := range items {
		index[it.ID] = i
	}
	return &Batch{
		Instruments: items,
		Selection:   sel,
		Warnings:    warnings,
		ConfigHash:  hash,
		BuiltAt:     time.Now().UTC(),
		index:       index,
	}
}

// Lookup returns the scored instrument with the given identifier.
func (b *Batch) Lookup(id string) (model.ScoredInstrument, bool) {
	i, ok := b.index[id]
	if !ok {
		return model.ScoredInstrument{}, false
	}
	return b.Instruments[i], true
}

// Instrument returns the instrument with the given identifier, including
// derived metrics.
func (b *Batch) Instrument(id string) (model.Instrument, bool) {
	s, ok := b.Lookup(id)
	return s.Instrument, ok
}

// Ranked returns the instruments ordered by tier from lowest risk, then by
// rank within the tier.
func (b *Batch) Ranked() []model.ScoredInstrument {
	out := slices.Clone(b.Instruments)
	slices.SortFunc(out, func(x, y model.ScoredInstrument) int {
		if d := x.Tier.Index() - y.Tier.Index(); d != 0 {
			return d
		}
		return x.TierRank - y.TierRank
	})
	return out
}

// SelectedCount returns the number of instruments selected across tiers.
func (b *Batch) SelectedCount() int {
	var n int
	for _, items := range b.Selection {
		n += len(items)
	}
	return n
}
