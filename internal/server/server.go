// Package server exposes the current instrument batch and on-demand client
// recommendations over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/etf-advisor/internal/config"
	"github.com/sells-group/etf-advisor/internal/engine"
	"github.com/sells-group/etf-advisor/internal/metrics"
	"github.com/sells-group/etf-advisor/internal/model"
	"github.com/sells-group/etf-advisor/internal/store"
)

// Loader reads the current instrument table.
type Loader func(ctx context.Context) ([]model.Instrument, []model.Warning, error)

// Option configures a Server.
type Option func(*Server)

// WithStore enables the run history endpoints and records every reload as a run.
func WithStore(st store.Store) Option {
	return func(s *Server) { s.store = st }
}

// WithMetrics enables request metrics and the /metrics endpoint.
func WithMetrics(m *metrics.Recorder) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLoader sets the source used by Reload.
func WithLoader(l Loader) Option {
	return func(s *Server) { s.loader = l }
}

// Server serves one shared, read-only batch. Reload builds a fresh batch and
// swaps it in atomically; requests never wait on a reload.
type Server struct {
	eng     *engine.Engine
	cfg     config.ServerConfig
	store   store.Store
	metrics *metrics.Recorder
	loader  Loader

	batch atomic.Pointer[engine.Batch]
	cron  *cron.Cron
}

// New creates a Server for eng.
func New(eng *engine.Engine, cfg config.ServerConfig, opts ...Option) *Server {
	s := &Server{eng: eng, cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetBatch replaces the served batch.
func (s *Server) SetBatch(b *engine.Batch) { s.batch.Store(b) }

// Batch returns the served batch, or nil before the first load.
func (s *Server) Batch() *engine.Batch { return s.batch.Load() }

// Reload reads the instrument table, builds a batch and serves it. On
// failure the previous batch stays in place.
func (s *Server) Reload(ctx context.Context) error {
	err := s.reload(ctx)
	if s.metrics != nil {
		s.metrics.ObserveReload(err)
	}
	return err
}

func (s *Server) reload(ctx context.Context) error {
	if s.loader == nil {
		return eris.New("server: no instrument loader configured")
	}

	instruments, warnings, err := s.loader(ctx)
	if err != nil {
		return eris.Wrap(err, "server: load instruments")
	}
	b, err := s.eng.BuildBatch(instruments)
	if err != nil {
		return eris.Wrap(err, "server: build batch")
	}

	if s.store != nil {
		run, err := store.SaveRun(ctx, s.store, store.RunRecord{
			ConfigHash: b.ConfigHash,
			Scored:     b.Instruments,
			Warnings:   slices.Concat(warnings, b.Warnings),
		})
		if err != nil {
			return eris.Wrap(err, "server: record reload")
		}
		zap.L().Info("server: reload recorded", zap.String("run_id", run.ID))
	}

	s.SetBatch(b)
	zap.L().Info("server: batch reloaded",
		zap.Int("instruments", len(b.Instruments)),
		zap.Int("selected", b.SelectedCount()),
		zap.Int("warnings", len(warnings)+len(b.Warnings)),
	)
	return nil
}

var scheduleParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSchedule parses a reload schedule: a five or six field cron
// expression, or a descriptor such as "@hourly" or "@every 15m".
func ParseSchedule(spec string) (cron.Schedule, error) {
	sched, err := scheduleParser.Parse(spec)
	if err != nil {
		return nil, eris.Wrapf(err, "server: invalid reload schedule %q", spec)
	}
	return sched, nil
}

// StartScheduler starts the periodic reload when a reload schedule is
// configured. Overlapping reloads are skipped.
func (s *Server) StartScheduler(ctx context.Context) error {
	if s.cfg.ReloadCron == "" {
		return nil
	}
	if s.loader == nil {
		return eris.New("server: reload schedule set without an instrument loader")
	}
	sched, err := ParseSchedule(s.cfg.ReloadCron)
	if err != nil {
		return err
	}

	c := cron.New(cron.WithParser(scheduleParser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(sched, cron.FuncJob(func() {
		if err := s.Reload(ctx); err != nil {
			zap.L().Error("server: scheduled reload failed", zap.Error(err))
		}
	}))
	c.Start()
	s.cron = c

	zap.L().Info("server: reload scheduler started", zap.String("schedule", s.cfg.ReloadCron))
	return nil
}

// StopScheduler stops the reload scheduler and waits for a running reload.
func (s *Server) StopScheduler() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.cron = nil
	zap.L().Info("server: reload scheduler stopped")
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if s.metrics != nil {
		r.Use(s.metrics.Middleware(time.Second))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/instruments", s.handleInstruments)
		r.Get("/instruments/{id}", s.handleInstrument)
		r.Get("/selection", s.handleSelection)
		r.Post("/recommendations", s.handleRecommend)
		if s.loader != nil {
			r.Post("/reload", s.handleReload)
		}
		if s.store != nil {
			r.Get("/runs", s.handleRuns)
			r.Get("/runs/{runID}", s.handleRun)
			r.Get("/runs/{runID}/instruments", s.handleRunInstruments)
			r.Get("/runs/{runID}/recommendations/{clientID}", s.handleRunRecommendation)
		}
	})
	return r
}

// ListenAndServe serves on port until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("server: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zap.L().Error("server: shutdown", zap.Error(err))
		}
	}()

	zap.L().Info("server: listening", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return eris.Wrap(err, "server: listen")
	}
	return nil
}
