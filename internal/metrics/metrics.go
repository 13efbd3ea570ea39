// Package metrics exposes engine and HTTP activity as Prometheus metrics on
// a private registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "etfadvisor"

// Recorder implements engine.Recorder using Prometheus.
type Recorder struct {
	registry *prometheus.Registry

	batches         prometheus.Counter
	instruments     prometheus.Gauge
	batchWarnings   prometheus.Counter
	batchDuration   prometheus.Histogram
	recommendations *prometheus.CounterVec
	recDuration     prometheus.Histogram
	reloads         *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	httpInFlight prometheus.Gauge
}

// New creates a Recorder with its own registry, including the Go runtime and
// process collectors.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		batches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_built_total",
			Help:      "Total number of instrument batches scored and tiered",
		}),
		instruments: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "batch_instruments",
			Help:      "Number of instruments in the most recent batch",
		}),
		batchWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_warnings_total",
			Help:      "Total number of warnings raised while building batches",
		}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Time spent scoring and tiering a batch",
			Buckets:   prometheus.DefBuckets,
		}),
		recommendations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recommendations_total",
			Help:      "Total number of client recommendations by result",
		}, []string{"result"}),
		recDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recommendation_duration_seconds",
			Help:      "Time spent deriving one client recommendation",
			Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
		}),
		reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_reloads_total",
			Help:      "Total number of scheduled batch reloads by result",
		}, []string{"result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"route", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"route", "method", "class"}),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_in_flight_requests",
			Help:      "Current number of in-flight HTTP requests",
		}),
	}

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.batches, r.instruments, r.batchWarnings, r.batchDuration,
		r.recommendations, r.recDuration, r.reloads,
		r.httpRequests, r.httpDuration, r.httpInFlight,
	)
	return r
}

// Registry returns the registry the recorder's collectors live in.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// ObserveBatch records a built batch.
func (r *Recorder) ObserveBatch(instruments, warnings int, elapsed time.Duration) {
	r.batches.Inc()
	r.instruments.Set(float64(instruments))
	r.batchWarnings.Add(float64(warnings))
	r.batchDuration.Observe(elapsed.Seconds())
}

// ObserveRecommendation records one client recommendation.
func (r *Recorder) ObserveRecommendation(err error, elapsed time.Duration) {
	r.recommendations.WithLabelValues(result(err)).Inc()
	r.recDuration.Observe(elapsed.Seconds())
}

// ObserveReload records a scheduled batch reload.
func (r *Recorder) ObserveReload(err error) {
	r.reloads.WithLabelValues(result(err)).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Middleware records request counts and latencies. Routes are labelled by
// their chi pattern to keep label cardinality low.
func (r *Recorder) Middleware(slowThreshold time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			r.httpInFlight.Inc()
			defer r.httpInFlight.Dec()

			start := time.Now()
			rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, req)
			elapsed := time.Since(start)

			route := routeLabel(req)
			r.httpRequests.WithLabelValues(route, req.Method, strconv.Itoa(rw.status)).Inc()
			r.httpDuration.WithLabelValues(route, req.Method, statusClass(rw.status)).Observe(elapsed.Seconds())

			fields := []zap.Field{
				zap.String("route", route),
				zap.String("method", req.Method),
				zap.Int("status", rw.status),
				zap.Duration("elapsed", elapsed),
				zap.Int("bytes", rw.written),
			}
			switch {
			case rw.status >= 500:
				zap.L().Error("metrics: http request failed", fields...)
			case slowThreshold > 0 && elapsed >= slowThreshold:
				zap.L().Warn("metrics: http request slow", fields...)
			}
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status  int
	written int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.written += n
	return n, err
}

func routeLabel(req *http.Request) string {
	if rctx := chi.RouteContext(req.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

func statusClass(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
