// Package metrics exports pipeline telemetry to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ibeckermayer/notedraft/internal/failure"
	"github.com/ibeckermayer/notedraft/internal/logx"
	"github.com/ibeckermayer/notedraft/internal/types"
)

const namespace = "notedraft"

// Metrics implements the locator, pool, scheduler and executor observers.
type Metrics struct {
	reg *prometheus.Registry

	locatorMatches  *prometheus.CounterVec
	locatorMisses   *prometheus.CounterVec
	poolOps         *prometheus.CounterVec
	poolOpDuration  *prometheus.HistogramVec
	poolWait        prometheus.Histogram
	sessionsCreated prometheus.Counter
	sessionsDropped *prometheus.CounterVec
	dispatches      *prometheus.CounterVec
	panics          prometheus.Counter
	jobs            *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		locatorMatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "locator",
			Name:      "matches_total",
			Help:      "UI actions resolved, by action and matching strategy index.",
		}, []string{"action", "strategy"}),
		locatorMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "locator",
			Name:      "misses_total",
			Help:      "UI actions where no strategy matched.",
		}, []string{"action"}),
		poolOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "operations_total",
			Help:      "Session pool operations by result kind.",
		}, []string{"op", "result"}),
		poolOpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "operation_duration_seconds",
			Help:      "Latency of session pool operations including queueing.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"op"}),
		poolWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "queue_wait_seconds",
			Help:      "Time spent waiting for an account's session.",
			Buckets:   []float64{0.01, 0.1, 1, 10, 60, 300, 1200},
		}),
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "sessions_created_total",
			Help:      "Browser sessions created.",
		}),
		sessionsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "sessions_discarded_total",
			Help:      "Browser sessions closed, by reason.",
		}, []string{"reason"}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "dispatches_total",
			Help:      "Schedules fired, by cadence.",
		}, []string{"cadence"}),
		panics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "job_panics_total",
			Help:      "Jobs that panicked and were converted to failed outcomes.",
		}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "jobs_total",
			Help:      "Finished jobs by kind and result.",
		}, []string{"job", "result"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "job_duration_seconds",
			Help:      "End-to-end job latency.",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"job"}),
	}
	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.locatorMatches, m.locatorMisses,
		m.poolOps, m.poolOpDuration, m.poolWait, m.sessionsCreated, m.sessionsDropped,
		m.dispatches, m.panics,
		m.jobs, m.jobDuration,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func resultLabel(kind failure.Kind) string {
	if kind == failure.KindNone {
		return "ok"
	}
	return string(kind)
}

func (m *Metrics) LocatorMatched(action string, index int) {
	m.locatorMatches.WithLabelValues(action, strategyLabel(index)).Inc()
}

func (m *Metrics) LocatorMissed(action string) {
	m.locatorMisses.WithLabelValues(action).Inc()
}

func (m *Metrics) PoolOperation(op string, kind failure.Kind, elapsed time.Duration) {
	m.poolOps.WithLabelValues(op, resultLabel(kind)).Inc()
	m.poolOpDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (m *Metrics) PoolWait(wait time.Duration) {
	m.poolWait.Observe(wait.Seconds())
}

func (m *Metrics) SessionCreated() {
	m.sessionsCreated.Inc()
}

func (m *Metrics) SessionDiscarded(reason string) {
	m.sessionsDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) ScheduleDispatched(cadence types.Cadence) {
	m.dispatches.WithLabelValues(string(cadence)).Inc()
}

func (m *Metrics) JobPanicked() { m.panics.Inc() }

func (m *Metrics) JobFinished(kind types.JobKind, o types.PostOutcome, elapsed time.Duration) {
	result := "ok"
	if !o.Success {
		result = o.ErrorKind
		if result == "" {
			result = string(failure.KindUnknown)
		}
	}
	m.jobs.WithLabelValues(string(kind), result).Inc()
	m.jobDuration.WithLabelValues(string(kind)).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, log logx.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("metrics listening", logx.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// strategyLabel buckets large strategy indices to bound label cardinality.
func strategyLabel(i int) string {
	if i >= 10 {
		return "10+"
	}
	return strconv.Itoa(i)
}
