package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Recorder exposes engine metrics through Prometheus. A nil Recorder is a no-op.
type Recorder struct {
	registry      *prometheus.Registry
	cyclesTotal   *prometheus.CounterVec
	decisions     *prometheus.CounterVec
	notices       *prometheus.CounterVec
	dispatchErrs  *prometheus.CounterVec
	trackedKeys   prometheus.Gauge
	fetchDuration prometheus.Histogram
}

// New registers the engine collectors on reg; a fresh registry is used when reg is nil.
func New(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	r := &Recorder{
		registry: reg,
		cyclesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "moverwatch_cycles_total",
				Help: "Evaluation cycles by outcome",
			},
			[]string{"outcome"}, // ok, skipped, rate_limited, failed
		),
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "moverwatch_alert_decisions_total",
				Help: "Deduplication decisions by tier",
			},
			[]string{"tier", "decision"},
		),
		notices: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "moverwatch_notices_total",
				Help: "Notices handed to the dispatcher by kind",
			},
			[]string{"kind"},
		),
		dispatchErrs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "moverwatch_dispatch_errors_total",
				Help: "Dispatcher failures by kind",
			},
			[]string{"kind"},
		),
		trackedKeys: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "moverwatch_dedup_keys",
				Help: "Alert keys currently held by the deduplication store",
			},
		),
		fetchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "moverwatch_fetch_duration_seconds",
				Help:    "Snapshot fetch latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
	}

	reg.MustRegister(r.cyclesTotal, r.decisions, r.notices, r.dispatchErrs, r.trackedKeys, r.fetchDuration)
	return r
}

// Registry returns the registry backing the recorder.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// RecordCycle counts a finished cycle.
func (r *Recorder) RecordCycle(outcome string) {
	if r == nil {
		return
	}
	r.cyclesTotal.WithLabelValues(outcome).Inc()
}

// RecordDecision counts a deduplication decision.
func (r *Recorder) RecordDecision(tier, decision string) {
	if r == nil {
		return
	}
	r.decisions.WithLabelValues(tier, decision).Inc()
}

// RecordNotice counts a dispatched notice and, when err is set, a dispatch failure.
func (r *Recorder) RecordNotice(kind string, err error) {
	if r == nil {
		return
	}
	r.notices.WithLabelValues(kind).Inc()
	if err != nil {
		r.dispatchErrs.WithLabelValues(kind).Inc()
	}
}

// SetTrackedKeys records the deduplication store size.
func (r *Recorder) SetTrackedKeys(n int) {
	if r == nil {
		return
	}
	r.trackedKeys.Set(float64(n))
}

// ObserveFetch records fetch latency.
func (r *Recorder) ObserveFetch(d time.Duration) {
	if r == nil {
		return
	}
	r.fetchDuration.Observe(d.Seconds())
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, r *Recorder, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.Registry(), promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	log := logger.With().Str("component", "metrics").Logger()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("metrics endpoint listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
