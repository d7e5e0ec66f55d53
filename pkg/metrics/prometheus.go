// Package metrics provides Prometheus-based metrics recording for debug
// sessions, with an optional exposition endpoint.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"connectorwiz/pkg/logx"
)

// Recorder abstracts metrics recording so tests can substitute a no-op.
type Recorder interface {
	ObserveSandboxRun(workflowKind string, timedOut bool, duration time.Duration)
	ObserveClassification(outcome, confidence string)
	ObserveFix(provider, model string, success bool, duration time.Duration)
	ObserveContextTokens(tokens int)
	IncInterruption()
	ObserveSessionEnd(finalState string, attempts int)
}

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	sandboxRuns     *prometheus.CounterVec
	sandboxDuration *prometheus.HistogramVec
	classifications *prometheus.CounterVec
	fixesTotal      *prometheus.CounterVec
	fixDuration     *prometheus.HistogramVec
	contextTokens   prometheus.Gauge
	interruptions   prometheus.Counter
	sessionsTotal   *prometheus.CounterVec
	sessionAttempts prometheus.Histogram
}

// NewPrometheusRecorder creates a new Prometheus-based metrics recorder.
func NewPrometheusRecorder() *PrometheusRecorder {
	return &PrometheusRecorder{
		sandboxRuns: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "debug_sandbox_runs_total",
				Help: "Total number of sandbox executions by workflow kind and timeout status",
			},
			[]string{"workflow_kind", "timed_out"},
		),
		sandboxDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "debug_sandbox_run_duration_seconds",
				Help:    "Duration of sandbox executions in seconds",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
			},
			[]string{"workflow_kind"},
		),
		classifications: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "debug_classifications_total",
				Help: "Total classifier verdicts by outcome and confidence",
			},
			[]string{"outcome", "confidence"},
		),
		fixesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "debug_fix_requests_total",
				Help: "Total fixer invocations by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),
		fixDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "debug_fix_duration_seconds",
				Help:    "Duration of fixer invocations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider", "model"},
		),
		contextTokens: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "debug_context_tokens",
				Help: "Token size of the cumulative fixer context (error + reasoning evolution) at the latest fix request",
			},
		),
		interruptions: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "debug_interruptions_total",
				Help: "Total operator interruptions acknowledged at checkpoints",
			},
		),
		sessionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "debug_sessions_total",
				Help: "Total completed debug sessions by terminal state",
			},
			[]string{"final_state"},
		),
		sessionAttempts: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "debug_session_attempts",
				Help:    "Number of attempts per completed session",
				Buckets: prometheus.LinearBuckets(1, 1, 12),
			},
		),
	}
}

// ObserveSandboxRun records one sandbox execution.
func (p *PrometheusRecorder) ObserveSandboxRun(workflowKind string, timedOut bool, duration time.Duration) {
	label := "false"
	if timedOut {
		label = "true"
	}
	p.sandboxRuns.WithLabelValues(workflowKind, label).Inc()
	p.sandboxDuration.WithLabelValues(workflowKind).Observe(duration.Seconds())
}

// ObserveClassification records one classifier verdict.
func (p *PrometheusRecorder) ObserveClassification(outcome, confidence string) {
	p.classifications.WithLabelValues(outcome, confidence).Inc()
}

// ObserveFix records one fixer invocation.
func (p *PrometheusRecorder) ObserveFix(provider, model string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	p.fixesTotal.WithLabelValues(provider, model, status).Inc()
	p.fixDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
}

// ObserveContextTokens records the cumulative context size handed to the
// fixer. The context is never truncated, so a growing gauge is expected.
func (p *PrometheusRecorder) ObserveContextTokens(tokens int) {
	p.contextTokens.Set(float64(tokens))
}

// IncInterruption counts an acknowledged operator interruption.
func (p *PrometheusRecorder) IncInterruption() {
	p.interruptions.Inc()
}

// ObserveSessionEnd records a completed session.
func (p *PrometheusRecorder) ObserveSessionEnd(finalState string, attempts int) {
	p.sessionsTotal.WithLabelValues(finalState).Inc()
	p.sessionAttempts.Observe(float64(attempts))
}

// NopRecorder discards all observations.
type NopRecorder struct{}

func (NopRecorder) ObserveSandboxRun(string, bool, time.Duration)  {}
func (NopRecorder) ObserveClassification(string, string)           {}
func (NopRecorder) ObserveFix(string, string, bool, time.Duration) {}
func (NopRecorder) ObserveContextTokens(int)                       {}
func (NopRecorder) IncInterruption()                               {}
func (NopRecorder) ObserveSessionEnd(string, int)                  {}

// Serve exposes /metrics on addr until ctx is canceled. An empty addr
// disables the endpoint.
func Serve(ctx context.Context, addr string) {
	if addr == "" {
		return
	}

	logger := logx.NewLogger("metrics")
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		logger.Info("metrics endpoint listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics endpoint failed: %v", err)
		}
	}()
}
