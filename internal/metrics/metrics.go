// Package metrics exposes prometheus counters for pipeline observability.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	DocumentsCollected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "normscanner_documents_collected_total",
		Help: "Documents emitted by source adapters.",
	}, []string{"source"})

	StageRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "normscanner_stage_runs_total",
		Help: "Pipeline stage invocations by outcome.",
	}, []string{"stage", "status"})

	ProbeResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "normscanner_probe_results_total",
		Help: "Vigencia probe outcomes.",
	}, []string{"status"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "normscanner_http_requests_total",
		Help: "Outbound HTTP fetches by host and outcome.",
	}, []string{"host", "outcome"})

	BreakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "normscanner_breaker_transitions_total",
		Help: "Circuit breaker state transitions per host.",
	}, []string{"host", "state"})
)

// Serve exposes /metrics on addr until ctx is cancelled. A blank addr is a no-op.
func Serve(ctx context.Context, addr string) error {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
