// Package telemetry exposes Prometheus collectors for the ingest service
// and the Telemetry sink consumed by the importer, worker and discovery.
package telemetry

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lapforge/ingest/internal/timing"
)

var (
	ingestEventsTotal          *prometheus.CounterVec
	ingestSessionsTotal        *prometheus.CounterVec
	ingestLapsTotal            *prometheus.CounterVec
	ingestResultRowsTotal      prometheus.Counter
	discoveryPlansTotal        *prometheus.CounterVec
	discoveryPlanCandidates    prometheus.Histogram
	discoveryAppliesTotal      *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	scrapeTLSRetriesTotal      prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus collectors. It is safe to call this
// function multiple times.
func Init() {
	once.Do(func() {
		ingestEventsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_events_total",
				Help: "Total event imports, labeled by outcome and failure reason.",
			},
			[]string{"outcome", "reason"},
		)

		ingestSessionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_sessions_total",
				Help: "Total session imports, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		ingestLapsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_laps_total",
				Help: "Total laps seen by the importer, labeled by disposition.",
			},
			[]string{"disposition"},
		)

		ingestResultRowsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ingest_result_rows_total",
				Help: "Total result rows upserted by successful event imports.",
			},
		)

		discoveryPlansTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "discovery_plans_total",
				Help: "Total discovery plan requests, labeled by club.",
			},
			[]string{"club"},
		)

		discoveryPlanCandidates = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "discovery_plan_candidates",
				Help:    "Histogram of candidate counts returned per plan request.",
				Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
			},
		)

		discoveryAppliesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "discovery_applies_total",
				Help: "Total discovery apply requests, labeled by club and acceptance.",
			},
			[]string{"club", "accepted"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		scrapeTLSRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scrape_tls_handshake_retries_total",
				Help: "Total transient TLS handshake failures retried at the transport level.",
			},
		)
	})
}

// Handler returns an http.Handler exposing the Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveScrapeTLSRetry counts one transport-level TLS handshake retry.
func ObserveScrapeTLSRetry() {
	Init()
	scrapeTLSRetriesTotal.Inc()
}

// Sink implements timing.Telemetry on the Prometheus collectors.
type Sink struct{}

// NewSink initializes the collectors and returns a Sink.
func NewSink() *Sink {
	Init()
	return &Sink{}
}

// RecordPlanRequest counts one plan request and its candidate volume.
func (Sink) RecordPlanRequest(clubID string, candidates int) {
	discoveryPlansTotal.WithLabelValues(clubID).Inc()
	discoveryPlanCandidates.Observe(float64(candidates))
}

// RecordApplyRequest counts one apply request.
func (Sink) RecordApplyRequest(clubID string, _ int, accepted bool) {
	discoveryAppliesTotal.WithLabelValues(clubID, strconv.FormatBool(accepted)).Inc()
}

// RecordEventIngestion counts one event import outcome with its totals.
func (Sink) RecordEventIngestion(outcome string, reason string, counts timing.SummaryCounts) {
	ingestEventsTotal.WithLabelValues(outcome, reason).Inc()
	if outcome == "success" {
		ingestResultRowsTotal.Add(float64(counts.ResultRowsImported))
	}
}

// RecordSessionIngestion counts one session import outcome and its lap
// dispositions. Laps are counted here, not per event, to avoid double
// counting.
func (Sink) RecordSessionIngestion(outcome string, lapsImported, lapsSkipped int) {
	ingestSessionsTotal.WithLabelValues(outcome).Inc()
	ingestLapsTotal.WithLabelValues("imported").Add(float64(lapsImported))
	ingestLapsTotal.WithLabelValues("skipped").Add(float64(lapsSkipped))
}
