package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce            sync.Once
	httpDurationHistogram   *prometheus.HistogramVec
	routingOutcomeCounter   *prometheus.CounterVec
	candidateSkipCounter    *prometheus.CounterVec
	ledgerTransitionCounter *prometheus.CounterVec
	disputeResolutionCount  *prometheus.CounterVec
	workerRunCounter        *prometheus.CounterVec
	idempotencyEventCounter *prometheus.CounterVec
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		routingOutcomeCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deal_routing_outcomes_total",
			Help: "Deal routing outcomes by fulfillment phase",
		}, []string{"outcome"})

		candidateSkipCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "routing_candidate_skips_total",
			Help: "Routing candidates skipped, by phase and reason",
		}, []string{"phase", "reason"})

		ledgerTransitionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_transitions_total",
			Help: "Applied deal status transitions",
		}, []string{"status"})

		disputeResolutionCount = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispute_resolutions_total",
			Help: "Dispute resolutions by favored party",
		}, []string{"favor"})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		idempotencyEventCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idempotency_events_total",
			Help: "Idempotency middleware events",
		}, []string{"event"})

		prometheus.MustRegister(
			httpDurationHistogram,
			routingOutcomeCounter,
			candidateSkipCounter,
			ledgerTransitionCounter,
			disputeResolutionCount,
			workerRunCounter,
			idempotencyEventCounter,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

func RecordRoutingOutcome(outcome string) {
	if routingOutcomeCounter == nil {
		return
	}
	routingOutcomeCounter.WithLabelValues(outcome).Inc()
}

func RecordCandidateSkip(phase, reason string) {
	if candidateSkipCounter == nil {
		return
	}
	candidateSkipCounter.WithLabelValues(phase, reason).Inc()
}

func RecordLedgerTransition(status string) {
	if ledgerTransitionCounter == nil {
		return
	}
	ledgerTransitionCounter.WithLabelValues(status).Inc()
}

func RecordDisputeResolution(favor string) {
	if disputeResolutionCount == nil {
		return
	}
	disputeResolutionCount.WithLabelValues(favor).Inc()
}

func IncrementIdempotencyEvent(event string) {
	if idempotencyEventCounter == nil {
		return
	}
	idempotencyEventCounter.WithLabelValues(event).Inc()
}

func RecordWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}
