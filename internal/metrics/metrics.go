package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is safe to use as a nil pointer; every observer becomes a no-op.
type Metrics struct {
	gatherer prometheus.Gatherer

	transitionsTotal  *prometheus.CounterVec
	webhookEvents     *prometheus.CounterVec
	sweepRunsTotal    *prometheus.CounterVec
	sweepExpiredTotal *prometheus.CounterVec
	sweepLastRunUnix  prometheus.Gauge
	conflictRetries   prometheus.Counter
	notifyFailures    prometheus.Counter
}

// New registers the wallet metrics on a fresh registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.NewRegistry())
}

func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		gatherer: reg,
		transitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "szludo",
				Subsystem: "ledger",
				Name:      "transitions_total",
				Help:      "Ledger operations partitioned by transaction type and outcome.",
			},
			[]string{"type", "outcome"},
		),
		webhookEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "szludo",
				Subsystem: "gateway",
				Name:      "webhook_events_total",
				Help:      "Gateway webhook deliveries partitioned by result.",
			},
			[]string{"result"},
		),
		sweepRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "szludo",
				Subsystem: "sweeper",
				Name:      "runs_total",
				Help:      "Expiry sweeps partitioned by result.",
			},
			[]string{"result"},
		),
		sweepExpiredTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "szludo",
				Subsystem: "sweeper",
				Name:      "expired_total",
				Help:      "Records failed by the sweeper partitioned by kind.",
			},
			[]string{"kind"},
		),
		sweepLastRunUnix: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "szludo",
				Subsystem: "sweeper",
				Name:      "last_run_unix",
				Help:      "Unix time of the most recent sweep.",
			},
		),
		conflictRetries: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "szludo",
				Subsystem: "store",
				Name:      "conflict_retries_total",
				Help:      "Units of work re-run after a concurrent write conflict.",
			},
		),
		notifyFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "szludo",
				Subsystem: "notify",
				Name:      "failures_total",
				Help:      "Notifications that could not be delivered.",
			},
		),
	}
}

func (m *Metrics) ObserveTransition(txType, outcome string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(txType, outcome).Inc()
}

func (m *Metrics) ObserveWebhook(result string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveSweep(expiredOrders, expiredDeposits int, err error) {
	if m == nil {
		return
	}
	m.sweepLastRunUnix.Set(float64(time.Now().UTC().Unix()))
	if err != nil {
		m.sweepRunsTotal.WithLabelValues("error").Inc()
	} else {
		m.sweepRunsTotal.WithLabelValues("success").Inc()
	}
	if expiredOrders > 0 {
		m.sweepExpiredTotal.WithLabelValues("order").Add(float64(expiredOrders))
	}
	if expiredDeposits > 0 {
		m.sweepExpiredTotal.WithLabelValues("deposit").Add(float64(expiredDeposits))
	}
}

// ObserveRetry matches the Store retry observer signature.
func (m *Metrics) ObserveRetry(attempt int, err error) {
	if m == nil {
		return
	}
	m.conflictRetries.Inc()
}

func (m *Metrics) ObserveNotifyFailure() {
	if m == nil {
		return
	}
	m.notifyFailures.Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
