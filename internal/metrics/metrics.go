package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const pre = "copier_"

var writeBuckets = []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}

// Metrics - все метрики сервера в собственном registry.
// Реализует ledger.WriteObserver, relay.Observer и presence.TransitionObserver.
type Metrics struct {
	registry *prometheus.Registry

	ledgerWrites  *prometheus.HistogramVec
	queueDepth    prometheus.Gauge
	relayCycles   *prometheus.CounterVec
	fanOutWrites  *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	eventsDropped prometheus.CounterFunc
}

// New создает и регистрирует метрики. dropped - счётчик потерянных событий шины, может быть nil.
func New(dropped func() int64) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ledgerWrites: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    pre + "ledger_write_seconds",
			Help:    "Duration of queued ledger writes by outcome.",
			Buckets: writeBuckets,
		}, []string{"outcome"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: pre + "ledger_queue_depth",
			Help: "Ledger writes waiting in per-account queues.",
		}),
		relayCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: pre + "relay_cycles_total",
			Help: "Slave order requests by outcome.",
		}, []string{"outcome"}),
		fanOutWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: pre + "fanout_writes_total",
			Help: "ENABLED/DISABLED token writes by operation and result.",
		}, []string{"op", "result"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: pre + "presence_transitions_total",
			Help: "Account status transitions by new status.",
		}, []string{"status"}),
	}

	if dropped == nil {
		dropped = func() int64 { return 0 }
	}
	m.eventsDropped = prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: pre + "events_dropped_total",
		Help: "Events dropped because a subscriber was slow.",
	}, func() float64 { return float64(dropped()) })

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ledgerWrites,
		m.queueDepth,
		m.relayCycles,
		m.fanOutWrites,
		m.transitions,
		m.eventsDropped,
	)

	return m
}

// Handler возвращает http handler для /metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry возвращает registry метрик
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveWrite(outcome string, duration time.Duration) {
	m.ledgerWrites.WithLabelValues(outcome).Observe(duration.Seconds())
}

func (m *Metrics) ObserveQueueDepth(depth int) {
	m.queueDepth.Set(float64(depth))
}

func (m *Metrics) ObserveRelay(outcome string) {
	m.relayCycles.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveFanOut(op string, succeeded, failed, skipped int) {
	m.fanOutWrites.WithLabelValues(op, "succeeded").Add(float64(succeeded))
	m.fanOutWrites.WithLabelValues(op, "failed").Add(float64(failed))
	m.fanOutWrites.WithLabelValues(op, "skipped").Add(float64(skipped))
}

func (m *Metrics) ObserveTransition(status string) {
	m.transitions.WithLabelValues(status).Inc()
}
