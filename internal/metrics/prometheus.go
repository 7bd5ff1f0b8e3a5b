package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// States lists every controller state so the gauge can be reset to one-hot.
var States = []string{"idle", "stepping", "refreshing"}

// Prometheus implements Collector backed by client_golang.
type Prometheus struct {
	steps           *prometheus.CounterVec
	refreshDuration *prometheus.HistogramVec
	refreshRows     *prometheus.CounterVec
	fetches         *prometheus.CounterVec
	fetchLatency    *prometheus.HistogramVec
	state           *prometheus.GaugeVec
	viewers         prometheus.Gauge
}

var _ Collector = (*Prometheus)(nil)

// NewPrometheus registers the tracker metrics on reg (the default registerer
// if nil) under namespace (default "dow30").
func NewPrometheus(reg prometheus.Registerer, namespace string) (*Prometheus, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "dow30"
	}

	p := &Prometheus{
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sorter",
			Name:      "steps_total",
			Help:      "Sorter steps by result.",
		}, []string{"result"}),
		refreshDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "duration_seconds",
			Help:      "Wall time of a refresh batch from lease to release.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms .. ~51s
		}, []string{"scope"}),
		refreshRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refresh",
			Name:      "rows_total",
			Help:      "Rows processed by refresh batches by outcome (updated, failed).",
		}, []string{"outcome"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "marketdata",
			Name:      "fetches_total",
			Help:      "Per-entity market data fetches by source and outcome.",
		}, []string{"source", "outcome"}),
		fetchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "marketdata",
			Name:      "fetch_seconds",
			Help:      "Latency of per-entity market data fetches.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 9), // 50ms .. ~12.8s
		}, []string{"source"}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "state",
			Help:      "1 for the current controller state, 0 otherwise.",
		}, []string{"state"}),
		viewers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "visualization",
			Name:      "viewers",
			Help:      "Connected WebSocket viewers.",
		}),
	}

	for _, c := range []prometheus.Collector{
		p.steps, p.refreshDuration, p.refreshRows, p.fetches, p.fetchLatency, p.state, p.viewers,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Prometheus) RecordStep(result string) {
	p.steps.WithLabelValues(result).Inc()
}

func (p *Prometheus) RecordRefresh(scope string, d time.Duration, updated, failed int) {
	p.refreshDuration.WithLabelValues(scope).Observe(d.Seconds())
	p.refreshRows.WithLabelValues("updated").Add(float64(updated))
	p.refreshRows.WithLabelValues("failed").Add(float64(failed))
}

func (p *Prometheus) RecordFetch(source, outcome string, d time.Duration) {
	p.fetches.WithLabelValues(source, outcome).Inc()
	p.fetchLatency.WithLabelValues(source).Observe(d.Seconds())
}

func (p *Prometheus) SetState(state string) {
	for _, s := range States {
		v := 0.0
		if s == state {
			v = 1
		}
		p.state.WithLabelValues(s).Set(v)
	}
}

func (p *Prometheus) SetViewers(n int) {
	p.viewers.Set(float64(n))
}
