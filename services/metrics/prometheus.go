package metricsvc

import (
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/trezcool/classguard/core"
)

// Prometheus implements core.Metrics. Unknown metric names and label mismatches are ignored.
type Prometheus struct {
	counters map[string]*prometheus.CounterVec
	gauges   map[string]prometheus.Gauge
	histos   map[string]*prometheus.HistogramVec
}

var _ core.Metrics = (*Prometheus)(nil)

// NewPrometheus registers the collectors on `reg`; pass prometheus.NewRegistry() in tests.
func NewPrometheus(reg prometheus.Registerer) (*Prometheus, error) {
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels)
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
	}

	p := &Prometheus{
		counters: map[string]*prometheus.CounterVec{
			core.MetricEventsApplied:    counter(core.MetricEventsApplied, "Relay events applied to the classroom state.", "event"),
			core.MetricEventsDropped:    counter(core.MetricEventsDropped, "Relay events dropped as unknown or malformed.", "event"),
			core.MetricCommandsEmitted:  counter(core.MetricCommandsEmitted, "Commands sent to the relay.", "event"),
			core.MetricCommandsDropped:  counter(core.MetricCommandsDropped, "Commands dropped while disconnected or on write failure.", "event"),
			core.MetricReconnects:       counter(core.MetricReconnects, "Relay reconnection attempts."),
			core.MetricAnalysisFailures: counter(core.MetricAnalysisFailures, "Failed analysis requests.", "kind"),
		},
		gauges: map[string]prometheus.Gauge{
			core.MetricStudentsOnline:   gauge(core.MetricStudentsOnline, "Students currently online."),
			core.MetricRelayConnected:   gauge(core.MetricRelayConnected, "1 while connected to the relay."),
			core.MetricTelemetrySamples: gauge(core.MetricTelemetrySamples, "Students with a cached screen sample."),
		},
		histos: map[string]*prometheus.HistogramVec{
			core.MetricAnalysisLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    core.MetricAnalysisLatency,
				Help:    "Latency of analysis requests.",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
			}, []string{"kind"}),
		},
	}

	var cs []prometheus.Collector
	for _, c := range p.counters {
		cs = append(cs, c)
	}
	for _, g := range p.gauges {
		cs = append(cs, g)
	}
	for _, h := range p.histos {
		cs = append(cs, h)
	}
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			return nil, errors.Wrap(err, "registering metrics")
		}
	}
	return p, nil
}

func (p *Prometheus) IncCounter(name string, labels ...string) {
	if c, ok := p.counters[name]; ok {
		if m, err := c.GetMetricWithLabelValues(labels...); err == nil {
			m.Inc()
		}
	}
}

func (p *Prometheus) SetGauge(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(v)
	}
}

func (p *Prometheus) ObserveDuration(name string, d time.Duration, labels ...string) {
	if h, ok := p.histos[name]; ok {
		if m, err := h.GetMetricWithLabelValues(labels...); err == nil {
			m.Observe(d.Seconds())
		}
	}
}
