// Package metrics holds the Prometheus collectors of the buzzer.
//
// Collectors live on a private registry so tests and multiple instances in
// one process never collide on the global default registry.
package metrics

import (
	"net/http"
	"strings"

	"oncallbuzzer/internal/eventbus"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "oncall_buzzer"

type Metrics struct {
	reg *prometheus.Registry

	EventsTotal       *prometheus.CounterVec // label: outcome
	AlertsFired       prometheus.Counter
	ProcessingSeconds prometheus.Histogram
	NotifyTotal       *prometheus.CounterVec // label: status
	BuzzerPlays       prometheus.Counter
	ChannelsCached    prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		EventsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "events_total",
			Help:      "Inbound message events by pipeline outcome.",
		}, []string{"outcome"}), // empty, duplicate, bot, channel, cooldown, no_match, error, fired
		AlertsFired: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "alerts_fired_total",
			Help:      "Alerts that triggered the buzzer.",
		}),
		ProcessingSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "processing_seconds",
			Help:      "Time spent handling one inbound event.",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
		}),
		NotifyTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifier",
			Name:      "notifications_total",
			Help:      "Notifier lifecycle events by status.",
		}, []string{"status"}), // queued, sent, failed, deduped, dropped
		BuzzerPlays: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "buzzer",
			Name:      "plays_total",
			Help:      "Buzzer playbacks started.",
		}),
		ChannelsCached: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "directory",
			Name:      "channels",
			Help:      "Channels held in the directory cache.",
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// ObserveEvent counts bus events that have a collector.
func (m *Metrics) ObserveEvent(e eventbus.Event) {
	if m == nil {
		return
	}
	switch {
	case strings.HasPrefix(e.Type, "notify."):
		m.NotifyTotal.WithLabelValues(strings.TrimPrefix(e.Type, "notify.")).Inc()
	case e.Type == eventbus.BuzzerStarted:
		m.BuzzerPlays.Inc()
	}
}
