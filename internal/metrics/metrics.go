// Package metrics exposes build and notification counters to Prometheus.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/patrickspencer/buildbat/internal/notifier"
	"github.com/patrickspencer/buildbat/pkg/plugin"
)

const namespace = "buildbat"

// Metrics owns a private registry so tests and multiple daemons in one
// process do not collide.
type Metrics struct {
	registry *prometheus.Registry

	notifications *prometheus.CounterVec
	provisions    *prometheus.CounterVec
	builds        *prometheus.CounterVec
	deliveryTime  *prometheus.HistogramVec
	running       prometheus.Gauge
}

var _ notifier.Observer = (*Metrics)(nil)

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification attempts by trigger and outcome.",
		}, []string{"trigger", "outcome"}),
		provisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provision_total",
			Help:      "Machine account provisioning attempts by outcome.",
		}, []string{"outcome"}),
		builds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "builds_total",
			Help:      "Completed builds by result.",
		}, []string{"result"}),
		deliveryTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_duration_seconds",
			Help:      "Time spent in the Spark delivery client.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"action"}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "builds_running",
			Help:      "Builds currently running.",
		}),
	}
	m.registry.MustRegister(
		m.notifications,
		m.provisions,
		m.builds,
		m.deliveryTime,
		m.running,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Observe counts a notifier record.
func (m *Metrics) Observe(_ context.Context, rec notifier.Record) {
	if rec.Action == plugin.ActionAddMachine {
		m.provisions.WithLabelValues(string(rec.Outcome)).Inc()
	} else {
		m.notifications.WithLabelValues(string(rec.Trigger), string(rec.Outcome)).Inc()
	}
	if rec.Outcome == plugin.OutcomeDelivered || rec.Outcome == plugin.OutcomeFailed {
		m.deliveryTime.WithLabelValues(string(rec.Action)).Observe(rec.Duration.Seconds())
	}
}

// BuildStarted tracks a build entering the running state.
func (m *Metrics) BuildStarted() {
	m.running.Inc()
}

// BuildFinished counts a completed build.
func (m *Metrics) BuildFinished(result plugin.Result) {
	m.running.Dec()
	m.builds.WithLabelValues(string(result)).Inc()
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
