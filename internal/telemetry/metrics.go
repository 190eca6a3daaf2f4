// Package telemetry exposes monitor activity as Prometheus metrics and
// OpenTelemetry spans.
package telemetry

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/steveyegge/vigil/internal/events"
	"github.com/steveyegge/vigil/internal/types"
)

const namespace = "vigil"

// Metrics is an events.Sink that turns monitor events into Prometheus
// series on its own registry
type Metrics struct {
	registry *prometheus.Registry

	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	composite     prometheus.Gauge
	status        prometheus.Gauge
	dimensions    *prometheus.GaugeVec
	challenges    *prometheus.CounterVec
	recoveries    *prometheus.CounterVec
	fallbacks     prometheus.Counter
	sourceFailed  *prometheus.CounterVec
	configChanges *prometheus.CounterVec
}

// NewMetrics registers the monitor metrics on a fresh registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		cycles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Monitoring cycles by kind and outcome",
		}, []string{"kind", "outcome"}),
		cycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of successful monitoring cycles",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		composite: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "composite_score",
			Help:      "Composite health score of the latest state",
		}),
		status: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "status",
			Help:      "Status band of the latest state (0 critical_failure .. 5 optimal)",
		}),
		dimensions: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dimension_score",
			Help:      "Latest score of each dimension",
		}, []string{"dimension"}),
		challenges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "challenges_total",
			Help:      "Challenges detected by dimension and severity",
		}, []string{"dimension", "severity"}),
		recoveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recoveries_total",
			Help:      "Finished recovery processes by action type and status",
		}, []string{"action_type", "status"}),
		fallbacks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "emergency_fallbacks_total",
			Help:      "Cycles that failed and published the fallback state",
		}),
		sourceFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_failures_total",
			Help:      "Source calls that failed or timed out",
		}, []string{"source"}),
		configChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_changes_total",
			Help:      "Configuration updates by result",
		}, []string{"result"}),
	}
}

// Registry returns the registry holding the monitor metrics
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Emit updates metrics from an event. Unknown event types are ignored.
func (m *Metrics) Emit(ctx context.Context, event *events.Event) error {
	switch event.Type {
	case events.EventTypeCycleCompleted:
		data, err := event.GetCycleCompletedData()
		if err != nil {
			return err
		}
		m.cycles.WithLabelValues(data.Cycle, "ok").Inc()
		m.cycleDuration.Observe(float64(data.DurationMs) / 1000)
		m.composite.Set(data.Composite)
		if status, err := types.ParseStatus(data.Status); err == nil {
			m.status.Set(float64(status))
		}
		for dim, score := range data.Dimensions {
			m.dimensions.WithLabelValues(dim).Set(score)
		}
		for _, src := range data.FailedSource {
			m.sourceFailed.WithLabelValues(src).Inc()
		}

	case events.EventTypeChallengeDetected:
		data, err := event.GetChallengeData()
		if err != nil {
			return err
		}
		m.challenges.WithLabelValues(event.Dimension, data.Severity).Inc()

	case events.EventTypeRecoveryCompleted, events.EventTypeRecoveryPartial,
		events.EventTypeRecoveryFailed, events.EventTypeRecoveryEscalated:
		data, err := event.GetRecoveryData()
		if err != nil {
			return err
		}
		m.recoveries.WithLabelValues(data.ActionType, data.Status).Inc()

	case events.EventTypeEmergencyFallback:
		m.fallbacks.Inc()
		m.cycles.WithLabelValues("", "fallback").Inc()
		m.composite.Set(0.5)

	case events.EventTypeConfigUpdated:
		m.configChanges.WithLabelValues("accepted").Inc()

	case events.EventTypeConfigRejected:
		m.configChanges.WithLabelValues("rejected").Inc()
	}
	return nil
}
