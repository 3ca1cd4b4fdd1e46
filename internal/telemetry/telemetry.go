// Package telemetry exposes hwpulse's own operational metrics through a
// Prometheus registry, mounted by the serve command.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all hwpulse self-metrics.
var Registry = prometheus.NewRegistry()

var (
	// SamplesAppended counts samples durably written to the store.
	SamplesAppended = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Namespace: "hwpulse",
		Name:      "samples_appended_total",
		Help:      "Samples durably appended to the time-series store.",
	})

	// SamplesRejected counts writes rejected at the ingest path.
	SamplesRejected = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "hwpulse",
		Name:      "samples_rejected_total",
		Help:      "Samples rejected on write, by reason.",
	}, []string{"reason"})

	// SegmentsSealed counts segment rotations.
	SegmentsSealed = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Namespace: "hwpulse",
		Name:      "segments_sealed_total",
		Help:      "Segments sealed by rotation.",
	})

	// SegmentsDeleted counts segments removed by retention.
	SegmentsDeleted = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Namespace: "hwpulse",
		Name:      "segments_deleted_total",
		Help:      "Sealed segments deleted by the retention sweep.",
	})

	// EventsEmitted counts events by kind.
	EventsEmitted = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "hwpulse",
		Name:      "events_emitted_total",
		Help:      "Events emitted, by kind.",
	}, []string{"kind"})

	// AccessDenied counts authorization failures by reason.
	AccessDenied = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "hwpulse",
		Name:      "access_denied_total",
		Help:      "Facade calls denied by the access layer, by reason.",
	}, []string{"reason"})

	// ActiveSubscribers tracks live streaming subscriptions.
	ActiveSubscribers = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Namespace: "hwpulse",
		Name:      "active_subscribers",
		Help:      "Currently active streaming subscriptions.",
	})

	// SubscriberDropped counts updates dropped on slow subscriber queues.
	SubscriberDropped = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Namespace: "hwpulse",
		Name:      "subscriber_dropped_total",
		Help:      "Stream updates dropped because a subscriber queue was full.",
	})
)

// Handler returns an HTTP handler serving the hwpulse registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
