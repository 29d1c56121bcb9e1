// Package metrics exposes Prometheus counters for versioning, conflicts and notification delivery.
package metrics

import (
	"net/http"

	"github.com/and161185/teamcal/internal/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector records domain metrics. It satisfies the observer interfaces of
// versioning, notify and service.
type Collector struct {
	versions      *prometheus.CounterVec
	retries       prometheus.Counter
	conflicts     prometheus.Counter
	notifications prometheus.Counter
	pushes        prometheus.Counter
	drops         *prometheus.CounterVec
	channels      prometheus.Gauge
}

// NewCollector creates a Collector and registers it on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		versions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "teamcal_versions_recorded_total",
			Help: "Event versions committed, by kind.",
		}, []string{"kind"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "teamcal_version_retries_total",
			Help: "Version commits retried after a lost sequence race.",
		}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "teamcal_conflicts_detected_total",
			Help: "Scheduling conflicts found on create and update.",
		}),
		notifications: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "teamcal_notifications_persisted_total",
			Help: "Notification rows written.",
		}),
		pushes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "teamcal_live_pushes_total",
			Help: "Messages delivered to live channels.",
		}),
		drops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "teamcal_channel_drops_total",
			Help: "Live channels dropped by the hub, by reason.",
		}, []string{"reason"}),
		channels: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "teamcal_live_channels",
			Help: "Currently subscribed live channels.",
		}),
	}
	reg.MustRegister(c.versions, c.retries, c.conflicts, c.notifications, c.pushes, c.drops, c.channels)
	return c
}

// VersionRecorded counts a committed version.
func (c *Collector) VersionRecorded(kind model.VersionKind) {
	c.versions.WithLabelValues(string(kind)).Inc()
}

// VersionRetried counts a retried commit.
func (c *Collector) VersionRetried() { c.retries.Inc() }

// ConflictsDetected adds n detected conflicts.
func (c *Collector) ConflictsDetected(n int) { c.conflicts.Add(float64(n)) }

// NotificationsPersisted adds n stored notifications.
func (c *Collector) NotificationsPersisted(n int) { c.notifications.Add(float64(n)) }

// Pushed counts one live delivery.
func (c *Collector) Pushed() { c.pushes.Inc() }

// ChannelDropped counts a dropped channel.
func (c *Collector) ChannelDropped(reason string) { c.drops.WithLabelValues(reason).Inc() }

// ChannelOpened increments the live channel gauge.
func (c *Collector) ChannelOpened() { c.channels.Inc() }

// ChannelClosed decrements the live channel gauge.
func (c *Collector) ChannelClosed() { c.channels.Dec() }

// Handler returns the Prometheus scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
