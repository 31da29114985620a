// Package metrics holds the Prometheus collectors exported by the
// modification runtime. A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "graft"

// Metrics holds all runtime collectors.
type Metrics struct {
	Grants         *prometheus.CounterVec
	Revokes        *prometheus.CounterVec
	InstalledSlots prometheus.Gauge
	CachedEntities prometheus.Gauge

	RecordLoads *prometheus.CounterVec
	Migrations  *prometheus.CounterVec

	Templates      prometheus.Gauge
	TemplateLoads  *prometheus.CounterVec
	ConfigDefaults *prometheus.CounterVec

	SyncMessages *prometheus.CounterVec
	SyncBytes    *prometheus.CounterVec
	OutboxDepth  prometheus.Gauge
}

// New registers the collectors on reg. Passing nil uses a private registry,
// which keeps tests from colliding on the default one.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		Grants: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grants_total",
			Help:      "Grant attempts by outcome",
		}, []string{"result"}),
		Revokes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "revokes_total",
			Help:      "Revoke attempts by outcome",
		}, []string{"result"}),
		InstalledSlots: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "installed_slots",
			Help:      "Installed slots across cached entities",
		}),
		CachedEntities: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cached_entities",
			Help:      "Entities with a populated slot cache",
		}),
		RecordLoads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "record_loads_total",
			Help:      "Entity record loads by outcome",
		}, []string{"outcome"}),
		Migrations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "record_migrations_total",
			Help:      "Migration steps applied, by source version",
		}, []string{"from"}),
		Templates: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "templates",
			Help:      "Registered templates",
		}),
		TemplateLoads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "template_files_total",
			Help:      "Template definition files processed, by outcome",
		}, []string{"outcome"}),
		ConfigDefaults: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "component_config_defaults_total",
			Help:      "Component config fields replaced by defaults",
		}, []string{"component"}),
		SyncMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_messages_total",
			Help:      "Sync protocol messages by kind, direction and outcome",
		}, []string{"kind", "direction", "outcome"}),
		SyncBytes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_bytes_total",
			Help:      "Encoded sync frame bytes by direction",
		}, []string{"direction"}),
		OutboxDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_outbox_depth",
			Help:      "Frames waiting in peer outboxes",
		}),
	}
}

func (m *Metrics) Grant(result string) {
	if m == nil {
		return
	}
	m.Grants.WithLabelValues(result).Inc()
}

func (m *Metrics) Revoke(result string) {
	if m == nil {
		return
	}
	m.Revokes.WithLabelValues(result).Inc()
}

func (m *Metrics) SlotsDelta(delta int) {
	if m == nil {
		return
	}
	m.InstalledSlots.Add(float64(delta))
}

func (m *Metrics) EntitiesDelta(delta int) {
	if m == nil {
		return
	}
	m.CachedEntities.Add(float64(delta))
}

func (m *Metrics) RecordLoad(outcome string) {
	if m == nil {
		return
	}
	m.RecordLoads.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Migration(from string) {
	if m == nil {
		return
	}
	m.Migrations.WithLabelValues(from).Inc()
}

func (m *Metrics) TemplateCount(n int) {
	if m == nil {
		return
	}
	m.Templates.Set(float64(n))
}

func (m *Metrics) TemplateFile(outcome string) {
	if m == nil {
		return
	}
	m.TemplateLoads.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ConfigDefault(component string) {
	if m == nil {
		return
	}
	m.ConfigDefaults.WithLabelValues(component).Inc()
}

func (m *Metrics) Sync(kind, direction, outcome string, size int) {
	if m == nil {
		return
	}
	m.SyncMessages.WithLabelValues(kind, direction, outcome).Inc()
	if size > 0 && outcome == "ok" {
		m.SyncBytes.WithLabelValues(direction).Add(float64(size))
	}
}

func (m *Metrics) Outbox(depth int) {
	if m == nil {
		return
	}
	m.OutboxDepth.Set(float64(depth))
}
