package monitoring

import (
	"parley/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	connectionsActive   prometheus.Gauge
	identifiedTotal     prometheus.Counter
	messagesRelayed     *prometheus.CounterVec
	persistenceFailures prometheus.Counter
	signalsRelayed      *prometheus.CounterVec
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		connectionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "parley_connections_active",
			Help: "Number of live websocket connections",
		}),

		identifiedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "parley_identified_total",
			Help: "Total number of successful identifications",
		}),

		messagesRelayed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_messages_relayed_total",
			Help: "Total chat messages persisted and broadcast, per room",
		}, []string{"room_id"}),

		persistenceFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "parley_persistence_failures_total",
			Help: "Total message persistence failures",
		}),

		signalsRelayed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_signals_relayed_total",
			Help: "Total call signaling messages relayed, per type",
		}, []string{"type"}),
	}
}

func (p *PrometheusCollector) RecordConnectionOpened() {
	p.connectionsActive.Inc()
}

func (p *PrometheusCollector) RecordConnectionClosed() {
	p.connectionsActive.Dec()
}

func (p *PrometheusCollector) RecordIdentified() {
	p.identifiedTotal.Inc()
}

func (p *PrometheusCollector) RecordMessageRelayed(roomID domain.RoomID) {
	p.messagesRelayed.WithLabelValues(string(roomID)).Inc()
}

func (p *PrometheusCollector) RecordPersistenceFailure() {
	p.persistenceFailures.Inc()
}

func (p *PrometheusCollector) RecordSignalRelayed(eventType string) {
	p.signalsRelayed.WithLabelValues(eventType).Inc()
}
