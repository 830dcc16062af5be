package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	// Gauges
	connectionsOpen prometheus.Gauge
	roomsActive     prometheus.Gauge

	// Counters
	messagesReceivedTotal   *prometheus.CounterVec
	eventsSentTotal         *prometheus.CounterVec
	connectionsEvictedTotal prometheus.Counter
	credentialsIssuedTotal  prometheus.Counter

	// Histograms
	messageHandlingDuration prometheus.Histogram
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		connectionsOpen: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "meetsignal_connections_open",
			Help: "Number of open signaling connections",
		}),

		roomsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "meetsignal_rooms_active",
			Help: "Number of rooms with at least one connected participant",
		}),

		messagesReceivedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "meetsignal_messages_received_total",
			Help: "Total number of inbound signaling messages by type",
		}, []string{"type"}),

		eventsSentTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "meetsignal_events_sent_total",
			Help: "Total number of outbound signaling events by type",
		}, []string{"type"}),

		connectionsEvictedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "meetsignal_connections_evicted_total",
			Help: "Total number of connections evicted by the liveness sweep",
		}),

		credentialsIssuedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "meetsignal_credentials_issued_total",
			Help: "Total number of relay credentials issued",
		}),

		messageHandlingDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "meetsignal_message_handling_duration_seconds",
			Help:    "Time spent handling a single signaling message",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}),
	}
}

func (p *PrometheusCollector) RecordConnectionOpened() {
	p.connectionsOpen.Inc()
}

func (p *PrometheusCollector) RecordConnectionClosed() {
	p.connectionsOpen.Dec()
}

func (p *PrometheusCollector) SetActiveRooms(count int) {
	p.roomsActive.Set(float64(count))
}

func (p *PrometheusCollector) RecordMessageReceived(messageType string) {
	p.messagesReceivedTotal.WithLabelValues(messageType).Inc()
}

func (p *PrometheusCollector) RecordEventSent(eventType string) {
	p.eventsSentTotal.WithLabelValues(eventType).Inc()
}

func (p *PrometheusCollector) RecordConnectionEvicted() {
	p.connectionsEvictedTotal.Inc()
}

func (p *PrometheusCollector) RecordCredentialIssued() {
	p.credentialsIssuedTotal.Inc()
}

func (p *PrometheusCollector) RecordMessageHandling(duration time.Duration) {
	p.messageHandlingDuration.Observe(duration.Seconds())
}
