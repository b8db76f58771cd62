// ABOUTME: Prometheus metrics for presence gossip, message delivery, and the signal relay
// ABOUTME: Registered on the default registry and exposed by the relay and optionally by peers

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Peer-side signal traffic
	SignalsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moss_signals_sent_total",
			Help: "Total outbound signals by payload type and result",
		},
		[]string{"type", "result"}, // result: "ok" or "error"
	)

	SignalsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moss_signals_received_total",
			Help: "Total inbound signals by payload type",
		},
		[]string{"type"},
	)

	Resends = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "moss_resends_total",
			Help: "Total messages re-sent to a peer on contact",
		},
	)

	AcksReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moss_acks_received_total",
			Help: "Total acks received, by whether they matched an outstanding message",
		},
		[]string{"matched"},
	)

	OutstandingMessages = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "moss_outstanding_messages",
			Help: "Messages awaiting acknowledgment, summed over peers",
		},
	)

	Peers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "moss_peers",
			Help: "Tracked peers by presence status",
		},
		[]string{"status"},
	)

	// Relay
	RelayConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "moss_relay_connections",
			Help: "Peers currently connected to the relay",
		},
	)

	RelayFrames = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moss_relay_frames_total",
			Help: "Per-recipient routing outcomes at the relay",
		},
		[]string{"result"}, // "delivered", "offline", "queue_full"
	)
)

// RecordSend counts one outbound signal attempt.
func RecordSend(payloadType string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	SignalsSent.WithLabelValues(payloadType, result).Inc()
}
