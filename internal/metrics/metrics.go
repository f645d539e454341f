// Package metrics exposes Prometheus collectors for the pairing core's
// hot paths: relay selection, the handshake, session message
// send/receive, and the chat sync loop.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors bundles every metric the pairing core emits. A single
// instance is constructed per process and handed to pairing/ (which
// also records relay selections) and, through chat.WithMetrics, to
// chat/ rather than relying on the default global
// registry, so tests can register an isolated Collectors against a
// throwaway prometheus.Registry.
type Collectors struct {
	RelaySelections  *prometheus.CounterVec
	HandshakeResults *prometheus.CounterVec
	HandshakeLatency prometheus.Histogram

	SessionMessagesSent     *prometheus.CounterVec
	SessionMessagesReceived *prometheus.CounterVec
	DecryptionMismatches    prometheus.Counter

	SyncFailures   prometheus.Counter
	SyncBackoff    prometheus.Histogram
	JoinedRoomsGauge prometheus.Gauge
}

// NewCollectors registers every beacon-core metric against reg and
// returns the bundle. Passing prometheus.NewRegistry() isolates a
// test's metrics from the process-wide default registry.
func NewCollectors(reg prometheus.Registerer) *Collectors {
	factory := promauto.With(reg)

	return &Collectors{
		RelaySelections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "beacon",
			Subsystem: "relay",
			Name:      "selections_total",
			Help:      "Relay server selections, labeled by chosen server.",
		}, []string{"server"}),

		HandshakeResults: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "beacon",
			Subsystem: "pairing",
			Name:      "handshake_total",
			Help:      "Pairing handshake attempts, labeled by outcome.",
		}, []string{"outcome"}),

		HandshakeLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "beacon",
			Subsystem: "pairing",
			Name:      "handshake_duration_seconds",
			Help:      "Time from SendPairingResponse to session established.",
			Buckets:   prometheus.DefBuckets,
		}),

		SessionMessagesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "beacon",
			Subsystem: "session",
			Name:      "messages_sent_total",
			Help:      "Encrypted session messages sent, labeled by peer room.",
		}, []string{"room_id"}),

		SessionMessagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "beacon",
			Subsystem: "session",
			Name:      "messages_received_total",
			Help:      "Encrypted session messages successfully decrypted, labeled by peer room.",
		}, []string{"room_id"}),

		DecryptionMismatches: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "beacon",
			Subsystem: "session",
			Name:      "decryption_mismatches_total",
			Help:      "Inbound ciphertexts that failed to decrypt under any known session key.",
		}),

		SyncFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "beacon",
			Subsystem: "chat",
			Name:      "sync_failures_total",
			Help:      "Failed sync round-trips against the relay server.",
		}),

		SyncBackoff: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "beacon",
			Subsystem: "chat",
			Name:      "sync_backoff_seconds",
			Help:      "Backoff delay applied after a sync failure.",
			Buckets:   []float64{.05, .1, .2, .5, 1, 2, 5, 10, 30},
		}),

		JoinedRoomsGauge: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "beacon",
			Subsystem: "chat",
			Name:      "joined_rooms",
			Help:      "Number of rooms currently joined.",
		}),
	}
}
