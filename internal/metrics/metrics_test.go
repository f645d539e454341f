package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestNewCollectors_RegistersAndRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollectors(reg)

	c.RelaySelections.WithLabelValues("matrix.tez.ie").Inc()
	c.HandshakeResults.WithLabelValues("success").Inc()
	c.DecryptionMismatches.Inc()
	c.JoinedRoomsGauge.Set(3)

	families, err := reg.Gather()
	require.NoError(t, err)

	byName := map[string]*dto.MetricFamily{}
	for _, f := range families {
		byName[f.GetName()] = f
	}

	require.Contains(t, byName, "beacon_relay_selections_total")
	require.Contains(t, byName, "beacon_pairing_handshake_total")
	require.Contains(t, byName, "beacon_session_decryption_mismatches_total")
	require.Contains(t, byName, "beacon_chat_joined_rooms")

	gauge := byName["beacon_chat_joined_rooms"].GetMetric()[0].GetGauge()
	require.Equal(t, float64(3), gauge.GetValue())
}
