package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_ws_connections",
		Help: "Live websocket connections.",
	})

	metricOnlineUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_online_users",
		Help: "Identities with at least one live connection.",
	})

	metricFramesIn = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_frames_received_total",
		Help: "Inbound frames by type tag.",
	}, []string{"type"})

	metricFramesOut = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_frames_sent_total",
		Help: "Outbound frames written to websocket connections.",
	})

	metricMessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_messages_persisted_total",
		Help: "Messages accepted and persisted by the send pipeline.",
	})

	metricBroadcastDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_broadcast_dropped_total",
		Help: "Frames dropped because a connection queue was full or closing.",
	})
)
