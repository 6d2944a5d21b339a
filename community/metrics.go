package community

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricMessagesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "community_messages_received_total",
		Help: "Client frames received over the socket.",
	})
	metricFramesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "community_frames_dropped_total",
		Help: "Malformed or incomplete client frames silently dropped.",
	})
	metricBroadcasts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "community_broadcasts_total",
		Help: "Events fanned out to a room.",
	})
	metricDeliveriesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "community_deliveries_dropped_total",
		Help: "Fan-out deliveries dropped on a full client send queue.",
	})
	metricStorageErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "community_storage_errors_total",
		Help: "Persist failures on the log or struct stores.",
	})
)
