// Package metrics exposes client-side counters for the relay connection and
// the send pipeline. The daemon serves them on a localhost-only listener
// when metrics.addr is configured.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RelayFramesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teamchat_relay_frames_total",
			Help: "Total number of frames received from the relay by type.",
		},
		[]string{"type"},
	)
	RelayReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "teamchat_relay_reconnects_total",
			Help: "Total number of relay reconnect attempts.",
		},
	)
	MessagesSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teamchat_messages_sent_total",
			Help: "Total number of outbox sends by outcome.",
		},
		[]string{"outcome"},
	)
	RESTFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teamchat_rest_failures_total",
			Help: "Total number of failed REST calls by operation.",
		},
		[]string{"op"},
	)
)

func init() {
	prometheus.MustRegister(
		RelayFramesTotal,
		RelayReconnectsTotal,
		MessagesSentTotal,
		RESTFailuresTotal,
	)
}

// Handler returns the HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
