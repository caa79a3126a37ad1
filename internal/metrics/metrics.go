package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RosterSubscriptions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_roster_subscriptions",
		Help: "Active roster live subscriptions",
	})
	ConversationSubscriptions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_conversation_subscriptions",
		Help: "Active conversation live subscriptions",
	})
	MessagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_messages_sent_total",
		Help: "Messages appended by composers",
	})
	Errors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_errors_total",
		Help: "Errors by kind (send, sync, registration)",
	}, []string{"kind"})
	Connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ws_active_connections",
		Help: "Active websocket connections",
	})
)

func Init() {
	prometheus.MustRegister(RosterSubscriptions, ConversationSubscriptions, MessagesSent, Errors, Connections)
}

// Handler returns an http.Handler for Prometheus scraping
func Handler() http.Handler {
	return promhttp.Handler()
}
