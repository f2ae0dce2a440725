package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Widget backend metrics.
var (
	// ExchangesTotal counts settled prompt/answer round-trips by outcome.
	ExchangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragchat",
			Subsystem: "chat",
			Name:      "exchanges_total",
			Help:      "Total prompt exchanges with the RAG microservice",
		},
		[]string{"status"},
	)

	ExchangeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ragchat",
			Subsystem: "chat",
			Name:      "exchange_duration_seconds",
			Help:      "Prompt exchange duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"status"},
	)

	// SubmissionsRejected counts submissions refused by the conversation state machine.
	SubmissionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragchat",
			Subsystem: "chat",
			Name:      "submissions_rejected_total",
			Help:      "Submissions rejected because the prompt was empty or a response was pending",
		},
		[]string{"reason"},
	)

	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ragchat",
			Subsystem: "widget",
			Name:      "sessions_active",
			Help:      "Widget sessions currently tracked",
		},
	)

	ConversationsMounted = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ragchat",
			Subsystem: "widget",
			Name:      "conversations_mounted",
			Help:      "Chat windows currently open",
		},
	)

	DocumentUploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragchat",
			Subsystem: "knowledge",
			Name:      "uploads_total",
			Help:      "Documents forwarded to the RAG microservice",
		},
		[]string{"status"},
	)
)
