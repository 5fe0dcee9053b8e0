package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the Prometheus collectors used across the assistant.
type Metrics struct {
	IncomingMessages *prometheus.CounterVec
	LLMRequests      *prometheus.CounterVec
	LLMLatency       *prometheus.HistogramVec
	CalendarEvents   *prometheus.CounterVec
	DirectoryLookups *prometheus.CounterVec
	Errors           *prometheus.CounterVec
}

// New registers all collectors on the given registry under namespace.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		IncomingMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "incoming_messages_total",
			Help:      "Inbound chat turns by detected intent.",
		}, []string{"intent"}),
		LLMRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Groq completion requests by outcome.",
		}, []string{"status"}),
		LLMLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_latency_seconds",
			Help:      "Groq completion latency by HTTP status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
		CalendarEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calendar_events_total",
			Help:      "Graph calendar event creations by outcome.",
		}, []string{"outcome"}),
		DirectoryLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "directory_lookups_total",
			Help:      "Client directory lookups by result.",
		}, []string{"result"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Errors by component.",
		}, []string{"component"}),
	}

	reg.MustRegister(
		m.IncomingMessages,
		m.LLMRequests,
		m.LLMLatency,
		m.CalendarEvents,
		m.DirectoryLookups,
		m.Errors,
	)
	return m
}
