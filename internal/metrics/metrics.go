// Package metrics provides Prometheus instrumentation for the moderation
// service. It exposes counters for events, filter failures and executed
// actions, a histogram for evaluation latency, and gauges for live state.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Action results used as the "result" label of ActionsTotal.
const (
	ResultOK      = "ok"
	ResultSkipped = "skipped"
	ResultError   = "error"
)

var (
	// EventsTotal counts evaluated events, labeled by context: "message
	// create", "message edit", "reaction" or "username".
	EventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "automod_events_total",
		Help: "Total number of events evaluated",
	}, []string{"context"})

	// FailuresTotal counts events that failed a filter, labeled by context.
	FailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "automod_filter_failures_total",
		Help: "Total number of events that failed a filter",
	}, []string{"context"})

	// ActionsTotal counts executed actions by kind and result.
	ActionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "automod_actions_total",
		Help: "Total number of actions executed",
	}, []string{"kind", "result"}) // result = "ok", "skipped", "error"

	// EvalLatency records pipeline evaluation latency in seconds.
	EvalLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "automod_eval_latency_seconds",
		Help:    "Filter pipeline evaluation latency in seconds",
		Buckets: []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05},
	})

	// ConfigReloads counts configuration reload attempts by result.
	ConfigReloads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "automod_config_reloads_total",
		Help: "Total number of configuration reload attempts",
	}, []string{"result"}) // result = "ok", "error"

	// ConfiguredGuilds tracks the number of guilds in the live snapshot.
	ConfiguredGuilds = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "automod_configured_guilds",
		Help: "Number of guilds in the live configuration",
	})

	// SpamAuthors tracks the number of authors with spam history, summed
	// over guilds.
	SpamAuthors = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "automod_spam_tracked_authors",
		Help: "Number of authors with spam history",
	})

	// FeedClients tracks the current number of incident feed websocket
	// connections.
	FeedClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "automod_feed_clients",
		Help: "Current number of incident feed connections",
	})

	// FeedDropped counts incident frames dropped because a feed client's
	// send queue was full.
	FeedDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "automod_feed_dropped_total",
		Help: "Total number of incident feed frames dropped for slow clients",
	})

	// ChecksTotal counts evaluation-only checks received over NATS by
	// result: "passed", "failed" or "error".
	ChecksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "automod_remote_checks_total",
		Help: "Total number of remote check requests",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(
		EventsTotal,
		FailuresTotal,
		ActionsTotal,
		EvalLatency,
		ConfigReloads,
		ConfiguredGuilds,
		SpamAuthors,
		FeedClients,
		FeedDropped,
		ChecksTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
