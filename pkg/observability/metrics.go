package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	SessionsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pilot",
			Subsystem: "session",
			Name:      "started_total",
			Help:      "Total number of agent sessions started",
		},
	)

	SessionsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pilot",
			Subsystem: "session",
			Name:      "finished_total",
			Help:      "Total number of agent sessions finished",
		},
		[]string{"status"}, // "complete" or "error"
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pilot",
			Subsystem: "session",
			Name:      "active",
			Help:      "Number of currently running agent sessions",
		},
	)

	SessionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "pilot",
			Subsystem: "session",
			Name:      "duration_seconds",
			Help:      "Agent session duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~17min
		},
	)

	// Event metrics
	EventsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pilot",
			Subsystem: "event",
			Name:      "emitted_total",
			Help:      "Total number of update events emitted",
		},
		[]string{"kind"},
	)

	EventQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pilot",
			Subsystem: "event",
			Name:      "queue_depth",
			Help:      "Number of events waiting in the update queue",
		},
	)

	// Step metrics
	StepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "pilot",
			Subsystem: "agent",
			Name:      "step_duration_seconds",
			Help:      "Duration of a single agent step in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~51s
		},
	)

	ScreenshotFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pilot",
			Subsystem: "agent",
			Name:      "screenshot_failures_total",
			Help:      "Total number of failed screenshot captures",
		},
	)

	// Browser metrics
	BrowserLaunches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pilot",
			Subsystem: "browser",
			Name:      "launches_total",
			Help:      "Total number of browser launches",
		},
		[]string{"result"}, // "ok", "not_installed", "error"
	)

	// LLM metrics
	LLMRequestLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pilot",
			Subsystem: "llm",
			Name:      "request_latency_seconds",
			Help:      "LLM completion request latency in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 8), // 250ms to ~32s
		},
		[]string{"provider"},
	)

	LLMRequestFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pilot",
			Subsystem: "llm",
			Name:      "request_failures_total",
			Help:      "Total number of failed LLM completion requests",
		},
		[]string{"provider"},
	)

	// Stream metrics
	StreamClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pilot",
			Subsystem: "stream",
			Name:      "clients_active",
			Help:      "Number of connected websocket stream clients",
		},
	)

	StreamMessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pilot",
			Subsystem: "stream",
			Name:      "messages_sent_total",
			Help:      "Total number of websocket frames sent to clients",
		},
	)

	StreamMessagesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pilot",
			Subsystem: "stream",
			Name:      "messages_dropped_total",
			Help:      "Total number of frames dropped due to slow consumers",
		},
	)
)
