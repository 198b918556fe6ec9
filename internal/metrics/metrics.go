// Package metrics provides Prometheus metrics for interview sessions and
// text generation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "interview_coach"

// Metrics holds all Prometheus metrics for the service
type Metrics struct {
	// Session metrics
	SessionsStarted prometheus.Counter
	SessionsFailed  *prometheus.CounterVec
	SessionsEnded   *prometheus.CounterVec
	SessionsActive  prometheus.Gauge
	ConnectLatency  prometheus.Histogram
	SessionDuration prometheus.Histogram

	// Audio metrics
	FramesSent      prometheus.Counter
	FramesDropped   prometheus.Counter
	ChunksPlayed    prometheus.Counter
	ChunksMalformed prometheus.Counter
	BargeIns        prometheus.Counter

	// Transcript metrics
	TranscriptEntries *prometheus.CounterVec

	// Generation metrics
	GenerationLatency *prometheus.HistogramVec
	GenerationErrors  *prometheus.CounterVec

	// Event publishing metrics
	EventsPublished *prometheus.CounterVec
	EventErrors     *prometheus.CounterVec
}

// DefaultMetrics is registered with the default Prometheus registry
var DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer)

// NewMetrics creates all metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SessionsStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Total number of interview sessions that reached the connected state",
		}),
		SessionsFailed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_failed_total",
			Help:      "Total number of interview sessions that failed to start",
		}, []string{"reason"}),
		SessionsEnded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_ended_total",
			Help:      "Total number of interview sessions torn down",
		}, []string{"reason"}),
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently connected interview sessions",
		}),
		ConnectLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "connect_latency_seconds",
			Help:      "Time from start to the live service confirming the session",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),
		SessionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of connected interview sessions",
			Buckets:   []float64{10, 30, 60, 120, 300, 600, 1200, 1800},
		}),

		FramesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_sent_total",
			Help:      "Total microphone frames queued for the live service",
		}),
		FramesDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_dropped_total",
			Help:      "Total microphone frames dropped because the send queue was full",
		}),
		ChunksPlayed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_chunks_played_total",
			Help:      "Total inbound audio chunks scheduled for playback",
		}),
		ChunksMalformed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_chunks_malformed_total",
			Help:      "Total inbound audio chunks dropped as malformed",
		}),
		BargeIns: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "barge_ins_total",
			Help:      "Total interruptions that halted queued playback",
		}),

		TranscriptEntries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcript_entries_total",
			Help:      "Total finalized transcript entries",
		}, []string{"speaker"}),

		GenerationLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_latency_seconds",
			Help:      "Latency of persona and feedback generation calls",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 60},
		}, []string{"kind", "provider"}),
		GenerationErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_errors_total",
			Help:      "Total failed persona and feedback generation calls",
		}, []string{"kind", "provider"}),

		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Total transcript events published",
		}, []string{"event_type"}),
		EventErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_errors_total",
			Help:      "Total transcript events that failed to publish",
		}, []string{"event_type"}),
	}
}

// RecordSessionStart records a session reaching the connected state
func (m *Metrics) RecordSessionStart(connectLatency time.Duration) {
	m.SessionsStarted.Inc()
	m.SessionsActive.Inc()
	m.ConnectLatency.Observe(connectLatency.Seconds())
}

// RecordSessionFailed records a session that never connected
func (m *Metrics) RecordSessionFailed(reason string) {
	m.SessionsFailed.WithLabelValues(reason).Inc()
}

// RecordSessionEnd records teardown of a connected session
func (m *Metrics) RecordSessionEnd(reason string, duration time.Duration) {
	m.SessionsActive.Dec()
	m.SessionsEnded.WithLabelValues(reason).Inc()
	m.SessionDuration.Observe(duration.Seconds())
}

// RecordFrame records one outbound microphone frame
func (m *Metrics) RecordFrame(dropped bool) {
	if dropped {
		m.FramesDropped.Inc()
		return
	}
	m.FramesSent.Inc()
}

// RecordChunk records one inbound audio chunk
func (m *Metrics) RecordChunk(malformed bool) {
	if malformed {
		m.ChunksMalformed.Inc()
		return
	}
	m.ChunksPlayed.Inc()
}

// RecordBargeIn records an interruption
func (m *Metrics) RecordBargeIn() {
	m.BargeIns.Inc()
}

// RecordEntry records a finalized transcript entry
func (m *Metrics) RecordEntry(speaker string) {
	m.TranscriptEntries.WithLabelValues(speaker).Inc()
}

// RecordGeneration records a persona or feedback generation call
func (m *Metrics) RecordGeneration(kind, provider string, err error, latency time.Duration) {
	m.GenerationLatency.WithLabelValues(kind, provider).Observe(latency.Seconds())
	if err != nil {
		m.GenerationErrors.WithLabelValues(kind, provider).Inc()
	}
}

// RecordEvent records a transcript event publish attempt
func (m *Metrics) RecordEvent(eventType string, err error) {
	if err != nil {
		m.EventErrors.WithLabelValues(eventType).Inc()
		return
	}
	m.EventsPublished.WithLabelValues(eventType).Inc()
}
