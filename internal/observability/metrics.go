package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service. Each Metrics
// owns its registry so several instances (tests, embedded servers) can coexist.
//
// All Observe methods are safe on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry
	stages   *stageWindow

	ActiveSessions    prometheus.Gauge
	SessionEvents     *prometheus.CounterVec
	WSMessages        *prometheus.CounterVec
	MessagesAppended  *prometheus.CounterVec
	PlaybackEvents    *prometheus.CounterVec
	PlaybackChunks    prometheus.Histogram
	EngineUnavailable *prometheus.CounterVec
	ReplyDelay        prometheus.Histogram
}

func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		stages:   newStageWindow(256),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of active chat sessions.",
		}),
		SessionEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		WSMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		MessagesAppended: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_appended_total",
			Help:      "Conversation messages appended by sender.",
		}, []string{"sender"}),
		PlaybackEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_events_total",
			Help:      "Playback transitions and chunk outcomes.",
		}, []string{"event"}),
		PlaybackChunks: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "playback_chunks",
			Help:      "Number of chunks per playback request.",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21},
		}),
		EngineUnavailable: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "speech_engine_unavailable_total",
			Help:      "Speak attempts rejected because the engine was unavailable.",
		}, []string{"engine"}),
		ReplyDelay: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "partner_reply_delay_ms",
			Help:      "Scheduled delay before a partner reply in milliseconds.",
			Buckets:   []float64{500, 1000, 1500, 2000, 2500, 3000, 3500, 5000},
		}),
	}
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

func (m *Metrics) ObserveSessionEvent(event string) {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) ObserveWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

func (m *Metrics) ObserveMessageAppended(sender string) {
	if m == nil {
		return
	}
	m.MessagesAppended.WithLabelValues(sender).Inc()
}

func (m *Metrics) ObservePlaybackEvent(event string) {
	if m == nil {
		return
	}
	m.PlaybackEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) ObservePlaybackChunks(n int) {
	if m == nil {
		return
	}
	m.PlaybackChunks.Observe(float64(n))
}

func (m *Metrics) ObserveEngineUnavailable(engine string) {
	if m == nil {
		return
	}
	m.EngineUnavailable.WithLabelValues(engine).Inc()
}

func (m *Metrics) ObserveReplyDelay(d time.Duration) {
	if m == nil {
		return
	}
	m.ReplyDelay.Observe(float64(d.Milliseconds()))
	m.stages.Observe(StageReplyDelay, float64(d.Milliseconds()))
}

// ObserveStage records a latency sample for the /v1/perf/latency window.
func (m *Metrics) ObserveStage(stage Stage, d time.Duration) {
	if m == nil {
		return
	}
	m.stages.Observe(stage, float64(d.Microseconds())/1000)
}

// ObserveChunkOutcome counts how a spoken chunk finished.
func (m *Metrics) ObserveChunkOutcome(outcome string) {
	if m == nil {
		return
	}
	m.stages.countOutcome(outcome)
}

func (m *Metrics) SnapshotStages() StageSnapshot {
	if m == nil {
		return StageSnapshot{GeneratedAt: time.Now().UTC(), Stages: []StageStats{}, ChunkOutcomes: map[string]int{}}
	}
	return m.stages.Snapshot()
}

func (m *Metrics) ResetStages() {
	if m == nil {
		return
	}
	m.stages.Reset()
}

// Handler serves this instance's registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}
