// Package metrics defines the Prometheus metrics of the denoise service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "denoise"

// Metrics contains all Prometheus metrics for the denoise service
type Metrics struct {
	// UDP packet metrics
	PacketsReceived  prometheus.Counter
	PacketsProcessed prometheus.Counter
	ParseErrors      prometheus.Counter
	QueueSize        prometheus.Gauge

	// Session metrics
	ActiveSessions    prometheus.Gauge
	SessionsCreated   *prometheus.CounterVec
	SessionsDestroyed prometheus.Counter
	SessionsFailed    prometheus.Counter
	SessionDuration   prometheus.Histogram
	EngineInitErrors  prometheus.Counter

	// Frame metrics
	FramesProcessed     prometheus.Counter
	FramesDenoised      prometheus.Counter
	FramesPassthrough   prometheus.Counter
	FramesDropped       prometheus.Counter
	FramesRejected      prometheus.Counter
	FrameProcessingTime prometheus.Histogram
	FrameQueueDepth     prometheus.Histogram

	// VAD metrics
	VADScore        prometheus.Histogram
	VoiceFrames     prometheus.Counter
	VoiceSegments   prometheus.Counter
	SegmentDuration prometheus.Histogram

	// WebSocket metrics
	WSConnections      prometheus.Gauge
	WSMessagesReceived *prometheus.CounterVec
	WSMessagesSent     *prometheus.CounterVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg. Pass
// prometheus.DefaultRegisterer to expose them on the default /metrics handler.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// UDP packet metrics
		PacketsReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_received_total",
			Help:      "Total number of UDP packets received",
		}),
		PacketsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_processed_total",
			Help:      "Total number of UDP packets successfully processed",
		}),
		ParseErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_errors_total",
			Help:      "Total number of packet parsing errors",
		}),
		QueueSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "packet_queue_size",
			Help:      "Current number of packets in the processing queue",
		}),

		// Session metrics
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Current number of active denoise sessions",
		}),
		SessionsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Total number of sessions created, by capture source",
		}, []string{"source"}),
		SessionsDestroyed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_destroyed_total",
			Help:      "Total number of sessions stopped and released",
		}),
		SessionsFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_failed_total",
			Help:      "Total number of sessions that entered the failed state",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of sessions in seconds",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~17 minutes
		}),
		EngineInitErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_init_errors_total",
			Help:      "Total number of denoise processor construction failures",
		}),

		// Frame metrics
		FramesProcessed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_processed_total",
			Help:      "Total number of frames run through the engine",
		}),
		FramesDenoised: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_denoised_total",
			Help:      "Total number of frames overwritten with denoised samples",
		}),
		FramesPassthrough: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_passthrough_total",
			Help:      "Total number of frames of non-denoised channels delivered as is",
		}),
		FramesDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Total number of frames dropped because the frame queue was full",
		}),
		FramesRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_rejected_total",
			Help:      "Total number of frames rejected by the engine adapter",
		}),
		FrameProcessingTime: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "frame_processing_duration_seconds",
			Help:      "Time spent in the engine per frame",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 2, 12), // 50us to ~100ms
		}),
		FrameQueueDepth: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "frame_queue_depth",
			Help:      "Frames waiting in the session queue when a frame is dequeued",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 8),
		}),

		// VAD metrics
		VADScore: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "vad_score",
			Help:      "Raw per-frame VAD score returned by the engine",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11), // 0.0 to 1.0
		}),
		VoiceFrames: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vad_voice_frames_total",
			Help:      "Total number of frames classified as voice",
		}),
		VoiceSegments: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vad_segments_total",
			Help:      "Total number of closed voice segments",
		}),
		SegmentDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "vad_segment_duration_seconds",
			Help:      "Duration of closed voice segments",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}),

		// WebSocket metrics
		WSConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_connections",
			Help:      "Current number of open WebSocket capture connections",
		}),
		WSMessagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "websocket_messages_received_total",
			Help:      "Total number of WebSocket messages received",
		}, []string{"type"}),
		WSMessagesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "websocket_messages_sent_total",
			Help:      "Total number of WebSocket messages sent",
		}, []string{"type"}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_errors_total",
			Help:      "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordPacketReceived increments the packets received counter
func (m *Metrics) RecordPacketReceived() {
	m.PacketsReceived.Inc()
}

// RecordPacketProcessed increments the packets processed counter
func (m *Metrics) RecordPacketProcessed() {
	m.PacketsProcessed.Inc()
}

// RecordParseError increments the parse errors counter
func (m *Metrics) RecordParseError() {
	m.ParseErrors.Inc()
}

// SetQueueSize sets the current packet queue size
func (m *Metrics) SetQueueSize(size int) {
	m.QueueSize.Set(float64(size))
}

// SetActiveSessions sets the current number of active sessions
func (m *Metrics) SetActiveSessions(count int) {
	m.ActiveSessions.Set(float64(count))
}

// RecordSessionCreated increments the sessions created counter for source
func (m *Metrics) RecordSessionCreated(source string) {
	m.SessionsCreated.WithLabelValues(source).Inc()
}

// RecordSessionDestroyed increments the sessions destroyed counter and records duration
func (m *Metrics) RecordSessionDestroyed(durationSeconds float64) {
	m.SessionsDestroyed.Inc()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordSessionFailed increments the failed sessions counter
func (m *Metrics) RecordSessionFailed() {
	m.SessionsFailed.Inc()
}

// RecordEngineInitError increments the processor construction failure counter
func (m *Metrics) RecordEngineInitError() {
	m.EngineInitErrors.Inc()
}

// RecordFrame records one frame processed by the engine
func (m *Metrics) RecordFrame(score float32, denoised, hasVoice bool, processingTimeSeconds float64) {
	m.FramesProcessed.Inc()
	if denoised {
		m.FramesDenoised.Inc()
	}
	if hasVoice {
		m.VoiceFrames.Inc()
	}
	m.VADScore.Observe(float64(score))
	m.FrameProcessingTime.Observe(processingTimeSeconds)
}

// RecordPassthroughFrame records a frame delivered without engine processing
func (m *Metrics) RecordPassthroughFrame() {
	m.FramesPassthrough.Inc()
}

// RecordFrameDropped increments the dropped frames counter
func (m *Metrics) RecordFrameDropped() {
	m.FramesDropped.Inc()
}

// RecordFrameRejected increments the rejected frames counter
func (m *Metrics) RecordFrameRejected() {
	m.FramesRejected.Inc()
}

// ObserveQueueDepth records the frame queue depth
func (m *Metrics) ObserveQueueDepth(frames int) {
	m.FrameQueueDepth.Observe(float64(frames))
}

// RecordSegment records a closed voice segment
func (m *Metrics) RecordSegment(durationSeconds float64) {
	m.VoiceSegments.Inc()
	m.SegmentDuration.Observe(durationSeconds)
}

// WSConnected increments the open WebSocket connections gauge
func (m *Metrics) WSConnected() {
	m.WSConnections.Inc()
}

// WSDisconnected decrements the open WebSocket connections gauge
func (m *Metrics) WSDisconnected() {
	m.WSConnections.Dec()
}

// RecordWSReceived counts a received WebSocket message of the given type
func (m *Metrics) RecordWSReceived(messageType string) {
	m.WSMessagesReceived.WithLabelValues(messageType).Inc()
}

// RecordWSSent counts a sent WebSocket message of the given type
func (m *Metrics) RecordWSSent(messageType string) {
	m.WSMessagesSent.WithLabelValues(messageType).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
