package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/denoise-service/internal/config"
	"github.com/skypro1111/denoise-service/internal/denoise"
	"github.com/skypro1111/denoise-service/internal/metrics"
	"github.com/skypro1111/denoise-service/internal/stream"
)

const serviceVersion = "1.0.0"

// HTTPServer provides HTTP API endpoints for monitoring and management, and
// the WebSocket capture endpoint
type HTTPServer struct {
	server      *http.Server
	handler     http.Handler
	logger      *slog.Logger
	config      *config.Config
	streamMgr   *stream.Manager
	udpServer   *UDPServer
	metrics     *metrics.Metrics
	engineStats func() any

	// Server state
	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server. engineStats, if not nil,
// reports engine level statistics on /stats.
func NewHTTPServer(appConfig *config.Config, logger *slog.Logger, streamMgr *stream.Manager,
	udpServer *UDPServer, m *metrics.Metrics, engineStats func() any) *HTTPServer {

	h := &HTTPServer{
		logger:      logger,
		config:      appConfig,
		streamMgr:   streamMgr,
		udpServer:   udpServer,
		metrics:     m,
		engineStats: engineStats,
		startTime:   time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)
	h.handler = mux

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", appConfig.HTTP.Address, appConfig.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	mux.HandleFunc("/streams", h.withMetrics("/streams", h.handleStreams))
	mux.HandleFunc("/streams/", h.withMetrics("/streams/{id}", h.handleStreamDetail))

	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("/metrics", promhttp.Handler())

	// The upgrade needs the unwrapped writer, it must implement http.Hijacker
	mux.Handle(h.config.HTTP.WSPath, NewWSHandler(h.config, h.logger, h.streamMgr, h.metrics))

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// Handler returns the routed handler
func (h *HTTPServer) Handler() http.Handler {
	return h.handler
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		h.metrics.RecordHTTPRequest(r.Method, endpoint, strconv.Itoa(ww.statusCode), duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
		slog.String("ws_path", h.config.HTTP.WSPath),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server. Hijacked WebSocket connections are
// not tracked by Shutdown and end when their sessions are stopped.
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	udpStats := h.udpServer.GetStatistics()

	health := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]any{
			"name":    "denoise-service",
			"version": serviceVersion,
		},
		"components": map[string]any{
			"udp_server": map[string]any{
				"status":            "running",
				"packets_received":  udpStats.PacketsReceived,
				"packets_processed": udpStats.PacketsProcessed,
				"parse_errors":      udpStats.ParseErrors,
				"queue_size":        udpStats.QueueSize,
			},
			"stream_manager": map[string]any{
				"status":          "running",
				"active_sessions": h.streamMgr.GetActiveSessionCount(),
			},
			"engine": map[string]any{
				"kind": h.config.Engine.Kind,
			},
		},
	}

	writeJSON(w, http.StatusOK, health)
}

// handleStreams implements the /streams endpoint
func (h *HTTPServer) handleStreams(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessions := h.streamMgr.GetAllSessions()
	sessionInfos := make([]stream.SessionInfo, 0, len(sessions))
	for _, session := range sessions {
		sessionInfos = append(sessionInfos, session.GetSessionInfo())
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total_streams": len(sessionInfos),
		"timestamp":     time.Now().UTC(),
		"streams":       sessionInfos,
	})
}

// handleStreamDetail implements /streams/{id} and its actions.
//
//	GET    /streams/{id}                      session snapshot
//	DELETE /streams/{id}                      stop the session
//	POST   /streams/{id}/denoise?enabled=bool toggle denoising
//	POST   /streams/{id}/vad?threshold=float  change the voice threshold
func (h *HTTPServer) handleStreamDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/streams/")
	idPart, action, _ := strings.Cut(rest, "/")
	if idPart == "" {
		http.Error(w, "Stream ID required", http.StatusBadRequest)
		return
	}

	streamID, err := strconv.ParseUint(idPart, 10, 32)
	if err != nil {
		http.Error(w, "Invalid stream ID", http.StatusBadRequest)
		return
	}

	session, exists := h.streamMgr.GetSession(uint32(streamID))
	if !exists {
		http.Error(w, "Stream not found", http.StatusNotFound)
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, session.GetSessionInfo())

	case action == "" && r.Method == http.MethodDelete:
		h.streamMgr.RemoveSession(session.StreamID)
		writeJSON(w, http.StatusOK, map[string]any{
			"stream_id": session.StreamID,
			"state":     session.State(),
		})

	case action == "denoise" && r.Method == http.MethodPost:
		enabled, err := strconv.ParseBool(r.URL.Query().Get("enabled"))
		if err != nil {
			http.Error(w, "Query parameter 'enabled' must be a boolean", http.StatusBadRequest)
			return
		}
		session.SetDenoise(enabled)
		h.logger.Info("Denoise toggled via API",
			slog.Uint64("stream_id", uint64(session.StreamID)),
			slog.Bool("enabled", enabled),
		)
		writeJSON(w, http.StatusOK, map[string]any{
			"stream_id": session.StreamID,
			"denoise":   session.DenoiseEnabled(),
		})

	case action == "vad" && r.Method == http.MethodPost:
		threshold, err := strconv.ParseFloat(r.URL.Query().Get("threshold"), 32)
		if err != nil {
			http.Error(w, "Query parameter 'threshold' must be a number", http.StatusBadRequest)
			return
		}
		if err := session.SetVADThreshold(float32(threshold)); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Info("VAD threshold changed via API",
			slog.Uint64("stream_id", uint64(session.StreamID)),
			slog.Float64("threshold", threshold),
		)
		writeJSON(w, http.StatusOK, map[string]any{
			"stream_id": session.StreamID,
			"threshold": session.VADThreshold(),
		})

	case action != "" && action != "denoise" && action != "vad":
		http.NotFound(w, r)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	cfg := h.config
	writeJSON(w, http.StatusOK, map[string]any{
		"server": map[string]any{
			"udp_port":     cfg.Server.UDPPort,
			"bind_address": cfg.Server.BindAddress,
			"buffer_size":  cfg.Server.BufferSize,
			"workers":      cfg.Server.Workers,
			"queue_size":   cfg.Server.QueueSize,
		},
		"http": map[string]any{
			"port":          cfg.HTTP.Port,
			"address":       cfg.HTTP.Address,
			"ws_path":       cfg.HTTP.WSPath,
			"ws_read_limit": cfg.HTTP.WSReadLimit,
			"write_timeout": cfg.HTTP.WriteTimeout,
		},
		"audio": map[string]any{
			"sample_rate":     cfg.Audio.SampleRate,
			"frame_length":    cfg.Audio.FrameLength,
			"channels":        cfg.Audio.Channels,
			"denoise_channel": cfg.Audio.DenoiseChannel,
			"denoise":         cfg.Audio.Denoise,
			"queue_frames":    cfg.Audio.QueueFrames,
			"max_gap":         cfg.Audio.MaxGap,
			"stream_timeout":  cfg.Audio.StreamTimeout,
			"max_sessions":    cfg.Audio.MaxSessions,
		},
		"engine": map[string]any{
			"kind":        cfg.Engine.Kind,
			"arena_bytes": cfg.Engine.ArenaBytes,
			"floor_gain":  cfg.Engine.FloorGain,
			"buffer_size": denoise.BufferSize,
		},
		"vad": map[string]any{
			"threshold":          cfg.VAD.Threshold,
			"smoothing":          cfg.VAD.Smoothing,
			"min_speech_frames":  cfg.VAD.MinSpeechFrames,
			"min_silence_frames": cfg.VAD.MinSilenceFrames,
		},
		"logging": map[string]any{
			"level":  cfg.Logging.Level,
			"format": cfg.Logging.Format,
			"output": cfg.Logging.Output,
		},
	})
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessions := h.streamMgr.GetAllSessions()
	var processed, dropped, segments uint64
	bySource := make(map[string]int)
	for _, session := range sessions {
		info := session.GetSessionInfo()
		processed += info.FramesProcessed
		dropped += info.FramesDropped
		segments += info.VoiceSegments
		bySource[info.Source]++
	}

	stats := map[string]any{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"udp":       h.udpServer.GetStatistics(),
		"streams": map[string]any{
			"active_count":     len(sessions),
			"by_source":        bySource,
			"frames_processed": processed,
			"frames_dropped":   dropped,
			"voice_segments":   segments,
		},
	}
	if h.engineStats != nil {
		stats["engine"] = h.engineStats()
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"service": "Speech Denoise Service",
		"version": serviceVersion,
		"endpoints": map[string]any{
			"GET /":                                "API documentation",
			"GET /health":                          "Service health check",
			"GET /streams":                         "List all active streams",
			"GET /streams/{stream_id}":             "Get detailed stream information",
			"DELETE /streams/{stream_id}":          "Stop a stream",
			"POST /streams/{stream_id}/denoise":    "Toggle denoising (?enabled=true|false)",
			"POST /streams/{stream_id}/vad":        "Change the VAD threshold (?threshold=0.0-1.0)",
			"GET /config":                          "Get service configuration",
			"GET /stats":                           "Get service statistics",
			"GET /metrics":                         "Prometheus metrics",
			"GET " + h.config.HTTP.WSPath + " (ws)": "WebSocket capture session",
		},
		"timestamp": time.Now().UTC(),
	})
}
