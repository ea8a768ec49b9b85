package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skypro1111/denoise-service/internal/audio"
	"github.com/skypro1111/denoise-service/internal/config"
	"github.com/skypro1111/denoise-service/internal/denoise"
	"github.com/skypro1111/denoise-service/internal/metrics"
	"github.com/skypro1111/denoise-service/internal/stream"
)

// WebSocket message types
const (
	MessageTypeSession = "session"
	MessageTypeVAD     = "vad"
	MessageTypeSegment = "segment"
	MessageTypeDenoise = "denoise"
	MessageTypeError   = "error"
)

// SessionMessage is sent once after the upgrade.
type SessionMessage struct {
	Type           string `json:"type"`
	SessionID      string `json:"session_id"`
	StreamID       uint32 `json:"stream_id"`
	SampleRate     int    `json:"sample_rate"`
	FrameLength    int    `json:"frame_length"`
	Channels       int    `json:"channels"`
	DenoiseChannel int    `json:"denoise_channel"`
	Denoise        bool   `json:"denoise"`
}

// VADMessage is sent for every processed frame of the denoise channel.
type VADMessage struct {
	Type     string  `json:"type"`
	Frame    uint64  `json:"frame"`
	Score    float32 `json:"score"`
	Smoothed float32 `json:"smoothed"`
	Voice    bool    `json:"voice"`
	Denoised bool    `json:"denoised"`
}

// SegmentMessage is sent when a voice segment closes.
type SegmentMessage struct {
	Type       string  `json:"type"`
	StartFrame uint64  `json:"start_frame"`
	EndFrame   uint64  `json:"end_frame"`
	Start      float64 `json:"start_seconds"`
	Duration   float64 `json:"duration_seconds"`
	Confidence float32 `json:"confidence"`
}

// ControlMessage is a text message sent by the client.
type ControlMessage struct {
	Type    string `json:"type"`
	Enabled *bool  `json:"enabled,omitempty"`
}

// ErrorMessage reports a rejected client message.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// WSHandler upgrades /ws requests and runs one capture session per connection.
// Binary messages carry interleaved float32 little-endian samples. Denoised
// frames are sent back as binary messages, VAD results as JSON text.
type WSHandler struct {
	upgrader     websocket.Upgrader
	streamMgr    *stream.Manager
	metrics      *metrics.Metrics
	logger       *slog.Logger
	defaults     config.AudioConfig
	readLimit    int64
	writeTimeout time.Duration
}

// NewWSHandler creates the WebSocket capture handler.
func NewWSHandler(cfg *config.Config, logger *slog.Logger, streamMgr *stream.Manager, m *metrics.Metrics) *WSHandler {
	return &WSHandler{
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
		streamMgr:    streamMgr,
		metrics:      m,
		logger:       logger,
		defaults:     cfg.Audio,
		readLimit:    cfg.HTTP.WSReadLimit,
		writeTimeout: cfg.HTTP.GetWriteTimeoutDuration(),
	}
}

// sessionParams reads the session settings from the query string, falling
// back to the configured defaults.
func (h *WSHandler) sessionParams(r *http.Request) (stream.SessionConfig, error) {
	q := r.URL.Query()
	params := stream.SessionConfig{
		Source:         stream.SourceWebSocket,
		Label:          q.Get("label"),
		SampleRate:     denoise.SampleRate,
		Channels:       h.defaults.Channels,
		DenoiseChannel: h.defaults.DenoiseChannel,
		Denoise:        h.defaults.Denoise,
	}

	if v := q.Get("channels"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > config.MaxChannels {
			return params, fmt.Errorf("channels must be between 1 and %d", config.MaxChannels)
		}
		params.Channels = n
		if q.Get("denoise_channel") == "" && params.DenoiseChannel >= n {
			params.DenoiseChannel = 0
		}
	}
	if v := q.Get("denoise_channel"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n >= params.Channels {
			return params, fmt.Errorf("denoise_channel must be between 0 and %d", params.Channels-1)
		}
		params.DenoiseChannel = n
	}
	if v := q.Get("denoise"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return params, fmt.Errorf("denoise must be a boolean")
		}
		params.Denoise = b
	}
	if v := q.Get("sample_rate"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return params, fmt.Errorf("sample_rate must be an integer")
		}
		params.SampleRate = n
	}

	return params, nil
}

// ServeHTTP implements http.Handler.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	params, err := h.sessionParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if params.SampleRate != denoise.SampleRate {
		http.Error(w, fmt.Sprintf("sample_rate must be %d", denoise.SampleRate), http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client
		h.logger.Warn("WebSocket upgrade failed",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		return
	}

	h.metrics.WSConnected()
	defer h.metrics.WSDisconnected()

	// Deadlines set by the HTTP server still apply to the hijacked connection.
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		h.logger.Warn("Failed to reset WebSocket read deadline",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		conn.Close()
		return
	}
	conn.SetReadLimit(h.readLimit)

	ws := &wsConn{conn: conn, writeTimeout: h.writeTimeout, metrics: h.metrics}
	params.Sink = &wsSink{conn: ws}

	session, err := h.streamMgr.CreateSession(0, params)
	if err != nil {
		h.logger.Warn("Failed to create WebSocket session",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		ws.close(websocket.CloseTryAgainLater, err.Error())
		return
	}

	logger := h.logger.With(
		slog.Uint64("stream_id", uint64(session.StreamID)),
		slog.String("session_id", session.ID),
	)
	logger.Info("WebSocket session started",
		slog.String("remote_addr", r.RemoteAddr),
		slog.Int("channels", params.Channels),
		slog.Int("denoise_channel", params.DenoiseChannel),
	)

	reason := "write error"
	err = ws.writeJSON(MessageTypeSession, SessionMessage{
		Type:           MessageTypeSession,
		SessionID:      session.ID,
		StreamID:       session.StreamID,
		SampleRate:     denoise.SampleRate,
		FrameLength:    denoise.SampleLength,
		Channels:       params.Channels,
		DenoiseChannel: params.DenoiseChannel,
		Denoise:        session.DenoiseEnabled(),
	})
	if err != nil {
		logger.Debug("WebSocket write failed", slog.String("error", err.Error()))
	} else {
		reason = h.readLoop(ws, session, logger)
	}

	// Drain queued frames while the connection can still carry their results.
	h.streamMgr.RemoveSession(session.StreamID)
	ws.close(websocket.CloseNormalClosure, reason)

	logger.Info("WebSocket session ended", slog.String("reason", reason))
}

// readLoop feeds client messages into the session until the connection or
// the session ends. It returns the close reason.
func (h *WSHandler) readLoop(ws *wsConn, session *stream.Session, logger *slog.Logger) string {
	var scratch []float32

	for {
		messageType, data, err := ws.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return "client closed"
			}
			logger.Debug("WebSocket read ended", slog.String("error", err.Error()))
			return "read error"
		}

		var reply string
		switch messageType {
		case websocket.BinaryMessage:
			h.metrics.RecordWSReceived("audio")
			scratch, err = audio.DecodeFloat32LE(scratch[:0], data)
			if err != nil {
				reply = err.Error()
				break
			}
			if err := session.AddInterleaved(scratch); err != nil {
				if errors.Is(err, stream.ErrSessionNotRunning) {
					if err := ws.writeError("session is no longer running"); err != nil {
						logger.Debug("WebSocket write failed", slog.String("error", err.Error()))
					}
					return "session ended"
				}
				reply = err.Error()
			}

		case websocket.TextMessage:
			h.metrics.RecordWSReceived("control")
			reply = h.handleControl(data, session, logger)
		}

		if reply != "" {
			if err := ws.writeError(reply); err != nil {
				logger.Debug("WebSocket write failed", slog.String("error", err.Error()))
				return "write error"
			}
		}
	}
}

// handleControl applies a text control message. It returns the error to
// report to the client, or "" on success.
func (h *WSHandler) handleControl(data []byte, session *stream.Session, logger *slog.Logger) string {
	var msg ControlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return "invalid control message"
	}
	switch msg.Type {
	case MessageTypeDenoise:
		if msg.Enabled == nil {
			return "denoise message requires 'enabled'"
		}
		session.SetDenoise(*msg.Enabled)
		logger.Debug("Denoise toggled", slog.Bool("enabled", *msg.Enabled))
		return ""
	default:
		return fmt.Sprintf("unknown message type '%s'", msg.Type)
	}
}

// wsConn serialises writes to a gorilla connection, which allows one
// concurrent writer only.
type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	metrics      *metrics.Metrics

	mu     sync.Mutex
	closed atomic.Bool
}

func (c *wsConn) write(kind string, messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return websocket.ErrCloseSent
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	if err := c.conn.WriteMessage(messageType, data); err != nil {
		return err
	}
	c.metrics.RecordWSSent(kind)
	return nil
}

func (c *wsConn) writeJSON(kind string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.write(kind, websocket.TextMessage, data)
}

func (c *wsConn) writeError(message string) error {
	return c.writeJSON(MessageTypeError, ErrorMessage{Type: MessageTypeError, Message: message})
}

func (c *wsConn) close(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = c.conn.Close()
}

// wsSink sends session results back over the connection. It runs on the
// session consumer goroutine.
type wsSink struct {
	conn   *wsConn
	buf    []byte
	failed bool
}

// OnFrame implements stream.Sink.
func (s *wsSink) OnFrame(result stream.FrameResult) {
	if s.failed || result.Passthrough {
		return
	}

	err := s.conn.writeJSON(MessageTypeVAD, VADMessage{
		Type:     MessageTypeVAD,
		Frame:    result.Index,
		Score:    result.Score,
		Smoothed: result.Smoothed,
		Voice:    result.HasVoice,
		Denoised: result.Denoised,
	})
	if err == nil && result.Denoised {
		s.buf = audio.EncodeFloat32LE(s.buf[:0], result.Samples)
		err = s.conn.write("audio", websocket.BinaryMessage, s.buf)
	}
	if err == nil && result.Segment != nil {
		err = s.conn.writeJSON(MessageTypeSegment, SegmentMessage{
			Type:       MessageTypeSegment,
			StartFrame: result.Segment.StartFrame,
			EndFrame:   result.Segment.EndFrame,
			Start:      result.Segment.Start.Seconds(),
			Duration:   result.Segment.Duration.Seconds(),
			Confidence: result.Segment.Confidence,
		})
	}
	if err != nil {
		// The client is gone; the read loop ends the session.
		s.failed = true
	}
}
