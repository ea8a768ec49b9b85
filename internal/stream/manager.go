package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/skypro1111/denoise-service/internal/denoise"
	"github.com/skypro1111/denoise-service/internal/metrics"
	"github.com/skypro1111/denoise-service/internal/vad"
)

// Capture sources
const (
	SourceUDP       = "udp"
	SourceWebSocket = "websocket"
	SourceFile      = "file"
)

// First stream ID handed out for sessions created without one. UDP senders
// pick their own IDs from the lower half.
const autoStreamIDBase uint32 = 1 << 31

var (
	// ErrTooManySessions is returned when the session limit is reached.
	ErrTooManySessions = errors.New("stream: too many sessions")

	// ErrUnsupportedSampleRate is returned for capture rates the engine cannot take.
	ErrUnsupportedSampleRate = errors.New("stream: unsupported sample rate")
)

// EngineFactory returns the engine a new session's processor runs on. The
// factory may hand out one shared concurrency-safe engine.
type EngineFactory func() (denoise.Engine, error)

// ManagerConfig contains configuration for the stream manager
type ManagerConfig struct {
	Timeout         time.Duration // Idle time after which a session is removed
	CleanupInterval time.Duration // How often idle sessions are looked for
	MaxSessions     int           // 0 means unlimited
	QueueFrames     int           // Frame queue capacity per session
	MaxGap          uint32        // Reorder window for sequenced audio
	VAD             vad.Config
}

// DefaultManagerConfig returns the settings used when a value is left unset.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Timeout:         30 * time.Second,
		CleanupInterval: 10 * time.Second,
		QueueFrames:     64,
		MaxGap:          20,
		VAD: vad.Config{
			Threshold:        0.5,
			Smoothing:        0.6,
			MinSpeechFrames:  3,
			MinSilenceFrames: 10,
			FrameLength:      denoise.SampleLength,
			SampleRate:       denoise.SampleRate,
		},
	}
}

// Manager manages all active stream sessions
type Manager struct {
	sessions map[uint32]*Session
	mu       sync.RWMutex
	nextID   uint32

	factory EngineFactory
	config  ManagerConfig
	logger  *slog.Logger
	metrics *metrics.Metrics

	// Cleanup management
	ctx     context.Context
	cancel  context.CancelFunc
	cleanup chan struct{}
}

// NewManager creates a new stream manager and starts its cleanup routine.
func NewManager(logger *slog.Logger, factory EngineFactory, m *metrics.Metrics, config ManagerConfig) (*Manager, error) {
	if factory == nil {
		return nil, fmt.Errorf("engine factory is required")
	}
	if m == nil {
		return nil, fmt.Errorf("metrics are required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	defaults := DefaultManagerConfig()
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = defaults.CleanupInterval
	}
	if config.QueueFrames <= 0 {
		config.QueueFrames = defaults.QueueFrames
	}
	if config.MaxGap == 0 {
		config.MaxGap = defaults.MaxGap
	}
	if config.VAD.FrameLength == 0 {
		config.VAD.FrameLength = denoise.SampleLength
	}
	if config.VAD.SampleRate == 0 {
		config.VAD.SampleRate = denoise.SampleRate
	}
	if _, err := vad.NewDetector(config.VAD); err != nil {
		return nil, fmt.Errorf("invalid VAD config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	mgr := &Manager{
		sessions: make(map[uint32]*Session),
		nextID:   autoStreamIDBase,
		factory:  factory,
		config:   config,
		logger:   logger,
		metrics:  m,
		ctx:      ctx,
		cancel:   cancel,
		cleanup:  make(chan struct{}),
	}

	go mgr.startCleanupRoutine()

	return mgr, nil
}

// CreateSession creates and starts a session for streamID. A streamID of 0
// assigns a free ID. If a running session already exists for the ID it is
// returned with its label and denoise toggle updated.
func (m *Manager) CreateSession(streamID uint32, config SessionConfig) (*Session, error) {
	if config.SampleRate != denoise.SampleRate {
		return nil, fmt.Errorf("%w: %d Hz (engine requires %d Hz)", ErrUnsupportedSampleRate, config.SampleRate, denoise.SampleRate)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if streamID == 0 {
		streamID = m.assignStreamID()
	}

	if existing, ok := m.sessions[streamID]; ok {
		if existing.State() == StateRunning {
			m.logger.Warn("Session already exists, updating settings",
				slog.Uint64("stream_id", uint64(streamID)),
				slog.String("session_id", existing.ID),
			)
			existing.Label = config.Label
			existing.SetDenoise(config.Denoise)
			return existing, nil
		}
		// A stopped or failed session is replaced.
		delete(m.sessions, streamID)
		go existing.Stop()
	}

	if m.config.MaxSessions > 0 && len(m.sessions) >= m.config.MaxSessions {
		return nil, fmt.Errorf("%w: limit %d", ErrTooManySessions, m.config.MaxSessions)
	}

	engine, err := m.factory()
	if err != nil {
		m.metrics.RecordEngineInitError()
		return nil, fmt.Errorf("failed to obtain denoise engine: %w", err)
	}

	logger := m.logger.With(slog.Uint64("stream_id", uint64(streamID)))
	processor, err := denoise.NewProcessor(engine, denoise.WithLogger(logger))
	if err != nil {
		m.metrics.RecordEngineInitError()
		return nil, fmt.Errorf("failed to create denoise processor: %w", err)
	}

	session, err := newSession(streamID, config, sessionDeps{
		processor:   processor,
		vadConfig:   m.config.VAD,
		queueFrames: m.config.QueueFrames,
		maxGap:      m.config.MaxGap,
		logger:      m.logger,
		metrics:     m.metrics,
	})
	if err != nil {
		processor.Destroy()
		return nil, err
	}

	m.sessions[streamID] = session
	m.metrics.RecordSessionCreated(config.Source)
	m.metrics.SetActiveSessions(len(m.sessions))

	m.logger.Info("Created stream session",
		slog.Uint64("stream_id", uint64(streamID)),
		slog.String("session_id", session.ID),
		slog.String("source", config.Source),
		slog.String("label", config.Label),
		slog.Int("channels", config.Channels),
		slog.Int("denoise_channel", config.DenoiseChannel),
		slog.Bool("denoise", config.Denoise),
	)

	return session, nil
}

// assignStreamID returns an unused stream ID from the automatic range.
// Called with m.mu held.
func (m *Manager) assignStreamID() uint32 {
	for {
		id := m.nextID
		m.nextID++
		if m.nextID == 0 {
			m.nextID = autoStreamIDBase
		}
		if _, taken := m.sessions[id]; !taken {
			return id
		}
	}
}

// GetSession retrieves an existing stream session
func (m *Manager) GetSession(streamID uint32) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[streamID]
	return session, ok
}

// GetActiveSessionCount returns the number of currently active sessions
func (m *Manager) GetActiveSessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// GetAllSessions returns a snapshot of all sessions (for monitoring)
func (m *Manager) GetAllSessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session)
	}
	return sessions
}

// RemoveSession stops a session, waits for its queued frames and releases
// its processor. It returns false if no session exists for streamID.
func (m *Manager) RemoveSession(streamID uint32) bool {
	m.mu.Lock()
	session, ok := m.sessions[streamID]
	if ok {
		delete(m.sessions, streamID)
		m.metrics.SetActiveSessions(len(m.sessions))
	}
	m.mu.Unlock()

	if !ok {
		return false
	}

	session.Stop()
	m.metrics.RecordSessionDestroyed(time.Since(session.StartTime).Seconds())

	m.logger.Info("Stream session removed",
		slog.Uint64("stream_id", uint64(streamID)),
		slog.String("session_id", session.ID),
		slog.String("state", session.State()),
		slog.Duration("total_duration", time.Since(session.StartTime)),
	)

	return true
}

// Stop stops every session and the cleanup routine.
func (m *Manager) Stop() {
	m.logger.Info("Stopping stream manager...")

	m.cancel()
	<-m.cleanup

	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[uint32]*Session)
	m.metrics.SetActiveSessions(0)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, session := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.Stop()
			m.metrics.RecordSessionDestroyed(time.Since(s.StartTime).Seconds())
		}(session)
	}
	wg.Wait()

	m.logger.Info("Stream manager stopped",
		slog.Int("stopped_sessions", len(sessions)),
	)
}

// startCleanupRoutine runs in a separate goroutine to clean up expired sessions
func (m *Manager) startCleanupRoutine() {
	defer close(m.cleanup)

	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	m.logger.Info("Stream cleanup routine started",
		slog.Duration("timeout", m.config.Timeout),
		slog.Duration("check_interval", m.config.CleanupInterval),
	)

	for {
		select {
		case <-m.ctx.Done():
			m.logger.Info("Stream cleanup routine stopping")
			return

		case <-ticker.C:
			m.cleanupExpiredSessions()
		}
	}
}

// cleanupExpiredSessions removes sessions that have been inactive for too
// long, and sessions whose processing failed.
func (m *Manager) cleanupExpiredSessions() {
	now := time.Now()
	expired := make([]uint32, 0)

	m.mu.RLock()
	for streamID, session := range m.sessions {
		if session.State() == StateFailed || now.Sub(session.LastActivity()) > m.config.Timeout {
			expired = append(expired, streamID)
		}
	}
	m.mu.RUnlock()

	if len(expired) > 0 {
		m.logger.Info("Cleaning up expired sessions",
			slog.Int("expired_count", len(expired)),
		)

		for _, streamID := range expired {
			m.RemoveSession(streamID)
		}
	}
}
