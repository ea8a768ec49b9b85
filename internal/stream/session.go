package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"

	"github.com/skypro1111/denoise-service/internal/audio"
	"github.com/skypro1111/denoise-service/internal/denoise"
	"github.com/skypro1111/denoise-service/internal/metrics"
	"github.com/skypro1111/denoise-service/internal/vad"
)

// Session lifecycle states
const (
	StateRunning = "running"
	StateStopped = "stopped"
	StateFailed  = "failed"
)

const (
	eventStop = "stop"
	eventFail = "fail"
)

// dropWarnInterval limits the queue overflow warning to one per interval.
const dropWarnInterval = 10 * time.Second

// ErrSessionNotRunning is returned by the capture push methods once a session
// has been stopped or has failed.
var ErrSessionNotRunning = errors.New("stream: session not running")

// FrameResult is the outcome of one frame, delivered to the session Sink in
// per-channel order.
type FrameResult struct {
	StreamID  uint32 `json:"stream_id"`
	SessionID string `json:"session_id"`
	Channel   int    `json:"channel"`
	Index     uint64 `json:"frame"` // per channel frame index

	Score    float32 `json:"score"`    // Raw engine score
	Smoothed float32 `json:"smoothed"` // Detector smoothed score
	HasVoice bool    `json:"voice"`

	Denoised    bool         `json:"denoised"`    // Samples were replaced by engine output
	Passthrough bool         `json:"passthrough"` // Channel is not run through the engine
	Segment     *vad.Segment `json:"segment,omitempty"`

	// Samples is only valid during OnFrame; sinks that keep it must copy.
	Samples []float32 `json:"-"`
}

// Sink receives per-frame results. OnFrame is called from the session
// consumer goroutine only, so calls for one session never overlap.
type Sink interface {
	OnFrame(result FrameResult)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(result FrameResult)

// OnFrame calls f(result).
func (f SinkFunc) OnFrame(result FrameResult) {
	f(result)
}

// SessionConfig describes a capture stream.
type SessionConfig struct {
	Source         string // Capture source, "udp", "websocket" or "file"
	Label          string
	SampleRate     int
	Channels       int
	DenoiseChannel int
	Denoise        bool
	Sink           Sink
}

// Session runs one capture stream: per channel frame assembly on the capture
// side, a bounded frame queue and a single consumer driving the denoise
// processor and the VAD detector.
type Session struct {
	ID         string
	StreamID   uint32
	Label      string
	Source     string
	StartTime  time.Time
	SampleRate int

	channels       int
	denoiseChannel int
	denoise        atomic.Bool

	// Capture side, guarded by intakeMu
	intakeMu     sync.Mutex
	assembler    *audio.MultiChannelAssembler
	reorder      []*audio.ReorderBuffer
	pool         *audio.FramePool
	lastActivity time.Time
	lastDropWarn time.Time

	// Consumer side
	queue      *FrameQueue
	processor  *denoise.Processor
	detector   *vad.Detector
	sink       Sink
	frameIndex []uint64
	scratch    []float32

	machine *fsm.FSM
	lastErr atomic.Value // string

	// Statistics
	framesQueued    atomic.Uint64
	framesProcessed atomic.Uint64
	framesRejected  atomic.Uint64
	passthrough     atomic.Uint64
	segments        atomic.Uint64

	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// sessionDeps are the collaborators a Manager hands to a new session.
type sessionDeps struct {
	processor   *denoise.Processor
	vadConfig   vad.Config
	queueFrames int
	maxGap      uint32
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

func newSession(streamID uint32, config SessionConfig, deps sessionDeps) (*Session, error) {
	if config.Channels <= 0 {
		return nil, fmt.Errorf("channel count must be positive, got %d", config.Channels)
	}
	if config.DenoiseChannel < 0 || config.DenoiseChannel >= config.Channels {
		return nil, fmt.Errorf("denoise channel %d out of range for %d channels", config.DenoiseChannel, config.Channels)
	}

	detector, err := vad.NewDetector(deps.vadConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create VAD detector: %w", err)
	}

	frameLength := deps.processor.SampleLength()
	pool, err := audio.NewFramePool(frameLength, config.Channels*2)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	s := &Session{
		ID:             uuid.NewString(),
		StreamID:       streamID,
		Label:          config.Label,
		Source:         config.Source,
		StartTime:      now,
		SampleRate:     config.SampleRate,
		channels:       config.Channels,
		denoiseChannel: config.DenoiseChannel,
		pool:           pool,
		lastActivity:   now,
		queue:          NewFrameQueue(frameLength, deps.queueFrames),
		processor:      deps.processor,
		detector:       detector,
		sink:           config.Sink,
		frameIndex:     make([]uint64, config.Channels),
		scratch:        make([]float32, frameLength),
		stopCh:         make(chan struct{}),
		done:           make(chan struct{}),
		logger:         deps.logger.With(slog.Uint64("stream_id", uint64(streamID))),
		metrics:        deps.metrics,
	}
	s.denoise.Store(config.Denoise)
	s.lastErr.Store("")

	s.assembler, err = audio.NewMultiChannelAssembler(frameLength, config.Channels, pool, s.enqueueFrame)
	if err != nil {
		return nil, err
	}

	s.reorder = make([]*audio.ReorderBuffer, config.Channels)
	for ch := range s.reorder {
		ch := ch
		s.reorder[ch] = audio.NewReorderBuffer(deps.maxGap, func(samples []float32) {
			// Called with intakeMu held from AddSequencedAudio or Stop
			s.assembler.Accept(ch, samples)
		})
	}

	s.machine = fsm.NewFSM(
		StateRunning,
		fsm.Events{
			{Name: eventStop, Src: []string{StateRunning}, Dst: StateStopped},
			{Name: eventFail, Src: []string{StateRunning}, Dst: StateFailed},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				s.logger.Debug("Session state changed",
					slog.String("session_id", s.ID),
					slog.String("from", e.Src),
					slog.String("to", e.Dst),
				)
			},
			"enter_" + StateFailed: func(_ context.Context, e *fsm.Event) {
				s.metrics.RecordSessionFailed()
			},
		},
	)

	go s.consume()

	return s, nil
}

// AddAudio pushes a chunk of one channel. It fails once the session is not
// running so upstream can stop feeding.
func (s *Session) AddAudio(channel int, samples []float32) error {
	s.intakeMu.Lock()
	defer s.intakeMu.Unlock()

	if !s.machine.Is(StateRunning) {
		return ErrSessionNotRunning
	}
	s.lastActivity = time.Now()
	return s.assembler.Accept(channel, samples)
}

// AddInterleaved pushes an interleaved chunk covering every channel.
func (s *Session) AddInterleaved(samples []float32) error {
	s.intakeMu.Lock()
	defer s.intakeMu.Unlock()

	if !s.machine.Is(StateRunning) {
		return ErrSessionNotRunning
	}
	s.lastActivity = time.Now()
	return s.assembler.AcceptInterleaved(samples)
}

// AddSequencedAudio pushes a packetised chunk; chunks are reordered by
// sequence before assembly.
func (s *Session) AddSequencedAudio(channel int, sequence uint32, samples []float32) error {
	s.intakeMu.Lock()
	defer s.intakeMu.Unlock()

	if !s.machine.Is(StateRunning) {
		return ErrSessionNotRunning
	}
	if channel < 0 || channel >= len(s.reorder) {
		return fmt.Errorf("%w: %d (have %d)", audio.ErrChannelOutOfRange, channel, len(s.reorder))
	}
	s.lastActivity = time.Now()
	return s.reorder[channel].Add(sequence, samples)
}

// enqueueFrame is the assembler handler. It runs on the capture goroutine
// with intakeMu held and never blocks.
func (s *Session) enqueueFrame(channel int, frame []float32) {
	if s.queue.Push(channel, frame) {
		s.framesQueued.Add(1)
	} else {
		s.metrics.RecordFrameDropped()
		if now := time.Now(); now.Sub(s.lastDropWarn) >= dropWarnInterval {
			s.lastDropWarn = now
			s.logger.Warn("Frame queue full, dropping frames",
				slog.String("session_id", s.ID),
				slog.Int("channel", channel),
				slog.Int("queue_capacity", s.queue.Capacity()),
				slog.Uint64("frames_dropped", s.queue.Dropped()),
			)
		}
	}
	s.pool.Put(frame)
}

// consume is the single consumer: frames are processed strictly in queue order.
func (s *Session) consume() {
	defer close(s.done)

	for {
		select {
		case <-s.queue.Notify():
			s.drain()
		case <-s.stopCh:
			s.drain()
			return
		}
	}
}

func (s *Session) drain() {
	for {
		depth := s.queue.Len()
		channel, ok := s.queue.Pop(s.scratch)
		if !ok {
			return
		}
		s.metrics.ObserveQueueDepth(depth)

		if s.machine.Is(StateFailed) {
			continue // discard the backlog
		}
		s.handleFrame(channel, s.scratch)
	}
}

func (s *Session) handleFrame(channel int, frame []float32) {
	if channel < 0 || channel >= s.channels {
		s.framesRejected.Add(1)
		s.metrics.RecordFrameRejected()
		return
	}

	index := s.frameIndex[channel]
	s.frameIndex[channel]++

	if channel != s.denoiseChannel {
		s.passthrough.Add(1)
		s.metrics.RecordPassthroughFrame()
		s.deliver(FrameResult{
			Channel:     channel,
			Index:       index,
			Passthrough: true,
			Samples:     frame,
		})
		return
	}

	shouldDenoise := s.denoise.Load()
	start := time.Now()
	score, err := s.processor.ProcessFrame(frame, shouldDenoise)
	elapsed := time.Since(start)
	if err != nil {
		s.handleProcessError(index, err)
		return
	}

	result := s.detector.Process(score)
	s.framesProcessed.Add(1)
	s.metrics.RecordFrame(score, shouldDenoise, result.HasVoice, elapsed.Seconds())

	if result.Closed != nil {
		s.segments.Add(1)
		s.metrics.RecordSegment(result.Closed.Duration.Seconds())
		s.logger.Debug("Voice segment closed",
			slog.Uint64("start_frame", result.Closed.StartFrame),
			slog.Uint64("end_frame", result.Closed.EndFrame),
			slog.Duration("duration", result.Closed.Duration),
		)
	}

	s.deliver(FrameResult{
		Channel:  channel,
		Index:    index,
		Score:    score,
		Smoothed: result.Smoothed,
		HasVoice: result.HasVoice,
		Denoised: shouldDenoise,
		Segment:  result.Closed,
		Samples:  frame,
	})
}

func (s *Session) handleProcessError(index uint64, err error) {
	if errors.Is(err, denoise.ErrInvalidFrameLength) {
		s.framesRejected.Add(1)
		s.metrics.RecordFrameRejected()
		return
	}

	// Engine failures and use after destroy leave nothing to process with.
	s.lastErr.Store(err.Error())
	s.logger.Error("Denoise processing failed, session failed",
		slog.String("session_id", s.ID),
		slog.Uint64("frame", index),
		slog.String("error", err.Error()),
	)
	if err := s.machine.Event(context.Background(), eventFail); err != nil {
		s.logger.Debug("Fail transition not taken", slog.String("error", err.Error()))
	}
}

func (s *Session) deliver(result FrameResult) {
	if s.sink == nil {
		return
	}
	result.StreamID = s.StreamID
	result.SessionID = s.ID
	s.sink.OnFrame(result)
}

// SetDenoise toggles whether denoised samples replace the frame. It takes
// effect from the next frame the consumer picks up.
func (s *Session) SetDenoise(enabled bool) {
	s.denoise.Store(enabled)
}

// SetVADThreshold changes the voice threshold of the detector. It takes
// effect from the next frame the consumer picks up.
func (s *Session) SetVADThreshold(threshold float32) error {
	return s.detector.UpdateThreshold(threshold)
}

// VADThreshold reports the current voice threshold.
func (s *Session) VADThreshold() float32 {
	return s.detector.Threshold()
}

// DenoiseEnabled reports the current denoise toggle.
func (s *Session) DenoiseEnabled() bool {
	return s.denoise.Load()
}

// State returns the lifecycle state.
func (s *Session) State() string {
	return s.machine.Current()
}

// LastActivity returns the time of the last capture push.
func (s *Session) LastActivity() time.Time {
	s.intakeMu.Lock()
	defer s.intakeMu.Unlock()
	return s.lastActivity
}

// Stop stops intake, processes the frames already queued and releases the
// processor. Held out-of-order chunks are flushed first; a trailing partial
// frame is dropped. Stop is idempotent and safe to call after a failure.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.intakeMu.Lock()
		if s.machine.Is(StateRunning) {
			for _, r := range s.reorder {
				r.Flush()
			}
		}
		if s.machine.Can(eventStop) {
			if err := s.machine.Event(context.Background(), eventStop); err != nil {
				s.logger.Debug("Stop transition not taken", slog.String("error", err.Error()))
			}
		}
		s.intakeMu.Unlock()

		close(s.stopCh)
		<-s.done

		if seg := s.detector.Flush(); seg != nil {
			s.segments.Add(1)
			s.metrics.RecordSegment(seg.Duration.Seconds())
		}
		s.processor.Destroy()

		s.logger.Info("Session stopped",
			slog.String("session_id", s.ID),
			slog.String("state", s.machine.Current()),
			slog.Uint64("frames_processed", s.framesProcessed.Load()),
			slog.Uint64("frames_dropped", s.queue.Dropped()),
			slog.Duration("duration", time.Since(s.StartTime)),
		)
	})
}

// Done is closed once the consumer has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// SessionInfo represents session information for monitoring and APIs
type SessionInfo struct {
	ID             string        `json:"session_id"`
	StreamID       uint32        `json:"stream_id"`
	Label          string        `json:"label,omitempty"`
	Source         string        `json:"source"`
	State          string        `json:"state"`
	StartTime      time.Time     `json:"start_time"`
	LastActivity   time.Time     `json:"last_activity"`
	Duration       time.Duration `json:"duration"`
	SampleRate     int           `json:"sample_rate"`
	Channels       int           `json:"channels"`
	DenoiseChannel int           `json:"denoise_channel"`
	Denoise        bool          `json:"denoise"`
	LastError      string        `json:"last_error,omitempty"`

	// Frame statistics
	FramesQueued      uint64 `json:"frames_queued"`
	FramesProcessed   uint64 `json:"frames_processed"`
	FramesDropped     uint64 `json:"frames_dropped"`
	FramesRejected    uint64 `json:"frames_rejected"`
	FramesPassthrough uint64 `json:"frames_passthrough"`
	QueueDepth        int    `json:"queue_depth"`
	QueueCapacity     int    `json:"queue_capacity"`
	VoiceSegments     uint64 `json:"voice_segments"`

	Processor  denoise.ProcessorStats `json:"processor"`
	VAD        vad.Stats              `json:"vad"`
	Segments   []vad.Segment          `json:"recent_segments,omitempty"`
	Assemblers []audio.AssemblerStats `json:"assemblers"`
	Reorder    []audio.ReorderStats   `json:"reorder,omitempty"`
}

// GetSessionInfo returns a snapshot of the session
func (s *Session) GetSessionInfo() SessionInfo {
	s.intakeMu.Lock()
	lastActivity := s.lastActivity
	assemblers := s.assembler.Stats()
	var reorder []audio.ReorderStats
	if s.Source == SourceUDP {
		reorder = make([]audio.ReorderStats, len(s.reorder))
		for i, r := range s.reorder {
			reorder[i] = r.Stats()
		}
	}
	s.intakeMu.Unlock()

	return SessionInfo{
		ID:                s.ID,
		StreamID:          s.StreamID,
		Label:             s.Label,
		Source:            s.Source,
		State:             s.machine.Current(),
		StartTime:         s.StartTime,
		LastActivity:      lastActivity,
		Duration:          time.Since(s.StartTime),
		SampleRate:        s.SampleRate,
		Channels:          s.channels,
		DenoiseChannel:    s.denoiseChannel,
		Denoise:           s.denoise.Load(),
		LastError:         s.lastErr.Load().(string),
		FramesQueued:      s.framesQueued.Load(),
		FramesProcessed:   s.framesProcessed.Load(),
		FramesDropped:     s.queue.Dropped(),
		FramesRejected:    s.framesRejected.Load(),
		FramesPassthrough: s.passthrough.Load(),
		QueueDepth:        s.queue.Len(),
		QueueCapacity:     s.queue.Capacity(),
		VoiceSegments:     s.segments.Load(),
		Processor:         s.processor.Stats(),
		VAD:               s.detector.Stats(),
		Segments:          s.detector.Segments(),
		Assemblers:        assemblers,
		Reorder:           reorder,
	}
}
