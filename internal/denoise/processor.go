package denoise

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// State is the lifecycle state of a Processor.
type State int

const (
	// StateReady means the engine context and buffer are live.
	StateReady State = iota
	// StateDestroyed is terminal; every processing call fails with ErrUseAfterDestroy.
	StateDestroyed
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Processor adapts an Engine to host float32 frames.
//
// It allocates one foreign buffer of BufferSize bytes on construction and
// reuses it for every frame, passing it to the engine as both input and
// output. ProcessFrame calls are serialised: the engine state is sequential
// and must see frames one at a time, in order.
type Processor struct {
	engine Engine
	logger *slog.Logger

	ctx   Context
	buf   Buffer
	heap  []float32 // view of buf, nil once destroyed
	state State

	// Statistics
	framesProcessed uint64
	framesDenoised  uint64
	lastScore       float32
	createdAt       time.Time

	mu sync.Mutex
}

// ProcessorStats represents processor statistics for monitoring
type ProcessorStats struct {
	State           string    `json:"state"`
	FramesProcessed uint64    `json:"frames_processed"`
	FramesDenoised  uint64    `json:"frames_denoised"`
	LastScore       float32   `json:"last_vad_score"`
	CreatedAt       time.Time `json:"created_at"`
}

// Option configures a Processor.
type Option func(*Processor)

// WithLogger sets the logger used for lifecycle events.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewProcessor allocates the foreign frame buffer and an engine context.
// Construction is atomic: on failure every resource acquired so far is
// released and no Processor is returned.
func NewProcessor(engine Engine, opts ...Option) (*Processor, error) {
	if engine == nil {
		return nil, fmt.Errorf("%w: nil engine", ErrEngineInitFailed)
	}

	p := &Processor{
		engine: engine,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(p)
	}

	buf, err := engine.Allocate(BufferSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResourceExhausted, err)
	}
	if buf == 0 {
		return nil, fmt.Errorf("%w: engine returned null buffer", ErrResourceExhausted)
	}
	p.buf = buf

	heap, err := engine.View(buf)
	if err != nil || len(heap) < SampleLength {
		p.releaseResources()
		if err == nil {
			err = fmt.Errorf("buffer view holds %d samples, need %d", len(heap), SampleLength)
		}
		return nil, fmt.Errorf("%w: %v", ErrResourceExhausted, err)
	}
	p.heap = heap[:SampleLength]

	ctx, err := engine.CreateContext()
	if err != nil || ctx == 0 {
		p.releaseResources()
		if err == nil {
			err = fmt.Errorf("engine returned null context")
		}
		return nil, fmt.Errorf("%w: %v", ErrEngineInitFailed, err)
	}
	p.ctx = ctx
	p.state = StateReady
	p.createdAt = time.Now()

	p.logger.Debug("Denoise processor created",
		slog.Uint64("context", uint64(ctx)),
		slog.Uint64("buffer", uint64(buf)),
		slog.Int("buffer_size", BufferSize),
	)

	return p, nil
}

// releaseResources frees whatever has been acquired. Release errors are
// logged only: there is nothing a caller could do about them.
func (p *Processor) releaseResources() {
	if p.buf != 0 {
		if err := p.engine.Free(p.buf); err != nil {
			p.logger.Warn("Failed to free denoise buffer",
				slog.Uint64("buffer", uint64(p.buf)),
				slog.String("error", err.Error()),
			)
		}
		p.buf = 0
	}
	p.heap = nil

	if p.ctx != 0 {
		if err := p.engine.DestroyContext(p.ctx); err != nil {
			p.logger.Warn("Failed to destroy denoise context",
				slog.Uint64("context", uint64(p.ctx)),
				slog.String("error", err.Error()),
			)
		}
		p.ctx = 0
	}
}

// SampleLength returns the frame length the engine requires.
func (p *Processor) SampleLength() int {
	return SampleLength
}

// RequiredSampleRate returns the PCM rate the engine requires, in Hz.
func (p *Processor) RequiredSampleRate() int {
	return SampleRate
}

// ProcessFrame runs one frame through the engine and returns its VAD score.
//
// The frame must hold exactly SampleLength samples. When shouldDenoise is
// true the frame is overwritten in place with the denoised samples;
// otherwise it is left untouched and the reverse conversion is skipped.
// The score is returned as the engine produced it, without clamping.
func (p *Processor) ProcessFrame(frame []float32, shouldDenoise bool) (float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StateDestroyed {
		return 0, ErrUseAfterDestroy
	}

	if len(frame) != SampleLength {
		return 0, fmt.Errorf("%w: expected %d samples, got %d", ErrInvalidFrameLength, SampleLength, len(frame))
	}

	heap := p.heap
	for i, sample := range frame {
		heap[i] = sample * ScaleFactor
	}

	// Same buffer for input and output, the engine supports in-place processing.
	score, err := p.engine.ProcessFrame(p.ctx, p.buf, p.buf)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrEngineFailure, err)
	}

	if shouldDenoise {
		for i := range frame {
			frame[i] = heap[i] / ScaleFactor
		}
		p.framesDenoised++
	}

	p.framesProcessed++
	p.lastScore = score

	return score, nil
}

// CalculateAudioFrameVAD returns the VAD score of a frame without modifying it.
func (p *Processor) CalculateAudioFrameVAD(frame []float32) (float32, error) {
	return p.ProcessFrame(frame, false)
}

// Destroy releases the engine context and the foreign buffer. It is
// idempotent; only the first call releases anything.
func (p *Processor) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StateDestroyed {
		return
	}

	p.releaseResources()
	p.state = StateDestroyed

	p.logger.Debug("Denoise processor destroyed",
		slog.Uint64("frames_processed", p.framesProcessed),
		slog.Uint64("frames_denoised", p.framesDenoised),
	)
}

// State returns the current lifecycle state.
func (p *Processor) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Stats returns current processor statistics
func (p *Processor) Stats() ProcessorStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return ProcessorStats{
		State:           p.state.String(),
		FramesProcessed: p.framesProcessed,
		FramesDenoised:  p.framesDenoised,
		LastScore:       p.lastScore,
		CreatedAt:       p.createdAt,
	}
}
