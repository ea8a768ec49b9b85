// Package gate implements a pure-Go denoise.Engine: an adaptive noise gate
// with an energy based voice activity score. It needs no native library and
// serves as the default engine as well as a stand-in for RNNoise in tests.
package gate

import (
	"fmt"
	"math"
	"sync"

	"github.com/skypro1111/denoise-service/internal/denoise"
)

// Config contains configuration for the gate engine
type Config struct {
	ArenaSize   int     // bytes of engine memory, at least one frame buffer
	FloorGain   float64 // gain applied to frames without voice (0.0 - 1.0)
	SNRCenterDB float64 // level above the noise floor where the score crosses 0.5
	SNRSlopeDB  float64 // width of the score transition in dB
}

// DefaultConfig returns the settings used when the service config leaves them unset.
func DefaultConfig() Config {
	return Config{
		ArenaSize:   64 * denoise.BufferSize,
		FloorGain:   0.1,
		SNRCenterDB: 6,
		SNRSlopeDB:  2,
	}
}

// contextState is the adaptive state carried from frame to frame.
type contextState struct {
	floorDB     float64 // tracked noise floor
	gain        float64 // gain applied at the end of the previous frame
	initialized bool
	frames      uint64
}

// Engine is the gate engine. It is safe for concurrent use across contexts.
type Engine struct {
	config   Config
	arena    *Arena
	contexts map[denoise.Context]*contextState
	next     denoise.Context

	mu sync.Mutex
}

// New creates a gate engine.
func New(config Config) (*Engine, error) {
	if config.ArenaSize < denoise.BufferSize {
		return nil, fmt.Errorf("arena size must hold at least one frame buffer (%d bytes), got %d",
			denoise.BufferSize, config.ArenaSize)
	}
	if config.FloorGain < 0 || config.FloorGain > 1 {
		return nil, fmt.Errorf("floor gain must be between 0 and 1, got %f", config.FloorGain)
	}
	if config.SNRSlopeDB <= 0 {
		return nil, fmt.Errorf("snr slope must be positive, got %f", config.SNRSlopeDB)
	}

	return &Engine{
		config:   config,
		arena:    NewArena(config.ArenaSize),
		contexts: make(map[denoise.Context]*contextState),
	}, nil
}

// CreateContext implements denoise.Engine.
func (e *Engine) CreateContext() (denoise.Context, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.next++
	ctx := e.next
	e.contexts[ctx] = &contextState{gain: 1}
	return ctx, nil
}

// DestroyContext implements denoise.Engine.
func (e *Engine) DestroyContext(ctx denoise.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.contexts[ctx]; !ok {
		return fmt.Errorf("gate: destroy of unknown context %d", ctx)
	}
	delete(e.contexts, ctx)
	return nil
}

// Allocate implements denoise.Engine.
func (e *Engine) Allocate(size int) (denoise.Buffer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.arena.Allocate(size)
}

// Free implements denoise.Engine.
func (e *Engine) Free(buf denoise.Buffer) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.arena.Free(buf)
}

// View implements denoise.Engine.
func (e *Engine) View(buf denoise.Buffer) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.arena.View(buf)
}

// ProcessFrame implements denoise.Engine. Samples are expected in the
// 16-bit scaled range; in and out may alias.
func (e *Engine) ProcessFrame(ctx denoise.Context, in, out denoise.Buffer) (float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.contexts[ctx]
	if !ok {
		return 0, fmt.Errorf("gate: unknown context %d", ctx)
	}
	src, err := e.arena.View(in)
	if err != nil {
		return 0, err
	}
	dst, err := e.arena.View(out)
	if err != nil {
		return 0, err
	}
	if len(src) < denoise.SampleLength || len(dst) < denoise.SampleLength {
		return 0, fmt.Errorf("gate: buffers must hold %d samples", denoise.SampleLength)
	}

	score := e.score(st, src[:denoise.SampleLength])
	e.applyGain(st, score, src[:denoise.SampleLength], dst[:denoise.SampleLength])
	st.frames++

	return score, nil
}

// score computes the VAD score from the frame level relative to the tracked noise floor.
func (e *Engine) score(st *contextState, frame []float32) float32 {
	var energy float64
	for _, sample := range frame {
		energy += float64(sample) * float64(sample)
	}
	rms := math.Sqrt(energy / float64(len(frame)))
	levelDB := 20 * math.Log10(rms+1)

	if !st.initialized {
		st.floorDB = levelDB
		st.initialized = true
	}

	// Fall quickly to quieter levels, rise slowly so speech does not raise the floor.
	if levelDB < st.floorDB {
		st.floorDB += 0.5 * (levelDB - st.floorDB)
	} else {
		st.floorDB += 0.01 * (levelDB - st.floorDB)
	}

	snr := levelDB - st.floorDB
	return float32(1 / (1 + math.Exp(-(snr-e.config.SNRCenterDB)/e.config.SNRSlopeDB)))
}

// applyGain ramps the gain from the previous frame's value towards the
// target so frame boundaries stay click free.
func (e *Engine) applyGain(st *contextState, score float32, src, dst []float32) {
	floor := e.config.FloorGain
	target := floor + (1-floor)*float64(score)
	end := st.gain + 0.5*(target-st.gain)

	step := (end - st.gain) / float64(len(src))
	g := st.gain
	for i, sample := range src {
		g += step
		dst[i] = float32(float64(sample) * g)
	}
	st.gain = end
}

// Stats is a snapshot of engine resource usage
type Stats struct {
	Contexts   int `json:"contexts"`
	Buffers    int `json:"buffers"`
	ArenaUsed  int `json:"arena_used_bytes"`
	ArenaLimit int `json:"arena_limit_bytes"`
}

// GetStats returns current engine resource usage
func (e *Engine) GetStats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	return Stats{
		Contexts:   len(e.contexts),
		Buffers:    e.arena.Blocks(),
		ArenaUsed:  e.arena.Used(),
		ArenaLimit: e.config.ArenaSize,
	}
}
