// Package mock provides an accounting denoise.Engine for tests. It tracks
// every live context and buffer, counts engine calls and lets tests inject
// failures at each step of the adapter lifecycle.
package mock

import (
	"errors"
	"fmt"
	"sync"

	"github.com/skypro1111/denoise-service/internal/denoise"
)

// Injected failures returned by Engine when the matching Fail* flag is set.
var (
	ErrAllocate = errors.New("mock: allocate failed")
	ErrCreate   = errors.New("mock: create context failed")
	ErrProcess  = errors.New("mock: process frame failed")
	ErrRelease  = errors.New("mock: release failed")
)

// Engine is a denoise.Engine backed by Go memory. The zero value is not
// usable; call New.
type Engine struct {
	// FailAllocate makes Allocate fail.
	FailAllocate bool
	// FailCreate makes CreateContext fail.
	FailCreate bool
	// FailProcess makes ProcessFrame fail.
	FailProcess bool
	// FailRelease makes Free and DestroyContext report an error after releasing.
	FailRelease bool

	// Gain is applied to every sample copied from in to out.
	Gain float32
	// Score is returned by ProcessFrame when ScoreFunc is nil.
	Score float32
	// ScoreFunc computes the score from the scaled input frame.
	ScoreFunc func(in []float32) float32

	nextHandle uint32
	buffers    map[denoise.Buffer][]float32
	contexts   map[denoise.Context]int // frames processed per context

	allocCalls   int
	freeCalls    int
	createCalls  int
	destroyCalls int
	processCalls int
	viewCalls    int

	lastInput []float32

	mu sync.Mutex
}

// New creates a mock engine with unity gain and a 0.5 score.
func New() *Engine {
	return &Engine{
		Gain:     1,
		Score:    0.5,
		buffers:  make(map[denoise.Buffer][]float32),
		contexts: make(map[denoise.Context]int),
	}
}

func (e *Engine) handle() uint32 {
	e.nextHandle++
	return e.nextHandle
}

// CreateContext implements denoise.Engine.
func (e *Engine) CreateContext() (denoise.Context, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.createCalls++
	if e.FailCreate {
		return 0, ErrCreate
	}
	ctx := denoise.Context(e.handle())
	e.contexts[ctx] = 0
	return ctx, nil
}

// DestroyContext implements denoise.Engine.
func (e *Engine) DestroyContext(ctx denoise.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.destroyCalls++
	if _, ok := e.contexts[ctx]; !ok {
		return fmt.Errorf("mock: unknown context %d", ctx)
	}
	delete(e.contexts, ctx)
	if e.FailRelease {
		return ErrRelease
	}
	return nil
}

// Allocate implements denoise.Engine.
func (e *Engine) Allocate(size int) (denoise.Buffer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.allocCalls++
	if e.FailAllocate {
		return 0, ErrAllocate
	}
	if size <= 0 || size%4 != 0 {
		return 0, fmt.Errorf("mock: invalid allocation size %d", size)
	}
	buf := denoise.Buffer(e.handle())
	e.buffers[buf] = make([]float32, size/4)
	return buf, nil
}

// Free implements denoise.Engine.
func (e *Engine) Free(buf denoise.Buffer) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.freeCalls++
	if _, ok := e.buffers[buf]; !ok {
		return fmt.Errorf("mock: double free or unknown buffer %d", buf)
	}
	delete(e.buffers, buf)
	if e.FailRelease {
		return ErrRelease
	}
	return nil
}

// View implements denoise.Engine.
func (e *Engine) View(buf denoise.Buffer) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.viewCalls++
	mem, ok := e.buffers[buf]
	if !ok {
		return nil, fmt.Errorf("mock: unknown buffer %d", buf)
	}
	return mem, nil
}

// ProcessFrame implements denoise.Engine.
func (e *Engine) ProcessFrame(ctx denoise.Context, in, out denoise.Buffer) (float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.processCalls++
	if e.FailProcess {
		return 0, ErrProcess
	}
	if _, ok := e.contexts[ctx]; !ok {
		return 0, fmt.Errorf("mock: unknown context %d", ctx)
	}
	src, ok := e.buffers[in]
	if !ok {
		return 0, fmt.Errorf("mock: unknown input buffer %d", in)
	}
	dst, ok := e.buffers[out]
	if !ok {
		return 0, fmt.Errorf("mock: unknown output buffer %d", out)
	}

	e.lastInput = append(e.lastInput[:0], src[:denoise.SampleLength]...)

	score := e.Score
	if e.ScoreFunc != nil {
		score = e.ScoreFunc(src[:denoise.SampleLength])
	}
	for i := 0; i < denoise.SampleLength; i++ {
		dst[i] = src[i] * e.Gain
	}
	e.contexts[ctx]++

	return score, nil
}

// LiveBuffers returns the number of allocated, not yet freed buffers.
func (e *Engine) LiveBuffers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.buffers)
}

// LiveContexts returns the number of created, not yet destroyed contexts.
func (e *Engine) LiveContexts() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.contexts)
}

// LastInput returns a copy of the scaled input of the last processed frame.
func (e *Engine) LastInput() []float32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]float32(nil), e.lastInput...)
}

// Calls is a snapshot of engine call counters.
type Calls struct {
	Allocate int
	Free     int
	Create   int
	Destroy  int
	Process  int
	View     int
}

// Calls returns the number of times each engine method was invoked.
func (e *Engine) Calls() Calls {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Calls{
		Allocate: e.allocCalls,
		Free:     e.freeCalls,
		Create:   e.createCalls,
		Destroy:  e.destroyCalls,
		Process:  e.processCalls,
		View:     e.viewCalls,
	}
}
