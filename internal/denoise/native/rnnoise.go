//go:build rnnoise

package native

/*
#cgo pkg-config: rnnoise
#include <rnnoise.h>
#include <stdlib.h>
*/
import "C"

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/skypro1111/denoise-service/internal/denoise"
)

type block struct {
	ptr   unsafe.Pointer
	words []float32
}

// Engine drives librnnoise. C memory is never exposed directly: callers hold
// handles and the engine keeps the pointers.
type Engine struct {
	states map[denoise.Context]*C.DenoiseState
	blocks map[denoise.Buffer]block
	next   uint32

	mu sync.Mutex
}

// New creates an rnnoise engine.
func New() (denoise.Engine, error) {
	return &Engine{
		states: make(map[denoise.Context]*C.DenoiseState),
		blocks: make(map[denoise.Buffer]block),
	}, nil
}

// Available reports whether the rnnoise binding is compiled in.
func Available() bool {
	return true
}

func (e *Engine) handle() uint32 {
	e.next++
	return e.next
}

// CreateContext implements denoise.Engine.
func (e *Engine) CreateContext() (denoise.Context, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := C.rnnoise_create(nil)
	if st == nil {
		return 0, fmt.Errorf("native: rnnoise_create returned null")
	}
	ctx := denoise.Context(e.handle())
	e.states[ctx] = st
	return ctx, nil
}

// DestroyContext implements denoise.Engine.
func (e *Engine) DestroyContext(ctx denoise.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.states[ctx]
	if !ok {
		return fmt.Errorf("native: destroy of unknown context %d", ctx)
	}
	C.rnnoise_destroy(st)
	delete(e.states, ctx)
	return nil
}

// Allocate implements denoise.Engine.
func (e *Engine) Allocate(size int) (denoise.Buffer, error) {
	if size <= 0 {
		return 0, fmt.Errorf("native: invalid allocation size %d", size)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	words := (size + 3) / 4
	ptr := C.malloc(C.size_t(words) * C.size_t(unsafe.Sizeof(C.float(0))))
	if ptr == nil {
		return 0, fmt.Errorf("native: malloc of %d bytes failed", size)
	}
	buf := denoise.Buffer(e.handle())
	e.blocks[buf] = block{
		ptr:   ptr,
		words: unsafe.Slice((*float32)(ptr), words),
	}
	return buf, nil
}

// Free implements denoise.Engine.
func (e *Engine) Free(buf denoise.Buffer) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	b, ok := e.blocks[buf]
	if !ok {
		return fmt.Errorf("native: free of unknown buffer %d", buf)
	}
	C.free(b.ptr)
	delete(e.blocks, buf)
	return nil
}

// View implements denoise.Engine.
func (e *Engine) View(buf denoise.Buffer) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	b, ok := e.blocks[buf]
	if !ok {
		return nil, fmt.Errorf("native: unknown buffer %d", buf)
	}
	return b.words, nil
}

// ProcessFrame implements denoise.Engine. rnnoise_process_frame takes the
// output pointer first; in-place processing is supported by the library.
func (e *Engine) ProcessFrame(ctx denoise.Context, in, out denoise.Buffer) (float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.states[ctx]
	if !ok {
		return 0, fmt.Errorf("native: unknown context %d", ctx)
	}
	src, ok := e.blocks[in]
	if !ok || len(src.words) < denoise.SampleLength {
		return 0, fmt.Errorf("native: invalid input buffer %d", in)
	}
	dst, ok := e.blocks[out]
	if !ok || len(dst.words) < denoise.SampleLength {
		return 0, fmt.Errorf("native: invalid output buffer %d", out)
	}

	vad := C.rnnoise_process_frame(st, (*C.float)(dst.ptr), (*C.float)(src.ptr))
	return float32(vad), nil
}
