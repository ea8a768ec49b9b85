package audio

import (
	"fmt"
	"sync/atomic"
)

// FramePool is a bounded free list of frame buffers. Get never blocks: an
// empty pool allocates a new frame and counts the miss.
type FramePool struct {
	frameLength int
	free        chan []float32
	misses      atomic.Uint64
}

// NewFramePool creates a pool of frameLength-sample buffers holding at most
// capacity free frames. The pool is filled on creation.
func NewFramePool(frameLength, capacity int) (*FramePool, error) {
	if frameLength <= 0 {
		return nil, fmt.Errorf("frame length must be positive, got %d", frameLength)
	}
	if capacity <= 0 {
		return nil, fmt.Errorf("pool capacity must be positive, got %d", capacity)
	}

	p := &FramePool{
		frameLength: frameLength,
		free:        make(chan []float32, capacity),
	}
	for i := 0; i < capacity; i++ {
		p.free <- make([]float32, frameLength)
	}
	return p, nil
}

// Get returns a frame of FrameLength samples. Its contents are unspecified.
func (p *FramePool) Get() []float32 {
	select {
	case frame := <-p.free:
		return frame
	default:
		p.misses.Add(1)
		return make([]float32, p.frameLength)
	}
}

// Put returns a frame to the pool. Frames of the wrong size and frames that
// do not fit are dropped for the garbage collector.
func (p *FramePool) Put(frame []float32) {
	if cap(frame) < p.frameLength {
		return
	}
	select {
	case p.free <- frame[:p.frameLength]:
	default:
	}
}

// FrameLength returns the number of samples per frame.
func (p *FramePool) FrameLength() int {
	return p.frameLength
}

// Available returns the number of free frames held.
func (p *FramePool) Available() int {
	return len(p.free)
}

// Misses returns how many Get calls had to allocate.
func (p *FramePool) Misses() uint64 {
	return p.misses.Load()
}
