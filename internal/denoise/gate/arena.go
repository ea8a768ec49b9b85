package gate

import (
	"errors"
	"fmt"

	"github.com/skypro1111/denoise-service/internal/denoise"
)

// ErrArenaExhausted is returned when an allocation does not fit in the arena budget.
var ErrArenaExhausted = errors.New("gate: arena exhausted")

// Arena is handle-indexed engine memory with a fixed byte budget. It plays
// the part of a native heap: callers only ever see buffer handles, and every
// allocation is checked against the budget.
type Arena struct {
	capacity int
	used     int
	next     denoise.Buffer
	blocks   map[denoise.Buffer][]float32
}

// NewArena creates an arena that holds at most capacity bytes.
func NewArena(capacity int) *Arena {
	return &Arena{
		capacity: capacity,
		blocks:   make(map[denoise.Buffer][]float32),
	}
}

// Allocate reserves size bytes, rounded up to whole float32 words.
func (a *Arena) Allocate(size int) (denoise.Buffer, error) {
	if size <= 0 {
		return 0, fmt.Errorf("gate: invalid allocation size %d", size)
	}
	words := (size + 3) / 4
	if a.used+words*4 > a.capacity {
		return 0, fmt.Errorf("%w: need %d bytes, %d of %d in use", ErrArenaExhausted, words*4, a.used, a.capacity)
	}

	a.next++
	buf := a.next
	a.blocks[buf] = make([]float32, words)
	a.used += words * 4
	return buf, nil
}

// Free releases a block. Freeing an unknown or already freed handle is an error.
func (a *Arena) Free(buf denoise.Buffer) error {
	block, ok := a.blocks[buf]
	if !ok {
		return fmt.Errorf("gate: free of unknown buffer %d", buf)
	}
	a.used -= len(block) * 4
	delete(a.blocks, buf)
	return nil
}

// View returns the words backing buf.
func (a *Arena) View(buf denoise.Buffer) ([]float32, error) {
	block, ok := a.blocks[buf]
	if !ok {
		return nil, fmt.Errorf("gate: unknown buffer %d", buf)
	}
	return block, nil
}

// Used returns the number of bytes currently allocated.
func (a *Arena) Used() int {
	return a.used
}

// Blocks returns the number of live allocations.
func (a *Arena) Blocks() int {
	return len(a.blocks)
}
