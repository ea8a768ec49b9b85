package audio

import (
	"errors"
	"fmt"
)

// ErrChannelOutOfRange is returned for a channel index the assembler does not have.
var ErrChannelOutOfRange = errors.New("audio: channel out of range")

// FrameHandler receives each completed frame. Ownership of frame passes to
// the handler: the assembler never writes to it again.
type FrameHandler func(channel int, frame []float32)

// FrameAssembler accumulates samples of one channel into fixed-length frames.
//
// An assembler is driven by a single capture goroutine and is not safe for
// concurrent use. Frames are emitted synchronously from Accept.
type FrameAssembler struct {
	frameLength int
	channel     int
	pool        *FramePool
	handler     FrameHandler

	buffer []float32
	cursor int // next write position, always < frameLength between calls

	// Statistics
	framesEmitted   uint64
	samplesAccepted uint64
}

// AssemblerStats represents assembler statistics for monitoring
type AssemblerStats struct {
	Channel         int    `json:"channel"`
	FramesEmitted   uint64 `json:"frames_emitted"`
	SamplesAccepted uint64 `json:"samples_accepted"`
	Pending         int    `json:"pending_samples"`
	PoolMisses      uint64 `json:"pool_misses"`
}

// NewFrameAssembler creates an assembler emitting frameLength-sample frames
// to handler. A nil pool gets a small private pool.
func NewFrameAssembler(frameLength, channel int, pool *FramePool, handler FrameHandler) (*FrameAssembler, error) {
	if frameLength <= 0 {
		return nil, fmt.Errorf("frame length must be positive, got %d", frameLength)
	}
	if handler == nil {
		return nil, fmt.Errorf("frame handler is required")
	}
	if pool == nil {
		var err error
		if pool, err = NewFramePool(frameLength, 4); err != nil {
			return nil, err
		}
	}
	if pool.FrameLength() != frameLength {
		return nil, fmt.Errorf("pool frame length %d does not match frame length %d", pool.FrameLength(), frameLength)
	}

	return &FrameAssembler{
		frameLength: frameLength,
		channel:     channel,
		pool:        pool,
		handler:     handler,
		buffer:      pool.Get(),
	}, nil
}

// Accept appends chunk to the current frame, emitting one frame each time
// the frame fills. A chunk may complete any number of frames, including none.
func (a *FrameAssembler) Accept(chunk []float32) {
	a.samplesAccepted += uint64(len(chunk))

	for len(chunk) > 0 {
		n := copy(a.buffer[a.cursor:], chunk)
		a.cursor += n
		chunk = chunk[n:]

		if a.cursor == a.frameLength {
			frame := a.buffer
			a.buffer = a.pool.Get()
			a.cursor = 0
			a.framesEmitted++
			a.handler(a.channel, frame)
		}
	}
}

// Pending returns the number of samples held in the partial frame.
func (a *FrameAssembler) Pending() int {
	return a.cursor
}

// Reset drops the partial frame.
func (a *FrameAssembler) Reset() {
	a.cursor = 0
}

// FrameLength returns the number of samples per emitted frame.
func (a *FrameAssembler) FrameLength() int {
	return a.frameLength
}

// Stats returns current assembler statistics
func (a *FrameAssembler) Stats() AssemblerStats {
	return AssemblerStats{
		Channel:         a.channel,
		FramesEmitted:   a.framesEmitted,
		SamplesAccepted: a.samplesAccepted,
		Pending:         a.cursor,
		PoolMisses:      a.pool.Misses(),
	}
}

// MultiChannelAssembler runs one FrameAssembler per channel over a shared pool.
type MultiChannelAssembler struct {
	assemblers []*FrameAssembler
	scratch    [][]float32 // per channel de-interleave buffers, reused across calls
}

// NewMultiChannelAssembler creates assemblers for channels 0..channels-1.
func NewMultiChannelAssembler(frameLength, channels int, pool *FramePool, handler FrameHandler) (*MultiChannelAssembler, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("channel count must be positive, got %d", channels)
	}

	m := &MultiChannelAssembler{
		assemblers: make([]*FrameAssembler, channels),
		scratch:    make([][]float32, channels),
	}
	for ch := 0; ch < channels; ch++ {
		a, err := NewFrameAssembler(frameLength, ch, pool, handler)
		if err != nil {
			return nil, fmt.Errorf("channel %d: %w", ch, err)
		}
		m.assemblers[ch] = a
	}
	return m, nil
}

// Channels returns the number of channels.
func (m *MultiChannelAssembler) Channels() int {
	return len(m.assemblers)
}

// Accept feeds a chunk of one channel.
func (m *MultiChannelAssembler) Accept(channel int, chunk []float32) error {
	if channel < 0 || channel >= len(m.assemblers) {
		return fmt.Errorf("%w: %d (have %d)", ErrChannelOutOfRange, channel, len(m.assemblers))
	}
	m.assemblers[channel].Accept(chunk)
	return nil
}

// AcceptInterleaved splits an interleaved chunk by channel and feeds each
// assembler. The chunk length must be a multiple of the channel count.
func (m *MultiChannelAssembler) AcceptInterleaved(samples []float32) error {
	channels := len(m.assemblers)
	if len(samples)%channels != 0 {
		return fmt.Errorf("interleaved chunk of %d samples is not a multiple of %d channels", len(samples), channels)
	}
	if channels == 1 {
		m.assemblers[0].Accept(samples)
		return nil
	}

	perChannel := len(samples) / channels
	for ch := 0; ch < channels; ch++ {
		buf := m.scratch[ch][:0]
		for i := 0; i < perChannel; i++ {
			buf = append(buf, samples[i*channels+ch])
		}
		m.scratch[ch] = buf
		m.assemblers[ch].Accept(buf)
	}
	return nil
}

// Pending returns the partial frame size of a channel, or 0 for an unknown channel.
func (m *MultiChannelAssembler) Pending(channel int) int {
	if channel < 0 || channel >= len(m.assemblers) {
		return 0
	}
	return m.assemblers[channel].Pending()
}

// Reset drops the partial frames of every channel.
func (m *MultiChannelAssembler) Reset() {
	for _, a := range m.assemblers {
		a.Reset()
	}
}

// Stats returns statistics for every channel
func (m *MultiChannelAssembler) Stats() []AssemblerStats {
	stats := make([]AssemblerStats, len(m.assemblers))
	for i, a := range m.assemblers {
		stats[i] = a.Stats()
	}
	return stats
}
