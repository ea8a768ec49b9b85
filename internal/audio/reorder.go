package audio

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// resyncWindow is the sequence distance beyond which a packet is taken as a
// sender restart rather than loss.
const resyncWindow = 1 << 16

// lostTrackWindow bounds how many lost sequences are remembered.
const lostTrackWindow = 100

// ErrStalePacket is returned for a duplicate or a packet older than the last delivered one.
var ErrStalePacket = errors.New("audio: old or duplicate packet")

// ReorderBuffer restores sequence order of packetised sample chunks.
//
// In-order chunks are delivered immediately. Future chunks are held until
// the gap before them fills; when the gap exceeds maxGap the missing
// sequences are counted as lost and delivery resumes at the next held chunk.
// A jump of more than resyncWindow in either direction resynchronises the
// buffer on the new sequence without counting loss.
type ReorderBuffer struct {
	deliver func(samples []float32)

	// Sequence tracking
	started     bool
	lastSeq     uint32               // last delivered sequence
	expectedSeq uint32               // next sequence to deliver
	pending     map[uint32][]float32 // held out-of-order chunks

	// Packet loss tracking
	lostPackets map[uint32]bool
	maxGap      uint32

	// Statistics
	lastUpdate    time.Time
	totalPackets  uint32
	lostCount     uint32
	staleCount    uint32
	reorderedSeqs uint32
	resyncs       uint32

	mu sync.Mutex
}

// ReorderStats represents reorder buffer statistics for monitoring
type ReorderStats struct {
	TotalPackets uint32  `json:"total_packets"`
	LostPackets  uint32  `json:"lost_packets"`
	StalePackets uint32  `json:"stale_packets"`
	Reordered    uint32  `json:"reordered_packets"`
	Resyncs      uint32  `json:"resyncs"`
	LossRate     float64 `json:"loss_rate_percent"`
	PendingSeqs  int     `json:"pending_sequences"`
	LastSequence uint32  `json:"last_sequence"`
}

// NewReorderBuffer creates a reorder buffer that hands ordered chunks to deliver.
func NewReorderBuffer(maxGap uint32, deliver func(samples []float32)) *ReorderBuffer {
	if maxGap == 0 {
		maxGap = 20
	}
	return &ReorderBuffer{
		deliver:     deliver,
		pending:     make(map[uint32][]float32),
		lostPackets: make(map[uint32]bool),
		maxGap:      maxGap,
		lastUpdate:  time.Now(),
	}
}

// Add accepts the chunk carried by packet sequence. deliver may be called
// zero or more times before Add returns. Chunks that are held are copied.
func (b *ReorderBuffer) Add(sequence uint32, samples []float32) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastUpdate = time.Now()
	b.totalPackets++

	// Initialize expected sequence on first packet
	if !b.started {
		b.started = true
		b.expectedSeq = sequence
		b.lastSeq = sequence - 1
	}

	if distance(sequence, b.expectedSeq) > resyncWindow {
		b.resync(sequence, samples)
		b.cleanupOldLostPackets()
		return nil
	}

	switch {
	case sequence == b.expectedSeq:
		b.deliverChunk(sequence, samples)
		b.drainPending()

	case sequence > b.expectedSeq:
		if _, held := b.pending[sequence]; held {
			b.staleCount++
			return fmt.Errorf("%w: seq=%d already held", ErrStalePacket, sequence)
		}
		b.pending[sequence] = append([]float32(nil), samples...)
		b.reorderedSeqs++

		// Give up waiting once the gap is too large
		if sequence-b.expectedSeq > b.maxGap {
			b.skipTo(sequence - b.maxGap)
		}

	default:
		b.staleCount++
		return fmt.Errorf("%w: seq=%d, lastSeq=%d", ErrStalePacket, sequence, b.lastSeq)
	}

	b.cleanupOldLostPackets()
	return nil
}

// Flush delivers every held chunk in sequence order, counting the gaps as lost.
func (b *ReorderBuffer) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for len(b.pending) > 0 {
		b.skipTo(b.minPending())
	}
}

// resync delivers the held chunks, then restarts sequence tracking at sequence.
func (b *ReorderBuffer) resync(sequence uint32, samples []float32) {
	for len(b.pending) > 0 {
		b.skipTo(b.minPending())
	}
	clear(b.lostPackets)
	b.resyncs++
	b.deliverChunk(sequence, samples)
}

func distance(a, b uint32) uint32 {
	if a > b {
		return a - b
	}
	return b - a
}

func (b *ReorderBuffer) deliverChunk(sequence uint32, samples []float32) {
	b.lastSeq = sequence
	b.expectedSeq = sequence + 1
	if len(samples) > 0 {
		b.deliver(samples)
	}
}

// drainPending delivers consecutive held chunks starting at expectedSeq.
func (b *ReorderBuffer) drainPending() {
	for {
		samples, held := b.pending[b.expectedSeq]
		if !held {
			return
		}
		delete(b.pending, b.expectedSeq)
		delete(b.lostPackets, b.expectedSeq)
		b.deliverChunk(b.expectedSeq, samples)
	}
}

// skipTo marks sequences before target as lost and resumes delivery at the
// first held chunk at or before target.
func (b *ReorderBuffer) skipTo(target uint32) {
	for b.expectedSeq < target {
		if len(b.pending) == 0 {
			b.markLost(b.expectedSeq, target-1)
			b.expectedSeq = target
			b.lastSeq = target - 1
			return
		}
		next := b.minPending()
		if next > target {
			next = target
		}
		if next > b.expectedSeq {
			b.markLost(b.expectedSeq, next-1)
			b.expectedSeq = next
			b.lastSeq = next - 1
		}
		b.drainPending()
	}
	b.drainPending()
}

func (b *ReorderBuffer) minPending() uint32 {
	first := true
	var lowest uint32
	for seq := range b.pending {
		if first || seq < lowest {
			lowest = seq
			first = false
		}
	}
	return lowest
}

// markLost counts the sequences in [start, end] that are not held as lost.
// Only the last lostTrackWindow of them are remembered.
func (b *ReorderBuffer) markLost(start, end uint32) {
	held := uint32(0)
	for seq := range b.pending {
		if seq >= start && seq <= end {
			held++
		}
	}
	b.lostCount += end - start + 1 - held

	from := start
	if end-start >= lostTrackWindow {
		from = end - lostTrackWindow + 1
	}
	for seq := from; ; seq++ {
		if _, ok := b.pending[seq]; !ok {
			b.lostPackets[seq] = true
		}
		if seq == end {
			return
		}
	}
}

// cleanupOldLostPackets removes very old lost packet tracking
func (b *ReorderBuffer) cleanupOldLostPackets() {
	if b.lastSeq < lostTrackWindow {
		return
	}
	cutoff := b.lastSeq - lostTrackWindow
	for seq := range b.lostPackets {
		if seq < cutoff {
			delete(b.lostPackets, seq)
		}
	}
}

// LastUpdate returns the time of the last Add
func (b *ReorderBuffer) LastUpdate() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastUpdate
}

// Stats returns current reorder buffer statistics
func (b *ReorderBuffer) Stats() ReorderStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	lossRate := float64(0)
	if b.totalPackets > 0 {
		lossRate = float64(b.lostCount) / float64(b.totalPackets) * 100
	}

	return ReorderStats{
		TotalPackets: b.totalPackets,
		LostPackets:  b.lostCount,
		StalePackets: b.staleCount,
		Reordered:    b.reorderedSeqs,
		Resyncs:      b.resyncs,
		LossRate:     lossRate,
		PendingSeqs:  len(b.pending),
		LastSequence: b.lastSeq,
	}
}
