package stream

import (
	"encoding/binary"
	"math"
	"sync"
	"sync/atomic"

	"github.com/smallnest/ringbuffer"
)

// recordHeader is the per-frame prefix in the queue: the channel index.
const recordHeader = 4

// FrameQueue is a fixed-capacity, non-blocking frame FIFO between a capture
// goroutine and the session consumer. Frames are stored as fixed-size
// records in a byte ring buffer; a frame that does not fit is dropped.
type FrameQueue struct {
	rb          *ringbuffer.RingBuffer
	frameLength int
	recordSize  int
	capacity    int

	wbuf []byte // producer scratch, guarded by wmu
	rbuf []byte // consumer scratch, single consumer
	wmu  sync.Mutex

	notify  chan struct{}
	dropped atomic.Uint64
}

// NewFrameQueue creates a queue holding up to capacity frames of frameLength samples.
func NewFrameQueue(frameLength, capacity int) *FrameQueue {
	recordSize := recordHeader + frameLength*4
	return &FrameQueue{
		rb:          ringbuffer.New(recordSize * capacity).SetBlocking(false),
		frameLength: frameLength,
		recordSize:  recordSize,
		capacity:    capacity,
		wbuf:        make([]byte, recordSize),
		rbuf:        make([]byte, recordSize),
		notify:      make(chan struct{}, 1),
	}
}

// Push copies frame into the queue. It never blocks; when the queue is full
// the frame is dropped, counted and false is returned.
func (q *FrameQueue) Push(channel int, frame []float32) bool {
	q.wmu.Lock()
	defer q.wmu.Unlock()

	if len(frame) != q.frameLength || q.rb.Free() < q.recordSize {
		q.dropped.Add(1)
		return false
	}

	binary.LittleEndian.PutUint32(q.wbuf, uint32(channel))
	for i, s := range frame {
		binary.LittleEndian.PutUint32(q.wbuf[recordHeader+i*4:], math.Float32bits(s))
	}
	if n, err := q.rb.Write(q.wbuf); err != nil || n != q.recordSize {
		// Free was checked under wmu and the consumer only releases space.
		q.dropped.Add(1)
		return false
	}

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// Pop moves the oldest frame into dst, which must hold frameLength samples.
// Only the session consumer calls Pop.
func (q *FrameQueue) Pop(dst []float32) (int, bool) {
	if q.rb.Length() < q.recordSize {
		return 0, false
	}
	if n, err := q.rb.Read(q.rbuf); err != nil || n != q.recordSize {
		return 0, false
	}

	channel := int(binary.LittleEndian.Uint32(q.rbuf))
	for i := range dst[:q.frameLength] {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(q.rbuf[recordHeader+i*4:]))
	}
	return channel, true
}

// Notify returns a channel that receives a value after frames were pushed.
func (q *FrameQueue) Notify() <-chan struct{} {
	return q.notify
}

// Len returns the number of queued frames.
func (q *FrameQueue) Len() int {
	return q.rb.Length() / q.recordSize
}

// Capacity returns the maximum number of queued frames.
func (q *FrameQueue) Capacity() int {
	return q.capacity
}

// Dropped returns the number of frames dropped because the queue was full.
func (q *FrameQueue) Dropped() uint64 {
	return q.dropped.Load()
}

// Reset discards every queued frame.
func (q *FrameQueue) Reset() {
	q.rb.Reset()
}
