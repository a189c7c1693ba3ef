package audio

import "sync"

// RingBuffer is a fixed-size circular buffer of PCM bytes. It holds the
// pre-roll: the last few hundred milliseconds of audio before the VAD
// reports speech, so the fallback recognizer does not lose word onsets.
// Assumes 16-bit mono PCM (2 bytes per sample).
type RingBuffer struct {
	mu       sync.Mutex
	data     []byte
	capacity int
	writePos int
	size     int
}

// NewRingBuffer creates a ring buffer holding durationMs of audio at the
// given sample rate.
func NewRingBuffer(sampleRate, durationMs int) *RingBuffer {
	capacity := sampleRate * durationMs / 1000 * 2
	return &RingBuffer{
		data:     make([]byte, capacity),
		capacity: capacity,
	}
}

// Write appends data, overwriting the oldest bytes when full.
func (rb *RingBuffer) Write(data []byte) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := len(data)
	if n == 0 {
		return
	}

	// Oversized writes keep only the newest capacity bytes.
	if n >= rb.capacity {
		copy(rb.data, data[n-rb.capacity:])
		rb.writePos = 0
		rb.size = rb.capacity
		return
	}

	tail := rb.capacity - rb.writePos
	if n <= tail {
		copy(rb.data[rb.writePos:], data)
		rb.writePos = (rb.writePos + n) % rb.capacity
	} else {
		copy(rb.data[rb.writePos:], data[:tail])
		copy(rb.data, data[tail:])
		rb.writePos = n - tail
	}

	rb.size += n
	if rb.size > rb.capacity {
		rb.size = rb.capacity
	}
}

// Drain returns all buffered data in chronological order and empties the
// buffer. Used to flush the pre-roll when speech starts.
func (rb *RingBuffer) Drain() []byte {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.size == 0 {
		return nil
	}

	out := make([]byte, rb.size)
	if rb.size < rb.capacity {
		copy(out, rb.data[:rb.size])
	} else {
		head := rb.capacity - rb.writePos
		copy(out[:head], rb.data[rb.writePos:])
		copy(out[head:], rb.data[:rb.writePos])
	}

	rb.writePos = 0
	rb.size = 0
	return out
}

// Len returns the current amount of buffered data in bytes.
func (rb *RingBuffer) Len() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.size
}

// Cap returns the buffer capacity in bytes.
func (rb *RingBuffer) Cap() int {
	return rb.capacity
}
