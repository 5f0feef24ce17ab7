package audio

import (
	"sync"
)

// RingBuffer is a thread-safe byte ring that holds the most recent audio.
// When full, new writes overwrite the oldest bytes.
type RingBuffer struct {
	buffer  []byte
	size    int
	read    int
	length  int
	dropped int64
	mu      sync.Mutex
}

// NewRingBuffer creates a new ring buffer with the specified capacity
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 1
	}
	return &RingBuffer{
		buffer: make([]byte, size),
		size:   size,
	}
}

// Write appends data, evicting the oldest bytes if needed.
func (rb *RingBuffer) Write(data []byte) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	// Only the tail of an oversized write can survive.
	if len(data) > rb.size {
		rb.dropped += int64(len(data) - rb.size)
		data = data[len(data)-rb.size:]
	}

	overflow := rb.length + len(data) - rb.size
	if overflow > 0 {
		rb.read = (rb.read + overflow) % rb.size
		rb.length -= overflow
		rb.dropped += int64(overflow)
	}

	write := (rb.read + rb.length) % rb.size
	n := copy(rb.buffer[write:], data)
	copy(rb.buffer, data[n:])
	rb.length += len(data)
}

// Read reads up to len(data) bytes and returns the count.
func (rb *RingBuffer) Read(data []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := len(data)
	if n > rb.length {
		n = rb.length
	}
	for i := 0; i < n; i++ {
		data[i] = rb.buffer[(rb.read+i)%rb.size]
	}
	rb.read = (rb.read + n) % rb.size
	rb.length -= n
	return n
}

// Drain returns everything buffered and empties the ring.
func (rb *RingBuffer) Drain() []byte {
	rb.mu.Lock()
	n := rb.length
	rb.mu.Unlock()

	out := make([]byte, n)
	read := rb.Read(out)
	return out[:read]
}

// Available returns the number of bytes available to read
func (rb *RingBuffer) Available() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.length
}

// Dropped returns how many bytes were evicted by overwrites.
func (rb *RingBuffer) Dropped() int64 {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.dropped
}

// Clear clears the buffer
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.read = 0
	rb.length = 0
}

// IsEmpty returns true if the buffer is empty
func (rb *RingBuffer) IsEmpty() bool {
	return rb.Available() == 0
}
