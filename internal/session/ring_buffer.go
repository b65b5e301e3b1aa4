package session

import "sync"

// ringBuffer is a fixed-capacity circular buffer of output lines. Late
// subscribers replay its contents to catch up on what a session already said.
type ringBuffer struct {
	mu       sync.RWMutex
	lines    []string
	capacity int
	pos      int
	full     bool
}

func newRingBuffer(capacity int) *ringBuffer {
	if capacity <= 0 {
		capacity = defaultBufferLines
	}
	return &ringBuffer{
		lines:    make([]string, capacity),
		capacity: capacity,
	}
}

// Append adds a line, evicting the oldest one once the buffer is full.
func (rb *ringBuffer) Append(line string) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.lines[rb.pos] = line
	rb.pos = (rb.pos + 1) % rb.capacity
	if rb.pos == 0 {
		rb.full = true
	}
}

// Snapshot returns the buffered lines in oldest-first order.
func (rb *ringBuffer) Snapshot() []string {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if !rb.full {
		out := make([]string, rb.pos)
		copy(out, rb.lines[:rb.pos])
		return out
	}

	out := make([]string, rb.capacity)
	copy(out, rb.lines[rb.pos:])
	copy(out[rb.capacity-rb.pos:], rb.lines[:rb.pos])
	return out
}

// Len reports how many lines are currently buffered.
func (rb *ringBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	if rb.full {
		return rb.capacity
	}
	return rb.pos
}
