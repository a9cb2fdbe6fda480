package storage

import (
	"fmt"
	"sync"

	"github.com/roman-kulish/radio-coordination/internal/spectrum"
)

// node is an internal linked list node of the result buffer.
type node struct {
	result *spectrum.InterferenceResult
	next   *node
}

// ResultBuffer is a thread-safe FIFO of interference results waiting to be
// written. It keeps emission order and releases results in batches of
// flushCount once capacity is reached.
type ResultBuffer struct {
	capacity   int // Maximum number of results to hold before a flush is due
	flushCount int // Number of results to release per flush

	mu   sync.Mutex
	head *node
	tail *node
	size int
}

// NewResultBuffer creates a buffer that holds up to capacity results and
// releases flushCount of them per Flush. It returns an error if the
// parameters are invalid.
func NewResultBuffer(capacity, flushCount int) (*ResultBuffer, error) {
	if capacity <= 0 || flushCount <= 0 || flushCount > capacity {
		return nil, fmt.Errorf("invalid buffer parameters: bufferCap=%d, toFlush=%d", capacity, flushCount)
	}
	return &ResultBuffer{
		capacity:   capacity,
		flushCount: flushCount,
	}, nil
}

// Insert appends a result to the buffer. Returns an error if the result is nil.
func (rb *ResultBuffer) Insert(result *spectrum.InterferenceResult) error {
	if result == nil {
		return fmt.Errorf("cannot insert nil result")
	}

	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := &node{result: result}
	if rb.tail == nil {
		rb.head = n
	} else {
		rb.tail.next = n
	}
	rb.tail = n
	rb.size++
	return nil
}

// IsFull returns true if the buffer has reached its capacity.
func (rb *ResultBuffer) IsFull() bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	return rb.size >= rb.capacity
}

// Flush removes and returns the oldest results. Returns nil if the buffer is
// empty. Results beyond capacity are released along with the flush count.
func (rb *ResultBuffer) Flush() []*spectrum.InterferenceResult {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.head == nil || rb.size == 0 {
		return nil
	}

	count := rb.flushCount
	if rb.size > rb.capacity {
		count += rb.size - rb.capacity
	}
	count = min(count, rb.size)

	return rb.take(count)
}

// DrainAll removes and returns all results from the buffer.
// Returns nil if the buffer is empty.
func (rb *ResultBuffer) DrainAll() []*spectrum.InterferenceResult {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.head == nil || rb.size == 0 {
		return nil
	}
	return rb.take(rb.size)
}

// Requeue puts results back at the front of the buffer in their original
// order, so a failed write can be retried.
func (rb *ResultBuffer) Requeue(results []*spectrum.InterferenceResult) {
	if len(results) == 0 {
		return
	}

	rb.mu.Lock()
	defer rb.mu.Unlock()

	for i := len(results) - 1; i >= 0; i-- {
		rb.head = &node{result: results[i], next: rb.head}
		if rb.tail == nil {
			rb.tail = rb.head
		}
		rb.size++
	}
}

// Size returns the current number of results in the buffer.
func (rb *ResultBuffer) Size() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.size
}

// Clear removes all results from the buffer.
func (rb *ResultBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.head = nil
	rb.tail = nil
	rb.size = 0
}

// take removes count results from the front. rb.mu must be held.
func (rb *ResultBuffer) take(count int) []*spectrum.InterferenceResult {
	results := make([]*spectrum.InterferenceResult, 0, count)
	current := rb.head
	for i := 0; i < count && current != nil; i++ {
		results = append(results, current.result)
		current = current.next
	}

	rb.head = current
	if rb.head == nil {
		rb.tail = nil
	}
	rb.size -= len(results)
	return results
}
