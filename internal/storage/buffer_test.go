package storage

import (
	"testing"

	"github.com/roman-kulish/radio-coordination/internal/spectrum"
)

func resultWithMargin(channel int, margin float64) *spectrum.InterferenceResult {
	return &spectrum.InterferenceResult{
		Direction:  spectrum.DirectionOutbound,
		Interferer: spectrum.Station{CallSign: "P1", Channel: channel},
		Victim:     spectrum.Station{CallSign: "V1", Channel: channel},
		Margin:     margin,
	}
}

func TestResultBuffer_Ordering(t *testing.T) {
	rb, err := NewResultBuffer(10, 5)
	if err != nil {
		t.Fatalf("Failed to create buffer: %v", err)
	}

	for i := 1; i <= 7; i++ {
		if err := rb.Insert(resultWithMargin(i, 0)); err != nil {
			t.Errorf("Failed to insert result %d: %v", i, err)
		}
	}

	if size := rb.Size(); size != 7 {
		t.Errorf("Expected buffer size 7, got %d", size)
	}

	results := rb.DrainAll()
	if len(results) != 7 {
		t.Fatalf("Expected 7 results, got %d", len(results))
	}
	for i, r := range results {
		if r.Interferer.Channel != i+1 {
			t.Errorf("Result %d: expected channel %d, got %d", i, i+1, r.Interferer.Channel)
		}
	}
	if rb.Size() != 0 {
		t.Errorf("Expected empty buffer after drain, got %d", rb.Size())
	}
}

func TestResultBuffer_FlushBehavior(t *testing.T) {
	rb, err := NewResultBuffer(3, 2)
	if err != nil {
		t.Fatalf("Failed to create buffer: %v", err)
	}

	for i := 1; i <= 3; i++ {
		if err := rb.Insert(resultWithMargin(i, 0)); err != nil {
			t.Errorf("Failed to insert result %d: %v", i, err)
		}
	}

	if !rb.IsFull() {
		t.Error("Buffer should be full")
	}

	flushed := rb.Flush()
	if len(flushed) != 2 {
		t.Fatalf("Expected 2 flushed items, got %d", len(flushed))
	}
	if flushed[0].Interferer.Channel != 1 || flushed[1].Interferer.Channel != 2 {
		t.Errorf("Expected channels [1 2], got [%d %d]", flushed[0].Interferer.Channel, flushed[1].Interferer.Channel)
	}
	if size := rb.Size(); size != 1 {
		t.Errorf("Expected remaining size 1, got %d", size)
	}

	// Overfilled buffers release the excess too
	for i := 4; i <= 7; i++ {
		_ = rb.Insert(resultWithMargin(i, 0))
	}
	if flushed = rb.Flush(); len(flushed) != 4 {
		t.Errorf("Expected 4 flushed items from an overfilled buffer, got %d", len(flushed))
	}
}

func TestResultBuffer_Requeue(t *testing.T) {
	rb, err := NewResultBuffer(4, 2)
	if err != nil {
		t.Fatalf("Failed to create buffer: %v", err)
	}

	for i := 1; i <= 4; i++ {
		_ = rb.Insert(resultWithMargin(i, 0))
	}

	batch := rb.Flush()
	_ = rb.Insert(resultWithMargin(5, 0))
	rb.Requeue(batch)

	results := rb.DrainAll()
	if len(results) != 5 {
		t.Fatalf("Expected 5 results, got %d", len(results))
	}
	for i, r := range results {
		if r.Interferer.Channel != i+1 {
			t.Errorf("Result %d: expected channel %d, got %d", i, i+1, r.Interferer.Channel)
		}
	}

	// Requeue into an empty buffer keeps the tail usable
	rb.Requeue(results[:2])
	_ = rb.Insert(resultWithMargin(9, 0))
	if results = rb.DrainAll(); len(results) != 3 || results[2].Interferer.Channel != 9 {
		t.Errorf("Expected insert after requeue to append, got %d results", len(results))
	}
}

func TestResultBuffer_EdgeCases(t *testing.T) {
	rb, err := NewResultBuffer(5, 2)
	if err != nil {
		t.Fatalf("Failed to create buffer: %v", err)
	}

	if err := rb.Insert(nil); err == nil {
		t.Error("Expected error when inserting nil result")
	}

	if rb.Flush() != nil {
		t.Error("Flush on empty buffer should return nil")
	}
	if rb.DrainAll() != nil {
		t.Error("DrainAll on empty buffer should return nil")
	}
	if rb.IsFull() {
		t.Error("Empty buffer should not be full")
	}

	_ = rb.Insert(resultWithMargin(1, 0))
	rb.Clear()
	if rb.Size() != 0 {
		t.Error("Cleared buffer should have size 0")
	}

	testCases := []struct {
		name     string
		capacity int
		flush    int
	}{
		{"invalid capacity", 0, 1},
		{"invalid flush count", 5, 6},
		{"zero flush count", 5, 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewResultBuffer(tc.capacity, tc.flush); err == nil {
				t.Error("Expected error for invalid parameters")
			}
		})
	}
}
