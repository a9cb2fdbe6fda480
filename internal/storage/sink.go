package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/roman-kulish/radio-coordination/internal/coordination"
	"github.com/roman-kulish/radio-coordination/internal/spectrum"
)

const (
	DefaultBatchCapacity   = 500
	DefaultBatchFlushCount = 500
)

// ResultWriter stores batches of results of a run.
type ResultWriter interface {
	StoreResults(ctx context.Context, runID string, results []*spectrum.InterferenceResult) error
}

// BatchSinkOption configures a BatchSink.
type BatchSinkOption func(*BatchSink)

// WithLogger sets the logger of the sink.
func WithLogger(logger *slog.Logger) BatchSinkOption {
	return func(s *BatchSink) {
		s.logger = logger.With(slog.String("component", "batch_sink"))
	}
}

// WithBatchSize sets the buffer capacity and the number of results written
// per transaction.
func WithBatchSize(capacity, flushCount int) BatchSinkOption {
	return func(s *BatchSink) {
		s.capacity, s.flushCount = capacity, flushCount
	}
}

// BatchSink buffers emitted results and writes them in batches, one
// transaction per batch. Results that could not be written stay buffered.
type BatchSink struct {
	writer ResultWriter
	runID  string
	logger *slog.Logger

	capacity   int
	flushCount int
	buffer     *ResultBuffer

	mu        sync.Mutex // Serializes writes so batches commit in emission order
	committed atomic.Int64
	flagged   atomic.Int64
}

// NewBatchSink returns a sink that writes the results of runID to writer.
func NewBatchSink(writer ResultWriter, runID string, opts ...BatchSinkOption) (*BatchSink, error) {
	s := &BatchSink{
		writer:     writer,
		runID:      runID,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
		capacity:   DefaultBatchCapacity,
		flushCount: DefaultBatchFlushCount,
	}
	for _, opt := range opts {
		opt(s)
	}

	buffer, err := NewResultBuffer(s.capacity, s.flushCount)
	if err != nil {
		return nil, fmt.Errorf("creating result buffer: %w", err)
	}
	s.buffer = buffer
	return s, nil
}

// Emit buffers the result and writes a batch once the buffer is full.
func (s *BatchSink) Emit(ctx context.Context, result *spectrum.InterferenceResult) error {
	if err := s.buffer.Insert(result); err != nil {
		return err
	}
	if !s.buffer.IsFull() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.write(ctx, s.buffer.Flush())
}

// Flush writes every buffered result.
func (s *BatchSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.write(ctx, s.buffer.DrainAll())
}

// write stores a batch. s.mu must be held.
func (s *BatchSink) write(ctx context.Context, batch []*spectrum.InterferenceResult) error {
	if len(batch) == 0 {
		return nil
	}

	if err := s.writer.StoreResults(ctx, s.runID, batch); err != nil {
		s.buffer.Requeue(batch)
		s.logger.Error("error writing results",
			slog.Int("batch", len(batch)),
			slog.Int64("committed", s.committed.Load()),
			slog.Any("error", err),
		)
		return fmt.Errorf("writing %d results: %w", len(batch), err)
	}

	var flagged int64
	for _, r := range batch {
		if r.Flagged() {
			flagged++
		}
	}
	s.committed.Add(int64(len(batch)))
	s.flagged.Add(flagged)

	s.logger.Debug("results written", slog.Int("batch", len(batch)), slog.Int64("committed", s.committed.Load()))
	return nil
}

// Committed returns the number of results durably written.
func (s *BatchSink) Committed() int64 {
	return s.committed.Load()
}

// Flagged returns the number of written results with a negative margin.
func (s *BatchSink) Flagged() int64 {
	return s.flagged.Load()
}

// Pending returns the number of buffered results not yet written.
func (s *BatchSink) Pending() int {
	return s.buffer.Size()
}

var (
	_ coordination.Sink      = (*BatchSink)(nil)
	_ coordination.Committer = (*BatchSink)(nil)
	_ ResultWriter           = (*SqliteStore)(nil)
)
