package output

import (
	"context"

	"github.com/inealey/cinema-transfer/metrics"
	"github.com/inealey/cinema-transfer/types"
)

// InstrumentedSink wraps a Sink and records every write as a storage
// success or failure on the metrics collector. A PutIfAbsent that finds the
// name already present counts as a success.
type InstrumentedSink struct {
	inner     Sink
	collector *metrics.Collector
}

// NewInstrumentedSink wraps a sink with metrics instrumentation.
func NewInstrumentedSink(inner Sink, collector *metrics.Collector) *InstrumentedSink {
	return &InstrumentedSink{inner: inner, collector: collector}
}

// CommitBatch delegates to the inner sink and records success or failure.
func (s *InstrumentedSink) CommitBatch(ctx context.Context, b types.Batch) error {
	err := s.inner.CommitBatch(ctx, b)
	s.record(err)
	return err
}

// PutIfAbsent delegates to the inner sink and records success or failure.
func (s *InstrumentedSink) PutIfAbsent(ctx context.Context, name string, data []byte) (bool, error) {
	written, err := s.inner.PutIfAbsent(ctx, name, data)
	s.record(err)
	return written, err
}

// Location delegates to the inner sink.
func (s *InstrumentedSink) Location() string {
	return s.inner.Location()
}

func (s *InstrumentedSink) record(err error) {
	if err != nil {
		s.collector.IncStorageWriteFailure()
	} else {
		s.collector.IncStorageWriteSuccess()
	}
}

// Verify InstrumentedSink implements Sink.
var _ Sink = (*InstrumentedSink)(nil)
