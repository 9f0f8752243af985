package output

import (
	"context"
	"sync"

	"github.com/inealey/cinema-transfer/types"
)

// StubSink records writes in memory for testing.
type StubSink struct {
	mu      sync.Mutex
	Batches []types.Batch
	Objects map[string][]byte
	// CommitErr, when set, is returned by CommitBatch.
	CommitErr error
}

// Verify StubSink implements Sink.
var _ Sink = (*StubSink)(nil)

// NewStubSink creates an empty stub sink.
func NewStubSink() *StubSink {
	return &StubSink{Objects: make(map[string][]byte)}
}

// CommitBatch implements Sink by recording the batch.
func (s *StubSink) CommitBatch(_ context.Context, b types.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CommitErr != nil {
		return s.CommitErr
	}
	s.Batches = append(s.Batches, b)
	for _, f := range b.Files {
		s.Objects[f.Name] = f.Data
	}
	return nil
}

// PutIfAbsent implements Sink.
func (s *StubSink) PutIfAbsent(_ context.Context, name string, data []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.Objects[name]; ok {
		return false, nil
	}
	s.Objects[name] = data
	return true, nil
}

// Location implements Sink.
func (s *StubSink) Location() string { return "stub://" }

// BatchCount returns the number of committed batches.
func (s *StubSink) BatchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Batches)
}
