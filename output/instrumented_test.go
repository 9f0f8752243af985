package output

import (
	"errors"
	"testing"

	"github.com/inealey/cinema-transfer/metrics"
	"github.com/inealey/cinema-transfer/types"
)

func TestInstrumentedSink_CommitBatchSuccess(t *testing.T) {
	inner := NewStubSink()
	collector := metrics.NewCollector(BackendFS, "")
	sink := NewInstrumentedSink(inner, collector)

	b, err := types.NewBatch([]string{"a.png"}, [][]byte{[]byte("frame")})
	if err != nil {
		t.Fatal(err)
	}
	if err := sink.CommitBatch(t.Context(), b); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap := collector.Snapshot()
	if snap.StorageWriteSuccess != 1 || snap.StorageWriteFailure != 0 {
		t.Errorf("storage writes = %d/%d, want 1/0", snap.StorageWriteSuccess, snap.StorageWriteFailure)
	}
	if inner.BatchCount() != 1 {
		t.Errorf("inner.BatchCount() = %d, want 1", inner.BatchCount())
	}
}

func TestInstrumentedSink_CommitBatchFailure(t *testing.T) {
	commitErr := errors.New("disk full")
	inner := NewStubSink()
	inner.CommitErr = commitErr
	collector := metrics.NewCollector(BackendFS, "")
	sink := NewInstrumentedSink(inner, collector)

	b, err := types.NewBatch([]string{"a.png"}, [][]byte{[]byte("frame")})
	if err != nil {
		t.Fatal(err)
	}
	if err := sink.CommitBatch(t.Context(), b); !errors.Is(err, commitErr) {
		t.Fatalf("expected commitErr, got %v", err)
	}

	snap := collector.Snapshot()
	if snap.StorageWriteSuccess != 0 || snap.StorageWriteFailure != 1 {
		t.Errorf("storage writes = %d/%d, want 0/1", snap.StorageWriteSuccess, snap.StorageWriteFailure)
	}
}

func TestInstrumentedSink_PutIfAbsent(t *testing.T) {
	inner := NewStubSink()
	collector := metrics.NewCollector(BackendFS, "")
	sink := NewInstrumentedSink(inner, collector)

	written, err := sink.PutIfAbsent(t.Context(), "data.csv", []byte("time\n"))
	if err != nil || !written {
		t.Fatalf("first put = %v, %v", written, err)
	}
	written, err = sink.PutIfAbsent(t.Context(), "data.csv", []byte("other\n"))
	if err != nil || written {
		t.Fatalf("second put = %v, %v", written, err)
	}

	if got := collector.Snapshot().StorageWriteSuccess; got != 2 {
		t.Errorf("StorageWriteSuccess = %d, want 2", got)
	}
	if sink.Location() != inner.Location() {
		t.Errorf("Location = %q, want %q", sink.Location(), inner.Location())
	}
}

func TestInstrumentedSink_NilCollector(t *testing.T) {
	sink := NewInstrumentedSink(NewStubSink(), nil)
	if _, err := sink.PutIfAbsent(t.Context(), "x", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
