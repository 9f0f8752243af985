package output

import (
	"context"

	"github.com/inealey/cinema-transfer/types"
)

// Sink is the collector's output location.
type Sink interface {
	// CommitBatch writes every file of b under its own name. On error no
	// name that did not exist before the call is left behind; a name the
	// batch overwrites may already hold its new content.
	CommitBatch(ctx context.Context, b types.Batch) error

	// PutIfAbsent writes name only if nothing exists there yet and reports
	// whether it wrote.
	PutIfAbsent(ctx context.Context, name string, data []byte) (bool, error)

	// Location describes the sink for logs and notifications.
	Location() string
}

// Backend names accepted by the collect command.
const (
	BackendFS = "fs"
	BackendS3 = "s3"
)
