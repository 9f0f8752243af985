// Package metrics accumulates collector counters and exposes them in the
// Prometheus text format.
//
// The Collector is a leaf package with no internal dependencies. Session
// failure reasons are plain strings so this package stays independent of
// the session package.
package metrics

import (
	"maps"
	"sync"
)

// Snapshot is an immutable point-in-time view of all counters.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Connections
	ConnectionsAccepted int64
	ConnectionsActive   int64

	// Sessions
	SessionsCompleted int64
	SessionsFailed    int64
	FailedByReason    map[string]int64

	// Output
	FilesWritten        int64
	BytesReceived       int64
	StorageWriteSuccess int64
	StorageWriteFailure int64

	// Notifications
	AdapterPublishSuccess int64
	AdapterPublishFailure int64

	// Dimensions (informational, set at construction)
	StorageBackend string
	Adapter        string
}

// Collector accumulates metrics for one collector process.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	connectionsAccepted int64
	connectionsActive   int64

	sessionsCompleted int64
	sessionsFailed    int64
	failedByReason    map[string]int64

	filesWritten        int64
	bytesReceived       int64
	storageWriteSuccess int64
	storageWriteFailure int64

	adapterPublishSuccess int64
	adapterPublishFailure int64

	storageBackend string
	adapter        string
}

// NewCollector creates a Collector with dimension labels. adapter may be
// empty when no notification adapter is configured.
func NewCollector(storageBackend, adapter string) *Collector {
	return &Collector{
		failedByReason: make(map[string]int64),
		storageBackend: storageBackend,
		adapter:        adapter,
	}
}

// --- Connections ---

// IncConnectionAccepted records an accepted connection.
func (c *Collector) IncConnectionAccepted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.connectionsAccepted++
	c.connectionsActive++
	c.mu.Unlock()
}

// DecConnectionActive records a closed connection.
func (c *Collector) DecConnectionActive() {
	if c == nil {
		return
	}
	c.mu.Lock()
	if c.connectionsActive > 0 {
		c.connectionsActive--
	}
	c.mu.Unlock()
}

// --- Sessions ---

// RecordBatch records a committed batch of files totalling bytes.
func (c *Collector) RecordBatch(files int, bytes int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.filesWritten += int64(files)
	c.bytesReceived += bytes
	c.mu.Unlock()
}

// IncSessionCompleted records a session that reached DONE.
func (c *Collector) IncSessionCompleted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.sessionsCompleted++
	c.mu.Unlock()
}

// IncSessionFailed records a failed session with its failure reason
// (protocol, size_mismatch, connection, filesystem).
func (c *Collector) IncSessionFailed(reason string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.sessionsFailed++
	c.failedByReason[reason]++
	c.mu.Unlock()
}

// --- Output ---

// IncStorageWriteSuccess records a successful write to the output location
// (a batch commit or a manifest write).
func (c *Collector) IncStorageWriteSuccess() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.storageWriteSuccess++
	c.mu.Unlock()
}

// IncStorageWriteFailure records a failed write to the output location.
func (c *Collector) IncStorageWriteFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.storageWriteFailure++
	c.mu.Unlock()
}

// --- Notifications ---

// IncAdapterPublishSuccess records a delivered notification.
func (c *Collector) IncAdapterPublishSuccess() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.adapterPublishSuccess++
	c.mu.Unlock()
}

// IncAdapterPublishFailure records a notification that could not be delivered.
func (c *Collector) IncAdapterPublishFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.adapterPublishFailure++
	c.mu.Unlock()
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		ConnectionsAccepted: c.connectionsAccepted,
		ConnectionsActive:   c.connectionsActive,

		SessionsCompleted: c.sessionsCompleted,
		SessionsFailed:    c.sessionsFailed,
		FailedByReason:    maps.Clone(c.failedByReason),

		FilesWritten:        c.filesWritten,
		BytesReceived:       c.bytesReceived,
		StorageWriteSuccess: c.storageWriteSuccess,
		StorageWriteFailure: c.storageWriteFailure,

		AdapterPublishSuccess: c.adapterPublishSuccess,
		AdapterPublishFailure: c.adapterPublishFailure,

		StorageBackend: c.storageBackend,
		Adapter:        c.adapter,
	}
}
