// Package producer implements one producer run: gather a batch from a local
// directory, pick the next timestep from the ledger, deliver the batch over
// one session, and record it.
package producer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/inealey/cinema-transfer/iox"
	"github.com/inealey/cinema-transfer/ledger"
	"github.com/inealey/cinema-transfer/log"
	"github.com/inealey/cinema-transfer/session"
	"github.com/inealey/cinema-transfer/types"
	"github.com/inealey/cinema-transfer/wire"
)

// ErrNothingToSend is returned when the input holds no eligible files.
var ErrNothingToSend = errors.New("nothing to send")

// Config configures a producer run.
type Config struct {
	// Addr is the collector's host:port.
	Addr string
	// Input is the directory holding the batch files.
	Input string
	// Dataset names the stream of timesteps in the ledger.
	Dataset string
	// Ledger records delivered timesteps (required).
	Ledger *ledger.Ledger
	// FilterByTimestep restricts the batch to files whose name contains
	// the zero-padded resume timestep.
	FilterByTimestep bool
	// Timeout bounds the dial and every handshake step.
	// Zero selects session.DefaultTimeout.
	Timeout time.Duration
	// Logger defaults to a no-op logger.
	Logger *log.Logger
	// OnAck observes every acknowledgment.
	OnAck func(ack wire.ControlMessage)
}

// Result describes a delivered batch.
type Result struct {
	Dataset  string        `json:"dataset" yaml:"dataset"`
	Timestep uint64        `json:"timestep" yaml:"timestep"`
	Files    int           `json:"files" yaml:"files"`
	Bytes    int64         `json:"bytes" yaml:"bytes" render:"bytes"`
	Duration time.Duration `json:"duration" yaml:"duration"`
}

// TimestepToken is the zero-padded timestep embedded in frame file names.
func TimestepToken(timestep uint64) string {
	return fmt.Sprintf("%06d", timestep)
}

// Run performs one producer run. Any error aborts the run before the ledger
// is touched.
func Run(ctx context.Context, cfg Config) (Result, error) {
	if cfg.Ledger == nil {
		return Result{}, errors.New("producer requires a ledger")
	}
	if cfg.Addr == "" {
		return Result{}, errors.New("producer requires a collector address")
	}
	if err := ledger.ValidateDataset(cfg.Dataset); err != nil {
		return Result{}, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = session.DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	start := time.Now()

	timestep, err := cfg.Ledger.Resume(cfg.Dataset)
	if err != nil {
		return Result{}, fmt.Errorf("read ledger: %w", err)
	}

	var filter string
	if cfg.FilterByTimestep {
		filter = TimestepToken(timestep)
	}
	batch, err := Gather(cfg.Input, filter)
	if err != nil {
		return Result{}, err
	}

	logger = logger.With(map[string]any{"dataset": cfg.Dataset, "timestep": timestep})
	logger.Info("sending batch", map[string]any{
		"files": batch.Len(),
		"bytes": batch.Size(),
		"addr":  cfg.Addr,
	})

	dialer := net.Dialer{Timeout: cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", cfg.Addr)
	if err != nil {
		return Result{}, fmt.Errorf("%w: dial %s: %w", session.ErrConnection, cfg.Addr, err)
	}
	defer iox.DiscardClose(conn)

	opts := session.SendOptions{
		Timeout: cfg.Timeout,
		OnAck: func(ack wire.ControlMessage) {
			logger.Debug("acknowledged", map[string]any{"ack": ack.String()})
			if cfg.OnAck != nil {
				cfg.OnAck(ack)
			}
		},
	}
	if err := session.Send(ctx, conn, batch, opts); err != nil {
		return Result{}, err
	}

	rec := ledger.Record{Dataset: cfg.Dataset, Timestep: timestep}
	if err := cfg.Ledger.Append(ctx, rec); err != nil {
		return Result{}, fmt.Errorf("%w: record %s: %w", session.ErrFilesystem, rec, err)
	}

	res := Result{
		Dataset:  cfg.Dataset,
		Timestep: timestep,
		Files:    batch.Len(),
		Bytes:    batch.Size(),
		Duration: time.Since(start),
	}
	logger.Info("batch delivered", map[string]any{"duration_ms": res.Duration.Milliseconds()})
	return res, nil
}

// Gather reads every regular, non-hidden file directly under input, in
// name order. When filter is non-empty only names containing it are kept.
func Gather(input, filter string) (types.Batch, error) {
	entries, err := os.ReadDir(input)
	if err != nil {
		return types.Batch{}, fmt.Errorf("%w: read input: %w", session.ErrFilesystem, err)
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || strings.HasPrefix(name, ".") {
			continue
		}
		if filter != "" && !strings.Contains(name, filter) {
			continue
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		if filter != "" {
			return types.Batch{}, fmt.Errorf("%w: no files matching %q in %s", ErrNothingToSend, filter, input)
		}
		return types.Batch{}, fmt.Errorf("%w: %s is empty", ErrNothingToSend, input)
	}
	slices.Sort(names)

	contents := make([][]byte, len(names))
	for i, name := range names {
		data, err := os.ReadFile(filepath.Join(input, name))
		if err != nil {
			return types.Batch{}, fmt.Errorf("%w: read %s: %w", session.ErrFilesystem, name, err)
		}
		contents[i] = data
	}
	return types.NewBatch(names, contents)
}
