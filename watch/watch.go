// Package watch triggers producer runs as a renderer fills its extract
// directory: once the expected number of files for the next timestep is
// present, that timestep is sent.
package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/inealey/cinema-transfer/log"
	"github.com/inealey/cinema-transfer/producer"
)

const (
	// DefaultInterval is the fallback rescan period when no file events
	// arrive (for example on network filesystems).
	DefaultInterval = 2 * time.Second
	// DefaultSettle is the pause between detecting a complete timestep and
	// sending it, letting the last writes land.
	DefaultSettle = 500 * time.Millisecond
)

// Config configures a watcher.
type Config struct {
	// Producer configures each run. FilterByTimestep is forced on.
	Producer producer.Config
	// Count is the number of files that make up one timestep (required).
	Count int
	// Interval is the rescan period (default 2s).
	Interval time.Duration
	// Settle is the delay before sending a complete timestep. Zero sends
	// at once; the watch command passes DefaultSettle unless told otherwise.
	Settle time.Duration
	// MaxRuns stops the watcher after that many successful runs; 0 means
	// run until ctx is cancelled.
	MaxRuns int
	// Logger defaults to a no-op logger.
	Logger *log.Logger
}

// withDefaults fills unset fields. Settle is only clamped at zero, so an
// explicit zero keeps meaning "no delay".
func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	c.Settle = max(c.Settle, 0)
	if c.Logger == nil {
		c.Logger = log.NewNop()
	}
	c.Producer.FilterByTimestep = true
	if c.Producer.Logger == nil {
		c.Producer.Logger = c.Logger
	}
	return c
}

// Ready reports whether at least count regular files in input contain
// token in their name.
func Ready(input, token string, count int) (bool, error) {
	entries, err := os.ReadDir(input)
	if err != nil {
		return false, err
	}
	n := 0
	for _, e := range entries {
		if e.Type().IsRegular() && !strings.HasPrefix(e.Name(), ".") && strings.Contains(e.Name(), token) {
			n++
		}
	}
	return n >= count, nil
}

// Run watches cfg.Producer.Input and performs a producer run for every
// timestep that becomes complete. A failed run is logged and retried on the
// next rescan. Run returns the delivered results once ctx is cancelled or
// MaxRuns is reached.
func Run(ctx context.Context, cfg Config) ([]producer.Result, error) {
	if cfg.Count <= 0 {
		return nil, fmt.Errorf("count must be positive, got %d", cfg.Count)
	}
	if cfg.Producer.Ledger == nil {
		return nil, errors.New("watch requires a ledger")
	}
	cfg = cfg.withDefaults()
	logger := cfg.Logger

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()
	if err := watcher.Add(cfg.Producer.Input); err != nil {
		return nil, fmt.Errorf("watch %s: %w", cfg.Producer.Input, err)
	}

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	logger.Info("watching for timesteps", map[string]any{
		"input":   cfg.Producer.Input,
		"dataset": cfg.Producer.Dataset,
		"count":   cfg.Count,
	})

	var results []producer.Result
	rescan := true
	for {
		// Send every timestep that is already complete before waiting.
		for rescan {
			res, sent, err := tryNext(ctx, cfg, logger)
			if err != nil {
				logger.Warn("producer run failed", map[string]any{"error": err.Error()})
				break
			}
			if !sent {
				break
			}
			results = append(results, res)
			if cfg.MaxRuns > 0 && len(results) >= cfg.MaxRuns {
				return results, nil
			}
		}

		rescan = true
		select {
		case <-ctx.Done():
			return results, nil
		case event, ok := <-watcher.Events:
			if !ok {
				return results, nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
				rescan = false
				continue
			}
			logger.Debug("input changed", map[string]any{"file": event.Name, "op": event.Op.String()})
		case err, ok := <-watcher.Errors:
			if !ok {
				return results, nil
			}
			logger.Warn("watcher error", map[string]any{"error": err.Error()})
		case <-ticker.C:
		}
	}
}

// tryNext sends the next timestep if it is complete.
func tryNext(ctx context.Context, cfg Config, logger *log.Logger) (producer.Result, bool, error) {
	next, err := cfg.Producer.Ledger.Resume(cfg.Producer.Dataset)
	if err != nil {
		return producer.Result{}, false, err
	}
	token := producer.TimestepToken(next)
	ready, err := Ready(cfg.Producer.Input, token, cfg.Count)
	if err != nil || !ready {
		return producer.Result{}, false, err
	}

	logger.Debug("timestep complete", map[string]any{"timestep": next})
	select {
	case <-ctx.Done():
		return producer.Result{}, false, nil
	case <-time.After(cfg.Settle):
	}

	start := time.Now()
	res, err := producer.Run(ctx, cfg.Producer)
	if err != nil {
		return producer.Result{}, false, err
	}
	logger.Info("timestep sent", map[string]any{
		"timestep": res.Timestep,
		"files":    res.Files,
		"elapsed":  time.Since(start).String(),
	})
	return res, true, nil
}
