package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/eco-assistant/internal/logging"
)

// Snapshotter writes the in-memory state to durable storage
type Snapshotter interface {
	SaveAll(ctx context.Context) bool
}

// SnapshotWorkerConfig holds configuration for a snapshot worker
type SnapshotWorkerConfig struct {
	Cache    Snapshotter
	Interval time.Duration
	Logger   *logging.Logger
}

// SnapshotWorker periodically persists the cache so a crash loses at most
// one interval of progress
type SnapshotWorker struct {
	cache    Snapshotter
	interval time.Duration
	logger   *logging.Logger

	mu           sync.RWMutex
	running      bool
	stopCh       chan struct{}
	doneCh       chan struct{}
	lastSnapshot time.Time
	lastOK       bool
	snapshots    int64
	failures     int64
}

// SnapshotStats reports snapshot worker activity
type SnapshotStats struct {
	Running      bool      `json:"running"`
	Interval     string    `json:"interval"`
	Snapshots    int64     `json:"snapshots"`
	Failures     int64     `json:"failures"`
	LastSnapshot time.Time `json:"lastSnapshot"`
	LastOK       bool      `json:"lastOk"`
}

// NewSnapshotWorker creates a new snapshot worker
func NewSnapshotWorker(cfg *SnapshotWorkerConfig) (*SnapshotWorker, error) {
	if cfg.Cache == nil {
		return nil, fmt.Errorf("cache cannot be nil")
	}

	interval := cfg.Interval
	if interval == 0 {
		interval = 5 * time.Minute
	}
	if interval < time.Second {
		return nil, fmt.Errorf("snapshot interval must be at least 1s, got %v", interval)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &SnapshotWorker{
		cache:    cfg.Cache,
		interval: interval,
		logger:   logger.WithField("component", "snapshot"),
	}, nil
}

// Start begins the snapshot loop
func (w *SnapshotWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("snapshot worker is already running")
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})

	w.logger.Infof("Starting snapshot worker with interval %v", w.interval)
	go w.pollLoop(ctx, w.stopCh, w.doneCh)
	return nil
}

// Stop gracefully stops the snapshot worker. It does not take a final
// snapshot; the caller saves on shutdown.
func (w *SnapshotWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return fmt.Errorf("snapshot worker is not running")
	}
	stopCh, doneCh := w.stopCh, w.doneCh
	w.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		w.logger.Info("Snapshot worker stopped gracefully")
	case <-ctx.Done():
		w.logger.Warn("Snapshot worker stop timed out")
		return ctx.Err()
	}

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
	return nil
}

// IsRunning reports whether the loop is active
func (w *SnapshotWorker) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

// Stats returns snapshot counters
func (w *SnapshotWorker) Stats() SnapshotStats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return SnapshotStats{
		Running:      w.running,
		Interval:     w.interval.String(),
		Snapshots:    w.snapshots,
		Failures:     w.failures,
		LastSnapshot: w.lastSnapshot,
		LastOK:       w.lastOK,
	}
}

// SnapshotNow saves the cache once and records the outcome
func (w *SnapshotWorker) SnapshotNow(ctx context.Context) bool {
	start := time.Now()
	ok := w.cache.SaveAll(ctx)

	w.mu.Lock()
	w.lastSnapshot = start
	w.lastOK = ok
	w.snapshots++
	if !ok {
		w.failures++
	}
	w.mu.Unlock()

	if !ok {
		w.logger.Warn("Snapshot completed with errors")
	} else {
		w.logger.Debugf("Snapshot completed in %v", time.Since(start))
	}
	return ok
}

func (w *SnapshotWorker) pollLoop(ctx context.Context, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			w.SnapshotNow(ctx)
		}
	}
}
