package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eco-assistant/internal/logging"
	"github.com/eco-assistant/internal/models"
)

// ActionWriter persists a batch of action records
type ActionWriter interface {
	InsertActions(ctx context.Context, records []models.ActionRecord) error
}

// ActionLogConfig holds configuration for the action log
type ActionLogConfig struct {
	Writer        ActionWriter
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
	FlushTimeout  time.Duration
	Logger        *logging.Logger
}

// ActionLogStats reports action log activity
type ActionLogStats struct {
	Running bool  `json:"running"`
	Written int64 `json:"written"`
	Dropped int64 `json:"dropped"`
	Failed  int64 `json:"failed"`
	Pending int   `json:"pending"`
}

// ActionLog buffers credited actions and writes them in batches. Record
// never blocks; records that do not fit the buffer are dropped.
type ActionLog struct {
	writer        ActionWriter
	batchSize     int
	flushInterval time.Duration
	flushTimeout  time.Duration
	logger        *logging.Logger

	queue chan models.ActionRecord

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	doneCh  chan struct{}

	written atomic.Int64
	dropped atomic.Int64
	failed  atomic.Int64
}

// NewActionLog creates a new action log
func NewActionLog(cfg *ActionLogConfig) (*ActionLog, error) {
	if cfg.Writer == nil {
		return nil, fmt.Errorf("writer cannot be nil")
	}

	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	flushTimeout := cfg.FlushTimeout
	if flushTimeout <= 0 {
		flushTimeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &ActionLog{
		writer:        cfg.Writer,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		flushTimeout:  flushTimeout,
		logger:        logger.WithField("component", "action_log"),
		queue:         make(chan models.ActionRecord, bufferSize),
	}, nil
}

// Record queues rec for the next batch
func (a *ActionLog) Record(rec models.ActionRecord) {
	select {
	case a.queue <- rec:
	default:
		a.dropped.Add(1)
	}
}

// Start launches the flush loop. Calling Start on a running log does nothing.
func (a *ActionLog) Start(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.doneCh = make(chan struct{})
	a.running = true

	go a.loop(loopCtx, a.doneCh)
	a.logger.Info("Action log started")
}

// Stop cancels the loop, waits for the final flush and returns. Calling
// Stop on a stopped log does nothing.
func (a *ActionLog) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	cancel, done := a.cancel, a.doneCh
	a.mu.Unlock()

	cancel()

	select {
	case <-done:
	case <-ctx.Done():
		a.logger.Warn("Action log stop timed out")
		return ctx.Err()
	}

	a.mu.Lock()
	a.running = false
	a.cancel = nil
	a.mu.Unlock()

	a.logger.Info("Action log stopped")
	return nil
}

// Stats returns action log counters
func (a *ActionLog) Stats() ActionLogStats {
	a.mu.Lock()
	running := a.running
	a.mu.Unlock()

	return ActionLogStats{
		Running: running,
		Written: a.written.Load(),
		Dropped: a.dropped.Load(),
		Failed:  a.failed.Load(),
		Pending: len(a.queue),
	}
}

func (a *ActionLog) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(a.flushInterval)
	defer ticker.Stop()

	batch := make([]models.ActionRecord, 0, a.batchSize)
	for {
		select {
		case <-ctx.Done():
			batch = a.drain(batch)
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.flushTimeout)
			a.flush(flushCtx, batch)
			cancel()
			return
		case rec := <-a.queue:
			batch = append(batch, rec)
			if len(batch) >= a.batchSize {
				a.flush(ctx, batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			a.flush(ctx, batch)
			batch = batch[:0]
		}
	}
}

// drain moves everything currently queued into batch
func (a *ActionLog) drain(batch []models.ActionRecord) []models.ActionRecord {
	for {
		select {
		case rec := <-a.queue:
			batch = append(batch, rec)
		default:
			return batch
		}
	}
}

// flush writes batch; a failed batch is counted and discarded
func (a *ActionLog) flush(ctx context.Context, batch []models.ActionRecord) {
	if len(batch) == 0 {
		return
	}

	if err := a.writer.InsertActions(ctx, batch); err != nil {
		a.failed.Add(int64(len(batch)))
		a.logger.WithError(err).WithField("records", len(batch)).Error("Failed to write action batch")
		return
	}
	a.written.Add(int64(len(batch)))
	a.logger.Debugf("Wrote %d actions", len(batch))
}
