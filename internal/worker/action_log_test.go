package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eco-assistant/internal/logging"
	"github.com/eco-assistant/internal/models"
	"github.com/eco-assistant/internal/types"
)

type memWriter struct {
	mu      sync.Mutex
	batches [][]models.ActionRecord
	err     error
}

func (w *memWriter) InsertActions(_ context.Context, records []models.ActionRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.batches = append(w.batches, append([]models.ActionRecord(nil), records...))
	return nil
}

func (w *memWriter) total() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, b := range w.batches {
		n += len(b)
	}
	return n
}

func (w *memWriter) batchCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.batches)
}

func record(userID int64) models.ActionRecord {
	return models.ActionRecord{UserID: userID, Action: types.ActionTip, Points: 1, ScoreNew: 1, CreatedAt: time.Now()}
}

func newTestActionLog(t *testing.T, w ActionWriter, cfg ActionLogConfig) *ActionLog {
	t.Helper()
	cfg.Writer = w
	cfg.Logger = logging.NewNop()
	al, err := NewActionLog(&cfg)
	require.NoError(t, err)
	return al
}

func TestNewActionLog_RequiresWriter(t *testing.T) {
	_, err := NewActionLog(&ActionLogConfig{})
	assert.Error(t, err)
}

func TestActionLog_FlushesFullBatches(t *testing.T) {
	w := &memWriter{}
	al := newTestActionLog(t, w, ActionLogConfig{BatchSize: 3, FlushInterval: time.Hour})
	al.Start(context.Background())
	defer func() { _ = al.Stop(context.Background()) }()

	for i := int64(1); i <= 6; i++ {
		al.Record(record(i))
	}

	assert.Eventually(t, func() bool { return w.total() == 6 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, w.batchCount())
}

func TestActionLog_FlushesOnInterval(t *testing.T) {
	w := &memWriter{}
	al := newTestActionLog(t, w, ActionLogConfig{BatchSize: 100, FlushInterval: 20 * time.Millisecond})
	al.Start(context.Background())
	defer func() { _ = al.Stop(context.Background()) }()

	al.Record(record(1))
	assert.Eventually(t, func() bool { return w.total() == 1 }, time.Second, 5*time.Millisecond)
}

func TestActionLog_StopFlushesPending(t *testing.T) {
	w := &memWriter{}
	al := newTestActionLog(t, w, ActionLogConfig{BatchSize: 100, FlushInterval: time.Hour})
	al.Start(context.Background())

	for i := int64(1); i <= 10; i++ {
		al.Record(record(i))
	}
	require.NoError(t, al.Stop(context.Background()))

	assert.Equal(t, 10, w.total())
	stats := al.Stats()
	assert.False(t, stats.Running)
	assert.Equal(t, int64(10), stats.Written)
	assert.Equal(t, 0, stats.Pending)
}

func TestActionLog_DropsWhenFull(t *testing.T) {
	al := newTestActionLog(t, &memWriter{}, ActionLogConfig{BufferSize: 2})

	for i := int64(1); i <= 5; i++ {
		al.Record(record(i))
	}

	stats := al.Stats()
	assert.Equal(t, 2, stats.Pending)
	assert.Equal(t, int64(3), stats.Dropped)
}

func TestActionLog_FailedBatchIsCounted(t *testing.T) {
	w := &memWriter{err: errors.New("clickhouse down")}
	al := newTestActionLog(t, w, ActionLogConfig{BatchSize: 2, FlushInterval: time.Hour})
	al.Start(context.Background())

	al.Record(record(1))
	al.Record(record(2))
	assert.Eventually(t, func() bool { return al.Stats().Failed == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, al.Stop(context.Background()))
	assert.Equal(t, int64(0), al.Stats().Written)
}

func TestActionLog_StartStopIdempotent(t *testing.T) {
	al := newTestActionLog(t, &memWriter{}, ActionLogConfig{})

	assert.NoError(t, al.Stop(context.Background()))
	al.Start(context.Background())
	al.Start(context.Background())
	assert.True(t, al.Stats().Running)
	assert.NoError(t, al.Stop(context.Background()))
	assert.NoError(t, al.Stop(context.Background()))
	assert.False(t, al.Stats().Running)
}
