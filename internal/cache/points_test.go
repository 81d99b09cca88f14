package cache

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eco-assistant/internal/models"
	"github.com/eco-assistant/internal/types"
)

// stubProvider counts calls and can block on a release channel
type stubProvider struct {
	calls   atomic.Int64
	release chan struct{}
	fail    func(call int64) error
}

func (p *stubProvider) FindPoints(ctx context.Context, key string) (models.PointSet, error) {
	n := p.calls.Add(1)
	if p.release != nil {
		select {
		case <-p.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.fail != nil {
		if err := p.fail(n); err != nil {
			return nil, err
		}
	}
	ps := models.NewPointSet()
	ps[types.CategoryRecycling] = []models.Point{{ID: n, Name: key}}
	return ps, nil
}

// blockingProvider blocks only for one key
type blockingProvider struct {
	blockKey string
	release  chan struct{}
}

func (p *blockingProvider) FindPoints(ctx context.Context, key string) (models.PointSet, error) {
	if key == p.blockKey {
		<-p.release
	}
	return models.NewPointSet(), nil
}

type memBacking struct {
	mu      sync.Mutex
	data    map[string]models.PointSet
	readErr error
	writes  int
}

func (b *memBacking) GetPoints(ctx context.Context, key string) (models.PointSet, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.readErr != nil {
		return nil, false, b.readErr
	}
	ps, ok := b.data[key]
	return ps, ok, nil
}

func (b *memBacking) SetPoints(ctx context.Context, key string, ps models.PointSet) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writes++
	b.data[key] = ps
	return nil
}

func TestGetOrCreatePoints_SingleLookupUnderConcurrency(t *testing.T) {
	provider := &stubProvider{release: make(chan struct{})}
	m := newTestManager(nil, provider)

	const callers = 50
	results := make([]models.PointSet, callers)
	errs := make([]error, callers)

	var started, done sync.WaitGroup
	started.Add(callers)
	done.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer done.Done()
			started.Done()
			results[i], errs[i] = m.GetOrCreatePoints(context.Background(), "55.8_37.6")
		}(i)
	}

	started.Wait()
	time.Sleep(20 * time.Millisecond)
	close(provider.release)
	done.Wait()

	assert.Equal(t, int64(1), provider.calls.Load())
	first := reflect.ValueOf(results[0]).Pointer()
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, first, reflect.ValueOf(results[i]).Pointer(), "caller %d got a different set", i)
	}

	stats := m.PointStats()
	assert.Equal(t, int64(1), stats.ProviderCalls)
	assert.Equal(t, 1, stats.Cached)
	assert.Equal(t, 0, stats.InFlight)
}

func TestGetOrCreatePoints_CachedForever(t *testing.T) {
	provider := &stubProvider{}
	m := newTestManager(nil, provider)

	for i := 0; i < 5; i++ {
		ps, err := m.GetOrCreatePoints(context.Background(), "1.0_2.0")
		require.NoError(t, err)
		assert.Len(t, ps[types.CategoryRecycling], 1)
	}
	assert.Equal(t, int64(1), provider.calls.Load())
	assert.Equal(t, int64(4), m.PointStats().Hits)
}

func TestGetOrCreatePoints_DistinctKeysDoNotBlock(t *testing.T) {
	provider := &blockingProvider{blockKey: "slow", release: make(chan struct{})}
	m := newTestManager(nil, provider)
	defer close(provider.release)

	go func() {
		_, _ = m.GetOrCreatePoints(context.Background(), "slow")
	}()

	require.Eventually(t, func() bool {
		return m.PointStats().InFlight == 1
	}, time.Second, 5*time.Millisecond)

	fast := make(chan error, 1)
	go func() {
		_, err := m.GetOrCreatePoints(context.Background(), "fast")
		fast <- err
	}()

	select {
	case err := <-fast:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("lookup for a distinct key blocked behind a slow one")
	}
}

func TestGetOrCreatePoints_FailureNotCached(t *testing.T) {
	provider := &stubProvider{fail: func(call int64) error {
		if call == 1 {
			return errors.New("overpass timeout")
		}
		return nil
	}}
	m := newTestManager(nil, provider)

	_, err := m.GetOrCreatePoints(context.Background(), "k")
	require.Error(t, err)
	assert.Equal(t, 0, m.PointStats().Cached)

	ps, err := m.GetOrCreatePoints(context.Background(), "k")
	require.NoError(t, err)
	assert.NotNil(t, ps)
	assert.Equal(t, int64(2), provider.calls.Load())
}

func TestGetOrCreatePoints_FailureSharedByWaiters(t *testing.T) {
	provider := &stubProvider{
		release: make(chan struct{}),
		fail:    func(int64) error { return errors.New("boom") },
	}
	m := newTestManager(nil, provider)

	const callers = 10
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		go func() {
			_, err := m.GetOrCreatePoints(context.Background(), "k")
			errs <- err
		}()
	}

	require.Eventually(t, func() bool {
		return provider.calls.Load() == 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(provider.release)

	for i := 0; i < callers; i++ {
		assert.Error(t, <-errs)
	}
	assert.Equal(t, 0, m.PointStats().InFlight)
}

func TestGetOrCreatePoints_WaiterHonoursContext(t *testing.T) {
	provider := &stubProvider{release: make(chan struct{})}
	m := newTestManager(nil, provider)
	defer close(provider.release)

	go func() {
		_, _ = m.GetOrCreatePoints(context.Background(), "k")
	}()
	require.Eventually(t, func() bool {
		return provider.calls.Load() == 1
	}, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.GetOrCreatePoints(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGetOrCreatePoints_BackingStore(t *testing.T) {
	stored := models.NewPointSet()
	stored[types.CategoryEvent] = []models.Point{{ID: 9, Name: "Park"}}
	backing := &memBacking{data: map[string]models.PointSet{"warm": stored}}
	provider := &stubProvider{}

	m := NewManager(&ManagerConfig{Provider: provider, Backing: backing})

	ps, err := m.GetOrCreatePoints(context.Background(), "warm")
	require.NoError(t, err)
	assert.Equal(t, "Park", ps[types.CategoryEvent][0].Name)
	assert.Equal(t, int64(0), provider.calls.Load())

	_, err = m.GetOrCreatePoints(context.Background(), "cold")
	require.NoError(t, err)
	assert.Equal(t, int64(1), provider.calls.Load())
	assert.Equal(t, 1, backing.writes)
}

func TestGetOrCreatePoints_BackingReadErrorFallsThrough(t *testing.T) {
	backing := &memBacking{data: map[string]models.PointSet{}, readErr: errors.New("redis down")}
	provider := &stubProvider{}
	m := NewManager(&ManagerConfig{Provider: provider, Backing: backing})

	_, err := m.GetOrCreatePoints(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, int64(1), provider.calls.Load())
}

func TestGetOrCreatePoints_NoProvider(t *testing.T) {
	m := newTestManager(nil, nil)
	_, err := m.GetOrCreatePoints(context.Background(), "k")
	assert.Error(t, err)
}

func TestGetOrCreatePoints_FirstCallerLeavingDoesNotFailOthers(t *testing.T) {
	provider := &stubProvider{release: make(chan struct{})}
	m := newTestManager(nil, provider)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := m.GetOrCreatePoints(firstCtx, "k")
		first <- err
	}()
	require.Eventually(t, func() bool {
		return provider.calls.Load() == 1
	}, time.Second, 5*time.Millisecond)

	type outcome struct {
		ps  models.PointSet
		err error
	}
	second := make(chan outcome, 1)
	go func() {
		ps, err := m.GetOrCreatePoints(context.Background(), "k")
		second <- outcome{ps, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	assert.ErrorIs(t, <-first, context.Canceled)

	close(provider.release)
	got := <-second
	require.NoError(t, got.err)
	assert.Len(t, got.ps[types.CategoryRecycling], 1)
	assert.Equal(t, int64(1), provider.calls.Load())
	assert.Equal(t, 1, m.PointStats().Cached)
}

func TestGetOrCreatePoints_LookupTimeout(t *testing.T) {
	provider := &stubProvider{release: make(chan struct{})}
	defer close(provider.release)
	m := NewManager(&ManagerConfig{Provider: provider, LookupTimeout: 20 * time.Millisecond})

	_, err := m.GetOrCreatePoints(context.Background(), "k")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, m.PointStats().Cached)
	assert.Equal(t, 0, m.PointStats().InFlight)
}
