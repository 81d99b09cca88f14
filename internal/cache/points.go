package cache

import (
	"context"

	apperrors "github.com/eco-assistant/internal/errors"
	"github.com/eco-assistant/internal/models"
)

// PointStats reports point cache statistics
type PointStats struct {
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	ProviderCalls int64   `json:"providerCalls"`
	HitRate       float64 `json:"hitRate"`
	Cached        int     `json:"cached"`
	InFlight      int     `json:"inFlight"`
}

// GetOrCreatePoints returns the point set for a location key, asking the
// provider at most once per key no matter how many callers arrive together.
// Successful results are cached for the process lifetime; failures are not.
// The returned set is shared between callers and must not be modified.
func (m *Manager) GetOrCreatePoints(ctx context.Context, locationKey string) (models.PointSet, error) {
	if ps, ok := m.cachedPoints(locationKey); ok {
		m.hits.Add(1)
		return ps, nil
	}
	m.misses.Add(1)

	call, leader := m.joinInflight(locationKey)
	if leader {
		// A previous leader may have finished between the cache check and
		// joinInflight.
		if ps, ok := m.cachedPoints(locationKey); ok {
			m.completeInflight(locationKey, call, ps, nil)
			return ps, nil
		}
		go m.runLookup(ctx, locationKey, call)
	}

	select {
	case <-call.done:
		return call.result, call.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// runLookup detaches from the caller that started it so waiters are not
// failed by that caller going away. lookupTimeout bounds it instead.
func (m *Manager) runLookup(ctx context.Context, key string, call *pointCall) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.lookupTimeout)
	defer cancel()

	ps, err := m.populatePoints(ctx, key)
	m.completeInflight(key, call, ps, err)
}

// PointStats returns point cache statistics
func (m *Manager) PointStats() *PointStats {
	hits := m.hits.Load()
	misses := m.misses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	m.pointsMu.RLock()
	cached := len(m.points)
	m.pointsMu.RUnlock()

	m.inflightMu.Lock()
	inflight := len(m.inflight)
	m.inflightMu.Unlock()

	return &PointStats{
		Hits:          hits,
		Misses:        misses,
		ProviderCalls: m.providerCalls.Load(),
		HitRate:       hitRate,
		Cached:        cached,
		InFlight:      inflight,
	}
}

func (m *Manager) cachedPoints(key string) (models.PointSet, bool) {
	m.pointsMu.RLock()
	defer m.pointsMu.RUnlock()
	ps, ok := m.points[key]
	return ps, ok
}

func (m *Manager) storePoints(key string, ps models.PointSet) {
	m.pointsMu.Lock()
	m.points[key] = ps
	m.pointsMu.Unlock()
}

// joinInflight returns the call for key and whether the caller must run it
func (m *Manager) joinInflight(key string) (*pointCall, bool) {
	m.inflightMu.Lock()
	defer m.inflightMu.Unlock()

	if call, ok := m.inflight[key]; ok {
		return call, false
	}
	call := &pointCall{done: make(chan struct{})}
	m.inflight[key] = call
	return call, true
}

// completeInflight publishes the result to every waiter. Closing done
// releases all of them at once.
func (m *Manager) completeInflight(key string, call *pointCall, ps models.PointSet, err error) {
	call.result = ps
	call.err = err

	m.inflightMu.Lock()
	delete(m.inflight, key)
	m.inflightMu.Unlock()

	close(call.done)
}

// populatePoints consults the backing store, then the provider. Points are
// stored in memory before the in-flight entry is removed.
func (m *Manager) populatePoints(ctx context.Context, key string) (models.PointSet, error) {
	log := m.logger.WithField("location", key)

	if m.backing != nil {
		ps, found, err := m.backing.GetPoints(ctx, key)
		switch {
		case err != nil:
			log.WithError(err).Warn("Point backing store read failed")
		case found:
			m.storePoints(key, ps)
			return ps, nil
		}
	}

	if m.provider == nil {
		return nil, apperrors.NewInternalError("no point provider configured", nil)
	}

	m.providerCalls.Add(1)
	ps, err := m.provider.FindPoints(ctx, key)
	if err != nil {
		log.WithError(err).Warn("Point lookup failed")
		return nil, apperrors.NewProviderError(key, err)
	}
	if ps == nil {
		ps = models.NewPointSet()
	}
	m.storePoints(key, ps)

	if m.backing != nil {
		if err := m.backing.SetPoints(ctx, key, ps); err != nil {
			log.WithError(err).Warn("Point backing store write failed")
		}
	}

	log.WithField("points", ps.Total()).Debug("Cached points")
	return ps, nil
}
