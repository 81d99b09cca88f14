package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/eco-assistant/internal/cache"
	"github.com/eco-assistant/internal/logging"
	"github.com/eco-assistant/internal/models"
	"github.com/eco-assistant/internal/types"
)

type recorderStub struct {
	mu      sync.Mutex
	records []models.ActionRecord
}

func (r *recorderStub) Record(rec models.ActionRecord) {
	r.mu.Lock()
	r.records = append(r.records, rec)
	r.mu.Unlock()
}

func (r *recorderStub) all() []models.ActionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.ActionRecord(nil), r.records...)
}

type pointsStub struct {
	set models.PointSet
	err error
	key string
}

func (p *pointsStub) GetOrCreatePoints(_ context.Context, key string) (models.PointSet, error) {
	p.key = key
	if p.err != nil {
		return nil, p.err
	}
	return p.set, nil
}

var errLookup = errors.New("overpass down")

func newTestCache() *cache.Manager {
	return cache.NewManager(&cache.ManagerConfig{Logger: logging.NewNop()})
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func registerUser(c *cache.Manager, id int64, name string, score int) {
	u := models.NewUser(id, name, types.PreferenceCategories)
	u.Score = score
	c.AddUser(u)
	c.UpdateTopN(id)
}
