package adapter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/eco-assistant/internal/errors"
	"github.com/eco-assistant/internal/logging"
	"github.com/eco-assistant/internal/types"
)

const overpassFixture = `{
  "elements": [
    {"type": "node", "id": 1, "lat": 55.75, "lon": 37.61,
     "tags": {"amenity": "recycling", "name": "Сбор вторсырья", "recycling:paper": "yes", "recycling:glass": "yes", "recycling:plastic": "no", "opening_hours": "Mo-Fr 09:00-18:00"}},
    {"type": "node", "id": 2, "lat": 55.76, "lon": 37.62, "tags": {"leisure": "park"}},
    {"type": "node", "id": 3, "lat": 55.77, "lon": 37.63, "tags": {"shop": "health_food", "name": "ВкусВилл"}},
    {"type": "node", "id": 4, "lat": 55.78, "lon": 37.64, "tags": {"shop": "bakery"}},
    {"type": "way", "id": 5, "tags": {"leisure": "park", "name": "Way park"}}
  ]
}`

func newTestOverpassClient(url string) *OverpassClient {
	return NewOverpassClient(&OverpassClientConfig{
		URL:         url,
		RPS:         1000,
		MaxAttempts: 3,
		RetryDelay:  time.Millisecond,
		Logger:      logging.NewNop(),
	})
}

func TestOverpassClient_FindPoints(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, r.ParseForm())
		query := r.PostForm.Get("data")
		assert.Contains(t, query, "[out:json]")
		assert.Contains(t, query, "around:5000,55.8,37.6")
		w.Write([]byte(overpassFixture))
	}))
	defer server.Close()

	ps, err := newTestOverpassClient(server.URL).FindPoints(context.Background(), "55.8_37.6")
	require.NoError(t, err)

	require.Len(t, ps[types.CategoryRecycling], 1)
	rec := ps[types.CategoryRecycling][0]
	assert.Equal(t, int64(1), rec.ID)
	assert.Equal(t, "Сбор вторсырья", rec.Name)
	assert.Equal(t, "Пункт приема отходов. Принимает: glass, paper. Часы работы: Mo-Fr 09:00-18:00", rec.Description)
	require.NotNil(t, rec.Lat)
	assert.InDelta(t, 55.75, *rec.Lat, 1e-9)

	require.Len(t, ps[types.CategoryEvent], 1)
	assert.Equal(t, "Неизвестно", ps[types.CategoryEvent][0].Name)
	assert.Equal(t, "Эко-точка", ps[types.CategoryEvent][0].Description)

	require.Len(t, ps[types.CategoryEcoShop], 1)
	assert.Equal(t, "ВкусВилл", ps[types.CategoryEcoShop][0].Name)
	assert.Equal(t, 3, ps.Total())
}

func TestOverpassClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusGatewayTimeout)
			return
		}
		w.Write([]byte(`{"elements": []}`))
	}))
	defer server.Close()

	ps, err := newTestOverpassClient(server.URL).FindPoints(context.Background(), "1.0_2.0")
	require.NoError(t, err)
	assert.Equal(t, 0, ps.Total())
	assert.Len(t, ps, len(types.PointCategories))
	assert.Equal(t, int32(3), calls.Load())
}

func TestOverpassClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	_, err := newTestOverpassClient(server.URL).FindPoints(context.Background(), "1.0_2.0")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestOverpassClient_FailurePropagates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ps, err := newTestOverpassClient(server.URL).FindPoints(context.Background(), "1.0_2.0")
	assert.Error(t, err)
	assert.Nil(t, ps)
}

func TestOverpassClient_InvalidKey(t *testing.T) {
	_, err := newTestOverpassClient("http://unused").FindPoints(context.Background(), "nowhere")
	require.Error(t, err)
	assert.Equal(t, apperrors.CategoryValidation, apperrors.Categorize(err).Category)
}

func TestBuildOverpassQuery(t *testing.T) {
	q := BuildOverpassQuery(55.8, 37.6, 1000)
	assert.Equal(t, 5, strings.Count(q, "(around:1000,55.8,37.6);"))
	assert.Contains(t, q, `node["shop"="organic"]`)
	assert.True(t, strings.HasSuffix(q, "out body;\n"))
}

type budgetStub struct {
	allow bool
	err   error
	calls atomic.Int32
}

func (b *budgetStub) TryConsume(ctx context.Context, n int) (bool, time.Duration, error) {
	b.calls.Add(1)
	return b.allow, time.Hour, b.err
}

func TestOverpassClient_BudgetExhausted(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"elements": []}`))
	}))
	defer server.Close()

	budget := &budgetStub{allow: false}
	client := NewOverpassClient(&OverpassClientConfig{
		URL:         server.URL,
		RPS:         1000,
		MaxAttempts: 3,
		RetryDelay:  time.Millisecond,
		Budget:      budget,
		Logger:      logging.NewNop(),
	})

	_, err := client.FindPoints(context.Background(), "1.0_2.0")
	require.Error(t, err)
	assert.Equal(t, apperrors.CategoryProvider, apperrors.Categorize(err).Category)

	var be *BudgetExhaustedError
	assert.ErrorAs(t, err, &be)
	assert.Equal(t, time.Hour, be.RetryAfter)
	assert.Equal(t, int32(1), budget.calls.Load(), "exhausted budget is not retried")
	assert.Zero(t, calls.Load())
	assert.Equal(t, int64(0), client.BreakerStats().Failures)
}

func TestOverpassClient_BudgetStoreDownFailsOpen(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"elements": []}`))
	}))
	defer server.Close()

	budget := &budgetStub{err: assert.AnError}
	client := NewOverpassClient(&OverpassClientConfig{
		URL:    server.URL,
		RPS:    1000,
		Budget: budget,
		Logger: logging.NewNop(),
	})

	_, err := client.FindPoints(context.Background(), "1.0_2.0")
	require.NoError(t, err)
	assert.Equal(t, int32(1), budget.calls.Load())
}
