package adapter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/eco-assistant/internal/errors"
	"github.com/eco-assistant/internal/logging"
)

func newTestVKClient(url string) *VKClient {
	return NewVKClient(&VKClientConfig{
		Token:      "secret",
		APIURL:     url,
		SendRPS:    1000,
		RetryDelay: time.Millisecond,
		Logger:     logging.NewNop(),
	})
}

func TestVKClient_SendSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages.send", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "secret", r.PostForm.Get("access_token"))
		assert.Equal(t, "5.199", r.PostForm.Get("v"))
		assert.Equal(t, "2000000001", r.PostForm.Get("peer_id"))
		assert.Equal(t, "Привет", r.PostForm.Get("message"))
		assert.NotEmpty(t, r.PostForm.Get("random_id"))
		w.Write([]byte(`{"response": 42}`))
	}))
	defer server.Close()

	err := newTestVKClient(server.URL).Send(context.Background(), 2000000001, "Привет")
	assert.NoError(t, err)
}

func TestVKClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		class apperrors.DeliveryClass
		code  int
	}{
		{"privacy", `{"error":{"error_code":901,"error_msg":"Can't send messages for users without permission"}}`, apperrors.DeliveryPermanent, 901},
		{"blacklist", `{"error":{"error_code":902,"error_msg":"privacy settings"}}`, apperrors.DeliveryPermanent, 902},
		{"permission", `{"error":{"error_code":7,"error_msg":"Permission denied"}}`, apperrors.DeliveryPermanent, 7},
		{"access", `{"error":{"error_code":15,"error_msg":"Access denied"}}`, apperrors.DeliveryPermanent, 15},
		{"rate", `{"error":{"error_code":6,"error_msg":"Too many requests per second"}}`, apperrors.DeliveryTransient, 6},
		{"flood", `{"error":{"error_code":9,"error_msg":"Flood control"}}`, apperrors.DeliveryTransient, 9},
		{"other", `{"error":{"error_code":100,"error_msg":"One of the parameters specified was missing"}}`, apperrors.DeliveryUnknown, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			err := newTestVKClient(server.URL).Send(context.Background(), 1, "hi")
			require.Error(t, err)

			var de *apperrors.DeliveryError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, tt.class, de.Class)
			assert.Equal(t, tt.code, de.Code)
		})
	}
}

func TestVKClient_TransportErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	err := newTestVKClient(url).Send(context.Background(), 1, "hi")
	assert.Equal(t, apperrors.DeliveryTransient, apperrors.DeliveryClassOf(err))
}

func TestVKClient_ServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	err := newTestVKClient(server.URL).Send(context.Background(), 1, "hi")
	assert.Equal(t, apperrors.DeliveryTransient, apperrors.DeliveryClassOf(err))
	assert.False(t, apperrors.IsPermanentDelivery(err))
}

func TestClassifyVKError(t *testing.T) {
	assert.True(t, apperrors.IsPermanentDelivery(ClassifyVKError(901, "")))
	assert.Equal(t, apperrors.DeliveryTransient, ClassifyVKError(10, "").Class)
	assert.Equal(t, apperrors.DeliveryUnknown, ClassifyVKError(5, "").Class)
}

func TestVKClient_RetriesTransientWithSameRandomID(t *testing.T) {
	var (
		calls atomic.Int32
		mu    sync.Mutex
		ids   []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		mu.Lock()
		ids = append(ids, r.PostForm.Get("random_id"))
		mu.Unlock()
		if calls.Add(1) < 3 {
			w.Write([]byte(`{"error":{"error_code":9,"error_msg":"Flood control"}}`))
			return
		}
		w.Write([]byte(`{"response": 1}`))
	}))
	defer server.Close()

	err := newTestVKClient(server.URL).Send(context.Background(), 1, "hi")
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, ids, 3)
	assert.Equal(t, ids[0], ids[1])
	assert.Equal(t, ids[0], ids[2])
}

func TestVKClient_PermanentIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"error":{"error_code":901,"error_msg":"privacy"}}`))
	}))
	defer server.Close()

	err := newTestVKClient(server.URL).Send(context.Background(), 1, "hi")
	assert.True(t, apperrors.IsPermanentDelivery(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestVKClient_TransientGivesUp(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	err := newTestVKClient(server.URL).Send(context.Background(), 1, "hi")
	assert.Equal(t, apperrors.DeliveryTransient, apperrors.DeliveryClassOf(err))
	assert.Equal(t, int32(3), calls.Load())
}
