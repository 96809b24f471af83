package clip

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunny-osprey/osprey/internal/retry"
)

func newTestClient(url string) *Client {
	return NewClient(Config{
		BaseURL:      url,
		Timeout:      time.Second,
		MaxClipBytes: 1024,
		MaxAttempts:  3,
		BaseDelay:    time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
	})
}

func TestAcquire_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/events/e1/clip.mp4", r.URL.Path)
		w.Write([]byte("fake mp4 bytes"))
	}))
	defer srv.Close()

	h, err := newTestClient(srv.URL).Acquire(context.Background(), "e1")
	require.NoError(t, err)
	defer h.Cleanup()

	assert.Equal(t, int64(14), h.Size)
	data, err := os.ReadFile(h.Path)
	require.NoError(t, err)
	assert.Equal(t, "fake mp4 bytes", string(data))
}

func TestAcquire_404NoRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Acquire(context.Background(), "e1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, retry.ErrPermanent)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "404 must not be retried")
}

func TestAcquire_5xxRetriesThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("clip"))
	}))
	defer srv.Close()

	h, err := newTestClient(srv.URL).Acquire(context.Background(), "e1")
	require.NoError(t, err)
	defer h.Cleanup()
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestAcquire_5xxExhaustsRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Acquire(context.Background(), "e1")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, retry.ErrPermanent)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestAcquire_EmptyBodyIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Acquire(context.Background(), "e1")
	assert.ErrorIs(t, err, ErrEmpty)
	assert.ErrorIs(t, err, retry.ErrPermanent)
}

func TestAcquire_OversizeIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 2048)) // cap is 1024
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Acquire(context.Background(), "e1")
	assert.ErrorIs(t, err, ErrTooLarge)
	assert.ErrorIs(t, err, retry.ErrPermanent)
}

func TestHandle_CleanupTwice(t *testing.T) {
	tmp, err := os.CreateTemp("", "clip_test_*")
	require.NoError(t, err)
	tmp.Close()

	h := &Handle{Path: tmp.Name()}
	h.Cleanup()
	h.Cleanup() // second call must not panic or error loudly

	_, statErr := os.Stat(tmp.Name())
	assert.True(t, os.IsNotExist(statErr))
}
