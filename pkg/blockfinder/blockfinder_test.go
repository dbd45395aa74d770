package blockfinder

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/autopool-labs/autopool-warehouse/pkg/retry"
)

func fastRetry() retry.Config {
	return retry.Config{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestBlockAt(t *testing.T) {
	at := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, fmt.Sprintf("/ethereum/%d", at.Unix()), r.URL.Path)
		fmt.Fprintf(w, `{"height": 19340000, "timestamp": %d}`, at.Unix()+7)
	}))
	defer srv.Close()

	finder := NewFinder(srv.URL, map[int64]string{1: "ethereum"}, fastRetry(), zap.NewNop())
	height, ts, err := finder.BlockAt(context.Background(), 1, at)
	require.NoError(t, err)
	assert.Equal(t, int64(19340000), height)
	assert.Equal(t, at.Add(7*time.Second), ts)
}

func TestBlockAtUnknownChain(t *testing.T) {
	finder := NewFinder("http://127.0.0.1:1", map[int64]string{1: "ethereum"}, fastRetry(), zap.NewNop())
	_, _, err := finder.BlockAt(context.Background(), 999, time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "999")
}

func TestBlockAtRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "upstream unavailable", http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"height": 42, "timestamp": 1000}`)
	}))
	defer srv.Close()

	finder := NewFinder(srv.URL, map[int64]string{8453: "base"}, fastRetry(), zap.NewNop())
	height, _, err := finder.BlockAt(context.Background(), 8453, time.Unix(1000, 0))
	require.NoError(t, err)
	assert.Equal(t, int64(42), height)
	assert.Equal(t, int32(3), calls.Load())
}

func TestBlockAtExhaustsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	finder := NewFinder(srv.URL, map[int64]string{1: "ethereum"}, fastRetry(), zap.NewNop())
	_, _, err := finder.BlockAt(context.Background(), 1, time.Unix(1000, 0))
	require.Error(t, err)
}
