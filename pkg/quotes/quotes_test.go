package quotes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/autopool-labs/autopool-warehouse/pkg/config"
	"github.com/autopool-labs/autopool-warehouse/pkg/retry"
	"github.com/autopool-labs/autopool-warehouse/pkg/warehouse"
)

type mockStore struct {
	quotes    []warehouse.SwapQuote
	exposures []warehouse.AssetExposure
}

func (m *mockStore) InsertIgnoreDuplicates(ctx context.Context, rows any, opts ...warehouse.InsertOption) (int64, error) {
	switch typed := rows.(type) {
	case *[]warehouse.SwapQuote:
		m.quotes = append(m.quotes, *typed...)
		return int64(len(*typed)), nil
	case *[]warehouse.AssetExposure:
		m.exposures = append(m.exposures, *typed...)
		return int64(len(*typed)), nil
	}
	return 0, nil
}

func newTestSampler(store Warehouse, quoteURL, exposureURL string) *Sampler {
	sampler := NewSampler(config.QuotesConfig{
		QuoteURL:       quoteURL,
		ExposureURL:    exposureURL,
		RequestsPerMin: 60_000,
		MaxInFlight:    2,
	}, store, 1, retry.Config{
		MaxAttempts:  1,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
		Multiplier:   2.0,
	}, zap.NewNop())
	sampler.now = func() time.Time {
		return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	}
	return sampler
}

func TestSampleGroupsRowsUnderOneBatch(t *testing.T) {
	quoteServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("chainId"))
		out := 2.0
		if r.URL.Query().Get("tokenIn") == "0xt2" {
			out = 3.0
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"amountOut": out})
	}))
	defer quoteServer.Close()

	exposureServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"token": "0xt1", "liquidity": 1_000_000.0},
		})
	}))
	defer exposureServer.Close()

	store := &mockStore{}
	sampler := newTestSampler(store, quoteServer.URL, exposureServer.URL)

	err := sampler.Sample(context.Background(),
		[]Pair{
			{TokenIn: "0xt1", TokenOut: "0xt2", AmountIn: 1.0},
			{TokenIn: "0xt2", TokenOut: "0xt1", AmountIn: 1.0},
		},
		[]string{"0xt1"})
	require.NoError(t, err)

	require.Len(t, store.quotes, 2)
	require.Len(t, store.exposures, 1)

	batch := store.quotes[0].QuoteBatch
	require.NotEmpty(t, batch)
	assert.Equal(t, batch, store.quotes[1].QuoteBatch)
	assert.Equal(t, batch, store.exposures[0].QuoteBatch)

	sort.Slice(store.quotes, func(i, j int) bool { return store.quotes[i].TokenIn < store.quotes[j].TokenIn })
	assert.Equal(t, 2.0, store.quotes[0].AmountOut)
	assert.Equal(t, 3.0, store.quotes[1].AmountOut)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), store.quotes[0].Datetime)
	assert.Equal(t, 1_000_000.0, store.exposures[0].Liquidity)
}

func TestSampleKeepsPartialBatchOnQuoteFailure(t *testing.T) {
	quoteServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("tokenIn") == "0xbad" {
			http.Error(w, "upstream timeout", http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"amountOut": 2.0})
	}))
	defer quoteServer.Close()

	store := &mockStore{}
	sampler := newTestSampler(store, quoteServer.URL, "")

	err := sampler.Sample(context.Background(),
		[]Pair{
			{TokenIn: "0xgood", TokenOut: "0xt2", AmountIn: 1.0},
			{TokenIn: "0xbad", TokenOut: "0xt2", AmountIn: 1.0},
		},
		nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "0xbad")

	require.Len(t, store.quotes, 1)
	assert.Equal(t, "0xgood", store.quotes[0].TokenIn)
}

func TestSampleBoundsInFlightRequests(t *testing.T) {
	var current, peak atomic.Int32
	quoteServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		now := current.Add(1)
		for {
			prev := peak.Load()
			if now <= prev || peak.CompareAndSwap(prev, now) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		current.Add(-1)
		_ = json.NewEncoder(w).Encode(map[string]any{"amountOut": 1.0})
	}))
	defer quoteServer.Close()

	store := &mockStore{}
	sampler := newTestSampler(store, quoteServer.URL, "")

	pairs := make([]Pair, 8)
	for i := range pairs {
		pairs[i] = Pair{TokenIn: "0xt1", TokenOut: "0xt2", AmountIn: float64(i + 1)}
	}
	require.NoError(t, sampler.Sample(context.Background(), pairs, nil))

	assert.Len(t, store.quotes, 8)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}
