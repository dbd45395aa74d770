package indexer

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/autopool-labs/autopool-warehouse/pkg/config"
	"github.com/autopool-labs/autopool-warehouse/pkg/retry"
)

func newTestClient(url string) *Client {
	return NewClient(config.IndexerConfig{URL: url}, retry.Config{
		MaxAttempts:  1,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
		Multiplier:   2.0,
	}, zap.NewNop())
}

func TestRebalanceEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req graphRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "0xpool", req.Variables["autopool"])
		assert.Equal(t, float64(150), req.Variables["fromBlock"])

		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"rebalanceEvents": []map[string]any{{
					"txHash":         "0xabc",
					"blockNumber":    200,
					"timestamp":      1700000000,
					"destinationOut": "0xout",
					"destinationIn":  "0xin",
					"tokenOut":       "0xtokenout",
					"tokenIn":        "0xtokenin",
					"amountOut":      "1000000000000000000",
					"amountIn":       "990000000000000000",
				}},
			},
		})
	}))
	defer server.Close()

	events, err := newTestClient(server.URL).RebalanceEvents(context.Background(), "0xpool", 150)
	require.NoError(t, err)
	require.Len(t, events, 1)

	event := events[0]
	assert.Equal(t, "0xabc", event.TxHash)
	assert.Equal(t, int64(200), event.BlockNumber)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), event.Timestamp)
	assert.Equal(t, big.NewInt(1_000_000_000_000_000_000), event.AmountOut)
	assert.Equal(t, big.NewInt(990_000_000_000_000_000), event.AmountIn)
}

func TestRebalanceEventsSurfacesGraphErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"errors": []map[string]any{{"message": "unknown autopool"}},
		})
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).RebalanceEvents(context.Background(), "0xpool", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown autopool")
}

func TestRebalanceEventsRejectsMalformedAmount(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"rebalanceEvents": []map[string]any{{
					"txHash":    "0xabc",
					"amountOut": "not-a-number",
					"amountIn":  "1",
				}},
			},
		})
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).RebalanceEvents(context.Background(), "0xpool", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "amountOut")
}
