// Package indexer is the client for the rebalance-event indexer API. The
// syncer treats the indexer as the source of truth for which rebalance
// transactions happened; realized values are still recomputed from chain
// state independently.
package indexer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/autopool-labs/autopool-warehouse/pkg/config"
	"github.com/autopool-labs/autopool-warehouse/pkg/retry"
)

// Event is one on-chain rebalance reported by the indexer. Amounts are raw
// fixed-point integers in the respective token's decimals.
type Event struct {
	TxHash         string
	BlockNumber    int64
	Timestamp      time.Time
	DestinationOut string
	DestinationIn  string
	TokenOut       string
	TokenIn        string
	AmountOut      *big.Int
	AmountIn       *big.Int
}

// Client queries the indexer's GraphQL endpoint
type Client struct {
	url        string
	httpClient *http.Client
	retryCfg   retry.Config
	logger     *zap.Logger
}

// NewClient builds a Client for the configured indexer endpoint
func NewClient(cfg config.IndexerConfig, retryCfg retry.Config, logger *zap.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		url:        cfg.URL,
		httpClient: &http.Client{Timeout: timeout},
		retryCfg:   retryCfg,
		logger:     logger,
	}
}

const rebalanceQuery = `query($autopool: String!, $fromBlock: Int!) {
  rebalanceEvents(where: {autopool: $autopool, blockNumber_gt: $fromBlock}, orderBy: blockNumber) {
    txHash
    blockNumber
    timestamp
    destinationOut
    destinationIn
    tokenOut
    tokenIn
    amountOut
    amountIn
  }
}`

type graphRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphResponse struct {
	Data struct {
		RebalanceEvents []rawEvent `json:"rebalanceEvents"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type rawEvent struct {
	TxHash         string `json:"txHash"`
	BlockNumber    int64  `json:"blockNumber"`
	Timestamp      int64  `json:"timestamp"`
	DestinationOut string `json:"destinationOut"`
	DestinationIn  string `json:"destinationIn"`
	TokenOut       string `json:"tokenOut"`
	TokenIn        string `json:"tokenIn"`
	AmountOut      string `json:"amountOut"`
	AmountIn       string `json:"amountIn"`
}

// RebalanceEvents returns the autopool's rebalances strictly after fromBlock
func (c *Client) RebalanceEvents(ctx context.Context, autopoolAddress string, fromBlock int64) ([]Event, error) {
	body, err := json.Marshal(graphRequest{
		Query: rebalanceQuery,
		Variables: map[string]any{
			"autopool":  autopoolAddress,
			"fromBlock": fromBlock,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal indexer query: %w", err)
	}

	var resp graphResponse
	err = retry.Do(ctx, c.retryCfg, c.logger, fmt.Sprintf("rebalance events %s", autopoolAddress), func() error {
		return c.post(ctx, body, &resp)
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("indexer query failed: %s", resp.Errors[0].Message)
	}

	events := make([]Event, 0, len(resp.Data.RebalanceEvents))
	for _, raw := range resp.Data.RebalanceEvents {
		event, err := raw.normalize()
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}

func (r rawEvent) normalize() (Event, error) {
	amountOut, ok := new(big.Int).SetString(r.AmountOut, 10)
	if !ok {
		return Event{}, fmt.Errorf("event %s has malformed amountOut %q", r.TxHash, r.AmountOut)
	}
	amountIn, ok := new(big.Int).SetString(r.AmountIn, 10)
	if !ok {
		return Event{}, fmt.Errorf("event %s has malformed amountIn %q", r.TxHash, r.AmountIn)
	}
	return Event{
		TxHash:         r.TxHash,
		BlockNumber:    r.BlockNumber,
		Timestamp:      time.Unix(r.Timestamp, 0).UTC(),
		DestinationOut: r.DestinationOut,
		DestinationIn:  r.DestinationIn,
		TokenOut:       r.TokenOut,
		TokenIn:        r.TokenIn,
		AmountOut:      amountOut,
		AmountIn:       amountIn,
	}, nil
}

func (c *Client) post(ctx context.Context, body []byte, out *graphResponse) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build indexer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("indexer request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("indexer returned %d: %s", resp.StatusCode, snippet)
	}

	*out = graphResponse{}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode indexer response: %w", err)
	}
	return nil
}
