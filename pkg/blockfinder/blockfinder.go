// Package blockfinder resolves timestamps to the closest block heights using
// an external lookup service, so day-edge blocks can be found without binary
// searching the chain over RPC.
package blockfinder

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/autopool-labs/autopool-warehouse/internal/metrics"
	"github.com/autopool-labs/autopool-warehouse/pkg/retry"
)

// Finder queries a block lookup service keyed by chain name and timestamp
type Finder struct {
	baseURL    string
	chainSlugs map[int64]string
	httpClient *http.Client
	retryCfg   retry.Config
	logger     *zap.Logger
}

// NewFinder builds a Finder for the given lookup endpoint. chainSlugs maps
// chain ids to the service's chain names.
func NewFinder(baseURL string, chainSlugs map[int64]string, retryCfg retry.Config, logger *zap.Logger) *Finder {
	return &Finder{
		baseURL:    baseURL,
		chainSlugs: chainSlugs,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		retryCfg:   retryCfg,
		logger:     logger,
	}
}

type blockResponse struct {
	Height    int64 `json:"height"`
	Timestamp int64 `json:"timestamp"`
}

// BlockAt returns the block closest to the given time on the given chain,
// along with that block's actual timestamp
func (f *Finder) BlockAt(ctx context.Context, chainID int64, at time.Time) (int64, time.Time, error) {
	slug, ok := f.chainSlugs[chainID]
	if !ok {
		return 0, time.Time{}, fmt.Errorf("no lookup slug configured for chain %d", chainID)
	}

	endpoint, err := url.JoinPath(f.baseURL, slug, fmt.Sprintf("%d", at.Unix()))
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to build lookup URL: %w", err)
	}

	var resp blockResponse
	err = retry.Do(ctx, f.retryCfg, f.logger, fmt.Sprintf("block lookup %s@%d", slug, at.Unix()), func() error {
		return f.fetch(ctx, endpoint, &resp)
	})
	if err != nil {
		return 0, time.Time{}, err
	}
	return resp.Height, time.Unix(resp.Timestamp, 0).UTC(), nil
}

func (f *Finder) fetch(ctx context.Context, endpoint string, out *blockResponse) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	metrics.BlockLookups.Inc()
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("block lookup request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("block lookup returned %d: %s", resp.StatusCode, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode block lookup response: %w", err)
	}
	return nil
}
