package sync

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/autopool-labs/autopool-warehouse/internal/metrics"
	"github.com/autopool-labs/autopool-warehouse/pkg/chain"
	"github.com/autopool-labs/autopool-warehouse/pkg/retry"
	"github.com/autopool-labs/autopool-warehouse/pkg/warehouse"
)

// EnsureTokensSaved fetches ERC-20 metadata for any of the given token
// addresses not yet in the warehouse and inserts them
func (s *Syncer) EnsureTokensSaved(ctx context.Context, tokenAddresses []string) error {
	missing, err := s.store.MissingValues(ctx, (*warehouse.Token)(nil), "token_address", tokenAddresses,
		warehouse.Filter{Column: "chain_id", Value: s.client.ChainID()})
	if err != nil {
		return fmt.Errorf("failed to find missing tokens: %w", err)
	}
	if len(missing) == 0 {
		return nil
	}
	s.logger.Info("Fetching metadata for new tokens", zap.Int("count", len(missing)))

	var calls []chain.Call
	for _, addr := range missing {
		calls = append(calls, chain.ERC20MetadataCalls(common.HexToAddress(addr))...)
	}

	results, err := s.multicallChunked(ctx, 0, calls)
	if err != nil {
		return fmt.Errorf("failed to fetch token metadata: %w", err)
	}

	rows := make([]warehouse.Token, 0, len(missing))
	for _, addr := range missing {
		entity := common.HexToAddress(addr)
		symbol := results[chain.CallKey{Entity: entity, Field: chain.FieldSymbol}]
		name := results[chain.CallKey{Entity: entity, Field: chain.FieldName}]
		decimals := results[chain.CallKey{Entity: entity, Field: chain.FieldDecimals}]
		if !symbol.Ok || !name.Ok || !decimals.Ok {
			return fmt.Errorf("token metadata call reverted for %s", addr)
		}
		rows = append(rows, warehouse.Token{
			ChainID:      s.client.ChainID(),
			TokenAddress: addr,
			Symbol:       symbol.Values[0].(string),
			Name:         name.Values[0].(string),
			Decimals:     int(decimals.Values[0].(uint8)),
		})
	}

	inserted, err := s.store.InsertIgnoreDuplicates(ctx, &rows)
	if err != nil {
		return fmt.Errorf("failed to insert tokens: %w", err)
	}
	metrics.RowsInserted.WithLabelValues(s.chainCfg.Name, "tokens").Add(float64(inserted))
	return nil
}

// multicallChunked splits the calls into batches bounded by the configured
// multicall batch size, all against the same block
func (s *Syncer) multicallChunked(ctx context.Context, blockNumber int64, calls []chain.Call) (map[chain.CallKey]chain.Result, error) {
	batchSize := s.cfg.MulticallBatchSize
	if batchSize <= 0 {
		batchSize = 500
	}

	out := make(map[chain.CallKey]chain.Result, len(calls))
	for start := 0; start < len(calls); start += batchSize {
		end := min(start+batchSize, len(calls))

		var results map[chain.CallKey]chain.Result
		err := retry.Do(ctx, s.retryCfg, s.logger, "multicall batch", func() error {
			var callErr error
			results, callErr = s.client.Multicall(ctx, blockNumber, calls[start:end])
			return callErr
		})
		if err != nil {
			return nil, err
		}
		for key, result := range results {
			out[key] = result
		}
	}
	return out, nil
}
