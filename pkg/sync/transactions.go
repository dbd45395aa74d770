package sync

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/autopool-labs/autopool-warehouse/internal/metrics"
	"github.com/autopool-labs/autopool-warehouse/pkg/warehouse"
)

// EnsureTransactionsSaved backfills receipt rows for the given transaction
// hashes. Blocks referenced by new receipts are inserted first, so the
// transactions table never dangles. Chunked and idempotent: a crash mid-run
// only requires recomputing the remaining chunks.
func (s *Syncer) EnsureTransactionsSaved(ctx context.Context, txHashes []string) error {
	normalized := make([]string, len(txHashes))
	for i, hash := range txHashes {
		normalized[i] = strings.ToLower(hash)
	}

	missing, err := s.store.MissingValues(ctx, (*warehouse.Transaction)(nil), "tx_hash", normalized,
		warehouse.Filter{Column: "chain_id", Value: s.client.ChainID()})
	if err != nil {
		return fmt.Errorf("failed to find missing transactions: %w", err)
	}
	if len(missing) == 0 {
		return nil
	}
	s.logger.Info("Backfilling transactions", zap.Int("count", len(missing)))

	batchSize := s.cfg.ReceiptBatchSize
	if batchSize <= 0 {
		batchSize = 50
	}

	for start := 0; start < len(missing); start += batchSize {
		end := min(start+batchSize, len(missing))

		receipts, err := s.client.BatchReceipts(ctx, missing[start:end])
		if err != nil {
			return fmt.Errorf("failed to fetch receipts: %w", err)
		}

		blockNumbers := make([]int64, 0, len(receipts))
		rows := make([]warehouse.Transaction, 0, len(receipts))
		for _, receipt := range receipts {
			blockNumbers = append(blockNumbers, receipt.BlockNumber)
			rows = append(rows, warehouse.Transaction{
				ChainID:           s.client.ChainID(),
				TxHash:            receipt.TxHash,
				BlockNumber:       receipt.BlockNumber,
				FromAddress:       receipt.From,
				ToAddress:         receipt.To,
				GasUsed:           receipt.GasUsed,
				EffectiveGasPrice: receipt.EffectiveGasPrice,
			})
		}

		// blocks before transactions
		if err := s.EnsureBlocksSaved(ctx, blockNumbers); err != nil {
			return err
		}

		inserted, err := s.store.InsertIgnoreDuplicates(ctx, &rows)
		if err != nil {
			return fmt.Errorf("failed to insert transactions: %w", err)
		}
		metrics.RowsInserted.WithLabelValues(s.chainCfg.Name, "transactions").Add(float64(inserted))
	}
	return nil
}
