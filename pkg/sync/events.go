package sync

import (
	"context"
	"fmt"
	"math/big"
	"reflect"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/autopool-labs/autopool-warehouse/internal/metrics"
	"github.com/autopool-labs/autopool-warehouse/pkg/chain"
	"github.com/autopool-labs/autopool-warehouse/pkg/retry"
	"github.com/autopool-labs/autopool-warehouse/pkg/warehouse"
)

// Event streams share one state machine: read the (chain, table) watermark,
// fetch logs from watermark+1 to the safe head in bounded ranges, normalize,
// backfill referenced tokens and transactions, insert, then advance the
// watermark. A crash before the watermark advance refetches and re-skips.

// streamLogs fetches all logs for the stream since its watermark. The
// returned toBlock is 0 when there is nothing new to process.
func (s *Syncer) streamLogs(ctx context.Context, table string, addresses []common.Address, topics []common.Hash) ([]types.Log, int64, error) {
	if len(addresses) == 0 {
		return nil, 0, nil
	}

	watermark, ok, err := s.store.GetWatermark(ctx, s.client.ChainID(), table)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read %s watermark: %w", table, err)
	}
	if !ok {
		watermark = s.chainCfg.FirstDeployBlock - 1
	}

	safeHead, err := s.client.SafeHead(ctx)
	if err != nil {
		return nil, 0, err
	}
	if safeHead <= watermark {
		return nil, 0, nil
	}

	rangeSize := s.cfg.LogRangeBlocks
	if rangeSize <= 0 {
		rangeSize = 100_000
	}

	var logs []types.Log
	for from := watermark + 1; from <= safeHead; from += rangeSize {
		to := min(from+rangeSize-1, safeHead)

		var chunk []types.Log
		err := retry.Do(ctx, s.retryCfg, s.logger, fmt.Sprintf("%s logs [%d, %d]", table, from, to), func() error {
			var filterErr error
			chunk, filterErr = s.client.FilterLogs(ctx, from, to, addresses, [][]common.Hash{topics})
			return filterErr
		})
		if err != nil {
			return nil, 0, err
		}
		logs = append(logs, chunk...)
	}
	return logs, safeHead, nil
}

// commitEvents inserts the normalized rows after their transaction (and
// block) dependencies exist, then advances the stream watermark
func (s *Syncer) commitEvents(ctx context.Context, table string, rows any, txHashes []string, toBlock int64) error {
	if len(txHashes) > 0 {
		if err := s.EnsureTransactionsSaved(ctx, txHashes); err != nil {
			return err
		}
	}

	inserted, err := s.store.InsertIgnoreDuplicates(ctx, rows)
	if err != nil {
		return fmt.Errorf("failed to insert %s: %w", table, err)
	}
	metrics.RowsInserted.WithLabelValues(s.chainCfg.Name, table).Add(float64(inserted))
	if candidates := reflect.ValueOf(rows).Elem().Len(); int64(candidates) > inserted {
		metrics.RowsSkipped.WithLabelValues(s.chainCfg.Name, table).Add(float64(int64(candidates) - inserted))
	}
	metrics.LastSyncedBlock.WithLabelValues(s.chainCfg.Name, table).Set(float64(toBlock))

	if err := s.store.SetWatermark(ctx, s.client.ChainID(), table, toBlock); err != nil {
		return fmt.Errorf("failed to advance %s watermark: %w", table, err)
	}
	s.logger.Info("Event stream current",
		zap.String("table", table),
		zap.Int64("inserted", inserted),
		zap.Int64("to_block", toBlock))
	return nil
}

// autopoolIndex maps lower-cased contract addresses back to their autopool
type autopoolIndex struct {
	addresses []common.Address
	byAddress map[string]warehouse.Autopool
}

func (s *Syncer) autopoolsByVault(ctx context.Context) (*autopoolIndex, error) {
	autopools, err := s.store.ListAutopools(ctx, s.client.ChainID())
	if err != nil {
		return nil, fmt.Errorf("failed to list autopools: %w", err)
	}
	index := &autopoolIndex{byAddress: make(map[string]warehouse.Autopool, len(autopools))}
	for _, autopool := range autopools {
		index.addresses = append(index.addresses, common.HexToAddress(autopool.VaultAddress))
		index.byAddress[autopool.VaultAddress] = autopool
	}
	return index, nil
}

func (s *Syncer) autopoolsByStrategy(ctx context.Context) (*autopoolIndex, error) {
	autopools, err := s.store.ListAutopools(ctx, s.client.ChainID())
	if err != nil {
		return nil, fmt.Errorf("failed to list autopools: %w", err)
	}
	index := &autopoolIndex{byAddress: make(map[string]warehouse.Autopool, len(autopools))}
	for _, autopool := range autopools {
		index.addresses = append(index.addresses, common.HexToAddress(autopool.StrategyAddress))
		index.byAddress[autopool.StrategyAddress] = autopool
	}
	return index, nil
}

// destinationIndex lists real (non-idle) destinations for the chain
func (s *Syncer) destinationsByAddress(ctx context.Context) ([]common.Address, map[string]warehouse.Destination, error) {
	destinations, err := s.store.ListAllDestinations(ctx, s.client.ChainID())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list destinations: %w", err)
	}
	addresses := make([]common.Address, 0, len(destinations))
	byAddress := make(map[string]warehouse.Destination, len(destinations))
	for _, destination := range destinations {
		if destination.ExchangeName == idleExchangeName {
			continue
		}
		addresses = append(addresses, common.HexToAddress(destination.DestinationAddress))
		byAddress[destination.DestinationAddress] = destination
	}
	return addresses, byAddress, nil
}

// EnsureDepositsCurrent ingests autopool share-mint events
func (s *Syncer) EnsureDepositsCurrent(ctx context.Context) error {
	index, err := s.autopoolsByVault(ctx)
	if err != nil {
		return err
	}
	event := chain.AutopoolABI.Events["Deposit"]
	logs, toBlock, err := s.streamLogs(ctx, "deposits", index.addresses, []common.Hash{event.ID})
	if err != nil || toBlock == 0 {
		return err
	}

	rows := make([]warehouse.Deposit, 0, len(logs))
	txHashes := make([]string, 0, len(logs))
	for _, log := range logs {
		autopool := index.byAddress[lowerAddr(log.Address)]
		values, err := chain.AutopoolABI.Unpack("Deposit", log.Data)
		if err != nil {
			return fmt.Errorf("failed to decode deposit %s: %w", lowerHash(log.TxHash), err)
		}
		rows = append(rows, warehouse.Deposit{
			ChainID:         s.client.ChainID(),
			TxHash:          lowerHash(log.TxHash),
			LogIndex:        int64(log.Index),
			AutopoolAddress: autopool.VaultAddress,
			BlockNumber:     int64(log.BlockNumber),
			Sender:          lowerAddr(common.BytesToAddress(log.Topics[1].Bytes())),
			Owner:           lowerAddr(common.BytesToAddress(log.Topics[2].Bytes())),
			Assets:          scaleAmount(asBigInt(values[0]), autopool.BaseAssetDecimals),
			Shares:          scaleAmount(asBigInt(values[1]), autopool.BaseAssetDecimals),
		})
		txHashes = append(txHashes, lowerHash(log.TxHash))
	}
	return s.commitEvents(ctx, "deposits", &rows, txHashes, toBlock)
}

// EnsureWithdrawalsCurrent ingests autopool share-burn events
func (s *Syncer) EnsureWithdrawalsCurrent(ctx context.Context) error {
	index, err := s.autopoolsByVault(ctx)
	if err != nil {
		return err
	}
	event := chain.AutopoolABI.Events["Withdraw"]
	logs, toBlock, err := s.streamLogs(ctx, "withdrawals", index.addresses, []common.Hash{event.ID})
	if err != nil || toBlock == 0 {
		return err
	}

	rows := make([]warehouse.Withdrawal, 0, len(logs))
	txHashes := make([]string, 0, len(logs))
	for _, log := range logs {
		autopool := index.byAddress[lowerAddr(log.Address)]
		values, err := chain.AutopoolABI.Unpack("Withdraw", log.Data)
		if err != nil {
			return fmt.Errorf("failed to decode withdrawal %s: %w", lowerHash(log.TxHash), err)
		}
		rows = append(rows, warehouse.Withdrawal{
			ChainID:         s.client.ChainID(),
			TxHash:          lowerHash(log.TxHash),
			LogIndex:        int64(log.Index),
			AutopoolAddress: autopool.VaultAddress,
			BlockNumber:     int64(log.BlockNumber),
			Sender:          lowerAddr(common.BytesToAddress(log.Topics[1].Bytes())),
			Receiver:        lowerAddr(common.BytesToAddress(log.Topics[2].Bytes())),
			Owner:           lowerAddr(common.BytesToAddress(log.Topics[3].Bytes())),
			Assets:          scaleAmount(asBigInt(values[0]), autopool.BaseAssetDecimals),
			Shares:          scaleAmount(asBigInt(values[1]), autopool.BaseAssetDecimals),
		})
		txHashes = append(txHashes, lowerHash(log.TxHash))
	}
	return s.commitEvents(ctx, "withdrawals", &rows, txHashes, toBlock)
}

// EnsureShareTransfersCurrent ingests ERC-20 transfers of autopool shares
func (s *Syncer) EnsureShareTransfersCurrent(ctx context.Context) error {
	index, err := s.autopoolsByVault(ctx)
	if err != nil {
		return err
	}
	event := chain.AutopoolABI.Events["Transfer"]
	logs, toBlock, err := s.streamLogs(ctx, "share_transfers", index.addresses, []common.Hash{event.ID})
	if err != nil || toBlock == 0 {
		return err
	}

	rows := make([]warehouse.ShareTransfer, 0, len(logs))
	txHashes := make([]string, 0, len(logs))
	for _, log := range logs {
		autopool := index.byAddress[lowerAddr(log.Address)]
		values, err := chain.AutopoolABI.Unpack("Transfer", log.Data)
		if err != nil {
			return fmt.Errorf("failed to decode transfer %s: %w", lowerHash(log.TxHash), err)
		}
		rows = append(rows, warehouse.ShareTransfer{
			ChainID:         s.client.ChainID(),
			TxHash:          lowerHash(log.TxHash),
			LogIndex:        int64(log.Index),
			AutopoolAddress: autopool.VaultAddress,
			BlockNumber:     int64(log.BlockNumber),
			FromAddress:     lowerAddr(common.BytesToAddress(log.Topics[1].Bytes())),
			ToAddress:       lowerAddr(common.BytesToAddress(log.Topics[2].Bytes())),
			Value:           scaleAmount(asBigInt(values[0]), autopool.BaseAssetDecimals),
		})
		txHashes = append(txHashes, lowerHash(log.TxHash))
	}
	return s.commitEvents(ctx, "share_transfers", &rows, txHashes, toBlock)
}

// EnsureFeeCollectionsCurrent ingests streaming and periodic fee events in
// one pass, tagging each row with its fee type
func (s *Syncer) EnsureFeeCollectionsCurrent(ctx context.Context) error {
	index, err := s.autopoolsByVault(ctx)
	if err != nil {
		return err
	}
	streaming := chain.AutopoolABI.Events["FeeCollected"]
	periodic := chain.AutopoolABI.Events["PeriodicFeeCollected"]
	logs, toBlock, err := s.streamLogs(ctx, "fee_collections", index.addresses, []common.Hash{streaming.ID, periodic.ID})
	if err != nil || toBlock == 0 {
		return err
	}

	rows := make([]warehouse.FeeCollection, 0, len(logs))
	txHashes := make([]string, 0, len(logs))
	for _, log := range logs {
		autopool := index.byAddress[lowerAddr(log.Address)]

		feeType, eventName := "streaming", "FeeCollected"
		if log.Topics[0] == periodic.ID {
			feeType, eventName = "periodic", "PeriodicFeeCollected"
		}
		values, err := chain.AutopoolABI.Unpack(eventName, log.Data)
		if err != nil {
			return fmt.Errorf("failed to decode %s %s: %w", eventName, lowerHash(log.TxHash), err)
		}
		rows = append(rows, warehouse.FeeCollection{
			ChainID:         s.client.ChainID(),
			TxHash:          lowerHash(log.TxHash),
			LogIndex:        int64(log.Index),
			AutopoolAddress: autopool.VaultAddress,
			BlockNumber:     int64(log.BlockNumber),
			FeeType:         feeType,
			Recipient:       lowerAddr(common.BytesToAddress(log.Topics[1].Bytes())),
			Shares:          scaleAmount(asBigInt(values[0]), autopool.BaseAssetDecimals),
			Assets:          scaleAmount(asBigInt(values[1]), autopool.BaseAssetDecimals),
		})
		txHashes = append(txHashes, lowerHash(log.TxHash))
	}
	return s.commitEvents(ctx, "fee_collections", &rows, txHashes, toBlock)
}

// EnsureIncentiveSwapsCurrent ingests strategy-level swaps of claimed
// incentive tokens into the base asset. Token metadata is fetched before
// scaling since either side may be a first sighting.
func (s *Syncer) EnsureIncentiveSwapsCurrent(ctx context.Context) error {
	index, err := s.autopoolsByStrategy(ctx)
	if err != nil {
		return err
	}
	event := chain.StrategyABI.Events["Swapped"]
	logs, toBlock, err := s.streamLogs(ctx, "incentive_swaps", index.addresses, []common.Hash{event.ID})
	if err != nil || toBlock == 0 {
		return err
	}

	tokens := make([]string, 0, len(logs)*2)
	for _, log := range logs {
		tokens = append(tokens,
			lowerAddr(common.BytesToAddress(log.Topics[1].Bytes())),
			lowerAddr(common.BytesToAddress(log.Topics[2].Bytes())))
	}
	if err := s.EnsureTokensSaved(ctx, tokens); err != nil {
		return err
	}
	decimals, err := s.store.TokenDecimals(ctx, s.client.ChainID())
	if err != nil {
		return fmt.Errorf("failed to read token decimals: %w", err)
	}

	rows := make([]warehouse.IncentiveSwap, 0, len(logs))
	txHashes := make([]string, 0, len(logs))
	for _, log := range logs {
		autopool := index.byAddress[lowerAddr(log.Address)]
		tokenIn := lowerAddr(common.BytesToAddress(log.Topics[1].Bytes()))
		tokenOut := lowerAddr(common.BytesToAddress(log.Topics[2].Bytes()))
		values, err := chain.StrategyABI.Unpack("Swapped", log.Data)
		if err != nil {
			return fmt.Errorf("failed to decode swap %s: %w", lowerHash(log.TxHash), err)
		}
		rows = append(rows, warehouse.IncentiveSwap{
			ChainID:         s.client.ChainID(),
			TxHash:          lowerHash(log.TxHash),
			LogIndex:        int64(log.Index),
			AutopoolAddress: autopool.VaultAddress,
			BlockNumber:     int64(log.BlockNumber),
			TokenIn:         tokenIn,
			TokenOut:        tokenOut,
			AmountIn:        scaleAmount(asBigInt(values[0]), decimals[tokenIn]),
			AmountOut:       scaleAmount(asBigInt(values[1]), decimals[tokenOut]),
		})
		txHashes = append(txHashes, lowerHash(log.TxHash))
	}
	return s.commitEvents(ctx, "incentive_swaps", &rows, txHashes, toBlock)
}

// EnsureIncentiveClaimsCurrent ingests multi-token reward claims, flattened
// into one row per claimed token. The claim array length is bounded; an
// oversized array means the ABI assumption is wrong and the pass aborts.
func (s *Syncer) EnsureIncentiveClaimsCurrent(ctx context.Context) error {
	addresses, _, err := s.destinationsByAddress(ctx)
	if err != nil {
		return err
	}
	event := chain.DestinationABI.Events["RewardsClaimed"]
	logs, toBlock, err := s.streamLogs(ctx, "incentive_claims", addresses, []common.Hash{event.ID})
	if err != nil || toBlock == 0 {
		return err
	}

	type rawClaim struct {
		log     types.Log
		tokens  []common.Address
		amounts []*big.Int
	}
	raws := make([]rawClaim, 0, len(logs))
	tokenAddrs := make([]string, 0, len(logs))
	for _, log := range logs {
		values, err := chain.DestinationABI.Unpack("RewardsClaimed", log.Data)
		if err != nil {
			return fmt.Errorf("failed to decode claim %s: %w", lowerHash(log.TxHash), err)
		}
		claimTokens := values[0].([]common.Address)
		amounts := values[1].([]*big.Int)
		if len(claimTokens) > s.cfg.MaxRewardTokens {
			return fmt.Errorf("claim %s has %d reward tokens, max %d", lowerHash(log.TxHash), len(claimTokens), s.cfg.MaxRewardTokens)
		}
		if len(claimTokens) != len(amounts) {
			return fmt.Errorf("claim %s token/amount length mismatch", lowerHash(log.TxHash))
		}
		raws = append(raws, rawClaim{log: log, tokens: claimTokens, amounts: amounts})
		for _, token := range claimTokens {
			tokenAddrs = append(tokenAddrs, lowerAddr(token))
		}
	}
	if err := s.EnsureTokensSaved(ctx, tokenAddrs); err != nil {
		return err
	}
	decimals, err := s.store.TokenDecimals(ctx, s.client.ChainID())
	if err != nil {
		return fmt.Errorf("failed to read token decimals: %w", err)
	}

	var rows []warehouse.IncentiveClaim
	txHashes := make([]string, 0, len(raws))
	for _, raw := range raws {
		for i, token := range raw.tokens {
			tokenAddr := lowerAddr(token)
			rows = append(rows, warehouse.IncentiveClaim{
				ChainID:            s.client.ChainID(),
				TxHash:             lowerHash(raw.log.TxHash),
				LogIndex:           int64(raw.log.Index),
				TokenIndex:         i,
				DestinationAddress: lowerAddr(raw.log.Address),
				BlockNumber:        int64(raw.log.BlockNumber),
				TokenAddress:       tokenAddr,
				Amount:             scaleAmount(raw.amounts[i], decimals[tokenAddr]),
			})
		}
		txHashes = append(txHashes, lowerHash(raw.log.TxHash))
	}
	return s.commitEvents(ctx, "incentive_claims", &rows, txHashes, toBlock)
}

// EnsureUnderlyingDepositsCurrent ingests destination-vault deposits,
// flattened per constituent token in on-chain order
func (s *Syncer) EnsureUnderlyingDepositsCurrent(ctx context.Context) error {
	return s.ensureUnderlyingFlowsCurrent(ctx, "underlying_deposits", "UnderlyingDeposited")
}

// EnsureUnderlyingWithdrawalsCurrent ingests destination-vault withdrawals
func (s *Syncer) EnsureUnderlyingWithdrawalsCurrent(ctx context.Context) error {
	return s.ensureUnderlyingFlowsCurrent(ctx, "underlying_withdrawals", "UnderlyingWithdraw")
}

func (s *Syncer) ensureUnderlyingFlowsCurrent(ctx context.Context, table, eventName string) error {
	addresses, byAddress, err := s.destinationsByAddress(ctx)
	if err != nil {
		return err
	}
	event := chain.DestinationABI.Events[eventName]
	logs, toBlock, err := s.streamLogs(ctx, table, addresses, []common.Hash{event.ID})
	if err != nil || toBlock == 0 {
		return err
	}

	decimals, err := s.store.TokenDecimals(ctx, s.client.ChainID())
	if err != nil {
		return fmt.Errorf("failed to read token decimals: %w", err)
	}
	constituents := make(map[string][]warehouse.DestinationToken)

	var deposits []warehouse.UnderlyingDeposit
	var withdrawals []warehouse.UnderlyingWithdrawal
	txHashes := make([]string, 0, len(logs))
	for _, log := range logs {
		destination := lowerAddr(log.Address)
		values, err := chain.DestinationABI.Unpack(eventName, log.Data)
		if err != nil {
			return fmt.Errorf("failed to decode %s %s: %w", eventName, lowerHash(log.TxHash), err)
		}
		amounts := values[0].([]*big.Int)
		shares := scaleAmount(asBigInt(values[1]), byAddress[destination].Decimals)

		tokens, ok := constituents[destination]
		if !ok {
			tokens, err = s.store.ListDestinationTokens(ctx, s.client.ChainID(), destination)
			if err != nil {
				return fmt.Errorf("failed to list tokens of %s: %w", destination, err)
			}
			constituents[destination] = tokens
		}
		if len(amounts) != len(tokens) {
			return fmt.Errorf("%s %s has %d amounts for %d tokens", eventName, lowerHash(log.TxHash), len(amounts), len(tokens))
		}

		for i, amount := range amounts {
			scaled := scaleAmount(amount, decimals[tokens[i].TokenAddress])
			if table == "underlying_deposits" {
				deposits = append(deposits, warehouse.UnderlyingDeposit{
					ChainID: s.client.ChainID(), TxHash: lowerHash(log.TxHash), LogIndex: int64(log.Index),
					TokenIndex: i, DestinationAddress: destination, BlockNumber: int64(log.BlockNumber),
					Amount: scaled, Shares: shares,
				})
			} else {
				withdrawals = append(withdrawals, warehouse.UnderlyingWithdrawal{
					ChainID: s.client.ChainID(), TxHash: lowerHash(log.TxHash), LogIndex: int64(log.Index),
					TokenIndex: i, DestinationAddress: destination, BlockNumber: int64(log.BlockNumber),
					Amount: scaled, Shares: shares,
				})
			}
		}
		txHashes = append(txHashes, lowerHash(log.TxHash))
	}

	if table == "underlying_deposits" {
		return s.commitEvents(ctx, table, &deposits, txHashes, toBlock)
	}
	return s.commitEvents(ctx, table, &withdrawals, txHashes, toBlock)
}

// EnsureBalanceUpdatesCurrent ingests autopool destination-share balance
// change events
func (s *Syncer) EnsureBalanceUpdatesCurrent(ctx context.Context) error {
	index, err := s.autopoolsByVault(ctx)
	if err != nil {
		return err
	}
	_, destinations, err := s.destinationsByAddress(ctx)
	if err != nil {
		return err
	}
	event := chain.AutopoolABI.Events["BalanceUpdated"]
	logs, toBlock, err := s.streamLogs(ctx, "balance_updates", index.addresses, []common.Hash{event.ID})
	if err != nil || toBlock == 0 {
		return err
	}

	rows := make([]warehouse.BalanceUpdate, 0, len(logs))
	txHashes := make([]string, 0, len(logs))
	for _, log := range logs {
		autopool := index.byAddress[lowerAddr(log.Address)]
		destination := lowerAddr(common.BytesToAddress(log.Topics[1].Bytes()))
		values, err := chain.AutopoolABI.Unpack("BalanceUpdated", log.Data)
		if err != nil {
			return fmt.Errorf("failed to decode balance update %s: %w", lowerHash(log.TxHash), err)
		}
		destinationDecimals := autopool.BaseAssetDecimals
		if d, ok := destinations[destination]; ok {
			destinationDecimals = d.Decimals
		}
		rows = append(rows, warehouse.BalanceUpdate{
			ChainID:            s.client.ChainID(),
			TxHash:             lowerHash(log.TxHash),
			LogIndex:           int64(log.Index),
			AutopoolAddress:    autopool.VaultAddress,
			DestinationAddress: destination,
			BlockNumber:        int64(log.BlockNumber),
			Balance:            scaleAmount(asBigInt(values[0]), destinationDecimals),
		})
		txHashes = append(txHashes, lowerHash(log.TxHash))
	}
	return s.commitEvents(ctx, "balance_updates", &rows, txHashes, toBlock)
}
