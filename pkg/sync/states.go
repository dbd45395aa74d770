package sync

import (
	"context"
	"fmt"
	"math/big"

	"github.com/alitto/pond/v2"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/autopool-labs/autopool-warehouse/internal/metrics"
	"github.com/autopool-labs/autopool-warehouse/pkg/chain"
	"github.com/autopool-labs/autopool-warehouse/pkg/warehouse"
)

// pricePrecision is the fixed-point scale of on-chain prices and APRs,
// denominated in the autopool base asset
const pricePrecision = 18

// State updaters derive per-block snapshots. Target blocks come from an
// anti-join against the upstream table, so each pass naturally resumes after
// a crash. Reverted calls become explicit NULLs: a destination may
// legitimately not exist yet at a historical block.

func (s *Syncer) stateWorkers() int {
	if s.cfg.StateWorkers > 0 {
		return s.cfg.StateWorkers
	}
	return 8
}

// EnsureDestinationStatesCurrent snapshots APRs, supply and LP prices for
// every destination at every block still missing one. The idle
// pseudo-destination is priced at exactly 1.0 with no venue stats.
func (s *Syncer) EnsureDestinationStatesCurrent(ctx context.Context) error {
	destinations, err := s.store.ListAllDestinations(ctx, s.client.ChainID())
	if err != nil {
		return fmt.Errorf("failed to list destinations: %w", err)
	}

	pool := pond.NewPool(s.stateWorkers())
	defer pool.StopAndWait()
	group := pool.NewGroupContext(ctx)

	for _, destination := range destinations {
		group.SubmitErr(func() error {
			return s.syncDestinationStates(ctx, destination)
		})
	}
	return group.Wait()
}

func (s *Syncer) syncDestinationStates(ctx context.Context, destination warehouse.Destination) error {
	blocks, err := s.store.MissingDestinationStateBlocks(ctx, s.client.ChainID(), destination.DestinationAddress)
	if err != nil {
		return err
	}
	if len(blocks) == 0 {
		return nil
	}
	s.logger.Info("Snapshotting destination states",
		zap.String("destination", destination.DestinationAddress),
		zap.Int("blocks", len(blocks)))

	rows := make([]warehouse.DestinationState, 0, len(blocks))
	for _, blockNumber := range blocks {
		row := warehouse.DestinationState{
			ChainID:            s.client.ChainID(),
			DestinationAddress: destination.DestinationAddress,
			BlockNumber:        blockNumber,
		}

		if destination.ExchangeName == idleExchangeName {
			one := 1.0
			row.LPSpotPrice = &one
			row.LPSafePrice = &one
			rows = append(rows, row)
			continue
		}

		target := common.HexToAddress(destination.DestinationAddress)
		results, err := s.multicallChunked(ctx, blockNumber, []chain.Call{
			chain.ViewCall(target, chain.DestinationABI, "currentStats", chain.FieldStats),
			chain.ViewCall(target, chain.DestinationABI, "totalSupply", chain.FieldTotalSupply),
			chain.ViewCall(target, chain.DestinationABI, "getUnderlyerSpotPrice", chain.FieldSpotPrice),
			chain.ViewCall(target, chain.DestinationABI, "getUnderlyerSafePrice", chain.FieldSafePrice),
		})
		if err != nil {
			return fmt.Errorf("destination state multicall at block %d failed: %w", blockNumber, err)
		}

		if stats := results[chain.CallKey{Entity: target, Field: chain.FieldStats}]; stats.Ok {
			baseAPR := scaleAmount(asBigInt(stats.Values[0]), pricePrecision)
			feeAPR := scaleAmount(asBigInt(stats.Values[1]), pricePrecision)
			incentiveAPR := scaleAmount(asBigInt(stats.Values[2]), pricePrecision)
			row.BaseAPR = &baseAPR
			row.FeeAPR = &feeAPR
			row.IncentiveAPR = &incentiveAPR
		}
		if supply := results[chain.CallKey{Entity: target, Field: chain.FieldTotalSupply}]; supply.Ok {
			v := scaleAmount(asBigInt(supply.Values[0]), destination.Decimals)
			row.TotalSupply = &v
		}
		if spot := results[chain.CallKey{Entity: target, Field: chain.FieldSpotPrice}]; spot.Ok {
			v := scaleAmount(asBigInt(spot.Values[0]), pricePrecision)
			row.LPSpotPrice = &v
		}
		if safe := results[chain.CallKey{Entity: target, Field: chain.FieldSafePrice}]; safe.Ok {
			v := scaleAmount(asBigInt(safe.Values[0]), pricePrecision)
			row.LPSafePrice = &v
		}
		rows = append(rows, row)
	}

	inserted, err := s.store.InsertIgnoreDuplicates(ctx, &rows)
	if err != nil {
		return fmt.Errorf("failed to insert destination states: %w", err)
	}
	metrics.RowsInserted.WithLabelValues(s.chainCfg.Name, "destination_states").Add(float64(inserted))
	return nil
}

// EnsureAutopoolDestinationStatesCurrent snapshots each autopool's share
// balance at every destination. The idle pseudo-destination's "shares" are
// the autopool's literal un-deployed base asset balance.
func (s *Syncer) EnsureAutopoolDestinationStatesCurrent(ctx context.Context) error {
	autopools, err := s.store.ListAutopools(ctx, s.client.ChainID())
	if err != nil {
		return fmt.Errorf("failed to list autopools: %w", err)
	}

	pool := pond.NewPool(s.stateWorkers())
	defer pool.StopAndWait()
	group := pool.NewGroupContext(ctx)

	for _, autopool := range autopools {
		destinations, err := s.store.ListDestinations(ctx, s.client.ChainID(), autopool.VaultAddress)
		if err != nil {
			return fmt.Errorf("failed to list destinations of %s: %w", autopool.VaultAddress, err)
		}
		for _, destination := range destinations {
			group.SubmitErr(func() error {
				return s.syncOwnedShares(ctx, autopool, destination)
			})
		}
	}
	return group.Wait()
}

func (s *Syncer) syncOwnedShares(ctx context.Context, autopool warehouse.Autopool, destination warehouse.Destination) error {
	blocks, err := s.store.MissingAutopoolDestinationStateBlocks(ctx, s.client.ChainID(), autopool.VaultAddress, destination.DestinationAddress)
	if err != nil {
		return err
	}
	if len(blocks) == 0 {
		return nil
	}

	vault := common.HexToAddress(autopool.VaultAddress)
	idle := destination.ExchangeName == idleExchangeName

	// idle balance lives on the base asset contract, real destinations hold
	// the autopool's shares themselves
	target := common.HexToAddress(destination.DestinationAddress)
	decimals := destination.Decimals
	if idle {
		target = common.HexToAddress(autopool.BaseAsset)
		decimals = autopool.BaseAssetDecimals
	}

	rows := make([]warehouse.AutopoolDestinationState, 0, len(blocks))
	for _, blockNumber := range blocks {
		results, err := s.multicallChunked(ctx, blockNumber, []chain.Call{
			chain.KeyedCall(target, target, chain.ERC20ABI, "balanceOf", chain.FieldBalanceOf, vault),
		})
		if err != nil {
			return fmt.Errorf("owned shares multicall at block %d failed: %w", blockNumber, err)
		}

		row := warehouse.AutopoolDestinationState{
			ChainID:            s.client.ChainID(),
			AutopoolAddress:    autopool.VaultAddress,
			DestinationAddress: destination.DestinationAddress,
			BlockNumber:        blockNumber,
		}
		if balance := results[chain.CallKey{Entity: target, Field: chain.FieldBalanceOf}]; balance.Ok {
			v := scaleAmount(asBigInt(balance.Values[0]), decimals)
			row.OwnedShares = &v
		}
		rows = append(rows, row)
	}

	inserted, err := s.store.InsertIgnoreDuplicates(ctx, &rows)
	if err != nil {
		return fmt.Errorf("failed to insert owned shares: %w", err)
	}
	metrics.RowsInserted.WithLabelValues(s.chainCfg.Name, "autopool_destination_states").Add(float64(inserted))
	return nil
}

// EnsureAutopoolStatesCurrent snapshots each autopool's total shares, NAV
// and NAV per share
func (s *Syncer) EnsureAutopoolStatesCurrent(ctx context.Context) error {
	autopools, err := s.store.ListAutopools(ctx, s.client.ChainID())
	if err != nil {
		return fmt.Errorf("failed to list autopools: %w", err)
	}

	pool := pond.NewPool(s.stateWorkers())
	defer pool.StopAndWait()
	group := pool.NewGroupContext(ctx)

	for _, autopool := range autopools {
		group.SubmitErr(func() error {
			return s.syncAutopoolStates(ctx, autopool)
		})
	}
	return group.Wait()
}

func (s *Syncer) syncAutopoolStates(ctx context.Context, autopool warehouse.Autopool) error {
	blocks, err := s.store.MissingAutopoolStateBlocks(ctx, s.client.ChainID(), autopool.VaultAddress)
	if err != nil {
		return err
	}
	if len(blocks) == 0 {
		return nil
	}

	vault := common.HexToAddress(autopool.VaultAddress)
	rows := make([]warehouse.AutopoolState, 0, len(blocks))
	for _, blockNumber := range blocks {
		results, err := s.multicallChunked(ctx, blockNumber, []chain.Call{
			chain.ViewCall(vault, chain.AutopoolABI, "totalSupply", chain.FieldTotalSupply),
			chain.ViewCall(vault, chain.AutopoolABI, "totalAssets", chain.FieldTotalAssets),
		})
		if err != nil {
			return fmt.Errorf("autopool state multicall at block %d failed: %w", blockNumber, err)
		}

		supply := results[chain.CallKey{Entity: vault, Field: chain.FieldTotalSupply}]
		assets := results[chain.CallKey{Entity: vault, Field: chain.FieldTotalAssets}]
		if !supply.Ok || !assets.Ok {
			return fmt.Errorf("autopool %s accounting calls reverted at block %d", autopool.VaultAddress, blockNumber)
		}

		totalShares := scaleAmount(asBigInt(supply.Values[0]), autopool.BaseAssetDecimals)
		totalNav := scaleAmount(asBigInt(assets.Values[0]), autopool.BaseAssetDecimals)
		navPerShare := 0.0
		if totalShares > 0 {
			navPerShare = totalNav / totalShares
		}
		rows = append(rows, warehouse.AutopoolState{
			ChainID:         s.client.ChainID(),
			AutopoolAddress: autopool.VaultAddress,
			BlockNumber:     blockNumber,
			TotalShares:     totalShares,
			TotalNav:        totalNav,
			NavPerShare:     navPerShare,
		})
	}

	inserted, err := s.store.InsertIgnoreDuplicates(ctx, &rows)
	if err != nil {
		return fmt.Errorf("failed to insert autopool states: %w", err)
	}
	metrics.RowsInserted.WithLabelValues(s.chainCfg.Name, "autopool_states").Add(float64(inserted))
	return nil
}

// EnsureDestinationTokenValuesCurrent snapshots per-token reserve quantities
// and base-asset spot prices for every destination. The idle
// pseudo-destination reports the autopool's un-deployed balance at price 1.0.
func (s *Syncer) EnsureDestinationTokenValuesCurrent(ctx context.Context) error {
	destinations, err := s.store.ListAllDestinations(ctx, s.client.ChainID())
	if err != nil {
		return fmt.Errorf("failed to list destinations: %w", err)
	}
	autopools, err := s.autopoolsByVault(ctx)
	if err != nil {
		return err
	}

	pool := pond.NewPool(s.stateWorkers())
	defer pool.StopAndWait()
	group := pool.NewGroupContext(ctx)

	for _, destination := range destinations {
		group.SubmitErr(func() error {
			return s.syncTokenValues(ctx, destination, autopools)
		})
	}
	return group.Wait()
}

func (s *Syncer) syncTokenValues(ctx context.Context, destination warehouse.Destination, autopools *autopoolIndex) error {
	blocks, err := s.store.MissingDestinationTokenValueBlocks(ctx, s.client.ChainID(), destination.DestinationAddress)
	if err != nil {
		return err
	}
	if len(blocks) == 0 {
		return nil
	}

	tokens, err := s.store.ListDestinationTokens(ctx, s.client.ChainID(), destination.DestinationAddress)
	if err != nil {
		return fmt.Errorf("failed to list tokens of %s: %w", destination.DestinationAddress, err)
	}
	decimals, err := s.store.TokenDecimals(ctx, s.client.ChainID())
	if err != nil {
		return fmt.Errorf("failed to read token decimals: %w", err)
	}

	if destination.ExchangeName == idleExchangeName {
		return s.syncIdleTokenValues(ctx, destination, autopools, blocks)
	}

	target := common.HexToAddress(destination.DestinationAddress)
	registry := s.client.Registry()

	rows := make([]warehouse.DestinationTokenValue, 0, len(blocks)*len(tokens))
	for _, blockNumber := range blocks {
		calls := []chain.Call{
			chain.ViewCall(target, chain.DestinationABI, "underlyingReserves", chain.FieldUnderlyingReserves),
		}
		for _, token := range tokens {
			tokenAddr := common.HexToAddress(token.TokenAddress)
			calls = append(calls, chain.KeyedCall(tokenAddr, registry, chain.RegistryABI, "getPriceInBase", chain.FieldPriceInBase, tokenAddr))
		}

		results, err := s.multicallChunked(ctx, blockNumber, calls)
		if err != nil {
			return fmt.Errorf("token value multicall at block %d failed: %w", blockNumber, err)
		}

		reserves := results[chain.CallKey{Entity: target, Field: chain.FieldUnderlyingReserves}]
		var reserveValues []*big.Int
		if reserves.Ok {
			reserveValues = reserves.Values[0].([]*big.Int)
			if len(reserveValues) != len(tokens) {
				return fmt.Errorf("destination %s returned %d reserves for %d tokens at block %d",
					destination.DestinationAddress, len(reserveValues), len(tokens), blockNumber)
			}
		}

		for i, token := range tokens {
			row := warehouse.DestinationTokenValue{
				ChainID:            s.client.ChainID(),
				DestinationAddress: destination.DestinationAddress,
				TokenAddress:       token.TokenAddress,
				BlockNumber:        blockNumber,
			}
			if reserves.Ok {
				v := scaleAmount(reserveValues[i], decimals[token.TokenAddress])
				row.Quantity = &v
			}
			if price := results[chain.CallKey{Entity: common.HexToAddress(token.TokenAddress), Field: chain.FieldPriceInBase}]; price.Ok {
				v := scaleAmount(asBigInt(price.Values[0]), pricePrecision)
				row.SpotPrice = &v
			}
			rows = append(rows, row)
		}
	}

	inserted, err := s.store.InsertIgnoreDuplicates(ctx, &rows)
	if err != nil {
		return fmt.Errorf("failed to insert token values: %w", err)
	}
	metrics.RowsInserted.WithLabelValues(s.chainCfg.Name, "destination_token_values").Add(float64(inserted))
	return nil
}

func (s *Syncer) syncIdleTokenValues(ctx context.Context, destination warehouse.Destination, autopools *autopoolIndex, blocks []int64) error {
	autopool, ok := autopools.byAddress[destination.DestinationAddress]
	if !ok {
		return fmt.Errorf("idle destination %s has no autopool", destination.DestinationAddress)
	}
	baseAsset := common.HexToAddress(autopool.BaseAsset)
	vault := common.HexToAddress(autopool.VaultAddress)

	rows := make([]warehouse.DestinationTokenValue, 0, len(blocks))
	for _, blockNumber := range blocks {
		results, err := s.multicallChunked(ctx, blockNumber, []chain.Call{
			chain.KeyedCall(baseAsset, baseAsset, chain.ERC20ABI, "balanceOf", chain.FieldBalanceOf, vault),
		})
		if err != nil {
			return fmt.Errorf("idle balance multicall at block %d failed: %w", blockNumber, err)
		}

		one := 1.0
		row := warehouse.DestinationTokenValue{
			ChainID:            s.client.ChainID(),
			DestinationAddress: destination.DestinationAddress,
			TokenAddress:       autopool.BaseAsset,
			BlockNumber:        blockNumber,
			SpotPrice:          &one,
		}
		if balance := results[chain.CallKey{Entity: baseAsset, Field: chain.FieldBalanceOf}]; balance.Ok {
			v := scaleAmount(asBigInt(balance.Values[0]), autopool.BaseAssetDecimals)
			row.Quantity = &v
		}
		rows = append(rows, row)
	}

	inserted, err := s.store.InsertIgnoreDuplicates(ctx, &rows)
	if err != nil {
		return fmt.Errorf("failed to insert idle token values: %w", err)
	}
	metrics.RowsInserted.WithLabelValues(s.chainCfg.Name, "destination_token_values").Add(float64(inserted))
	return nil
}
