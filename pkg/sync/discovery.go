package sync

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/autopool-labs/autopool-warehouse/internal/metrics"
	"github.com/autopool-labs/autopool-warehouse/pkg/chain"
	"github.com/autopool-labs/autopool-warehouse/pkg/warehouse"
)

// idleExchangeName marks the synthetic idle pseudo-destination each autopool
// gets, modelling un-deployed base asset as its own always-liquid venue.
const idleExchangeName = "idle"

// EnsureAutopoolsCurrent discovers autopools from the on-chain registry and
// stores any new ones along with their destinations, destination token lists
// and the synthetic idle destination. Links are append-only: a destination
// once linked stays linked even if later removed on-chain.
func (s *Syncer) EnsureAutopoolsCurrent(ctx context.Context) error {
	vaults, err := s.listRegistryVaults(ctx)
	if err != nil {
		return err
	}
	if len(vaults) == 0 {
		s.logger.Warn("Registry lists no autopools")
		return nil
	}

	if err := s.saveNewAutopools(ctx, vaults); err != nil {
		return err
	}

	autopools, err := s.store.ListAutopools(ctx, s.client.ChainID())
	if err != nil {
		return fmt.Errorf("failed to list autopools: %w", err)
	}
	for _, autopool := range autopools {
		if err := s.ensureDestinationsCurrent(ctx, autopool); err != nil {
			return fmt.Errorf("failed to sync destinations of %s: %w", autopool.VaultAddress, err)
		}
	}
	return nil
}

func (s *Syncer) listRegistryVaults(ctx context.Context) ([]common.Address, error) {
	registry := s.client.Registry()
	results, err := s.multicallChunked(ctx, 0, []chain.Call{
		chain.ViewCall(registry, chain.RegistryABI, "listVaults", chain.FieldVaults),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list registry vaults: %w", err)
	}
	result := results[chain.CallKey{Entity: registry, Field: chain.FieldVaults}]
	if !result.Ok {
		return nil, fmt.Errorf("registry listVaults reverted at %s", registry.Hex())
	}
	vaults, ok := result.Values[0].([]common.Address)
	if !ok {
		return nil, fmt.Errorf("unexpected listVaults result type %T", result.Values[0])
	}
	return vaults, nil
}

func (s *Syncer) saveNewAutopools(ctx context.Context, vaults []common.Address) error {
	candidates := make([]string, len(vaults))
	byAddress := make(map[string]common.Address, len(vaults))
	for i, vault := range vaults {
		candidates[i] = lowerAddr(vault)
		byAddress[candidates[i]] = vault
	}

	missing, err := s.store.MissingValues(ctx, (*warehouse.Autopool)(nil), "vault_address", candidates,
		warehouse.Filter{Column: "chain_id", Value: s.client.ChainID()})
	if err != nil {
		return fmt.Errorf("failed to find new autopools: %w", err)
	}
	if len(missing) == 0 {
		return nil
	}
	s.logger.Info("Discovered new autopools", zap.Int("count", len(missing)))

	var calls []chain.Call
	for _, addr := range missing {
		vault := byAddress[addr]
		calls = append(calls,
			chain.ViewCall(vault, chain.AutopoolABI, "symbol", chain.FieldSymbol),
			chain.ViewCall(vault, chain.AutopoolABI, "name", chain.FieldName),
			chain.ViewCall(vault, chain.AutopoolABI, "asset", chain.FieldAsset),
			chain.ViewCall(vault, chain.AutopoolABI, "strategy", chain.FieldStrategy),
			chain.ViewCall(vault, chain.AutopoolABI, "deployBlock", chain.FieldDeployBlock),
		)
	}
	results, err := s.multicallChunked(ctx, 0, calls)
	if err != nil {
		return fmt.Errorf("failed to fetch autopool details: %w", err)
	}

	baseAssets := make([]string, 0, len(missing))
	for _, addr := range missing {
		asset := results[chain.CallKey{Entity: byAddress[addr], Field: chain.FieldAsset}]
		if !asset.Ok {
			return fmt.Errorf("autopool %s asset() reverted", addr)
		}
		baseAssets = append(baseAssets, lowerAddr(asset.Values[0].(common.Address)))
	}
	if err := s.EnsureTokensSaved(ctx, baseAssets); err != nil {
		return err
	}
	decimalsByToken, err := s.store.TokenDecimals(ctx, s.client.ChainID())
	if err != nil {
		return fmt.Errorf("failed to read token decimals: %w", err)
	}

	rows := make([]warehouse.Autopool, 0, len(missing))
	deployBlocks := make([]int64, 0, len(missing))
	for i, addr := range missing {
		vault := byAddress[addr]
		symbol := results[chain.CallKey{Entity: vault, Field: chain.FieldSymbol}]
		name := results[chain.CallKey{Entity: vault, Field: chain.FieldName}]
		strategy := results[chain.CallKey{Entity: vault, Field: chain.FieldStrategy}]
		deployBlock := results[chain.CallKey{Entity: vault, Field: chain.FieldDeployBlock}]
		if !symbol.Ok || !name.Ok || !strategy.Ok {
			return fmt.Errorf("autopool %s detail call reverted", addr)
		}

		// older deployments predate the deployBlock() view
		deployedAt := s.chainCfg.FirstDeployBlock
		if deployBlock.Ok {
			deployedAt = asBigInt(deployBlock.Values[0]).Int64()
		}
		deployBlocks = append(deployBlocks, deployedAt)

		rows = append(rows, warehouse.Autopool{
			ChainID:           s.client.ChainID(),
			VaultAddress:      addr,
			Symbol:            symbol.Values[0].(string),
			Name:              name.Values[0].(string),
			StrategyAddress:   lowerAddr(strategy.Values[0].(common.Address)),
			BaseAsset:         baseAssets[i],
			BaseAssetDecimals: decimalsByToken[baseAssets[i]],
			DeployBlock:       deployedAt,
		})
	}

	if err := s.EnsureBlocksSaved(ctx, deployBlocks); err != nil {
		return err
	}

	inserted, err := s.store.InsertIgnoreDuplicates(ctx, &rows)
	if err != nil {
		return fmt.Errorf("failed to insert autopools: %w", err)
	}
	metrics.RowsInserted.WithLabelValues(s.chainCfg.Name, "autopools").Add(float64(inserted))
	return nil
}

func (s *Syncer) ensureDestinationsCurrent(ctx context.Context, autopool warehouse.Autopool) error {
	vault := common.HexToAddress(autopool.VaultAddress)
	results, err := s.multicallChunked(ctx, 0, []chain.Call{
		chain.ViewCall(vault, chain.AutopoolABI, "getDestinations", chain.FieldDestinations),
	})
	if err != nil {
		return fmt.Errorf("failed to fetch destinations: %w", err)
	}
	result := results[chain.CallKey{Entity: vault, Field: chain.FieldDestinations}]
	if !result.Ok {
		return fmt.Errorf("getDestinations reverted for %s", autopool.VaultAddress)
	}
	destinations := result.Values[0].([]common.Address)

	candidates := make([]string, 0, len(destinations)+1)
	for _, destination := range destinations {
		candidates = append(candidates, lowerAddr(destination))
	}
	// the idle pseudo-destination shares the autopool's address
	candidates = append(candidates, autopool.VaultAddress)

	links := make([]warehouse.AutopoolDestination, 0, len(candidates))
	for _, addr := range candidates {
		links = append(links, warehouse.AutopoolDestination{
			ChainID:            s.client.ChainID(),
			AutopoolAddress:    autopool.VaultAddress,
			DestinationAddress: addr,
		})
	}

	missing, err := s.store.MissingValues(ctx, (*warehouse.Destination)(nil), "destination_address", candidates,
		warehouse.Filter{Column: "chain_id", Value: s.client.ChainID()})
	if err != nil {
		return fmt.Errorf("failed to find new destinations: %w", err)
	}

	if err := s.saveNewDestinations(ctx, autopool, missing); err != nil {
		return err
	}

	inserted, err := s.store.InsertIgnoreDuplicates(ctx, &links)
	if err != nil {
		return fmt.Errorf("failed to insert destination links: %w", err)
	}
	metrics.RowsInserted.WithLabelValues(s.chainCfg.Name, "autopool_destinations").Add(float64(inserted))
	return nil
}

func (s *Syncer) saveNewDestinations(ctx context.Context, autopool warehouse.Autopool, missing []string) error {
	if len(missing) == 0 {
		return nil
	}
	s.logger.Info("Discovered new destinations",
		zap.String("autopool", autopool.VaultAddress),
		zap.Int("count", len(missing)))

	var destinationRows []warehouse.Destination
	var tokenRows []warehouse.DestinationToken
	var vaultAddrs []string

	for _, addr := range missing {
		if addr == autopool.VaultAddress {
			destinationRows = append(destinationRows, warehouse.Destination{
				ChainID:            s.client.ChainID(),
				DestinationAddress: addr,
				PoolAddress:        addr,
				Underlying:         autopool.BaseAsset,
				UnderlyingSymbol:   autopool.Symbol,
				UnderlyingName:     autopool.Name,
				ExchangeName:       idleExchangeName,
				PoolType:           idleExchangeName,
				Decimals:           autopool.BaseAssetDecimals,
			})
			tokenRows = append(tokenRows, warehouse.DestinationToken{
				ChainID:            s.client.ChainID(),
				DestinationAddress: addr,
				TokenIndex:         0,
				TokenAddress:       autopool.BaseAsset,
			})
			continue
		}
		vaultAddrs = append(vaultAddrs, addr)
	}

	if len(vaultAddrs) > 0 {
		var calls []chain.Call
		for _, addr := range vaultAddrs {
			destination := common.HexToAddress(addr)
			calls = append(calls,
				chain.ViewCall(destination, chain.DestinationABI, "getPool", chain.FieldPool),
				chain.ViewCall(destination, chain.DestinationABI, "underlying", chain.FieldUnderlying),
				chain.ViewCall(destination, chain.DestinationABI, "exchangeName", chain.FieldExchangeName),
				chain.ViewCall(destination, chain.DestinationABI, "poolType", chain.FieldPoolType),
				chain.ViewCall(destination, chain.DestinationABI, "decimals", chain.FieldDecimals),
				chain.ViewCall(destination, chain.DestinationABI, "underlyingTokens", chain.FieldUnderlyingTokens),
			)
		}
		results, err := s.multicallChunked(ctx, 0, calls)
		if err != nil {
			return fmt.Errorf("failed to fetch destination details: %w", err)
		}

		// collect underlying + constituent tokens so metadata exists before
		// the destination rows reference it
		var tokens []string
		underlyings := make(map[string]string, len(vaultAddrs))
		constituents := make(map[string][]string, len(vaultAddrs))
		for _, addr := range vaultAddrs {
			destination := common.HexToAddress(addr)
			underlying := results[chain.CallKey{Entity: destination, Field: chain.FieldUnderlying}]
			underlyingTokens := results[chain.CallKey{Entity: destination, Field: chain.FieldUnderlyingTokens}]
			if !underlying.Ok || !underlyingTokens.Ok {
				return fmt.Errorf("destination %s underlying calls reverted", addr)
			}
			underlyings[addr] = lowerAddr(underlying.Values[0].(common.Address))
			tokens = append(tokens, underlyings[addr])
			for _, token := range underlyingTokens.Values[0].([]common.Address) {
				constituents[addr] = append(constituents[addr], lowerAddr(token))
				tokens = append(tokens, lowerAddr(token))
			}
		}
		if err := s.EnsureTokensSaved(ctx, tokens); err != nil {
			return err
		}

		for _, addr := range vaultAddrs {
			destination := common.HexToAddress(addr)
			pool := results[chain.CallKey{Entity: destination, Field: chain.FieldPool}]
			exchangeName := results[chain.CallKey{Entity: destination, Field: chain.FieldExchangeName}]
			poolType := results[chain.CallKey{Entity: destination, Field: chain.FieldPoolType}]
			decimals := results[chain.CallKey{Entity: destination, Field: chain.FieldDecimals}]
			if !pool.Ok || !exchangeName.Ok || !poolType.Ok || !decimals.Ok {
				return fmt.Errorf("destination %s detail call reverted", addr)
			}

			underlyingToken, err := s.store.GetToken(ctx, s.client.ChainID(), underlyings[addr])
			if err != nil {
				return fmt.Errorf("failed to read underlying token %s: %w", underlyings[addr], err)
			}
			if underlyingToken == nil {
				return fmt.Errorf("underlying token %s missing after metadata fetch", underlyings[addr])
			}

			destinationRows = append(destinationRows, warehouse.Destination{
				ChainID:            s.client.ChainID(),
				DestinationAddress: addr,
				PoolAddress:        lowerAddr(pool.Values[0].(common.Address)),
				Underlying:         underlyings[addr],
				UnderlyingSymbol:   underlyingToken.Symbol,
				UnderlyingName:     underlyingToken.Name,
				ExchangeName:       exchangeName.Values[0].(string),
				PoolType:           poolType.Values[0].(string),
				Decimals:           int(decimals.Values[0].(uint8)),
			})
			for i, token := range constituents[addr] {
				tokenRows = append(tokenRows, warehouse.DestinationToken{
					ChainID:            s.client.ChainID(),
					DestinationAddress: addr,
					TokenIndex:         i,
					TokenAddress:       token,
				})
			}
		}
	}

	inserted, err := s.store.InsertIgnoreDuplicates(ctx, &destinationRows)
	if err != nil {
		return fmt.Errorf("failed to insert destinations: %w", err)
	}
	metrics.RowsInserted.WithLabelValues(s.chainCfg.Name, "destinations").Add(float64(inserted))

	if _, err := s.store.InsertIgnoreDuplicates(ctx, &tokenRows); err != nil {
		return fmt.Errorf("failed to insert destination tokens: %w", err)
	}
	return nil
}
