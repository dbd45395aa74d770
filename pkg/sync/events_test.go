package sync

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopool-labs/autopool-warehouse/pkg/chain"
	"github.com/autopool-labs/autopool-warehouse/pkg/warehouse"
)

func addressTopic(addr common.Address) common.Hash {
	return common.BytesToHash(common.LeftPadBytes(addr.Bytes(), 32))
}

func tokens18(v int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(v), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func TestEnsureDepositsCurrent(t *testing.T) {
	ctx := context.Background()

	vault := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	sender := common.HexToAddress("0x00000000000000000000000000000000000000b1")
	owner := common.HexToAddress("0x00000000000000000000000000000000000000c1")
	txHash := common.HexToHash(testHash(7))

	event := chain.AutopoolABI.Events["Deposit"]
	data, err := event.Inputs.NonIndexed().Pack(tokens18(5), tokens18(4))
	require.NoError(t, err)

	log := types.Log{
		Address:     vault,
		Topics:      []common.Hash{event.ID, addressTopic(sender), addressTopic(owner)},
		Data:        data,
		BlockNumber: 150,
		TxHash:      txHash,
		Index:       3,
	}

	var filterFrom, filterTo int64
	client := &MockChainClient{
		ChainIDValue: 1,
		SafeHeadFunc: func(ctx context.Context) (int64, error) { return 200, nil },
		FilterLogsFunc: func(ctx context.Context, fromBlock, toBlock int64, addresses []common.Address, topics [][]common.Hash) ([]types.Log, error) {
			filterFrom, filterTo = fromBlock, toBlock
			require.Equal(t, []common.Address{vault}, addresses)
			require.Equal(t, event.ID, topics[0][0])
			return []types.Log{log}, nil
		},
	}

	var insertedDeposits []warehouse.Deposit
	var watermarkTable string
	var watermarkBlock int64
	store := &MockWarehouse{
		ListAutopoolsFunc: func(ctx context.Context, chainID int64) ([]warehouse.Autopool, error) {
			return []warehouse.Autopool{{
				ChainID:           1,
				VaultAddress:      lowerAddr(vault),
				BaseAssetDecimals: 18,
			}}, nil
		},
		GetWatermarkFunc: func(ctx context.Context, chainID int64, tableName string) (int64, bool, error) {
			return 100, true, nil
		},
		SetWatermarkFunc: func(ctx context.Context, chainID int64, tableName string, lastBlock int64) error {
			watermarkTable, watermarkBlock = tableName, lastBlock
			return nil
		},
		MissingValuesFunc: func(ctx context.Context, model any, column string, candidates []string, filters ...warehouse.Filter) ([]string, error) {
			// referenced transaction already stored
			return nil, nil
		},
		InsertIgnoreDuplicatesFunc: func(ctx context.Context, rows any, opts ...warehouse.InsertOption) (int64, error) {
			if deposits, ok := rows.(*[]warehouse.Deposit); ok {
				insertedDeposits = *deposits
				return int64(len(*deposits)), nil
			}
			return 0, nil
		},
	}

	syncer := newTestSyncer(store, client, &MockBlockFinder{})
	require.NoError(t, syncer.EnsureDepositsCurrent(ctx))

	assert.Equal(t, int64(101), filterFrom)
	assert.Equal(t, int64(200), filterTo)

	require.Len(t, insertedDeposits, 1)
	deposit := insertedDeposits[0]
	assert.Equal(t, lowerAddr(vault), deposit.AutopoolAddress)
	assert.Equal(t, lowerHash(txHash), deposit.TxHash)
	assert.Equal(t, int64(3), deposit.LogIndex)
	assert.Equal(t, int64(150), deposit.BlockNumber)
	assert.Equal(t, lowerAddr(sender), deposit.Sender)
	assert.Equal(t, lowerAddr(owner), deposit.Owner)
	assert.Equal(t, 5.0, deposit.Assets)
	assert.Equal(t, 4.0, deposit.Shares)

	assert.Equal(t, "deposits", watermarkTable)
	assert.Equal(t, int64(200), watermarkBlock)
}

func TestEnsureDepositsCurrentNothingNew(t *testing.T) {
	vault := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	client := &MockChainClient{
		ChainIDValue: 1,
		SafeHeadFunc: func(ctx context.Context) (int64, error) { return 200, nil },
		FilterLogsFunc: func(ctx context.Context, fromBlock, toBlock int64, addresses []common.Address, topics [][]common.Hash) ([]types.Log, error) {
			t.Fatal("no log fetch expected at the watermark")
			return nil, nil
		},
	}
	store := &MockWarehouse{
		ListAutopoolsFunc: func(ctx context.Context, chainID int64) ([]warehouse.Autopool, error) {
			return []warehouse.Autopool{{VaultAddress: lowerAddr(vault)}}, nil
		},
		GetWatermarkFunc: func(ctx context.Context, chainID int64, tableName string) (int64, bool, error) {
			return 200, true, nil
		},
	}
	syncer := newTestSyncer(store, client, &MockBlockFinder{})
	require.NoError(t, syncer.EnsureDepositsCurrent(context.Background()))
}

func TestEnsureIncentiveClaimsCurrentFlattensPerToken(t *testing.T) {
	destination := common.HexToAddress("0x00000000000000000000000000000000000000d1")
	tokenA := common.HexToAddress("0x00000000000000000000000000000000000000e1")
	tokenB := common.HexToAddress("0x00000000000000000000000000000000000000e2")
	txHash := common.HexToHash(testHash(11))

	event := chain.DestinationABI.Events["RewardsClaimed"]
	data, err := event.Inputs.NonIndexed().Pack(
		[]common.Address{tokenA, tokenB},
		[]*big.Int{tokens18(2), big.NewInt(3_000_000)},
	)
	require.NoError(t, err)

	log := types.Log{
		Address:     destination,
		Topics:      []common.Hash{event.ID},
		Data:        data,
		BlockNumber: 160,
		TxHash:      txHash,
		Index:       1,
	}

	client := &MockChainClient{
		ChainIDValue: 1,
		SafeHeadFunc: func(ctx context.Context) (int64, error) { return 200, nil },
		FilterLogsFunc: func(ctx context.Context, fromBlock, toBlock int64, addresses []common.Address, topics [][]common.Hash) ([]types.Log, error) {
			return []types.Log{log}, nil
		},
	}

	var insertedClaims []warehouse.IncentiveClaim
	store := &MockWarehouse{
		ListAllDestinationsFunc: func(ctx context.Context, chainID int64) ([]warehouse.Destination, error) {
			return []warehouse.Destination{{
				DestinationAddress: lowerAddr(destination),
				ExchangeName:       "curve",
			}}, nil
		},
		GetWatermarkFunc: func(ctx context.Context, chainID int64, tableName string) (int64, bool, error) {
			return 100, true, nil
		},
		TokenDecimalsFunc: func(ctx context.Context, chainID int64) (map[string]int, error) {
			return map[string]int{lowerAddr(tokenA): 18, lowerAddr(tokenB): 6}, nil
		},
		InsertIgnoreDuplicatesFunc: func(ctx context.Context, rows any, opts ...warehouse.InsertOption) (int64, error) {
			if claims, ok := rows.(*[]warehouse.IncentiveClaim); ok {
				insertedClaims = *claims
				return int64(len(*claims)), nil
			}
			return 0, nil
		},
	}

	syncer := newTestSyncer(store, client, &MockBlockFinder{})
	require.NoError(t, syncer.EnsureIncentiveClaimsCurrent(context.Background()))

	require.Len(t, insertedClaims, 2)
	assert.Equal(t, 0, insertedClaims[0].TokenIndex)
	assert.Equal(t, lowerAddr(tokenA), insertedClaims[0].TokenAddress)
	assert.Equal(t, 2.0, insertedClaims[0].Amount)
	assert.Equal(t, 1, insertedClaims[1].TokenIndex)
	assert.Equal(t, lowerAddr(tokenB), insertedClaims[1].TokenAddress)
	assert.Equal(t, 3.0, insertedClaims[1].Amount)
}

func TestEnsureIncentiveClaimsCurrentBoundsArrayLength(t *testing.T) {
	destination := common.HexToAddress("0x00000000000000000000000000000000000000d1")

	event := chain.DestinationABI.Events["RewardsClaimed"]
	tokens := make([]common.Address, 3)
	amounts := make([]*big.Int, 3)
	for i := range tokens {
		tokens[i] = common.BigToAddress(big.NewInt(int64(i + 1)))
		amounts[i] = big.NewInt(1)
	}
	data, err := event.Inputs.NonIndexed().Pack(tokens, amounts)
	require.NoError(t, err)

	client := &MockChainClient{
		ChainIDValue: 1,
		SafeHeadFunc: func(ctx context.Context) (int64, error) { return 200, nil },
		FilterLogsFunc: func(ctx context.Context, fromBlock, toBlock int64, addresses []common.Address, topics [][]common.Hash) ([]types.Log, error) {
			return []types.Log{{
				Address: destination,
				Topics:  []common.Hash{event.ID},
				Data:    data,
				TxHash:  common.HexToHash(testHash(12)),
			}}, nil
		},
	}
	store := &MockWarehouse{
		ListAllDestinationsFunc: func(ctx context.Context, chainID int64) ([]warehouse.Destination, error) {
			return []warehouse.Destination{{DestinationAddress: lowerAddr(destination), ExchangeName: "curve"}}, nil
		},
	}

	syncer := newTestSyncer(store, client, &MockBlockFinder{})
	syncer.cfg.MaxRewardTokens = 2

	err = syncer.EnsureIncentiveClaimsCurrent(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reward tokens")
}

func TestEnsureFeeCollectionsCurrentTagsFeeType(t *testing.T) {
	vault := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	recipient := common.HexToAddress("0x00000000000000000000000000000000000000f1")

	streaming := chain.AutopoolABI.Events["FeeCollected"]
	periodic := chain.AutopoolABI.Events["PeriodicFeeCollected"]

	streamingData, err := streaming.Inputs.NonIndexed().Pack(tokens18(1), tokens18(2))
	require.NoError(t, err)
	periodicData, err := periodic.Inputs.NonIndexed().Pack(tokens18(3), tokens18(4))
	require.NoError(t, err)

	logs := []types.Log{
		{Address: vault, Topics: []common.Hash{streaming.ID, addressTopic(recipient)}, Data: streamingData, BlockNumber: 110, TxHash: common.HexToHash(testHash(1)), Index: 0},
		{Address: vault, Topics: []common.Hash{periodic.ID, addressTopic(recipient)}, Data: periodicData, BlockNumber: 120, TxHash: common.HexToHash(testHash(2)), Index: 0},
	}

	client := &MockChainClient{
		ChainIDValue: 1,
		SafeHeadFunc: func(ctx context.Context) (int64, error) { return 200, nil },
		FilterLogsFunc: func(ctx context.Context, fromBlock, toBlock int64, addresses []common.Address, topics [][]common.Hash) ([]types.Log, error) {
			require.Len(t, topics[0], 2)
			return logs, nil
		},
	}

	var insertedFees []warehouse.FeeCollection
	store := &MockWarehouse{
		ListAutopoolsFunc: func(ctx context.Context, chainID int64) ([]warehouse.Autopool, error) {
			return []warehouse.Autopool{{VaultAddress: lowerAddr(vault), BaseAssetDecimals: 18}}, nil
		},
		GetWatermarkFunc: func(ctx context.Context, chainID int64, tableName string) (int64, bool, error) {
			return 100, true, nil
		},
		InsertIgnoreDuplicatesFunc: func(ctx context.Context, rows any, opts ...warehouse.InsertOption) (int64, error) {
			if fees, ok := rows.(*[]warehouse.FeeCollection); ok {
				insertedFees = *fees
				return int64(len(*fees)), nil
			}
			return 0, nil
		},
	}

	syncer := newTestSyncer(store, client, &MockBlockFinder{})
	require.NoError(t, syncer.EnsureFeeCollectionsCurrent(context.Background()))

	require.Len(t, insertedFees, 2)
	assert.Equal(t, "streaming", insertedFees[0].FeeType)
	assert.Equal(t, 1.0, insertedFees[0].Shares)
	assert.Equal(t, "periodic", insertedFees[1].FeeType)
	assert.Equal(t, 4.0, insertedFees[1].Assets)
}
