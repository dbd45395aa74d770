package sync

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/autopool-labs/autopool-warehouse/pkg/chain"
	"github.com/autopool-labs/autopool-warehouse/pkg/warehouse"
)

// MockWarehouse is a mock implementation of Warehouse
type MockWarehouse struct {
	InsertIgnoreDuplicatesFunc                func(ctx context.Context, rows any, opts ...warehouse.InsertOption) (int64, error)
	MissingValuesFunc                         func(ctx context.Context, model any, column string, candidates []string, filters ...warehouse.Filter) ([]string, error)
	MissingBlockNumbersFunc                   func(ctx context.Context, chainID int64, candidates []int64) ([]int64, error)
	DayCoverageFunc                           func(ctx context.Context, chainID int64) (map[time.Time]warehouse.DaySpan, error)
	BlockTimesFunc                            func(ctx context.Context, chainID int64, blockNumbers []int64) (map[int64]time.Time, error)
	ListAutopoolsFunc                         func(ctx context.Context, chainID int64) ([]warehouse.Autopool, error)
	ListDestinationsFunc                      func(ctx context.Context, chainID int64, autopoolAddress string) ([]warehouse.Destination, error)
	ListAllDestinationsFunc                   func(ctx context.Context, chainID int64) ([]warehouse.Destination, error)
	ListDestinationTokensFunc                 func(ctx context.Context, chainID int64, destinationAddress string) ([]warehouse.DestinationToken, error)
	TokenDecimalsFunc                         func(ctx context.Context, chainID int64) (map[string]int, error)
	GetTokenFunc                              func(ctx context.Context, chainID int64, tokenAddress string) (*warehouse.Token, error)
	MaxEventBlockFunc                         func(ctx context.Context, model any, chainID int64, filters ...warehouse.Filter) (int64, bool, error)
	MissingDestinationStateBlocksFunc         func(ctx context.Context, chainID int64, destinationAddress string) ([]int64, error)
	MissingAutopoolDestinationStateBlocksFunc func(ctx context.Context, chainID int64, autopoolAddress, destinationAddress string) ([]int64, error)
	MissingAutopoolStateBlocksFunc            func(ctx context.Context, chainID int64, autopoolAddress string) ([]int64, error)
	MissingDestinationTokenValueBlocksFunc    func(ctx context.Context, chainID int64, destinationAddress string) ([]int64, error)
	GetWatermarkFunc                          func(ctx context.Context, chainID int64, tableName string) (int64, bool, error)
	SetWatermarkFunc                          func(ctx context.Context, chainID int64, tableName string, lastBlock int64) error
}

func (m *MockWarehouse) InsertIgnoreDuplicates(ctx context.Context, rows any, opts ...warehouse.InsertOption) (int64, error) {
	if m.InsertIgnoreDuplicatesFunc != nil {
		return m.InsertIgnoreDuplicatesFunc(ctx, rows, opts...)
	}
	return 0, nil
}

func (m *MockWarehouse) MissingValues(ctx context.Context, model any, column string, candidates []string, filters ...warehouse.Filter) ([]string, error) {
	if m.MissingValuesFunc != nil {
		return m.MissingValuesFunc(ctx, model, column, candidates, filters...)
	}
	return nil, nil
}

func (m *MockWarehouse) MissingBlockNumbers(ctx context.Context, chainID int64, candidates []int64) ([]int64, error) {
	if m.MissingBlockNumbersFunc != nil {
		return m.MissingBlockNumbersFunc(ctx, chainID, candidates)
	}
	return nil, nil
}

func (m *MockWarehouse) DayCoverage(ctx context.Context, chainID int64) (map[time.Time]warehouse.DaySpan, error) {
	if m.DayCoverageFunc != nil {
		return m.DayCoverageFunc(ctx, chainID)
	}
	return nil, nil
}

func (m *MockWarehouse) BlockTimes(ctx context.Context, chainID int64, blockNumbers []int64) (map[int64]time.Time, error) {
	if m.BlockTimesFunc != nil {
		return m.BlockTimesFunc(ctx, chainID, blockNumbers)
	}
	return nil, nil
}

func (m *MockWarehouse) ListAutopools(ctx context.Context, chainID int64) ([]warehouse.Autopool, error) {
	if m.ListAutopoolsFunc != nil {
		return m.ListAutopoolsFunc(ctx, chainID)
	}
	return nil, nil
}

func (m *MockWarehouse) ListDestinations(ctx context.Context, chainID int64, autopoolAddress string) ([]warehouse.Destination, error) {
	if m.ListDestinationsFunc != nil {
		return m.ListDestinationsFunc(ctx, chainID, autopoolAddress)
	}
	return nil, nil
}

func (m *MockWarehouse) ListAllDestinations(ctx context.Context, chainID int64) ([]warehouse.Destination, error) {
	if m.ListAllDestinationsFunc != nil {
		return m.ListAllDestinationsFunc(ctx, chainID)
	}
	return nil, nil
}

func (m *MockWarehouse) ListDestinationTokens(ctx context.Context, chainID int64, destinationAddress string) ([]warehouse.DestinationToken, error) {
	if m.ListDestinationTokensFunc != nil {
		return m.ListDestinationTokensFunc(ctx, chainID, destinationAddress)
	}
	return nil, nil
}

func (m *MockWarehouse) TokenDecimals(ctx context.Context, chainID int64) (map[string]int, error) {
	if m.TokenDecimalsFunc != nil {
		return m.TokenDecimalsFunc(ctx, chainID)
	}
	return nil, nil
}

func (m *MockWarehouse) GetToken(ctx context.Context, chainID int64, tokenAddress string) (*warehouse.Token, error) {
	if m.GetTokenFunc != nil {
		return m.GetTokenFunc(ctx, chainID, tokenAddress)
	}
	return nil, nil
}

func (m *MockWarehouse) MaxEventBlock(ctx context.Context, model any, chainID int64, filters ...warehouse.Filter) (int64, bool, error) {
	if m.MaxEventBlockFunc != nil {
		return m.MaxEventBlockFunc(ctx, model, chainID, filters...)
	}
	return 0, false, nil
}

func (m *MockWarehouse) MissingDestinationStateBlocks(ctx context.Context, chainID int64, destinationAddress string) ([]int64, error) {
	if m.MissingDestinationStateBlocksFunc != nil {
		return m.MissingDestinationStateBlocksFunc(ctx, chainID, destinationAddress)
	}
	return nil, nil
}

func (m *MockWarehouse) MissingAutopoolDestinationStateBlocks(ctx context.Context, chainID int64, autopoolAddress, destinationAddress string) ([]int64, error) {
	if m.MissingAutopoolDestinationStateBlocksFunc != nil {
		return m.MissingAutopoolDestinationStateBlocksFunc(ctx, chainID, autopoolAddress, destinationAddress)
	}
	return nil, nil
}

func (m *MockWarehouse) MissingAutopoolStateBlocks(ctx context.Context, chainID int64, autopoolAddress string) ([]int64, error) {
	if m.MissingAutopoolStateBlocksFunc != nil {
		return m.MissingAutopoolStateBlocksFunc(ctx, chainID, autopoolAddress)
	}
	return nil, nil
}

func (m *MockWarehouse) MissingDestinationTokenValueBlocks(ctx context.Context, chainID int64, destinationAddress string) ([]int64, error) {
	if m.MissingDestinationTokenValueBlocksFunc != nil {
		return m.MissingDestinationTokenValueBlocksFunc(ctx, chainID, destinationAddress)
	}
	return nil, nil
}

func (m *MockWarehouse) GetWatermark(ctx context.Context, chainID int64, tableName string) (int64, bool, error) {
	if m.GetWatermarkFunc != nil {
		return m.GetWatermarkFunc(ctx, chainID, tableName)
	}
	return 0, false, nil
}

func (m *MockWarehouse) SetWatermark(ctx context.Context, chainID int64, tableName string, lastBlock int64) error {
	if m.SetWatermarkFunc != nil {
		return m.SetWatermarkFunc(ctx, chainID, tableName, lastBlock)
	}
	return nil
}

// MockChainClient is a mock implementation of ChainClient
type MockChainClient struct {
	ChainIDValue     int64
	RegistryValue    common.Address
	SafeHeadFunc     func(ctx context.Context) (int64, error)
	HeaderTimeFunc   func(ctx context.Context, blockNumber int64) (time.Time, error)
	FilterLogsFunc   func(ctx context.Context, fromBlock, toBlock int64, addresses []common.Address, topics [][]common.Hash) ([]types.Log, error)
	BatchReceiptsFunc func(ctx context.Context, txHashes []string) ([]chain.Receipt, error)
	MulticallFunc    func(ctx context.Context, blockNumber int64, calls []chain.Call) (map[chain.CallKey]chain.Result, error)
}

func (m *MockChainClient) ChainID() int64 {
	return m.ChainIDValue
}

func (m *MockChainClient) Registry() common.Address {
	return m.RegistryValue
}

func (m *MockChainClient) SafeHead(ctx context.Context) (int64, error) {
	if m.SafeHeadFunc != nil {
		return m.SafeHeadFunc(ctx)
	}
	return 0, nil
}

func (m *MockChainClient) HeaderTime(ctx context.Context, blockNumber int64) (time.Time, error) {
	if m.HeaderTimeFunc != nil {
		return m.HeaderTimeFunc(ctx, blockNumber)
	}
	return time.Time{}, nil
}

func (m *MockChainClient) FilterLogs(ctx context.Context, fromBlock, toBlock int64, addresses []common.Address, topics [][]common.Hash) ([]types.Log, error) {
	if m.FilterLogsFunc != nil {
		return m.FilterLogsFunc(ctx, fromBlock, toBlock, addresses, topics)
	}
	return nil, nil
}

func (m *MockChainClient) BatchReceipts(ctx context.Context, txHashes []string) ([]chain.Receipt, error) {
	if m.BatchReceiptsFunc != nil {
		return m.BatchReceiptsFunc(ctx, txHashes)
	}
	return nil, nil
}

func (m *MockChainClient) Multicall(ctx context.Context, blockNumber int64, calls []chain.Call) (map[chain.CallKey]chain.Result, error) {
	if m.MulticallFunc != nil {
		return m.MulticallFunc(ctx, blockNumber, calls)
	}
	return map[chain.CallKey]chain.Result{}, nil
}

// MockBlockFinder is a mock implementation of BlockFinder
type MockBlockFinder struct {
	BlockAtFunc func(ctx context.Context, chainID int64, at time.Time) (int64, time.Time, error)
}

func (m *MockBlockFinder) BlockAt(ctx context.Context, chainID int64, at time.Time) (int64, time.Time, error) {
	if m.BlockAtFunc != nil {
		return m.BlockAtFunc(ctx, chainID, at)
	}
	return 0, time.Time{}, nil
}
