package solver

import (
	"context"

	"github.com/autopool-labs/autopool-warehouse/pkg/chain"
	"github.com/autopool-labs/autopool-warehouse/pkg/indexer"
	"github.com/autopool-labs/autopool-warehouse/pkg/warehouse"
)

type MockWarehouse struct {
	InsertIgnoreDuplicatesFunc func(ctx context.Context, rows any, opts ...warehouse.InsertOption) (int64, error)
	MissingValuesFunc          func(ctx context.Context, model any, column string, candidates []string, filters ...warehouse.Filter) ([]string, error)
	ListAutopoolsFunc          func(ctx context.Context, chainID int64) ([]warehouse.Autopool, error)
	PlansForAutopoolFunc       func(ctx context.Context, chainID int64, autopoolAddress string) ([]warehouse.RebalancePlan, error)
	MaxEventBlockFunc          func(ctx context.Context, model any, chainID int64, filters ...warehouse.Filter) (int64, bool, error)
	TokenDecimalsFunc          func(ctx context.Context, chainID int64) (map[string]int, error)
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
	return candidates, nil
}

func (m *MockWarehouse) ListAutopools(ctx context.Context, chainID int64) ([]warehouse.Autopool, error) {
	if m.ListAutopoolsFunc != nil {
		return m.ListAutopoolsFunc(ctx, chainID)
	}
	return nil, nil
}

func (m *MockWarehouse) PlansForAutopool(ctx context.Context, chainID int64, autopoolAddress string) ([]warehouse.RebalancePlan, error) {
	if m.PlansForAutopoolFunc != nil {
		return m.PlansForAutopoolFunc(ctx, chainID, autopoolAddress)
	}
	return nil, nil
}

func (m *MockWarehouse) MaxEventBlock(ctx context.Context, model any, chainID int64, filters ...warehouse.Filter) (int64, bool, error) {
	if m.MaxEventBlockFunc != nil {
		return m.MaxEventBlockFunc(ctx, model, chainID, filters...)
	}
	return 0, false, nil
}

func (m *MockWarehouse) TokenDecimals(ctx context.Context, chainID int64) (map[string]int, error) {
	if m.TokenDecimalsFunc != nil {
		return m.TokenDecimalsFunc(ctx, chainID)
	}
	return map[string]int{}, nil
}

type MockChainClient struct {
	ChainIDValue  int64
	NameValue     string
	MulticallFunc func(ctx context.Context, blockNumber int64, calls []chain.Call) (map[chain.CallKey]chain.Result, error)
}

func (m *MockChainClient) ChainID() int64 {
	return m.ChainIDValue
}

func (m *MockChainClient) Name() string {
	if m.NameValue != "" {
		return m.NameValue
	}
	return "testchain"
}

func (m *MockChainClient) Multicall(ctx context.Context, blockNumber int64, calls []chain.Call) (map[chain.CallKey]chain.Result, error) {
	if m.MulticallFunc != nil {
		return m.MulticallFunc(ctx, blockNumber, calls)
	}
	return map[chain.CallKey]chain.Result{}, nil
}

type MockEventSource struct {
	RebalanceEventsFunc func(ctx context.Context, autopoolAddress string, fromBlock int64) ([]indexer.Event, error)
}

func (m *MockEventSource) RebalanceEvents(ctx context.Context, autopoolAddress string, fromBlock int64) ([]indexer.Event, error) {
	if m.RebalanceEventsFunc != nil {
		return m.RebalanceEventsFunc(ctx, autopoolAddress, fromBlock)
	}
	return nil, nil
}

type MockBackfill struct {
	EnsureBlocksSavedFunc       func(ctx context.Context, blockNumbers []int64) error
	EnsureTransactionsSavedFunc func(ctx context.Context, txHashes []string) error
}

func (m *MockBackfill) EnsureBlocksSaved(ctx context.Context, blockNumbers []int64) error {
	if m.EnsureBlocksSavedFunc != nil {
		return m.EnsureBlocksSavedFunc(ctx, blockNumbers)
	}
	return nil
}

func (m *MockBackfill) EnsureTransactionsSaved(ctx context.Context, txHashes []string) error {
	if m.EnsureTransactionsSavedFunc != nil {
		return m.EnsureTransactionsSavedFunc(ctx, txHashes)
	}
	return nil
}

type MockObjectStore struct {
	ListKeysFunc func(ctx context.Context) ([]string, error)
	FetchFunc    func(ctx context.Context, key string) ([]byte, error)
}

func (m *MockObjectStore) ListKeys(ctx context.Context) ([]string, error) {
	if m.ListKeysFunc != nil {
		return m.ListKeysFunc(ctx)
	}
	return nil, nil
}

func (m *MockObjectStore) Fetch(ctx context.Context, key string) ([]byte, error) {
	if m.FetchFunc != nil {
		return m.FetchFunc(ctx, key)
	}
	return nil, nil
}
