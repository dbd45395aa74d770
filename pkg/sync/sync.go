// Package sync implements the incremental warehouse sync passes: block and
// transaction backfill, autopool/destination discovery, event-stream
// ingestion and the order-dependent per-block state snapshots.
package sync

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/autopool-labs/autopool-warehouse/pkg/chain"
	"github.com/autopool-labs/autopool-warehouse/pkg/config"
	"github.com/autopool-labs/autopool-warehouse/pkg/retry"
	"github.com/autopool-labs/autopool-warehouse/pkg/warehouse"
)

// Warehouse is the store surface the sync passes consume
type Warehouse interface {
	InsertIgnoreDuplicates(ctx context.Context, rows any, opts ...warehouse.InsertOption) (int64, error)
	MissingValues(ctx context.Context, model any, column string, candidates []string, filters ...warehouse.Filter) ([]string, error)
	MissingBlockNumbers(ctx context.Context, chainID int64, candidates []int64) ([]int64, error)
	DayCoverage(ctx context.Context, chainID int64) (map[time.Time]warehouse.DaySpan, error)
	BlockTimes(ctx context.Context, chainID int64, blockNumbers []int64) (map[int64]time.Time, error)
	ListAutopools(ctx context.Context, chainID int64) ([]warehouse.Autopool, error)
	ListDestinations(ctx context.Context, chainID int64, autopoolAddress string) ([]warehouse.Destination, error)
	ListAllDestinations(ctx context.Context, chainID int64) ([]warehouse.Destination, error)
	ListDestinationTokens(ctx context.Context, chainID int64, destinationAddress string) ([]warehouse.DestinationToken, error)
	TokenDecimals(ctx context.Context, chainID int64) (map[string]int, error)
	GetToken(ctx context.Context, chainID int64, tokenAddress string) (*warehouse.Token, error)
	MaxEventBlock(ctx context.Context, model any, chainID int64, filters ...warehouse.Filter) (int64, bool, error)
	MissingDestinationStateBlocks(ctx context.Context, chainID int64, destinationAddress string) ([]int64, error)
	MissingAutopoolDestinationStateBlocks(ctx context.Context, chainID int64, autopoolAddress, destinationAddress string) ([]int64, error)
	MissingAutopoolStateBlocks(ctx context.Context, chainID int64, autopoolAddress string) ([]int64, error)
	MissingDestinationTokenValueBlocks(ctx context.Context, chainID int64, destinationAddress string) ([]int64, error)
	GetWatermark(ctx context.Context, chainID int64, tableName string) (int64, bool, error)
	SetWatermark(ctx context.Context, chainID int64, tableName string, lastBlock int64) error
}

// ChainClient is the RPC surface the sync passes consume
type ChainClient interface {
	ChainID() int64
	Registry() common.Address
	SafeHead(ctx context.Context) (int64, error)
	HeaderTime(ctx context.Context, blockNumber int64) (time.Time, error)
	FilterLogs(ctx context.Context, fromBlock, toBlock int64, addresses []common.Address, topics [][]common.Hash) ([]types.Log, error)
	BatchReceipts(ctx context.Context, txHashes []string) ([]chain.Receipt, error)
	Multicall(ctx context.Context, blockNumber int64, calls []chain.Call) (map[chain.CallKey]chain.Result, error)
}

// BlockFinder resolves a timestamp to the closest block on a chain
type BlockFinder interface {
	BlockAt(ctx context.Context, chainID int64, at time.Time) (int64, time.Time, error)
}

// Syncer runs the sync passes for one chain
type Syncer struct {
	store    Warehouse
	client   ChainClient
	finder   BlockFinder
	cfg      config.SyncConfig
	chainCfg config.ChainConfig
	retryCfg retry.Config
	logger   *zap.Logger
}

// NewSyncer builds a Syncer for one chain
func NewSyncer(store Warehouse, client ChainClient, finder BlockFinder, cfg config.SyncConfig, chainCfg config.ChainConfig, logger *zap.Logger) *Syncer {
	return &Syncer{
		store:    store,
		client:   client,
		finder:   finder,
		cfg:      cfg,
		chainCfg: chainCfg,
		retryCfg: retry.Config{
			MaxAttempts:   cfg.MaxRetries,
			InitialDelay:  cfg.RetryInitialDelay,
			MaxDelay:      cfg.RetryMaxDelay,
			Multiplier:    2.0,
			JitterEnabled: true,
		},
		logger: logger.With(zap.String("chain", chainCfg.Name)),
	}
}

// lowerAddr normalizes an address to the lower-case hex form used as the
// canonical key in every warehouse table. EIP-55 checksummed inputs fold to
// the same key, so joins never miss on casing.
func lowerAddr(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

// lowerHash normalizes a tx hash the same way
func lowerHash(hash common.Hash) string {
	return strings.ToLower(hash.Hex())
}

// scaleAmount converts a raw integer token amount into a float scaled by the
// token's decimals
func scaleAmount(raw *big.Int, decimals int) float64 {
	if raw == nil {
		return 0
	}
	v, _ := decimal.NewFromBigInt(raw, -int32(decimals)).Float64()
	return v
}

// asBigInt extracts a *big.Int from a decoded ABI value
func asBigInt(v any) *big.Int {
	if b, ok := v.(*big.Int); ok {
		return b
	}
	return nil
}
