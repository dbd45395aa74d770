package solver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/autopool-labs/autopool-warehouse/internal/metrics"
	"github.com/autopool-labs/autopool-warehouse/pkg/chain"
	"github.com/autopool-labs/autopool-warehouse/pkg/config"
	"github.com/autopool-labs/autopool-warehouse/pkg/indexer"
	"github.com/autopool-labs/autopool-warehouse/pkg/retry"
	"github.com/autopool-labs/autopool-warehouse/pkg/warehouse"
)

// amountTolerance is the relative slack when comparing a plan's proposed
// amount against the executed amount. The solver rounds through decimal
// scaling, so the last digits rarely agree exactly.
const amountTolerance = 1e-4

// Warehouse is the store surface the reconciler needs
type Warehouse interface {
	InsertIgnoreDuplicates(ctx context.Context, rows any, opts ...warehouse.InsertOption) (int64, error)
	MissingValues(ctx context.Context, model any, column string, candidates []string, filters ...warehouse.Filter) ([]string, error)
	ListAutopools(ctx context.Context, chainID int64) ([]warehouse.Autopool, error)
	PlansForAutopool(ctx context.Context, chainID int64, autopoolAddress string) ([]warehouse.RebalancePlan, error)
	MaxEventBlock(ctx context.Context, model any, chainID int64, filters ...warehouse.Filter) (int64, bool, error)
	TokenDecimals(ctx context.Context, chainID int64) (map[string]int, error)
}

// ChainClient reads LP prices at historical blocks
type ChainClient interface {
	ChainID() int64
	Name() string
	Multicall(ctx context.Context, blockNumber int64, calls []chain.Call) (map[chain.CallKey]chain.Result, error)
}

// EventSource reports executed rebalances per autopool
type EventSource interface {
	RebalanceEvents(ctx context.Context, autopoolAddress string, fromBlock int64) ([]indexer.Event, error)
}

// Backfill ensures referenced blocks and transactions exist before
// foreign-keyed rows are inserted
type Backfill interface {
	EnsureBlocksSaved(ctx context.Context, blockNumbers []int64) error
	EnsureTransactionsSaved(ctx context.Context, txHashes []string) error
}

// Reconciler ingests plan files, ingests executed rebalance events and links
// each event to the plan that most plausibly produced it
type Reconciler struct {
	cfg      config.SolverConfig
	store    Warehouse
	client   ChainClient
	bucket   ObjectStore
	events   EventSource
	backfill Backfill
	retryCfg retry.Config
	logger   *zap.Logger
}

// NewReconciler builds a Reconciler for one chain
func NewReconciler(
	cfg config.SolverConfig,
	store Warehouse,
	client ChainClient,
	bucket ObjectStore,
	events EventSource,
	backfill Backfill,
	retryCfg retry.Config,
	logger *zap.Logger,
) *Reconciler {
	return &Reconciler{
		cfg:      cfg,
		store:    store,
		client:   client,
		bucket:   bucket,
		events:   events,
		backfill: backfill,
		retryCfg: retryCfg,
		logger:   logger.With(zap.String("component", "solver")),
	}
}

func (r *Reconciler) workers() int {
	if r.cfg.Workers > 0 {
		return r.cfg.Workers
	}
	return 4
}

func (r *Reconciler) matchWindow() time.Duration {
	if r.cfg.MatchWindow > 0 {
		return r.cfg.MatchWindow
	}
	return 10 * time.Minute
}

// Run ingests new plans, then reconciles new events against them
func (r *Reconciler) Run(ctx context.Context) error {
	if err := r.IngestPlans(ctx); err != nil {
		return err
	}
	return r.ReconcileEvents(ctx)
}

// IngestPlans diffs the bucket listing against already-ingested file keys and
// ingests the missing plans. One plan failing past its retries does not stop
// the others.
func (r *Reconciler) IngestPlans(ctx context.Context) error {
	keys, err := r.bucket.ListKeys(ctx)
	if err != nil {
		return fmt.Errorf("failed to list plan bucket: %w", err)
	}

	missing, err := r.store.MissingValues(ctx, &warehouse.RebalancePlan{}, "file_key", keys)
	if err != nil {
		return fmt.Errorf("failed to diff plan keys: %w", err)
	}
	if len(missing) == 0 {
		return nil
	}
	r.logger.Info("Ingesting solver plans", zap.Int("new", len(missing)), zap.Int("listed", len(keys)))

	pool := pond.NewPool(r.workers())

	var mu sync.Mutex
	var failures []error
	for _, key := range missing {
		pool.Submit(func() {
			err := retry.Do(ctx, r.retryCfg, r.logger, fmt.Sprintf("ingest plan %s", key), func() error {
				return r.ingestPlan(ctx, key)
			})
			if err != nil {
				mu.Lock()
				failures = append(failures, err)
				mu.Unlock()
			}
		})
	}
	pool.StopAndWait()
	return errors.Join(failures...)
}

func (r *Reconciler) ingestPlan(ctx context.Context, key string) error {
	blob, err := r.bucket.Fetch(ctx, key)
	if err != nil {
		return err
	}
	parsed, err := parsePlan(key, blob)
	if err != nil {
		return err
	}
	if parsed.Plan.ChainID != r.client.ChainID() {
		return nil
	}

	if _, err := r.store.InsertIgnoreDuplicates(ctx, &[]warehouse.RebalancePlan{parsed.Plan}); err != nil {
		return fmt.Errorf("failed to insert plan %s: %w", key, err)
	}
	if len(parsed.Steps) > 0 {
		if _, err := r.store.InsertIgnoreDuplicates(ctx, &parsed.Steps); err != nil {
			return fmt.Errorf("failed to insert swap steps of %s: %w", key, err)
		}
	}
	if len(parsed.States) > 0 {
		blockNumbers := make([]int64, 0, len(parsed.States))
		for _, state := range parsed.States {
			blockNumbers = append(blockNumbers, state.BlockNumber)
		}
		if err := r.backfill.EnsureBlocksSaved(ctx, blockNumbers); err != nil {
			return fmt.Errorf("failed to backfill blocks of plan %s: %w", key, err)
		}
		if _, err := r.store.InsertIgnoreDuplicates(ctx, &parsed.States); err != nil {
			return fmt.Errorf("failed to insert plan states of %s: %w", key, err)
		}
	}
	metrics.PlansIngested.WithLabelValues(r.client.Name()).Inc()
	return nil
}

// ReconcileEvents fetches new executed rebalances per autopool, correlates
// each with the ingested plans and computes realized safe/spot values from
// chain state at the execution block. Autopools are processed in parallel and
// one autopool's failure does not stop the others.
func (r *Reconciler) ReconcileEvents(ctx context.Context) error {
	autopools, err := r.store.ListAutopools(ctx, r.client.ChainID())
	if err != nil {
		return fmt.Errorf("failed to list autopools: %w", err)
	}

	pool := pond.NewPool(r.workers())

	var mu sync.Mutex
	var failures []error
	for _, autopool := range autopools {
		pool.Submit(func() {
			if err := r.reconcileAutopool(ctx, autopool); err != nil {
				mu.Lock()
				failures = append(failures, fmt.Errorf("autopool %s: %w", autopool.VaultAddress, err))
				mu.Unlock()
			}
		})
	}
	pool.StopAndWait()
	return errors.Join(failures...)
}

func (r *Reconciler) reconcileAutopool(ctx context.Context, autopool warehouse.Autopool) error {
	chainID := r.client.ChainID()

	fromBlock, ok, err := r.store.MaxEventBlock(ctx, &warehouse.RebalanceEvent{}, chainID,
		warehouse.Filter{Column: "autopool_address", Value: autopool.VaultAddress})
	if err != nil {
		return err
	}
	if !ok {
		fromBlock = autopool.DeployBlock - 1
	}

	events, err := r.events.RebalanceEvents(ctx, autopool.VaultAddress, fromBlock)
	if err != nil {
		return fmt.Errorf("failed to fetch rebalance events: %w", err)
	}
	if len(events) == 0 {
		return nil
	}

	byHash := make(map[string]indexer.Event, len(events))
	hashes := make([]string, 0, len(events))
	for _, event := range events {
		hash := strings.ToLower(event.TxHash)
		byHash[hash] = event
		hashes = append(hashes, hash)
	}
	missing, err := r.store.MissingValues(ctx, &warehouse.RebalanceEvent{}, "tx_hash", hashes,
		warehouse.Filter{Column: "chain_id", Value: chainID})
	if err != nil {
		return fmt.Errorf("failed to diff event hashes: %w", err)
	}
	if len(missing) == 0 {
		return nil
	}

	decimals, err := r.store.TokenDecimals(ctx, chainID)
	if err != nil {
		return fmt.Errorf("failed to read token decimals: %w", err)
	}
	plans, err := r.store.PlansForAutopool(ctx, chainID, autopool.VaultAddress)
	if err != nil {
		return err
	}

	rows := make([]warehouse.RebalanceEvent, 0, len(missing))
	for _, hash := range missing {
		event := byHash[hash]
		row, err := r.buildEventRow(ctx, autopool, plans, decimals, event)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}

	txHashes := make([]string, 0, len(rows))
	for _, row := range rows {
		txHashes = append(txHashes, row.TxHash)
	}
	if err := r.backfill.EnsureTransactionsSaved(ctx, txHashes); err != nil {
		return fmt.Errorf("failed to backfill event transactions: %w", err)
	}

	inserted, err := r.store.InsertIgnoreDuplicates(ctx, &rows)
	if err != nil {
		return fmt.Errorf("failed to insert rebalance events: %w", err)
	}
	metrics.RowsInserted.WithLabelValues(r.client.Name(), "rebalance_events").Add(float64(inserted))

	r.logger.Info("Reconciled rebalance events",
		zap.String("autopool", autopool.VaultAddress),
		zap.Int("events", len(rows)))
	return nil
}

func (r *Reconciler) buildEventRow(
	ctx context.Context,
	autopool warehouse.Autopool,
	plans []warehouse.RebalancePlan,
	decimals map[string]int,
	event indexer.Event,
) (warehouse.RebalanceEvent, error) {
	tokenOut := strings.ToLower(event.TokenOut)
	tokenIn := strings.ToLower(event.TokenIn)
	amountOut := scaleAmount(event.AmountOut, tokenDecimals(decimals, tokenOut, autopool))
	amountIn := scaleAmount(event.AmountIn, tokenDecimals(decimals, tokenIn, autopool))

	row := warehouse.RebalanceEvent{
		ChainID:         r.client.ChainID(),
		TxHash:          strings.ToLower(event.TxHash),
		AutopoolAddress: autopool.VaultAddress,
		BlockNumber:     event.BlockNumber,
		Datetime:        event.Timestamp.UTC(),
		DestinationOut:  strings.ToLower(event.DestinationOut),
		DestinationIn:   strings.ToLower(event.DestinationIn),
		TokenOut:        tokenOut,
		TokenIn:         tokenIn,
		AmountOut:       amountOut,
		AmountIn:        amountIn,
		PlanFileKey:     matchPlan(plans, tokenOut, tokenIn, amountOut, event.Timestamp, r.matchWindow()),
	}

	outSafe, outSpot, err := r.legPrices(ctx, autopool, row.DestinationOut, event.BlockNumber)
	if err != nil {
		return warehouse.RebalanceEvent{}, err
	}
	inSafe, inSpot, err := r.legPrices(ctx, autopool, row.DestinationIn, event.BlockNumber)
	if err != nil {
		return warehouse.RebalanceEvent{}, err
	}
	row.RealizedSafeValueOut = scaledValue(amountOut, outSafe)
	row.RealizedSpotValueOut = scaledValue(amountOut, outSpot)
	row.RealizedSafeValueIn = scaledValue(amountIn, inSafe)
	row.RealizedSpotValueIn = scaledValue(amountIn, inSpot)
	return row, nil
}

// legPrices returns the safe and spot LP price of one leg's destination at
// the execution block. A transfer into or out of idle has no spread, so the
// idle leg is always (1.0, 1.0).
func (r *Reconciler) legPrices(ctx context.Context, autopool warehouse.Autopool, destinationAddress string, blockNumber int64) (*float64, *float64, error) {
	if strings.EqualFold(destinationAddress, autopool.VaultAddress) {
		one := 1.0
		return &one, &one, nil
	}

	target := common.HexToAddress(destinationAddress)
	var results map[chain.CallKey]chain.Result
	err := retry.Do(ctx, r.retryCfg, r.logger, fmt.Sprintf("leg prices %s@%d", destinationAddress, blockNumber), func() error {
		var callErr error
		results, callErr = r.client.Multicall(ctx, blockNumber, []chain.Call{
			chain.ViewCall(target, chain.DestinationABI, "getUnderlyerSafePrice", chain.FieldSafePrice),
			chain.ViewCall(target, chain.DestinationABI, "getUnderlyerSpotPrice", chain.FieldSpotPrice),
		})
		return callErr
	})
	if err != nil {
		return nil, nil, err
	}

	var safe, spot *float64
	if result := results[chain.CallKey{Entity: target, Field: chain.FieldSafePrice}]; result.Ok {
		v := scaleAmount(asBigInt(result.Values[0]), 18)
		safe = &v
	}
	if result := results[chain.CallKey{Entity: target, Field: chain.FieldSpotPrice}]; result.Ok {
		v := scaleAmount(asBigInt(result.Values[0]), 18)
		spot = &v
	}
	return safe, spot, nil
}

// matchPlan picks the plan that most plausibly produced an executed
// rebalance: same token pair, amount out within tolerance, generated inside
// the window before execution. The most recently generated qualifying plan
// wins. No match is a valid outcome.
func matchPlan(plans []warehouse.RebalancePlan, tokenOut, tokenIn string, amountOut float64, executedAt time.Time, window time.Duration) *string {
	var best *warehouse.RebalancePlan
	for i := range plans {
		plan := &plans[i]
		if plan.TokenOut == nil || plan.TokenIn == nil || plan.AmountOut == nil {
			continue
		}
		if !strings.EqualFold(*plan.TokenOut, tokenOut) || !strings.EqualFold(*plan.TokenIn, tokenIn) {
			continue
		}
		if !amountsClose(*plan.AmountOut, amountOut) {
			continue
		}
		lead := executedAt.Sub(plan.DatetimeGenerated)
		if lead < 0 || lead > window {
			continue
		}
		if best == nil || plan.DatetimeGenerated.After(best.DatetimeGenerated) {
			best = plan
		}
	}
	if best == nil {
		return nil
	}
	key := best.FileKey
	return &key
}

func amountsClose(planned, executed float64) bool {
	if planned == executed {
		return true
	}
	scale := math.Max(math.Abs(planned), math.Abs(executed))
	return math.Abs(planned-executed) <= scale*amountTolerance
}

func tokenDecimals(decimals map[string]int, tokenAddress string, autopool warehouse.Autopool) int {
	if d, ok := decimals[tokenAddress]; ok {
		return d
	}
	return autopool.BaseAssetDecimals
}

func asBigInt(v any) *big.Int {
	b, _ := v.(*big.Int)
	return b
}

func scaleAmount(raw *big.Int, tokenDecimals int) float64 {
	if raw == nil {
		return 0
	}
	v, _ := decimal.NewFromBigInt(raw, -int32(tokenDecimals)).Float64()
	return v
}

func scaledValue(amount float64, price *float64) *float64 {
	if price == nil {
		return nil
	}
	v := amount * *price
	return &v
}
