package warehouse

import (
	"time"

	"github.com/uptrace/bun"
)

// Every table is keyed by chain_id plus an entity-specific key so the same
// warehouse serves all tracked chains. Rows are immutable once written; all
// write paths go through Store.InsertIgnoreDuplicates.

// Block maps a block number to its UTC timestamp
type Block struct {
	bun.BaseModel `bun:"table:blocks,alias:block"`

	ChainID     int64     `bun:"chain_id,pk"`
	BlockNumber int64     `bun:"block_number,pk"`
	Datetime    time.Time `bun:"datetime,notnull"`
}

// Transaction is a normalized receipt row. Block rows must exist before
// transaction rows are inserted.
type Transaction struct {
	bun.BaseModel `bun:"table:transactions"`

	ChainID           int64  `bun:"chain_id,pk"`
	TxHash            string `bun:"tx_hash,pk"`
	BlockNumber       int64  `bun:"block_number,notnull"`
	FromAddress       string `bun:"from_address,notnull"`
	ToAddress         string `bun:"to_address,notnull"`
	GasUsed           int64  `bun:"gas_used,notnull"`
	EffectiveGasPrice int64  `bun:"effective_gas_price,notnull"`
}

// Token holds ERC-20 metadata fetched on first sighting
type Token struct {
	bun.BaseModel `bun:"table:tokens"`

	ChainID      int64  `bun:"chain_id,pk"`
	TokenAddress string `bun:"token_address,pk"`
	Symbol       string `bun:"symbol,notnull"`
	Name         string `bun:"name,notnull"`
	Decimals     int    `bun:"decimals,notnull"`
}

// Autopool is a yield-routing vault, static once deployed
type Autopool struct {
	bun.BaseModel `bun:"table:autopools"`

	ChainID           int64  `bun:"chain_id,pk"`
	VaultAddress      string `bun:"vault_address,pk"`
	Symbol            string `bun:"symbol,notnull"`
	Name              string `bun:"name,notnull"`
	StrategyAddress   string `bun:"strategy_address,notnull"`
	BaseAsset         string `bun:"base_asset,notnull"`
	BaseAssetDecimals int    `bun:"base_asset_decimals,notnull"`
	DeployBlock       int64  `bun:"deploy_block,notnull"`
}

// Destination is a venue an autopool can allocate to. Each autopool also has
// a synthetic "idle" destination whose address equals the autopool address,
// modelling un-deployed base asset.
type Destination struct {
	bun.BaseModel `bun:"table:destinations,alias:destination"`

	ChainID            int64  `bun:"chain_id,pk"`
	DestinationAddress string `bun:"destination_address,pk"`
	PoolAddress        string `bun:"pool_address,notnull"`
	Underlying         string `bun:"underlying,notnull"`
	UnderlyingSymbol   string `bun:"underlying_symbol,notnull"`
	UnderlyingName     string `bun:"underlying_name,notnull"`
	ExchangeName       string `bun:"exchange_name,notnull"`
	PoolType           string `bun:"pool_type,notnull"`
	Decimals           int    `bun:"decimals,notnull"`
}

// AutopoolDestination links an autopool to a destination. Append-only: a
// destination once linked is never unlinked, even if later removed on-chain.
type AutopoolDestination struct {
	bun.BaseModel `bun:"table:autopool_destinations"`

	ChainID            int64  `bun:"chain_id,pk"`
	AutopoolAddress    string `bun:"autopool_address,pk"`
	DestinationAddress string `bun:"destination_address,pk"`
}

// DestinationToken records the ordered underlying token list of a destination.
// The index preserves on-chain ordering so reserve arrays match positionally.
type DestinationToken struct {
	bun.BaseModel `bun:"table:destination_tokens"`

	ChainID            int64  `bun:"chain_id,pk"`
	DestinationAddress string `bun:"destination_address,pk"`
	TokenIndex         int    `bun:"token_index,pk"`
	TokenAddress       string `bun:"token_address,notnull"`
}

// AutopoolState is a per-block snapshot of an autopool's share accounting
type AutopoolState struct {
	bun.BaseModel `bun:"table:autopool_states"`

	ChainID         int64   `bun:"chain_id,pk"`
	AutopoolAddress string  `bun:"autopool_address,pk"`
	BlockNumber     int64   `bun:"block_number,pk"`
	TotalShares     float64 `bun:"total_shares,notnull"`
	TotalNav        float64 `bun:"total_nav,notnull"`
	NavPerShare     float64 `bun:"nav_per_share,notnull"`
}

// DestinationState is a per-block snapshot of a destination's APRs, supply
// and LP prices. Nullable columns mean the call reverted at that block (e.g.
// destination not yet deployed). FromRebalancePlan marks rows backfilled from
// an off-chain solver plan instead of a live RPC call; provenance is
// exclusive per row.
type DestinationState struct {
	bun.BaseModel `bun:"table:destination_states,alias:destination_state"`

	ChainID            int64    `bun:"chain_id,pk"`
	DestinationAddress string   `bun:"destination_address,pk"`
	BlockNumber        int64    `bun:"block_number,pk"`
	IncentiveAPR       *float64 `bun:"incentive_apr"`
	FeeAPR             *float64 `bun:"fee_apr"`
	BaseAPR            *float64 `bun:"base_apr"`
	TotalSupply        *float64 `bun:"total_supply"`
	LPSpotPrice        *float64 `bun:"lp_spot_price"`
	LPSafePrice        *float64 `bun:"lp_safe_price"`
	FromRebalancePlan  bool     `bun:"from_rebalance_plan,notnull,default:false"`
}

// AutopoolDestinationState is one autopool's claim on a destination at a block
type AutopoolDestinationState struct {
	bun.BaseModel `bun:"table:autopool_destination_states,alias:autopool_destination_state"`

	ChainID            int64    `bun:"chain_id,pk"`
	AutopoolAddress    string   `bun:"autopool_address,pk"`
	DestinationAddress string   `bun:"destination_address,pk"`
	BlockNumber        int64    `bun:"block_number,pk"`
	OwnedShares        *float64 `bun:"owned_shares"`
}

// DestinationTokenValue is the per-token reserve quantity and spot price at a
// block, denominated in the autopool base asset
type DestinationTokenValue struct {
	bun.BaseModel `bun:"table:destination_token_values"`

	ChainID            int64    `bun:"chain_id,pk"`
	DestinationAddress string   `bun:"destination_address,pk"`
	TokenAddress       string   `bun:"token_address,pk"`
	BlockNumber        int64    `bun:"block_number,pk"`
	SpotPrice          *float64 `bun:"spot_price"`
	Quantity           *float64 `bun:"quantity"`
}

// Deposit is an autopool share mint event
type Deposit struct {
	bun.BaseModel `bun:"table:deposits"`

	ChainID         int64   `bun:"chain_id,pk"`
	TxHash          string  `bun:"tx_hash,pk"`
	LogIndex        int64   `bun:"log_index,pk"`
	AutopoolAddress string  `bun:"autopool_address,notnull"`
	BlockNumber     int64   `bun:"block_number,notnull"`
	Sender          string  `bun:"sender,notnull"`
	Owner           string  `bun:"owner,notnull"`
	Assets          float64 `bun:"assets,notnull"`
	Shares          float64 `bun:"shares,notnull"`
}

// Withdrawal is an autopool share burn event
type Withdrawal struct {
	bun.BaseModel `bun:"table:withdrawals"`

	ChainID         int64   `bun:"chain_id,pk"`
	TxHash          string  `bun:"tx_hash,pk"`
	LogIndex        int64   `bun:"log_index,pk"`
	AutopoolAddress string  `bun:"autopool_address,notnull"`
	BlockNumber     int64   `bun:"block_number,notnull"`
	Sender          string  `bun:"sender,notnull"`
	Receiver        string  `bun:"receiver,notnull"`
	Owner           string  `bun:"owner,notnull"`
	Assets          float64 `bun:"assets,notnull"`
	Shares          float64 `bun:"shares,notnull"`
}

// ShareTransfer is an ERC-20 transfer of autopool shares
type ShareTransfer struct {
	bun.BaseModel `bun:"table:share_transfers"`

	ChainID         int64   `bun:"chain_id,pk"`
	TxHash          string  `bun:"tx_hash,pk"`
	LogIndex        int64   `bun:"log_index,pk"`
	AutopoolAddress string  `bun:"autopool_address,notnull"`
	BlockNumber     int64   `bun:"block_number,notnull"`
	FromAddress     string  `bun:"from_address,notnull"`
	ToAddress       string  `bun:"to_address,notnull"`
	Value           float64 `bun:"value,notnull"`
}

// FeeCollection is a protocol fee event (streaming or periodic)
type FeeCollection struct {
	bun.BaseModel `bun:"table:fee_collections"`

	ChainID         int64   `bun:"chain_id,pk"`
	TxHash          string  `bun:"tx_hash,pk"`
	LogIndex        int64   `bun:"log_index,pk"`
	AutopoolAddress string  `bun:"autopool_address,notnull"`
	BlockNumber     int64   `bun:"block_number,notnull"`
	FeeType         string  `bun:"fee_type,notnull"`
	Recipient       string  `bun:"recipient,notnull"`
	Shares          float64 `bun:"shares,notnull"`
	Assets          float64 `bun:"assets,notnull"`
}

// IncentiveSwap is a strategy-level swap of claimed incentive tokens into the
// base asset
type IncentiveSwap struct {
	bun.BaseModel `bun:"table:incentive_swaps"`

	ChainID         int64   `bun:"chain_id,pk"`
	TxHash          string  `bun:"tx_hash,pk"`
	LogIndex        int64   `bun:"log_index,pk"`
	AutopoolAddress string  `bun:"autopool_address,notnull"`
	BlockNumber     int64   `bun:"block_number,notnull"`
	TokenIn         string  `bun:"token_in,notnull"`
	TokenOut        string  `bun:"token_out,notnull"`
	AmountIn        float64 `bun:"amount_in,notnull"`
	AmountOut       float64 `bun:"amount_out,notnull"`
}

// IncentiveClaim is one (event, array index) slice of a multi-token reward
// claim, flattened so each claimed token is its own row
type IncentiveClaim struct {
	bun.BaseModel `bun:"table:incentive_claims"`

	ChainID            int64   `bun:"chain_id,pk"`
	TxHash             string  `bun:"tx_hash,pk"`
	LogIndex           int64   `bun:"log_index,pk"`
	TokenIndex         int     `bun:"token_index,pk"`
	DestinationAddress string  `bun:"destination_address,notnull"`
	BlockNumber        int64   `bun:"block_number,notnull"`
	TokenAddress       string  `bun:"token_address,notnull"`
	Amount             float64 `bun:"amount,notnull"`
}

// UnderlyingDeposit is a destination-vault underlying deposit, flattened per
// constituent token
type UnderlyingDeposit struct {
	bun.BaseModel `bun:"table:underlying_deposits"`

	ChainID            int64   `bun:"chain_id,pk"`
	TxHash             string  `bun:"tx_hash,pk"`
	LogIndex           int64   `bun:"log_index,pk"`
	TokenIndex         int     `bun:"token_index,pk"`
	DestinationAddress string  `bun:"destination_address,notnull"`
	BlockNumber        int64   `bun:"block_number,notnull"`
	Amount             float64 `bun:"amount,notnull"`
	Shares             float64 `bun:"shares,notnull"`
}

// UnderlyingWithdrawal is a destination-vault underlying withdrawal, flattened
// per constituent token
type UnderlyingWithdrawal struct {
	bun.BaseModel `bun:"table:underlying_withdrawals"`

	ChainID            int64   `bun:"chain_id,pk"`
	TxHash             string  `bun:"tx_hash,pk"`
	LogIndex           int64   `bun:"log_index,pk"`
	TokenIndex         int     `bun:"token_index,pk"`
	DestinationAddress string  `bun:"destination_address,notnull"`
	BlockNumber        int64   `bun:"block_number,notnull"`
	Amount             float64 `bun:"amount,notnull"`
	Shares             float64 `bun:"shares,notnull"`
}

// BalanceUpdate records an autopool's destination-share balance change event
type BalanceUpdate struct {
	bun.BaseModel `bun:"table:balance_updates"`

	ChainID            int64   `bun:"chain_id,pk"`
	TxHash             string  `bun:"tx_hash,pk"`
	LogIndex           int64   `bun:"log_index,pk"`
	AutopoolAddress    string  `bun:"autopool_address,notnull"`
	DestinationAddress string  `bun:"destination_address,notnull"`
	BlockNumber        int64   `bun:"block_number,notnull"`
	Balance            float64 `bun:"balance,notnull"`
}

// RebalancePlan is one solver-generated plan file; the remote storage key is
// the primary key. A state-of-destinations-only plan has all move fields NULL.
type RebalancePlan struct {
	bun.BaseModel `bun:"table:rebalance_plans"`

	FileKey            string    `bun:"file_key,pk"`
	ChainID            int64     `bun:"chain_id,notnull"`
	AutopoolAddress    string    `bun:"autopool_address,notnull"`
	SolverAddress      string    `bun:"solver_address,notnull"`
	DatetimeGenerated  time.Time `bun:"datetime_generated,notnull"`
	DestinationOut     *string   `bun:"destination_out"`
	DestinationIn      *string   `bun:"destination_in"`
	TokenOut           *string   `bun:"token_out"`
	TokenIn            *string   `bun:"token_in"`
	AmountOut          *float64  `bun:"amount_out"`
	AmountIn           *float64  `bun:"amount_in"`
	ProjectedSafeValue *float64  `bun:"projected_safe_value"`
	ProjectedSpotValue *float64  `bun:"projected_spot_value"`
}

// DexSwapStep is one hop of a solver plan's swap route
type DexSwapStep struct {
	bun.BaseModel `bun:"table:dex_swap_steps"`

	FileKey   string  `bun:"file_key,pk"`
	StepIndex int     `bun:"step_index,pk"`
	Exchange  string  `bun:"exchange,notnull"`
	TokenIn   string  `bun:"token_in,notnull"`
	TokenOut  string  `bun:"token_out,notnull"`
	AmountIn  float64 `bun:"amount_in,notnull"`
}

// RebalanceEvent is one on-chain rebalance transaction, optionally linked to
// the plan that most plausibly produced it. Realized safe/spot values are
// computed from chain state at the execution block, independent of the plan.
type RebalanceEvent struct {
	bun.BaseModel `bun:"table:rebalance_events"`

	ChainID            int64     `bun:"chain_id,pk"`
	TxHash             string    `bun:"tx_hash,pk"`
	AutopoolAddress    string    `bun:"autopool_address,notnull"`
	BlockNumber        int64     `bun:"block_number,notnull"`
	Datetime           time.Time `bun:"datetime,notnull"`
	DestinationOut     string    `bun:"destination_out,notnull"`
	DestinationIn      string    `bun:"destination_in,notnull"`
	TokenOut           string    `bun:"token_out,notnull"`
	TokenIn            string    `bun:"token_in,notnull"`
	AmountOut          float64   `bun:"amount_out,notnull"`
	AmountIn           float64   `bun:"amount_in,notnull"`
	PlanFileKey        *string   `bun:"plan_file_key"`
	RealizedSafeValueOut *float64 `bun:"realized_safe_value_out"`
	RealizedSpotValueOut *float64 `bun:"realized_spot_value_out"`
	RealizedSafeValueIn  *float64 `bun:"realized_safe_value_in"`
	RealizedSpotValueIn  *float64 `bun:"realized_spot_value_in"`
}

// AssetExposure is a point-in-time snapshot of off-chain-reported liquidity
type AssetExposure struct {
	bun.BaseModel `bun:"table:asset_exposures"`

	QuoteBatch   string    `bun:"quote_batch,pk"`
	ChainID      int64     `bun:"chain_id,pk"`
	TokenAddress string    `bun:"token_address,pk"`
	Liquidity    float64   `bun:"liquidity,notnull"`
	Datetime     time.Time `bun:"datetime,notnull"`
}

// SwapQuote is one third-party quote; quotes taken within one sampling round
// share a quote_batch so they can be grouped and medianed downstream
type SwapQuote struct {
	bun.BaseModel `bun:"table:swap_quotes"`

	QuoteBatch string    `bun:"quote_batch,pk"`
	Provider   string    `bun:"provider,pk"`
	ChainID    int64     `bun:"chain_id,pk"`
	TokenIn    string    `bun:"token_in,pk"`
	TokenOut   string    `bun:"token_out,pk"`
	AmountIn   float64   `bun:"amount_in,pk"`
	AmountOut  float64   `bun:"amount_out,notnull"`
	Datetime   time.Time `bun:"datetime,notnull"`
}

// SyncWatermark tracks the last fully processed block per (chain, table) for
// event streams without a natural per-entity watermark. Advanced only after a
// successful pass; the only mutable table in the warehouse.
type SyncWatermark struct {
	bun.BaseModel `bun:"table:sync_watermarks"`

	ChainID   int64     `bun:"chain_id,pk"`
	TableName string    `bun:"table_name,pk"`
	LastBlock int64     `bun:"last_block,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:now()"`
}

// Models lists every warehouse model in foreign-key-safe creation order
func Models() []any {
	return []any{
		(*Block)(nil),
		(*Transaction)(nil),
		(*Token)(nil),
		(*Autopool)(nil),
		(*Destination)(nil),
		(*AutopoolDestination)(nil),
		(*DestinationToken)(nil),
		(*AutopoolState)(nil),
		(*DestinationState)(nil),
		(*AutopoolDestinationState)(nil),
		(*DestinationTokenValue)(nil),
		(*Deposit)(nil),
		(*Withdrawal)(nil),
		(*ShareTransfer)(nil),
		(*FeeCollection)(nil),
		(*IncentiveSwap)(nil),
		(*IncentiveClaim)(nil),
		(*UnderlyingDeposit)(nil),
		(*UnderlyingWithdrawal)(nil),
		(*BalanceUpdate)(nil),
		(*RebalancePlan)(nil),
		(*DexSwapStep)(nil),
		(*RebalanceEvent)(nil),
		(*AssetExposure)(nil),
		(*SwapQuote)(nil),
		(*SyncWatermark)(nil),
	}
}
