package chain

import (
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// DeadAddress is the sentinel used for the "to" side of contract-creation
// transactions, which have no recipient on-chain.
const DeadAddress = "0x000000000000000000000000000000000000dead"

// Field identifies which view a multicall result answers. Decode results are
// keyed by (entity, field) so mismatched lookups fail at compile time instead
// of via stringly-typed tuples.
type Field int

const (
	FieldSymbol Field = iota
	FieldName
	FieldDecimals
	FieldAsset
	FieldStrategy
	FieldDestinations
	FieldTotalSupply
	FieldTotalAssets
	FieldDeployBlock
	FieldBalanceOf
	FieldPool
	FieldUnderlying
	FieldExchangeName
	FieldPoolType
	FieldUnderlyingTokens
	FieldUnderlyingReserves
	FieldSpotPrice
	FieldSafePrice
	FieldStats
	FieldVaults
	FieldPriceInBase
)

func (f Field) String() string {
	switch f {
	case FieldSymbol:
		return "symbol"
	case FieldName:
		return "name"
	case FieldDecimals:
		return "decimals"
	case FieldAsset:
		return "asset"
	case FieldStrategy:
		return "strategy"
	case FieldDestinations:
		return "destinations"
	case FieldTotalSupply:
		return "total_supply"
	case FieldTotalAssets:
		return "total_assets"
	case FieldDeployBlock:
		return "deploy_block"
	case FieldBalanceOf:
		return "balance_of"
	case FieldPool:
		return "pool"
	case FieldUnderlying:
		return "underlying"
	case FieldExchangeName:
		return "exchange_name"
	case FieldPoolType:
		return "pool_type"
	case FieldUnderlyingTokens:
		return "underlying_tokens"
	case FieldUnderlyingReserves:
		return "underlying_reserves"
	case FieldSpotPrice:
		return "spot_price"
	case FieldSafePrice:
		return "safe_price"
	case FieldStats:
		return "stats"
	case FieldVaults:
		return "vaults"
	case FieldPriceInBase:
		return "price_in_base"
	default:
		return "unknown"
	}
}

// CallKey identifies one multicall subcall result
type CallKey struct {
	Entity common.Address
	Field  Field
}

// Call is one view-function subcall in a multicall batch
type Call struct {
	Key    CallKey
	Target common.Address
	ABI    *abi.ABI
	Method string
	Args   []any
}

// Result is one decoded subcall outcome. A reverted subcall yields Ok=false
// rather than an error, since individual targets may legitimately revert at
// historical blocks (e.g. not yet deployed).
type Result struct {
	Ok     bool
	Values []any
}

// Receipt is a normalized transaction receipt row source
type Receipt struct {
	TxHash            string
	BlockNumber       int64
	From              string
	To                string
	GasUsed           int64
	EffectiveGasPrice int64
}
