package chain

import (
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// abiConvertResults converts the anonymous struct slice produced by
// abi.Unpack into the named multicallResult type
func abiConvertResults(v any) *[]multicallResult {
	return abi.ConvertType(v, new([]multicallResult)).(*[]multicallResult)
}

// ViewCall builds a zero-argument view call keyed by the target itself
func ViewCall(target common.Address, contractABI *abi.ABI, method string, field Field) Call {
	return Call{
		Key:    CallKey{Entity: target, Field: field},
		Target: target,
		ABI:    contractABI,
		Method: method,
	}
}

// KeyedCall builds a call whose result is keyed by an entity other than the
// target, used when one contract answers for many entities
func KeyedCall(entity common.Address, target common.Address, contractABI *abi.ABI, method string, field Field, args ...any) Call {
	return Call{
		Key:    CallKey{Entity: entity, Field: field},
		Target: target,
		ABI:    contractABI,
		Method: method,
		Args:   args,
	}
}

// ERC20MetadataCalls builds the symbol/name/decimals calls for a token
func ERC20MetadataCalls(token common.Address) []Call {
	return []Call{
		ViewCall(token, ERC20ABI, "symbol", FieldSymbol),
		ViewCall(token, ERC20ABI, "name", FieldName),
		ViewCall(token, ERC20ABI, "decimals", FieldDecimals),
	}
}
