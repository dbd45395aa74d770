package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Contract ABIs are trimmed to the views and events the syncer consumes.

const multicallABIJSON = `[
	{"name":"tryAggregate","type":"function","stateMutability":"view",
	 "inputs":[
		{"name":"requireSuccess","type":"bool"},
		{"name":"calls","type":"tuple[]","components":[
			{"name":"target","type":"address"},
			{"name":"callData","type":"bytes"}]}],
	 "outputs":[
		{"name":"returnData","type":"tuple[]","components":[
			{"name":"success","type":"bool"},
			{"name":"returnData","type":"bytes"}]}]}
]`

const erc20ABIJSON = `[
	{"name":"symbol","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"name":"name","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
	{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

const registryABIJSON = `[
	{"name":"listVaults","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address[]"}]},
	{"name":"getPriceInBase","type":"function","stateMutability":"view","inputs":[{"name":"token","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

const autopoolABIJSON = `[
	{"name":"symbol","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"name":"name","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"name":"asset","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"name":"strategy","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"name":"getDestinations","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address[]"}]},
	{"name":"totalSupply","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"totalAssets","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"deployBlock","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"event","name":"Deposit","inputs":[
		{"name":"sender","type":"address","indexed":true},
		{"name":"owner","type":"address","indexed":true},
		{"name":"assets","type":"uint256","indexed":false},
		{"name":"shares","type":"uint256","indexed":false}]},
	{"type":"event","name":"Withdraw","inputs":[
		{"name":"sender","type":"address","indexed":true},
		{"name":"receiver","type":"address","indexed":true},
		{"name":"owner","type":"address","indexed":true},
		{"name":"assets","type":"uint256","indexed":false},
		{"name":"shares","type":"uint256","indexed":false}]},
	{"type":"event","name":"Transfer","inputs":[
		{"name":"from","type":"address","indexed":true},
		{"name":"to","type":"address","indexed":true},
		{"name":"value","type":"uint256","indexed":false}]},
	{"type":"event","name":"FeeCollected","inputs":[
		{"name":"recipient","type":"address","indexed":true},
		{"name":"shares","type":"uint256","indexed":false},
		{"name":"assets","type":"uint256","indexed":false}]},
	{"type":"event","name":"PeriodicFeeCollected","inputs":[
		{"name":"recipient","type":"address","indexed":true},
		{"name":"shares","type":"uint256","indexed":false},
		{"name":"assets","type":"uint256","indexed":false}]},
	{"type":"event","name":"BalanceUpdated","inputs":[
		{"name":"destination","type":"address","indexed":true},
		{"name":"balance","type":"uint256","indexed":false}]}
]`

const strategyABIJSON = `[
	{"type":"event","name":"Swapped","inputs":[
		{"name":"tokenIn","type":"address","indexed":true},
		{"name":"tokenOut","type":"address","indexed":true},
		{"name":"amountIn","type":"uint256","indexed":false},
		{"name":"amountOut","type":"uint256","indexed":false}]}
]`

const destinationABIJSON = `[
	{"name":"getPool","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"name":"underlying","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"name":"exchangeName","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"name":"poolType","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
	{"name":"underlyingTokens","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address[]"}]},
	{"name":"underlyingReserves","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256[]"}]},
	{"name":"totalSupply","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"getUnderlyerSpotPrice","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"getUnderlyerSafePrice","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"currentStats","type":"function","stateMutability":"view","inputs":[],"outputs":[
		{"name":"baseApr","type":"uint256"},
		{"name":"feeApr","type":"uint256"},
		{"name":"incentiveApr","type":"uint256"}]},
	{"type":"event","name":"RewardsClaimed","inputs":[
		{"name":"tokens","type":"address[]","indexed":false},
		{"name":"amounts","type":"uint256[]","indexed":false}]},
	{"type":"event","name":"UnderlyingDeposited","inputs":[
		{"name":"amounts","type":"uint256[]","indexed":false},
		{"name":"shares","type":"uint256","indexed":false}]},
	{"type":"event","name":"UnderlyingWithdraw","inputs":[
		{"name":"amounts","type":"uint256[]","indexed":false},
		{"name":"shares","type":"uint256","indexed":false}]}
]`

var (
	MulticallABI   = mustABI(multicallABIJSON)
	ERC20ABI       = mustABI(erc20ABIJSON)
	RegistryABI    = mustABI(registryABIJSON)
	AutopoolABI    = mustABI(autopoolABIJSON)
	StrategyABI    = mustABI(strategyABIJSON)
	DestinationABI = mustABI(destinationABIJSON)
)

func mustABI(raw string) *abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return &parsed
}
