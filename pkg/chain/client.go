// Package chain wraps one chain's RPC endpoint behind the small surface the
// sync layer needs: head discovery, event logs, batched receipt fetches and
// multicall-aggregated view calls.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"github.com/autopool-labs/autopool-warehouse/internal/metrics"
	"github.com/autopool-labs/autopool-warehouse/pkg/config"
)

// Client wraps an RPC endpoint for one chain
type Client struct {
	cfg       config.ChainConfig
	eth       *ethclient.Client
	rpc       *rpc.Client
	multicall common.Address
	registry  common.Address
	logger    *zap.Logger
}

// NewClient dials the chain's RPC endpoint
func NewClient(cfg config.ChainConfig, logger *zap.Logger) (*Client, error) {
	rpcClient, err := rpc.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC for chain %d: %w", cfg.ChainID, err)
	}

	logger.Info("Connected to chain",
		zap.Int64("chain_id", cfg.ChainID),
		zap.String("name", cfg.Name),
		zap.String("multicall", cfg.MulticallContract))

	return &Client{
		cfg:       cfg,
		eth:       ethclient.NewClient(rpcClient),
		rpc:       rpcClient,
		multicall: common.HexToAddress(cfg.MulticallContract),
		registry:  common.HexToAddress(cfg.RegistryContract),
		logger:    logger,
	}, nil
}

// Close closes the underlying RPC connection
func (c *Client) Close() {
	c.rpc.Close()
}

// ChainID returns the configured chain id
func (c *Client) ChainID() int64 {
	return c.cfg.ChainID
}

// Name returns the configured chain name, used as the metrics label
func (c *Client) Name() string {
	return c.cfg.Name
}

// Registry returns the autopool registry contract address
func (c *Client) Registry() common.Address {
	return c.registry
}

// SafeHead returns the current head minus the configured confirmation buffer
func (c *Client) SafeHead(ctx context.Context) (int64, error) {
	metrics.RPCCalls.WithLabelValues(c.cfg.Name, "eth_blockNumber").Inc()
	head, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get head block: %w", err)
	}
	safe := int64(head) - c.cfg.ConfirmationBlocks
	if safe < 0 {
		safe = 0
	}
	return safe, nil
}

// HeaderTime returns the UTC timestamp of a block
func (c *Client) HeaderTime(ctx context.Context, blockNumber int64) (time.Time, error) {
	metrics.RPCCalls.WithLabelValues(c.cfg.Name, "eth_getBlockByNumber").Inc()
	header, err := c.eth.HeaderByNumber(ctx, big.NewInt(blockNumber))
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get header %d: %w", blockNumber, err)
	}
	return time.Unix(int64(header.Time), 0).UTC(), nil
}

// FilterLogs queries event logs for the given addresses and topics
func (c *Client) FilterLogs(ctx context.Context, fromBlock, toBlock int64, addresses []common.Address, topics [][]common.Hash) ([]types.Log, error) {
	metrics.RPCCalls.WithLabelValues(c.cfg.Name, "eth_getLogs").Inc()
	logs, err := c.eth.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: big.NewInt(fromBlock),
		ToBlock:   big.NewInt(toBlock),
		Addresses: addresses,
		Topics:    topics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to filter logs [%d, %d]: %w", fromBlock, toBlock, err)
	}
	return logs, nil
}

// rpcReceipt mirrors the eth_getTransactionReceipt wire shape for the fields
// the warehouse keeps
type rpcReceipt struct {
	TxHash            common.Hash     `json:"transactionHash"`
	BlockNumber       *hexutil.Big    `json:"blockNumber"`
	From              common.Address  `json:"from"`
	To                *common.Address `json:"to"`
	GasUsed           hexutil.Uint64  `json:"gasUsed"`
	EffectiveGasPrice *hexutil.Big    `json:"effectiveGasPrice"`
}

// BatchReceipts fetches receipts for the given hashes in one JSON-RPC batch
// request, bypassing per-call overhead. Contract creations (null "to") get
// the dead-address sentinel.
func (c *Client) BatchReceipts(ctx context.Context, txHashes []string) ([]Receipt, error) {
	if len(txHashes) == 0 {
		return nil, nil
	}

	elems := make([]rpc.BatchElem, len(txHashes))
	raws := make([]rpcReceipt, len(txHashes))
	for i, hash := range txHashes {
		elems[i] = rpc.BatchElem{
			Method: "eth_getTransactionReceipt",
			Args:   []any{common.HexToHash(hash)},
			Result: &raws[i],
		}
	}

	metrics.RPCCalls.WithLabelValues(c.cfg.Name, "eth_getTransactionReceipt_batch").Inc()
	if err := c.rpc.BatchCallContext(ctx, elems); err != nil {
		return nil, fmt.Errorf("batch receipt request failed: %w", err)
	}

	receipts := make([]Receipt, 0, len(txHashes))
	for i, elem := range elems {
		if elem.Error != nil {
			return nil, fmt.Errorf("receipt request for %s failed: %w", txHashes[i], elem.Error)
		}
		raw := raws[i]
		if raw.BlockNumber == nil {
			return nil, fmt.Errorf("receipt for %s not found", txHashes[i])
		}

		to := DeadAddress
		if raw.To != nil {
			to = strings.ToLower(raw.To.Hex())
		}
		gasPrice := int64(0)
		if raw.EffectiveGasPrice != nil {
			gasPrice = raw.EffectiveGasPrice.ToInt().Int64()
		}

		receipts = append(receipts, Receipt{
			TxHash:            strings.ToLower(raw.TxHash.Hex()),
			BlockNumber:       raw.BlockNumber.ToInt().Int64(),
			From:              strings.ToLower(raw.From.Hex()),
			To:                to,
			GasUsed:           int64(raw.GasUsed),
			EffectiveGasPrice: gasPrice,
		})
	}
	return receipts, nil
}

type multicallCall struct {
	Target   common.Address
	CallData []byte
}

type multicallResult struct {
	Success    bool
	ReturnData []byte
}

// Multicall aggregates view calls into one eth_call against the Multicall3
// contract at a specific block. A reverted subcall becomes Result{Ok: false}
// under its key; only transport or decode failures return an error.
func (c *Client) Multicall(ctx context.Context, blockNumber int64, calls []Call) (map[CallKey]Result, error) {
	if len(calls) == 0 {
		return map[CallKey]Result{}, nil
	}

	packed := make([]multicallCall, len(calls))
	for i, call := range calls {
		data, err := call.ABI.Pack(call.Method, call.Args...)
		if err != nil {
			return nil, fmt.Errorf("failed to pack %s for %s: %w", call.Method, call.Target.Hex(), err)
		}
		packed[i] = multicallCall{Target: call.Target, CallData: data}
	}

	input, err := MulticallABI.Pack("tryAggregate", false, packed)
	if err != nil {
		return nil, fmt.Errorf("failed to pack tryAggregate: %w", err)
	}

	metrics.RPCCalls.WithLabelValues(c.cfg.Name, "eth_call_multicall").Inc()
	var blockArg *big.Int
	if blockNumber > 0 {
		blockArg = big.NewInt(blockNumber)
	}
	raw, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &c.multicall, Data: input}, blockArg)
	if err != nil {
		return nil, fmt.Errorf("multicall at block %d failed: %w", blockNumber, err)
	}

	unpacked, err := MulticallABI.Unpack("tryAggregate", raw)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack tryAggregate result: %w", err)
	}
	results := *abiConvertResults(unpacked[0])
	if len(results) != len(calls) {
		return nil, fmt.Errorf("multicall returned %d results for %d calls", len(results), len(calls))
	}

	out := make(map[CallKey]Result, len(calls))
	for i, call := range calls {
		if !results[i].Success || len(results[i].ReturnData) == 0 {
			out[call.Key] = Result{Ok: false}
			continue
		}
		values, err := call.ABI.Unpack(call.Method, results[i].ReturnData)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s result for %s: %w", call.Method, call.Target.Hex(), err)
		}
		out[call.Key] = Result{Ok: true, Values: values}
	}
	return out, nil
}
