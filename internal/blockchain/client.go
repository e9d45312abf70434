package blockchain

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pydea-rs/tayadex-backend/internal/config"
	"github.com/pydea-rs/tayadex-backend/internal/metrics"
	"github.com/pydea-rs/tayadex-backend/pkg/errors"
	"github.com/pydea-rs/tayadex-backend/pkg/logger"
	"golang.org/x/time/rate"
)

type Client struct {
	chainCfg *config.ChainConfig
	client   *ethclient.Client
	rpc      *rpc.Client
	limiter  *rate.Limiter
	pairs    []common.Address

	mu         sync.RWMutex
	tokenCache map[common.Address]TokenInfo
	pairCache  map[common.Address]PairInfo
}

// NewClient 创建指定链的区块链客户端
func NewClient(ctx context.Context, chainCfg *config.ChainConfig) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, chainCfg.RPCURL)
	if err != nil {
		return nil, errors.New(errors.ErrRPConnect,
			fmt.Sprintf("连接RPC失败: %s", chainCfg.RPCURL), err)
	}
	return newClient(chainCfg, rpcClient), nil
}

func newClient(chainCfg *config.ChainConfig, rpcClient *rpc.Client) *Client {
	limit := rate.Inf
	if chainCfg.RequestsPerSecond > 0 {
		limit = rate.Limit(chainCfg.RequestsPerSecond)
	}
	burst := chainCfg.RequestBurst
	if burst <= 0 {
		burst = 1
	}

	pairs := make([]common.Address, 0, len(chainCfg.PairAddresses))
	for _, addr := range chainCfg.PairAddresses {
		if common.IsHexAddress(addr) {
			pairs = append(pairs, common.HexToAddress(addr))
		}
	}

	return &Client{
		chainCfg:   chainCfg,
		client:     ethclient.NewClient(rpcClient),
		rpc:        rpcClient,
		limiter:    rate.NewLimiter(limit, burst),
		pairs:      pairs,
		tokenCache: make(map[common.Address]TokenInfo),
		pairCache:  make(map[common.Address]PairInfo),
	}
}

// Close 关闭区块链客户端连接
func (c *Client) Close() {
	c.client.Close()
}

// withRetry runs fn up to MaxRetries times with a fixed delay, waiting on the rate
// limiter before every attempt. NotFound is returned immediately.
func withRetry[T any](ctx context.Context, c *Client, method string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	attempts := c.chainCfg.MaxRetries
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return zero, err
		}

		result, err := fn(ctx)
		metrics.Indexer().ObserveRPC(method, err)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, ethereum.NotFound) {
			return zero, err
		}
		lastErr = err

		logger.WithFields(map[string]interface{}{
			"method":  method,
			"attempt": attempt,
			"error":   err.Error(),
		}).Warn("RPC调用失败")

		if attempt < attempts {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(c.chainCfg.RetryDelayDuration()):
			}
		}
	}
	return zero, lastErr
}

// LatestBlockNumber 获取区块链最新区块号
func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	number, err := withRetry(ctx, c, "eth_blockNumber", func(ctx context.Context) (uint64, error) {
		return c.client.BlockNumber(ctx)
	})
	if err != nil {
		return 0, errors.New(errors.ErrBlockFetch, "获取最新区块失败", err)
	}
	return number, nil
}

// FinalizedBlockNumber 获取最新已最终确认的区块号
func (c *Client) FinalizedBlockNumber(ctx context.Context) (uint64, error) {
	number, err := withRetry(ctx, c, "eth_getBlockByNumber", func(ctx context.Context) (uint64, error) {
		var head *struct {
			Number hexutil.Uint64 `json:"number"`
		}
		if err := c.rpc.CallContext(ctx, &head, "eth_getBlockByNumber", "finalized", false); err != nil {
			return 0, err
		}
		if head == nil {
			return 0, ethereum.NotFound
		}
		return uint64(head.Number), nil
	})
	if err != nil {
		return 0, errors.New(errors.ErrBlockFetch, "获取已确认区块失败", err)
	}
	return number, nil
}

// TransactionOrigin returns the sender of the transaction.
func (c *Client) TransactionOrigin(ctx context.Context, txHash string) (common.Address, error) {
	from, err := withRetry(ctx, c, "eth_getTransactionByHash", func(ctx context.Context) (common.Address, error) {
		var tx *struct {
			From common.Address `json:"from"`
		}
		if err := c.rpc.CallContext(ctx, &tx, "eth_getTransactionByHash", common.HexToHash(txHash)); err != nil {
			return common.Address{}, err
		}
		if tx == nil {
			return common.Address{}, ethereum.NotFound
		}
		return tx.From, nil
	})
	if err != nil {
		return common.Address{}, errors.New(errors.ErrTxOrigin,
			fmt.Sprintf("获取交易发起方失败: %s", txHash), err)
	}
	return from, nil
}

func (c *Client) filterLogs(ctx context.Context, fromBlock, toBlock uint64, topics []common.Hash) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: c.pairs,
		Topics:    [][]common.Hash{topics},
	}
	logs, err := withRetry(ctx, c, "eth_getLogs", func(ctx context.Context) ([]types.Log, error) {
		return c.client.FilterLogs(ctx, query)
	})
	if err != nil {
		return nil, errors.New(errors.ErrLogFetch,
			fmt.Sprintf("获取事件日志失败: %d-%d", fromBlock, toBlock), err)
	}
	return logs, nil
}

// SwapEvents 获取区块范围内的 Swap 事件并附带交易对代币信息
func (c *Client) SwapEvents(ctx context.Context, fromBlock, toBlock uint64) ([]SwapEvent, error) {
	logs, err := c.filterLogs(ctx, fromBlock, toBlock, []common.Hash{SwapTopic})
	if err != nil {
		return nil, err
	}

	events := make([]SwapEvent, 0, len(logs))
	pairs := make([]common.Address, 0, len(logs))
	for _, log := range logs {
		if log.Removed {
			continue
		}
		event, err := ParseSwapLog(log)
		if err != nil {
			skipLog("swap", "parse", log, err)
			continue
		}
		events = append(events, *event)
		pairs = append(pairs, event.Pair)
	}
	if len(events) == 0 {
		return events, nil
	}

	meta, err := c.PairsMetadata(ctx, pairs)
	if err != nil {
		return nil, err
	}
	kept := events[:0]
	for _, event := range events {
		info, ok := meta[event.Pair]
		if !ok {
			skipPair("swap", event.TxHash, event.Pair)
			continue
		}
		event.Token0 = info.Token0
		event.Token1 = info.Token1
		kept = append(kept, event)
	}
	events = kept

	logger.WithFields(map[string]interface{}{
		"chain_id":    c.chainCfg.ID,
		"start_block": fromBlock,
		"end_block":   toBlock,
		"swaps":       len(events),
	}).Debug("获取Swap事件")

	return events, nil
}

// LiquidityEvents 获取区块范围内的 Mint/Burn 事件
func (c *Client) LiquidityEvents(ctx context.Context, fromBlock, toBlock uint64) (*LiquidityEvents, error) {
	logs, err := c.filterLogs(ctx, fromBlock, toBlock, []common.Hash{MintTopic, BurnTopic})
	if err != nil {
		return nil, err
	}

	result := &LiquidityEvents{}
	pairs := make([]common.Address, 0, len(logs))
	for _, log := range logs {
		if log.Removed || len(log.Topics) == 0 {
			continue
		}
		var (
			event *LiquidityEvent
			err   error
		)
		switch log.Topics[0] {
		case MintTopic:
			event, err = ParseMintLog(log)
		case BurnTopic:
			event, err = ParseBurnLog(log)
		default:
			continue
		}
		if err != nil {
			skipLog("liquidity", "parse", log, err)
			continue
		}
		if log.Topics[0] == MintTopic {
			result.Mints = append(result.Mints, *event)
		} else {
			result.Burns = append(result.Burns, *event)
		}
		pairs = append(pairs, event.Pair)
	}
	if len(pairs) == 0 {
		return result, nil
	}

	meta, err := c.PairsMetadata(ctx, pairs)
	if err != nil {
		return nil, err
	}
	result.Mints = attachPairs(result.Mints, meta)
	result.Burns = attachPairs(result.Burns, meta)

	logger.WithFields(map[string]interface{}{
		"chain_id":    c.chainCfg.ID,
		"start_block": fromBlock,
		"end_block":   toBlock,
		"mints":       len(result.Mints),
		"burns":       len(result.Burns),
	}).Debug("获取流动性事件")

	return result, nil
}

func attachPairs(events []LiquidityEvent, meta map[common.Address]PairInfo) []LiquidityEvent {
	kept := events[:0]
	for _, event := range events {
		info, ok := meta[event.Pair]
		if !ok {
			skipPair("liquidity", event.TxHash, event.Pair)
			continue
		}
		event.Token0 = info.Token0
		event.Token1 = info.Token1
		kept = append(kept, event)
	}
	return kept
}

// skipLog 单条日志无法解析时跳过，不影响同一窗口内的其他事件
func skipLog(family, reason string, log types.Log, err error) {
	metrics.Indexer().ObserveSkipped(family, reason)
	logger.WithFields(map[string]interface{}{
		"family":    family,
		"tx_hash":   log.TxHash.Hex(),
		"log_index": log.Index,
		"address":   log.Address.Hex(),
		"error":     err.Error(),
	}).Warn("事件解析失败，跳过")
}

func skipPair(family, txHash string, pair common.Address) {
	metrics.Indexer().ObserveSkipped(family, "metadata")
	logger.WithFields(map[string]interface{}{
		"family":  family,
		"tx_hash": txHash,
		"pair":    pair.Hex(),
	}).Warn("缺少交易对信息，跳过")
}
