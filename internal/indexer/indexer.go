package indexer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pydea-rs/tayadex-backend/internal/blockchain"
	"github.com/pydea-rs/tayadex-backend/internal/metrics"
	"github.com/pydea-rs/tayadex-backend/internal/models"
	"github.com/pydea-rs/tayadex-backend/internal/queue"
	"github.com/pydea-rs/tayadex-backend/pkg/errors"
	"github.com/pydea-rs/tayadex-backend/pkg/logger"
)

type ChainReader interface {
	FinalizedBlockNumber(ctx context.Context) (uint64, error)
	SwapEvents(ctx context.Context, fromBlock, toBlock uint64) ([]blockchain.SwapEvent, error)
	LiquidityEvents(ctx context.Context, fromBlock, toBlock uint64) (*blockchain.LiquidityEvents, error)
}

type ChainStore interface {
	Get(ctx context.Context, chainID uint64) (*models.Chain, error)
	UpdateLastIndexedBlock(ctx context.Context, chainID uint64, blockNumber uint64) error
}

type State int32

const (
	StateIdle State = iota
	StateScanning
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

type RoundResult struct {
	Skipped            bool   `json:"skipped"`
	Target             uint64 `json:"target"`
	Start              uint64 `json:"start"`
	SwapWatermark      uint64 `json:"swap_watermark"`
	LiquidityWatermark uint64 `json:"liquidity_watermark"`
	Watermark          uint64 `json:"watermark"`
	Enqueued           int    `json:"enqueued"`
	Persisted          bool   `json:"persisted"`
}

// Indexer 扫描链上事件并写入重试队列，同一时间最多只有一轮扫描
type Indexer struct {
	chainID     uint64
	reader      ChainReader
	chains      ChainStore
	queue       queue.Queue
	windowDelay time.Duration

	mu    sync.Mutex
	state State
}

func New(chainID uint64, reader ChainReader, chains ChainStore, q queue.Queue, windowDelay time.Duration) *Indexer {
	return &Indexer{
		chainID:     chainID,
		reader:      reader,
		chains:      chains,
		queue:       q,
		windowDelay: windowDelay,
		state:       StateIdle,
	}
}

func (ix *Indexer) State() State {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.state
}

func (ix *Indexer) tryAcquire() bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.state != StateIdle {
		return false
	}
	ix.state = StateScanning
	return true
}

func (ix *Indexer) release() {
	ix.mu.Lock()
	ix.state = StateIdle
	ix.mu.Unlock()
}

// RunRound scans from the stored watermark up to the finalized block. A round
// started while another is scanning returns immediately with Skipped set.
func (ix *Indexer) RunRound(ctx context.Context) (*RoundResult, error) {
	if !ix.tryAcquire() {
		metrics.Indexer().ObserveRound("skipped")
		logger.WithFields(map[string]interface{}{
			"chain_id": ix.chainID,
		}).Warn("上一轮扫描尚未完成，跳过本次触发")
		return &RoundResult{Skipped: true}, nil
	}

	chain, result, err := ix.scan(ctx)
	ix.release()
	if err != nil {
		metrics.Indexer().ObserveRound("failed")
		return nil, err
	}

	if chain.LastIndexedBlock == nil || result.Watermark > *chain.LastIndexedBlock {
		if err := ix.chains.UpdateLastIndexedBlock(ctx, ix.chainID, result.Watermark); err != nil {
			metrics.Indexer().ObserveRound("failed")
			return result, errors.New(errors.ErrBlockFetch, "更新索引水位线失败", err)
		}
		result.Persisted = true
		metrics.Indexer().SetWatermark(result.Watermark)
	}

	metrics.Indexer().ObserveRound("completed")
	logger.WithFields(map[string]interface{}{
		"chain_id":  ix.chainID,
		"start":     result.Start,
		"target":    result.Target,
		"swap":      result.SwapWatermark,
		"liquidity": result.LiquidityWatermark,
		"watermark": result.Watermark,
		"enqueued":  result.Enqueued,
		"persisted": result.Persisted,
	}).Info("索引轮次完成")

	return result, nil
}

func (ix *Indexer) scan(ctx context.Context) (*models.Chain, *RoundResult, error) {
	chain, err := ix.chains.Get(ctx, ix.chainID)
	if err != nil {
		return nil, nil, errors.New(errors.ErrInvalidChain, "读取链配置失败", err)
	}
	if chain == nil {
		return nil, nil, errors.New(errors.ErrInvalidChain,
			fmt.Sprintf("链 %d 未配置", ix.chainID), nil)
	}

	target, err := ix.reader.FinalizedBlockNumber(ctx)
	if err != nil {
		return nil, nil, err
	}

	start := StartBlock(chain, target)
	result := &RoundResult{Target: target, Start: start}

	var n int
	result.SwapWatermark, n = ix.scanWindows(ctx, "swap", chain, start, target, ix.enqueueSwaps)
	result.Enqueued += n
	result.LiquidityWatermark, n = ix.scanWindows(ctx, "liquidity", chain, start, target, ix.enqueueLiquidity)
	result.Enqueued += n

	result.Watermark = min(result.SwapWatermark, result.LiquidityWatermark)
	return chain, result, nil
}

// StartBlock picks the last indexed block, then the configured start block, then
// the target itself.
func StartBlock(chain *models.Chain, target uint64) uint64 {
	if chain.LastIndexedBlock != nil {
		return *chain.LastIndexedBlock
	}
	if chain.StartFromBlock != nil {
		return *chain.StartFromBlock
	}
	return target
}

type windowFetcher func(ctx context.Context, fromBlock, toBlock uint64) (int, error)

// scanWindows walks (start, target] in windows of BatchSize blocks, at most
// MaxBatchSteps windows. It stops at the first failed window and returns the last
// block of the last good window.
func (ix *Indexer) scanWindows(ctx context.Context, family string, chain *models.Chain, start, target uint64, fetch windowFetcher) (uint64, int) {
	batch := uint64(max(chain.BatchSize, 1))
	steps := max(chain.MaxBatchSteps, 1)

	watermark := start
	enqueued := 0
	from := start + 1
	for step := 0; step < steps && from <= target; step++ {
		to := min(from+batch-1, target)

		n, err := fetch(ctx, from, to)
		enqueued += n
		if err != nil {
			metrics.Indexer().ObserveWindow(family, "failed")
			logger.WithFields(map[string]interface{}{
				"chain_id":   ix.chainID,
				"family":     family,
				"from_block": from,
				"to_block":   to,
			}).WithError(err).Error("扫描区块窗口失败")
			break
		}
		metrics.Indexer().ObserveWindow(family, "ok")
		watermark = to

		from = to + 1
		if from <= target && step+1 < steps {
			if err := sleep(ctx, ix.windowDelay); err != nil {
				break
			}
		}
	}
	return watermark, enqueued
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (ix *Indexer) enqueue(ctx context.Context, items []*queue.WorkItem) (int, error) {
	for i, item := range items {
		if err := ix.queue.Enqueue(ctx, item); err != nil {
			return i, err
		}
		metrics.Indexer().ObserveEnqueued(string(item.Kind), 1)
	}
	return len(items), nil
}

func (ix *Indexer) enqueueSwaps(ctx context.Context, fromBlock, toBlock uint64) (int, error) {
	swaps, err := ix.reader.SwapEvents(ctx, fromBlock, toBlock)
	if err != nil {
		return 0, err
	}
	items := make([]*queue.WorkItem, 0, len(swaps))
	for i := range swaps {
		items = append(items, SwapWorkItem(&swaps[i]))
	}
	return ix.enqueue(ctx, items)
}

func (ix *Indexer) enqueueLiquidity(ctx context.Context, fromBlock, toBlock uint64) (int, error) {
	events, err := ix.reader.LiquidityEvents(ctx, fromBlock, toBlock)
	if err != nil {
		return 0, err
	}
	if events == nil {
		return 0, nil
	}
	items := make([]*queue.WorkItem, 0, len(events.Mints)+len(events.Burns))
	for i := range events.Mints {
		items = append(items, MintWorkItem(&events.Mints[i]))
	}
	for i := range events.Burns {
		items = append(items, BurnWorkItem(&events.Burns[i]))
	}
	return ix.enqueue(ctx, items)
}
