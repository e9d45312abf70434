package queue

import (
	"context"
	"sync/atomic"

	"github.com/pydea-rs/tayadex-backend/internal/metrics"
	"github.com/pydea-rs/tayadex-backend/pkg/logger"
)

const DefaultMaxRetries = 3

type Processor interface {
	Process(ctx context.Context, item *WorkItem) error
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, item *WorkItem) error

func (f ProcessorFunc) Process(ctx context.Context, item *WorkItem) error {
	return f(ctx, item)
}

type DrainerStats struct {
	Processed int64 `json:"processed"`
	Retried   int64 `json:"retried"`
	Dropped   int64 `json:"dropped"`
}

// Drainer 每次调用处理队列中的一个任务，失败的任务重新入队，超过重试上限后丢弃
type Drainer struct {
	queue      Queue
	processor  Processor
	maxRetries int

	processed int64
	retried   int64
	dropped   int64
}

func NewDrainer(q Queue, processor Processor, maxRetries int) *Drainer {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Drainer{
		queue:      q,
		processor:  processor,
		maxRetries: maxRetries,
	}
}

// DrainOnce handles at most one item. It reports whether an item was taken.
func (d *Drainer) DrainOnce(ctx context.Context) (bool, error) {
	item, err := d.queue.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if item == nil {
		return false, nil
	}
	defer d.reportLength(ctx)

	err = d.processor.Process(ctx, item)
	if err == nil {
		atomic.AddInt64(&d.processed, 1)
		metrics.Indexer().ObserveQueueItem("processed")
		return true, nil
	}

	item.Retries++
	fields := map[string]interface{}{
		"item_id": item.ID,
		"tx_hash": item.TxHash,
		"kind":    item.Kind,
		"retries": item.Retries,
		"error":   err.Error(),
	}

	if item.Retries < d.maxRetries {
		if qerr := d.queue.Enqueue(ctx, item); qerr != nil {
			atomic.AddInt64(&d.dropped, 1)
			metrics.Indexer().ObserveQueueItem("dropped")
			logger.WithFields(fields).WithError(qerr).Error("任务重新入队失败，已丢弃")
			return true, qerr
		}
		atomic.AddInt64(&d.retried, 1)
		metrics.Indexer().ObserveQueueItem("retried")
		logger.WithFields(fields).Warn("任务处理失败，重新入队")
		return true, nil
	}

	atomic.AddInt64(&d.dropped, 1)
	metrics.Indexer().ObserveQueueItem("dropped")
	logger.WithFields(fields).Error("任务超过最大重试次数，已丢弃")
	return true, nil
}

func (d *Drainer) reportLength(ctx context.Context) {
	if n, err := d.queue.Len(ctx); err == nil {
		metrics.Indexer().SetQueueLength(n)
	}
}

func (d *Drainer) Stats() DrainerStats {
	return DrainerStats{
		Processed: atomic.LoadInt64(&d.processed),
		Retried:   atomic.LoadInt64(&d.retried),
		Dropped:   atomic.LoadInt64(&d.dropped),
	}
}
