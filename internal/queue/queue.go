package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pydea-rs/tayadex-backend/internal/models"
)

// TokenLeg 单边代币数据，RawAmount 为带符号的整数金额
type TokenLeg struct {
	Symbol    string `json:"symbol"`
	Decimals  uint8  `json:"decimals"`
	RawAmount string `json:"raw_amount"`
}

// WorkItem is one decoded on-chain event waiting to be turned into a ledger row.
type WorkItem struct {
	ID          string                 `json:"id"`
	TxHash      string                 `json:"tx_hash"`
	Kind        models.TransactionType `json:"kind"`
	BlockNumber uint64                 `json:"block_number"`
	Legs        [2]TokenLeg            `json:"legs"`
	To          string                 `json:"to"`
	Retries     int                    `json:"retries"`
	EnqueuedAt  time.Time              `json:"enqueued_at"`
}

func NewWorkItem(txHash string, kind models.TransactionType, blockNumber uint64, legs [2]TokenLeg, to string) *WorkItem {
	return &WorkItem{
		ID:          uuid.NewString(),
		TxHash:      txHash,
		Kind:        kind,
		BlockNumber: blockNumber,
		Legs:        legs,
		To:          to,
		EnqueuedAt:  time.Now().UTC(),
	}
}

// Queue is a FIFO of work items. Dequeue returns nil, nil when empty.
type Queue interface {
	Enqueue(ctx context.Context, item *WorkItem) error
	Dequeue(ctx context.Context) (*WorkItem, error)
	Len(ctx context.Context) (int64, error)
}
