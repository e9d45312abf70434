package service

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pydea-rs/tayadex-backend/internal/models"
	"github.com/pydea-rs/tayadex-backend/internal/queue"
	"github.com/pydea-rs/tayadex-backend/internal/repository"
	"github.com/pydea-rs/tayadex-backend/pkg/logger"
)

const (
	MetadataLegs = "legs"
	MetadataTo   = "to"
)

// LegsMetadata stores the raw legs on the row so the work item can be rebuilt later.
func LegsMetadata(item *queue.WorkItem) models.JSONB {
	return models.JSONB{
		MetadataLegs: item.Legs,
		MetadataTo:   item.To,
	}
}

// WorkItemFromRow rebuilds a work item from a stored row. ok is false when the row
// has no raw leg data.
func WorkItemFromRow(tx *models.ProcessedTransaction) (*queue.WorkItem, bool) {
	raw, found := tx.Metadata[MetadataLegs]
	if !found {
		return nil, false
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, false
	}
	var legs [2]queue.TokenLeg
	if err := json.Unmarshal(data, &legs); err != nil {
		return nil, false
	}

	to, _ := tx.Metadata[MetadataTo].(string)
	if to == "" {
		to = tx.To
	}
	return queue.NewWorkItem(tx.Hash, tx.Type, tx.BlockNumber, legs, to), true
}

// RecoveryService 将未发放积分的交易重新放回队列。
// 关闭自动注册时只扫描发起地址已有用户的行；游标按 id 前进，扫到末尾后从头开始
type RecoveryService struct {
	txRepo    *repository.TransactionRepository
	queue     queue.Queue
	batch     int
	ownedOnly bool

	mu     sync.Mutex
	cursor uint64
}

func NewRecoveryService(txRepo *repository.TransactionRepository, q queue.Queue, batch int, autoRegister bool) *RecoveryService {
	if batch <= 0 {
		batch = 100
	}
	return &RecoveryService{txRepo: txRepo, queue: q, batch: batch, ownedOnly: !autoRegister}
}

func (s *RecoveryService) RequeuePending(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.txRepo.ListUnprocessed(ctx, repository.UnprocessedFilter{
		AfterID:   s.cursor,
		OwnedOnly: s.ownedOnly,
		Limit:     s.batch,
	})
	if err != nil {
		return 0, err
	}
	if len(rows) < s.batch {
		s.cursor = 0
	}

	requeued := 0
	for i := range rows {
		item, ok := WorkItemFromRow(&rows[i])
		if !ok {
			logger.WithFields(map[string]interface{}{
				"tx_id":   rows[i].ID,
				"tx_hash": rows[i].Hash,
			}).Warn("交易缺少原始金额，无法重新入队")
		} else if err := s.queue.Enqueue(ctx, item); err != nil {
			return requeued, err
		} else {
			requeued++
		}
		if len(rows) == s.batch {
			s.cursor = rows[i].ID
		}
	}

	if requeued > 0 {
		logger.WithFields(map[string]interface{}{
			"requeued": requeued,
			"cursor":   s.cursor,
		}).Info("未处理交易已重新入队")
	}
	return requeued, nil
}
