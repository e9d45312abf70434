package indexer

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pydea-rs/tayadex-backend/internal/blockchain"
	"github.com/pydea-rs/tayadex-backend/internal/models"
	"github.com/pydea-rs/tayadex-backend/internal/queue"
	"github.com/pydea-rs/tayadex-backend/internal/repository"
	"github.com/pydea-rs/tayadex-backend/internal/service"
	"github.com/pydea-rs/tayadex-backend/pkg/errors"
	"github.com/pydea-rs/tayadex-backend/pkg/logger"
	"gorm.io/gorm"
)

type OriginResolver interface {
	TransactionOrigin(ctx context.Context, txHash string) (common.Address, error)
}

// Processor 处理单个队列任务：落库交易、解析用户并发放积分
type Processor struct {
	db      *gorm.DB
	chainID uint64
	origins OriginResolver
	txRepo  *repository.TransactionRepository
	users   *service.UserService
	engine  *service.RuleEngine
	now     func() time.Time
}

func NewProcessor(
	db *gorm.DB,
	chainID uint64,
	origins OriginResolver,
	txRepo *repository.TransactionRepository,
	users *service.UserService,
	engine *service.RuleEngine,
) *Processor {
	return &Processor{
		db:      db,
		chainID: chainID,
		origins: origins,
		txRepo:  txRepo,
		users:   users,
		engine:  engine,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// NormalizeLegs converts the raw leg amounts into token units.
func NormalizeLegs(item *queue.WorkItem) (repository.TokenLegs, error) {
	amount0, err := blockchain.NormalizeAmount(item.Legs[0].RawAmount, item.Legs[0].Decimals)
	if err != nil {
		return repository.TokenLegs{}, err
	}
	amount1, err := blockchain.NormalizeAmount(item.Legs[1].RawAmount, item.Legs[1].Decimals)
	if err != nil {
		return repository.TokenLegs{}, err
	}
	return repository.TokenLegs{
		Token0:       item.Legs[0].Symbol,
		Token0Amount: amount0,
		Token1:       item.Legs[1].Symbol,
		Token1Amount: amount1,
	}, nil
}

// Process is safe to call any number of times for the same item: a (hash, type)
// pair is stored once and rewarded once.
func (p *Processor) Process(ctx context.Context, item *queue.WorkItem) error {
	fields := map[string]interface{}{
		"tx_hash": item.TxHash,
		"type":    item.Kind,
		"block":   item.BlockNumber,
	}
	if !item.Kind.Valid() {
		logger.WithFields(fields).Warn("未知交易类型，忽略")
		return nil
	}

	legs, err := NormalizeLegs(item)
	if err != nil {
		return errors.New(errors.ErrTxProcess, "金额换算失败", err)
	}

	existing, err := p.txRepo.FindByKey(ctx, item.TxHash, item.Kind)
	if err != nil {
		return errors.New(errors.ErrTxProcess, "查询交易失败", err)
	}
	if existing != nil && existing.ProcessedAt != nil {
		logger.WithFields(fields).Debug("交易已处理，跳过")
		return nil
	}

	var from string
	if existing != nil && existing.From != "" {
		from = existing.From
	} else {
		origin, err := p.origins.TransactionOrigin(ctx, item.TxHash)
		if err != nil {
			return err
		}
		from = origin.Hex()
	}

	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := p.users.WithTx(tx).ResolveUser(ctx, from)
		if err != nil {
			return err
		}
		if existing == nil {
			return p.record(ctx, tx, item, from, legs, user)
		}
		return p.claim(ctx, tx, existing, legs, user)
	})
}

func (p *Processor) record(ctx context.Context, tx *gorm.DB, item *queue.WorkItem, from string, legs repository.TokenLegs, user *models.User) error {
	row := &models.ProcessedTransaction{
		Hash:         item.TxHash,
		Type:         item.Kind,
		BlockNumber:  item.BlockNumber,
		From:         from,
		To:           item.To,
		Token0:       legs.Token0,
		Token0Amount: legs.Token0Amount,
		Token1:       legs.Token1,
		Token1Amount: legs.Token1Amount,
		ChainID:      p.chainID,
		Metadata:     service.LegsMetadata(item),
	}
	if user != nil {
		now := p.now()
		row.UserID = &user.ID
		row.ProcessedAt = &now
	}

	created, err := p.txRepo.WithTx(tx).CreateIfAbsent(ctx, row)
	if err != nil {
		return errors.New(errors.ErrTxProcess, "保存交易失败", err)
	}
	if !created {
		// 并发写入，另一方负责发放
		return nil
	}
	if user == nil {
		logger.WithFields(map[string]interface{}{
			"tx_hash": item.TxHash,
			"from":    from,
		}).Info("交易发起地址未注册，暂不发放积分")
		return nil
	}

	return p.reward(ctx, tx, row, user.ID)
}

func (p *Processor) claim(ctx context.Context, tx *gorm.DB, row *models.ProcessedTransaction, legs repository.TokenLegs, user *models.User) error {
	txRepo := p.txRepo.WithTx(tx)
	if user == nil {
		return txRepo.RefreshLegs(ctx, row.ID, legs)
	}

	now := p.now()
	claimed, err := txRepo.Claim(ctx, row.ID, user.ID, legs, now)
	if err != nil {
		return errors.New(errors.ErrTxProcess, "更新交易失败", err)
	}
	if !claimed {
		return nil
	}

	row.UserID = &user.ID
	row.ProcessedAt = &now
	row.Token0, row.Token0Amount = legs.Token0, legs.Token0Amount
	row.Token1, row.Token1Amount = legs.Token1, legs.Token1Amount
	return p.reward(ctx, tx, row, user.ID)
}

func (p *Processor) reward(ctx context.Context, tx *gorm.DB, row *models.ProcessedTransaction, userID uint64) error {
	entries, err := p.engine.WithTx(tx).Evaluate(ctx, row, userID)
	if err != nil {
		return err
	}
	logger.WithFields(map[string]interface{}{
		"tx_hash": row.Hash,
		"type":    row.Type,
		"user_id": userID,
		"entries": len(entries),
	}).Info(fmt.Sprintf("交易积分已发放 (block %d)", row.BlockNumber))
	return nil
}
