package repository

import (
	"context"
	"errors"

	"github.com/pydea-rs/tayadex-backend/internal/models"

	"gorm.io/gorm"
)

type ChainRepository struct {
	db *gorm.DB
}

func NewChainRepository(db *gorm.DB) *ChainRepository {
	return &ChainRepository{db: db}
}

// Get 获取链记录，不存在时返回 nil
func (r *ChainRepository) Get(ctx context.Context, chainID uint64) (*models.Chain, error) {
	var chain models.Chain
	err := r.db.WithContext(ctx).First(&chain, "id = ?", chainID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &chain, nil
}

// Ensure 创建或更新链配置，已有的水位线保持不变
func (r *ChainRepository) Ensure(ctx context.Context, chain *models.Chain) (*models.Chain, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Chain
		err := tx.First(&existing, "id = ?", chain.ID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(chain).Error
		}
		if err != nil {
			return err
		}
		return tx.Model(&existing).Updates(map[string]interface{}{
			"name":             chain.Name,
			"rpc":              chain.RPC,
			"batch_size":       chain.BatchSize,
			"max_batch_steps":  chain.MaxBatchSteps,
			"start_from_block": chain.StartFromBlock,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, chain.ID)
}

// UpdateLastIndexedBlock only ever moves the watermark forward.
func (r *ChainRepository) UpdateLastIndexedBlock(ctx context.Context, chainID uint64, blockNumber uint64) error {
	return r.db.WithContext(ctx).
		Model(&models.Chain{}).
		Where("id = ? AND (last_indexed_block IS NULL OR last_indexed_block < ?)", chainID, blockNumber).
		Update("last_indexed_block", blockNumber).Error
}
