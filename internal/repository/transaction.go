package repository

import (
	"context"
	"errors"
	"time"

	"github.com/pydea-rs/tayadex-backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) WithTx(tx *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: tx}
}

// FindByKey 按去重键 (hash, type) 查询，不存在时返回 nil
func (r *TransactionRepository) FindByKey(ctx context.Context, hash string, txType models.TransactionType) (*models.ProcessedTransaction, error) {
	var tx models.ProcessedTransaction
	err := r.db.WithContext(ctx).
		Where("hash = ? AND type = ?", hash, txType).
		First(&tx).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// CreateIfAbsent inserts the row unless (hash, type) already exists.
// It reports whether this call created the row.
func (r *TransactionRepository) CreateIfAbsent(ctx context.Context, tx *models.ProcessedTransaction) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "hash"}, {Name: "type"}},
			DoNothing: true,
		}).
		Create(tx)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// TokenLegs are the normalized token columns refreshed when a row is revisited.
type TokenLegs struct {
	Token0       string
	Token0Amount float64
	Token1       string
	Token1Amount float64
}

// Claim marks an unprocessed row as processed. Exactly one concurrent caller wins.
func (r *TransactionRepository) Claim(ctx context.Context, id uint64, userID uint64, legs TokenLegs, processedAt time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.ProcessedTransaction{}).
		Where("id = ? AND processed_at IS NULL", id).
		Updates(map[string]interface{}{
			"token0":        legs.Token0,
			"token0_amount": legs.Token0Amount,
			"token1":        legs.Token1,
			"token1_amount": legs.Token1Amount,
			"user_id":       userID,
			"processed_at":  processedAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// RefreshLegs syncs token data on a row that still has no owner.
func (r *TransactionRepository) RefreshLegs(ctx context.Context, id uint64, legs TokenLegs) error {
	return r.db.WithContext(ctx).
		Model(&models.ProcessedTransaction{}).
		Where("id = ? AND processed_at IS NULL", id).
		Updates(map[string]interface{}{
			"token0":        legs.Token0,
			"token0_amount": legs.Token0Amount,
			"token1":        legs.Token1,
			"token1_amount": legs.Token1Amount,
		}).Error
}

// ListByHash returns every row recorded for the hash, at most one per event type.
func (r *TransactionRepository) ListByHash(ctx context.Context, hash string) ([]models.ProcessedTransaction, error) {
	var txs []models.ProcessedTransaction
	err := r.db.WithContext(ctx).
		Where("hash = ?", hash).
		Order("id ASC").
		Find(&txs).Error
	return txs, err
}

func (r *TransactionRepository) GetRecent(ctx context.Context, limit int) ([]models.ProcessedTransaction, error) {
	var txs []models.ProcessedTransaction
	if limit <= 0 {
		limit = 10
	}
	err := r.db.WithContext(ctx).
		Order("block_number DESC").
		Limit(limit).
		Find(&txs).Error
	return txs, err
}

// UnprocessedFilter selects rows recorded without a reward evaluation.
type UnprocessedFilter struct {
	AfterID uint64
	// OwnedOnly keeps rows whose origin address now belongs to a user.
	OwnedOnly bool
	Limit     int
}

// ListUnprocessed returns unprocessed rows with id > AfterID in id order.
func (r *TransactionRepository) ListUnprocessed(ctx context.Context, filter UnprocessedFilter) ([]models.ProcessedTransaction, error) {
	var txs []models.ProcessedTransaction
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query := r.db.WithContext(ctx).
		Where("processed_at IS NULL AND id > ?", filter.AfterID)
	if filter.OwnedOnly {
		query = query.Where("from_address IN (?)",
			r.db.Model(&models.User{}).Select("address"))
	}
	err := query.
		Order("id ASC").
		Limit(limit).
		Find(&txs).Error
	return txs, err
}
