package repository

import (
	"context"
	"time"

	"github.com/pydea-rs/tayadex-backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PointsRepository struct {
	db *gorm.DB
}

func NewPointsRepository(db *gorm.DB) *PointsRepository {
	return &PointsRepository{db: db}
}

func (r *PointsRepository) WithTx(tx *gorm.DB) *PointsRepository {
	return &PointsRepository{db: tx}
}

// Append 追加一条积分流水
func (r *PointsRepository) Append(ctx context.Context, entry *models.PointHistory) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(entry).Error
}

// AppendOnce appends the entry unless the same (transaction, rule) pair was already paid.
// It reports whether a row was written.
func (r *PointsRepository) AppendOnce(ctx context.Context, entry *models.PointHistory) (bool, error) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "rule_id"}, {Name: "transaction_id"}},
			DoNothing: true,
		}).
		Create(entry)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// SumByUsers returns each user's point total over (from, until]. A nil from means
// everything up to until. Users without entries are absent from the map.
func (r *PointsRepository) SumByUsers(ctx context.Context, userIDs []uint64, from *time.Time, until time.Time) (map[uint64]float64, error) {
	sums := make(map[uint64]float64, len(userIDs))
	if len(userIDs) == 0 {
		return sums, nil
	}

	query := r.db.WithContext(ctx).
		Model(&models.PointHistory{}).
		Select("user_id, SUM(amount) AS total").
		Where("user_id IN ?", userIDs).
		Where("created_at <= ?", until.UTC())
	if from != nil {
		query = query.Where("created_at > ?", from.UTC())
	}

	var rows []struct {
		UserID uint64
		Total  float64
	}
	if err := query.Group("user_id").Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		sums[row.UserID] = row.Total
	}
	return sums, nil
}

type SourceTotal struct {
	UserID uint64
	Source models.PointSource
	Total  float64
}

// AggregateByUserSource 按用户和来源汇总积分
func (r *PointsRepository) AggregateByUserSource(ctx context.Context) ([]SourceTotal, error) {
	var rows []SourceTotal
	err := r.db.WithContext(ctx).
		Model(&models.PointHistory{}).
		Select("user_id, source, SUM(amount) AS total").
		Group("user_id, source").
		Scan(&rows).Error
	return rows, err
}

func (r *PointsRepository) ListByUser(ctx context.Context, userID uint64, offset, limit int) ([]models.PointHistory, error) {
	var entries []models.PointHistory
	if limit <= 0 {
		limit = 50
	}
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

func (r *PointsRepository) ListByTransaction(ctx context.Context, transactionID uint64) ([]models.PointHistory, error) {
	var entries []models.PointHistory
	err := r.db.WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		Order("id ASC").
		Find(&entries).Error
	return entries, err
}
