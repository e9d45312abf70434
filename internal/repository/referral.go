package repository

import (
	"context"
	"time"

	"github.com/pydea-rs/tayadex-backend/internal/models"

	"gorm.io/gorm"
)

type ReferralRepository struct {
	db *gorm.DB
}

func NewReferralRepository(db *gorm.DB) *ReferralRepository {
	return &ReferralRepository{db: db}
}

func (r *ReferralRepository) WithTx(tx *gorm.DB) *ReferralRepository {
	return &ReferralRepository{db: tx}
}

// FindByUser 返回用户的推荐链，按层级升序
func (r *ReferralRepository) FindByUser(ctx context.Context, userID uint64) ([]models.ReferralLink, error) {
	var links []models.ReferralLink
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("layer ASC").
		Find(&links).Error
	return links, err
}

// LayerFilter selects which referral layers a query returns.
type LayerFilter int

const (
	LayerAll LayerFilter = iota
	LayerDirect
	LayerIndirect
)

func (f LayerFilter) apply(db *gorm.DB) *gorm.DB {
	switch f {
	case LayerDirect:
		return db.Where("layer = 0")
	case LayerIndirect:
		return db.Where("layer > 0")
	default:
		return db
	}
}

func (r *ReferralRepository) FindByReferrer(ctx context.Context, referrerID uint64, filter LayerFilter) ([]models.ReferralLink, error) {
	var links []models.ReferralLink
	err := filter.apply(r.db.WithContext(ctx).Where("referrer_id = ?", referrerID)).
		Order("layer ASC, user_id ASC").
		Find(&links).Error
	return links, err
}

// ListByLayer returns every link in the filtered layers, ordered by referrer.
func (r *ReferralRepository) ListByLayer(ctx context.Context, filter LayerFilter) ([]models.ReferralLink, error) {
	var links []models.ReferralLink
	err := filter.apply(r.db.WithContext(ctx).Model(&models.ReferralLink{})).
		Order("referrer_id ASC, user_id ASC").
		Find(&links).Error
	return links, err
}

func (r *ReferralRepository) BulkCreate(ctx context.Context, links []models.ReferralLink) error {
	if len(links) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&links).Error
}

func (r *ReferralRepository) CreatePolicy(ctx context.Context, policy *models.ReferralPolicy) error {
	return r.db.WithContext(ctx).Create(policy).Error
}

// DuePolicies 返回需要在 until 之前结算的有效策略
func (r *ReferralRepository) DuePolicies(ctx context.Context, until time.Time) ([]models.ReferralPolicy, error) {
	var policies []models.ReferralPolicy
	err := r.db.WithContext(ctx).
		Where("active = ?", true).
		Where("last_payment_at IS NULL OR last_payment_at < ?", until.UTC()).
		Order("id ASC").
		Find(&policies).Error
	return policies, err
}

func (r *ReferralRepository) UpdatePolicyWatermark(ctx context.Context, policyID uint64, until time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.ReferralPolicy{}).
		Where("id = ?", policyID).
		Update("last_payment_at", until.UTC()).Error
}

func (r *ReferralRepository) GetPolicy(ctx context.Context, policyID uint64) (*models.ReferralPolicy, error) {
	var policy models.ReferralPolicy
	if err := r.db.WithContext(ctx).First(&policy, "id = ?", policyID).Error; err != nil {
		return nil, err
	}
	return &policy, nil
}

func (r *ReferralRepository) CountPolicies(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.ReferralPolicy{}).Count(&count).Error
	return count, err
}
