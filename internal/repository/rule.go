package repository

import (
	"context"
	"errors"

	"github.com/pydea-rs/tayadex-backend/internal/models"

	"gorm.io/gorm"
)

type RuleRepository struct {
	db *gorm.DB
}

func NewRuleRepository(db *gorm.DB) *RuleRepository {
	return &RuleRepository{db: db}
}

func (r *RuleRepository) WithTx(tx *gorm.DB) *RuleRepository {
	return &RuleRepository{db: tx}
}

func (r *RuleRepository) Create(ctx context.Context, rule *models.PointRule) error {
	return r.db.WithContext(ctx).Create(rule).Error
}

// FindGeneral 返回该交易类型最新（ID最大）的 GENERAL 规则
func (r *RuleRepository) FindGeneral(ctx context.Context, txType models.TransactionType) (*models.PointRule, error) {
	var rule models.PointRule
	err := r.db.WithContext(ctx).
		Where("type = ? AND transaction_type = ?", models.PointRuleTypeGeneral, txType).
		Order("id DESC").
		First(&rule).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

// FindEvents returns EVENT rules of the type whose token filter matches any symbol.
// Symbol matching is case-insensitive, so it is done after loading the type's rules.
func (r *RuleRepository) FindEvents(ctx context.Context, txType models.TransactionType, symbols []string) ([]models.PointRule, error) {
	var rules []models.PointRule
	err := r.db.WithContext(ctx).
		Where("type = ? AND transaction_type = ?", models.PointRuleTypeEvent, txType).
		Order("id ASC").
		Find(&rules).Error
	if err != nil {
		return nil, err
	}

	matched := rules[:0]
	for _, rule := range rules {
		if rule.MatchesTokens(symbols...) {
			matched = append(matched, rule)
		}
	}
	return matched, nil
}

func (r *RuleRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.PointRule{}).Count(&count).Error
	return count, err
}
