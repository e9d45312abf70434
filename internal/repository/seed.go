package repository

import (
	"context"

	"github.com/pydea-rs/tayadex-backend/internal/models"
	"github.com/pydea-rs/tayadex-backend/pkg/logger"

	"gorm.io/gorm"
)

var defaultRules = []models.PointRule{
	{Type: models.PointRuleTypeGeneral, TransactionType: models.TransactionTypeSwap, BaseValue: 1, RelativeValue: 0.05},
	{Type: models.PointRuleTypeGeneral, TransactionType: models.TransactionTypeMint, BaseValue: 2, RelativeValue: 0.1},
	{Type: models.PointRuleTypeGeneral, TransactionType: models.TransactionTypeBurn, BaseValue: -5, RelativeValue: 0.05},
}

var defaultPolicy = models.ReferralPolicy{
	Name:                "default",
	Active:              true,
	Criteria:            models.ReferralCriteriaPoints,
	DirectRewardRatio:   0.1,
	DirectRewardType:    models.ReferralRewardPoint,
	IndirectRewardRatio: 0.01,
	IndirectRewardType:  models.ReferralRewardPoint,
}

// SeedDefaults 空库时写入默认积分规则和推荐策略
func SeedDefaults(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rules := NewRuleRepository(tx)
		count, err := rules.Count(ctx)
		if err != nil {
			return err
		}
		if count == 0 {
			for i := range defaultRules {
				rule := defaultRules[i]
				if err := rules.Create(ctx, &rule); err != nil {
					return err
				}
			}
			logger.WithFields(map[string]interface{}{
				"rules": len(defaultRules),
			}).Info("seeded default point rules")
		}

		referrals := NewReferralRepository(tx)
		count, err = referrals.CountPolicies(ctx)
		if err != nil {
			return err
		}
		if count == 0 {
			policy := defaultPolicy
			if err := referrals.CreatePolicy(ctx, &policy); err != nil {
				return err
			}
			logger.Info("seeded default referral policy")
		}
		return nil
	})
}
