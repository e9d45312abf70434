package models

import (
	"time"
)

// ReferralLink layer 0 为直接推荐人，layer N 为向上第 N 跳的推荐人
type ReferralLink struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID     uint64    `gorm:"not null;uniqueIndex:uk_user_layer;uniqueIndex:uk_user_referrer" json:"user_id"`
	ReferrerID uint64    `gorm:"not null;index;uniqueIndex:uk_user_referrer" json:"referrer_id"`
	Layer      int       `gorm:"not null;uniqueIndex:uk_user_layer;index" json:"layer"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (ReferralLink) TableName() string {
	return "referrals"
}

type ReferralCriteria string

const (
	ReferralCriteriaPoints       ReferralCriteria = "POINTS"
	ReferralCriteriaTransactions ReferralCriteria = "TRANSACTIONS"
	ReferralCriteriaMintsOnly    ReferralCriteria = "MINTS_ONLY"
	ReferralCriteriaSwapsOnly    ReferralCriteria = "SWAPS_ONLY"
)

type ReferralRewardType string

const (
	ReferralRewardPoint ReferralRewardType = "POINT"
	// ReferralRewardNative pays in the chain's native asset. Not supported yet.
	ReferralRewardNative ReferralRewardType = "MON"
)

type ReferralPolicy struct {
	ID                  uint64             `gorm:"primaryKey;autoIncrement" json:"id"`
	Name                string             `gorm:"size:64" json:"name"`
	Active              bool               `gorm:"not null;default:true;index" json:"active"`
	Criteria            ReferralCriteria   `gorm:"size:16;not null;default:POINTS" json:"criteria"`
	DivideByLayer       bool               `gorm:"not null;default:false" json:"divide_by_layer"`
	DirectRewardRatio   float64            `gorm:"not null;default:0" json:"direct_reward_ratio"`
	DirectRewardType    ReferralRewardType `gorm:"size:8;not null;default:POINT" json:"direct_reward_type"`
	IndirectRewardRatio float64            `gorm:"not null;default:0" json:"indirect_reward_ratio"`
	IndirectRewardType  ReferralRewardType `gorm:"size:8;not null;default:POINT" json:"indirect_reward_type"`
	LastPaymentAt       *time.Time         `gorm:"index" json:"last_payment_at"`
	CreatedAt           time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ReferralPolicy) TableName() string {
	return "referral_policies"
}
