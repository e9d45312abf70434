package models

import (
	"time"
)

type PointSource string

const (
	PointSourceTransaction      PointSource = "TRANSACTION"
	PointSourceDirectReferral   PointSource = "DIRECT_REFERRAL"
	PointSourceIndirectReferral PointSource = "INDIRECT_REFERRAL"
	PointSourceSocialActivity   PointSource = "SOCIAL_ACTIVITY"
	PointSourceOnchainActivity  PointSource = "ONCHAIN_ACTIVITY"
)

func (s PointSource) IsReferral() bool {
	return s == PointSourceDirectReferral || s == PointSourceIndirectReferral
}

// PointHistory is one append-only ledger entry. A user's score is the sum of amounts.
type PointHistory struct {
	ID            uint64      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID        uint64      `gorm:"not null;index:idx_user_time" json:"user_id"`
	Amount        float64     `gorm:"not null" json:"amount"`
	Source        PointSource `gorm:"size:24;not null;index" json:"source"`
	RuleID        *uint64     `gorm:"uniqueIndex:uk_tx_rule" json:"rule_id"`
	TransactionID *uint64     `gorm:"uniqueIndex:uk_tx_rule" json:"transaction_id"`
	Metadata      JSONB       `gorm:"type:json" json:"metadata,omitempty"`
	CreatedAt     time.Time   `gorm:"not null;index:idx_user_time" json:"created_at"`
}

func (PointHistory) TableName() string {
	return "point_history"
}
