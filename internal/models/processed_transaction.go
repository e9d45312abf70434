package models

import (
	"time"
)

type TransactionType string

const (
	TransactionTypeSwap TransactionType = "SWAP"
	TransactionTypeMint TransactionType = "MINT"
	TransactionTypeBurn TransactionType = "BURN"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypeSwap, TransactionTypeMint, TransactionTypeBurn:
		return true
	}
	return false
}

// ProcessedTransaction is unique per (hash, type). ProcessedAt == nil means the row
// was recorded but has not been reward-evaluated yet.
type ProcessedTransaction struct {
	ID           uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	Hash         string          `gorm:"size:66;not null;uniqueIndex:uk_hash_type" json:"hash"`
	Type         TransactionType `gorm:"size:8;not null;uniqueIndex:uk_hash_type" json:"type"`
	BlockNumber  uint64          `gorm:"not null;index" json:"block_number"`
	From         string          `gorm:"column:from_address;size:42" json:"from"`
	To           string          `gorm:"column:to_address;size:42" json:"to"`
	Token0       string          `gorm:"size:32" json:"token0"`
	Token0Amount float64         `json:"token0_amount"`
	Token1       string          `gorm:"size:32" json:"token1"`
	Token1Amount float64         `json:"token1_amount"`
	ProcessedAt  *time.Time      `gorm:"index" json:"processed_at"`
	UserID       *uint64         `gorm:"index" json:"user_id"`
	ChainID      uint64          `gorm:"not null;index" json:"chain_id"`
	Metadata     JSONB           `gorm:"type:json" json:"metadata,omitempty"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ProcessedTransaction) TableName() string {
	return "processed_transactions"
}

func (t *ProcessedTransaction) Symbols() []string {
	return []string{t.Token0, t.Token1}
}
