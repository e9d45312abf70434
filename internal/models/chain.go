package models

import (
	"time"
)

// Chain 每条受支持的链一行，LastIndexedBlock 为索引水位线
type Chain struct {
	ID               uint64    `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Name             string    `gorm:"size:64;not null" json:"name"`
	RPC              string    `gorm:"size:255;not null" json:"rpc"`
	LastIndexedBlock *uint64   `json:"last_indexed_block"`
	StartFromBlock   *uint64   `json:"start_from_block"`
	BatchSize        int       `gorm:"not null;default:25" json:"batch_size"`
	MaxBatchSteps    int       `gorm:"not null;default:5" json:"max_batch_steps"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Chain) TableName() string {
	return "chains"
}
