package models

import (
	"time"
)

type User struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Address      string    `gorm:"size:42;not null;uniqueIndex" json:"address"`
	ReferralCode string    `gorm:"size:16;not null;uniqueIndex" json:"referral_code"`
	Name         string    `gorm:"size:64" json:"name,omitempty"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (User) TableName() string {
	return "users"
}
