package models

import "gorm.io/gorm"

func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Chain{},
		&User{},
		&ProcessedTransaction{},
		&PointRule{},
		&PointHistory{},
		&ReferralLink{},
		&ReferralPolicy{},
	)
}
