package service

import (
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/pydea-rs/tayadex-backend/internal/models"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, models.AutoMigrate(db))
	return db
}

func createUser(t *testing.T, db *gorm.DB, address, code string) *models.User {
	t.Helper()
	user := &models.User{Address: address, ReferralCode: code}
	require.NoError(t, db.Create(user).Error)
	return user
}

func addPoints(t *testing.T, db *gorm.DB, userID uint64, amount float64, source models.PointSource, at time.Time) {
	t.Helper()
	require.NoError(t, db.Create(&models.PointHistory{
		UserID:    userID,
		Amount:    amount,
		Source:    source,
		CreatedAt: at.UTC(),
	}).Error)
}

func link(t *testing.T, db *gorm.DB, userID, referrerID uint64, layer int) {
	t.Helper()
	require.NoError(t, db.Create(&models.ReferralLink{
		UserID:     userID,
		ReferrerID: referrerID,
		Layer:      layer,
	}).Error)
}

func sumBySource(t *testing.T, db *gorm.DB, userID uint64, source models.PointSource) float64 {
	t.Helper()
	var total float64
	require.NoError(t, db.Model(&models.PointHistory{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("user_id = ? AND source = ?", userID, source).
		Scan(&total).Error)
	return total
}
