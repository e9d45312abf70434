package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/pydea-rs/tayadex-backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) WithTx(tx *gorm.DB) *UserRepository {
	return &UserRepository{db: tx}
}

func (r *UserRepository) first(ctx context.Context, query string, args ...interface{}) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).Where(query, args...).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) FindByID(ctx context.Context, id uint64) (*models.User, error) {
	return r.first(ctx, "id = ?", id)
}

// FindByAddress expects the checksummed form of the address.
func (r *UserRepository) FindByAddress(ctx context.Context, address string) (*models.User, error) {
	return r.first(ctx, "address = ?", address)
}

// FindByCode 推荐码查询不区分大小写
func (r *UserRepository) FindByCode(ctx context.Context, code string) (*models.User, error) {
	return r.first(ctx, "UPPER(referral_code) = ?", strings.ToUpper(strings.TrimSpace(code)))
}

func (r *UserRepository) CodeExists(ctx context.Context, code string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("UPPER(referral_code) = ?", strings.ToUpper(code)).
		Count(&count).Error
	return count > 0, err
}

// CreateIfAbsent inserts the user unless the address is already registered and
// returns the stored row either way.
func (r *UserRepository) CreateIfAbsent(ctx context.Context, user *models.User) (*models.User, error) {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "address"}},
			DoNothing: true,
		}).
		Create(user).Error
	if err != nil {
		return nil, err
	}
	return r.FindByAddress(ctx, user.Address)
}

func (r *UserRepository) ListIDs(ctx context.Context) ([]uint64, error) {
	var ids []uint64
	err := r.db.WithContext(ctx).Model(&models.User{}).Order("id ASC").Pluck("id", &ids).Error
	return ids, err
}
