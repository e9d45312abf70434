package service

import (
	"context"
	"math/rand/v2"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pydea-rs/tayadex-backend/internal/models"
	"github.com/pydea-rs/tayadex-backend/internal/repository"
	"github.com/pydea-rs/tayadex-backend/pkg/errors"
	"github.com/pydea-rs/tayadex-backend/pkg/logger"

	"gorm.io/gorm"
)

const (
	referralCodeLength   = 8
	referralCodeAttempts = 10
	codeLetters          = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	codeAlphabet         = codeLetters + "0123456789"
)

type UserService struct {
	userRepo     *repository.UserRepository
	autoRegister bool
}

func NewUserService(userRepo *repository.UserRepository, autoRegister bool) *UserService {
	return &UserService{userRepo: userRepo, autoRegister: autoRegister}
}

func (s *UserService) WithTx(tx *gorm.DB) *UserService {
	return &UserService{userRepo: s.userRepo.WithTx(tx), autoRegister: s.autoRegister}
}

// NormalizeAddress returns the EIP-55 checksummed form, or false for invalid input.
func NormalizeAddress(address string) (string, bool) {
	if !common.IsHexAddress(address) {
		return "", false
	}
	return common.HexToAddress(address).Hex(), true
}

func randomCode() string {
	code := make([]byte, referralCodeLength)
	code[0] = codeLetters[rand.IntN(len(codeLetters))]
	for i := 1; i < len(code); i++ {
		code[i] = codeAlphabet[rand.IntN(len(codeAlphabet))]
	}
	return string(code)
}

// GenerateReferralCode 生成未被占用的推荐码，首字符为字母
func (s *UserService) GenerateReferralCode(ctx context.Context) (string, error) {
	for i := 0; i < referralCodeAttempts; i++ {
		code := randomCode()
		exists, err := s.userRepo.CodeExists(ctx, code)
		if err != nil {
			return "", err
		}
		if !exists {
			return code, nil
		}
	}
	return "", errors.New(errors.ErrUserResolve, "无法生成唯一推荐码", nil)
}

// ResolveUser finds the user owning the address. Unknown addresses are registered
// when auto registration is on; otherwise nil is returned.
func (s *UserService) ResolveUser(ctx context.Context, address string) (*models.User, error) {
	checksummed, ok := NormalizeAddress(address)
	if !ok {
		return nil, errors.New(errors.ErrUserResolve, "无效地址: "+address, nil)
	}

	user, err := s.userRepo.FindByAddress(ctx, checksummed)
	if err != nil {
		return nil, errors.New(errors.ErrUserResolve, "查询用户失败", err)
	}
	if user != nil || !s.autoRegister {
		return user, nil
	}
	return s.Register(ctx, checksummed)
}

// Register 注册用户，地址已存在时返回已有用户
func (s *UserService) Register(ctx context.Context, address string) (*models.User, error) {
	checksummed, ok := NormalizeAddress(address)
	if !ok {
		return nil, errors.New(errors.ErrUserResolve, "无效地址: "+address, nil)
	}

	code, err := s.GenerateReferralCode(ctx)
	if err != nil {
		return nil, err
	}
	user, err := s.userRepo.CreateIfAbsent(ctx, &models.User{
		Address:      checksummed,
		ReferralCode: code,
	})
	if err != nil {
		return nil, errors.New(errors.ErrUserResolve, "创建用户失败", err)
	}

	logger.WithFields(map[string]interface{}{
		"user_id": user.ID,
		"address": user.Address,
	}).Debug("用户已注册")

	return user, nil
}
