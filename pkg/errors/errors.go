package errors

import (
	stderrors "errors"
	"fmt"
)

type AppError struct {
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(code, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// HasCode 判断错误链中是否包含指定错误码
func HasCode(err error, code string) bool {
	var appErr *AppError
	for err != nil {
		if !stderrors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Err
	}
	return false
}

func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

func As(err error, target any) bool {
	return stderrors.As(err, target)
}

var (
	ErrConfigLoad      = "CONFIG_LOAD_ERROR"
	ErrDatabaseConnect = "DATABASE_CONNECT_ERROR"
	ErrRPConnect       = "RPC_CONNECT_ERROR"
	ErrBlockFetch      = "BLOCK_FETCH_ERROR"
	ErrLogFetch        = "LOG_FETCH_ERROR"
	ErrTokenMetadata   = "TOKEN_METADATA_ERROR"
	ErrTxOrigin        = "TX_ORIGIN_ERROR"
	ErrTxProcess       = "TX_PROCESS_ERROR"
	ErrQueue           = "QUEUE_ERROR"
	ErrPointsCalc      = "POINTS_CALCULATION_ERROR"
	ErrReferralReward  = "REFERRAL_REWARD_ERROR"
	ErrReferralLink    = "REFERRAL_LINK_ERROR"
	ErrUserResolve     = "USER_RESOLVE_ERROR"
	ErrInvalidChain    = "INVALID_CHAIN_ERROR"
	ErrNotImplemented  = "NOT_IMPLEMENTED"
)
