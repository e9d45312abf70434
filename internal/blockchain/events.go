package blockchain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

type SwapEvent struct {
	TxHash      string
	BlockNumber uint64
	LogIndex    uint
	Pair        common.Address
	Sender      common.Address
	To          common.Address
	Amount0In   *big.Int
	Amount1In   *big.Int
	Amount0Out  *big.Int
	Amount1Out  *big.Int
	Token0      TokenInfo
	Token1      TokenInfo
}

// LiquidityEvent is a decoded Mint or Burn. For Mint, To is the sender.
type LiquidityEvent struct {
	TxHash      string
	BlockNumber uint64
	LogIndex    uint
	Pair        common.Address
	Sender      common.Address
	To          common.Address
	Amount0     *big.Int
	Amount1     *big.Int
	Token0      TokenInfo
	Token1      TokenInfo
}

type LiquidityEvents struct {
	Mints []LiquidityEvent
	Burns []LiquidityEvent
}

var ErrInvalidLogFormat = &InvalidLogFormatError{}

type InvalidLogFormatError struct{}

func (e *InvalidLogFormatError) Error() string {
	return "invalid log format: insufficient topics"
}

func unpackAmounts(event string, data []byte, want int) ([]*big.Int, error) {
	values, err := pairABI.Unpack(event, data)
	if err != nil {
		return nil, err
	}
	if len(values) != want {
		return nil, fmt.Errorf("%s: expected %d values, got %d", event, want, len(values))
	}
	amounts := make([]*big.Int, want)
	for i, v := range values {
		amount, ok := v.(*big.Int)
		if !ok {
			return nil, fmt.Errorf("%s: value %d is %T", event, i, v)
		}
		amounts[i] = amount
	}
	return amounts, nil
}

func ParseSwapLog(log types.Log) (*SwapEvent, error) {
	if len(log.Topics) < 3 || log.Topics[0] != SwapTopic {
		return nil, ErrInvalidLogFormat
	}
	amounts, err := unpackAmounts("Swap", log.Data, 4)
	if err != nil {
		return nil, err
	}
	return &SwapEvent{
		TxHash:      log.TxHash.Hex(),
		BlockNumber: log.BlockNumber,
		LogIndex:    log.Index,
		Pair:        log.Address,
		Sender:      common.BytesToAddress(log.Topics[1].Bytes()),
		To:          common.BytesToAddress(log.Topics[2].Bytes()),
		Amount0In:   amounts[0],
		Amount1In:   amounts[1],
		Amount0Out:  amounts[2],
		Amount1Out:  amounts[3],
	}, nil
}

func ParseMintLog(log types.Log) (*LiquidityEvent, error) {
	if len(log.Topics) < 2 || log.Topics[0] != MintTopic {
		return nil, ErrInvalidLogFormat
	}
	amounts, err := unpackAmounts("Mint", log.Data, 2)
	if err != nil {
		return nil, err
	}
	sender := common.BytesToAddress(log.Topics[1].Bytes())
	return &LiquidityEvent{
		TxHash:      log.TxHash.Hex(),
		BlockNumber: log.BlockNumber,
		LogIndex:    log.Index,
		Pair:        log.Address,
		Sender:      sender,
		To:          sender,
		Amount0:     amounts[0],
		Amount1:     amounts[1],
	}, nil
}

func ParseBurnLog(log types.Log) (*LiquidityEvent, error) {
	if len(log.Topics) < 3 || log.Topics[0] != BurnTopic {
		return nil, ErrInvalidLogFormat
	}
	amounts, err := unpackAmounts("Burn", log.Data, 2)
	if err != nil {
		return nil, err
	}
	return &LiquidityEvent{
		TxHash:      log.TxHash.Hex(),
		BlockNumber: log.BlockNumber,
		LogIndex:    log.Index,
		Pair:        log.Address,
		Sender:      common.BytesToAddress(log.Topics[1].Bytes()),
		To:          common.BytesToAddress(log.Topics[2].Bytes()),
		Amount0:     amounts[0],
		Amount1:     amounts[1],
	}, nil
}
