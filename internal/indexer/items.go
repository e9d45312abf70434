package indexer

import (
	"math/big"

	"github.com/pydea-rs/tayadex-backend/internal/blockchain"
	"github.com/pydea-rs/tayadex-backend/internal/models"
	"github.com/pydea-rs/tayadex-backend/internal/queue"
)

func leg(token blockchain.TokenInfo, amount *big.Int) queue.TokenLeg {
	return queue.TokenLeg{
		Symbol:    token.Symbol,
		Decimals:  token.Decimals,
		RawAmount: amount.String(),
	}
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

// SwapWorkItem 每条腿的金额 = amountIn - amountOut，负数表示用户卖出
func SwapWorkItem(ev *blockchain.SwapEvent) *queue.WorkItem {
	amount0 := new(big.Int).Sub(orZero(ev.Amount0In), orZero(ev.Amount0Out))
	amount1 := new(big.Int).Sub(orZero(ev.Amount1In), orZero(ev.Amount1Out))
	return queue.NewWorkItem(ev.TxHash, models.TransactionTypeSwap, ev.BlockNumber, [2]queue.TokenLeg{
		leg(ev.Token0, amount0),
		leg(ev.Token1, amount1),
	}, ev.To.Hex())
}

func MintWorkItem(ev *blockchain.LiquidityEvent) *queue.WorkItem {
	return queue.NewWorkItem(ev.TxHash, models.TransactionTypeMint, ev.BlockNumber, [2]queue.TokenLeg{
		leg(ev.Token0, orZero(ev.Amount0)),
		leg(ev.Token1, orZero(ev.Amount1)),
	}, ev.To.Hex())
}

// BurnWorkItem negates both legs.
func BurnWorkItem(ev *blockchain.LiquidityEvent) *queue.WorkItem {
	return queue.NewWorkItem(ev.TxHash, models.TransactionTypeBurn, ev.BlockNumber, [2]queue.TokenLeg{
		leg(ev.Token0, new(big.Int).Neg(orZero(ev.Amount0))),
		leg(ev.Token1, new(big.Int).Neg(orZero(ev.Amount1))),
	}, ev.To.Hex())
}
