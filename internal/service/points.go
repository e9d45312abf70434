package service

import (
	"context"
	"math"
	"time"

	"github.com/pydea-rs/tayadex-backend/internal/metrics"
	"github.com/pydea-rs/tayadex-backend/internal/models"
	"github.com/pydea-rs/tayadex-backend/internal/repository"
	"github.com/pydea-rs/tayadex-backend/pkg/errors"
	"github.com/pydea-rs/tayadex-backend/pkg/logger"

	"gorm.io/gorm"
)

// RuleEngine 根据积分规则为已处理的交易发放积分
type RuleEngine struct {
	ruleRepo   *repository.RuleRepository
	pointsRepo *repository.PointsRepository
	now        func() time.Time
}

func NewRuleEngine(ruleRepo *repository.RuleRepository, pointsRepo *repository.PointsRepository) *RuleEngine {
	return &RuleEngine{
		ruleRepo:   ruleRepo,
		pointsRepo: pointsRepo,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (e *RuleEngine) WithTx(tx *gorm.DB) *RuleEngine {
	return &RuleEngine{
		ruleRepo:   e.ruleRepo.WithTx(tx),
		pointsRepo: e.pointsRepo.WithTx(tx),
		now:        e.now,
	}
}

// ComputePoints applies the rule formula. ok is false for transaction types
// that carry no formula.
//
// SWAP: base + rel / in / out, where in is the negated negative leg and out the
// other one. When neither leg is negative or the result is not finite, the
// liquidity formula is used instead.
// MINT, BURN: base + rel * (leg0 + leg1).
func ComputePoints(rule *models.PointRule, tx *models.ProcessedTransaction) (float64, bool) {
	leg0, leg1 := tx.Token0Amount, tx.Token1Amount
	liquidity := rule.BaseValue + rule.RelativeValue*(leg0+leg1)

	switch tx.Type {
	case models.TransactionTypeSwap:
		var in, out float64
		switch {
		case leg0 < 0:
			in, out = -leg0, leg1
		case leg1 < 0:
			in, out = -leg1, leg0
		default:
			return liquidity, true
		}
		point := rule.BaseValue + rule.RelativeValue/in/out
		if math.IsNaN(point) || math.IsInf(point, 0) {
			return liquidity, true
		}
		return point, true
	case models.TransactionTypeMint, models.TransactionTypeBurn:
		return liquidity, true
	}
	return 0, false
}

// Evaluate appends one TRANSACTION entry for the general rule of the transaction's
// type and one for every matching event rule. A rule never pays the same
// transaction twice.
func (e *RuleEngine) Evaluate(ctx context.Context, tx *models.ProcessedTransaction, userID uint64) ([]models.PointHistory, error) {
	if !tx.Type.Valid() {
		return nil, nil
	}

	rules := make([]models.PointRule, 0, 4)
	general, err := e.ruleRepo.FindGeneral(ctx, tx.Type)
	if err != nil {
		return nil, errors.New(errors.ErrPointsCalc, "查询通用积分规则失败", err)
	}
	if general != nil {
		rules = append(rules, *general)
	}

	events, err := e.ruleRepo.FindEvents(ctx, tx.Type, tx.Symbols())
	if err != nil {
		return nil, errors.New(errors.ErrPointsCalc, "查询活动积分规则失败", err)
	}
	now := e.now()
	for _, rule := range events {
		if rule.ActiveAt(now) {
			rules = append(rules, rule)
		}
	}

	entries := make([]models.PointHistory, 0, len(rules))
	for i := range rules {
		rule := &rules[i]
		amount, ok := ComputePoints(rule, tx)
		if !ok {
			continue
		}

		ruleID, txID := rule.ID, tx.ID
		entry := models.PointHistory{
			UserID:        userID,
			Amount:        amount,
			Source:        models.PointSourceTransaction,
			RuleID:        &ruleID,
			TransactionID: &txID,
			Metadata: models.JSONB{
				"rule_type": rule.Type,
				"tx_type":   tx.Type,
				"hash":      tx.Hash,
			},
		}
		created, err := e.pointsRepo.AppendOnce(ctx, &entry)
		if err != nil {
			return nil, errors.New(errors.ErrPointsCalc, "写入积分流水失败", err)
		}
		if !created {
			continue
		}
		metrics.Indexer().ObserveLedgerEntry(string(entry.Source), amount)
		entries = append(entries, entry)
	}

	logger.WithFields(map[string]interface{}{
		"tx_hash": tx.Hash,
		"type":    tx.Type,
		"user_id": userID,
		"entries": len(entries),
	}).Debug("交易积分已发放")

	return entries, nil
}
