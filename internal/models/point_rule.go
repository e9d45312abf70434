package models

import (
	"strings"
	"time"
)

type PointRuleType string

const (
	PointRuleTypeGeneral PointRuleType = "GENERAL"
	PointRuleTypeEvent   PointRuleType = "EVENT"
)

// PointRule GENERAL规则每种交易类型取ID最大的一条；EVENT规则可叠加，
// Tokens 为逗号分隔的代币符号，为空表示不过滤
type PointRule struct {
	ID              uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	Type            PointRuleType   `gorm:"size:16;not null;index:idx_rule_type_tx" json:"type"`
	TransactionType TransactionType `gorm:"size:8;not null;index:idx_rule_type_tx" json:"transaction_type"`
	BaseValue       float64         `gorm:"not null;default:0" json:"base_value"`
	RelativeValue   float64         `gorm:"not null;default:0" json:"relative_value"`
	Tokens          string          `gorm:"size:255" json:"tokens"`
	StartsAt        *time.Time      `json:"starts_at"`
	EndsAt          *time.Time      `json:"ends_at"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (PointRule) TableName() string {
	return "point_rules"
}

func (r *PointRule) TokenSet() []string {
	if strings.TrimSpace(r.Tokens) == "" {
		return nil
	}
	parts := strings.Split(r.Tokens, ",")
	set := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			set = append(set, strings.ToUpper(p))
		}
	}
	return set
}

// MatchesTokens reports whether any of the symbols is in the rule's token set.
// A rule without a token filter matches everything.
func (r *PointRule) MatchesTokens(symbols ...string) bool {
	set := r.TokenSet()
	if len(set) == 0 {
		return true
	}
	for _, s := range symbols {
		for _, token := range set {
			if strings.EqualFold(s, token) {
				return true
			}
		}
	}
	return false
}

func (r *PointRule) ActiveAt(t time.Time) bool {
	if r.StartsAt != nil && t.Before(*r.StartsAt) {
		return false
	}
	if r.EndsAt != nil && t.After(*r.EndsAt) {
		return false
	}
	return true
}
