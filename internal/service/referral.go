package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/pydea-rs/tayadex-backend/internal/metrics"
	"github.com/pydea-rs/tayadex-backend/internal/models"
	"github.com/pydea-rs/tayadex-backend/internal/repository"
	"github.com/pydea-rs/tayadex-backend/pkg/errors"
	"github.com/pydea-rs/tayadex-backend/pkg/logger"
	"github.com/shopspring/decimal"

	"gorm.io/gorm"
)

type Tier string

const (
	TierDirect   Tier = "direct"
	TierIndirect Tier = "indirect"
)

// Referee 被推荐人及其相对推荐人的层级
type Referee struct {
	UserID uint64
	Layer  int
}

type ReferrerGroup struct {
	ReferrerID uint64
	Referees   []Referee
}

func (g ReferrerGroup) RefereeIDs() []uint64 {
	ids := make([]uint64, len(g.Referees))
	for i, r := range g.Referees {
		ids[i] = r.UserID
	}
	return ids
}

// GroupByReferrer groups links by referrer id, ordered by referrer id.
func GroupByReferrer(links []models.ReferralLink) []ReferrerGroup {
	index := make(map[uint64]int)
	groups := make([]ReferrerGroup, 0)
	for _, link := range links {
		i, ok := index[link.ReferrerID]
		if !ok {
			i = len(groups)
			index[link.ReferrerID] = i
			groups = append(groups, ReferrerGroup{ReferrerID: link.ReferrerID})
		}
		groups[i].Referees = append(groups[i].Referees, Referee{UserID: link.UserID, Layer: link.Layer})
	}
	sort.Slice(groups, func(a, b int) bool {
		return groups[a].ReferrerID < groups[b].ReferrerID
	})
	return groups
}

// RoundUp2 rounds up to 2 decimals using decimal arithmetic on the inputs.
func RoundUp2(effort, ratio float64) float64 {
	return decimal.NewFromFloat(effort).
		Mul(decimal.NewFromFloat(ratio)).
		RoundCeil(2).
		InexactFloat64()
}

type DistributionResult struct {
	Until    time.Time `json:"until"`
	Policies int       `json:"policies"`
	Payouts  int       `json:"payouts"`
	Failures int       `json:"failures"`
	Total    float64   `json:"total"`
}

type ReferralService struct {
	db           *gorm.DB
	referralRepo *repository.ReferralRepository
	pointsRepo   *repository.PointsRepository
	userRepo     *repository.UserRepository
	now          func() time.Time
	settleDelay  time.Duration
}

func NewReferralService(
	db *gorm.DB,
	referralRepo *repository.ReferralRepository,
	pointsRepo *repository.PointsRepository,
	userRepo *repository.UserRepository,
) *ReferralService {
	return &ReferralService{
		db:           db,
		referralRepo: referralRepo,
		pointsRepo:   pointsRepo,
		userRepo:     userRepo,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// WithSettleDelay 结算截止时间取 now - delay，给仍在提交中的积分事务留出时间
func (s *ReferralService) WithSettleDelay(delay time.Duration) *ReferralService {
	if delay > 0 {
		s.settleDelay = delay
	}
	return s
}

// DistributeReferrals 推荐奖励结算：按策略向直接和间接推荐人发放被推荐人积分的分成，
// 单个推荐人失败只记录日志，策略水位线在两个层级结算后推进
func (s *ReferralService) DistributeReferrals(ctx context.Context) (*DistributionResult, error) {
	until := s.now().Add(-s.settleDelay)
	result := &DistributionResult{Until: until}

	policies, err := s.referralRepo.DuePolicies(ctx, until)
	if err != nil {
		return nil, errors.New(errors.ErrReferralReward, "查询推荐策略失败", err)
	}
	if len(policies) == 0 {
		return result, nil
	}

	directLinks, err := s.referralRepo.ListByLayer(ctx, repository.LayerDirect)
	if err != nil {
		return nil, errors.New(errors.ErrReferralReward, "查询直接推荐关系失败", err)
	}
	indirectLinks, err := s.referralRepo.ListByLayer(ctx, repository.LayerIndirect)
	if err != nil {
		return nil, errors.New(errors.ErrReferralReward, "查询间接推荐关系失败", err)
	}
	direct := GroupByReferrer(directLinks)
	indirect := GroupByReferrer(indirectLinks)

	for i := range policies {
		policy := &policies[i]
		if policy.DirectRewardRatio > 0 {
			s.payTier(ctx, policy, direct, TierDirect, until, result)
		}
		if policy.IndirectRewardRatio > 0 {
			s.payTier(ctx, policy, indirect, TierIndirect, until, result)
		}

		if err := s.referralRepo.UpdatePolicyWatermark(ctx, policy.ID, until); err != nil {
			result.Failures++
			logger.WithFields(map[string]interface{}{
				"policy_id": policy.ID,
				"until":     until,
			}).WithError(err).Error("更新推荐策略水位线失败")
			continue
		}
		result.Policies++
	}

	logger.WithFields(map[string]interface{}{
		"until":    until,
		"policies": result.Policies,
		"payouts":  result.Payouts,
		"failures": result.Failures,
		"total":    result.Total,
	}).Info("推荐奖励已结算")

	return result, nil
}

func (s *ReferralService) payTier(ctx context.Context, policy *models.ReferralPolicy, groups []ReferrerGroup, tier Tier, until time.Time, result *DistributionResult) {
	ratio := policy.DirectRewardRatio
	if tier == TierIndirect {
		ratio = policy.IndirectRewardRatio
	}

	for _, group := range groups {
		amount, err := s.RewardReferrer(ctx, policy, group, tier, until)
		metrics.Indexer().ObserveReferralPayout(string(tier), err)
		if err != nil {
			result.Failures++
			logger.WithFields(map[string]interface{}{
				"referrer_id": group.ReferrerID,
				"referees":    group.RefereeIDs(),
				"policy_id":   policy.ID,
				"ratio":       ratio,
				"tier":        tier,
			}).WithError(err).Error("推荐奖励发放失败")
			continue
		}
		if amount > 0 {
			result.Payouts++
			result.Total += amount
		}
	}
}

// RefereesEffort sums the referees' points in (lastPaymentAt, until]. For the
// indirect tier with layer division each referee counts 1/(layer+1).
func (s *ReferralService) RefereesEffort(ctx context.Context, policy *models.ReferralPolicy, group ReferrerGroup, tier Tier, until time.Time) (float64, error) {
	if len(group.Referees) == 0 {
		return 0, nil
	}
	if policy.Criteria != models.ReferralCriteriaPoints {
		return 0, errors.New(errors.ErrNotImplemented,
			fmt.Sprintf("推荐评估标准 %s 尚未实现", policy.Criteria), nil)
	}

	sums, err := s.pointsRepo.SumByUsers(ctx, group.RefereeIDs(), policy.LastPaymentAt, until)
	if err != nil {
		return 0, err
	}

	divide := tier == TierIndirect && policy.DivideByLayer
	effort := 0.0
	for _, referee := range group.Referees {
		amount := sums[referee.UserID]
		if divide {
			amount /= float64(referee.Layer + 1)
		}
		effort += amount
	}
	return effort, nil
}

// RewardReferrer pays one referrer for one tier and returns the amount appended.
// A non-positive reward appends nothing.
func (s *ReferralService) RewardReferrer(ctx context.Context, policy *models.ReferralPolicy, group ReferrerGroup, tier Tier, until time.Time) (float64, error) {
	ratio, rewardType, source := policy.DirectRewardRatio, policy.DirectRewardType, models.PointSourceDirectReferral
	if tier == TierIndirect {
		ratio, rewardType, source = policy.IndirectRewardRatio, policy.IndirectRewardType, models.PointSourceIndirectReferral
	}

	effort, err := s.RefereesEffort(ctx, policy, group, tier, until)
	if err != nil {
		return 0, err
	}

	if rewardType != models.ReferralRewardPoint {
		return 0, errors.New(errors.ErrNotImplemented,
			fmt.Sprintf("推荐奖励类型 %s 尚未实现", rewardType), nil)
	}

	reward := RoundUp2(effort, ratio)
	if reward <= 0 {
		return 0, nil
	}

	metadata := models.JSONB{
		"referees":  group.RefereeIDs(),
		"policy_id": policy.ID,
		"tier":      tier,
		"until":     until,
		"effort":    effort,
		"ratio":     ratio,
	}
	if policy.LastPaymentAt != nil {
		metadata["from"] = *policy.LastPaymentAt
	}

	entry := &models.PointHistory{
		UserID:   group.ReferrerID,
		Amount:   reward,
		Source:   source,
		Metadata: metadata,
	}
	if err := s.pointsRepo.Append(ctx, entry); err != nil {
		return 0, errors.New(errors.ErrReferralReward, "写入推荐奖励失败", err)
	}
	metrics.Indexer().ObserveLedgerEntry(string(source), reward)
	return reward, nil
}

// LinkUserToReferrer 绑定推荐关系：写入直接推荐人（layer 0）并继承推荐人的上级链（layer+1）
func (s *ReferralService) LinkUserToReferrer(ctx context.Context, userID uint64, code string) ([]models.ReferralLink, error) {
	var links []models.ReferralLink
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		users := s.userRepo.WithTx(tx)
		referrals := s.referralRepo.WithTx(tx)

		referrer, err := users.FindByCode(ctx, code)
		if err != nil {
			return err
		}
		if referrer == nil {
			return errors.New(errors.ErrReferralLink, "推荐码不存在: "+code, nil)
		}
		if referrer.ID == userID {
			return errors.New(errors.ErrReferralLink, "不能使用自己的推荐码", nil)
		}

		existing, err := referrals.FindByUser(ctx, userID)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return errors.New(errors.ErrReferralLink, "用户已在推荐体系中", nil)
		}

		upstream, err := referrals.FindByUser(ctx, referrer.ID)
		if err != nil {
			return err
		}

		links = append(links, models.ReferralLink{UserID: userID, ReferrerID: referrer.ID, Layer: 0})
		for _, parent := range upstream {
			if parent.ReferrerID == userID {
				return errors.New(errors.ErrReferralLink, "推荐关系不能成环", nil)
			}
			links = append(links, models.ReferralLink{
				UserID:     userID,
				ReferrerID: parent.ReferrerID,
				Layer:      parent.Layer + 1,
			})
		}
		return referrals.BulkCreate(ctx, links)
	})
	if err != nil {
		if errors.HasCode(err, errors.ErrReferralLink) {
			return nil, err
		}
		return nil, errors.New(errors.ErrReferralLink, "绑定推荐关系失败", err)
	}

	logger.WithFields(map[string]interface{}{
		"user_id": userID,
		"code":    code,
		"layers":  len(links),
	}).Info("推荐关系已绑定")

	return links, nil
}

type ReferralReport struct {
	UserID        uint64                `json:"user_id"`
	Referrer      *models.User          `json:"referrer,omitempty"`
	Direct        []models.ReferralLink `json:"direct"`
	Indirect      []models.ReferralLink `json:"indirect"`
	DirectCount   int                   `json:"direct_count"`
	IndirectCount int                   `json:"indirect_count"`
}

func (s *ReferralService) ReferralReport(ctx context.Context, userID uint64) (*ReferralReport, error) {
	report := &ReferralReport{UserID: userID}

	upstream, err := s.referralRepo.FindByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, link := range upstream {
		if link.Layer == 0 {
			report.Referrer, err = s.userRepo.FindByID(ctx, link.ReferrerID)
			if err != nil {
				return nil, err
			}
			break
		}
	}

	report.Direct, err = s.referralRepo.FindByReferrer(ctx, userID, repository.LayerDirect)
	if err != nil {
		return nil, err
	}
	report.Indirect, err = s.referralRepo.FindByReferrer(ctx, userID, repository.LayerIndirect)
	if err != nil {
		return nil, err
	}
	report.DirectCount = len(report.Direct)
	report.IndirectCount = len(report.Indirect)
	return report, nil
}
