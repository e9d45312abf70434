package service

import (
	"testing"
	"time"

	"github.com/pydea-rs/tayadex-backend/internal/models"
	"github.com/pydea-rs/tayadex-backend/internal/repository"
	"github.com/pydea-rs/tayadex-backend/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newReferralService(db *gorm.DB, now time.Time) *ReferralService {
	svc := NewReferralService(db,
		repository.NewReferralRepository(db),
		repository.NewPointsRepository(db),
		repository.NewUserRepository(db),
	)
	svc.now = func() time.Time { return now }
	return svc
}

func createPolicy(t *testing.T, db *gorm.DB, policy models.ReferralPolicy) *models.ReferralPolicy {
	t.Helper()
	require.NoError(t, db.Create(&policy).Error)
	return &policy
}

// referrer <- child <- grandchild
func seedChain(t *testing.T, db *gorm.DB) (referrer, child, grandchild *models.User) {
	referrer = createUser(t, db, "0x1111111111111111111111111111111111111111", "REF00001")
	child = createUser(t, db, "0x2222222222222222222222222222222222222222", "REF00002")
	grandchild = createUser(t, db, "0x3333333333333333333333333333333333333333", "REF00003")
	link(t, db, child.ID, referrer.ID, 0)
	link(t, db, grandchild.ID, child.ID, 0)
	link(t, db, grandchild.ID, referrer.ID, 1)
	return referrer, child, grandchild
}

func TestRoundUp2(t *testing.T) {
	assert.Equal(t, 100.0, RoundUp2(1000, 0.1))
	assert.Equal(t, 5.0, RoundUp2(500, 0.01))
	assert.Equal(t, 0.13, RoundUp2(1.234, 0.1))
	assert.Equal(t, 0.0, RoundUp2(0, 0.1))
	assert.Equal(t, -0.12, RoundUp2(-1.29, 0.1))
}

func TestGroupByReferrer(t *testing.T) {
	groups := GroupByReferrer([]models.ReferralLink{
		{UserID: 5, ReferrerID: 2, Layer: 1},
		{UserID: 3, ReferrerID: 1, Layer: 0},
		{UserID: 4, ReferrerID: 1, Layer: 0},
	})
	require.Len(t, groups, 2)
	assert.Equal(t, uint64(1), groups[0].ReferrerID)
	assert.Equal(t, []uint64{3, 4}, groups[0].RefereeIDs())
	assert.Equal(t, uint64(2), groups[1].ReferrerID)
	assert.Equal(t, 1, groups[1].Referees[0].Layer)
}

func TestDistributeReferralsDirectAndLayerDividedIndirect(t *testing.T) {
	db := setupTestDB(t)
	base := time.Now().UTC().Add(-24 * time.Hour)
	referrer, child, grandchild := seedChain(t, db)

	addPoints(t, db, child.ID, 1000, models.PointSourceTransaction, base.Add(-time.Hour))
	addPoints(t, db, grandchild.ID, 1000, models.PointSourceTransaction, base.Add(-time.Hour))

	policy := createPolicy(t, db, models.ReferralPolicy{
		Criteria:            models.ReferralCriteriaPoints,
		DivideByLayer:       true,
		DirectRewardRatio:   0.1,
		DirectRewardType:    models.ReferralRewardPoint,
		IndirectRewardRatio: 0.01,
		IndirectRewardType:  models.ReferralRewardPoint,
	})

	result, err := newReferralService(db, base).DistributeReferrals(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Policies)
	assert.Equal(t, 3, result.Payouts)
	assert.Zero(t, result.Failures)

	assert.InDelta(t, 100.0, sumBySource(t, db, referrer.ID, models.PointSourceDirectReferral), 1e-9)
	assert.InDelta(t, 5.0, sumBySource(t, db, referrer.ID, models.PointSourceIndirectReferral), 1e-9)
	assert.InDelta(t, 100.0, sumBySource(t, db, child.ID, models.PointSourceDirectReferral), 1e-9)
	assert.Zero(t, sumBySource(t, db, grandchild.ID, models.PointSourceDirectReferral))

	stored, err := repository.NewReferralRepository(db).GetPolicy(t.Context(), policy.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastPaymentAt)
	assert.WithinDuration(t, base, *stored.LastPaymentAt, time.Millisecond)
}

func TestDistributeReferralsOnlyPaysNewEffort(t *testing.T) {
	db := setupTestDB(t)
	base := time.Now().UTC().Add(-24 * time.Hour)
	referrer, child, _ := seedChain(t, db)

	addPoints(t, db, child.ID, 1000, models.PointSourceTransaction, base.Add(-time.Hour))
	createPolicy(t, db, models.ReferralPolicy{
		Criteria:          models.ReferralCriteriaPoints,
		DirectRewardRatio: 0.1,
		DirectRewardType:  models.ReferralRewardPoint,
	})

	_, err := newReferralService(db, base).DistributeReferrals(t.Context())
	require.NoError(t, err)

	addPoints(t, db, child.ID, 50, models.PointSourceTransaction, base.Add(30*time.Minute))
	_, err = newReferralService(db, base.Add(time.Hour)).DistributeReferrals(t.Context())
	require.NoError(t, err)

	assert.InDelta(t, 105.0, sumBySource(t, db, referrer.ID, models.PointSourceDirectReferral), 1e-9)
}

func TestDistributeReferralsLeavesSettleWindowForNextEpoch(t *testing.T) {
	db := setupTestDB(t)
	base := time.Now().UTC().Add(-24 * time.Hour)
	referrer, child, _ := seedChain(t, db)

	createPolicy(t, db, models.ReferralPolicy{
		Criteria:          models.ReferralCriteriaPoints,
		DirectRewardRatio: 0.1,
		DirectRewardType:  models.ReferralRewardPoint,
	})

	// 距结算时刻 10 秒内的积分可能仍在提交，本轮不计入
	addPoints(t, db, child.ID, 1000, models.PointSourceTransaction, base.Add(-2*time.Minute))
	addPoints(t, db, child.ID, 500, models.PointSourceTransaction, base.Add(-10*time.Second))

	result, err := newReferralService(db, base).WithSettleDelay(time.Minute).DistributeReferrals(t.Context())
	require.NoError(t, err)
	assert.WithinDuration(t, base.Add(-time.Minute), result.Until, time.Millisecond)
	assert.InDelta(t, 100.0, sumBySource(t, db, referrer.ID, models.PointSourceDirectReferral), 1e-9)

	_, err = newReferralService(db, base.Add(time.Hour)).WithSettleDelay(time.Minute).DistributeReferrals(t.Context())
	require.NoError(t, err)
	assert.InDelta(t, 150.0, sumBySource(t, db, referrer.ID, models.PointSourceDirectReferral), 1e-9)
}

func TestDistributeReferralsWithoutLayerDivision(t *testing.T) {
	db := setupTestDB(t)
	base := time.Now().UTC().Add(-24 * time.Hour)
	referrer, _, grandchild := seedChain(t, db)

	addPoints(t, db, grandchild.ID, 1000, models.PointSourceTransaction, base.Add(-time.Hour))
	createPolicy(t, db, models.ReferralPolicy{
		Criteria:            models.ReferralCriteriaPoints,
		IndirectRewardRatio: 0.01,
		IndirectRewardType:  models.ReferralRewardPoint,
	})

	_, err := newReferralService(db, base).DistributeReferrals(t.Context())
	require.NoError(t, err)
	assert.InDelta(t, 10.0, sumBySource(t, db, referrer.ID, models.PointSourceIndirectReferral), 1e-9)
}

func TestDistributeReferralsSkipsNonPositiveRewards(t *testing.T) {
	db := setupTestDB(t)
	base := time.Now().UTC().Add(-24 * time.Hour)
	referrer, child, _ := seedChain(t, db)

	addPoints(t, db, child.ID, -45, models.PointSourceTransaction, base.Add(-time.Hour))
	createPolicy(t, db, models.ReferralPolicy{
		Criteria:          models.ReferralCriteriaPoints,
		DirectRewardRatio: 0.1,
		DirectRewardType:  models.ReferralRewardPoint,
	})

	result, err := newReferralService(db, base).DistributeReferrals(t.Context())
	require.NoError(t, err)
	assert.Zero(t, result.Payouts)

	var count int64
	require.NoError(t, db.Model(&models.PointHistory{}).Where("user_id = ?", referrer.ID).Count(&count).Error)
	assert.Zero(t, count)
}

func TestDistributeReferralsUnsupportedRewardTypeStillAdvancesWatermark(t *testing.T) {
	db := setupTestDB(t)
	base := time.Now().UTC().Add(-24 * time.Hour)
	referrer, child, _ := seedChain(t, db)

	addPoints(t, db, child.ID, 1000, models.PointSourceTransaction, base.Add(-time.Hour))
	policy := createPolicy(t, db, models.ReferralPolicy{
		Criteria:          models.ReferralCriteriaPoints,
		DirectRewardRatio: 0.1,
		DirectRewardType:  models.ReferralRewardNative,
	})

	result, err := newReferralService(db, base).DistributeReferrals(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Failures)
	assert.Zero(t, sumBySource(t, db, referrer.ID, models.PointSourceDirectReferral))

	stored, err := repository.NewReferralRepository(db).GetPolicy(t.Context(), policy.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.LastPaymentAt)
}

func TestDistributeReferralsIgnoresInactivePolicies(t *testing.T) {
	db := setupTestDB(t)
	base := time.Now().UTC().Add(-24 * time.Hour)
	referrer, child, _ := seedChain(t, db)

	addPoints(t, db, child.ID, 1000, models.PointSourceTransaction, base.Add(-time.Hour))
	policy := createPolicy(t, db, models.ReferralPolicy{
		Criteria:          models.ReferralCriteriaPoints,
		DirectRewardRatio: 0.1,
		DirectRewardType:  models.ReferralRewardPoint,
	})
	require.NoError(t, db.Model(policy).Update("active", false).Error)

	result, err := newReferralService(db, base).DistributeReferrals(t.Context())
	require.NoError(t, err)
	assert.Zero(t, result.Policies)
	assert.Zero(t, sumBySource(t, db, referrer.ID, models.PointSourceDirectReferral))
}

func TestRewardReferrerRejectsUnimplementedCriteria(t *testing.T) {
	db := setupTestDB(t)
	svc := newReferralService(db, time.Now().UTC())
	policy := &models.ReferralPolicy{
		Criteria:          models.ReferralCriteriaSwapsOnly,
		DirectRewardRatio: 0.1,
		DirectRewardType:  models.ReferralRewardPoint,
	}
	group := ReferrerGroup{ReferrerID: 1, Referees: []Referee{{UserID: 2}}}

	_, err := svc.RewardReferrer(t.Context(), policy, group, TierDirect, time.Now().UTC())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrNotImplemented))
}

func TestLinkUserToReferrerCopiesUpstreamChain(t *testing.T) {
	db := setupTestDB(t)
	referrer, child, grandchild := seedChain(t, db)
	newcomer := createUser(t, db, "0x4444444444444444444444444444444444444444", "REF00004")
	svc := newReferralService(db, time.Now().UTC())

	links, err := svc.LinkUserToReferrer(t.Context(), newcomer.ID, "ref00003")
	require.NoError(t, err)
	require.Len(t, links, 3)

	stored, err := repository.NewReferralRepository(db).FindByUser(t.Context(), newcomer.ID)
	require.NoError(t, err)
	require.Len(t, stored, 3)
	assert.Equal(t, grandchild.ID, stored[0].ReferrerID)
	assert.Equal(t, 0, stored[0].Layer)
	assert.Equal(t, child.ID, stored[1].ReferrerID)
	assert.Equal(t, 1, stored[1].Layer)
	assert.Equal(t, referrer.ID, stored[2].ReferrerID)
	assert.Equal(t, 2, stored[2].Layer)
}

func TestLinkUserToReferrerRejectsInvalidLinks(t *testing.T) {
	db := setupTestDB(t)
	referrer, child, _ := seedChain(t, db)
	svc := newReferralService(db, time.Now().UTC())

	_, err := svc.LinkUserToReferrer(t.Context(), referrer.ID, "REF00001")
	assert.True(t, errors.HasCode(err, errors.ErrReferralLink), "self referral")

	_, err = svc.LinkUserToReferrer(t.Context(), referrer.ID, "NOPE0000")
	assert.True(t, errors.HasCode(err, errors.ErrReferralLink), "unknown code")

	_, err = svc.LinkUserToReferrer(t.Context(), child.ID, "REF00003")
	assert.True(t, errors.HasCode(err, errors.ErrReferralLink), "already linked")
}

func TestReferralReport(t *testing.T) {
	db := setupTestDB(t)
	referrer, child, grandchild := seedChain(t, db)
	svc := newReferralService(db, time.Now().UTC())

	report, err := svc.ReferralReport(t.Context(), referrer.ID)
	require.NoError(t, err)
	assert.Nil(t, report.Referrer)
	assert.Equal(t, 1, report.DirectCount)
	assert.Equal(t, child.ID, report.Direct[0].UserID)
	assert.Equal(t, 1, report.IndirectCount)
	assert.Equal(t, grandchild.ID, report.Indirect[0].UserID)

	report, err = svc.ReferralReport(t.Context(), grandchild.ID)
	require.NoError(t, err)
	require.NotNil(t, report.Referrer)
	assert.Equal(t, child.ID, report.Referrer.ID)
	assert.Zero(t, report.DirectCount)
}
