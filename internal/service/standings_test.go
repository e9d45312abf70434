package service

import (
	"testing"
	"time"

	"github.com/pydea-rs/tayadex-backend/internal/models"
	"github.com/pydea-rs/tayadex-backend/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssignRanksUsesStrictlyGreaterTotals(t *testing.T) {
	scores := []UserScore{
		{UserID: 1, Total: 15},
		{UserID: 2, Total: 15},
		{UserID: 3, Total: 3},
		{UserID: 4, Total: -45},
		{UserID: 5, Total: 20},
	}
	AssignRanks(scores)

	ranks := map[uint64]int{}
	for _, s := range scores {
		ranks[s.UserID] = s.Rank
	}
	assert.Equal(t, map[uint64]int{5: 1, 1: 2, 2: 2, 3: 4, 4: 5}, ranks)
}

func TestLeaderboard(t *testing.T) {
	db := setupTestDB(t)
	now := time.Now().UTC()
	u1 := createUser(t, db, "0x1111111111111111111111111111111111111111", "USER0001")
	u2 := createUser(t, db, "0x2222222222222222222222222222222222222222", "USER0002")
	u3 := createUser(t, db, "0x3333333333333333333333333333333333333333", "USER0003")

	addPoints(t, db, u1.ID, 10, models.PointSourceTransaction, now)
	addPoints(t, db, u1.ID, 5, models.PointSourceDirectReferral, now)
	addPoints(t, db, u2.ID, 15, models.PointSourceTransaction, now)
	addPoints(t, db, u3.ID, 2, models.PointSourceSocialActivity, now)
	addPoints(t, db, u3.ID, 1, models.PointSourceIndirectReferral, now)

	svc := NewStandingsService(repository.NewPointsRepository(db))

	board, total, err := svc.Leaderboard(t.Context(), SortByTotal, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, board, 3)
	assert.Equal(t, []uint64{u1.ID, u2.ID, u3.ID}, []uint64{board[0].UserID, board[1].UserID, board[2].UserID})
	assert.Equal(t, []int{1, 1, 3}, []int{board[0].Rank, board[1].Rank, board[2].Rank})
	assert.InDelta(t, 5.0, board[0].Referrals, 1e-9)
	assert.InDelta(t, 10.0, board[0].Quests, 1e-9)
	assert.InDelta(t, 1.0, board[2].Referrals, 1e-9)
	assert.InDelta(t, 2.0, board[2].Quests, 1e-9)

	board, _, err = svc.Leaderboard(t.Context(), SortByReferrals, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []uint64{u1.ID, u3.ID, u2.ID}, []uint64{board[0].UserID, board[1].UserID, board[2].UserID})

	board, _, err = svc.Leaderboard(t.Context(), SortByQuests, 1, 1)
	require.NoError(t, err)
	require.Len(t, board, 1)
	assert.Equal(t, u1.ID, board[0].UserID)

	board, _, err = svc.Leaderboard(t.Context(), SortByTotal, 5, 10)
	require.NoError(t, err)
	assert.Empty(t, board)
}

func TestUserStanding(t *testing.T) {
	db := setupTestDB(t)
	now := time.Now().UTC()
	u1 := createUser(t, db, "0x1111111111111111111111111111111111111111", "USER0001")
	u2 := createUser(t, db, "0x2222222222222222222222222222222222222222", "USER0002")
	addPoints(t, db, u1.ID, 7, models.PointSourceTransaction, now)
	addPoints(t, db, u2.ID, 9, models.PointSourceTransaction, now)

	svc := NewStandingsService(repository.NewPointsRepository(db))

	standing, err := svc.UserStanding(t.Context(), u1.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, standing.Rank)
	assert.InDelta(t, 7.0, standing.Total, 1e-9)

	standing, err = svc.UserStanding(t.Context(), 999)
	require.NoError(t, err)
	assert.Equal(t, 3, standing.Rank)
	assert.Zero(t, standing.Total)
}

func TestParseSortField(t *testing.T) {
	assert.Equal(t, SortByReferrals, ParseSortField("referrals"))
	assert.Equal(t, SortByQuests, ParseSortField("quests"))
	assert.Equal(t, SortByTotal, ParseSortField(""))
	assert.Equal(t, SortByTotal, ParseSortField("bogus"))
}
