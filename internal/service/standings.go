package service

import (
	"context"
	"sort"

	"github.com/pydea-rs/tayadex-backend/internal/repository"
)

type SortField string

const (
	SortByTotal     SortField = "total"
	SortByReferrals SortField = "referrals"
	SortByQuests    SortField = "quests"
)

func ParseSortField(s string) SortField {
	switch SortField(s) {
	case SortByReferrals, SortByQuests:
		return SortField(s)
	}
	return SortByTotal
}

// UserScore 用户积分汇总：推荐奖励、其他来源和总分
type UserScore struct {
	UserID    uint64  `json:"user_id"`
	Referrals float64 `json:"referrals"`
	Quests    float64 `json:"quests"`
	Total     float64 `json:"total"`
	Rank      int     `json:"rank"`
}

func (u UserScore) value(field SortField) float64 {
	switch field {
	case SortByReferrals:
		return u.Referrals
	case SortByQuests:
		return u.Quests
	}
	return u.Total
}

type StandingsService struct {
	pointsRepo *repository.PointsRepository
}

func NewStandingsService(pointsRepo *repository.PointsRepository) *StandingsService {
	return &StandingsService{pointsRepo: pointsRepo}
}

// Scores aggregates every user's ledger and assigns ranks by total:
// rank = 1 + number of users with a strictly greater total.
func (s *StandingsService) Scores(ctx context.Context) ([]UserScore, error) {
	rows, err := s.pointsRepo.AggregateByUserSource(ctx)
	if err != nil {
		return nil, err
	}

	index := make(map[uint64]int)
	scores := make([]UserScore, 0)
	for _, row := range rows {
		i, ok := index[row.UserID]
		if !ok {
			i = len(scores)
			index[row.UserID] = i
			scores = append(scores, UserScore{UserID: row.UserID})
		}
		if row.Source.IsReferral() {
			scores[i].Referrals += row.Total
		} else {
			scores[i].Quests += row.Total
		}
		scores[i].Total += row.Total
	}

	AssignRanks(scores)
	return scores, nil
}

// AssignRanks sets Rank on each score from the totals.
func AssignRanks(scores []UserScore) {
	totals := make([]float64, len(scores))
	for i, s := range scores {
		totals[i] = s.Total
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(totals)))

	for i := range scores {
		// totals is descending; count entries strictly greater than ours.
		greater := sort.Search(len(totals), func(j int) bool {
			return totals[j] <= scores[i].Total
		})
		scores[i].Rank = greater + 1
	}
}

// SortScores orders by the field descending, ties by user id ascending.
func SortScores(scores []UserScore, field SortField) {
	sort.SliceStable(scores, func(a, b int) bool {
		va, vb := scores[a].value(field), scores[b].value(field)
		if va != vb {
			return va > vb
		}
		return scores[a].UserID < scores[b].UserID
	})
}

func (s *StandingsService) Leaderboard(ctx context.Context, field SortField, offset, limit int) ([]UserScore, int, error) {
	scores, err := s.Scores(ctx)
	if err != nil {
		return nil, 0, err
	}
	SortScores(scores, field)

	total := len(scores)
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return []UserScore{}, total, nil
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return scores[offset:end], total, nil
}

// UserStanding returns the user's score. Users without entries score 0 and rank
// behind everyone with a positive total.
func (s *StandingsService) UserStanding(ctx context.Context, userID uint64) (*UserScore, error) {
	scores, err := s.Scores(ctx)
	if err != nil {
		return nil, err
	}
	for _, score := range scores {
		if score.UserID == userID {
			result := score
			return &result, nil
		}
	}

	greater := 0
	for _, score := range scores {
		if score.Total > 0 {
			greater++
		}
	}
	return &UserScore{UserID: userID, Rank: greater + 1}, nil
}
