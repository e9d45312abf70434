package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pydea-rs/tayadex-backend/internal/blockchain"
	"github.com/pydea-rs/tayadex-backend/internal/indexer"
	"github.com/pydea-rs/tayadex-backend/internal/models"
	"github.com/pydea-rs/tayadex-backend/internal/queue"
	"github.com/pydea-rs/tayadex-backend/internal/repository"
	"github.com/pydea-rs/tayadex-backend/internal/service"
	"github.com/pydea-rs/tayadex-backend/pkg/errors"
)

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

func pagination(r *http.Request) (page, pageSize, offset int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ = strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize, (page - 1) * pageSize
}

// lastSegment returns the path segment after prefix, e.g. the address in
// /api/points/{address}.
func lastSegment(path, prefix string) string {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if rest == "" || strings.Contains(rest, "/") {
		return ""
	}
	return rest
}

type userLookup interface {
	FindByAddress(ctx context.Context, address string) (*models.User, error)
}

func resolveAddress(ctx context.Context, users userLookup, w http.ResponseWriter, raw string) (*models.User, bool) {
	address, ok := service.NormalizeAddress(raw)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid address: "+raw)
		return nil, false
	}
	user, err := users.FindByAddress(ctx, address)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get user: "+err.Error())
		return nil, false
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return nil, false
	}
	return user, true
}

type PointsHandler struct {
	standings  *service.StandingsService
	pointsRepo *repository.PointsRepository
	userRepo   *repository.UserRepository
}

func NewPointsHandler(standings *service.StandingsService, pointsRepo *repository.PointsRepository, userRepo *repository.UserRepository) *PointsHandler {
	return &PointsHandler{standings: standings, pointsRepo: pointsRepo, userRepo: userRepo}
}

// Leaderboard GET /api/leaderboard?sort=total|referrals|quests&page=&page_size=
func (h *PointsHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	field := service.ParseSortField(r.URL.Query().Get("sort"))
	page, pageSize, offset := pagination(r)

	items, total, err := h.standings.Leaderboard(r.Context(), field, offset, pageSize)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get leaderboard: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items":    items,
		"total":    total,
		"sort":     field,
		"page":     page,
		"pageSize": pageSize,
	})
}

// GetPoints GET /api/points/{address}
func (h *PointsHandler) GetPoints(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	raw := lastSegment(r.URL.Path, "/api/points/")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "invalid path format, expected /api/points/{address}")
		return
	}

	ctx := r.Context()
	user, ok := resolveAddress(ctx, h.userRepo, w, raw)
	if !ok {
		return
	}

	standing, err := h.standings.UserStanding(ctx, user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get standing: "+err.Error())
		return
	}

	page, pageSize, offset := pagination(r)
	history, err := h.pointsRepo.ListByUser(ctx, user.ID, offset, pageSize)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get points history: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"address":  user.Address,
		"standing": standing,
		"history":  history,
		"page":     page,
		"pageSize": pageSize,
	})
}

type ReferralHandler struct {
	referrals *service.ReferralService
	users     *service.UserService
	userRepo  *repository.UserRepository
}

func NewReferralHandler(referrals *service.ReferralService, users *service.UserService, userRepo *repository.UserRepository) *ReferralHandler {
	return &ReferralHandler{referrals: referrals, users: users, userRepo: userRepo}
}

// rejectedLink reports a link refused by the referral rules, not a storage failure.
func rejectedLink(err error) bool {
	var appErr *errors.AppError
	return errors.As(err, &appErr) && appErr.Code == errors.ErrReferralLink && appErr.Err == nil
}

type linkRequest struct {
	Address string `json:"address"`
	Code    string `json:"code"`
}

// Link POST /api/referrals/link {"address": "0x..", "code": "ABCD1234"}
// 地址未注册时先注册，再绑定推荐关系
func (h *ReferralHandler) Link(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req linkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		writeError(w, http.StatusBadRequest, "referral code is required")
		return
	}
	if _, ok := service.NormalizeAddress(req.Address); !ok {
		writeError(w, http.StatusBadRequest, "invalid address: "+req.Address)
		return
	}

	ctx := r.Context()
	user, err := h.users.Register(ctx, req.Address)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to register user: "+err.Error())
		return
	}

	links, err := h.referrals.LinkUserToReferrer(ctx, user.ID, strings.TrimSpace(req.Code))
	if err != nil {
		status := http.StatusInternalServerError
		if rejectedLink(err) {
			status = http.StatusBadRequest
		}
		writeError(w, status, "failed to link referrer: "+err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"address":      user.Address,
		"referralCode": user.ReferralCode,
		"links":        links,
	})
}

// GetReport GET /api/referrals/{address}
func (h *ReferralHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	raw := lastSegment(r.URL.Path, "/api/referrals/")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "invalid path format, expected /api/referrals/{address}")
		return
	}

	ctx := r.Context()
	user, ok := resolveAddress(ctx, h.userRepo, w, raw)
	if !ok {
		return
	}

	report, err := h.referrals.ReferralReport(ctx, user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get referral report: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"address":      user.Address,
		"referralCode": user.ReferralCode,
		"report":       report,
	})
}

type TransactionHandler struct {
	txRepo     *repository.TransactionRepository
	pointsRepo *repository.PointsRepository
}

func NewTransactionHandler(txRepo *repository.TransactionRepository, pointsRepo *repository.PointsRepository) *TransactionHandler {
	return &TransactionHandler{txRepo: txRepo, pointsRepo: pointsRepo}
}

// GetTransaction GET /api/transactions/{hash}
// 返回该哈希下每种事件类型的记录及其积分流水
func (h *TransactionHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	hash := strings.ToLower(lastSegment(r.URL.Path, "/api/transactions/"))
	if hash == "" {
		writeError(w, http.StatusBadRequest, "invalid path format, expected /api/transactions/{hash}")
		return
	}

	ctx := r.Context()
	txs, err := h.txRepo.ListByHash(ctx, hash)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get transaction: "+err.Error())
		return
	}
	if len(txs) == 0 {
		writeError(w, http.StatusNotFound, "transaction not found")
		return
	}

	items := make([]map[string]interface{}, 0, len(txs))
	for _, tx := range txs {
		entries, err := h.pointsRepo.ListByTransaction(ctx, tx.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to get points entries: "+err.Error())
			return
		}
		items = append(items, map[string]interface{}{
			"transaction": tx,
			"entries":     entries,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"hash":  hash,
		"items": items,
	})
}

func (h *TransactionHandler) GetRecentTransactions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 100 {
		limit = 10
	}

	txs, err := h.txRepo.GetRecent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get transactions: "+err.Error())
		return
	}

	items := make([]map[string]interface{}, 0, len(txs))
	for _, tx := range txs {
		item := map[string]interface{}{
			"hash":      tx.Hash,
			"type":      string(tx.Type),
			"block":     tx.BlockNumber,
			"from":      tx.From,
			"to":        tx.To,
			"token0":    tx.Token0,
			"amount0":   tx.Token0Amount,
			"token1":    tx.Token1,
			"amount1":   tx.Token1Amount,
			"processed": tx.ProcessedAt != nil,
			"timestamp": tx.CreatedAt.Format(time.RFC3339),
		}
		items = append(items, item)
	}

	writeJSON(w, http.StatusOK, items)
}

type CacheController interface {
	CacheStats() blockchain.CacheStats
	ClearCaches()
}

type DrainerStatser interface {
	Stats() queue.DrainerStats
}

type chainGetter interface {
	Get(ctx context.Context, chainID uint64) (*models.Chain, error)
}

type StatsHandler struct {
	chainID uint64
	chains  chainGetter
	indexer *indexer.Indexer
	queue   queue.Queue
	drainer DrainerStatser
	cache   CacheController
}

func NewStatsHandler(chainID uint64, chains chainGetter, ix *indexer.Indexer, q queue.Queue, drainer DrainerStatser, cache CacheController) *StatsHandler {
	return &StatsHandler{
		chainID: chainID,
		chains:  chains,
		indexer: ix,
		queue:   q,
		drainer: drainer,
		cache:   cache,
	}
}

func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	ctx := r.Context()
	chain, err := h.chains.Get(ctx, h.chainID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get chain: "+err.Error())
		return
	}

	queueLen, _ := h.queue.Len(ctx)

	stats := map[string]interface{}{
		"chain":       chain,
		"queueLength": queueLen,
		"queue":       h.drainer.Stats(),
		"cache":       h.cache.CacheStats(),
	}
	if h.indexer != nil {
		stats["indexerState"] = h.indexer.State().String()
	}
	writeJSON(w, http.StatusOK, stats)
}

// ClearCache POST /api/cache/clear
func (h *StatsHandler) ClearCache(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	before := h.cache.CacheStats()
	h.cache.ClearCaches()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "cache cleared",
		"cleared": before,
	})
}

type Trigger interface {
	TriggerRound(ctx context.Context) (*indexer.RoundResult, error)
	TriggerReferrals(ctx context.Context) (*service.DistributionResult, error)
}

// TriggerHandler runs scheduled jobs on demand.
type TriggerHandler struct {
	trigger Trigger
}

func NewTriggerHandler(trigger Trigger) *TriggerHandler {
	return &TriggerHandler{trigger: trigger}
}

func (h *TriggerHandler) TriggerRound(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	result, err := h.trigger.TriggerRound(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "indexer round failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *TriggerHandler) TriggerReferrals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	result, err := h.trigger.TriggerReferrals(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "referral distribution failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}
