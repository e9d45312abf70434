package service

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pydea-rs/tayadex-backend/internal/models"
	"github.com/pydea-rs/tayadex-backend/internal/queue"
	"github.com/pydea-rs/tayadex-backend/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestRequeuePendingRebuildsWorkItems(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	legs := [2]queue.TokenLeg{
		{Symbol: "WMON", Decimals: 18, RawAmount: "-2000000000000000000"},
		{Symbol: "USDC", Decimals: 6, RawAmount: "4000000"},
	}
	pending := queue.NewWorkItem("0xaaa", models.TransactionTypeSwap, 42, legs, "0x00000000000000000000000000000000000000b0")
	require.NoError(t, db.Create(&models.ProcessedTransaction{
		Hash:        pending.TxHash,
		Type:        pending.Kind,
		BlockNumber: pending.BlockNumber,
		ChainID:     1,
		Metadata:    LegsMetadata(pending),
	}).Error)

	// 已处理的交易不会重新入队
	done := time.Now().UTC()
	require.NoError(t, db.Create(&models.ProcessedTransaction{
		Hash:        "0xbbb",
		Type:        models.TransactionTypeMint,
		BlockNumber: 43,
		ChainID:     1,
		ProcessedAt: &done,
		Metadata:    LegsMetadata(pending),
	}).Error)

	// 没有原始金额的行被跳过
	require.NoError(t, db.Create(&models.ProcessedTransaction{
		Hash:        "0xccc",
		Type:        models.TransactionTypeBurn,
		BlockNumber: 44,
		ChainID:     1,
	}).Error)

	q := queue.NewMemoryQueue()
	svc := NewRecoveryService(repository.NewTransactionRepository(db), q, 10, true)

	requeued, err := svc.RequeuePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, requeued)

	item, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, "0xaaa", item.TxHash)
	assert.Equal(t, models.TransactionTypeSwap, item.Kind)
	assert.Equal(t, uint64(42), item.BlockNumber)
	assert.Equal(t, legs, item.Legs)
	assert.Equal(t, pending.To, item.To)

	next, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, next)
}

func pendingRow(t *testing.T, db *gorm.DB, hash string, from common.Address) {
	t.Helper()
	item := queue.NewWorkItem(hash, models.TransactionTypeMint, 1, [2]queue.TokenLeg{
		{Symbol: "WMON", Decimals: 18, RawAmount: "1"},
		{Symbol: "USDC", Decimals: 6, RawAmount: "1"},
	}, from.Hex())
	require.NoError(t, db.Create(&models.ProcessedTransaction{
		Hash:     hash,
		Type:     item.Kind,
		From:     from.Hex(),
		ChainID:  1,
		Metadata: LegsMetadata(item),
	}).Error)
}

func drainHashes(t *testing.T, q queue.Queue) []string {
	t.Helper()
	hashes := make([]string, 0)
	for {
		item, err := q.Dequeue(context.Background())
		require.NoError(t, err)
		if item == nil {
			return hashes
		}
		hashes = append(hashes, item.TxHash)
	}
}

func TestRequeuePendingSkipsOriginsWithoutUser(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	for i, hash := range []string{"0xold1", "0xold2", "0xold3"} {
		pendingRow(t, db, hash, common.BytesToAddress([]byte{0xe0, byte(i)}))
	}
	owner := common.HexToAddress("0x00000000000000000000000000000000000000f1")
	pendingRow(t, db, "0xnew", owner)
	createUser(t, db, owner.Hex(), "OWNER001")

	q := queue.NewMemoryQueue()
	svc := NewRecoveryService(repository.NewTransactionRepository(db), q, 3, false)

	requeued, err := svc.RequeuePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, requeued)
	assert.Equal(t, []string{"0xnew"}, drainHashes(t, q))
}

func TestRequeuePendingPagesPastFullBatches(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	hashes := []string{"0x01", "0x02", "0x03", "0x04", "0x05"}
	for _, hash := range hashes {
		pendingRow(t, db, hash, common.HexToAddress("0x00000000000000000000000000000000000000f2"))
	}

	q := queue.NewMemoryQueue()
	svc := NewRecoveryService(repository.NewTransactionRepository(db), q, 2, true)

	seen := make([]string, 0)
	for sweep := 0; sweep < 3; sweep++ {
		_, err := svc.RequeuePending(ctx)
		require.NoError(t, err)
		seen = append(seen, drainHashes(t, q)...)
	}
	assert.Equal(t, hashes, seen)

	// 扫到末尾后游标回到起点
	_, err := svc.RequeuePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"0x01", "0x02"}, drainHashes(t, q))
}
