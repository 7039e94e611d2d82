package repo

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/postfiat/memopipe/internal/model"
)

func tx(t *testing.T, hash string, ts time.Time) model.MemoTx {
	t.Helper()
	m, err := model.NewMemoTx(hash, "rAlice", "rBob", decimal.Zero, decimal.Zero, "PING", "v1.-.-.-", "hi", ts, "tesSUCCESS")
	require.NoError(t, err)
	return m
}

func TestInMemoryRepositoryInsertAndGet(t *testing.T) {
	r := NewInMemoryRepository()
	ctx := context.Background()
	base := time.Now()

	require.NoError(t, r.InsertTransaction(ctx, tx(t, "h1", base)))

	got, found, err := r.GetDecodedTransaction(ctx, "h1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "h1", got.Hash)

	_, found, err = r.GetDecodedTransaction(ctx, "missing")
	require.NoError(t, err)
	require.False(t, found)
}

func TestInMemoryRepositoryStoreReviewingResultSupersedesData(t *testing.T) {
	r := NewInMemoryRepository()
	ctx := context.Background()
	base := time.Now()
	require.NoError(t, r.InsertTransaction(ctx, tx(t, "h1", base)))

	decoded := tx(t, "h1", base)
	decoded.MemoData = "decoded payload"
	require.NoError(t, r.StoreReviewingResult(ctx, model.ReviewingResult{Tx: decoded, Processed: true, RuleName: "PingRule"}))

	got, found, err := r.GetDecodedTransaction(ctx, "h1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "decoded payload", got.MemoData)

	result, found, err := r.GetDecodedMemoWithProcessing(ctx, "h1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "PingRule", result.RuleName)
}

func TestInMemoryRepositoryGetUnprocessedTransactionsOrdering(t *testing.T) {
	r := NewInMemoryRepository()
	ctx := context.Background()
	base := time.Now()

	require.NoError(t, r.InsertTransaction(ctx, tx(t, "h1", base)))
	require.NoError(t, r.InsertTransaction(ctx, tx(t, "h2", base.Add(time.Second))))
	require.NoError(t, r.StoreReviewingResult(ctx, model.ReviewingResult{Tx: tx(t, "h1", base), Processed: true}))

	unprocessed, err := r.GetUnprocessedTransactions(ctx, "asc", 0, false)
	require.NoError(t, err)
	require.Len(t, unprocessed, 1)
	require.Equal(t, "h2", unprocessed[0].Hash)

	all, err := r.GetUnprocessedTransactions(ctx, "desc", 0, true)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "h2", all[0].Hash)
}

func TestInMemoryRepositoryExecuteQuery(t *testing.T) {
	r := NewInMemoryRepository()
	ctx := context.Background()
	require.NoError(t, r.InsertTransaction(ctx, tx(t, "h1", time.Now())))

	matches, err := r.ExecuteQuery(ctx, "memo_type = ?", []any{"PING"})
	require.NoError(t, err)
	require.Len(t, matches, 1)

	none, err := r.ExecuteQuery(ctx, "memo_type = ?", []any{"PONG"})
	require.NoError(t, err)
	require.Empty(t, none)
}
