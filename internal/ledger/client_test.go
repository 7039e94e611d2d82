package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/postfiat/memopipe/internal/model"
)

func seedTx(t *testing.T, hash string) model.MemoTx {
	t.Helper()
	tx, err := model.NewMemoTx(hash, "rAlice", "rBob", decimal.Zero, decimal.Zero, "PING", "v1.-.-.-", "hi", time.Now(), "tesSUCCESS")
	require.NoError(t, err)
	return tx
}

func TestInMemoryClientSubscribeDeliversPublishedEvents(t *testing.T) {
	c := NewInMemoryClient()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := c.Subscribe(ctx, []string{"rAlice"})
	require.NoError(t, err)

	c.Publish("rAlice", seedTx(t, "h1"))
	c.Publish("rBob", seedTx(t, "h2")) // not subscribed; must not arrive

	select {
	case ev := <-events:
		require.NoError(t, ev.Err)
		require.Equal(t, "h1", ev.Tx.Hash)
	case <-time.After(time.Second):
		t.Fatal("expected a published event")
	}

	select {
	case ev := <-events:
		t.Fatalf("unexpected second event: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestInMemoryClientSubscribeNeverReplaysSeededHistory(t *testing.T) {
	c := NewInMemoryClient()
	c.Seed("rAlice", seedTx(t, "h1"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := c.Subscribe(ctx, []string{"rAlice"})
	require.NoError(t, err)

	select {
	case ev := <-events:
		t.Fatalf("seeded history must not be replayed on Subscribe: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestInMemoryClientSubmitRecordsCall(t *testing.T) {
	c := NewInMemoryClient()
	result, err := c.Submit(context.Background(), Wallet{Address: "rBob"}, []MemoTriple{{MemoType: "t", MemoFormat: "f", MemoData: "d"}}, "rAlice", decimal.NewFromInt(1))
	require.NoError(t, err)
	require.NotEmpty(t, result.Hash)
	require.True(t, result.Validated)

	submitted := c.Submitted()
	require.Len(t, submitted, 1)
	require.Equal(t, "rAlice", submitted[0].Destination)
}

func TestInMemoryClientSubmitFailure(t *testing.T) {
	c := NewInMemoryClient()
	boom := errTest("boom")
	c.FailSubmitsWith(boom)

	_, err := c.Submit(context.Background(), Wallet{}, nil, "rAlice", decimal.Zero)
	require.ErrorIs(t, err, boom)
}

func TestInMemoryClientHistoryIsolatedByAccount(t *testing.T) {
	c := NewInMemoryClient()
	c.Seed("rAlice", seedTx(t, "h1"))

	history, err := c.History(context.Background(), "rAlice")
	require.NoError(t, err)
	require.Len(t, history, 1)

	none, err := c.History(context.Background(), "rBob")
	require.NoError(t, err)
	require.Empty(t, none)
}

type errTest string

func (e errTest) Error() string { return string(e) }
