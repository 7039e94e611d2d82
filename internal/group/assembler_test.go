package group

import (
	"testing"
	"time"

	"github.com/postfiat/memopipe/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func succeededTx(t *testing.T, hash string, ts time.Time) model.MemoTx {
	t.Helper()
	tx, err := model.NewMemoTx(hash, "rA", "rB", decimal.Zero, decimal.Zero, "GROUP1", "v1.-.-.c1/2", "part-one", ts, "tesSUCCESS")
	require.NoError(t, err)
	return tx
}

func structureFor(index, total int) model.MemoStructure {
	return model.MemoStructure{Version: model.MemoVersion, ChunkIndex: index, ChunkTotal: total, IsValidFormat: true, GroupID: "GROUP1"}
}

func TestAssemblerReadyWhenAllIndicesPresent(t *testing.T) {
	a := New()
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)

	tx1 := succeededTx(t, "h1", now)
	g, ready, err := a.Add(tx1, structureFor(1, 2))
	require.NoError(t, err)
	require.False(t, ready)
	require.Equal(t, 1, g.Len())

	tx2 := succeededTx(t, "h2", now.Add(time.Second))
	g, ready, err = a.Add(tx2, structureFor(2, 2))
	require.NoError(t, err)
	require.True(t, ready)
	require.Equal(t, 2, g.Len())
}

func TestAssemblerDropsFailedTransactions(t *testing.T) {
	a := New()
	tx, err := model.NewMemoTx("h1", "rA", "rB", decimal.Zero, decimal.Zero, "GROUP1", "v1.-.-.c1/1", "data", time.Now(), "tecFAILED")
	require.NoError(t, err)

	g, ready, err := a.Add(tx, structureFor(1, 1))
	require.NoError(t, err)
	require.False(t, ready)
	require.Nil(t, g)
	require.Equal(t, 0, a.Len())
}

func TestAssemblerRejectsInconsistentFragment(t *testing.T) {
	a := New()
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)

	_, _, err := a.Add(succeededTx(t, "h1", now), structureFor(1, 2))
	require.NoError(t, err)

	mismatched := structureFor(2, 3) // different chunk total
	_, _, err = a.Add(succeededTx(t, "h2", now.Add(time.Second)), mismatched)
	require.ErrorIs(t, err, ErrInconsistentFragment)
}

func TestAssemblerDuplicateChunkKeepsEarlierTimestamp(t *testing.T) {
	a := New()
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)

	earlier := succeededTx(t, "h-early", now)
	later := succeededTx(t, "h-late", now.Add(time.Minute))

	g, _, err := a.Add(later, structureFor(1, 2))
	require.NoError(t, err)
	g, _, err = a.Add(earlier, structureFor(1, 2))
	require.NoError(t, err)

	members := g.OrderedMembers()
	require.Equal(t, "h-early", members[0].Hash)
}

func TestAssemblerSingleFragmentReadyImmediately(t *testing.T) {
	a := New()
	tx := succeededTx(t, "h1", time.Now())
	_, ready, err := a.Add(tx, structureFor(0, 0))
	require.NoError(t, err)
	require.True(t, ready)
}

func TestAssemblerStaleRespectsSyncMode(t *testing.T) {
	a := New()
	base := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	_, _, err := a.Add(succeededTx(t, "h1", base), structureFor(1, 2))
	require.NoError(t, err)

	later := base.Add(model.StaleGroupTimeout + time.Minute)
	require.ElementsMatch(t, []string{"GROUP1"}, a.Stale(later, model.StaleGroupTimeout))

	a.SetSyncMode(true)
	require.Empty(t, a.Stale(later, model.StaleGroupTimeout))
}

func TestAssemblerDrop(t *testing.T) {
	a := New()
	_, _, err := a.Add(succeededTx(t, "h1", time.Now()), structureFor(1, 2))
	require.NoError(t, err)
	require.Equal(t, 1, a.Len())
	a.Drop("GROUP1")
	require.Equal(t, 0, a.Len())
}
