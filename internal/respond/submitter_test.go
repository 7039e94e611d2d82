package respond

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/postfiat/memopipe/internal/keystore"
	"github.com/postfiat/memopipe/internal/ledger"
	"github.com/postfiat/memopipe/internal/model"
)

func TestLedgerSubmitterSubmitsPlaintextResponse(t *testing.T) {
	client := ledger.NewInMemoryClient()
	store := keystore.NewInMemoryStore([32]byte{})
	submitter := &LedgerSubmitter{
		Client:         client,
		Wallet:         ledger.Wallet{Address: "rBob"},
		Store:          store,
		IsLocalChannel: func(string) bool { return false },
		Now:            func() time.Time { return time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC) },
	}

	params := model.ConstructionParameters{Source: "rBob", Destination: "rAlice", Payload: "pong"}
	tx, err := submitter.Submit(context.Background(), params)
	require.NoError(t, err)
	require.Equal(t, "pong", tx.MemoData)
	require.Equal(t, "rAlice", tx.Destination)

	submitted := client.Submitted()
	require.Len(t, submitted, 1)
	require.Equal(t, "rAlice", submitted[0].Destination)
}

func TestLedgerSubmitterPropagatesSubmitFailure(t *testing.T) {
	client := ledger.NewInMemoryClient()
	client.FailSubmitsWith(errTest("ledger down"))
	store := keystore.NewInMemoryStore([32]byte{})
	submitter := &LedgerSubmitter{
		Client:         client,
		Wallet:         ledger.Wallet{Address: "rBob"},
		Store:          store,
		IsLocalChannel: func(string) bool { return false },
	}

	_, err := submitter.Submit(context.Background(), model.ConstructionParameters{Source: "rBob", Destination: "rAlice", Payload: "pong", Amount: decimal.Zero})
	require.Error(t, err)
}
