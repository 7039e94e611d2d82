package respond

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/postfiat/memopipe/internal/codec"
	"github.com/postfiat/memopipe/internal/keystore"
	"github.com/postfiat/memopipe/internal/ledger"
	"github.com/postfiat/memopipe/internal/model"
)

// LedgerSubmitter adapts an internal/ledger.Client into the Submitter a
// Processor needs: it runs a response through the same codec.Encode path
// outbound messages always go through, then submits each resulting
// fragment as its own ledger transaction in order.
type LedgerSubmitter struct {
	Client         ledger.Client
	Wallet         ledger.Wallet
	Store          keystore.Store
	IsLocalChannel func(address string) bool
	Now            func() time.Time
}

// Submit encodes params and submits every resulting fragment in
// sequence, returning a MemoTx describing the last fragment submitted.
func (s *LedgerSubmitter) Submit(ctx context.Context, params model.ConstructionParameters) (model.MemoTx, error) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}

	fragments, err := codec.Encode(ctx, params, s.Store, s.IsLocalChannel, now())
	if err != nil {
		return model.MemoTx{}, fmt.Errorf("respond: encode response: %w", err)
	}
	if len(fragments) == 0 {
		return model.MemoTx{}, fmt.Errorf("respond: encode response: produced no fragments")
	}

	var last ledger.SubmitResult
	var lastFragment codec.EncodedMemo
	for _, f := range fragments {
		result, err := s.Client.Submit(ctx, s.Wallet, []ledger.MemoTriple{{
			MemoType:   f.MemoType,
			MemoFormat: f.MemoFormat,
			MemoData:   f.MemoData,
		}}, params.Destination, params.Amount)
		if err != nil {
			return model.MemoTx{}, fmt.Errorf("respond: submit fragment %s: %w", f.MemoFormat, err)
		}
		last = result
		lastFragment = f
	}

	decoded, err := codec.HexDecode(lastFragment.MemoData)
	if err != nil {
		return model.MemoTx{}, fmt.Errorf("respond: decode submitted fragment: %w", err)
	}

	return model.NewMemoTx(last.Hash, params.Source, params.Destination, params.Amount, decimal.Zero, lastFragment.MemoType, lastFragment.MemoFormat, string(decoded), now(), last.EngineResult)
}
