package route

import (
	"context"
	"testing"
	"time"

	"github.com/postfiat/memopipe/internal/model"
	"github.com/postfiat/memopipe/internal/review"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type testRequestRule struct {
	responsePattern string
}

func (testRequestRule) Name() string                                 { return "TestRequestRule" }
func (testRequestRule) Type() model.InteractionType                  { return model.Request }
func (testRequestRule) Validate(model.MemoTx) model.ValidationResult { return model.ValidationResult{Valid: true} }
func (testRequestRule) BuildResponseQuery(model.MemoTx) model.ResponseQuery {
	return model.ResponseQuery{}
}
func (testRequestRule) EvaluateRequest(model.MemoTx) (any, error) { return nil, nil }
func (testRequestRule) ConstructResponse(model.MemoTx, any) (model.ConstructionParameters, error) {
	return model.ConstructionParameters{}, nil
}
func (r testRequestRule) ResponsePatternName() string { return r.responsePattern }

type fakeRereviewer struct {
	tx    model.MemoTx
	found bool
}

func (f fakeRereviewer) GetDecodedMemoWithProcessing(context.Context, string) (model.ReviewingResult, bool, error) {
	return model.ReviewingResult{Tx: f.tx}, f.found, nil
}

func requestTx(t *testing.T, hash string) model.MemoTx {
	t.Helper()
	tx, err := model.NewMemoTx(hash, "rAlice", "rBob", decimal.Zero, decimal.Zero, "REQ1", "v1.-.-.-", "payload", time.Now(), "tesSUCCESS")
	require.NoError(t, err)
	return tx
}

func TestRouteEnqueuesToResponseQueue(t *testing.T) {
	pattern := model.Literal("REQ1")
	bindings := []review.Binding{
		{Pattern: model.MemoPattern{Name: "req", MemoType: &pattern}, Rule: testRequestRule{responsePattern: "reply-pattern"}},
	}
	reviewQueue := make(chan model.MemoTx, 8)
	r := New(bindings, fakeRereviewer{}, reviewQueue)

	tx := requestTx(t, "h1")
	routed, err := r.Route(context.Background(), tx)
	require.NoError(t, err)
	require.True(t, routed)
	require.Equal(t, 1, r.PendingResponseCount())

	queue, ok := r.Queue("reply-pattern")
	require.True(t, ok)
	select {
	case got := <-queue:
		require.Equal(t, "h1", got.Hash)
	default:
		t.Fatal("expected transaction on response queue")
	}
}

func TestRouteNoMatchReturnsFalse(t *testing.T) {
	r := New(nil, fakeRereviewer{}, make(chan model.MemoTx, 1))
	routed, err := r.Route(context.Background(), requestTx(t, "h1"))
	require.NoError(t, err)
	require.False(t, routed)
}

func TestConfirmResponseSentAndRetrySucceeds(t *testing.T) {
	pattern := model.Literal("REQ1")
	bindings := []review.Binding{
		{Pattern: model.MemoPattern{Name: "req", MemoType: &pattern}, Rule: testRequestRule{responsePattern: "reply-pattern"}},
	}
	reviewQueue := make(chan model.MemoTx, 8)
	finder := fakeRereviewer{tx: requestTx(t, "h1"), found: true}
	r := New(bindings, finder, reviewQueue)

	tx := requestTx(t, "h1")
	_, err := r.Route(context.Background(), tx)
	require.NoError(t, err)

	now := time.Now()
	r.ConfirmResponseSent("h1", now)
	require.Equal(t, 0, r.PendingResponseCount())
	require.Equal(t, 1, r.PendingRereviewCount())

	r.RetryPendingReviews(context.Background(), now.Add(model.RetryDelay+time.Second))
	require.Equal(t, 0, r.PendingRereviewCount())

	select {
	case got := <-reviewQueue:
		require.Equal(t, "h1", got.Hash)
	default:
		t.Fatal("expected transaction re-queued for review")
	}
}

func TestRetryPendingReviewsBacksOffUntilMaxRetries(t *testing.T) {
	reviewQueue := make(chan model.MemoTx, 8)
	finder := fakeRereviewer{found: false}
	r := New(nil, finder, reviewQueue)

	now := time.Now()
	r.pendingRereviews["h1"] = &pendingRereview{tx: requestTx(t, "h1"), nextRetry: now}

	for i := 0; i < model.MaxRetryCount; i++ {
		r.RetryPendingReviews(context.Background(), now.Add(time.Hour*time.Duration(i+1)))
	}
	require.Equal(t, 0, r.PendingRereviewCount())
}
