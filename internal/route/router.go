// Package route implements the response queue router: it maps reviewed
// requests needing a response onto per-response-pattern queues, and
// retries confirmation of persisted responses with exponential backoff
// before re-queuing the original transaction for review, per spec
// section 4.G.
package route

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/postfiat/memopipe/internal/audit"
	"github.com/postfiat/memopipe/internal/metrics"
	"github.com/postfiat/memopipe/internal/model"
	"github.com/postfiat/memopipe/internal/review"
)

// Rereviewer looks up whether a request's response has since been
// persisted and reviewed, queried by the original request's transaction
// hash. A repo.Repository satisfies this structurally.
type Rereviewer interface {
	GetDecodedMemoWithProcessing(ctx context.Context, hash string) (model.ReviewingResult, bool, error)
}

type pendingRereview struct {
	tx        model.MemoTx
	retries   int
	nextRetry time.Time
}

// Router owns one queue per response pattern, plus the bookkeeping that
// lets a response processor's confirmation trigger a delayed re-review.
type Router struct {
	mu sync.Mutex

	bindings         []review.Binding
	queues           map[string]chan model.MemoTx // response pattern name -> queue
	pendingResponses map[string]model.MemoTx       // request tx hash -> request tx
	pendingRereviews map[string]*pendingRereview   // request tx hash -> retry state

	finder      Rereviewer
	reviewQueue chan<- model.MemoTx

	// Audit, if set, records each re-review poll's outcome. Nil disables
	// audit recording.
	Audit audit.Logger

	// Metrics, if set, records each re-review poll's outcome. Nil
	// disables metrics recording.
	Metrics *metrics.Metrics
}

// New builds a Router with one buffered queue per response pattern named
// by a Request-type binding's ResponsePatternName.
func New(bindings []review.Binding, finder Rereviewer, reviewQueue chan<- model.MemoTx) *Router {
	queues := make(map[string]chan model.MemoTx)
	for _, b := range bindings {
		reqRule, ok := b.Rule.(model.RequestRule)
		if !ok {
			continue
		}
		name := reqRule.ResponsePatternName()
		if _, exists := queues[name]; !exists {
			queues[name] = make(chan model.MemoTx, 256)
		}
	}
	return &Router{
		bindings:         bindings,
		queues:           queues,
		pendingResponses: make(map[string]model.MemoTx),
		pendingRereviews: make(map[string]*pendingRereview),
		finder:           finder,
		reviewQueue:      reviewQueue,
	}
}

// Queue returns the response queue registered under name, if any.
func (r *Router) Queue(name string) (<-chan model.MemoTx, bool) {
	q, ok := r.queues[name]
	return q, ok
}

// QueueNames returns every registered response pattern name, used by
// cmd/memopiped to build one response processor per queue.
func (r *Router) QueueNames() []string {
	names := make([]string, 0, len(r.queues))
	for name := range r.queues {
		names = append(names, name)
	}
	return names
}

// Route finds the Request-type binding matching tx and enqueues it onto
// that binding's response queue. Returns false if no Request binding
// matches (the caller should treat this as "nothing to route").
func (r *Router) Route(ctx context.Context, tx model.MemoTx) (bool, error) {
	reqRule, ok := r.findRequestRule(tx)
	if !ok {
		return false, nil
	}
	name := reqRule.ResponsePatternName()
	queue, ok := r.queues[name]
	if !ok {
		return false, fmt.Errorf("route: no queue configured for response pattern %q", name)
	}

	r.mu.Lock()
	r.pendingResponses[tx.Hash] = tx
	r.mu.Unlock()

	select {
	case queue <- tx:
		return true, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (r *Router) findRequestRule(tx model.MemoTx) (model.RequestRule, bool) {
	for _, b := range r.bindings {
		if !b.Pattern.Matches(tx) {
			continue
		}
		reqRule, ok := b.Rule.(model.RequestRule)
		if !ok || b.Rule.Type() != model.Request {
			return nil, false
		}
		return reqRule, true
	}
	return nil, false
}

// ConfirmResponseSent moves a request from pending-response to
// pending-rereview state, scheduled after RetryDelay.
func (r *Router) ConfirmResponseSent(hash string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.pendingResponses[hash]
	if !ok {
		return
	}
	delete(r.pendingResponses, hash)
	r.pendingRereviews[hash] = &pendingRereview{tx: tx, nextRetry: now.Add(model.RetryDelay)}
}

// RetryPendingReviews checks every due pending-rereview entry: if the
// response has since been persisted, the original transaction is
// re-queued for review; otherwise the retry is rescheduled with
// exponential backoff, up to MaxRetryCount.
func (r *Router) RetryPendingReviews(ctx context.Context, now time.Time) {
	var toRequeue []model.MemoTx

	r.mu.Lock()
	for hash, info := range r.pendingRereviews {
		if now.Before(info.nextRetry) {
			continue
		}
		result, found, err := r.finder.GetDecodedMemoWithProcessing(ctx, hash)
		if err != nil {
			continue
		}
		if found {
			toRequeue = append(toRequeue, result.Tx)
			delete(r.pendingRereviews, hash)
			if r.Audit != nil {
				r.Audit.LogRereview(hash, info.retries, true)
			}
			if r.Metrics != nil {
				r.Metrics.RecordRereviewOutcome("found")
			}
			continue
		}
		info.retries++
		if info.retries >= model.MaxRetryCount {
			delete(r.pendingRereviews, hash)
			if r.Audit != nil {
				r.Audit.LogRereview(hash, info.retries, false)
			}
			if r.Metrics != nil {
				r.Metrics.RecordRereviewOutcome("abandoned")
			}
			continue
		}
		if r.Metrics != nil {
			r.Metrics.RecordRereviewOutcome("retried")
		}
		backoff := model.RetryDelay * time.Duration(1<<uint(info.retries))
		info.nextRetry = now.Add(backoff)
	}
	r.mu.Unlock()

	for _, tx := range toRequeue {
		select {
		case r.reviewQueue <- tx:
		case <-ctx.Done():
			return
		}
	}
}

// PendingResponseCount reports how many requests are awaiting a
// response, used by the orchestrator's retry loop to set the router's
// pending-responses gauge.
func (r *Router) PendingResponseCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pendingResponses)
}

// PendingRereviewCount reports how many confirmed responses are awaiting
// persistence confirmation.
func (r *Router) PendingRereviewCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pendingRereviews)
}
