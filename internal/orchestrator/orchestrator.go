// Package orchestrator wires the pipeline's stages together: it pulls
// transactions off the ledger, stores them, feeds them through the
// reviewer, routes unanswered requests to the router's per-pattern
// queues, drains those queues through response processors, and retries
// re-review of requests whose response has since been persisted. This
// is the Go equivalent of transaction_orchestrator.py's
// TransactionOrchestrator: one goroutine per concern communicating
// over channels instead of one asyncio task per coroutine communicating
// over asyncio.Queue, per spec section 5.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/postfiat/memopipe/internal/audit"
	"github.com/postfiat/memopipe/internal/ledger"
	"github.com/postfiat/memopipe/internal/metrics"
	"github.com/postfiat/memopipe/internal/model"
	"github.com/postfiat/memopipe/internal/repo"
	"github.com/postfiat/memopipe/internal/respond"
	"github.com/postfiat/memopipe/internal/review"
	"github.com/postfiat/memopipe/internal/route"
)

// retryPollInterval is how often the orchestrator checks for due
// re-review retries, distinct from model.RetryDelay (the per-item
// backoff a single retry waits before becoming due). Grounded on the
// source's outer asyncio.sleep(1.0) poll loop around
// _retry_pending_reviews.
const retryPollInterval = time.Second

// Orchestrator owns the long-running goroutines that move a
// transaction from ledger ingestion through to a confirmed response.
type Orchestrator struct {
	reviewer     *review.Reviewer
	router       *route.Router
	processors   []*respond.Processor
	repository   repo.Repository
	ledgerClient ledger.Client
	accounts     []string
	logger       *logrus.Entry

	reviewQueue chan model.MemoTx
	routeQueue  chan model.MemoTx

	// Audit, if set, records every reviewer verdict. Nil disables audit
	// recording.
	Audit audit.Logger

	// Metrics, if set, records reviewer latency/outcome and router queue
	// depth. Nil disables metrics recording.
	Metrics *metrics.Metrics

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds an Orchestrator around an already-wired reviewer, router,
// and set of response processors (one per response-pattern queue the
// router exposes). reviewQueue must be the exact channel router was
// constructed with as its re-review requeue target (route.New's third
// argument) -- the router pushes confirmed-response retries back onto
// it, and this is also where the orchestrator's own review loop reads
// from, so the two must be the same channel or retries would vanish
// into a queue nobody drains.
func New(reviewer *review.Reviewer, router *route.Router, processors []*respond.Processor, repository repo.Repository, ledgerClient ledger.Client, accounts []string, reviewQueue chan model.MemoTx, logger *logrus.Entry) *Orchestrator {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Orchestrator{
		reviewer:     reviewer,
		router:       router,
		processors:   processors,
		repository:   repository,
		ledgerClient: ledgerClient,
		accounts:     accounts,
		logger:       logger,
		reviewQueue:  reviewQueue,
		routeQueue:   make(chan model.MemoTx, 1024),
	}
}

// Start backfills unprocessed history, ends sync mode, then launches
// the ingestion, review, route, retry, and response-consumer loops as
// goroutines. It returns once startup (subscribe + backfill) completes;
// the loops keep running until Stop is called.
func (o *Orchestrator) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	if err := o.backfill(runCtx); err != nil {
		cancel()
		return err
	}
	o.reviewer.EndSyncMode()

	events, err := o.ledgerClient.Subscribe(runCtx, o.accounts)
	if err != nil {
		cancel()
		return err
	}

	o.spawn(runCtx, "ingest", func(ctx context.Context) { o.ingestLoop(ctx, events) })
	o.spawn(runCtx, "review", o.reviewLoop)
	o.spawn(runCtx, "route", o.routeLoop)
	o.spawn(runCtx, "retry", o.retryLoop)
	for _, p := range o.processors {
		proc := p
		o.spawn(runCtx, "respond:"+proc.PatternName, proc.Run)
	}

	return nil
}

// Stop cancels every running loop and waits for them to exit.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
}

// backfill replays unprocessed transaction history into the review
// queue before live ingestion starts, mirroring
// sync_pft_transaction_history/queue_unprocessed_transactions.
func (o *Orchestrator) backfill(ctx context.Context) error {
	for _, account := range o.accounts {
		history, err := o.ledgerClient.History(ctx, account)
		if err != nil {
			return err
		}
		for _, tx := range history {
			if err := o.repository.InsertTransaction(ctx, tx); err != nil {
				return err
			}
		}
	}

	pending, err := o.repository.GetUnprocessedTransactions(ctx, "asc", 0, false)
	if err != nil {
		return err
	}
	for _, tx := range pending {
		select {
		case o.reviewQueue <- tx:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (o *Orchestrator) ingestLoop(ctx context.Context, events <-chan ledger.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Err != nil {
				o.logger.WithError(ev.Err).Warn("ledger stream error")
				continue
			}
			if err := o.repository.InsertTransaction(ctx, ev.Tx); err != nil {
				o.logger.WithError(err).WithField("hash", ev.Tx.Hash).Warn("failed to insert transaction")
				continue
			}
			select {
			case o.reviewQueue <- ev.Tx:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (o *Orchestrator) reviewLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case tx, ok := <-o.reviewQueue:
			if !ok {
				return
			}
			start := time.Now()
			result := o.reviewer.Review(ctx, tx)
			duration := time.Since(start)
			if err := o.repository.StoreReviewingResult(ctx, result); err != nil {
				o.logger.WithError(err).WithField("hash", tx.Hash).Warn("failed to store reviewing result")
			}
			if o.Audit != nil {
				var noteErr error
				if result.Notes != "" {
					noteErr = fmt.Errorf("%s", result.Notes)
				}
				o.Audit.LogReviewed(tx.Hash, result.Tx.MemoType, result.RuleName, result.ResponseTxHash, result.Processed, noteErr, duration, nil)
			}
			if o.Metrics != nil {
				o.Metrics.RecordReview(ctx, result.RuleName, result.Processed, duration)
			}
			if result.Processed {
				continue
			}
			select {
			case o.routeQueue <- result.Tx:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (o *Orchestrator) routeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case tx, ok := <-o.routeQueue:
			if !ok {
				return
			}
			routed, err := o.router.Route(ctx, tx)
			if err != nil {
				o.logger.WithError(err).WithField("hash", tx.Hash).Warn("failed to route transaction")
				continue
			}
			if !routed {
				o.logger.WithField("hash", tx.Hash).Warn("no response queue matched unanswered request")
			}
		}
	}
}

func (o *Orchestrator) retryLoop(ctx context.Context) {
	ticker := time.NewTicker(retryPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.router.RetryPendingReviews(ctx, time.Now())
			if o.Metrics != nil {
				o.Metrics.SetRouterPendingResponses(o.router.PendingResponseCount())
				o.Metrics.SetRouterPendingRereviews(o.router.PendingRereviewCount())
			}
		}
	}
}

// spawn runs fn in its own goroutine, recovering and logging any panic
// so one loop's failure cannot take down the whole process, grounded on
// internal/middleware/recovery.go's defer-recover-log shape.
func (o *Orchestrator) spawn(ctx context.Context, name string, fn func(ctx context.Context)) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				o.logger.WithFields(logrus.Fields{
					"loop":  name,
					"panic": r,
				}).Error("recovered from panic")
			}
		}()
		fn(ctx)
	}()
}
