// Package respond implements the response processor: one consumer per
// response-pattern queue that evaluates a matched request, constructs and
// submits its response, and confirms delivery back to the router so the
// request can be re-reviewed once its response is persisted, per spec
// section 4.H.
package respond

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/postfiat/memopipe/internal/audit"
	"github.com/postfiat/memopipe/internal/metrics"
	"github.com/postfiat/memopipe/internal/model"
)

// Submitter submits a constructed response onto the ledger and returns
// the resulting transaction. Concrete implementations wrap an
// internal/ledger.Client.
type Submitter interface {
	Submit(ctx context.Context, params model.ConstructionParameters) (model.MemoTx, error)
}

// Confirmer is notified once a response has been submitted, so the
// router can schedule a re-review of the original request. A
// route.Router satisfies this structurally.
type Confirmer interface {
	ConfirmResponseSent(hash string, now time.Time)
}

// Processor drains one response pattern's queue, turning each queued
// request into a submitted response.
type Processor struct {
	PatternName string
	Generator   model.RequestRule
	Queue       <-chan model.MemoTx
	Submitter   Submitter
	Confirmer   Confirmer
	Logger      *logrus.Entry

	// Audit, if set, records every submission and confirmation to the
	// durable audit trail. Nil disables audit recording.
	Audit audit.Logger

	// Metrics, if set, records every submission outcome. Nil disables
	// metrics recording.
	Metrics *metrics.Metrics

	processed    int
	lastIdleLog  time.Time
}

// New builds a Processor for one response pattern's queue. logger may be
// nil, in which case logrus.StandardLogger() is used.
func New(patternName string, generator model.RequestRule, queue <-chan model.MemoTx, submitter Submitter, confirmer Confirmer, logger *logrus.Entry) *Processor {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Processor{
		PatternName: patternName,
		Generator:   generator,
		Queue:       queue,
		Submitter:   submitter,
		Confirmer:   confirmer,
		Logger:      logger.WithField("response_pattern", patternName),
	}
}

// Run drains the queue until ctx is cancelled. It blocks for at most
// DequeueTimeout between checks, mirroring the source's
// asyncio.wait_for(queue.get(), timeout=1.0) dequeue loop, and logs at
// most once per IdleLogInterval while the queue sits empty.
func (p *Processor) Run(ctx context.Context) {
	idleSince := time.Now()

	for {
		select {
		case <-ctx.Done():
			return

		case tx, ok := <-p.Queue:
			if !ok {
				return
			}
			idleSince = time.Now()
			p.process(ctx, tx)

		case <-time.After(model.DequeueTimeout):
			if time.Since(idleSince) >= model.IdleLogInterval && time.Since(p.lastIdleLog) >= model.IdleLogInterval {
				p.Logger.WithField("processed", p.processed).Info("response queue idle")
				p.lastIdleLog = time.Now()
			}
		}
	}
}

func (p *Processor) process(ctx context.Context, tx model.MemoTx) {
	start := time.Now()

	evaluation, err := p.Generator.EvaluateRequest(tx)
	if err != nil {
		p.Logger.WithError(err).WithField("hash", tx.Hash).Warn("request evaluation failed")
		p.logSubmission(tx, err, start)
		return
	}

	params, err := p.Generator.ConstructResponse(tx, evaluation)
	if err != nil {
		p.Logger.WithError(err).WithField("hash", tx.Hash).Warn("response construction failed")
		p.logSubmission(tx, err, start)
		return
	}

	responseTx, err := p.Submitter.Submit(ctx, params)
	if err != nil {
		p.Logger.WithError(err).WithField("hash", tx.Hash).Warn("response submission failed")
		p.logSubmission(tx, err, start)
		return
	}
	p.logSubmission(tx, nil, start)

	p.Confirmer.ConfirmResponseSent(tx.Hash, time.Now())
	if p.Audit != nil {
		p.Audit.LogResponseConfirmed(tx.Hash)
	}

	p.processed++
	if p.processed%model.CountLogInterval == 0 {
		p.Logger.WithFields(logrus.Fields{
			"processed":    p.processed,
			"response_tx":  responseTx.Hash,
		}).Info("response processor progress")
	}
}

func (p *Processor) logSubmission(tx model.MemoTx, err error, start time.Time) {
	if p.Metrics != nil {
		p.Metrics.RecordResponseSubmission(p.PatternName, err == nil)
	}
	if p.Audit == nil {
		return
	}
	p.Audit.LogResponseSubmitted(tx.Hash, p.Generator.Name(), err == nil, err, time.Since(start))
}
