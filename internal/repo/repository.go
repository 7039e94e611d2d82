// Package repo declares the persistence contract this pipeline depends
// on: storing every ingested transaction, recording each one's reviewing
// verdict, and answering the lookups the reviewer and router need. The
// repository itself is an out-of-scope collaborator (spec.md
// Non-goals); this package is the seam, an in-memory fake for tests,
// and a bbolt-backed implementation for standalone/daemon use.
package repo

import (
	"context"

	"github.com/postfiat/memopipe/internal/model"
)

// Repository is the persistence contract the orchestrator, reviewer,
// and router depend on.
type Repository interface {
	// InsertTransaction records a newly ingested ledger transaction.
	InsertTransaction(ctx context.Context, tx model.MemoTx) error

	// GetDecodedTransaction returns the stored transaction for hash, with
	// MemoData already decoded if it was ever reviewed as part of a
	// group (see StoreReviewingResult).
	GetDecodedTransaction(ctx context.Context, hash string) (model.MemoTx, bool, error)

	// GetDecodedMemoWithProcessing returns the stored reviewing result
	// for hash, if the transaction has been reviewed.
	GetDecodedMemoWithProcessing(ctx context.Context, hash string) (model.ReviewingResult, bool, error)

	// GetUnprocessedTransactions returns up to limit transactions that
	// have not yet been reviewed (or, if includeProcessed, every
	// transaction), ordered by order ("asc" or "desc" on ledger close
	// time).
	GetUnprocessedTransactions(ctx context.Context, order string, limit int, includeProcessed bool) ([]model.MemoTx, error)

	// StoreReviewingResult persists result, superseding any earlier
	// result for the same transaction hash. When result.Tx.MemoData was
	// replaced by a decoded group payload, the decoded form is what
	// GetDecodedTransaction subsequently returns.
	StoreReviewingResult(ctx context.Context, result model.ReviewingResult) error

	// ExecuteQuery runs a RequestRule's response lookup, returning every
	// matching transaction.
	ExecuteQuery(ctx context.Context, sql string, params []any) ([]model.MemoTx, error)
}
