package repo

import (
	"context"
	"sort"
	"sync"

	"github.com/postfiat/memopipe/internal/model"
)

// InMemoryRepository is a Repository backed by plain maps under a mutex,
// the same "real interface, lightweight in-process fake" shape the
// teacher reaches for with external backends in tests.
type InMemoryRepository struct {
	mu        sync.RWMutex
	byHash    map[string]model.MemoTx
	results   map[string]model.ReviewingResult
	order     []string // hashes in insertion order
}

// NewInMemoryRepository builds an empty in-memory repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		byHash:  make(map[string]model.MemoTx),
		results: make(map[string]model.ReviewingResult),
	}
}

func (r *InMemoryRepository) InsertTransaction(_ context.Context, tx model.MemoTx) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byHash[tx.Hash]; !exists {
		r.order = append(r.order, tx.Hash)
	}
	r.byHash[tx.Hash] = tx
	return nil
}

func (r *InMemoryRepository) GetDecodedTransaction(_ context.Context, hash string) (model.MemoTx, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if result, ok := r.results[hash]; ok {
		return result.Tx, true, nil
	}
	tx, ok := r.byHash[hash]
	return tx, ok, nil
}

func (r *InMemoryRepository) GetDecodedMemoWithProcessing(_ context.Context, hash string) (model.ReviewingResult, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result, ok := r.results[hash]
	return result, ok, nil
}

func (r *InMemoryRepository) GetUnprocessedTransactions(_ context.Context, order string, limit int, includeProcessed bool) ([]model.MemoTx, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	hashes := append([]string(nil), r.order...)
	sort.SliceStable(hashes, func(i, j int) bool {
		ti := r.byHash[hashes[i]].Timestamp
		tj := r.byHash[hashes[j]].Timestamp
		if order == "desc" {
			return ti.After(tj)
		}
		return ti.Before(tj)
	})

	var out []model.MemoTx
	for _, hash := range hashes {
		if !includeProcessed {
			if _, reviewed := r.results[hash]; reviewed {
				continue
			}
		}
		out = append(out, r.byHash[hash])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *InMemoryRepository) StoreReviewingResult(_ context.Context, result model.ReviewingResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[result.Tx.Hash] = result
	r.byHash[result.Tx.Hash] = result.Tx
	return nil
}

func (r *InMemoryRepository) ExecuteQuery(_ context.Context, sql string, params []any) ([]model.MemoTx, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pred, ok := queryPredicates[sql]
	if !ok {
		return nil, nil
	}

	var out []model.MemoTx
	for _, hash := range r.order {
		tx := r.byHash[hash]
		if pred(tx, params) {
			out = append(out, tx)
		}
	}
	return out, nil
}

// queryPredicates maps a ResponseQuery's SQL token to an in-memory
// filter, so RequestRule.BuildResponseQuery's lookups can be exercised
// without a real SQL engine behind the fake. The bbolt-backed
// Repository's ExecuteQuery uses this same table.
var queryPredicates = map[string]func(tx model.MemoTx, params []any) bool{
	"memo_type = ?": func(tx model.MemoTx, params []any) bool {
		return len(params) == 1 && tx.MemoType == params[0]
	},
	"destination = ? AND memo_type = ?": func(tx model.MemoTx, params []any) bool {
		return len(params) == 2 && tx.Destination == params[0] && tx.MemoType == params[1]
	},
}
