package orchestrator

import (
	"context"

	"github.com/postfiat/memopipe/internal/model"
	"github.com/postfiat/memopipe/internal/repo"
)

// RepositoryResponseFinder adapts a repo.Repository's generic ExecuteQuery into
// the single-result lookup review.Reviewer needs from a
// RequestRule.BuildResponseQuery call. A repo.Repository satisfies
// route.Rereviewer directly (identical method signature); ResponseQuery
// unpacking into (sql, params) is the only shape mismatch in the
// External Interfaces, so it gets this one small adapter rather than
// reshaping either contract to match the other.
type RepositoryResponseFinder struct {
	repository repo.Repository
}

// NewResponseFinder wraps repository so it satisfies review.ResponseFinder.
func NewResponseFinder(repository repo.Repository) *RepositoryResponseFinder {
	return &RepositoryResponseFinder{repository: repository}
}

func (f *RepositoryResponseFinder) ExecuteQuery(ctx context.Context, query model.ResponseQuery) (model.MemoTx, bool, error) {
	matches, err := f.repository.ExecuteQuery(ctx, query.SQL, query.Params)
	if err != nil {
		return model.MemoTx{}, false, err
	}
	if len(matches) == 0 {
		return model.MemoTx{}, false, nil
	}
	return matches[0], true, nil
}
