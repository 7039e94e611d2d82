// Package review implements the transaction reviewer: structural
// dispatch, group assembly hand-off, pattern matching, and rule dispatch
// by interaction type, per spec section 4.F.
package review

import (
	"context"
	"fmt"

	"github.com/postfiat/memopipe/internal/codec"
	"github.com/postfiat/memopipe/internal/group"
	"github.com/postfiat/memopipe/internal/keystore"
	"github.com/postfiat/memopipe/internal/metrics"
	"github.com/postfiat/memopipe/internal/model"
)

// ResponseFinder looks up a previously-submitted response transaction
// for a request, per a RequestRule's BuildResponseQuery. Repositories
// satisfy this interface structurally; the reviewer needs nothing else
// from them.
type ResponseFinder interface {
	ExecuteQuery(ctx context.Context, query model.ResponseQuery) (model.MemoTx, bool, error)
}

// Binding pairs a pattern with the rule that governs transactions
// matching it.
type Binding struct {
	Pattern model.MemoPattern
	Rule    model.InteractionRule
}

// Reviewer reviews one transaction at a time against a fixed set of
// pattern/rule bindings, using an Assembler to reassemble chunked and
// legacy-framed groups before re-entering the direct-match path.
type Reviewer struct {
	bindings       []Binding
	assembler      *group.Assembler
	store          keystore.Store
	isLocalChannel func(string) bool
	finder         ResponseFinder

	// Metrics, if set, records group decode failures and the assembler's
	// pending-group count. Nil disables metrics recording.
	Metrics *metrics.Metrics
}

// New builds a Reviewer. bindings are tried in order; the first whose
// pattern matches a transaction governs it.
func New(bindings []Binding, assembler *group.Assembler, store keystore.Store, isLocalChannel func(string) bool, finder ResponseFinder) *Reviewer {
	return &Reviewer{
		bindings:       bindings,
		assembler:      assembler,
		store:          store,
		isLocalChannel: isLocalChannel,
		finder:         finder,
	}
}

// EndSyncMode turns off the assembler's sync mode, after which
// Assembler.Stale reports groups older than the timeout it is given. The
// reviewer never calls Stale, so pending groups are not evicted for age.
func (r *Reviewer) EndSyncMode() {
	r.assembler.SetSyncMode(false)
}

// Review classifies tx's structural disposition and dispatches it.
func (r *Reviewer) Review(ctx context.Context, tx model.MemoTx) model.ReviewingResult {
	structure := codec.ParseFormat(tx.MemoFormat, tx.MemoType)

	switch {
	case structure.IsValidFormat && !structure.IsChunked():
		return r.reviewDirectMatch(ctx, tx)
	case structure.IsValidFormat && structure.IsChunked():
		return r.reviewGroup(ctx, tx, structure, true)
	default:
		if idx, ok := codec.LegacyChunkIndex(tx.MemoData); ok {
			legacy := model.MemoStructure{GroupID: tx.MemoType, ChunkIndex: idx}
			return r.reviewGroup(ctx, tx, legacy, false)
		}
		return model.ReviewingResult{Tx: tx, Processed: true, RuleName: "NoRule", Notes: "invalid memo structure"}
	}
}

func (r *Reviewer) reviewGroup(ctx context.Context, tx model.MemoTx, structure model.MemoStructure, standardized bool) model.ReviewingResult {
	g, ready, err := r.assembler.Add(tx, structure)
	if r.Metrics != nil {
		r.Metrics.SetGroupTableSize(r.assembler.Len())
	}
	if err != nil {
		r.assembler.Drop(structure.GroupID)
		if r.Metrics != nil {
			r.Metrics.RecordDecodeError("group_assembly")
		}
		return model.ReviewingResult{Tx: tx, Processed: true, RuleName: "ProcessingError", Notes: err.Error()}
	}
	if g == nil {
		return model.ReviewingResult{Tx: tx, Processed: true, RuleName: "NoRule", Notes: "transaction did not succeed"}
	}
	if standardized && !ready {
		return model.ReviewingResult{
			Tx: tx, Processed: false, RuleName: "NoRule",
			Notes: fmt.Sprintf("waiting for more chunks (%d/%d)", len(g.ChunkIndices()), g.Structure.ChunkTotal),
		}
	}

	var result codec.DecodeResult
	if standardized {
		result = codec.Decode(ctx, g, r.store, r.isLocalChannel)
	} else {
		result = codec.DecodeLegacy(ctx, g, r.store, r.isLocalChannel)
	}

	switch result.Outcome {
	case codec.CompressionIncomplete:
		if !standardized {
			// Legacy groups carry no declared chunk total; an incomplete
			// decompress may simply mean more fragments are still arriving.
			return model.ReviewingResult{Tx: tx, Processed: true, RuleName: "NoRule", Notes: "legacy group possibly incomplete"}
		}
		r.assembler.Drop(structure.GroupID)
		if r.Metrics != nil {
			r.Metrics.RecordDecodeError("compression")
		}
		return model.ReviewingResult{Tx: tx, Processed: true, RuleName: "ProcessingError", Notes: fmt.Sprintf("failed to process group: %v", result.Err)}
	case codec.FatalDecodeError:
		r.assembler.Drop(structure.GroupID)
		if r.Metrics != nil {
			r.Metrics.RecordDecodeError("fatal")
		}
		return model.ReviewingResult{Tx: tx, Processed: true, RuleName: "ProcessingError", Notes: fmt.Sprintf("failed to process group: %v", result.Err)}
	}

	r.assembler.Drop(structure.GroupID)
	synthetic := tx
	synthetic.MemoData = result.Payload
	return r.reviewDirectMatch(ctx, synthetic)
}

func (r *Reviewer) reviewDirectMatch(ctx context.Context, tx model.MemoTx) model.ReviewingResult {
	binding, ok := r.findPattern(tx)
	if !ok {
		return model.ReviewingResult{Tx: tx, Processed: true, RuleName: "NoRule", Notes: "no matching pattern found"}
	}

	validation := binding.Rule.Validate(tx)
	if !validation.Valid {
		return model.ReviewingResult{Tx: tx, Processed: true, RuleName: binding.Rule.Name(), Notes: validation.Note}
	}

	switch binding.Rule.Type() {
	case model.Standalone, model.Response:
		return model.ReviewingResult{Tx: tx, Processed: true, RuleName: binding.Rule.Name(), Notes: "processed"}

	case model.Request:
		reqRule, ok := binding.Rule.(model.RequestRule)
		if !ok {
			return model.ReviewingResult{Tx: tx, Processed: true, RuleName: binding.Rule.Name(), Notes: "request pattern bound to a rule missing RequestRule capability"}
		}
		query := reqRule.BuildResponseQuery(tx)
		responseTx, found, err := r.finder.ExecuteQuery(ctx, query)
		if err != nil {
			return model.ReviewingResult{Tx: tx, Processed: true, RuleName: binding.Rule.Name(), Notes: fmt.Sprintf("query error: %v", err)}
		}
		if !found {
			return model.ReviewingResult{Tx: tx, Processed: false, RuleName: binding.Rule.Name(), Notes: "required response not found", NeedsRereview: true}
		}
		return model.ReviewingResult{Tx: tx, Processed: true, RuleName: binding.Rule.Name(), ResponseTxHash: responseTx.Hash, Notes: "response found"}

	default:
		return model.ReviewingResult{Tx: tx, Processed: true, RuleName: binding.Rule.Name(), Notes: "unknown interaction type"}
	}
}

func (r *Reviewer) findPattern(tx model.MemoTx) (Binding, bool) {
	for _, b := range r.bindings {
		if b.Pattern.Matches(tx) {
			return b, true
		}
	}
	return Binding{}, false
}
