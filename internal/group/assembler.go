// Package group implements the group assembler: the mutex-guarded
// group_id -> MemoGroup registry that accumulates memo fragments,
// enforces structural consistency, resolves duplicate chunk indices,
// and evaluates readiness and staleness, per spec section 4.E.
package group

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/postfiat/memopipe/internal/model"
)

// ErrInconsistentFragment is returned when a fragment's structure does
// not match the group it would join (differing encryption, compression,
// or chunk total).
var ErrInconsistentFragment = errors.New("group: inconsistent fragment")

// Assembler owns every in-flight MemoGroup. It is safe for concurrent
// use by multiple reviewer goroutines, mirroring the single
// mutex-guarded owner shape the teacher uses for its in-memory audit
// buffer.
type Assembler struct {
	mu       sync.Mutex
	groups   map[string]*model.MemoGroup
	syncMode bool
}

// New builds an empty Assembler.
func New() *Assembler {
	return &Assembler{groups: make(map[string]*model.MemoGroup)}
}

// SetSyncMode toggles historical-backfill mode. While true, Stale never
// reports any group as expired: out-of-temporal-order delivery during
// backfill must not be mistaken for abandonment.
func (a *Assembler) SetSyncMode(on bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.syncMode = on
}

// Add admits tx into its group, creating the group on first sight.
// Non-success transactions are dropped silently (nil, false, nil), per
// spec. An inconsistent fragment is rejected with ErrInconsistentFragment
// and the existing group is left untouched. The returned bool reports
// whether the group is now ready for processing.
func (a *Assembler) Add(tx model.MemoTx, structure model.MemoStructure) (*model.MemoGroup, bool, error) {
	if !tx.Succeeded() {
		return nil, false, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	g, ok := a.groups[structure.GroupID]
	if !ok {
		g = model.NewMemoGroup(structure.GroupID, structure)
		a.groups[structure.GroupID] = g
	} else if !g.Structure.ConsistentWith(structure) {
		return nil, false, fmt.Errorf("%w: group %s", ErrInconsistentFragment, structure.GroupID)
	}

	index := structure.ChunkIndex
	if index == 0 {
		index = 1
	}
	g.AddFragment(index, tx)
	return g, g.Ready(), nil
}

// Get returns the current group for id, if any.
func (a *Assembler) Get(groupID string) (*model.MemoGroup, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	g, ok := a.groups[groupID]
	return g, ok
}

// Drop removes a group, called once it has been processed or abandoned.
func (a *Assembler) Drop(groupID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.groups, groupID)
}

// Stale returns the group ids whose newest fragment is older than
// timeout relative to now. It always returns nil while in sync mode.
func (a *Assembler) Stale(now time.Time, timeout time.Duration) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.syncMode {
		return nil
	}
	var ids []string
	for id, g := range a.groups {
		if g.Stale(now, timeout) {
			ids = append(ids, id)
		}
	}
	return ids
}

// Len reports the number of groups currently tracked.
func (a *Assembler) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.groups)
}
