package model

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// MemoGroup is a collection of fragments sharing one group id (memo_type).
// It is not safe for concurrent use; callers (the group assembler) own
// the necessary synchronization.
type MemoGroup struct {
	GroupID   string
	Structure MemoStructure
	members   map[int]MemoTx // chunk index -> current fragment for that index
}

// NewMemoGroup seeds a group from its first fragment.
func NewMemoGroup(groupID string, structure MemoStructure) *MemoGroup {
	return &MemoGroup{
		GroupID:   groupID,
		Structure: structure,
		members:   make(map[int]MemoTx),
	}
}

// AddFragment inserts tx at the given chunk index. On a duplicate index,
// the earlier-timestamped fragment wins; the later one is discarded.
// Returns true if tx became the index's current fragment, false if it
// was discarded.
func (g *MemoGroup) AddFragment(index int, tx MemoTx) bool {
	existing, ok := g.members[index]
	if !ok {
		g.members[index] = tx
		return true
	}
	if tx.Timestamp.Before(existing.Timestamp) {
		g.members[index] = tx
		return true
	}
	return false
}

// ChunkIndices returns the sorted set of chunk indices currently observed.
func (g *MemoGroup) ChunkIndices() []int {
	out := make([]int, 0, len(g.members))
	for idx := range g.members {
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}

// Ready reports whether every index in 1..ChunkTotal has been observed.
// A group with no chunk total (single fragment) is ready as soon as it
// has one member.
func (g *MemoGroup) Ready() bool {
	total := g.Structure.ChunkTotal
	if total <= 1 {
		return len(g.members) >= 1
	}
	for i := 1; i <= total; i++ {
		if _, ok := g.members[i]; !ok {
			return false
		}
	}
	return true
}

// OrderedMembers returns the group's current fragments sorted by chunk
// index, regardless of arrival order.
func (g *MemoGroup) OrderedMembers() []MemoTx {
	indices := g.ChunkIndices()
	out := make([]MemoTx, 0, len(indices))
	for _, idx := range indices {
		out = append(out, g.members[idx])
	}
	return out
}

// LatestTimestamp returns the newest fragment timestamp observed, used to
// evaluate staleness against the clock.
func (g *MemoGroup) LatestTimestamp() time.Time {
	var latest time.Time
	for _, tx := range g.members {
		if tx.Timestamp.After(latest) {
			latest = tx.Timestamp
		}
	}
	return latest
}

// Stale reports whether this group's newest fragment is older than
// timeout relative to now.
func (g *MemoGroup) Stale(now time.Time, timeout time.Duration) bool {
	return now.Sub(g.LatestTimestamp()) > timeout
}

// Amount sums the token amount carried by the group's fragments (only the
// first fragment of a chunked message normally carries a non-zero value,
// but summing is harmless and matches the original's behavior of reading
// the group's aggregate transferred amount).
func (g *MemoGroup) Amount() decimal.Decimal {
	total := decimal.Zero
	for _, tx := range g.members {
		total = total.Add(tx.Amount)
	}
	return total
}

// Len reports the number of fragments currently held.
func (g *MemoGroup) Len() int {
	return len(g.members)
}
