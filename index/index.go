// Package index implements the commit-graph index (spec.md §4.B): dense
// positions, ordered ancestor/descendant walks, and heads/roots computation
// over a Set<IndexPosition>.
//
// Grounded on modules/zeta/object/commit_walker_topo_order.go's heap-driven
// traversal (here keyed by position instead of commit time) and
// modules/zeta/object/commit_walker.go's iterator/backend split.
package index

import (
	"sort"

	"github.com/emirpasic/gods/trees/binaryheap"

	"github.com/antgroup/mergevcs/vcsid"
)

// Position is a dense, strictly-increasing integer position assigned to a
// commit in topological insertion order, such that pos(parent) < pos(child)
// (spec.md §3, "Commit-graph index entry"). Positions are not stable across
// index rebuilds.
type Position uint32

// Entry is everything the index records about one commit.
type Entry struct {
	CommitID        vcsid.CommitId
	ChangeID        vcsid.ChangeId
	Position        Position
	ParentPositions []Position
	Generation      uint32
}

// Index is an immutable commit-graph index. Multiple concurrent readers are
// allowed (spec.md §5, "the index is immutable after construction").
type Index struct {
	entries  []Entry
	byCommit map[vcsid.CommitId]Position
	children [][]Position // forward edges, derived at construction
}

// Build constructs an Index from commits supplied in a valid topological
// order (every commit after all of its parents). The position assigned to
// the i-th commit in the input is Position(i).
func Build(commits []CommitSeed) *Index {
	idx := &Index{
		entries:  make([]Entry, len(commits)),
		byCommit: make(map[vcsid.CommitId]Position, len(commits)),
		children: make([][]Position, len(commits)),
	}
	for i, c := range commits {
		idx.byCommit[c.CommitID] = Position(i)
	}
	for i, c := range commits {
		parentPositions := make([]Position, 0, len(c.ParentIDs))
		var gen uint32
		for _, p := range c.ParentIDs {
			pp, ok := idx.byCommit[p]
			if !ok {
				continue // parent outside this index (shallow boundary)
			}
			parentPositions = append(parentPositions, pp)
			if g := idx.entries[pp].Generation + 1; g > gen {
				gen = g
			}
			idx.children[pp] = append(idx.children[pp], Position(i))
		}
		idx.entries[i] = Entry{
			CommitID:        c.CommitID,
			ChangeID:        c.ChangeID,
			Position:        Position(i),
			ParentPositions: parentPositions,
			Generation:      gen,
		}
	}
	return idx
}

// CommitSeed is the minimal per-commit information Build needs.
type CommitSeed struct {
	CommitID  vcsid.CommitId
	ChangeID  vcsid.ChangeId
	ParentIDs []vcsid.CommitId
}

// CommitIDToPos translates a commit id to its dense position. Lookup of an
// unknown commit returns (0, false); callers must treat this as "not in
// set" (spec.md §4.B, "Failure semantics").
func (idx *Index) CommitIDToPos(id vcsid.CommitId) (Position, bool) {
	p, ok := idx.byCommit[id]
	return p, ok
}

// EntryByPos returns the full entry at a position. It panics if pos is out
// of range; callers obtain positions only from this index's own methods, so
// an out-of-range position is a caller bug, not a runtime "not found".
func (idx *Index) EntryByPos(pos Position) Entry {
	return idx.entries[pos]
}

// Len returns the number of commits in the index.
func (idx *Index) Len() int { return len(idx.entries) }

// Set is an unordered set of positions.
type Set map[Position]struct{}

// NewSet builds a Set from a slice of positions.
func NewSet(positions ...Position) Set {
	s := make(Set, len(positions))
	for _, p := range positions {
		s[p] = struct{}{}
	}
	return s
}

// Sorted returns the set's elements in ascending order.
func (s Set) Sorted() []Position {
	out := make([]Position, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// HeadsPos returns the elements of set with no descendant also in set
// (spec.md §4.B). Implemented by walking from the maximum element downward,
// removing ancestor positions (reachable via parent edges) from the
// candidate set as each element is visited, exactly as spec.md prescribes.
func (idx *Index) HeadsPos(set Set) Set {
	remaining := make(Set, len(set))
	for p := range set {
		remaining[p] = struct{}{}
	}
	ordered := remaining.Sorted()
	heads := make(Set)
	excluded := make(Set)
	for i := len(ordered) - 1; i >= 0; i-- {
		p := ordered[i]
		if _, isExcluded := excluded[p]; isExcluded {
			continue
		}
		heads[p] = struct{}{}
		idx.markAncestorsExcluded(p, remaining, excluded)
	}
	return heads
}

func (idx *Index) markAncestorsExcluded(start Position, remaining, excluded Set) {
	stack := []Position{start}
	visited := make(map[Position]bool)
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[p] {
			continue
		}
		visited[p] = true
		for _, parent := range idx.entries[p].ParentPositions {
			if _, in := remaining[parent]; in {
				excluded[parent] = struct{}{}
			}
			stack = append(stack, parent)
		}
	}
}

// RootsPos returns the elements of set with no ancestor also in set:
// symmetric to HeadsPos (spec.md §4.B, "Roots").
func (idx *Index) RootsPos(set Set) Set {
	roots := make(Set, len(set))
	for p := range set {
		if !idx.hasAncestorIn(p, set) {
			roots[p] = struct{}{}
		}
	}
	return roots
}

func (idx *Index) hasAncestorIn(start Position, set Set) bool {
	stack := append([]Position(nil), idx.entries[start].ParentPositions...)
	visited := make(map[Position]bool)
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[p] {
			continue
		}
		visited[p] = true
		if _, in := set[p]; in {
			return true
		}
		stack = append(stack, idx.entries[p].ParentPositions...)
	}
	return false
}
