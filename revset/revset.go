// Package revset implements the resolved revset expression language and its
// lazy evaluator (spec.md §4.D): an AST over already-resolved commit-id
// sets, evaluated into a Revset that exposes descending-position iteration,
// graph iteration, and an incremental containment cache.
//
// Grounded on the index package's RevWalk abstraction (itself grounded on
// modules/zeta/object/commit_walker_topo_order.go) plus the teacher's family
// of composed commit_walker_*.go iterators (limit, bfs-filtered,
// atime/ctime-ordered), which establish the "iterator wraps iterator" idiom
// this package generalizes into Union/Intersection/Difference/Filter.
package revset

import (
	"context"
	"fmt"
	"regexp"
	"sort"

	"github.com/emirpasic/gods/trees/binaryheap"

	"github.com/antgroup/mergevcs/index"
	"github.com/antgroup/mergevcs/matcher"
	"github.com/antgroup/mergevcs/merge"
	"github.com/antgroup/mergevcs/mergedtree"
	"github.com/antgroup/mergevcs/object"
	"github.com/antgroup/mergevcs/store"
	"github.com/antgroup/mergevcs/vcsid"
)

// EvaluationError is the typed failure spec.md §4.D requires:
// RevsetEvaluationError::{Other, Store}.
type EvaluationError struct {
	Store   error
	Message string
}

func (e *EvaluationError) Error() string {
	if e.Store != nil {
		return fmt.Sprintf("revset: store error: %v", e.Store)
	}
	return fmt.Sprintf("revset: %s", e.Message)
}

func (e *EvaluationError) Unwrap() error { return e.Store }

func storeErr(err error) error  { return &EvaluationError{Store: err} }
func otherErr(msg string) error { return &EvaluationError{Message: msg} }

// env carries the immutable context every evaluation step needs.
type env struct {
	idx   *index.Index
	store store.Store
}

// GenerationRange mirrors spec.md's Range<u64> on generation distance from
// heads; callers passing Start==0 && End==0 mean "unbounded" (the common
// case of plain Ancestors/Descendants with no generation filter).
type GenerationRange struct {
	Start, End uint64
}

func (r GenerationRange) unbounded() bool { return r.Start == 0 && r.End == 0 }

// Expression is a resolved revset AST node (spec.md §4.D "Expression AST").
type Expression interface {
	eval(ctx context.Context, e *env) (Walk, error)
}

// Commits is a literal set of commit ids.
type Commits struct{ IDs []vcsid.CommitId }

func (c Commits) eval(ctx context.Context, e *env) (Walk, error) {
	positions := make([]index.Position, 0, len(c.IDs))
	for _, id := range c.IDs {
		p, ok := e.idx.CommitIDToPos(id)
		if !ok {
			return nil, otherErr(fmt.Sprintf("commits: unknown commit id %s", id))
		}
		positions = append(positions, p)
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i] > positions[j] })
	return &eagerWalk{positions: dedupDescending(positions)}, nil
}

// Ancestors is ancestors of heads, optionally bounded by generation distance.
type Ancestors struct {
	Heads      Expression
	Generation GenerationRange
}

func (a Ancestors) eval(ctx context.Context, e *env) (Walk, error) {
	heads, err := materialize(ctx, e, a.Heads)
	if err != nil {
		return nil, err
	}
	if a.Generation.unbounded() {
		return adapt(e.idx.Ancestors(heads)), nil
	}
	rng := index.GenerationRange{Start: uint32Clamp(a.Generation.Start), End: uint32Clamp(a.Generation.End)}
	return adapt(e.idx.AncestorsFilteredByGeneration(heads, rng)), nil
}

func uint32Clamp(v uint64) uint32 {
	if v > 0xFFFFFFFF {
		return 0xFFFFFFFF
	}
	return uint32(v)
}

// RangeExpr is ancestors(heads) minus ancestors(roots), spec.md's `Range`.
type RangeExpr struct {
	Roots, Heads Expression
	Generation   GenerationRange
}

func (r RangeExpr) eval(ctx context.Context, e *env) (Walk, error) {
	headsWalk, err := (Ancestors{Heads: r.Heads, Generation: r.Generation}).eval(ctx, e)
	if err != nil {
		return nil, err
	}
	rootPositions, err := materialize(ctx, e, r.Roots)
	if err != nil {
		return nil, err
	}
	rootAncestors := adapt(e.idx.Ancestors(rootPositions))
	return &differenceWalk{a: newPeek(headsWalk), b: newPeek(rootAncestors)}, nil
}

// DagRange is descendants(roots) ∩ ancestors(heads), spec.md's `DagRange`.
type DagRange struct {
	Roots, Heads       Expression
	GenerationFromRoots GenerationRange
}

func (d DagRange) eval(ctx context.Context, e *env) (Walk, error) {
	rootPositions, err := materialize(ctx, e, d.Roots)
	if err != nil {
		return nil, err
	}
	headPositions, err := materialize(ctx, e, d.Heads)
	if err != nil {
		return nil, err
	}
	var descendants Walk
	if d.GenerationFromRoots.unbounded() {
		descendants = adapt(e.idx.Descendants(rootPositions))
	} else {
		rng := index.GenerationRange{Start: uint32Clamp(d.GenerationFromRoots.Start), End: uint32Clamp(d.GenerationFromRoots.End)}
		descendants = adapt(e.idx.DescendantsFilteredByGeneration(rootPositions, rng))
	}
	ancestors := adapt(e.idx.Ancestors(headPositions))
	// Descendants walks ascending by position; Intersection requires both
	// sides descending, so materialize the descendant side and re-walk it
	// in descending order.
	descPositions, err := drainAll(ctx, descendants)
	if err != nil {
		return nil, err
	}
	sort.Slice(descPositions, func(i, j int) bool { return descPositions[i] > descPositions[j] })
	descDescending := &eagerWalk{positions: descPositions}
	return &intersectionWalk{a: newPeek(descDescending), b: newPeek(ancestors)}, nil
}

// HeadsExpr materializes candidates and delegates to index.HeadsPos.
type HeadsExpr struct{ Candidates Expression }

func (h HeadsExpr) eval(ctx context.Context, e *env) (Walk, error) {
	positions, err := materialize(ctx, e, h.Candidates)
	if err != nil {
		return nil, err
	}
	set := e.idx.HeadsPos(index.NewSet(positions...))
	sorted := set.Sorted()
	reverseInPlace(sorted)
	return &eagerWalk{positions: sorted}, nil
}

// RootsExpr materializes candidates and keeps, via index.RootsPos, the
// positions that have no ancestor among the candidates (spec.md §4.D
// "Roots(candidates)").
type RootsExpr struct{ Candidates Expression }

func (r RootsExpr) eval(ctx context.Context, e *env) (Walk, error) {
	positions, err := materialize(ctx, e, r.Candidates)
	if err != nil {
		return nil, err
	}
	set := e.idx.RootsPos(index.NewSet(positions...))
	sorted := set.Sorted()
	reverseInPlace(sorted)
	return &eagerWalk{positions: sorted}, nil
}

// Latest keeps the k entries with the largest (committer timestamp,
// position) pairs from candidates, returned in descending-position order
// (spec.md §4.D "Latest").
type Latest struct {
	Candidates Expression
	Count      int
}

type timedPos struct {
	pos   index.Position
	nanos int64
}

// timedPosLess orders ascending by (timestamp, position), so the heap's Pop
// always yields the currently-smallest element — the one to evict once the
// heap exceeds size k.
func timedPosLess(a, b any) int {
	ta, tb := a.(timedPos), b.(timedPos)
	switch {
	case ta.nanos < tb.nanos:
		return -1
	case ta.nanos > tb.nanos:
		return 1
	case ta.pos < tb.pos:
		return -1
	case ta.pos > tb.pos:
		return 1
	default:
		return 0
	}
}

func (l Latest) eval(ctx context.Context, e *env) (Walk, error) {
	positions, err := materialize(ctx, e, l.Candidates)
	if err != nil {
		return nil, err
	}
	if l.Count <= 0 {
		return &eagerWalk{}, nil
	}
	h := binaryheap.NewWith(timedPosLess)
	for _, p := range positions {
		entry := e.idx.EntryByPos(p)
		c, err := e.store.GetCommit(ctx, entry.CommitID)
		if err != nil {
			return nil, storeErr(err)
		}
		h.Push(timedPos{pos: p, nanos: c.Committer.When.UnixNano()})
		if h.Size() > l.Count {
			h.Pop()
		}
	}
	out := make([]index.Position, 0, h.Size())
	for {
		v, ok := h.Pop()
		if !ok {
			break
		}
		out = append(out, v.(timedPos).pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] > out[j] })
	return &eagerWalk{positions: out}, nil
}

// Union, Intersection, Difference combine two sets via sort-merge over
// monotonically-descending walks (spec.md §4.D "Combinators").
type Union struct{ A, B Expression }
type Intersection struct{ A, B Expression }
type Difference struct{ A, B Expression }

func (u Union) eval(ctx context.Context, e *env) (Walk, error) {
	a, err := u.A.eval(ctx, e)
	if err != nil {
		return nil, err
	}
	b, err := u.B.eval(ctx, e)
	if err != nil {
		return nil, err
	}
	return &unionWalk{a: newPeek(a), b: newPeek(b)}, nil
}

func (i Intersection) eval(ctx context.Context, e *env) (Walk, error) {
	a, err := i.A.eval(ctx, e)
	if err != nil {
		return nil, err
	}
	b, err := i.B.eval(ctx, e)
	if err != nil {
		return nil, err
	}
	return &intersectionWalk{a: newPeek(a), b: newPeek(b)}, nil
}

func (d Difference) eval(ctx context.Context, e *env) (Walk, error) {
	a, err := d.A.eval(ctx, e)
	if err != nil {
		return nil, err
	}
	b, err := d.B.eval(ctx, e)
	if err != nil {
		return nil, err
	}
	return &differenceWalk{a: newPeek(a), b: newPeek(b)}, nil
}

// FilterWithin evaluates candidates and re-checks predicate for each
// position as the walk is consumed (spec.md §4.D "Filter predicate
// evaluation runs on-demand during walk consumption").
type FilterWithin struct {
	Candidates Expression
	Predicate  FilterPredicate
}

func (f FilterWithin) eval(ctx context.Context, e *env) (Walk, error) {
	inner, err := f.Candidates.eval(ctx, e)
	if err != nil {
		return nil, err
	}
	return &filterWalk{inner: inner, pred: f.Predicate, env: e}, nil
}

func materialize(ctx context.Context, e *env, expr Expression) ([]index.Position, error) {
	w, err := expr.eval(ctx, e)
	if err != nil {
		return nil, err
	}
	return drainAll(ctx, w)
}

func drainAll(ctx context.Context, w Walk) ([]index.Position, error) {
	var out []index.Position
	for {
		p, ok, err := w.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		out = append(out, p)
	}
	return out, nil
}

func dedupDescending(sorted []index.Position) []index.Position {
	out := sorted[:0:0]
	for i, p := range sorted {
		if i == 0 || p != sorted[i-1] {
			out = append(out, p)
		}
	}
	return out
}

func reverseInPlace(s []index.Position) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

// Revset is the evaluated result: a lazy walk plus the index/store needed
// to project positions into commit/change ids and filtered predicates.
type Revset struct {
	walk  Walk
	idx   *index.Index
	store store.Store
}

// Evaluate resolves expr against idx/st into a Revset.
func Evaluate(ctx context.Context, idx *index.Index, st store.Store, expr Expression) (*Revset, error) {
	e := &env{idx: idx, store: st}
	w, err := expr.eval(ctx, e)
	if err != nil {
		return nil, err
	}
	return &Revset{walk: w, idx: idx, store: st}, nil
}

// Positions returns the lazy walk over descending commit positions.
func (r *Revset) Positions() Walk { return r.walk.Clone() }

// CommitIDs lazily yields commit ids in descending position order.
func (r *Revset) CommitIDs(ctx context.Context) ([]vcsid.CommitId, error) {
	w := r.walk.Clone()
	var out []vcsid.CommitId
	for {
		p, ok, err := w.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		out = append(out, r.idx.EntryByPos(p).CommitID)
	}
	return out, nil
}

// CommitChangePair is one element of Pairs.
type CommitChangePair struct {
	CommitID vcsid.CommitId
	ChangeID vcsid.ChangeId
}

// Pairs lazily yields (CommitId, ChangeId) pairs in descending order.
func (r *Revset) Pairs(ctx context.Context) ([]CommitChangePair, error) {
	w := r.walk.Clone()
	var out []CommitChangePair
	for {
		p, ok, err := w.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		entry := r.idx.EntryByPos(p)
		out = append(out, CommitChangePair{CommitID: entry.CommitID, ChangeID: entry.ChangeID})
	}
	return out, nil
}

// EdgeKind tags a GraphEdge.
type EdgeKind int8

const (
	Direct EdgeKind = iota
	Indirect
	Missing
)

// GraphEdge is one parent edge in graph iteration, tagged per spec.md §4.D.
type GraphEdge struct {
	Target vcsid.CommitId
	Kind   EdgeKind
}

// GraphNode pairs a commit id with its tagged parent edges.
type GraphNode struct {
	CommitID vcsid.CommitId
	Edges    []GraphEdge
}

// Graph iterates (CommitId, []GraphEdge) for every position in the set,
// tagging edges Direct when the parent is itself in the set and Indirect
// otherwise (spec.md §4.D "Graph iteration"). Missing is never produced:
// only parents recorded in the index are visited, and index.Build does not
// record parents it does not know.
func (r *Revset) Graph(ctx context.Context) ([]GraphNode, error) {
	positions, err := drainAll(ctx, r.walk.Clone())
	if err != nil {
		return nil, err
	}
	inSet := make(map[index.Position]bool, len(positions))
	for _, p := range positions {
		inSet[p] = true
	}
	nodes := make([]GraphNode, 0, len(positions))
	for _, p := range positions {
		entry := r.idx.EntryByPos(p)
		edges := make([]GraphEdge, 0, len(entry.ParentPositions))
		for _, pp := range entry.ParentPositions {
			kind := Indirect
			if inSet[pp] {
				kind = Direct
			}
			edges = append(edges, GraphEdge{Target: r.idx.EntryByPos(pp).CommitID, Kind: kind})
		}
		nodes = append(nodes, GraphNode{CommitID: entry.CommitID, Edges: edges})
	}
	return nodes, nil
}

// IsEmpty reports whether the set has no elements, consuming at most one
// element of a fresh walk clone.
func (r *Revset) IsEmpty(ctx context.Context) (bool, error) {
	w := r.walk.Clone()
	_, ok, err := w.Next(ctx)
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// CountEstimate counts up to limit elements, reporting (n, true) if the
// count was truncated at limit (spec.md §4.D "count_estimate may return
// (n, None) when truncated").
func (r *Revset) CountEstimate(ctx context.Context, limit int) (int, bool, error) {
	w := r.walk.Clone()
	n := 0
	for n < limit {
		_, ok, err := w.Next(ctx)
		if err != nil {
			return 0, false, err
		}
		if !ok {
			return n, false, nil
		}
		n++
	}
	// Check if there's at least one more to report truncation accurately.
	_, ok, err := w.Next(ctx)
	if err != nil {
		return 0, false, err
	}
	return n, ok, nil
}

// ContainingFn returns an incremental membership predicate: it advances the
// underlying walk only as far as needed to answer each query and caches
// every position seen so far, so repeated or monotonically-decreasing
// queries do not re-walk from the start (spec.md §4.D "Containment cache").
func (r *Revset) ContainingFn() func(ctx context.Context, id vcsid.CommitId) (bool, error) {
	w := r.walk.Clone()
	var cache []index.Position // kept sorted descending
	exhausted := false
	return func(ctx context.Context, id vcsid.CommitId) (bool, error) {
		pos, ok := r.idx.CommitIDToPos(id)
		if !ok {
			return false, nil
		}
		for !exhausted && (len(cache) == 0 || cache[len(cache)-1] > pos) {
			p, ok, err := w.Next(ctx)
			if err != nil {
				return false, err
			}
			if !ok {
				exhausted = true
				break
			}
			cache = append(cache, p)
		}
		i := sort.Search(len(cache), func(i int) bool { return cache[i] <= pos })
		return i < len(cache) && cache[i] == pos, nil
	}
}

// ---- filter predicates (spec.md §4.D "Filter predicate evaluation") ----

// FilterPredicate is a resolved predicate evaluated on-demand per position.
type FilterPredicate interface {
	matches(ctx context.Context, e *env, pos index.Position) (bool, error)
}

// ParentCountPredicate matches commits whose parent count falls in Range.
type ParentCountPredicate struct{ Min, Max int }

func (p ParentCountPredicate) matches(ctx context.Context, e *env, pos index.Position) (bool, error) {
	n := len(e.idx.EntryByPos(pos).ParentPositions)
	return n >= p.Min && n <= p.Max, nil
}

// DescriptionPredicate, AuthorPredicate, CommitterPredicate match a regexp
// against the corresponding commit field, loading the commit once.
type DescriptionPredicate struct{ Pattern *regexp.Regexp }
type AuthorPredicate struct{ Pattern *regexp.Regexp }
type CommitterPredicate struct{ Pattern *regexp.Regexp }

func (p DescriptionPredicate) matches(ctx context.Context, e *env, pos index.Position) (bool, error) {
	c, err := loadCommit(ctx, e, pos)
	if err != nil {
		return false, err
	}
	return p.Pattern.MatchString(c.Description), nil
}

func (p AuthorPredicate) matches(ctx context.Context, e *env, pos index.Position) (bool, error) {
	c, err := loadCommit(ctx, e, pos)
	if err != nil {
		return false, err
	}
	return p.Pattern.MatchString(c.Author.Name) || p.Pattern.MatchString(c.Author.Email), nil
}

func (p CommitterPredicate) matches(ctx context.Context, e *env, pos index.Position) (bool, error) {
	c, err := loadCommit(ctx, e, pos)
	if err != nil {
		return false, err
	}
	return p.Pattern.MatchString(c.Committer.Name) || p.Pattern.MatchString(c.Committer.Email), nil
}

// HasConflictPredicate matches commits whose root tree is unresolved.
type HasConflictPredicate struct{}

func (HasConflictPredicate) matches(ctx context.Context, e *env, pos index.Position) (bool, error) {
	c, err := loadCommit(ctx, e, pos)
	if err != nil {
		return false, err
	}
	return !c.RootTree.IsResolved(), nil
}

// FilePredicate matches commits that touch any of Paths (all paths if
// Paths is empty, matching spec.md's File(Option<[path]>) with None meaning
// "any path"). Implements the exact trivial-rejection/acceptance shortcuts
// spec.md §4.D describes before falling back to a full diff.
type FilePredicate struct{ Paths []string }

func (p FilePredicate) matches(ctx context.Context, e *env, pos index.Position) (bool, error) {
	entry := e.idx.EntryByPos(pos)
	c, err := e.store.GetCommit(ctx, entry.CommitID)
	if err != nil {
		return false, storeErr(err)
	}
	m := matcher.Everything
	if len(p.Paths) > 0 {
		m = matcher.NewPrefixSet(p.Paths)
	}

	var parentTree object.MergedTreeID
	switch len(c.ParentIDs) {
	case 0:
		// Root commit: everything it introduces counts as touched.
		parentTree = object.MergedTreeID{}
	case 1:
		parent, err := e.store.GetCommit(ctx, c.ParentIDs[0])
		if err != nil {
			return false, storeErr(err)
		}
		parentTree = parent.RootTree
	default:
		merged, err := mergeParentTrees(ctx, e, c.ParentIDs)
		if err != nil {
			return false, err
		}
		parentTree = merged
	}

	if parentTree.IsResolved() && c.RootTree.IsResolved() && len(parentTree.Terms) > 0 && parentTree.Terms[0] == c.RootTree.Terms[0] {
		return false, nil
	}
	if m.Visit("") == matcher.AllRecursively && m.Matches("") {
		return true, nil
	}

	parentMT, err := mergedTreeFromID(ctx, e.store, parentTree)
	if err != nil {
		return false, err
	}
	commitMT, err := mergedTreeFromID(ctx, e.store, c.RootTree)
	if err != nil {
		return false, err
	}
	entries, err := mergedtree.Diff(ctx, parentMT, commitMT, m)
	if err != nil {
		return false, err
	}
	return len(entries) > 0, nil
}

func mergedTreeFromID(ctx context.Context, st store.Store, id object.MergedTreeID) (*mergedtree.MergedTree, error) {
	if len(id.Terms) == 0 {
		t, err := st.GetTree(ctx, "", st.EmptyTreeID())
		if err != nil {
			return nil, storeErr(err)
		}
		return mergedtree.Resolved("", st, t), nil
	}
	terms := make([]*object.Tree, len(id.Terms))
	for i, tid := range id.Terms {
		t, err := st.GetTree(ctx, "", tid)
		if err != nil {
			return nil, storeErr(err)
		}
		terms[i] = t
	}
	if len(terms) == 1 {
		return mergedtree.Resolved("", st, terms[0]), nil
	}
	return mergedtree.New("", st, merge.New(terms)), nil
}

// mergeParentTrees resolves the baseline tree for a merge commit's File()
// predicate by folding merge_commit_trees: successively 3-way merging each
// parent's tree into the running result using the first parent as base.
func mergeParentTrees(ctx context.Context, e *env, parentIDs []vcsid.CommitId) (object.MergedTreeID, error) {
	first, err := e.store.GetCommit(ctx, parentIDs[0])
	if err != nil {
		return object.MergedTreeID{}, storeErr(err)
	}
	running := first.RootTree
	for _, pid := range parentIDs[1:] {
		p, err := e.store.GetCommit(ctx, pid)
		if err != nil {
			return object.MergedTreeID{}, storeErr(err)
		}
		runningMT, err := mergedTreeFromID(ctx, e.store, running)
		if err != nil {
			return object.MergedTreeID{}, err
		}
		baseMT, err := mergedTreeFromID(ctx, e.store, first.RootTree)
		if err != nil {
			return object.MergedTreeID{}, err
		}
		otherMT, err := mergedTreeFromID(ctx, e.store, p.RootTree)
		if err != nil {
			return object.MergedTreeID{}, err
		}
		merged, err := mergedtree.Merge(ctx, runningMT, baseMT, otherMT)
		if err != nil {
			return object.MergedTreeID{}, err
		}
		terms := make([]vcsid.TreeId, merged.Terms().Len())
		for i, t := range merged.Terms().Values() {
			terms[i] = t.ID()
		}
		running = object.MergedTreeID{Terms: terms}
	}
	return running, nil
}

func loadCommit(ctx context.Context, e *env, pos index.Position) (*object.Commit, error) {
	entry := e.idx.EntryByPos(pos)
	c, err := e.store.GetCommit(ctx, entry.CommitID)
	if err != nil {
		return nil, storeErr(err)
	}
	return c, nil
}
