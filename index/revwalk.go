package index

import (
	"math"

	"github.com/emirpasic/gods/trees/binaryheap"
)

// RevWalk is a lazy, single-pass sequence of positions. Implementors hold
// all cursor state themselves (spec.md §9, "Lazy walks as iterator objects
// with explicit state"), avoiding coroutine/generator machinery and making
// walks cheaply cloneable when their state is a small set of heap indices.
type RevWalk interface {
	// Next advances the walk and returns the next position, or
	// (0, false) when exhausted.
	Next() (Position, bool)
	// Clone returns an independent copy of the walk's current cursor
	// state, so a caller can fork a walk without re-running it from the
	// start.
	Clone() RevWalk
}

// descByPosition orders positions from largest to smallest, used by the
// ancestor walk's min-heap-on-reversed-position (spec.md §4.B, "Ancestor
// walk algorithm").
func descByPosition(a, b any) int {
	pa, pb := a.(Position), b.(Position)
	switch {
	case pa < pb:
		return 1
	case pa > pb:
		return -1
	default:
		return 0
	}
}

func ascByPosition(a, b any) int {
	pa, pb := a.(Position), b.(Position)
	switch {
	case pa < pb:
		return -1
	case pa > pb:
		return 1
	default:
		return 0
	}
}

// ancestorWalk emits ancestors of a set of head positions, in strictly
// descending position order (spec.md §4.B, "Ordering contract"). It is a
// min-heap (on reversed position) seeded with the head positions: pop the
// max, emit, push each parent position not yet visited.
type ancestorWalk struct {
	idx     *Index
	heap    *binaryheap.Heap
	visited map[Position]bool
}

// Ancestors returns a RevWalk over the ancestors of heads (inclusive),
// descending by position.
func (idx *Index) Ancestors(heads []Position) RevWalk {
	w := &ancestorWalk{
		idx:     idx,
		heap:    binaryheap.NewWith(descByPosition),
		visited: make(map[Position]bool),
	}
	for _, h := range heads {
		w.push(h)
	}
	return w
}

func (w *ancestorWalk) push(p Position) {
	if w.visited[p] {
		return
	}
	w.visited[p] = true
	w.heap.Push(p)
}

func (w *ancestorWalk) Next() (Position, bool) {
	v, ok := w.heap.Pop()
	if !ok {
		return 0, false
	}
	p := v.(Position)
	for _, parent := range w.idx.entries[p].ParentPositions {
		w.push(parent)
	}
	return p, true
}

func (w *ancestorWalk) Clone() RevWalk {
	clone := &ancestorWalk{idx: w.idx, heap: binaryheap.NewWith(descByPosition), visited: make(map[Position]bool, len(w.visited))}
	it := w.heap.Iterator()
	for it.Next() {
		clone.heap.Push(it.Value())
	}
	for p, v := range w.visited {
		clone.visited[p] = v
	}
	return clone
}

// GenerationRange is a half-open [Start, End) bound on generation distance
// from the nearest head, mirroring spec.md's Range<u32> (0..1 = heads,
// 1..math.MaxUint32 = strict ancestors).
type GenerationRange struct {
	Start, End uint32
}

// generationWalk wraps the ancestor walk, tracking each position's minimum
// generation distance from any head and pruning/filtering per spec.md
// §4.B's "Generation bounds" algorithm.
type generationWalk struct {
	idx       *Index
	heap      *binaryheap.Heap // holds genEntry
	visited   map[Position]uint32
	rng       GenerationRange
}

type genEntry struct {
	pos Position
	gen uint32
}

func genEntryLess(a, b any) int {
	ea, eb := a.(genEntry), b.(genEntry)
	return descByPosition(ea.pos, eb.pos)
}

// AncestorsFilteredByGeneration returns a RevWalk over ancestors of heads
// whose minimum generation distance from any head lies in rng.
func (idx *Index) AncestorsFilteredByGeneration(heads []Position, rng GenerationRange) RevWalk {
	w := &generationWalk{
		idx:     idx,
		heap:    binaryheap.NewWith(genEntryLess),
		visited: make(map[Position]uint32),
		rng:     rng,
	}
	for _, h := range heads {
		w.push(h, 0)
	}
	return w
}

func (w *generationWalk) push(p Position, gen uint32) {
	if prev, ok := w.visited[p]; ok && prev <= gen {
		return
	}
	w.visited[p] = gen
	if gen > w.rng.End {
		return // prune: cannot come back into range from here
	}
	w.heap.Push(genEntry{pos: p, gen: gen})
}

func (w *generationWalk) Next() (Position, bool) {
	for {
		v, ok := w.heap.Pop()
		if !ok {
			return 0, false
		}
		e := v.(genEntry)
		if cur, ok := w.visited[e.pos]; ok && cur != e.gen {
			continue // superseded by a smaller generation found later
		}
		for _, parent := range w.idx.entries[e.pos].ParentPositions {
			w.push(parent, e.gen+1)
		}
		if e.gen >= w.rng.Start && e.gen < w.rng.End {
			return e.pos, true
		}
		// out of range (too shallow); keep pulling from the heap
	}
}

func (w *generationWalk) Clone() RevWalk {
	clone := &generationWalk{idx: w.idx, heap: binaryheap.NewWith(genEntryLess), visited: make(map[Position]uint32, len(w.visited)), rng: w.rng}
	it := w.heap.Iterator()
	for it.Next() {
		clone.heap.Push(it.Value())
	}
	for p, g := range w.visited {
		clone.visited[p] = g
	}
	return clone
}

// StrictAncestorsRange is 1..math.MaxUint32, i.e. "::heads" excluding the
// heads themselves.
var StrictAncestorsRange = GenerationRange{Start: 1, End: math.MaxUint32}

// HeadsOnlyRange is 0..1, i.e. just the heads.
var HeadsOnlyRange = GenerationRange{Start: 0, End: 1}

// descendantWalk emits descendants of a set of root positions in strictly
// ascending position order (spec.md §4.B, "Descendant walk").
type descendantWalk struct {
	idx         *Index
	heap        *binaryheap.Heap
	visited     map[Position]bool
	stopAtRoots bool
	roots       map[Position]bool
	seeds       map[Position]bool
}

// Descendants returns a RevWalk over the descendants of roots (inclusive),
// ascending by position.
func (idx *Index) Descendants(roots []Position) RevWalk {
	return idx.descendants(roots, false)
}

// DescendantsUntilRoots returns a RevWalk over descendants of roots that
// stops expanding past any commit which is itself one of the given roots
// but was reached transitively rather than seeded directly (spec.md §4.B).
// Every root passed here is also a seed, so that stop condition never
// holds and the walk yields the same positions as Descendants.
func (idx *Index) DescendantsUntilRoots(roots []Position) RevWalk {
	return idx.descendants(roots, true)
}

func (idx *Index) descendants(roots []Position, stopAtRoots bool) RevWalk {
	rootSet := make(map[Position]bool, len(roots))
	seeds := make(map[Position]bool, len(roots))
	for _, r := range roots {
		rootSet[r] = true
		seeds[r] = true
	}
	w := &descendantWalk{
		idx:         idx,
		heap:        binaryheap.NewWith(ascByPosition),
		visited:     make(map[Position]bool),
		stopAtRoots: stopAtRoots,
		roots:       rootSet,
		seeds:       seeds,
	}
	for _, r := range roots {
		w.push(r)
	}
	return w
}

func (w *descendantWalk) push(p Position) {
	if w.visited[p] {
		return
	}
	w.visited[p] = true
	w.heap.Push(p)
}

func (w *descendantWalk) Next() (Position, bool) {
	v, ok := w.heap.Pop()
	if !ok {
		return 0, false
	}
	p := v.(Position)
	if w.stopAtRoots && w.roots[p] && !w.seeds[p] {
		// Reached a root transitively (not one of the original seeds):
		// emit it but do not expand its children further.
		return p, true
	}
	for _, child := range w.idx.children[p] {
		w.push(child)
	}
	return p, true
}

func (w *descendantWalk) Clone() RevWalk {
	clone := &descendantWalk{
		idx: w.idx, heap: binaryheap.NewWith(ascByPosition),
		visited: make(map[Position]bool, len(w.visited)), stopAtRoots: w.stopAtRoots,
		roots: w.roots, seeds: w.seeds,
	}
	it := w.heap.Iterator()
	for it.Next() {
		clone.heap.Push(it.Value())
	}
	for p, v := range w.visited {
		clone.visited[p] = v
	}
	return clone
}

// descGenerationWalk wraps the descendant walk, tracking each position's
// minimum generation distance from any root and filtering per rng, the
// descendant-side symmetric counterpart of generationWalk.
type descGenerationWalk struct {
	idx     *Index
	heap    *binaryheap.Heap // holds genEntry, ascending by position
	visited map[Position]uint32
	rng     GenerationRange
}

func genEntryLessAsc(a, b any) int {
	ea, eb := a.(genEntry), b.(genEntry)
	return ascByPosition(ea.pos, eb.pos)
}

// DescendantsFilteredByGeneration returns a RevWalk over descendants of
// roots whose minimum generation distance from any root lies in rng,
// ascending by position.
func (idx *Index) DescendantsFilteredByGeneration(roots []Position, rng GenerationRange) RevWalk {
	w := &descGenerationWalk{
		idx:     idx,
		heap:    binaryheap.NewWith(genEntryLessAsc),
		visited: make(map[Position]uint32),
		rng:     rng,
	}
	for _, r := range roots {
		w.push(r, 0)
	}
	return w
}

func (w *descGenerationWalk) push(p Position, gen uint32) {
	if prev, ok := w.visited[p]; ok && prev <= gen {
		return
	}
	w.visited[p] = gen
	if gen > w.rng.End {
		return
	}
	w.heap.Push(genEntry{pos: p, gen: gen})
}

func (w *descGenerationWalk) Next() (Position, bool) {
	for {
		v, ok := w.heap.Pop()
		if !ok {
			return 0, false
		}
		e := v.(genEntry)
		if cur, ok := w.visited[e.pos]; ok && cur != e.gen {
			continue
		}
		for _, child := range w.idx.children[e.pos] {
			w.push(child, e.gen+1)
		}
		if e.gen >= w.rng.Start && e.gen < w.rng.End {
			return e.pos, true
		}
	}
}

func (w *descGenerationWalk) Clone() RevWalk {
	clone := &descGenerationWalk{idx: w.idx, heap: binaryheap.NewWith(genEntryLessAsc), visited: make(map[Position]uint32, len(w.visited)), rng: w.rng}
	it := w.heap.Iterator()
	for it.Next() {
		clone.heap.Push(it.Value())
	}
	for p, g := range w.visited {
		clone.visited[p] = g
	}
	return clone
}

// UnwantedRoots returns a RevWalk over w's positions with the ancestors of
// r subtracted (spec.md §4.B, "Walk composition: unwanted_roots(r)"). It
// materializes both sides since the generic RevWalk interface doesn't
// expose enough structure to subtract lazily outside the index package.
func (idx *Index) UnwantedRoots(w RevWalk, r []Position) []Position {
	unwanted := idx.Ancestors(r)
	excluded := make(map[Position]bool)
	for {
		p, ok := unwanted.Next()
		if !ok {
			break
		}
		excluded[p] = true
	}
	var out []Position
	for {
		p, ok := w.Next()
		if !ok {
			break
		}
		if !excluded[p] {
			out = append(out, p)
		}
	}
	return out
}
