// Package mergedtree implements the lazy N-way tree merge engine of
// spec.md §4.C: MergedTree, path lookup, resolution, diff (sync and async),
// and write-back.
//
// Grounded on pkg/zeta/odb/merge.go's three-way ChangeEntry classification
// (add/add, modify/modify, modify/delete) for the resolution shape, and
// modules/merkletrie/doubleiter.go's parallel two-tree iteration for the
// diff shape.
package mergedtree

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/antgroup/mergevcs/difftext"
	"github.com/antgroup/mergevcs/matcher"
	"github.com/antgroup/mergevcs/merge"
	"github.com/antgroup/mergevcs/object"
	"github.com/antgroup/mergevcs/store"
	"github.com/antgroup/mergevcs/vcsid"
)

// MergedTree is Merge<Tree>: every constituent Tree is at the same
// directory path and belongs to the same store, with arity invariant across
// a tree's subtrees (spec.md §4.C).
type MergedTree struct {
	path  string
	store store.Store
	trees merge.Merge[*object.Tree]
}

// Resolved builds an arity-0 MergedTree wrapping a single resolved Tree.
func Resolved(path string, st store.Store, tree *object.Tree) *MergedTree {
	return &MergedTree{path: path, store: st, trees: merge.Resolved(tree)}
}

// New builds a MergedTree from an explicit Merge<Tree> (spec.md §4.C,
// "Constructors"). The terms are taken as given: nothing checks that they
// belong to path or to st.
func New(path string, st store.Store, trees merge.Merge[*object.Tree]) *MergedTree {
	return &MergedTree{path: path, store: st, trees: trees}
}

// Path returns the directory path this merged tree's terms are all rooted
// at.
func (mt *MergedTree) Path() string { return mt.path }

// Arity returns the merge's arity K.
func (mt *MergedTree) Arity() int { return mt.trees.Arity() }

// IsResolved reports whether the merged tree has a single term (no
// conflict at this directory).
func (mt *MergedTree) IsResolved() bool { return mt.trees.IsResolved() }

// AsResolvedTree returns the single tree and true if resolved.
func (mt *MergedTree) AsResolvedTree() (*object.Tree, bool) {
	return mt.trees.AsResolved()
}

// Terms exposes the raw alternating Merge<Tree> sequence.
func (mt *MergedTree) Terms() merge.Merge[*object.Tree] { return mt.trees }

// FromLegacy builds a MergedTree from a single Tree that may contain legacy
// inline TreeValue::Conflict entries, materializing them into K parallel
// trees (spec.md §4.C, "from_legacy").
//
// For each conflicted path, the maximum arity K across all conflicts in the
// tree is used for every path, padding with Absent on both sides to
// preserve arity, as spec.md requires.
func FromLegacy(ctx context.Context, path string, st store.Store, tree *object.Tree) (*MergedTree, error) {
	maxArity := 0
	conflictValues := make(map[string][]object.TreeValue)
	for _, e := range tree.Entries() {
		if e.Value.Kind != object.KindConflict {
			continue
		}
		values, err := st.ReadConflict(ctx, path+"/"+e.Name, e.Value.ConflictID)
		if err != nil {
			return nil, fmt.Errorf("mergedtree: read conflict at %s/%s: %w", path, e.Name, err)
		}
		conflictValues[e.Name] = values
		if k := (len(values) - 1) / 2; k > maxArity {
			maxArity = k
		}
	}
	if maxArity == 0 {
		return Resolved(path, st, tree), nil
	}
	arity := 2*maxArity + 1
	termEntries := make([][]object.TreeEntry, arity)
	for _, e := range tree.Entries() {
		if e.Value.Kind != object.KindConflict {
			for i := range termEntries {
				termEntries[i] = append(termEntries[i], e)
			}
			continue
		}
		values := conflictValues[e.Name]
		padded := padAbsent(values, arity)
		for i, v := range padded {
			if v.Present {
				termEntries[i] = append(termEntries[i], object.TreeEntry{Name: e.Name, Value: v.Value})
			}
		}
	}
	terms := make([]*object.Tree, arity)
	for i, entries := range termEntries {
		terms[i] = object.NewTree(entries)
	}
	return New(path, st, merge.New(terms)), nil
}

// padAbsent pads a shorter conflict's alternating OptValue sequence out to
// arity terms with Absent, preserving left-to-right order.
func padAbsent(raw []object.TreeValue, arity int) []object.OptValue {
	out := make([]object.OptValue, arity)
	for i := 0; i < arity && i < len(raw); i++ {
		out[i] = object.Some(raw[i])
	}
	return out
}

// MergedVal is MergedTreeVal: either every term agrees (Resolved) or they
// diverge (Conflict), spec.md §4.C "Path lookup".
type MergedVal struct {
	Resolved   object.OptValue
	Conflict   merge.Merge[object.OptValue]
	IsResolved bool
}

// Value looks up a single path component, returning Resolved when all K
// terms agree after trivial cancellation, or Conflict otherwise (spec.md
// §4.C).
func (mt *MergedTree) Value(component string) MergedVal {
	values := merge.Map(mt.trees, func(t *object.Tree) object.OptValue {
		if t == nil {
			return object.Absent
		}
		v, ok := t.Get(component)
		if !ok {
			return object.Absent
		}
		return object.Some(v)
	})
	if v, ok := merge.ResolveTrivial(values, object.OptValue.Equal); ok {
		return MergedVal{Resolved: v, IsResolved: true}
	}
	return MergedVal{Conflict: merge.Simplify(values, object.OptValue.Equal)}
}

// PathValue recursively descends a slash-separated path, returning the
// MergedVal at the final component.
func (mt *MergedTree) PathValue(ctx context.Context, path []string) (MergedVal, error) {
	cur := mt
	for i, component := range path {
		if i == len(path)-1 {
			return cur.Value(component), nil
		}
		sub, err := cur.SubTree(ctx, component)
		if err != nil {
			return MergedVal{}, err
		}
		if sub == nil {
			return MergedVal{Resolved: object.Absent, IsResolved: true}, nil
		}
		cur = sub
	}
	return MergedVal{Resolved: object.Absent, IsResolved: true}, nil
}

// SubTree returns the merged subtree at component. If the component
// resolves to a non-tree, it returns (nil, nil). If it is a conflict
// between trees and non-trees, each non-tree term is replaced by an empty
// tree at that subpath so subtree arity is preserved — the "empty-tree
// double representation" of spec.md §9, which is load-bearing: Value() at
// this level still reports the file/tree conflict even though SubTree
// papers over it for traversal.
func (mt *MergedTree) SubTree(ctx context.Context, component string) (*MergedTree, error) {
	anyTree := false
	for _, t := range mt.trees.Values() {
		if t == nil {
			continue
		}
		if v, ok := t.Get(component); ok && v.Kind == object.KindTree {
			anyTree = true
			break
		}
	}
	if !anyTree {
		return nil, nil
	}
	subPath := joinPath(mt.path, component)
	terms, err := merge.MapErr(mt.trees, func(t *object.Tree) (*object.Tree, error) {
		if t == nil {
			return emptyTree(ctx, mt.store, subPath)
		}
		v, ok := t.Get(component)
		if !ok {
			return emptyTree(ctx, mt.store, subPath)
		}
		switch v.Kind {
		case object.KindTree:
			return mt.store.GetTree(ctx, subPath, v.TreeID)
		default:
			// Non-tree term standing in a tree/non-tree conflict:
			// substitute an empty tree for traversal only.
			return emptyTree(ctx, mt.store, subPath)
		}
	})
	if err != nil {
		return nil, err
	}
	return New(subPath, mt.store, terms), nil
}

func emptyTree(ctx context.Context, st store.Store, path string) (*object.Tree, error) {
	return st.GetTree(ctx, path, st.EmptyTreeID())
}

func joinPath(dir, component string) string {
	if dir == "" {
		return component
	}
	return dir + "/" + component
}

// collectChildNames gathers the union of child component names across all
// non-nil terms, in the order each name is first seen walking the terms in
// sequence (spec.md §4.C, "resolve", step 1).
func collectChildNames(trees []*object.Tree) []string {
	seen := make(map[string]struct{})
	var ordered []string
	for _, t := range trees {
		if t == nil {
			continue
		}
		for _, e := range t.Entries() {
			if _, ok := seen[e.Name]; !ok {
				seen[e.Name] = struct{}{}
				ordered = append(ordered, e.Name)
			}
		}
	}
	return ordered
}

// FileConflictResolver is the three-way file merge primitive
// try_resolve_file_conflict (spec.md §6). It succeeds only when every input
// is a file value and the textual merge produced no remaining conflict
// markers.
type FileConflictResolver func(ctx context.Context, st store.Store, path string, values merge.Merge[object.OptValue]) (object.TreeValue, bool, error)

// DefaultFileConflictResolver performs a plain three-way text merge using
// difftext.ByLine against the common ancestor, following the same
// add/remove classification pkg/zeta/odb/merge.go's mergeEntry uses: it
// only attempts resolution for arity-1 merges — the alternation
// [add0=ours, remove1=base, add1=theirs] — since that is the only shape a
// content-level three-way merge is defined for.
func DefaultFileConflictResolver(ctx context.Context, st store.Store, path string, values merge.Merge[object.OptValue]) (object.TreeValue, bool, error) {
	if values.Arity() != 1 {
		return object.TreeValue{}, false, nil
	}
	ours, base, theirs := values.Get(0), values.Get(1), values.Get(2)
	if !ours.Present || !base.Present || !theirs.Present {
		return object.TreeValue{}, false, nil
	}
	if ours.Value.Kind != object.KindFile || base.Value.Kind != object.KindFile || theirs.Value.Kind != object.KindFile {
		return object.TreeValue{}, false, nil
	}
	baseContent, err := readAll(ctx, st, path, base.Value.FileID)
	if err != nil {
		return object.TreeValue{}, false, err
	}
	oursContent, err := readAll(ctx, st, path, ours.Value.FileID)
	if err != nil {
		return object.TreeValue{}, false, err
	}
	theirsContent, err := readAll(ctx, st, path, theirs.Value.FileID)
	if err != nil {
		return object.TreeValue{}, false, err
	}
	merged, ok := threeWayMergeText(baseContent, oursContent, theirsContent)
	if !ok {
		return object.TreeValue{}, false, nil
	}
	id, err := writeAll(ctx, st, path, merged)
	if err != nil {
		return object.TreeValue{}, false, err
	}
	return object.File(id, ours.Value.Executable), true, nil
}

func readAll(ctx context.Context, st store.Store, path string, id vcsid.FileId) ([]byte, error) {
	r, err := st.ReadFile(ctx, path, id)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("mergedtree: read file at %s: %w", path, err)
	}
	return buf, nil
}

func writeAll(ctx context.Context, st store.Store, path string, content []byte) (vcsid.FileId, error) {
	return st.WriteFile(ctx, path, bytes.NewReader(content))
}

// threeWayMergeText merges base/ours/theirs by diffing ours and theirs each
// against base (difftext.ByLine) and taking non-overlapping changes from
// both sides; it reports ok=false if both sides changed the same region
// differently (an unresolved content conflict), matching
// try_resolve_file_conflict's "no remaining conflict markers" success
// condition.
func threeWayMergeText(base, ours, theirs []byte) ([]byte, bool) {
	oursHunks := difftext.ByLine(base, ours)
	theirsHunks := difftext.ByLine(base, theirs)

	oursChanged := changedBaseRanges(oursHunks)
	theirsChanged := changedBaseRanges(theirsHunks)
	for _, a := range oursChanged {
		for _, b := range theirsChanged {
			if rangesOverlap(a, b) {
				return nil, false
			}
		}
	}

	// Apply both sets of changes to base, in base order.
	type edit struct {
		baseStart, baseEnd int
		replacement        []byte
	}
	var edits []edit
	for _, h := range oursHunks {
		if h.Kind == difftext.Different {
			edits = append(edits, edit{h.Ranges[0].Start, h.Ranges[0].End, ours[h.Ranges[1].Start:h.Ranges[1].End]})
		}
	}
	for _, h := range theirsHunks {
		if h.Kind == difftext.Different {
			edits = append(edits, edit{h.Ranges[0].Start, h.Ranges[0].End, theirs[h.Ranges[1].Start:h.Ranges[1].End]})
		}
	}
	// Sort edits by base start position.
	for i := 1; i < len(edits); i++ {
		for j := i; j > 0 && edits[j-1].baseStart > edits[j].baseStart; j-- {
			edits[j-1], edits[j] = edits[j], edits[j-1]
		}
	}
	var out []byte
	pos := 0
	for _, e := range edits {
		out = append(out, base[pos:e.baseStart]...)
		out = append(out, e.replacement...)
		pos = e.baseEnd
	}
	out = append(out, base[pos:]...)
	return out, true
}

func changedBaseRanges(hunks []difftext.Hunk) []difftext.Range {
	var out []difftext.Range
	for _, h := range hunks {
		if h.Kind == difftext.Different {
			out = append(out, h.Ranges[0])
		}
	}
	return out
}

func rangesOverlap(a, b difftext.Range) bool {
	return a.Start < b.End && b.Start < a.End
}

// treeEqual compares two trees by content id, treating nil as never equal to
// a non-nil tree (nil stands for "no term at this slot", not the empty tree).
func treeEqual(a, b *object.Tree) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ID() == b.ID()
}

// Resolve tries to resolve any conflicts in the merged tree, automatically
// resolving whatever can be resolved and leaving the rest unresolved. The
// returned tree either has arity 0 or the same arity as the input (spec.md
// §4.C, "resolve()"). Resolve is idempotent: resolving an already-resolved
// MergedTree returns it unchanged, and re-resolving the output of Resolve
// never reduces arity further.
func (mt *MergedTree) Resolve(ctx context.Context) (*MergedTree, error) {
	resolved, err := resolveTreeMerge(ctx, mt.store, mt.path, mt.trees)
	if err != nil {
		return nil, err
	}
	return New(mt.path, mt.store, resolved), nil
}

// resolveTreeMerge is the recursive K-way tree merge: resolve every
// conflicting path, recursing into subtree conflicts, and produce either a
// single merged tree or (if some path truly cannot be resolved) K parallel
// trees sharing every non-conflicting entry.
func resolveTreeMerge(ctx context.Context, st store.Store, path string, trees merge.Merge[*object.Tree]) (merge.Merge[*object.Tree], error) {
	if tree, ok := merge.ResolveTrivial(trees, treeEqual); ok {
		return merge.Resolved(tree), nil
	}

	names := collectChildNames(trees.Values())
	resolvedEntries := make([]object.TreeEntry, 0, len(names))
	type pending struct {
		name   string
		values merge.Merge[object.OptValue]
	}
	var conflicts []pending

	for _, name := range names {
		pathValues := merge.Map(trees, func(t *object.Tree) object.OptValue {
			if t == nil {
				return object.Absent
			}
			v, ok := t.Get(name)
			if !ok {
				return object.Absent
			}
			return object.Some(v)
		})
		subPath := joinPath(path, name)
		result, err := mergeTreeValue(ctx, st, subPath, pathValues)
		if err != nil {
			return merge.Merge[*object.Tree]{}, err
		}
		if v, ok := result.AsResolved(); ok {
			if v.Present {
				resolvedEntries = append(resolvedEntries, object.TreeEntry{Name: name, Value: v.Value})
			}
			continue
		}
		conflicts = append(conflicts, pending{name: name, values: result})
	}

	if len(conflicts) == 0 {
		tree := object.NewTree(resolvedEntries)
		if _, err := st.WriteTree(ctx, path, tree); err != nil {
			return merge.Merge[*object.Tree]{}, err
		}
		return merge.Resolved(tree), nil
	}

	treeCount := trees.Arity()*2 + 1
	termTrees := make([]*object.Tree, treeCount)
	for i := 0; i < treeCount; i++ {
		entries := append([]object.TreeEntry(nil), resolvedEntries...)
		for _, c := range conflicts {
			v := c.values.Get(i)
			if v.Present {
				entries = append(entries, object.TreeEntry{Name: c.name, Value: v.Value})
			}
		}
		tree := object.NewTree(entries)
		if _, err := st.WriteTree(ctx, path, tree); err != nil {
			return merge.Merge[*object.Tree]{}, err
		}
		termTrees[i] = tree
	}
	return merge.New(termTrees), nil
}

// mergeTreeValue tries to resolve a single path's conflicting values,
// recursing into subtree merges when every side is a tree (or absent,
// treated as an empty tree) and otherwise attempting a file-content merge.
// It mirrors merge_tree_values: on failure it returns the conflict
// unmodified (not simplified), so callers see the original full-arity
// alternation.
func mergeTreeValue(ctx context.Context, st store.Store, path string, values merge.Merge[object.OptValue]) (merge.Merge[object.OptValue], error) {
	if v, ok := merge.ResolveTrivial(values, object.OptValue.Equal); ok {
		return merge.Resolved(v), nil
	}

	if treeMerge, ok, err := toTreeMerge(ctx, st, path, values); err != nil {
		return merge.Merge[object.OptValue]{}, err
	} else if ok {
		resolvedTrees, err := resolveTreeMerge(ctx, st, path, treeMerge)
		if err != nil {
			return merge.Merge[object.OptValue]{}, err
		}
		emptyID := st.EmptyTreeID()
		return merge.Map(resolvedTrees, func(t *object.Tree) object.OptValue {
			if t.ID() == emptyID {
				return object.Absent
			}
			return object.Some(object.SubTree(t.ID()))
		}), nil
	}

	simplified := merge.Simplify(values, object.OptValue.Equal)
	resolved, ok, err := DefaultFileConflictResolver(ctx, st, path, simplified)
	if err != nil {
		return merge.Merge[object.OptValue]{}, err
	}
	if ok {
		return merge.Resolved(object.Some(resolved)), nil
	}
	return values, nil
}

// toTreeMerge builds a Merge<Tree> out of values if every present value is a
// tree, treating absent slots as the empty tree; it reports ok=false if any
// present value is a non-tree, since a tree/non-tree conflict cannot be
// resolved by recursive tree merging.
func toTreeMerge(ctx context.Context, st store.Store, path string, values merge.Merge[object.OptValue]) (merge.Merge[*object.Tree], bool, error) {
	for _, v := range values.Values() {
		if v.Present && v.Value.Kind != object.KindTree {
			return merge.Merge[*object.Tree]{}, false, nil
		}
	}
	trees, err := merge.MapErr(values, func(v object.OptValue) (*object.Tree, error) {
		if !v.Present {
			return emptyTree(ctx, st, path)
		}
		return st.GetTree(ctx, path, v.Value.TreeID)
	})
	if err != nil {
		return merge.Merge[*object.Tree]{}, false, err
	}
	return trees, true, nil
}

// DiffEntry is one changed path between two merged trees, spec.md §4.C
// "Diff contract".
type DiffEntry struct {
	Path   string
	Before MergedVal
	After  MergedVal
}

func valEqual(a, b MergedVal) bool {
	if a.IsResolved != b.IsResolved {
		return false
	}
	if a.IsResolved {
		return a.Resolved.Equal(b.Resolved)
	}
	if a.Conflict.Len() != b.Conflict.Len() {
		return false
	}
	for i, v := range a.Conflict.Values() {
		if !v.Equal(b.Conflict.Get(i)) {
			return false
		}
	}
	return true
}

func hasTreeTerm(v MergedVal) bool {
	if v.IsResolved {
		return v.Resolved.Present && v.Resolved.Value.Kind == object.KindTree
	}
	for _, t := range v.Conflict.Values() {
		if t.Present && t.Value.Kind == object.KindTree {
			return true
		}
	}
	return false
}

func isPureTreeOrAbsent(v MergedVal) bool {
	if v.IsResolved {
		return !v.Resolved.Present || v.Resolved.Value.Kind == object.KindTree
	}
	for _, t := range v.Conflict.Values() {
		if t.Present && t.Value.Kind != object.KindTree {
			return false
		}
	}
	return true
}

// Diff computes the differences between self and other restricted by
// matcher, in the order spec.md §4.C requires: files inside a directory
// that is being replaced by something else are reported before the entry
// that replaces the directory, and files inside a newly-added directory are
// reported after.
func Diff(ctx context.Context, self, other *MergedTree, m matcher.Matcher) ([]DiffEntry, error) {
	var out []DiffEntry
	if err := diffInto(ctx, self, other, m, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func diffInto(ctx context.Context, self, other *MergedTree, m matcher.Matcher, out *[]DiffEntry) error {
	selfNames := collectChildNames(self.trees.Values())
	otherNames := collectChildNames(other.trees.Values())
	names := mergeSortedUnique(selfNames, otherNames)

	for _, name := range names {
		path := joinPath(self.path, name)
		if m.Visit(path) == matcher.Nothing {
			continue
		}
		selfVal := self.Value(name)
		otherVal := other.Value(name)
		if valEqual(selfVal, otherVal) {
			continue
		}

		bothTreeLike := isPureTreeOrAbsent(selfVal) && isPureTreeOrAbsent(otherVal)
		if bothTreeLike && (hasTreeTerm(selfVal) || hasTreeTerm(otherVal)) {
			selfSub, err := self.SubTree(ctx, name)
			if err != nil {
				return err
			}
			otherSub, err := other.SubTree(ctx, name)
			if err != nil {
				return err
			}
			if selfSub == nil {
				selfSub = Resolved(path, self.store, mustEmptyTree(ctx, self.store))
			}
			if otherSub == nil {
				otherSub = Resolved(path, other.store, mustEmptyTree(ctx, other.store))
			}
			if err := diffInto(ctx, selfSub, otherSub, m, out); err != nil {
				return err
			}
			continue
		}

		// A tree-valued side is reported as Absent in the direct entry below
		// (spec.md §4.C): its actual content already surfaces as its own
		// recursive removal/addition entries just before/after this one.
		entryBefore, entryAfter := selfVal, otherVal
		if hasTreeTerm(selfVal) {
			entryBefore = MergedVal{Resolved: object.Absent, IsResolved: true}
		}
		if hasTreeTerm(otherVal) {
			entryAfter = MergedVal{Resolved: object.Absent, IsResolved: true}
		}

		if hasTreeTerm(selfVal) {
			selfSub, err := self.SubTree(ctx, name)
			if err != nil {
				return err
			}
			if selfSub != nil {
				emptySub := Resolved(path, self.store, mustEmptyTree(ctx, self.store))
				if err := diffInto(ctx, selfSub, emptySub, m, out); err != nil {
					return err
				}
			}
		}
		if m.Matches(path) {
			*out = append(*out, DiffEntry{Path: path, Before: entryBefore, After: entryAfter})
		}
		if hasTreeTerm(otherVal) {
			otherSub, err := other.SubTree(ctx, name)
			if err != nil {
				return err
			}
			if otherSub != nil {
				emptySub := Resolved(path, other.store, mustEmptyTree(ctx, other.store))
				if err := diffInto(ctx, emptySub, otherSub, m, out); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func mustEmptyTree(ctx context.Context, st store.Store) *object.Tree {
	t, err := st.GetTree(ctx, "", st.EmptyTreeID())
	if err != nil {
		// The empty tree is always present; a store that cannot produce it
		// is misconfigured beyond what a diff can recover from.
		panic(fmt.Sprintf("mergedtree: empty tree unavailable: %v", err))
	}
	return t
}

func mergeSortedUnique(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string(nil), a...), b...) {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	sortStrings(out)
	return out
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// Merge merges self with other using base as the common ancestor, producing
// a new MergedTree whose arity is minimized by simplification (spec.md
// §4.C, "Three-way merge across merges"). Every input, resolved or not,
// goes through the same flatten/simplify/resolve sequence.
func Merge(ctx context.Context, self, base, other *MergedTree) (*MergedTree, error) {
	flattened := merge.Flatten(self.trees, base.trees, other.trees)
	simplified := merge.Simplify(flattened, treeEqual)
	resolved, err := resolveTreeMerge(ctx, self.store, self.path, simplified)
	if err != nil {
		return nil, err
	}
	// merge_trees always preserves the arity of conflicts it cannot
	// resolve, so simplify once more to collapse any conflict that became
	// trivially resolvable only after resolution (spec.md §4.C).
	resolved = merge.Simplify(resolved, treeEqual)
	return New(self.path, self.store, resolved), nil
}

// Builder accumulates per-path overrides to apply on top of a base merged
// tree id and writes the result back to the store (spec.md §4.C
// "MergedTreeBuilder").
type Builder struct {
	store     store.Store
	base      object.MergedTreeID
	overrides map[string]merge.Merge[object.OptValue]
}

// NewBuilder starts a builder from a base MergedTreeID.
func NewBuilder(st store.Store, base object.MergedTreeID) *Builder {
	return &Builder{store: st, base: base, overrides: make(map[string]merge.Merge[object.OptValue])}
}

// SetOrRemove records an override (or removal, if values resolves to
// Absent) at path, superseding whatever the base tree holds there.
func (b *Builder) SetOrRemove(path string, values merge.Merge[object.OptValue]) {
	b.overrides[path] = values
}

// Write applies every recorded override to the base tree and writes the
// resulting tree(s) back to the store, returning the new MergedTreeID. Paths
// are applied independently; a caller that needs atomic multi-path
// conflicts should pre-merge them into one Merge<OptValue> before calling
// SetOrRemove.
func (b *Builder) Write(ctx context.Context) (object.MergedTreeID, error) {
	baseTerms := make([]*object.Tree, len(b.base.Terms))
	for i, id := range b.base.Terms {
		t, err := b.store.GetTree(ctx, "", id)
		if err != nil {
			return object.MergedTreeID{}, err
		}
		baseTerms[i] = t
	}
	root := New("", b.store, merge.New(baseTerms))

	for path, values := range b.overrides {
		var err error
		root, err = applyOverride(ctx, root, path, values)
		if err != nil {
			return object.MergedTreeID{}, err
		}
	}
	terms := make([]vcsid.TreeId, root.trees.Len())
	for i, t := range root.trees.Values() {
		terms[i] = t.ID()
	}
	return object.MergedTreeID{Terms: terms}, nil
}

// applyOverride rebuilds every directory along path with values substituted
// at the final component, padding values to root's current arity first.
func applyOverride(ctx context.Context, root *MergedTree, path string, values merge.Merge[object.OptValue]) (*MergedTree, error) {
	components := splitPath(path)
	if len(components) == 0 {
		return root, nil
	}
	return rebuildAlong(ctx, root, components, values)
}

func rebuildAlong(ctx context.Context, node *MergedTree, components []string, values merge.Merge[object.OptValue]) (*MergedTree, error) {
	name := components[0]
	if len(components) == 1 {
		return setEntry(ctx, node, name, values)
	}
	child, err := node.SubTree(ctx, name)
	if err != nil {
		return nil, err
	}
	if child == nil {
		child = Resolved(joinPath(node.path, name), node.store, mustEmptyTree(ctx, node.store))
	}
	newChild, err := rebuildAlong(ctx, child, components[1:], values)
	if err != nil {
		return nil, err
	}
	childValues := merge.Map(newChild.trees, func(t *object.Tree) object.OptValue {
		if t.ID() == node.store.EmptyTreeID() {
			return object.Absent
		}
		return object.Some(object.SubTree(t.ID()))
	})
	return setEntry(ctx, node, name, childValues)
}

// setEntry rewrites every term tree at node, replacing (or removing) the
// entry named name with values. If values and node differ in arity, the
// resolved side is padded to the other's arity; two conflicted sides of
// different arity are not padded.
func setEntry(ctx context.Context, node *MergedTree, name string, values merge.Merge[object.OptValue]) (*MergedTree, error) {
	arity := node.trees.Len()
	if values.Len() != arity {
		// Pad the narrower side with its resolved value repeated, keeping
		// the wider arity (spec.md §4.C, "builders pad to max arity").
		if v, ok := values.AsResolved(); ok {
			padded := make([]object.OptValue, arity)
			for i := range padded {
				padded[i] = v
			}
			values = merge.New(padded)
		} else if t, ok := node.trees.AsResolved(); ok {
			padded := make([]*object.Tree, values.Len())
			for i := range padded {
				padded[i] = t
			}
			node = New(node.path, node.store, merge.New(padded))
			arity = values.Len()
		}
	}
	newTerms := make([]*object.Tree, arity)
	for i, t := range node.trees.Values() {
		entries := removeEntry(t.Entries(), name)
		v := values.Get(i)
		if v.Present {
			entries = append(entries, object.TreeEntry{Name: name, Value: v.Value})
		}
		newTree := object.NewTree(entries)
		if _, err := node.store.WriteTree(ctx, node.path, newTree); err != nil {
			return nil, err
		}
		newTerms[i] = newTree
	}
	return New(node.path, node.store, merge.New(newTerms)), nil
}

func removeEntry(entries []object.TreeEntry, name string) []object.TreeEntry {
	out := make([]object.TreeEntry, 0, len(entries))
	for _, e := range entries {
		if e.Name != name {
			out = append(out, e)
		}
	}
	return out
}

func splitPath(path string) []string {
	if path == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '/' {
			out = append(out, path[start:i])
			start = i + 1
		}
	}
	return out
}
