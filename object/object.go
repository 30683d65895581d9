// Package object defines the data model of spec.md §3: blobs, trees, tree
// values, conflicts, and commits.
package object

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/antgroup/mergevcs/vcsid"
)

// TreeValueKind tags the variant held by a TreeValue.
type TreeValueKind int8

const (
	KindFile TreeValueKind = iota
	KindSymlink
	KindTree
	KindGitSubmodule
	KindConflict
)

// TreeValue is the tagged union a tree entry points to (spec.md §3).
// Exactly one of the typed fields is meaningful, selected by Kind.
type TreeValue struct {
	Kind TreeValueKind

	// KindFile
	FileID     vcsid.FileId
	Executable bool

	// KindSymlink
	SymlinkID vcsid.FileId

	// KindTree
	TreeID vcsid.TreeId

	// KindGitSubmodule: an opaque pointer, never traversed by this engine.
	SubmoduleCommit vcsid.CommitId

	// KindConflict: legacy inline conflict pointer.
	ConflictID vcsid.ConflictId
}

// File builds a KindFile TreeValue.
func File(id vcsid.FileId, executable bool) TreeValue {
	return TreeValue{Kind: KindFile, FileID: id, Executable: executable}
}

// Symlink builds a KindSymlink TreeValue.
func Symlink(id vcsid.FileId) TreeValue {
	return TreeValue{Kind: KindSymlink, SymlinkID: id}
}

// SubTree builds a KindTree TreeValue.
func SubTree(id vcsid.TreeId) TreeValue {
	return TreeValue{Kind: KindTree, TreeID: id}
}

// GitSubmodule builds a KindGitSubmodule TreeValue.
func GitSubmodule(id vcsid.CommitId) TreeValue {
	return TreeValue{Kind: KindGitSubmodule, SubmoduleCommit: id}
}

// Conflict builds a KindConflict TreeValue.
func Conflict(id vcsid.ConflictId) TreeValue {
	return TreeValue{Kind: KindConflict, ConflictID: id}
}

// IsTree reports whether the value is a KindTree entry.
func (v TreeValue) IsTree() bool { return v.Kind == KindTree }

// Equal implements structural equality between two TreeValues, used by
// trivial-cancellation and agreement checks in the merged-tree engine.
func (v TreeValue) Equal(o TreeValue) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindFile:
		return v.FileID == o.FileID && v.Executable == o.Executable
	case KindSymlink:
		return v.SymlinkID == o.SymlinkID
	case KindTree:
		return v.TreeID == o.TreeID
	case KindGitSubmodule:
		return v.SubmoduleCommit == o.SubmoduleCommit
	case KindConflict:
		return v.ConflictID == o.ConflictID
	}
	return false
}

// OptValue is Option<TreeValue>: Present=false means Absent (a deletion or
// an addition's "before" side).
type OptValue struct {
	Value   TreeValue
	Present bool
}

// Absent is the zero OptValue.
var Absent = OptValue{}

// Some wraps a present TreeValue.
func Some(v TreeValue) OptValue { return OptValue{Value: v, Present: true} }

// Equal compares two OptValues structurally.
func (o OptValue) Equal(other OptValue) bool {
	if o.Present != other.Present {
		return false
	}
	if !o.Present {
		return true
	}
	return o.Value.Equal(other.Value)
}

// TreeEntry is a single (path-component, value) pair stored in a Tree.
type TreeEntry struct {
	Name  string
	Value TreeValue
}

// Tree is an ordered mapping from a single path component to a TreeValue.
// Trees are never nested in storage: a subtree is represented by a
// TreeValue of KindTree holding the subtree's TreeId (spec.md §3).
type Tree struct {
	id      vcsid.TreeId
	entries []TreeEntry // kept sorted by Name for deterministic iteration
}

// NewTree builds a Tree from entries, sorting them by name and computing its
// content-addressed id over the canonical encoding.
func NewTree(entries []TreeEntry) *Tree {
	sorted := append([]TreeEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	t := &Tree{entries: sorted}
	t.id = vcsid.NewTreeId(t.Encode())
	return t
}

// ID returns the tree's content-addressed identifier.
func (t *Tree) ID() vcsid.TreeId { return t.id }

// Entries returns the tree's entries in name-sorted order.
func (t *Tree) Entries() []TreeEntry { return t.entries }

// Get looks up a single path component, returning (value, true) if present.
func (t *Tree) Get(component string) (TreeValue, bool) {
	i := sort.Search(len(t.entries), func(i int) bool { return t.entries[i].Name >= component })
	if i < len(t.entries) && t.entries[i].Name == component {
		return t.entries[i].Value, true
	}
	return TreeValue{}, false
}

// IsEmpty reports whether the tree has no entries.
func (t *Tree) IsEmpty() bool { return len(t.entries) == 0 }

// Equal compares two trees by id.
func (t *Tree) Equal(o *Tree) bool {
	if t == nil || o == nil {
		return t == o
	}
	return t.id == o.id
}

// Encode produces the canonical byte encoding hashed to form the tree's id.
// The format is deliberately simple (name-sorted "kind name value\n" lines)
// since spec.md leaves on-disk byte format to external collaborators
// (§1 Non-goals); this encoding only needs to be stable and injective enough
// for content addressing within this engine.
func (t *Tree) Encode() []byte {
	var buf bytes.Buffer
	for _, e := range t.entries {
		switch e.Value.Kind {
		case KindFile:
			exe := byte('0')
			if e.Value.Executable {
				exe = '1'
			}
			fmt.Fprintf(&buf, "file %s %s %c\n", e.Name, e.Value.FileID, exe)
		case KindSymlink:
			fmt.Fprintf(&buf, "symlink %s %s\n", e.Name, e.Value.SymlinkID)
		case KindTree:
			fmt.Fprintf(&buf, "tree %s %s\n", e.Name, e.Value.TreeID)
		case KindGitSubmodule:
			fmt.Fprintf(&buf, "submodule %s %s\n", e.Name, e.Value.SubmoduleCommit)
		case KindConflict:
			fmt.Fprintf(&buf, "conflict %s %s\n", e.Name, e.Value.ConflictID)
		}
	}
	return buf.Bytes()
}

// Signature is a commit's author or committer identity and timestamp,
// matching the teacher's Signature in modules/zeta/object/commit.go.
type Signature struct {
	Name  string
	Email string
	When  time.Time
	// TZOffsetMinutes preserves the original timezone offset independent of
	// When.Location(), as spec.md §3 requires {millis, tz_offset}.
	TZOffsetMinutes int
}

// Commit is the immutable record described in spec.md §3.
type Commit struct {
	CommitID        vcsid.CommitId
	ChangeID        vcsid.ChangeId
	ParentIDs       []vcsid.CommitId
	PredecessorIDs  []vcsid.CommitId
	RootTree        MergedTreeID
	Author          Signature
	Committer       Signature
	Description     string
}

// IsRoot reports whether c is the repository's single root commit: it has
// no parents (spec.md §3 invariant).
func (c *Commit) IsRoot() bool {
	return len(c.ParentIDs) == 0
}

// MergedTreeID is Merge<TreeId>: a directory state that is either a single
// resolved TreeId or a K-way merge of TreeIds (spec.md §3).
type MergedTreeID struct {
	// Terms holds the alternating [add0, remove1, add1, ...] sequence of
	// TreeIds. len(Terms) is always odd.
	Terms []vcsid.TreeId
}

// ResolvedTreeID builds a resolved (arity-0) MergedTreeID.
func ResolvedTreeID(id vcsid.TreeId) MergedTreeID {
	return MergedTreeID{Terms: []vcsid.TreeId{id}}
}

// IsResolved reports whether the merged tree id has a single term.
func (m MergedTreeID) IsResolved() bool { return len(m.Terms) == 1 }
