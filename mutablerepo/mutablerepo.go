// Package mutablerepo implements the mutable-repo capability spec.md §6
// requires of absorb's rewrite phase: transform_descendants(seeds, cb),
// exposing a Rewriter with OldCommit/NewParentIDs/Reparent/SetTree/Write.
// There is no separate rebase operation: a caller computes the new tree
// itself and passes it to SetTree.
//
// Grounded on the object.Backend + CommitIter split in
// modules/zeta/object/commit_walker.go: here the "iterator" side is
// index.Descendants (already topologically ordered ascending by position,
// i.e. parents before children, satisfying spec.md §5's "sequentially, in
// topological order" transaction discipline) and the "backend" side is a
// plain store.Store plus a running old-id -> new-id rewrite map.
package mutablerepo

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/antgroup/mergevcs/index"
	"github.com/antgroup/mergevcs/object"
	"github.com/antgroup/mergevcs/store"
	"github.com/antgroup/mergevcs/vcsid"
)

// Repo is the single-owner mutable view absorb rewrites commits through
// (spec.md §5, "single-owner... invoked sequentially").
type Repo struct {
	store     store.Store
	idx       *index.Index
	rewritten map[vcsid.CommitId]vcsid.CommitId
	log       *logrus.Entry
}

// New builds a Repo over an existing index and store.
func New(st store.Store, idx *index.Index) *Repo {
	return &Repo{
		store:     st,
		idx:       idx,
		rewritten: make(map[vcsid.CommitId]vcsid.CommitId),
		log:       logrus.WithField("component", "mutablerepo"),
	}
}

// RewrittenID reports the new id a previously-rewritten commit was replaced
// by, if any.
func (r *Repo) RewrittenID(old vcsid.CommitId) (vcsid.CommitId, bool) {
	id, ok := r.rewritten[old]
	return id, ok
}

// Rewriter is passed to the transform_descendants callback for one commit.
type Rewriter struct {
	repo       *Repo
	old        *object.Commit
	newParents []vcsid.CommitId
	newTree    object.MergedTreeID
	written    bool
}

// OldCommit returns the commit being considered for rewrite.
func (r *Rewriter) OldCommit() *object.Commit { return r.old }

// NewParentIDs returns the parent ids this commit will be written with,
// already translated through any ancestor rewrites transform_descendants has
// applied so far.
func (r *Rewriter) NewParentIDs() []vcsid.CommitId { return r.newParents }

// Reparent overrides the parent ids the rewritten commit will carry.
func (r *Rewriter) Reparent(parents []vcsid.CommitId) { r.newParents = parents }

// SetTree overrides the tree the rewritten commit will carry; if never
// called, Write keeps the commit's original tree (a pure reparent).
func (r *Rewriter) SetTree(id object.MergedTreeID) { r.newTree = id }

// Write commits the accumulated parent/tree changes as a new commit,
// preserving change id and author identity. The new commit's predecessors
// are exactly the commit it replaces; no other commit (such as an absorb
// source) is added to them.
func (r *Rewriter) Write(ctx context.Context) (vcsid.CommitId, error) {
	if r.written {
		return vcsid.CommitId{}, fmt.Errorf("mutablerepo: commit %s already written", r.old.CommitID)
	}
	nc := &object.Commit{
		ChangeID:       r.old.ChangeID,
		ParentIDs:      r.newParents,
		PredecessorIDs: []vcsid.CommitId{r.old.CommitID},
		RootTree:       r.newTree,
		Author:         r.old.Author,
		Committer:      r.old.Committer,
		Description:    r.old.Description,
	}
	nc.CommitID = vcsid.NewCommitId(encodeCommit(nc))
	putter, ok := r.repo.store.(commitPutter)
	if !ok {
		return vcsid.CommitId{}, fmt.Errorf("mutablerepo: store does not support writing commits")
	}
	putter.PutCommit(nc)
	r.repo.rewritten[r.old.CommitID] = nc.CommitID
	r.written = true
	return nc.CommitID, nil
}

// commitPutter is satisfied by store implementations (memstore included)
// that support direct commit writes; the narrow store.Store interface
// itself has no write-commit method since spec.md §4.A treats commit
// writing as the caller's concern, not the core engine's.
type commitPutter interface {
	PutCommit(*object.Commit)
}

// encodeCommit canonically encodes a commit for content addressing,
// mirroring object.Tree.Encode's simplicity (no on-disk byte format is
// specified by spec.md §1 Non-goals; this only needs to be stable and
// injective enough within this engine).
func encodeCommit(c *object.Commit) []byte {
	buf := []byte(fmt.Sprintf("change %s\nparents", c.ChangeID))
	for _, p := range c.ParentIDs {
		buf = append(buf, []byte(fmt.Sprintf(" %s", p))...)
	}
	buf = append(buf, []byte("\ntree")...)
	for _, t := range c.RootTree.Terms {
		buf = append(buf, []byte(fmt.Sprintf(" %s", t))...)
	}
	buf = append(buf, []byte(fmt.Sprintf("\nauthor %s <%s> %d\ncommitter %s <%s> %d\n\n%s",
		c.Author.Name, c.Author.Email, c.Author.When.UnixNano(),
		c.Committer.Name, c.Committer.Email, c.Committer.When.UnixNano(),
		c.Description))...)
	return buf
}

// TransformDescendants visits every commit reachable as a descendant of
// seeds (seeds included), parents before children, handing each a Rewriter
// whose default parent ids already reflect earlier rewrites in this same
// call (spec.md §6, "Mutable-repo capability").
func (repo *Repo) TransformDescendants(ctx context.Context, seeds []vcsid.CommitId, cb func(ctx context.Context, r *Rewriter) error) error {
	seedPositions := make([]index.Position, 0, len(seeds))
	for _, id := range seeds {
		pos, ok := repo.idx.CommitIDToPos(id)
		if !ok {
			return fmt.Errorf("mutablerepo: seed commit %s not in index", id)
		}
		seedPositions = append(seedPositions, pos)
	}
	walk := repo.idx.Descendants(seedPositions)
	for {
		pos, ok := walk.Next()
		if !ok {
			break
		}
		entry := repo.idx.EntryByPos(pos)
		old, err := repo.store.GetCommit(ctx, entry.CommitID)
		if err != nil {
			return err
		}
		newParents := make([]vcsid.CommitId, len(old.ParentIDs))
		for i, p := range old.ParentIDs {
			if np, ok := repo.RewrittenID(p); ok {
				newParents[i] = np
			} else {
				newParents[i] = p
			}
		}
		r := &Rewriter{repo: repo, old: old, newParents: newParents, newTree: old.RootTree}
		if err := cb(ctx, r); err != nil {
			return err
		}
		if !r.written {
			if _, err := r.Write(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}
