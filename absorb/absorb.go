// Package absorb (this file) orchestrates spec.md §4.E's per-file procedure
// on top of Annotate (annotate.go) and classifyHunks (classify.go), then
// rewrites the affected commits through mutablerepo.
//
// Grounded on pkg/zeta/odb/merge.go for the "apply a patch tree via a 3-way
// merge" recombination shape and on pkg/zeta/blame.go's surrounding
// Blame()/BlameResult driver for the per-file loop structure (diff against a
// baseline, skip non-file paths, accumulate per-line results).
package absorb

import (
	"bytes"
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/antgroup/mergevcs/difftext"
	"github.com/antgroup/mergevcs/index"
	"github.com/antgroup/mergevcs/matcher"
	"github.com/antgroup/mergevcs/merge"
	"github.com/antgroup/mergevcs/mergedtree"
	"github.com/antgroup/mergevcs/mutablerepo"
	"github.com/antgroup/mergevcs/object"
	"github.com/antgroup/mergevcs/store"
	"github.com/antgroup/mergevcs/vcsid"
)

// Options tunes absorb's behavior. RejectMaskedDeletion is the only open
// question spec.md §9 leaves a caller-visible knob for (default policy:
// reject, see DESIGN.md). AnnotateBatchSize bounds how many of a merge
// commit's parents Annotate fetches concurrently while walking history;
// non-positive means sequential.
type Options struct {
	RejectMaskedDeletion bool
	AnnotateBatchSize    int
}

// DefaultOptions matches the policy DESIGN.md records for the masked-line
// deletion open question, with sequential annotate parent fetches.
func DefaultOptions() Options {
	return Options{RejectMaskedDeletion: true, AnnotateBatchSize: DefaultBatchSize}
}

// Warning is a user-visible notice about a path skipped during planning
// (spec.md §4.E step 2).
type Warning struct {
	Path   string
	Reason string
}

// Plan is the output of planning an absorb: one patch tree per destination
// commit that actually received hunks, each a MergedTreeID built by applying
// only that commit's own selected ranges on top of S's parent tree baseline.
type Plan struct {
	Source      vcsid.CommitId
	BaselineID  object.MergedTreeID
	Destination []vcsid.CommitId
	Selected    map[vcsid.CommitId]object.MergedTreeID
	Warnings    []Warning
}

// PlanAbsorb computes, for a source commit and a concrete destination set,
// the per-destination patch trees spec.md §4.E describes (steps 1-5). The
// destination set is a fixed list of commit ids (already resolved from
// whatever revset named it); nothing here re-evaluates a revset expression.
func PlanAbsorb(ctx context.Context, idx *index.Index, st store.Store, source vcsid.CommitId, destinations []vcsid.CommitId, m matcher.Matcher, opts Options) (*Plan, error) {
	log := logrus.WithField("component", "absorb")

	sourceCommit, err := st.GetCommit(ctx, source)
	if err != nil {
		return nil, err
	}
	if len(sourceCommit.ParentIDs) == 0 {
		return nil, fmt.Errorf("absorb: source commit %s has no parent to absorb into", source)
	}

	baselineID, err := mergeParentTrees(ctx, st, sourceCommit.ParentIDs)
	if err != nil {
		return nil, err
	}
	baselineTree, err := rootMergedTree(ctx, st, baselineID)
	if err != nil {
		return nil, err
	}
	sourceTree, err := rootMergedTree(ctx, st, sourceCommit.RootTree)
	if err != nil {
		return nil, err
	}

	destSet := make(map[vcsid.CommitId]bool, len(destinations))
	for _, d := range destinations {
		destSet[d] = true
	}
	contains := func(_ context.Context, id vcsid.CommitId) (bool, error) {
		return destSet[id], nil
	}

	entries, err := mergedtree.Diff(ctx, baselineTree, sourceTree, m)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		Source:      source,
		BaselineID:  baselineID,
		Destination: destinations,
		Selected:    make(map[vcsid.CommitId]object.MergedTreeID),
	}

	builders := make(map[vcsid.CommitId]*mergedtree.Builder)
	builderFor := func(c vcsid.CommitId) *mergedtree.Builder {
		b, ok := builders[c]
		if !ok {
			b = mergedtree.NewBuilder(st, baselineID)
			builders[c] = b
		}
		return b
	}

	for _, entry := range entries {
		path := entry.Path
		if !entry.Before.IsResolved || !entry.After.IsResolved {
			log.WithField("path", path).Warn("absorb: skipping conflicted path")
			plan.Warnings = append(plan.Warnings, Warning{Path: path, Reason: "conflicted path"})
			continue
		}
		left, right := entry.Before.Resolved, entry.After.Resolved
		if !left.Present || !right.Present {
			continue // newly added or deleted by S: nothing to absorb
		}
		if left.Value.Kind != object.KindFile {
			log.WithField("path", path).Warn("absorb: skipping non-file left value")
			plan.Warnings = append(plan.Warnings, Warning{Path: path, Reason: "left value is not a plain file"})
			continue
		}
		if right.Value.Kind != object.KindFile {
			log.WithField("path", path).Warn("absorb: skipping non-file right value")
			plan.Warnings = append(plan.Warnings, Warning{Path: path, Reason: "right value is not a plain file"})
			continue
		}

		leftContent, err := readFile(ctx, st, path, left.Value.FileID)
		if err != nil {
			return nil, err
		}
		rightContent, err := readFile(ctx, st, path, right.Value.FileID)
		if err != nil {
			return nil, err
		}

		segments, err := Annotate(ctx, idx, st, sourceCommit.ParentIDs, path, leftContent, opts.AnnotateBatchSize, contains)
		if err != nil {
			return nil, err
		}
		hunks := difftext.ByLine(leftContent, rightContent)
		assignments := classifyHunksWithPolicy(hunks, segments, opts.RejectMaskedDeletion)
		if len(assignments) == 0 {
			continue
		}

		for commitID, pairs := range assignments {
			newContent := combine(leftContent, rightContent, pairs)
			fileID, err := st.WriteFile(ctx, path, bytes.NewReader(newContent))
			if err != nil {
				return nil, err
			}
			val := merge.Resolved(object.Some(object.File(fileID, left.Value.Executable)))
			builderFor(commitID).SetOrRemove(path, val)
		}
	}

	for commitID, b := range builders {
		id, err := b.Write(ctx)
		if err != nil {
			return nil, err
		}
		plan.Selected[commitID] = id
	}
	return plan, nil
}

// combine rebuilds a file's new content by replacing every selected left
// range with its paired right range, leaving everything between selections
// untouched (spec.md §4.E step 6). pairs must be sorted ascending by
// Left.Start and non-overlapping, which classifyHunks already guarantees
// since it walks hunks (themselves disjoint and ordered) in order.
func combine(left, right []byte, pairs []RangePair) []byte {
	var out bytes.Buffer
	cursor := 0
	for _, p := range pairs {
		out.Write(left[cursor:p.Left.Start])
		out.Write(right[p.Right.Start:p.Right.End])
		cursor = p.Left.End
	}
	out.Write(left[cursor:])
	return out.Bytes()
}

// mergedTreeIDEqual compares two MergedTreeIDs by their term sequence;
// MergedTreeID holds a slice, so it cannot be compared with ==.
func mergedTreeIDEqual(a, b object.MergedTreeID) bool {
	if len(a.Terms) != len(b.Terms) {
		return false
	}
	for i := range a.Terms {
		if a.Terms[i] != b.Terms[i] {
			return false
		}
	}
	return true
}

func readFile(ctx context.Context, st store.Store, path string, id vcsid.FileId) ([]byte, error) {
	rc, err := st.ReadFile(ctx, path, id)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(rc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// foldParentTrees is mergeParentTrees generalized to the zero-parent (root
// commit) case, used by Apply where a rewritten commit's parent list may
// legitimately be empty.
func foldParentTrees(ctx context.Context, st store.Store, parentIDs []vcsid.CommitId) (object.MergedTreeID, error) {
	if len(parentIDs) == 0 {
		return object.ResolvedTreeID(st.EmptyTreeID()), nil
	}
	return mergeParentTrees(ctx, st, parentIDs)
}

// mergeParentTrees folds merge_commit_trees across a commit's parents,
// the same fold revset.mergeParentTrees performs for File() predicates: the
// first parent's tree is the running base, each subsequent parent is 3-way
// merged in.
func mergeParentTrees(ctx context.Context, st store.Store, parentIDs []vcsid.CommitId) (object.MergedTreeID, error) {
	first, err := st.GetCommit(ctx, parentIDs[0])
	if err != nil {
		return object.MergedTreeID{}, err
	}
	running := first.RootTree
	for _, pid := range parentIDs[1:] {
		p, err := st.GetCommit(ctx, pid)
		if err != nil {
			return object.MergedTreeID{}, err
		}
		runningMT, err := rootMergedTree(ctx, st, running)
		if err != nil {
			return object.MergedTreeID{}, err
		}
		baseMT, err := rootMergedTree(ctx, st, first.RootTree)
		if err != nil {
			return object.MergedTreeID{}, err
		}
		otherMT, err := rootMergedTree(ctx, st, p.RootTree)
		if err != nil {
			return object.MergedTreeID{}, err
		}
		merged, err := mergedtree.Merge(ctx, runningMT, baseMT, otherMT)
		if err != nil {
			return object.MergedTreeID{}, err
		}
		id, ok := merged.AsResolvedTree()
		if ok {
			running = object.ResolvedTreeID(id.ID())
			continue
		}
		terms := make([]vcsid.TreeId, merged.Terms().Len())
		for i, t := range merged.Terms().Values() {
			terms[i] = t.ID()
		}
		running = object.MergedTreeID{Terms: terms}
	}
	return running, nil
}

// Apply rewrites the source commit, the destinations and every descendant of
// either through mutablerepo, per spec.md §4.E's "Applying the trees":
//
//   - a destination commit with a selected tree gets
//     merge(current_tree, parent_tree, selected_tree): its own current
//     content three-way merged against S's parent baseline (plan.BaselineID)
//     and the patch tree built from the hunks it received.
//   - S itself is only reparented onto its rewritten parents and keeps its
//     own tree, so the absorbed hunks no longer show up in S's own diff.
//   - any other commit (one with no selected tree, e.g. an intermediate
//     commit that received nothing, or a descendant of S) gets a plain
//     rebase: merge(new_parent_tree, old_parent_tree, own_tree).
func Apply(ctx context.Context, repo *mutablerepo.Repo, st store.Store, plan *Plan) error {
	seeds := append([]vcsid.CommitId{plan.Source}, plan.Destination...)
	return repo.TransformDescendants(ctx, seeds, func(ctx context.Context, r *mutablerepo.Rewriter) error {
		old := r.OldCommit()
		if old.CommitID == plan.Source {
			// S keeps its own tree; only its parents change.
			_, writeErr := r.Write(ctx)
			return writeErr
		}

		selectedID, isDestination := plan.Selected[old.CommitID]
		var oursID, baseID, theirsID object.MergedTreeID
		if isDestination {
			// The merge base is P itself (S's parent baseline), the same
			// fixed value the selected tree was built from — not this
			// commit's own (earlier) parent tree.
			oursID, baseID, theirsID = old.RootTree, plan.BaselineID, selectedID
		} else {
			oldParentTreeID, err := foldParentTrees(ctx, st, old.ParentIDs)
			if err != nil {
				return err
			}
			newParentTreeID, err := foldParentTrees(ctx, st, r.NewParentIDs())
			if err != nil {
				return err
			}
			oursID, baseID, theirsID = newParentTreeID, oldParentTreeID, old.RootTree
		}

		if mergedTreeIDEqual(oursID, baseID) {
			r.SetTree(theirsID)
		} else if mergedTreeIDEqual(theirsID, baseID) {
			r.SetTree(oursID)
		} else {
			ours, err := rootMergedTree(ctx, st, oursID)
			if err != nil {
				return err
			}
			base, err := rootMergedTree(ctx, st, baseID)
			if err != nil {
				return err
			}
			theirs, err := rootMergedTree(ctx, st, theirsID)
			if err != nil {
				return err
			}
			merged, err := mergedtree.Merge(ctx, ours, base, theirs)
			if err != nil {
				return err
			}
			id, ok := merged.AsResolvedTree()
			if ok {
				r.SetTree(object.ResolvedTreeID(id.ID()))
			} else {
				terms := make([]vcsid.TreeId, merged.Terms().Len())
				for i, t := range merged.Terms().Values() {
					terms[i] = t.ID()
				}
				r.SetTree(object.MergedTreeID{Terms: terms})
			}
		}

		_, writeErr := r.Write(ctx)
		return writeErr
	})
}
