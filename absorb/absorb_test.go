package absorb

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/antgroup/mergevcs/index"
	"github.com/antgroup/mergevcs/matcher"
	"github.com/antgroup/mergevcs/mutablerepo"
	"github.com/antgroup/mergevcs/object"
	"github.com/antgroup/mergevcs/store/memstore"
	"github.com/antgroup/mergevcs/vcsid"
)

// buildChain creates root -> a -> b -> s, a linear history where a
// introduces "f.txt" = "alpha\nbeta\ngamma\n", b edits its middle line, and s
// (the absorb source) edits the first and last lines. Every line is
// attributable to exactly one ancestor, so the scenario exercises the full
// annotate -> classify -> plan -> apply pipeline without any merge commits.
func buildChain(t *testing.T) (*memstore.Store, *index.Index, map[string]vcsid.CommitId) {
	t.Helper()
	st := memstore.New()
	ctx := context.Background()
	ids := make(map[string]vcsid.CommitId)

	writeFile := func(content string) vcsid.FileId {
		id, err := st.WriteFile(ctx, "f.txt", strings.NewReader(content))
		require.NoError(t, err)
		return id
	}
	writeTree := func(fileID vcsid.FileId) object.MergedTreeID {
		tree := object.NewTree([]object.TreeEntry{{Name: "f.txt", Value: object.File(fileID, false)}})
		id, err := st.WriteTree(ctx, "", tree)
		require.NoError(t, err)
		return object.ResolvedTreeID(id)
	}

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mk := func(name string, parent string, tree object.MergedTreeID, when time.Time) {
		var parentIDs []vcsid.CommitId
		if parent != "" {
			parentIDs = []vcsid.CommitId{ids[parent]}
		}
		c := &object.Commit{
			CommitID:    vcsid.CommitId{ID: vcsid.Hash([]byte(name))},
			ChangeID:    vcsid.ChangeId{ID: vcsid.Hash([]byte("change-" + name))},
			ParentIDs:   parentIDs,
			RootTree:    tree,
			Author:      object.Signature{Name: "a", Email: "a@example.com", When: when},
			Committer:   object.Signature{Name: "a", Email: "a@example.com", When: when},
			Description: "commit " + name,
		}
		st.PutCommit(c)
		ids[name] = c.CommitID
	}

	mk("root", "", object.ResolvedTreeID(st.EmptyTreeID()), base)
	mk("a", "root", writeTree(writeFile("alpha\nbeta\ngamma\n")), base.Add(time.Hour))
	mk("b", "a", writeTree(writeFile("alpha\nBETA\ngamma\n")), base.Add(2*time.Hour))
	mk("s", "b", writeTree(writeFile("ALPHA\nBETA\nGAMMA\n")), base.Add(3*time.Hour))

	seeds := make([]index.CommitSeed, 0, len(ids))
	for _, name := range []string{"root", "a", "b", "s"} {
		c, err := st.GetCommit(ctx, ids[name])
		require.NoError(t, err)
		seeds = append(seeds, index.CommitSeed{CommitID: c.CommitID, ChangeID: c.ChangeID, ParentIDs: c.ParentIDs})
	}
	idx := index.Build(seeds)
	return st, idx, ids
}

func TestPlanAbsorbAssignsHunksToLastTouchingAncestor(t *testing.T) {
	ctx := context.Background()
	st, idx, ids := buildChain(t)

	plan, err := PlanAbsorb(ctx, idx, st, ids["s"], []vcsid.CommitId{ids["a"], ids["b"]}, matcher.Everything, DefaultOptions())
	require.NoError(t, err)
	require.Empty(t, plan.Warnings)

	// Both changed lines (1 and 3) were last touched by "a"; "b" only ever
	// touched the middle line, which s left untouched, so only "a" should
	// receive a selected tree.
	require.Contains(t, plan.Selected, ids["a"])
	require.NotContains(t, plan.Selected, ids["b"])

	content, present, err := fileContentAt(ctx, st, idx, indexPos(t, idx, ids["a"]), "f.txt")
	require.NoError(t, err)
	require.True(t, present)
	require.Equal(t, "alpha\nbeta\ngamma\n", string(content)) // a's own commit tree is untouched by planning
}

func TestApplyAbsorbsIntoAncestor(t *testing.T) {
	ctx := context.Background()
	st, idx, ids := buildChain(t)

	plan, err := PlanAbsorb(ctx, idx, st, ids["s"], []vcsid.CommitId{ids["a"], ids["b"]}, matcher.Everything, DefaultOptions())
	require.NoError(t, err)
	require.Contains(t, plan.Selected, ids["a"])

	repo := mutablerepo.New(st, idx)
	require.NoError(t, Apply(ctx, repo, st, plan))

	newA, ok := repo.RewrittenID(ids["a"])
	require.True(t, ok)
	newB, ok := repo.RewrittenID(ids["b"])
	require.True(t, ok)
	newS, ok := repo.RewrittenID(ids["s"])
	require.True(t, ok)

	contentAt := func(id vcsid.CommitId) string {
		c, err := st.GetCommit(ctx, id)
		require.NoError(t, err)
		tree, err := rootMergedTree(ctx, st, c.RootTree)
		require.NoError(t, err)
		val, err := tree.PathValue(ctx, []string{"f.txt"})
		require.NoError(t, err)
		require.True(t, val.IsResolved)
		require.True(t, val.Resolved.Present)
		rc, err := st.ReadFile(ctx, "f.txt", val.Resolved.Value.FileID)
		require.NoError(t, err)
		defer rc.Close()
		buf := make([]byte, 64)
		n, _ := rc.Read(buf)
		return string(buf[:n])
	}

	require.Equal(t, "ALPHA\nbeta\nGAMMA\n", contentAt(newA))
	require.Equal(t, "ALPHA\nBETA\nGAMMA\n", contentAt(newB))
	require.Equal(t, "ALPHA\nBETA\nGAMMA\n", contentAt(newS))
}

func indexPos(t *testing.T, idx *index.Index, id vcsid.CommitId) index.Position {
	t.Helper()
	pos, ok := idx.CommitIDToPos(id)
	require.True(t, ok)
	return pos
}
