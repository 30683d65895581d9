package revset

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/antgroup/mergevcs/index"
	"github.com/antgroup/mergevcs/object"
	"github.com/antgroup/mergevcs/store/memstore"
	"github.com/antgroup/mergevcs/vcsid"
)

// testGraph builds:
//
//	root -> a -> b -\
//	         \-> d --> m
//
// and returns the index plus a lookup from label to commit id.
func testGraph(t *testing.T) (*index.Index, *memstore.Store, map[string]vcsid.CommitId) {
	t.Helper()
	st := memstore.New()
	ids := make(map[string]vcsid.CommitId)
	label := func(s string) vcsid.CommitId {
		return vcsid.CommitId{ID: vcsid.Hash([]byte(s))}
	}
	emptyTreeID := object.ResolvedTreeID(st.EmptyTreeID())

	mk := func(name string, parents []string, when time.Time) {
		id := label(name)
		ids[name] = id
		var parentIDs []vcsid.CommitId
		for _, p := range parents {
			parentIDs = append(parentIDs, ids[p])
		}
		c := &object.Commit{
			CommitID:    id,
			ChangeID:    vcsid.ChangeId{ID: vcsid.Hash([]byte("change-" + name))},
			ParentIDs:   parentIDs,
			RootTree:    emptyTreeID,
			Author:      object.Signature{Name: "a", Email: "a@example.com", When: when},
			Committer:   object.Signature{Name: "a", Email: "a@example.com", When: when},
			Description: "commit " + name,
		}
		st.PutCommit(c)
	}

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mk("root", nil, base)
	mk("a", []string{"root"}, base.Add(time.Hour))
	mk("b", []string{"a"}, base.Add(2*time.Hour))
	mk("d", []string{"a"}, base.Add(3*time.Hour))
	mk("m", []string{"b", "d"}, base.Add(4*time.Hour))

	seeds := make([]index.CommitSeed, 0, len(ids))
	for _, name := range []string{"root", "a", "b", "d", "m"} {
		c, err := st.GetCommit(context.Background(), ids[name])
		require.NoError(t, err)
		seeds = append(seeds, index.CommitSeed{CommitID: c.CommitID, ChangeID: c.ChangeID, ParentIDs: c.ParentIDs})
	}
	idx := index.Build(seeds)
	return idx, st, ids
}

func commitsOf(ids map[string]vcsid.CommitId, names ...string) Commits {
	out := make([]vcsid.CommitId, len(names))
	for i, n := range names {
		out[i] = ids[n]
	}
	return Commits{IDs: out}
}

func TestAncestorsDescendingOrder(t *testing.T) {
	ctx := context.Background()
	idx, st, ids := testGraph(t)

	rs, err := Evaluate(ctx, idx, st, Ancestors{Heads: commitsOf(ids, "m")})
	require.NoError(t, err)
	got, err := rs.CommitIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []vcsid.CommitId{ids["m"], ids["d"], ids["b"], ids["a"], ids["root"]}, got)
}

func TestUnionIntersectionDifference(t *testing.T) {
	ctx := context.Background()
	idx, st, ids := testGraph(t)

	left := Ancestors{Heads: commitsOf(ids, "b")}  // root, a, b
	right := Ancestors{Heads: commitsOf(ids, "d")} // root, a, d

	union, err := Evaluate(ctx, idx, st, Union{A: left, B: right})
	require.NoError(t, err)
	u, err := union.CommitIDs(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []vcsid.CommitId{ids["root"], ids["a"], ids["b"], ids["d"]}, u)

	inter, err := Evaluate(ctx, idx, st, Intersection{A: left, B: right})
	require.NoError(t, err)
	i, err := inter.CommitIDs(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []vcsid.CommitId{ids["root"], ids["a"]}, i)

	diff, err := Evaluate(ctx, idx, st, Difference{A: left, B: right})
	require.NoError(t, err)
	d, err := diff.CommitIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []vcsid.CommitId{ids["b"]}, d)
}

func TestHeadsRootsDuality(t *testing.T) {
	ctx := context.Background()
	idx, st, ids := testGraph(t)
	all := commitsOf(ids, "root", "a", "b", "d", "m")

	heads, err := Evaluate(ctx, idx, st, HeadsExpr{Candidates: all})
	require.NoError(t, err)
	h, err := heads.CommitIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []vcsid.CommitId{ids["m"]}, h)

	roots, err := Evaluate(ctx, idx, st, RootsExpr{Candidates: all})
	require.NoError(t, err)
	r, err := roots.CommitIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []vcsid.CommitId{ids["root"]}, r)
}

func TestLatestPicksMostRecentByTimestamp(t *testing.T) {
	ctx := context.Background()
	idx, st, ids := testGraph(t)
	all := commitsOf(ids, "root", "a", "b", "d", "m")

	rs, err := Evaluate(ctx, idx, st, Latest{Candidates: all, Count: 2})
	require.NoError(t, err)
	got, err := rs.CommitIDs(ctx)
	require.NoError(t, err)
	// m (hour 4) and d (hour 3) are the two most recent, in descending
	// position order.
	require.Equal(t, []vcsid.CommitId{ids["m"], ids["d"]}, got)
}

func TestParentCountPredicateFindsMergeCommit(t *testing.T) {
	ctx := context.Background()
	idx, st, ids := testGraph(t)
	all := commitsOf(ids, "root", "a", "b", "d", "m")

	rs, err := Evaluate(ctx, idx, st, FilterWithin{
		Candidates: all,
		Predicate:  ParentCountPredicate{Min: 2, Max: 2},
	})
	require.NoError(t, err)
	got, err := rs.CommitIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []vcsid.CommitId{ids["m"]}, got)
}

func TestGraphEdgeTagging(t *testing.T) {
	ctx := context.Background()
	idx, st, ids := testGraph(t)

	rs, err := Evaluate(ctx, idx, st, commitsOf(ids, "m", "b"))
	require.NoError(t, err)
	nodes, err := rs.Graph(ctx)
	require.NoError(t, err)
	require.Len(t, nodes, 2)

	var mNode GraphNode
	for _, n := range nodes {
		if n.CommitID == ids["m"] {
			mNode = n
		}
	}
	require.Len(t, mNode.Edges, 2)
	kinds := map[vcsid.CommitId]EdgeKind{}
	for _, e := range mNode.Edges {
		kinds[e.Target] = e.Kind
	}
	require.Equal(t, Direct, kinds[ids["b"]])
	require.Equal(t, Indirect, kinds[ids["d"]])
}

func TestIsEmptyAndCountEstimate(t *testing.T) {
	ctx := context.Background()
	idx, st, ids := testGraph(t)

	empty, err := Evaluate(ctx, idx, st, Intersection{
		A: commitsOf(ids, "b"),
		B: commitsOf(ids, "d"),
	})
	require.NoError(t, err)
	isEmpty, err := empty.IsEmpty(ctx)
	require.NoError(t, err)
	require.True(t, isEmpty)

	all, err := Evaluate(ctx, idx, st, Ancestors{Heads: commitsOf(ids, "m")})
	require.NoError(t, err)
	n, truncated, err := all.CountEstimate(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.True(t, truncated)

	n, truncated, err = all.CountEstimate(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.False(t, truncated)
}

func TestContainingFnIncremental(t *testing.T) {
	ctx := context.Background()
	idx, st, ids := testGraph(t)

	rs, err := Evaluate(ctx, idx, st, Ancestors{Heads: commitsOf(ids, "b")})
	require.NoError(t, err)
	contains := rs.ContainingFn()

	ok, err := contains(ctx, ids["b"])
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = contains(ctx, ids["root"])
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = contains(ctx, ids["d"])
	require.NoError(t, err)
	require.False(t, ok)
}
