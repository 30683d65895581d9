package index

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/antgroup/mergevcs/vcsid"
)

func cid(b byte) vcsid.CommitId {
	var id vcsid.CommitId
	id.ID[0] = b
	return id
}

// buildDiamond constructs: root(0) -> A(1), with B(2) and C(3) both children
// of A, plus a merge D(4) with parents [B, C].
func buildDiamond() *Index {
	root := cid(0)
	a := cid(1)
	b := cid(2)
	c := cid(3)
	d := cid(4)
	return Build([]CommitSeed{
		{CommitID: root},
		{CommitID: a, ParentIDs: []vcsid.CommitId{root}},
		{CommitID: b, ParentIDs: []vcsid.CommitId{a}},
		{CommitID: c, ParentIDs: []vcsid.CommitId{a}},
		{CommitID: d, ParentIDs: []vcsid.CommitId{b, c}},
	})
}

func collect(w RevWalk) []Position {
	var out []Position
	for {
		p, ok := w.Next()
		if !ok {
			break
		}
		out = append(out, p)
	}
	return out
}

func TestAncestorsDescendingOrder(t *testing.T) {
	idx := buildDiamond()
	w := idx.Ancestors([]Position{4})
	positions := collect(w)
	require.Equal(t, []Position{4, 3, 2, 1, 0}, positions)
}

func TestDescendantsAscendingOrder(t *testing.T) {
	idx := buildDiamond()
	w := idx.Descendants([]Position{0})
	positions := collect(w)
	require.Equal(t, []Position{0, 1, 2, 3, 4}, positions)
}

func TestHeadsPos(t *testing.T) {
	idx := buildDiamond()
	heads := idx.HeadsPos(NewSet(0, 1, 2, 3, 4))
	require.Equal(t, NewSet(4), heads)
}

func TestRootsPos(t *testing.T) {
	idx := buildDiamond()
	roots := idx.RootsPos(NewSet(1, 2, 3, 4))
	require.Equal(t, NewSet(1), roots)
}

func TestGenerationHeadsOnly(t *testing.T) {
	idx := buildDiamond()
	w := idx.AncestorsFilteredByGeneration([]Position{4}, HeadsOnlyRange)
	require.Equal(t, []Position{4}, collect(w))
}

func TestGenerationStrictAncestors(t *testing.T) {
	idx := buildDiamond()
	w := idx.AncestorsFilteredByGeneration([]Position{4}, StrictAncestorsRange)
	positions := collect(w)
	require.ElementsMatch(t, []Position{3, 2, 1, 0}, positions)
	require.NotContains(t, positions, Position(4))
}

func TestGenerationMonotonicity(t *testing.T) {
	idx := buildDiamond()
	n := collect(idx.AncestorsFilteredByGeneration([]Position{4}, GenerationRange{0, 2}))
	m := collect(idx.AncestorsFilteredByGeneration([]Position{4}, GenerationRange{0, 3}))
	for _, p := range n {
		require.Contains(t, m, p)
	}
}

func TestCommitIDToPosUnknown(t *testing.T) {
	idx := buildDiamond()
	_, ok := idx.CommitIDToPos(cid(99))
	require.False(t, ok)
}
