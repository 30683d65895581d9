package absorb

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/antgroup/mergevcs/difftext"
	"github.com/antgroup/mergevcs/vcsid"
)

func commitID(s string) vcsid.CommitId {
	return vcsid.CommitId{ID: vcsid.Hash([]byte(s))}
}

func rng(start, end int) difftext.Range { return difftext.Range{Start: start, End: end} }

// TestClassifyMergeOfAdjacentInserts covers the scenario where a single
// insertion hunk lands entirely inside one annotation segment (the common
// case: editing near the end of a file a single ancestor last touched).
func TestClassifyMergeOfAdjacentInserts(t *testing.T) {
	c2 := commitID("c2")
	segments := []Segment{
		{Range: rng(0, 6), CommitID: commitID("c1")},
		{Range: rng(6, 12), CommitID: c2},
	}
	hunks := []difftext.Hunk{
		{Kind: difftext.Matching, Ranges: []difftext.Range{rng(0, 12), rng(0, 12)}},
		{Kind: difftext.Different, Ranges: []difftext.Range{rng(12, 12), rng(12, 15)}},
	}
	got := classifyHunks(hunks, segments)
	require.Equal(t, map[vcsid.CommitId][]RangePair{
		c2: {{Left: rng(12, 12), Right: rng(12, 15)}},
	}, got)
}

// TestClassifyAmbiguousBoundaryInsert covers a pure insertion sitting
// exactly on the boundary between two annotation segments: neither segment
// can unambiguously claim it, so it is dropped.
func TestClassifyAmbiguousBoundaryInsert(t *testing.T) {
	segments := []Segment{
		{Range: rng(0, 6), CommitID: commitID("c1")},
		{Range: rng(6, 12), CommitID: commitID("c2")},
	}
	hunks := []difftext.Hunk{
		{Kind: difftext.Matching, Ranges: []difftext.Range{rng(0, 6), rng(0, 6)}},
		{Kind: difftext.Different, Ranges: []difftext.Range{rng(6, 6), rng(6, 9)}},
		{Kind: difftext.Matching, Ranges: []difftext.Range{rng(6, 12), rng(9, 15)}},
	}
	got := classifyHunks(hunks, segments)
	require.Empty(t, got)
}

// TestClassifyDeletionAcrossTwoRanges covers a deletion hunk spanning two
// contiguous, unmasked annotation segments: it is split across them.
func TestClassifyDeletionAcrossTwoRanges(t *testing.T) {
	c1, c2 := commitID("c1"), commitID("c2")
	segments := []Segment{
		{Range: rng(0, 6), CommitID: c1},
		{Range: rng(6, 12), CommitID: c2},
	}
	hunks := []difftext.Hunk{
		{Kind: difftext.Matching, Ranges: []difftext.Range{rng(0, 3), rng(0, 3)}},
		{Kind: difftext.Different, Ranges: []difftext.Range{rng(3, 12), rng(3, 3)}},
	}
	got := classifyHunks(hunks, segments)
	require.Equal(t, map[vcsid.CommitId][]RangePair{
		c1: {{Left: rng(3, 6), Right: rng(3, 3)}},
		c2: {{Left: rng(6, 12), Right: rng(3, 3)}},
	}, got)
}

// TestClassifyDeletionRejectedWhenSpanningMaskedRange confirms the default
// policy: a masked segment anywhere in a deletion's span rejects the whole
// hunk rather than partially absorbing it.
func TestClassifyDeletionRejectedWhenSpanningMaskedRange(t *testing.T) {
	c1 := commitID("c1")
	segments := []Segment{
		{Range: rng(0, 6), CommitID: c1},
		{Range: rng(6, 12), Masked: true},
	}
	hunks := []difftext.Hunk{
		{Kind: difftext.Different, Ranges: []difftext.Range{rng(3, 12), rng(3, 3)}},
	}
	got := classifyHunksWithPolicy(hunks, segments, true)
	require.Empty(t, got)

	gotLenient := classifyHunksWithPolicy(hunks, segments, false)
	require.Equal(t, map[vcsid.CommitId][]RangePair{
		c1: {{Left: rng(3, 6), Right: rng(3, 3)}},
	}, gotLenient)
}

// TestClassifyStraddlingModificationDropped covers a modification hunk
// (non-empty on both sides) that straddles two segments: it cannot be
// assigned to either, so it is dropped, unlike a pure deletion which may
// split.
func TestClassifyStraddlingModificationDropped(t *testing.T) {
	segments := []Segment{
		{Range: rng(0, 6), CommitID: commitID("c1")},
		{Range: rng(6, 12), CommitID: commitID("c2")},
	}
	hunks := []difftext.Hunk{
		{Kind: difftext.Different, Ranges: []difftext.Range{rng(3, 9), rng(3, 9)}},
	}
	got := classifyHunks(hunks, segments)
	require.Empty(t, got)
}
