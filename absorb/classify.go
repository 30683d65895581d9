package absorb

import (
	"github.com/antgroup/mergevcs/difftext"
	"github.com/antgroup/mergevcs/vcsid"
)

// RangePair is one sub-hunk selected for a single destination commit: Left
// is the byte range of the original ("left") content it replaces, Right is
// the byte range of the new ("right") content it inserts.
type RangePair struct {
	Left, Right difftext.Range
}

// classifyHunks walks every Different hunk between left and right and
// assigns it (or splits it) to the destination commits its overlapping
// annotation segments name, per spec.md §4.E step 5. A hunk that cannot be
// unambiguously mapped is simply omitted from the result — the ambiguity
// contract requires silent dropping, not an error.
func classifyHunksWithPolicy(hunks []difftext.Hunk, segments []Segment, rejectMaskedDeletion bool) map[vcsid.CommitId][]RangePair {
	out := make(map[vcsid.CommitId][]RangePair)
	for _, h := range hunks {
		if h.Kind != difftext.Different {
			continue
		}
		left, right := h.Ranges[0], h.Ranges[1]
		if right.Empty() {
			assignDeletion(out, segments, left, right, rejectMaskedDeletion)
		} else {
			assignModification(out, segments, left, right)
		}
	}
	return out
}

// classifyHunks is classifyHunksWithPolicy under the default masked-deletion
// policy (spec.md §9 open-question decision: reject).
func classifyHunks(hunks []difftext.Hunk, segments []Segment) map[vcsid.CommitId][]RangePair {
	return classifyHunksWithPolicy(hunks, segments, true)
}

// assignDeletion implements the "pure deletion" rule: the hunk may span
// multiple contiguous annotation ranges, in which case it is split across
// them. When rejectMaskedDeletion is set, any masked range in the span
// rejects the whole hunk instead of being partially applied.
func assignDeletion(out map[vcsid.CommitId][]RangePair, segments []Segment, left, right difftext.Range, rejectMaskedDeletion bool) {
	i := 0
	for i < len(segments) && segments[i].Range.End <= left.Start {
		i++
	}
	var spanned []Segment
	for i < len(segments) {
		spanned = append(spanned, segments[i])
		if segments[i].Range.End >= left.End {
			break
		}
		i++
	}
	if len(spanned) == 0 {
		return
	}
	if spanned[0].Range.Start > left.Start {
		return
	}
	if spanned[len(spanned)-1].Range.End < left.End {
		return
	}
	for k := 1; k < len(spanned); k++ {
		if spanned[k-1].Range.End != spanned[k].Range.Start {
			return
		}
	}
	if rejectMaskedDeletion {
		for _, s := range spanned {
			if s.Masked {
				return
			}
		}
	}
	for _, s := range spanned {
		if s.Masked {
			continue
		}
		start := max(s.Range.Start, left.Start)
		end := min(s.Range.End, left.End)
		if start >= end {
			continue
		}
		out[s.CommitID] = append(out[s.CommitID], RangePair{
			Left:  difftext.Range{Start: start, End: end},
			Right: right,
		})
	}
}

// assignModification implements the "modification or pure insertion" rule:
// the hunk must fit inside exactly one annotation range. A pure insertion
// sitting exactly on the boundary between two ranges is rejected as
// ambiguous rather than guessed.
func assignModification(out map[vcsid.CommitId][]RangePair, segments []Segment, left, right difftext.Range) {
	if left.Empty() {
		p := left.Start
		for i, s := range segments {
			if s.Range.End == p && i+1 < len(segments) && segments[i+1].Range.Start == p {
				return
			}
		}
	}
	var target *Segment
	for i := range segments {
		s := &segments[i]
		if s.Range.Start <= left.Start && left.End <= s.Range.End {
			target = s
			break
		}
	}
	if target == nil || target.Masked {
		return
	}
	out[target.CommitID] = append(out[target.CommitID], RangePair{Left: left, Right: right})
}
