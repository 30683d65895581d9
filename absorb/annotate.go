// Package absorb implements spec.md §4.E: moving hunks from a source commit
// down into the ancestors that last modified the corresponding lines.
//
// The annotation half is grounded on pkg/zeta/blame.go's reverse-history
// walk: a priority queue of (commit, needed-line-set) items, processed from
// most recent to oldest, where each item's needs are either resolved to that
// commit or forwarded to whichever parent still carries the matching
// content. That engine blames a file as of a real commit; here we blame
// content as of a commit's *parent* (the "left" side of a diff against S),
// so the walk is seeded at S's parent(s) directly instead of at S itself.
// Positions replace the teacher's *object.Commit-keyed priority queue (gods
// binaryheap on Position, mirroring index.ancestorWalk) since this engine
// already has a dense topological order to sort by, instead of a commit
// timestamp comparator.
package absorb

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/emirpasic/gods/trees/binaryheap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/antgroup/mergevcs/difftext"
	"github.com/antgroup/mergevcs/index"
	"github.com/antgroup/mergevcs/merge"
	"github.com/antgroup/mergevcs/mergedtree"
	"github.com/antgroup/mergevcs/object"
	"github.com/antgroup/mergevcs/store"
	"github.com/antgroup/mergevcs/vcsid"
)

// DefaultBatchSize is the fan-out used when a caller passes a non-positive
// batch size to Annotate: fetching every parent's content sequentially, the
// same as batchSize 1.
const DefaultBatchSize = 1

// Segment is one contiguous, compacted run of annotation over the left
// content: either attributed to a single commit, or Masked when no commit in
// the destination set introduced it (spec.md §4.E step 3).
type Segment struct {
	Range    difftext.Range
	CommitID vcsid.CommitId
	Masked   bool
}

// lineMap tracks, for one line still being traced backward through history,
// the coordinate it should be reported at in the item that raised this
// need (orig) and the coordinate it occupies in the item currently being
// resolved (cur), mirroring the teacher's lineMap.
type lineMap struct {
	orig, cur    int
	commit       index.Position
	resolved     bool
	fromParentNo int
}

type childToNeedsMap struct {
	child            *queueItem
	needsMap         []lineMap
	identicalToChild bool
	parentNo         int
}

type queueItem struct {
	child                   *queueItem
	mergedChildren          []childToNeedsMap
	pos                     index.Position
	lines                   []string
	needsMap                []lineMap
	numParentsNeedResolving int
	identicalToChild        bool
	parentNo                int
}

func queueItemDesc(a, b any) int {
	ia, ib := a.(*queueItem), b.(*queueItem)
	switch {
	case ia.pos < ib.pos:
		return 1
	case ia.pos > ib.pos:
		return -1
	default:
		return 0
	}
}

type blamer struct {
	idx        *index.Index
	st         store.Store
	path       string
	heap       *binaryheap.Heap
	finalNeeds []lineMap
	batchSize  int
}

func splitLines(content []byte) []string {
	var lines []string
	start := 0
	for start < len(content) {
		i := bytes.IndexByte(content[start:], '\n')
		var end int
		if i < 0 {
			end = len(content)
		} else {
			end = start + i + 1
		}
		lines = append(lines, string(content[start:end]))
		start = end
	}
	return lines
}

func joinLines(lines []string) string {
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l)
	}
	return b.String()
}

func lineOffsets(lines []string) []int {
	offsets := make([]int, len(lines)+1)
	for i, l := range lines {
		offsets[i+1] = offsets[i] + len(l)
	}
	return offsets
}

func findLineRange(offsets []int, r difftext.Range) (int, int) {
	lo := sort.SearchInts(offsets, r.Start)
	hi := sort.SearchInts(offsets, r.End)
	return lo, hi
}

func splitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// rootMergedTree builds the MergedTree rooted at id, the same pattern
// mergedtree.Builder.Write uses to materialize a MergedTreeID's terms.
func rootMergedTree(ctx context.Context, st store.Store, id object.MergedTreeID) (*mergedtree.MergedTree, error) {
	terms := make([]*object.Tree, len(id.Terms))
	for i, tid := range id.Terms {
		t, err := st.GetTree(ctx, "", tid)
		if err != nil {
			return nil, err
		}
		terms[i] = t
	}
	return mergedtree.New("", st, merge.New(terms)), nil
}

// fileContentAt loads the byte content of path at the commit occupying pos,
// if it resolves unambiguously to a file there. present is false for any
// other case (absent, conflict, tree, symlink) so the caller treats it as
// "nothing to forward to this parent".
func fileContentAt(ctx context.Context, st store.Store, idx *index.Index, pos index.Position, path string) ([]byte, bool, error) {
	entry := idx.EntryByPos(pos)
	c, err := st.GetCommit(ctx, entry.CommitID)
	if err != nil {
		return nil, false, err
	}
	root, err := rootMergedTree(ctx, st, c.RootTree)
	if err != nil {
		return nil, false, err
	}
	val, err := root.PathValue(ctx, splitPath(path))
	if err != nil {
		return nil, false, err
	}
	if !val.IsResolved || !val.Resolved.Present || val.Resolved.Value.Kind != object.KindFile {
		return nil, false, nil
	}
	rc, err := st.ReadFile(ctx, path, val.Resolved.Value.FileID)
	if err != nil {
		return nil, false, err
	}
	defer rc.Close()
	content, err := io.ReadAll(rc)
	if err != nil {
		return nil, false, err
	}
	return content, true, nil
}

// annotateLines blames leftLines (content known to belong to the tree just
// before S's own change) back through the ancestry rooted at seed, returning
// the introducing commit's position for every line. batchSize bounds how
// many of a merge commit's parents have their content fetched concurrently;
// non-positive means sequential (DefaultBatchSize).
func annotateLines(ctx context.Context, idx *index.Index, st store.Store, seed index.Position, path string, leftLines []string, batchSize int) ([]index.Position, error) {
	if len(leftLines) == 0 {
		return nil, nil
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	needs := make([]lineMap, len(leftLines))
	for i := range needs {
		needs[i] = lineMap{orig: i, cur: i, fromParentNo: -1}
	}
	b := &blamer{idx: idx, st: st, path: path, heap: binaryheap.NewWith(queueItemDesc), finalNeeds: needs, batchSize: batchSize}
	b.heap.Push(&queueItem{pos: seed, lines: leftLines, needsMap: needs, parentNo: -1})

	for {
		v, ok := b.heap.Pop()
		if !ok {
			return nil, fmt.Errorf("absorb: annotate: exhausted walk before every line resolved")
		}
		first := v.(*queueItem)
		group := []*queueItem{first}
		for {
			v2, ok2 := b.heap.Pop()
			if !ok2 {
				break
			}
			it := v2.(*queueItem)
			if it.pos != first.pos {
				b.heap.Push(it)
				break
			}
			group = append(group, it)
		}
		finished, err := b.addBlames(ctx, group)
		if err != nil {
			return nil, err
		}
		if finished {
			break
		}
	}

	out := make([]index.Position, len(leftLines))
	for i, lm := range b.finalNeeds {
		if !lm.resolved {
			return nil, fmt.Errorf("absorb: annotate: line %d never resolved", i)
		}
		out[i] = lm.commit
	}
	return out, nil
}

func (b *blamer) addBlames(ctx context.Context, items []*queueItem) (bool, error) {
	cur := items[0]

	if len(items) == 1 {
		items = nil
	} else if cur.identicalToChild {
		allSame := true
		lowestParentNo := cur.parentNo
		for i := 1; i < len(items); i++ {
			if !items[i].identicalToChild || cur.child != items[i].child {
				allSame = false
				break
			}
			if items[i].parentNo < lowestParentNo {
				lowestParentNo = items[i].parentNo
			}
		}
		if allSame {
			cur.child.numParentsNeedResolving -= len(items) - 1
			items = nil
			cur.parentNo = lowestParentNo
			for cur.child.identicalToChild && cur.child.mergedChildren == nil && cur.child.numParentsNeedResolving == 1 {
				old := cur.child
				cur.child = old.child
				cur.parentNo = old.parentNo
			}
		}
	}

	if len(items) > 1 {
		cur.mergedChildren = make([]childToNeedsMap, len(items))
		for i, it := range items {
			cur.mergedChildren[i] = childToNeedsMap{it.child, it.needsMap, it.identicalToChild, it.parentNo}
		}
		merged := append([]lineMap(nil), items[0].needsMap...)
		for i := 1; i < len(items); i++ {
			merged = mergeNeedsMaps(merged, items[i].needsMap)
		}
		cur.needsMap = merged
		cur.identicalToChild = false
		cur.child = nil
	}

	entry := b.idx.EntryByPos(cur.pos)
	anyPushed := false
	curContent := joinLines(cur.lines)

	type parentFetch struct {
		lines   []string
		present bool
	}
	fetches := make([]parentFetch, len(entry.ParentPositions))
	if len(entry.ParentPositions) <= 1 || b.batchSize <= 1 {
		for parentNo, parentPos := range entry.ParentPositions {
			lines, present, err := fileContentAtLines(ctx, b.st, b.idx, parentPos, b.path)
			if err != nil {
				return false, err
			}
			fetches[parentNo] = parentFetch{lines: lines, present: present}
		}
	} else {
		sem := semaphore.NewWeighted(int64(b.batchSize))
		g, gctx := errgroup.WithContext(ctx)
		for parentNo, parentPos := range entry.ParentPositions {
			parentNo, parentPos := parentNo, parentPos
			if err := sem.Acquire(gctx, 1); err != nil {
				return false, err
			}
			g.Go(func() error {
				defer sem.Release(1)
				lines, present, err := fileContentAtLines(gctx, b.st, b.idx, parentPos, b.path)
				if err != nil {
					return err
				}
				fetches[parentNo] = parentFetch{lines: lines, present: present}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return false, err
		}
	}

	for parentNo, parentPos := range entry.ParentPositions {
		fetch := fetches[parentNo]
		if !fetch.present {
			continue
		}
		parentLines := fetch.lines
		parentContent := joinLines(parentLines)
		if parentContent == curContent {
			if len(entry.ParentPositions) == 1 && cur.mergedChildren == nil && cur.identicalToChild {
				b.heap.Push(&queueItem{
					child: cur.child, pos: parentPos, lines: parentLines,
					needsMap: cur.needsMap, identicalToChild: true, parentNo: cur.parentNo,
				})
			} else {
				b.heap.Push(&queueItem{
					child: cur, pos: parentPos, lines: parentLines,
					needsMap:         append([]lineMap(nil), cur.needsMap...),
					identicalToChild: true, parentNo: parentNo,
				})
				cur.numParentsNeedResolving++
			}
			anyPushed = true
			continue
		}

		hunks := difftext.ByLine([]byte(parentContent), []byte(curContent))
		getFromParent := translateNeeds(hunks, parentLines, cur.lines, cur.needsMap)
		if len(getFromParent) > 0 {
			b.heap.Push(&queueItem{
				child: cur, pos: parentPos, lines: parentLines,
				needsMap: getFromParent, parentNo: parentNo,
			})
			cur.numParentsNeedResolving++
			anyPushed = true
		}
	}

	cur.lines = nil
	if !anyPushed {
		return b.finishNeeds(cur)
	}
	return false, nil
}

func fileContentAtLines(ctx context.Context, st store.Store, idx *index.Index, pos index.Position, path string) ([]string, bool, error) {
	content, present, err := fileContentAt(ctx, st, idx, pos, path)
	if err != nil || !present {
		return nil, present, err
	}
	return splitLines(content), true, nil
}

// translateNeeds maps cur's outstanding needs (in cur's own line numbering)
// back into parentLines' numbering, following only Matching hunks; lines
// introduced by a Different hunk's right side stay unresolved at cur's own
// commit (spec.md §4.E's annotation is silent on this, so this mirrors the
// teacher's blame exactly: an inserted line is not forwarded past the commit
// that inserted it).
func translateNeeds(hunks []difftext.Hunk, parentLines, curLines []string, needs []lineMap) []lineMap {
	if len(needs) == 0 {
		return nil
	}
	parentOffsets := lineOffsets(parentLines)
	curOffsets := lineOffsets(curLines)
	var out []lineMap
	need := 0
	for _, h := range hunks {
		leftLo, _ := findLineRange(parentOffsets, h.Ranges[0])
		rightLo, rightHi := findLineRange(curOffsets, h.Ranges[1])
		switch h.Kind {
		case difftext.Matching:
			for i := 0; rightLo+i < rightHi; i++ {
				curIdx := rightLo + i
				parentIdx := leftLo + i
				if need >= len(needs) {
					return out
				}
				if needs[need].cur == curIdx {
					out = append(out, lineMap{orig: needs[need].cur, cur: parentIdx, fromParentNo: -1})
					need++
				}
			}
		case difftext.Different:
			for curIdx := rightLo; curIdx < rightHi; curIdx++ {
				if need >= len(needs) {
					return out
				}
				if needs[need].cur == curIdx {
					need++
				}
			}
		}
		if need >= len(needs) {
			break
		}
	}
	return out
}

func mergeNeedsMaps(a, b []lineMap) []lineMap {
	out := append([]lineMap(nil), a...)
	n, c := 0, 0
	for c < len(b) {
		if n == len(out) {
			out = append(out, b[c:]...)
			break
		}
		switch {
		case out[n].cur == b[c].cur:
			n++
			c++
		case out[n].cur < b[c].cur:
			n++
		default:
			out = append(out, lineMap{})
			copy(out[n+1:], out[n:])
			out[n] = b[c]
			n++
			c++
		}
	}
	return out
}

func (b *blamer) finishNeeds(cur *queueItem) (bool, error) {
	for i := range cur.needsMap {
		if !cur.needsMap[i].resolved {
			cur.needsMap[i].commit = cur.pos
			cur.needsMap[i].resolved = true
			cur.needsMap[i].fromParentNo = -1
		}
	}
	if cur.child == nil && cur.mergedChildren == nil {
		return true, nil
	}
	if cur.mergedChildren == nil {
		return b.applyNeeds(cur.child, cur.needsMap, cur.identicalToChild, cur.parentNo)
	}
	for _, ctn := range cur.mergedChildren {
		m, p := 0, 0
		for p < len(ctn.needsMap) {
			if m < len(cur.needsMap) && ctn.needsMap[p].cur == cur.needsMap[m].cur {
				ctn.needsMap[p].commit = cur.needsMap[m].commit
				ctn.needsMap[p].resolved = true
				m++
				p++
			} else if m < len(cur.needsMap) && ctn.needsMap[p].cur < cur.needsMap[m].cur {
				p++
			} else {
				m++
				if m >= len(cur.needsMap) {
					break
				}
			}
		}
		finished, err := b.applyNeeds(ctn.child, ctn.needsMap, ctn.identicalToChild, ctn.parentNo)
		if finished || err != nil {
			return finished, err
		}
	}
	return false, nil
}

func (b *blamer) applyNeeds(child *queueItem, needsMap []lineMap, identicalToChild bool, parentNo int) (bool, error) {
	if identicalToChild {
		for i := range child.needsMap {
			l := &child.needsMap[i]
			if i >= len(needsMap) || l.cur != needsMap[i].cur {
				return false, fmt.Errorf("absorb: annotate: needs map misaligned on identical chain")
			}
			if !l.resolved || parentNo < l.fromParentNo {
				l.commit = needsMap[i].commit
				l.resolved = true
				l.fromParentNo = parentNo
			}
		}
	} else {
		i := 0
	out:
		for j := range child.needsMap {
			l := &child.needsMap[j]
			for i < len(needsMap) && needsMap[i].orig < l.cur {
				i++
			}
			if i == len(needsMap) {
				break out
			}
			if l.cur == needsMap[i].orig {
				if !l.resolved || parentNo < l.fromParentNo {
					l.commit = needsMap[i].commit
					l.resolved = true
					l.fromParentNo = parentNo
				}
			}
		}
	}
	child.numParentsNeedResolving--
	if child.numParentsNeedResolving == 0 {
		return b.finishNeeds(child)
	}
	return false, nil
}

// Annotate partitions leftContent into commit-attributed, compacted segments
// (spec.md §4.E step 3): the destination membership test `contains` decides
// whether each introducing commit counts as "in D" or leaves the segment
// Masked.
//
// parents are S's parent commit ids; when there is more than one (a merge
// commit), the baseline is whichever parent's own content at path matches
// leftContent byte-for-byte — the parent that the non-conflicted merged
// value at this path actually came from. If none matches (defensive; the
// caller only reaches here for paths with a resolved non-conflict value in
// P), the whole content is reported as a single masked segment.
//
// batchSize bounds the number of a merge commit's parents fetched
// concurrently while walking the ancestry; non-positive falls back to
// DefaultBatchSize (sequential).
func Annotate(ctx context.Context, idx *index.Index, st store.Store, parents []vcsid.CommitId, path string, leftContent []byte, batchSize int, contains func(context.Context, vcsid.CommitId) (bool, error)) ([]Segment, error) {
	lines := splitLines(leftContent)
	if len(lines) == 0 {
		return nil, nil
	}

	var seed index.Position
	found := false
	for _, p := range parents {
		pos, ok := idx.CommitIDToPos(p)
		if !ok {
			continue
		}
		content, present, err := fileContentAt(ctx, st, idx, pos, path)
		if err != nil {
			return nil, err
		}
		if present && bytes.Equal(content, leftContent) {
			seed = pos
			found = true
			break
		}
	}
	if !found {
		return []Segment{{Range: difftext.Range{Start: 0, End: len(leftContent)}, Masked: true}}, nil
	}

	resolved, err := annotateLines(ctx, idx, st, seed, path, lines, batchSize)
	if err != nil {
		return nil, err
	}

	offsets := lineOffsets(lines)
	var segments []Segment
	for i, pos := range resolved {
		commitID := idx.EntryByPos(pos).CommitID
		in, err := contains(ctx, commitID)
		if err != nil {
			return nil, err
		}
		seg := Segment{Range: difftext.Range{Start: offsets[i], End: offsets[i+1]}, CommitID: commitID, Masked: !in}
		if n := len(segments); n > 0 && segments[n-1].Masked == seg.Masked && (seg.Masked || segments[n-1].CommitID == seg.CommitID) && segments[n-1].Range.End == seg.Range.Start {
			segments[n-1].Range.End = seg.Range.End
			continue
		}
		segments = append(segments, seg)
	}
	return segments, nil
}
