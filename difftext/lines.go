// Package difftext implements the line-diff primitive spec.md §6 requires:
// Diff::by_line, used by both the merged-tree engine's file-conflict
// resolution and absorb's hunk classification.
//
// Grounded on modules/diferenco/myers.go's generic MyersDiff (itself ported
// from VS Code's default line-diff computer) and
// modules/diferenco/diferenco.go's Operation/Equal/Insert/Delete tags,
// adapted from arbitrary comparable sequences to byte-range line diffing.
package difftext

import "bytes"

// Operation tags a Hunk, mirroring diferenco.Operation.
type Operation int8

const (
	Matching Operation = iota
	Different
)

// Range is a half-open [Start, End) byte offset range into one input.
type Range struct {
	Start, End int
}

// Len returns the number of bytes the range spans.
func (r Range) Len() int { return r.End - r.Start }

// Empty reports whether the range spans zero bytes.
func (r Range) Empty() bool { return r.Start == r.End }

// Hunk is one aligned segment between two inputs: either both agree
// (Matching) or they diverge (Different), with one byte Range per input.
type Hunk struct {
	Kind   Operation
	Ranges []Range // Ranges[0] = left, Ranges[1] = right
}

// change mirrors diferenco.Change: a single edit at line position (p1, p2)
// deleting Del lines from the left and inserting Ins lines from the right.
type change struct {
	p1, p2   int
	del, ins int
}

// myersDiff runs the classic O(ND) Myers algorithm (ported from
// modules/diferenco/myers.go's generic implementation) over two comparable
// sequences and returns the edit script as a list of changes, in order.
func myersDiff[E comparable](seq1, seq2 []E) []change {
	if len(seq1) == 0 && len(seq2) == 0 {
		return nil
	}
	if len(seq1) == 0 {
		return []change{{ins: len(seq2)}}
	}
	if len(seq2) == 0 {
		return []change{{del: len(seq1)}}
	}

	n, m := len(seq1), len(seq2)
	max := n + m

	type snake struct {
		pre          *snake
		x, y, length int
	}

	getXAfterSnake := func(x, y int) int {
		for x < n && y < m && seq1[x] == seq2[y] {
			x++
			y++
		}
		return x
	}

	v := make(map[int]int, max*2)
	paths := make(map[int]*snake, max*2)
	v[0] = getXAfterSnake(0, 0)
	if v[0] != 0 {
		paths[0] = &snake{nil, 0, 0, v[0]}
	}

	var finalK int
	d := 0
outer:
	for {
		d++
		lower := -min(d, m+(d%2))
		upper := min(d, n+(d%2))
		for k := lower; k <= upper; k += 2 {
			var top, left = -1, -1
			if k != upper {
				top = v[k+1]
			}
			if k != lower {
				left = v[k-1] + 1
			}
			x := min(max2(top, left), n)
			y := x - k
			if x > n || y > m {
				continue
			}
			nx := getXAfterSnake(x, y)
			v[k] = nx
			var last *snake
			if x == top {
				last = paths[k+1]
			} else {
				last = paths[k-1]
			}
			if nx != x {
				paths[k] = &snake{last, x, y, nx - x}
			} else {
				paths[k] = last
			}
			if v[k] == n && v[k]-k == m {
				finalK = k
				break outer
			}
		}
	}

	p := paths[finalK]
	lastX, lastY := n, m
	var changes []change
	for {
		var endX, endY int
		if p != nil {
			endX = p.x + p.length
			endY = p.y + p.length
		}
		if endX != lastX || endY != lastY {
			changes = append(changes, change{p1: endX, p2: endY, del: lastX - endX, ins: lastY - endY})
		}
		if p == nil {
			break
		}
		lastX, lastY = p.x, p.y
		p = p.pre
	}
	for i, j := 0, len(changes)-1; i < j; i, j = j, i {
		changes[i], changes[j] = changes[j], changes[i]
	}
	return changes
}

func max2(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// splitLines splits content into lines, each retaining its trailing "\n"
// (if any) so byte ranges reconstruct the exact original content, returning
// both the lines and the cumulative byte offset of each line boundary.
func splitLines(content []byte) (lines []string, offsets []int) {
	offsets = append(offsets, 0)
	start := 0
	for start < len(content) {
		idx := bytes.IndexByte(content[start:], '\n')
		var end int
		if idx < 0 {
			end = len(content)
		} else {
			end = start + idx + 1
		}
		lines = append(lines, string(content[start:end]))
		offsets = append(offsets, end)
		start = end
	}
	return lines, offsets
}

// ByLine computes the Matching/Different hunks between two byte buffers,
// split on line boundaries, using Myers' algorithm. This is the two-input
// instantiation of Diff::by_line used directly by absorb (spec.md §4.E step
// 4) and by the merged-tree engine's three-way text merge (each pairwise
// comparison against the common base is one ByLine call).
func ByLine(left, right []byte) []Hunk {
	leftLines, leftOffsets := splitLines(left)
	rightLines, rightOffsets := splitLines(right)
	changes := myersDiff(leftLines, rightLines)

	hunks := make([]Hunk, 0, len(changes)*2+1)
	lastL, lastR := 0, 0
	for _, c := range changes {
		if c.p1 > lastL || c.p2 > lastR {
			hunks = append(hunks, Hunk{Kind: Matching, Ranges: []Range{
				{Start: leftOffsets[lastL], End: leftOffsets[c.p1]},
				{Start: rightOffsets[lastR], End: rightOffsets[c.p2]},
			}})
		}
		endL, endR := c.p1+c.del, c.p2+c.ins
		hunks = append(hunks, Hunk{Kind: Different, Ranges: []Range{
			{Start: leftOffsets[c.p1], End: leftOffsets[endL]},
			{Start: rightOffsets[c.p2], End: rightOffsets[endR]},
		}})
		lastL, lastR = endL, endR
	}
	if lastL < len(leftLines) || lastR < len(rightLines) {
		hunks = append(hunks, Hunk{Kind: Matching, Ranges: []Range{
			{Start: leftOffsets[lastL], End: leftOffsets[len(leftLines)]},
			{Start: rightOffsets[lastR], End: rightOffsets[len(rightLines)]},
		}})
	}
	return hunks
}
