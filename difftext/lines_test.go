package difftext

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestByLinePureInsertAtEnd(t *testing.T) {
	left := []byte("1a\n1b\n2a\n2b\n")
	right := []byte("1a\n1b\n2a\n2b\n2X\n")
	hunks := ByLine(left, right)
	require.Len(t, hunks, 2)
	require.Equal(t, Matching, hunks[0].Kind)
	require.Equal(t, Range{0, 12}, hunks[0].Ranges[0])
	require.Equal(t, Range{0, 12}, hunks[0].Ranges[1])
	require.Equal(t, Different, hunks[1].Kind)
	require.Equal(t, Range{12, 12}, hunks[1].Ranges[0])
	require.Equal(t, Range{12, 15}, hunks[1].Ranges[1])
}

func TestByLineDeletionAcrossRanges(t *testing.T) {
	left := []byte("1a\n1b\n2a\n2b\n")
	right := []byte("1a\n")
	hunks := ByLine(left, right)
	require.Len(t, hunks, 2)
	require.Equal(t, Matching, hunks[0].Kind)
	require.Equal(t, Range{0, 3}, hunks[0].Ranges[0])
	require.Equal(t, Range{0, 3}, hunks[0].Ranges[1])
	require.Equal(t, Different, hunks[1].Kind)
	require.Equal(t, Range{3, 12}, hunks[1].Ranges[0])
	require.Equal(t, Range{3, 3}, hunks[1].Ranges[1])
}

func TestByLineIdentical(t *testing.T) {
	content := []byte("a\nb\nc\n")
	hunks := ByLine(content, content)
	require.Len(t, hunks, 1)
	require.Equal(t, Matching, hunks[0].Kind)
}

func TestByLineAmbiguousBoundaryInsert(t *testing.T) {
	left := []byte("1a\n1b\n2a\n2b\n")
	right := []byte("1a\n1b\n3X\n2a\n2b\n")
	hunks := ByLine(left, right)
	require.Len(t, hunks, 3)
	require.Equal(t, Matching, hunks[0].Kind)
	require.Equal(t, Range{0, 6}, hunks[0].Ranges[0])
	require.Equal(t, Different, hunks[1].Kind)
	require.Equal(t, Range{6, 6}, hunks[1].Ranges[0])
	require.Equal(t, Range{6, 9}, hunks[1].Ranges[1])
	require.Equal(t, Matching, hunks[2].Kind)
	require.Equal(t, Range{6, 12}, hunks[2].Ranges[0])
}
