package merge

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func eqInt(a, b int) bool { return a == b }

func TestResolvedIsArityZero(t *testing.T) {
	m := Resolved(5)
	require.True(t, m.IsResolved())
	require.Equal(t, 0, m.Arity())
	v, ok := m.AsResolved()
	require.True(t, ok)
	require.Equal(t, 5, v)
}

func TestSimplifyCancelsEqualPair(t *testing.T) {
	// [1, 1, 2] -> add 1 cancels with remove 1, leaving [2].
	m := New([]int{1, 1, 2})
	simplified := Simplify(m, eqInt)
	v, ok := simplified.AsResolved()
	require.True(t, ok)
	require.Equal(t, 2, v)
}

func TestSimplifyNoCancellation(t *testing.T) {
	m := New([]int{1, 9, 2})
	simplified := Simplify(m, eqInt)
	require.False(t, simplified.IsResolved())
	require.Equal(t, []int{1, 9, 2}, simplified.Values())
}

func TestResolveTrivialTwoAddsRemainAfterCancellation(t *testing.T) {
	// Arity 2: [1, 1, 2, 9, 2]. Removes are at odd positions [1, 9]; adds at
	// even positions [1, 2, 2]. Remove 1 cancels add 1; remove 9 cancels
	// nothing so stays. Surviving adds [2, 2], surviving removes [9] ->
	// not resolved trivially since two adds remain.
	m := New([]int{1, 1, 2, 9, 2})
	_, ok := ResolveTrivial(m, eqInt)
	require.False(t, ok)
}

func TestResolveTrivialAllCancel(t *testing.T) {
	// [1, 1, 2, 2, 3] -> remove1=1 cancels add0=1; remove2=2 cancels add1=2;
	// leaves add2=3 as the unique surviving add.
	m := New([]int{1, 1, 2, 2, 3})
	v, ok := ResolveTrivial(m, eqInt)
	require.True(t, ok)
	require.Equal(t, 3, v)
}

func TestFlatten(t *testing.T) {
	a := New([]int{1, 2, 3})
	b := Resolved(9)
	c := New([]int{4, 5, 6})
	flat := Flatten(a, b, c)
	require.Equal(t, []int{1, 2, 3, 9, 4, 5, 6}, flat.Values())
	require.Equal(t, 3, flat.Arity())
}

func TestMap(t *testing.T) {
	m := New([]int{1, 2, 3})
	doubled := Map(m, func(v int) int { return v * 2 })
	require.Equal(t, []int{2, 4, 6}, doubled.Values())
}

func TestAddsAndRemoves(t *testing.T) {
	m := New([]int{10, 20, 30, 40, 50})
	require.Equal(t, []int{10, 30, 50}, m.Adds())
	require.Equal(t, []int{20, 40}, m.Removes())
}
