package mergedtree

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/antgroup/mergevcs/matcher"
	"github.com/antgroup/mergevcs/merge"
	"github.com/antgroup/mergevcs/object"
	"github.com/antgroup/mergevcs/store/memstore"
)

func writeFile(t *testing.T, ctx context.Context, st *memstore.Store, content string) object.TreeValue {
	t.Helper()
	id, err := st.WriteFile(ctx, "", strings.NewReader(content))
	require.NoError(t, err)
	return object.File(id, false)
}

func buildTree(t *testing.T, ctx context.Context, st *memstore.Store, entries map[string]object.TreeValue) *object.Tree {
	t.Helper()
	var es []object.TreeEntry
	for name, v := range entries {
		es = append(es, object.TreeEntry{Name: name, Value: v})
	}
	tree := object.NewTree(es)
	_, err := st.WriteTree(ctx, "", tree)
	require.NoError(t, err)
	return tree
}

func TestResolvedArityZero(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	tree := buildTree(t, ctx, st, map[string]object.TreeValue{
		"a.txt": writeFile(t, ctx, st, "hello\n"),
	})
	mt := Resolved("", st, tree)
	require.True(t, mt.IsResolved())
	require.Equal(t, 0, mt.Arity())
}

func TestValueResolvedWhenAllTermsAgree(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	fileVal := writeFile(t, ctx, st, "same\n")
	t1 := buildTree(t, ctx, st, map[string]object.TreeValue{"a.txt": fileVal})
	t2 := buildTree(t, ctx, st, map[string]object.TreeValue{"a.txt": fileVal})
	t3 := buildTree(t, ctx, st, map[string]object.TreeValue{"a.txt": fileVal})
	mt := New("", st, merge.New([]*object.Tree{t1, t2, t3}))
	v := mt.Value("a.txt")
	require.True(t, v.IsResolved)
	require.True(t, v.Resolved.Present)
}

func TestValueConflictWhenTermsDisagree(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	a := writeFile(t, ctx, st, "a content\n")
	b := writeFile(t, ctx, st, "b content\n")
	base := writeFile(t, ctx, st, "base content\n")
	t1 := buildTree(t, ctx, st, map[string]object.TreeValue{"f.txt": a})
	t2 := buildTree(t, ctx, st, map[string]object.TreeValue{"f.txt": base})
	t3 := buildTree(t, ctx, st, map[string]object.TreeValue{"f.txt": b})
	mt := New("", st, merge.New([]*object.Tree{t1, t2, t3}))
	v := mt.Value("f.txt")
	require.False(t, v.IsResolved)
	require.Equal(t, 3, v.Conflict.Len())
}

func TestResolveTrivialCancellationAcrossDeletion(t *testing.T) {
	// self adds a new file no one else touched; base/other never had it.
	// That alone doesn't conflict since only one side touches the path.
	ctx := context.Background()
	st := memstore.New()
	newFile := writeFile(t, ctx, st, "new\n")
	self := buildTree(t, ctx, st, map[string]object.TreeValue{"new.txt": newFile})
	base := buildTree(t, ctx, st, map[string]object.TreeValue{})
	other := buildTree(t, ctx, st, map[string]object.TreeValue{})

	merged, err := Merge(ctx, Resolved("", st, self), Resolved("", st, base), Resolved("", st, other))
	require.NoError(t, err)
	require.True(t, merged.IsResolved())
	resolvedTree, ok := merged.AsResolvedTree()
	require.True(t, ok)
	_, present := resolvedTree.Get("new.txt")
	require.True(t, present)
}

func TestMergeResolvesNonOverlappingTextChanges(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	baseContent := "line1\nline2\nline3\n"
	oursContent := "line1\nline2 changed\nline3\n"
	theirsContent := "line1\nline2\nline3 changed\n"

	baseFile := writeFile(t, ctx, st, baseContent)
	oursFile := writeFile(t, ctx, st, oursContent)
	theirsFile := writeFile(t, ctx, st, theirsContent)

	selfTree := buildTree(t, ctx, st, map[string]object.TreeValue{"f.txt": oursFile})
	baseTree := buildTree(t, ctx, st, map[string]object.TreeValue{"f.txt": baseFile})
	otherTree := buildTree(t, ctx, st, map[string]object.TreeValue{"f.txt": theirsFile})

	merged, err := Merge(ctx, Resolved("", st, selfTree), Resolved("", st, baseTree), Resolved("", st, otherTree))
	require.NoError(t, err)
	require.True(t, merged.IsResolved())

	resolvedTree, ok := merged.AsResolvedTree()
	require.True(t, ok)
	v, present := resolvedTree.Get("f.txt")
	require.True(t, present)

	r, err := st.ReadFile(ctx, "", v.FileID)
	require.NoError(t, err)
	defer r.Close()
	content, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "line1\nline2 changed\nline3 changed\n", string(content))
}

func TestMergeLeavesOverlappingConflictUnresolved(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	baseFile := writeFile(t, ctx, st, "line1\n")
	oursFile := writeFile(t, ctx, st, "line1 ours\n")
	theirsFile := writeFile(t, ctx, st, "line1 theirs\n")

	selfTree := buildTree(t, ctx, st, map[string]object.TreeValue{"f.txt": oursFile})
	baseTree := buildTree(t, ctx, st, map[string]object.TreeValue{"f.txt": baseFile})
	otherTree := buildTree(t, ctx, st, map[string]object.TreeValue{"f.txt": theirsFile})

	merged, err := Merge(ctx, Resolved("", st, selfTree), Resolved("", st, baseTree), Resolved("", st, otherTree))
	require.NoError(t, err)
	require.False(t, merged.IsResolved())
}

func TestDiffPureAddition(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	before := buildTree(t, ctx, st, map[string]object.TreeValue{})
	after := buildTree(t, ctx, st, map[string]object.TreeValue{
		"new.txt": writeFile(t, ctx, st, "hi\n"),
	})
	entries, err := Diff(ctx, Resolved("", st, before), Resolved("", st, after), matcher.Everything)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "new.txt", entries[0].Path)
	require.False(t, entries[0].Before.Resolved.Present)
	require.True(t, entries[0].After.Resolved.Present)
}

func TestDiffNoChangesEmpty(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	fileVal := writeFile(t, ctx, st, "same\n")
	tree := buildTree(t, ctx, st, map[string]object.TreeValue{"a.txt": fileVal})
	entries, err := Diff(ctx, Resolved("", st, tree), Resolved("", st, tree), matcher.Everything)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestDiffDirReplacedByFileOrdersRemovalsBeforeReplacement(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	innerFile := writeFile(t, ctx, st, "inner\n")
	subTree := buildTree(t, ctx, st, map[string]object.TreeValue{"nested.txt": innerFile})
	before := buildTree(t, ctx, st, map[string]object.TreeValue{
		"d": object.SubTree(subTree.ID()),
	})
	after := buildTree(t, ctx, st, map[string]object.TreeValue{
		"d": writeFile(t, ctx, st, "now a file\n"),
	})

	entries, err := Diff(ctx, Resolved("", st, before), Resolved("", st, after), matcher.Everything)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "d/nested.txt", entries[0].Path)
	require.True(t, entries[0].Before.Resolved.Present)
	require.False(t, entries[0].After.Resolved.Present)
	require.Equal(t, "d", entries[1].Path)
	require.True(t, entries[1].Before.IsResolved)
	require.False(t, entries[1].Before.Resolved.Present, "tree side of a tree/file transition must report Absent, not the tree value")
	require.True(t, entries[1].After.Resolved.Present)
}

func TestDiffFileReplacedByDirOrdersReplacementBeforeAdditions(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	innerFile := writeFile(t, ctx, st, "inner\n")
	subTree := buildTree(t, ctx, st, map[string]object.TreeValue{"nested.txt": innerFile})
	before := buildTree(t, ctx, st, map[string]object.TreeValue{
		"d": writeFile(t, ctx, st, "was a file\n"),
	})
	after := buildTree(t, ctx, st, map[string]object.TreeValue{
		"d": object.SubTree(subTree.ID()),
	})

	entries, err := Diff(ctx, Resolved("", st, before), Resolved("", st, after), matcher.Everything)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "d", entries[0].Path)
	require.True(t, entries[0].Before.Resolved.Present)
	require.True(t, entries[0].After.IsResolved)
	require.False(t, entries[0].After.Resolved.Present, "tree side of a file/tree transition must report Absent, not the tree value")
	require.Equal(t, "d/nested.txt", entries[1].Path)
	require.False(t, entries[1].Before.Resolved.Present)
	require.True(t, entries[1].After.Resolved.Present)
}

func TestDiffStreamMatchesDiffAtTreeTransition(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	innerFile := writeFile(t, ctx, st, "inner\n")
	subTree := buildTree(t, ctx, st, map[string]object.TreeValue{"nested.txt": innerFile})
	before := buildTree(t, ctx, st, map[string]object.TreeValue{
		"d": object.SubTree(subTree.ID()),
	})
	after := buildTree(t, ctx, st, map[string]object.TreeValue{
		"d": writeFile(t, ctx, st, "now a file\n"),
	})

	want, err := Diff(ctx, Resolved("", st, before), Resolved("", st, after), matcher.Everything)
	require.NoError(t, err)
	got, err := DiffStream(ctx, Resolved("", st, before), Resolved("", st, after), matcher.Everything)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestFromLegacyNoConflictsIsResolved(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	tree := buildTree(t, ctx, st, map[string]object.TreeValue{
		"a.txt": writeFile(t, ctx, st, "content\n"),
	})
	mt, err := FromLegacy(ctx, "", st, tree)
	require.NoError(t, err)
	require.True(t, mt.IsResolved())
}

func TestBuilderSetOrRemove(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	base := buildTree(t, ctx, st, map[string]object.TreeValue{
		"a.txt": writeFile(t, ctx, st, "a\n"),
	})
	baseID := object.ResolvedTreeID(base.ID())

	b := NewBuilder(st, baseID)
	newFile := writeFile(t, ctx, st, "b\n")
	b.SetOrRemove("b.txt", merge.Resolved(object.Some(newFile)))
	result, err := b.Write(ctx)
	require.NoError(t, err)
	require.True(t, result.IsResolved())

	tree, err := st.GetTree(ctx, "", result.Terms[0])
	require.NoError(t, err)
	_, aPresent := tree.Get("a.txt")
	_, bPresent := tree.Get("b.txt")
	require.True(t, aPresent)
	require.True(t, bPresent)
}
