package sizediff

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VladMinzatu/binsize/internal/paths"
	"github.com/VladMinzatu/binsize/internal/sizetree"
	"github.com/VladMinzatu/binsize/internal/symbols"
)

func sym(name string, size int64, segs ...string) symbols.Entry {
	return symbols.Entry{
		Record: symbols.SymbolRecord{Name: name, Size: size, Section: ".text"},
		Path:   paths.ResolvedPath{Segments: segs},
	}
}

func addressed(name string, addr uint64, size int64, segs ...string) symbols.Entry {
	e := sym(name, size, segs...)
	e.Record.Address, e.Record.HasAddress = addr, true
	return e
}

func TestDiff_ChangedAndAddedSymbols(t *testing.T) {
	before := sizetree.Build([]symbols.Entry{sym("x", 10, "a.c")})
	after := sizetree.Build([]symbols.Entry{sym("x", 30, "a.c"), sym("y", 5, "a.c")})

	d := Diff(before, after)
	assert.EqualValues(t, 25, d.Delta)
	assert.Equal(t, StatusChanged, d.Status)

	file := d.Child("a.c")
	require.NotNil(t, file)
	x, y := file.Child("x"), file.Child("y")
	require.NotNil(t, x)
	require.NotNil(t, y)
	assert.Equal(t, StatusChanged, x.Status)
	assert.EqualValues(t, 20, x.Delta)
	assert.Equal(t, StatusAdded, y.Status)
	assert.EqualValues(t, 5, y.Delta)
	assert.EqualValues(t, 0, y.BeforeSize)

	assert.Equal(t, Summary{Added: 1, Changed: 1, Growth: 25}, d.Summary())
}

func TestDiff_Idempotent(t *testing.T) {
	tree := sizetree.Build([]symbols.Entry{
		sym("foo", 100, "src", "a.c"),
		sym("bar", 50, "src", "a.c"),
		addressed("h", 1, 3, "src", "b.c"),
		addressed("h", 2, 4, "src", "b.c"),
		{Record: symbols.SymbolRecord{Name: "ext", Size: 9}, Path: paths.Unresolved()},
	})

	d := Diff(tree, tree)
	d.Walk(func(path []string, n *DiffNode) bool {
		assert.Equal(t, StatusUnchanged, n.Status, "node %v", path)
		assert.Zero(t, n.Delta, "node %v", path)
		return true
	})
	assert.Empty(t, d.Changes())
	assert.Equal(t, 5, d.Summary().Unchanged)
}

func TestDiff_Additivity(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	random := func() *sizetree.SizeNode {
		var entries []symbols.Entry
		for i := 0; i < 60; i++ {
			dir := []string{"a", "b", "c"}[rng.Intn(3)]
			file := []string{"x.c", "y.c"}[rng.Intn(2)]
			name := []string{"f", "g", "h", "k"}[rng.Intn(4)]
			entries = append(entries, addressed(name, uint64(rng.Intn(1000)), rng.Int63n(500), dir, file))
		}
		tbl := symbols.NewTable()
		for _, e := range entries {
			tbl.Add(e.Record, e.Path)
		}
		return sizetree.FromTable(tbl)
	}

	for i := 0; i < 10; i++ {
		before, after := random(), random()
		d := Diff(before, after)
		require.EqualValues(t, after.TotalSize-before.TotalSize, d.Delta)
		d.Walk(func(path []string, n *DiffNode) bool {
			var sum int64
			for _, c := range n.Children {
				sum += c.Delta
			}
			if len(n.Children) > 0 {
				assert.Equal(t, n.Delta, sum, "node %v", path)
			}
			assert.Equal(t, n.AfterSize-n.BeforeSize, n.Delta, "node %v", path)
			return true
		})
	}
}

func TestDiff_UnevenSameNameGroupsPairInOrder(t *testing.T) {
	before := sizetree.Build([]symbols.Entry{
		addressed("helper", 0x10, 10, "a.c"),
		addressed("helper", 0x20, 20, "a.c"),
		addressed("helper", 0x30, 30, "a.c"),
	})
	after := sizetree.Build([]symbols.Entry{
		addressed("helper", 0x100, 10, "a.c"),
		addressed("helper", 0x200, 25, "a.c"),
	})

	file := Diff(before, after).Child("a.c")
	require.NotNil(t, file)
	require.Len(t, file.Children, 3)

	first, second, third := file.Child("helper"), file.Child("helper#2"), file.Child("helper#3")
	require.NotNil(t, first)
	require.NotNil(t, second)
	require.NotNil(t, third)
	assert.Equal(t, StatusUnchanged, first.Status)
	assert.Equal(t, StatusChanged, second.Status)
	assert.EqualValues(t, 5, second.Delta)
	assert.Equal(t, StatusRemoved, third.Status)
	assert.EqualValues(t, -30, third.Delta)
}

func TestDiff_NilSides(t *testing.T) {
	tree := sizetree.Build([]symbols.Entry{sym("foo", 8, "src", "a.c")})

	added := Diff(nil, tree)
	assert.Equal(t, StatusAdded, added.Status)
	assert.EqualValues(t, 8, added.Delta)
	assert.Equal(t, StatusAdded, added.Find("src", "a.c", "foo").Status)

	removed := Diff(tree, nil)
	assert.Equal(t, StatusRemoved, removed.Status)
	assert.EqualValues(t, -8, removed.Delta)

	empty := Diff(nil, nil)
	assert.Equal(t, StatusUnchanged, empty.Status)
	assert.Empty(t, empty.Children)
}

func TestDiff_MovedSymbolIsRemovedAndAdded(t *testing.T) {
	before := sizetree.Build([]symbols.Entry{sym("foo", 8, "old", "a.c")})
	after := sizetree.Build([]symbols.Entry{sym("foo", 8, "new", "a.c")})

	d := Diff(before, after)
	assert.Zero(t, d.Delta)
	assert.Equal(t, StatusChanged, d.Status)
	assert.Equal(t, StatusRemoved, d.Child("old").Status)
	assert.Equal(t, StatusAdded, d.Child("new").Status)

	changes := d.Changes()
	require.Len(t, changes, 2)
	assert.Equal(t, "new/a.c/foo", changes[0].Path)
	assert.Equal(t, "old/a.c/foo", changes[1].Path)
}

func TestDiff_ChildrenOrderedByAbsoluteDelta(t *testing.T) {
	before := sizetree.Build([]symbols.Entry{sym("a", 100, "f.c"), sym("b", 10, "f.c")})
	after := sizetree.Build([]symbols.Entry{sym("a", 90, "f.c"), sym("b", 60, "f.c")})

	file := Diff(before, after).Child("f.c")
	require.Len(t, file.Children, 2)
	assert.Equal(t, "b", file.Children[0].Label)
	assert.Equal(t, "a", file.Children[1].Label)
}

func TestDiff_FileKeepsIdentityWhenDirectoryAppears(t *testing.T) {
	before := sizetree.Build([]symbols.Entry{sym("f", 10, "gen")})
	after := sizetree.Build([]symbols.Entry{sym("f", 10, "gen"), sym("g", 4, "gen", "x.c")})

	d := Diff(before, after)
	file := d.Child("gen (file)")
	require.NotNil(t, file)
	assert.Equal(t, sizetree.KindFile, file.Kind)
	assert.Equal(t, "gen", file.Name)
	assert.Equal(t, StatusUnchanged, file.Status)
	assert.Equal(t, StatusUnchanged, file.Child("f").Status)

	dir := d.Child("gen")
	require.NotNil(t, dir)
	assert.Equal(t, sizetree.KindDirectory, dir.Kind)
	assert.Equal(t, StatusAdded, dir.Status)

	assert.Equal(t, Summary{Added: 1, Unchanged: 1, Growth: 4}, d.Summary())
}

func TestDiff_SiblingLabelsStayUnique(t *testing.T) {
	before := sizetree.Build([]symbols.Entry{sym("f", 10, "gen")})
	after := sizetree.Build([]symbols.Entry{sym("g", 4, "gen", "x.c")})

	d := Diff(before, after)
	require.Len(t, d.Children, 2)
	labels := map[string]*DiffNode{}
	for _, c := range d.Children {
		labels[c.Label] = c
	}
	require.Len(t, labels, 2)
	require.Contains(t, labels, "gen")
	require.Contains(t, labels, "gen (file)")
	assert.Equal(t, sizetree.KindDirectory, labels["gen"].Kind)
	assert.Equal(t, StatusAdded, labels["gen"].Status)
	assert.Equal(t, sizetree.KindFile, labels["gen (file)"].Kind)
	assert.Equal(t, StatusRemoved, labels["gen (file)"].Status)

	paths := map[string]bool{}
	for _, c := range d.Changes() {
		paths[c.Path] = true
	}
	assert.Equal(t, map[string]bool{"gen/x.c/g": true, "gen (file)/f": true}, paths)
}

func TestDiff_UnresolvedBucketMatchesStoredTree(t *testing.T) {
	ext := symbols.Entry{Record: symbols.SymbolRecord{Name: "ext", Size: 9, Section: ".text"}, Path: paths.Unresolved()}
	before := sizetree.Build([]symbols.Entry{ext})
	// trees stored before names were recorded carry labels only
	before.Walk(func(_ []string, n *sizetree.SizeNode) bool {
		n.Name, n.Unresolved = "", false
		return true
	})
	after := sizetree.Build([]symbols.Entry{ext, sym("real", 3, sizetree.UnresolvedLabel, "x.c")})

	d := Diff(before, after)
	bucket := d.Child(sizetree.UnresolvedLabel)
	require.NotNil(t, bucket)
	assert.True(t, bucket.Unresolved)
	assert.Equal(t, StatusUnchanged, bucket.Status)
	assert.Equal(t, StatusAdded, d.Child(sizetree.UnresolvedLabel+" (dir)").Status)
}
