package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/VladMinzatu/binsize/internal/paths"
	"github.com/VladMinzatu/binsize/internal/sizetree"
	"github.com/VladMinzatu/binsize/internal/symbols"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	clock := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}
	return s
}

func testTree(xSize int64) *sizetree.SizeNode {
	src := paths.ResolvedPath{Segments: []string{"src", "a.c"}}
	return sizetree.Build([]symbols.Entry{
		{Record: symbols.SymbolRecord{Name: "x", Size: xSize, Section: ".text", Address: 0x10, HasAddress: true, SourcePath: "src/a.c", Line: 4}, Path: src},
		{Record: symbols.SymbolRecord{Name: "helper", Size: 10, Section: ".text"}, Path: src},
		{Record: symbols.SymbolRecord{Name: "helper", Size: 6, Section: ".text"}, Path: src},
		{Record: symbols.SymbolRecord{Name: "w", Size: 7, Section: ".data"}},
	})
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	tree := testTree(20)

	snap, err := s.Save(ctx, "v1", "build/fw.elf", tree)
	require.NoError(t, err)
	assert.Equal(t, int64(43), snap.TotalSize)
	assert.Equal(t, 4, snap.Symbols)

	loaded, got, err := s.Load(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, snap, got)
	if diff := cmp.Diff(tree, loaded, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("loaded tree differs (-want +got):\n%s", diff)
	}
	require.NoError(t, loaded.Verify())
}

func TestStore_ListAndReplace(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Save(ctx, "v1", "", testTree(20))
	require.NoError(t, err)
	_, err = s.Save(ctx, "v2", "", testTree(45))
	require.NoError(t, err)
	_, err = s.Save(ctx, "v1", "", testTree(30))
	require.NoError(t, err)

	snaps, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, "v2", snaps[0].Name)
	assert.Equal(t, "v1", snaps[1].Name)
	assert.Equal(t, int64(53), snaps[1].TotalSize)
}

func TestStore_SectionHistory(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	_, err := s.Save(ctx, "v1", "", testTree(20))
	require.NoError(t, err)
	_, err = s.Save(ctx, "v2", "", testTree(45))
	require.NoError(t, err)

	hist, err := s.SectionHistory(ctx)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, map[string]int64{".text": 36, ".data": 7}, hist[0].Sizes)
	assert.Equal(t, map[string]int64{".text": 61, ".data": 7}, hist[1].Sizes)
	assert.Equal(t, []string{".data", ".text"}, Sections(hist))

	hist, err = s.SectionHistory(ctx, ".data")
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{".data": 7}, hist[1].Sizes)
}

func TestStore_Delete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	_, err := s.Save(ctx, "v1", "", testTree(20))
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, "v1"))
	_, _, err = s.Load(ctx, "v1")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(s.Delete(ctx, "v1"), ErrNotFound))

	hist, err := s.SectionHistory(ctx)
	require.NoError(t, err)
	assert.Empty(t, hist)

	var rows int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM section_sizes`).Scan(&rows))
	assert.Zero(t, rows, "section sizes are deleted with their snapshot")
}

func TestStore_SaveRejectsEmptyName(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Save(context.Background(), "", "", testTree(1))
	assert.Error(t, err)
}
