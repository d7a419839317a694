package definitions

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VladMinzatu/binsize/internal/symbols"
)

const sampleC = `#include <stdio.h>

extern int shared_counter;
int prototype_only(int x);

static const char greeting[] = "hello";
int counter = 0, *other_ptr;

static int helper(int x)
{
    return x * 2;
}

char *make_name(void)
{
    return NULL;
}

#ifdef FEATURE
int feature_flag;
#endif
`

func TestParseC(t *testing.T) {
	defs, err := ParseC(context.Background(), "src/a.c", []byte(sampleC))
	require.NoError(t, err)

	byName := map[string]Definition{}
	for _, d := range defs {
		byName[d.Name] = d
	}
	assert.NotContains(t, byName, "shared_counter")
	assert.NotContains(t, byName, "prototype_only")

	assert.Equal(t, Definition{Name: "greeting", File: "src/a.c", Line: 6, Kind: KindVariable, Static: true}, byName["greeting"])
	assert.Equal(t, 7, byName["counter"].Line)
	assert.Contains(t, byName, "other_ptr")
	assert.Equal(t, Definition{Name: "helper", File: "src/a.c", Line: 9, Kind: KindFunction, Static: true}, byName["helper"])
	assert.Equal(t, KindFunction, byName["make_name"].Kind)
	assert.False(t, byName["make_name"].Static)
	assert.Contains(t, byName, "feature_flag")
}

func TestIndex_Lookup(t *testing.T) {
	idx := NewIndex([]Definition{
		{Name: "unique", File: "a.c", Line: 1},
		{Name: "helper", File: "a.c", Line: 2, Static: true},
		{Name: "helper", File: "b.c", Line: 3, Static: true},
		{Name: "init", File: "a.c", Line: 4, Static: true},
		{Name: "init", File: "c.c", Line: 5},
	})

	d, ok := idx.Lookup("unique")
	assert.True(t, ok)
	assert.Equal(t, "a.c:1", d.Location())

	_, ok = idx.Lookup("helper")
	assert.False(t, ok)

	d, ok = idx.Lookup("init")
	assert.True(t, ok)
	assert.Equal(t, "c.c", d.File)

	_, ok = idx.Lookup("missing")
	assert.False(t, ok)
}

func TestAnnotate(t *testing.T) {
	idx := NewIndex([]Definition{
		{Name: "compress", File: "src/zip.c", Line: 10},
		{Name: "main", File: "src/main.c", Line: 1},
	})
	raw := []symbols.RawRecord{
		{"name": "compress.constprop.0", "size": 10},
		{"name": "main", "size": 5, "source_path": "elsewhere.c"},
		{"name": "[section .text]", "size": 3},
		{"section": ".text", "size": 100},
	}

	assert.Equal(t, 1, Annotate(raw, idx))
	assert.Equal(t, "src/zip.c:10", raw[0]["definition"])
	assert.Nil(t, raw[1]["definition"])
}

func TestAnnotate_LeavesOtherLanguages(t *testing.T) {
	idx := NewIndex([]Definition{{Name: "fun_data_apps_base__lt_module_gt_", File: "build/frozen.c", Line: 3}})
	raw := []symbols.RawRecord{
		{"name": "fun_data_apps_base__lt_module_gt_", "size": 10, "language": "mpy"},
		{"name": "fun_data_apps_base__lt_module_gt_", "size": 10, "language": "C"},
	}

	assert.Equal(t, 1, Annotate(raw, idx))
	assert.Nil(t, raw[0]["definition"])
	assert.Equal(t, "build/frozen.c:3", raw[1]["definition"])
}

func TestIndexer_BuildUsesCache(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src", "build"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "a.c"), []byte("int a;"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "b.c"), []byte("int b;"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "build", "gen.c"), []byte("int gen;"), 0o644))

	var parses atomic.Int32
	ix := NewIndexer()
	ix.parse = func(ctx context.Context, file string, src []byte) ([]Definition, error) {
		parses.Add(1)
		return ParseC(ctx, file, src)
	}

	idx, err := ix.Build(context.Background(), root, []string{"src"})
	require.NoError(t, err)
	assert.Equal(t, 2, idx.Len())
	d, ok := idx.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, "src/a.c", d.File)
	assert.EqualValues(t, 2, parses.Load())

	cacheFile := filepath.Join(t.TempDir(), "defs.json")
	require.NoError(t, ix.SaveCache(cacheFile))

	fresh := NewIndexer()
	fresh.parse = ix.parse
	require.NoError(t, fresh.LoadCache(cacheFile))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "b.c"), []byte("int b2;"), 0o644))

	idx, err = fresh.Build(context.Background(), root, []string{"src"})
	require.NoError(t, err)
	_, ok = idx.Lookup("b2")
	assert.True(t, ok)
	assert.EqualValues(t, 3, parses.Load(), "only the changed file is parsed again")
}

func TestIndexer_LoadCacheMissingFile(t *testing.T) {
	assert.NoError(t, NewIndexer().LoadCache(filepath.Join(t.TempDir(), "nope.json")))
}
