package loader

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VladMinzatu/binsize/internal/symbols"
)

const sampleMap = `Memory Configuration

.vector_table   0x08000000      0x200
 .vector_table  0x08000000      0x200 build/startup.o
.flash          0x08000200      0x1000
 .text.foo      0x08000200       0x40 build/foo.o
                0x08000200                foo
 .text.bar      0x08000240       0x20 build/bar.o
 .rodata.str1.1
                0x08000260       0x10 build/bar.o
 .bootloader    0x08000270       0x30 build/boot.o
 .text.baz      0x080002a0        0x8 build/baz.o
.data           0x20000000       0x10
 .data.x        0x20000000       0x10 build/x.o
`

func lines(s string) []string {
	return strings.Split(s, "\n")
}

func TestParseMapSection(t *testing.T) {
	items, err := ParseMapSection(lines(sampleMap), ".flash")
	require.NoError(t, err)

	require.Contains(t, items, ".text.foo")
	assert.EqualValues(t, 0x40, items[".text.foo"].TotalSize())
	assert.Len(t, items[".text.foo"].Entries, 2)
	assert.EqualValues(t, 0x10, items[".rodata.str1.1"].TotalSize())
	assert.NotContains(t, items, ".data.x")

	_, err = ParseMapSection(lines(sampleMap), ".missing")
	assert.Error(t, err)
}

func TestMapSymbolSizes(t *testing.T) {
	items, err := ParseMapSection(lines(sampleMap), ".flash")
	require.NoError(t, err)

	sizes := MapSymbolSizes(items)
	assert.EqualValues(t, 0x40, sizes["foo"])
	assert.EqualValues(t, 0x20, sizes["bar"])
	assert.EqualValues(t, 0x10, sizes["str1.1"])
	assert.EqualValues(t, 0x30, sizes[".bootloader"])
}

func TestIncludeMapSymbols(t *testing.T) {
	raw := []symbols.RawRecord{
		{"name": "foo", "section": ".flash", "size": "64"},
		{"name": "[section .flash]", "section": ".flash", "size": "200"},
		{"name": "bar", "section": ".other", "size": 32},
	}
	sizes := map[string]int64{"foo": 64, "bar": 32, "baz": 8, "empty": 0}

	out, added := IncludeMapSymbols(raw, sizes, ".flash")
	assert.EqualValues(t, 40, added)
	require.Len(t, out, 5)
	assert.Equal(t, "bar", out[3]["name"])
	assert.Equal(t, "baz", out[4]["name"])

	filler, err := out[1].Size()
	require.NoError(t, err)
	assert.EqualValues(t, 160, filler)

	recs, errs := symbols.Normalize(out)
	require.Empty(t, errs)
	var total int64
	for _, r := range recs {
		if r.Section == ".flash" {
			total += r.Size
		}
	}
	assert.EqualValues(t, 264, total)
}

func TestMapPrefixTree(t *testing.T) {
	items := map[string]*MapItem{
		"mod_alpha": {Name: "mod_alpha", Entries: []MapEntry{{Size: 10}}},
		"mod_beta":  {Name: "mod_beta", Entries: []MapEntry{{Size: 20}}},
		"other":     {Name: "other", Entries: []MapEntry{{Size: 5}, {Size: 1}}},
	}
	tree := MapPrefixTree(".flash", items)
	require.NoError(t, tree.Verify())
	assert.EqualValues(t, 36, tree.TotalSize)

	group := tree.Child("mod_")
	require.NotNil(t, group)
	assert.EqualValues(t, 30, group.TotalSize)
	assert.NotNil(t, group.Child("mod_beta"))
	assert.NotNil(t, tree.Child("other"))
}

func TestCleanSymbolName(t *testing.T) {
	tests := map[string]string{
		"groestl_big_close.constprop.0": "groestl_big_close",
		"foo.isra.2.part.0":             "foo",
		"plain":                         "plain",
		"[section .text]":               "[section .text]",
	}
	for in, want := range tests {
		if got := CleanSymbolName(in); got != want {
			t.Errorf("CleanSymbolName(%q) = %q, want %q", in, got, want)
		}
	}
	if got := DemangleRust("core..fmt..Write$LT$T$GT$"); got != "core::fmt::Write<T>" {
		t.Errorf("DemangleRust = %q", got)
	}
}
