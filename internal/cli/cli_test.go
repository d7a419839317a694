package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/VladMinzatu/binsize/internal/paths"
	"github.com/VladMinzatu/binsize/internal/symbols"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const beforeNm = "0000000000000042 t helper\tsrc/a.c:12\n" +
	"0000000000000100 T main\tsrc/main.c:3\n" +
	"0000000000000008 B counter\n"

const afterNm = "0000000000000042 t helper\tsrc/a.c:12\n" +
	"0000000000000016 T new_fn\tsrc/a.c:20\n" +
	"0000000000000130 T main\tsrc/main.c:3\n" +
	"0000000000000008 B counter\n"

// project creates a root with saved nm listings of two builds.
func project(t *testing.T, settings string) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "before.nm"), []byte(beforeNm), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "after.nm"), []byte(afterNm), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "binsize.yaml"), []byte(settings), 0o644))
	return root
}

func run(t *testing.T, root string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCommand(nil)
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	base := []string{"--config", filepath.Join(root, "binsize.yaml"), "--root", root, "--format", "nm"}
	cmd.SetArgs(append(args, base...))
	err := cmd.Execute()
	return out.String(), err
}

func TestTree(t *testing.T) {
	root := project(t, "")
	out, err := run(t, root, "tree", filepath.Join(root, "before.nm"), "--no-color")
	require.NoError(t, err)

	assert.Contains(t, out, "src 142 B")
	assert.Contains(t, out, "main.c 100 B")
	assert.Contains(t, out, "helper 42 B")
	assert.Contains(t, out, "[unresolved]")
}

func TestTree_UsesConfiguredElfFile(t *testing.T) {
	root := project(t, "elf_file: before.nm\n")
	out, err := run(t, root, "tree", "--depth", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "src 142 B")
	assert.NotContains(t, out, "helper")
}

func TestTree_NoBinary(t *testing.T) {
	root := project(t, "")
	_, err := run(t, root, "tree")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no binary given")
}

func TestGet_FrozenMicroPythonSymbol(t *testing.T) {
	root := project(t, "")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src", "apps"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "apps", "base.py"), []byte("def get_features():\n    return None\n"), 0o644))
	nm := "0000000000000024 T fun_data_apps_base__lt_module_gt__get_features\tbuild/firmware/frozen_mpy.c:120\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, "frozen.nm"), []byte(nm), 0o644))

	out, err := run(t, root, "get", filepath.Join(root, "frozen.nm"), "--json")
	require.NoError(t, err)
	var rows []symbolRow
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "src/apps/base.py", rows[0].Path)
	assert.Equal(t, 1, rows[0].Line)

	out, err = run(t, root, "stats", filepath.Join(root, "frozen.nm"), "--by", "language")
	require.NoError(t, err)
	assert.Contains(t, out, "mpy")
}

func TestGet_JSON(t *testing.T) {
	root := project(t, "")
	out, err := run(t, root, "get", filepath.Join(root, "after.nm"), "--grep", "^(main|new)", "--json")
	require.NoError(t, err)

	var rows []symbolRow
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "main", rows[0].Name)
	assert.Equal(t, int64(130), rows[0].Size)
	assert.Equal(t, "src/main.c", rows[0].Path)
	assert.Equal(t, 3, rows[0].Line)
	assert.Equal(t, "new_fn", rows[1].Name)
}

func TestCompare(t *testing.T) {
	root := project(t, "")
	before, after := filepath.Join(root, "before.nm"), filepath.Join(root, "after.nm")

	out, err := run(t, root, "compare", before, after, "--json")
	require.NoError(t, err)
	var diff struct {
		Delta  int64  `json:"delta"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &diff))
	assert.Equal(t, int64(46), diff.Delta)
	assert.Equal(t, "changed", diff.Status)

	out, err = run(t, root, "compare", before, after, "--table")
	require.NoError(t, err)
	assert.Contains(t, out, "src/a.c/new_fn")
	assert.Contains(t, out, "1 added, 0 removed, 1 changed, 2 unchanged")
}

func TestStats(t *testing.T) {
	root := project(t, "")
	out, err := run(t, root, "stats", filepath.Join(root, "before.nm"), "--by", "section")
	require.NoError(t, err)
	assert.Contains(t, out, "SUMMARY: 2 categories, 3 symbols, 150 bytes in total.")
	assert.Contains(t, out, ".text")

	_, err = run(t, root, "stats", filepath.Join(root, "before.nm"), "--by", "size")
	require.Error(t, err)
}

func TestExport(t *testing.T) {
	root := project(t, "")
	before, after := filepath.Join(root, "before.nm"), filepath.Join(root, "after.nm")

	out, err := run(t, root, "export", before)
	require.NoError(t, err)
	assert.Contains(t, out, "src;main.c;main 100\n")
	assert.Contains(t, out, "src;a.c;helper 42\n")

	target := filepath.Join(root, "size.pb.gz")
	_, err = run(t, root, "export", after, "--as", "pprof", "--against", before, "-o", target)
	require.NoError(t, err)
	info, err := os.Stat(target)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	_, err = run(t, root, "export", after, "--as", "otlp", "--against", before)
	require.Error(t, err)
}

func TestSnapshots(t *testing.T) {
	root := project(t, "")

	out, err := run(t, root, "snapshot", "save", "v1", filepath.Join(root, "before.nm"))
	require.NoError(t, err)
	assert.Contains(t, out, "saved v1: 150 B in 3 symbols")
	_, err = run(t, root, "snapshot", "save", "v2", filepath.Join(root, "after.nm"))
	require.NoError(t, err)

	out, err = run(t, root, "snapshot", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "v1")
	assert.Contains(t, out, "v2")

	out, err = run(t, root, "snapshot", "diff", "v1", "v2", "--table")
	require.NoError(t, err)
	assert.Contains(t, out, "src/main.c/main")
	assert.Contains(t, out, "+30 B")

	out, err = run(t, root, "snapshot", "sections", ".text")
	require.NoError(t, err)
	assert.Contains(t, out, "142")
	assert.Contains(t, out, "188")

	_, err = run(t, root, "snapshot", "rm", "v1")
	require.NoError(t, err)
	out, err = run(t, root, "snapshot", "list")
	require.NoError(t, err)
	assert.NotContains(t, out, "v1")

	_, err = run(t, root, "snapshot", "show", "v1")
	require.Error(t, err)
}

func TestBuild(t *testing.T) {
	root := project(t, "elf_file: out.nm\nbuild_cmd: cp after.nm out.nm\n")

	_, err := run(t, root, "build", "next", "--snapshot")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(root, "out.nm"))
	assert.FileExists(t, filepath.Join(root, "out.nm_next"))

	out, err := run(t, root, "snapshot", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "next")
}

func TestBuild_NoCommand(t *testing.T) {
	root := project(t, "")
	_, err := run(t, root, "build")
	require.Error(t, err)
}

func TestFilterEntries(t *testing.T) {
	entry := func(name string, size int64, path ...string) symbols.Entry {
		return symbols.Entry{
			Record: symbols.SymbolRecord{Name: name, Size: size, Section: ".text"},
			Path:   paths.ResolvedPath{Segments: path},
		}
	}
	entries := []symbols.Entry{
		entry("a", 1, "src", "a.c"),
		entry("b", 5, "src", "sub", "b.c"),
		entry("c", 3, "srcx", "c.c"),
		entry("d", 9),
	}

	names := func(es []symbols.Entry) string {
		var out []string
		for _, e := range es {
			out = append(out, e.Record.Name)
		}
		return strings.Join(out, ",")
	}

	assert.Equal(t, "d,b,c,a", names(filterEntries(entries, nil, "")))
	assert.Equal(t, "b,a", names(filterEntries(entries, nil, "src/")))
	assert.Equal(t, "b", names(filterEntries(entries, nil, "src/sub")))
	assert.Equal(t, "c,a", names(filterEntries(entries, regexp.MustCompile("^[ac]$"), "")))
}
