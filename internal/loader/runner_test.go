package loader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRunner struct {
	mu     sync.Mutex
	calls  []string
	output map[string]string
	err    error
}

func (m *mockRunner) Run(_ context.Context, name string, args ...string) (Output, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, name+" "+strings.Join(args, " "))
	if m.err != nil {
		return nil, m.err
	}
	return Output(m.output[name]), nil
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestLoad_RunsBloaty(t *testing.T) {
	dir := t.TempDir()
	bin := writeFile(t, dir, "fw.elf", "not really an elf")
	r := &mockRunner{output: map[string]string{
		"bloaty": "sections,symbols,vmsize,filesize\n.text,main,10,10\n",
	}}

	raw, err := Load(context.Background(), r, Source{Format: FormatBloaty, Path: bin})
	require.NoError(t, err)
	require.Len(t, raw, 1)
	assert.Equal(t, "main", raw[0]["name"])
	require.Len(t, r.calls, 1)
	assert.Equal(t, "bloaty -n 0 -d sections,symbols -s file --csv "+bin, r.calls[0])
}

func TestLoad_SavedOutputDoesNotRunTools(t *testing.T) {
	dir := t.TempDir()
	saved := writeFile(t, dir, "nm.txt", "0000000000000012 T main\tsrc/main.c:1\n")
	r := &mockRunner{err: errors.New("must not run")}

	raw, err := Load(context.Background(), r, Source{Format: FormatNm, Path: saved, Saved: true})
	require.NoError(t, err)
	require.Len(t, raw, 1)
	assert.Empty(t, r.calls)
}

func TestLoad_ToolFailure(t *testing.T) {
	dir := t.TempDir()
	bin := writeFile(t, dir, "fw.elf", "")
	r := &mockRunner{err: errors.New("exit status 1")}

	_, err := Load(context.Background(), r, Source{Format: FormatNm, Path: bin})
	assert.ErrorContains(t, err, "exit status 1")

	_, err = Load(context.Background(), r, Source{Format: FormatNm, Path: filepath.Join(dir, "missing.elf")})
	assert.Error(t, err)
}

func TestLoad_IncludesMapFile(t *testing.T) {
	dir := t.TempDir()
	saved := writeFile(t, dir, "bloaty.csv", "sections,symbols,vmsize,filesize\n.flash,foo,64,64\n.flash,[section .flash],200,200\n")
	mapFile := writeFile(t, dir, "fw.map", sampleMap)

	raw, err := Load(context.Background(), &mockRunner{}, Source{
		Format:      FormatBloaty,
		Path:        saved,
		Saved:       true,
		MapFile:     mapFile,
		MapSections: []string{".flash", ".nope"},
	})
	require.NoError(t, err)

	names := map[string]bool{}
	for _, r := range raw {
		n, _ := r.Name()
		names[n] = true
	}
	for _, want := range []string{"foo", "bar", "str1.1", ".bootloader", "baz"} {
		assert.True(t, names[want], "missing %s", want)
	}

	// the filler gives up exactly the bytes taken from the map file
	var total, filler int64
	for _, r := range raw {
		size, err := r.Size()
		require.NoError(t, err)
		total += size
		if n, _ := r.Name(); n == "[section .flash]" {
			filler = size
		}
	}
	assert.EqualValues(t, 264, total)
	assert.EqualValues(t, 200-(0x20+0x10+0x30+0x8), filler)
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("NM")
	require.NoError(t, err)
	assert.Equal(t, FormatNm, f)

	_, err = ParseFormat("objdump")
	assert.Error(t, err)
}

func TestReadELF_TestBinary(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("test binary is not an ELF file")
	}
	exe, err := os.Executable()
	require.NoError(t, err)

	raw, err := ReadELF(exe)
	require.NoError(t, err)

	var sawText, sawFunc bool
	for _, r := range raw {
		name, ok := r.Name()
		if !ok && r.Section() == ".text" {
			sawText = true
		}
		if ok && name == "runtime.main" {
			sawFunc = true
			assert.Equal(t, ".text", r.Section())
		}
	}
	assert.True(t, sawText, "no .text section total")
	assert.True(t, sawFunc, "runtime.main not found")
}
