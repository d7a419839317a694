package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSettings(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "binsize.yaml")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestLoadConfig_MissingFileGivesDefaults(t *testing.T) {
	t.Setenv(EnvHistoryDB, "")
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "binsize.db", cfg.HistoryDB)
	assert.Equal(t, "neo4j", cfg.Neo4j.User)
}

func TestLoadConfig_Variables(t *testing.T) {
	p := writeSettings(t, `
root: /work/fw
elf_file: "{{root}}/build/fw.elf"
map_file: "{{ elf_file }}.map"
build_cmd: make -C {{root}}
definitions: ["{{root}}/src"]
sections: [.flash, .data]
tools:
  nm: arm-none-eabi-nm
neo4j:
  uri: neo4j://db:7687
languages:
  rust_crate: fw_lib
  python_src: firmware/src
`)
	cfg, err := LoadConfig(p)
	require.NoError(t, err)

	assert.Equal(t, "/work/fw/build/fw.elf", cfg.ElfFile)
	assert.Equal(t, "/work/fw/build/fw.elf.map", cfg.MapFile)
	assert.Equal(t, "make -C /work/fw", cfg.BuildCmd)
	assert.Equal(t, []string{"/work/fw/src"}, cfg.Definitions)
	assert.Equal(t, []string{".flash", ".data"}, cfg.Sections)
	assert.Equal(t, "arm-none-eabi-nm", cfg.Tools["nm"])
	assert.Equal(t, "neo4j://db:7687", cfg.Neo4j.URI)
	assert.Equal(t, "fw_lib", cfg.Languages.RustCrate)
	assert.Equal(t, "firmware/src", cfg.Languages.PythonSrc)
	assert.Empty(t, cfg.Languages.RustSrc)
}

func TestLoadConfig_VariableCycle(t *testing.T) {
	p := writeSettings(t, "elf_file: \"{{map_file}}\"\nmap_file: \"{{elf_file}}\"\n")
	_, err := LoadConfig(p)
	assert.True(t, errors.Is(err, ErrVariableCycle), "got %v", err)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv(EnvHistoryDB, "/tmp/history.db")
	t.Setenv(EnvNeo4jPassword, "secret")
	p := writeSettings(t, "history_db: local.db\n")

	cfg, err := LoadConfig(p)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/history.db", cfg.HistoryDB)
	assert.Equal(t, "secret", cfg.Neo4j.Password)
}

func TestResolveRoot_Precedence(t *testing.T) {
	flagDir, envDir, fileDir := t.TempDir(), t.TempDir(), t.TempDir()
	cfg := Default()
	cfg.Root = fileDir

	t.Setenv(EnvRootDir, envDir)
	got, err := cfg.ResolveRoot(flagDir)
	require.NoError(t, err)
	assert.Equal(t, flagDir, got)

	got, err = cfg.ResolveRoot("")
	require.NoError(t, err)
	assert.Equal(t, envDir, got)

	t.Setenv(EnvRootDir, "")
	got, err = cfg.ResolveRoot("")
	require.NoError(t, err)
	assert.Equal(t, fileDir, got)

	cfg.Root = ""
	wd, err := os.Getwd()
	require.NoError(t, err)
	got, err = cfg.ResolveRoot("")
	require.NoError(t, err)
	assert.Equal(t, wd, got)

	_, err = cfg.ResolveRoot(filepath.Join(flagDir, "missing"))
	assert.Error(t, err)
}

func TestFlags_Apply(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	f := BindFlags(fs)
	require.NoError(t, fs.Parse([]string{"--sections", ".text,.data", "-o", "out.txt"}))

	cfg := Default()
	cfg.Sections = []string{".flash"}
	cfg.MapFile = "fw.map"
	f.Apply(fs, cfg)

	assert.Equal(t, []string{".text", ".data"}, cfg.Sections)
	assert.Equal(t, "fw.map", cfg.MapFile)
	assert.Equal(t, "out.txt", f.Output)
	assert.Equal(t, "elf", f.Format)
}

func TestPath(t *testing.T) {
	assert.Equal(t, "/abs/x", Path("/root", "/abs/x"))
	assert.Equal(t, filepath.Join("/root", "rel/x"), Path("/root", "rel/x"))
	assert.Equal(t, "", Path("/root", ""))
}
