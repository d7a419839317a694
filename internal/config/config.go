package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPath = "binsize.yaml"

	EnvRootDir       = "BINSIZE_ROOT_DIR"
	EnvHistoryDB     = "BINSIZE_HISTORY_DB"
	EnvNeo4jURI      = "BINSIZE_NEO4J_URI"
	EnvNeo4jPassword = "BINSIZE_NEO4J_PASSWORD"
)

var ErrVariableCycle = errors.New("cyclic variable reference")

type Config struct {
	Root        string   `yaml:"root"`
	ElfFile     string   `yaml:"elf_file"`
	MapFile     string   `yaml:"map_file"`
	MapSections []string `yaml:"map_sections"`
	BuildCmd    string   `yaml:"build_cmd"`
	Sections    []string `yaml:"sections"`
	// Definitions lists the source directories, relative to the root, that
	// are indexed to find where symbols without a source path are defined.
	Definitions      []string `yaml:"definitions"`
	DefinitionsCache string   `yaml:"definitions_cache"`
	// Languages tells where the sources of Rust and frozen MicroPython
	// symbols live, relative to the root.
	Languages struct {
		RustCrate string `yaml:"rust_crate"`
		RustSrc   string `yaml:"rust_src"`
		PythonSrc string `yaml:"python_src"`
	} `yaml:"languages"`
	Tools     map[string]string `yaml:"tools"`
	HistoryDB string            `yaml:"history_db"`
	Neo4j     struct {
		URI      string `yaml:"uri"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Database string `yaml:"database"`
	} `yaml:"neo4j"`
}

func Default() *Config {
	cfg := &Config{HistoryDB: "binsize.db"}
	cfg.Neo4j.URI = "neo4j://localhost:7687"
	cfg.Neo4j.User = "neo4j"
	return cfg
}

// LoadConfig reads the YAML settings file at path on top of the defaults. A
// missing file is not an error. Variables like "{{root}}/build" are resolved
// against the other keys, then environment variables (also read from a .env
// file) override the file.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		slog.Debug("No settings file, using defaults", "path", path)
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	if err := cfg.resolveVariables(); err != nil {
		return nil, fmt.Errorf("resolving variables in %s: %w", path, err)
	}

	if v := os.Getenv(EnvHistoryDB); v != "" {
		cfg.HistoryDB = v
	}
	if v := os.Getenv(EnvNeo4jURI); v != "" {
		cfg.Neo4j.URI = v
	}
	if v := os.Getenv(EnvNeo4jPassword); v != "" {
		cfg.Neo4j.Password = v
	}
	return cfg, nil
}

var variablePattern = regexp.MustCompile(`\{\{(.*?)\}\}`)

// stringFields exposes the string settings by their YAML key so they can be
// referenced as variables.
func (c *Config) stringFields() map[string]*string {
	return map[string]*string{
		"root":              &c.Root,
		"elf_file":          &c.ElfFile,
		"map_file":          &c.MapFile,
		"build_cmd":         &c.BuildCmd,
		"definitions_cache": &c.DefinitionsCache,
		"history_db":        &c.HistoryDB,
	}
}

func (c *Config) resolveVariables() error {
	fields := c.stringFields()
	raw := make(map[string]string, len(fields))
	for k, p := range fields {
		raw[k] = *p
	}

	resolved := make(map[string]string)
	var resolve func(key string, stack []string) (string, error)
	resolve = func(key string, stack []string) (string, error) {
		if v, ok := resolved[key]; ok {
			return v, nil
		}
		for _, s := range stack {
			if s == key {
				return "", fmt.Errorf("%w: %s", ErrVariableCycle, strings.Join(append(stack, key), " -> "))
			}
		}
		value, ok := raw[key]
		if !ok {
			return "", fmt.Errorf("unknown variable %q", key)
		}
		var firstErr error
		out := variablePattern.ReplaceAllStringFunc(value, func(m string) string {
			name := strings.TrimSpace(variablePattern.FindStringSubmatch(m)[1])
			v, err := resolve(name, append(stack, key))
			if err != nil && firstErr == nil {
				firstErr = err
			}
			return v
		})
		if firstErr != nil {
			return "", firstErr
		}
		resolved[key] = out
		return out, nil
	}

	for k, p := range fields {
		v, err := resolve(k, nil)
		if err != nil {
			return err
		}
		*p = v
	}
	for i, dir := range c.Definitions {
		v, err := c.expand(dir, resolve)
		if err != nil {
			return err
		}
		c.Definitions[i] = v
	}
	return nil
}

func (c *Config) expand(value string, resolve func(string, []string) (string, error)) (string, error) {
	var firstErr error
	out := variablePattern.ReplaceAllStringFunc(value, func(m string) string {
		v, err := resolve(strings.TrimSpace(variablePattern.FindStringSubmatch(m)[1]), nil)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		return v
	})
	return out, firstErr
}

// ResolveRoot picks the project root: the flag value, then the
// BINSIZE_ROOT_DIR environment variable, then the settings file, then the
// current directory. The result is absolute and must be a readable
// directory.
func (c *Config) ResolveRoot(flag string) (string, error) {
	root := flag
	source := "flag"
	if root == "" {
		root, source = os.Getenv(EnvRootDir), "env"
	}
	if root == "" {
		root, source = c.Root, "settings"
	}
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		root, source = wd, "cwd"
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	if err := unix.Access(abs, unix.R_OK|unix.X_OK); err != nil {
		return "", fmt.Errorf("root directory %s (from %s) is not accessible: %w", abs, source, err)
	}
	slog.Debug("Resolved root directory", "root", abs, "source", source)
	return abs, nil
}

// Path makes p absolute relative to root unless it already is.
func Path(root, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}
