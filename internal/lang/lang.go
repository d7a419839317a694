// Package lang tells apart the symbols of C, Rust and frozen MicroPython code
// and finds the source definitions of the latter two, which the C definition
// index cannot.
package lang

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/VladMinzatu/binsize/internal/symbols"
)

type Language string

const (
	C           Language = "C"
	Rust        Language = "Rust"
	MicroPython Language = "mpy"
)

var rustPrefixes = []string{
	"trezor_lib",
	"compiler_builtins",
	"core::",
	"_$LT$",
	"heapless::",
	"cstr_core::",
	"_ZN",
	"unlikely._ZN",
}

var mpyPrefixes = []string{
	"fun_data_",
	"const_table_data_",
	"const_obj_",
	"raw_code_",
}

// frozenSource is the generated C file that nm names as the definition of
// every frozen MicroPython symbol.
const frozenSource = "frozen_mpy.c"

// Classify returns the language of a symbol from its name, or from its
// definition for Rust code compiled from the cargo registry.
func Classify(name, definition string) Language {
	switch {
	case hasAnyPrefix(name, rustPrefixes) || strings.HasPrefix(definition, "/cargo/"):
		return Rust
	case hasAnyPrefix(name, mpyPrefixes):
		return MicroPython
	}
	return C
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// Origin is where a symbol comes from in its own language. Module is a path
// relative to the root; Known is false when that file does not exist.
type Origin struct {
	Language Language
	Module   string
	Function string
	Known    bool
}

// Options configures where sources are looked up, relative to the root.
type Options struct {
	RustCrate string
	RustSrc   string
	PythonSrc string
}

func DefaultOptions() Options {
	return Options{RustCrate: "trezor_lib", RustSrc: "embed/rust/src", PythonSrc: "src"}
}

// Resolver finds the origin and definition of Rust and MicroPython symbols.
// Parsed source files are cached, so a Resolver is meant to be reused for all
// records of a binary. It is safe for concurrent use.
type Resolver struct {
	root string
	opts Options

	mu      sync.Mutex
	modules map[string]*Scope
	rustFns map[string]map[string]int
	exists  map[string]bool
}

func NewResolver(root string, opts Options) *Resolver {
	def := DefaultOptions()
	if opts.RustCrate == "" {
		opts.RustCrate = def.RustCrate
	}
	if opts.RustSrc == "" {
		opts.RustSrc = def.RustSrc
	}
	if opts.PythonSrc == "" {
		opts.PythonSrc = def.PythonSrc
	}
	return &Resolver{
		root:    root,
		opts:    opts,
		modules: make(map[string]*Scope),
		rustFns: make(map[string]map[string]int),
		exists:  make(map[string]bool),
	}
}

// Origin resolves a symbol of the given language. C symbols are returned as
// they are.
func (r *Resolver) Origin(lang Language, name string) Origin {
	switch lang {
	case Rust:
		return r.rustOrigin(name)
	case MicroPython:
		return r.mpyOrigin(name)
	}
	return Origin{Language: lang}
}

// Definition renders the origin as "path:line", or just the path when there
// is no function. It is empty when the definition cannot be found.
func (r *Resolver) Definition(o Origin) string {
	switch o.Language {
	case Rust:
		return r.rustDefinition(o)
	case MicroPython:
		return r.mpyDefinition(o)
	}
	return ""
}

// Apply tags the records with their language and gives Rust and MicroPython
// records a definition. Definitions a tool reported are kept, except the ones
// pointing at the generated frozen module source. It returns the number of
// records that got a definition.
func (r *Resolver) Apply(raw []symbols.RawRecord) int {
	n := 0
	for _, rec := range raw {
		name, ok := rec.Name()
		if !ok || name == "" || strings.HasPrefix(name, "[") || strings.HasPrefix(name, ".") || strings.HasPrefix(name, "str1") {
			continue
		}
		def := source(rec)
		lang := Classify(name, def)
		rec["language"] = string(lang)
		if lang == C {
			continue
		}

		o := r.Origin(lang, name)
		rec["module"] = o.Module
		rec["function"] = o.Function
		if def != "" && !strings.Contains(def, frozenSource) {
			continue
		}
		clearSource(rec)
		if d := r.Definition(o); d != "" {
			rec["definition"] = d
			n++
		}
	}
	slog.Debug("Resolved Rust and MicroPython definitions", "records", n)
	return n
}

var sourceKeys = []string{"source_path", "source", "file", "definition"}

func source(rec symbols.RawRecord) string {
	for _, k := range sourceKeys {
		if s, ok := rec[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func clearSource(rec symbols.RawRecord) {
	for _, k := range sourceKeys {
		delete(rec, k)
	}
}

// exist reports whether rel exists below the root.
func (r *Resolver) exist(rel string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ok, cached := r.exists[rel]; cached {
		return ok
	}
	_, err := os.Stat(filepath.Join(r.root, filepath.FromSlash(rel)))
	r.exists[rel] = err == nil
	return err == nil
}

func (r *Resolver) read(rel string) ([]byte, bool) {
	src, err := os.ReadFile(filepath.Join(r.root, filepath.FromSlash(rel)))
	if err != nil {
		return nil, false
	}
	return src, true
}
