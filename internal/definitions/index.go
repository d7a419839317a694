package definitions

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/VladMinzatu/binsize/internal/lang"
	"github.com/VladMinzatu/binsize/internal/loader"
	"github.com/VladMinzatu/binsize/internal/symbols"
)

var ignoredDirs = []string{".git", "build", "vendor", "node_modules"}

// Index maps symbol names to their definitions.
type Index struct {
	byName map[string][]Definition
}

func NewIndex(defs []Definition) *Index {
	idx := &Index{byName: make(map[string][]Definition)}
	for _, d := range defs {
		idx.byName[d.Name] = append(idx.byName[d.Name], d)
	}
	for _, list := range idx.byName {
		sort.Slice(list, func(i, j int) bool {
			if list[i].File != list[j].File {
				return list[i].File < list[j].File
			}
			return list[i].Line < list[j].Line
		})
	}
	return idx
}

func (idx *Index) Len() int {
	n := 0
	for _, list := range idx.byName {
		n += len(list)
	}
	return n
}

// Lookup returns the definition of name when it is unambiguous: either the
// single definition, or the single non-static one among several.
func (idx *Index) Lookup(name string) (Definition, bool) {
	list := idx.byName[name]
	if len(list) == 1 {
		return list[0], true
	}
	var found *Definition
	for i := range list {
		if list[i].Static {
			continue
		}
		if found != nil {
			return Definition{}, false
		}
		found = &list[i]
	}
	if found == nil {
		return Definition{}, false
	}
	return *found, true
}

// Annotate fills in the source path of named records that have none, using
// the definition of the symbol, or of the function a compiler clone was made
// from. It returns the number of records annotated.
func Annotate(raw []symbols.RawRecord, idx *Index) int {
	n := 0
	for _, r := range raw {
		name, ok := r.Name()
		if !ok || strings.HasPrefix(name, "[") || hasSource(r) {
			continue
		}
		// Rust and MicroPython symbols are resolved by the lang package
		if l, ok := r["language"].(string); ok && l != string(lang.C) {
			continue
		}
		def, ok := idx.Lookup(name)
		if !ok {
			def, ok = idx.Lookup(loader.CleanSymbolName(name))
		}
		if !ok {
			continue
		}
		r["definition"] = def.Location()
		n++
	}
	slog.Debug("Annotated records with definitions", "records", n)
	return n
}

func hasSource(r symbols.RawRecord) bool {
	for _, k := range []string{"source_path", "source", "file", "definition"} {
		if v, ok := r[k]; ok && v != nil && v != "" {
			return true
		}
	}
	return false
}

type cachedFile struct {
	Hash string       `json:"hash"`
	Defs []Definition `json:"definitions"`
}

// Indexer parses C sources into an Index. Results are cached per file and
// reused as long as the file content hash does not change.
type Indexer struct {
	mu      sync.RWMutex
	cache   map[string]cachedFile
	workers int
	parse   func(ctx context.Context, file string, src []byte) ([]Definition, error)
}

func NewIndexer() *Indexer {
	return &Indexer{cache: make(map[string]cachedFile), workers: runtime.NumCPU(), parse: ParseC}
}

// Build indexes the .c files below dirs, which may be relative to root. File
// names in the index are relative to root. Files that fail to parse
// are logged and skipped.
func (ix *Indexer) Build(ctx context.Context, root string, dirs []string) (*Index, error) {
	var files []string
	for _, dir := range dirs {
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(root, dir)
		}
		found, err := findSources(dir)
		if err != nil {
			return nil, err
		}
		files = append(files, found...)
	}
	sort.Strings(files)
	slog.Info("Indexing source definitions", "files", len(files))

	jobs := make(chan string)
	results := make(chan []Definition)
	var wg sync.WaitGroup
	for w := 0; w < max(ix.workers, 1); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range jobs {
				defs, err := ix.definitionsOf(ctx, root, path)
				if err != nil {
					slog.Warn("Failed to index source file", "path", path, "error", err)
					continue
				}
				results <- defs
			}
		}()
	}
	go func() {
		defer close(jobs)
		for _, f := range files {
			select {
			case jobs <- f:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		wg.Wait()
		close(results)
	}()

	var all []Definition
	for defs := range results {
		all = append(all, defs...)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return NewIndex(all), nil
}

func (ix *Indexer) definitionsOf(ctx context.Context, root, path string) ([]Definition, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(src)
	hash := hex.EncodeToString(sum[:])
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return nil, err
	}
	rel = filepath.ToSlash(rel)

	ix.mu.RLock()
	cached, ok := ix.cache[rel]
	ix.mu.RUnlock()
	if ok && cached.Hash == hash {
		return cached.Defs, nil
	}

	defs, err := ix.parse(ctx, rel, src)
	if err != nil {
		return nil, err
	}
	ix.mu.Lock()
	ix.cache[rel] = cachedFile{Hash: hash, Defs: defs}
	ix.mu.Unlock()
	return defs, nil
}

// LoadCache reads a cache written by SaveCache. A missing or corrupt cache
// file is not an error; indexing just starts from scratch.
func (ix *Indexer) LoadCache(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var cache map[string]cachedFile
	if err := json.Unmarshal(data, &cache); err != nil {
		slog.Warn("Ignoring corrupt definitions cache", "path", path, "error", err)
		return nil
	}
	if cache == nil {
		cache = make(map[string]cachedFile)
	}
	ix.mu.Lock()
	ix.cache = cache
	ix.mu.Unlock()
	return nil
}

func (ix *Indexer) SaveCache(path string) error {
	ix.mu.RLock()
	data, err := json.MarshalIndent(ix.cache, "", "  ")
	ix.mu.RUnlock()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing definitions cache: %w", err)
	}
	return nil
}

func findSources(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			for _, ign := range ignoredDirs {
				if d.Name() == ign && path != dir {
					return filepath.SkipDir
				}
			}
			return nil
		}
		if strings.HasSuffix(d.Name(), ".c") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", dir, err)
	}
	return files, nil
}
