// Package stats groups symbols into categories and sums their sizes.
package stats

import (
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"

	"github.com/VladMinzatu/binsize/internal/lang"
	"github.com/VladMinzatu/binsize/internal/symbols"
)

// Categorizer returns the category of an entry, or false when it has none.
type Categorizer func(e symbols.Entry) (string, bool)

type CategoryStats struct {
	Category string `json:"category"`
	// Uncategorized is set on the single bucket of entries without a
	// category.
	Uncategorized bool  `json:"uncategorized,omitempty"`
	Size          int64 `json:"size"`
	Symbols       int   `json:"symbols"`
}

// Compute groups entries by category, largest category first. Entries the
// categorizer rejects are counted in an uncategorized bucket, which is only
// returned with includeNone.
func Compute(entries []symbols.Entry, cat Categorizer, includeNone bool) []CategoryStats {
	byName := make(map[string]*CategoryStats)
	none := &CategoryStats{Uncategorized: true}
	for _, e := range entries {
		name, ok := cat(e)
		s := none
		if ok {
			s = byName[name]
			if s == nil {
				s = &CategoryStats{Category: name}
				byName[name] = s
			}
		}
		s.Size += e.Record.Size
		s.Symbols++
	}

	out := make([]CategoryStats, 0, len(byName)+1)
	for _, s := range byName {
		out = append(out, *s)
	}
	if includeNone && none.Symbols > 0 {
		out = append(out, *none)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Size != out[j].Size {
			return out[i].Size > out[j].Size
		}
		if out[i].Uncategorized != out[j].Uncategorized {
			return out[j].Uncategorized
		}
		return out[i].Category < out[j].Category
	})
	return out
}

// ByDirectory categorizes resolved entries by their first depth directory
// segments, e.g. "src/apps" for depth 2. Files directly below the root are
// categorized as ".".
func ByDirectory(depth int) Categorizer {
	return func(e symbols.Entry) (string, bool) {
		if e.Path.Unresolved() {
			return "", false
		}
		dir := e.Path.Dir()
		if len(dir) == 0 {
			return ".", true
		}
		if depth > 0 && len(dir) > depth {
			dir = dir[:depth]
		}
		return strings.Join(dir, "/"), true
	}
}

// ByPattern matches re against the resolved path of an entry. The category
// is the first capture group, or the whole match when re has none.
func ByPattern(re *regexp.Regexp) Categorizer {
	return func(e symbols.Entry) (string, bool) {
		if e.Path.Unresolved() {
			return "", false
		}
		m := re.FindStringSubmatch(e.Path.String())
		if m == nil {
			return "", false
		}
		if len(m) > 1 {
			return m[1], true
		}
		return m[0], true
	}
}

// ByLanguage categorizes entries as C, Rust or MicroPython.
func ByLanguage() Categorizer {
	return func(e symbols.Entry) (string, bool) {
		if strings.HasPrefix(e.Record.Name, "[") {
			return "", false
		}
		return string(lang.Classify(e.Record.Name, e.Record.SourcePath)), true
	}
}

func BySection() Categorizer {
	return func(e symbols.Entry) (string, bool) {
		return e.Record.Section, e.Record.Section != ""
	}
}

// ParseCategorizer builds a categorizer from its command-line form:
// "dir", "dir:N", "section", "language" or "pattern:REGEXP".
func ParseCategorizer(spec string) (Categorizer, error) {
	kind, arg, _ := strings.Cut(spec, ":")
	switch kind {
	case "dir":
		depth := 1
		if arg != "" {
			if _, err := fmt.Sscanf(arg, "%d", &depth); err != nil || depth < 1 {
				return nil, fmt.Errorf("invalid directory depth %q", arg)
			}
		}
		return ByDirectory(depth), nil
	case "section":
		return BySection(), nil
	case "language":
		return ByLanguage(), nil
	case "pattern":
		re, err := regexp.Compile(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid category pattern: %w", err)
		}
		return ByPattern(re), nil
	}
	return nil, fmt.Errorf("unknown categorizer %q (want dir[:N], section, language or pattern:REGEXP)", spec)
}

type Summary struct {
	Categories int
	Symbols    int
	Size       int64
}

func Summarize(stats []CategoryStats) Summary {
	s := Summary{Categories: len(stats)}
	for _, c := range stats {
		s.Symbols += c.Symbols
		s.Size += c.Size
	}
	return s
}

func (s Summary) String() string {
	return fmt.Sprintf("SUMMARY: %d categories, %d symbols, %d bytes in total.", s.Categories, s.Symbols, s.Size)
}

// Write prints one line per category. The summary goes last on a terminal
// and first in a file, where it is easier to find.
func Write(w io.Writer, stats []CategoryStats, summaryFirst bool) error {
	var b strings.Builder
	summary := Summarize(stats).String()
	if summaryFirst {
		b.WriteString(summary + "\n")
	}
	for _, c := range stats {
		name := c.Category
		if c.Uncategorized {
			name = "(none)"
		}
		fmt.Fprintf(&b, "%10d: %-20s (%5d symbols)\n", c.Size, name, c.Symbols)
	}
	if !summaryFirst {
		b.WriteString(summary + "\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}
