package exporter

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/VladMinzatu/binsize/internal/sizediff"
	"github.com/VladMinzatu/binsize/internal/sizetree"
)

// BuildFoldedStacks turns every symbol leaf of the tree into a folded stack
// "dir;file;symbol" weighted by its size in bytes. Empty leaves are left out.
func BuildFoldedStacks(tree *sizetree.SizeNode) map[string]int64 {
	agg := make(map[string]int64)
	tree.Walk(func(path []string, node *sizetree.SizeNode) bool {
		if node.Kind != sizetree.KindSymbol || node.TotalSize == 0 {
			return true
		}
		agg[foldPath(path)] += node.TotalSize
		return true
	})
	return agg
}

// DiffStack is one line of the two-column folded format read by
// difffolded-aware flame graph tools.
type DiffStack struct {
	Stack  string
	Before int64
	After  int64
}

// BuildDiffFoldedStacks lists the symbol leaves of a diff with their size on
// both sides. Unchanged symbols are kept so the graph shows the whole binary.
func BuildDiffFoldedStacks(diff *sizediff.DiffNode) []DiffStack {
	var out []DiffStack
	diff.Walk(func(path []string, node *sizediff.DiffNode) bool {
		if node.Kind != sizetree.KindSymbol {
			return true
		}
		if node.BeforeSize == 0 && node.AfterSize == 0 {
			return true
		}
		out = append(out, DiffStack{Stack: foldPath(path), Before: node.BeforeSize, After: node.AfterSize})
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Stack < out[j].Stack })
	return out
}

func foldPath(path []string) string {
	names := make([]string, len(path))
	for i, p := range path {
		names[i] = escapeFoldedName(p)
	}
	return strings.Join(names, ";")
}

func escapeFoldedName(name string) string {
	// semicolons separate frames and newlines separate lines
	name = strings.ReplaceAll(name, ";", "_")
	name = strings.ReplaceAll(name, "\n", " ")
	name = strings.TrimSpace(name)
	if name == "" {
		return "<unknown>"
	}
	return name
}

// WriteFoldedStacks writes one "stack bytes" line per entry, largest first.
func WriteFoldedStacks(agg map[string]int64, w io.Writer) error {
	type kv struct {
		k string
		v int64
	}
	items := make([]kv, 0, len(agg))
	for k, v := range agg {
		items = append(items, kv{k, v})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].v == items[j].v {
			return items[i].k < items[j].k
		}
		return items[i].v > items[j].v
	})

	for _, it := range items {
		if _, err := fmt.Fprintf(w, "%s %d\n", it.k, it.v); err != nil {
			return err
		}
	}
	return nil
}

func WriteDiffFoldedStacks(stacks []DiffStack, w io.Writer) error {
	for _, s := range stacks {
		if _, err := fmt.Fprintf(w, "%s %d %d\n", s.Stack, s.Before, s.After); err != nil {
			return err
		}
	}
	return nil
}

func WriteFoldedStacksToFile(agg map[string]int64, filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()
	return WriteFoldedStacks(agg, f)
}
