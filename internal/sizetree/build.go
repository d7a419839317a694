package sizetree

import (
	"fmt"
	"sort"

	"github.com/VladMinzatu/binsize/internal/symbols"
)

const (
	RootLabel       = "."
	UnresolvedLabel = "[unresolved]"
	noSectionLabel  = "[no section]"
)

// builder is the mutable structure of the first pass. Directories, files and
// the unresolved bucket are kept apart so nodes of the same name never merge.
type builder struct {
	node       *SizeNode
	dirs       map[string]*builder
	files      map[string]*builder
	unresolved *builder
	leaves     []*SizeNode
}

func newBuilder(name string, kind Kind) *builder {
	return &builder{
		node:  &SizeNode{Label: name, Name: name, Kind: kind},
		dirs:  make(map[string]*builder),
		files: make(map[string]*builder),
	}
}

func (b *builder) dir(name string) *builder {
	d, ok := b.dirs[name]
	if !ok {
		d = newBuilder(name, KindDirectory)
		b.dirs[name] = d
	}
	return d
}

func (b *builder) file(name string) *builder {
	f, ok := b.files[name]
	if !ok {
		f = newBuilder(name, KindFile)
		b.files[name] = f
	}
	return f
}

func (b *builder) bucket() *builder {
	if b.unresolved == nil {
		b.unresolved = newBuilder(UnresolvedLabel, KindDirectory)
		b.unresolved.node.Unresolved = true
	}
	return b.unresolved
}

// Build folds the entries into a tree. Entries with an unresolved path end up
// in a file named after their section under the unresolved bucket.
//
// The first pass only creates structure. Labels, totals and child order are
// computed afterwards in a post-order pass, so the result does not depend on
// the order of entries.
func Build(entries []symbols.Entry) *SizeNode {
	root := newBuilder(RootLabel, KindRoot)
	for _, e := range entries {
		parent := root
		var file *builder
		if e.Path.Unresolved() {
			section := e.Record.Section
			if section == "" {
				section = noSectionLabel
			}
			file = parent.bucket().file(section)
		} else {
			for _, seg := range e.Path.Dir() {
				parent = parent.dir(seg)
			}
			file = parent.file(e.Path.File())
		}
		file.leaves = append(file.leaves, leafFor(e.Record))
	}
	return root.finish()
}

// FromTable builds the tree of every entry in t.
func FromTable(t *symbols.Table) *SizeNode {
	return Build(t.Entries())
}

func leafFor(rec symbols.SymbolRecord) *SizeNode {
	return &SizeNode{
		Label:     rec.Name,
		Kind:      KindSymbol,
		OwnSize:   rec.Size,
		TotalSize: rec.Size,
		Symbol: &SymbolRef{
			Name:       rec.Name,
			Section:    rec.Section,
			Address:    rec.Address,
			HasAddress: rec.HasAddress,
			SourcePath: rec.SourcePath,
			Line:       rec.Line,
		},
	}
}

func (b *builder) finish() *SizeNode {
	n := b.node
	n.Children = nil

	if len(b.leaves) > 0 {
		SortSymbols(b.leaves)
		names := make([]string, len(b.leaves))
		for i, l := range b.leaves {
			names[i] = l.Symbol.Name
		}
		for i, label := range UniqueLabels(names) {
			b.leaves[i].Label = label
		}
		n.Children = append(n.Children, b.leaves...)
	}

	var structure []*SizeNode
	if b.unresolved != nil {
		structure = append(structure, b.unresolved.finish())
	}
	for _, name := range sortedKeys(b.dirs) {
		structure = append(structure, b.dirs[name].finish())
	}
	for _, name := range sortedKeys(b.files) {
		structure = append(structure, b.files[name].finish())
	}
	ids := make([]Identity, len(structure))
	for i, c := range structure {
		ids[i] = c.Identity()
	}
	for i, label := range StructureLabels(ids) {
		structure[i].Label = label
	}
	n.Children = append(n.Children, structure...)

	n.TotalSize = n.OwnSize
	for _, c := range n.Children {
		n.TotalSize += c.TotalSize
	}
	SortChildren(n.Children)
	return n
}

// StructureLabels gives sibling directories and files labels that are unique
// and depend only on the set of identities, not their order. The unresolved
// bucket keeps UnresolvedLabel, directories keep their name and files keep
// theirs unless it is taken, in which case they get a " (file)" suffix.
func StructureLabels(ids []Identity) []string {
	order := make([]int, len(ids))
	for i := range order {
		order[i] = i
	}
	rank := func(id Identity) int {
		switch {
		case id.Unresolved:
			return 0
		case id.Kind == KindFile:
			return 2
		}
		return 1
	}
	sort.SliceStable(order, func(i, j int) bool {
		a, b := ids[order[i]], ids[order[j]]
		if ra, rb := rank(a), rank(b); ra != rb {
			return ra < rb
		}
		return a.Name < b.Name
	})

	labels := make([]string, len(ids))
	used := make(map[string]bool, len(ids))
	for _, i := range order {
		id := ids[i]
		label := id.Name
		if used[label] {
			switch {
			case id.Kind == KindFile:
				label = FileLabel(id.Name, used)
			default:
				label = suffixed(id.Name, "dir", used)
			}
		}
		used[label] = true
		labels[i] = label
	}
	return labels
}

// FileLabel returns the label of a file that shares its name with a
// directory of the same parent.
func FileLabel(name string, used map[string]bool) string {
	return suffixed(name, "file", used)
}

func suffixed(name, what string, used map[string]bool) string {
	label := fmt.Sprintf("%s (%s)", name, what)
	for i := 2; used[label]; i++ {
		label = fmt.Sprintf("%s (%s %d)", name, what, i)
	}
	return label
}

// UniqueLabels labels names in order: the first occurrence of a name keeps
// it, later ones get "#2", "#3" and so on. Generated labels never collide
// with a label handed out earlier.
func UniqueLabels(names []string) []string {
	labels := make([]string, len(names))
	used := make(map[string]bool, len(names))
	seen := make(map[string]int, len(names))
	for i, name := range names {
		seen[name]++
		label := name
		if seen[name] > 1 {
			label = fmt.Sprintf("%s#%d", name, seen[name])
		}
		for used[label] {
			seen[name]++
			label = fmt.Sprintf("%s#%d", name, seen[name])
		}
		used[label] = true
		labels[i] = label
	}
	return labels
}

// SortSymbols orders leaves by name, section, address and size. Leaves
// without an address come after the addressed ones.
func SortSymbols(leaves []*SizeNode) {
	sort.SliceStable(leaves, func(i, j int) bool {
		return SymbolLess(leaves[i].Symbol, leaves[j].Symbol, leaves[i].OwnSize, leaves[j].OwnSize)
	})
}

func SymbolLess(a, b *SymbolRef, sizeA, sizeB int64) bool {
	if a.Name != b.Name {
		return a.Name < b.Name
	}
	if a.Section != b.Section {
		return a.Section < b.Section
	}
	if a.HasAddress != b.HasAddress {
		return a.HasAddress
	}
	if a.Address != b.Address {
		return a.Address < b.Address
	}
	return sizeA < sizeB
}

// SortChildren orders by descending total size, then label.
func SortChildren(children []*SizeNode) {
	sort.SliceStable(children, func(i, j int) bool {
		if children[i].TotalSize != children[j].TotalSize {
			return children[i].TotalSize > children[j].TotalSize
		}
		return children[i].Label < children[j].Label
	})
}

func sortedKeys(m map[string]*builder) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
