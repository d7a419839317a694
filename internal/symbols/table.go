package symbols

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/VladMinzatu/binsize/internal/paths"
)

// Entry is a deduplicated symbol together with its resolved source position.
type Entry struct {
	Record SymbolRecord
	Path   paths.ResolvedPath
}

type groupKey struct {
	name    string
	section string
}

// group holds every distinct symbol sharing a name and a section. Records
// without an address live in floating until Entries decides where they go.
type group struct {
	addressed map[uint64]Entry
	floating  *Entry
}

// Table deduplicates symbols by identity. Records of the same symbol are never
// summed: the larger size wins and a DuplicateSymbolError is recorded.
type Table struct {
	groups   map[groupKey]*group
	warnings []error
}

func NewTable() *Table {
	return &Table{groups: make(map[groupKey]*group)}
}

func (t *Table) Add(rec SymbolRecord, p paths.ResolvedPath) {
	key := groupKey{rec.Name, rec.Section}
	g, ok := t.groups[key]
	if !ok {
		g = &group{addressed: make(map[uint64]Entry)}
		t.groups[key] = g
	}
	e := Entry{Record: rec, Path: p}
	if !rec.HasAddress {
		if g.floating == nil {
			g.floating = &e
			return
		}
		merged := t.merge(*g.floating, e)
		g.floating = &merged
		return
	}
	if prev, ok := g.addressed[rec.Address]; ok {
		g.addressed[rec.Address] = t.merge(prev, e)
		return
	}
	g.addressed[rec.Address] = e
}

// Warnings returns the DuplicateSymbolErrors of every record added so far.
func (t *Table) Warnings() []error {
	t.settleAll()
	return t.warnings
}

// Entries returns the distinct symbols ordered by path, name, section and
// address, so the result does not depend on insertion order.
func (t *Table) Entries() []Entry {
	t.settleAll()
	var out []Entry
	for _, g := range t.groups {
		for _, e := range g.addressed {
			out = append(out, e)
		}
		if g.floating != nil {
			out = append(out, *g.floating)
		}
	}
	sortEntries(out)
	return out
}

// Lookup returns all distinct symbols with the given name and section.
func (t *Table) Lookup(name, section string) []Entry {
	g, ok := t.groups[groupKey{name, section}]
	if !ok {
		return nil
	}
	t.settle(g)
	var out []Entry
	for _, e := range g.addressed {
		out = append(out, e)
	}
	if g.floating != nil {
		out = append(out, *g.floating)
	}
	sortEntries(out)
	return out
}

func (t *Table) Len() int {
	return len(t.Entries())
}

// TotalSize is the sum of the sizes of all distinct symbols.
func (t *Table) TotalSize() int64 {
	var total int64
	for _, e := range t.Entries() {
		total += e.Record.Size
	}
	return total
}

// settleAll settles every group in key order, so warnings come out in the
// same order whatever the insertion order was.
func (t *Table) settleAll() {
	keys := make([]groupKey, 0, len(t.groups))
	for k, g := range t.groups {
		if g.floating != nil && len(g.addressed) > 0 {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].name != keys[j].name {
			return keys[i].name < keys[j].name
		}
		return keys[i].section < keys[j].section
	})
	for _, k := range keys {
		t.settle(t.groups[k])
	}
}

// settle merges an address-less record into the addressed records of its
// group, as it matches all of them by identity. With several candidates the
// largest one (lowest address on ties) absorbs it.
func (t *Table) settle(g *group) {
	if g.floating == nil || len(g.addressed) == 0 {
		return
	}
	var target *Entry
	for addr := range g.addressed {
		e := g.addressed[addr]
		if target == nil || e.Record.Size > target.Record.Size ||
			(e.Record.Size == target.Record.Size && e.Record.Address < target.Record.Address) {
			target = &e
		}
	}
	merged := t.merge(*target, *g.floating)
	merged.Record.Address, merged.Record.HasAddress = target.Record.Address, true
	g.addressed[target.Record.Address] = merged
	g.floating = nil
}

// merge resolves two records of the same symbol into one.
func (t *Table) merge(a, b Entry) Entry {
	keep, drop := a, b
	if preferred(b, a) {
		keep, drop = b, a
	}
	if keep.Record.SourcePath == "" && drop.Record.SourcePath != "" {
		keep.Record.SourcePath, keep.Record.Line = drop.Record.SourcePath, drop.Record.Line
		keep.Path = drop.Path
	}
	slog.Debug("Duplicate symbol", "symbol", keep.Record.String(), "kept", keep.Record.Size, "dropped", drop.Record.Size)
	t.warnings = append(t.warnings, &DuplicateSymbolError{Symbol: keep.Record, Kept: keep.Record.Size, Dropped: drop.Record.Size})
	return keep
}

// preferred reports whether a should win over b.
func preferred(a, b Entry) bool {
	if a.Record.Size != b.Record.Size {
		return a.Record.Size > b.Record.Size
	}
	if (a.Record.SourcePath != "") != (b.Record.SourcePath != "") {
		return a.Record.SourcePath != ""
	}
	if a.Record.SourcePath != b.Record.SourcePath {
		return a.Record.SourcePath < b.Record.SourcePath
	}
	return a.Record.Line < b.Record.Line
}

func sortEntries(es []Entry) {
	sort.Slice(es, func(i, j int) bool { return entryLess(es[i], es[j]) })
}

func entryLess(a, b Entry) bool {
	if c := comparePaths(a.Path, b.Path); c != 0 {
		return c < 0
	}
	ra, rb := a.Record, b.Record
	if ra.Name != rb.Name {
		return ra.Name < rb.Name
	}
	if ra.Section != rb.Section {
		return ra.Section < rb.Section
	}
	if ra.HasAddress != rb.HasAddress {
		return ra.HasAddress
	}
	if ra.Address != rb.Address {
		return ra.Address < rb.Address
	}
	return ra.Size < rb.Size
}

// comparePaths orders unresolved paths last and resolved ones segment-wise.
func comparePaths(a, b paths.ResolvedPath) int {
	if a.Unresolved() != b.Unresolved() {
		if a.Unresolved() {
			return 1
		}
		return -1
	}
	for i := 0; i < len(a.Segments) && i < len(b.Segments); i++ {
		if c := strings.Compare(a.Segments[i], b.Segments[i]); c != 0 {
			return c
		}
	}
	return len(a.Segments) - len(b.Segments)
}
