package loader

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/VladMinzatu/binsize/internal/sizetree"
	"github.com/VladMinzatu/binsize/internal/symbols"
)

// MapItem is an input section or symbol listed under an output section of a
// GNU ld map file.
type MapItem struct {
	Name    string
	Entries []MapEntry
}

type MapEntry struct {
	Address uint64
	Size    int64
	Comment string
}

func (m *MapItem) TotalSize() int64 {
	var total int64
	for _, e := range m.Entries {
		total += e.Size
	}
	return total
}

// ParseMapSection collects the items of one output section of a map file.
// The section starts at the line beginning with its name and ends at the next
// line beginning with a dot.
func ParseMapSection(lines []string, section string) (map[string]*MapItem, error) {
	start := -1
	for i, line := range lines {
		if strings.HasPrefix(line, section+" ") || line == section {
			start = i
			break
		}
	}
	if start < 0 {
		return nil, fmt.Errorf("section %s not found in map file", section)
	}

	items := make(map[string]*MapItem)
	var current *MapItem
	for n, line := range lines[start+1:] {
		if strings.HasPrefix(line, ".") {
			break
		}
		elems := strings.Fields(line)
		if len(elems) > 0 && !strings.HasPrefix(elems[0], "0x") {
			name := DemangleRust(elems[0])
			item, ok := items[name]
			if !ok {
				item = &MapItem{Name: name}
				items[name] = item
			}
			current = item
			elems = elems[1:]
		}
		if len(elems) == 0 {
			continue
		}
		if current == nil {
			return nil, fmt.Errorf("map file line %d: entry without a name: %q", start+n+2, line)
		}
		addr, err := strconv.ParseUint(strings.TrimPrefix(elems[0], "0x"), 16, 64)
		if err != nil {
			slog.Debug("Skipping map file line", "line", start+n+2, "error", err)
			continue
		}
		entry := MapEntry{Address: addr}
		rest := elems[1:]
		if len(rest) > 0 && strings.HasPrefix(rest[0], "0x") {
			size, err := strconv.ParseInt(strings.TrimPrefix(rest[0], "0x"), 16, 64)
			if err == nil {
				entry.Size = size
				rest = rest[1:]
			}
		}
		entry.Comment = strings.Join(rest, " ")
		current.Entries = append(current.Entries, entry)
	}
	return items, nil
}

// MapSymbolSizes maps symbol names to sizes. Input section prefixes are
// removed, so ".text.foo" becomes "foo"; names with fewer than two dots, such
// as ".bootloader", stay as they are.
func MapSymbolSizes(items map[string]*MapItem) map[string]int64 {
	sizes := make(map[string]int64, len(items))
	for name, item := range items {
		key := name
		if strings.Count(name, ".") >= 2 {
			parts := strings.SplitN(strings.TrimLeft(name, "."), ".", 2)
			key = parts[len(parts)-1]
		}
		sizes[key] += item.TotalSize()
	}
	return sizes
}

// IncludeMapSymbols adds the symbols of section that the map file knows about
// but raw does not. The bytes added are taken away from the "[section X]"
// filler record, which is where the primary tool accounted for them. It
// returns the extended records and the number of bytes added.
func IncludeMapSymbols(raw []symbols.RawRecord, sizes map[string]int64, section string) ([]symbols.RawRecord, int64) {
	known := make(map[string]bool)
	var names []string
	for _, r := range raw {
		if r.Section() != section {
			continue
		}
		if name, ok := r.Name(); ok {
			known[name] = true
			names = append(names, name)
		}
	}

	var missing []string
	for name, size := range sizes {
		if size <= 0 || known[name] || isKnownRustSymbol(name, names) {
			continue
		}
		missing = append(missing, name)
	}
	sort.Strings(missing)

	var added int64
	for _, name := range missing {
		raw = append(raw, symbols.RawRecord{"tool": "mapfile", "name": name, "section": section, "size": sizes[name]})
		added += sizes[name]
	}
	slog.Debug("Added symbols from map file", "section", section, "symbols", len(missing), "bytes", added)

	if added > 0 {
		shrinkSectionFiller(raw, section, added)
	}
	return raw, added
}

func shrinkSectionFiller(raw []symbols.RawRecord, section string, by int64) {
	filler := symbols.SectionSymbolName(section)
	for _, r := range raw {
		if name, ok := r.Name(); !ok || name != filler {
			continue
		}
		size, err := r.Size()
		if err != nil {
			break
		}
		if size < by {
			slog.Warn("Section filler smaller than map file additions", "symbol", filler, "size", size, "added", by)
			by = size
		}
		r.SetSize(size - by)
		return
	}
	slog.Warn("Could not shrink section filler", "symbol", filler)
}

// Rust symbols show up mangled in map files and demangled elsewhere; the hash
// before the final "E" is the same in both.
func isKnownRustSymbol(name string, known []string) bool {
	if !strings.HasPrefix(name, "_ZN") || !strings.HasSuffix(name, "E") || len(name) < 11 {
		return false
	}
	hash := name[len(name)-10 : len(name)-1]
	for _, k := range known {
		if strings.HasSuffix(k, hash) {
			return true
		}
	}
	return false
}

type prefixTrie struct {
	children map[rune]*prefixTrie
	item     *MapItem
}

// MapPrefixTree groups the items of a section by common name prefixes. Every
// group with more than one member becomes a directory labeled with the
// prefix, items become symbol leaves.
func MapPrefixTree(section string, items map[string]*MapItem) *sizetree.SizeNode {
	root := &prefixTrie{children: make(map[rune]*prefixTrie)}
	for name, item := range items {
		t := root
		for _, r := range name {
			next, ok := t.children[r]
			if !ok {
				next = &prefixTrie{children: make(map[rune]*prefixTrie)}
				t.children[r] = next
			}
			t = next
		}
		t.item = item
	}

	node := &sizetree.SizeNode{Label: section, Kind: sizetree.KindRoot}
	for _, r := range sortedRunes(root.children) {
		node.Children = append(node.Children, prefixNode(string(r), root.children[r], section))
	}
	finishPrefixNode(node)
	return node
}

func prefixNode(prefix string, t *prefixTrie, section string) *sizetree.SizeNode {
	for t.item == nil && len(t.children) == 1 {
		for r, c := range t.children {
			prefix += string(r)
			t = c
		}
	}
	leaf := func(item *MapItem) *sizetree.SizeNode {
		size := item.TotalSize()
		return &sizetree.SizeNode{
			Label: item.Name, Kind: sizetree.KindSymbol, OwnSize: size, TotalSize: size,
			Symbol: &sizetree.SymbolRef{Name: item.Name, Section: section},
		}
	}
	if len(t.children) == 0 {
		return leaf(t.item)
	}
	n := &sizetree.SizeNode{Label: prefix, Kind: sizetree.KindDirectory}
	if t.item != nil {
		n.Children = append(n.Children, leaf(t.item))
	}
	for _, r := range sortedRunes(t.children) {
		n.Children = append(n.Children, prefixNode(prefix+string(r), t.children[r], section))
	}
	finishPrefixNode(n)
	return n
}

func finishPrefixNode(n *sizetree.SizeNode) {
	n.TotalSize = n.OwnSize
	for _, c := range n.Children {
		n.TotalSize += c.TotalSize
	}
	sizetree.SortChildren(n.Children)
}

func sortedRunes(m map[rune]*prefixTrie) []rune {
	out := make([]rune, 0, len(m))
	for r := range m {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
