package sizediff

import (
	"fmt"
	"sort"

	"github.com/VladMinzatu/binsize/internal/sizetree"
)

type Status int

const (
	StatusUnchanged Status = iota
	StatusAdded
	StatusRemoved
	StatusChanged
)

var statusNames = map[Status]string{
	StatusUnchanged: "unchanged",
	StatusAdded:     "added",
	StatusRemoved:   "removed",
	StatusChanged:   "changed",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

func (s Status) MarshalText() ([]byte, error) {
	name, ok := statusNames[s]
	if !ok {
		return nil, fmt.Errorf("unknown status %d", int(s))
	}
	return []byte(name), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	for st, name := range statusNames {
		if name == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", string(b))
}

// DiffNode compares one node of two trees. BeforeSize and AfterSize are total
// sizes; a side that lacks the node counts as 0.
type DiffNode struct {
	Label      string              `json:"label"`
	Name       string              `json:"name,omitempty"`
	Kind       sizetree.Kind       `json:"kind"`
	Unresolved bool                `json:"unresolved,omitempty"`
	Status     Status              `json:"status"`
	BeforeSize int64               `json:"before_size"`
	AfterSize  int64               `json:"after_size"`
	Delta      int64               `json:"delta"`
	Symbol     *sizetree.SymbolRef `json:"symbol,omitempty"`
	Children   []*DiffNode         `json:"children,omitempty"`
}

// Diff compares two trees. Directories and files are matched by kind and
// name, and relabeled over the union of both sides. Symbol leaves are matched by name and section; several leaves of the
// same name and section are paired in address order and the ones left over
// are reported as added or removed. Either tree may be nil.
func Diff(before, after *sizetree.SizeNode) *DiffNode {
	switch {
	case before == nil && after == nil:
		return &DiffNode{Label: sizetree.RootLabel, Kind: sizetree.KindRoot}
	case before == nil:
		return whole(after, StatusAdded)
	case after == nil:
		return whole(before, StatusRemoved)
	}
	return compare(before, after)
}

func compare(before, after *sizetree.SizeNode) *DiffNode {
	d := &DiffNode{
		Label:      after.Label,
		Kind:       after.Kind,
		BeforeSize: before.TotalSize,
		AfterSize:  after.TotalSize,
		Delta:      after.TotalSize - before.TotalSize,
		Symbol:     after.Symbol,
	}
	if after.Kind != sizetree.KindSymbol {
		id := after.Identity()
		d.Name, d.Unresolved = id.Name, id.Unresolved
	}

	changed := before.OwnSize != after.OwnSize
	d.Children = append(d.Children, compareStructure(before.Children, after.Children)...)
	d.Children = append(d.Children, compareSymbols(before.Children, after.Children)...)
	for _, c := range d.Children {
		if c.Status != StatusUnchanged {
			changed = true
		}
	}
	if changed {
		d.Status = StatusChanged
	}
	sortChildren(d.Children)
	return d
}

func compareStructure(before, after []*sizetree.SizeNode) []*DiffNode {
	index := make(map[sizetree.Identity]*sizetree.SizeNode)
	for _, b := range before {
		if b.Kind != sizetree.KindSymbol {
			index[b.Identity()] = b
		}
	}
	var out []*DiffNode
	for _, a := range after {
		if a.Kind == sizetree.KindSymbol {
			continue
		}
		id := a.Identity()
		if b, ok := index[id]; ok {
			out = append(out, compare(b, a))
			delete(index, id)
			continue
		}
		out = append(out, whole(a, StatusAdded))
	}
	for _, b := range before {
		if b.Kind == sizetree.KindSymbol {
			continue
		}
		if _, ok := index[b.Identity()]; ok {
			out = append(out, whole(b, StatusRemoved))
		}
	}

	ids := make([]sizetree.Identity, len(out))
	for i, d := range out {
		ids[i] = d.Identity()
	}
	for i, label := range sizetree.StructureLabels(ids) {
		out[i].Label = label
	}
	return out
}

type symbolKey struct {
	name    string
	section string
}

// pairedLeaf is a symbol leaf position: one (name, section) group member
// and its ordinal within the group.
type pairedLeaf struct {
	key     symbolKey
	ordinal int
	node    *DiffNode
}

func compareSymbols(before, after []*sizetree.SizeNode) []*DiffNode {
	bs, as := groupSymbols(before), groupSymbols(after)
	keys := make(map[symbolKey]bool)
	for k := range bs {
		keys[k] = true
	}
	for k := range as {
		keys[k] = true
	}

	var leaves []pairedLeaf
	for k := range keys {
		b, a := bs[k], as[k]
		for i := 0; i < len(b) || i < len(a); i++ {
			var n *DiffNode
			switch {
			case i >= len(a):
				n = whole(b[i], StatusRemoved)
			case i >= len(b):
				n = whole(a[i], StatusAdded)
			default:
				n = compare(b[i], a[i])
			}
			leaves = append(leaves, pairedLeaf{key: k, ordinal: i, node: n})
		}
	}
	sort.Slice(leaves, func(i, j int) bool {
		if leaves[i].key.name != leaves[j].key.name {
			return leaves[i].key.name < leaves[j].key.name
		}
		if leaves[i].key.section != leaves[j].key.section {
			return leaves[i].key.section < leaves[j].key.section
		}
		return leaves[i].ordinal < leaves[j].ordinal
	})

	names := make([]string, len(leaves))
	for i, l := range leaves {
		names[i] = l.key.name
	}
	out := make([]*DiffNode, len(leaves))
	for i, label := range sizetree.UniqueLabels(names) {
		leaves[i].node.Label = label
		out[i] = leaves[i].node
	}
	return out
}

// groupSymbols collects the symbol leaves of a node by name and section, each
// group ordered by address and size.
func groupSymbols(children []*sizetree.SizeNode) map[symbolKey][]*sizetree.SizeNode {
	groups := make(map[symbolKey][]*sizetree.SizeNode)
	for _, c := range children {
		if c.Kind != sizetree.KindSymbol || c.Symbol == nil {
			continue
		}
		k := symbolKey{c.Symbol.Name, c.Symbol.Section}
		groups[k] = append(groups[k], c)
	}
	for _, g := range groups {
		sizetree.SortSymbols(g)
	}
	return groups
}

// Identity returns the identity of the compared directory or file.
func (d *DiffNode) Identity() sizetree.Identity {
	return sizetree.Identity{Kind: d.Kind, Name: d.Name, Unresolved: d.Unresolved}
}

// whole turns a subtree present on one side only into diff nodes.
func whole(n *sizetree.SizeNode, status Status) *DiffNode {
	d := &DiffNode{Label: n.Label, Kind: n.Kind, Status: status, Symbol: n.Symbol}
	if n.Kind != sizetree.KindSymbol {
		id := n.Identity()
		d.Name, d.Unresolved = id.Name, id.Unresolved
	}
	if status == StatusAdded {
		d.AfterSize = n.TotalSize
		d.Delta = n.TotalSize
	} else {
		d.BeforeSize = n.TotalSize
		d.Delta = -n.TotalSize
	}
	for _, c := range n.Children {
		d.Children = append(d.Children, whole(c, status))
	}
	sortChildren(d.Children)
	return d
}

// sortChildren orders by descending absolute delta, then label.
func sortChildren(children []*DiffNode) {
	sort.SliceStable(children, func(i, j int) bool {
		di, dj := abs(children[i].Delta), abs(children[j].Delta)
		if di != dj {
			return di > dj
		}
		return children[i].Label < children[j].Label
	})
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
