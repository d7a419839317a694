package sizediff

import (
	"strings"

	"github.com/VladMinzatu/binsize/internal/sizetree"
)

func (d *DiffNode) Child(label string) *DiffNode {
	if d == nil {
		return nil
	}
	for _, c := range d.Children {
		if c.Label == label {
			return c
		}
	}
	return nil
}

func (d *DiffNode) Find(labels ...string) *DiffNode {
	cur := d
	for _, l := range labels {
		if cur = cur.Child(l); cur == nil {
			return nil
		}
	}
	return cur
}

// Walk visits d and its descendants in pre-order, with the same contract as
// sizetree.SizeNode.Walk.
func (d *DiffNode) Walk(fn func(path []string, node *DiffNode) bool) {
	if d == nil {
		return
	}
	var visit func(path []string, node *DiffNode)
	visit = func(path []string, node *DiffNode) {
		if !fn(path, node) {
			return
		}
		for _, c := range node.Children {
			visit(append(path, c.Label), c)
		}
	}
	visit(nil, d)
}

// Change is a symbol that was added, removed or resized.
type Change struct {
	Path string
	Node *DiffNode
}

// Changes lists every symbol leaf whose status is not unchanged, in tree order.
func (d *DiffNode) Changes() []Change {
	var out []Change
	d.Walk(func(path []string, node *DiffNode) bool {
		if node.Status == StatusUnchanged {
			return false
		}
		if node.Kind == sizetree.KindSymbol {
			out = append(out, Change{Path: strings.Join(path, "/"), Node: node})
		}
		return true
	})
	return out
}

type Summary struct {
	Added     int
	Removed   int
	Changed   int
	Unchanged int
	Growth    int64
	Shrinkage int64
}

// Summary counts symbol leaves per status. Growth and Shrinkage sum the
// positive and negative symbol deltas.
func (d *DiffNode) Summary() Summary {
	var s Summary
	d.Walk(func(_ []string, node *DiffNode) bool {
		if node.Kind != sizetree.KindSymbol {
			return true
		}
		switch node.Status {
		case StatusAdded:
			s.Added++
		case StatusRemoved:
			s.Removed++
		case StatusChanged:
			s.Changed++
		default:
			s.Unchanged++
		}
		if node.Delta > 0 {
			s.Growth += node.Delta
		} else {
			s.Shrinkage -= node.Delta
		}
		return true
	})
	return s
}
