package sizetree

import (
	"fmt"
	"strings"
)

type Kind int

const (
	KindRoot Kind = iota
	KindDirectory
	KindFile
	KindSymbol
)

var kindNames = map[Kind]string{
	KindRoot:      "root",
	KindDirectory: "directory",
	KindFile:      "file",
	KindSymbol:    "symbol",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

func (k Kind) MarshalText() ([]byte, error) {
	s, ok := kindNames[k]
	if !ok {
		return nil, fmt.Errorf("unknown node kind %d", int(k))
	}
	return []byte(s), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	for kind, name := range kindNames {
		if name == string(b) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown node kind %q", string(b))
}

// SymbolRef identifies the symbol behind a leaf.
type SymbolRef struct {
	Name       string `json:"name"`
	Section    string `json:"section,omitempty"`
	Address    uint64 `json:"address,omitempty"`
	HasAddress bool   `json:"has_address,omitempty"`
	SourcePath string `json:"source_path,omitempty"`
	Line       int    `json:"line,omitempty"`
}

// SizeNode is one node of an aggregation tree. Only symbol leaves own bytes,
// every other node has OwnSize 0 and a TotalSize equal to the sum of its
// children. A tree is never modified after Build returns.
//
// Label is unique among siblings and may carry a suffix such as " (file)".
// Name is the directory or file name the label was derived from.
type SizeNode struct {
	Label      string      `json:"label"`
	Name       string      `json:"name,omitempty"`
	Kind       Kind        `json:"kind"`
	Unresolved bool        `json:"unresolved,omitempty"`
	OwnSize    int64       `json:"own_size"`
	TotalSize  int64       `json:"total_size"`
	Symbol     *SymbolRef  `json:"symbol,omitempty"`
	Children   []*SizeNode `json:"children,omitempty"`
}

// Identity is what makes a directory or file the same node in two trees.
type Identity struct {
	Kind       Kind
	Name       string
	Unresolved bool
}

// Identity returns the identity of a structural node. Trees stored without
// names fall back to the label.
func (n *SizeNode) Identity() Identity {
	name := n.Name
	unresolved := n.Unresolved
	if name == "" {
		name = n.Label
		if n.Kind == KindDirectory && n.Label == UnresolvedLabel {
			unresolved = true
		}
	}
	return Identity{Kind: n.Kind, Name: name, Unresolved: unresolved}
}

// Child returns the direct child with the given label, or nil.
func (n *SizeNode) Child(label string) *SizeNode {
	if n == nil {
		return nil
	}
	for _, c := range n.Children {
		if c.Label == label {
			return c
		}
	}
	return nil
}

// Find follows labels down from n. Find() returns n itself.
func (n *SizeNode) Find(labels ...string) *SizeNode {
	cur := n
	for _, l := range labels {
		cur = cur.Child(l)
		if cur == nil {
			return nil
		}
	}
	return cur
}

// FindPath is Find with a "/" separated path.
func (n *SizeNode) FindPath(p string) *SizeNode {
	p = strings.Trim(p, "/")
	if p == "" {
		return n
	}
	return n.Find(strings.Split(p, "/")...)
}

// Walk visits n and its descendants in pre-order. path holds the labels from
// below n down to the visited node; it must not be retained by fn. Returning
// false from fn skips the children of that node.
func (n *SizeNode) Walk(fn func(path []string, node *SizeNode) bool) {
	if n == nil {
		return
	}
	var visit func(path []string, node *SizeNode)
	visit = func(path []string, node *SizeNode) {
		if !fn(path, node) {
			return
		}
		for _, c := range node.Children {
			visit(append(path, c.Label), c)
		}
	}
	visit(nil, n)
}

func (n *SizeNode) SymbolCount() int {
	count := 0
	n.Walk(func(_ []string, node *SizeNode) bool {
		if node.Kind == KindSymbol {
			count++
		}
		return true
	})
	return count
}

// Verify checks that every node's TotalSize equals its OwnSize plus the
// totals of its children and that only symbol leaves own bytes.
func (n *SizeNode) Verify() error {
	var err error
	n.Walk(func(path []string, node *SizeNode) bool {
		if err != nil {
			return false
		}
		where := strings.Join(path, "/")
		if node.Kind != KindSymbol && node.OwnSize != 0 {
			err = fmt.Errorf("node %q (%s) owns %d bytes", where, node.Kind, node.OwnSize)
			return false
		}
		if node.Kind == KindSymbol && len(node.Children) > 0 {
			err = fmt.Errorf("symbol %q has children", where)
			return false
		}
		sum := node.OwnSize
		for _, c := range node.Children {
			sum += c.TotalSize
		}
		if sum != node.TotalSize {
			err = fmt.Errorf("node %q: total size %d, own size plus children %d", where, node.TotalSize, sum)
			return false
		}
		return true
	})
	return err
}
