package symbols

import "fmt"

// RawRecord is one row of tool output before normalization. Keys and value
// types differ between the tools that produce them.
type RawRecord map[string]any

type SymbolRecord struct {
	Name       string
	Size       int64
	Section    string
	SourcePath string
	Line       int
	Address    uint64
	HasAddress bool
}

func (r SymbolRecord) String() string {
	if r.HasAddress {
		return fmt.Sprintf("%s(%s@0x%x)", r.Name, r.Section, r.Address)
	}
	return fmt.Sprintf("%s(%s)", r.Name, r.Section)
}

// SameSymbol reports whether a and b describe the same symbol: name and
// section match, and so do the addresses when both records carry one.
func SameSymbol(a, b SymbolRecord) bool {
	if a.Name != b.Name || a.Section != b.Section {
		return false
	}
	if a.HasAddress && b.HasAddress {
		return a.Address == b.Address
	}
	return true
}

// SectionSymbolName is the name used for bytes of a section that no symbol accounts for.
func SectionSymbolName(section string) string {
	return "[section " + section + "]"
}

// Name returns the symbol name of a raw record; ok is false for section totals.
func (r RawRecord) Name() (name string, ok bool) {
	if _, ok := lookup(r, nameKeys); !ok {
		return "", false
	}
	return stringField(r, nameKeys), true
}

func (r RawRecord) Section() string {
	return stringField(r, sectionKeys)
}

// Size parses the size of a raw record with the same rules as Normalize.
func (r RawRecord) Size() (int64, error) {
	return sizeOf(-1, r)
}

// SetSize replaces the size of a raw record, whichever key held it.
func (r RawRecord) SetSize(size int64) {
	for _, k := range sizeKeys {
		delete(r, k)
	}
	r["size"] = size
}
