package symbols

import "fmt"

// MalformedRecordError is returned for a raw record that could not be
// normalized. The record is skipped, the rest of the input is not affected.
type MalformedRecordError struct {
	Index  int
	Field  string
	Value  any
	Reason string
}

func (e *MalformedRecordError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("malformed record #%d: %s", e.Index, e.Reason)
	}
	return fmt.Sprintf("malformed record #%d: field %q (%v): %s", e.Index, e.Field, e.Value, e.Reason)
}

// DuplicateSymbolError is a warning for two records with the same identity.
// Kept holds the size that won, Dropped the one that was discarded.
type DuplicateSymbolError struct {
	Symbol  SymbolRecord
	Kept    int64
	Dropped int64
}

func (e *DuplicateSymbolError) Error() string {
	return fmt.Sprintf("duplicate symbol %s: kept size %d, dropped size %d", e.Symbol, e.Kept, e.Dropped)
}

// SectionMismatchError is a warning raised when the symbols of a section add
// up to more bytes than the section total reported for it.
type SectionMismatchError struct {
	Section      string
	SectionTotal int64
	SymbolTotal  int64
}

func (e *SectionMismatchError) Error() string {
	return fmt.Sprintf("section %s: symbols account for %d bytes but the section total is %d",
		e.Section, e.SymbolTotal, e.SectionTotal)
}
