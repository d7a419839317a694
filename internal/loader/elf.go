package loader

import (
	"debug/dwarf"
	"debug/elf"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/VladMinzatu/binsize/internal/symbols"
)

// sourceLocation is where DWARF says a function or variable was declared.
type sourceLocation struct {
	file string
	line int
}

// dwarfIndex maps symbols to their declarations. Functions are keyed by
// entry address, variables only by name, since their location is an
// expression rather than a plain address.
type dwarfIndex struct {
	byAddr map[uint64]sourceLocation
	byName map[string]sourceLocation
	// names declared more than once cannot be attributed by name
	ambiguous map[string]bool
}

// ReadELF reads the symbol table of an ELF file and attributes every sized
// function and object to the section it lives in. Source files come from the
// DWARF data when the binary carries it. Allocated sections are also reported
// as section totals, and the part of a section no symbol covers becomes a
// "[section X]" record.
func ReadELF(path string) ([]symbols.RawRecord, error) {
	slog.Info("Loading ELF symbols", "path", path)
	ef, err := elf.Open(path)
	if err != nil {
		return nil, err
	}
	defer ef.Close()

	syms, err := readElfSymbols(ef)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	index, err := readDwarfIndex(ef)
	if err != nil {
		slog.Info("Dwarf data not available", "path", path, "error", err)
	}

	type extent struct {
		section elf.SectionIndex
		addr    uint64
		size    uint64
	}
	var out []symbols.RawRecord
	covered := make(map[string]int64)
	aliases := make(map[extent]bool)
	for _, s := range syms {
		typ := elf.ST_TYPE(s.Info)
		if s.Size == 0 || (typ != elf.STT_FUNC && typ != elf.STT_OBJECT) {
			continue
		}
		if s.Section == elf.SHN_UNDEF || int(s.Section) >= len(ef.Sections) {
			continue
		}
		sect := ef.Sections[s.Section]
		if sect.Flags&elf.SHF_ALLOC == 0 {
			continue
		}
		// aliases share one body; the first name in the table wins
		key := extent{s.Section, s.Value, s.Size}
		if aliases[key] {
			continue
		}
		aliases[key] = true
		rec := symbols.RawRecord{
			"tool":    "elf",
			"name":    s.Name,
			"size":    s.Size,
			"section": sect.Name,
			"address": s.Value,
		}
		if loc, ok := index.lookup(s.Name, s.Value, typ); ok {
			rec["source_path"] = fmt.Sprintf("%s:%d", loc.file, loc.line)
		}
		out = append(out, rec)
		covered[sect.Name] += int64(s.Size)
	}

	for _, sect := range ef.Sections {
		if sect.Flags&elf.SHF_ALLOC == 0 || sect.Size == 0 {
			continue
		}
		out = append(out, symbols.RawRecord{"tool": "elf", "section": sect.Name, "size": sect.Size})
		if rest := int64(sect.Size) - covered[sect.Name]; covered[sect.Name] > 0 && rest > 0 {
			out = append(out, symbols.RawRecord{
				"tool":    "elf",
				"name":    symbols.SectionSymbolName(sect.Name),
				"size":    rest,
				"section": sect.Name,
			})
		}
	}
	slog.Debug("Read ELF symbols", "path", path, "records", len(out))
	return out, nil
}

// readElfSymbols returns the static symbol table, falling back to the
// dynamic one for stripped binaries. Both are sorted by address.
func readElfSymbols(ef *elf.File) ([]elf.Symbol, error) {
	var syms []elf.Symbol
	if section := ef.Section(".symtab"); section != nil {
		st, err := ef.Symbols()
		if err == nil {
			syms = append(syms, st...)
		}
	}
	if len(syms) == 0 && ef.Section(".dynsym") != nil {
		st, err := ef.DynamicSymbols()
		if err == nil {
			syms = append(syms, st...)
		}
	}
	if len(syms) == 0 {
		return nil, errors.New("no symbol tables available in ELF")
	}
	sort.SliceStable(syms, func(i, j int) bool { return syms[i].Value < syms[j].Value })
	return syms, nil
}

func readDwarfIndex(ef *elf.File) (*dwarfIndex, error) {
	data, err := ef.DWARF()
	if err != nil {
		return nil, err
	}
	idx := &dwarfIndex{
		byAddr:    make(map[uint64]sourceLocation),
		byName:    make(map[string]sourceLocation),
		ambiguous: make(map[string]bool),
	}

	rdr := data.Reader()
	var files []*dwarf.LineFile
	for {
		ent, err := rdr.Next()
		if err != nil {
			return idx, err
		}
		if ent == nil {
			break
		}
		switch ent.Tag {
		case dwarf.TagCompileUnit:
			files = nil
			if lr, err := data.LineReader(ent); err == nil && lr != nil {
				files = lr.Files()
			}
		case dwarf.TagSubprogram, dwarf.TagVariable:
			loc, ok := declLocation(ent, files)
			if !ok {
				continue
			}
			if low, ok := ent.Val(dwarf.AttrLowpc).(uint64); ok && ent.Tag == dwarf.TagSubprogram {
				idx.byAddr[low] = loc
			}
			name := entryName(ent)
			if name == "" {
				continue
			}
			if prev, ok := idx.byName[name]; ok && prev != loc {
				idx.ambiguous[name] = true
			}
			idx.byName[name] = loc
		}
	}
	return idx, nil
}

func (idx *dwarfIndex) lookup(name string, addr uint64, typ elf.SymType) (sourceLocation, bool) {
	if idx == nil {
		return sourceLocation{}, false
	}
	if typ == elf.STT_FUNC {
		if loc, ok := idx.byAddr[addr]; ok {
			return loc, true
		}
	}
	if idx.ambiguous[name] {
		return sourceLocation{}, false
	}
	loc, ok := idx.byName[name]
	return loc, ok
}

func declLocation(ent *dwarf.Entry, files []*dwarf.LineFile) (sourceLocation, bool) {
	fileIdx, ok := ent.Val(dwarf.AttrDeclFile).(int64)
	if !ok || fileIdx < 0 || int(fileIdx) >= len(files) || files[fileIdx] == nil {
		return sourceLocation{}, false
	}
	line, _ := ent.Val(dwarf.AttrDeclLine).(int64)
	return sourceLocation{file: files[fileIdx].Name, line: int(line)}, true
}

// entryName prefers the linkage name, which is what the symbol table holds
// for C++ and Rust.
func entryName(ent *dwarf.Entry) string {
	if s, ok := ent.Val(dwarf.AttrLinkageName).(string); ok && s != "" {
		return s
	}
	s, _ := ent.Val(dwarf.AttrName).(string)
	return s
}
