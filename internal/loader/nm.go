package loader

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"unicode"

	"github.com/VladMinzatu/binsize/internal/symbols"
)

// NmArgs are the arguments for an nm listing with sizes and source lines.
func NmArgs(binary string) []string {
	return []string{"--line-numbers", "--radix=dec", "--size-sort", "--print-size", binary}
}

var nmSections = map[rune]string{
	't': ".text",
	'w': ".text",
	'r': ".rodata",
	'd': ".data",
	'g': ".data",
	'v': ".data",
	'b': ".bss",
	's': ".bss",
}

// symbols of these types take no space in the binary
var nmSkipped = map[rune]bool{'u': true, 'a': true, 'n': true, 'i': true}

// LoadNm reads nm output, see ParseNmOutput.
func LoadNm(src LineSource) ([]symbols.RawRecord, error) {
	lines, err := src.ReadLines()
	if err != nil {
		return nil, fmt.Errorf("reading nm output: %w", err)
	}
	return ParseNmOutput(lines), nil
}

// ParseNmOutput parses lines of "nm --size-sort --radix=dec" output, with or
// without --print-size and --line-numbers:
//
//	0000000000000042 t helper	/src/a.c:12
//	0000000000004096 0000000000000042 T main	/src/main.c:3
//
// Lines that cannot be parsed are skipped.
func ParseNmOutput(lines []string) []symbols.RawRecord {
	out := make([]symbols.RawRecord, 0, len(lines))
	skipped := 0
	for _, line := range lines {
		rec, ok := parseNmLine(line)
		if !ok {
			if strings.TrimSpace(line) != "" {
				skipped++
			}
			continue
		}
		out = append(out, rec)
	}
	slog.Debug("Parsed nm output", "records", len(out), "skipped", skipped)
	return out
}

func parseNmLine(line string) (symbols.RawRecord, bool) {
	head, def, _ := strings.Cut(line, "\t")
	parts := strings.Fields(head)

	var addrStr, sizeStr, typ string
	var rest []string
	switch {
	case len(parts) >= 4 && isNumber(parts[1]) && isTypeLetter(parts[2]):
		addrStr, sizeStr, typ, rest = parts[0], parts[1], parts[2], parts[3:]
	case len(parts) >= 3 && isTypeLetter(parts[1]):
		sizeStr, typ, rest = parts[0], parts[1], parts[2:]
	default:
		return nil, false
	}

	letter := unicode.ToLower(rune(typ[0]))
	if nmSkipped[letter] {
		return nil, false
	}
	size, err := strconv.ParseUint(sizeStr, 10, 63)
	if err != nil {
		return nil, false
	}

	// without a tab the definition is the last field
	if def == "" && len(rest) > 1 && strings.Contains(rest[len(rest)-1], ":") {
		def = rest[len(rest)-1]
		rest = rest[:len(rest)-1]
	}
	rec := symbols.RawRecord{
		"tool":    "nm",
		"name":    strings.Join(rest, " "),
		"size":    int64(size),
		"section": nmSections[letter],
	}
	if addrStr != "" {
		addr, err := strconv.ParseUint(addrStr, 10, 64)
		if err != nil {
			return nil, false
		}
		rec["address"] = addr
	}
	if def = strings.TrimSpace(def); def != "" {
		rec["source_path"] = def
	}
	return rec, true
}

func isNumber(s string) bool {
	_, err := strconv.ParseUint(s, 10, 64)
	return err == nil
}

func isTypeLetter(s string) bool {
	return len(s) == 1 && unicode.IsLetter(rune(s[0]))
}
