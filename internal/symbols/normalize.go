package symbols

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	nameKeys    = []string{"name", "symbol", "symbols"}
	sizeKeys    = []string{"size", "filesize", "vmsize"}
	sectionKeys = []string{"section", "sections"}
	sourceKeys  = []string{"source_path", "source", "file", "definition"}
	addressKeys = []string{"address", "addr", "value"}
)

var lineSuffix = regexp.MustCompile(`:(\d+)$`)

// Normalize turns raw tool output into SymbolRecords.
//
// Records without a name are section totals. They only become records of
// their own (named by SectionSymbolName) for sections no symbol-level record
// covers; otherwise they are used to cross-check the symbol sizes. Malformed
// records are skipped and reported in the returned errors together with any
// section mismatch warnings.
func Normalize(raw []RawRecord) ([]SymbolRecord, []error) {
	var (
		records  []SymbolRecord
		problems []error
		totals   = make(map[string]int64)
		bySect   = make(map[string]int64)
	)

	for i, r := range raw {
		size, err := sizeOf(i, r)
		if err != nil {
			slog.Debug("Skipping malformed record", "index", i, "error", err)
			problems = append(problems, err)
			continue
		}
		section := stringField(r, sectionKeys)
		name, hasName := lookup(r, nameKeys)

		if !hasName {
			if section == "" {
				problems = append(problems, &MalformedRecordError{Index: i, Reason: "neither name nor section present"})
				continue
			}
			// several totals for one section come from separate segments
			totals[section] += size
			continue
		}

		rec := SymbolRecord{
			Name:    strings.TrimSpace(fmt.Sprint(name)),
			Size:    size,
			Section: section,
		}
		rec.SourcePath, rec.Line = splitSource(stringField(r, sourceKeys))
		if v, ok := lookup(r, addressKeys); ok {
			addr, err := parseUint(v)
			if err != nil {
				problems = append(problems, &MalformedRecordError{Index: i, Field: "address", Value: v, Reason: err.Error()})
				continue
			}
			rec.Address, rec.HasAddress = addr, true
		}
		records = append(records, rec)
		bySect[section] += size
	}

	sections := make([]string, 0, len(totals))
	for s := range totals {
		sections = append(sections, s)
	}
	sort.Strings(sections)
	for _, section := range sections {
		total := totals[section]
		symbolSum, covered := bySect[section]
		if !covered {
			records = append(records, SymbolRecord{Name: SectionSymbolName(section), Size: total, Section: section})
			continue
		}
		if symbolSum > total {
			problems = append(problems, &SectionMismatchError{Section: section, SectionTotal: total, SymbolTotal: symbolSum})
		}
	}
	return records, problems
}

func sizeOf(i int, r RawRecord) (int64, error) {
	v, ok := lookup(r, sizeKeys)
	if !ok {
		return 0, &MalformedRecordError{Index: i, Field: "size", Reason: "missing"}
	}
	size, err := parseInt(v)
	if err != nil {
		return 0, &MalformedRecordError{Index: i, Field: "size", Value: v, Reason: err.Error()}
	}
	if size < 0 {
		return 0, &MalformedRecordError{Index: i, Field: "size", Value: v, Reason: "negative size"}
	}
	return size, nil
}

func lookup(r RawRecord, keys []string) (any, bool) {
	for _, k := range keys {
		if v, ok := r[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func stringField(r RawRecord, keys []string) string {
	v, ok := lookup(r, keys)
	if !ok {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

// splitSource separates an optional ":<line>" suffix as printed by nm.
func splitSource(s string) (string, int) {
	m := lineSuffix.FindStringSubmatchIndex(s)
	if m == nil {
		return s, 0
	}
	line, err := strconv.Atoi(s[m[2]:m[3]])
	if err != nil {
		return s, 0
	}
	return s[:m[0]], line
}

func parseInt(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint:
		return checkedUint(uint64(n))
	case uint32:
		return int64(n), nil
	case uint64:
		return checkedUint(n)
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) || n != math.Trunc(n) {
			return 0, errors.New("not an integral number")
		}
		if n >= math.MaxInt64 || n <= math.MinInt64 {
			return 0, errors.New("out of range")
		}
		return int64(n), nil
	case string:
		s := strings.TrimSpace(strings.ReplaceAll(n, "_", ""))
		if s == "" {
			return 0, errors.New("empty")
		}
		if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
			u, err := strconv.ParseUint(s[2:], 16, 64)
			if err != nil {
				return 0, errors.New("not a number")
			}
			return checkedUint(u)
		}
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, errors.New("not a number")
		}
		return i, nil
	default:
		return 0, errors.New("not a number")
	}
}

func checkedUint(u uint64) (int64, error) {
	if u > math.MaxInt64 {
		return 0, errors.New("out of range")
	}
	return int64(u), nil
}

func parseUint(v any) (uint64, error) {
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
			u, err := strconv.ParseUint(s[2:], 16, 64)
			if err != nil {
				return 0, errors.New("not a number")
			}
			return u, nil
		}
	}
	if u, ok := v.(uint64); ok {
		return u, nil
	}
	i, err := parseInt(v)
	if err != nil {
		return 0, err
	}
	if i < 0 {
		return 0, errors.New("negative address")
	}
	return uint64(i), nil
}
