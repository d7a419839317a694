package loader

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/VladMinzatu/binsize/internal/symbols"
)

// SizeColumn selects which of bloaty's size columns becomes the record size.
type SizeColumn string

const (
	FileSize SizeColumn = "filesize"
	VMSize   SizeColumn = "vmsize"
)

// BloatyArgs are the arguments for a symbol-level bloaty CSV report.
func BloatyArgs(binary string, col SizeColumn) []string {
	sortBy := "vm"
	if col == FileSize {
		sortBy = "file"
	}
	return []string{"-n", "0", "-d", "sections,symbols", "-s", sortBy, "--csv", binary}
}

// ParseBloatyCSV reads the CSV output of bloaty. Reports broken down by
// sections and symbols give one record per symbol; reports broken down by
// sections only give section totals.
func ParseBloatyCSV(r io.Reader, col SizeColumn) ([]symbols.RawRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading bloaty header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	if !contains(header, "sections") || !contains(header, string(col)) {
		return nil, fmt.Errorf("unexpected bloaty header %q: need sections and %s columns", strings.Join(header, ","), col)
	}

	var out []symbols.RawRecord
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return out, fmt.Errorf("reading bloaty row %d: %w", line, err)
		}
		if len(row) != len(header) {
			slog.Warn("Skipping bloaty row with unexpected column count", "line", line, "columns", len(row))
			continue
		}
		rec := symbols.RawRecord{"tool": "bloaty"}
		for i, name := range header {
			switch name {
			case "sections":
				rec["section"] = row[i]
			case "symbols":
				rec["name"] = row[i]
			case string(col):
				rec["size"] = row[i]
			}
		}
		out = append(out, rec)
	}
	slog.Debug("Parsed bloaty output", "records", len(out))
	return out, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
