package render

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/VladMinzatu/binsize/internal/sizediff"
	"github.com/VladMinzatu/binsize/internal/stats"
	"github.com/VladMinzatu/binsize/internal/symbols"
	"github.com/olekukonko/tablewriter"
)

func newTable(w io.Writer, header []string, align []int) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetColumnAlignment(align)
	return table
}

// SymbolsTable lists entries with their size and location. limit caps the
// number of rows; 0 lists all.
func SymbolsTable(w io.Writer, entries []symbols.Entry, limit int) {
	table := newTable(w,
		[]string{"Size", "Symbol", "Section", "Path"},
		[]int{tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_LEFT, tablewriter.ALIGN_LEFT, tablewriter.ALIGN_LEFT})
	for i, e := range entries {
		if limit > 0 && i >= limit {
			break
		}
		path := e.Path.String()
		if path == "" {
			path = "-"
		} else if e.Record.Line > 0 {
			path += ":" + strconv.Itoa(e.Record.Line)
		}
		table.Append([]string{strconv.FormatInt(e.Record.Size, 10), e.Record.Name, e.Record.Section, path})
	}
	table.Render()
}

func StatsTable(w io.Writer, rows []stats.CategoryStats) {
	table := newTable(w,
		[]string{"Category", "Size", "Symbols"},
		[]int{tablewriter.ALIGN_LEFT, tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_RIGHT})
	for _, c := range rows {
		name := c.Category
		if c.Uncategorized {
			name = "(none)"
		}
		table.Append([]string{name, strconv.FormatInt(c.Size, 10), strconv.Itoa(c.Symbols)})
	}
	s := stats.Summarize(rows)
	table.SetFooter([]string{fmt.Sprintf("%d categories", s.Categories), strconv.FormatInt(s.Size, 10), strconv.Itoa(s.Symbols)})
	table.Render()
}

// ChangesTable lists changed symbols, largest absolute delta first.
func ChangesTable(w io.Writer, changes []sizediff.Change) {
	table := newTable(w,
		[]string{"Delta", "Before", "After", "Status", "Symbol"},
		[]int{tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_LEFT, tablewriter.ALIGN_LEFT})
	sorted := append([]sizediff.Change(nil), changes...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return abs(sorted[i].Node.Delta) > abs(sorted[j].Node.Delta)
	})
	for _, c := range sorted {
		table.Append([]string{
			FormatDelta(c.Node.Delta),
			strconv.FormatInt(c.Node.BeforeSize, 10),
			strconv.FormatInt(c.Node.AfterSize, 10),
			c.Node.Status.String(),
			c.Path,
		})
	}
	table.Render()
}
