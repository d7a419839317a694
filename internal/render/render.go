// Package render prints size trees and diffs as indented text.
package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/VladMinzatu/binsize/internal/sizediff"
	"github.com/VladMinzatu/binsize/internal/sizetree"
	"github.com/charmbracelet/lipgloss"
)

var (
	dirStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("81"))

	fileStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	symbolStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	sizeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("208"))

	growStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	shrinkStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("238"))
)

// Options control how much of a tree is printed.
type Options struct {
	// MaxDepth limits the printed levels below the root; 0 prints all.
	MaxDepth int
	// MinSize hides nodes smaller than this many bytes (by absolute delta
	// for diffs). Hidden siblings are summarized in one line.
	MinSize int64
	// Unchanged also prints unchanged diff nodes.
	Unchanged bool
	Color     bool
}

type printer struct {
	w    io.Writer
	opts Options
	err  error
}

func (p *printer) style(s lipgloss.Style, text string) string {
	if !p.opts.Color {
		return text
	}
	return s.Render(text)
}

func (p *printer) line(depth int, format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, strings.Repeat("  ", depth)+format+"\n", args...)
}

func kindStyle(k sizetree.Kind) lipgloss.Style {
	switch k {
	case sizetree.KindRoot, sizetree.KindDirectory:
		return dirStyle
	case sizetree.KindFile:
		return fileStyle
	}
	return symbolStyle
}

// Tree prints n and its descendants, largest first, with each node's size
// and its share of the root.
func Tree(w io.Writer, n *sizetree.SizeNode, opts Options) error {
	p := &printer{w: w, opts: opts}
	p.tree(n, 0, n.TotalSize)
	return p.err
}

func (p *printer) tree(n *sizetree.SizeNode, depth int, rootSize int64) {
	p.line(depth, "%s %s %s",
		p.style(kindStyle(n.Kind), n.Label),
		p.style(sizeStyle, FormatSize(n.TotalSize)),
		p.style(dimStyle, percent(n.TotalSize, rootSize)))
	if p.opts.MaxDepth > 0 && depth >= p.opts.MaxDepth {
		if len(n.Children) > 0 {
			p.line(depth+1, "%s", p.style(dimStyle, fmt.Sprintf("... %d children", len(n.Children))))
		}
		return
	}
	var hidden int
	var hiddenSize int64
	for _, c := range n.Children {
		if c.TotalSize < p.opts.MinSize {
			hidden++
			hiddenSize += c.TotalSize
			continue
		}
		p.tree(c, depth+1, rootSize)
	}
	if hidden > 0 {
		p.line(depth+1, "%s", p.style(dimStyle, fmt.Sprintf("... %d more %s", hidden, FormatSize(hiddenSize))))
	}
}

// Diff prints the changed part of a diff tree with signed deltas.
func Diff(w io.Writer, d *sizediff.DiffNode, opts Options) error {
	p := &printer{w: w, opts: opts}
	p.diff(d, 0)
	return p.err
}

func (p *printer) diff(d *sizediff.DiffNode, depth int) {
	delta := FormatDelta(d.Delta)
	switch {
	case d.Delta > 0:
		delta = p.style(growStyle, delta)
	case d.Delta < 0:
		delta = p.style(shrinkStyle, delta)
	}
	p.line(depth, "%s %s %s",
		p.style(kindStyle(d.Kind), d.Label),
		delta,
		p.style(dimStyle, fmt.Sprintf("(%s -> %s, %s)", FormatSize(d.BeforeSize), FormatSize(d.AfterSize), d.Status)))
	if p.opts.MaxDepth > 0 && depth >= p.opts.MaxDepth {
		return
	}
	var hidden int
	var hiddenDelta int64
	for _, c := range d.Children {
		if c.Status == sizediff.StatusUnchanged && !p.opts.Unchanged {
			continue
		}
		if abs(c.Delta) < p.opts.MinSize {
			hidden++
			hiddenDelta += c.Delta
			continue
		}
		p.diff(c, depth+1)
	}
	if hidden > 0 {
		p.line(depth+1, "%s", p.style(dimStyle, fmt.Sprintf("... %d more %s", hidden, FormatDelta(hiddenDelta))))
	}
}

// Summary prints the counts of a diff summary on one line.
func Summary(w io.Writer, s sizediff.Summary) error {
	_, err := fmt.Fprintf(w, "%d added, %d removed, %d changed, %d unchanged; +%s -%s\n",
		s.Added, s.Removed, s.Changed, s.Unchanged, FormatSize(s.Growth), FormatSize(s.Shrinkage))
	return err
}

var units = []string{"B", "KiB", "MiB", "GiB"}

// FormatSize prints a byte count with a binary unit, e.g. "1.5 KiB".
func FormatSize(n int64) string {
	if n < 0 {
		return "-" + FormatSize(-n)
	}
	if n < 1024 {
		return fmt.Sprintf("%d B", n)
	}
	v := float64(n)
	i := 0
	for v >= 1024 && i < len(units)-1 {
		v /= 1024
		i++
	}
	return fmt.Sprintf("%.1f %s", v, units[i])
}

func FormatDelta(n int64) string {
	if n > 0 {
		return "+" + FormatSize(n)
	}
	if n == 0 {
		return "0 B"
	}
	return FormatSize(n)
}

func percent(part, whole int64) string {
	if whole == 0 {
		return "(0.0%)"
	}
	return fmt.Sprintf("(%.1f%%)", 100*float64(part)/float64(whole))
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
