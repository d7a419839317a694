// Package analysis ties the normalizer, path resolver, symbol table and tree
// builder together.
package analysis

import (
	"fmt"
	"log/slog"

	"github.com/VladMinzatu/binsize/internal/paths"
	"github.com/VladMinzatu/binsize/internal/sizediff"
	"github.com/VladMinzatu/binsize/internal/sizetree"
	"github.com/VladMinzatu/binsize/internal/symbols"
)

type Result struct {
	Tree  *sizetree.SizeNode
	Table *symbols.Table
	// Warnings holds malformed records, duplicate symbols and section
	// mismatches. None of them prevent the tree from being built.
	Warnings []error
}

type options struct {
	sections map[string]bool
	logger   *slog.Logger
}

type Option func(*options)

// WithSections keeps only records of the given sections.
func WithSections(sections ...string) Option {
	return func(o *options) {
		if len(sections) == 0 {
			return
		}
		if o.sections == nil {
			o.sections = make(map[string]bool)
		}
		for _, s := range sections {
			o.sections[s] = true
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// BuildTree runs the whole pipeline for one binary. Only an invalid root is
// fatal; everything else ends up in Result.Warnings.
func BuildTree(raw []symbols.RawRecord, root string, opts ...Option) (*Result, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	resolver, err := paths.NewResolver(root)
	if err != nil {
		return nil, fmt.Errorf("building size tree: %w", err)
	}

	records, warnings := symbols.Normalize(raw)
	o.logger.Debug("Normalized records", "raw", len(raw), "records", len(records), "problems", len(warnings))

	table := symbols.NewTable()
	unresolved := 0
	for _, rec := range records {
		if o.sections != nil && !o.sections[rec.Section] {
			continue
		}
		p := resolver.Resolve(rec.SourcePath)
		if p.Unresolved() {
			unresolved++
		}
		table.Add(rec, p)
	}
	warnings = append(warnings, table.Warnings()...)

	tree := sizetree.FromTable(table)
	o.logger.Debug("Built size tree", "symbols", table.Len(), "unresolved", unresolved, "total", tree.TotalSize)

	return &Result{Tree: tree, Table: table, Warnings: warnings}, nil
}

func Diff(before, after *sizetree.SizeNode) *sizediff.DiffNode {
	return sizediff.Diff(before, after)
}
