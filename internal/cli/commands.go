package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/VladMinzatu/binsize/internal/analysis"
	"github.com/VladMinzatu/binsize/internal/config"
	"github.com/VladMinzatu/binsize/internal/exporter"
	"github.com/VladMinzatu/binsize/internal/loader"
	"github.com/VladMinzatu/binsize/internal/pprof"
	"github.com/VladMinzatu/binsize/internal/render"
	"github.com/VladMinzatu/binsize/internal/sizediff"
	"github.com/VladMinzatu/binsize/internal/stats"
	"github.com/VladMinzatu/binsize/internal/symbols"
	"github.com/spf13/cobra"
)

func (a *App) treeCmd() *cobra.Command {
	var (
		depth   int
		minSize int64
		asJSON  bool
		noColor bool
	)
	cmd := &cobra.Command{
		Use:   "tree [binary]",
		Short: "Print the size tree of a binary",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := a.binary(args, 0)
			if err != nil {
				return err
			}
			res, err := a.analyze(cmd.Context(), path)
			if err != nil {
				return err
			}
			return a.withOutput(cmd, func(w io.Writer) error {
				if asJSON {
					return writeJSON(w, res.Tree)
				}
				return render.Tree(w, res.Tree, render.Options{
					MaxDepth: depth,
					MinSize:  minSize,
					Color:    !noColor && a.color(cmd),
				})
			})
		},
	}
	cmd.Flags().IntVarP(&depth, "depth", "d", 0, "levels to print below the root (0 prints all)")
	cmd.Flags().Int64Var(&minSize, "min-size", 0, "hide nodes smaller than this many bytes")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the tree as JSON")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "disable colored output")
	return cmd
}

func (a *App) getCmd() *cobra.Command {
	var (
		grep   string
		prefix string
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "get [binary]",
		Short: "List symbols, largest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var re *regexp.Regexp
			if grep != "" {
				var err error
				if re, err = regexp.Compile(grep); err != nil {
					return fmt.Errorf("invalid --grep pattern: %w", err)
				}
			}
			path, err := a.binary(args, 0)
			if err != nil {
				return err
			}
			res, err := a.analyze(cmd.Context(), path)
			if err != nil {
				return err
			}
			entries := filterEntries(res.Table.Entries(), re, prefix)
			return a.withOutput(cmd, func(w io.Writer) error {
				if asJSON {
					return writeJSON(w, symbolRows(entries, limit))
				}
				render.SymbolsTable(w, entries, limit)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&grep, "grep", "", "only symbols whose name matches this regular expression")
	cmd.Flags().StringVar(&prefix, "path", "", "only symbols below this source path")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum number of symbols (0 lists all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print symbols as JSON")
	return cmd
}

// filterEntries keeps the entries matching re and below prefix, sorted by
// size, largest first.
func filterEntries(entries []symbols.Entry, re *regexp.Regexp, prefix string) []symbols.Entry {
	prefix = strings.Trim(prefix, "/")
	var out []symbols.Entry
	for _, e := range entries {
		if re != nil && !re.MatchString(e.Record.Name) {
			continue
		}
		if prefix != "" {
			p := e.Path.String()
			if p != prefix && !strings.HasPrefix(p, prefix+"/") {
				continue
			}
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Record.Size > out[j].Record.Size
	})
	return out
}

type symbolRow struct {
	Name    string `json:"name"`
	Size    int64  `json:"size"`
	Section string `json:"section"`
	Path    string `json:"path,omitempty"`
	Line    int    `json:"line,omitempty"`
	Address uint64 `json:"address,omitempty"`
}

func symbolRows(entries []symbols.Entry, limit int) []symbolRow {
	rows := make([]symbolRow, 0, len(entries))
	for i, e := range entries {
		if limit > 0 && i >= limit {
			break
		}
		rows = append(rows, symbolRow{
			Name:    e.Record.Name,
			Size:    e.Record.Size,
			Section: e.Record.Section,
			Path:    e.Path.String(),
			Line:    e.Record.Line,
			Address: e.Record.Address,
		})
	}
	return rows
}

func (a *App) compareCmd() *cobra.Command {
	var (
		depth     int
		minSize   int64
		unchanged bool
		table     bool
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "compare <before> <after>",
		Short: "Compare the size trees of two binaries",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			before, err := a.analyze(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			after, err := a.analyze(cmd.Context(), args[1])
			if err != nil {
				return err
			}
			diff := analysis.Diff(before.Tree, after.Tree)
			return a.withOutput(cmd, func(w io.Writer) error {
				switch {
				case asJSON:
					return writeJSON(w, diff)
				case table:
					render.ChangesTable(w, diff.Changes())
				default:
					err := render.Diff(w, diff, render.Options{
						MaxDepth:  depth,
						MinSize:   minSize,
						Unchanged: unchanged,
						Color:     a.color(cmd),
					})
					if err != nil {
						return err
					}
				}
				return render.Summary(w, diff.Summary())
			})
		},
	}
	cmd.Flags().IntVarP(&depth, "depth", "d", 0, "levels to print below the root (0 prints all)")
	cmd.Flags().Int64Var(&minSize, "min-size", 0, "hide nodes that changed by fewer bytes")
	cmd.Flags().BoolVar(&unchanged, "unchanged", false, "also print unchanged nodes")
	cmd.Flags().BoolVar(&table, "table", false, "list changed symbols in a table")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the diff tree as JSON")
	cmd.MarkFlagsMutuallyExclusive("table", "json")
	return cmd
}

func (a *App) statsCmd() *cobra.Command {
	var (
		by          string
		includeNone bool
		table       bool
	)
	cmd := &cobra.Command{
		Use:   "stats [binary]",
		Short: "Sum symbol sizes per category",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := stats.ParseCategorizer(by)
			if err != nil {
				return err
			}
			path, err := a.binary(args, 0)
			if err != nil {
				return err
			}
			res, err := a.analyze(cmd.Context(), path)
			if err != nil {
				return err
			}
			rows := stats.Compute(res.Table.Entries(), cat, includeNone)
			return a.withOutput(cmd, func(w io.Writer) error {
				if table {
					render.StatsTable(w, rows)
					return nil
				}
				return stats.Write(w, rows, a.flags.Output != "")
			})
		},
	}
	cmd.Flags().StringVar(&by, "by", "dir", `category: "dir[:depth]", "section", "language" or "pattern:REGEX"`)
	cmd.Flags().BoolVar(&includeNone, "include-none", false, "also count symbols that fit no category")
	cmd.Flags().BoolVar(&table, "table", false, "print a table")
	return cmd
}

func (a *App) exportCmd() *cobra.Command {
	var (
		as      string
		against string
	)
	cmd := &cobra.Command{
		Use:   "export [binary]",
		Short: "Export the size tree as folded stacks, pprof or OTLP profile",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := a.binary(args, 0)
			if err != nil {
				return err
			}
			res, err := a.analyze(cmd.Context(), path)
			if err != nil {
				return err
			}
			if against != "" {
				before, err := a.analyze(cmd.Context(), against)
				if err != nil {
					return err
				}
				return a.exportDiff(cmd, as, analysis.Diff(before.Tree, res.Tree))
			}

			return a.withOutput(cmd, func(w io.Writer) error {
				switch as {
				case "folded":
					return exporter.WriteFoldedStacks(exporter.BuildFoldedStacks(res.Tree), w)
				case "pprof":
					p, err := pprof.BuildPprofProfile(res.Tree, a.now())
					if err != nil {
						return err
					}
					return pprof.WriteProfileGzip(p, w)
				case "otlp":
					data := exporter.BuildOltpProfile(res.Tree, path, func() uint64 { return uint64(a.now().UnixNano()) })
					b, err := exporter.MarshalOltpProfile(data)
					if err != nil {
						return err
					}
					_, err = w.Write(b)
					return err
				}
				return fmt.Errorf("unknown export format %q (want folded, pprof or otlp)", as)
			})
		},
	}
	cmd.Flags().StringVar(&as, "as", "folded", "export format: folded, pprof or otlp")
	cmd.Flags().StringVar(&against, "against", "", "export the difference from this earlier binary")
	return cmd
}

func (a *App) exportDiff(cmd *cobra.Command, as string, diff *sizediff.DiffNode) error {
	return a.withOutput(cmd, func(w io.Writer) error {
		switch as {
		case "folded":
			return exporter.WriteDiffFoldedStacks(exporter.BuildDiffFoldedStacks(diff), w)
		case "pprof":
			p, err := pprof.BuildDiffProfile(diff, a.now())
			if err != nil {
				return err
			}
			return pprof.WriteProfileGzip(p, w)
		}
		return fmt.Errorf("format %q cannot export a difference (want folded or pprof)", as)
	})
}

func (a *App) mapfileCmd() *cobra.Command {
	var (
		depth   int
		minSize int64
	)
	cmd := &cobra.Command{
		Use:   "mapfile <section>",
		Short: "Group the symbols of a linker map file section by name prefix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(a.root, a.cfg.MapFile)
			if path == "" {
				return errors.New("no map file given, use --map-file or map_file in the settings")
			}
			lines, err := loader.NewDataLoader(path).ReadLines()
			if err != nil {
				return err
			}
			items, err := loader.ParseMapSection(lines, args[0])
			if err != nil {
				return err
			}
			slog.Debug("Parsed map file section", "section", args[0], "items", len(items))
			tree := loader.MapPrefixTree(args[0], items)
			return a.withOutput(cmd, func(w io.Writer) error {
				return render.Tree(w, tree, render.Options{MaxDepth: depth, MinSize: minSize, Color: a.color(cmd)})
			})
		},
	}
	cmd.Flags().IntVarP(&depth, "depth", "d", 0, "levels to print below the section (0 prints all)")
	cmd.Flags().Int64Var(&minSize, "min-size", 0, "hide groups smaller than this many bytes")
	return cmd
}
