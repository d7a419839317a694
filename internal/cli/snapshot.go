package cli

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/VladMinzatu/binsize/internal/analysis"
	"github.com/VladMinzatu/binsize/internal/config"
	"github.com/VladMinzatu/binsize/internal/history"
	"github.com/VladMinzatu/binsize/internal/render"
	"github.com/VladMinzatu/binsize/internal/sizetree"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func (a *App) openHistory() (*history.Store, error) {
	path := config.Path(a.root, a.cfg.HistoryDB)
	store, err := history.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening history %s: %w", path, err)
	}
	return store, nil
}

func (a *App) snapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Save size trees and compare them with later builds",
	}
	cmd.AddCommand(
		a.snapshotSaveCmd(),
		a.snapshotListCmd(),
		a.snapshotShowCmd(),
		a.snapshotDiffCmd(),
		a.snapshotRmCmd(),
		a.snapshotSectionsCmd(),
	)
	return cmd
}

func (a *App) snapshotSaveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "save <name> [binary]",
		Short: "Analyze a binary and store its tree under name",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := a.binary(args, 1)
			if err != nil {
				return err
			}
			return a.saveSnapshot(cmd, args[0], path)
		},
	}
}

func (a *App) saveSnapshot(cmd *cobra.Command, name, path string) error {
	res, err := a.analyze(cmd.Context(), path)
	if err != nil {
		return err
	}
	store, err := a.openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	snap, err := store.Save(cmd.Context(), name, path, res.Tree)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "saved %s: %s in %d symbols\n", snap.Name, render.FormatSize(snap.TotalSize), snap.Symbols)
	return nil
}

func (a *App) snapshotListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored snapshots, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openHistory()
			if err != nil {
				return err
			}
			defer store.Close()

			snaps, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			return a.withOutput(cmd, func(w io.Writer) error {
				table := tablewriter.NewWriter(w)
				table.SetHeader([]string{"Name", "Created", "Size", "Symbols", "Binary"})
				table.SetAutoFormatHeaders(false)
				table.SetAutoWrapText(false)
				for _, s := range snaps {
					table.Append([]string{
						s.Name,
						s.CreatedAt.Local().Format(time.DateTime),
						strconv.FormatInt(s.TotalSize, 10),
						strconv.Itoa(s.Symbols),
						s.Binary,
					})
				}
				table.Render()
				return nil
			})
		},
	}
}

func (a *App) snapshotShowCmd() *cobra.Command {
	var (
		depth   int
		minSize int64
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "show <name>",
		Short: "Print a stored tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openHistory()
			if err != nil {
				return err
			}
			defer store.Close()

			tree, _, err := store.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.withOutput(cmd, func(w io.Writer) error {
				if asJSON {
					return writeJSON(w, tree)
				}
				return render.Tree(w, tree, render.Options{MaxDepth: depth, MinSize: minSize, Color: a.color(cmd)})
			})
		},
	}
	cmd.Flags().IntVarP(&depth, "depth", "d", 0, "levels to print below the root (0 prints all)")
	cmd.Flags().Int64Var(&minSize, "min-size", 0, "hide nodes smaller than this many bytes")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the tree as JSON")
	return cmd
}

func (a *App) snapshotDiffCmd() *cobra.Command {
	var (
		depth   int
		minSize int64
		table   bool
		binary  bool
	)
	cmd := &cobra.Command{
		Use:   "diff <before> [after]",
		Short: "Compare a snapshot with another snapshot, or with the current binary",
		Long: "Compare two stored snapshots. With a single name, or with --binary, the\n" +
			"snapshot is compared with a fresh analysis of the binary.",
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openHistory()
			if err != nil {
				return err
			}
			defer store.Close()

			before, _, err := store.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			var after *sizetree.SizeNode
			if len(args) == 2 && !binary {
				tree, _, err := store.Load(cmd.Context(), args[1])
				if err != nil {
					return err
				}
				after = tree
			} else {
				path, err := a.binary(args, 1)
				if err != nil {
					return err
				}
				res, err := a.analyze(cmd.Context(), path)
				if err != nil {
					return err
				}
				after = res.Tree
			}

			diff := analysis.Diff(before, after)
			return a.withOutput(cmd, func(w io.Writer) error {
				if table {
					render.ChangesTable(w, diff.Changes())
				} else if err := render.Diff(w, diff, render.Options{MaxDepth: depth, MinSize: minSize, Color: a.color(cmd)}); err != nil {
					return err
				}
				return render.Summary(w, diff.Summary())
			})
		},
	}
	cmd.Flags().IntVarP(&depth, "depth", "d", 0, "levels to print below the root (0 prints all)")
	cmd.Flags().Int64Var(&minSize, "min-size", 0, "hide nodes that changed by fewer bytes")
	cmd.Flags().BoolVar(&table, "table", false, "list changed symbols in a table")
	cmd.Flags().BoolVar(&binary, "binary", false, "treat the second argument as a binary to analyze")
	return cmd
}

func (a *App) snapshotRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <name>...",
		Short: "Delete stored snapshots",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openHistory()
			if err != nil {
				return err
			}
			defer store.Close()

			for _, name := range args {
				if err := store.Delete(cmd.Context(), name); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func (a *App) snapshotSectionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sections [section]...",
		Short: "Show how section sizes evolved across snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openHistory()
			if err != nil {
				return err
			}
			defer store.Close()

			hist, err := store.SectionHistory(cmd.Context(), args...)
			if err != nil {
				return err
			}
			sections := history.Sections(hist)
			return a.withOutput(cmd, func(w io.Writer) error {
				table := tablewriter.NewWriter(w)
				table.SetHeader(append([]string{"Snapshot"}, sections...))
				table.SetAutoFormatHeaders(false)
				for _, h := range hist {
					row := []string{h.Snapshot.Name}
					for _, sec := range sections {
						if size, ok := h.Sizes[sec]; ok {
							row = append(row, strconv.FormatInt(size, 10))
						} else {
							row = append(row, "-")
						}
					}
					table.Append(row)
				}
				table.Render()
				return nil
			})
		},
	}
}
