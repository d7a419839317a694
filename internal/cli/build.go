package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/VladMinzatu/binsize/internal/config"
	"github.com/VladMinzatu/binsize/internal/loader"
	"github.com/VladMinzatu/binsize/internal/render"
	"github.com/VladMinzatu/binsize/internal/sizetree"
	"github.com/VladMinzatu/binsize/internal/watch"
	"github.com/spf13/cobra"
)

func (a *App) buildCmd() *cobra.Command {
	var snapshot bool
	cmd := &cobra.Command{
		Use:   "build [name]",
		Short: "Run the configured build command and keep a named copy of the ELF file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.BuildCmd == "" {
				return errors.New("no build_cmd in the settings")
			}
			if snapshot && len(args) == 0 {
				return errors.New("--snapshot needs a name")
			}
			if err := loader.RunShell(cmd.Context(), a.root, a.cfg.BuildCmd); err != nil {
				return err
			}
			if len(args) == 0 {
				return nil
			}

			elf := config.Path(a.root, a.cfg.ElfFile)
			if elf == "" {
				return errors.New("no elf_file in the settings to keep a copy of")
			}
			named := elf + "_" + args[0]
			if err := copyFile(elf, named); err != nil {
				return err
			}
			slog.Info("Saved build", "path", named)

			if snapshot {
				return a.saveSnapshot(cmd, args[0], named)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&snapshot, "snapshot", false, "also store the size tree of the build under name")
	return cmd
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copying %s to %s: %w", src, dst, err)
	}
	return out.Close()
}

func (a *App) watchCmd() *cobra.Command {
	var (
		interval time.Duration
		minSize  int64
		depth    int
	)
	cmd := &cobra.Command{
		Use:   "watch [binary]",
		Short: "Print what changed every time the binary is rebuilt",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := a.binary(args, 0)
			if err != nil {
				return err
			}
			src := &watch.FileSource{
				Path: path,
				BuildFunc: func(ctx context.Context) (*sizetree.SizeNode, error) {
					res, err := a.analyze(ctx, path)
					if err != nil {
						return nil, err
					}
					return res.Tree, nil
				},
			}
			w, err := watch.NewWatcher(interval, src)
			if err != nil {
				return err
			}
			if err := w.Start(); err != nil {
				return err
			}
			defer w.Stop()
			slog.Info("Watching binary", "path", path, "interval", interval)

			opts := render.Options{MaxDepth: depth, MinSize: minSize, Color: a.color(cmd)}
			out := cmd.OutOrStdout()
			for {
				select {
				case <-cmd.Context().Done():
					return nil
				case u, ok := <-w.Updates():
					if !ok {
						return nil
					}
					if err := printUpdate(out, u, opts); err != nil {
						return err
					}
				}
			}
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "how often to check the binary")
	cmd.Flags().Int64Var(&minSize, "min-size", 0, "hide nodes that changed by fewer bytes")
	cmd.Flags().IntVarP(&depth, "depth", "d", 0, "levels to print below the root (0 prints all)")
	return cmd
}

func printUpdate(w io.Writer, u watch.Update, opts render.Options) error {
	stamp := u.Timestamp.Local().Format(time.TimeOnly)
	if u.Diff == nil {
		_, err := fmt.Fprintf(w, "[%s] %s in %d symbols\n", stamp, render.FormatSize(u.Tree.TotalSize), u.Tree.SymbolCount())
		return err
	}
	if _, err := fmt.Fprintf(w, "[%s] %s (%s)\n", stamp, render.FormatSize(u.Tree.TotalSize), render.FormatDelta(u.Diff.Delta)); err != nil {
		return err
	}
	if u.Diff.Delta == 0 && len(u.Diff.Changes()) == 0 {
		return nil
	}
	if err := render.Diff(w, u.Diff, opts); err != nil {
		return err
	}
	return render.Summary(w, u.Diff.Summary())
}
