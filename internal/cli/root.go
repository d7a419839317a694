// Package cli implements the binsize command line.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/VladMinzatu/binsize/internal/analysis"
	"github.com/VladMinzatu/binsize/internal/config"
	"github.com/VladMinzatu/binsize/internal/definitions"
	"github.com/VladMinzatu/binsize/internal/lang"
	"github.com/VladMinzatu/binsize/internal/loader"
	"github.com/VladMinzatu/binsize/internal/symbols"
	"github.com/spf13/cobra"
)

// App holds what every command needs once the settings are loaded.
type App struct {
	flags  *config.Flags
	cfg    *config.Config
	root   string
	runner loader.Runner
	now    func() time.Time
}

// NewRootCommand builds the command tree. runner may be nil, in which case
// tools are run as subprocesses.
func NewRootCommand(runner loader.Runner) *cobra.Command {
	app := &App{runner: runner, now: time.Now}
	rootCmd := &cobra.Command{
		Use:           "binsize",
		Short:         "Break down the size of a binary by source directory, file and symbol",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.setup(cmd)
		},
	}
	app.flags = config.BindFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(
		app.treeCmd(),
		app.getCmd(),
		app.compareCmd(),
		app.statsCmd(),
		app.exportCmd(),
		app.mapfileCmd(),
		app.snapshotCmd(),
		app.graphCmd(),
		app.buildCmd(),
		app.watchCmd(),
	)
	return rootCmd
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := NewRootCommand(nil)
	if err := cmd.ExecuteContext(ctx); err != nil {
		slog.Error("Command failed", "error", err)
		return 1
	}
	return 0
}

func (a *App) setup(cmd *cobra.Command) error {
	level := slog.LevelInfo
	if a.flags.Verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))

	cfg, err := config.LoadConfig(a.flags.ConfigPath)
	if err != nil {
		return err
	}
	a.flags.Apply(cmd.Flags(), cfg)
	a.cfg = cfg

	root, err := cfg.ResolveRoot(a.flags.Root)
	if err != nil {
		return err
	}
	a.root = root
	if a.runner == nil {
		a.runner = &loader.ExecRunner{Tools: cfg.Tools, Dir: root}
	}
	return nil
}

// binary picks the input from the arguments or the configured ELF file.
func (a *App) binary(args []string, i int) (string, error) {
	if len(args) > i && args[i] != "" {
		return args[i], nil
	}
	if a.cfg.ElfFile != "" {
		return config.Path(a.root, a.cfg.ElfFile), nil
	}
	return "", fmt.Errorf("no binary given and no elf_file in %s", a.flags.ConfigPath)
}

func (a *App) source(path string) (loader.Source, error) {
	format, err := loader.ParseFormat(a.flags.Format)
	if err != nil {
		return loader.Source{}, err
	}
	return loader.Source{
		Format:      format,
		Path:        path,
		Saved:       format != loader.FormatELF && !a.flags.Run,
		MapFile:     config.Path(a.root, a.cfg.MapFile),
		MapSections: a.cfg.MapSections,
	}, nil
}

// analyze loads one binary and builds its size tree.
func (a *App) analyze(ctx context.Context, path string) (*analysis.Result, error) {
	src, err := a.source(path)
	if err != nil {
		return nil, err
	}
	raw, err := loader.Load(ctx, a.runner, src)
	if err != nil {
		return nil, err
	}
	if err := a.annotate(ctx, raw); err != nil {
		return nil, err
	}

	res, err := analysis.BuildTree(raw, a.root, analysis.WithSections(a.cfg.Sections...))
	if err != nil {
		return nil, err
	}
	for _, w := range res.Warnings {
		slog.Debug("Record problem", "error", w)
	}
	if len(res.Warnings) > 0 {
		slog.Warn("Some records were dropped or merged, rerun with -v for details", "binary", path, "problems", len(res.Warnings))
	}
	return res, nil
}

func (a *App) annotate(ctx context.Context, raw []symbols.RawRecord) error {
	langs := lang.NewResolver(a.root, lang.Options{
		RustCrate: a.cfg.Languages.RustCrate,
		RustSrc:   a.cfg.Languages.RustSrc,
		PythonSrc: a.cfg.Languages.PythonSrc,
	})
	langs.Apply(raw)

	if len(a.cfg.Definitions) == 0 {
		return nil
	}
	ix := definitions.NewIndexer()
	cache := config.Path(a.root, a.cfg.DefinitionsCache)
	if cache != "" {
		if err := ix.LoadCache(cache); err != nil {
			return err
		}
	}
	idx, err := ix.Build(ctx, a.root, a.cfg.Definitions)
	if err != nil {
		return fmt.Errorf("indexing definitions: %w", err)
	}
	definitions.Annotate(raw, idx)
	if cache != "" {
		if err := ix.SaveCache(cache); err != nil {
			slog.Warn("Failed to save definitions cache", "error", err)
		}
	}
	return nil
}

// output returns where command output goes: the -o file or stdout. The
// returned function must be called when done.
func (a *App) output(cmd *cobra.Command) (io.Writer, func() error, error) {
	if a.flags.Output == "" {
		return cmd.OutOrStdout(), func() error { return nil }, nil
	}
	f, err := os.Create(a.flags.Output)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("Writing output", "path", a.flags.Output)
	return f, f.Close, nil
}

// withOutput runs fn with the output writer and closes it afterwards.
func (a *App) withOutput(cmd *cobra.Command, fn func(w io.Writer) error) error {
	w, done, err := a.output(cmd)
	if err != nil {
		return err
	}
	if err := fn(w); err != nil {
		done()
		return err
	}
	return done()
}

// color reports whether output should be styled.
func (a *App) color(cmd *cobra.Command) bool {
	if a.flags.Output != "" {
		return false
	}
	f, ok := cmd.OutOrStdout().(*os.File)
	return ok && isTerminal(f)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
