package loader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/VladMinzatu/binsize/internal/symbols"
)

// Runner runs the external size-inspection tools.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Output, error)
}

// ExecRunner runs tools as subprocesses. Tools maps a tool name to the
// executable to use for it, e.g. "nm" to "arm-none-eabi-nm".
type ExecRunner struct {
	Tools map[string]string
	Dir   string
}

func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) (Output, error) {
	exe := name
	if alt, ok := r.Tools[name]; ok && alt != "" {
		exe = alt
	}
	slog.Info("Running command", "cmd", exe+" "+strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, exe, args...)
	cmd.Dir = r.Dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return nil, fmt.Errorf("%s failed: %w: %s", exe, err, msg)
		}
		return nil, fmt.Errorf("%s failed: %w", exe, err)
	}
	return Output(out), nil
}

// RunShell runs a shell command line, such as a configured build command,
// forwarding its output.
func RunShell(ctx context.Context, dir, command string) error {
	if strings.TrimSpace(command) == "" {
		return errors.New("empty command")
	}
	slog.Info("Running shell command", "cmd", command, "dir", dir)
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("command %q failed: %w", command, err)
	}
	return nil
}

type Format string

const (
	FormatELF    Format = "elf"
	FormatBloaty Format = "bloaty"
	FormatNm     Format = "nm"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatELF, FormatBloaty, FormatNm:
		return f, nil
	}
	return "", fmt.Errorf("unknown input format %q (want elf, bloaty or nm)", s)
}

// Source describes where the raw records of one binary come from.
type Source struct {
	Format Format
	// Path is the binary, or with Saved the file holding the tool output.
	Path  string
	Saved bool
	// MapFile and MapSections add symbols from a linker map file.
	MapFile     string
	MapSections []string
	SizeColumn  SizeColumn
}

// Load produces the raw records for src, running the tool through r unless
// the output was saved to a file.
func Load(ctx context.Context, r Runner, src Source) ([]symbols.RawRecord, error) {
	col := src.SizeColumn
	if col == "" {
		col = FileSize
	}

	var raw []symbols.RawRecord
	var err error
	switch src.Format {
	case FormatELF:
		raw, err = ReadELF(src.Path)
	case FormatBloaty:
		var lines LineSource = NewDataLoader(src.Path)
		if !src.Saved {
			lines, err = runTool(ctx, r, "bloaty", BloatyArgs(src.Path, col))
		}
		if err == nil {
			raw, err = loadBloaty(lines, col)
		}
	case FormatNm:
		var lines LineSource = NewDataLoader(src.Path)
		if !src.Saved {
			lines, err = runTool(ctx, r, "nm", NmArgs(src.Path))
		}
		if err == nil {
			raw, err = LoadNm(lines)
		}
	default:
		return nil, fmt.Errorf("unknown input format %q", src.Format)
	}
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", src.Path, err)
	}

	if src.MapFile != "" && len(src.MapSections) > 0 {
		lines, err := NewDataLoader(src.MapFile).ReadLines()
		if err != nil {
			return nil, fmt.Errorf("reading map file: %w", err)
		}
		var included int64
		for _, section := range src.MapSections {
			items, err := ParseMapSection(lines, section)
			if err != nil {
				slog.Warn("Skipping map file section", "section", section, "error", err)
				continue
			}
			var added int64
			raw, added = IncludeMapSymbols(raw, MapSymbolSizes(items), section)
			included += added
		}
		slog.Info("Included map file symbols", "map", src.MapFile, "sections", len(src.MapSections), "bytes", included)
	}
	return raw, nil
}

func runTool(ctx context.Context, r Runner, name string, args []string) (LineSource, error) {
	if _, err := os.Stat(args[len(args)-1]); err != nil {
		return nil, err
	}
	return r.Run(ctx, name, args...)
}

func loadBloaty(src LineSource, col SizeColumn) ([]symbols.RawRecord, error) {
	lines, err := src.ReadLines()
	if err != nil {
		return nil, err
	}
	return ParseBloatyCSV(strings.NewReader(strings.Join(lines, "\n")), col)
}
