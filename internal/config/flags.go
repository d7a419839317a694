package config

import (
	"github.com/spf13/pflag"
)

// Flags are the options shared by every command.
type Flags struct {
	ConfigPath  string
	Root        string
	Verbose     bool
	Format      string
	Run         bool
	MapFile     string
	MapSections []string
	Sections    []string
	Definitions []string
	Output      string
}

func BindFlags(fs *pflag.FlagSet) *Flags {
	f := &Flags{}
	fs.StringVar(&f.ConfigPath, "config", DefaultPath, "settings file")
	fs.StringVar(&f.Root, "root", "", "project root directory (default: $"+EnvRootDir+", settings, cwd)")
	fs.BoolVarP(&f.Verbose, "verbose", "v", false, "enable debug logging")
	fs.StringVarP(&f.Format, "format", "f", "elf", "input format: elf, bloaty or nm")
	fs.BoolVar(&f.Run, "run", false, "run bloaty/nm on the binary instead of reading saved tool output")
	fs.StringVar(&f.MapFile, "map-file", "", "linker map file with symbols the primary tool misses")
	fs.StringSliceVar(&f.MapSections, "map-sections", nil, "map file sections to include")
	fs.StringSliceVarP(&f.Sections, "sections", "s", nil, "only analyze these sections")
	fs.StringSliceVar(&f.Definitions, "definitions", nil, "source directories to search for symbol definitions")
	fs.StringVarP(&f.Output, "output", "o", "", "write output to a file instead of stdout")
	return f
}

// Apply lets flags that were set override the settings file.
func (f *Flags) Apply(fs *pflag.FlagSet, c *Config) {
	if fs.Changed("map-file") {
		c.MapFile = f.MapFile
	}
	if fs.Changed("map-sections") {
		c.MapSections = f.MapSections
	}
	if fs.Changed("sections") {
		c.Sections = f.Sections
	}
	if fs.Changed("definitions") {
		c.Definitions = f.Definitions
	}
}
