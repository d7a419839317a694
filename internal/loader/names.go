package loader

import (
	"regexp"
	"strings"
)

// Suffixes added by GCC to specialized clones of a function, e.g.
// "foo.constprop.0" or "bar.isra.3.part.1".
var cloneSuffix = regexp.MustCompile(`(\.(constprop|isra|part|lto_priv|cold|clone)\.\d+)+$`)

var rustEscapes = strings.NewReplacer(
	"$LT$", "<",
	"$GT$", ">",
	"$u20$", " ",
	"$RF$", "&",
	"..", "::",
)

// CleanSymbolName strips compiler clone suffixes, giving the name of the
// function a clone was made from. Records keep their original names; the
// cleaned name is only used to look up where a clone was defined.
func CleanSymbolName(name string) string {
	name = strings.TrimSpace(name)
	if strings.HasPrefix(name, "[") {
		return name
	}
	return cloneSuffix.ReplaceAllString(name, "")
}

// DemangleRust undoes the escaping of legacy Rust symbol names as it shows up
// in linker map files.
func DemangleRust(name string) string {
	return rustEscapes.Replace(name)
}
