package lang

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/rust"
)

// rustHashLen is the length of the hash rustc appends to mangled names.
const rustHashLen = 16

func (r *Resolver) rustOrigin(name string) Origin {
	o := Origin{Language: Rust}
	name = ReplaceDollarEncodings(trimHashSuffix(name))

	// symbols like _ZN17compiler_builtins... stay C-like
	if !strings.Contains(name, "::") {
		o.Function = name
		return o
	}
	if strings.HasPrefix(name, "_") {
		name = RealSymbolFromAlias(name)
	}
	// only the crate's own code has a source below the root
	if !strings.HasPrefix(name, r.opts.RustCrate+"::") {
		o.Function = name + "()"
		return o
	}
	o.Module, o.Function, o.Known = r.resolveCrateSymbol(name)
	return o
}

func (r *Resolver) resolveCrateSymbol(name string) (module, function string, known bool) {
	items := relevantItems(strings.Split(name, "::"))
	if len(items) < 2 {
		return "", "", false
	}
	items = items[1:]

	fn := items[len(items)-1]
	items = items[:len(items)-1]
	var owner string
	if n := len(items); n > 0 && items[n-1] != "" {
		if c := rune(items[n-1][0]); unicode.IsUpper(c) || c == '_' {
			owner = items[n-1]
			items = items[:n-1]
		}
	}

	base := strings.Join(append([]string{r.opts.RustSrc}, items...), "/")
	switch {
	case r.exist(base + ".rs"):
		module, known = base+".rs", true
	case r.exist(base + "/mod.rs"):
		module, known = base+"/mod.rs", true
	default:
		module = base + ".rs"
	}

	function = fn + "()"
	if owner != "" {
		function = owner + "::" + function
	}
	return module, function, known
}

// relevantItems drops closures, constants and the inner path of
// "_<impl ...>" blocks from the segments of a Rust path.
func relevantItems(items []string) []string {
	var out []string
	keep := true
	for _, item := range items {
		if item == "_{{closure}}" || allUpper(item) {
			continue
		}
		if strings.HasPrefix(item, "_<") {
			keep = false
		}
		if !keep && strings.HasSuffix(item, ">") {
			keep = true
			continue
		}
		if keep {
			out = append(out, item)
		}
	}
	return out
}

func allUpper(s string) bool {
	for _, c := range s {
		if !unicode.IsUpper(c) {
			return false
		}
	}
	return true
}

func trimHashSuffix(name string) string {
	if len(name) <= rustHashLen {
		return name
	}
	if _, err := strconv.ParseUint(name[len(name)-rustHashLen:], 16, 64); err != nil {
		return name
	}
	return strings.TrimSuffix(name[:len(name)-rustHashLen], "::h")
}

var (
	dollarEncodings = []struct{ from, to string }{
		{"$LT$", "<"},
		{"$GT$", ">"},
		{"$RF$", "&"},
		{"$C$", ","},
		{"..", "::"},
	}
	unicodeEncoding = regexp.MustCompile(`\$u(\w\w)\$`)
)

// ReplaceDollarEncodings undoes the legacy Rust mangling of punctuation, so
// "_$LT$T$u20$as$u20$Foo$GT$" becomes "_<T as Foo>".
func ReplaceDollarEncodings(name string) string {
	for _, e := range dollarEncodings {
		name = strings.ReplaceAll(name, e.from, e.to)
	}
	return unicodeEncoding.ReplaceAllStringFunc(name, func(m string) string {
		code, err := strconv.ParseUint(m[2:4], 16, 32)
		if err != nil {
			return m
		}
		return string(rune(code))
	})
}

// RealSymbolFromAlias turns a trait implementation "_<Type as Trait>::fn"
// into "Type::fn", or "Trait::fn" when Type is a bare generic parameter.
func RealSymbolFromAlias(name string) string {
	parts := strings.Split(name, ">::")
	fn := parts[len(parts)-1]
	inner := strings.TrimPrefix(name, "_<")
	inner = strings.TrimSuffix(inner, ">::"+fn)

	var candidates []string
	for _, part := range strings.Split(inner, " as ") {
		fields := strings.Fields(part)
		if len(fields) == 0 {
			candidates = append(candidates, "")
			continue
		}
		candidates = append(candidates, fields[len(fields)-1])
	}
	owner := candidates[0]
	if len(candidates) > 1 && !strings.Contains(owner, "::") {
		owner = candidates[1]
	}
	return owner + "::" + fn
}

func (r *Resolver) rustDefinition(o Origin) string {
	if o.Function == "" {
		return o.Module
	}
	if o.Module == "" || !o.Known {
		return ""
	}
	fn := strings.TrimSuffix(o.Function, "()")
	if i := strings.LastIndex(fn, "::"); i >= 0 {
		fn = fn[i+2:]
	}
	line := r.rustFunctionLine(o.Module, fn)
	if line == 0 {
		return ""
	}
	return fmt.Sprintf("%s:%d", o.Module, line)
}

// rustFunctionLine returns the line of the first fn item of that name in the
// module, or 0.
func (r *Resolver) rustFunctionLine(module, fn string) int {
	r.mu.Lock()
	fns, ok := r.rustFns[module]
	r.mu.Unlock()
	if !ok {
		fns = r.parseRustModule(module)
		r.mu.Lock()
		r.rustFns[module] = fns
		r.mu.Unlock()
	}
	return fns[fn]
}

func (r *Resolver) parseRustModule(module string) map[string]int {
	fns := make(map[string]int)
	src, ok := r.read(module)
	if !ok {
		return fns
	}
	parser := sitter.NewParser()
	parser.SetLanguage(rust.GetLanguage())
	tree, err := parser.ParseCtx(context.Background(), nil, src)
	if err != nil {
		slog.Warn("Failed to parse Rust module", "path", module, "error", err)
		return fns
	}
	defer tree.Close()

	var visit func(n *sitter.Node)
	visit = func(n *sitter.Node) {
		switch n.Type() {
		case "function_item", "function_signature_item":
			if name := n.ChildByFieldName("name"); name != nil {
				id := name.Content(src)
				if _, seen := fns[id]; !seen {
					fns[id] = int(name.StartPoint().Row) + 1
				}
			}
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			visit(n.NamedChild(i))
		}
	}
	visit(tree.RootNode())
	return fns
}
