package lang

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// moduleMarker separates the module from the function in frozen symbol
// names; it is how the MicroPython compiler spells "<module>".
const moduleMarker = "__lt_module_gt_"

// numberedNames end in digits that are part of the name rather than a
// counter added by the compiler.
var numberedNames = []string{
	"blake_hash_writer_32",
	"_migrate_from_version_01",
	"sha256d_32",
	"groestl512d_32",
	"blake256d_32",
	"keccak_32",
	"ripemd160_32",
}

var (
	counterSuffix = regexp.MustCompile(`_\d+$`)
	// comprehensions and generator expressions, e.g. "__lt_listcomp_gt_2"
	generatedSuffix = regexp.MustCompile(`(_)?_lt_\w+_gt(_\d*)?`)
)

func (r *Resolver) mpyOrigin(name string) Origin {
	for _, p := range mpyPrefixes {
		name = strings.TrimPrefix(name, p)
	}
	if !hasAnySuffix(name, numberedNames) {
		name = counterSuffix.ReplaceAllString(name, "")
	}

	o := Origin{Language: MicroPython}
	if module, rest, ok := strings.Cut(name, moduleMarker); ok {
		rest = strings.TrimPrefix(rest, "_")
		o.Module, o.Known = r.ResolveModule(module)
		if o.Known {
			o.Function = r.ResolveFunction(rest, o.Module)
		} else {
			o.Function = RemoveGeneratedSuffixes(rest)
		}
		return o
	}

	// without the marker, take the longest prefix that names a module
	parts := strings.Split(name, "_")
	for i := len(parts); i > 0; i-- {
		module, known := r.ResolveModule(strings.Join(parts[:i], "_"))
		if known {
			o.Module, o.Known = module, true
			o.Function = r.ResolveFunction(strings.Join(parts[i:], "_"), module)
			return o
		}
	}
	o.Module = strings.Join(parts[:len(parts)-1], "_")
	o.Function = parts[len(parts)-1]
	return o
}

func hasAnySuffix(s string, suffixes []string) bool {
	for _, suf := range suffixes {
		if strings.HasSuffix(s, suf) {
			return true
		}
	}
	return false
}

// RemoveGeneratedSuffixes drops the names the compiler gives to
// comprehensions and generator expressions.
func RemoveGeneratedSuffixes(name string) string {
	return generatedSuffix.ReplaceAllString(name, "")
}

// ResolveModule turns the underscore separated module part of a symbol into
// a file path below the Python sources. Underscores are read as directory
// separators unless a directory or file with the underscore exists. known is
// false when the resulting file does not exist.
func (r *Resolver) ResolveModule(name string) (path string, known bool) {
	file := name + ".py"
	var parts []string
	if strings.HasSuffix(file, "__init__.py") {
		parts = append(strings.Split(strings.TrimSuffix(file, "__init__.py"), "_"), "__init__.py")
	} else {
		parts = strings.Split(file, "_")
	}

	path = r.opts.PythonSrc
	for _, part := range parts {
		if part == "" {
			continue
		}
		candidate := path + "/" + part
		if strings.HasSuffix(path, "_") {
			candidate = path + part
		}
		if r.exist(candidate) {
			path = candidate
		} else {
			path = candidate + "_"
		}
	}
	path = strings.TrimRight(path, "_")
	return path, r.exist(path)
}

// ResolveFunction finds the function or class a symbol's function part
// names in module, e.g. "chan_put" becomes "chan.put()". Nested functions
// resolve to the outermost one.
func (r *Resolver) ResolveFunction(part, module string) string {
	part = RemoveGeneratedSuffixes(part)
	if part == "" {
		return ""
	}
	return r.Module(module).Resolve(part)
}

func (r *Resolver) mpyDefinition(o Origin) string {
	if !o.Known {
		return ""
	}
	if o.Function == "" {
		return o.Module
	}
	line := r.Module(o.Module).Line(o.Function)
	if line == 0 {
		return ""
	}
	return fmt.Sprintf("%s:%d", o.Module, line)
}

// Scope is a module, class or function of a Python source with the classes
// and functions defined directly in it.
type Scope struct {
	Name      string
	Functions []*Scope
	Classes   []*Scope
	StartLine int
	EndLine   int
}

func (s *Scope) Function(name string) *Scope {
	for _, f := range s.Functions {
		if f.Name == name {
			return f
		}
	}
	return nil
}

func (s *Scope) Class(name string) *Scope {
	for _, c := range s.Classes {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Resolve splits a symbol into the classes and the function it was defined
// in. Classes are separated by "." and a function gets "()"; a name that is
// neither resolves to "".
func (s *Scope) Resolve(symbol string) string {
	if s.Function(symbol) != nil {
		return symbol + "()"
	}
	parts := strings.Split(symbol, "_")
	for i := len(parts); i > 0; i-- {
		name := strings.Join(parts[:i], "_")
		cls := s.Class(name)
		if cls == nil {
			continue
		}
		if rest := cls.Resolve(strings.Join(parts[i:], "_")); rest != "" {
			return name + "." + rest
		}
		return name
	}
	for i := len(parts); i > 0; i-- {
		name := strings.Join(parts[:i], "_")
		if s.Function(name) != nil {
			return name + "()"
		}
	}
	return ""
}

// Line returns the line where a name produced by Resolve is defined, or 0.
func (s *Scope) Line(resolved string) int {
	cur := s
	for _, part := range strings.Split(resolved, ".") {
		if fn, ok := strings.CutSuffix(part, "()"); ok {
			cur = cur.Function(fn)
		} else {
			cur = cur.Class(part)
		}
		if cur == nil {
			return 0
		}
	}
	return cur.StartLine
}

// Module returns the scope of a Python module below the root. A module that
// is missing or fails to parse has no definitions.
func (r *Resolver) Module(path string) *Scope {
	r.mu.Lock()
	s, ok := r.modules[path]
	r.mu.Unlock()
	if ok {
		return s
	}

	s = &Scope{Name: path}
	if src, ok := r.read(path); ok {
		if parsed, err := ParsePython(context.Background(), path, src); err != nil {
			slog.Warn("Failed to parse Python module", "path", path, "error", err)
		} else {
			s = parsed
		}
	}
	r.mu.Lock()
	r.modules[path] = s
	r.mu.Unlock()
	return s
}

// ParsePython reads the nested class and function definitions of a module.
func ParsePython(ctx context.Context, name string, src []byte) (*Scope, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())
	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("failed to parse file %s: %w", name, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	mod := &Scope{Name: name, EndLine: int(root.EndPoint().Row) + 1}
	collectScopes(root, src, mod)
	return mod, nil
}

func collectScopes(body *sitter.Node, src []byte, parent *Scope) {
	for i := 0; i < int(body.NamedChildCount()); i++ {
		node := body.NamedChild(i)
		if node.Type() == "decorated_definition" {
			node = node.ChildByFieldName("definition")
			if node == nil {
				continue
			}
		}
		kind := node.Type()
		if kind != "function_definition" && kind != "class_definition" {
			continue
		}
		name := node.ChildByFieldName("name")
		if name == nil {
			continue
		}
		s := &Scope{
			Name:      name.Content(src),
			StartLine: int(node.StartPoint().Row) + 1,
			EndLine:   int(node.EndPoint().Row) + 1,
		}
		if b := node.ChildByFieldName("body"); b != nil {
			collectScopes(b, src, s)
		}
		if kind == "function_definition" {
			parent.Functions = append(parent.Functions, s)
		} else {
			parent.Classes = append(parent.Classes, s)
		}
	}
}
