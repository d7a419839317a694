package definitions

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/c"
)

type Kind string

const (
	KindFunction Kind = "function"
	KindVariable Kind = "variable"
)

// Definition is a function or variable defined at file scope of a C source.
type Definition struct {
	Name   string `json:"name"`
	File   string `json:"file"`
	Line   int    `json:"line"`
	Kind   Kind   `json:"kind"`
	Static bool   `json:"static,omitempty"`
}

// Location renders the definition the way nm prints source lines.
func (d Definition) Location() string {
	return fmt.Sprintf("%s:%d", d.File, d.Line)
}

// ParseC extracts the file scope definitions of one C source file. Prototypes
// and extern declarations are not definitions and are left out.
func ParseC(ctx context.Context, file string, src []byte) ([]Definition, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(c.GetLanguage())
	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("failed to parse file %s: %w", file, err)
	}
	defer tree.Close()

	var defs []Definition
	collectDefinitions(tree.RootNode(), src, file, &defs)
	return defs, nil
}

func collectDefinitions(parent *sitter.Node, src []byte, file string, defs *[]Definition) {
	for i := 0; i < int(parent.NamedChildCount()); i++ {
		node := parent.NamedChild(i)
		switch typ := node.Type(); {
		case typ == "function_definition":
			decl := node.ChildByFieldName("declarator")
			if name := declaredName(decl, src); name != "" {
				*defs = append(*defs, Definition{
					Name:   name,
					File:   file,
					Line:   int(decl.StartPoint().Row) + 1,
					Kind:   KindFunction,
					Static: hasStorageClass(node, src, "static"),
				})
			}
		case typ == "declaration":
			if hasStorageClass(node, src, "extern") || hasStorageClass(node, src, "typedef") {
				continue
			}
			static := hasStorageClass(node, src, "static")
			for j := 0; j < int(node.ChildCount()); j++ {
				if node.FieldNameForChild(j) != "declarator" {
					continue
				}
				decl := node.Child(j)
				if isPrototype(decl) {
					continue
				}
				if name := declaredName(decl, src); name != "" {
					*defs = append(*defs, Definition{
						Name:   name,
						File:   file,
						Line:   int(decl.StartPoint().Row) + 1,
						Kind:   KindVariable,
						Static: static,
					})
				}
			}
		case strings.HasPrefix(typ, "preproc_if"), strings.HasPrefix(typ, "preproc_else"),
			strings.HasPrefix(typ, "preproc_elif"), typ == "linkage_specification", typ == "declaration_list":
			collectDefinitions(node, src, file, defs)
		}
	}
}

// declaredName digs through pointer, array, function and init declarators to
// the identifier being declared.
func declaredName(node *sitter.Node, src []byte) string {
	for node != nil {
		switch node.Type() {
		case "identifier":
			return node.Content(src)
		case "pointer_declarator", "array_declarator", "function_declarator",
			"init_declarator", "parenthesized_declarator", "attributed_declarator":
			next := node.ChildByFieldName("declarator")
			if next == nil && node.NamedChildCount() > 0 {
				next = node.NamedChild(0)
			}
			node = next
		default:
			return ""
		}
	}
	return ""
}

// isPrototype reports whether a declarator inside a declaration declares a
// function rather than an object.
func isPrototype(node *sitter.Node) bool {
	for node != nil {
		switch node.Type() {
		case "function_declarator":
			return true
		case "pointer_declarator", "parenthesized_declarator", "attributed_declarator":
			node = node.ChildByFieldName("declarator")
			if node == nil {
				return false
			}
		default:
			return false
		}
	}
	return false
}

func hasStorageClass(node *sitter.Node, src []byte, class string) bool {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if child.Type() == "storage_class_specifier" && child.Content(src) == class {
			return true
		}
	}
	return false
}
