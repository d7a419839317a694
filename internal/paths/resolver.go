package paths

import (
	"errors"
	"fmt"
	"os"
	"path"
	"regexp"
	"strings"
)

var ErrInvalidRoot = errors.New("invalid root directory")

var driveLetter = regexp.MustCompile(`^[A-Za-z]:/`)

// ResolvedPath is a source path relative to the root, split into segments.
// A path without segments is unresolved.
type ResolvedPath struct {
	Segments []string
}

func Unresolved() ResolvedPath { return ResolvedPath{} }

func (p ResolvedPath) Unresolved() bool { return len(p.Segments) == 0 }

// String joins the segments with "/", or returns "" for an unresolved path.
func (p ResolvedPath) String() string { return strings.Join(p.Segments, "/") }

// Dir returns all segments but the last one.
func (p ResolvedPath) Dir() []string {
	if p.Unresolved() {
		return nil
	}
	return p.Segments[:len(p.Segments)-1]
}

// File returns the last segment.
func (p ResolvedPath) File() string {
	if p.Unresolved() {
		return ""
	}
	return p.Segments[len(p.Segments)-1]
}

// Resolver maps source paths reported by the tools onto paths relative to a
// project root. It holds no mutable state and may be shared.
type Resolver struct {
	root string
}

// NewResolver validates root, which must be an absolute path of an existing
// directory.
func NewResolver(root string) (*Resolver, error) {
	if root == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidRoot)
	}
	normalized := normalizeSeparators(root)
	if !isAbs(normalized) {
		return nil, fmt.Errorf("%w: %q is not absolute", ErrInvalidRoot, root)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRoot, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %q is not a directory", ErrInvalidRoot, root)
	}
	return &Resolver{root: path.Clean(normalized)}, nil
}

func (r *Resolver) Root() string { return r.root }

// Resolve normalizes source against the root. Absolute paths outside the
// root and relative paths escaping it through ".." are unresolved.
func (r *Resolver) Resolve(source string) ResolvedPath {
	s := normalizeSeparators(strings.TrimSpace(source))
	if s == "" {
		return Unresolved()
	}
	if isAbs(s) {
		s = path.Clean(s)
		prefix := strings.TrimSuffix(r.root, "/") + "/"
		if !strings.HasPrefix(s, prefix) {
			return Unresolved()
		}
		s = strings.TrimPrefix(s, prefix)
	}
	segments, ok := splitRelative(s)
	if !ok {
		return Unresolved()
	}
	return ResolvedPath{Segments: segments}
}

func splitRelative(s string) ([]string, bool) {
	var out []string
	for _, seg := range strings.Split(s, "/") {
		switch seg {
		case "", ".":
		case "..":
			if len(out) == 0 {
				return nil, false
			}
			out = out[:len(out)-1]
		default:
			out = append(out, seg)
		}
	}
	return out, len(out) > 0
}

func normalizeSeparators(s string) string {
	return strings.ReplaceAll(s, `\`, "/")
}

func isAbs(s string) bool {
	return strings.HasPrefix(s, "/") || driveLetter.MatchString(s)
}
