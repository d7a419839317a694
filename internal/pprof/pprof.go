package pprof

import (
	"io"
	"strings"
	"time"

	"github.com/VladMinzatu/binsize/internal/sizediff"
	"github.com/VladMinzatu/binsize/internal/sizetree"
	"github.com/google/pprof/profile"
)

// builder interns functions and locations so that symbols sharing a
// directory or file also share its frames.
type builder struct {
	p          *profile.Profile
	funcs      map[string]*profile.Function
	locs       map[string]*profile.Location
	nextFuncID uint64
	nextLocID  uint64
}

func newBuilder(sampleTypes ...*profile.ValueType) *builder {
	return &builder{
		p: &profile.Profile{
			SampleType: sampleTypes,
			PeriodType: &profile.ValueType{Type: "space", Unit: "bytes"},
			Period:     1,
		},
		funcs:      map[string]*profile.Function{},
		locs:       map[string]*profile.Location{},
		nextFuncID: 1,
		nextLocID:  1,
	}
}

func (b *builder) addFunction(name, filename string) *profile.Function {
	key := name + "\x00" + filename
	if f, ok := b.funcs[key]; ok {
		return f
	}
	fn := &profile.Function{
		ID:         b.nextFuncID,
		Name:       name,
		SystemName: name,
		Filename:   filename,
	}
	b.nextFuncID++
	b.funcs[key] = fn
	b.p.Function = append(b.p.Function, fn)
	return fn
}

func (b *builder) addLocationFor(path []string, label string, sym *sizetree.SymbolRef) *profile.Location {
	key := strings.Join(path, "\x00")
	if loc, ok := b.locs[key]; ok {
		return loc
	}
	var (
		addr     uint64
		line     int64
		filename string
	)
	name := label
	if sym != nil {
		name = sym.Name
		addr = sym.Address
		line = int64(sym.Line)
		filename = sym.SourcePath
	}
	fn := b.addFunction(name, filename)
	loc := &profile.Location{
		ID:      b.nextLocID,
		Address: addr,
		Line:    []profile.Line{{Function: fn, Line: line}},
	}
	b.nextLocID++
	b.locs[key] = loc
	b.p.Location = append(b.p.Location, loc)
	return loc
}

// stack returns the locations for a leaf at path, leaf first as pprof
// expects. labels[i] and syms[i] describe the node at path[:i+1].
func (b *builder) stack(path []string, labels []string, syms []*sizetree.SymbolRef) []*profile.Location {
	locs := make([]*profile.Location, 0, len(path))
	for i := len(path) - 1; i >= 0; i-- {
		locs = append(locs, b.addLocationFor(path[:i+1], labels[i], syms[i]))
	}
	return locs
}

// BuildPprofProfile turns a size tree into a heap-style profile: each
// symbol leaf becomes a sample whose value is its size in bytes and whose
// stack is the symbol, its file and its directories.
func BuildPprofProfile(tree *sizetree.SizeNode, now time.Time) (*profile.Profile, error) {
	b := newBuilder(&profile.ValueType{Type: "space", Unit: "bytes"})
	b.p.TimeNanos = now.UnixNano()

	var labels []string
	var syms []*sizetree.SymbolRef
	tree.Walk(func(path []string, n *sizetree.SizeNode) bool {
		if len(path) > 0 {
			labels = append(labels[:len(path)-1], n.Label)
			syms = append(syms[:len(path)-1], n.Symbol)
		}
		if n.Kind != sizetree.KindSymbol || n.TotalSize == 0 {
			return true
		}
		b.p.Sample = append(b.p.Sample, &profile.Sample{
			Value:    []int64{n.TotalSize},
			Location: b.stack(path, labels, syms),
			Label:    sectionLabel(n.Symbol),
		})
		return true
	})
	return b.p, nil
}

// BuildDiffProfile encodes the size changes of a diff. Each changed symbol
// becomes a sample with its signed delta and its sizes on both sides;
// unchanged symbols are omitted.
func BuildDiffProfile(diff *sizediff.DiffNode, now time.Time) (*profile.Profile, error) {
	b := newBuilder(
		&profile.ValueType{Type: "delta", Unit: "bytes"},
		&profile.ValueType{Type: "before", Unit: "bytes"},
		&profile.ValueType{Type: "after", Unit: "bytes"},
	)
	b.p.DefaultSampleType = "delta"
	b.p.TimeNanos = now.UnixNano()

	var labels []string
	var syms []*sizetree.SymbolRef
	diff.Walk(func(path []string, n *sizediff.DiffNode) bool {
		if len(path) > 0 {
			labels = append(labels[:len(path)-1], n.Label)
			syms = append(syms[:len(path)-1], n.Symbol)
		}
		if n.Status == sizediff.StatusUnchanged {
			return false
		}
		if n.Kind != sizetree.KindSymbol {
			return true
		}
		label := sectionLabel(n.Symbol)
		if label == nil {
			label = map[string][]string{}
		}
		label["status"] = []string{n.Status.String()}
		b.p.Sample = append(b.p.Sample, &profile.Sample{
			Value:    []int64{n.Delta, n.BeforeSize, n.AfterSize},
			Location: b.stack(path, labels, syms),
			Label:    label,
		})
		return true
	})
	return b.p, nil
}

func sectionLabel(sym *sizetree.SymbolRef) map[string][]string {
	if sym == nil || sym.Section == "" {
		return nil
	}
	return map[string][]string{"section": {sym.Section}}
}

// WriteProfileGzip writes the gzip-compressed protobuf form read by
// "go tool pprof". Profile.Write compresses on its own.
func WriteProfileGzip(p *profile.Profile, w io.Writer) error {
	if err := p.CheckValid(); err != nil {
		return err
	}
	return p.Write(w)
}
