package exporter

import (
	"strings"

	"github.com/VladMinzatu/binsize/internal/sizetree"
	v1 "go.opentelemetry.io/proto/otlp/common/v1"
	profilespb "go.opentelemetry.io/proto/otlp/profiles/v1development"
	resourceV1 "go.opentelemetry.io/proto/otlp/resource/v1"
	"google.golang.org/protobuf/proto"
)

type NowFunc func() uint64 // produces unix nsec

// BuildOltpProfile encodes the tree as an OTLP profile with one sample per
// symbol leaf. A sample's stack runs from the symbol up to the top-level
// directory, and its value is the symbol size in bytes. Frames are shared
// between samples with a common path.
func BuildOltpProfile(tree *sizetree.SizeNode, binary string, now NowFunc) *profilespb.ProfilesData {
	nowNsec := now()
	stringTable := []string{""}
	mappingTable := []*profilespb.Mapping{{}}
	locationTable := []*profilespb.Location{{}}
	functionTable := []*profilespb.Function{{}}
	stackTable := []*profilespb.Stack{{}}

	sampleType := &profilespb.ValueType{
		TypeStrindex: strIndex(&stringTable, "space"),
		UnitStrindex: strIndex(&stringTable, "bytes"),
	}

	locByPath := map[string]int32{}
	frame := func(path []string, n *sizetree.SizeNode) int32 {
		key := strings.Join(path, "\x00")
		if idx, ok := locByPath[key]; ok {
			return idx
		}
		nameIdx := strIndex(&stringTable, n.Label)
		fn := &profilespb.Function{NameStrindex: nameIdx, SystemNameStrindex: nameIdx}
		var address uint64
		var line int64
		if n.Symbol != nil {
			fn.SystemNameStrindex = strIndex(&stringTable, n.Symbol.Name)
			if n.Symbol.SourcePath != "" {
				fn.FilenameStrindex = strIndex(&stringTable, n.Symbol.SourcePath)
			}
			address = n.Symbol.Address
			line = int64(n.Symbol.Line)
		}
		functionTable = append(functionTable, fn)
		loc := &profilespb.Location{
			Address:      address,
			MappingIndex: 0,
			Lines:        []*profilespb.Line{{FunctionIndex: int32(len(functionTable) - 1), Line: line}},
		}
		locationTable = append(locationTable, loc)
		idx := int32(len(locationTable) - 1)
		locByPath[key] = idx
		return idx
	}

	var samples []*profilespb.Sample
	var ancestors []*sizetree.SizeNode
	tree.Walk(func(path []string, n *sizetree.SizeNode) bool {
		// path has one label per level below the root, so the ancestors of
		// n are the first len(path)-1 nodes seen on the way down
		if len(path) > 0 {
			ancestors = append(ancestors[:len(path)-1], n)
		}
		if n.Kind != sizetree.KindSymbol || n.TotalSize == 0 {
			return true
		}
		locIndices := make([]int32, 0, len(path))
		for i := len(path) - 1; i >= 0; i-- {
			locIndices = append(locIndices, frame(path[:i+1], ancestors[i]))
		}
		stackTable = append(stackTable, &profilespb.Stack{LocationIndices: locIndices})
		samples = append(samples, &profilespb.Sample{
			StackIndex:         int32(len(stackTable) - 1),
			Values:             []int64{n.TotalSize},
			AttributeIndices:   []int32{},
			LinkIndex:          0,
			TimestampsUnixNano: []uint64{nowNsec},
		})
		return true
	})

	profile := &profilespb.Profile{
		TimeUnixNano: nowNsec,
		DurationNano: uint64(0),
		SampleType:   sampleType,
		Samples:      samples,
	}

	resource := &resourceV1.Resource{}
	if binary != "" {
		resource.Attributes = []*v1.KeyValue{{
			Key:   "binary.path",
			Value: &v1.AnyValue{Value: &v1.AnyValue_StringValue{StringValue: binary}},
		}}
	}
	resourceProfiles := &profilespb.ResourceProfiles{
		Resource: resource,
		ScopeProfiles: []*profilespb.ScopeProfiles{
			{
				Scope: &v1.InstrumentationScope{
					Name:    "binsize",
					Version: "v1",
				},
				Profiles: []*profilespb.Profile{profile},
			},
		},
	}

	dictionary := &profilespb.ProfilesDictionary{
		MappingTable:  mappingTable,
		LocationTable: locationTable,
		FunctionTable: functionTable,
		StackTable:    stackTable,
		StringTable:   stringTable,
	}

	return &profilespb.ProfilesData{
		ResourceProfiles: []*profilespb.ResourceProfiles{resourceProfiles},
		Dictionary:       dictionary,
	}
}

// MarshalOltpProfile returns the binary protobuf encoding of the profile.
func MarshalOltpProfile(data *profilespb.ProfilesData) ([]byte, error) {
	return proto.Marshal(data)
}

func strIndex(table *[]string, s string) int32 {
	for i, v := range *table {
		if v == s {
			return int32(i)
		}
	}
	*table = append(*table, s)
	return int32(len(*table) - 1)
}
