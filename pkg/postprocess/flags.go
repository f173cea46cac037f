package postprocess

import (
	"fmt"
	"strings"
)

// Flags selects post-processing passes. The bit order has no effect on
// execution order; passes always run in the order documented on Pipeline.
type Flags uint32

const (
	ValidateDataStructure Flags = 1 << iota
	Triangulate
	RemoveRedundantMaterials
	FlipUVs
	GenNormals
	GenSmoothNormals
	CalcTangentSpace
	JoinIdenticalVertices
	FlipWindingOrder
	GenBoundingBoxes

	allFlags = 1<<iota - 1
)

// Presets combining common passes.
const (
	TargetRealtimeFast = Triangulate | GenNormals | CalcTangentSpace |
		JoinIdenticalVertices
	TargetRealtimeQuality = ValidateDataStructure | Triangulate |
		RemoveRedundantMaterials | GenSmoothNormals | CalcTangentSpace |
		JoinIdenticalVertices | GenBoundingBoxes
)

var flagNames = []struct {
	flag Flags
	name string
}{
	{ValidateDataStructure, "ValidateDataStructure"},
	{Triangulate, "Triangulate"},
	{RemoveRedundantMaterials, "RemoveRedundantMaterials"},
	{FlipUVs, "FlipUVs"},
	{GenNormals, "GenNormals"},
	{GenSmoothNormals, "GenSmoothNormals"},
	{CalcTangentSpace, "CalcTangentSpace"},
	{JoinIdenticalVertices, "JoinIdenticalVertices"},
	{FlipWindingOrder, "FlipWindingOrder"},
	{GenBoundingBoxes, "GenBoundingBoxes"},
}

var presetNames = map[string]Flags{
	"targetrealtimefast":    TargetRealtimeFast,
	"targetrealtimequality": TargetRealtimeQuality,
}

// Has reports whether every bit of o is set in f.
func (f Flags) Has(o Flags) bool {
	return f&o == o
}

// String lists the set pass names joined by "|".
func (f Flags) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	for _, fn := range flagNames {
		if f&fn.flag != 0 {
			parts = append(parts, fn.name)
		}
	}
	if rest := f &^ allFlags; rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", uint32(rest)))
	}
	return strings.Join(parts, "|")
}

// ParseFlags converts pass and preset names to Flags. Names are matched
// case-insensitively; each element may hold several names separated by
// commas or "|". Empty elements are ignored.
func ParseFlags(names []string) (Flags, error) {
	var f Flags
	for _, elem := range names {
		for _, name := range strings.FieldsFunc(elem, func(r rune) bool { return r == ',' || r == '|' }) {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			flag, ok := lookupFlag(name)
			if !ok {
				return 0, fmt.Errorf("%w: %q", ErrUnknownFlag, name)
			}
			f |= flag
		}
	}
	return f, nil
}

func lookupFlag(name string) (Flags, bool) {
	for _, fn := range flagNames {
		if strings.EqualFold(fn.name, name) {
			return fn.flag, true
		}
	}
	f, ok := presetNames[strings.ToLower(name)]
	return f, ok
}

// Names returns every pass name in execution order.
func Names() []string {
	out := make([]string, 0, len(passes))
	for _, p := range passes {
		out = append(out, p.flag.String())
	}
	return out
}
