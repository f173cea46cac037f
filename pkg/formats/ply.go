package formats

import (
	"bytes"
	"encoding/binary"
	"strconv"
	"strings"

	smath "github.com/Faultbox/scenekit/pkg/math"
	"github.com/Faultbox/scenekit/pkg/scene"
)

const plyFormat = "ply"

// PLYDecoder reads Stanford polygon files in ASCII and both binary
// encodings.
type PLYDecoder struct{}

// Info describes the decoder.
func (PLYDecoder) Info() Info {
	return Info{Name: plyFormat, Description: "Stanford PLY (ascii, binary little/big endian)", Extensions: []string{".ply"}}
}

// Probe checks for the "ply" line.
func (PLYDecoder) Probe(header []byte, _ string) Match {
	if bytes.HasPrefix(header, []byte("ply\n")) || bytes.HasPrefix(header, []byte("ply\r\n")) {
		return MatchSignature
	}
	return MatchNone
}

type plyType int

const (
	plyInvalid plyType = iota
	plyInt8
	plyUint8
	plyInt16
	plyUint16
	plyInt32
	plyUint32
	plyFloat32
	plyFloat64
)

var plyTypes = map[string]plyType{
	"char": plyInt8, "int8": plyInt8,
	"uchar": plyUint8, "uint8": plyUint8,
	"short": plyInt16, "int16": plyInt16,
	"ushort": plyUint16, "uint16": plyUint16,
	"int": plyInt32, "int32": plyInt32,
	"uint": plyUint32, "uint32": plyUint32,
	"float": plyFloat32, "float32": plyFloat32,
	"double": plyFloat64, "float64": plyFloat64,
}

func (t plyType) size() int {
	switch t {
	case plyInt8, plyUint8:
		return 1
	case plyInt16, plyUint16:
		return 2
	case plyInt32, plyUint32, plyFloat32:
		return 4
	case plyFloat64:
		return 8
	}
	return 0
}

// colorScale maps an integer color channel to [0, 1].
func (t plyType) colorScale() float64 {
	switch t {
	case plyUint8, plyInt8:
		return 255
	case plyUint16, plyInt16:
		return 65535
	}
	return 1
}

type plyProperty struct {
	name      string
	typ       plyType
	list      bool
	countType plyType
}

type plyElement struct {
	name  string
	count int
	props []plyProperty
}

// minSize is the smallest encoding of one element, used to bound counts.
func (e *plyElement) minSize(ascii bool) int {
	n := 0
	for _, p := range e.props {
		switch {
		case ascii:
			n += 2
		case p.list:
			n += p.countType.size()
		default:
			n += p.typ.size()
		}
	}
	return max(n, 1)
}

type plyHeader struct {
	format   string
	order    binary.ByteOrder
	elements []*plyElement
	body     int
}

func parsePLYHeader(data []byte) (*plyHeader, error) {
	h := &plyHeader{}
	sc := newLineScanner(data)
	if !sc.next() || sc.text != "ply" {
		return nil, errLine(plyFormat, 1, ErrInvalidMagic)
	}
	var cur *plyElement
	for sc.next() {
		toks := strings.Fields(sc.text)
		if len(toks) == 0 {
			continue
		}
		switch toks[0] {
		case "format":
			if len(toks) < 3 {
				return nil, errLine(plyFormat, sc.line, wrapf(ErrMalformed, "incomplete format line"))
			}
			h.format = toks[1]
			switch toks[1] {
			case "ascii":
			case "binary_little_endian":
				h.order = binary.LittleEndian
			case "binary_big_endian":
				h.order = binary.BigEndian
			default:
				return nil, errLine(plyFormat, sc.line, wrapf(ErrUnsupportedVersion, "format %q", toks[1]))
			}
		case "element":
			if len(toks) < 3 {
				return nil, errLine(plyFormat, sc.line, wrapf(ErrMalformed, "incomplete element line"))
			}
			n, err := strconv.ParseInt(toks[2], 10, 64)
			if err != nil || n < 0 {
				return nil, errLine(plyFormat, sc.line, wrapf(ErrMalformed, "bad element count %q", toks[2]))
			}
			if n > int64(len(data)) {
				return nil, errLine(plyFormat, sc.line, wrapf(ErrOutOfBounds, "%d %s elements in %d bytes", n, toks[1], len(data)))
			}
			cur = &plyElement{name: toks[1], count: int(n)}
			h.elements = append(h.elements, cur)
		case "property":
			if cur == nil {
				return nil, errLine(plyFormat, sc.line, wrapf(ErrMalformed, "property before element"))
			}
			p, err := parsePLYProperty(toks[1:])
			if err != nil {
				return nil, errLine(plyFormat, sc.line, err)
			}
			cur.props = append(cur.props, p)
		case "end_header":
			if h.format == "" {
				return nil, errLine(plyFormat, sc.line, wrapf(ErrMalformed, "missing format line"))
			}
			h.body = sc.off
			return h, nil
		}
	}
	return nil, errFormat(plyFormat, wrapf(ErrTruncated, "missing end_header"))
}

func parsePLYProperty(toks []string) (plyProperty, error) {
	if len(toks) >= 4 && toks[0] == "list" {
		ct, t := plyTypes[toks[1]], plyTypes[toks[2]]
		if ct == plyInvalid || t == plyInvalid || ct == plyFloat32 || ct == plyFloat64 {
			return plyProperty{}, wrapf(ErrMalformed, "bad list property types %q %q", toks[1], toks[2])
		}
		return plyProperty{name: toks[3], typ: t, list: true, countType: ct}, nil
	}
	if len(toks) < 2 {
		return plyProperty{}, wrapf(ErrMalformed, "incomplete property line")
	}
	t := plyTypes[toks[0]]
	if t == plyInvalid {
		return plyProperty{}, wrapf(ErrMalformed, "unknown property type %q", toks[0])
	}
	return plyProperty{name: toks[1], typ: t}, nil
}

// plySource yields scalar values from the body in either encoding.
type plySource interface {
	value(t plyType) float64
	err() error
	left() int
}

type plyBinary struct{ r *reader }

func (b plyBinary) value(t plyType) float64 {
	switch t {
	case plyInt8:
		return float64(int8(b.r.u8()))
	case plyUint8:
		return float64(b.r.u8())
	case plyInt16:
		return float64(b.r.i16())
	case plyUint16:
		return float64(b.r.u16())
	case plyInt32:
		return float64(b.r.i32())
	case plyUint32:
		return float64(b.r.u32())
	case plyFloat32:
		return float64(b.r.f32())
	default:
		return b.r.f64()
	}
}

func (b plyBinary) err() error { return b.r.Err() }
func (b plyBinary) left() int  { return b.r.remaining() }

type plyASCII struct {
	data []byte
	off  int
	fail error
}

func (a *plyASCII) value(plyType) float64 {
	if a.fail != nil {
		return 0
	}
	for a.off < len(a.data) && isSpace(a.data[a.off]) {
		a.off++
	}
	start := a.off
	for a.off < len(a.data) && !isSpace(a.data[a.off]) {
		a.off++
	}
	if start == a.off {
		a.fail = errAt(plyFormat, start, wrapf(ErrTruncated, "expected value"))
		return 0
	}
	f, err := strconv.ParseFloat(string(a.data[start:a.off]), 64)
	if err != nil {
		a.fail = errAt(plyFormat, start, wrapf(ErrMalformed, "bad value %q", a.data[start:a.off]))
		return 0
	}
	return f
}

func (a *plyASCII) err() error { return a.fail }
func (a *plyASCII) left() int  { return len(a.data) - a.off }

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// Decode parses req.Data.
func (PLYDecoder) Decode(req *Request) (*scene.Scene, error) {
	h, err := parsePLYHeader(req.Data)
	if err != nil {
		return nil, err
	}
	ascii := h.order == nil
	var src plySource
	if ascii {
		src = &plyASCII{data: req.Data, off: h.body}
	} else {
		r := newReader(plyFormat, req.Data)
		r.order = h.order
		r.seek(h.body)
		src = plyBinary{r: r}
	}

	s := newScene(req, plyFormat, h.format)
	mesh := &scene.Mesh{Name: s.Name}
	var (
		uvs      []smath.Vec3
		colors   []smath.Color4
		haveFace bool
	)
	for _, e := range h.elements {
		if e.count > src.left()/e.minSize(ascii) || e.count > req.maxElements() {
			return nil, errAt(plyFormat, len(req.Data)-src.left(),
				wrapf(ErrOutOfBounds, "%d %s elements with %d bytes left", e.count, e.name, src.left()))
		}
		switch e.name {
		case "vertex":
			var hasUV, hasNormal, hasColor bool
			for _, p := range e.props {
				switch p.name {
				case "s", "u", "texture_u", "texture_s":
					hasUV = true
				case "nx", "ny", "nz":
					hasNormal = true
				case "red", "r", "diffuse_red":
					hasColor = true
				}
			}
			mesh.Positions = make([]smath.Vec3, e.count)
			if hasNormal {
				mesh.Normals = make([]smath.Vec3, e.count)
			}
			if hasUV {
				uvs = make([]smath.Vec3, e.count)
			}
			if hasColor {
				colors = make([]smath.Color4, e.count)
				for i := range colors {
					colors[i] = smath.White
				}
			}
			for i := 0; i < e.count; i++ {
				for _, p := range e.props {
					if p.list {
						skipPLYList(src, p)
						continue
					}
					v := src.value(p.typ)
					f := float32(v)
					switch p.name {
					case "x":
						mesh.Positions[i].X = f
					case "y":
						mesh.Positions[i].Y = f
					case "z":
						mesh.Positions[i].Z = f
					case "nx":
						mesh.Normals[i].X = f
					case "ny":
						mesh.Normals[i].Y = f
					case "nz":
						mesh.Normals[i].Z = f
					case "s", "u", "texture_u", "texture_s":
						uvs[i].X = f
					case "t", "v", "texture_v", "texture_t":
						if hasUV {
							uvs[i].Y = f
						}
					case "red", "r", "diffuse_red":
						colors[i].R = float32(v / p.typ.colorScale())
					case "green", "g", "diffuse_green":
						if hasColor {
							colors[i].G = float32(v / p.typ.colorScale())
						}
					case "blue", "b", "diffuse_blue":
						if hasColor {
							colors[i].B = float32(v / p.typ.colorScale())
						}
					case "alpha", "a":
						if hasColor {
							colors[i].A = float32(v / p.typ.colorScale())
						}
					}
				}
				if err := src.err(); err != nil {
					return nil, err
				}
			}
		case "face":
			haveFace = true
			mesh.Faces = make([]scene.Face, 0, e.count)
			for i := 0; i < e.count; i++ {
				for _, p := range e.props {
					if !p.list {
						src.value(p.typ)
						continue
					}
					if p.name != "vertex_indices" && p.name != "vertex_index" {
						skipPLYList(src, p)
						continue
					}
					n := int(src.value(p.countType))
					if n < 0 || n > src.left() {
						return nil, errAt(plyFormat, len(req.Data)-src.left(), wrapf(ErrOutOfBounds, "face with %d indices", n))
					}
					idx := make([]int, n)
					for k := range idx {
						idx[k] = int(src.value(p.typ))
					}
					if n > 0 {
						mesh.Faces = append(mesh.Faces, scene.Face{Indices: idx})
					}
				}
				if err := src.err(); err != nil {
					return nil, err
				}
			}
		default:
			for i := 0; i < e.count; i++ {
				for _, p := range e.props {
					if p.list {
						skipPLYList(src, p)
					} else {
						src.value(p.typ)
					}
				}
				if err := src.err(); err != nil {
					return nil, err
				}
			}
		}
	}

	if len(mesh.Positions) == 0 {
		return nil, errFormat(plyFormat, wrapf(ErrMalformed, "no vertices"))
	}
	for fi, f := range mesh.Faces {
		for _, idx := range f.Indices {
			if idx < 0 || idx >= len(mesh.Positions) {
				return nil, errFormat(plyFormat, wrapf(ErrOutOfBounds, "face %d index %d with %d vertices", fi, idx, len(mesh.Positions)))
			}
		}
	}
	if !haveFace || len(mesh.Faces) == 0 {
		// Point cloud.
		mesh.Faces = make([]scene.Face, len(mesh.Positions))
		for i := range mesh.Faces {
			mesh.Faces[i] = scene.Face{Indices: []int{i}}
		}
	}
	if uvs != nil {
		mesh.AddTexCoords(uvs, 2)
	}
	if colors != nil {
		mesh.Colors = [][]smath.Color4{colors}
	}
	s.AddMesh(mesh)
	attachMeshes(s)
	finishMeshes(s)
	return s, nil
}

func skipPLYList(src plySource, p plyProperty) {
	n := int(src.value(p.countType))
	if n < 0 || n > src.left() {
		n = src.left() + 1
	}
	for k := 0; k < n && src.err() == nil; k++ {
		src.value(p.typ)
	}
}
