package formats

import (
	"bytes"
	"strings"

	smath "github.com/Faultbox/scenekit/pkg/math"
	"github.com/Faultbox/scenekit/pkg/scene"
)

const (
	stlFormat       = "stl"
	stlHeaderSize   = 80
	stlTriangleSize = 50
)

// STLDecoder reads ASCII and binary stereolithography files.
type STLDecoder struct{}

// Info describes the decoder.
func (STLDecoder) Info() Info {
	return Info{Name: stlFormat, Description: "Stereolithography (ASCII and binary)", Extensions: []string{".stl"}}
}

// Probe recognizes ASCII STL by its keywords. Binary STL has no magic and
// falls back to the extension.
func (STLDecoder) Probe(header []byte, ext string) Match {
	if isASCIISTL(header) {
		return MatchSignature
	}
	if ext == ".stl" {
		return MatchExtension
	}
	return MatchNone
}

func isASCIISTL(header []byte) bool {
	trimmed := bytes.TrimLeft(header, " \t\r\n")
	return bytes.HasPrefix(trimmed, []byte("solid")) &&
		(bytes.Contains(header, []byte("facet")) || bytes.Contains(header, []byte("endsolid")))
}

// Decode parses req.Data. A file whose size matches the binary layout for
// its declared triangle count is binary even if it starts with "solid".
func (STLDecoder) Decode(req *Request) (*scene.Scene, error) {
	data := req.Data
	if len(data) >= stlHeaderSize+4 {
		r := newReader(stlFormat, data)
		r.skip(stlHeaderSize)
		n := int64(r.u32())
		if int64(len(data)) == stlHeaderSize+4+n*stlTriangleSize {
			return decodeBinarySTL(req)
		}
	}
	if isASCIISTL(data[:min(len(data), HeaderWindow)]) {
		return decodeASCIISTL(req)
	}
	return decodeBinarySTL(req)
}

func decodeBinarySTL(req *Request) (*scene.Scene, error) {
	r := newReader(stlFormat, req.Data)
	header := r.bytes(stlHeaderSize)
	n := r.count(int64(r.u32()), stlTriangleSize, "triangles")
	if err := r.Err(); err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, errAt(stlFormat, stlHeaderSize, wrapf(ErrMalformed, "no triangles"))
	}
	if n*3 > req.maxElements() {
		return nil, errAt(stlFormat, stlHeaderSize, wrapf(ErrOutOfBounds, "%d triangles", n))
	}

	// Materialise files announce per-face colors with "COLOR=" in the
	// header, followed by the default RGBA. Without it, VisCAM colors
	// apply if any facet sets bit 15.
	materialise := false
	defColor := smath.White
	if i := bytes.Index(header, []byte("COLOR=")); i >= 0 && i+10 <= len(header) {
		materialise = true
		c := header[i+6 : i+10]
		defColor = smath.ColorFromBytes(c[0], c[1], c[2], c[3])
	}

	s := newScene(req, stlFormat, "binary")
	mesh := &scene.Mesh{
		Name:      s.Name,
		Positions: make([]smath.Vec3, 0, n*3),
		Normals:   make([]smath.Vec3, 0, n*3),
		Faces:     make([]scene.Face, 0, n),
	}
	attrs := make([]uint16, n)
	viscam := false
	for i := 0; i < n; i++ {
		normal := r.vec3()
		a, b, c := r.vec3(), r.vec3(), r.vec3()
		attr := r.u16()
		if normal == (smath.Vec3{}) {
			normal = b.Sub(a).Cross(c.Sub(a)).Normalize()
		}
		base := len(mesh.Positions)
		mesh.Positions = append(mesh.Positions, a, b, c)
		mesh.Normals = append(mesh.Normals, normal, normal, normal)
		mesh.AddTriangle(base, base+1, base+2)
		attrs[i] = attr
		viscam = viscam || attr&0x8000 != 0
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	if materialise || viscam {
		colors := make([]smath.Color4, 0, n*3)
		for _, attr := range attrs {
			col := stlColor(attr, materialise, defColor)
			colors = append(colors, col, col, col)
		}
		mesh.Colors = [][]smath.Color4{colors}
	}
	s.AddMesh(mesh)
	attachMeshes(s)
	finishMeshes(s)
	return s, nil
}

// stlColor decodes a facet's 15-bit color. Materialise stores red in the
// low bits and clears bit 15 for a facet color; VisCAM stores blue in the
// low bits and sets bit 15. Facets without their own color get def.
func stlColor(attr uint16, materialise bool, def smath.Color4) smath.Color4 {
	if materialise == (attr&0x8000 != 0) {
		return def
	}
	lo := float32(attr&0x1f) / 31
	mid := float32(attr>>5&0x1f) / 31
	hi := float32(attr>>10&0x1f) / 31
	if materialise {
		return smath.Color4{R: lo, G: mid, B: hi, A: 1}
	}
	return smath.Color4{R: hi, G: mid, B: lo, A: 1}
}

func decodeASCIISTL(req *Request) (*scene.Scene, error) {
	s := newScene(req, stlFormat, "ascii")
	var (
		mesh   *scene.Mesh
		normal smath.Vec3
		facet  []int
	)
	sc := newLineScanner(req.Data)
	for sc.next() {
		if sc.text == "" {
			continue
		}
		toks := strings.Fields(sc.text)
		switch strings.ToLower(toks[0]) {
		case "solid":
			name := strings.Join(toks[1:], " ")
			if name == "" {
				name = s.Name
			}
			mesh = &scene.Mesh{Name: name}
		case "facet":
			if mesh == nil {
				return nil, errLine(stlFormat, sc.line, wrapf(ErrMalformed, "facet outside solid"))
			}
			normal = smath.Vec3{}
			if len(toks) >= 5 && strings.EqualFold(toks[1], "normal") {
				n, err := parseVec3(toks[2:], 0)
				if err != nil {
					return nil, errLine(stlFormat, sc.line, err)
				}
				normal = n
			}
			facet = facet[:0]
		case "vertex":
			if mesh == nil {
				return nil, errLine(stlFormat, sc.line, wrapf(ErrMalformed, "vertex outside solid"))
			}
			if len(toks) < 4 {
				return nil, errLine(stlFormat, sc.line, wrapf(ErrMalformed, "vertex needs 3 coordinates"))
			}
			v, err := parseVec3(toks[1:], 0)
			if err != nil {
				return nil, errLine(stlFormat, sc.line, err)
			}
			if len(mesh.Positions) >= req.maxElements() {
				return nil, errLine(stlFormat, sc.line, wrapf(ErrOutOfBounds, "too many vertices"))
			}
			facet = append(facet, len(mesh.Positions))
			mesh.Positions = append(mesh.Positions, v)
			mesh.Normals = append(mesh.Normals, normal)
		case "endfacet":
			if mesh == nil || len(facet) < 3 {
				return nil, errLine(stlFormat, sc.line, wrapf(ErrMalformed, "facet with fewer than 3 vertices"))
			}
			if normal == (smath.Vec3{}) {
				p := mesh.Positions
				n := p[facet[1]].Sub(p[facet[0]]).Cross(p[facet[2]].Sub(p[facet[0]])).Normalize()
				for _, i := range facet {
					mesh.Normals[i] = n
				}
			}
			mesh.Faces = append(mesh.Faces, scene.Face{Indices: append([]int(nil), facet...)})
		case "endsolid":
			if mesh != nil && len(mesh.Faces) > 0 {
				s.AddMesh(mesh)
			}
			mesh = nil
		}
	}
	if mesh != nil && len(mesh.Faces) > 0 {
		s.AddMesh(mesh)
	}
	if len(s.Meshes) == 0 {
		return nil, errFormat(stlFormat, wrapf(ErrMalformed, "no facets"))
	}
	attachMeshes(s)
	finishMeshes(s)
	return s, nil
}
