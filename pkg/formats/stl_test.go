package formats

import (
	"errors"
	"testing"

	smath "github.com/Faultbox/scenekit/pkg/math"
	"github.com/Faultbox/scenekit/pkg/scene"
)

type testTri struct {
	normal  [3]float32
	a, b, c [3]float32
	attr    uint16
}

func makeBinarySTL(header string, tris ...testTri) []byte {
	b := &bin{}
	b.str(header, stlHeaderSize).u32(uint32(len(tris)))
	for _, t := range tris {
		b.f32(t.normal[:]...).f32(t.a[:]...).f32(t.b[:]...).f32(t.c[:]...)
		b.u16(t.attr)
	}
	return b.bytes()
}

var floorTris = []testTri{
	{a: [3]float32{0, 0, 0}, b: [3]float32{1, 0, 0}, c: [3]float32{0, 1, 0}},
	{normal: [3]float32{0, 0, 1}, a: [3]float32{1, 0, 0}, b: [3]float32{1, 1, 0}, c: [3]float32{0, 1, 0}, attr: 0x1f},
}

func TestSTLDecoder_Binary(t *testing.T) {
	// a header starting with "solid" must not fool the size check
	s, err := decodeWith(t, STLDecoder{}, "floor.stl", makeBinarySTL("solid floor", floorTris...), nil)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if s.Metadata[scene.MetaVersion] != "binary" {
		t.Errorf("version = %q, want binary", s.Metadata[scene.MetaVersion])
	}
	if len(s.Meshes) != 1 {
		t.Fatalf("got %d meshes, want 1", len(s.Meshes))
	}
	m := s.Meshes[0]
	if m.NumVertices() != 6 || len(m.Faces) != 2 {
		t.Errorf("got %d vertices and %d faces", m.NumVertices(), len(m.Faces))
	}
	// zero normals are recomputed from the winding
	if n := m.Normals[0]; n.Z != 1 {
		t.Errorf("computed normal = %v, want +Z", n)
	}
	if len(m.Colors) != 0 {
		t.Error("colors without a COLOR= header")
	}
	if len(s.Root.Meshes) != 1 {
		t.Error("mesh should hang off the root")
	}
}

func TestSTLDecoder_BinaryColors(t *testing.T) {
	tris := []testTri{floorTris[0], floorTris[1]}
	tris[0].attr = 0x8000
	tris[1].attr = 0x1f << 10
	header := "COLOR=" + string([]byte{255, 0, 0, 255})
	s, err := decodeWith(t, STLDecoder{}, "floor.stl", makeBinarySTL(header, tris...), nil)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	cols := s.Meshes[0].Colors
	if len(cols) != 1 {
		t.Fatal("expected one color set")
	}
	if c := cols[0][0]; c.R != 1 || c.B != 0 {
		t.Errorf("default color = %v, want red", c)
	}
	if c := cols[0][3]; c.B != 1 || c.R != 0 {
		t.Errorf("face color = %v, want blue", c)
	}
}

func TestSTLDecoder_VisCAMColors(t *testing.T) {
	tris := []testTri{floorTris[0], floorTris[1]}
	tris[0].attr = 0x8000 | 0x1f<<10
	tris[1].attr = 0x1f
	s, err := decodeWith(t, STLDecoder{}, "floor.stl", makeBinarySTL("exported by VisCAM", tris...), nil)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	cols := s.Meshes[0].Colors
	if len(cols) != 1 || len(cols[0]) != 6 {
		t.Fatalf("expected one color per vertex, got %v", cols)
	}
	if c := cols[0][0]; c.R != 1 || c.G != 0 || c.B != 0 {
		t.Errorf("face 0 color = %v, want red", c)
	}
	// bit 15 clear: no color of its own
	if c := cols[0][3]; c != smath.White {
		t.Errorf("face 1 color = %v, want white", c)
	}
}

const testASCIISTL = `solid wedge
  facet normal 0 0 1
    outer loop
      vertex 0 0 0
      vertex 1 0 0
      vertex 0 1 0
    endloop
  endfacet
  facet
    outer loop
      vertex 0 0 0
      vertex 0 1 0
      vertex 0 0 1
    endloop
  endfacet
endsolid wedge
`

func TestSTLDecoder_ASCII(t *testing.T) {
	s, err := decodeWith(t, STLDecoder{}, "wedge.stl", []byte(testASCIISTL), nil)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if s.Metadata[scene.MetaVersion] != "ascii" {
		t.Errorf("version = %q, want ascii", s.Metadata[scene.MetaVersion])
	}
	m := s.Meshes[0]
	if m.Name != "wedge" {
		t.Errorf("mesh name = %q, want wedge", m.Name)
	}
	if len(m.Faces) != 2 || m.NumVertices() != 6 {
		t.Errorf("got %d faces and %d vertices", len(m.Faces), m.NumVertices())
	}
	if n := m.Normals[3]; n.X != 1 {
		t.Errorf("computed normal = %v, want +X", n)
	}
}

func TestSTLDecoder_Errors(t *testing.T) {
	truncated := makeBinarySTL("", floorTris...)
	truncated = truncated[:len(truncated)-10]
	tests := []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{"no triangles", makeBinarySTL(""), ErrMalformed},
		{"truncated", truncated, ErrOutOfBounds},
		{"empty solid", []byte("solid x\nendsolid x\n"), ErrMalformed},
		{"short facet", []byte("solid x\nfacet\nvertex 0 0 0\nvertex 1 0 0\nendfacet\nendsolid\n"), ErrMalformed},
		{"facet after endsolid", []byte("solid x\nendsolid\nfacet normal 0 0 1\n"), ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeWith(t, STLDecoder{}, "bad.stl", tt.data, nil)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSTLDecoder_Probe(t *testing.T) {
	d := STLDecoder{}
	if d.Probe([]byte(testASCIISTL), "") != MatchSignature {
		t.Error("ASCII STL should match by signature")
	}
	if d.Probe(make([]byte, 84), ".stl") != MatchExtension {
		t.Error("binary STL should match by extension")
	}
	if d.Probe([]byte("solid but nothing else"), ".txt") != MatchNone {
		t.Error("bare solid keyword should not match")
	}
}
