package formats

import (
	"errors"
	"testing"

	smath "github.com/Faultbox/scenekit/pkg/math"
	"github.com/Faultbox/scenekit/pkg/scene"
)

// tdsChunk encodes a 3DS chunk around the concatenated body parts.
func tdsChunk(id uint16, body ...[]byte) []byte {
	var payload []byte
	for _, p := range body {
		payload = append(payload, p...)
	}
	b := &bin{}
	b.u16(id).u32(uint32(6 + len(payload))).raw(payload)
	return b.bytes()
}

func cstring(s string) []byte {
	return append([]byte(s), 0)
}

func testBoxObject(faces ...[3]uint16) []byte {
	verts := (&bin{}).u16(4).f32(0, 0, 0, 1, 0, 0, 1, 1, 0, 0, 1, 0).bytes()
	uvs := (&bin{}).u16(4).f32(0, 0, 1, 0, 1, 1, 0, 1).bytes()
	fb := (&bin{}).u16(uint16(len(faces)))
	for _, f := range faces {
		fb.u16(f[0], f[1], f[2], 7)
	}
	faceMat := tdsChunk(chunkFaceMat, cstring("red"), (&bin{}).u16(1, 0).bytes())
	return tdsChunk(chunkObject, cstring("box"),
		tdsChunk(chunkTriMesh,
			tdsChunk(chunkVertices, verts),
			tdsChunk(chunkMapCoords, uvs),
			tdsChunk(chunkFaces, fb.bytes(), faceMat),
		),
	)
}

func testRedMaterial() []byte {
	return tdsChunk(chunkMaterial,
		tdsChunk(chunkMatName, cstring("red")),
		tdsChunk(chunkMatDiffuse, tdsChunk(chunkColor24, []byte{255, 0, 0})),
		tdsChunk(chunkMatTransp, tdsChunk(chunkPercentI, (&bin{}).i16(25).bytes())),
		tdsChunk(chunkMatTexture, tdsChunk(chunkMatMapName, cstring("brick.png"))),
	)
}

func make3DS(editor ...[]byte) []byte {
	return tdsChunk(chunkMain,
		tdsChunk(chunkVersion, (&bin{}).u32(3).bytes()),
		tdsChunk(chunkEditor, editor...),
	)
}

func TestThreeDSDecoder(t *testing.T) {
	light := tdsChunk(chunkObject, cstring("sun"),
		tdsChunk(chunkLight, (&bin{}).f32(0, 0, 10).bytes(), tdsChunk(chunkColor24, []byte{255, 255, 255})),
	)
	camera := tdsChunk(chunkObject, cstring("cam"),
		tdsChunk(chunkCamera, (&bin{}).f32(0, -10, 0, 0, 0, 0, 0, 50).bytes()),
	)
	unknown := tdsChunk(0x1234, []byte("ignored payload"))
	data := make3DS(testRedMaterial(), unknown, testBoxObject([3]uint16{0, 1, 2}, [3]uint16{0, 2, 3}), light, camera)

	s, err := decodeWith(t, ThreeDSDecoder{}, "box.3ds", data, nil)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if s.Metadata[scene.MetaVersion] != "3" || s.Metadata[scene.MetaUpAxis] != "z" {
		t.Errorf("metadata = %v", s.Metadata)
	}
	if s.Root.Transform.IsIdentity(0) {
		t.Error("Z-up source should rotate the root")
	}

	box := s.FindNode("box")
	if box == nil || len(box.Meshes) != 2 {
		t.Fatalf("box node = %+v, want two meshes split by material", box)
	}
	red := s.Meshes[box.Meshes[0]]
	if red.NumVertices() != 3 || len(red.Faces) != 1 || !red.HasTexCoords(0) {
		t.Errorf("red mesh: %d vertices, %d faces", red.NumVertices(), len(red.Faces))
	}

	mat := s.Materials[red.MaterialIndex]
	if mat.Name() != "red" {
		t.Errorf("material = %q, want red", mat.Name())
	}
	if c, _ := mat.Color(scene.KeyColorDiffuse); c.R != 1 || c.G != 0 {
		t.Errorf("diffuse = %v", c)
	}
	if f, _ := mat.Float(scene.KeyOpacity); f != 0.75 {
		t.Errorf("opacity = %v, want 0.75", f)
	}
	if ref, ok := mat.Texture(scene.TextureDiffuse, 0); !ok || ref.Path != "brick.png" {
		t.Errorf("diffuse map = %+v, %v", ref, ok)
	}
	// the face without a material gets the default one
	if rest := s.Meshes[box.Meshes[1]]; rest.MaterialIndex == red.MaterialIndex {
		t.Error("unassigned faces should not share the named material")
	}

	if len(s.Lights) != 1 || s.Lights[0].Name != "sun" || s.Lights[0].Type != scene.LightPoint {
		t.Errorf("lights = %+v", s.Lights)
	}
	if len(s.Cameras) != 1 || s.Cameras[0].LookAt.Y != 1 {
		t.Errorf("cameras = %+v", s.Cameras)
	}
}

func TestThreeDSDecoder_Errors(t *testing.T) {
	overrun := tdsChunk(chunkMain, (&bin{}).u16(chunkEditor).u32(100).bytes())
	tests := []struct {
		name    string
		data    []byte
		wantErr error
		offset  int64
	}{
		{"empty", nil, ErrTruncated, 0},
		{"wrong main chunk", tdsChunk(0x1111, tdsChunk(chunkVersion, []byte{3, 0, 0, 0})), ErrInvalidMagic, 0},
		{"child overruns parent", overrun, ErrTruncated, 6},
		{"no meshes", make3DS(testRedMaterial()), ErrMalformed, -1},
		{"vertex index past end", make3DS(testBoxObject([3]uint16{0, 1, 9})), ErrOutOfBounds, -1},
		{
			"short camera body",
			make3DS(testBoxObject([3]uint16{0, 1, 2}), tdsChunk(chunkObject, cstring("cam"),
				tdsChunk(chunkCamera, (&bin{}).f32(0, -10).bytes()),
				tdsChunk(0x4710, (&bin{}).f32(1, 1000).bytes()),
			)),
			ErrTruncated, -1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeWith(t, ThreeDSDecoder{}, "bad.3ds", tt.data, nil)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			off, ok := Offset(err)
			if tt.offset >= 0 && (!ok || off != tt.offset) {
				t.Errorf("offset = %d, %v, want %d", off, ok, tt.offset)
			}
		})
	}
}

func TestThreeDSDecoder_LocalMatrix(t *testing.T) {
	verts := (&bin{}).u16(3).f32(5, 0, 0, 6, 0, 0, 5, 1, 0).bytes()
	faces := (&bin{}).u16(1).u16(0, 1, 2, 7).bytes()
	local := (&bin{}).f32(1, 0, 0, 0, 1, 0, 0, 0, 1, 5, 0, 0).bytes()
	obj := tdsChunk(chunkObject, cstring("moved"),
		tdsChunk(chunkTriMesh,
			tdsChunk(chunkVertices, verts),
			tdsChunk(chunkLocalMatrix, local),
			tdsChunk(chunkFaces, faces),
		),
	)
	s, err := decodeWith(t, ThreeDSDecoder{}, "moved.3ds", make3DS(obj), nil)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	n := s.FindNode("moved")
	if n == nil || len(n.Meshes) != 1 {
		t.Fatalf("node = %+v", n)
	}
	if tr := n.Transform.Translation(); tr.X != 5 || tr.Y != 0 || tr.Z != 0 {
		t.Errorf("node translation = %v, want (5,0,0)", tr)
	}
	m := s.Meshes[n.Meshes[0]]
	want := []smath.Vec3{{X: 0}, {X: 1}, {Y: 1}}
	if len(m.Positions) != len(want) {
		t.Fatalf("got %d vertices, want %d", len(m.Positions), len(want))
	}
	for i, p := range m.Positions {
		if !p.ApproxEqual(want[i], 1e-5) {
			t.Errorf("vertex %d = %v, want %v in the object frame", i, p, want[i])
		}
		// world placement is unchanged
		world := n.GlobalTransform().TransformPoint(p)
		orig := s.Root.Transform.TransformPoint(want[i].Add(smath.Vec3{X: 5}))
		if !world.ApproxEqual(orig, 1e-4) {
			t.Errorf("vertex %d moved in world space: %v, want %v", i, world, orig)
		}
	}
}

func TestThreeDSDecoder_AbsurdVertexCount(t *testing.T) {
	obj := tdsChunk(chunkObject, cstring("box"),
		tdsChunk(chunkTriMesh, tdsChunk(chunkVertices, (&bin{}).u16(60000).bytes())),
	)
	_, err := decodeWith(t, ThreeDSDecoder{}, "bad.3ds", make3DS(obj), nil)
	if !errors.Is(err, ErrOutOfBounds) {
		t.Fatalf("error = %v, want ErrOutOfBounds", err)
	}
}

func TestThreeDSDecoder_Probe(t *testing.T) {
	d := ThreeDSDecoder{}
	if d.Probe(make3DS(), "") != MatchSignature {
		t.Error("3DS header should match")
	}
	if d.Probe(tdsChunk(chunkMain, tdsChunk(0x1234)), ".3ds") != MatchNone {
		t.Error("unknown first chunk should not match")
	}
}
