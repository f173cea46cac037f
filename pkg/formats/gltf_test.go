package formats

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/png"
	"testing"

	"github.com/Faultbox/scenekit/pkg/scene"
)

// triangleBuffer holds three float positions followed by three uint16
// indices, padded to 44 bytes.
func triangleBuffer(indices ...uint16) []byte {
	b := &bin{}
	b.f32(0, 0, 0, 1, 0, 0, 0, 1, 0)
	b.u16(indices...).zero(2)
	return b.bytes()
}

func dataURI(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func tinyPNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return buf.Bytes()
}

// gltfDoc renders a one-triangle document. bufferURI is empty for GLB.
func gltfDoc(bufferURI, imageURI string, posCount int) string {
	uri := ""
	if bufferURI != "" {
		uri = fmt.Sprintf(`,"uri":%q`, bufferURI)
	}
	images := ""
	if imageURI != "" {
		images = fmt.Sprintf(`,"textures":[{"source":0}],"images":[{"uri":%q}]`, imageURI)
	}
	return `{
  "asset": {"version": "2.0"},
  "scene": 0,
  "scenes": [{"nodes": [0]}],
  "nodes": [
    {"name": "pivot", "translation": [1, 2, 3], "children": [1, 2]},
    {"name": "tri", "mesh": 0},
    {"name": "eye", "camera": 0}
  ],
  "cameras": [{"type": "perspective", "perspective": {"yfov": 1.0, "znear": 0.1, "aspectRatio": 1.0}}],
  "meshes": [{"name": "tri", "primitives": [{"attributes": {"POSITION": 0}, "indices": 1, "material": 0}]}],
  "materials": [{"name": "paint", "doubleSided": true,
    "pbrMetallicRoughness": {"baseColorFactor": [1, 0, 0, 1], "metallicFactor": 0.5, "baseColorTexture": {"index": 0}}}]` + images + `,
  "accessors": [
    {"bufferView": 0, "componentType": 5126, "count": ` + fmt.Sprint(posCount) + `, "type": "VEC3", "min": [0, 0, 0], "max": [1, 1, 0]},
    {"bufferView": 1, "componentType": 5123, "count": 3, "type": "SCALAR"}
  ],
  "bufferViews": [
    {"buffer": 0, "byteOffset": 0, "byteLength": 36},
    {"buffer": 0, "byteOffset": 36, "byteLength": 6}
  ],
  "buffers": [{"byteLength": 44` + uri + `}]
}`
}

func TestGLTFDecoder_Embedded(t *testing.T) {
	doc := gltfDoc(dataURI("application/octet-stream", triangleBuffer(0, 1, 2)), dataURI("image/png", tinyPNG(t)), 3)
	s, err := decodeWith(t, GLTFDecoder{}, "tri.gltf", []byte(doc), nil)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if s.Metadata[scene.MetaVersion] != "2.0" {
		t.Errorf("version = %q", s.Metadata[scene.MetaVersion])
	}

	pivot := s.FindNode("pivot")
	if pivot == nil {
		t.Fatal("pivot node missing")
	}
	if p := pivot.Transform.Translation(); p.X != 1 || p.Y != 2 || p.Z != 3 {
		t.Errorf("pivot translation = %v", p)
	}
	tri := s.FindNode("tri")
	if tri == nil || tri.Parent() != pivot || len(tri.Meshes) != 1 {
		t.Fatalf("tri node = %+v", tri)
	}

	m := s.Meshes[0]
	if m.NumVertices() != 3 || len(m.Faces) != 1 || m.Positions[1].X != 1 {
		t.Errorf("mesh has %d vertices and %d faces", m.NumVertices(), len(m.Faces))
	}

	mat := s.Materials[m.MaterialIndex]
	if mat.Name() != "paint" {
		t.Errorf("material = %q, want paint", mat.Name())
	}
	if c, ok := mat.Color(scene.KeyBaseColor); !ok || c.R != 1 || c.G != 0 {
		t.Errorf("base color = %v, %v", c, ok)
	}
	if f, _ := mat.Float(scene.KeyMetallic); f != 0.5 {
		t.Errorf("metallic = %v", f)
	}
	ref, ok := mat.Texture(scene.TextureBaseColor, 0)
	if !ok || ref.Path != scene.EmbeddedRef(0) {
		t.Fatalf("base color texture = %+v, %v", ref, ok)
	}
	emb := s.Textures[0].Embedded
	if emb == nil || emb.FormatHint != scene.HintPNG || emb.Width != 2 || !emb.Compressed {
		t.Errorf("embedded image = %+v", emb)
	}

	if len(s.Cameras) != 1 || s.Cameras[0].Name != "eye" {
		t.Errorf("cameras = %+v", s.Cameras)
	}
}

func TestGLTFDecoder_ExternalFiles(t *testing.T) {
	doc := gltfDoc("tri%20data.bin", "textures/wood.png", 3)
	files := MapResolver{"tri data.bin": triangleBuffer(0, 1, 2)}
	s, err := decodeWith(t, GLTFDecoder{}, "tri.gltf", []byte(doc), files)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(s.Meshes) != 1 || len(s.Meshes[0].Positions) != 3 {
		t.Fatalf("external buffer not used: %d meshes", len(s.Meshes))
	}
	if p := s.Meshes[0].Positions[1]; p.X != 1 || p.Y != 0 {
		t.Errorf("position 1 = %+v, want (1,0,0)", p)
	}
	// external images stay as paths
	if len(s.Textures) != 1 || s.Textures[0].Path != "textures/wood.png" {
		t.Errorf("textures = %+v", s.Textures)
	}
	ref, _ := s.Materials[0].Texture(scene.TextureDiffuse, 0)
	if ref.Path != "textures/wood.png" {
		t.Errorf("diffuse path = %q", ref.Path)
	}
}

func TestGLTFDecoder_Errors(t *testing.T) {
	buffer := dataURI("application/octet-stream", triangleBuffer(0, 1, 2))
	tests := []struct {
		name    string
		doc     string
		files   MapResolver
		wantErr error
	}{
		{"missing buffer", gltfDoc("tri.bin", "", 3), nil, ErrReferenceUnresolved},
		{"short buffer", gltfDoc("tri.bin", "", 3), MapResolver{"tri.bin": make([]byte, 10)}, ErrTruncated},
		{"index past end", gltfDoc(dataURI("application/octet-stream", triangleBuffer(0, 1, 5)), "", 3), nil, ErrOutOfBounds},
		{"accessor past view", gltfDoc(buffer, "", 10), nil, ErrOutOfBounds},
		{"wrong json type", `{"asset": 5}`, nil, ErrMalformed},
		{"no meshes", `{"asset": {"version": "2.0"}}`, nil, ErrMalformed},
		{
			"node cycle",
			`{"asset": {"version": "2.0"}, "scenes": [{"nodes": [0]}], "nodes": [{"children": [1]}, {"children": [0]}]}`,
			nil, ErrMalformed,
		},
		{"bad scene index", `{"asset": {"version": "2.0"}, "scene": 3, "scenes": [{"nodes": []}]}`, nil, ErrOutOfBounds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeWith(t, GLTFDecoder{}, "bad.gltf", []byte(tt.doc), tt.files)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// makeGLB packs a JSON document and binary chunk into a GLB container.
func makeGLB(doc string, payload []byte) []byte {
	js := []byte(doc)
	for len(js)%4 != 0 {
		js = append(js, ' ')
	}
	total := 12 + 8 + len(js) + 8 + len(payload)
	out := &bin{}
	out.raw(glbMagic).u32(2, uint32(total))
	out.u32(uint32(len(js)), 0x4E4F534A).raw(js)
	out.u32(uint32(len(payload)), 0x004E4942).raw(payload)
	return out.bytes()
}

func TestGLBDecoder(t *testing.T) {
	data := makeGLB(gltfDoc("", "", 3), triangleBuffer(0, 1, 2))
	if (GLBDecoder{}).Probe(data, "") != MatchSignature {
		t.Fatal("GLB magic should match")
	}
	s, err := decodeWith(t, GLBDecoder{}, "tri.glb", data, nil)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(s.Meshes) != 1 || s.Metadata[scene.MetaFormat] != "glb" {
		t.Errorf("got %d meshes, format %q", len(s.Meshes), s.Metadata[scene.MetaFormat])
	}

	_, err = decodeWith(t, GLBDecoder{}, "short.glb", data[:8], nil)
	if !errors.Is(err, ErrTruncated) {
		t.Errorf("short container error = %v, want ErrTruncated", err)
	}
	_, err = decodeWith(t, GLBDecoder{}, "cut.glb", data[:len(data)/2], nil)
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Errorf("cut container error = %v, want a *DecodeError", err)
	}
}

func TestGLTFDecoder_Probe(t *testing.T) {
	if (GLTFDecoder{}).Probe([]byte(`{"asset":{}}`), ".gltf") != MatchExtension {
		t.Error(".gltf should match by extension")
	}
	if (GLTFDecoder{}).Probe([]byte(`{"asset":{}}`), ".json") != MatchNone {
		t.Error("plain JSON should not match")
	}
}
