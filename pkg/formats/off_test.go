package formats

import (
	"errors"
	"testing"

	"github.com/Faultbox/scenekit/pkg/scene"
)

func TestOFFDecoder(t *testing.T) {
	tests := []struct {
		name      string
		src       string
		vertices  int
		faces     int
		normals   bool
		colors    bool
		texCoords bool
	}{
		{
			name:     "plain quad",
			src:      "OFF\n# unit square\n4 1 0\n0 0 0\n1 0 0\n1 1 0\n0 1 0\n4 0 1 2 3\n",
			vertices: 4, faces: 1,
		},
		{
			name:     "counts on keyword line",
			src:      "OFF 3 1 3\n0 0 0\n1 0 0\n0 1 0\n3 0 1 2 255 0 0\n",
			vertices: 3, faces: 1,
		},
		{
			name:     "colors",
			src:      "COFF\n3 1 0\n0 0 0 255 0 0 255\n1 0 0 0 255 0 255\n0 1 0 0 0 255 255\n3 0 1 2\n",
			vertices: 3, faces: 1, colors: true,
		},
		{
			name:     "normals and uvs",
			src:      "STNOFF\n3 1 0\n0 0 0 0 0 1 0 0\n1 0 0 0 0 1 1 0\n0 1 0 0 0 1 0 1\n3 0 1 2\n",
			vertices: 3, faces: 1, normals: true, texCoords: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := decodeWith(t, OFFDecoder{}, "shape.off", []byte(tt.src), nil)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			m := s.Meshes[0]
			if m.NumVertices() != tt.vertices || len(m.Faces) != tt.faces {
				t.Errorf("got %d vertices and %d faces", m.NumVertices(), len(m.Faces))
			}
			if m.HasNormals() != tt.normals {
				t.Errorf("HasNormals() = %v", m.HasNormals())
			}
			if (len(m.Colors) == 1) != tt.colors {
				t.Errorf("got %d color sets", len(m.Colors))
			}
			if m.HasTexCoords(0) != tt.texCoords {
				t.Errorf("HasTexCoords(0) = %v", m.HasTexCoords(0))
			}
		})
	}
}

func TestOFFDecoder_ColorScale(t *testing.T) {
	src := "COFF\n3 1 0\n0 0 0 255 0 0 255\n1 0 0 0 1 0 1\n0 1 0 0 0 0.5 1\n3 0 1 2\n"
	s, err := decodeWith(t, OFFDecoder{}, "tri.off", []byte(src), nil)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	cols := s.Meshes[0].Colors[0]
	if cols[0].R != 1 || cols[1].G != 1 || cols[2].B != 0.5 {
		t.Errorf("colors = %v", cols)
	}
	if s.Metadata[scene.MetaVersion] != "COFF" {
		t.Errorf("version = %q, want COFF", s.Metadata[scene.MetaVersion])
	}
}

func TestOFFDecoder_Errors(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		wantErr error
		line    int
	}{
		{"empty", "", ErrTruncated, 1},
		{"bad keyword", "BOFF\n3 1 0\n", ErrInvalidMagic, 1},
		{"4D", "4OFF\n3 1 0\n", ErrUnsupportedVersion, 1},
		{"absurd counts", "OFF\n1000 1 0\n0 0 0\n", ErrOutOfBounds, 2},
		{"no faces", "OFF\n3 0 0\n0 0 0\n1 0 0\n0 1 0\n", ErrMalformed, 2},
		{"missing vertex", "OFF\n3 1 0\n0.0 0.0 0.0\n1.0 0.0 0.0\n", ErrTruncated, 4},
		{"index past end", "OFF\n3 1 0\n0 0 0\n1 0 0\n0 1 0\n3 0 1 7\n", ErrOutOfBounds, 6},
		{"bad number", "OFF\n3 1 0\n0 0 0\n1 x 0\n0 1 0\n3 0 1 2\n", ErrMalformed, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeWith(t, OFFDecoder{}, "bad.off", []byte(tt.src), nil)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			var de *DecodeError
			if errors.As(err, &de) && de.Line != tt.line {
				t.Errorf("line = %d, want %d", de.Line, tt.line)
			}
		})
	}
}

func TestOFFDecoder_Probe(t *testing.T) {
	d := OFFDecoder{}
	for _, h := range []string{"OFF\n", "\n# c\nCOFF\n", "NOFF 3 1 0"} {
		if d.Probe([]byte(h), "") != MatchSignature {
			t.Errorf("Probe(%q) should match", h)
		}
	}
	if d.Probe([]byte("PLY\n"), ".off") != MatchNone {
		t.Error("OFF relies on its keyword, not the extension")
	}
}
