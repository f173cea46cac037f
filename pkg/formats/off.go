package formats

import (
	"strings"

	smath "github.com/Faultbox/scenekit/pkg/math"
	"github.com/Faultbox/scenekit/pkg/scene"
)

const offFormat = "off"

// OFFDecoder reads Object File Format meshes, including the ST, C and N
// prefixed variants.
type OFFDecoder struct{}

// Info describes the decoder.
func (OFFDecoder) Info() Info {
	return Info{Name: offFormat, Description: "Object File Format", Extensions: []string{".off"}}
}

// Probe checks the leading keyword.
func (OFFDecoder) Probe(header []byte, _ string) Match {
	sc := newLineScanner(header)
	for sc.next() {
		if sc.text == "" {
			continue
		}
		if _, ok := parseOFFKeyword(strings.Fields(sc.text)[0]); ok {
			return MatchSignature
		}
		return MatchNone
	}
	return MatchNone
}

type offLayout struct {
	texCoords, colors, normals, fourD bool
}

// parseOFFKeyword accepts [ST][C][N][4][n]OFF.
func parseOFFKeyword(tok string) (offLayout, bool) {
	var l offLayout
	if !strings.HasSuffix(tok, "OFF") {
		return l, false
	}
	prefix := strings.TrimSuffix(tok, "OFF")
	if strings.HasPrefix(prefix, "ST") {
		l.texCoords = true
		prefix = prefix[2:]
	}
	if strings.HasPrefix(prefix, "C") {
		l.colors = true
		prefix = prefix[1:]
	}
	if strings.HasPrefix(prefix, "N") {
		l.normals = true
		prefix = prefix[1:]
	}
	if strings.HasPrefix(prefix, "4") {
		l.fourD = true
		prefix = prefix[1:]
	}
	return l, prefix == ""
}

// offTokens streams whitespace-separated tokens, skipping comments.
type offTokens struct {
	sc   *lineScanner
	toks []string
}

func (t *offTokens) next() (string, bool) {
	for len(t.toks) == 0 {
		if !t.sc.next() {
			return "", false
		}
		t.toks = strings.Fields(t.sc.text)
	}
	tok := t.toks[0]
	t.toks = t.toks[1:]
	return tok, true
}

// restOfLine returns the tokens left on the current line.
func (t *offTokens) restOfLine() []string {
	rest := t.toks
	t.toks = nil
	return rest
}

func (t *offTokens) float() (float32, error) {
	tok, ok := t.next()
	if !ok {
		return 0, wrapf(ErrTruncated, "unexpected end of file")
	}
	return parseF32(tok)
}

func (t *offTokens) int() (int, error) {
	tok, ok := t.next()
	if !ok {
		return 0, wrapf(ErrTruncated, "unexpected end of file")
	}
	return parseInt(tok)
}

// Decode parses req.Data.
func (OFFDecoder) Decode(req *Request) (*scene.Scene, error) {
	toks := &offTokens{sc: newLineScanner(req.Data)}
	fail := func(err error) (*scene.Scene, error) {
		return nil, errLine(offFormat, max(toks.sc.line, 1), err)
	}

	kw, ok := toks.next()
	if !ok {
		return fail(wrapf(ErrTruncated, "empty file"))
	}
	layout, ok := parseOFFKeyword(kw)
	if !ok {
		return fail(ErrInvalidMagic)
	}
	if layout.fourD {
		return fail(wrapf(ErrUnsupportedVersion, "4D vertices"))
	}

	nv, err := toks.int()
	if err != nil {
		return fail(err)
	}
	nf, err := toks.int()
	if err != nil {
		return fail(err)
	}
	if _, err := toks.int(); err != nil {
		return fail(err)
	}

	// Every value needs at least one digit and one separator.
	left := int64(len(req.Data) - toks.sc.off)
	if nv < 0 || nf < 0 || int64(nv)*6 > left || int64(nf)*2 > left ||
		nv > req.maxElements() || nf > req.maxElements() {
		return fail(wrapf(ErrOutOfBounds, "%d vertices and %d faces in %d bytes", nv, nf, left))
	}
	if nv == 0 || nf == 0 {
		return fail(wrapf(ErrMalformed, "empty mesh"))
	}

	s := newScene(req, offFormat, kw)
	mesh := &scene.Mesh{Name: s.Name, Positions: make([]smath.Vec3, nv)}
	var colors []smath.Color4
	var uvs []smath.Vec3
	if layout.normals {
		mesh.Normals = make([]smath.Vec3, nv)
	}
	if layout.colors {
		colors = make([]smath.Color4, nv)
	}
	if layout.texCoords {
		uvs = make([]smath.Vec3, nv)
	}
	readVec := func(n int) ([]float32, error) {
		out := make([]float32, n)
		for i := range out {
			f, err := toks.float()
			if err != nil {
				return nil, err
			}
			out[i] = f
		}
		return out, nil
	}

	for i := 0; i < nv; i++ {
		p, err := readVec(3)
		if err != nil {
			return fail(err)
		}
		mesh.Positions[i] = smath.Vec3{X: p[0], Y: p[1], Z: p[2]}
		if layout.normals {
			n, err := readVec(3)
			if err != nil {
				return fail(err)
			}
			mesh.Normals[i] = smath.Vec3{X: n[0], Y: n[1], Z: n[2]}
		}
		if layout.colors {
			c, err := readVec(4)
			if err != nil {
				return fail(err)
			}
			colors[i] = offColor(c)
		}
		if layout.texCoords {
			uv, err := readVec(2)
			if err != nil {
				return fail(err)
			}
			uvs[i] = smath.Vec3{X: uv[0], Y: uv[1]}
		}
	}

	mesh.Faces = make([]scene.Face, 0, nf)
	for i := 0; i < nf; i++ {
		n, err := toks.int()
		if err != nil {
			return fail(err)
		}
		if n <= 0 || n > nv*4 || n > len(req.Data)-toks.sc.off+len(toks.toks) {
			return fail(wrapf(ErrOutOfBounds, "face %d has %d vertices", i, n))
		}
		idx := make([]int, n)
		for k := range idx {
			v, err := toks.int()
			if err != nil {
				return fail(err)
			}
			if v < 0 || v >= nv {
				return fail(wrapf(ErrOutOfBounds, "face %d index %d with %d vertices", i, v, nv))
			}
			idx[k] = v
		}
		// Optional per-face color on the rest of the line is ignored.
		toks.restOfLine()
		mesh.Faces = append(mesh.Faces, scene.Face{Indices: idx})
	}

	if colors != nil {
		mesh.Colors = [][]smath.Color4{colors}
	}
	if uvs != nil {
		mesh.AddTexCoords(uvs, 2)
	}
	s.AddMesh(mesh)
	attachMeshes(s)
	finishMeshes(s)
	return s, nil
}

// offColor interprets a color given as 0-255 integers or 0-1 floats.
func offColor(c []float32) smath.Color4 {
	scale := float32(1)
	for _, v := range c {
		if v > 1 {
			scale = 255
			break
		}
	}
	return smath.Color4{R: c[0] / scale, G: c[1] / scale, B: c[2] / scale, A: c[3] / scale}
}
