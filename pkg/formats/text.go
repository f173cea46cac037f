package formats

import (
	"bytes"
	"strconv"
	"strings"

	smath "github.com/Faultbox/scenekit/pkg/math"
)

// lineScanner iterates the lines of a text format without copying the
// buffer, tracking 1-based line numbers for error reporting.
type lineScanner struct {
	data []byte
	off  int
	line int
	text string
}

func newLineScanner(data []byte) *lineScanner {
	return &lineScanner{data: data}
}

// next advances to the next line, returning false at end of input.
// Comments starting with '#' and surrounding blanks are stripped.
func (s *lineScanner) next() bool {
	if s.off >= len(s.data) {
		return false
	}
	end := bytes.IndexByte(s.data[s.off:], '\n')
	var raw []byte
	if end < 0 {
		raw = s.data[s.off:]
		s.off = len(s.data)
	} else {
		raw = s.data[s.off : s.off+end]
		s.off += end + 1
	}
	s.line++
	if i := bytes.IndexByte(raw, '#'); i >= 0 {
		raw = raw[:i]
	}
	s.text = strings.TrimSpace(string(raw))
	return true
}

func parseF32(tok string) (float32, error) {
	f, err := strconv.ParseFloat(tok, 32)
	if err != nil {
		return 0, wrapf(ErrMalformed, "bad number %q", tok)
	}
	return float32(f), nil
}

// parseFloats parses every token as float32.
func parseFloats(toks []string) ([]float32, error) {
	out := make([]float32, len(toks))
	for i, t := range toks {
		f, err := parseF32(t)
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}

// parseVec3 parses up to three leading tokens, filling missing components
// with def.
func parseVec3(toks []string, def float32) (smath.Vec3, error) {
	v := [3]float32{def, def, def}
	for i := 0; i < 3 && i < len(toks); i++ {
		f, err := parseF32(toks[i])
		if err != nil {
			return smath.Vec3{}, err
		}
		v[i] = f
	}
	return smath.Vec3{X: v[0], Y: v[1], Z: v[2]}, nil
}

func parseInt(tok string) (int, error) {
	n, err := strconv.Atoi(tok)
	if err != nil {
		return 0, wrapf(ErrMalformed, "bad integer %q", tok)
	}
	return n, nil
}
