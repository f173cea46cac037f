package formats

import (
	"context"
	"encoding/binary"
	"math"
	"testing"

	"github.com/Faultbox/scenekit/pkg/scene"
)

// bin builds little-endian test fixtures.
type bin struct {
	buf []byte
}

func (b *bin) u8(v ...uint8) *bin {
	b.buf = append(b.buf, v...)
	return b
}

func (b *bin) u16(v ...uint16) *bin {
	for _, x := range v {
		b.buf = binary.LittleEndian.AppendUint16(b.buf, x)
	}
	return b
}

func (b *bin) i16(v ...int16) *bin {
	for _, x := range v {
		b.buf = binary.LittleEndian.AppendUint16(b.buf, uint16(x))
	}
	return b
}

func (b *bin) u32(v ...uint32) *bin {
	for _, x := range v {
		b.buf = binary.LittleEndian.AppendUint32(b.buf, x)
	}
	return b
}

func (b *bin) i32(v ...int32) *bin {
	for _, x := range v {
		b.buf = binary.LittleEndian.AppendUint32(b.buf, uint32(x))
	}
	return b
}

func (b *bin) f32(v ...float32) *bin {
	for _, x := range v {
		b.buf = binary.LittleEndian.AppendUint32(b.buf, math.Float32bits(x))
	}
	return b
}

func (b *bin) raw(p []byte) *bin {
	b.buf = append(b.buf, p...)
	return b
}

// str writes s NUL-padded to n bytes.
func (b *bin) str(s string, n int) *bin {
	field := make([]byte, n)
	copy(field, s)
	b.buf = append(b.buf, field...)
	return b
}

func (b *bin) zero(n int) *bin {
	b.buf = append(b.buf, make([]byte, n)...)
	return b
}

func (b *bin) bytes() []byte {
	return b.buf
}

// decodeWith runs d on data and checks the structural invariants of any
// scene it returns.
func decodeWith(t *testing.T, d Decoder, name string, data []byte, files MapResolver) (*scene.Scene, error) {
	t.Helper()
	req := NewRequest(context.Background(), name, data)
	if files != nil {
		req.Resolver = files
	}
	s, err := d.Decode(req)
	if err != nil {
		if s != nil {
			t.Errorf("Decode(%s) returned a scene together with error %v", name, err)
		}
		return nil, err
	}
	if verr := scene.Validate(s); verr != nil {
		t.Fatalf("Decode(%s) produced an invalid scene: %v", name, verr)
	}
	return s, nil
}
