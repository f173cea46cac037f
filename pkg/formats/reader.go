package formats

import (
	"encoding/binary"
	"math"

	"github.com/Faultbox/scenekit/pkg/encoding"
	smath "github.com/Faultbox/scenekit/pkg/math"
)

// reader is a bounds-checked cursor over a byte slice. The first failure
// is sticky: later reads return zero values and Err reports the original
// failure with its offset.
type reader struct {
	format string
	data   []byte
	off    int
	order  binary.ByteOrder
	err    error
}

func newReader(format string, data []byte) *reader {
	return &reader{format: format, data: data, order: binary.LittleEndian}
}

// Err returns the first failure, if any.
func (r *reader) Err() error {
	return r.err
}

// fail records err at the current offset unless a failure is already set.
func (r *reader) fail(err error) {
	if r.err == nil {
		r.err = errAt(r.format, r.off, err)
	}
}

func (r *reader) remaining() int {
	return len(r.data) - r.off
}

func (r *reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if n < 0 || n > r.remaining() {
		r.fail(wrapf(ErrTruncated, "need %d bytes, have %d", n, r.remaining()))
		return false
	}
	return true
}

// count validates a declared element count against the bytes left, so
// that absurd counts fail before anything is allocated.
func (r *reader) count(n int64, elemSize int, what string) int {
	if r.err != nil {
		return 0
	}
	if n < 0 {
		r.fail(wrapf(ErrOutOfBounds, "negative %s count %d", what, n))
		return 0
	}
	if elemSize > 0 && n > int64(r.remaining()/elemSize) {
		r.fail(wrapf(ErrOutOfBounds, "%d %s of %d bytes with %d bytes left", n, what, elemSize, r.remaining()))
		return 0
	}
	return int(n)
}

func (r *reader) bytes(n int) []byte {
	if !r.need(n) {
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) skip(n int) {
	if r.need(n) {
		r.off += n
	}
}

// seek moves to an absolute offset.
func (r *reader) seek(off int) {
	if r.err != nil {
		return
	}
	if off < 0 || off > len(r.data) {
		r.fail(wrapf(ErrOutOfBounds, "offset %d outside %d byte buffer", off, len(r.data)))
		return
	}
	r.off = off
}

func (r *reader) u8() uint8 {
	if !r.need(1) {
		return 0
	}
	v := r.data[r.off]
	r.off++
	return v
}

func (r *reader) u16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := r.order.Uint16(r.data[r.off:])
	r.off += 2
	return v
}

func (r *reader) i16() int16 {
	return int16(r.u16())
}

func (r *reader) u32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := r.order.Uint32(r.data[r.off:])
	r.off += 4
	return v
}

func (r *reader) i32() int32 {
	return int32(r.u32())
}

func (r *reader) u64() uint64 {
	if !r.need(8) {
		return 0
	}
	v := r.order.Uint64(r.data[r.off:])
	r.off += 8
	return v
}

func (r *reader) f32() float32 {
	return math.Float32frombits(r.u32())
}

func (r *reader) f64() float64 {
	return math.Float64frombits(r.u64())
}

func (r *reader) vec3() smath.Vec3 {
	return smath.Vec3{X: r.f32(), Y: r.f32(), Z: r.f32()}
}

// str reads a fixed-size NUL-padded name.
func (r *reader) str(n int, cs encoding.Charset) string {
	b := r.bytes(n)
	if b == nil {
		return ""
	}
	return cs.FixedString(b)
}

// cstr reads a NUL-terminated string of at most max bytes.
func (r *reader) cstr(max int, cs encoding.Charset) string {
	if r.err != nil {
		return ""
	}
	end := r.off
	for end < len(r.data) && end-r.off < max && r.data[end] != 0 {
		end++
	}
	if end >= len(r.data) || r.data[end] != 0 {
		r.fail(wrapf(ErrTruncated, "unterminated string"))
		return ""
	}
	s := cs.Decode(r.data[r.off:end])
	r.off = end + 1
	return s
}
