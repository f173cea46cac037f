package grf

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/Faultbox/scenekit/pkg/encoding"
)

// Writer builds a version 0x200 archive in memory. Entries are written in
// the order they were added.
type Writer struct {
	body  bytes.Buffer
	table bytes.Buffer
	names map[string]bool
	count int
}

// NewWriter returns an empty archive writer.
func NewWriter() *Writer {
	return &Writer{names: make(map[string]bool)}
}

// Add compresses data and stores it under name. Names are stored with
// backslashes in EUC-KR, like the client archives.
func (w *Writer) Add(name string, data []byte) error {
	key := encoding.NormalizePath(name)
	if key == "" {
		return fmt.Errorf("grf: empty entry name")
	}
	if w.names[key] {
		return fmt.Errorf("grf: duplicate entry %q", name)
	}
	if uint64(len(data)) > maxFileSize {
		return fmt.Errorf("grf: %s: %d bytes exceeds the entry limit", name, len(data))
	}

	compressed, err := compress(data)
	if err != nil {
		return fmt.Errorf("grf: %s: %w", name, err)
	}
	aligned := (len(compressed) + 7) &^ 7
	offset := uint32(w.body.Len())
	w.body.Write(compressed)
	w.body.Write(make([]byte, aligned-len(compressed)))

	w.table.Write(encoding.UTF8ToEUCKR(strings.ReplaceAll(name, "/", "\\")))
	w.table.WriteByte(0)
	var fixed [entryFixedSize]byte
	binary.LittleEndian.PutUint32(fixed[0:], uint32(len(compressed)))
	binary.LittleEndian.PutUint32(fixed[4:], uint32(aligned))
	binary.LittleEndian.PutUint32(fixed[8:], uint32(len(data)))
	fixed[12] = FlagFile
	binary.LittleEndian.PutUint32(fixed[13:], offset)
	w.table.Write(fixed[:])

	w.names[key] = true
	w.count++
	return nil
}

// Len returns the number of entries added.
func (w *Writer) Len() int {
	return w.count
}

// WriteTo writes the finished archive.
func (w *Writer) WriteTo(out io.Writer) (int64, error) {
	table, err := compress(w.table.Bytes())
	if err != nil {
		return 0, fmt.Errorf("grf: compressing table: %w", err)
	}

	hdr := Header{
		TableOffset: uint32(w.body.Len()),
		FileCount:   uint32(w.count) + 7,
		Version:     version200,
	}
	copy(hdr.Magic[:], grfMagic)

	var buf bytes.Buffer
	buf.Grow(headerSize + w.body.Len() + 8 + len(table))
	if err := binary.Write(&buf, binary.LittleEndian, hdr); err != nil {
		return 0, err
	}
	buf.Write(w.body.Bytes())
	var sizes [8]byte
	binary.LittleEndian.PutUint32(sizes[0:], uint32(len(table)))
	binary.LittleEndian.PutUint32(sizes[4:], uint32(w.table.Len()))
	buf.Write(sizes[:])
	buf.Write(table)
	return buf.WriteTo(out)
}

// Bytes returns the finished archive.
func (w *Writer) Bytes() []byte {
	var buf bytes.Buffer
	_, _ = w.WriteTo(&buf)
	return buf.Bytes()
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
