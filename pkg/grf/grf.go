// Package grf reads Ragnarok Online GRF archives. An open Archive serves
// its files to multi-file decoders through Resolve, so world files can
// pull their ground and model files straight out of the archive.
package grf

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/Faultbox/scenekit/pkg/encoding"
)

const (
	grfMagic   = "Master of Magic"
	headerSize = 46
	version200 = 0x200

	// entryFixedSize follows each NUL-terminated name in the file table.
	entryFixedSize = 17

	// maxTableSize bounds the inflated file table.
	maxTableSize = 1 << 28
	// maxFileSize bounds a single inflated entry.
	maxFileSize = 1 << 30
)

// Entry flags.
const (
	FlagFile       = 0x01
	FlagMixCrypt   = 0x02
	FlagDESHeader  = 0x04
	flagsEncrypted = FlagMixCrypt | FlagDESHeader
)

// Archive errors.
var (
	ErrInvalidMagic       = errors.New("grf: invalid magic")
	ErrUnsupportedVersion = errors.New("grf: unsupported version")
	ErrCorrupt            = errors.New("grf: corrupt archive")
	ErrNotFound           = errors.New("grf: file not found")
	ErrEncrypted          = errors.New("grf: encrypted entries are not supported")
)

// Header is the fixed 46-byte archive header.
type Header struct {
	Magic         [15]byte
	EncryptionKey [15]byte
	TableOffset   uint32
	Seed          uint32
	FileCount     uint32
	Version       uint32
}

// Entry describes one stored file. Name is UTF-8 with forward slashes,
// in the archive's original case.
type Entry struct {
	Name             string
	CompressedSize   uint32
	AlignedSize      uint32
	UncompressedSize uint32
	Flags            uint8
	Offset           uint32
}

// Encrypted reports whether the entry uses GRF DES encryption.
func (e *Entry) Encrypted() bool {
	return e.Flags&flagsEncrypted != 0
}

// Archive is an opened GRF archive. Reads go through io.ReaderAt, so one
// Archive may serve concurrent Read and Resolve calls.
type Archive struct {
	r       io.ReaderAt
	size    int64
	closer  io.Closer
	header  Header
	entries map[string]*Entry
}

// Open opens a GRF archive on disk.
func Open(path string) (*Archive, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat archive: %w", err)
	}
	a, err := newArchive(f, st.Size())
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	a.closer = f
	return a, nil
}

// OpenBytes opens an archive held in memory.
func OpenBytes(data []byte) (*Archive, error) {
	return newArchive(bytes.NewReader(data), int64(len(data)))
}

func newArchive(r io.ReaderAt, size int64) (*Archive, error) {
	a := &Archive{r: r, size: size, entries: make(map[string]*Entry)}
	if err := a.readHeader(); err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	if err := a.readFileTable(); err != nil {
		return nil, fmt.Errorf("reading file table: %w", err)
	}
	return a, nil
}

// Close releases the underlying file, if any.
func (a *Archive) Close() error {
	if a.closer != nil {
		return a.closer.Close()
	}
	return nil
}

// Header returns the archive header.
func (a *Archive) Header() Header {
	return a.header
}

func (a *Archive) readHeader() error {
	if a.size < headerSize {
		return fmt.Errorf("%w: %d bytes is shorter than the header", ErrCorrupt, a.size)
	}
	buf := make([]byte, headerSize)
	if _, err := a.r.ReadAt(buf, 0); err != nil {
		return err
	}
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &a.header); err != nil {
		return err
	}
	if string(a.header.Magic[:]) != grfMagic {
		return ErrInvalidMagic
	}
	if a.header.Version != version200 {
		return fmt.Errorf("%w: 0x%x", ErrUnsupportedVersion, a.header.Version)
	}
	return nil
}

func (a *Archive) readFileTable() error {
	tableOffset := int64(a.header.TableOffset) + headerSize
	if tableOffset+8 > a.size {
		return fmt.Errorf("%w: table offset %d past end of file", ErrCorrupt, tableOffset)
	}
	var sizes [8]byte
	if _, err := a.r.ReadAt(sizes[:], tableOffset); err != nil {
		return err
	}
	compressedSize := binary.LittleEndian.Uint32(sizes[0:])
	uncompressedSize := binary.LittleEndian.Uint32(sizes[4:])
	if int64(compressedSize) > a.size-tableOffset-8 {
		return fmt.Errorf("%w: table of %d bytes exceeds file", ErrCorrupt, compressedSize)
	}
	if uncompressedSize > maxTableSize {
		return fmt.Errorf("%w: table of %d bytes exceeds limit", ErrCorrupt, uncompressedSize)
	}

	compressed := make([]byte, compressedSize)
	if _, err := a.r.ReadAt(compressed, tableOffset+8); err != nil {
		return err
	}
	table, err := inflate(compressed, uncompressedSize)
	if err != nil {
		return fmt.Errorf("inflating table: %w", err)
	}

	if a.header.FileCount < a.header.Seed+7 {
		return fmt.Errorf("%w: file count %d below seed", ErrCorrupt, a.header.FileCount)
	}
	fileCount := a.header.FileCount - a.header.Seed - 7

	off := 0
	for i := uint32(0); i < fileCount; i++ {
		nameEnd := bytes.IndexByte(table[off:], 0)
		if nameEnd < 0 {
			return fmt.Errorf("%w: entry %d: unterminated name", ErrCorrupt, i)
		}
		rawName := table[off : off+nameEnd]
		off += nameEnd + 1
		if off+entryFixedSize > len(table) {
			return fmt.Errorf("%w: entry %d truncated", ErrCorrupt, i)
		}

		e := &Entry{
			Name:             encoding.EUCKR.Decode(bytes.ReplaceAll(rawName, []byte{'\\'}, []byte{'/'})),
			CompressedSize:   binary.LittleEndian.Uint32(table[off:]),
			AlignedSize:      binary.LittleEndian.Uint32(table[off+4:]),
			UncompressedSize: binary.LittleEndian.Uint32(table[off+8:]),
			Flags:            table[off+12],
			Offset:           binary.LittleEndian.Uint32(table[off+13:]),
		}
		off += entryFixedSize

		// directories and deleted entries have no FILE bit
		if e.Flags&FlagFile != 0 {
			a.entries[encoding.NormalizePath(e.Name)] = e
		}
	}
	return nil
}

// Len returns the number of files in the archive.
func (a *Archive) Len() int {
	return len(a.entries)
}

// List returns all file paths in the archive, sorted.
func (a *Archive) List() []string {
	result := make([]string, 0, len(a.entries))
	for _, e := range a.entries {
		result = append(result, e.Name)
	}
	slices.Sort(result)
	return result
}

// Stat returns the entry for path. Lookup ignores case and slash style.
func (a *Archive) Stat(path string) (*Entry, bool) {
	e, ok := a.entries[encoding.NormalizePath(path)]
	return e, ok
}

// Contains reports whether path exists.
func (a *Archive) Contains(path string) bool {
	_, ok := a.Stat(path)
	return ok
}

// Read returns the inflated contents of path.
func (a *Archive) Read(path string) ([]byte, error) {
	e, ok := a.Stat(path)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if e.Encrypted() {
		return nil, fmt.Errorf("%w: %s", ErrEncrypted, e.Name)
	}
	if e.CompressedSize > e.AlignedSize || e.UncompressedSize > maxFileSize {
		return nil, fmt.Errorf("%w: %s: inconsistent sizes", ErrCorrupt, e.Name)
	}
	dataOffset := int64(e.Offset) + headerSize
	if dataOffset+int64(e.CompressedSize) > a.size {
		return nil, fmt.Errorf("%w: %s: data past end of file", ErrCorrupt, e.Name)
	}

	stored := make([]byte, e.CompressedSize)
	if _, err := a.r.ReadAt(stored, dataOffset); err != nil {
		return nil, fmt.Errorf("reading %s: %w", e.Name, err)
	}
	if e.CompressedSize == e.UncompressedSize {
		return stored, nil
	}
	data, err := inflate(stored, e.UncompressedSize)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", e.Name, err)
	}
	return data, nil
}

// Resolve reads a file referenced by name from another asset. It lets an
// Archive serve as a formats.Resolver.
func (a *Archive) Resolve(name string) ([]byte, error) {
	return a.Read(name)
}

// inflate decompresses a zlib stream that must produce exactly size bytes.
func inflate(compressed []byte, size uint32) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	defer zr.Close()

	out := make([]byte, size)
	if _, err := io.ReadFull(zr, out); err != nil {
		return nil, fmt.Errorf("%w: inflated data shorter than %d bytes: %w", ErrCorrupt, size, err)
	}
	return out, nil
}
