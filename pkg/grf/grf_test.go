package grf

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/Faultbox/scenekit/pkg/encoding"
	"github.com/Faultbox/scenekit/pkg/formats"
)

var _ formats.Resolver = (*Archive)(nil)

type testFile struct {
	name    string
	content []byte
	flags   uint8
	stored  bool
	dir     bool
}

// buildGRF lays out a version 0x200 archive: header, 8-byte aligned file
// data, then the zlib-compressed file table. Names are written in EUC-KR
// with backslashes like the original client archives.
func buildGRF(t *testing.T, files ...testFile) []byte {
	t.Helper()
	var body bytes.Buffer
	var table bytes.Buffer
	for _, f := range files {
		payload := f.content
		if !f.stored {
			payload = deflate(t, f.content)
		}
		aligned := (len(payload) + 7) &^ 7
		offset := uint32(body.Len())
		body.Write(payload)
		body.Write(make([]byte, aligned-len(payload)))

		flags := f.flags
		switch {
		case f.dir:
			flags = 0
		case flags == 0:
			flags = FlagFile
		}
		table.Write(bytes.ReplaceAll(encoding.UTF8ToEUCKR(f.name), []byte("/"), []byte("\\")))
		table.WriteByte(0)
		binary.Write(&table, binary.LittleEndian, uint32(len(payload)))
		binary.Write(&table, binary.LittleEndian, uint32(aligned))
		binary.Write(&table, binary.LittleEndian, uint32(len(f.content)))
		table.WriteByte(flags)
		binary.Write(&table, binary.LittleEndian, offset)
	}

	header := Header{
		TableOffset: uint32(body.Len()),
		FileCount:   uint32(len(files)) + 7,
		Version:     version200,
	}
	copy(header.Magic[:], grfMagic)

	var out bytes.Buffer
	binary.Write(&out, binary.LittleEndian, header)
	out.Write(body.Bytes())
	compressedTable := deflate(t, table.Bytes())
	binary.Write(&out, binary.LittleEndian, uint32(len(compressedTable)))
	binary.Write(&out, binary.LittleEndian, uint32(table.Len()))
	out.Write(compressedTable)
	return out.Bytes()
}

func deflate(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		t.Fatalf("deflate: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("deflate: %v", err)
	}
	return buf.Bytes()
}

func testArchive(t *testing.T) []byte {
	return buildGRF(t,
		testFile{name: "data/model/Tree.rsm", content: []byte("GRSM model bytes")},
		testFile{name: "data/texture/wall.bmp", content: []byte("BM raw"), stored: true},
		testFile{name: "data/texture/벽.bmp", content: []byte("korean name")},
		testFile{name: "data/texture", dir: true},
		testFile{name: "data/secret.txt", content: []byte("hidden"), flags: FlagFile | FlagMixCrypt},
	)
}

func TestOpenBytes(t *testing.T) {
	a, err := OpenBytes(testArchive(t))
	if err != nil {
		t.Fatalf("OpenBytes failed: %v", err)
	}
	defer a.Close()

	if a.Header().Version != version200 {
		t.Errorf("version = 0x%x", a.Header().Version)
	}
	// the directory entry has no FILE flag
	if a.Len() != 4 {
		t.Errorf("Len = %d, want 4", a.Len())
	}
	want := []string{"data/model/Tree.rsm", "data/secret.txt", "data/texture/wall.bmp", "data/texture/벽.bmp"}
	if got := a.List(); !slices.Equal(got, want) {
		t.Errorf("List = %v, want %v", got, want)
	}
}

func TestArchive_Read(t *testing.T) {
	a, err := OpenBytes(testArchive(t))
	if err != nil {
		t.Fatalf("OpenBytes failed: %v", err)
	}

	tests := []struct {
		path string
		want string
	}{
		{"data/model/Tree.rsm", "GRSM model bytes"},
		{`DATA\MODEL\tree.RSM`, "GRSM model bytes"},
		{"data/texture/wall.bmp", "BM raw"},
		{"data/texture/벽.bmp", "korean name"},
	}
	for _, tt := range tests {
		data, err := a.Read(tt.path)
		if err != nil {
			t.Errorf("Read(%q) error: %v", tt.path, err)
			continue
		}
		if string(data) != tt.want {
			t.Errorf("Read(%q) = %q, want %q", tt.path, data, tt.want)
		}
	}

	if _, err := a.Read("data/missing.txt"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing file error = %v, want ErrNotFound", err)
	}
	if _, err := a.Read("data/secret.txt"); !errors.Is(err, ErrEncrypted) {
		t.Errorf("encrypted file error = %v, want ErrEncrypted", err)
	}
	if !a.Contains("Data/Texture/Wall.bmp") || a.Contains("data/texture") {
		t.Error("Contains should ignore case and skip directories")
	}
}

func TestArchive_CorruptEntry(t *testing.T) {
	data := buildGRF(t, testFile{name: "a.txt", content: bytes.Repeat([]byte("a"), 64)})
	a, err := OpenBytes(data)
	if err != nil {
		t.Fatalf("OpenBytes failed: %v", err)
	}
	e, _ := a.Stat("a.txt")
	e.Offset = 1 << 20
	if _, err := a.Read("a.txt"); !errors.Is(err, ErrCorrupt) {
		t.Errorf("out of range offset error = %v, want ErrCorrupt", err)
	}
	e.Offset = 0
	e.UncompressedSize = 1000
	if _, err := a.Read("a.txt"); !errors.Is(err, ErrCorrupt) {
		t.Errorf("short inflate error = %v, want ErrCorrupt", err)
	}
}

func TestOpenBytes_Errors(t *testing.T) {
	valid := buildGRF(t, testFile{name: "a.txt", content: []byte("a")})
	patch := func(off int, v uint32) []byte {
		out := bytes.Clone(valid)
		binary.LittleEndian.PutUint32(out[off:], v)
		return out
	}

	tests := []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{"short", valid[:20], ErrCorrupt},
		{"magic", append([]byte("Master of Magix"), valid[15:]...), ErrInvalidMagic},
		{"version", patch(42, 0x103), ErrUnsupportedVersion},
		{"table offset", patch(30, 1<<20), ErrCorrupt},
		{"file count below seed", patch(38, 3), ErrCorrupt},
		{"more files than table", patch(38, 20), ErrCorrupt},
		{"truncated table", valid[:len(valid)-4], ErrCorrupt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := OpenBytes(tt.data)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.grf")
	if err := os.WriteFile(path, testArchive(t), 0o644); err != nil {
		t.Fatal(err)
	}
	a, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if data, err := a.Read("data/model/tree.rsm"); err != nil || len(data) == 0 {
		t.Errorf("Read = %q, %v", data, err)
	}
	if err := a.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}

	if _, err := Open(filepath.Join(t.TempDir(), "missing.grf")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing archive error = %v", err)
	}
}

func TestArchive_ServesDecoderReferences(t *testing.T) {
	obj := "mtllib shared.mtl\nv 0 0 0\nv 1 0 0\nv 0 1 0\nusemtl stone\nf 1 2 3\n"
	mtl := "newmtl stone\nKd 0.5 0.5 0.5\nmap_Kd stone.bmp\n"
	a, err := OpenBytes(buildGRF(t, testFile{name: "data/Shared.mtl", content: []byte(mtl)}))
	if err != nil {
		t.Fatalf("OpenBytes failed: %v", err)
	}

	req := formats.NewRequest(context.Background(), "tri.obj", []byte(obj))
	req.Resolver = formats.ResolverFunc(func(name string) ([]byte, error) {
		return a.Resolve("data/" + name)
	})
	s, err := formats.OBJDecoder{}.Decode(req)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	var found bool
	for _, m := range s.Materials {
		if m.Name() == "stone" {
			found = true
		}
	}
	if !found {
		t.Error("material library from the archive was not applied")
	}

	req = formats.NewRequest(context.Background(), "tri.obj", []byte("mtllib gone.mtl\nv 0 0 0\nf 1 1 1\n"))
	req.Resolver = a
	if _, err := (formats.OBJDecoder{}).Decode(req); !errors.Is(err, formats.ErrReferenceUnresolved) {
		t.Errorf("missing library error = %v, want ErrReferenceUnresolved", err)
	}
}

func TestWriter(t *testing.T) {
	w := NewWriter()
	files := map[string][]byte{
		"data/model/prontera/fountain.rsm": bytes.Repeat([]byte("GRSM"), 100),
		"data/texture/유저인터페이스/map.bmp":     []byte("BM"),
		"data/empty.txt":                   nil,
	}
	for _, name := range []string{"data/model/prontera/fountain.rsm", "data/texture/유저인터페이스/map.bmp", "data/empty.txt"} {
		if err := w.Add(name, files[name]); err != nil {
			t.Fatalf("Add(%q): %v", name, err)
		}
	}
	if err := w.Add(`DATA\EMPTY.TXT`, nil); err == nil {
		t.Error("duplicate name should be rejected")
	}
	if err := w.Add("", []byte("x")); err == nil {
		t.Error("empty name should be rejected")
	}

	a, err := OpenBytes(w.Bytes())
	if err != nil {
		t.Fatalf("OpenBytes: %v", err)
	}
	if a.Len() != 3 || w.Len() != 3 {
		t.Fatalf("archive has %d entries, writer %d, want 3", a.Len(), w.Len())
	}
	for name, want := range files {
		got, err := a.Read(name)
		if err != nil {
			t.Errorf("Read(%q): %v", name, err)
			continue
		}
		if !bytes.Equal(got, want) {
			t.Errorf("Read(%q) = %d bytes, want %d", name, len(got), len(want))
		}
	}
}
