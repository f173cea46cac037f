package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Faultbox/scenekit/pkg/formats"
	"github.com/Faultbox/scenekit/pkg/importer"
	"github.com/Faultbox/scenekit/pkg/postprocess"
	"github.com/Faultbox/scenekit/pkg/scene"
)

const quadOBJ = "v 0 0 0\nv 1 0 0\nv 1 1 0\nv 0 1 0\nf 1 2 3 4\n"

func writeFile(t *testing.T, root, rel string, data []byte) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func truncatedSTL() []byte {
	var buf bytes.Buffer
	buf.Write(make([]byte, 80))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(3))
	buf.Write(make([]byte, 50))
	return buf.Bytes()
}

func newHarness(t *testing.T, imp *importer.Importer, skips ...string) *harness {
	t.Helper()
	globs, err := compileSkips(skips)
	require.NoError(t, err)
	return &harness{imp: imp, flags: postprocess.Triangulate, workers: 4, skip: globs, log: zap.NewNop()}
}

func TestHarness(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a/quad.obj", []byte(quadOBJ))
	writeFile(t, root, "a/readme.txt", []byte("not a model"))
	writeFile(t, root, "b/broken.stl", truncatedSTL())
	writeFile(t, root, "b/tri.off", []byte("OFF\n3 1 0\n0 0 0\n1 0 0\n0 1 0\n3 0 1 2\n"))
	writeFile(t, root, "wip/draft.obj", []byte(quadOBJ))
	writeFile(t, root, "b/old.obj", []byte(quadOBJ))

	h := newHarness(t, importer.New(), "wip/", "**.txt", "**/old.*")
	files, skipped, err := h.collect([]string{root})
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(root, "a", "quad.obj"),
		filepath.Join(root, "b", "broken.stl"),
		filepath.Join(root, "b", "tri.off"),
	}, files)
	assert.Equal(t, 2, skipped, "readme.txt and old.obj")

	var out bytes.Buffer
	sum := report(&out, h.run(context.Background(), files), skipped)
	assert.Equal(t, summary{OK: 2, Controlled: 1, Skipped: 2}, sum)
	assert.Contains(t, out.String(), "[out of bounds]")
	assert.Contains(t, out.String(), "3 files: 2 ok, 1 controlled errors, 0 unhandled, 2 skipped")
}

func TestHarness_OrderIsStable(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"e", "a", "d", "c", "b"} {
		writeFile(t, root, name+".obj", []byte(quadOBJ))
	}
	h := newHarness(t, importer.New())
	files, _, err := h.collect([]string{root})
	require.NoError(t, err)

	results := h.run(context.Background(), files)
	require.Len(t, results, 5)
	for i, r := range results {
		assert.Equal(t, files[i], r.path)
		assert.NoError(t, r.err)
		assert.Equal(t, 2, r.faces)
	}
}

type panicDecoder struct{}

func (panicDecoder) Info() formats.Info {
	return formats.Info{Name: "boom", Extensions: []string{".boom"}}
}

func (panicDecoder) Probe(_ []byte, ext string) formats.Match {
	if ext == ".boom" {
		return formats.MatchExtension
	}
	return formats.MatchNone
}

func (panicDecoder) Decode(*formats.Request) (*scene.Scene, error) {
	panic("decoder bug")
}

func TestHarness_RecoversPanics(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "x.boom", []byte("??"))

	imp := importer.New(importer.WithRegistry(formats.NewRegistry(panicDecoder{})))
	h := newHarness(t, imp)
	files, _, err := h.collect([]string{root})
	require.NoError(t, err)
	require.Len(t, files, 1)

	var out bytes.Buffer
	sum := report(&out, h.run(context.Background(), files), 0)
	assert.Equal(t, 1, sum.Unhandled)
	assert.Contains(t, out.String(), "decoder bug")
}

func TestCompileSkips_Invalid(t *testing.T) {
	_, err := compileSkips([]string{"[unclosed"})
	assert.Error(t, err)
}
