package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"slices"
	"time"

	"github.com/gobwas/glob"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Faultbox/scenekit/pkg/formats"
	"github.com/Faultbox/scenekit/pkg/importer"
	"github.com/Faultbox/scenekit/pkg/postprocess"
)

// outcome sorts a result into one of the report columns.
type outcome int

const (
	outcomeOK outcome = iota
	// outcomeControlled is a failure reported as a classified error.
	outcomeControlled
	// outcomeUnhandled is a panic or an error nobody classified.
	outcomeUnhandled
)

type result struct {
	path     string
	err      error
	panicked bool
	elapsed  time.Duration
	meshes   int
	vertices int
	faces    int
}

func (r result) outcome() outcome {
	switch {
	case r.panicked:
		return outcomeUnhandled
	case r.err == nil:
		return outcomeOK
	case importer.KindOf(r.err) == importer.KindUnknown:
		return outcomeUnhandled
	}
	return outcomeControlled
}

type summary struct {
	OK         int
	Controlled int
	Unhandled  int
	Skipped    int
}

// harness imports every model below a set of directories.
type harness struct {
	imp     *importer.Importer
	flags   postprocess.Flags
	workers int
	timeout time.Duration
	skip    []glob.Glob
	log     *zap.Logger
}

func compileSkips(patterns []string) ([]glob.Glob, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("skip pattern %q: %w", p, err)
		}
		globs = append(globs, g)
	}
	return globs, nil
}

func (h *harness) skipped(rel string) bool {
	rel = filepath.ToSlash(rel)
	for _, g := range h.skip {
		if g.Match(rel) {
			return true
		}
	}
	return false
}

// collect walks dirs in lexical order and returns every file with a
// supported extension, and how many were skipped by pattern.
func (h *harness) collect(dirs []string) ([]string, int, error) {
	exts := h.imp.SupportedExtensions()
	var files []string
	skipped := 0
	for _, dir := range dirs {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			rel, _ := filepath.Rel(dir, path)
			if d.IsDir() {
				if rel != "." && h.skipped(rel+"/") {
					return filepath.SkipDir
				}
				return nil
			}
			if h.skipped(rel) {
				skipped++
				return nil
			}
			if _, ok := slices.BinarySearch(exts, formats.Ext(path)); ok {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, skipped, fmt.Errorf("walking %s: %w", dir, err)
		}
	}
	return files, skipped, nil
}

// run imports files with up to h.workers in flight. Results keep the
// order of files.
func (h *harness) run(ctx context.Context, files []string) []result {
	results := make([]result, len(files))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(h.workers, 1))
	for i, path := range files {
		g.Go(func() error {
			results[i] = h.importOne(ctx, path)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (h *harness) importOne(ctx context.Context, path string) (res result) {
	res.path = path
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			res.panicked = true
			res.err = fmt.Errorf("panic: %v", p)
			h.log.Error("import panicked", zap.String("path", path), zap.Any("panic", p))
		}
		res.elapsed = time.Since(start)
	}()

	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}
	s, err := h.imp.ImportFile(ctx, path, h.flags)
	if err != nil {
		res.err = err
		return res
	}
	res.meshes = len(s.Meshes)
	res.vertices = s.TotalVertices()
	res.faces = s.TotalFaces()
	if err := h.imp.Release(s); err != nil {
		res.err = err
	}
	return res
}

// report prints one line per result and returns the totals.
func report(w io.Writer, results []result, skipped int) summary {
	sum := summary{Skipped: skipped}
	for _, r := range results {
		switch r.outcome() {
		case outcomeOK:
			sum.OK++
			fmt.Fprintf(w, "OK    %-50s %4d meshes %8d verts %8d faces %v\n",
				r.path, r.meshes, r.vertices, r.faces, r.elapsed.Round(time.Millisecond))
		case outcomeControlled:
			sum.Controlled++
			fmt.Fprintf(w, "ERR   %-50s [%s] %v\n", r.path, importer.KindOf(r.err), r.err)
		case outcomeUnhandled:
			sum.Unhandled++
			fmt.Fprintf(w, "FAIL  %-50s %v\n", r.path, r.err)
		}
	}
	fmt.Fprintf(w, "\n%d files: %d ok, %d controlled errors, %d unhandled, %d skipped\n",
		len(results), sum.OK, sum.Controlled, sum.Unhandled, sum.Skipped)
	return sum
}
