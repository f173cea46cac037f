package formats

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/Faultbox/scenekit/pkg/encoding"
)

// Resolver supplies the sibling files a multi-file format references
// (material libraries, external buffers, world models). Names are given
// exactly as they appear in the referencing file.
type Resolver interface {
	Resolve(name string) ([]byte, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(name string) ([]byte, error)

// Resolve calls f.
func (f ResolverFunc) Resolve(name string) ([]byte, error) {
	return f(name)
}

// NoResolver fails every lookup.
type NoResolver struct{}

// Resolve always returns ErrReferenceUnresolved.
func (NoResolver) Resolve(name string) ([]byte, error) {
	return nil, wrapf(ErrReferenceUnresolved, "%q: no resolver configured", name)
}

// MapResolver serves files from memory, matching names case-insensitively
// with either slash style.
type MapResolver map[string][]byte

// Resolve looks up name.
func (m MapResolver) Resolve(name string) ([]byte, error) {
	want := encoding.NormalizePath(name)
	for k, v := range m {
		if encoding.NormalizePath(k) == want {
			return v, nil
		}
	}
	return nil, wrapf(ErrReferenceUnresolved, "%q", name)
}

// ChainResolver tries each resolver in order.
type ChainResolver []Resolver

// Resolve returns the first successful lookup.
func (c ChainResolver) Resolve(name string) ([]byte, error) {
	for _, r := range c {
		if data, err := r.Resolve(name); err == nil {
			return data, nil
		}
	}
	return nil, wrapf(ErrReferenceUnresolved, "%q", name)
}

// DirResolver reads files relative to Root. Names may not escape Root.
// When the exact path is missing, a case-insensitive match is attempted,
// then the bare file name.
type DirResolver struct {
	Root string
}

// Resolve reads name below Root.
func (d DirResolver) Resolve(name string) ([]byte, error) {
	rel := filepath.FromSlash(strings.ReplaceAll(name, "\\", "/"))
	rel = strings.TrimPrefix(rel, "."+string(filepath.Separator))
	if !filepath.IsLocal(rel) {
		return nil, wrapf(ErrReferenceUnresolved, "%q escapes %s", name, d.Root)
	}

	candidates := []string{rel}
	if base := filepath.Base(rel); base != rel {
		candidates = append(candidates, base)
	}
	for _, c := range candidates {
		data, err := os.ReadFile(filepath.Join(d.Root, c))
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %q: %w", ErrReferenceUnresolved, name, err)
		}
		if p, ok := d.findFold(c); ok {
			if data, err := os.ReadFile(p); err == nil {
				return data, nil
			}
		}
	}
	return nil, wrapf(ErrReferenceUnresolved, "%q not found under %s", name, d.Root)
}

// findFold walks rel component by component matching names
// case-insensitively.
func (d DirResolver) findFold(rel string) (string, bool) {
	cur := d.Root
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		entries, err := os.ReadDir(cur)
		if err != nil {
			return "", false
		}
		found := false
		for _, e := range entries {
			if strings.EqualFold(e.Name(), part) {
				cur = filepath.Join(cur, e.Name())
				found = true
				break
			}
		}
		if !found {
			return "", false
		}
	}
	return cur, true
}

// resolve fetches a referenced file for format, wrapping failures as
// ErrReferenceUnresolved.
func resolve(req *Request, format, name string) ([]byte, error) {
	data, err := resolveRaw(req, name)
	if err != nil {
		return nil, errFormat(format, err)
	}
	return data, nil
}

// resolveRaw is resolve without the DecodeError wrapper, for callers that
// add their own position.
func resolveRaw(req *Request, name string) ([]byte, error) {
	data, err := req.resolver().Resolve(name)
	if err != nil {
		if errors.Is(err, ErrReferenceUnresolved) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %q: %w", ErrReferenceUnresolved, name, err)
	}
	return data, nil
}

// resolveAny tries several candidate names and reports the first.
func resolveAny(req *Request, format string, names ...string) ([]byte, error) {
	var firstErr error
	for _, n := range names {
		data, err := resolve(req, format, n)
		if err == nil {
			return data, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}
