// Package formats turns raw asset bytes into a scene. A Registry picks the
// decoder for a source by probing its leading bytes, and each Decoder
// converts one file format into the scene representation.
package formats

import (
	"context"
	"path"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/Faultbox/scenekit/pkg/scene"
)

// HeaderWindow is the number of leading bytes a decoder may inspect when
// probing.
const HeaderWindow = 512

// Match is a decoder's verdict on a source.
type Match int

const (
	// MatchNone means the decoder cannot read the source.
	MatchNone Match = iota
	// MatchExtension is only returned by decoders for formats without a
	// reliable magic signature, based on the file name.
	MatchExtension
	// MatchSignature means the header carries the format's magic.
	MatchSignature
)

// Info describes a decoder.
type Info struct {
	Name        string
	Description string
	Extensions  []string
}

// Decoder converts one file format into a scene. Implementations are
// stateless and safe for concurrent use.
type Decoder interface {
	Info() Info
	// Probe inspects at most HeaderWindow bytes and the lower-case
	// extension (including the dot).
	Probe(header []byte, ext string) Match
	// Decode either returns a structurally complete scene or an error;
	// it never mutates req.Data.
	Decode(req *Request) (*scene.Scene, error)
}

// Limits bounds decoder allocations independently of buffer size.
type Limits struct {
	// MaxElements caps any single declared element count (vertices,
	// faces, nodes, keys).
	MaxElements int
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{MaxElements: 1 << 26}
}

// Request carries one decode invocation.
type Request struct {
	Name     string
	Data     []byte
	Resolver Resolver
	Logger   *zap.Logger
	Limits   Limits

	ctx context.Context
}

// NewRequest builds a request with defaults filled in.
func NewRequest(ctx context.Context, name string, data []byte) *Request {
	return &Request{
		Name:     name,
		Data:     data,
		Resolver: NoResolver{},
		Logger:   zap.NewNop(),
		Limits:   DefaultLimits(),
		ctx:      ctx,
	}
}

// Context returns the request context, never nil.
func (req *Request) Context() context.Context {
	if req.ctx == nil {
		return context.Background()
	}
	return req.ctx
}

// WithContext returns a shallow copy of req using ctx.
func (req *Request) WithContext(ctx context.Context) *Request {
	c := *req
	c.ctx = ctx
	return &c
}

func (req *Request) logger() *zap.Logger {
	if req.Logger == nil {
		return zap.NewNop()
	}
	return req.Logger
}

func (req *Request) resolver() Resolver {
	if req.Resolver == nil {
		return NoResolver{}
	}
	return req.Resolver
}

func (req *Request) maxElements() int {
	if req.Limits.MaxElements <= 0 {
		return DefaultLimits().MaxElements
	}
	return req.Limits.MaxElements
}

// Ext returns the lower-case extension of name including the dot.
func Ext(name string) string {
	return strings.ToLower(path.Ext(strings.ReplaceAll(name, "\\", "/")))
}

// Registry holds decoders in priority order. Registration must finish
// before the registry is shared; selection is read-only afterwards.
type Registry struct {
	decoders []Decoder
}

// NewRegistry returns a registry with the given decoders, highest
// priority first.
func NewRegistry(decoders ...Decoder) *Registry {
	return &Registry{decoders: slices.Clone(decoders)}
}

// Register appends d at the lowest priority.
func (r *Registry) Register(d Decoder) {
	r.decoders = append(r.decoders, d)
}

// Decoders returns the decoders in priority order.
func (r *Registry) Decoders() []Decoder {
	return slices.Clone(r.decoders)
}

// Lookup returns the decoder with the given name.
func (r *Registry) Lookup(name string) (Decoder, bool) {
	for _, d := range r.decoders {
		if strings.EqualFold(d.Info().Name, name) {
			return d, true
		}
	}
	return nil, false
}

// Select picks the decoder for a source. Magic signatures win over
// extensions; ties go to the higher-priority decoder.
func (r *Registry) Select(name string, data []byte) (Decoder, error) {
	header := data
	if len(header) > HeaderWindow {
		header = header[:HeaderWindow]
	}
	ext := Ext(name)

	var byExt Decoder
	for _, d := range r.decoders {
		switch d.Probe(header, ext) {
		case MatchSignature:
			return d, nil
		case MatchExtension:
			if byExt == nil {
				byExt = d
			}
		}
	}
	if byExt != nil {
		return byExt, nil
	}
	return nil, wrapf(ErrUnsupportedFormat, "no decoder for %q", path.Base(name))
}

// Extensions returns every supported extension, sorted and de-duplicated.
func (r *Registry) Extensions() []string {
	var exts []string
	for _, d := range r.decoders {
		exts = append(exts, d.Info().Extensions...)
	}
	slices.Sort(exts)
	return slices.Compact(exts)
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// DefaultRegistry returns a registry of the built-in decoders. Each call
// returns a fresh copy, so Register on it never affects other callers.
func DefaultRegistry() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry(
			GLBDecoder{},
			ThreeMFDecoder{},
			ThreeDSDecoder{},
			PLYDecoder{},
			OFFDecoder{},
			MD3Decoder{},
			RSMDecoder{},
			GNDDecoder{},
			RSWDecoder{},
			GATDecoder{},
			STLDecoder{},
			GLTFDecoder{},
			OBJDecoder{},
		)
	})
	return NewRegistry(defaultRegistry.decoders...)
}

// hasExt reports whether ext is one of exts.
func hasExt(ext string, exts ...string) bool {
	return slices.Contains(exts, ext)
}
