// Package importer turns model files into scenes. It selects a decoder
// from the format registry, decodes, checks the result, runs the
// requested post-processing passes and hands the caller a scene it owns
// until Release.
//
// An Importer holds no per-import state and is safe for concurrent use.
package importer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/Faultbox/scenekit/pkg/formats"
	"github.com/Faultbox/scenekit/pkg/postprocess"
	"github.com/Faultbox/scenekit/pkg/scene"
	"github.com/Faultbox/scenekit/pkg/texture"
)

// Stage is a step of the import state machine:
// Idle → Selecting → Decoding → PostProcessing → Ready, or Failed from
// any of them.
type Stage int

const (
	StageIdle Stage = iota
	StageSelecting
	StageDecoding
	StagePostProcessing
	StageReady
	StageFailed
)

var stageNames = [...]string{"idle", "selecting", "decoding", "post-processing", "ready", "failed"}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return "unknown"
	}
	return stageNames[s]
}

// Source is the input of one import.
type Source struct {
	// Name identifies the source in errors and drives extension matching.
	Name string
	Data []byte
	// Resolver serves sibling files of multi-file formats. It is tried
	// before the importer's fallback resolver, if any.
	Resolver formats.Resolver
}

// Importer runs imports.
type Importer struct {
	registry  *formats.Registry
	log       *zap.Logger
	limits    formats.Limits
	pipeline  *postprocess.Pipeline
	textures  texture.Decoder
	fallback  formats.Resolver
	maxSource int64
}

// Option configures an Importer.
type Option func(*Importer)

// WithRegistry replaces the default format registry.
func WithRegistry(r *formats.Registry) Option {
	return func(imp *Importer) { imp.registry = r }
}

// WithLogger sets the logger used for the importer and its decoders.
func WithLogger(l *zap.Logger) Option {
	return func(imp *Importer) { imp.log = l }
}

// WithLimits bounds decoder allocations.
func WithLimits(l formats.Limits) Option {
	return func(imp *Importer) { imp.limits = l }
}

// WithPostProcessConfig configures the post-processing pipeline.
func WithPostProcessConfig(cfg postprocess.Config) Option {
	return func(imp *Importer) { imp.pipeline = postprocess.New(cfg) }
}

// WithTextureDecoder decodes compressed embedded textures to RGBA8888
// after decoding. Without it embedded textures stay compressed and only
// their dimensions are probed.
func WithTextureDecoder(d texture.Decoder) Option {
	return func(imp *Importer) { imp.textures = d }
}

// WithMaxSourceSize rejects sources larger than n bytes. Zero disables
// the check.
func WithMaxSourceSize(n int64) Option {
	return func(imp *Importer) { imp.maxSource = n }
}

// WithFallbackResolver consults r for sibling files the source's own
// resolver cannot find, typically a set of archives.
func WithFallbackResolver(r formats.Resolver) Option {
	return func(imp *Importer) { imp.fallback = r }
}

// New creates an Importer.
func New(opts ...Option) *Importer {
	imp := &Importer{
		registry: formats.DefaultRegistry(),
		log:      zap.NewNop(),
		limits:   formats.DefaultLimits(),
	}
	for _, opt := range opts {
		opt(imp)
	}
	if imp.log == nil {
		imp.log = zap.NewNop()
	}
	if imp.pipeline == nil {
		cfg := postprocess.DefaultConfig()
		cfg.Logger = imp.log
		imp.pipeline = postprocess.New(cfg)
	}
	return imp
}

// ListSupportedExtensions returns the sorted extensions of the default
// registry, each with its leading dot.
func ListSupportedExtensions() []string {
	return formats.DefaultRegistry().Extensions()
}

// SupportedExtensions returns the sorted extensions of the importer's
// registry.
func (imp *Importer) SupportedExtensions() []string {
	return imp.registry.Extensions()
}

// ImportFile reads and imports the file at path. Sibling files are looked
// up next to path, then in the fallback resolver.
func (imp *Importer) ImportFile(ctx context.Context, path string, flags postprocess.Flags) (*scene.Scene, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, &ImportError{Kind: KindIO, Source: path, Stage: StageIdle, Offset: -1, Err: err}
	}
	if imp.maxSource > 0 && st.Size() > imp.maxSource {
		return nil, imp.tooLarge(path, st.Size())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ImportError{Kind: KindIO, Source: path, Stage: StageIdle, Offset: -1, Err: err}
	}
	return imp.Import(ctx, Source{
		Name:     path,
		Data:     data,
		Resolver: formats.DirResolver{Root: filepath.Dir(path)},
	}, flags)
}

func (imp *Importer) resolver(r formats.Resolver) formats.Resolver {
	switch {
	case imp.fallback == nil:
		return r
	case r == nil:
		return imp.fallback
	}
	return formats.ChainResolver{r, imp.fallback}
}

// ImportBytes imports an in-memory file. name selects the format by
// extension when the data has no signature.
func (imp *Importer) ImportBytes(ctx context.Context, name string, data []byte, flags postprocess.Flags) (*scene.Scene, error) {
	return imp.Import(ctx, Source{Name: name, Data: data}, flags)
}

// Import decodes src and applies the passes in flags. On success the
// caller owns the scene and should Release it. On failure no scene is
// returned and the error is an *ImportError.
func (imp *Importer) Import(ctx context.Context, src Source, flags postprocess.Flags) (*scene.Scene, error) {
	r := &run{imp: imp, src: src.Name, log: imp.log.With(zap.String("source", src.Name))}
	start := time.Now()

	if err := postprocess.Check(flags); err != nil {
		return nil, r.fail(KindPostProcessFailure, err)
	}
	if imp.maxSource > 0 && int64(len(src.Data)) > imp.maxSource {
		return nil, imp.tooLarge(src.Name, int64(len(src.Data)))
	}

	r.enter(StageSelecting)
	dec, err := imp.registry.Select(src.Name, src.Data)
	if err != nil {
		return nil, r.fail(KindUnsupportedFormat, err)
	}

	r.enter(StageDecoding)
	req := formats.NewRequest(ctx, src.Name, src.Data)
	req.Resolver = imp.resolver(src.Resolver)
	req.Logger = r.log
	req.Limits = imp.limits
	s, err := dec.Decode(req)
	if err != nil {
		kind := classify(err)
		if kind == KindUnknown {
			kind = KindMalformed
		}
		return nil, r.fail(kind, err)
	}
	if err := ctx.Err(); err != nil {
		s.Release()
		return nil, r.fail(KindCanceled, err)
	}
	if err := scene.Validate(s); err != nil {
		s.Release()
		return nil, r.fail(KindMalformed, fmt.Errorf("%s decoder produced an invalid scene: %w", dec.Info().Name, err))
	}
	if s.Name == "" {
		s.Name = filepath.Base(filepath.FromSlash(src.Name))
	}
	s.SetMeta(scene.MetaSource, src.Name)
	imp.prepareTextures(r.log, s)

	r.enter(StagePostProcessing)
	if err := imp.postProcess(ctx, s, flags); err != nil {
		s.Release()
		return nil, r.failPass(err)
	}

	r.enter(StageReady)
	r.log.Debug("import complete",
		zap.String("format", dec.Info().Name),
		zap.Stringer("flags", flags),
		zap.Int("meshes", len(s.Meshes)),
		zap.Int("materials", len(s.Materials)),
		zap.Int("vertices", s.TotalVertices()),
		zap.Duration("elapsed", time.Since(start)))
	return s, nil
}

// ApplyPostProcessing runs further passes on a scene returned by Import.
// The passes work on a copy; s changes only if every pass succeeds.
func (imp *Importer) ApplyPostProcessing(ctx context.Context, s *scene.Scene, flags postprocess.Flags) error {
	name := ""
	if s != nil {
		name = s.Name
	}
	r := &run{imp: imp, src: name, stage: StageReady, log: imp.log.With(zap.String("source", name))}
	if s == nil || s.Released() {
		return r.fail(KindPostProcessFailure, errors.New("scene is nil or released"))
	}
	if err := postprocess.Check(flags); err != nil {
		return r.fail(KindPostProcessFailure, err)
	}

	r.enter(StagePostProcessing)
	c := s.Clone()
	if err := imp.postProcess(ctx, c, flags); err != nil {
		c.Release()
		return r.failPass(err)
	}
	s.Adopt(c)
	r.enter(StageReady)
	return nil
}

// Release frees s. Releasing a nil scene does nothing; releasing a scene
// twice returns an error of kind KindDoubleRelease and leaves every other
// scene untouched.
func (imp *Importer) Release(s *scene.Scene) error {
	if s == nil {
		return nil
	}
	if !s.Release() {
		imp.log.Debug("double release", zap.String("source", s.Name))
		return &ImportError{Kind: KindDoubleRelease, Source: s.Name, Stage: StageReady, Offset: -1, Err: ErrDoubleRelease}
	}
	return nil
}

func (imp *Importer) postProcess(ctx context.Context, s *scene.Scene, flags postprocess.Flags) error {
	if err := imp.pipeline.Run(ctx, s, flags); err != nil {
		return err
	}
	if err := scene.Validate(s); err != nil {
		return &postprocess.PassError{Pass: "result check", Err: err}
	}
	return nil
}

// prepareTextures decodes or probes compressed embedded textures. A
// texture that fails to decode stays compressed.
func (imp *Importer) prepareTextures(log *zap.Logger, s *scene.Scene) {
	for i, t := range s.Textures {
		e := t.Embedded
		if e == nil || !e.Compressed {
			continue
		}
		if imp.textures != nil {
			decoded, err := imp.textures.DecodeTexture(e)
			if err == nil {
				err = checkDecoded(decoded)
			}
			if err == nil {
				t.Embedded = decoded
				continue
			}
			log.Warn("embedded texture not decoded", zap.Int("texture", i), zap.Error(err))
		}
		if e.Width == 0 || e.Height == 0 || e.FormatHint == "" {
			info := texture.ProbeHint(e.Data, e.FormatHint)
			if e.FormatHint == "" {
				e.FormatHint = info.Format
			}
			if e.Width == 0 || e.Height == 0 {
				e.Width, e.Height = info.Width, info.Height
			}
		}
	}
}

// errNoImage is reported for a texture decoder that returns neither an
// image nor an error.
var errNoImage = errors.New("texture decoder returned no image")

func checkDecoded(e *scene.EmbeddedImage) error {
	if e == nil {
		return errNoImage
	}
	return (&scene.Texture{Embedded: e}).Validate()
}

func (imp *Importer) tooLarge(name string, size int64) error {
	return &ImportError{
		Kind:   KindOutOfBounds,
		Source: name,
		Stage:  StageIdle,
		Offset: -1,
		Err:    fmt.Errorf("%w: source is %d bytes, limit %d", formats.ErrOutOfBounds, size, imp.maxSource),
	}
}

// run tracks the state of one import for logging and error reporting.
type run struct {
	imp   *Importer
	src   string
	stage Stage
	log   *zap.Logger
}

func (r *run) enter(s Stage) {
	r.log.Debug("import stage", zap.Stringer("from", r.stage), zap.Stringer("to", s))
	r.stage = s
}

func (r *run) fail(kind Kind, err error) error {
	ie := &ImportError{Kind: kind, Source: r.src, Stage: r.stage, Offset: -1, Err: err}
	if off, ok := formats.Offset(err); ok {
		ie.Offset = off
	}
	r.log.Debug("import failed",
		zap.Stringer("stage", r.stage),
		zap.Stringer("kind", kind),
		zap.Error(err))
	r.stage = StageFailed
	return ie
}

func (r *run) failPass(err error) error {
	kind := KindPostProcessFailure
	if classify(err) == KindCanceled {
		kind = KindCanceled
	}
	ie := r.fail(kind, err).(*ImportError)
	var pe *postprocess.PassError
	if errors.As(err, &pe) {
		ie.Pass = pe.Pass
	}
	return ie
}
