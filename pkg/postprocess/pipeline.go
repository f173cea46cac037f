// Package postprocess transforms decoded scenes in place. Passes are
// selected with Flags and always run in one fixed order:
//
//  1. ValidateDataStructure
//  2. Triangulate
//  3. RemoveRedundantMaterials
//  4. FlipUVs
//  5. GenNormals or GenSmoothNormals
//  6. CalcTangentSpace
//  7. JoinIdenticalVertices
//  8. FlipWindingOrder
//  9. GenBoundingBoxes
//
// Triangulate precedes normal and tangent generation because both need
// triangle topology, and JoinIdenticalVertices follows them so generated
// attributes take part in the comparison. Running a subset of passes one
// call at a time in this order gives the same result as one combined call.
package postprocess

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Faultbox/scenekit/pkg/scene"
)

// Pipeline errors.
var (
	ErrIncompatibleFlags = errors.New("incompatible post-processing flags")
	ErrUnknownFlag       = errors.New("unknown post-processing flag")
)

// PassError reports which pass failed.
type PassError struct {
	Pass string
	Err  error
}

func (e *PassError) Error() string {
	return fmt.Sprintf("%s: %v", e.Pass, e.Err)
}

func (e *PassError) Unwrap() error {
	return e.Err
}

// Config tunes the pipeline.
type Config struct {
	// Workers bounds how many meshes a pass processes at once. Zero means
	// GOMAXPROCS.
	Workers int
	// Epsilon is the JoinIdenticalVertices tolerance. Zero joins only
	// bit-identical vertices.
	Epsilon float32
	Logger  *zap.Logger
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{Logger: zap.NewNop()}
}

// Pipeline runs post-processing passes. It holds no per-scene state and
// may be shared between goroutines.
type Pipeline struct {
	cfg Config
	log *zap.Logger
}

// New creates a pipeline.
func New(cfg Config) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.Epsilon < 0 {
		cfg.Epsilon = 0
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{cfg: cfg, log: log}
}

// Config returns the effective configuration.
func (p *Pipeline) Config() Config {
	return p.cfg
}

type pass struct {
	flag Flags
	run  func(p *Pipeline, ctx context.Context, s *scene.Scene) error
}

// passes is the frozen execution order.
var passes = []pass{
	{ValidateDataStructure, (*Pipeline).validate},
	{Triangulate, (*Pipeline).triangulate},
	{RemoveRedundantMaterials, (*Pipeline).removeRedundantMaterials},
	{FlipUVs, (*Pipeline).flipUVs},
	{GenNormals, (*Pipeline).genFlatNormals},
	{GenSmoothNormals, (*Pipeline).genSmoothNormals},
	{CalcTangentSpace, (*Pipeline).calcTangentSpace},
	{JoinIdenticalVertices, (*Pipeline).joinIdenticalVertices},
	{FlipWindingOrder, (*Pipeline).flipWindingOrder},
	{GenBoundingBoxes, (*Pipeline).genBoundingBoxes},
}

// Check reports whether flags can be run together.
func Check(flags Flags) error {
	if rest := flags &^ allFlags; rest != 0 {
		return fmt.Errorf("%w: 0x%x", ErrUnknownFlag, uint32(rest))
	}
	if flags.Has(GenNormals | GenSmoothNormals) {
		return fmt.Errorf("%w: GenNormals and GenSmoothNormals are mutually exclusive", ErrIncompatibleFlags)
	}
	return nil
}

// Run applies the passes selected by flags to s. The scene must be
// structurally valid on entry. The context is checked before each pass
// and between the meshes of a pass; a cancelled pass fails with the
// context error. On error s may hold the
// partial work of earlier passes, so callers that need atomicity run on
// a clone.
func (p *Pipeline) Run(ctx context.Context, s *scene.Scene, flags Flags) error {
	if err := Check(flags); err != nil {
		return err
	}
	if flags == 0 {
		return nil
	}
	if err := scene.Validate(s); err != nil {
		return fmt.Errorf("post-processing input: %w", err)
	}

	for _, ps := range passes {
		if !flags.Has(ps.flag) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		name := ps.flag.String()
		start := time.Now()
		if err := ps.run(p, ctx, s); err != nil {
			p.log.Debug("pass failed", zap.String("pass", name), zap.Error(err))
			return &PassError{Pass: name, Err: err}
		}
		p.log.Debug("pass done",
			zap.String("pass", name),
			zap.Duration("elapsed", time.Since(start)),
			zap.Int("meshes", len(s.Meshes)),
			zap.Int("vertices", s.TotalVertices()))
	}
	return nil
}

// eachMesh calls fn for every mesh, up to Workers at a time. Meshes share
// no storage, so fn may mutate its mesh freely.
// A cancelled pass stops scheduling meshes and reports the cancellation.
func (p *Pipeline) eachMesh(ctx context.Context, s *scene.Scene, fn func(i int, m *scene.Mesh) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)
	for i, m := range s.Meshes {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := fn(i, m); err != nil {
				return fmt.Errorf("mesh %d %q: %w", i, m.Name, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (p *Pipeline) validate(_ context.Context, s *scene.Scene) error {
	return scene.ValidateStrict(s)
}

func (p *Pipeline) flipUVs(ctx context.Context, s *scene.Scene) error {
	return p.eachMesh(ctx, s, func(_ int, m *scene.Mesh) error {
		for _, set := range m.TexCoords {
			for i := range set {
				set[i].Y = 1 - set[i].Y
			}
		}
		return nil
	})
}

func (p *Pipeline) flipWindingOrder(ctx context.Context, s *scene.Scene) error {
	return p.eachMesh(ctx, s, func(_ int, m *scene.Mesh) error {
		for _, f := range m.Faces {
			idx := f.Indices
			for a, b := 0, len(idx)-1; a < b; a, b = a+1, b-1 {
				idx[a], idx[b] = idx[b], idx[a]
			}
		}
		return nil
	})
}

func (p *Pipeline) genBoundingBoxes(ctx context.Context, s *scene.Scene) error {
	return p.eachMesh(ctx, s, func(_ int, m *scene.Mesh) error {
		m.AABB = m.ComputeAABB()
		return nil
	})
}
