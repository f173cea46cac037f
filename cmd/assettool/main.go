// assettool inspects 3D assets and the GRF archives they ship in.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"
	"go.uber.org/zap"

	"github.com/Faultbox/scenekit/internal/assets"
	"github.com/Faultbox/scenekit/internal/config"
	"github.com/Faultbox/scenekit/internal/logger"
	"github.com/Faultbox/scenekit/pkg/formats"
	"github.com/Faultbox/scenekit/pkg/grf"
	"github.com/Faultbox/scenekit/pkg/importer"
	smath "github.com/Faultbox/scenekit/pkg/math"
	"github.com/Faultbox/scenekit/pkg/scene"
	"github.com/Faultbox/scenekit/pkg/texture"
)

func main() {
	config.ParseFlags()
	os.Exit(run(flag.Args()))
}

func run(args []string) int {
	if len(args) < 1 {
		printUsage()
		return 1
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.LogFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	command, rest := args[0], args[1:]
	switch command {
	case "formats":
		err = cmdFormats()
	case "info":
		err = cmdInfo(cfg, rest)
	case "tree":
		err = cmdTree(cfg, rest)
	case "textures":
		err = cmdTextures(cfg, rest)
	case "grf":
		err = cmdGRF(rest)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		return 1
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func printUsage() {
	fmt.Println(`assettool - 3D asset and GRF archive utility

Usage:
  assettool [flags] <command> [options]

Commands:
  formats                            List supported formats
  info <model>                       Import a model and print statistics
  tree <model>                       Print the node hierarchy
  textures <model> [output]          Export the model's textures as WebP
  grf info <file.grf>                Show archive information
  grf list <file.grf> [glob]         List files (optional glob pattern)
  grf extract <file.grf> <glob> [output]
                                     Extract matching files to a directory
  grf pack <file.grf> <dir>          Pack a directory into a new archive

Models are read from disk, or from the archives given with -grf when no
such file exists. Sibling files (materials, textures, ground data) are
resolved next to the model first, then from the archives.

Flags:
  -config <path>   Config file
  -debug           Debug logging
  -flags <passes>  Post-processing passes, e.g. Triangulate,GenNormals
  -grf <archives>  Comma-separated GRF archives

Examples:
  assettool -flags TargetRealtimeQuality info model.obj
  assettool -grf data.grf tree data/model/prontera/tree.rsm
  assettool grf list data.grf "data/model/**.rsm"`)
}

func cmdFormats() error {
	for _, d := range formats.DefaultRegistry().Decoders() {
		info := d.Info()
		fmt.Printf("  %-6s %-28s %s\n", info.Name, strings.Join(info.Extensions, " "), info.Description)
	}
	return nil
}

// session holds what a model command needs to import.
type session struct {
	imp    *importer.Importer
	assets *assets.Manager
	log    *zap.Logger
}

func openSession(cfg *config.Config) (*session, error) {
	m, err := cfg.OpenAssets()
	if err != nil {
		return nil, err
	}
	log := logger.Named("importer")
	return &session{
		imp:    importer.New(cfg.ImporterOptions(log)...),
		assets: m,
		log:    log,
	}, nil
}

func (s *session) Close() error {
	return s.assets.Close()
}

// source locates name on disk or in the archives.
func (s *session) source(name string) (importer.Source, error) {
	data, err := os.ReadFile(name)
	if err == nil {
		return importer.Source{
			Name: name,
			Data: data,
			Resolver: formats.ChainResolver{
				formats.DirResolver{Root: filepath.Dir(name)},
				s.assets,
			},
		}, nil
	}
	if s.assets.Len() == 0 {
		return importer.Source{}, err
	}
	data, err = s.assets.Load(name)
	if err != nil {
		return importer.Source{}, fmt.Errorf("%s: not on disk or in any archive", name)
	}
	return importer.Source{Name: name, Data: data, Resolver: s.assets}, nil
}

func (s *session) load(cfg *config.Config, name string) (*scene.Scene, importer.Source, error) {
	src, err := s.source(name)
	if err != nil {
		return nil, src, err
	}
	flags, err := cfg.PostProcess.ParsedFlags()
	if err != nil {
		return nil, src, err
	}
	sc, err := s.imp.Import(context.Background(), src, flags)
	return sc, src, err
}

func withModel(cfg *config.Config, args []string, usage string, fn func(*session, *scene.Scene, importer.Source) error) error {
	if len(args) < 1 {
		return errors.New("usage: assettool " + usage)
	}
	sess, err := openSession(cfg)
	if err != nil {
		return err
	}
	defer sess.Close()

	sc, src, err := sess.load(cfg, args[0])
	if err != nil {
		return err
	}
	defer sess.imp.Release(sc)
	return fn(sess, sc, src)
}

func cmdInfo(cfg *config.Config, args []string) error {
	return withModel(cfg, args, "info <model>", func(_ *session, sc *scene.Scene, _ importer.Source) error {
		fmt.Printf("Scene:     %s\n", sc.Name)
		fmt.Printf("Format:    %s %s\n", sc.Metadata[scene.MetaFormat], sc.Metadata[scene.MetaVersion])
		fmt.Printf("Nodes:     %d\n", sc.CountNodes())
		fmt.Printf("Meshes:    %d\n", len(sc.Meshes))
		fmt.Printf("Vertices:  %d\n", sc.TotalVertices())
		fmt.Printf("Faces:     %d\n", sc.TotalFaces())
		fmt.Printf("Materials: %d\n", len(sc.Materials))
		fmt.Printf("Textures:  %d\n", len(sc.Textures))
		fmt.Printf("Animations: %d\n", len(sc.Animations))
		if b := sc.Bounds(); !b.IsEmpty() {
			fmt.Printf("Bounds:    %v .. %v\n", b.Min, b.Max)
		}

		fmt.Println()
		fmt.Println("Meshes:")
		for i, m := range sc.Meshes {
			mat := "?"
			if m.MaterialIndex < len(sc.Materials) {
				mat = sc.Materials[m.MaterialIndex].Name()
			}
			fmt.Printf("  %3d %-24s %6d verts %6d faces  material %q\n", i, m.Name, m.NumVertices(), len(m.Faces), mat)
		}

		keys := make([]string, 0, len(sc.Metadata))
		for k := range sc.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Println()
		fmt.Println("Metadata:")
		for _, k := range keys {
			fmt.Printf("  %-12s %s\n", k, sc.Metadata[k])
		}
		return nil
	})
}

func cmdTree(cfg *config.Config, args []string) error {
	return withModel(cfg, args, "tree <model>", func(_ *session, sc *scene.Scene, _ importer.Source) error {
		sc.Walk(func(n *scene.Node) bool {
			line := strings.Repeat("  ", n.Depth()) + n.Name
			if p := n.Transform.Translation(); !p.ApproxEqual(smath.Vec3{}, 1e-6) {
				line += fmt.Sprintf("  at (%g, %g, %g)", p.X, p.Y, p.Z)
			}
			if len(n.Meshes) > 0 {
				line += fmt.Sprintf("  meshes %v", n.Meshes)
			}
			fmt.Println(line)
			return true
		})
		return nil
	})
}

func cmdTextures(cfg *config.Config, args []string) error {
	return withModel(cfg, args, "textures <model> [output]", func(sess *session, sc *scene.Scene, src importer.Source) error {
		outDir := "."
		if len(args) > 1 {
			outDir = args[1]
		}
		if err := os.MkdirAll(outDir, 0755); err != nil {
			return err
		}

		var resolver formats.Resolver = formats.NoResolver{}
		if src.Resolver != nil {
			resolver = src.Resolver
		}

		written := 0
		for i, t := range sc.Textures {
			name, img, err := textureImage(resolver, i, t)
			if err != nil {
				sess.log.Warn("texture skipped", zap.Int("texture", i), zap.String("path", t.Path), zap.Error(err))
				continue
			}
			out := filepath.Join(outDir, name+".webp")
			if err := writeWebP(out, img); err != nil {
				return err
			}
			fmt.Printf("Wrote: %s (%dx%d)\n", out, img.Bounds().Dx(), img.Bounds().Dy())
			written++
		}
		fmt.Fprintf(os.Stderr, "\nExported %d of %d textures\n", written, len(sc.Textures))
		return nil
	})
}

// textureImage returns the pixels of texture i and a file name for them.
func textureImage(r formats.Resolver, i int, t *scene.Texture) (string, *image.RGBA, error) {
	if t.IsEmbedded() {
		img, err := texture.Image(t.Embedded)
		return fmt.Sprintf("embedded_%d", i), img, err
	}
	data, err := r.Resolve(t.Path)
	if err != nil {
		return "", nil, err
	}
	img, err := texture.DecodeFile(t.Path, data)
	base := path.Base(strings.ReplaceAll(t.Path, "\\", "/"))
	return fmt.Sprintf("%02d_%s", i, strings.TrimSuffix(base, path.Ext(base))), img, err
}

func writeWebP(name string, img *image.RGBA) error {
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	if err := texture.WriteWebP(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func cmdGRF(args []string) error {
	if len(args) < 2 {
		return errors.New("usage: assettool grf <info|list|extract|pack> <file.grf> ...")
	}
	if args[0] == "pack" {
		return grfPack(args[1], args[2:])
	}
	archive, err := grf.Open(args[1])
	if err != nil {
		return err
	}
	defer archive.Close()

	switch args[0] {
	case "info":
		grfInfo(args[1], archive)
		return nil
	case "list", "ls":
		return grfList(archive, args[2:])
	case "extract", "x":
		return grfExtract(archive, args[2:])
	}
	return fmt.Errorf("unknown grf command %q", args[0])
}

func grfInfo(name string, archive *grf.Archive) {
	files := archive.List()
	hdr := archive.Header()

	extCount := make(map[string]int)
	var totalSize uint64
	models := 0
	reg := formats.DefaultRegistry()
	for _, f := range files {
		ext := formats.Ext(f)
		if ext == "" {
			ext = "(no ext)"
		}
		extCount[ext]++
		if e, ok := archive.Stat(f); ok {
			totalSize += uint64(e.UncompressedSize)
		}
		if _, err := reg.Select(f, nil); err == nil {
			models++
		}
	}

	fmt.Printf("Archive: %s\n", name)
	fmt.Printf("Version: 0x%x\n", hdr.Version)
	fmt.Printf("Files:   %d\n", len(files))
	fmt.Printf("Models:  %d\n", models)
	fmt.Printf("Size:    %.2f MB\n", float64(totalSize)/(1024*1024))
	fmt.Println()
	fmt.Println("Files by type:")

	type extStat struct {
		ext   string
		count int
	}
	var stats []extStat
	for ext, count := range extCount {
		stats = append(stats, extStat{ext, count})
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].count != stats[j].count {
			return stats[i].count > stats[j].count
		}
		return stats[i].ext < stats[j].ext
	})
	for _, s := range stats {
		fmt.Printf("  %-10s %d\n", s.ext, s.count)
	}
}

// matcher compiles a case-insensitive glob over slash paths. A pattern
// without a slash matches base names.
func matcher(pattern string) (func(string) bool, error) {
	if pattern == "" {
		return func(string) bool { return true }, nil
	}
	g, err := glob.Compile(strings.ToLower(pattern), '/')
	if err != nil {
		return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
	}
	baseOnly := !strings.Contains(pattern, "/")
	return func(name string) bool {
		name = strings.ToLower(name)
		if baseOnly {
			name = path.Base(name)
		}
		return g.Match(name)
	}, nil
}

func grfList(archive *grf.Archive, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	limit := fs.Int("n", 0, "Limit output to N files (0 = all)")
	fs.Parse(args)

	match, err := matcher(fs.Arg(0))
	if err != nil {
		return err
	}

	count := 0
	for _, f := range archive.List() {
		if !match(f) {
			continue
		}
		fmt.Println(f)
		count++
		if *limit > 0 && count >= *limit {
			break
		}
	}
	fmt.Fprintf(os.Stderr, "\n(%d files matched)\n", count)
	return nil
}

func grfExtract(archive *grf.Archive, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: assettool grf extract <file.grf> <glob> [output]")
	}
	outputDir := "."
	if len(args) > 1 {
		outputDir = args[1]
	}
	match, err := matcher(args[0])
	if err != nil {
		return err
	}

	extracted := 0
	for _, f := range archive.List() {
		if !match(f) {
			continue
		}
		data, err := archive.Read(f)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading %s: %v\n", f, err)
			continue
		}

		// Preserve directory structure
		rel := filepath.FromSlash(f)
		if !filepath.IsLocal(rel) {
			fmt.Fprintf(os.Stderr, "Skipping %s: escapes the output directory\n", f)
			continue
		}
		outputPath := filepath.Join(outputDir, rel)
		if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(outputPath, data, 0644); err != nil {
			return err
		}
		fmt.Printf("Extracted: %s (%d bytes)\n", outputPath, len(data))
		extracted++
	}
	fmt.Fprintf(os.Stderr, "\nExtracted %d files\n", extracted)
	return nil
}

func grfPack(out string, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: assettool grf pack <file.grf> <dir>")
	}
	root := args[0]
	w := grf.NewWriter()
	err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		return w.Add(filepath.ToSlash(rel), data)
	})
	if err != nil {
		return err
	}

	f, err := os.Create(out)
	if err != nil {
		return err
	}
	n, err := w.WriteTo(f)
	if err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Printf("Packed %d files into %s (%.2f MB)\n", w.Len(), out, float64(n)/(1024*1024))
	return nil
}
