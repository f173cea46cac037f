package config

import (
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Faultbox/scenekit/internal/assets"
	"github.com/Faultbox/scenekit/pkg/formats"
	"github.com/Faultbox/scenekit/pkg/importer"
	"github.com/Faultbox/scenekit/pkg/postprocess"
	"github.com/Faultbox/scenekit/pkg/texture"
)

// ParsedFlags resolves the configured pass names and rejects
// combinations the pipeline cannot run.
func (c PostProcessConfig) ParsedFlags() (postprocess.Flags, error) {
	flags, err := postprocess.ParseFlags(c.Flags)
	if err != nil {
		return 0, err
	}
	if err := postprocess.Check(flags); err != nil {
		return 0, err
	}
	return flags, nil
}

// ImporterOptions turns the import and post-processing settings into
// importer options.
func (c *Config) ImporterOptions(log *zap.Logger) []importer.Option {
	limits := formats.DefaultLimits()
	if c.Import.MaxElements > 0 {
		limits.MaxElements = c.Import.MaxElements
	}
	opts := []importer.Option{
		importer.WithLogger(log),
		importer.WithLimits(limits),
		importer.WithPostProcessConfig(postprocess.Config{
			Workers: c.PostProcess.Workers,
			Epsilon: c.PostProcess.Epsilon,
			Logger:  log,
		}),
	}
	if c.Import.MaxSourceMB > 0 {
		opts = append(opts, importer.WithMaxSourceSize(int64(c.Import.MaxSourceMB)<<20))
	}
	if c.Import.DecodeTextures {
		opts = append(opts, importer.WithTextureDecoder(texture.StdDecoder{}))
	}
	return opts
}

// OpenAssets opens every configured GRF archive into an asset manager.
// On failure the archives opened so far are closed again.
func (c *Config) OpenAssets() (*assets.Manager, error) {
	m := assets.NewManager(int64(c.Data.CacheMB) << 20)
	for _, path := range c.Data.GRFPaths {
		if err := m.AddArchive(path); err != nil {
			return nil, multierr.Append(err, m.Close())
		}
	}
	return m, nil
}
