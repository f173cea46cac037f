// Package config handles scenekit tool configuration loading and management.
package config

import "time"

// Config holds all tool settings.
type Config struct {
	Import      ImportConfig      `yaml:"import"`
	PostProcess PostProcessConfig `yaml:"post_process"`
	Data        DataConfig        `yaml:"data"`
	Harness     HarnessConfig     `yaml:"harness"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ImportConfig bounds what the importer accepts.
type ImportConfig struct {
	MaxSourceMB    int  `yaml:"max_source_mb"`   // 0 = unlimited
	MaxElements    int  `yaml:"max_elements"`    // per declared count
	DecodeTextures bool `yaml:"decode_textures"` // expand embedded images to RGBA
}

// PostProcessConfig selects and tunes post-processing passes.
type PostProcessConfig struct {
	Flags   []string `yaml:"flags"`   // pass or preset names
	Workers int      `yaml:"workers"` // 0 = GOMAXPROCS
	Epsilon float32  `yaml:"epsilon"` // vertex join tolerance
}

// DataConfig holds asset locations.
type DataConfig struct {
	GRFPaths []string `yaml:"grf_paths"` // Archives consulted for sibling files
	Dirs     []string `yaml:"dirs"`      // Model directories walked by quicktest
	CacheMB  int      `yaml:"cache_mb"`  // Archive read cache, 0 = default, <0 = off
}

// HarnessConfig holds quicktest settings.
type HarnessConfig struct {
	Workers int           `yaml:"workers"`
	Skip    []string      `yaml:"skip"` // glob patterns, matched against slash paths
	Timeout time.Duration `yaml:"timeout"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogFile string `yaml:"log_file"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Import: ImportConfig{
			MaxSourceMB:    256,
			MaxElements:    1 << 26,
			DecodeTextures: false,
		},
		PostProcess: PostProcessConfig{
			Flags:   []string{"TargetRealtimeQuality"},
			Workers: 0,
			Epsilon: 0,
		},
		Data: DataConfig{
			Dirs: []string{"testdata/models"},
		},
		Harness: HarnessConfig{
			Workers: 4,
			Skip:    []string{"**.txt", "**.md"},
			Timeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:   "info",
			LogFile: "",
		},
	}
}
