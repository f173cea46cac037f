package config

import (
	"flag"
	"strings"
)

var (
	flagConfig  = flag.String("config", "", "Path to config file")
	flagDebug   = flag.Bool("debug", false, "Enable debug logging")
	flagFlags   = flag.String("flags", "", "Post-processing passes, e.g. Triangulate,GenNormals")
	flagWorkers = flag.Int("workers", 0, "Number of files imported in parallel")
	flagGRF     = flag.String("grf", "", "Comma-separated GRF archives to resolve sibling files from")
)

// ParseFlags parses command-line flags. Call this early in main().
func ParseFlags() {
	flag.Parse()
}

// ConfigPath returns the explicit config path if provided via --config flag.
func ConfigPath() string {
	return *flagConfig
}

// applyFlags applies CLI flag overrides to the config.
func applyFlags(cfg *Config) {
	if *flagDebug {
		cfg.Logging.Level = "debug"
	}
	if *flagFlags != "" {
		cfg.PostProcess.Flags = []string{*flagFlags}
	}
	if *flagWorkers > 0 {
		cfg.Harness.Workers = *flagWorkers
	}
	if *flagGRF != "" {
		for _, p := range strings.Split(*flagGRF, ",") {
			if p = strings.TrimSpace(p); p != "" {
				cfg.Data.GRFPaths = append(cfg.Data.GRFPaths, p)
			}
		}
	}
}
