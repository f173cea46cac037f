// quicktest imports every model under the configured data directories and
// reports which ones load, which fail cleanly and which fail badly.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/Faultbox/scenekit/internal/config"
	"github.com/Faultbox/scenekit/internal/logger"
	"github.com/Faultbox/scenekit/pkg/importer"
)

func main() {
	config.ParseFlags()
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.LogFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}
	defer logger.Sync()

	dirs := cfg.Data.Dirs
	if args := flag.Args(); len(args) > 0 {
		dirs = args
	}

	flags, err := cfg.PostProcess.ParsedFlags()
	if err != nil {
		logger.Error(err.Error())
		return 2
	}
	skip, err := compileSkips(cfg.Harness.Skip)
	if err != nil {
		logger.Error(err.Error())
		return 2
	}

	archives, err := cfg.OpenAssets()
	if err != nil {
		logger.Error(err.Error())
		return 2
	}
	defer archives.Close()

	opts := cfg.ImporterOptions(logger.Named("importer"))
	if archives.Len() > 0 {
		opts = append(opts, importer.WithFallbackResolver(archives))
	}
	h := &harness{
		imp:     importer.New(opts...),
		flags:   flags,
		workers: cfg.Harness.Workers,
		timeout: cfg.Harness.Timeout,
		skip:    skip,
		log:     logger.Named("quicktest"),
	}

	files, skipped, err := h.collect(dirs)
	if err != nil {
		logger.Error(err.Error())
		return 2
	}
	logger.Sugar.Infof("importing %d files with %d workers (passes %v)", len(files), h.workers, flags)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	sum := report(os.Stdout, h.run(ctx, files), skipped)
	if sum.Unhandled > 0 {
		return 1
	}
	return 0
}
