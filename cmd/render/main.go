package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/timmy/goldmine/internal/app"
	"github.com/timmy/goldmine/internal/config"
	"github.com/timmy/goldmine/internal/logger"
)

// render <documentIds...> [--force]
//
// Renders the given documents, or all of them, and writes one progress line
// per document to stdout. Document failures do not change the exit code.
func main() {
	force := flag.Bool("force", false, "Re-render even when the source checksum is unchanged")
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "Path to config file")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [documentId...] [--force]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	ids, err := parseIDs(flag.Args())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// stdout carries the progress protocol, logs go to stderr
	logCfg := cfg.Log.LoggerConfig("goldmine-render")
	logCfg.Output = os.Stderr
	appLogger := logger.New(logCfg)
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		appLogger.WithError(err).Error("Failed to initialize")
		os.Exit(1)
	}
	defer a.Close()

	renderService, err := a.RenderService()
	if err != nil {
		appLogger.WithError(err).Error("Failed to initialize renderer")
		os.Exit(1)
	}

	stats, err := renderService.RenderMany(ctx, ids, *force, os.Stdout)
	appLogger.WithFields(logger.Fields{
		"total":    stats.Total,
		"rendered": stats.Rendered,
		"skipped":  stats.Skipped,
		"failed":   stats.Failed,
		"force":    *force,
	}).Info("Render run finished")
	if err != nil {
		appLogger.WithError(err).Error("Render run aborted")
		os.Exit(1)
	}
}

func parseIDs(args []string) ([]uint, error) {
	ids := make([]uint, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseUint(arg, 10, 64)
		if err != nil || id == 0 {
			return nil, fmt.Errorf("invalid document id %q", arg)
		}
		ids = append(ids, uint(id))
	}
	return ids, nil
}
