package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/timmy/goldmine/internal/app"
	"github.com/timmy/goldmine/internal/config"
	"github.com/timmy/goldmine/internal/domain"
	"github.com/timmy/goldmine/internal/logger"
)

// reindex [--document-id N] [--clear-missing]
//
// Recomputes exercise search texts from the cached HTML, and the vector
// index when it is enabled, without re-running the converter.
func main() {
	documentID := flag.Uint("document-id", 0, "Only rebuild this document")
	clearMissing := flag.Bool("clear-missing", false, "Clear search texts of documents without cached HTML")
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	appLogger := logger.New(cfg.Log.LoggerConfig("goldmine-reindex"))
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

	var target *uint
	if *documentID > 0 {
		id := *documentID
		target = &id
	}

	stats, err := a.Index.RebuildSearchTexts(ctx, target, *clearMissing)
	if errors.Is(err, domain.ErrNotFound) {
		appLogger.Warn("No matching documents")
		return
	}
	if err != nil {
		appLogger.WithError(err).Error("Rebuild failed")
		os.Exit(1)
	}

	appLogger.WithFields(logger.Fields{
		"documents":  stats.Documents,
		"exercises":  stats.Exercises,
		"updated":    stats.Updated,
		"cleared":    stats.Cleared,
		"mismatched": stats.Mismatched,
		"skipped":    stats.Skipped,
		"vectors":    a.Index.VectorsEnabled(),
	}).Info("Search texts rebuilt")
}
