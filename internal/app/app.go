// Package app wires configuration into the repositories and services shared
// by the goldmine binaries.
package app

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/timmy/goldmine/internal/config"
	"github.com/timmy/goldmine/internal/logger"
	"github.com/timmy/goldmine/internal/renderer"
	"github.com/timmy/goldmine/internal/repository"
	"github.com/timmy/goldmine/internal/service"
	"github.com/timmy/goldmine/internal/storage"
)

// App holds the wired components. Optional parts are nil when disabled.
type App struct {
	Config    *config.Config
	DB        *gorm.DB
	Documents *repository.DocumentRepository
	Exercises *repository.ExerciseRepository
	Jobs      *repository.RenderJobRepository
	Index     *service.SearchIndexService
	Mirror    *service.AssetMirror
	Qdrant    *repository.QdrantRepository
}

// New opens the database and the optional vector index and asset mirror.
// Parameters:
//   - ctx: context for startup round trips (collection and bucket checks).
//   - cfg: loaded configuration.
//
// Returns:
//   - *App: wired components; call Close when done.
//   - error: non-nil if a configured backend cannot be reached.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	a := &App{
		Config:    cfg,
		DB:        db,
		Documents: repository.NewDocumentRepository(db),
		Exercises: repository.NewExerciseRepository(db),
		Jobs:      repository.NewRenderJobRepository(db),
	}

	var (
		vectors   service.VectorIndex
		embedding service.EmbeddingProvider
	)
	if cfg.Qdrant.Enabled {
		if err := cfg.Embedding.Validate(); err != nil {
			a.Close()
			return nil, err
		}
		qdrantRepo, err := repository.NewQdrantRepository(&repository.QdrantConnectionConfig{
			Host:            cfg.Qdrant.Host,
			Port:            cfg.Qdrant.Port,
			Collection:      cfg.Qdrant.Collection,
			APIKey:          cfg.Qdrant.APIKey,
			UseTLS:          cfg.Qdrant.UseTLS,
			VectorDimension: cfg.Embedding.Dimensions,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to initialize Qdrant repository: %w", err)
		}
		a.Qdrant = qdrantRepo
		if err := qdrantRepo.EnsureCollection(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to ensure Qdrant collection: %w", err)
		}
		embedding, err = service.NewEmbeddingProvider(&service.EmbeddingProviderConfig{
			Provider:   cfg.Embedding.Provider,
			Model:      cfg.Embedding.Model,
			APIKey:     cfg.Embedding.APIKey,
			BaseURL:    cfg.Embedding.BaseURL,
			Dimensions: cfg.Embedding.Dimensions,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		vectors = qdrantRepo
		logger.Info("Vector search enabled: collection=%s, model=%s", cfg.Qdrant.Collection, cfg.Embedding.Model)
	}
	a.Index = service.NewSearchIndexService(a.Documents, a.Exercises, vectors, embedding)

	if cfg.Render.MirrorAssets {
		store, err := storage.NewStorage(&cfg.Storage)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		if s3, ok := store.(*storage.S3Storage); ok {
			if err := s3.EnsureBucket(ctx); err != nil {
				a.Close()
				return nil, fmt.Errorf("failed to ensure storage bucket: %w", err)
			}
		}
		a.Mirror = service.NewAssetMirror(store, cfg.Documents.AssetRoot, cfg.Storage.Prefix)
	}
	return a, nil
}

// RenderService builds the per-document pipeline around the configured
// converter.
func (a *App) RenderService() (*service.RenderService, error) {
	cfg := a.Config
	conv, err := renderer.New(renderer.Config{
		Binary:        cfg.Render.Binary,
		Args:          cfg.Render.Args,
		PathFlag:      cfg.Render.PathFlag,
		Timeout:       cfg.Render.Timeout,
		AssetRoot:     cfg.Documents.AssetRoot,
		SearchDirs:    cfg.Render.SearchDirs,
		KeepWorkspace: cfg.Render.KeepWorkspace,
	})
	if err != nil {
		return nil, err
	}
	return service.NewRenderService(a.Documents, conv, a.Index, a.Mirror, service.RenderConfig{
		DocumentRoot:      cfg.Documents.Root,
		SearchDirs:        cfg.Render.SearchDirs,
		SupportedPackages: cfg.Render.SupportedPackages,
		HintCommands:      cfg.Render.HintCommands,
		IndexVectors:      cfg.Render.IndexVectors,
	}), nil
}

// Close releases the vector index connection and the database.
func (a *App) Close() {
	if a.Qdrant != nil {
		if err := a.Qdrant.Close(); err != nil {
			logger.Warn("Closing Qdrant connection failed: %v", err)
		}
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		sqlDB.Close()
	}
}
