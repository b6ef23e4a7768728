package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/timmy/goldmine/internal/domain"
	"github.com/timmy/goldmine/internal/logger"
	"github.com/timmy/goldmine/internal/repository"
	"github.com/timmy/goldmine/internal/searchtext"
	"github.com/timmy/goldmine/internal/telemetry"
)

const (
	defaultSearchLimit = 20
	maxSearchLimit     = 100
)

// VectorIndex stores one vector per exercise.
type VectorIndex interface {
	Upsert(ctx context.Context, vector []float32, payload *repository.ExercisePayload) error
	Search(ctx context.Context, vector []float32, topK int, documentID uint) ([]repository.VectorHit, error)
	DeleteByDocument(ctx context.Context, documentID uint) error
}

// SearchIndexService keeps Exercise.SearchText, and optionally the vector
// index, in sync with the cached HTML of a document.
type SearchIndexService struct {
	docRepo      *repository.DocumentRepository
	exerciseRepo *repository.ExerciseRepository
	vectors      VectorIndex
	embedding    EmbeddingProvider
}

// NewSearchIndexService creates a SearchIndexService. vectors and embedding
// may both be nil, which disables vector indexing and vector search.
func NewSearchIndexService(
	docRepo *repository.DocumentRepository,
	exerciseRepo *repository.ExerciseRepository,
	vectors VectorIndex,
	embedding EmbeddingProvider,
) *SearchIndexService {
	if vectors == nil || embedding == nil {
		vectors, embedding = nil, nil
	}
	return &SearchIndexService{
		docRepo:      docRepo,
		exerciseRepo: exerciseRepo,
		vectors:      vectors,
		embedding:    embedding,
	}
}

// VectorsEnabled reports whether vector indexing is configured.
func (s *SearchIndexService) VectorsEnabled() bool {
	return s.vectors != nil
}

// SegmentResult describes one search-text extraction.
type SegmentResult struct {
	Exercises int
	Found     int
	Updated   int
}

// Mismatch reports whether the HTML segment count differed from the
// exercise count.
func (r SegmentResult) Mismatch() bool {
	return r.Found != r.Exercises
}

// UpdateDocument extracts one search text per exercise from doc.HTMLContent
// and stores them. doc.Exercises must be loaded in document order.
func (s *SearchIndexService) UpdateDocument(ctx context.Context, doc *domain.Document) (SegmentResult, error) {
	res := SegmentResult{Exercises: len(doc.Exercises)}
	if res.Exercises == 0 {
		return res, nil
	}

	texts, found := searchtext.Segment(doc.HTMLContent, res.Exercises)
	res.Found = found
	if res.Mismatch() {
		telemetry.SegmentMismatch.Inc()
		logger.CtxInfo(ctx, "%d: HTML produced %d sections for %d exercises", doc.ID, found, res.Exercises)
	}

	updated, err := s.exerciseRepo.UpdateSearchTexts(ctx, doc.Exercises, texts)
	res.Updated = updated
	if err != nil {
		return res, fmt.Errorf("update search texts: %w", err)
	}
	return res, nil
}

// RebuildStats summarizes a RebuildSearchTexts run.
type RebuildStats struct {
	Documents  int
	Exercises  int
	Updated    int
	Cleared    int64
	Mismatched int
	Skipped    int
}

// RebuildSearchTexts recomputes search texts from cached HTML for one
// document or, when documentID is nil, for all of them. Documents without
// exercises are skipped. Documents whose HTML yields no text keep their old
// search texts unless clearMissing is set.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - documentID: optional single document to rebuild.
//   - clearMissing: empty the search texts of documents with no extractable text.
//
// Returns:
//   - RebuildStats: counters of the run.
//   - error: domain.ErrNotFound when nothing matched, or the first storage error.
func (s *SearchIndexService) RebuildSearchTexts(ctx context.Context, documentID *uint, clearMissing bool) (RebuildStats, error) {
	var stats RebuildStats

	var ids []uint
	if documentID != nil {
		ids = []uint{*documentID}
	} else {
		all, err := s.docRepo.AllIDs(ctx)
		if err != nil {
			return stats, fmt.Errorf("list documents: %w", err)
		}
		ids = all
	}
	if len(ids) == 0 {
		return stats, domain.ErrNotFound
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		doc, err := s.docRepo.GetByID(ctx, id)
		if errors.Is(err, domain.ErrNotFound) && documentID == nil {
			continue
		}
		if err != nil {
			return stats, fmt.Errorf("load document %d: %w", id, err)
		}
		stats.Documents++
		if len(doc.Exercises) == 0 {
			stats.Skipped++
			continue
		}

		docCtx := logger.SetDocumentID(ctx, doc.ID)
		if strings.TrimSpace(searchtext.HTMLToRawText(doc.HTMLContent)) == "" {
			if clearMissing {
				cleared, err := s.exerciseRepo.ClearSearchTexts(docCtx, doc.ID)
				if err != nil {
					return stats, fmt.Errorf("clear search texts of %d: %w", doc.ID, err)
				}
				stats.Cleared += cleared
			}
			stats.Skipped++
			continue
		}

		res, err := s.UpdateDocument(docCtx, doc)
		if err != nil {
			return stats, err
		}
		stats.Exercises += res.Exercises
		stats.Updated += res.Updated
		if res.Mismatch() {
			stats.Mismatched++
		}
		if s.VectorsEnabled() {
			if err := s.IndexDocument(docCtx, doc); err != nil {
				logger.CtxWarn(docCtx, "Vector indexing failed: %v", err)
			}
		}
	}
	return stats, nil
}

// IndexDocument replaces the vectors of doc's exercises. It is a no-op when
// vector indexing is disabled.
func (s *SearchIndexService) IndexDocument(ctx context.Context, doc *domain.Document) error {
	if !s.VectorsEnabled() {
		return nil
	}
	if err := s.vectors.DeleteByDocument(ctx, doc.ID); err != nil {
		return fmt.Errorf("delete vectors: %w", err)
	}

	var (
		exercises []domain.Exercise
		texts     []string
	)
	for _, ex := range doc.Exercises {
		text := embeddingInput(doc, ex)
		if text == "" {
			continue
		}
		exercises = append(exercises, ex)
		texts = append(texts, text)
	}
	if len(texts) == 0 {
		return nil
	}

	vectors, err := s.embedding.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed exercises: %w", err)
	}
	for i, ex := range exercises {
		payload := &repository.ExercisePayload{
			ExerciseID: ex.ID,
			DocumentID: doc.ID,
			Number:     ex.Number,
			Title:      ex.Title,
		}
		if err := s.vectors.Upsert(ctx, vectors[i], payload); err != nil {
			return fmt.Errorf("upsert exercise %d: %w", ex.ID, err)
		}
	}
	logger.With(logger.Fields{logger.FieldCount: len(exercises)}).Debug(ctx, "Indexed exercise vectors")
	return nil
}

// embeddingInput is the text embedded for one exercise.
func embeddingInput(doc *domain.Document, ex domain.Exercise) string {
	body := strings.TrimSpace(ex.SearchText)
	if body == "" {
		return ""
	}
	var parts []string
	for _, p := range []string{doc.Title, ex.Title, body} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "\n")
}

// Search finds exercises matching query. Vector search is used when enabled;
// if it fails the SQL term search answers instead.
func (s *SearchIndexService) Search(ctx context.Context, query string, limit int) ([]domain.ExerciseHit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []domain.ExerciseHit{}, nil
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	if s.VectorsEnabled() {
		hits, err := s.vectorSearch(ctx, query, limit)
		if err == nil {
			return hits, nil
		}
		logger.CtxWarn(ctx, "Vector search failed, using text search: %v", err)
	}
	return s.exerciseRepo.Search(ctx, query, limit)
}

func (s *SearchIndexService) vectorSearch(ctx context.Context, query string, limit int) ([]domain.ExerciseHit, error) {
	vector, err := s.embedding.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	results, err := s.vectors.Search(ctx, vector, limit, 0)
	if err != nil {
		return nil, err
	}
	ids := make([]uint, len(results))
	scores := make(map[uint]float32, len(results))
	for i, r := range results {
		ids[i] = r.ExerciseID
		scores[r.ExerciseID] = r.Score
	}
	hits, err := s.exerciseRepo.GetHits(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range hits {
		hits[i].Score = scores[hits[i].ID]
	}
	return hits, nil
}
