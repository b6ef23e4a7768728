package repository

import (
	"context"
	"strings"

	"github.com/timmy/goldmine/internal/domain"
	"gorm.io/gorm"
)

// ExerciseRepository handles exercise rows and their search text.
type ExerciseRepository struct {
	db *gorm.DB
}

// NewExerciseRepository creates a new ExerciseRepository.
func NewExerciseRepository(db *gorm.DB) *ExerciseRepository {
	return &ExerciseRepository{db: db}
}

// ListByDocument returns the exercises of a document ordered by number.
func (r *ExerciseRepository) ListByDocument(ctx context.Context, documentID uint) ([]domain.Exercise, error) {
	var exercises []domain.Exercise
	if err := r.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("number ASC, id ASC").
		Find(&exercises).Error; err != nil {
		return nil, err
	}
	return exercises, nil
}

// UpdateSearchTexts assigns texts[i] to the i-th exercise of the list, in
// one transaction. The slices must have equal length.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - exercises: exercises in document order.
//   - texts: search text per exercise.
//
// Returns:
//   - int: number of rows whose text changed.
//   - error: non-nil if an update fails.
func (r *ExerciseRepository) UpdateSearchTexts(ctx context.Context, exercises []domain.Exercise, texts []string) (int, error) {
	updated := 0
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range exercises {
			if i >= len(texts) || exercises[i].SearchText == texts[i] {
				continue
			}
			if err := tx.Model(&domain.Exercise{ID: exercises[i].ID}).
				Update("search_text", texts[i]).Error; err != nil {
				return err
			}
			exercises[i].SearchText = texts[i]
			updated++
		}
		return nil
	})
	return updated, err
}

// ClearSearchTexts empties the search text of every exercise of a document.
func (r *ExerciseRepository) ClearSearchTexts(ctx context.Context, documentID uint) (int64, error) {
	res := r.db.WithContext(ctx).Model(&domain.Exercise{}).
		Where("document_id = ? AND search_text <> ''", documentID).
		Update("search_text", "")
	return res.RowsAffected, res.Error
}

// Search matches every query term against exercise titles and search text.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - query: whitespace separated terms, all of which must match.
//   - limit: maximum number of hits.
//
// Returns:
//   - []domain.ExerciseHit: hits ordered by document and exercise number.
//   - error: non-nil if the query fails.
func (r *ExerciseRepository) Search(ctx context.Context, query string, limit int) ([]domain.ExerciseHit, error) {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return []domain.ExerciseHit{}, nil
	}

	q := r.db.WithContext(ctx).
		Table("exercises").
		Select("exercises.*, documents.title AS document_title").
		Joins("JOIN documents ON documents.id = exercises.document_id")
	for _, term := range terms {
		pattern := "%" + escapeLike(term) + "%"
		q = q.Where("(LOWER(exercises.search_text) LIKE ? ESCAPE '\\' OR LOWER(exercises.title) LIKE ? ESCAPE '\\')", pattern, pattern)
	}

	var hits []domain.ExerciseHit
	if err := q.Order("exercises.document_id ASC, exercises.number ASC").Limit(limit).Scan(&hits).Error; err != nil {
		return nil, err
	}
	for i := range hits {
		hits[i].Score = 1
	}
	return hits, nil
}

// GetHits loads exercises by id, keeping the order of ids.
func (r *ExerciseRepository) GetHits(ctx context.Context, ids []uint) ([]domain.ExerciseHit, error) {
	if len(ids) == 0 {
		return []domain.ExerciseHit{}, nil
	}
	var rows []domain.ExerciseHit
	if err := r.db.WithContext(ctx).
		Table("exercises").
		Select("exercises.*, documents.title AS document_title").
		Joins("JOIN documents ON documents.id = exercises.document_id").
		Where("exercises.id IN ?", ids).
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	byID := make(map[uint]domain.ExerciseHit, len(rows))
	for _, row := range rows {
		byID[row.ID] = row
	}
	hits := make([]domain.ExerciseHit, 0, len(ids))
	for _, id := range ids {
		if hit, ok := byID[id]; ok {
			hits = append(hits, hit)
		}
	}
	return hits, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
