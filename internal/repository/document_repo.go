package repository

import (
	"context"
	"errors"
	"time"

	"github.com/timmy/goldmine/internal/domain"
	"gorm.io/gorm"
)

// DocumentRepository handles document rows and their render cache.
type DocumentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository creates a new DocumentRepository.
// Parameters:
//   - db: GORM database handle used for queries.
//
// Returns:
//   - *DocumentRepository: repository instance bound to db.
func NewDocumentRepository(db *gorm.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// Create inserts a document together with its exercises.
func (r *DocumentRepository) Create(ctx context.Context, doc *domain.Document) error {
	return r.db.WithContext(ctx).Create(doc).Error
}

// GetByID retrieves a document with its exercises ordered by number.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: document ID.
//
// Returns:
//   - *domain.Document: the document.
//   - error: domain.ErrNotFound if no document has this id.
func (r *DocumentRepository) GetByID(ctx context.Context, id uint) (*domain.Document, error) {
	var doc domain.Document
	err := r.db.WithContext(ctx).
		Preload("Exercises", func(db *gorm.DB) *gorm.DB { return db.Order("number ASC, id ASC") }).
		First(&doc, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// Count returns the number of documents.
func (r *DocumentRepository) Count(ctx context.Context) (int, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.Document{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// AllIDs returns every document id in ascending order.
func (r *DocumentRepository) AllIDs(ctx context.Context) ([]uint, error) {
	var ids []uint
	if err := r.db.WithContext(ctx).Model(&domain.Document{}).Order("id ASC").Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// ExistingIDs returns the subset of ids that exist.
func (r *DocumentRepository) ExistingIDs(ctx context.Context, ids []uint) ([]uint, error) {
	if len(ids) == 0 {
		return []uint{}, nil
	}
	var found []uint
	if err := r.db.WithContext(ctx).Model(&domain.Document{}).
		Where("id IN ?", ids).
		Order("id ASC").
		Pluck("id", &found).Error; err != nil {
		return nil, err
	}
	return found, nil
}

// SaveRender writes the render fields of doc. Nothing else is touched.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - doc: document carrying the new render state.
//
// Returns:
//   - error: non-nil if the update fails.
func (r *DocumentRepository) SaveRender(ctx context.Context, doc *domain.Document) error {
	return r.db.WithContext(ctx).Model(&domain.Document{ID: doc.ID}).
		Select("html_content", "render_status", "render_log", "tex_checksum", "html_rendered_at").
		Updates(doc).Error
}

// SaveRenderFailure records a render that failed before producing HTML.
// The cached HTML and checksum are kept.
func (r *DocumentRepository) SaveRenderFailure(ctx context.Context, id uint, log string) error {
	return r.db.WithContext(ctx).Model(&domain.Document{ID: id}).
		Updates(map[string]interface{}{
			"render_status": domain.RenderStatusFailed,
			"render_log":    log,
			"updated_at":    time.Now(),
		}).Error
}
