package domain

import "time"

// RenderStatus is the outcome of the last render of a Document.
type RenderStatus string

const (
	RenderStatusNotRendered RenderStatus = "not_rendered"
	RenderStatusOK          RenderStatus = "ok"
	RenderStatusFailed      RenderStatus = "failed"
)

// Document is one exercise sheet. SemesterPath is the sandbox directory
// relative to the document root; TexFile and PDFFile are relative to it.
// The render fields are written only by the render pipeline.
type Document struct {
	ID           uint   `gorm:"primaryKey" json:"id"`
	Number       int    `gorm:"default:0" json:"number"`
	Title        string `gorm:"type:text" json:"title"`
	SemesterPath string `gorm:"type:text;not null" json:"semester_path"`
	TexFile      string `gorm:"type:text" json:"tex_file"`
	PDFFile      string `gorm:"type:text" json:"pdf_file,omitempty"`

	HTMLContent    string       `gorm:"type:text" json:"-"`
	RenderStatus   RenderStatus `gorm:"type:text;default:not_rendered;index" json:"render_status"`
	RenderLog      string       `gorm:"type:text" json:"render_log,omitempty"`
	TexChecksum    string       `gorm:"type:text" json:"tex_checksum,omitempty"`
	HTMLRenderedAt *time.Time   `json:"html_rendered_at,omitempty"`

	Exercises []Exercise `gorm:"foreignKey:DocumentID" json:"exercises,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// TableName returns the table name for Document.
func (Document) TableName() string {
	return "documents"
}

// Exercise is one exercise of a Document. The number of exercise rows of a
// document is the expected segment count for search-text extraction.
type Exercise struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	DocumentID uint      `gorm:"not null;index:idx_exercises_document" json:"document_id"`
	Number     int       `gorm:"not null;index:idx_exercises_document" json:"number"`
	Title      string    `gorm:"type:text" json:"title"`
	SearchText string    `gorm:"type:text" json:"search_text"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TableName returns the table name for Exercise.
func (Exercise) TableName() string {
	return "exercises"
}

// ExerciseHit is a search result.
type ExerciseHit struct {
	Exercise
	DocumentTitle string  `json:"document_title"`
	Score         float32 `json:"score"`
}
