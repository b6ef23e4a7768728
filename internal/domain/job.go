package domain

import (
	"time"

	"gorm.io/datatypes"
)

// JobStatus is the lifecycle state of a RenderJob:
// queued -> running -> succeeded | failed | cancelled.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// ActiveJobStatuses are the states that block creation of another job.
var ActiveJobStatuses = []JobStatus{JobStatusQueued, JobStatusRunning}

// JobScope selects which documents a RenderJob renders.
type JobScope string

const (
	JobScopeAll       JobScope = "all"
	JobScopeDocuments JobScope = "documents"
)

// RenderJob is one supervised batch render. Counters satisfy
// Processed == Rendered + Skipped + Failed and Processed <= Total.
type RenderJob struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	Status            JobStatus `gorm:"type:text;not null;default:queued;index:idx_render_jobs_status" json:"status"`
	Scope             JobScope  `gorm:"type:text;not null" json:"scope"`
	DocumentIDs       IDList    `gorm:"type:text" json:"document_ids"`
	Force             bool      `gorm:"default:false" json:"force"`
	TotalCount        int       `gorm:"default:0" json:"total_count"`
	ProcessedCount    int       `gorm:"default:0" json:"processed_count"`
	RenderedCount     int       `gorm:"default:0" json:"rendered_count"`
	SkippedCount      int       `gorm:"default:0" json:"skipped_count"`
	FailedCount       int       `gorm:"default:0" json:"failed_count"`
	CurrentDocumentID *uint     `json:"current_document_id"`
	PID               *int      `gorm:"column:pid" json:"pid"`
	ReturnCode        *int      `json:"return_code"`
	ErrorMessage      string    `gorm:"type:text" json:"error_message"`
	OutputLog         string    `gorm:"type:text" json:"output_log,omitempty"`

	// FailureDetails maps a document id to the failure text its render reported.
	FailureDetails datatypes.JSONMap `gorm:"type:text" json:"failure_details,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// TableName returns the table name for RenderJob.
func (RenderJob) TableName() string {
	return "render_jobs"
}

// Summary returns a copy of j without the output log, as used by list views.
func (j RenderJob) Summary() RenderJob {
	j.OutputLog = ""
	return j
}
