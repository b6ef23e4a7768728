package repository

import (
	"context"
	"errors"
	"time"

	"github.com/timmy/goldmine/internal/domain"
	"gorm.io/gorm"
)

// progressColumns are written by every progress snapshot. Status is not
// among them so a snapshot never overwrites a cancellation.
var progressColumns = []string{
	"total_count", "processed_count", "rendered_count", "skipped_count", "failed_count",
	"current_document_id", "pid", "return_code", "error_message", "output_log",
	"failure_details", "updated_at",
}

// RenderJobRepository persists render jobs.
type RenderJobRepository struct {
	db *gorm.DB
}

// NewRenderJobRepository creates a new RenderJobRepository.
func NewRenderJobRepository(db *gorm.DB) *RenderJobRepository {
	return &RenderJobRepository{db: db}
}

// CreateIfIdle inserts job unless another job is queued or running.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - job: new job in queued state; its ID is filled in.
//
// Returns:
//   - error: domain.ErrJobActive on conflict.
func (r *RenderJobRepository) CreateIfIdle(ctx context.Context, job *domain.RenderJob) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var active int64
		if err := tx.Model(&domain.RenderJob{}).
			Where("status IN ?", domain.ActiveJobStatuses).
			Count(&active).Error; err != nil {
			return err
		}
		if active > 0 {
			return domain.ErrJobActive
		}
		return tx.Create(job).Error
	})
}

// Get returns the full job including its log.
func (r *RenderJobRepository) Get(ctx context.Context, id uint) (*domain.RenderJob, error) {
	var job domain.RenderJob
	err := r.db.WithContext(ctx).First(&job, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ListRecent returns the newest jobs without their logs.
func (r *RenderJobRepository) ListRecent(ctx context.Context, limit int) ([]domain.RenderJob, error) {
	var jobs []domain.RenderJob
	if err := r.db.WithContext(ctx).
		Omit("output_log").
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// MarkRunning moves a queued job to running.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - job: job carrying StartedAt and TotalCount.
//
// Returns:
//   - bool: false if the job was no longer queued (e.g. cancelled).
//   - error: non-nil if the update fails.
func (r *RenderJobRepository) MarkRunning(ctx context.Context, job *domain.RenderJob) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.RenderJob{}).
		Where("id = ? AND status = ?", job.ID, domain.JobStatusQueued).
		Updates(map[string]interface{}{
			"status":      domain.JobStatusRunning,
			"started_at":  job.StartedAt,
			"total_count": job.TotalCount,
			"updated_at":  time.Now(),
		})
	return res.RowsAffected > 0, res.Error
}

// SaveProgress writes counters, log and process fields of job.
func (r *RenderJobRepository) SaveProgress(ctx context.Context, job *domain.RenderJob) error {
	return r.db.WithContext(ctx).Model(&domain.RenderJob{ID: job.ID}).
		Select(progressColumns).
		Updates(job).Error
}

// Status returns the stored status of a job.
func (r *RenderJobRepository) Status(ctx context.Context, id uint) (domain.JobStatus, error) {
	var job domain.RenderJob
	err := r.db.WithContext(ctx).Select("id", "status").First(&job, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", domain.ErrNotFound
	}
	return job.Status, err
}

// RequestCancel flips a queued or running job to cancelled. Terminal jobs
// are left alone.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: job ID.
//
// Returns:
//   - domain.JobStatus: the status after the request.
//   - error: domain.ErrNotFound if the job does not exist.
func (r *RenderJobRepository) RequestCancel(ctx context.Context, id uint) (domain.JobStatus, error) {
	var status domain.JobStatus
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job domain.RenderJob
		if err := tx.Select("id", "status").First(&job, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound
			}
			return err
		}
		status = job.Status
		if status.Terminal() {
			return nil
		}
		status = domain.JobStatusCancelled
		return tx.Model(&domain.RenderJob{}).
			Where("id = ? AND status IN ?", id, domain.ActiveJobStatuses).
			Updates(map[string]interface{}{"status": status, "updated_at": time.Now()}).Error
	})
	return status, err
}

// Finish writes the terminal snapshot. A cancellation stored in the
// meantime wins over the computed status, which is updated on job.
func (r *RenderJobRepository) Finish(ctx context.Context, job *domain.RenderJob) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current domain.RenderJob
		if err := tx.Select("id", "status").First(&current, job.ID).Error; err != nil {
			return err
		}
		if current.Status == domain.JobStatusCancelled {
			job.Status = domain.JobStatusCancelled
		}
		cols := append([]string{"status", "finished_at", "started_at"}, progressColumns...)
		return tx.Model(&domain.RenderJob{ID: job.ID}).Select(cols).Updates(job).Error
	})
}

// FailStale marks jobs left queued or running by a previous process as failed.
func (r *RenderJobRepository) FailStale(ctx context.Context, reason string) (int64, error) {
	now := time.Now()
	res := r.db.WithContext(ctx).Model(&domain.RenderJob{}).
		Where("status IN ?", domain.ActiveJobStatuses).
		Updates(map[string]interface{}{
			"status":        domain.JobStatusFailed,
			"error_message": reason,
			"pid":           nil,
			"finished_at":   now,
			"updated_at":    now,
		})
	return res.RowsAffected, res.Error
}
