// Package supervisor drives render jobs: it spawns render children, turns
// their progress lines into counters, persists throttled snapshots and
// handles cancellation.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/timmy/goldmine/internal/domain"
	"github.com/timmy/goldmine/internal/logger"
	"github.com/timmy/goldmine/internal/telemetry"
)

const (
	DefaultFlushInterval = 600 * time.Millisecond
	DefaultLogLimit      = 200000
	DefaultListLimit     = 25
	MaxListLimit         = 200
)

var (
	ErrInvalidScope     = errors.New("scope must be \"all\" or \"documents\"")
	ErrNoDocuments      = errors.New("no document ids given")
	ErrUnknownDocuments = errors.New("unknown document ids")
	ErrJobActive        = domain.ErrJobActive
	ErrShuttingDown     = errors.New("supervisor shutting down")
)

// JobStore persists render jobs.
type JobStore interface {
	CreateIfIdle(ctx context.Context, job *domain.RenderJob) error
	Get(ctx context.Context, id uint) (*domain.RenderJob, error)
	ListRecent(ctx context.Context, limit int) ([]domain.RenderJob, error)
	MarkRunning(ctx context.Context, job *domain.RenderJob) (bool, error)
	SaveProgress(ctx context.Context, job *domain.RenderJob) error
	Status(ctx context.Context, id uint) (domain.JobStatus, error)
	RequestCancel(ctx context.Context, id uint) (domain.JobStatus, error)
	Finish(ctx context.Context, job *domain.RenderJob) error
	FailStale(ctx context.Context, reason string) (int64, error)
}

// DocumentIndex resolves the document set of a job.
type DocumentIndex interface {
	AllIDs(ctx context.Context) ([]uint, error)
	ExistingIDs(ctx context.Context, ids []uint) ([]uint, error)
}

// Notifier receives every persisted snapshot. It must not block.
type Notifier func(job domain.RenderJob)

// Config tunes the driver.
type Config struct {
	FlushInterval time.Duration
	LogLimit      int
}

// CreateRequest describes a new job.
type CreateRequest struct {
	Scope       domain.JobScope `json:"scope"`
	DocumentIDs []uint          `json:"document_ids"`
	Force       bool            `json:"force"`
}

// Supervisor owns the job lifecycle.
type Supervisor struct {
	store    JobStore
	docs     DocumentIndex
	launcher Launcher
	registry *Registry
	cfg      Config
	stopping atomic.Bool

	mu       sync.Mutex
	wg       sync.WaitGroup
	notifyMu sync.RWMutex
	notify   []Notifier
}

// New creates a Supervisor.
// Parameters:
//   - store: job persistence.
//   - docs: document id lookup.
//   - launcher: starts render children.
//   - cfg: flush interval and log limit; zero values use the defaults.
//
// Returns:
//   - *Supervisor: ready to accept jobs.
func New(store JobStore, docs DocumentIndex, launcher Launcher, cfg Config) *Supervisor {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.LogLimit <= 0 {
		cfg.LogLimit = DefaultLogLimit
	}
	return &Supervisor{
		store:    store,
		docs:     docs,
		launcher: launcher,
		registry: NewRegistry(),
		cfg:      cfg,
	}
}

// Subscribe adds a snapshot notifier.
func (s *Supervisor) Subscribe(n Notifier) {
	s.notifyMu.Lock()
	s.notify = append(s.notify, n)
	s.notifyMu.Unlock()
}

func (s *Supervisor) publish(job *domain.RenderJob) {
	s.notifyMu.RLock()
	defer s.notifyMu.RUnlock()
	if len(s.notify) == 0 {
		return
	}
	snapshot := job.Summary()
	snapshot.FailureDetails = copyDetails(job.FailureDetails)
	for _, n := range s.notify {
		n(snapshot)
	}
}

// Recover fails jobs left queued or running by a previous process.
func (s *Supervisor) Recover(ctx context.Context) error {
	n, err := s.store.FailStale(ctx, "render supervisor restarted before the job finished")
	if err != nil {
		return fmt.Errorf("fail stale jobs: %w", err)
	}
	if n > 0 {
		logger.CtxWarn(ctx, "Marked %d stale render jobs as failed", n)
	}
	return nil
}

// Create validates req, stores a queued job and starts driving it.
// Parameters:
//   - ctx: request context; the driver outlives it.
//   - req: scope, explicit ids and force flag.
//
// Returns:
//   - *domain.RenderJob: the initial snapshot.
//   - error: ErrInvalidScope, ErrNoDocuments, ErrUnknownDocuments or ErrJobActive.
func (s *Supervisor) Create(ctx context.Context, req CreateRequest) (*domain.RenderJob, error) {
	ids, err := s.resolveDocuments(ctx, req)
	if err != nil {
		return nil, err
	}

	job := &domain.RenderJob{
		Status:     domain.JobStatusQueued,
		Scope:      req.Scope,
		Force:      req.Force,
		TotalCount: len(ids),
	}
	if req.Scope == domain.JobScopeDocuments {
		job.DocumentIDs = ids
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.CreateIfIdle(ctx, job); err != nil {
		if errors.Is(err, ErrJobActive) {
			telemetry.JobsRejected.Inc()
		}
		return nil, err
	}
	telemetry.JobsCreated.Inc()

	snapshot := *job
	jobCtx := logger.SetJobID(context.WithoutCancel(ctx), job.ID)
	logger.CtxInfo(jobCtx, "Render job created: scope=%s documents=%d force=%v", job.Scope, len(ids), job.Force)

	s.wg.Add(1)
	go s.drive(jobCtx, job, ids)
	return &snapshot, nil
}

func (s *Supervisor) resolveDocuments(ctx context.Context, req CreateRequest) (domain.IDList, error) {
	switch req.Scope {
	case domain.JobScopeAll:
		ids, err := s.docs.AllIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("list documents: %w", err)
		}
		return ids, nil
	case domain.JobScopeDocuments:
		ids := domain.IDList(req.DocumentIDs).Normalized()
		if len(ids) == 0 {
			return nil, ErrNoDocuments
		}
		existing, err := s.docs.ExistingIDs(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("look up documents: %w", err)
		}
		if len(existing) != len(ids) {
			found := domain.IDList(existing)
			var missing []uint
			for _, id := range ids {
				if !found.Contains(id) {
					missing = append(missing, id)
				}
			}
			return nil, fmt.Errorf("%w: %v", ErrUnknownDocuments, missing)
		}
		return ids, nil
	}
	return nil, ErrInvalidScope
}

// Get returns the full snapshot of a job.
func (s *Supervisor) Get(ctx context.Context, id uint) (*domain.RenderJob, error) {
	return s.store.Get(ctx, id)
}

// List returns recent jobs without logs. limit is clamped to 1..MaxListLimit.
func (s *Supervisor) List(ctx context.Context, limit int) ([]domain.RenderJob, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	return s.store.ListRecent(ctx, limit)
}

// Cancel requests cancellation and signals the active child, if any.
// Terminal jobs keep their status.
func (s *Supervisor) Cancel(ctx context.Context, id uint) (domain.JobStatus, error) {
	status, err := s.store.RequestCancel(ctx, id)
	if err != nil {
		return "", err
	}
	if status == domain.JobStatusCancelled && s.registry.Terminate(id) {
		logger.CtxInfo(logger.SetJobID(ctx, id), "Signalled render child after cancel request")
	}
	return status, nil
}

// Shutdown stops drivers from launching further children, signals the active
// ones and waits for drivers to finish or ctx to end. Interrupted jobs fail
// with ErrShuttingDown.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.stopping.Store(true)
	if n := s.registry.TerminateAll(); n > 0 {
		logger.CtxWarn(ctx, "Terminated %d render children on shutdown", n)
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every started driver has returned.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

func copyDetails(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
