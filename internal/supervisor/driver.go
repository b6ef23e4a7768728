package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/timmy/goldmine/internal/domain"
	"github.com/timmy/goldmine/internal/logger"
	"github.com/timmy/goldmine/internal/progress"
	"github.com/timmy/goldmine/internal/telemetry"
)

const maxLineSize = 1 << 20

// driver is the single goroutine that owns one job's in-memory state.
type driver struct {
	s         *Supervisor
	job       *domain.RenderJob
	tracker   *Tracker
	log       *LogBuffer
	lastFlush time.Time
	cancelled bool
	stopped   bool
}

func (s *Supervisor) drive(ctx context.Context, job *domain.RenderJob, ids []uint) {
	defer s.wg.Done()
	telemetry.ActiveJobs.Inc()
	defer telemetry.ActiveJobs.Dec()

	d := &driver{
		s:       s,
		job:     job,
		tracker: NewTracker(ids),
		log:     NewLogBuffer(s.cfg.LogLimit),
	}

	defer func() {
		if r := recover(); r != nil {
			logger.CtxError(ctx, "Render job panicked: %v", r)
			d.finish(ctx, 0, fmt.Errorf("render job panicked: %v", r))
		}
	}()

	start := time.Now()
	rc, err := d.run(ctx, ids)
	d.finish(ctx, rc, err)
	logger.With(logger.Fields{
		logger.FieldDurationMs: time.Since(start).Milliseconds(),
		logger.FieldCount:      d.job.ProcessedCount,
		logger.FieldStatus:     string(d.job.Status),
	}).Info(ctx, "Render job finished: rendered=%d skipped=%d failed=%d", d.job.RenderedCount, d.job.SkippedCount, d.job.FailedCount)
}

// run executes the children and returns the first non-zero exit code.
func (d *driver) run(ctx context.Context, ids []uint) (int, error) {
	now := time.Now()
	d.job.StartedAt = &now
	d.tracker.Apply(d.job)
	started, err := d.s.store.MarkRunning(ctx, d.job)
	if err != nil {
		return 0, fmt.Errorf("mark job running: %w", err)
	}
	if !started {
		d.cancelled = true
		return 0, nil
	}
	d.job.Status = domain.JobStatusRunning
	d.s.publish(d.job)

	if d.job.Scope == domain.JobScopeAll {
		if d.isStopping() {
			return 0, nil
		}
		return d.runChild(ctx, childArgs(nil, d.job.Force))
	}

	rc := 0
	for _, id := range ids {
		if d.isStopping() || d.isCancelled(ctx) {
			break
		}
		code, err := d.runChild(ctx, childArgs([]uint{id}, d.job.Force))
		if err != nil {
			return rc, err
		}
		if rc == 0 {
			rc = code
		}
	}
	return rc, nil
}

func childArgs(ids []uint, force bool) []string {
	args := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		args = append(args, strconv.FormatUint(uint64(id), 10))
	}
	if force {
		args = append(args, "--force")
	}
	return args
}

func (d *driver) runChild(ctx context.Context, args []string) (int, error) {
	proc, err := d.s.launcher.Launch(ctx, args)
	if err != nil {
		return -1, err
	}
	d.s.registry.Register(d.job.ID, proc)
	defer d.s.registry.Release(d.job.ID, proc)
	// Shutdown may have signalled the registry between the loop check and Register.
	if d.isStopping() {
		d.s.registry.Terminate(d.job.ID)
	}

	pid := proc.Pid()
	d.job.PID = &pid
	d.flush(ctx, true)

	scanner := bufio.NewScanner(proc.Output())
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		if !d.cancelled && d.isCancelled(ctx) {
			d.s.registry.Terminate(d.job.ID)
		}
		d.handleLine(scanner.Text())
		d.flush(ctx, false)
	}
	if err := scanner.Err(); err != nil {
		logger.CtxWarn(ctx, "Reading render output failed: %v", err)
	}

	code, err := proc.Wait()
	d.job.PID = nil
	if err != nil {
		return -1, fmt.Errorf("wait for render child: %w", err)
	}
	d.job.ReturnCode = &code
	return code, nil
}

func (d *driver) handleLine(line string) {
	d.log.Append(line + "\n")
	ev, ok := progress.Parse(line)
	if !ok {
		return
	}
	if d.tracker.Observe(ev) {
		telemetry.JobDocuments.WithLabelValues(ev.Kind.String()).Inc()
	}
}

func (d *driver) isStopping() bool {
	if !d.stopped && d.s.stopping.Load() {
		d.stopped = true
	}
	return d.stopped
}

func (d *driver) isCancelled(ctx context.Context) bool {
	if d.cancelled {
		return true
	}
	status, err := d.s.store.Status(ctx, d.job.ID)
	if err != nil {
		logger.CtxWarn(ctx, "Polling job status failed: %v", err)
		return false
	}
	d.cancelled = status == domain.JobStatusCancelled
	return d.cancelled
}

// flush persists counters and log at most once per interval unless force is set.
func (d *driver) flush(ctx context.Context, force bool) {
	if !force && time.Since(d.lastFlush) < d.s.cfg.FlushInterval {
		return
	}
	d.lastFlush = time.Now()
	d.tracker.Apply(d.job)
	d.job.OutputLog = d.log.String()
	if err := d.s.store.SaveProgress(ctx, d.job); err != nil {
		logger.CtxWarn(ctx, "Saving job progress failed: %v", err)
		return
	}
	d.s.publish(d.job)
}

// finish computes and writes the terminal snapshot.
func (d *driver) finish(ctx context.Context, rc int, runErr error) {
	now := time.Now()
	d.tracker.Apply(d.job)
	d.job.OutputLog = d.log.String()
	d.job.PID = nil
	d.job.FinishedAt = &now
	if d.job.ReturnCode != nil {
		d.job.ReturnCode = &rc
	}
	if d.job.StartedAt == nil {
		d.job.StartedAt = &now
	}

	switch {
	case d.cancelled:
		d.job.Status = domain.JobStatusCancelled
	case d.stopped:
		d.job.Status = domain.JobStatusFailed
		d.job.ErrorMessage = ErrShuttingDown.Error()
	case runErr != nil:
		d.job.Status = domain.JobStatusFailed
		d.job.ErrorMessage = runErr.Error()
	case rc != 0 || d.tracker.Failed() > 0:
		d.job.Status = domain.JobStatusFailed
	default:
		d.job.Status = domain.JobStatusSucceeded
	}
	if runErr != nil && d.job.ErrorMessage == "" {
		d.job.ErrorMessage = runErr.Error()
	}

	if err := d.s.store.Finish(ctx, d.job); err != nil {
		logger.CtxError(ctx, "Writing final job snapshot failed: %v", err)
	}
	telemetry.JobsFinished.WithLabelValues(string(d.job.Status)).Inc()
	d.s.publish(d.job)
}
