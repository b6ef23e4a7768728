package supervisor

import (
	"strconv"
	"unicode/utf8"

	"github.com/timmy/goldmine/internal/domain"
	"github.com/timmy/goldmine/internal/progress"
	"gorm.io/datatypes"
)

// Tracker turns progress events into job counters. Each document is
// counted at most once and only documents of the job are counted.
type Tracker struct {
	allowed  map[uint]bool
	total    int
	outcome  map[uint]progress.Kind
	failures map[uint]string
	current  *uint

	rendered int
	skipped  int
	failed   int
}

// NewTracker tracks the given document set.
func NewTracker(ids []uint) *Tracker {
	allowed := make(map[uint]bool, len(ids))
	for _, id := range ids {
		allowed[id] = true
	}
	return &Tracker{
		allowed:  allowed,
		total:    len(allowed),
		outcome:  make(map[uint]progress.Kind, len(allowed)),
		failures: map[uint]string{},
	}
}

// Observe records ev. It reports whether a counter moved.
func (t *Tracker) Observe(ev progress.Event) bool {
	if !t.allowed[ev.DocumentID] {
		return false
	}
	id := ev.DocumentID
	t.current = &id

	if ev.Kind == progress.Info {
		return false
	}
	if _, done := t.outcome[id]; done || t.Processed() >= t.total {
		return false
	}
	t.outcome[id] = ev.Kind
	switch ev.Kind {
	case progress.Rendered:
		t.rendered++
	case progress.Skipped:
		t.skipped++
	default:
		t.failed++
		t.failures[id] = ev.Message
	}
	return true
}

// Processed returns the number of documents with an outcome.
func (t *Tracker) Processed() int {
	return t.rendered + t.skipped + t.failed
}

// Failed returns the number of failed documents.
func (t *Tracker) Failed() int {
	return t.failed
}

// Apply copies the counters onto job.
func (t *Tracker) Apply(job *domain.RenderJob) {
	job.TotalCount = t.total
	job.ProcessedCount = t.Processed()
	job.RenderedCount = t.rendered
	job.SkippedCount = t.skipped
	job.FailedCount = t.failed
	job.CurrentDocumentID = t.current
	if len(t.failures) == 0 {
		job.FailureDetails = nil
		return
	}
	details := make(datatypes.JSONMap, len(t.failures))
	for id, msg := range t.failures {
		details[strconv.FormatUint(uint64(id), 10)] = msg
	}
	job.FailureDetails = details
}

// LogBuffer keeps the tail of the combined child output.
type LogBuffer struct {
	limit int
	buf   []byte
}

// NewLogBuffer keeps at most limit bytes. A non-positive limit keeps everything.
func NewLogBuffer(limit int) *LogBuffer {
	return &LogBuffer{limit: limit}
}

// Append adds a chunk and drops the oldest bytes beyond the limit, never
// splitting a UTF-8 sequence.
func (b *LogBuffer) Append(chunk string) {
	b.buf = append(b.buf, chunk...)
	if b.limit <= 0 || len(b.buf) <= b.limit {
		return
	}
	cut := len(b.buf) - b.limit
	for cut < len(b.buf) && !utf8.RuneStart(b.buf[cut]) {
		cut++
	}
	b.buf = append(b.buf[:0], b.buf[cut:]...)
}

// String returns the retained log.
func (b *LogBuffer) String() string {
	return string(b.buf)
}
