package supervisor

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/timmy/goldmine/internal/domain"
	"github.com/timmy/goldmine/internal/progress"
)

func TestTracker_Observe(t *testing.T) {
	tr := NewTracker([]uint{1, 2})
	lines := []struct {
		line    string
		counted bool
	}{
		{"1: inserted 2 markers", false},
		{"1: rendered", true},
		{"1: rendered", false},
		{"1: boom", false},
		{"7: rendered", false},
		{"2: Traceback: missing file", true},
	}
	for _, l := range lines {
		ev, ok := progress.Parse(l.line)
		if !ok {
			t.Fatalf("Parse(%q) failed", l.line)
		}
		if got := tr.Observe(ev); got != l.counted {
			t.Errorf("Observe(%q) = %v, want %v", l.line, got, l.counted)
		}
	}

	var job domain.RenderJob
	tr.Apply(&job)
	if job.TotalCount != 2 || job.ProcessedCount != 2 || job.RenderedCount != 1 || job.FailedCount != 1 {
		t.Errorf("counters = %+v", job)
	}
	if job.FailureDetails["2"] != "Traceback: missing file" {
		t.Errorf("failure details = %v", job.FailureDetails)
	}
	if job.CurrentDocumentID == nil || *job.CurrentDocumentID != 2 {
		t.Errorf("current = %v", job.CurrentDocumentID)
	}
}

func TestLogBuffer_Tail(t *testing.T) {
	b := NewLogBuffer(10)
	b.Append("0123456789")
	b.Append("abc")
	if got := b.String(); got != "3456789abc" {
		t.Errorf("tail = %q", got)
	}

	b = NewLogBuffer(5)
	b.Append(strings.Repeat("ä", 4))
	if got := b.String(); !utf8.ValidString(got) || got != "ää" {
		t.Errorf("utf-8 tail = %q", got)
	}

	unbounded := NewLogBuffer(0)
	unbounded.Append(strings.Repeat("x", 1000))
	if len(unbounded.String()) != 1000 {
		t.Error("unbounded buffer truncated")
	}
}
