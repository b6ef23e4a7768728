// Package progress defines the line protocol render processes use to
// report per-document outcomes: "<document-id>: <message>".
package progress

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Kind classifies a progress line.
type Kind int

const (
	// Info lines carry detail only and do not complete a document.
	Info Kind = iota
	Rendered
	Skipped
	Failed
)

func (k Kind) String() string {
	switch k {
	case Info:
		return "info"
	case Rendered:
		return "rendered"
	case Skipped:
		return "skipped"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Canonical messages.
const (
	MsgRendered = "rendered"
	MsgSkipped  = "up-to-date, skipping"
	MsgNotFound = "document not found"
)

// FailurePrefix starts every failure message so that error text never reads
// as another outcome.
const FailurePrefix = "failed: "

var lineRe = regexp.MustCompile(`^(\d+):\s*(.*)$`)

// Event is one parsed progress line.
type Event struct {
	DocumentID uint
	Kind       Kind
	Message    string
}

// Parse reads one output line. Lines that do not follow the protocol
// return ok == false.
func Parse(line string) (Event, bool) {
	m := lineRe.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return Event{}, false
	}
	id, err := strconv.ParseUint(m[1], 10, 64)
	if err != nil {
		return Event{}, false
	}
	msg := strings.TrimSpace(m[2])
	return Event{DocumentID: uint(id), Kind: Classify(msg), Message: msg}, true
}

// Classify maps a message to its outcome. Unrecognized text is a failure.
func Classify(msg string) Kind {
	switch {
	case strings.HasPrefix(msg, FailurePrefix):
		return Failed
	case strings.HasPrefix(msg, "inserted "):
		return Info
	case msg == MsgRendered:
		return Rendered
	case strings.Contains(msg, "up-to-date"):
		return Skipped
	}
	return Failed
}

// Format builds a protocol line without the trailing newline.
func Format(id uint, msg string) string {
	return fmt.Sprintf("%d: %s", id, msg)
}

// Failure is the failure message for err text.
func Failure(text string) string {
	return FailurePrefix + text
}

// Inserted is the info message for n injected markers.
func Inserted(n int) string {
	return fmt.Sprintf("inserted %d markers", n)
}
