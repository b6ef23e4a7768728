package logger

// Fields is a set of structured log fields.
type Fields map[string]interface{}

// Tracing fields, propagated through context.
const (
	FieldRequestID  = "request_id"
	FieldJobID      = "job_id"
	FieldDocumentID = "document_id"
	FieldComponent  = "component"
)

// Metric fields, attached per line through Entry.
const (
	FieldDurationMs = "duration_ms"
	FieldCount      = "count"
	FieldSize       = "size"
	FieldStatus     = "status"
)
