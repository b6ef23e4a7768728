package logger

import (
	"context"
	"sync"
)

type ctxKey struct{}

var (
	defaultLogger   = New(nil)
	defaultLoggerMu sync.RWMutex
)

// GetDefault returns the process-wide logger.
func GetDefault() *Logger {
	defaultLoggerMu.RLock()
	defer defaultLoggerMu.RUnlock()
	return defaultLogger
}

// SetDefaultLogger replaces the process-wide logger. Nil is ignored.
func SetDefaultLogger(l *Logger) {
	if l == nil {
		return
	}
	defaultLoggerMu.Lock()
	defaultLogger = l
	defaultLoggerMu.Unlock()
}

// WithContext stores l in ctx.
func (l *Logger) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger stored in ctx, or the default logger.
func FromContext(ctx context.Context) *Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxKey{}).(*Logger); ok {
			return l
		}
	}
	return GetDefault()
}

// WithField returns a context whose logger carries one more field.
func WithField(ctx context.Context, key string, value interface{}) context.Context {
	return FromContext(ctx).WithField(key, value).WithContext(ctx)
}

// WithFields returns a context whose logger carries fields.
func WithFields(ctx context.Context, fields Fields) context.Context {
	return FromContext(ctx).WithFields(fields).WithContext(ctx)
}

// SetRequestID tags ctx with the HTTP request id.
func SetRequestID(ctx context.Context, id string) context.Context {
	return WithField(ctx, FieldRequestID, id)
}

// SetJobID tags ctx with a render job id.
func SetJobID(ctx context.Context, id uint) context.Context {
	return WithField(ctx, FieldJobID, id)
}

// SetDocumentID tags ctx with a document id.
func SetDocumentID(ctx context.Context, id uint) context.Context {
	return WithField(ctx, FieldDocumentID, id)
}

// SetComponent tags ctx with the emitting component.
func SetComponent(ctx context.Context, name string) context.Context {
	return WithField(ctx, FieldComponent, name)
}

// GetField reads a field from the logger carried by ctx.
func GetField(ctx context.Context, key string) (interface{}, bool) {
	v, ok := FromContext(ctx).Data[key]
	return v, ok
}

// GetRequestID returns the request id carried by ctx, if any.
func GetRequestID(ctx context.Context) string {
	v, _ := GetField(ctx, FieldRequestID)
	s, _ := v.(string)
	return s
}
