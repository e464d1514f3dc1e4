package logger

import "context"

// Entry carries metric fields for a single log line, on top of whatever the
// context's logger already binds:
//
//	logger.With(logger.Fields{logger.FieldExitCode: 0}).WithDuration(ms).Info(ctx, "Worker exited")
type Entry struct {
	fields Fields
}

// With starts an Entry with fields.
func With(fields Fields) *Entry {
	return &Entry{fields: fields}
}

func (e *Entry) add(key string, value interface{}) *Entry {
	merged := make(Fields, len(e.fields)+1)
	for k, v := range e.fields {
		merged[k] = v
	}
	merged[key] = value
	return &Entry{fields: merged}
}

// WithDuration adds duration_ms.
func (e *Entry) WithDuration(ms int64) *Entry { return e.add(FieldDurationMs, ms) }

// WithCount adds count.
func (e *Entry) WithCount(n int64) *Entry { return e.add(FieldCount, n) }

func (e *Entry) Info(ctx context.Context, format string, args ...interface{}) {
	FromContext(ctx).WithFields(e.fields).Infof(format, args...)
}

func (e *Entry) Warn(ctx context.Context, format string, args ...interface{}) {
	FromContext(ctx).WithFields(e.fields).Warnf(format, args...)
}

func (e *Entry) Error(ctx context.Context, format string, args ...interface{}) {
	FromContext(ctx).WithFields(e.fields).Errorf(format, args...)
}
