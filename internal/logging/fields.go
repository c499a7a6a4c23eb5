package logging

import "log/slog"

// Common field names for consistent logging across the job.
const (
	FieldRunID    = "run_id"
	FieldUserID   = "user_id"
	FieldReason   = "reason"
	FieldStage    = "stage"
	FieldCount    = "count"
	FieldDuration = "duration_ms"
	FieldError    = "error"
	FieldWindow   = "window"
	FieldSink     = "sink"
	FieldFile     = "file"
)

// RunID returns a slog attribute for the run ID.
func RunID(id string) slog.Attr {
	return slog.String(FieldRunID, id)
}

// UserID returns a slog attribute for the user ID.
func UserID(id string) slog.Attr {
	return slog.String(FieldUserID, id)
}

// Reason returns a slog attribute for a rejection reason.
func Reason(reason string) slog.Attr {
	return slog.String(FieldReason, reason)
}

// Stage returns a slog attribute for the pipeline stage name.
func Stage(name string) slog.Attr {
	return slog.String(FieldStage, name)
}

// Count returns a slog attribute for a record count.
func Count(n int) slog.Attr {
	return slog.Int(FieldCount, n)
}

// Duration returns a slog attribute for duration in milliseconds.
func Duration(ms int64) slog.Attr {
	return slog.Int64(FieldDuration, ms)
}

// Error returns a slog attribute for an error.
func Error(err error) slog.Attr {
	return slog.String(FieldError, err.Error())
}

// Window returns a slog attribute for a time window.
func Window(w string) slog.Attr {
	return slog.String(FieldWindow, w)
}

// Sink returns a slog attribute for a report sink name.
func Sink(name string) slog.Attr {
	return slog.String(FieldSink, name)
}

// File returns a slog attribute for a file path.
func File(path string) slog.Attr {
	return slog.String(FieldFile, path)
}
