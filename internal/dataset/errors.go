package dataset

import "errors"

// Load failure kinds. Any of them aborts a load attempt; none is retried.
var (
	// ErrTransport covers failed fetches and non-OK HTTP statuses.
	ErrTransport = errors.New("transport error")
	// ErrParse is returned when every payload format fallback failed.
	ErrParse = errors.New("parse error")
	// ErrNoRows is returned when a payload holds no usable record.
	ErrNoRows = errors.New("no valid rows")
	// ErrWorker wraps a failure raised inside the preparation worker.
	ErrWorker = errors.New("worker error")
)
