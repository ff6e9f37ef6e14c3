package domain

import "errors"

var (
	// ErrInvalidRecord marks a raw record that is not a label→value object.
	// Rejects the single record only; callers keep processing the batch.
	ErrInvalidRecord = errors.New("invalid raw record")

	// ErrHistoryUnavailable marks a failed tabular history fetch, either a
	// transport error or a non-tabular response (an HTML error page where
	// JSON was expected). Treated as "no update", never "clear data".
	ErrHistoryUnavailable = errors.New("history export unavailable")

	// ErrLiveMessageUnusable marks a live payload from which no rows could
	// be extracted. The message is dropped and logged, not fatal.
	ErrLiveMessageUnusable = errors.New("no usable rows in live message")

	// ErrLocationClosed marks a commit against a location that has been
	// closed. The event is discarded; callers must not report it as stored.
	ErrLocationClosed = errors.New("location is closed")
)
