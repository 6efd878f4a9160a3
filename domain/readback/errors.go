package readback

import "errors"

var (
	// ErrInvalidShape rejects an allocation with non-positive dimensions.
	ErrInvalidShape = errors.New("readback: invalid frame shape")
	// ErrEntryNotFound reports a completion for a buffer that is no longer hot.
	ErrEntryNotFound = errors.New("readback: entry not found")
	// ErrCopyFailed is reported by the copy backend when a readback did not complete.
	ErrCopyFailed = errors.New("readback: copy failed")
	// ErrDoubleMark means a second entry was marked before the first was released.
	ErrDoubleMark = errors.New("readback: entry marked twice")
)
