package session

import "errors"

var (
	// ErrSessionIDEmpty indicates a blank or whitespace-only session id
	// was passed to Get/Delete/Exists. It is never forwarded to storage.
	ErrSessionIDEmpty = errors.New("session: id is empty")

	// ErrNotFound indicates the session id does not resolve to a live
	// record: missing, expired, signature-invalid, or schema-invalid.
	ErrNotFound = errors.New("session: not found")

	// ErrRateLimited indicates the caller's client identifier has
	// exceeded its read quota for the current window.
	ErrRateLimited = errors.New("session: rate limited")
)
