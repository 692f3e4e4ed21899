package errors

// ErrorCode classifies a failure for logging and user-facing handling
type ErrorCode string

const (
	// ErrTransient covers network/platform failures that the next tick or
	// render pass will naturally retry
	ErrTransient ErrorCode = "TRANSIENT"

	// ErrDecode covers malformed payloads and cached data that failed to
	// parse into the expected shape
	ErrDecode ErrorCode = "DECODE"

	// ErrResolution covers best-effort lookups that found nothing
	ErrResolution ErrorCode = "RESOLUTION"

	// ErrConflict covers invariant violations, e.g. a second live channel
	// opened for a scope key that already has one
	ErrConflict ErrorCode = "CONFLICT"

	// ErrNotFound covers rows/entries that do not exist
	ErrNotFound ErrorCode = "NOT_FOUND"

	// ErrUnauthorized covers missing or expired platform sessions
	ErrUnauthorized ErrorCode = "UNAUTHORIZED"

	// ErrUnavailable covers a backing service that is down or not configured
	ErrUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)
