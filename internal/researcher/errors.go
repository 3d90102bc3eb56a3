package researcher

import "errors"

var (
	// ErrProfileNotFound is returned when a source has no profile for the requested identifier.
	ErrProfileNotFound = errors.New("profile not found")
	// ErrProfileBlocked is returned when a CAPTCHA or login wall stops the capture.
	ErrProfileBlocked = errors.New("profile blocked")
	// ErrStorageUnavailable wraps persistence failures. It is never fatal for a capture.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrInvalidInput is returned for malformed identifiers, URLs or queries.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnsupportedPlatform is returned for unknown platform names.
	ErrUnsupportedPlatform = errors.New("unsupported platform")
)

// ErrorKind classifies a failed capture for callers.
type ErrorKind string

// Error kinds surfaced by the pipeline.
const (
	KindUnreachable  ErrorKind = "unreachable"
	KindTimeout      ErrorKind = "timeout"
	KindTransient    ErrorKind = "transient"
	KindPermanent    ErrorKind = "permanent"
	KindBlocked      ErrorKind = "blocked"
	KindNotFound     ErrorKind = "not_found"
	KindInvalidInput ErrorKind = "invalid_input"
	KindInternal     ErrorKind = "internal"
)
