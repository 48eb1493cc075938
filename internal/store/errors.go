package store

import "errors"

// Error kinds returned by the export and import operations. Match with
// errors.Is; the wrapped error carries the cause.
var (
	// ErrPathUnavailable means the named resource could not be opened,
	// created or replaced.
	ErrPathUnavailable = errors.New("path unavailable")

	// ErrEncodeFailure means the list could not be serialized.
	ErrEncodeFailure = errors.New("encode failure")

	// ErrDecodeFailure means the resource exists but does not parse.
	ErrDecodeFailure = errors.New("decode failure")
)
