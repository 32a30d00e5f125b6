package protocol

import "errors"

// Error taxonomy for the transport core. Package-level errors wrap one of these so
// callers can classify failures with errors.Is.
var (
	// ErrFraming is a short read of a header or body.
	ErrFraming = errors.New("protocol: framing error")
	// ErrUnsupportedVersion is a header or body declaring an unknown protocol version.
	ErrUnsupportedVersion = errors.New("protocol: unsupported version")
	// ErrUnsupportedScalarType is an image scalar type with no known byte width.
	ErrUnsupportedScalarType = errors.New("protocol: unsupported scalar type")
	// ErrSocket is an OS-level socket failure.
	ErrSocket = errors.New("protocol: socket error")

	ErrAlreadyRunning       = errors.New("protocol: already running")
	ErrInvalidConfiguration = errors.New("protocol: invalid configuration")
)
