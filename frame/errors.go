package frame

import "errors"

var (
	// ErrChecksumMismatch indicates a received frame failed checksum verification.
	ErrChecksumMismatch = errors.New("frame: checksum mismatch")

	// ErrMissingChecksum indicates a text line that was required to carry a
	// checksum trailer but did not.
	ErrMissingChecksum = errors.New("frame: missing checksum")

	// ErrInvalidEscape indicates an escape byte followed by a value that is not
	// a defined escape code.
	ErrInvalidEscape = errors.New("frame: invalid escape sequence")

	// ErrFrameTooLarge indicates the decoder accumulated more bytes than the
	// configured maximum without seeing a terminator.
	ErrFrameTooLarge = errors.New("frame: frame exceeds maximum size")
)
