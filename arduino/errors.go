package arduino

import "errors"

var (
	// ErrNotConnected indicates an operation that requires an open serial
	// link was called without one.
	ErrNotConnected = errors.New("arduino: not connected")

	// ErrConnClosed indicates the connection was closed while the operation
	// was pending.
	ErrConnClosed = errors.New("arduino: connection closed")

	// ErrBinaryModeRequired indicates confirmed delivery was requested on a
	// text mode connection. Acknowledgments are defined only for framed
	// binary payloads.
	ErrBinaryModeRequired = errors.New("arduino: binary mode required for confirmed delivery")

	// ErrFlashInProgress indicates a firmware upload is running and the
	// requested operation is refused until it finishes.
	ErrFlashInProgress = errors.New("arduino: flash in progress")

	// ErrRebootInProgress indicates an overlapping reboot request.
	ErrRebootInProgress = errors.New("arduino: reboot in progress")

	// ErrNoFlasher indicates Flash was called on a connection with neither a
	// flasher nor a board to derive one from.
	ErrNoFlasher = errors.New("arduino: no flasher configured")

	// ErrAckTimeout indicates no acknowledgment arrived within the
	// per-attempt timeout.
	ErrAckTimeout = errors.New("arduino: acknowledgment timeout")

	// ErrAttemptsExhausted indicates a message used up its attempt budget
	// without being acknowledged.
	ErrAttemptsExhausted = errors.New("arduino: send attempts exhausted")

	// ErrQueueWiped indicates the pending queue was abandoned after too many
	// consecutive delivery failures.
	ErrQueueWiped = errors.New("arduino: pending queue wiped")

	// ErrInvalidTransition indicates a connection state change that is not
	// allowed from the current state.
	ErrInvalidTransition = errors.New("arduino: invalid connection state transition")
)
