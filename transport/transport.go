// Package transport abstracts the serial link to the microcontroller behind a
// small Port interface, so the connection logic can be tested against in-memory
// fakes and the process only touches real hardware through the default
// go.bug.st/serial based opener.
package transport

import (
	"io"
	"time"
)

// Parity defines serial port parity options.
type Parity int

const (
	NoParity Parity = iota
	OddParity
	EvenParity
)

// StopBits defines serial port stop bit options.
type StopBits int

const (
	OneStopBit StopBits = iota
	TwoStopBits
)

// DefaultBaudRate is the baud rate used when none is configured.
const DefaultBaudRate = 57600

// Mode defines serial port configuration parameters.
type Mode struct {
	BaudRate int
	DataBits int
	Parity   Parity
	StopBits StopBits
}

// DefaultMode returns the standard 8N1 mode at the default baud rate.
func DefaultMode() *Mode {
	return &Mode{
		BaudRate: DefaultBaudRate,
		DataBits: 8,
		Parity:   NoParity,
		StopBits: OneStopBit,
	}
}

// Port is the minimal surface of a serial port the connection needs: byte
// stream I/O, output flushing for write-and-drain delivery, the DTR/RTS
// control lines driven by the reboot sequence, and a read timeout so the
// read loop can poll for cancellation.
type Port interface {
	io.ReadWriteCloser

	// Drain blocks until all buffered output has been transmitted.
	Drain() error

	// SetDTR sets the Data Terminal Ready control line.
	SetDTR(asserted bool) error

	// SetRTS sets the Request To Send control line.
	SetRTS(asserted bool) error

	// SetReadTimeout bounds how long a Read blocks. A timed-out Read returns
	// n == 0 with a nil error.
	SetReadTimeout(d time.Duration) error

	// ResetInputBuffer discards unread received bytes, such as bootloader
	// noise after a reboot.
	ResetInputBuffer() error
}

// Opener opens the serial port at path with the given mode. It exists so
// tests and embedders can inject port implementations; the zero value of a
// connection config uses [Open].
type Opener func(path string, mode *Mode) (Port, error)
