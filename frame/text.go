package frame

import (
	"fmt"

	"github.com/UBCSailbot/arduino-interface/internal/util"
)

// DefaultStartChar is the leading character of a checksummed text line.
const DefaultStartChar byte = '$'

// checksumMark separates the body from the two-digit checksum trailer.
const checksumMark byte = '*'

// EncodeText frames body as a text line. With checksum enabled the line is
//
//	startChar + body + "*" + HH + "\r"
//
// where HH is the XOR of the body characters as two uppercase hexadecimal
// digits. With checksum disabled the line is the raw body terminated by "\r",
// matching firmware that reads unframed commands.
func EncodeText(body string, startChar byte, withChecksum bool) []byte {
	if !withChecksum {
		out := make([]byte, 0, len(body)+1)
		out = append(out, body...)
		return append(out, '\r')
	}

	out := make([]byte, 0, len(body)+5)
	out = append(out, startChar)
	out = append(out, body...)
	out = append(out, checksumMark)
	out = append(out, ChecksumHex([]byte(body))...)
	return append(out, '\r')
}

// TextDecoder is an incremental decoder for carriage-return terminated text
// lines. Line feeds are tolerated and skipped, so CRLF stream sources work
// unchanged.
//
// A line beginning with the start character must end with "*HH" and verify
// against the body's checksum; on mismatch the error callback receives a
// [ErrChecksumMismatch] carrying the received and computed sums and the raw
// line, and nothing is delivered. Lines without the start character pass
// through unmodified when checksum enforcement is off, and are rejected with
// [ErrMissingChecksum] when it is on.
//
// TextDecoder is not safe for concurrent use.
type TextDecoder struct {
	onMessage func(body []byte)
	onError   func(err error)
	buf       []byte
	maxSize   int
	startChar byte
	require   bool
	discard   bool
}

// NewTextDecoder creates a text line decoder. startChar is usually
// [DefaultStartChar]. requireChecksum rejects lines that do not carry a
// verifiable checksum trailer. onError may be nil.
func NewTextDecoder(startChar byte, requireChecksum bool, onMessage func(body []byte), onError func(err error)) *TextDecoder {
	return &TextDecoder{
		onMessage: onMessage,
		onError:   onError,
		buf:       make([]byte, 0, 64),
		maxSize:   DefaultMaxFrameSize,
		startChar: startChar,
		require:   requireChecksum,
	}
}

// SetMaxLineSize overrides the maximum accumulated line size.
// Values < 1 are ignored.
func (d *TextDecoder) SetMaxLineSize(n int) {
	if n >= 1 {
		d.maxSize = n
	}
}

// Feed consumes a chunk of raw bytes from the stream, invoking the message
// callback once per completed line.
func (d *TextDecoder) Feed(chunk []byte) {
	for _, b := range chunk {
		d.feedByte(b)
	}
}

// Reset clears any partially accumulated line. Called on reconnect.
func (d *TextDecoder) Reset() {
	d.buf = d.buf[:0]
	d.discard = false
}

func (d *TextDecoder) feedByte(b byte) {
	if d.discard {
		// skip the rest of an overlong line
		if b == '\r' {
			d.discard = false
		}
		return
	}

	switch b {
	case '\n':
		// tolerated, never part of a line
	case '\r':
		d.endLine()
	default:
		if len(d.buf) >= d.maxSize {
			n := len(d.buf)
			d.buf = d.buf[:0]
			d.discard = true
			d.emitError(fmt.Errorf("%w: %d bytes without a terminator", ErrFrameTooLarge, n))
			return
		}
		d.buf = append(d.buf, b)
	}
}

func (d *TextDecoder) endLine() {
	if len(d.buf) == 0 {
		return
	}

	line := util.CloneSlice(d.buf, 0)
	d.buf = d.buf[:0]

	if line[0] != d.startChar {
		if d.require {
			d.emitError(fmt.Errorf("%w: unframed line %q", ErrMissingChecksum, line))
			return
		}
		d.deliver(line)
		return
	}

	// startChar-prefixed lines always parse as checksummed frames
	markIdx := len(line) - 3
	if markIdx < 1 || line[markIdx] != checksumMark {
		d.emitError(fmt.Errorf("%w: line %q has no *HH trailer", ErrMissingChecksum, line))
		return
	}

	body := line[1:markIdx]
	received := string(line[markIdx+1:])
	if !VerifyHex(body, received) {
		d.emitError(fmt.Errorf("%w: received %q, computed %q in line %q",
			ErrChecksumMismatch, received, ChecksumHex(body), line))
		return
	}

	d.deliver(body)
}

func (d *TextDecoder) deliver(body []byte) {
	if d.onMessage != nil {
		d.onMessage(body)
	}
}

func (d *TextDecoder) emitError(err error) {
	if d.onError != nil {
		d.onError(err)
	}
}
