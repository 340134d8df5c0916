package frame

import (
	"fmt"

	"github.com/UBCSailbot/arduino-interface/internal/util"
)

// DefaultMaxFrameSize is the default upper bound on the unescaped size of a
// single decoded frame. It bounds memory growth when the stream is corrupted
// and no terminator arrives.
const DefaultMaxFrameSize = 4096

// Decoder is an incremental decoder for the byte-stuffed binary framing.
//
// Feed it arbitrary chunks as they arrive from the serial port; it buffers
// partial frames across calls and invokes the message callback exactly once
// per frame terminator. Empty frames, produced by the leading End that
// [Encode] emits, are dropped.
//
// Decoder is not safe for concurrent use. A connection owns one decoder and
// feeds it from a single read loop.
type Decoder struct {
	onMessage func(body []byte)
	onError   func(err error)
	buf       []byte
	maxSize   int
	escaped   bool
	discard   bool
}

// NewDecoder creates a binary frame decoder. onMessage receives each decoded
// payload; the slice is freshly allocated and owned by the callback. onError,
// which may be nil, receives decode errors; after an error the decoder
// discards input until the next frame boundary.
func NewDecoder(onMessage func(body []byte), onError func(err error)) *Decoder {
	return &Decoder{
		onMessage: onMessage,
		onError:   onError,
		buf:       make([]byte, 0, 64),
		maxSize:   DefaultMaxFrameSize,
	}
}

// SetMaxFrameSize overrides the maximum unescaped frame size.
// Values < 1 are ignored.
func (d *Decoder) SetMaxFrameSize(n int) {
	if n >= 1 {
		d.maxSize = n
	}
}

// Feed consumes a chunk of raw bytes from the stream. It may invoke the
// message callback zero or more times, once per completed frame.
func (d *Decoder) Feed(chunk []byte) {
	for _, b := range chunk {
		d.feedByte(b)
	}
}

// Reset clears all buffered state. It is called on reconnect; the byte stream
// of a live connection never resets mid-frame.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
	d.escaped = false
	d.discard = false
}

func (d *Decoder) feedByte(b byte) {
	if d.discard {
		// Skip until the next boundary, then resume in a clean state.
		if b == End {
			d.discard = false
		}
		return
	}

	if d.escaped {
		d.escaped = false
		switch b {
		case EscEnd:
			d.push(End)
		case EscEsc:
			d.push(Esc)
		case End:
			// The boundary itself resyncs us; only the partial frame is lost.
			d.fail(fmt.Errorf("%w: unescaped End after Esc", ErrInvalidEscape))
			d.discard = false
		default:
			d.fail(fmt.Errorf("%w: 0x%02X after Esc", ErrInvalidEscape, b))
		}
		return
	}

	switch b {
	case End:
		d.endFrame()
	case Esc:
		d.escaped = true
	default:
		d.push(b)
	}
}

func (d *Decoder) push(b byte) {
	if len(d.buf) >= d.maxSize {
		d.fail(fmt.Errorf("%w: %d bytes without a terminator", ErrFrameTooLarge, len(d.buf)))
		return
	}
	d.buf = append(d.buf, b)
}

func (d *Decoder) endFrame() {
	if len(d.buf) == 0 {
		// Leading or repeated End, nothing accumulated.
		return
	}

	body := util.CloneSlice(d.buf, 0)
	d.buf = d.buf[:0]

	if d.onMessage != nil {
		d.onMessage(body)
	}
}

func (d *Decoder) fail(err error) {
	d.buf = d.buf[:0]
	d.escaped = false
	d.discard = true

	if d.onError != nil {
		d.onError(err)
	}
}
