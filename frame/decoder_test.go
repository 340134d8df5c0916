package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collectDecoder returns a decoder that records messages and errors.
func collectDecoder(t *testing.T) (*Decoder, *[][]byte, *[]error) {
	t.Helper()

	var msgs [][]byte
	var errs []error
	dec := NewDecoder(
		func(body []byte) { msgs = append(msgs, body) },
		func(err error) { errs = append(errs, err) },
	)

	return dec, &msgs, &errs
}

func TestDecoder_SingleFrame(t *testing.T) {
	dec, msgs, errs := collectDecoder(t)

	dec.Feed([]byte{End, 0x41, 0x42, End})

	require.Len(t, *msgs, 1)
	assert.Equal(t, []byte{0x41, 0x42}, (*msgs)[0])
	assert.Empty(t, *errs)
}

func TestDecoder_ChunkedDelivery(t *testing.T) {
	dec, msgs, errs := collectDecoder(t)

	// one byte at a time across call boundaries
	wire := Encode([]byte{0x41, 0xC0, 0x42})
	for _, b := range wire {
		dec.Feed([]byte{b})
	}

	require.Len(t, *msgs, 1)
	assert.Equal(t, []byte{0x41, 0xC0, 0x42}, (*msgs)[0])
	assert.Empty(t, *errs)
}

func TestDecoder_SplitEscapeSequence(t *testing.T) {
	dec, msgs, _ := collectDecoder(t)

	// escape byte in one chunk, escape code in the next
	dec.Feed([]byte{End, 0x01, Esc})
	dec.Feed([]byte{EscEnd, End})

	require.Len(t, *msgs, 1)
	assert.Equal(t, []byte{0x01, End}, (*msgs)[0])
}

func TestDecoder_MultipleFramesOneChunk(t *testing.T) {
	dec, msgs, errs := collectDecoder(t)

	wire := append(Encode([]byte{0x01}), Encode([]byte{0x02, 0x03})...)
	dec.Feed(wire)

	require.Len(t, *msgs, 2)
	assert.Equal(t, []byte{0x01}, (*msgs)[0])
	assert.Equal(t, []byte{0x02, 0x03}, (*msgs)[1])
	assert.Empty(t, *errs)
}

func TestDecoder_EmptyFramesDropped(t *testing.T) {
	dec, msgs, errs := collectDecoder(t)

	// repeated delimiters produce no messages
	dec.Feed([]byte{End, End, End, End})

	assert.Empty(t, *msgs)
	assert.Empty(t, *errs)
}

func TestDecoder_PartialFrameBuffered(t *testing.T) {
	dec, msgs, _ := collectDecoder(t)

	dec.Feed([]byte{End, 0x41})
	assert.Empty(t, *msgs, "no delivery before the terminator")

	dec.Feed([]byte{0x42})
	assert.Empty(t, *msgs)

	dec.Feed([]byte{End})
	require.Len(t, *msgs, 1)
	assert.Equal(t, []byte{0x41, 0x42}, (*msgs)[0])
}

func TestDecoder_InvalidEscape(t *testing.T) {
	dec, msgs, errs := collectDecoder(t)

	// 0x00 is not a valid escape code; the partial frame is dropped and input
	// is discarded until the next boundary.
	dec.Feed([]byte{End, 0x41, Esc, 0x00, 0x42, 0x43, End})

	assert.Empty(t, *msgs)
	require.Len(t, *errs, 1)
	assert.ErrorIs(t, (*errs)[0], ErrInvalidEscape)

	// the stream recovers at the boundary
	dec.Feed(Encode([]byte{0x99}))
	require.Len(t, *msgs, 1)
	assert.Equal(t, []byte{0x99}, (*msgs)[0])
}

func TestDecoder_EscapeBeforeEnd(t *testing.T) {
	dec, msgs, errs := collectDecoder(t)

	// Esc directly followed by End drops the partial frame but the End itself
	// resynchronizes the stream.
	dec.Feed([]byte{End, 0x41, Esc, End, 0x42, End})

	require.Len(t, *errs, 1)
	assert.ErrorIs(t, (*errs)[0], ErrInvalidEscape)
	require.Len(t, *msgs, 1)
	assert.Equal(t, []byte{0x42}, (*msgs)[0])
}

func TestDecoder_FrameTooLarge(t *testing.T) {
	dec, msgs, errs := collectDecoder(t)
	dec.SetMaxFrameSize(4)

	dec.Feed([]byte{End, 1, 2, 3, 4, 5, 6, End})

	assert.Empty(t, *msgs)
	require.Len(t, *errs, 1)
	assert.ErrorIs(t, (*errs)[0], ErrFrameTooLarge)

	// next frame decodes normally
	dec.Feed([]byte{0x07, End})
	require.Len(t, *msgs, 1)
	assert.Equal(t, []byte{0x07}, (*msgs)[0])
}

func TestDecoder_Reset(t *testing.T) {
	dec, msgs, _ := collectDecoder(t)

	dec.Feed([]byte{End, 0x41, 0x42})
	dec.Reset()

	// the stale partial frame is gone after reset
	dec.Feed([]byte{0x43, End})
	require.Len(t, *msgs, 1)
	assert.Equal(t, []byte{0x43}, (*msgs)[0])
}

func TestDecoder_CallbackOwnsSlice(t *testing.T) {
	dec, msgs, _ := collectDecoder(t)

	dec.Feed(Encode([]byte{0x01, 0x02}))
	dec.Feed(Encode([]byte{0x03, 0x04}))

	require.Len(t, *msgs, 2)
	// delivered slices do not alias the decoder's internal buffer
	assert.Equal(t, []byte{0x01, 0x02}, (*msgs)[0])
	assert.Equal(t, []byte{0x03, 0x04}, (*msgs)[1])
}

func TestDecoder_NilErrorCallback(t *testing.T) {
	var msgs [][]byte
	dec := NewDecoder(func(body []byte) { msgs = append(msgs, body) }, nil)

	assert.NotPanics(t, func() {
		dec.Feed([]byte{End, Esc, 0x00, End})
	})
	assert.Empty(t, msgs)
}
