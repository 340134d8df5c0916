package frame

// Reserved byte values of the binary framing.
// These are escaped wherever they appear inside a payload so that an
// unescaped End always marks a frame boundary.
const (
	// End terminates a frame. A leading End is also emitted before each frame
	// so the receiver flushes any partially accumulated bytes.
	End byte = 0xC0

	// Esc introduces a two-byte escape sequence for a reserved value inside a payload.
	Esc byte = 0xDB

	// EscEnd is the escaped form of End, following Esc.
	EscEnd byte = 0xDC

	// EscEsc is the escaped form of Esc, following Esc.
	EscEsc byte = 0xDD
)

// Encode frames body for transmission: a leading End delimiter, the payload
// with reserved values escaped, and a trailing End terminator.
func Encode(body []byte) []byte {
	return AppendEncode(make([]byte, 0, len(body)+2), body)
}

// AppendEncode appends the framed form of body to dst and returns the
// extended slice. It allows callers to reuse a pooled buffer.
func AppendEncode(dst []byte, body []byte) []byte {
	dst = append(dst, End)
	for _, b := range body {
		switch b {
		case End:
			dst = append(dst, Esc, EscEnd)
		case Esc:
			dst = append(dst, Esc, EscEsc)
		default:
			dst = append(dst, b)
		}
	}

	return append(dst, End)
}
