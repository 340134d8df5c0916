// Package frame implements the serial wire framing shared with the microcontroller
// firmware: an XOR checksum, a byte-stuffed binary codec with an incremental decoder,
// and a '$'-delimited text line codec.
//
// Binary mode reserves two byte values. End (0xC0) marks a frame boundary and Esc (0xDB)
// introduces a two-byte escape sequence for reserved values appearing inside a payload,
// so an unescaped End unambiguously terminates a frame in a continuous stream.
// [Encode] emits a leading End before the payload, which makes a receiver discard any
// partially accumulated garbage before the message bytes begin. [Decoder] consumes
// arbitrary byte chunks, buffers partial frames across calls, and invokes its message
// callback exactly once per terminator.
//
// Text mode follows the NMEA sentence convention:
//
//	"$" + body + "*" + HH + "\r"
//
// where HH is the XOR of the body characters rendered as two uppercase hexadecimal
// digits. [TextDecoder] verifies checksummed lines and, for compatibility with
// firmware that prints unframed diagnostics, can pass unmarked lines through.
//
// Decoder state persists across calls for the life of a connection and is reset
// only on reconnect.
package frame
