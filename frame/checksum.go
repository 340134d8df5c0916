package frame

import (
	"fmt"
	"strconv"
)

// Checksum computes the XOR reduction of every byte in body.
// An empty body yields 0.
func Checksum(body []byte) byte {
	var sum byte
	for _, b := range body {
		sum ^= b
	}

	return sum
}

// Verify reports whether sum equals the checksum of body.
func Verify(body []byte, sum byte) bool {
	return Checksum(body) == sum
}

// ChecksumHex renders the checksum of body as two uppercase, zero-padded
// hexadecimal digits, the form used by the text codec trailer.
func ChecksumHex(body []byte) string {
	return fmt.Sprintf("%02X", Checksum(body))
}

// VerifyHex reports whether hexSum parses as a hexadecimal byte equal to the
// checksum of body. Parsing accepts lower case digits; rendering is always
// upper case.
func VerifyHex(body []byte, hexSum string) bool {
	if len(hexSum) != 2 {
		return false
	}

	sum, err := strconv.ParseUint(hexSum, 16, 8)
	if err != nil {
		return false
	}

	return Checksum(body) == byte(sum)
}
