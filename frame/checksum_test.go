package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChecksum(t *testing.T) {
	tests := []struct {
		name string
		body []byte
		want byte
	}{
		{"empty body", nil, 0x00},
		{"single byte", []byte{0x5A}, 0x5A},
		{"AB", []byte("AB"), 0x03}, // 0x41 ^ 0x42
		{"self cancel", []byte{0x7F, 0x7F}, 0x00},
		{"all reserved values", []byte{0xC0, 0xDB, 0xDC, 0xDD}, 0xC0 ^ 0xDB ^ 0xDC ^ 0xDD},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Checksum(tt.body))
		})
	}
}

func TestVerify_RoundTrip(t *testing.T) {
	bodies := [][]byte{
		nil,
		{0x00},
		{0x01, 0x02, 0x03},
		[]byte("hello, board"),
		{0xFF, 0xC0, 0xDB, 0x00, 0x41},
	}

	for _, body := range bodies {
		assert.True(t, Verify(body, Checksum(body)), "verify(body, compute(body)) must hold for %v", body)
	}
}

func TestVerify_BitFlipDetection(t *testing.T) {
	body := []byte{0x41, 0x42, 0x07, 0xC0}
	sum := Checksum(body)

	// Any single-bit corruption of the body must change the checksum.
	for i := range body {
		for bit := 0; bit < 8; bit++ {
			corrupted := make([]byte, len(body))
			copy(corrupted, body)
			corrupted[i] ^= 1 << bit

			assert.False(t, Verify(corrupted, sum),
				"flip of byte %d bit %d must be detected", i, bit)
		}
	}
}

func TestChecksumHex(t *testing.T) {
	tests := []struct {
		name string
		body []byte
		want string
	}{
		{"AB renders 03", []byte("AB"), "03"},
		{"zero pads", []byte{0x0A}, "0A"},
		{"upper case", []byte{0xAB}, "AB"},
		{"empty body", nil, "00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ChecksumHex(tt.body))
		})
	}
}

func TestVerifyHex(t *testing.T) {
	body := []byte("AB")

	assert.True(t, VerifyHex(body, "03"))
	assert.True(t, VerifyHex([]byte{0xAB}, "ab"), "lower case digits accepted")

	assert.False(t, VerifyHex(body, "04"), "wrong sum")
	assert.False(t, VerifyHex(body, "3"), "one digit")
	assert.False(t, VerifyHex(body, "003"), "three digits")
	assert.False(t, VerifyHex(body, "ZZ"), "not hexadecimal")
}
