// Package scanner locates the serial port a known microcontroller board is
// attached to, by polling the USB device list until a catalog match appears.
package scanner

import "strings"

// USBID is a USB vendor/product identifier pair, uppercase hexadecimal as
// reported by the OS device list.
type USBID struct {
	VID string
	PID string
}

// Board describes a supported microcontroller board: the USB identifiers it
// enumerates with and the avrdude parameters used to flash it.
type Board struct {
	Name string
	IDs  []USBID

	// avrdude settings
	MCU        string
	Programmer string
	UploadBaud int
}

// Matches reports whether the given USB identifiers belong to this board.
// A board with no registered IDs matches nothing; comparison ignores case.
func (b Board) Matches(vid, pid string) bool {
	for _, id := range b.IDs {
		if strings.EqualFold(id.VID, vid) && strings.EqualFold(id.PID, pid) {
			return true
		}
	}

	return false
}

// boards is the catalog of known boards, keyed by the configuration name.
// USB IDs cover the official revisions plus the common FTDI and CH340 clone
// bridge chips; avrdude parameters follow the Arduino IDE board definitions.
var boards = map[string]Board{
	"uno": {
		Name: "uno",
		IDs: []USBID{
			{VID: "2341", PID: "0043"},
			{VID: "2341", PID: "0001"},
			{VID: "2A03", PID: "0043"},
			{VID: "1A86", PID: "7523"},
		},
		MCU:        "atmega328p",
		Programmer: "arduino",
		UploadBaud: 115200,
	},
	"mega": {
		Name: "mega",
		IDs: []USBID{
			{VID: "2341", PID: "0042"},
			{VID: "2341", PID: "0010"},
			{VID: "2A03", PID: "0042"},
		},
		MCU:        "atmega2560",
		Programmer: "wiring",
		UploadBaud: 115200,
	},
	"nano": {
		Name: "nano",
		IDs: []USBID{
			{VID: "0403", PID: "6001"},
			{VID: "1A86", PID: "7523"},
		},
		MCU:        "atmega328p",
		Programmer: "arduino",
		UploadBaud: 57600,
	},
	"leonardo": {
		Name: "leonardo",
		IDs: []USBID{
			{VID: "2341", PID: "8036"},
			{VID: "2341", PID: "0036"},
			{VID: "2A03", PID: "8036"},
		},
		MCU:        "atmega32u4",
		Programmer: "avr109",
		UploadBaud: 57600,
	},
	"micro": {
		Name: "micro",
		IDs: []USBID{
			{VID: "2341", PID: "8037"},
			{VID: "2341", PID: "0037"},
			{VID: "2A03", PID: "8037"},
		},
		MCU:        "atmega32u4",
		Programmer: "avr109",
		UploadBaud: 57600,
	},
}

// LookupBoard returns the catalog entry for the given board name.
// Lookup ignores case. The second return value is false for unknown names.
func LookupBoard(name string) (Board, bool) {
	b, ok := boards[strings.ToLower(name)]
	return b, ok
}

// BoardNames returns the names of all cataloged boards.
func BoardNames() []string {
	names := make([]string, 0, len(boards))
	for name := range boards {
		names = append(names, name)
	}

	return names
}
