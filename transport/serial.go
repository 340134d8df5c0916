package transport

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// Open opens a hardware serial port at path with the given mode. A nil mode
// uses [DefaultMode]. It is the default [Opener].
func Open(path string, mode *Mode) (Port, error) {
	if mode == nil {
		mode = DefaultMode()
	}

	sm, err := toSerialMode(mode)
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, sm)
	if err != nil {
		return nil, fmt.Errorf("transport: open %s: %w", path, err)
	}

	return &serialPort{port: port}, nil
}

// serialPort adapts go.bug.st/serial to the Port interface.
type serialPort struct {
	port serial.Port
}

var _ Port = (*serialPort)(nil)

func (p *serialPort) Read(buf []byte) (int, error) {
	return p.port.Read(buf)
}

func (p *serialPort) Write(buf []byte) (int, error) {
	return p.port.Write(buf)
}

func (p *serialPort) Close() error {
	return p.port.Close()
}

func (p *serialPort) Drain() error {
	return p.port.Drain()
}

func (p *serialPort) SetDTR(asserted bool) error {
	return p.port.SetDTR(asserted)
}

func (p *serialPort) SetRTS(asserted bool) error {
	return p.port.SetRTS(asserted)
}

func (p *serialPort) SetReadTimeout(d time.Duration) error {
	return p.port.SetReadTimeout(d)
}

func (p *serialPort) ResetInputBuffer() error {
	return p.port.ResetInputBuffer()
}

func toSerialMode(mode *Mode) (*serial.Mode, error) {
	sm := &serial.Mode{
		BaudRate: mode.BaudRate,
		DataBits: mode.DataBits,
	}
	if sm.BaudRate <= 0 {
		sm.BaudRate = DefaultBaudRate
	}
	if sm.DataBits == 0 {
		sm.DataBits = 8
	}

	switch mode.Parity {
	case NoParity:
		sm.Parity = serial.NoParity
	case OddParity:
		sm.Parity = serial.OddParity
	case EvenParity:
		sm.Parity = serial.EvenParity
	default:
		return nil, fmt.Errorf("transport: unknown parity %d", mode.Parity)
	}

	switch mode.StopBits {
	case OneStopBit:
		sm.StopBits = serial.OneStopBit
	case TwoStopBits:
		sm.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("transport: unknown stop bits %d", mode.StopBits)
	}

	return sm, nil
}
