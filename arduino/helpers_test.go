package arduino

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/UBCSailbot/arduino-interface/scanner"
	"github.com/UBCSailbot/arduino-interface/transport"
)

var (
	errPortClosed = errors.New("fake port closed")
	errOpenFailed = errors.New("fake open failed")
)

// signalCall records one control line change on a fake port.
type signalCall struct {
	line     string
	asserted bool
}

// fakePort is an in-memory transport.Port. Reads consume injected bytes and
// otherwise behave like a timed-out poll; writes, drains and control line
// changes are recorded for assertions.
type fakePort struct {
	mu          sync.Mutex
	inbound     []byte
	writes      [][]byte
	signals     []signalCall
	drains      int
	resets      int
	closed      bool
	readErr     error
	writeErr    error
	dtrErr      error
	rtsErr      error
	readTimeout time.Duration
}

var _ transport.Port = (*fakePort)(nil)

func newFakePort() *fakePort {
	return &fakePort{}
}

func (p *fakePort) Read(buf []byte) (int, error) {
	p.mu.Lock()
	if p.readErr != nil {
		err := p.readErr
		p.mu.Unlock()
		return 0, err
	}
	if p.closed {
		p.mu.Unlock()
		return 0, errPortClosed
	}
	if len(p.inbound) > 0 {
		n := copy(buf, p.inbound)
		p.inbound = p.inbound[n:]
		p.mu.Unlock()
		return n, nil
	}
	p.mu.Unlock()

	// emulate a poll timeout: n == 0 with a nil error
	time.Sleep(time.Millisecond)
	return 0, nil
}

func (p *fakePort) Write(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.writeErr != nil {
		return 0, p.writeErr
	}
	if p.closed {
		return 0, errPortClosed
	}
	p.writes = append(p.writes, append([]byte(nil), buf...))

	return len(buf), nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true

	return nil
}

func (p *fakePort) Drain() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.drains++

	return nil
}

func (p *fakePort) SetDTR(asserted bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.dtrErr != nil {
		return p.dtrErr
	}
	p.signals = append(p.signals, signalCall{line: "dtr", asserted: asserted})

	return nil
}

func (p *fakePort) SetRTS(asserted bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.rtsErr != nil {
		return p.rtsErr
	}
	p.signals = append(p.signals, signalCall{line: "rts", asserted: asserted})

	return nil
}

func (p *fakePort) SetReadTimeout(d time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readTimeout = d

	return nil
}

func (p *fakePort) ResetInputBuffer() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resets++
	p.inbound = nil

	return nil
}

// inject appends bytes the next Read will return.
func (p *fakePort) inject(b []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inbound = append(p.inbound, b...)
}

// pendingInbound returns the injected bytes not yet consumed by Read.
func (p *fakePort) pendingInbound() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.inbound)
}

// written returns a copy of every Write call so far.
func (p *fakePort) written() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([][]byte, len(p.writes))
	copy(out, p.writes)

	return out
}

func (p *fakePort) writeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.writes)
}

func (p *fakePort) lastWrite() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.writes) == 0 {
		return nil
	}

	return p.writes[len(p.writes)-1]
}

func (p *fakePort) signalCalls() []signalCall {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]signalCall, len(p.signals))
	copy(out, p.signals)

	return out
}

func (p *fakePort) clearSignals() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signals = nil
}

func (p *fakePort) failReads(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readErr = err
}

func (p *fakePort) failDTR(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dtrErr = err
}

func (p *fakePort) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.closed
}

func (p *fakePort) drainCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.drains
}

func (p *fakePort) resetCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.resets
}

// fakeOpener hands out fake ports and records every open.
type fakeOpener struct {
	mu       sync.Mutex
	ports    []*fakePort
	paths    []string
	modes    []*transport.Mode
	attempts int
	failures int
}

func (o *fakeOpener) open(path string, mode *transport.Mode) (transport.Port, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.attempts++
	if o.failures > 0 {
		o.failures--
		return nil, errOpenFailed
	}

	p := newFakePort()
	o.ports = append(o.ports, p)
	o.paths = append(o.paths, path)
	o.modes = append(o.modes, mode)

	return p, nil
}

func (o *fakeOpener) failNextOpens(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures = n
}

func (o *fakeOpener) openCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	return len(o.ports)
}

func (o *fakeOpener) openAttempts() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.attempts
}

func (o *fakeOpener) port(i int) *fakePort {
	o.mu.Lock()
	defer o.mu.Unlock()

	if i < 0 || i >= len(o.ports) {
		return nil
	}

	return o.ports[i]
}

func (o *fakeOpener) lastMode() *transport.Mode {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.modes) == 0 {
		return nil
	}

	return o.modes[len(o.modes)-1]
}

// testPortInfo is a USB port carrying uno IDs, matching WithBoard("uno").
var testPortInfo = scanner.PortInfo{
	Path:  "/dev/ttyACM0",
	VID:   "2341",
	PID:   "0043",
	IsUSB: true,
}

func staticPortList(ports ...scanner.PortInfo) scanner.ListFunc {
	return func() ([]scanner.PortInfo, error) {
		return ports, nil
	}
}

// newTestConn builds a connection against the fake transport with timing
// tight enough for tests. Extra options are applied after the base ones and
// may override them.
func newTestConn(t *testing.T, opts ...ConnOption) (*Connection, *fakeOpener) {
	t.Helper()

	op := &fakeOpener{}
	base := []ConnOption{
		WithBoard("uno"),
		WithListFunc(staticPortList(testPortInfo)),
		WithTransportOpener(op.open),
		WithScanInterval(MinScanInterval),
		WithRebootHold(2 * time.Millisecond),
		WithRebootSettle(2 * time.Millisecond),
		WithAckTimeout(20 * time.Millisecond),
	}

	cfg, err := NewConfig(append(base, opts...)...)
	require.NoError(t, err)

	c, err := NewConnection(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	return c, op
}

// waitEvent drains ch until an event of type et arrives.
func waitEvent(t *testing.T, ch <-chan Event, et EventType) Event {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatalf("event channel closed while waiting for %v", et)
			}
			if ev.Type == et {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %v event", et)
		}
	}
}

// waitErr returns the next completion callback result.
func waitErr(t *testing.T, ch <-chan error) error {
	t.Helper()

	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for completion callback")
		return nil
	}
}
