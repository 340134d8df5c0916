package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial/enumerator"

	"github.com/UBCSailbot/arduino-interface/internal/pool"
	"github.com/UBCSailbot/arduino-interface/logger"
)

var (
	// ErrAlreadyScanning indicates a Find call while a previous Find is still running.
	ErrAlreadyScanning = errors.New("scanner: find already in progress")

	// ErrStopped indicates the Find was cancelled by Stop or by its context.
	ErrStopped = errors.New("scanner: find stopped")
)

// DefaultInterval is the default delay between device list polls.
const DefaultInterval = 500 * time.Millisecond

// PortInfo describes a discovered serial port.
type PortInfo struct {
	// Path is the device path, e.g. /dev/ttyACM0 or COM3.
	Path string

	// USB metadata, empty for non-USB ports.
	VID          string
	PID          string
	SerialNumber string
	Product      string
	IsUSB        bool
}

// ListFunc returns the serial ports currently present on the system.
// The default implementation reads the OS device list; tests inject fakes.
type ListFunc func() ([]PortInfo, error)

// Scanner polls the system device list until a port matching the configured
// board appears. A Scanner runs at most one Find at a time and may be reused
// after a Find returns.
type Scanner struct {
	board    Board
	interval time.Duration
	list     ListFunc
	logger   logger.Logger

	scanning atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithBoard restricts matches to the USB IDs of the given board.
// Without it, any USB serial port matches.
func WithBoard(board Board) Option {
	return func(s *Scanner) { s.board = board }
}

// WithInterval sets the delay between device list polls.
func WithInterval(d time.Duration) Option {
	return func(s *Scanner) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithLogger sets the logger used by the scan loop.
func WithLogger(l logger.Logger) Option {
	return func(s *Scanner) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithListFunc replaces the device list source.
func WithListFunc(fn ListFunc) Option {
	return func(s *Scanner) {
		if fn != nil {
			s.list = fn
		}
	}
}

// NewScanner creates a Scanner with the given options.
func NewScanner(opts ...Option) *Scanner {
	s := &Scanner{
		interval: DefaultInterval,
		list:     listPorts,
		logger:   logger.GetLogger(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Find polls the device list until a matching port appears, then returns it.
// It returns ErrAlreadyScanning if another Find is in flight, and an error
// wrapping ErrStopped when cancelled by Stop or by ctx.
func (s *Scanner) Find(ctx context.Context) (PortInfo, error) {
	if !s.scanning.CompareAndSwap(false, true) {
		return PortInfo{}, ErrAlreadyScanning
	}
	defer s.scanning.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.cancel = nil
		s.mu.Unlock()
	}()

	for {
		info, found := s.scanOnce()
		if found {
			s.logger.Debug("scanner: port found", "path", info.Path, "vid", info.VID, "pid", info.PID)
			return info, nil
		}

		timer := pool.GetTimer(s.interval)
		select {
		case <-ctx.Done():
			pool.PutTimer(timer)
			return PortInfo{}, fmt.Errorf("%w: %w", ErrStopped, ctx.Err())
		case <-timer.C:
			pool.PutTimer(timer)
		}
	}
}

// Stop cancels an in-flight Find. It is safe to call at any time.
func (s *Scanner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
}

// scanOnce reads the device list once and returns the first match.
func (s *Scanner) scanOnce() (PortInfo, bool) {
	ports, err := s.list()
	if err != nil {
		// transient enumeration failures just delay discovery
		s.logger.Warn("scanner: list ports failed", "error", err)
		return PortInfo{}, false
	}

	for _, info := range ports {
		if s.matches(info) {
			return info, true
		}
	}

	return PortInfo{}, false
}

func (s *Scanner) matches(info PortInfo) bool {
	if !info.IsUSB {
		return false
	}
	if len(s.board.IDs) == 0 {
		return true
	}

	return s.board.Matches(info.VID, info.PID)
}

// listPorts reads the OS device list through go.bug.st/serial's enumerator.
func listPorts() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("scanner: enumerate ports: %w", err)
	}

	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		ports = append(ports, PortInfo{
			Path:         d.Name,
			VID:          d.VID,
			PID:          d.PID,
			SerialNumber: d.SerialNumber,
			Product:      d.Product,
			IsUSB:        d.IsUSB,
		})
	}

	return ports, nil
}
