package arduino

import (
	"fmt"
	"time"

	"github.com/UBCSailbot/arduino-interface/flash"
	"github.com/UBCSailbot/arduino-interface/frame"
	"github.com/UBCSailbot/arduino-interface/logger"
	"github.com/UBCSailbot/arduino-interface/scanner"
	"github.com/UBCSailbot/arduino-interface/transport"
)

// Default policy values for a device connection.
const (
	DefaultAckTimeout     = 200 * time.Millisecond // Per-attempt acknowledgment timeout
	DefaultSendAttempts   = 10                     // Retries after the initial write
	DefaultFailureCeiling = 20                     // Consecutive failures before a queue wipe

	DefaultRebootHold   = 250 * time.Millisecond // Control lines held asserted
	DefaultRebootSettle = 50 * time.Millisecond  // Pause after deassert
	DefaultFlashSettle  = 250 * time.Millisecond // Pause between pre-flash command and port close

	DefaultQueueSize       = 16 // Pending queue preallocation
	DefaultEventBufferSize = 32 // Per-subscriber event channel depth
)

// Range limits for configurable values.
const (
	MinAckTimeout = 10 * time.Millisecond
	MaxAckTimeout = 1 * time.Minute

	MaxSendAttempts   = 100
	MaxFailureCeiling = 1000

	MinScanInterval = 10 * time.Millisecond
	MaxScanInterval = 1 * time.Minute

	MaxHoldDuration = 5 * time.Second
)

// Config holds all configuration for a device connection.
type Config struct {
	// board is the catalog name to discover, empty for any USB serial port.
	board     string
	boardInfo scanner.Board

	baudRate int

	// binary selects framed binary exchange with byte stuffing; when false
	// the connection speaks the line-oriented text protocol.
	binary bool

	// checksum enables the trailing XOR checksum on outbound messages and
	// checksum verification of inbound text lines.
	checksum bool

	// ack enables confirmed delivery through the acknowledgment queue.
	ack bool

	startChar byte

	// Confirmed delivery policy defaults; per-message SendOptions override.
	ackTimeout     time.Duration
	sendAttempts   int
	failureCeiling int

	// Reboot pulse timing.
	rebootHold   time.Duration
	rebootSettle time.Duration

	scanInterval time.Duration

	queueSize    int
	eventBufSize int

	verbose bool

	logger  logger.Logger
	opener  transport.Opener
	flasher flash.Flasher
	list    scanner.ListFunc
}

// NewConfig creates a new device connection configuration.
//
// opts are functional options applied in order; see With* functions.
func NewConfig(opts ...ConnOption) (*Config, error) {
	cfg := &Config{
		baudRate:       transport.DefaultBaudRate,
		binary:         true,
		checksum:       true,
		ack:            true,
		startChar:      frame.DefaultStartChar,
		ackTimeout:     DefaultAckTimeout,
		sendAttempts:   DefaultSendAttempts,
		failureCeiling: DefaultFailureCeiling,
		rebootHold:     DefaultRebootHold,
		rebootSettle:   DefaultRebootSettle,
		scanInterval:   scanner.DefaultInterval,
		queueSize:      DefaultQueueSize,
		eventBufSize:   DefaultEventBufferSize,
		logger:         logger.GetLogger(),
		opener:         transport.Open,
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// --- Getters ---

// Board returns the configured board name, empty when any USB serial port
// matches.
func (cfg *Config) Board() string { return cfg.board }

// BaudRate returns the configured serial baud rate.
func (cfg *Config) BaudRate() int { return cfg.baudRate }

// IsBinary returns true if the connection uses framed binary exchange.
func (cfg *Config) IsBinary() bool { return cfg.binary }

// IsText returns true if the connection uses line-oriented text exchange.
func (cfg *Config) IsText() bool { return !cfg.binary }

// ChecksumEnabled returns whether outbound checksums and inbound text
// verification are enabled.
func (cfg *Config) ChecksumEnabled() bool { return cfg.checksum }

// AckEnabled returns whether confirmed delivery is enabled.
func (cfg *Config) AckEnabled() bool { return cfg.ack }

// StartChar returns the text mode start character.
func (cfg *Config) StartChar() byte { return cfg.startChar }

// AckTimeout returns the default per-attempt acknowledgment timeout.
func (cfg *Config) AckTimeout() time.Duration { return cfg.ackTimeout }

// SendAttempts returns the default retry budget per message.
func (cfg *Config) SendAttempts() int { return cfg.sendAttempts }

// FailureCeiling returns the consecutive failure count that wipes the queue.
func (cfg *Config) FailureCeiling() int { return cfg.failureCeiling }

// RebootHold returns how long the reboot pulse keeps the control lines
// asserted.
func (cfg *Config) RebootHold() time.Duration { return cfg.rebootHold }

// RebootSettle returns the pause after the reboot pulse deasserts.
func (cfg *Config) RebootSettle() time.Duration { return cfg.rebootSettle }

// ScanInterval returns the delay between device list polls.
func (cfg *Config) ScanInterval() time.Duration { return cfg.scanInterval }

// Verbose returns whether debug logging was requested.
func (cfg *Config) Verbose() bool { return cfg.verbose }

// GetLogger returns the configured logger.
func (cfg *Config) GetLogger() logger.Logger { return cfg.logger }

// sendPolicy returns the connection-wide delivery policy defaults.
func (cfg *Config) sendPolicy() sendPolicy {
	return sendPolicy{
		attempts: cfg.sendAttempts,
		timeout:  cfg.ackTimeout,
		priority: HighPriority,
	}
}

// --- ConnOption ---

// ConnOption is a functional option for configuring a Config.
type ConnOption interface {
	apply(*Config) error
}

type connOptFunc func(*Config) error

func (f connOptFunc) apply(cfg *Config) error { return f(cfg) }

// WithBoard restricts discovery to a named board from the catalog, e.g.
// "uno" or "mega". The flasher derives its programmer settings from the
// same entry.
func WithBoard(name string) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		board, ok := scanner.LookupBoard(name)
		if !ok {
			return fmt.Errorf("arduino: unknown board %q, known boards: %v", name, scanner.BoardNames())
		}
		cfg.board = name
		cfg.boardInfo = board

		return nil
	})
}

// WithBaudRate sets the serial baud rate. The default is 57600.
func WithBaudRate(baud int) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		if baud <= 0 {
			return fmt.Errorf("arduino: baud rate %d must be positive", baud)
		}
		cfg.baudRate = baud

		return nil
	})
}

// WithBinaryMode selects framed binary exchange with confirmed delivery
// support. This is the default.
func WithBinaryMode() ConnOption {
	return connOptFunc(func(cfg *Config) error {
		cfg.binary = true
		return nil
	})
}

// WithTextMode selects line-oriented text exchange. Confirmed delivery is
// unavailable in this mode.
func WithTextMode() ConnOption {
	return connOptFunc(func(cfg *Config) error {
		cfg.binary = false
		return nil
	})
}

// WithChecksum enables or disables the trailing XOR checksum.
// Enabled by default.
func WithChecksum(enabled bool) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		cfg.checksum = enabled
		return nil
	})
}

// WithAcknowledgment enables or disables confirmed delivery. When disabled,
// Send and SendAsync degrade to a plain write-and-drain.
// Enabled by default.
func WithAcknowledgment(enabled bool) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		cfg.ack = enabled
		return nil
	})
}

// WithStartChar sets the text mode start character. The default is '$'.
func WithStartChar(ch byte) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		if ch == 0 || ch == '\r' || ch == '\n' {
			return fmt.Errorf("arduino: invalid start character %q", ch)
		}
		cfg.startChar = ch

		return nil
	})
}

// WithAckTimeout sets the default per-attempt acknowledgment timeout.
// Must be in [MinAckTimeout, MaxAckTimeout].
func WithAckTimeout(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		if d < MinAckTimeout || d > MaxAckTimeout {
			return fmt.Errorf("arduino: ack timeout %v out of range [%v, %v]", d, MinAckTimeout, MaxAckTimeout)
		}
		cfg.ackTimeout = d

		return nil
	})
}

// WithSendAttempts sets the default retry budget per message; n retries
// follow the initial write. Must be in [0, MaxSendAttempts].
func WithSendAttempts(n int) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		if n < 0 || n > MaxSendAttempts {
			return fmt.Errorf("arduino: send attempts %d out of range [0, %d]", n, MaxSendAttempts)
		}
		cfg.sendAttempts = n

		return nil
	})
}

// WithFailureCeiling sets how many consecutive delivery failures are
// tolerated before the whole pending queue is wiped.
// Must be in [1, MaxFailureCeiling].
func WithFailureCeiling(n int) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		if n < 1 || n > MaxFailureCeiling {
			return fmt.Errorf("arduino: failure ceiling %d out of range [1, %d]", n, MaxFailureCeiling)
		}
		cfg.failureCeiling = n

		return nil
	})
}

// WithRebootHold sets how long the reboot pulse keeps DTR and RTS asserted.
// Must be in (0, MaxHoldDuration].
func WithRebootHold(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		if d <= 0 || d > MaxHoldDuration {
			return fmt.Errorf("arduino: reboot hold %v out of range (0, %v]", d, MaxHoldDuration)
		}
		cfg.rebootHold = d

		return nil
	})
}

// WithRebootSettle sets the pause after the reboot pulse deasserts.
// Must be in (0, MaxHoldDuration].
func WithRebootSettle(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		if d <= 0 || d > MaxHoldDuration {
			return fmt.Errorf("arduino: reboot settle %v out of range (0, %v]", d, MaxHoldDuration)
		}
		cfg.rebootSettle = d

		return nil
	})
}

// WithScanInterval sets the delay between device list polls during
// discovery. Must be in [MinScanInterval, MaxScanInterval].
func WithScanInterval(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		if d < MinScanInterval || d > MaxScanInterval {
			return fmt.Errorf("arduino: scan interval %v out of range [%v, %v]", d, MinScanInterval, MaxScanInterval)
		}
		cfg.scanInterval = d

		return nil
	})
}

// WithQueueSize sets the pending queue preallocation.
func WithQueueSize(n int) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		if n < 1 {
			return fmt.Errorf("arduino: queue size %d must be positive", n)
		}
		cfg.queueSize = n

		return nil
	})
}

// WithEventBufferSize sets the per-subscriber event channel depth.
func WithEventBufferSize(n int) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		if n < 1 {
			return fmt.Errorf("arduino: event buffer size %d must be positive", n)
		}
		cfg.eventBufSize = n

		return nil
	})
}

// WithVerbose raises the logger to debug level for this connection.
func WithVerbose(enabled bool) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		cfg.verbose = enabled
		return nil
	})
}

// WithLogger sets the logger for this connection and its collaborators.
func WithLogger(l logger.Logger) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		if l == nil {
			return fmt.Errorf("arduino: logger cannot be nil")
		}
		cfg.logger = l

		return nil
	})
}

// WithTransportOpener overrides how serial ports are opened. Tests inject
// fakes through this hook.
func WithTransportOpener(open transport.Opener) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		if open == nil {
			return fmt.Errorf("arduino: transport opener cannot be nil")
		}
		cfg.opener = open

		return nil
	})
}

// WithFlasher overrides the firmware flasher. Without this option a board
// configured via WithBoard gets an avrdude flasher derived from the catalog
// entry.
func WithFlasher(f flash.Flasher) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		if f == nil {
			return fmt.Errorf("arduino: flasher cannot be nil")
		}
		cfg.flasher = f

		return nil
	})
}

// WithListFunc overrides how the device list is enumerated during
// discovery. Tests inject fakes through this hook.
func WithListFunc(fn scanner.ListFunc) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		if fn == nil {
			return fmt.Errorf("arduino: list function cannot be nil")
		}
		cfg.list = fn

		return nil
	})
}
