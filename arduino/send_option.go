package arduino

import (
	"fmt"
	"time"
)

// Priority selects how a message behaves under queue contention.
type Priority uint8

const (
	// HighPriority messages wait their turn and retry on failure until the
	// attempt budget runs out. This is the default.
	HighPriority Priority = iota
	// LowPriority messages are discarded instead of waiting behind other
	// messages or retrying after a failure.
	LowPriority
)

// String returns string representation of the priority tier.
func (p Priority) String() string {
	switch p {
	case HighPriority:
		return "high"
	case LowPriority:
		return "low"
	default:
		return "unknown"
	}
}

// sendPolicy is the resolved delivery policy for a single message.
type sendPolicy struct {
	attempts int
	timeout  time.Duration
	priority Priority
}

// SendOption overrides the connection's default delivery policy for a single
// message.
type SendOption interface {
	apply(*sendPolicy) error
}

type sendOptFunc func(*sendPolicy) error

func (f sendOptFunc) apply(p *sendPolicy) error { return f(p) }

// WithAttempts sets the retry budget for one message; n retries follow the
// initial write, so n+1 write attempts happen in total. Must be in
// [0, MaxSendAttempts].
func WithAttempts(n int) SendOption {
	return sendOptFunc(func(p *sendPolicy) error {
		if n < 0 || n > MaxSendAttempts {
			return fmt.Errorf("arduino: attempts %d out of range [0, %d]", n, MaxSendAttempts)
		}
		p.attempts = n

		return nil
	})
}

// WithPriority sets the priority tier for one message.
func WithPriority(priority Priority) SendOption {
	return sendOptFunc(func(p *sendPolicy) error {
		if priority > LowPriority {
			return fmt.Errorf("arduino: unknown priority %d", priority)
		}
		p.priority = priority

		return nil
	})
}

// WithTimeout sets the per-attempt acknowledgment timeout for one message.
// Must be in [MinAckTimeout, MaxAckTimeout].
func WithTimeout(d time.Duration) SendOption {
	return sendOptFunc(func(p *sendPolicy) error {
		if d < MinAckTimeout || d > MaxAckTimeout {
			return fmt.Errorf("arduino: ack timeout %v out of range [%v, %v]", d, MinAckTimeout, MaxAckTimeout)
		}
		p.timeout = d

		return nil
	})
}
