package arduino

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/UBCSailbot/arduino-interface/internal/pool"
	"github.com/UBCSailbot/arduino-interface/logger"
	"github.com/UBCSailbot/arduino-interface/transport"
)

// rebootStep enumerates the stages of the auto-reset pulse.
type rebootStep uint8

const (
	stepAssert rebootStep = iota
	stepHold
	stepDeassert
	stepSettle
	stepDone
)

// String returns string representation of the reboot step.
func (s rebootStep) String() string {
	switch s {
	case stepAssert:
		return "assert"
	case stepHold:
		return "hold"
	case stepDeassert:
		return "deassert"
	case stepSettle:
		return "settle"
	case stepDone:
		return "done"
	default:
		return "unknown"
	}
}

// rebooter drives the DTR and RTS control lines to trigger the board's
// auto-reset circuit: assert both, hold, deassert both, settle.
type rebooter struct {
	hold   time.Duration
	settle time.Duration
	logger logger.Logger
}

func newRebooter(hold, settle time.Duration, l logger.Logger) *rebooter {
	return &rebooter{
		hold:   hold,
		settle: settle,
		logger: l,
	}
}

// run executes the reset pulse on port. Signal failures never abort the
// sequence; the timing steps always complete and the collected failures are
// returned at the end. Context cancellation aborts a hold early.
func (r *rebooter) run(ctx context.Context, port transport.Port) error {
	var errs []error

	for step := stepAssert; step < stepDone; step++ {
		r.logger.Debug("reboot step", "step", step)

		switch step {
		case stepAssert:
			r.setSignals(port, true, &errs)
		case stepHold:
			if err := r.wait(ctx, r.hold); err != nil {
				return err
			}
		case stepDeassert:
			r.setSignals(port, false, &errs)
		case stepSettle:
			if err := r.wait(ctx, r.settle); err != nil {
				return err
			}
		case stepDone:
		}
	}

	return errors.Join(errs...)
}

// setSignals sets both control lines, collecting failures instead of
// stopping at the first one.
func (r *rebooter) setSignals(port transport.Port, asserted bool, errs *[]error) {
	if err := port.SetDTR(asserted); err != nil {
		r.logger.Warn("failed to set DTR", "asserted", asserted, "error", err)
		*errs = append(*errs, fmt.Errorf("set DTR %t: %w", asserted, err))
	}
	if err := port.SetRTS(asserted); err != nil {
		r.logger.Warn("failed to set RTS", "asserted", asserted, "error", err)
		*errs = append(*errs, fmt.Errorf("set RTS %t: %w", asserted, err))
	}
}

func (r *rebooter) wait(ctx context.Context, d time.Duration) error {
	t := pool.GetTimer(d)
	defer pool.PutTimer(t)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
