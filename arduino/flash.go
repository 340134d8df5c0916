package arduino

import (
	"context"
	"fmt"
	"time"

	"github.com/UBCSailbot/arduino-interface/internal/pool"
	"github.com/UBCSailbot/arduino-interface/internal/util"
)

// flashConfig holds the per-call flash options.
type flashConfig struct {
	preFlash []byte
	settle   time.Duration
}

// FlashOption configures a single Flash call.
type FlashOption interface {
	apply(*flashConfig) error
}

type flashOptFunc func(*flashConfig) error

func (f flashOptFunc) apply(cfg *flashConfig) error { return f(cfg) }

// WithPreFlashCommand writes body through the normal exchange mode right
// before the port closes, giving the running sketch a chance to park its
// hardware. A write failure is logged and does not abort the flash.
func WithPreFlashCommand(body []byte) FlashOption {
	return flashOptFunc(func(cfg *flashConfig) error {
		cfg.preFlash = util.CloneSlice(body, 0)
		return nil
	})
}

// WithFlashSettle sets the pause between the pre-flash command and the port
// close. The default is DefaultFlashSettle; must be in
// (0, MaxHoldDuration].
func WithFlashSettle(d time.Duration) FlashOption {
	return flashOptFunc(func(cfg *flashConfig) error {
		if d <= 0 || d > MaxHoldDuration {
			return fmt.Errorf("arduino: flash settle %v out of range (0, %v]", d, MaxHoldDuration)
		}
		cfg.settle = d

		return nil
	})
}

// Flash uploads the firmware image at imagePath to the device. The
// connection surrenders the port for the duration of the upload; pending
// confirmed sends fail with ErrConnClosed. Afterward the link is
// re-established automatically when Connect was active, otherwise the
// connection returns to idle.
//
// While the flash runs, Disconnect, Close, Reboot and a second Flash are
// refused with ErrFlashInProgress. A transport failure during the upload
// propagates to the caller; there is no automatic recovery mid-flash.
func (c *Connection) Flash(ctx context.Context, imagePath string, opts ...FlashOption) error {
	if c.shutdown.Load() {
		return ErrConnClosed
	}
	if c.flasher == nil {
		return ErrNoFlasher
	}

	fcfg := flashConfig{settle: DefaultFlashSettle}
	for _, opt := range opts {
		if err := opt.apply(&fcfg); err != nil {
			return err
		}
	}

	if !c.flashing.CompareAndSwap(false, true) {
		return ErrFlashInProgress
	}
	defer c.flashing.Store(false)

	if err := c.stateMgr.ToFlashing(); err != nil {
		return err
	}

	// Quiesce all link activity before surrendering the port.
	c.scanner.Stop()
	c.taskMgr.Stop()
	c.taskMgr.Wait()

	if c.getPort() != nil {
		if len(fcfg.preFlash) > 0 {
			if err := c.WriteAndDrain(fcfg.preFlash); err != nil {
				c.logger.Warn("pre-flash command failed", "error", err)
			}
		}
		c.waitSettle(ctx, fcfg.settle)
		if err := c.closePort(); err != nil {
			c.logger.Debug("failed to close port before flash", "error", err)
		}
	}
	c.ack.close(ErrConnClosed)

	path := c.PortPath()
	if path == "" {
		// Flashing without a prior connect: locate the board first.
		info, err := c.scanner.Find(ctx)
		if err != nil {
			c.finishFlash()
			return err
		}
		c.setPortPath(info.Path)
		path = info.Path
	}

	c.logger.Info("flashing firmware", "path", path, "image", imagePath)
	err := c.flasher.Flash(ctx, path, imagePath)
	if err != nil {
		c.logger.Error("flash failed", "path", path, "error", err)
		c.emitEvent(Event{Type: EventError, Err: err})
	} else {
		c.logger.Info("flash finished", "path", path)
	}

	c.finishFlash()

	return err
}

// finishFlash clears the flash guard and restores link activity. The
// reconnect intent is read live, so a Connect issued during the flash takes
// effect now.
func (c *Connection) finishFlash() {
	c.flashing.Store(false)

	if c.userConnect.Load() && !c.shutdown.Load() {
		c.stateMgr.ToScanningAsync()
	} else {
		c.stateMgr.ToIdleAsync()
	}
}

func (c *Connection) waitSettle(ctx context.Context, d time.Duration) {
	t := pool.GetTimer(d)
	defer pool.PutTimer(t)

	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
