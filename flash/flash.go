// Package flash uploads firmware images to microcontroller boards. The
// connection layer only sequences flashing (closing the port, delegating,
// reconnecting); the actual upload runs through a Flasher implementation,
// normally the avrdude CLI.
package flash

import (
	"context"
	"errors"
)

// ErrFlashFailed indicates the underlying flash tool exited with an error.
var ErrFlashFailed = errors.New("flash: upload failed")

// Flasher uploads the firmware image at imagePath to the board attached at
// portPath. Implementations must respect ctx cancellation; the port is closed
// before Flash is called and reopened after it returns.
type Flasher interface {
	Flash(ctx context.Context, portPath string, imagePath string) error
}

// FlasherFunc adapts a function to the Flasher interface.
type FlasherFunc func(ctx context.Context, portPath string, imagePath string) error

// Flash calls fn.
func (fn FlasherFunc) Flash(ctx context.Context, portPath string, imagePath string) error {
	return fn(ctx, portPath, imagePath)
}
