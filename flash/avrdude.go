package flash

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/UBCSailbot/arduino-interface/logger"
	"github.com/UBCSailbot/arduino-interface/scanner"
)

// DefaultAvrdudeBinary is the executable looked up on PATH when no explicit
// binary is configured.
const DefaultAvrdudeBinary = "avrdude"

// AvrdudeFlasher flashes AVR based boards by invoking the avrdude CLI with
// the MCU, programmer, and upload baud rate from the board catalog.
type AvrdudeFlasher struct {
	board    scanner.Board
	binary   string
	confPath string
	verbose  bool
	logger   logger.Logger

	// runCommand is replaced in tests to avoid spawning processes.
	runCommand func(ctx context.Context, name string, args ...string) error
}

var _ Flasher = (*AvrdudeFlasher)(nil)

// AvrdudeOption configures an AvrdudeFlasher.
type AvrdudeOption func(*AvrdudeFlasher)

// WithBinary overrides the avrdude executable path.
func WithBinary(path string) AvrdudeOption {
	return func(f *AvrdudeFlasher) {
		if path != "" {
			f.binary = path
		}
	}
}

// WithConfigFile passes an explicit avrdude.conf via -C.
func WithConfigFile(path string) AvrdudeOption {
	return func(f *AvrdudeFlasher) { f.confPath = path }
}

// WithVerbose enables avrdude's verbose output.
func WithVerbose(v bool) AvrdudeOption {
	return func(f *AvrdudeFlasher) { f.verbose = v }
}

// WithLogger sets the logger for upload progress messages.
func WithLogger(l logger.Logger) AvrdudeOption {
	return func(f *AvrdudeFlasher) {
		if l != nil {
			f.logger = l
		}
	}
}

// NewAvrdudeFlasher creates a Flasher for the given board.
func NewAvrdudeFlasher(board scanner.Board, opts ...AvrdudeOption) *AvrdudeFlasher {
	f := &AvrdudeFlasher{
		board:  board,
		binary: DefaultAvrdudeBinary,
		logger: logger.GetLogger(),
	}
	f.runCommand = f.execCommand

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Flash uploads the Intel hex image at imagePath to the board at portPath.
func (f *AvrdudeFlasher) Flash(ctx context.Context, portPath string, imagePath string) error {
	if portPath == "" {
		return fmt.Errorf("%w: no port path", ErrFlashFailed)
	}
	if _, err := os.Stat(imagePath); err != nil {
		return fmt.Errorf("%w: image %s: %w", ErrFlashFailed, imagePath, err)
	}

	args := f.buildArgs(portPath, imagePath)
	f.logger.Info("flash: starting upload",
		"board", f.board.Name, "port", portPath, "image", imagePath)

	if err := f.runCommand(ctx, f.binary, args...); err != nil {
		return err
	}

	f.logger.Info("flash: upload complete", "board", f.board.Name, "port", portPath)

	return nil
}

// buildArgs assembles the avrdude argument list, mirroring the invocation the
// Arduino IDE uses for catalog boards.
func (f *AvrdudeFlasher) buildArgs(portPath, imagePath string) []string {
	args := make([]string, 0, 12)

	if f.confPath != "" {
		args = append(args, "-C", f.confPath)
	}
	if f.verbose {
		args = append(args, "-v")
	}

	args = append(args,
		"-p", f.board.MCU,
		"-c", f.board.Programmer,
		"-P", portPath,
	)
	if f.board.UploadBaud > 0 {
		args = append(args, "-b", strconv.Itoa(f.board.UploadBaud))
	}

	// -D skips the chip erase; flash pages are rewritten by the upload
	return append(args, "-D", "-U", "flash:w:"+imagePath+":i")
}

func (f *AvrdudeFlasher) execCommand(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", ErrFlashFailed, ctx.Err())
		}
		return fmt.Errorf("%w: %w: %s", ErrFlashFailed, err, bytes.TrimSpace(stderr.Bytes()))
	}

	return nil
}
