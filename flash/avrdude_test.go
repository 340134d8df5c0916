package flash

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UBCSailbot/arduino-interface/scanner"
)

// writeTestImage creates a dummy hex image and returns its path.
func writeTestImage(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "firmware.hex")
	require.NoError(t, os.WriteFile(path, []byte(":00000001FF\n"), 0o644))

	return path
}

func TestAvrdudeFlasher_BuildArgs(t *testing.T) {
	uno, _ := scanner.LookupBoard("uno")

	t.Run("basic invocation", func(t *testing.T) {
		f := NewAvrdudeFlasher(uno)
		args := f.buildArgs("/dev/ttyACM0", "fw.hex")

		assert.Equal(t, []string{
			"-p", "atmega328p",
			"-c", "arduino",
			"-P", "/dev/ttyACM0",
			"-b", "115200",
			"-D", "-U", "flash:w:fw.hex:i",
		}, args)
	})

	t.Run("config file and verbose", func(t *testing.T) {
		f := NewAvrdudeFlasher(uno, WithConfigFile("/etc/avrdude.conf"), WithVerbose(true))
		args := f.buildArgs("/dev/ttyACM0", "fw.hex")

		assert.Equal(t, "-C", args[0])
		assert.Equal(t, "/etc/avrdude.conf", args[1])
		assert.Equal(t, "-v", args[2])
	})

	t.Run("mega uses wiring programmer", func(t *testing.T) {
		mega, _ := scanner.LookupBoard("mega")
		f := NewAvrdudeFlasher(mega)
		args := f.buildArgs("/dev/ttyACM1", "fw.hex")

		assert.Contains(t, args, "atmega2560")
		assert.Contains(t, args, "wiring")
	})
}

func TestAvrdudeFlasher_Flash(t *testing.T) {
	uno, _ := scanner.LookupBoard("uno")
	image := writeTestImage(t)

	t.Run("runs the command", func(t *testing.T) {
		f := NewAvrdudeFlasher(uno, WithBinary("/opt/avrdude"))

		var gotName string
		var gotArgs []string
		f.runCommand = func(ctx context.Context, name string, args ...string) error {
			gotName = name
			gotArgs = args
			return nil
		}

		err := f.Flash(context.Background(), "/dev/ttyACM0", image)
		require.NoError(t, err)
		assert.Equal(t, "/opt/avrdude", gotName)
		assert.Contains(t, gotArgs, "flash:w:"+image+":i")
	})

	t.Run("command failure wraps ErrFlashFailed", func(t *testing.T) {
		f := NewAvrdudeFlasher(uno)
		f.runCommand = func(ctx context.Context, name string, args ...string) error {
			return ErrFlashFailed
		}

		err := f.Flash(context.Background(), "/dev/ttyACM0", image)
		assert.ErrorIs(t, err, ErrFlashFailed)
	})

	t.Run("missing image rejected before running", func(t *testing.T) {
		f := NewAvrdudeFlasher(uno)

		ran := false
		f.runCommand = func(ctx context.Context, name string, args ...string) error {
			ran = true
			return nil
		}

		err := f.Flash(context.Background(), "/dev/ttyACM0", filepath.Join(t.TempDir(), "missing.hex"))
		assert.ErrorIs(t, err, ErrFlashFailed)
		assert.False(t, ran)
	})

	t.Run("empty port rejected", func(t *testing.T) {
		f := NewAvrdudeFlasher(uno)
		err := f.Flash(context.Background(), "", image)
		assert.ErrorIs(t, err, ErrFlashFailed)
	})
}

func TestFlasherFunc(t *testing.T) {
	called := false
	var f Flasher = FlasherFunc(func(ctx context.Context, portPath, imagePath string) error {
		called = true
		return nil
	})

	require.NoError(t, f.Flash(context.Background(), "/dev/ttyACM0", "fw.hex"))
	assert.True(t, called)
}
