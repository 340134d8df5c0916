package arduino

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UBCSailbot/arduino-interface/logger"
)

func TestRebooter_PulseSequence(t *testing.T) {
	port := newFakePort()
	r := newRebooter(30*time.Millisecond, 15*time.Millisecond, logger.GetLogger())

	start := time.Now()
	require.NoError(t, r.run(context.Background(), port))
	elapsed := time.Since(start)

	want := []signalCall{
		{line: "dtr", asserted: true},
		{line: "rts", asserted: true},
		{line: "dtr", asserted: false},
		{line: "rts", asserted: false},
	}
	assert.Equal(t, want, port.signalCalls(), "assert both, hold, deassert both")
	assert.GreaterOrEqual(t, elapsed, 45*time.Millisecond, "hold and settle delays both elapse")
}

func TestRebooter_SignalFailureStillCompletes(t *testing.T) {
	port := newFakePort()
	port.failDTR(assert.AnError)
	r := newRebooter(20*time.Millisecond, 10*time.Millisecond, logger.GetLogger())

	start := time.Now()
	err := r.run(context.Background(), port)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "set DTR true")
	assert.Contains(t, err.Error(), "set DTR false")

	// RTS was still driven through the full pulse
	want := []signalCall{
		{line: "rts", asserted: true},
		{line: "rts", asserted: false},
	}
	assert.Equal(t, want, port.signalCalls())
	assert.GreaterOrEqual(t, elapsed, 30*time.Millisecond, "timing steps run even when a signal fails")
}

func TestRebooter_ContextCancelAbortsHold(t *testing.T) {
	port := newFakePort()
	r := newRebooter(5*time.Second, 10*time.Millisecond, logger.GetLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := r.run(ctx, port)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
	assert.Len(t, port.signalCalls(), 2, "cancellation lands during the hold, before deassert")
}
