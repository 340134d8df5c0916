package scanner

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// staticList returns the same port list on every poll.
func staticList(ports ...PortInfo) ListFunc {
	return func() ([]PortInfo, error) {
		return ports, nil
	}
}

func TestScanner_Find_ImmediateMatch(t *testing.T) {
	uno, _ := LookupBoard("uno")
	s := NewScanner(
		WithBoard(uno),
		WithInterval(10*time.Millisecond),
		WithListFunc(staticList(
			PortInfo{Path: "/dev/ttyS0", IsUSB: false},
			PortInfo{Path: "/dev/ttyACM0", VID: "2341", PID: "0043", IsUSB: true},
		)),
	)

	info, err := s.Find(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM0", info.Path)
}

func TestScanner_Find_PollsUntilMatch(t *testing.T) {
	var polls atomic.Int32
	list := func() ([]PortInfo, error) {
		if polls.Add(1) < 3 {
			return nil, nil
		}
		return []PortInfo{{Path: "/dev/ttyUSB0", VID: "1A86", PID: "7523", IsUSB: true}}, nil
	}

	nano, _ := LookupBoard("nano")
	s := NewScanner(WithBoard(nano), WithInterval(5*time.Millisecond), WithListFunc(list))

	info, err := s.Find(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB0", info.Path)
	assert.GreaterOrEqual(t, polls.Load(), int32(3))
}

func TestScanner_Find_AnyUSBWithoutBoard(t *testing.T) {
	s := NewScanner(
		WithInterval(5*time.Millisecond),
		WithListFunc(staticList(
			PortInfo{Path: "/dev/ttyS0", IsUSB: false},
			PortInfo{Path: "/dev/ttyUSB3", VID: "16C0", PID: "0483", IsUSB: true},
		)),
	)

	info, err := s.Find(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB3", info.Path, "first USB port wins when no board is configured")
}

func TestScanner_Find_SkipsWrongBoard(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	uno, _ := LookupBoard("uno")
	s := NewScanner(
		WithBoard(uno),
		WithInterval(5*time.Millisecond),
		WithListFunc(staticList(
			PortInfo{Path: "/dev/ttyACM1", VID: "2341", PID: "0042", IsUSB: true}, // mega
		)),
	)

	_, err := s.Find(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStopped)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestScanner_Find_AlreadyScanning(t *testing.T) {
	s := NewScanner(WithInterval(5*time.Millisecond), WithListFunc(staticList()))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.Find(context.Background())
	}()

	// let the first Find take the guard
	time.Sleep(20 * time.Millisecond)

	_, err := s.Find(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyScanning)

	s.Stop()
	<-done
}

func TestScanner_Stop(t *testing.T) {
	s := NewScanner(WithInterval(5*time.Millisecond), WithListFunc(staticList()))

	errCh := make(chan error, 1)
	go func() {
		_, err := s.Find(context.Background())
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	s.Stop()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrStopped)
	case <-time.After(time.Second):
		t.Fatal("Find did not return after Stop")
	}

	// the scanner is reusable after a stopped Find
	s2list := staticList(PortInfo{Path: "/dev/ttyUSB0", VID: "0403", PID: "6001", IsUSB: true})
	s = NewScanner(WithInterval(5*time.Millisecond), WithListFunc(s2list))
	info, err := s.Find(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB0", info.Path)
}

func TestScanner_ListErrorRetries(t *testing.T) {
	var polls atomic.Int32
	list := func() ([]PortInfo, error) {
		if polls.Add(1) == 1 {
			return nil, assert.AnError
		}
		return []PortInfo{{Path: "/dev/ttyACM0", VID: "2341", PID: "8036", IsUSB: true}}, nil
	}

	leonardo, _ := LookupBoard("leonardo")
	s := NewScanner(WithBoard(leonardo), WithInterval(5*time.Millisecond), WithListFunc(list))

	info, err := s.Find(context.Background())
	require.NoError(t, err, "a failed poll should not abort discovery")
	assert.Equal(t, "/dev/ttyACM0", info.Path)
}
