package arduino

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/UBCSailbot/arduino-interface/logger"
)

// ConnState represents the lifecycle stage of a device connection.
type ConnState uint32

// Connection states representing the stages of a device connection.
const (
	// IdleState indicates no link activity; the connection is at rest.
	IdleState ConnState = iota
	// ScanningState indicates the device list is being polled for a match.
	ScanningState
	// ConnectingState indicates a port was discovered and is being opened.
	ConnectingState
	// ConnectedState indicates the serial link is open and ready.
	ConnectedState
	// RebootingState indicates the auto-reset pulse is being driven.
	RebootingState
	// FlashingState indicates a firmware upload owns the device.
	FlashingState
	// DisconnectedState indicates the link was lost and teardown is running.
	DisconnectedState
)

// IsIdle returns if the current state is idle.
func (cs ConnState) IsIdle() bool { return cs == IdleState }

// IsScanning returns if the current state is scanning.
func (cs ConnState) IsScanning() bool { return cs == ScanningState }

// IsConnecting returns if the current state is connecting.
func (cs ConnState) IsConnecting() bool { return cs == ConnectingState }

// IsConnected returns if the current state is connected.
func (cs ConnState) IsConnected() bool { return cs == ConnectedState }

// IsRebooting returns if the current state is rebooting.
func (cs ConnState) IsRebooting() bool { return cs == RebootingState }

// IsFlashing returns if the current state is flashing.
func (cs ConnState) IsFlashing() bool { return cs == FlashingState }

// IsDisconnected returns if the current state is disconnected.
func (cs ConnState) IsDisconnected() bool { return cs == DisconnectedState }

// String returns string representation of the current state.
func (cs ConnState) String() string {
	switch cs {
	case IdleState:
		return "idle"
	case ScanningState:
		return "scanning"
	case ConnectingState:
		return "connecting"
	case ConnectedState:
		return "connected"
	case RebootingState:
		return "rebooting"
	case FlashingState:
		return "flashing"
	case DisconnectedState:
		return "disconnected"
	default:
		return "unknown"
	}
}

// connStateChangeHandler is invoked when the connection state changes.
//
// Handlers run while the state manager lock is held; they must not call the
// synchronous To* transition methods and should use the Async variants to
// trigger follow-up transitions.
type connStateChangeHandler func(prevState ConnState, newState ConnState)

// connStateMgr manages the connection state machine.
//
// It provides methods for state transitions and notifies handlers of state
// changes. Transitions are safe for concurrent use.
type connStateMgr struct {
	mu               sync.Mutex
	ctx              context.Context
	cond             *sync.Cond
	state            atomic.Uint32
	logger           logger.Logger
	asyncStateChange chan ConnState
	handlers         []connStateChangeHandler
}

// newConnStateMgr creates a connStateMgr initialized to IdleState. The
// background transition task runs until ctx is cancelled.
func newConnStateMgr(ctx context.Context, l logger.Logger, handlers ...connStateChangeHandler) *connStateMgr {
	mgr := &connStateMgr{
		ctx:              ctx,
		logger:           l,
		asyncStateChange: make(chan ConnState, 10),
		handlers:         make([]connStateChangeHandler, 0, len(handlers)),
	}
	mgr.handlers = append(mgr.handlers, handlers...)

	mgr.state.Store(uint32(IdleState))
	mgr.cond = sync.NewCond(&mgr.mu)

	go mgr.asyncStateChangeTask()

	return mgr
}

// State returns the current connection state.
func (cs *connStateMgr) State() ConnState {
	return ConnState(cs.state.Load())
}

// AddHandler adds one or more handlers to be invoked on state changes.
func (cs *connStateMgr) AddHandler(handlers ...connStateChangeHandler) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.handlers = append(cs.handlers, handlers...)
}

// WaitState waits for the connection state to reach the specified state or
// until the context is done. It returns nil if the desired state is reached,
// or the context error otherwise.
func (cs *connStateMgr) WaitState(ctx context.Context, state ConnState) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.State() == state {
		return nil
	}

	stopFunc := context.AfterFunc(ctx, func() {
		cs.cond.Broadcast()
	})
	defer stopFunc()

	for cs.State() != state {
		select {
		case <-ctx.Done():
			cs.logger.Debug("wait connection state cancelled",
				"cur_state", cs.State(), "desired_state", state,
			)
			return ctx.Err()
		default:
			cs.cond.Wait()
		}
	}

	return nil
}

// ToIdle transitions to IdleState. This transition is allowed from any state
// and represents a full teardown of link activity.
func (cs *connStateMgr) ToIdle() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	curState := cs.State()
	if curState.IsIdle() {
		return
	}

	// change state to idle BEFORE the handlers run
	cs.setState(IdleState)

	cs.invokeHandlers(curState, IdleState)
}

// ToScanning transitions to ScanningState and is allowed from IdleState,
// DisconnectedState, ConnectingState (open retry) and FlashingState
// (post-flash reconnect). If the state is already ScanningState, the
// function is a no-op.
//
// Returns nil on success, or ErrInvalidTransition.
func (cs *connStateMgr) ToScanning() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	curState := cs.State()
	if curState.IsScanning() {
		return nil
	}

	switch curState {
	case IdleState, DisconnectedState, ConnectingState, FlashingState:
	default:
		return ErrInvalidTransition
	}

	cs.invokeHandlers(curState, ScanningState)
	// change state after all handlers finished
	cs.setState(ScanningState)

	return nil
}

// ToConnecting transitions to ConnectingState. Only allowed from
// ScanningState, after discovery reported a port.
//
// Returns nil on success, or ErrInvalidTransition.
func (cs *connStateMgr) ToConnecting() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	curState := cs.State()
	if curState.IsConnecting() {
		return nil
	}

	if !curState.IsScanning() {
		return ErrInvalidTransition
	}

	cs.invokeHandlers(curState, ConnectingState)
	// change state after all handlers finished
	cs.setState(ConnectingState)

	return nil
}

// ToRebooting transitions to RebootingState. Only allowed from
// ConnectedState; the pulse that follows a port open runs within
// ConnectingState and never enters this state.
//
// Returns nil on success, or ErrInvalidTransition.
func (cs *connStateMgr) ToRebooting() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	curState := cs.State()
	if curState.IsRebooting() {
		return nil
	}

	if !curState.IsConnected() {
		return ErrInvalidTransition
	}

	cs.invokeHandlers(curState, RebootingState)
	// change state after all handlers finished
	cs.setState(RebootingState)

	return nil
}

// ToConnected transitions to ConnectedState. Allowed from ConnectingState
// and RebootingState.
//
// Returns nil on success, or ErrInvalidTransition.
func (cs *connStateMgr) ToConnected() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	curState := cs.State()
	if curState.IsConnected() {
		return nil
	}

	if !curState.IsConnecting() && !curState.IsRebooting() {
		return ErrInvalidTransition
	}

	cs.invokeHandlers(curState, ConnectedState)
	// change state after all handlers finished
	cs.setState(ConnectedState)

	return nil
}

// ToFlashing transitions to FlashingState. Allowed from IdleState,
// ScanningState and ConnectedState; a flash never interrupts an open or
// reboot already in progress.
//
// Returns nil on success, or ErrInvalidTransition.
func (cs *connStateMgr) ToFlashing() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	curState := cs.State()
	if curState.IsFlashing() {
		return nil
	}

	switch curState {
	case IdleState, ScanningState, ConnectedState:
	default:
		return ErrInvalidTransition
	}

	cs.invokeHandlers(curState, FlashingState)
	// change state after all handlers finished
	cs.setState(FlashingState)

	return nil
}

// ToDisconnected transitions to DisconnectedState. Allowed from any of the
// link-active states and represents a lost or closed transport.
func (cs *connStateMgr) ToDisconnected() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	curState := cs.State()
	if curState.IsDisconnected() {
		return nil
	}

	switch curState {
	case ScanningState, ConnectingState, ConnectedState, RebootingState:
	default:
		return ErrInvalidTransition
	}

	// change state to disconnected BEFORE the handlers run
	cs.setState(DisconnectedState)

	cs.invokeHandlers(curState, DisconnectedState)

	return nil
}

// ToIdleAsync transitions to IdleState asynchronously.
func (cs *connStateMgr) ToIdleAsync() {
	cs.changeStateAsync(IdleState)
}

// ToScanningAsync transitions to ScanningState asynchronously.
func (cs *connStateMgr) ToScanningAsync() {
	cs.changeStateAsync(ScanningState)
}

// ToDisconnectedAsync transitions to DisconnectedState asynchronously.
func (cs *connStateMgr) ToDisconnectedAsync() {
	cs.changeStateAsync(DisconnectedState)
}

// setState atomically sets the current state and broadcasts a signal to any
// waiting goroutines.
func (cs *connStateMgr) setState(newState ConnState) {
	cs.state.Store(uint32(newState))
	cs.cond.Broadcast()
}

// invokeHandlers invokes all registered handlers with the previous and new
// states.
func (cs *connStateMgr) invokeHandlers(prevState ConnState, newState ConnState) {
	for _, handler := range cs.handlers {
		if handler != nil {
			handler(prevState, newState)
		}
	}
}

// changeStateAsync queues the desired state for the background transition
// task. If the state equals the current state, the function is a no-op.
func (cs *connStateMgr) changeStateAsync(state ConnState) {
	if cs.State() == state {
		return
	}

	select {
	case cs.asyncStateChange <- state:
	case <-cs.ctx.Done():
	}
}

// asyncStateChangeTask handles state changes in the background.
func (cs *connStateMgr) asyncStateChangeTask() {
	defer cs.logger.Debug("asyncStateChangeTask terminated")

	for {
		select {
		case <-cs.ctx.Done():
			return

		case desiredState := <-cs.asyncStateChange:
			prevState := cs.State()
			if desiredState == prevState {
				break
			}

			var err error
			switch desiredState {
			case IdleState:
				cs.ToIdle()
			case ScanningState:
				err = cs.ToScanning()
			case ConnectingState:
				err = cs.ToConnecting()
			case ConnectedState:
				err = cs.ToConnected()
			case RebootingState:
				err = cs.ToRebooting()
			case FlashingState:
				err = cs.ToFlashing()
			case DisconnectedState:
				err = cs.ToDisconnected()
			}

			if err != nil {
				cs.logger.Error("async connection state change failed",
					"prevState", prevState, "curState", cs.State(), "desiredState", desiredState,
					"error", err,
				)
			}
		}
	}
}
