package arduino

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/UBCSailbot/arduino-interface/flash"
	"github.com/UBCSailbot/arduino-interface/frame"
	"github.com/UBCSailbot/arduino-interface/internal/pool"
	"github.com/UBCSailbot/arduino-interface/internal/task"
	"github.com/UBCSailbot/arduino-interface/internal/util"
	"github.com/UBCSailbot/arduino-interface/logger"
	"github.com/UBCSailbot/arduino-interface/scanner"
	"github.com/UBCSailbot/arduino-interface/transport"
)

const (
	// pollTimeout bounds each port read so the read pump can observe
	// shutdown between chunks.
	pollTimeout = 50 * time.Millisecond

	// readBufSize is the read pump chunk size.
	readBufSize = 4096

	// deferPollInterval paces the connect-after-flash polling loop.
	deferPollInterval = 100 * time.Millisecond

	// Open retry backoff. Discovery returning a port that will not open
	// would otherwise spin at the scan interval.
	initialRetryDelay = 100 * time.Millisecond
	maxRetryDelay     = 5 * time.Second
)

// Connection manages one serial device: discovery, link bring-up with an
// auto-reset pulse, message exchange in binary or text mode, confirmed
// delivery, firmware flashing and self-healing reconnects.
//
// Create it with NewConnection, start it with Connect and release it with
// Close. All methods are safe for concurrent use.
type Connection struct {
	pctx      context.Context
	ctx       context.Context
	ctxCancel context.CancelFunc

	cfg     *Config
	logger  logger.Logger
	metrics ConnectionMetrics

	stateMgr *connStateMgr
	taskMgr  *task.TaskManager

	scanner  *scanner.Scanner
	flasher  flash.Flasher
	rebooter *rebooter
	events   *eventHub
	ack      *ackQueue

	decMu       sync.Mutex
	binDecoder  *frame.Decoder
	textDecoder *frame.TextDecoder

	portMu   sync.RWMutex
	port     transport.Port
	portPath string

	// userConnect is the reconnect intent: set by Connect, cleared by
	// Disconnect and Close. A lost link only heals while it is set.
	userConnect atomic.Bool
	shutdown    atomic.Bool
	flashing    atomic.Bool
	rebootGuard atomic.Bool

	retryDelay time.Duration
	readBuf    []byte
}

// NewConnection creates a device connection from cfg. The connection owns
// no port until Connect discovers one.
func NewConnection(ctx context.Context, cfg *Config) (*Connection, error) {
	if cfg == nil {
		return nil, errors.New("arduino: config cannot be nil")
	}

	c := &Connection{
		pctx:       ctx,
		cfg:        cfg,
		logger:     cfg.logger,
		retryDelay: initialRetryDelay,
		readBuf:    make([]byte, readBufSize),
	}
	if cfg.verbose {
		c.logger.SetLevel(logger.DebugLevel)
	}

	c.ctx, c.ctxCancel = context.WithCancel(ctx)

	scanOpts := []scanner.Option{
		scanner.WithInterval(cfg.scanInterval),
		scanner.WithLogger(c.logger),
	}
	if cfg.board != "" {
		scanOpts = append(scanOpts, scanner.WithBoard(cfg.boardInfo))
	}
	if cfg.list != nil {
		scanOpts = append(scanOpts, scanner.WithListFunc(cfg.list))
	}
	c.scanner = scanner.NewScanner(scanOpts...)

	c.flasher = cfg.flasher
	if c.flasher == nil && cfg.board != "" {
		c.flasher = flash.NewAvrdudeFlasher(cfg.boardInfo,
			flash.WithLogger(c.logger),
			flash.WithVerbose(cfg.verbose),
		)
	}

	c.rebooter = newRebooter(cfg.rebootHold, cfg.rebootSettle, c.logger)
	c.events = newEventHub(cfg.eventBufSize, c.metrics.incEventDropCount)
	c.ack = newAckQueue(cfg, c.writeFramedRaw, c.emitEvent, &c.metrics, c.logger)

	c.binDecoder = frame.NewDecoder(c.handleBinaryMessage, c.handleDecodeError)
	c.textDecoder = frame.NewTextDecoder(cfg.startChar, cfg.checksum, c.handleTextMessage, c.handleDecodeError)

	c.taskMgr = task.NewTaskManager(c.ctx, c.logger)
	c.stateMgr = newConnStateMgr(c.ctx, c.logger, c.connStateHandler)

	return c, nil
}

// Connect starts device discovery and link bring-up, or is a no-op when the
// link is already being established. While a flash owns the device the
// start of discovery is deferred until the flash finishes.
//
// When waitConnected is true the call blocks until the link is ready or the
// connection is closed.
func (c *Connection) Connect(waitConnected bool) error {
	if c.shutdown.Load() {
		return ErrConnClosed
	}

	c.userConnect.Store(true)

	switch c.stateMgr.State() {
	case ScanningState, ConnectingState, RebootingState, ConnectedState:
		// already underway
	case FlashingState:
		c.deferConnect()
	default:
		if err := c.stateMgr.ToScanning(); err != nil {
			return err
		}
	}

	if waitConnected {
		return c.stateMgr.WaitState(c.ctx, ConnectedState)
	}

	return nil
}

// Disconnect stops discovery, clears the reconnect intent and closes the
// transport. Pending confirmed sends fail with ErrConnClosed. The
// connection stays usable; Connect starts a fresh link.
//
// Returns ErrFlashInProgress, without touching the link, while a flash is
// running.
func (c *Connection) Disconnect() error {
	if c.flashing.Load() {
		return ErrFlashInProgress
	}

	c.userConnect.Store(false)
	c.scanner.Stop()
	c.taskMgr.Stop()
	c.taskMgr.Wait()

	wasConnected := c.stateMgr.State().IsConnected()
	err := c.closePort()
	c.ack.close(ErrConnClosed)
	c.stateMgr.ToIdle()

	if wasConnected {
		c.emitEvent(Event{Type: EventDisconnect})
	}

	return err
}

// Close tears the connection down and releases all resources. Subscribers
// see their event channels close. The connection cannot be reused.
//
// Returns ErrFlashInProgress while a flash is running.
func (c *Connection) Close() error {
	if c.flashing.Load() {
		return ErrFlashInProgress
	}
	if !c.shutdown.CompareAndSwap(false, true) {
		return nil
	}

	c.userConnect.Store(false)
	c.scanner.Stop()
	c.taskMgr.Stop()
	c.taskMgr.Wait()

	err := c.closePort()
	c.ack.close(ErrConnClosed)
	c.stateMgr.ToIdle()
	c.ctxCancel()
	c.events.close()

	return err
}

// Reboot pulses the control lines to restart the device. The port stays
// open; in-flight confirmed sends will time out and retry while the device
// boots. Refused while a flash is running, when no port is open, or when a
// reboot is already in progress.
func (c *Connection) Reboot(ctx context.Context) error {
	if c.flashing.Load() {
		return ErrFlashInProgress
	}
	port := c.getPort()
	if port == nil {
		return ErrNotConnected
	}
	if !c.rebootGuard.CompareAndSwap(false, true) {
		return ErrRebootInProgress
	}
	defer c.rebootGuard.Store(false)

	if err := c.stateMgr.ToRebooting(); err != nil {
		return err
	}

	err := c.rebooter.run(ctx, port)
	if err != nil {
		c.emitEvent(Event{Type: EventError, Err: err})
	}

	// The device restarted mid-stream; drop any partial inbound frame.
	c.resetDecoders()

	if serr := c.stateMgr.ToConnected(); serr != nil && err == nil {
		err = serr
	}

	return err
}

// Write emits one unconfirmed message in the connection's exchange mode:
// a stuffed binary frame, or a checksummed text line.
func (c *Connection) Write(body []byte) error {
	return c.writeBody(body, false)
}

// WriteAndDrain emits one unconfirmed message and blocks until the transmit
// buffer reaches the device.
func (c *Connection) WriteAndDrain(body []byte) error {
	return c.writeBody(body, true)
}

// SendAsync queues body for confirmed delivery and returns immediately.
// onComplete runs when the message reaches a terminal outcome: nil after an
// acknowledgment or a low priority discard, an error otherwise. It is
// invoked on the connection's receive goroutine and must not block.
//
// Precondition failures are returned synchronously and never reach
// onComplete. With acknowledgments disabled the call degrades to
// WriteAndDrain and completes the callback immediately on success.
func (c *Connection) SendAsync(body []byte, onComplete func(error), opts ...SendOption) error {
	if c.shutdown.Load() {
		return ErrConnClosed
	}
	if !c.cfg.binary {
		return ErrBinaryModeRequired
	}

	if !c.cfg.ack {
		if err := c.WriteAndDrain(body); err != nil {
			return err
		}
		if onComplete != nil {
			onComplete(nil)
		}

		return nil
	}

	pol := c.cfg.sendPolicy()
	for _, opt := range opts {
		if err := opt.apply(&pol); err != nil {
			return err
		}
	}

	return c.ack.enqueue(body, pol, onComplete)
}

// Send queues body for confirmed delivery and blocks until a terminal
// outcome. Cancelling ctx abandons the wait, not the delivery; the message
// stays queued.
func (c *Connection) Send(ctx context.Context, body []byte, opts ...SendOption) error {
	done := make(chan error, 1)
	if err := c.SendAsync(body, func(err error) { done <- err }, opts...); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// Subscribe registers an event subscriber. The returned cancel function
// must be called when the subscriber is done.
func (c *Connection) Subscribe() (<-chan Event, func()) {
	return c.events.subscribe()
}

// --- Getters ---

// State returns the current connection state.
func (c *Connection) State() ConnState { return c.stateMgr.State() }

// WaitState blocks until the connection reaches state or ctx is done.
func (c *Connection) WaitState(ctx context.Context, state ConnState) error {
	return c.stateMgr.WaitState(ctx, state)
}

// IsConnected returns true when the link is open and ready.
func (c *Connection) IsConnected() bool { return c.stateMgr.State().IsConnected() }

// PortPath returns the device path of the most recently discovered port,
// empty before the first discovery.
func (c *Connection) PortPath() string {
	c.portMu.RLock()
	defer c.portMu.RUnlock()

	return c.portPath
}

// PendingCount returns the number of messages awaiting confirmation.
func (c *Connection) PendingCount() int { return c.ack.size() }

// Metrics returns the connection metrics.
func (c *Connection) Metrics() *ConnectionMetrics { return &c.metrics }

// GetLogger returns the connection logger.
func (c *Connection) GetLogger() logger.Logger { return c.logger }

// --- Link lifecycle ---

// connStateHandler reacts to connection state changes. It runs with the
// state manager lock held, so follow-up transitions use the Async variants.
func (c *Connection) connStateHandler(prevState ConnState, newState ConnState) {
	c.logger.Debug("connection state changed", "prev", prevState, "state", newState)

	switch newState {
	case ScanningState:
		c.metrics.incConnRetryGauge()
		c.startLinkTask()
	case ConnectedState:
		// Returning from an explicit reboot is not a fresh link; the read
		// pump and the queue stayed armed throughout.
		if prevState.IsConnecting() {
			c.onConnected()
		}
	case DisconnectedState:
		c.onLinkDown(prevState)
	default:
	}
}

func (c *Connection) startLinkTask() {
	if !c.userConnect.Load() || c.shutdown.Load() {
		c.stateMgr.ToIdleAsync()
		return
	}

	if err := c.taskMgr.Start("linkTask", c.linkTask); err != nil {
		c.logger.Error("failed to start link task", "error", err)
	}
}

// linkTask performs one discovery and open round: find the device port,
// open it, pulse the auto reset and hand the link to the read pump. Runs
// once per Scanning entry; failed rounds re-enter Scanning after a backoff.
func (c *Connection) linkTask() bool {
	info, err := c.scanner.Find(c.ctx)
	if err != nil {
		c.logger.Debug("discovery ended", "error", err)
		return false
	}
	if !c.userConnect.Load() || c.shutdown.Load() {
		return false
	}

	if err := c.stateMgr.ToConnecting(); err != nil {
		c.logger.Debug("discovery finished in unexpected state", "state", c.stateMgr.State())
		return false
	}

	c.logger.Info("opening port", "path", info.Path, "baud", c.cfg.baudRate)
	mode := transport.DefaultMode()
	mode.BaudRate = c.cfg.baudRate

	port, err := c.cfg.opener(info.Path, mode)
	if err != nil {
		c.logger.Warn("failed to open port", "path", info.Path, "error", err)
		c.emitEvent(Event{Type: EventError, Port: info.Path, Err: err})
		c.retryBackoff()
		c.stateMgr.ToScanningAsync()

		return false
	}

	if err := port.SetReadTimeout(pollTimeout); err != nil {
		c.logger.Warn("failed to set read timeout", "path", info.Path, "error", err)
		_ = port.Close()
		c.retryBackoff()
		c.stateMgr.ToScanningAsync()

		return false
	}

	if !c.userConnect.Load() || c.shutdown.Load() {
		_ = port.Close()
		return false
	}

	c.setPort(port, info.Path)
	c.resetRetryDelay()

	if !c.flashing.Load() {
		if rerr := c.rebooter.run(c.ctx, port); rerr != nil {
			c.logger.Warn("reboot pulse reported errors", "error", rerr)
			c.emitEvent(Event{Type: EventError, Err: rerr})
		}
		// Drop bootloader chatter accumulated during the pulse.
		if err := port.ResetInputBuffer(); err != nil {
			c.logger.Debug("failed to reset input buffer", "error", err)
		}
	}

	if err := c.stateMgr.ToConnected(); err != nil {
		c.logger.Warn("link lost before becoming ready", "error", err)
		_ = c.closePort()

		return false
	}

	return false
}

// onConnected arms the receive path and announces the link.
func (c *Connection) onConnected() {
	c.metrics.resetConnRetryGauge()
	c.resetDecoders()
	if c.cfg.ack {
		c.ack.reopen()
	}
	c.startReadPump()

	c.logger.Info("connected", "path", c.PortPath())
	c.emitEvent(Event{Type: EventConnect})
}

// onLinkDown tears down after a lost transport and schedules the reconnect
// when the user still wants the link.
func (c *Connection) onLinkDown(prevState ConnState) {
	if err := c.closePort(); err != nil {
		c.logger.Debug("failed to close port", "error", err)
	}
	c.ack.close(ErrConnClosed)

	if prevState.IsConnected() || prevState.IsRebooting() {
		c.emitEvent(Event{Type: EventDisconnect})
	}

	if c.userConnect.Load() && !c.shutdown.Load() {
		c.logger.Info("reconnecting", "path", c.PortPath())
		c.stateMgr.ToScanningAsync()
	} else {
		c.stateMgr.ToIdleAsync()
	}
}

// deferConnect waits for the active flash to finish before starting
// discovery.
func (c *Connection) deferConnect() {
	_, err := c.taskMgr.StartInterval("deferConnect", func() bool {
		if c.flashing.Load() {
			return true
		}
		c.stateMgr.ToScanningAsync()

		return false
	}, deferPollInterval, false)
	if err != nil {
		c.logger.Debug("connect already deferred", "error", err)
	}
}

func (c *Connection) startReadPump() {
	if err := c.taskMgr.StartReceiver("readPump", c.readPump, nil); err != nil {
		c.logger.Error("failed to start read pump", "error", err)
	}
}

// readPump polls the port and feeds the active decoder. A read failure
// tears the link down unless a shutdown or flash owns the port.
func (c *Connection) readPump() bool {
	port := c.getPort()
	if port == nil {
		return false
	}

	n, err := port.Read(c.readBuf)
	if err != nil {
		if c.shutdown.Load() || c.flashing.Load() {
			return false
		}
		c.logger.Warn("read failed, link lost", "error", err)
		c.emitEvent(Event{Type: EventError, Err: err})
		c.stateMgr.ToDisconnectedAsync()

		return false
	}
	if n == 0 {
		// poll timeout
		return true
	}

	c.decMu.Lock()
	if c.cfg.binary {
		c.binDecoder.Feed(c.readBuf[:n])
	} else {
		c.textDecoder.Feed(c.readBuf[:n])
	}
	c.decMu.Unlock()

	return true
}

// retryBackoff sleeps before the next discovery round, doubling the delay
// up to maxRetryDelay.
func (c *Connection) retryBackoff() {
	t := pool.GetTimer(c.retryDelay)
	select {
	case <-c.ctx.Done():
	case <-t.C:
	}
	pool.PutTimer(t)

	c.retryDelay *= 2
	if c.retryDelay > maxRetryDelay {
		c.retryDelay = maxRetryDelay
	}
}

func (c *Connection) resetRetryDelay() {
	c.retryDelay = initialRetryDelay
}

// --- Inbound routing ---

// handleBinaryMessage routes one decoded binary frame. Single byte frames
// are acknowledgment candidates while confirmed delivery is on.
func (c *Connection) handleBinaryMessage(body []byte) {
	c.metrics.incMsgRecvCount()

	if c.cfg.ack && len(body) == 1 {
		if c.ack.handleAck(body[0]) {
			return
		}
		// A late ack for a message that already resolved. Not data.
		c.logger.Debug("unmatched ack byte", "seq", body[0])

		return
	}

	c.emitEvent(Event{Type: EventData, Data: body})
}

// handleTextMessage routes one verified text line.
func (c *Connection) handleTextMessage(body []byte) {
	c.metrics.incMsgRecvCount()
	c.emitEvent(Event{Type: EventData, Data: body})
}

// handleDecodeError surfaces framing and integrity failures. The offending
// input never reaches subscribers as data.
func (c *Connection) handleDecodeError(err error) {
	if errors.Is(err, frame.ErrChecksumMismatch) {
		c.metrics.incChecksumErrCount()
	}
	c.logger.Warn("inbound message rejected", "error", err)
	c.emitEvent(Event{Type: EventError, Err: err})
}

// --- Write paths ---

func (c *Connection) writeBody(body []byte, drain bool) error {
	port := c.getPort()
	if port == nil {
		return ErrNotConnected
	}

	var wire []byte
	if c.cfg.binary {
		raw := body
		if c.cfg.checksum {
			raw = append(util.CloneSlice(body, 0), frame.Checksum(body))
		}
		wire = frame.Encode(raw)
	} else {
		wire = frame.EncodeText(string(body), c.cfg.startChar, c.cfg.checksum)
	}

	if _, err := port.Write(wire); err != nil {
		return err
	}
	if drain {
		return port.Drain()
	}

	return nil
}

// writeFramedRaw frames raw with byte stuffing, writes it and drains the
// transmit buffer. The acknowledgment queue emits its wire bytes here.
func (c *Connection) writeFramedRaw(raw []byte) error {
	port := c.getPort()
	if port == nil {
		return ErrNotConnected
	}

	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)
	*buf = frame.AppendEncode(*buf, raw)

	if _, err := port.Write(*buf); err != nil {
		return err
	}

	return port.Drain()
}

// --- Internals ---

func (c *Connection) emitEvent(ev Event) {
	if ev.Port == "" {
		ev.Port = c.PortPath()
	}
	c.events.publish(ev)
}

func (c *Connection) resetDecoders() {
	c.decMu.Lock()
	c.binDecoder.Reset()
	c.textDecoder.Reset()
	c.decMu.Unlock()
}

func (c *Connection) getPort() transport.Port {
	c.portMu.RLock()
	defer c.portMu.RUnlock()

	return c.port
}

func (c *Connection) setPort(port transport.Port, path string) {
	c.portMu.Lock()
	c.port = port
	c.portPath = path
	c.portMu.Unlock()
}

func (c *Connection) setPortPath(path string) {
	c.portMu.Lock()
	c.portPath = path
	c.portMu.Unlock()
}

func (c *Connection) closePort() error {
	c.portMu.Lock()
	port := c.port
	c.port = nil
	c.portMu.Unlock()

	if port == nil {
		return nil
	}

	return port.Close()
}
