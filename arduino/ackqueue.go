package arduino

import (
	"fmt"
	"sync"
	"time"

	"github.com/UBCSailbot/arduino-interface/frame"
	"github.com/UBCSailbot/arduino-interface/internal/pool"
	"github.com/UBCSailbot/arduino-interface/internal/queue"
	"github.com/UBCSailbot/arduino-interface/internal/util"
	"github.com/UBCSailbot/arduino-interface/logger"
)

// pendingMessage is a queued message awaiting confirmed delivery. The queue
// owns it from enqueue until a terminal outcome: acknowledged, abandoned,
// discarded or wiped.
type pendingMessage struct {
	// body is the payload with the sequence byte already appended.
	body []byte
	seq  byte

	// attempts is the remaining retry budget, not counting the initial
	// write. It goes negative when the budget is spent.
	attempts int

	timeout  time.Duration
	priority Priority

	onComplete func(err error)
}

// ackTimer is one armed acknowledgment timeout. The watcher goroutine owns
// the pooled timer and is the only place that returns it to the pool, so a
// recycled timer can never fire into a stale watcher.
type ackTimer struct {
	timer *time.Timer
	stop  chan struct{}
}

// ackQueue delivers messages in strict FIFO order with at most one write
// cycle in flight.
//
// A cycle is write+drain+await-ack; the cycle holds the write lease from
// the moment pump takes the head message until an acknowledgment, a write
// error or a timeout resolves it. A global consecutive failure counter
// trips a circuit breaker: past the ceiling the whole queue is wiped in one
// stroke, without per-message callbacks.
type ackQueue struct {
	mu       sync.Mutex
	pending  *queue.Queue[*pendingMessage]
	lease    writeLease
	inWrite  bool
	open     bool
	lastSeq  uint8
	failures int
	ceiling  int
	checksum bool

	timer    *ackTimer
	timerGen uint64

	write   func(raw []byte) error
	emit    func(ev Event)
	metrics *ConnectionMetrics
	logger  logger.Logger
}

// newAckQueue creates an acknowledgment queue. write must frame, write and
// drain the raw bytes through the transport; emit publishes queue events.
func newAckQueue(cfg *Config, write func([]byte) error, emit func(Event), metrics *ConnectionMetrics, l logger.Logger) *ackQueue {
	return &ackQueue{
		pending:  queue.New[*pendingMessage](cfg.queueSize),
		ceiling:  cfg.failureCeiling,
		checksum: cfg.checksum,
		write:    write,
		emit:     emit,
		metrics:  metrics,
		logger:   l,
	}
}

// reopen arms the queue after a connect. The sequence counter keeps running
// across reconnects; acknowledgments match by value, not by session.
func (q *ackQueue) reopen() {
	q.mu.Lock()
	q.open = true
	q.failures = 0
	q.mu.Unlock()

	q.pump()
}

// close fails every pending message with cause and stops the queue until
// the next reopen. Callbacks run on a detached goroutine: close is called
// from teardown paths that hold locks a callback could want.
func (q *ackQueue) close(cause error) {
	q.mu.Lock()
	if !q.open && q.pending.IsEmpty() {
		q.mu.Unlock()
		return
	}
	q.open = false
	q.disarmTimer()
	msgs := q.pending.Drain()
	if !q.inWrite {
		q.lease.release()
	}
	q.mu.Unlock()

	if len(msgs) == 0 {
		return
	}

	go func() {
		for _, msg := range msgs {
			if msg.onComplete != nil {
				msg.onComplete(cause)
			}
		}
	}()
}

// size returns the number of pending messages.
func (q *ackQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.pending.Length()
}

// enqueue assigns the next sequence number, appends it to body and queues
// the message for confirmed delivery. A low priority message never waits:
// when the queue is busy it is discarded on the spot and its callback
// completes with no error.
func (q *ackQueue) enqueue(body []byte, pol sendPolicy, onComplete func(error)) error {
	q.mu.Lock()
	if !q.open {
		q.mu.Unlock()
		return ErrNotConnected
	}

	if pol.priority == LowPriority && !q.pending.IsEmpty() {
		queued := q.pending.Length()
		q.mu.Unlock()

		q.metrics.incDiscardCount()
		q.logger.Debug("low priority message discarded", "queued", queued)
		q.emit(Event{Type: EventDiscard, Data: util.CloneSlice(body, 0)})
		if onComplete != nil {
			onComplete(nil)
		}

		return nil
	}

	q.lastSeq++ // wraps mod 256
	seq := q.lastSeq

	raw := make([]byte, 0, len(body)+2)
	raw = append(raw, body...)
	raw = append(raw, seq)

	q.pending.Enqueue(&pendingMessage{
		body:       raw,
		seq:        seq,
		attempts:   pol.attempts,
		timeout:    pol.timeout,
		priority:   pol.priority,
		onComplete: onComplete,
	})
	q.mu.Unlock()

	q.pump()

	return nil
}

// pump writes the head message unless the queue is empty or a cycle already
// holds the lease. Acknowledgment, failure and enqueue paths all re-invoke
// it, so delivery makes progress from whichever side resolves first.
func (q *ackQueue) pump() {
	q.mu.Lock()
	if !q.open {
		q.mu.Unlock()
		return
	}
	msg, ok := q.pending.Peek()
	if !ok {
		q.mu.Unlock()
		return
	}
	if !q.lease.tryAcquire() {
		q.mu.Unlock()
		return
	}
	q.inWrite = true

	wire := msg.body
	if q.checksum {
		wire = append(util.CloneSlice(msg.body, 0), frame.Checksum(msg.body))
	}
	q.mu.Unlock()

	// Write and drain outside the lock; the transport may block for the
	// duration of the drain. While inWrite is set nobody else touches the
	// lease, so a second write can never start.
	err := q.write(wire)

	q.mu.Lock()
	q.inWrite = false
	if !q.open {
		q.lease.release()
		q.mu.Unlock()

		return
	}
	head, ok := q.pending.Peek()
	if !ok || head != msg {
		// An ack for an earlier attempt resolved the message while this
		// write was in flight. The write outcome no longer matters.
		q.lease.release()
		q.mu.Unlock()

		q.pump()

		return
	}
	if err != nil {
		q.mu.Unlock()
		q.fail(err)

		return
	}
	q.armTimer(msg.timeout)
	q.mu.Unlock()

	q.metrics.incMsgSendCount()
}

// handleAck consumes an inbound acknowledgment byte. It reports whether the
// byte confirmed the head message; a non-matching byte is left to the
// caller, typically a stale ack for a message that already resolved.
func (q *ackQueue) handleAck(seq byte) bool {
	q.mu.Lock()
	msg, ok := q.pending.Peek()
	if !ok || !q.open || msg.seq != seq {
		q.mu.Unlock()
		return false
	}

	q.disarmTimer()
	q.pending.Dequeue()
	q.failures = 0
	if !q.inWrite {
		// Resolve the armed cycle. A cycle still inside its write keeps the
		// lease and releases it itself when the write returns.
		q.lease.release()
	}
	q.mu.Unlock()

	q.metrics.incAckRecvCount()
	if msg.onComplete != nil {
		msg.onComplete(nil)
	}

	q.pump()

	return true
}

// fail resolves one delivery failure of the in-flight head message. cause
// is the write error or ErrAckTimeout. The caller's cycle must hold the
// lease; fail releases it.
func (q *ackQueue) fail(cause error) {
	q.mu.Lock()
	if !q.open {
		q.lease.release()
		q.mu.Unlock()

		return
	}
	q.disarmTimer()
	q.lease.release()
	q.failures++

	if q.failures > q.ceiling {
		dropped := q.pending.Length()
		q.pending.Reset()
		q.failures = 0
		q.mu.Unlock()

		q.metrics.incWipeCount()
		q.logger.Error("pending queue wiped", "dropped", dropped, "cause", cause)
		q.emit(Event{Type: EventError, Err: fmt.Errorf("%w: dropped %d messages: %w", ErrQueueWiped, dropped, cause)})

		return
	}

	msg, ok := q.pending.Peek()
	if !ok {
		q.mu.Unlock()
		return
	}

	if msg.priority == LowPriority {
		q.pending.Dequeue()
		q.mu.Unlock()

		q.metrics.incDiscardCount()
		q.logger.Debug("low priority message dropped after failure", "seq", msg.seq, "cause", cause)
		if msg.onComplete != nil {
			msg.onComplete(cause)
		}

		q.pump()

		return
	}

	msg.attempts--
	if msg.attempts < 0 {
		q.pending.Dequeue()
		q.mu.Unlock()

		err := fmt.Errorf("%w: seq %d: %w", ErrAttemptsExhausted, msg.seq, cause)
		q.logger.Warn("message abandoned", "seq", msg.seq, "cause", cause)
		q.emit(Event{Type: EventError, Err: err})
		if msg.onComplete != nil {
			msg.onComplete(err)
		}

		q.pump()

		return
	}

	q.mu.Unlock()

	q.metrics.incRetryCount()
	q.pump()
}

// armTimer starts the acknowledgment timeout for the in-flight message.
// Callers must hold q.mu.
func (q *ackQueue) armTimer(d time.Duration) {
	q.timerGen++
	at := &ackTimer{timer: pool.GetTimer(d), stop: make(chan struct{})}
	q.timer = at

	go q.watchTimer(at, q.timerGen)
}

// disarmTimer cancels the armed timeout, if any. Callers must hold q.mu.
func (q *ackQueue) disarmTimer() {
	q.timerGen++
	if q.timer != nil {
		close(q.timer.stop)
		q.timer = nil
	}
}

// watchTimer waits for the timeout to fire or be disarmed.
func (q *ackQueue) watchTimer(at *ackTimer, gen uint64) {
	select {
	case <-at.timer.C:
		pool.PutTimer(at.timer)
		q.onTimeout(gen)
	case <-at.stop:
		pool.PutTimer(at.timer)
	}
}

// onTimeout handles an expired acknowledgment timer. A generation mismatch
// means the timer lost a race with an ack or a disarm and the expiry is
// stale.
func (q *ackQueue) onTimeout(gen uint64) {
	q.mu.Lock()
	if gen != q.timerGen || !q.open {
		q.mu.Unlock()
		return
	}
	q.timer = nil
	q.timerGen++
	var seq byte
	if msg, ok := q.pending.Peek(); ok {
		seq = msg.seq
	}
	q.mu.Unlock()

	q.logger.Debug("acknowledgment timeout", "seq", seq)
	q.fail(ErrAckTimeout)
}
