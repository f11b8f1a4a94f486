// Package exchange implements the per-connection exchange channel: a
// single-writer-at-a-time, FIFO-queued dispatcher over a TDS transport.
// At most one logical exchange occupies the connection at once; further
// submissions queue and are dispatched once the active exchange releases
// the slot by emitting its last frame.
//
// The waiter-queue shape is grounded on the teacher's bucket pool
// (internal/pool/pool.go Acquire/Release): a mutex-guarded slice of
// waiter channels, FIFO-drained on release, with a bounded queue — adapted
// here from "wait for a pooled connection" to "wait for the connection's
// single-writer slot". Submit never blocks: once the queue is full, a
// further submission is rejected with a *ProtocolError.
package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/joao-brasil/mssql-cursor-exchange/internal/metrics"
	"github.com/joao-brasil/mssql-cursor-exchange/internal/tds"
)

// Transport is the minimal I/O contract the exchange channel needs from
// the underlying connection: write one outbound RPC frame, and read the
// next inbound Message. Framing and token decoding are the tds package's
// declared-contract responsibility; Transport is implemented by
// whatever owns the live socket (or, in tests and the demo command, an
// in-memory stand-in).
type Transport interface {
	WriteFrame(ctx context.Context, frame []byte) error
	ReadMessage(ctx context.Context) (tds.Message, error)
}

// AttentionSender is implemented by transports able to issue an
// out-of-band TDS attention packet while a request is still
// outstanding (spec §5's statement-timeout clock, spec §4.5 step 6's
// attention-ack DONE). Not every Transport needs it; a transport that
// doesn't implement it simply can't back a statement timeout.
type AttentionSender interface {
	SendAttention(ctx context.Context) error
}

// Processor drives one exchange's reducer. The channel calls Process
// synchronously, in order, for every inbound message belonging to this
// exchange — matching the single-threaded-cooperative model of spec §5,
// where the reducer and the decision of what to write next share one
// sequential path. Process itself is responsible for delivering msg to
// whatever downstream consumer the caller has (a channel, a callback);
// the exchange channel only orchestrates transport I/O around it.
type Processor interface {
	// Process handles one inbound message and returns the next outbound
	// frame to write, if any, and whether this message is this
	// exchange's last frame (after which the slot is released).
	Process(msg tds.Message) (next []byte, hasNext bool, isLast bool)
}

// queueCapacity bounds the FIFO of waiting exchanges; overflow is a
// fatal protocol error per spec §4.1.
const queueCapacity = 256

// ProtocolError marks a fatal, non-retryable failure of the exchange
// channel itself (queue overflow, transport I/O failure).
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("exchange: %s: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// request is one queued or active exchange submission.
type request struct {
	initial          []byte
	proc             Processor
	done             chan error
	queuedAt         time.Time
	statementTimeout time.Duration
}

// Channel serializes exchanges over one Transport. The zero value is not
// usable; construct with New.
type Channel struct {
	transport Transport

	mu       sync.Mutex
	active   *request
	waiters  []*request
	closed   bool
	closeErr error
}

// New constructs a Channel driving transport.
func New(transport Transport) *Channel {
	return &Channel{transport: transport}
}

// Submit enqueues one exchange: an initial outbound frame and the
// Processor driving its reducer. It returns a channel that receives
// exactly one value (nil on success, a *ProtocolError on fatal failure)
// when the exchange completes.
//
// Submit blocks only long enough to enqueue; it does not wait for the
// exchange to be dispatched. Exchanges submitted while another is active
// observe FIFO dispatch (spec §8, scenario 5).
func (c *Channel) Submit(ctx context.Context, initial []byte, proc Processor) (<-chan error, error) {
	return c.SubmitWithTimeout(ctx, initial, proc, 0)
}

// SubmitWithTimeout is Submit plus a per-exchange statement timeout: if
// statementTimeout is positive, a watchdog arms for that long and resets
// on every inbound message this exchange observes; on expiry it sends a
// TDS attention out of band via the transport's AttentionSender, per
// spec §5. A zero statementTimeout behaves exactly like Submit. The
// watchdog only fires while the transport implements AttentionSender;
// otherwise expiry is silently a no-op, since there is nothing to send
// it on.
func (c *Channel) SubmitWithTimeout(ctx context.Context, initial []byte, proc Processor, statementTimeout time.Duration) (<-chan error, error) {
	c.mu.Lock()
	if c.closed {
		err := c.closeErr
		c.mu.Unlock()
		return nil, &ProtocolError{Op: "submit", Err: fmt.Errorf("channel closed: %w", err)}
	}

	req := &request{
		initial:          initial,
		proc:             proc,
		done:             make(chan error, 1),
		queuedAt:         time.Now(),
		statementTimeout: statementTimeout,
	}

	if c.active == nil {
		c.active = req
		c.mu.Unlock()
		c.dispatch(ctx, req)
		return req.done, nil
	}

	if len(c.waiters) >= queueCapacity {
		c.mu.Unlock()
		return nil, &ProtocolError{Op: "submit", Err: fmt.Errorf("exchange queue full (capacity %d)", queueCapacity)}
	}
	c.waiters = append(c.waiters, req)
	metrics.ExchangeQueueLength.Set(float64(len(c.waiters)))
	c.mu.Unlock()

	return req.done, nil
}

// dispatch records the exchange's queue wait and hands it to run in its
// own goroutine, marking the connection's single-writer slot occupied.
func (c *Channel) dispatch(ctx context.Context, req *request) {
	metrics.ExchangeWaitDuration.Observe(time.Since(req.queuedAt).Seconds())
	metrics.ExchangesActive.Inc()
	go c.run(ctx, req)
}

// run drives one exchange to completion: write its initial frame, then
// alternate reading inbound messages with writing whatever follow-up
// frame the reducer produces, until Process reports isLast. It then
// releases the slot and dispatches the next waiter, if any.
func (c *Channel) run(ctx context.Context, req *request) {
	if err := c.transport.WriteFrame(ctx, req.initial); err != nil {
		c.finish(req, &ProtocolError{Op: "write", Err: err}, true)
		return
	}

	wd := newWatchdog(req.statementTimeout, func() {
		_ = c.SendAttention(context.Background())
	})
	defer wd.stop()

	for {
		msg, err := c.transport.ReadMessage(ctx)
		if err != nil {
			c.finish(req, &ProtocolError{Op: "read", Err: err}, true)
			return
		}
		wd.reset()

		frame, hasNext, isLast := req.proc.Process(msg)

		if hasNext {
			if err := c.transport.WriteFrame(ctx, frame); err != nil {
				c.finish(req, &ProtocolError{Op: "write", Err: err}, true)
				return
			}
		}

		if isLast {
			c.finish(req, nil, false)
			return
		}
	}
}

// SendAttention issues an out-of-band TDS attention if the underlying
// transport supports it; the eventual attention-ack DONE flows back
// through the normal ReadMessage loop like any other inbound message
// (spec §4.5 step 6).
func (c *Channel) SendAttention(ctx context.Context) error {
	sender, ok := c.transport.(AttentionSender)
	if !ok {
		return fmt.Errorf("exchange: transport does not support attention")
	}
	return sender.SendAttention(ctx)
}

// finish completes req and, unless the channel is being torn down
// (fatal), releases the slot to the next queued waiter.
func (c *Channel) finish(req *request, err error, fatal bool) {
	req.done <- err
	metrics.ExchangesActive.Dec()

	if fatal {
		c.fail(err)
		return
	}
	c.release()
}

// release hands the connection's single-writer slot to the next queued
// waiter, if any, exactly as pool.BucketPool.Release wakes the oldest
// waiting acquirer.
func (c *Channel) release() {
	c.mu.Lock()
	c.active = nil
	if len(c.waiters) == 0 {
		c.mu.Unlock()
		return
	}
	next := c.waiters[0]
	c.waiters = c.waiters[1:]
	c.active = next
	metrics.ExchangeQueueLength.Set(float64(len(c.waiters)))
	c.mu.Unlock()

	c.dispatch(context.Background(), next)
}

// fail marks the channel permanently closed and fails every queued
// exchange with err, matching spec §4.1's "connection-level I/O errors
// fail the current and all queued exchanges".
func (c *Channel) fail(err error) {
	c.mu.Lock()
	c.closed = true
	c.closeErr = err
	waiters := c.waiters
	c.waiters = nil
	c.active = nil
	c.mu.Unlock()

	for _, w := range waiters {
		w.done <- err
	}
}

// Closed reports whether the channel has permanently failed, and the
// terminal error if so.
func (c *Channel) Closed() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed, c.closeErr
}
