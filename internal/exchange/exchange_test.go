package exchange

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-brasil/mssql-cursor-exchange/internal/tds"
)

// fakeTransport is a minimal Transport whose ReadMessage blocks on a
// channel the test feeds by hand, so tests can control exactly when each
// exchange observes its inbound message.
type fakeTransport struct {
	mu      sync.Mutex
	written [][]byte
	inbound chan tds.Message
	failAt  chan error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{inbound: make(chan tds.Message, 16), failAt: make(chan error, 1)}
}

func (f *fakeTransport) WriteFrame(_ context.Context, frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, frame)
	return nil
}

func (f *fakeTransport) ReadMessage(ctx context.Context) (tds.Message, error) {
	select {
	case m := <-f.inbound:
		return m, nil
	case err := <-f.failAt:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// fail arms a read error for the next (or currently blocked) ReadMessage
// call, letting a test control exactly when a transport failure occurs
// relative to other submissions.
func (f *fakeTransport) fail(err error) {
	f.failAt <- err
}

func (f *fakeTransport) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.written)
}

// oneShotProcessor completes on its first Process call, optionally
// emitting one more outbound frame first.
type oneShotProcessor struct {
	next []byte
}

func (p oneShotProcessor) Process(tds.Message) ([]byte, bool, bool) {
	if p.next != nil {
		return p.next, true, true
	}
	return nil, false, true
}

// TestSubmitDispatchesImmediatelyWhenIdle verifies that the first
// submission on an idle channel runs without queueing.
func TestSubmitDispatchesImmediatelyWhenIdle(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport()
	channel := New(transport)

	done, err := channel.Submit(context.Background(), []byte("initial"), oneShotProcessor{})
	require.NoError(t, err)

	transport.inbound <- tds.DoneMessage{Proc: true}

	require.NoError(t, <-done)
	assert.Equal(t, 1, transport.writeCount())
}

// TestSubmitQueuesFIFOWhileActive covers spec scenario 5: exchanges
// submitted while another is active are dispatched strictly in the order
// they were submitted, one at a time.
func TestSubmitQueuesFIFOWhileActive(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport()
	channel := New(transport)

	var mu sync.Mutex
	var order []int

	makeProc := func(id int) Processor {
		return processorFunc(func(tds.Message) ([]byte, bool, bool) {
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
			return nil, false, true
		})
	}

	var dones []<-chan error
	for i := 0; i < 3; i++ {
		done, err := channel.Submit(context.Background(), []byte{byte(i)}, makeProc(i))
		require.NoError(t, err)
		dones = append(dones, done)
	}

	// Release each exchange in turn; the channel should dispatch waiters
	// strictly FIFO regardless of how fast the first one resolves.
	for range dones {
		transport.inbound <- tds.DoneMessage{Proc: true}
	}
	for _, done := range dones {
		require.NoError(t, <-done)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 1, 2}, order)
}

// TestQueueOverflowRejectsSubmit covers the bounded-queue invariant: once
// queueCapacity waiters are queued, a further Submit fails immediately
// rather than blocking.
func TestQueueOverflowRejectsSubmit(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport()
	channel := New(transport)

	blocker := processorFunc(func(tds.Message) ([]byte, bool, bool) { return nil, false, false })

	_, err := channel.Submit(context.Background(), []byte("active"), blocker)
	require.NoError(t, err)

	for i := 0; i < queueCapacity; i++ {
		_, err := channel.Submit(context.Background(), []byte{byte(i)}, blocker)
		require.NoError(t, err)
	}

	_, err = channel.Submit(context.Background(), []byte("overflow"), blocker)
	require.Error(t, err)
	var protoErr *ProtocolError
	require.True(t, errors.As(err, &protoErr))
	assert.Equal(t, "submit", protoErr.Op)
}

// TestTransportFailureFailsQueuedWaiters covers the fatal-failure
// propagation invariant: a transport read error fails the active exchange
// and every exchange still queued behind it, and the channel stays
// permanently closed afterward.
func TestTransportFailureFailsQueuedWaiters(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport()
	channel := New(transport)

	blocker := processorFunc(func(tds.Message) ([]byte, bool, bool) { return nil, false, false })

	activeDone, err := channel.Submit(context.Background(), []byte("active"), blocker)
	require.NoError(t, err)

	waiterDone, err := channel.Submit(context.Background(), []byte("waiter"), blocker)
	require.NoError(t, err)

	transport.fail(errors.New("connection reset"))

	select {
	case err := <-activeDone:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("active exchange never failed")
	}

	select {
	case err := <-waiterDone:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("queued exchange was never failed")
	}

	closed, closeErr := channel.Closed()
	assert.True(t, closed)
	assert.Error(t, closeErr)

	_, err = channel.Submit(context.Background(), []byte("late"), blocker)
	require.Error(t, err)
}

// processorFunc adapts a plain function to Processor, for tests that need
// a distinct Processor per submission without a named type.
type processorFunc func(tds.Message) ([]byte, bool, bool)

func (f processorFunc) Process(msg tds.Message) ([]byte, bool, bool) { return f(msg) }

// attentionTransport wraps fakeTransport and additionally implements
// AttentionSender, counting how many times attention fired.
type attentionTransport struct {
	*fakeTransport
	mu         sync.Mutex
	attentions int
}

func (a *attentionTransport) SendAttention(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.attentions++
	return nil
}

func (a *attentionTransport) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.attentions
}

// TestSubmitWithTimeoutFiresAttentionOnExpiry covers the statement-timeout
// watchdog: an exchange that never receives another message within its
// timeout sends an out-of-band attention via the transport.
func TestSubmitWithTimeoutFiresAttentionOnExpiry(t *testing.T) {
	t.Parallel()

	transport := &attentionTransport{fakeTransport: newFakeTransport()}
	channel := New(transport)

	blocker := processorFunc(func(tds.Message) ([]byte, bool, bool) { return nil, false, false })

	_, err := channel.SubmitWithTimeout(context.Background(), []byte("initial"), blocker, 20*time.Millisecond)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return transport.count() > 0 }, time.Second, 5*time.Millisecond)
}

// TestSubmitWithTimeoutStopsWatchdogOnCompletion verifies that an
// exchange finishing before its timeout expires never fires attention.
func TestSubmitWithTimeoutStopsWatchdogOnCompletion(t *testing.T) {
	t.Parallel()

	transport := &attentionTransport{fakeTransport: newFakeTransport()}
	channel := New(transport)

	done, err := channel.SubmitWithTimeout(context.Background(), []byte("initial"), oneShotProcessor{}, time.Second)
	require.NoError(t, err)

	transport.inbound <- tds.DoneMessage{Proc: true}
	require.NoError(t, <-done)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, transport.count())
}
