package link

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/skobkin/devlink/internal/transport"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)

	return t
}

// Advance moves time forward and runs due callbacks in order. Callbacks run
// without the clock lock held.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var next *fakeTimer
		for _, t := range c.timers {
			if t.stopped || t.fired || t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()

			return
		}
		next.fired = true
		c.now = next.at
		c.mu.Unlock()

		next.f()
	}
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true

	return true
}

type fakeTransport struct {
	connectErr  error
	connectGate chan struct{}

	inbound   chan []byte
	peerClose chan error
	closedCh  chan struct{}
	closeOnce sync.Once

	mu         sync.Mutex
	writes     []string
	closeCodes []int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbound:   make(chan []byte),
		peerClose: make(chan error, 1),
		closedCh:  make(chan struct{}),
	}
}

func (f *fakeTransport) Name() string {
	return "fake"
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	if f.connectGate != nil {
		select {
		case <-f.connectGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return f.connectErr
}

func (f *fakeTransport) ReadMessage(ctx context.Context) ([]byte, error) {
	select {
	case payload := <-f.inbound:
		return payload, nil
	case err := <-f.peerClose:
		return nil, err
	case <-f.closedCh:
		return nil, &transport.CloseError{Code: f.lastCloseCode(), Reason: "closed locally"}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeTransport) WriteMessage(ctx context.Context, payload []byte) error {
	select {
	case <-f.closedCh:
		return transport.ErrNotConnected
	default:
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, string(payload))

	return nil
}

func (f *fakeTransport) Close(code int, reason string) error {
	f.mu.Lock()
	f.closeCodes = append(f.closeCodes, code)
	f.mu.Unlock()
	f.closeOnce.Do(func() { close(f.closedCh) })

	return nil
}

// push delivers payload to the session reader.
func (f *fakeTransport) push(t *testing.T, payload string) {
	t.Helper()
	select {
	case f.inbound <- []byte(payload):
	case <-time.After(2 * time.Second):
		t.Fatalf("reader did not accept %q", payload)
	}
}

// closeFromPeer makes the next read fail as if the device closed with code.
func (f *fakeTransport) closeFromPeer(code int) {
	f.peerClose <- &transport.CloseError{Code: code, Reason: "peer closed"}
}

func (f *fakeTransport) written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.writes))
	copy(out, f.writes)

	return out
}

func (f *fakeTransport) codes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, len(f.closeCodes))
	copy(out, f.closeCodes)

	return out
}

func (f *fakeTransport) lastCloseCode() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.closeCodes) == 0 {
		return transport.CloseAbnormal
	}

	return f.closeCodes[len(f.closeCodes)-1]
}

type fakeFactory struct {
	mu        sync.Mutex
	made      []*fakeTransport
	configure func(n int, tr *fakeTransport)
	failNext  error
}

func (f *fakeFactory) New() (transport.Transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil

		return nil, err
	}
	tr := newFakeTransport()
	if f.configure != nil {
		f.configure(len(f.made), tr)
	}
	f.made = append(f.made, tr)

	return tr, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.made)
}

func (f *fakeFactory) get(i int) *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.made[i]
}

var errDialRefused = errors.New("dial refused")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
