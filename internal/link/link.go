package link

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skobkin/devlink/internal/bus"
	"github.com/skobkin/devlink/internal/connectors"
	"github.com/skobkin/devlink/internal/control"
	"github.com/skobkin/devlink/internal/transport"
)

const (
	DefaultReconnectDelay    = 3 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultHeartbeatTimeout  = 5 * time.Second
	DefaultDialTimeout       = 10 * time.Second
	DefaultWriteTimeout      = 5 * time.Second

	eventQueueSize = 64
)

var (
	ErrNotConnected = errors.New("link is not connected")
	ErrOutboxFull   = errors.New("link outbox is full")
	ErrClosed       = errors.New("link is closed")
)

// TransportFactory returns a fresh, unconnected transport for each attempt.
type TransportFactory func() (transport.Transport, error)

type SendResult struct {
	Err error
}

type Options struct {
	NewTransport TransportFactory
	Bus          bus.MessageBus
	Logger       *slog.Logger
	Clock        Clock

	// TransportName and Target are copied into every published status.
	TransportName string
	Target        string

	ReconnectDelay    time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	DialTimeout       time.Duration
	WriteTimeout      time.Duration
}

// Link keeps one logical connection to the device alive. All lifecycle
// state is owned by a single loop goroutine; public methods post events to
// it and read snapshots guarded by mu.
type Link struct {
	opts   Options
	logger *slog.Logger
	bus    bus.MessageBus
	clock  Clock

	events chan event
	done   chan struct{}

	lifeMu  sync.Mutex
	started bool
	closed  bool

	// postMu orders late posts against the final drain of events.
	postMu     sync.RWMutex
	postClosed bool

	// loop-owned
	current    *session
	connecting bool
	stopped    bool
	state      connectors.ConnectionState
	timers     *timerSet
	heartbeat  *heartbeat

	mu       sync.RWMutex
	status   connectors.ConnectionStatus
	messages []string
}

func New(opts Options) (*Link, error) {
	if opts.NewTransport == nil {
		return nil, errors.New("transport factory is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default().With("component", "link")
	}
	if opts.Clock == nil {
		opts.Clock = systemClock{}
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.HeartbeatTimeout <= 0 {
		opts.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}

	l := &Link{
		opts:   opts,
		logger: opts.Logger,
		bus:    opts.Bus,
		clock:  opts.Clock,
		events: make(chan event, eventQueueSize),
		done:   make(chan struct{}),
		state:  connectors.ConnectionStateDisconnected,
	}
	l.status = l.buildStatus(connectors.ConnectionStateDisconnected, "")
	l.timers = newTimerSet(opts.Clock, l.postEvent)
	l.heartbeat = &heartbeat{
		timers:   l.timers,
		interval: opts.HeartbeatInterval,
		timeout:  opts.HeartbeatTimeout,
		logger:   opts.Logger,
		probe:    l.probe,
		expire:   l.heartbeatExpired,
	}

	return l, nil
}

// Start runs the event loop and begins the first connection attempt.
// Cancelling ctx tears the link down the same way Close does.
func (l *Link) Start(ctx context.Context) {
	l.lifeMu.Lock()
	defer l.lifeMu.Unlock()
	if l.started || l.closed {
		return
	}
	l.started = true

	go l.run(ctx)
	l.post(connectRequested{reason: "startup"})
}

// Connect requests a new connection attempt. It is ignored while another
// attempt is in flight.
func (l *Link) Connect() {
	l.post(connectRequested{reason: "manual"})
}

// Close closes the current transport with code 1000, cancels every timer
// and waits for the loop to exit. No reconnect happens afterwards.
func (l *Link) Close() error {
	l.lifeMu.Lock()
	if l.closed {
		l.lifeMu.Unlock()
		<-l.done

		return nil
	}
	l.closed = true
	started := l.started
	l.lifeMu.Unlock()

	if !started {
		l.finish()

		return nil
	}

	td := teardown{done: make(chan struct{})}
	if l.post(td) {
		<-td.done
	}
	<-l.done

	return nil
}

// SendMessage wraps text into a message envelope and queues it to the
// transport. The result is ErrNotConnected unless the link is connected.
func (l *Link) SendMessage(text string) <-chan SendResult {
	resCh := make(chan SendResult, 1)
	if !l.post(sendRequested{text: text, result: resCh}) {
		resCh <- SendResult{Err: ErrClosed}
		close(resCh)
	}

	return resCh
}

func (l *Link) Status() connectors.ConnectionState {
	return l.Snapshot().State
}

func (l *Link) Snapshot() connectors.ConnectionStatus {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.status
}

// Messages returns a copy of the message log in arrival order.
func (l *Link) Messages() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]string, len(l.messages))
	copy(out, l.messages)

	return out
}

// Done is closed once the loop has exited.
func (l *Link) Done() <-chan struct{} {
	return l.done
}

func (l *Link) post(ev event) bool {
	l.postMu.RLock()
	defer l.postMu.RUnlock()
	if l.postClosed {
		return false
	}

	select {
	case l.events <- ev:
		return true
	case <-l.done:
		return false
	}
}

func (l *Link) postEvent(ev event) {
	l.post(ev)
}

// flush blocks until every event posted before it has been handled.
func (l *Link) flush() bool {
	return l.inspect(nil)
}

// inspect runs fn on the loop goroutine after all earlier events.
func (l *Link) inspect(fn func()) bool {
	b := barrier{fn: fn, done: make(chan struct{})}
	if !l.post(b) {
		return false
	}
	select {
	case <-b.done:
		return true
	case <-l.done:
		return false
	}
}

func (l *Link) run(ctx context.Context) {
	defer l.finish()

	for {
		select {
		case <-ctx.Done():
			l.shutdown("context cancelled")

			return
		case ev := <-l.events:
			if td, ok := ev.(teardown); ok {
				l.shutdown("closed by consumer")
				close(td.done)

				return
			}
			l.handle(ev)
		}
	}
}

// finish releases blocked posters and answers whatever is still queued.
func (l *Link) finish() {
	close(l.done)

	l.postMu.Lock()
	l.postClosed = true
	l.postMu.Unlock()

	for {
		select {
		case ev := <-l.events:
			switch ev := ev.(type) {
			case sendRequested:
				ev.result <- SendResult{Err: ErrClosed}
				close(ev.result)
			case teardown:
				close(ev.done)
			case barrier:
				close(ev.done)
			}
		default:
			return
		}
	}
}

func (l *Link) handle(ev event) {
	switch ev := ev.(type) {
	case connectRequested:
		l.connect(ev.reason)
	case opened:
		l.handleOpened(ev)
	case received:
		l.handleReceived(ev)
	case errored:
		l.handleErrored(ev)
	case closed:
		l.handleClosed(ev)
	case timerFired:
		l.handleTimer(ev)
	case sendRequested:
		l.handleSend(ev)
	case barrier:
		if ev.fn != nil {
			ev.fn()
		}
		close(ev.done)
	default:
		l.logger.Warn("unknown link event", "event", ev)
	}
}

func (l *Link) connect(reason string) {
	if l.stopped {
		return
	}
	if l.connecting {
		l.logger.Debug("connect skipped: attempt in flight", "reason", reason)

		return
	}

	l.timers.cancel(timerReconnectDelay)
	if prev := l.current; prev != nil {
		l.logger.Info("replacing current transport", "session", prev.id)
		l.heartbeat.stop()
		l.current = nil
		prev.stop(transport.CloseNormal, "replaced by new connection")
	}

	l.connecting = true
	l.setState(connectors.ConnectionStateConnecting, "")

	tr, err := l.opts.NewTransport()
	if err != nil {
		l.logger.Warn("create transport failed", "error", err)
		l.setState(connectors.ConnectionStateErrored, err.Error())
		l.onClosed(transport.CloseAbnormal, err.Error())

		return
	}

	s := newSession(context.Background(), tr, l.logger)
	l.current = s
	l.logger.Info("connecting", "session", s.id, "transport", tr.Name(), "reason", reason)
	go s.run(l.postEvent, l.opts.DialTimeout, l.opts.WriteTimeout, l.bus)
}

func (l *Link) isCurrent(id uuid.UUID, kind string) bool {
	if l.current != nil && l.current.id == id {
		return true
	}
	l.logger.Debug("stale event dropped", "event", kind, "session", id)

	return false
}

func (l *Link) handleOpened(ev opened) {
	if !l.isCurrent(ev.session, "opened") {
		return
	}
	l.connecting = false
	l.setState(connectors.ConnectionStateConnected, "")
	l.logger.Info("connected", "session", ev.session)
	l.heartbeat.start()
}

func (l *Link) handleReceived(ev received) {
	if !l.isCurrent(ev.session, "received") {
		return
	}
	if l.bus != nil {
		l.bus.Publish(connectors.TopicRawFrameIn, connectors.RawFrame{
			Session: ev.session.String(),
			Text:    string(ev.payload),
			Len:     len(ev.payload),
		})
	}
	l.route(ev.payload)
}

func (l *Link) handleErrored(ev errored) {
	if !l.isCurrent(ev.session, "errored") {
		return
	}
	l.connecting = false
	l.heartbeat.stop()
	l.logger.Warn("transport error", "session", ev.session, "error", ev.err)
	l.setState(connectors.ConnectionStateErrored, ev.err.Error())
}

func (l *Link) handleClosed(ev closed) {
	if !l.isCurrent(ev.session, "closed") {
		return
	}
	s := l.current
	l.current = nil
	s.stop(ev.code, ev.reason)
	l.onClosed(ev.code, ev.reason)
}

func (l *Link) handleTimer(ev timerFired) {
	if !l.timers.fired(ev) {
		l.logger.Debug("stale timer dropped", "timer", ev.kind, "seq", ev.seq)

		return
	}

	switch ev.kind {
	case timerHeartbeatInterval:
		l.heartbeat.tick()
	case timerHeartbeatDeadline:
		l.heartbeat.expired()
	case timerReconnectDelay:
		l.connect("reconnect")
	}
}

func (l *Link) handleSend(ev sendRequested) {
	if l.state != connectors.ConnectionStateConnected || l.current == nil {
		l.logger.Warn("send dropped: not connected", "state", l.state)
		ev.result <- SendResult{Err: ErrNotConnected}
		close(ev.result)

		return
	}

	out := outgoing{payload: control.EncodeMessage(ev.text), result: ev.result}
	if err := l.current.enqueue(out); err != nil {
		l.logger.Warn("send dropped", "error", err)
		ev.result <- SendResult{Err: err}
		close(ev.result)
	}
}

// probe queues a ping on the current transport.
func (l *Link) probe() bool {
	if l.state != connectors.ConnectionStateConnected || l.current == nil {
		return false
	}
	if err := l.current.enqueue(outgoing{payload: control.EncodePing()}); err != nil {
		l.logger.Warn("heartbeat probe not queued", "error", err)
	}

	return true
}

func (l *Link) heartbeatExpired() {
	s := l.current
	if s == nil {
		return
	}
	l.current = nil
	s.stop(transport.CloseHeartbeatTimeout, "heartbeat timeout")
	l.onClosed(transport.CloseHeartbeatTimeout, "heartbeat timeout")
}

func (l *Link) shutdown(reason string) {
	l.stopped = true
	l.heartbeat.stop()
	l.timers.cancelAll()
	l.connecting = false
	if s := l.current; s != nil {
		l.current = nil
		s.stop(transport.CloseNormal, "client shutdown")
	}
	l.setState(connectors.ConnectionStateDisconnected, "")
	l.logger.Info("link stopped", "reason", reason)
}

func (l *Link) appendMessage(payload string) {
	l.mu.Lock()
	l.messages = append(l.messages, payload)
	seq := len(l.messages)
	l.mu.Unlock()

	if l.bus != nil {
		l.bus.Publish(connectors.TopicMessage, connectors.Message{
			Seq:        seq,
			Payload:    payload,
			ReceivedAt: l.clock.Now(),
		})
	}
}

func (l *Link) setState(state connectors.ConnectionState, errText string) {
	l.state = state

	l.mu.Lock()
	if l.status.State == state && l.status.Err == errText {
		l.mu.Unlock()

		return
	}
	status := l.buildStatus(state, errText)
	l.status = status
	l.mu.Unlock()

	l.logger.Info("connection state changed", "state", state, "error", errText)
	if l.bus != nil {
		l.bus.Publish(connectors.TopicConnStatus, status)
	}
}

func (l *Link) buildStatus(state connectors.ConnectionState, errText string) connectors.ConnectionStatus {
	return connectors.ConnectionStatus{
		State:         state,
		Err:           errText,
		TransportName: l.opts.TransportName,
		Target:        l.opts.Target,
		Timestamp:     l.clock.Now(),
	}
}
