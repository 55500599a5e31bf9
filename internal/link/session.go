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
	"github.com/skobkin/devlink/internal/transport"
)

const outboxSize = 32

type outgoing struct {
	payload []byte
	result  chan SendResult
}

// session is one transport instance together with its reader and writer
// goroutines. Neither goroutine touches link state: they post events tagged
// with the session id, and the loop ignores events from sessions that are
// no longer current.
type session struct {
	id     uuid.UUID
	tr     transport.Transport
	logger *slog.Logger
	outbox chan outgoing

	ctx    context.Context
	cancel context.CancelFunc

	stopOnce sync.Once
	stopped  chan struct{}
}

func newSession(parent context.Context, tr transport.Transport, logger *slog.Logger) *session {
	ctx, cancel := context.WithCancel(parent)
	id := uuid.New()

	return &session{
		id:      id,
		tr:      tr,
		logger:  logger.With("session", id.String(), "transport", tr.Name()),
		outbox:  make(chan outgoing, outboxSize),
		ctx:     ctx,
		cancel:  cancel,
		stopped: make(chan struct{}),
	}
}

// run connects and then reads until the transport fails or the session is
// cancelled. The last event posted for a session is always closed.
func (s *session) run(post func(event), dialTimeout time.Duration, writeTimeout time.Duration, b bus.MessageBus) {
	dialCtx, cancelDial := context.WithTimeout(s.ctx, dialTimeout)
	err := s.tr.Connect(dialCtx)
	cancelDial()
	if err != nil {
		post(errored{session: s.id, err: err})
		post(closed{session: s.id, code: transport.CloseAbnormal, reason: err.Error()})

		return
	}
	select {
	case <-s.stopped:
		// Detached while dialing; stop may have found nothing to close yet.
		if err := s.tr.Close(transport.CloseNormal, "session stopped"); err != nil {
			s.logger.Debug("transport close failed", "error", err)
		}
		post(closed{session: s.id, code: transport.CloseNormal, reason: "session stopped"})

		return
	default:
	}
	post(opened{session: s.id})

	go s.writeLoop(writeTimeout, b)

	for {
		payload, err := s.tr.ReadMessage(s.ctx)
		if err != nil {
			code := transport.CloseCode(err)
			if code == transport.CloseAbnormal && s.ctx.Err() == nil {
				post(errored{session: s.id, err: err})
			}
			post(closed{session: s.id, code: code, reason: transport.CloseReason(err)})

			return
		}
		post(received{session: s.id, payload: payload})
	}
}

func (s *session) writeLoop(timeout time.Duration, b bus.MessageBus) {
	for {
		select {
		case <-s.stopped:
			s.drain()

			return
		case out := <-s.outbox:
			select {
			case <-s.stopped:
				s.reply(out, ErrNotConnected)
				s.drain()

				return
			default:
			}

			writeCtx, cancel := context.WithTimeout(s.ctx, timeout)
			err := s.tr.WriteMessage(writeCtx, out.payload)
			cancel()
			if err != nil {
				s.logger.Warn("write failed", "len", len(out.payload), "error", err)
				if errors.Is(err, transport.ErrNotConnected) {
					err = ErrNotConnected
				}
			} else if b != nil {
				b.Publish(connectors.TopicRawFrameOut, connectors.RawFrame{Session: s.id.String(), Text: string(out.payload), Len: len(out.payload)})
			}
			s.reply(out, err)
		}
	}
}

// enqueue hands a frame to the writer without blocking the loop.
func (s *session) enqueue(out outgoing) error {
	select {
	case <-s.stopped:
		return ErrNotConnected
	default:
	}
	select {
	case s.outbox <- out:
		return nil
	default:
		return ErrOutboxFull
	}
}

// stop detaches the session: queued frames are dropped, the transport is
// closed with code in the background and the reader is released.
func (s *session) stop(code int, reason string) {
	s.stopOnce.Do(func() {
		close(s.stopped)
		go func() {
			if err := s.tr.Close(code, reason); err != nil {
				s.logger.Debug("transport close failed", "error", err)
			}
			s.cancel()
		}()
	})
}

func (s *session) drain() {
	for {
		select {
		case out := <-s.outbox:
			s.reply(out, ErrNotConnected)
		default:
			return
		}
	}
}

func (s *session) reply(out outgoing, err error) {
	if out.result == nil {
		return
	}
	out.result <- SendResult{Err: err}
	close(out.result)
}
