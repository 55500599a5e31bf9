// Package devsim emulates the device firmware behind the WebSocket endpoint:
// it answers ping with pong, acknowledges message envelopes and echoes plain
// text. It is used by integration tests and by cmd/devsim.
package devsim

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"nhooyr.io/websocket"

	"github.com/skobkin/devlink/internal/control"
)

const (
	messageReplyPrefix = "message received: "
	echoPrefix         = "device received: "
)

type Options struct {
	Logger *slog.Logger
	// Silent makes the device stop answering pings.
	Silent bool
}

// Handler accepts WebSocket clients on any path.
type Handler struct {
	logger *slog.Logger
	silent atomic.Bool

	mu      sync.Mutex
	conns   map[*websocket.Conn]struct{}
	accepts atomic.Int64
}

func NewHandler(opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	h := &Handler{
		logger: logger,
		conns:  make(map[*websocket.Conn]struct{}),
	}
	h.silent.Store(opts.Silent)

	return h
}

func (h *Handler) SetSilent(silent bool) {
	h.silent.Store(silent)
}

// Accepted returns how many connections were accepted so far.
func (h *Handler) Accepted() int {
	return int(h.accepts.Load())
}

// Disconnect closes every active connection with code.
func (h *Handler) Disconnect(code int, reason string) {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		if err := conn.Close(websocket.StatusCode(code), reason); err != nil {
			h.logger.Debug("close client failed", "error", err)
			_ = conn.CloseNow()
		}
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("accept websocket failed", "remote", r.RemoteAddr, "error", err)

		return
	}
	h.accepts.Add(1)
	h.track(conn, true)
	defer h.track(conn, false)
	defer func() { _ = conn.CloseNow() }()

	logger := h.logger.With("remote", r.RemoteAddr)
	logger.Info("client connected")
	h.serve(r.Context(), conn, logger)
}

func (h *Handler) track(conn *websocket.Conn, add bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if add {
		h.conns[conn] = struct{}{}

		return
	}
	delete(h.conns, conn)
}

func (h *Handler) serve(ctx context.Context, conn *websocket.Conn, logger *slog.Logger) {
	for {
		_, payload, err := conn.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != -1 {
				logger.Info("client disconnected", "code", int(status))

				return
			}
			if !errors.Is(err, context.Canceled) {
				logger.Debug("read failed", "error", err)
			}

			return
		}

		reply, ok := Respond(payload, h.silent.Load())
		if !ok {
			logger.Debug("frame ignored", "payload", string(payload))

			continue
		}
		if err := conn.Write(ctx, websocket.MessageText, reply); err != nil {
			logger.Warn("write reply failed", "error", err)

			return
		}
	}
}

// Respond returns the device's answer to one inbound frame. Unknown
// envelope types and pongs get no answer.
func Respond(payload []byte, silent bool) ([]byte, bool) {
	frame := control.Parse(payload)
	switch frame.Kind {
	case control.KindPing:
		if silent {
			return nil, false
		}

		return control.EncodePong(), true
	case control.KindMessage:
		return control.EncodeResponse(messageReplyPrefix + frame.Content), true
	case control.KindRaw:
		return []byte(echoPrefix + frame.Raw), true
	default:
		return nil, false
	}
}
