package transport

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

const (
	defaultDialTimeout = 10 * time.Second
	// Device payloads are short JSON envelopes or text lines.
	maxMessageSize = 64 << 10
)

// WebSocketTransport exchanges text messages with the device over ws:// or wss://.
type WebSocketTransport struct {
	url         string
	dialTimeout time.Duration

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewWebSocketTransport(host string, port int, path string, useTLS bool) *WebSocketTransport {
	scheme := "ws"
	if useTLS {
		scheme = "wss"
	}
	if path == "" {
		path = "/"
	}
	u := url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
		Path:   path,
	}

	return &WebSocketTransport{url: u.String(), dialTimeout: defaultDialTimeout}
}

// NewWebSocketTransportURL dials rawURL as is. It is used for explicit
// endpoints and by tests against httptest servers.
func NewWebSocketTransportURL(rawURL string) *WebSocketTransport {
	return &WebSocketTransport{url: rawURL, dialTimeout: defaultDialTimeout}
}

// WithDialTimeout bounds the opening handshake. Non-positive values keep the default.
func (t *WebSocketTransport) WithDialTimeout(d time.Duration) *WebSocketTransport {
	if d > 0 {
		t.dialTimeout = d
	}

	return t
}

func (t *WebSocketTransport) Name() string {
	return "websocket"
}

func (t *WebSocketTransport) StatusTarget() string {
	return t.url
}

func (t *WebSocketTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.conn != nil
}

// Connect dials without holding the lock so Close is never stuck behind a
// slow handshake.
func (t *WebSocketTransport) Connect(ctx context.Context) error {
	logger := transportLogger(t.Name(), t.url)
	if t.Connected() {
		logger.Debug("connect skipped: already connected")

		return nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, t.dialTimeout)
	defer cancel()

	logger.Info("connecting")
	conn, resp, err := websocket.Dial(dialCtx, t.url, nil)
	if err != nil {
		logger.Warn("connect failed", "error", err)
		if resp != nil {
			return fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)
		}

		return fmt.Errorf("websocket dial failed: %w", err)
	}
	conn.SetReadLimit(maxMessageSize)

	t.mu.Lock()
	if t.conn != nil {
		t.mu.Unlock()
		_ = conn.CloseNow()
		logger.Debug("connect raced another dial, keeping the first connection")

		return nil
	}
	t.conn = conn
	t.mu.Unlock()
	logger.Info("connected")

	return nil
}

func (t *WebSocketTransport) ReadMessage(ctx context.Context) ([]byte, error) {
	conn, err := t.currentConn()
	if err != nil {
		return nil, err
	}

	_, payload, err := conn.Read(ctx)
	if err != nil {
		transportLogger(t.Name(), "").Debug("read message failed", "error", err, "close_code", CloseCode(err))

		return nil, err
	}
	transportLogger(t.Name(), "").Debug("read message", "len", len(payload))

	return payload, nil
}

func (t *WebSocketTransport) WriteMessage(ctx context.Context, payload []byte) error {
	conn, err := t.currentConn()
	if err != nil {
		return err
	}

	if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
		transportLogger(t.Name(), "").Warn("write message failed", "len", len(payload), "error", err)

		return fmt.Errorf("write message: %w", err)
	}
	transportLogger(t.Name(), "").Debug("write message", "len", len(payload))

	return nil
}

// Close performs the closing handshake with code. It may block until the
// peer answers or the handshake times out.
func (t *WebSocketTransport) Close(code int, reason string) error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	logger := transportLogger(t.Name(), t.url, "code", code)
	if conn == nil {
		logger.Debug("close skipped: not connected")

		return nil
	}

	if err := conn.Close(websocket.StatusCode(code), reason); err != nil {
		logger.Debug("close handshake incomplete", "error", err)
		_ = conn.CloseNow()

		return nil
	}
	logger.Info("closed", "reason", reason)

	return nil
}

func (t *WebSocketTransport) currentConn() (*websocket.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil, ErrNotConnected
	}

	return t.conn, nil
}
