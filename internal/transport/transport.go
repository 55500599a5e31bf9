package transport

import "context"

// Transport is a single duplex message connection to the device.
// Close is idempotent and tells the peer why the link was dropped.
type Transport interface {
	Name() string
	Connect(ctx context.Context) error
	ReadMessage(ctx context.Context) ([]byte, error)
	WriteMessage(ctx context.Context, payload []byte) error
	Close(code int, reason string) error
}

type StatusTargetResolver interface {
	StatusTarget() string
}
