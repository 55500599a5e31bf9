package transport

import (
	"errors"
	"fmt"

	"nhooyr.io/websocket"
)

// Close codes follow RFC 6455. 1000 is the only code treated as an
// intentional shutdown.
const (
	CloseNormal           = 1000
	CloseGoingAway        = 1001
	CloseAbnormal         = 1006
	CloseHeartbeatTimeout = 4000
)

var ErrNotConnected = errors.New("transport is not connected")

// CloseError reports that the connection is closed with the given code.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("connection closed: code %d", e.Code)
	}

	return fmt.Sprintf("connection closed: code %d: %s", e.Code, e.Reason)
}

// CloseCode extracts the close code carried by a read error. Errors without
// a close frame map to CloseAbnormal.
func CloseCode(err error) int {
	if err == nil {
		return CloseAbnormal
	}
	var closeErr *CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Code
	}
	if status := websocket.CloseStatus(err); status != -1 {
		return int(status)
	}

	return CloseAbnormal
}

// CloseReason returns the peer supplied reason, if any.
func CloseReason(err error) string {
	var closeErr *CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Reason
	}
	var wsErr websocket.CloseError
	if errors.As(err, &wsErr) {
		return wsErr.Reason
	}
	if err != nil {
		return err.Error()
	}

	return ""
}

func IsIntentional(code int) bool {
	return code == CloseNormal
}
