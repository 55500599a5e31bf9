package link

import (
	"github.com/skobkin/devlink/internal/connectors"
	"github.com/skobkin/devlink/internal/transport"
)

// onClosed runs after the current transport is gone, whatever the cause.
// Only close code 1000 counts as intentional; anything else schedules a
// fresh attempt after the fixed reconnect delay.
func (l *Link) onClosed(code int, reason string) {
	intentional := transport.IsIntentional(code)
	l.heartbeat.stop()
	l.timers.cancelAll()
	l.connecting = false

	errText := ""
	if !intentional {
		errText = reason
	}
	l.setState(connectors.ConnectionStateDisconnected, errText)

	if intentional {
		l.logger.Info("connection closed", "code", code, "reason", reason)

		return
	}
	l.logger.Warn("connection lost", "code", code, "reason", reason)
	if l.stopped {
		return
	}
	l.scheduleReconnect()
}

// scheduleReconnect arms the single reconnect timer; onClosed has already
// cleared any earlier one.
func (l *Link) scheduleReconnect() {
	l.timers.arm(timerReconnectDelay, l.opts.ReconnectDelay)
	l.logger.Info("reconnect scheduled", "delay", l.opts.ReconnectDelay)
}
