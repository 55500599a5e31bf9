package link

import "github.com/skobkin/devlink/internal/control"

type routeOutcome int

const (
	routeLogged routeOutcome = iota
	routeAck
)

// route delivers one inbound payload. Pongs go to the heartbeat; every
// other payload, control envelope or not, is appended to the message log
// as received.
func (l *Link) route(payload []byte) routeOutcome {
	frame := control.Parse(payload)
	if frame.Kind == control.KindPong {
		l.heartbeat.ack()

		return routeAck
	}

	l.logger.Debug("message received", "kind", frame.Kind, "len", len(frame.Raw))
	l.appendMessage(frame.Raw)

	return routeLogged
}
