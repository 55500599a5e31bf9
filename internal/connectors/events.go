package connectors

import "time"

// ConnectionState describes the link lifecycle state shown to the user.
type ConnectionState string

const (
	ConnectionStateDisconnected ConnectionState = "disconnected"
	ConnectionStateConnecting   ConnectionState = "connecting"
	ConnectionStateConnected    ConnectionState = "connected"
	ConnectionStateErrored      ConnectionState = "errored"
)

// Label returns the display string for the state.
func (s ConnectionState) Label() string {
	switch s {
	case ConnectionStateDisconnected:
		return "Disconnected"
	case ConnectionStateConnecting:
		return "Connecting..."
	case ConnectionStateConnected:
		return "Connected"
	case ConnectionStateErrored:
		return "Error"
	default:
		return "Unknown"
	}
}

// ConnectionStatus is a bus event snapshot of current link status.
type ConnectionStatus struct {
	State         ConnectionState
	Err           string
	TransportName string
	Target        string
	Timestamp     time.Time
}

// Message is a user-visible payload appended to the message log.
type Message struct {
	Seq        int
	Payload    string
	ReceivedAt time.Time
}

// RawFrame carries frame diagnostics for debug/log views.
type RawFrame struct {
	Session string
	Text    string
	Len     int
}
