package app

import (
	"strings"

	"github.com/skobkin/devlink/internal/config"
	"github.com/skobkin/devlink/internal/transport"
)

func TransportNameFromConnector(connector config.ConnectorType) string {
	switch connector {
	case config.ConnectorWebSocket:
		return "websocket"
	case config.ConnectorSerial:
		return "serial"
	default:
		if value := strings.TrimSpace(string(connector)); value != "" {
			return value
		}
		return "unknown"
	}
}

// ConnectionTarget is the human readable endpoint shown next to the status.
func ConnectionTarget(cfg config.ConnectionConfig) string {
	tr, err := NewTransportForConnection(cfg)
	if err != nil {
		return ""
	}
	if provider, ok := tr.(transport.StatusTargetResolver); ok {
		return strings.TrimSpace(provider.StatusTarget())
	}

	return ""
}
