package app

import (
	"fmt"
	"strings"

	"github.com/skobkin/devlink/internal/config"
	"github.com/skobkin/devlink/internal/link"
	"github.com/skobkin/devlink/internal/transport"
)

// NewTransportFactory validates cfg once and returns a factory that builds a
// fresh transport for every connection attempt.
func NewTransportFactory(cfg config.ConnectionConfig) (link.TransportFactory, error) {
	if _, err := NewTransportForConnection(cfg); err != nil {
		return nil, err
	}

	return func() (transport.Transport, error) {
		return NewTransportForConnection(cfg)
	}, nil
}

func NewTransportForConnection(cfg config.ConnectionConfig) (transport.Transport, error) {
	switch cfg.Connector {
	case config.ConnectorWebSocket:
		host := strings.TrimSpace(cfg.Host)
		if host == "" {
			return nil, fmt.Errorf("websocket host is required")
		}

		return transport.NewWebSocketTransport(host, cfg.Port, cfg.Path, cfg.UseTLS).
			WithDialTimeout(cfg.DialTimeout.Std()), nil
	case config.ConnectorSerial:
		port := strings.TrimSpace(cfg.SerialPort)
		if port == "" {
			return nil, fmt.Errorf("serial port is required")
		}

		return transport.NewSerialTransport(port, cfg.SerialBaud), nil
	default:
		return nil, fmt.Errorf("unknown connector: %q", cfg.Connector)
	}
}
