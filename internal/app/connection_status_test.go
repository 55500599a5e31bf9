package app

import (
	"testing"

	"github.com/skobkin/devlink/internal/config"
)

func TestTransportNameFromConnector(t *testing.T) {
	tests := []struct {
		name      string
		connector config.ConnectorType
		want      string
	}{
		{name: "websocket", connector: config.ConnectorWebSocket, want: "websocket"},
		{name: "serial", connector: config.ConnectorSerial, want: "serial"},
		{name: "unknown", connector: "custom", want: "custom"},
		{name: "empty", connector: "", want: "unknown"},
	}

	for _, tc := range tests {
		if got := TransportNameFromConnector(tc.connector); got != tc.want {
			t.Fatalf("%s: expected %q, got %q", tc.name, tc.want, got)
		}
	}
}

func TestConnectionTarget(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.ConnectionConfig
		want string
	}{
		{name: "websocket", cfg: config.ConnectionConfig{Connector: config.ConnectorWebSocket, Host: "192.168.100.15", Port: 80, Path: "/"}, want: "ws://192.168.100.15:80/"},
		{name: "secure websocket", cfg: config.ConnectionConfig{Connector: config.ConnectorWebSocket, Host: "device.lan", Port: 443, Path: "/ws", UseTLS: true}, want: "wss://device.lan:443/ws"},
		{name: "serial", cfg: config.ConnectionConfig{Connector: config.ConnectorSerial, SerialPort: "/dev/ttyUSB0", SerialBaud: 115200}, want: "/dev/ttyUSB0@115200"},
		{name: "unknown", cfg: config.ConnectionConfig{Connector: "custom"}, want: ""},
	}

	for _, tc := range tests {
		if got := ConnectionTarget(tc.cfg); got != tc.want {
			t.Fatalf("%s: expected %q, got %q", tc.name, tc.want, got)
		}
	}
}
