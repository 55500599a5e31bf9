package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/skobkin/devlink/internal/bus"
	"github.com/skobkin/devlink/internal/config"
	"github.com/skobkin/devlink/internal/connectors"
	"github.com/skobkin/devlink/internal/link"
)

type fakeLink struct {
	status   connectors.ConnectionStatus
	messages []string
	sendErr  error
	sent     []string
	connects int
}

func (f *fakeLink) Connect() {
	f.connects++
}

func (f *fakeLink) SendMessage(text string) <-chan link.SendResult {
	f.sent = append(f.sent, text)
	ch := make(chan link.SendResult, 1)
	ch <- link.SendResult{Err: f.sendErr}

	return ch
}

func (f *fakeLink) Snapshot() connectors.ConnectionStatus {
	return f.status
}

func (f *fakeLink) Messages() []string {
	return f.messages
}

func TestApplyOverrides(t *testing.T) {
	tests := []struct {
		name  string
		opts  cliFlags
		set   []string
		check func(t *testing.T, cfg config.AppConfig)
	}{
		{
			name: "unset flags keep config",
			opts: cliFlags{host: "ignored", port: 9999},
			check: func(t *testing.T, cfg config.AppConfig) {
				if cfg.Connection.Host != "esp32.local" || cfg.Connection.Port != 80 {
					t.Fatalf("expected config untouched, got %+v", cfg.Connection)
				}
			},
		},
		{
			name: "websocket target",
			opts: cliFlags{host: " 192.168.4.1 ", port: 8080, path: "/ws", useTLS: true},
			set:  []string{"host", "port", "path", "tls"},
			check: func(t *testing.T, cfg config.AppConfig) {
				c := cfg.Connection
				if c.Host != "192.168.4.1" || c.Port != 8080 || c.Path != "/ws" || !c.UseTLS {
					t.Fatalf("unexpected connection config: %+v", c)
				}
			},
		},
		{
			name: "serial port implies serial connector",
			opts: cliFlags{serialPort: "/dev/ttyUSB0", serialBaud: 9600},
			set:  []string{"serial-port", "baud"},
			check: func(t *testing.T, cfg config.AppConfig) {
				c := cfg.Connection
				if c.Connector != config.ConnectorSerial {
					t.Fatalf("expected serial connector, got %q", c.Connector)
				}
				if c.SerialPort != "/dev/ttyUSB0" || c.SerialBaud != 9600 {
					t.Fatalf("unexpected serial config: %+v", c)
				}
			},
		},
		{
			name: "explicit connector wins over serial port",
			opts: cliFlags{connector: "WebSocket", serialPort: "/dev/ttyUSB0"},
			set:  []string{"connector", "serial-port"},
			check: func(t *testing.T, cfg config.AppConfig) {
				if cfg.Connection.Connector != config.ConnectorWebSocket {
					t.Fatalf("expected websocket connector, got %q", cfg.Connection.Connector)
				}
			},
		},
		{
			name: "link timings and logging",
			opts: cliFlags{
				reconnectDelay:    time.Second,
				heartbeatInterval: 10 * time.Second,
				heartbeatTimeout:  2 * time.Second,
				logLevel:          "debug",
				notify:            true,
			},
			set: []string{"reconnect-delay", "heartbeat-interval", "heartbeat-timeout", "log-level", "notify"},
			check: func(t *testing.T, cfg config.AppConfig) {
				l := cfg.Link
				if l.ReconnectDelay.Std() != time.Second || l.HeartbeatInterval.Std() != 10*time.Second || l.HeartbeatTimeout.Std() != 2*time.Second {
					t.Fatalf("unexpected link config: %+v", l)
				}
				if cfg.Logging.Level != "debug" {
					t.Fatalf("expected debug level, got %q", cfg.Logging.Level)
				}
				if !cfg.Notifications.Enabled {
					t.Fatalf("expected notifications enabled")
				}
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.AppConfig{
				Connection: config.ConnectionConfig{
					Connector: config.ConnectorWebSocket,
					Host:      "esp32.local",
					Port:      80,
				},
			}
			set := make(map[string]bool)
			for _, name := range tc.set {
				set[name] = true
			}
			applyOverrides(&cfg, tc.opts, set)
			tc.check(t, cfg)
		})
	}
}

func TestConsoleHandle(t *testing.T) {
	fl := &fakeLink{
		status:   connectors.ConnectionStatus{State: connectors.ConnectionStateConnected, Target: "ws://esp32.local:80/"},
		messages: []string{`{"type":"response","content":"message received: hola"}`},
	}
	var out bytes.Buffer
	c := newConsole(&out, fl)

	if c.handle("   ") {
		t.Fatalf("expected blank line not to quit")
	}
	if out.Len() != 0 {
		t.Fatalf("expected no output for blank line, got %q", out.String())
	}

	c.handle("/status")
	if got := out.String(); got != "[Connected] ws://esp32.local:80/\n" {
		t.Fatalf("unexpected status output %q", got)
	}

	out.Reset()
	c.handle("/messages")
	if got := out.String(); !strings.Contains(got, "  1  "+fl.messages[0]) {
		t.Fatalf("expected message listing, got %q", got)
	}

	out.Reset()
	c.handle("hola")
	if len(fl.sent) != 1 || fl.sent[0] != "hola" {
		t.Fatalf("expected one send of hola, got %v", fl.sent)
	}
	if got := out.String(); got != "> hola\n" {
		t.Fatalf("unexpected send output %q", got)
	}

	c.handle("/reconnect")
	if fl.connects != 1 {
		t.Fatalf("expected one connect request, got %d", fl.connects)
	}

	if !c.handle("/quit") || !c.handle("/exit") {
		t.Fatalf("expected quit commands to quit")
	}
}

func TestConsoleSendNotConnected(t *testing.T) {
	fl := &fakeLink{
		status:  connectors.ConnectionStatus{State: connectors.ConnectionStateConnecting},
		sendErr: link.ErrNotConnected,
	}
	var out bytes.Buffer
	c := newConsole(&out, fl)

	c.handle("hola")
	if got := out.String(); got != "! not sent: Connecting...\n" {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestConsoleMessagesEmpty(t *testing.T) {
	var out bytes.Buffer
	c := newConsole(&out, &fakeLink{})

	c.handle("/messages")
	if got := out.String(); got != "no messages yet\n" {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestFormatStatus(t *testing.T) {
	tests := []struct {
		status connectors.ConnectionStatus
		want   string
	}{
		{status: connectors.ConnectionStatus{State: connectors.ConnectionStateDisconnected}, want: "[Disconnected]"},
		{
			status: connectors.ConnectionStatus{State: connectors.ConnectionStateConnected, Target: "/dev/ttyUSB0@115200"},
			want:   "[Connected] /dev/ttyUSB0@115200",
		},
		{
			status: connectors.ConnectionStatus{State: connectors.ConnectionStateDisconnected, Target: "ws://h:80/", Err: "heartbeat timeout"},
			want:   "[Disconnected] ws://h:80/ (heartbeat timeout)",
		},
	}

	for _, tc := range tests {
		if got := formatStatus(tc.status); got != tc.want {
			t.Fatalf("expected %q, got %q", tc.want, got)
		}
	}
}

func TestWatchPrintsEvents(t *testing.T) {
	b := bus.New(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var buf bytes.Buffer
	out := &lockedWriter{w: &buf}
	watch(ctx, b, out, true)

	b.Publish(connectors.TopicRawFrameOut, connectors.RawFrame{Text: "hola", Len: 4})
	snapshot := func() string {
		out.mu.Lock()
		defer out.mu.Unlock()

		return buf.String()
	}
	waitForOutput(t, snapshot, ">> [4] hola")

	b.Publish(connectors.TopicRawFrameIn, connectors.RawFrame{Text: "pong", Len: 4})
	waitForOutput(t, snapshot, "<< [4] pong")

	b.Publish(connectors.TopicMessage, connectors.Message{Seq: 1, Payload: "device received: hola"})
	waitForOutput(t, snapshot, "< device received: hola")

	b.Publish(connectors.TopicConnStatus, connectors.ConnectionStatus{State: connectors.ConnectionStateConnected})
	waitForOutput(t, snapshot, "[Connected]")
}

func waitForOutput(t *testing.T, snapshot func() string, want string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(snapshot(), want) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected output to contain %q, got %q", want, snapshot())
}
