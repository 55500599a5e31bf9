package app

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/skobkin/devlink/internal/bus"
	"github.com/skobkin/devlink/internal/config"
	"github.com/skobkin/devlink/internal/connectors"
	"github.com/skobkin/devlink/internal/notifications"
)

func enabledNotificationConfig() config.AppConfig {
	cfg := config.Default()
	cfg.Notifications.Enabled = true
	cfg.Notifications.ConnectionStatus = true
	cfg.Notifications.IncomingMessage = true

	return cfg
}

func TestNotificationServiceIncomingMessage(t *testing.T) {
	messageBus := newTestMessageBus(t)
	cfg := enabledNotificationConfig()
	sender := newCollectingNotificationSender()
	service := NewNotificationService(messageBus, func() config.AppConfig { return cfg }, sender, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	service.Start(ctx)

	messageBus.Publish(connectors.TopicMessage, connectors.Message{
		Seq:     1,
		Payload: `{"type":"response","content":"message received: hola"}`,
	})
	messageBus.Publish(connectors.TopicMessage, connectors.Message{
		Seq:     2,
		Payload: "device received: hello",
	})

	got := sender.waitForCount(t, 2)
	if got[0].Title != notificationTitleDeviceMessage {
		t.Fatalf("expected title %q, got %q", notificationTitleDeviceMessage, got[0].Title)
	}
	if got[0].Content != "message received: hola" {
		t.Fatalf("expected envelope content, got %q", got[0].Content)
	}
	if got[1].Content != "device received: hello" {
		t.Fatalf("expected raw text, got %q", got[1].Content)
	}
}

func TestMessageNotificationBody(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{name: "response", payload: `{"type":"response","content":"ok"}`, want: "ok"},
		{name: "envelope without content", payload: `{"type":"status"}`, want: `{"type":"status"}`},
		{name: "plain", payload: "  hello  ", want: "hello"},
		{name: "empty", payload: " ", want: "(empty)"},
		{name: "malformed", payload: `{"type":`, want: `{"type":`},
	}

	for _, tc := range tests {
		if got := messageNotificationBody(tc.payload); got != tc.want {
			t.Fatalf("%s: expected %q, got %q", tc.name, tc.want, got)
		}
	}
}

func TestNotificationServiceConnectionStatusFilteringAndFormatting(t *testing.T) {
	messageBus := newTestMessageBus(t)
	cfg := enabledNotificationConfig()
	sender := newCollectingNotificationSender()
	service := NewNotificationService(messageBus, func() config.AppConfig { return cfg }, sender, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	service.Start(ctx)

	messageBus.Publish(connectors.TopicConnStatus, connectors.ConnectionStatus{
		State:         connectors.ConnectionStateConnected,
		TransportName: "websocket",
		Target:        "ws://192.168.100.15:80/",
	})
	gotNotifications := sender.waitForCount(t, 1)
	if got := gotNotifications[0].Title; got != "WebSocket - Connected" {
		t.Fatalf("expected connected title, got %q", got)
	}
	if got := gotNotifications[0].Content; got != "ws://192.168.100.15:80/" {
		t.Fatalf("expected target content, got %q", got)
	}

	// Duplicate consecutive state must be ignored.
	messageBus.Publish(connectors.TopicConnStatus, connectors.ConnectionStatus{
		State:         connectors.ConnectionStateConnected,
		TransportName: "websocket",
		Target:        "ws://192.168.100.15:80/",
	})
	sender.assertCount(t, 1)

	// Connecting and Error do not notify.
	messageBus.Publish(connectors.TopicConnStatus, connectors.ConnectionStatus{
		State:         connectors.ConnectionStateConnecting,
		TransportName: "websocket",
	})
	messageBus.Publish(connectors.TopicConnStatus, connectors.ConnectionStatus{
		State:         connectors.ConnectionStateErrored,
		TransportName: "websocket",
		Err:           "dial refused",
	})
	sender.assertCount(t, 1)

	messageBus.Publish(connectors.TopicConnStatus, connectors.ConnectionStatus{
		State:         connectors.ConnectionStateDisconnected,
		TransportName: "serial",
		Target:        "/dev/ttyUSB0@115200",
		Err:           "heartbeat timeout",
	})
	gotNotifications = sender.waitForCount(t, 2)
	if got := gotNotifications[1].Title; got != "Serial - Disconnected" {
		t.Fatalf("expected disconnected title, got %q", got)
	}
	if got := gotNotifications[1].Content; got != "/dev/ttyUSB0@115200 (error: heartbeat timeout)" {
		t.Fatalf("expected disconnected content with error, got %q", got)
	}
}

func TestNotificationServiceRespectsSettings(t *testing.T) {
	messageBus := newTestMessageBus(t)
	cfg := config.Default()
	var cfgMu sync.RWMutex
	sender := newCollectingNotificationSender()
	service := NewNotificationService(
		messageBus,
		func() config.AppConfig {
			cfgMu.RLock()
			defer cfgMu.RUnlock()

			return cfg
		},
		sender,
		nil,
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	service.Start(ctx)

	message := connectors.Message{Seq: 1, Payload: "hello"}

	// Notifications are off by default.
	messageBus.Publish(connectors.TopicMessage, message)
	sender.assertCount(t, 0)

	cfgMu.Lock()
	cfg.Notifications.Enabled = true
	cfg.Notifications.IncomingMessage = true
	cfgMu.Unlock()
	messageBus.Publish(connectors.TopicMessage, message)
	sender.waitForCount(t, 1)

	cfgMu.Lock()
	cfg.Notifications.IncomingMessage = false
	cfgMu.Unlock()
	messageBus.Publish(connectors.TopicMessage, message)
	sender.assertCount(t, 1)
}

func newTestMessageBus(t *testing.T) *bus.PubSubBus {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	messageBus := bus.New(logger)
	t.Cleanup(func() {
		messageBus.Close()
	})

	return messageBus
}

type collectingNotificationSender struct {
	mu            sync.Mutex
	notifications []notifications.Payload
	changes       chan struct{}
}

func newCollectingNotificationSender() *collectingNotificationSender {
	return &collectingNotificationSender{
		changes: make(chan struct{}, 1),
	}
}

func (s *collectingNotificationSender) Send(notification notifications.Payload) {
	s.mu.Lock()
	s.notifications = append(s.notifications, notification)
	s.mu.Unlock()

	select {
	case s.changes <- struct{}{}:
	default:
	}
}

func (s *collectingNotificationSender) snapshot() []notifications.Payload {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]notifications.Payload, len(s.notifications))
	copy(out, s.notifications)

	return out
}

func (s *collectingNotificationSender) waitForCount(t *testing.T, expected int) []notifications.Payload {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		current := s.snapshot()
		if len(current) >= expected {
			return current
		}
		select {
		case <-s.changes:
		case <-time.After(10 * time.Millisecond):
		}
	}

	t.Fatalf("timed out waiting for %d notifications", expected)

	return nil
}

func (s *collectingNotificationSender) assertCount(t *testing.T, expected int) {
	t.Helper()

	time.Sleep(100 * time.Millisecond)
	current := s.snapshot()
	if len(current) != expected {
		t.Fatalf("expected %d notifications, got %d", expected, len(current))
	}
}
