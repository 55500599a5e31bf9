package notifications

import (
	"log/slog"

	"github.com/gen2brain/beeep"
)

type notifyFunc func(title, message string) error

// DesktopSender shows notifications through the OS notification center.
type DesktopSender struct {
	logger *slog.Logger
	notify notifyFunc
}

func NewDesktopSender(appName string, logger *slog.Logger) *DesktopSender {
	if logger == nil {
		logger = slog.Default().With("component", "notifications")
	}
	if appName != "" {
		beeep.AppName = appName
	}

	return &DesktopSender{
		logger: logger,
		notify: func(title, message string) error {
			return beeep.Notify(title, message, "")
		},
	}
}

func (s *DesktopSender) Send(payload Payload) {
	if err := s.notify(payload.Title, payload.Content); err != nil {
		s.logger.Warn("send desktop notification failed", "title", payload.Title, "error", err)

		return
	}
	s.logger.Debug("desktop notification sent", "title", payload.Title)
}

// NopSender drops every notification.
type NopSender struct{}

func (NopSender) Send(Payload) {}
