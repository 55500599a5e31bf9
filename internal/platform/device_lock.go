// Package platform holds OS-specific helpers.
package platform

import (
	"errors"
	"strings"
)

// ErrDeviceBusy indicates another process already holds the lock for the device.
var ErrDeviceBusy = errors.New("device already in use by another process")

// ErrDeviceLockUnsupported indicates the current platform has no lock backend implementation.
var ErrDeviceLockUnsupported = errors.New("device lock unsupported")

// DeviceLock represents an acquired per-device lock.
type DeviceLock interface {
	Release() error
}

// AcquireDeviceLock takes an exclusive, process-lifetime lock for target
// (a WebSocket URL or serial port). The lock is dropped by the OS if the
// process dies.
func AcquireDeviceLock(appID, target string) (DeviceLock, error) {
	return acquireDeviceLock(
		normalizeLockComponent(appID, "app"),
		normalizeLockComponent(target, "device"),
	)
}

func normalizeLockComponent(raw, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}

	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	normalized := strings.Trim(b.String(), "_-.")
	if normalized == "" {
		return fallback
	}

	return normalized
}
