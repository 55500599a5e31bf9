package link

import (
	"log/slog"
	"time"
)

// heartbeat probes a connected transport every interval and treats a probe
// left unanswered for timeout as a dead connection. It runs on the loop
// goroutine and owns the heartbeat interval and deadline timers.
type heartbeat struct {
	timers   *timerSet
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	// probe writes a liveness probe and reports whether the link is still
	// connected. expire force-closes the transport.
	probe  func() bool
	expire func()

	running bool
}

// start (re)arms the probe interval. A running interval is cancelled first.
func (h *heartbeat) start() {
	h.stop()
	h.running = true
	h.timers.arm(timerHeartbeatInterval, h.interval)
	h.logger.Debug("heartbeat started", "interval", h.interval, "timeout", h.timeout)
}

// stop cancels the interval and any pending deadline. Safe to call twice.
func (h *heartbeat) stop() {
	if h.running {
		h.logger.Debug("heartbeat stopped")
	}
	h.running = false
	h.timers.cancel(timerHeartbeatInterval)
	h.timers.cancel(timerHeartbeatDeadline)
}

func (h *heartbeat) tick() {
	if !h.running {
		return
	}
	if !h.probe() {
		h.stop()

		return
	}
	// An unanswered earlier probe keeps its deadline, so a timeout longer
	// than the interval still expires.
	if !h.timers.live(timerHeartbeatDeadline) {
		h.timers.arm(timerHeartbeatDeadline, h.timeout)
	}
	h.timers.arm(timerHeartbeatInterval, h.interval)
}

func (h *heartbeat) ack() {
	if !h.timers.live(timerHeartbeatDeadline) {
		h.logger.Debug("pong without pending probe")

		return
	}
	h.timers.cancel(timerHeartbeatDeadline)
	h.logger.Debug("pong received")
}

func (h *heartbeat) expired() {
	if !h.running {
		return
	}
	h.logger.Warn("heartbeat timeout", "timeout", h.timeout)
	h.stop()
	h.expire()
}
