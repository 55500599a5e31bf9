package link

import "time"

type timerKind int

const (
	timerHeartbeatInterval timerKind = iota
	timerHeartbeatDeadline
	timerReconnectDelay
	timerKindCount
)

func (k timerKind) String() string {
	switch k {
	case timerHeartbeatInterval:
		return "heartbeat_interval"
	case timerHeartbeatDeadline:
		return "heartbeat_deadline"
	case timerReconnectDelay:
		return "reconnect_delay"
	default:
		return "unknown"
	}
}

type timerSlot struct {
	timer Timer
	seq   uint64
}

// timerSet holds at most one live timer per kind. It is owned by the loop
// goroutine; fired callbacks only post a timerFired event carrying the
// arming sequence so a fire that raced a cancel is recognised as stale.
type timerSet struct {
	clock Clock
	post  func(event)
	slots [timerKindCount]timerSlot
	seq   uint64
}

func newTimerSet(clock Clock, post func(event)) *timerSet {
	return &timerSet{clock: clock, post: post}
}

// arm cancels any live timer of kind and schedules a new one.
func (s *timerSet) arm(kind timerKind, d time.Duration) {
	s.cancel(kind)
	s.seq++
	seq := s.seq
	s.slots[kind] = timerSlot{
		seq: seq,
		timer: s.clock.AfterFunc(d, func() {
			s.post(timerFired{kind: kind, seq: seq})
		}),
	}
}

func (s *timerSet) cancel(kind timerKind) {
	slot := &s.slots[kind]
	if slot.timer != nil {
		slot.timer.Stop()
	}
	*slot = timerSlot{}
}

func (s *timerSet) cancelAll() {
	for kind := range timerKindCount {
		s.cancel(kind)
	}
}

func (s *timerSet) live(kind timerKind) bool {
	return s.slots[kind].timer != nil
}

// fired reports whether ev belongs to the live timer of its kind and, if so,
// clears the slot.
func (s *timerSet) fired(ev timerFired) bool {
	slot := &s.slots[ev.kind]
	if slot.timer == nil || slot.seq != ev.seq {
		return false
	}
	*slot = timerSlot{}

	return true
}
