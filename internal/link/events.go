package link

import "github.com/google/uuid"

// event is processed by the loop goroutine, one at a time.
type event interface{}

type connectRequested struct {
	reason string
}

type opened struct {
	session uuid.UUID
}

type received struct {
	session uuid.UUID
	payload []byte
}

type closed struct {
	session uuid.UUID
	code    int
	reason  string
}

type errored struct {
	session uuid.UUID
	err     error
}

type timerFired struct {
	kind timerKind
	seq  uint64
}

type sendRequested struct {
	text   string
	result chan SendResult
}

type teardown struct {
	done chan struct{}
}

// barrier lets tests wait until every previously posted event is handled.
// fn, when set, runs on the loop goroutine.
type barrier struct {
	fn   func()
	done chan struct{}
}
