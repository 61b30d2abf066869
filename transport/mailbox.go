package transport

import (
	"context"
	"sync"
	"time"

	"github.com/asamint/goxcp"
)

// Mailbox is a single-slot response mailbox with a deadline timer.
// Exactly one in-flight request may wait on it at a time;
// EV_CMD_PENDING events reset the deadline rather than delivering a value
// (see ResetDeadline).
type Mailbox struct {
	mu       sync.Mutex
	waiting  bool
	deliverC chan []byte
	resetC   chan struct{}
}

// NewMailbox constructs an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{deliverC: make(chan []byte, 1), resetC: make(chan struct{}, 1)}
}

// Deliver hands a response payload to whichever request is currently
// waiting. Non-blocking: the mailbox holds one payload until the next Wait
// takes it; a payload arriving while that slot is still full is dropped.
func (m *Mailbox) Deliver(payload []byte) {
	select {
	case m.deliverC <- payload:
	default:
	}
}

// ResetDeadline is called by the EV_CMD_PENDING handler to push the
// in-flight request's deadline out without delivering a value.
func (m *Mailbox) ResetDeadline() {
	select {
	case m.resetC <- struct{}{}:
	default:
	}
}

// Wait blocks until a response is delivered or the timeout elapses,
// resetting its internal deadline each time EV_CMD_PENDING fires.
func (m *Mailbox) Wait(ctx context.Context, timeout time.Duration, command string, fr FrameCounters) ([]byte, error) {
	m.mu.Lock()
	m.waiting = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.waiting = false
		m.mu.Unlock()
	}()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		select {
		case payload := <-m.deliverC:
			return payload, nil
		case <-m.resetC:
			if !deadline.Stop() {
				<-deadline.C
			}
			deadline.Reset(timeout)
		case <-deadline.C:
			return nil, &xcp.XcpTimeoutError{
				Command:        command,
				FramesSent:     fr.Sent(),
				FramesReceived: fr.Received(),
				Timeout:        timeout.Seconds(),
				Hints:          []string{"increase the configured timeout or verify the slave is still connected"},
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// FrameCounters exposes the sent/received counters used for timeout
// diagnostics without importing the full Channel interface (avoids an
// import cycle between Mailbox and reader).
type FrameCounters interface {
	Sent() uint64
	Received() uint64
}
