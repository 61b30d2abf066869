package transport

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/asamint/goxcp"
	"github.com/asamint/goxcp/timestamp"
)

// Channel is the transport-independent interface the session package drives.
type Channel interface {
	Connect(ctx context.Context) error
	Send(payload []byte) error
	// BlockReceive gathers n payload bytes from back-to-back response PDUs,
	// used by upload-block-mode transfers.
	BlockReceive(ctx context.Context, n int) ([]byte, error)
	Close() error

	// Mailbox exposes the single-slot response wait used by non-block-mode
	// request/response exchanges.
	Mailbox() *Mailbox

	// FramesSent/FramesReceived feed XcpTimeoutError diagnostics.
	FramesSent() uint64
	FramesReceived() uint64

	SetTimeout(time.Duration)
}

// EventHandler is invoked for PID 0xFD (EVENT) PDUs. EV_CMD_PENDING resets
// the deadline of the in-flight request.
type EventHandler func(payload []byte)

// PolicyFeed is the subset of the acquisition policy interface the
// reader loop needs: feed(category, counter, timestamp_ns, payload).
type PolicyFeed interface {
	Feed(category xcp.FrameCategory, counter uint16, timestampNs float64, payload []byte)
}

// reader is the shared dispatch logic driven by every concrete channel once
// it has decoded a PDU off the wire: classify by PID and route.
type reader struct {
	mu             sync.Mutex
	mailbox        *Mailbox
	clock          timestamp.Clock
	policy         PolicyFeed
	onEvent        EventHandler
	onService      PolicyFeed
	framesSent     uint64
	framesReceived uint64
	isStim         func(pid byte) bool
	logPrefix      string
}

func newReader(logPrefix string, clock timestamp.Clock, policy PolicyFeed, onEvent EventHandler) *reader {
	return &reader{
		mailbox:   NewMailbox(),
		clock:     clock,
		policy:    policy,
		onEvent:   onEvent,
		logPrefix: logPrefix,
		isStim:    func(byte) bool { return false },
	}
}

// dispatch classifies one reassembled PDU and routes it, stamping the
// timestamp at the moment the bytes arrived.
func (r *reader) dispatch(p PDU) {
	ts := r.clock.Now()
	r.mu.Lock()
	r.framesReceived++
	r.mu.Unlock()

	if len(p.Payload) == 0 {
		log.WithField("prefix", r.logPrefix).Warn("[xcp][rx] empty PDU dropped")
		return
	}
	pid := p.Payload[0]
	switch {
	case pid >= byte(xcp.PIDResErr):
		r.mailbox.Deliver(p.Payload)
	case pid == byte(xcp.PIDEvent):
		if r.onEvent != nil {
			r.onEvent(p.Payload)
		}
	case pid == byte(xcp.PIDService):
		if r.policy != nil {
			r.policy.Feed(xcp.CategorySERV, p.Counter, ts, p.Payload)
		}
	default:
		if r.policy != nil {
			cat := xcp.Classify(pid, r.isStim(pid))
			r.policy.Feed(cat, p.Counter, ts, p.Payload)
		}
	}
}

func (r *reader) recordSent() {
	r.mu.Lock()
	r.framesSent++
	r.mu.Unlock()
}

// Sent and Received implement FrameCounters for Mailbox.Wait's timeout
// diagnostics.
func (r *reader) Sent() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.framesSent
}

func (r *reader) Received() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.framesReceived
}
