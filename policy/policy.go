// Package policy implements the acquisition policy: the single
// consumer interface every transport channel's reader loop feeds PDUs into.
package policy

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/asamint/goxcp"
)

// Policy is the consumer interface driven by the transport reader loop.
type Policy interface {
	Feed(category xcp.FrameCategory, counter uint16, timestampNs float64, payload []byte)
	Finalize()
}

// filterSet implements the shared filter_out bookkeeping every
// implementation embeds.
type filterSet struct {
	filterOut map[xcp.FrameCategory]bool
}

func newFilterSet(filterOut []xcp.FrameCategory) filterSet {
	m := make(map[xcp.FrameCategory]bool, len(filterOut))
	for _, c := range filterOut {
		m[c] = true
	}
	return filterSet{filterOut: m}
}

func (f filterSet) filtered(c xcp.FrameCategory) bool { return f.filterOut[c] }

// NoOp discards every fed frame. It is the correctness-critical default
// for DAQ runs that last hours: it guarantees O(1) memory regardless of
// run length.
type NoOp struct{ filterSet }

// NewNoOp constructs a NoOp policy, optionally filtering categories (though
// filtering has no observable effect since NoOp discards everything
// regardless).
func NewNoOp(filterOut ...xcp.FrameCategory) *NoOp {
	return &NoOp{newFilterSet(filterOut)}
}

func (n *NoOp) Feed(xcp.FrameCategory, uint16, float64, []byte) {}
func (n *NoOp) Finalize()                                       {}

// Frame is one item appended to a Queue.
type Frame struct {
	Category    xcp.FrameCategory
	Counter     uint16
	TimestampNs float64
	Payload     []byte
}

// Queue appends fed frames to bounded per-category ring buffers for the
// host application to drain with Drain. When a category's queue is full
// the oldest entry is evicted, never blocking the reader loop.
type Queue struct {
	filterSet
	capacity int
	queues   map[xcp.FrameCategory][]Frame
}

// NewQueue constructs a Queue with the given per-category capacity.
func NewQueue(capacity int, filterOut ...xcp.FrameCategory) *Queue {
	return &Queue{
		filterSet: newFilterSet(filterOut),
		capacity:  capacity,
		queues:    make(map[xcp.FrameCategory][]Frame),
	}
}

func (q *Queue) Feed(category xcp.FrameCategory, counter uint16, timestampNs float64, payload []byte) {
	if q.filtered(category) {
		return
	}
	f := Frame{Category: category, Counter: counter, TimestampNs: timestampNs, Payload: payload}
	queue := q.queues[category]
	queue = append(queue, f)
	if len(queue) > q.capacity {
		queue = queue[len(queue)-q.capacity:]
	}
	q.queues[category] = queue
}

func (q *Queue) Finalize() {}

// Drain removes and returns every currently queued frame for category.
func (q *Queue) Drain(category xcp.FrameCategory) []Frame {
	out := q.queues[category]
	q.queues[category] = nil
	return out
}

// Recorder delegates every fed frame to the recorder writer. Sink is
// defined here as a thin adapter so policy has no import dependency on the
// recorder package; callers construct it with any type satisfying Sink.
type Sink interface {
	Append(category xcp.FrameCategory, counter uint16, timestampNs float64, payload []byte) error
	Close() error
}

type Recorder struct {
	filterSet
	sink Sink
}

// NewRecorder wraps sink (typically *recorder.Writer) as a Policy.
func NewRecorder(sink Sink, filterOut ...xcp.FrameCategory) *Recorder {
	return &Recorder{filterSet: newFilterSet(filterOut), sink: sink}
}

func (r *Recorder) Feed(category xcp.FrameCategory, counter uint16, timestampNs float64, payload []byte) {
	if r.filtered(category) {
		return
	}
	if err := r.sink.Append(category, counter, timestampNs, payload); err != nil {
		log.WithError(err).Error("[xcp][policy][recorder] append failed")
	}
}

func (r *Recorder) Finalize() {
	if err := r.sink.Close(); err != nil {
		log.WithError(err).Error("[xcp][policy][recorder] close failed")
	}
}

// Stdout pretty-prints every fed frame, useful for interactive debugging.
type Stdout struct{ filterSet }

func NewStdout(filterOut ...xcp.FrameCategory) *Stdout {
	return &Stdout{newFilterSet(filterOut)}
}

func (s *Stdout) Feed(category xcp.FrameCategory, counter uint16, timestampNs float64, payload []byte) {
	if s.filtered(category) {
		return
	}
	fmt.Printf("[%9s] ctr=%-5d t=%14.0fns % x\n", category, counter, timestampNs, payload)
}

func (s *Stdout) Finalize() {}
