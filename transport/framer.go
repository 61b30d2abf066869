// Package transport implements the per-transport framing codec and the
// transport channel: it wraps CTO/DTO
// payloads into the on-wire layout required by each transport family,
// demultiplexes the resulting byte stream back into discrete PDUs, and
// drives a reader goroutine that classifies every emergent PDU.
package transport

import (
	"fmt"

	"github.com/asamint/goxcp"
)

// PDU is one fully reassembled protocol data unit together with the frame
// counter it arrived (or will be sent) under.
type PDU struct {
	Counter uint16
	Payload []byte
}

// HeaderCodec encodes/decodes the header+tail layout of one
// streaming transport family (Ethernet, USB, SxI). CAN/CAN-FD does not use
// a HeaderCodec since each CAN frame is already exactly one PDU.
type HeaderCodec interface {
	HeaderLen() int
	TailLen() int
	EncodeHeader(payloadLen int, counter uint16) []byte
	// DecodeHeader parses a header of HeaderLen() bytes.
	DecodeHeader(hdr []byte) (payloadLen int, counter uint16, err error)
	// EncodeTail computes the tail (e.g. checksum) for a complete
	// header+payload frame.
	EncodeTail(frame []byte) []byte
	// VerifyTail validates the tail of a complete header+payload+tail frame.
	VerifyTail(frame []byte) error
}

// StreamFramer is the generic reassembly engine shared by Ethernet, USB and
// SxI: it buffers arbitrary byte chunks and yields PDUs only once both the
// header and the declared payload length are available. No data is lost
// across chunk boundaries.
type StreamFramer struct {
	header       HeaderCodec
	buf          []byte
	outCounter   uint16
	maxFrameLen  int // malformed-length upper bound, set from slave maxCTO/maxDTO
	lastInCtr    uint16
	haveLastCtr  bool
}

// NewStreamFramer creates a framer for the given header/tail layout. maxFrameLen
// bounds the accepted payload length as a sanity check against a malformed
// length field; pass 0 before slave capabilities are known to accept any
// length up to 65535.
func NewStreamFramer(header HeaderCodec, maxFrameLen int) *StreamFramer {
	if maxFrameLen <= 0 {
		maxFrameLen = 65535
	}
	return &StreamFramer{header: header, maxFrameLen: maxFrameLen}
}

// SetMaxFrameLen updates the malformed-length bound once CONNECT has
// reported the slave's maxCTO/maxDTO.
func (f *StreamFramer) SetMaxFrameLen(n int) { f.maxFrameLen = n }

// Frame wraps payload into a fully framed outbound byte sequence, advancing
// the 16-bit outbound counter, which increments strictly monotonically
// modulo 2^16.
func (f *StreamFramer) Frame(payload []byte) []byte {
	ctr := f.outCounter
	f.outCounter++
	hdr := f.header.EncodeHeader(len(payload), ctr)
	frame := make([]byte, 0, len(hdr)+len(payload)+f.header.TailLen())
	frame = append(frame, hdr...)
	frame = append(frame, payload...)
	frame = append(frame, f.header.EncodeTail(frame)...)
	return frame
}

// Feed appends newly arrived bytes to the internal cursor and returns every
// PDU that became complete. Bytes belonging to a still-incomplete frame stay
// buffered for the next call.
func (f *StreamFramer) Feed(chunk []byte) ([]PDU, error) {
	f.buf = append(f.buf, chunk...)
	var out []PDU
	for {
		hlen := f.header.HeaderLen()
		if len(f.buf) < hlen {
			return out, nil
		}
		payloadLen, ctr, err := f.header.DecodeHeader(f.buf[:hlen])
		if err != nil {
			return out, err
		}
		if payloadLen <= 0 || payloadLen > f.maxFrameLen {
			return out, &xcp.FramingError{Reason: fmt.Sprintf("implausible payload length %d", payloadLen)}
		}
		total := hlen + payloadLen + f.header.TailLen()
		if len(f.buf) < total {
			return out, nil
		}
		frame := f.buf[:total]
		if err := f.header.VerifyTail(frame); err != nil {
			return out, err
		}
		if f.haveLastCtr && ctr == f.lastInCtr {
			// Duplicate retransmission: the slave may legally resend.
			// Drop silently, never a fatal error.
			f.buf = f.buf[total:]
			continue
		}
		f.lastInCtr, f.haveLastCtr = ctr, true
		payload := append([]byte(nil), frame[hlen:hlen+payloadLen]...)
		out = append(out, PDU{Counter: ctr, Payload: payload})
		f.buf = f.buf[total:]
	}
}
