package xcp

import (
	"errors"
	"fmt"
)

// Error kinds returned by this module. Only XcpResponseError and
// XcpTimeoutError are recoverable, and only via the errhandler package;
// every other kind aborts the current operation and surfaces to the caller.

// FramingError means the on-wire byte stream could not be parsed. Fatal to
// the session.
type FramingError struct {
	Reason string
}

func (e *FramingError) Error() string { return "xcp: framing error: " + e.Reason }

// ChecksumError means a transport-level checksum (SxI) failed. Fatal to the
// session.
type ChecksumError struct {
	Expected, Got byte
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("xcp: checksum error: expected x%02x got x%02x", e.Expected, e.Got)
}

// XcpTimeoutError means no response arrived within the deadline. It carries
// enough diagnostics to explain the timeout without a repro: command name,
// frames sent/received, and transport-specific hints.
type XcpTimeoutError struct {
	Command        string
	FramesSent     uint64
	FramesReceived uint64
	Timeout        float64 // seconds
	Hints          []string
}

func (e *XcpTimeoutError) Error() string {
	msg := fmt.Sprintf(
		"xcp: command %s timed out after %.3gs (sent=%d received=%d)",
		e.Command, e.Timeout, e.FramesSent, e.FramesReceived,
	)
	for _, h := range e.Hints {
		msg += "; " + h
	}
	return msg
}

// XcpResponseError wraps a well-formed ERR response from the slave. It is
// handed to the errhandler package, which decides whether to recover.
type XcpResponseError struct {
	Command string
	Code    ErrorCode
}

func (e *XcpResponseError) Error() string {
	return fmt.Sprintf("xcp: %s rejected: %s", e.Command, e.Code)
}

// XcpProtocolError means the slave violated the protocol (wrong length,
// response counter mismatch, ...). Fatal.
type XcpProtocolError struct {
	Reason string
}

func (e *XcpProtocolError) Error() string { return "xcp: protocol error: " + e.Reason }

// PlanError means the DAQ planner could not fit a measurement.
type PlanError struct {
	Reason string
}

func (e *PlanError) Error() string { return "xcp: DAQ plan error: " + e.Reason }

// SeedNKeyError means key derivation failed or the library could not be
// loaded.
type SeedNKeyError struct {
	Reason string
}

func (e *SeedNKeyError) Error() string { return "xcp: seed-and-key error: " + e.Reason }

// ErrDisconnected is returned to any in-flight request when the transport
// is closed.
var ErrDisconnected = errors.New("xcp: transport disconnected")

// ErrIllegalArgument flags invalid arguments passed to a constructor or
// service method.
var ErrIllegalArgument = errors.New("xcp: error in function arguments")
