// Package xcp implements the master-side core of ASAM MCD-1 XCP: the
// transport framing, the command/session state machine, the error-recovery
// policy engine and the DAQ optimizer/recorder used by a host tool talking
// to an XCP slave (ECU).
//
// Sub-packages implement the individual subsystems; this package holds the
// types shared by all of them (slave properties, MTA, PDU categories,
// measurement/ODT layout) plus the PID and byte-order constants defined by
// ASAM XCP Part 2.
package xcp

// ByteOrder selects the multi-byte field encoding used by a slave, as
// reported in the CONNECT response.
type ByteOrder uint8

const (
	ByteOrderIntel    ByteOrder = iota // little-endian
	ByteOrderMotorola                 // big-endian
)

// AddressGranularity is the slave's natural word size for memory transfers.
type AddressGranularity uint8

const (
	AG1 AddressGranularity = 1
	AG2 AddressGranularity = 2
	AG4 AddressGranularity = 4
)

// PadBytes returns the number of alignment pad bytes inserted between the
// count/length field and the first data element in DOWNLOAD-family and
// PROGRAM-family commands.
func (ag AddressGranularity) PadBytes() int {
	switch ag {
	case AG2:
		return 1
	case AG4:
		return 3
	default:
		return 0
	}
}

// PID identifies the first byte of every received PDU.
type PID byte

const (
	PIDResOk    PID = 0xFF
	PIDResErr   PID = 0xFE
	PIDEvent    PID = 0xFD
	PIDService  PID = 0xFC
	PIDDAQLimit PID = 0xFC // anything below this PID is DAQ/STIM data
)

// EventCode is the second byte of an EVENT (PID 0xFD) PDU.
type EventCode byte

const (
	EvCmdPending EventCode = 0x01 // slow command in progress; reset deadline, don't abort
)

// FrameCategory tags every decoded PDU, driving routing to the acquisition
// policy.
type FrameCategory uint8

const (
	CategoryCMD FrameCategory = iota
	CategoryRESPONSE
	CategoryERROR
	CategoryEVENT
	CategorySERV
	CategoryDAQ
	CategorySTIM
	CategoryMETADATA
)

func (c FrameCategory) String() string {
	switch c {
	case CategoryCMD:
		return "CMD"
	case CategoryRESPONSE:
		return "RESPONSE"
	case CategoryERROR:
		return "ERROR"
	case CategoryEVENT:
		return "EVENT"
	case CategorySERV:
		return "SERV"
	case CategoryDAQ:
		return "DAQ"
	case CategorySTIM:
		return "STIM"
	case CategoryMETADATA:
		return "METADATA"
	default:
		return "UNKNOWN"
	}
}

// Classify assigns a FrameCategory to a raw PDU from its leading PID byte.
// isStim distinguishes a DAQ-range PID that belongs to a STIM list (master
// to slave) rather than a DAQ list (slave to master); callers that cannot
// tell the difference from the PID alone (stim lists are master-allocated)
// should pass false and rely on the DAQ decoder to reclassify.
func Classify(pid byte, isStim bool) FrameCategory {
	switch {
	case pid == byte(PIDResOk):
		return CategoryRESPONSE
	case pid == byte(PIDResErr):
		return CategoryERROR
	case pid == byte(PIDEvent):
		return CategoryEVENT
	case pid == byte(PIDService):
		return CategorySERV
	case isStim:
		return CategorySTIM
	default:
		return CategoryDAQ
	}
}
