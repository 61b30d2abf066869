package xcp

// SlaveProperties is captured from the CONNECT response and subsequent
// capability queries. It is immutable for the lifetime of a session.
type SlaveProperties struct {
	ByteOrder          ByteOrder
	AddressGranularity AddressGranularity
	MaxCTO             uint8  // 1..255
	MaxDTO             uint16 // 1..65535
	PGM                bool
	STIM               bool
	DAQ                bool
	CalPag             bool
	Dbg                bool
	MasterBlockMode    bool
	SlaveBlockMode     bool
	MaxBS              uint8
	MinST              uint8
	ProtocolVersion    uint8
	TransportVersion   uint8
}

// MTA is the slave's current memory transfer address cursor. Mutated by
// SetMTA and implicitly advanced by Upload/Download family services.
type MTA struct {
	Address   uint32
	Extension uint8
}

// Advance moves the MTA forward by n bytes, as happens implicitly after a
// successful UPLOAD/DOWNLOAD transfer.
func (m *MTA) Advance(n uint32) {
	m.Address += n
}

// ResourceProtection tracks one locked/unlocked bit per protected resource,
// updated by responses to GET_STATUS and UNLOCK.
type ResourceProtection struct {
	CalPag bool
	Daq    bool
	Stim   bool
	Pgm    bool
	Dbg    bool
}

// Locked reports whether any bit in mask is currently protected.
func (p ResourceProtection) Locked(mask Resource) bool {
	if mask&ResourceCalPag != 0 && p.CalPag {
		return true
	}
	if mask&ResourceDaq != 0 && p.Daq {
		return true
	}
	if mask&ResourceStim != 0 && p.Stim {
		return true
	}
	if mask&ResourcePgm != 0 && p.Pgm {
		return true
	}
	if mask&ResourceDbg != 0 && p.Dbg {
		return true
	}
	return false
}

// ProtectionFromMask decodes a GET_STATUS/GET_SEED/UNLOCK protection byte.
func ProtectionFromMask(b byte) ResourceProtection {
	return ResourceProtection{
		CalPag: b&byte(ResourceCalPag) != 0,
		Daq:    b&byte(ResourceDaq) != 0,
		Stim:   b&byte(ResourceStim) != 0,
		Pgm:    b&byte(ResourcePgm) != 0,
		Dbg:    b&byte(ResourceDbg) != 0,
	}
}

// Measurement is one user-declared variable to acquire or stimulate.
type Measurement struct {
	Name     string
	Address  uint32
	Ext      uint8
	DataType DataType
}

// Length is sizeof(m.DataType).
func (m Measurement) Length() int { return m.DataType.Size() }

// End is the address one past the last byte of this measurement.
func (m Measurement) End() uint32 { return m.Address + uint32(m.Length()) }

// MemoryBlock is a contiguous run of components produced by the DAQ
// planner's coalesce pass. Invariant: Length == sum of Components' lengths,
// and Components are sorted by address with no overlap.
type MemoryBlock struct {
	Address    uint32
	Ext        uint8
	Length     int
	Components []Measurement
}

// End is the address one past the last byte of this block.
func (b MemoryBlock) End() uint32 { return b.Address + uint32(b.Length) }

// ODT (Object Description Table) is one packing bin produced by the
// planner. Invariant: sum of Entries' lengths <= Capacity.
type ODT struct {
	Capacity int
	Residual int
	Entries  []MemoryBlock
}

// Direction distinguishes a DAQ list (slave to master) from a STIM list
// (master to slave).
type Direction uint8

const (
	DirectionDAQ Direction = iota
	DirectionSTIM
)

// DaqList groups a set of measurements bound to one event channel.
type DaqList struct {
	Name              string
	EventChannel      uint16
	Direction         Direction
	EnableTimestamps  bool
	Prescaler         uint16
	Priority          uint8
	Measurements      []Measurement
	PlannedODTs       []ODT
	FirstPID          uint8 // assigned by the slave at START_STOP_DAQ_LIST(select)
}

// RecordedFrame is one entry appended by the recorder writer and replayed
// by the recorder reader.
type RecordedFrame struct {
	Category    FrameCategory
	Counter     uint16
	TimestampNs float64
	Payload     []byte
}
