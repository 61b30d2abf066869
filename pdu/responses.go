package pdu

import (
	"encoding/binary"
	"fmt"

	"github.com/asamint/goxcp"
)

// Parser decodes RES/ERR payloads using the same byte order as Builder.
type Parser struct {
	order binary.ByteOrder
}

// NewParser constructs a Parser for the given slave byte order.
func NewParser(order xcp.ByteOrder) *Parser {
	if order == xcp.ByteOrderMotorola {
		return &Parser{order: binary.BigEndian}
	}
	return &Parser{order: binary.LittleEndian}
}

// ParseError extracts the error code from an ERR response. Callers must
// verify payload[0] == PIDResErr before calling.
func ParseError(payload []byte) (xcp.ErrorCode, error) {
	if len(payload) < 2 {
		return 0, &xcp.XcpProtocolError{Reason: "ERR response shorter than 2 bytes"}
	}
	return xcp.ErrorCode(payload[1]), nil
}

// checkOk validates payload starts with PIDResOk and has at least minLen bytes.
func checkOk(payload []byte, minLen int) error {
	if len(payload) < 1 || payload[0] != byte(xcp.PIDResOk) {
		return &xcp.XcpProtocolError{Reason: "expected RES, got different PID"}
	}
	if len(payload) < minLen {
		return &xcp.XcpProtocolError{Reason: fmt.Sprintf("response too short: got %d want >= %d", len(payload), minLen)}
	}
	return nil
}

// ConnectResponse is the parsed CONNECT RES: the SlaveProperties
// subset reported at connect time.
type ConnectResponse struct {
	Resource        xcp.Resource
	ByteOrder       xcp.ByteOrder
	AG              xcp.AddressGranularity
	SlaveBlockMode  bool
	MaxCTO          uint8
	MaxDTO          uint16
	ProtocolVersion uint8
	TransportLayerVersion uint8
}

// Connect parses a CONNECT RES payload.
func (p *Parser) Connect(payload []byte) (*ConnectResponse, error) {
	if err := checkOk(payload, 8); err != nil {
		return nil, err
	}
	commModeBasic := payload[2]
	var ag xcp.AddressGranularity
	switch (commModeBasic >> 1) & 0x3 {
	case 0:
		ag = xcp.AG1
	case 1:
		ag = xcp.AG2
	case 2:
		ag = xcp.AG4
	default:
		ag = xcp.AG1
	}
	order := xcp.ByteOrderIntel
	if commModeBasic&0x01 != 0 {
		order = xcp.ByteOrderMotorola
	}
	r := &ConnectResponse{
		Resource:       xcp.Resource(payload[1]),
		ByteOrder:      order,
		AG:             ag,
		SlaveBlockMode: commModeBasic&0x40 != 0,
		MaxCTO:         payload[3],
	}
	r.MaxDTO = p.order.Uint16(payload[4:6])
	r.ProtocolVersion = payload[6]
	r.TransportLayerVersion = payload[7]
	return r, nil
}

// GetStatusResponse is the parsed GET_STATUS RES.
type GetStatusResponse struct {
	Protection   xcp.ResourceProtection
	ConfigID     uint16
	SessionState byte
}

func (p *Parser) GetStatus(payload []byte) (*GetStatusResponse, error) {
	if err := checkOk(payload, 6); err != nil {
		return nil, err
	}
	return &GetStatusResponse{
		SessionState: payload[1],
		Protection:   xcp.ProtectionFromMask(payload[2]),
		ConfigID:     p.order.Uint16(payload[4:6]),
	}, nil
}

// CommModeInfoResponse is the parsed GET_COMM_MODE_INFO RES.
type CommModeInfoResponse struct {
	Optional      byte
	MaxBS         uint8
	MinST         uint8
	QueueSize     uint8
	DriverVersion uint8
}

func (p *Parser) GetCommModeInfo(payload []byte) (*CommModeInfoResponse, error) {
	if err := checkOk(payload, 8); err != nil {
		return nil, err
	}
	return &CommModeInfoResponse{
		Optional:      payload[2],
		MaxBS:         payload[4],
		MinST:         payload[5],
		QueueSize:     payload[6],
		DriverVersion: payload[7],
	}, nil
}

// GetSeed parses a GET_SEED RES: (remainingLength, seedBytes...).
func (p *Parser) GetSeed(payload []byte) (remaining byte, seed []byte, err error) {
	if err := checkOk(payload, 2); err != nil {
		return 0, nil, err
	}
	return payload[1], payload[2:], nil
}

// Unlock parses an UNLOCK RES: current protection status.
func (p *Parser) Unlock(payload []byte) (xcp.ResourceProtection, error) {
	if err := checkOk(payload, 2); err != nil {
		return xcp.ResourceProtection{}, err
	}
	return xcp.ProtectionFromMask(payload[1]), nil
}

// Upload parses an UPLOAD/SHORT_UPLOAD RES: the raw data bytes that follow
// the PID.
func (p *Parser) Upload(payload []byte) ([]byte, error) {
	if err := checkOk(payload, 1); err != nil {
		return nil, err
	}
	return payload[1:], nil
}

// BuildChecksumResponse is the parsed BUILD_CHECKSUM RES.
type BuildChecksumResponse struct {
	ChecksumType byte
	Checksum     uint32
}

func (p *Parser) BuildChecksum(payload []byte) (*BuildChecksumResponse, error) {
	if err := checkOk(payload, 8); err != nil {
		return nil, err
	}
	return &BuildChecksumResponse{
		ChecksumType: payload[1],
		Checksum:     p.order.Uint32(payload[4:8]),
	}, nil
}

// GetIDResponse is the parsed GET_ID RES header; the identification string
// itself is fetched with a subsequent UPLOAD when Mode bit 0 is clear.
type GetIDResponse struct {
	Mode   byte
	Length uint32
}

func (p *Parser) GetID(payload []byte) (*GetIDResponse, error) {
	if err := checkOk(payload, 8); err != nil {
		return nil, err
	}
	return &GetIDResponse{Mode: payload[1], Length: p.order.Uint32(payload[4:8])}, nil
}

// DaqProcessorInfoResponse is the parsed GET_DAQ_PROCESSOR_INFO RES.
type DaqProcessorInfoResponse struct {
	Properties     byte
	MaxDaq         uint16
	MaxEventChannel uint16
	MinDaq         uint8
	DaqKeyByte     byte
}

func (p *Parser) GetDaqProcessorInfo(payload []byte) (*DaqProcessorInfoResponse, error) {
	if err := checkOk(payload, 8); err != nil {
		return nil, err
	}
	return &DaqProcessorInfoResponse{
		Properties:      payload[1],
		MaxDaq:          p.order.Uint16(payload[2:4]),
		MaxEventChannel: p.order.Uint16(payload[4:6]),
		MinDaq:          payload[6],
		DaqKeyByte:      payload[7],
	}, nil
}

// DaqResolutionInfoResponse is the parsed GET_DAQ_RESOLUTION_INFO RES.
type DaqResolutionInfoResponse struct {
	GranularityOdtEntrySizeDaq uint8
	MaxOdtEntrySizeDaq         uint8
	GranularityOdtEntrySizeStim uint8
	MaxOdtEntrySizeStim        uint8
	TimestampMode              byte
	TimestampTicks             uint16
}

func (p *Parser) GetDaqResolutionInfo(payload []byte) (*DaqResolutionInfoResponse, error) {
	if err := checkOk(payload, 8); err != nil {
		return nil, err
	}
	return &DaqResolutionInfoResponse{
		GranularityOdtEntrySizeDaq:  payload[1],
		MaxOdtEntrySizeDaq:          payload[2],
		GranularityOdtEntrySizeStim: payload[3],
		MaxOdtEntrySizeStim:         payload[4],
		TimestampMode:               payload[5],
		TimestampTicks:              p.order.Uint16(payload[6:8]),
	}, nil
}

// GetDaqListModeResponse is the parsed GET_DAQ_LIST_MODE RES.
type GetDaqListModeResponse struct {
	Mode         byte
	EventChannel uint16
	Prescaler    byte
	Priority     byte
}

func (p *Parser) GetDaqListMode(payload []byte) (*GetDaqListModeResponse, error) {
	if err := checkOk(payload, 7); err != nil {
		return nil, err
	}
	return &GetDaqListModeResponse{
		Mode:         payload[1],
		EventChannel: p.order.Uint16(payload[4:6]),
		Prescaler:    payload[6],
	}, nil
}

// GetDaqClockResponse is the parsed GET_DAQ_CLOCK RES (basic, non-extended).
type GetDaqClockResponse struct {
	Timestamp uint32
}

func (p *Parser) GetDaqClock(payload []byte) (*GetDaqClockResponse, error) {
	if err := checkOk(payload, 8); err != nil {
		return nil, err
	}
	return &GetDaqClockResponse{Timestamp: p.order.Uint32(payload[4:8])}, nil
}

// Alloc validates an ALLOC_DAQ/ALLOC_ODT/ALLOC_ODT_ENTRY RES, all of
// which carry no payload beyond the PID.
func (p *Parser) Alloc(payload []byte) error { return checkOk(payload, 1) }

// GetSegmentInfoResponse is the parsed GET_SEGMENT_INFO RES (mode 0 form).
type GetSegmentInfoResponse struct {
	MaxPages    byte
	AddrExtension byte
	MaxMapping  byte
	Compression byte
	Encryption  byte
}

func (p *Parser) GetSegmentInfo(payload []byte) (*GetSegmentInfoResponse, error) {
	if err := checkOk(payload, 8); err != nil {
		return nil, err
	}
	return &GetSegmentInfoResponse{
		MaxPages:      payload[3],
		AddrExtension: payload[4],
		MaxMapping:    payload[5],
		Compression:   payload[6],
		Encryption:    payload[7],
	}, nil
}

// GetPageInfoResponse is the parsed GET_PAGE_INFO RES.
type GetPageInfoResponse struct {
	Properties byte
	InitSegment byte
}

func (p *Parser) GetPageInfo(payload []byte) (*GetPageInfoResponse, error) {
	if err := checkOk(payload, 3); err != nil {
		return nil, err
	}
	return &GetPageInfoResponse{Properties: payload[1], InitSegment: payload[2]}, nil
}

// GetCalPageResponse is the parsed GET_CAL_PAGE RES.
type GetCalPageResponse struct {
	LogicalPage byte
}

func (p *Parser) GetCalPage(payload []byte) (*GetCalPageResponse, error) {
	if err := checkOk(payload, 3); err != nil {
		return nil, err
	}
	return &GetCalPageResponse{LogicalPage: payload[2]}, nil
}

// ProgramStartResponse is the parsed PROGRAM_START RES.
type ProgramStartResponse struct {
	CommModePgm byte
	MaxCTOPgm   byte
	MaxBSPgm    byte
	MinSTPgm    byte
}

func (p *Parser) ProgramStart(payload []byte) (*ProgramStartResponse, error) {
	if err := checkOk(payload, 7); err != nil {
		return nil, err
	}
	return &ProgramStartResponse{
		CommModePgm: payload[2],
		MaxCTOPgm:   payload[3],
		MaxBSPgm:    payload[5],
		MinSTPgm:    payload[6],
	}, nil
}

// GetSectorInfoResponse is the parsed GET_SECTOR_INFO RES.
type GetSectorInfoResponse struct {
	ClearSequenceNumber byte
	ProgramSequenceNumber byte
	ProgrammingMethod   byte
	SectorSize          uint32
	SectorNumber        byte
}

func (p *Parser) GetSectorInfo(payload []byte) (*GetSectorInfoResponse, error) {
	if err := checkOk(payload, 8); err != nil {
		return nil, err
	}
	return &GetSectorInfoResponse{
		ClearSequenceNumber:   payload[1],
		ProgramSequenceNumber: payload[2],
		ProgrammingMethod:     payload[3],
		SectorSize:            p.order.Uint32(payload[4:8]),
	}, nil
}
