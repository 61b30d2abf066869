// Package session implements the master session: one XCP slave connection,
// holding SlaveProperties/MTA/ResourceProtection and exposing one method per
// service. It drives pdu for byte-exact encode/decode, transport.Channel for
// the wire, and errhandler for response-error recovery, holding the channel
// in a field and exposing block-mode convenience methods on top of the
// raw segmented protocol.
package session

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/rs/xid"

	"github.com/asamint/goxcp"
	"github.com/asamint/goxcp/errhandler"
	"github.com/asamint/goxcp/pdu"
	"github.com/asamint/goxcp/seedkey"
	"github.com/asamint/goxcp/transport"
)

const defaultTimeout = 2 * time.Second

// channelCounters adapts transport.Channel's FramesSent/FramesReceived to
// the Sent/Received names transport.FrameCounters expects.
type channelCounters struct{ ch transport.Channel }

func (c channelCounters) Sent() uint64     { return c.ch.FramesSent() }
func (c channelCounters) Received() uint64 { return c.ch.FramesReceived() }

// Session is a single master/slave connection. Not safe for concurrent use
// by multiple goroutines issuing requests at once — the protocol allows one
// command in flight at a time — but independent Sessions (one per slave)
// run concurrently without interference.
type Session struct {
	id      string
	channel transport.Channel
	timeout time.Duration

	builder *pdu.Builder
	parser  *pdu.Parser

	properties xcp.SlaveProperties
	mta        xcp.MTA
	protection xcp.ResourceProtection

	lastDaqList, lastOdt, lastOdtEntry uint16
	haveDaqPtr                         bool

	deriver    seedkey.Deriver
	handler    *errhandler.Handler
	maxRetries int
}

// Option configures a Session at construction time.
type Option func(*Session)

// WithDeriver installs the seed-and-key driver used by CondUnlock.
func WithDeriver(d seedkey.Deriver) Option { return func(s *Session) { s.deriver = d } }

// WithMaxRetries overrides REPEAT_INF_TIMES's retry budget (see errhandler.New).
func WithMaxRetries(n int) Option { return func(s *Session) { s.maxRetries = n } }

// WithErrorTable replaces the default recovery table.
func WithErrorTable(t errhandler.Table) Option {
	return func(s *Session) { s.handler = errhandler.New(t, s.maxRetries) }
}

// New constructs a Session over an already-constructed transport channel.
// Connect must be called before any other service.
func New(ch transport.Channel, opts ...Option) *Session {
	s := &Session{
		id:         xid.New().String(),
		channel:    ch,
		timeout:    defaultTimeout,
		maxRetries: 3,
		// Byte order/AG are unknown until CONNECT responds; Intel/AG1 is a
		// harmless placeholder since only Connect itself uses it before
		// negotiation completes.
		builder: pdu.NewBuilder(xcp.ByteOrderIntel, xcp.AG1),
		parser:  pdu.NewParser(xcp.ByteOrderIntel),
	}
	for _, o := range opts {
		o(s)
	}
	if s.handler == nil {
		s.handler = errhandler.New(errhandler.NewDefaultTable(), s.maxRetries)
	}
	return s
}

// ID returns the correlation id attached to this session's log lines. The
// session itself writes no recorder METADATA frames.
func (s *Session) ID() string { return s.id }

func (s *Session) logf(format string, args ...interface{}) {
	log.Debugf("[XCP][SESSION][%s] "+format, append([]interface{}{s.id}, args...)...)
}

// Properties returns the slave capabilities captured at Connect.
func (s *Session) Properties() xcp.SlaveProperties { return s.properties }

// Protection returns the most recently observed resource protection mask.
func (s *Session) Protection() xcp.ResourceProtection { return s.protection }

// perform sends one request and waits for its matching response, handing
// off to errhandler.Handler.Run for retry/recovery on a timeout or ERR
// response. Per-service methods build the request with Builder, call
// perform, then parse the RES payload with Parser.
func (s *Session) perform(ctx context.Context, cmd xcp.Command, request []byte) ([]byte, error) {
	attempt := func() ([]byte, error) {
		if err := s.channel.Send(request); err != nil {
			return nil, err
		}
		payload, err := s.channel.Mailbox().Wait(ctx, s.timeout, cmd.String(), channelCounters{s.channel})
		if err != nil {
			return nil, err
		}
		if len(payload) > 0 && payload[0] == byte(xcp.PIDResErr) {
			code, perr := pdu.ParseError(payload)
			if perr != nil {
				return nil, perr
			}
			return nil, &xcp.XcpResponseError{Command: cmd.String(), Code: code}
		}
		return payload, nil
	}
	return s.handler.Run(cmd, s, attempt)
}

// Connect performs the CONNECT service, negotiates byte order/address
// granularity, and captures SlaveProperties for the rest of the session.
func (s *Session) Connect(ctx context.Context, mode byte) error {
	if err := s.channel.Connect(ctx); err != nil {
		return fmt.Errorf("xcp: transport connect: %w", err)
	}
	req := pdu.NewBuilder(xcp.ByteOrderIntel, xcp.AG1).Connect(mode)
	payload, err := s.perform(ctx, xcp.CmdConnect, req)
	if err != nil {
		return err
	}
	res, err := pdu.NewParser(xcp.ByteOrderIntel).Connect(payload)
	if err != nil {
		return err
	}
	s.builder = pdu.NewBuilder(res.ByteOrder, res.AG)
	s.parser = pdu.NewParser(res.ByteOrder)
	s.properties = xcp.SlaveProperties{
		ByteOrder:          res.ByteOrder,
		AddressGranularity: res.AG,
		MaxCTO:             res.MaxCTO,
		MaxDTO:             res.MaxDTO,
		SlaveBlockMode:     res.SlaveBlockMode,
		ProtocolVersion:    res.ProtocolVersion,
		TransportVersion:   res.TransportLayerVersion,
	}
	s.logf("connected: byteOrder=%v ag=%d maxCTO=%d maxDTO=%d", res.ByteOrder, res.AG, res.MaxCTO, res.MaxDTO)
	return nil
}

// Disconnect performs DISCONNECT and closes the underlying channel.
func (s *Session) Disconnect(ctx context.Context) error {
	_, err := s.perform(ctx, xcp.CmdDisconnect, s.builder.Disconnect())
	if cerr := s.channel.Close(); err == nil {
		err = cerr
	}
	return err
}

// GetStatus performs GET_STATUS and updates the cached protection mask.
func (s *Session) GetStatus(ctx context.Context) (*pdu.GetStatusResponse, error) {
	payload, err := s.perform(ctx, xcp.CmdGetStatus, s.builder.GetStatus())
	if err != nil {
		return nil, err
	}
	res, err := s.parser.GetStatus(payload)
	if err != nil {
		return nil, err
	}
	s.protection = res.Protection
	return res, nil
}

// GetCommModeInfo performs GET_COMM_MODE_INFO.
func (s *Session) GetCommModeInfo(ctx context.Context) (*pdu.CommModeInfoResponse, error) {
	payload, err := s.perform(ctx, xcp.CmdGetCommModeInfo, s.builder.GetCommModeInfo())
	if err != nil {
		return nil, err
	}
	res, err := s.parser.GetCommModeInfo(payload)
	if err != nil {
		return nil, err
	}
	s.properties.MaxBS, s.properties.MinST = res.MaxBS, res.MinST
	s.properties.MasterBlockMode = res.Optional&0x01 != 0
	return res, nil
}

// IDType selects the encoding of the identification string returned by
// GET_ID (ASAM XCP Part 2, Table 13).
type IDType byte

const (
	IDTypeASCII        IDType = 0
	IDTypeFilename     IDType = 1
	IDTypeFilenamePath IDType = 2
	IDTypeURL          IDType = 3
	IDTypeEPK          IDType = 4
)

// GetID performs GET_ID(idType) and, when the slave doesn't report the
// identification inline (Mode bit 0 clear), follows up with an UPLOAD to
// fetch it.
func (s *Session) GetID(ctx context.Context, idType IDType) ([]byte, error) {
	payload, err := s.perform(ctx, xcp.CmdGetID, s.builder.GetID(byte(idType)))
	if err != nil {
		return nil, err
	}
	res, err := s.parser.GetID(payload)
	if err != nil {
		return nil, err
	}
	if res.Mode&0x01 != 0 {
		// Identification transferred inline in the remainder of this CTO.
		return payload[8:], nil
	}
	if res.Length == 0 {
		return nil, nil
	}
	return s.Fetch(ctx, int(res.Length))
}

// SetMTA performs SET_MTA(address, ext) and updates the cached cursor used
// by errhandler's RestoreMTA hook.
func (s *Session) SetMTA(ctx context.Context, address uint32, ext uint8) error {
	_, err := s.perform(ctx, xcp.CmdSetMTA, s.builder.SetMTA(address, ext))
	if err != nil {
		return err
	}
	s.mta = xcp.MTA{Address: address, Extension: ext}
	return nil
}

// Upload performs UPLOAD(size): reads size bytes starting at the current
// MTA, advancing it. For more than one CTO's worth of data, use Fetch.
func (s *Session) Upload(ctx context.Context, size byte) ([]byte, error) {
	payload, err := s.perform(ctx, xcp.CmdUpload, s.builder.Upload(size))
	if err != nil {
		return nil, err
	}
	data, err := s.parser.Upload(payload)
	if err != nil {
		return nil, err
	}
	s.mta.Advance(uint32(len(data)))
	return data, nil
}

// ShortUpload performs SHORT_UPLOAD(size, address, ext): reads size bytes
// without first calling SetMTA. Does not move the cached MTA cursor, since
// the slave's own MTA is untouched by this service.
func (s *Session) ShortUpload(ctx context.Context, size byte, address uint32, ext uint8) ([]byte, error) {
	payload, err := s.perform(ctx, xcp.CmdShortUpload, s.builder.ShortUpload(size, address, ext))
	if err != nil {
		return nil, err
	}
	return s.parser.Upload(payload)
}

// Download performs DOWNLOAD(size, data) for a single CTO's worth of data.
// For larger buffers, use Push.
func (s *Session) Download(ctx context.Context, data []byte) error {
	_, err := s.perform(ctx, xcp.CmdDownload, s.builder.Download(byte(len(data)), data))
	if err != nil {
		return err
	}
	s.mta.Advance(uint32(len(data)))
	return nil
}

// ShortDownload performs SHORT_DOWNLOAD(size, address, ext, data).
func (s *Session) ShortDownload(ctx context.Context, address uint32, ext uint8, data []byte) error {
	_, err := s.perform(ctx, xcp.CmdShortDownload, s.builder.ShortDownload(byte(len(data)), address, ext, data))
	return err
}

// Push splits data into DOWNLOAD + N*DOWNLOAD_NEXT (master block mode, when
// the slave advertised it) or a plain sequence of DOWNLOAD requests
// otherwise. In block mode every intermediate frame is fire-and-forget;
// only the final one is awaited.
func (s *Session) Push(ctx context.Context, data []byte) error {
	maxPayload := int(s.properties.MaxCTO) - 2 - s.properties.AddressGranularity.PadBytes()
	if maxPayload <= 0 {
		return &xcp.XcpProtocolError{Reason: "maxCTO too small for any DOWNLOAD payload"}
	}
	if !s.properties.MasterBlockMode {
		for len(data) > 0 {
			n := maxPayload
			if n > len(data) {
				n = len(data)
			}
			if err := s.Download(ctx, data[:n]); err != nil {
				return err
			}
			data = data[n:]
		}
		return nil
	}
	first := maxPayload
	if first > len(data) {
		first = len(data)
	}
	if first == len(data) {
		return s.Download(ctx, data)
	}
	if err := s.channel.Send(s.builder.Download(byte(first), data[:first])); err != nil {
		return err
	}
	s.mta.Advance(uint32(first))
	data = data[first:]
	for len(data) > 0 {
		n := maxPayload
		last := n >= len(data)
		if last {
			n = len(data)
		}
		chunk := data[:n]
		req := s.builder.DownloadNext(byte(n), chunk)
		if !last {
			if err := s.channel.Send(req); err != nil {
				return err
			}
		} else {
			if _, err := s.perform(ctx, xcp.CmdDownloadNext, req); err != nil {
				return err
			}
		}
		s.mta.Advance(uint32(n))
		data = data[n:]
	}
	return nil
}

// Fetch reads length bytes from the current MTA using UPLOAD in
// slave-block mode when the slave advertised support, falling back to a
// sequence of plain UPLOAD requests otherwise.
func (s *Session) Fetch(ctx context.Context, length int) ([]byte, error) {
	maxPayload := int(s.properties.MaxCTO) - 1
	if maxPayload <= 0 {
		return nil, &xcp.XcpProtocolError{Reason: "maxCTO too small for any UPLOAD payload"}
	}
	out := make([]byte, 0, length)
	if !s.properties.SlaveBlockMode {
		for len(out) < length {
			n := maxPayload
			if remaining := length - len(out); n > remaining {
				n = remaining
			}
			chunk, err := s.Upload(ctx, byte(n))
			if err != nil {
				return nil, err
			}
			out = append(out, chunk...)
		}
		return out, nil
	}
	for len(out) < length {
		n := maxPayload
		if remaining := length - len(out); n > remaining {
			n = remaining
		}
		req := s.builder.Upload(byte(n))
		if err := s.channel.Send(req); err != nil {
			return nil, err
		}
		raw, err := s.channel.BlockReceive(ctx, n)
		if err != nil {
			return nil, err
		}
		out = append(out, raw...)
	}
	s.mta.Advance(uint32(len(out)))
	return out, nil
}

// BuildChecksum performs BUILD_CHECKSUM(blockSize) over the block starting
// at the current MTA.
func (s *Session) BuildChecksum(ctx context.Context, blockSize uint32) (*pdu.BuildChecksumResponse, error) {
	payload, err := s.perform(ctx, xcp.CmdBuildChecksum, s.builder.BuildChecksum(blockSize))
	if err != nil {
		return nil, err
	}
	return s.parser.BuildChecksum(payload)
}

// getSeed performs one GET_SEED(mode, resource) call. mode 0 requests the
// first fragment, mode 1 requests the next.
func (s *Session) getSeed(ctx context.Context, mode byte, resource xcp.Resource) (remaining byte, seed []byte, err error) {
	payload, err := s.perform(ctx, xcp.CmdGetSeed, s.builder.GetSeed(mode, resource))
	if err != nil {
		return 0, nil, err
	}
	return s.parser.GetSeed(payload)
}

// unlock sends one UNLOCK(length, keyChunk) request.
func (s *Session) unlock(ctx context.Context, length byte, key []byte) (xcp.ResourceProtection, error) {
	payload, err := s.perform(ctx, xcp.CmdUnlock, s.builder.Unlock(length, key))
	if err != nil {
		return xcp.ResourceProtection{}, err
	}
	return s.parser.Unlock(payload)
}

// CondUnlock drives the full seed-and-key handshake for every resource in
// mask that is currently locked: fetch the (possibly fragmented) seed,
// invoke the configured Deriver, then UNLOCK in max_cto-2 chunks. Running
// it twice against an already-unlocked mask performs zero GET_SEED
// exchanges, since Locked filters them out up front.
func (s *Session) CondUnlock(ctx context.Context, mask xcp.Resource) error {
	if s.deriver == nil {
		return &xcp.SeedNKeyError{Reason: "no key deriver configured"}
	}
	for _, resource := range []xcp.Resource{xcp.ResourceCalPag, xcp.ResourceDaq, xcp.ResourceStim, xcp.ResourcePgm, xcp.ResourceDbg} {
		if mask&resource == 0 || !s.protection.Locked(resource) {
			continue
		}
		if err := s.unlockResource(ctx, resource); err != nil {
			return err
		}
	}
	return nil
}

// unlockResource runs one seed-and-key handshake for a single resource.
func (s *Session) unlockResource(ctx context.Context, mask xcp.Resource) error {
	var seed []byte
	remaining, frag, err := s.getSeed(ctx, 0, mask)
	if err != nil {
		return err
	}
	seed = append(seed, frag...)
	for remaining > 0 {
		remaining, frag, err = s.getSeed(ctx, 1, mask)
		if err != nil {
			return err
		}
		seed = append(seed, frag...)
	}
	key, err := s.deriver.ComputeKey(mask, seed)
	if err != nil {
		return err
	}
	chunk := int(s.properties.MaxCTO) - 2
	if chunk <= 0 {
		return &xcp.XcpProtocolError{Reason: "maxCTO too small for any UNLOCK payload"}
	}
	total := len(key)
	for offset := 0; offset < len(key); offset += chunk {
		end := offset + chunk
		if end > len(key) {
			end = len(key)
		}
		protection, err := s.unlock(ctx, byte(total), key[offset:end])
		if err != nil {
			return err
		}
		s.protection = protection
	}
	return nil
}

// SetCalPage performs SET_CAL_PAGE(mode, segment, page).
func (s *Session) SetCalPage(ctx context.Context, mode, segment, page byte) error {
	_, err := s.perform(ctx, xcp.CmdSetCalPage, s.builder.SetCalPage(mode, segment, page))
	return err
}

// GetCalPage performs GET_CAL_PAGE(mode, segment).
func (s *Session) GetCalPage(ctx context.Context, mode, segment byte) (*pdu.GetCalPageResponse, error) {
	payload, err := s.perform(ctx, xcp.CmdGetCalPage, s.builder.GetCalPage(mode, segment))
	if err != nil {
		return nil, err
	}
	return s.parser.GetCalPage(payload)
}

// CopyCalPage performs COPY_CAL_PAGE.
func (s *Session) CopyCalPage(ctx context.Context, srcSegment, srcPage, dstSegment, dstPage byte) error {
	_, err := s.perform(ctx, xcp.CmdCopyCalPage, s.builder.CopyCalPage(srcSegment, srcPage, dstSegment, dstPage))
	return err
}

// ClearDaqList performs CLEAR_DAQ_LIST(daqList).
func (s *Session) ClearDaqList(ctx context.Context, daqList uint16) error {
	_, err := s.perform(ctx, xcp.CmdClearDaqList, s.builder.ClearDaqList(daqList))
	return err
}

// SetDaqPtr performs SET_DAQ_PTR and caches the cursor for errhandler's
// RestoreDaqPtr hook.
func (s *Session) SetDaqPtr(ctx context.Context, daqList uint16, odt, odtEntry byte) error {
	_, err := s.perform(ctx, xcp.CmdSetDaqPtr, s.builder.SetDaqPtr(daqList, odt, odtEntry))
	if err != nil {
		return err
	}
	s.lastDaqList, s.lastOdt, s.lastOdtEntry = daqList, uint16(odt), uint16(odtEntry)
	s.haveDaqPtr = true
	return nil
}

// WriteDaq performs WRITE_DAQ for the ODT entry at the current DAQ pointer.
func (s *Session) WriteDaq(ctx context.Context, bitOffset, size byte, address uint32, ext uint8) error {
	_, err := s.perform(ctx, xcp.CmdWriteDaq, s.builder.WriteDaq(bitOffset, size, address, ext))
	return err
}

// WriteDaqMultiple performs WRITE_DAQ_MULTIPLE for up to five entries.
func (s *Session) WriteDaqMultiple(ctx context.Context, entries []pdu.DaqEntry) error {
	_, err := s.perform(ctx, xcp.CmdWriteDaqMultiple, s.builder.WriteDaqMultiple(entries))
	return err
}

// SetDaqListMode performs SET_DAQ_LIST_MODE.
func (s *Session) SetDaqListMode(ctx context.Context, mode byte, daqList, eventChannel uint16, prescaler, priority byte) error {
	_, err := s.perform(ctx, xcp.CmdSetDaqListMode, s.builder.SetDaqListMode(mode, daqList, eventChannel, prescaler, priority))
	return err
}

// GetDaqListMode performs GET_DAQ_LIST_MODE.
func (s *Session) GetDaqListMode(ctx context.Context, daqList uint16) (*pdu.GetDaqListModeResponse, error) {
	payload, err := s.perform(ctx, xcp.CmdGetDaqListMode, s.builder.GetDaqListMode(daqList))
	if err != nil {
		return nil, err
	}
	return s.parser.GetDaqListMode(payload)
}

// StartStopDaqList performs START_STOP_DAQ_LIST(mode, daqList).
func (s *Session) StartStopDaqList(ctx context.Context, mode byte, daqList uint16) error {
	_, err := s.perform(ctx, xcp.CmdStartStopDaqList, s.builder.StartStopDaqList(mode, daqList))
	return err
}

// StartStopSynch performs START_STOP_SYNCH(mode), the all-lists start/stop
// issued once every list has been individually armed via
// START_STOP_DAQ_LIST.
func (s *Session) StartStopSynch(ctx context.Context, mode byte) error {
	_, err := s.perform(ctx, xcp.CmdStartStopSynch, s.builder.StartStopSynch(mode))
	return err
}

// GetDaqClock performs GET_DAQ_CLOCK.
func (s *Session) GetDaqClock(ctx context.Context) (*pdu.GetDaqClockResponse, error) {
	payload, err := s.perform(ctx, xcp.CmdGetDaqClock, s.builder.GetDaqClock())
	if err != nil {
		return nil, err
	}
	return s.parser.GetDaqClock(payload)
}

// GetDaqProcessorInfo performs GET_DAQ_PROCESSOR_INFO.
func (s *Session) GetDaqProcessorInfo(ctx context.Context) (*pdu.DaqProcessorInfoResponse, error) {
	payload, err := s.perform(ctx, xcp.CmdGetDaqProcessorInfo, s.builder.GetDaqProcessorInfo())
	if err != nil {
		return nil, err
	}
	return s.parser.GetDaqProcessorInfo(payload)
}

// GetDaqResolutionInfo performs GET_DAQ_RESOLUTION_INFO.
func (s *Session) GetDaqResolutionInfo(ctx context.Context) (*pdu.DaqResolutionInfoResponse, error) {
	payload, err := s.perform(ctx, xcp.CmdGetDaqResolutionInfo, s.builder.GetDaqResolutionInfo())
	if err != nil {
		return nil, err
	}
	return s.parser.GetDaqResolutionInfo(payload)
}

// FreeDaq performs FREE_DAQ.
func (s *Session) FreeDaq(ctx context.Context) error {
	_, err := s.perform(ctx, xcp.CmdFreeDaq, s.builder.FreeDaq())
	return err
}

// AllocDaq performs ALLOC_DAQ(daqCount).
func (s *Session) AllocDaq(ctx context.Context, daqCount uint16) error {
	_, err := s.perform(ctx, xcp.CmdAllocDaq, s.builder.AllocDaq(daqCount))
	return err
}

// AllocOdt performs ALLOC_ODT(daqList, odtCount).
func (s *Session) AllocOdt(ctx context.Context, daqList uint16, odtCount byte) error {
	_, err := s.perform(ctx, xcp.CmdAllocOdt, s.builder.AllocOdt(daqList, odtCount))
	return err
}

// AllocOdtEntry performs ALLOC_ODT_ENTRY(daqList, odt, entryCount).
func (s *Session) AllocOdtEntry(ctx context.Context, daqList uint16, odt, entryCount byte) error {
	_, err := s.perform(ctx, xcp.CmdAllocOdtEntry, s.builder.AllocOdtEntry(daqList, odt, entryCount))
	return err
}

// ProgramStart performs PROGRAM_START, entering PGM resource mode.
func (s *Session) ProgramStart(ctx context.Context) (*pdu.ProgramStartResponse, error) {
	payload, err := s.perform(ctx, xcp.CmdProgramStart, s.builder.ProgramStart())
	if err != nil {
		return nil, err
	}
	return s.parser.ProgramStart(payload)
}

// ProgramClear performs PROGRAM_CLEAR(mode, clearRange).
func (s *Session) ProgramClear(ctx context.Context, mode byte, clearRange uint32) error {
	_, err := s.perform(ctx, xcp.CmdProgramClear, s.builder.ProgramClear(mode, clearRange))
	return err
}

// Program performs PROGRAM(size, data) for a single CTO's worth of data.
func (s *Session) Program(ctx context.Context, data []byte) error {
	_, err := s.perform(ctx, xcp.CmdProgram, s.builder.Program(byte(len(data)), data))
	return err
}

// ProgramReset performs PROGRAM_RESET, ending the programming session.
func (s *Session) ProgramReset(ctx context.Context) error {
	_, err := s.perform(ctx, xcp.CmdProgramReset, s.builder.ProgramReset())
	return err
}

// GetSectorInfo performs GET_SECTOR_INFO(mode, sectorNumber).
func (s *Session) GetSectorInfo(ctx context.Context, mode, sectorNumber byte) (*pdu.GetSectorInfoResponse, error) {
	payload, err := s.perform(ctx, xcp.CmdGetSectorInfo, s.builder.GetSectorInfo(mode, sectorNumber))
	if err != nil {
		return nil, err
	}
	return s.parser.GetSectorInfo(payload)
}

// GetSegmentInfo performs GET_SEGMENT_INFO(mode=0, segment, 0, 0).
func (s *Session) GetSegmentInfo(ctx context.Context, segment byte) (*pdu.GetSegmentInfoResponse, error) {
	payload, err := s.perform(ctx, xcp.CmdGetSegmentInfo, s.builder.GetSegmentInfo(0, segment, 0, 0))
	if err != nil {
		return nil, err
	}
	return s.parser.GetSegmentInfo(payload)
}

// GetPageInfo performs GET_PAGE_INFO(segment, page).
func (s *Session) GetPageInfo(ctx context.Context, segment, page byte) (*pdu.GetPageInfoResponse, error) {
	payload, err := s.perform(ctx, xcp.CmdGetPageInfo, s.builder.GetPageInfo(segment, page))
	if err != nil {
		return nil, err
	}
	return s.parser.GetPageInfo(payload)
}

// Describe returns a printable capability/protection summary, matching the
// diagnostic dump scripts ship with XCP tooling for a quick slave check.
func (s *Session) Describe() string {
	p := s.properties
	return fmt.Sprintf(
		"session %s: byteOrder=%v ag=%d maxCTO=%d maxDTO=%d masterBlock=%v slaveBlock=%v protocol=%d transport=%d protection={calpag:%v daq:%v stim:%v pgm:%v dbg:%v}",
		s.id, p.ByteOrder, p.AddressGranularity, p.MaxCTO, p.MaxDTO, p.MasterBlockMode, p.SlaveBlockMode,
		p.ProtocolVersion, p.TransportVersion,
		s.protection.CalPag, s.protection.Daq, s.protection.Stim, s.protection.Pgm, s.protection.Dbg,
	)
}

// --- errhandler.Hooks ---

// WaitT7 implements errhandler.Hooks.
func (s *Session) WaitT7() { errhandler.DefaultWait() }

// Synch performs SYNCH, used to resynchronize the command/response stream
// after a framing error. It also implements errhandler.Hooks, so errhandler
// can call it directly during recovery without going through perform/Run.
// Any reply at all (including an ERR_CMD_SYNCH, its by-design response)
// means the stream resynchronized enough to proceed.
func (s *Session) Synch() error {
	if err := s.channel.Send(s.builder.Synch()); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	_, err := s.channel.Mailbox().Wait(ctx, s.timeout, xcp.CmdSynch.String(), channelCounters{s.channel})
	_ = err
	return nil
}

// RestoreMTA implements errhandler.Hooks: re-sends SET_MTA with the last
// known cursor.
func (s *Session) RestoreMTA() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.SetMTA(ctx, s.mta.Address, s.mta.Extension)
}

// RestoreDaqPtr implements errhandler.Hooks: re-sends SET_DAQ_PTR with the
// last known cursor, if one was ever set.
func (s *Session) RestoreDaqPtr() error {
	if !s.haveDaqPtr {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.SetDaqPtr(ctx, s.lastDaqList, byte(s.lastOdt), byte(s.lastOdtEntry))
}

// UnlockSlave implements errhandler.Hooks: runs CondUnlock for every
// resource this session currently has a notion of (all capability bits),
// which CondUnlock reduces to the bits that are actually still locked.
func (s *Session) UnlockSlave() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	mask := xcp.ResourceCalPag | xcp.ResourceDaq | xcp.ResourceStim | xcp.ResourcePgm | xcp.ResourceDbg
	return s.CondUnlock(ctx, mask)
}

// ReinitDaq implements errhandler.Hooks. DAQ configuration is caller state,
// not session state, so there is nothing for the session itself to replay;
// the caller is expected to rebuild the list from its own DaqList after a
// DisplayError surfaces ErrDaqConfig.
func (s *Session) ReinitDaq() error { return nil }

// Redownload implements errhandler.Hooks. Like ReinitDaq, the payload being
// downloaded lives in the caller, not the session, so this hook re-sends
// nothing. For a DOWNLOAD_NEXT sequencing error the handler then repeats
// the same DOWNLOAD_NEXT once and returns the error if that attempt fails.
func (s *Session) Redownload() error { return nil }

// DisplayError implements errhandler.Hooks.
func (s *Session) DisplayError(err error) {
	log.WithField("session", s.id).WithError(err).Error("[XCP][SESSION] unrecovered error")
}

// handleEvent is the transport.EventHandler a caller should wire up via
// transport.New*Channel(..., onEvent: session.handleEvent, ...): it resets
// the in-flight request's deadline on EV_CMD_PENDING and ignores every
// other event code.
func (s *Session) handleEvent(payload []byte) {
	if len(payload) < 2 {
		return
	}
	if xcp.EventCode(payload[1]) == xcp.EvCmdPending {
		s.channel.Mailbox().ResetDeadline()
	}
}

// EventHandler exposes handleEvent for wiring into a transport constructor.
func (s *Session) EventHandler() transport.EventHandler { return s.handleEvent }

// SetTimeout overrides the per-request response timeout (default 2s).
func (s *Session) SetTimeout(d time.Duration) {
	s.timeout = d
	s.channel.SetTimeout(d)
}
