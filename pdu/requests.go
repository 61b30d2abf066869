// Package pdu builds and parses the byte-exact CTO payloads of every XCP
// service, aware of the slave's byte order and address granularity.
// This file builds outgoing CMD payloads; responses.go parses the
// corresponding RES/ERR payloads.
package pdu

import (
	"encoding/binary"

	"github.com/asamint/goxcp"
)

// Builder assembles request payloads for one session's byte order and
// address granularity.
type Builder struct {
	order ByteOrder
	ag    xcp.AddressGranularity
}

// ByteOrder is a small codec wrapping binary.ByteOrder selection, avoiding a
// per-call branch in every builder method.
type ByteOrder struct {
	binary.ByteOrder
}

// NewBuilder constructs a Builder for the given slave properties.
func NewBuilder(order xcp.ByteOrder, ag xcp.AddressGranularity) *Builder {
	bo := ByteOrder{binary.LittleEndian}
	if order == xcp.ByteOrderMotorola {
		bo.ByteOrder = binary.BigEndian
	}
	return &Builder{order: bo, ag: ag}
}

func (b *Builder) put16(dst []byte, v uint16) { b.order.PutUint16(dst, v) }
func (b *Builder) put32(dst []byte, v uint32) { b.order.PutUint32(dst, v) }

// Connect builds CONNECT(mode).
func (b *Builder) Connect(mode byte) []byte {
	return []byte{byte(xcp.CmdConnect), mode}
}

// Disconnect builds DISCONNECT.
func (b *Builder) Disconnect() []byte { return []byte{byte(xcp.CmdDisconnect)} }

// GetStatus builds GET_STATUS.
func (b *Builder) GetStatus() []byte { return []byte{byte(xcp.CmdGetStatus)} }

// Synch builds SYNCH.
func (b *Builder) Synch() []byte { return []byte{byte(xcp.CmdSynch)} }

// GetCommModeInfo builds GET_COMM_MODE_INFO.
func (b *Builder) GetCommModeInfo() []byte { return []byte{byte(xcp.CmdGetCommModeInfo)} }

// GetID builds GET_ID(mode).
func (b *Builder) GetID(idType byte) []byte {
	return []byte{byte(xcp.CmdGetID), idType, 0, 0}
}

// SetRequest builds SET_REQUEST(mode, sessionConfigID).
func (b *Builder) SetRequest(mode byte, sessionConfigID uint16) []byte {
	p := []byte{byte(xcp.CmdSetRequest), mode, 0, 0}
	b.put16(p[2:4], sessionConfigID)
	return p
}

// GetSeed builds GET_SEED(mode, resource).
func (b *Builder) GetSeed(mode byte, resource xcp.Resource) []byte {
	return []byte{byte(xcp.CmdGetSeed), mode, byte(resource)}
}

// Unlock builds UNLOCK(length, key) — key truncated/packed per call by the
// session if it exceeds one CTO.
func (b *Builder) Unlock(length byte, key []byte) []byte {
	p := make([]byte, 2+len(key))
	p[0], p[1] = byte(xcp.CmdUnlock), length
	copy(p[2:], key)
	return p
}

// SetMTA builds SET_MTA(address, addrExt).
func (b *Builder) SetMTA(address uint32, ext uint8) []byte {
	p := make([]byte, 8)
	p[0] = byte(xcp.CmdSetMTA)
	p[3] = ext
	b.put32(p[4:8], address)
	return p
}

// Upload builds UPLOAD(size).
func (b *Builder) Upload(size byte) []byte {
	return []byte{byte(xcp.CmdUpload), size}
}

// ShortUpload builds SHORT_UPLOAD(size, address, ext).
func (b *Builder) ShortUpload(size byte, address uint32, ext uint8) []byte {
	p := make([]byte, 8)
	p[0], p[1] = byte(xcp.CmdShortUpload), size
	p[3] = ext
	b.put32(p[4:8], address)
	return p
}

// BuildChecksum builds BUILD_CHECKSUM(blockSize).
func (b *Builder) BuildChecksum(blockSize uint32) []byte {
	p := make([]byte, 8)
	p[0] = byte(xcp.CmdBuildChecksum)
	b.put32(p[4:8], blockSize)
	return p
}

// TransportLayerCmd builds a TRANSPORT_LAYER_CMD(subCommand, payload).
func (b *Builder) TransportLayerCmd(sub byte, payload []byte) []byte {
	p := make([]byte, 2+len(payload))
	p[0], p[1] = byte(xcp.CmdTransportLayerCmd), sub
	copy(p[2:], payload)
	return p
}

// UserCmd builds USER_CMD(subCommand, payload).
func (b *Builder) UserCmd(sub byte, payload []byte) []byte {
	p := make([]byte, 2+len(payload))
	p[0], p[1] = byte(xcp.CmdUserCmd), sub
	copy(p[2:], payload)
	return p
}

// downloadHeader builds the common (cmd, size, [pad], data) layout shared
// by DOWNLOAD and DOWNLOAD_NEXT/MAX, inserting the granularity's alignment
// padding.
func (b *Builder) downloadHeader(cmd xcp.Command, size byte, data []byte) []byte {
	pad := b.ag.PadBytes()
	p := make([]byte, 2+pad+len(data))
	p[0], p[1] = byte(cmd), size
	copy(p[2+pad:], data)
	return p
}

// Download builds DOWNLOAD(size, data).
func (b *Builder) Download(size byte, data []byte) []byte {
	return b.downloadHeader(xcp.CmdDownload, size, data)
}

// DownloadNext builds DOWNLOAD_NEXT(size, data) — master-block-mode
// continuation frames.
func (b *Builder) DownloadNext(size byte, data []byte) []byte {
	return b.downloadHeader(xcp.CmdDownloadNext, size, data)
}

// DownloadMax builds DOWNLOAD_MAX(data), data exactly MAX_CTO-2-pad bytes.
func (b *Builder) DownloadMax(data []byte) []byte {
	pad := b.ag.PadBytes()
	p := make([]byte, 1+1+pad+len(data))
	p[0] = byte(xcp.CmdDownloadMax)
	copy(p[2+pad:], data)
	return p
}

// ShortDownload builds SHORT_DOWNLOAD(size, address, ext, data).
func (b *Builder) ShortDownload(size byte, address uint32, ext uint8, data []byte) []byte {
	p := make([]byte, 8+len(data))
	p[0], p[1] = byte(xcp.CmdShortDownload), size
	p[3] = ext
	b.put32(p[4:8], address)
	copy(p[8:], data)
	return p
}

// ModifyBits builds MODIFY_BITS(shift, andMask, xorMask).
func (b *Builder) ModifyBits(shift byte, andMask, xorMask uint16) []byte {
	p := make([]byte, 6)
	p[0], p[1] = byte(xcp.CmdModifyBits), shift
	b.put16(p[2:4], andMask)
	b.put16(p[4:6], xorMask)
	return p
}

// SetCalPage builds SET_CAL_PAGE(mode, segment, page).
func (b *Builder) SetCalPage(mode, segment, page byte) []byte {
	return []byte{byte(xcp.CmdSetCalPage), mode, segment, page}
}

// GetCalPage builds GET_CAL_PAGE(mode, segment).
func (b *Builder) GetCalPage(mode, segment byte) []byte {
	return []byte{byte(xcp.CmdGetCalPage), mode, segment}
}

// GetPagProcessorInfo builds GET_PAG_PROCESSOR_INFO.
func (b *Builder) GetPagProcessorInfo() []byte { return []byte{byte(xcp.CmdGetPagProcessorInfo)} }

// GetSegmentInfo builds GET_SEGMENT_INFO(mode, segment, mappingIndex, mappingAddrExt).
func (b *Builder) GetSegmentInfo(mode, segment, mappingIndex, mappingAddrExt byte) []byte {
	return []byte{byte(xcp.CmdGetSegmentInfo), mode, segment, mappingIndex, mappingAddrExt}
}

// GetPageInfo builds GET_PAGE_INFO(segment, page).
func (b *Builder) GetPageInfo(segment, page byte) []byte {
	return []byte{byte(xcp.CmdGetPageInfo), 0, segment, page}
}

// SetSegmentMode builds SET_SEGMENT_MODE(mode, segment).
func (b *Builder) SetSegmentMode(mode, segment byte) []byte {
	return []byte{byte(xcp.CmdSetSegmentMode), mode, segment}
}

// GetSegmentMode builds GET_SEGMENT_MODE(segment).
func (b *Builder) GetSegmentMode(segment byte) []byte {
	return []byte{byte(xcp.CmdGetSegmentMode), segment}
}

// CopyCalPage builds COPY_CAL_PAGE(srcSegment, srcPage, dstSegment, dstPage).
func (b *Builder) CopyCalPage(srcSegment, srcPage, dstSegment, dstPage byte) []byte {
	return []byte{byte(xcp.CmdCopyCalPage), srcSegment, srcPage, dstSegment, dstPage}
}

// ClearDaqList builds CLEAR_DAQ_LIST(daqListNumber).
func (b *Builder) ClearDaqList(daqList uint16) []byte {
	p := make([]byte, 4)
	p[0] = byte(xcp.CmdClearDaqList)
	b.put16(p[2:4], daqList)
	return p
}

// SetDaqPtr builds SET_DAQ_PTR(daqListNumber, odtNumber, odtEntryNumber).
func (b *Builder) SetDaqPtr(daqList uint16, odt, odtEntry byte) []byte {
	p := make([]byte, 6)
	p[0] = byte(xcp.CmdSetDaqPtr)
	b.put16(p[2:4], daqList)
	p[4], p[5] = odt, odtEntry
	return p
}

// WriteDaq builds WRITE_DAQ(bitOffset, size, address, ext).
func (b *Builder) WriteDaq(bitOffset, size byte, address uint32, ext uint8) []byte {
	p := make([]byte, 8)
	p[0], p[1], p[2] = byte(xcp.CmdWriteDaq), bitOffset, size
	p[3] = ext
	b.put32(p[4:8], address)
	return p
}

// WriteDaqMultiple builds WRITE_DAQ_MULTIPLE(entries) — up to 5 entries of
// (bitOffset, size, address, ext) packed into one CTO.
func (b *Builder) WriteDaqMultiple(entries []DaqEntry) []byte {
	p := make([]byte, 2+8*len(entries))
	p[0], p[1] = byte(xcp.CmdWriteDaqMultiple), byte(len(entries))
	for i, e := range entries {
		off := 2 + 8*i
		p[off], p[off+1] = e.BitOffset, e.Size
		p[off+3] = e.Ext
		b.put32(p[off+4:off+8], e.Address)
	}
	return p
}

// DaqEntry is one (bitOffset, size, address, ext) tuple for WriteDaqMultiple.
type DaqEntry struct {
	BitOffset, Size byte
	Address         uint32
	Ext             uint8
}

// SetDaqListMode builds SET_DAQ_LIST_MODE(mode, daqList, eventChannel, prescaler, priority).
func (b *Builder) SetDaqListMode(mode byte, daqList, eventChannel uint16, prescaler, priority byte) []byte {
	p := make([]byte, 8)
	p[0], p[1] = byte(xcp.CmdSetDaqListMode), mode
	b.put16(p[2:4], daqList)
	b.put16(p[4:6], eventChannel)
	p[6], p[7] = prescaler, priority
	return p
}

// GetDaqListMode builds GET_DAQ_LIST_MODE(daqList).
func (b *Builder) GetDaqListMode(daqList uint16) []byte {
	p := make([]byte, 4)
	p[0] = byte(xcp.CmdGetDaqListMode)
	b.put16(p[2:4], daqList)
	return p
}

// StartStopDaqList builds START_STOP_DAQ_LIST(mode, daqList).
func (b *Builder) StartStopDaqList(mode byte, daqList uint16) []byte {
	p := make([]byte, 4)
	p[0], p[1] = byte(xcp.CmdStartStopDaqList), mode
	b.put16(p[2:4], daqList)
	return p
}

// StartStopSynch builds START_STOP_SYNCH(mode).
func (b *Builder) StartStopSynch(mode byte) []byte {
	return []byte{byte(xcp.CmdStartStopSynch), mode}
}

// GetDaqClock builds GET_DAQ_CLOCK.
func (b *Builder) GetDaqClock() []byte { return []byte{byte(xcp.CmdGetDaqClock)} }

// ReadDaq builds READ_DAQ.
func (b *Builder) ReadDaq() []byte { return []byte{byte(xcp.CmdReadDaq)} }

// GetDaqProcessorInfo builds GET_DAQ_PROCESSOR_INFO.
func (b *Builder) GetDaqProcessorInfo() []byte { return []byte{byte(xcp.CmdGetDaqProcessorInfo)} }

// GetDaqResolutionInfo builds GET_DAQ_RESOLUTION_INFO.
func (b *Builder) GetDaqResolutionInfo() []byte { return []byte{byte(xcp.CmdGetDaqResolutionInfo)} }

// GetDaqListInfo builds GET_DAQ_LIST_INFO(daqList).
func (b *Builder) GetDaqListInfo(daqList uint16) []byte {
	p := make([]byte, 4)
	p[0] = byte(xcp.CmdGetDaqListInfo)
	b.put16(p[2:4], daqList)
	return p
}

// GetDaqEventInfo builds GET_DAQ_EVENT_INFO(eventChannel).
func (b *Builder) GetDaqEventInfo(eventChannel uint16) []byte {
	p := make([]byte, 4)
	p[0] = byte(xcp.CmdGetDaqEventInfo)
	b.put16(p[2:4], eventChannel)
	return p
}

// FreeDaq builds FREE_DAQ.
func (b *Builder) FreeDaq() []byte { return []byte{byte(xcp.CmdFreeDaq)} }

// AllocDaq builds ALLOC_DAQ(daqCount).
func (b *Builder) AllocDaq(daqCount uint16) []byte {
	p := make([]byte, 4)
	p[0] = byte(xcp.CmdAllocDaq)
	b.put16(p[2:4], daqCount)
	return p
}

// AllocOdt builds ALLOC_ODT(daqList, odtCount).
func (b *Builder) AllocOdt(daqList uint16, odtCount byte) []byte {
	p := make([]byte, 5)
	p[0] = byte(xcp.CmdAllocOdt)
	b.put16(p[2:4], daqList)
	p[4] = odtCount
	return p
}

// AllocOdtEntry builds ALLOC_ODT_ENTRY(daqList, odt, entryCount).
func (b *Builder) AllocOdtEntry(daqList uint16, odt, entryCount byte) []byte {
	p := make([]byte, 6)
	p[0] = byte(xcp.CmdAllocOdtEntry)
	b.put16(p[2:4], daqList)
	p[4], p[5] = odt, entryCount
	return p
}

// ProgramStart builds PROGRAM_START.
func (b *Builder) ProgramStart() []byte { return []byte{byte(xcp.CmdProgramStart)} }

// ProgramClear builds PROGRAM_CLEAR(mode, clearRange).
func (b *Builder) ProgramClear(mode byte, clearRange uint32) []byte {
	p := make([]byte, 8)
	p[0], p[1] = byte(xcp.CmdProgramClear), mode
	b.put32(p[4:8], clearRange)
	return p
}

// Program builds PROGRAM(size, data).
func (b *Builder) Program(size byte, data []byte) []byte {
	pad := b.ag.PadBytes()
	p := make([]byte, 2+pad+len(data))
	p[0], p[1] = byte(xcp.CmdProgram), size
	copy(p[2+pad:], data)
	return p
}

// ProgramReset builds PROGRAM_RESET.
func (b *Builder) ProgramReset() []byte { return []byte{byte(xcp.CmdProgramReset)} }

// GetPgmProcessorInfo builds GET_PGM_PROCESSOR_INFO.
func (b *Builder) GetPgmProcessorInfo() []byte { return []byte{byte(xcp.CmdGetPgmProcessorInfo)} }

// GetSectorInfo builds GET_SECTOR_INFO(mode, sectorNumber).
func (b *Builder) GetSectorInfo(mode, sectorNumber byte) []byte {
	return []byte{byte(xcp.CmdGetSectorInfo), mode, sectorNumber}
}

// ProgramPrepare builds PROGRAM_PREPARE(codeSize).
func (b *Builder) ProgramPrepare(codeSize uint16) []byte {
	p := make([]byte, 4)
	p[0] = byte(xcp.CmdProgramPrepare)
	b.put16(p[2:4], codeSize)
	return p
}

// ProgramFormat builds PROGRAM_FORMAT(compressionMethod, encryptionMethod, programmingMethod, accessMethod).
func (b *Builder) ProgramFormat(compression, encryption, programming, access byte) []byte {
	return []byte{byte(xcp.CmdProgramFormat), compression, encryption, programming, access}
}

// ProgramNext builds PROGRAM_NEXT(size, data).
func (b *Builder) ProgramNext(size byte, data []byte) []byte {
	pad := b.ag.PadBytes()
	p := make([]byte, 2+pad+len(data))
	p[0], p[1] = byte(xcp.CmdProgramNext), size
	copy(p[2+pad:], data)
	return p
}

// ProgramMax builds PROGRAM_MAX(data).
func (b *Builder) ProgramMax(data []byte) []byte {
	pad := b.ag.PadBytes()
	p := make([]byte, 2+pad+len(data))
	p[0] = byte(xcp.CmdProgramMax)
	copy(p[2+pad:], data)
	return p
}

// ProgramVerify builds PROGRAM_VERIFY(mode, verificationType, verificationValue).
func (b *Builder) ProgramVerify(mode byte, verificationType uint16, verificationValue uint32) []byte {
	p := make([]byte, 8)
	p[0], p[1] = byte(xcp.CmdProgramVerify), mode
	b.put16(p[2:4], verificationType)
	b.put32(p[4:8], verificationValue)
	return p
}

// Level2 builds a CmdLevel2-prefixed (sub, payload) extended service.
func (b *Builder) Level2(sub xcp.Level2SubCommand, payload []byte) []byte {
	p := make([]byte, 2+len(payload))
	p[0], p[1] = byte(xcp.CmdLevel2), byte(sub)
	copy(p[2:], payload)
	return p
}
