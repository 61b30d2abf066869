// Package recorder implements the on-disk recording format: a chunked,
// LZ4-compressed ".xmraw" container log written via a memory-mapped file
// for O(1) amortized appends and bounded memory regardless of session
// duration.
//
// Combines golang.org/x/sys' unix.Mmap with pierrec/lz4/v3 block
// compression for a chunked-container log, the storage-tiering pattern
// used by systems that need to keep long-running append throughput off
// the allocator.
package recorder

import "encoding/binary"

const (
	magic       = "ASAMINT::XCP_RAW"
	fileVersion = 0x0100

	fileHeaderSize      = 40
	containerHeaderSize = 12
	recordHeaderSize    = 1 + 2 + 8 + 4 // category, counter, timestamp_ns, length
)

// fileHeader is the 40-byte little-endian file preamble.
type fileHeader struct {
	HdrSize          uint16
	Version          uint16
	Options          uint16
	_                uint16 // pad to align NumContainers on a 4-byte boundary
	NumContainers    uint32
	RecordCount      uint32
	SizeCompressed   uint32
	SizeUncompressed uint32
}

func (h fileHeader) encode() []byte {
	b := make([]byte, fileHeaderSize)
	copy(b[0:16], magic)
	binary.LittleEndian.PutUint16(b[16:18], h.HdrSize)
	binary.LittleEndian.PutUint16(b[18:20], h.Version)
	binary.LittleEndian.PutUint16(b[20:22], h.Options)
	binary.LittleEndian.PutUint32(b[24:28], h.NumContainers)
	binary.LittleEndian.PutUint32(b[28:32], h.RecordCount)
	binary.LittleEndian.PutUint32(b[32:36], h.SizeCompressed)
	binary.LittleEndian.PutUint32(b[36:40], h.SizeUncompressed)
	return b
}

func decodeFileHeader(b []byte) (fileHeader, error) {
	var h fileHeader
	if len(b) < fileHeaderSize || string(b[0:16]) != magic {
		return h, errMalformed("bad file header magic")
	}
	h.HdrSize = binary.LittleEndian.Uint16(b[16:18])
	h.Version = binary.LittleEndian.Uint16(b[18:20])
	h.Options = binary.LittleEndian.Uint16(b[20:22])
	h.NumContainers = binary.LittleEndian.Uint32(b[24:28])
	h.RecordCount = binary.LittleEndian.Uint32(b[28:32])
	h.SizeCompressed = binary.LittleEndian.Uint32(b[32:36])
	h.SizeUncompressed = binary.LittleEndian.Uint32(b[36:40])
	return h, nil
}

// containerHeader precedes each container's LZ4-block-compressed payload.
type containerHeader struct {
	RecordCount      uint32
	SizeCompressed   uint32
	SizeUncompressed uint32
}

func (h containerHeader) encode() []byte {
	b := make([]byte, containerHeaderSize)
	binary.LittleEndian.PutUint32(b[0:4], h.RecordCount)
	binary.LittleEndian.PutUint32(b[4:8], h.SizeCompressed)
	binary.LittleEndian.PutUint32(b[8:12], h.SizeUncompressed)
	return b
}

func decodeContainerHeader(b []byte) (containerHeader, error) {
	var h containerHeader
	if len(b) < containerHeaderSize {
		return h, errMalformed("truncated container header")
	}
	h.RecordCount = binary.LittleEndian.Uint32(b[0:4])
	h.SizeCompressed = binary.LittleEndian.Uint32(b[4:8])
	h.SizeUncompressed = binary.LittleEndian.Uint32(b[8:12])
	return h, nil
}

// errMalformed is the sentinel reason type for reader-side format errors.
type errMalformed string

func (e errMalformed) Error() string { return "recorder: " + string(e) }
