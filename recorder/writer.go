package recorder

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/pierrec/lz4/v3"
	"golang.org/x/sys/unix"

	"github.com/asamint/goxcp"
)

const defaultChunkBytes = 256 * 1024

// WriterOptions configures a Writer.
type WriterOptions struct {
	// ChunkBytes is the uncompressed size threshold that triggers a flush
	// to a new container. Defaults to 256 KiB.
	ChunkBytes int
}

// Writer appends classified frames to an ".xmraw" file through a
// memory-mapped region, compressing and flushing once buffered records
// reach ChunkBytes. Memory use is bounded by ChunkBytes plus the mmap
// window, independent of how long the recording runs.
type Writer struct {
	file   *os.File
	mmap   []byte
	size   int64 // current mmap/file size
	offset int64 // next write position

	chunkBytes int
	pending    []byte // buffered uncompressed record bytes
	pendingN   uint32

	numContainers    uint32
	recordCount      uint32
	sizeCompressed   uint32
	sizeUncompressed uint32
}

// NewWriter creates (or truncates) path and pre-allocates its initial
// memory-mapped region.
func NewWriter(path string, opts WriterOptions) (*Writer, error) {
	chunkBytes := opts.ChunkBytes
	if chunkBytes <= 0 {
		chunkBytes = defaultChunkBytes
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("recorder: open %s: %w", path, err)
	}
	w := &Writer{file: f, chunkBytes: chunkBytes, offset: fileHeaderSize}
	initial := int64(fileHeaderSize + chunkBytes*2)
	if err := w.grow(initial); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

// grow extends the backing file and remaps it, preserving any already
// mapped bytes.
func (w *Writer) grow(newSize int64) error {
	if w.mmap != nil {
		if err := unix.Munmap(w.mmap); err != nil {
			return fmt.Errorf("recorder: munmap: %w", err)
		}
		w.mmap = nil
	}
	if err := w.file.Truncate(newSize); err != nil {
		return fmt.Errorf("recorder: truncate: %w", err)
	}
	m, err := unix.Mmap(int(w.file.Fd()), 0, int(newSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("recorder: mmap: %w", err)
	}
	w.mmap = m
	w.size = newSize
	return nil
}

func (w *Writer) ensureCapacity(extra int64) error {
	if w.offset+extra <= w.size {
		return nil
	}
	newSize := w.size * 2
	for newSize < w.offset+extra {
		newSize *= 2
	}
	return w.grow(newSize)
}

// Append buffers one classified frame, flushing the current chunk to a
// compressed container first if it's full.
func (w *Writer) Append(category xcp.FrameCategory, counter uint16, timestampNs float64, payload []byte) error {
	rec := make([]byte, recordHeaderSize+len(payload))
	rec[0] = byte(category)
	binary.LittleEndian.PutUint16(rec[1:3], counter)
	binary.LittleEndian.PutUint64(rec[3:11], math.Float64bits(timestampNs))
	binary.LittleEndian.PutUint32(rec[11:15], uint32(len(payload)))
	copy(rec[15:], payload)

	w.pending = append(w.pending, rec...)
	w.pendingN++
	if len(w.pending) >= w.chunkBytes {
		return w.flush()
	}
	return nil
}

// flush compresses the pending chunk and writes it as one container.
func (w *Writer) flush() error {
	if len(w.pending) == 0 {
		return nil
	}
	bound := lz4.CompressBlockBound(len(w.pending))
	compressed := make([]byte, bound)
	ht := make([]int, 64<<10)
	n, err := lz4.CompressBlock(w.pending, compressed, ht)
	if err != nil {
		return fmt.Errorf("recorder: compress: %w", err)
	}
	if n == 0 {
		// Incompressible: lz4.CompressBlock returns n==0 rather than
		// expanding the block; store it verbatim with SizeCompressed ==
		// SizeUncompressed as the reader's signal to skip decompression.
		compressed = append(compressed[:0], w.pending...)
		n = len(compressed)
	}
	compressed = compressed[:n]

	hdr := containerHeader{
		RecordCount:      w.pendingN,
		SizeCompressed:   uint32(n),
		SizeUncompressed: uint32(len(w.pending)),
	}
	total := int64(containerHeaderSize + n)
	if err := w.ensureCapacity(total); err != nil {
		return err
	}
	copy(w.mmap[w.offset:], hdr.encode())
	copy(w.mmap[w.offset+containerHeaderSize:], compressed)
	w.offset += total

	w.numContainers++
	w.recordCount += w.pendingN
	w.sizeCompressed += uint32(n)
	w.sizeUncompressed += uint32(len(w.pending))
	w.pending = w.pending[:0]
	w.pendingN = 0
	return nil
}

// Close flushes any buffered records, patches the file header, and
// truncates the file to its exact used size.
func (w *Writer) Close() error {
	if err := w.flush(); err != nil {
		return err
	}
	hdr := fileHeader{
		HdrSize:          fileHeaderSize,
		Version:          fileVersion,
		NumContainers:    w.numContainers,
		RecordCount:      w.recordCount,
		SizeCompressed:   w.sizeCompressed,
		SizeUncompressed: w.sizeUncompressed,
	}
	copy(w.mmap[0:fileHeaderSize], hdr.encode())
	finalSize := w.offset
	if err := unix.Munmap(w.mmap); err != nil {
		w.file.Close()
		return fmt.Errorf("recorder: munmap: %w", err)
	}
	w.mmap = nil
	if err := w.file.Truncate(finalSize); err != nil {
		w.file.Close()
		return fmt.Errorf("recorder: final truncate: %w", err)
	}
	return w.file.Close()
}
