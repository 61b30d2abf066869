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

// Reader replays an ".xmraw" file written by Writer, memory-mapping it
// read-only and decompressing one container at a time.
type Reader struct {
	file *os.File
	mmap []byte
	hdr  fileHeader
}

// Open memory-maps path and validates its file header.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("recorder: open %s: %w", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if st.Size() < fileHeaderSize {
		f.Close()
		return nil, errMalformed("file shorter than its header")
	}
	m, err := unix.Mmap(int(f.Fd()), 0, int(st.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("recorder: mmap: %w", err)
	}
	hdr, err := decodeFileHeader(m)
	if err != nil {
		unix.Munmap(m)
		f.Close()
		return nil, err
	}
	return &Reader{file: f, mmap: m, hdr: hdr}, nil
}

// RecordCount is the total number of records the header advertises.
func (r *Reader) RecordCount() uint32 { return r.hdr.RecordCount }

// Close unmaps and closes the underlying file.
func (r *Reader) Close() error {
	if err := unix.Munmap(r.mmap); err != nil {
		r.file.Close()
		return err
	}
	return r.file.Close()
}

// Iterator yields RecordedFrames in write order.
type Iterator struct {
	r        *Reader
	offset   int
	chunk    []byte // current container's decompressed records
	chunkPos int
}

// Iter starts a fresh replay from the beginning of the file.
func (r *Reader) Iter() *Iterator {
	return &Iterator{r: r, offset: fileHeaderSize}
}

// Next returns the next record, or ok==false once every container has been
// consumed.
func (it *Iterator) Next() (xcp.RecordedFrame, bool, error) {
	for {
		if it.chunkPos < len(it.chunk) {
			return it.decodeRecord()
		}
		if it.offset >= len(it.r.mmap) {
			return xcp.RecordedFrame{}, false, nil
		}
		if err := it.loadContainer(); err != nil {
			return xcp.RecordedFrame{}, false, err
		}
	}
}

func (it *Iterator) loadContainer() error {
	m := it.r.mmap
	if it.offset+containerHeaderSize > len(m) {
		it.offset = len(m)
		return nil
	}
	ch, err := decodeContainerHeader(m[it.offset:])
	if err != nil {
		return err
	}
	start := it.offset + containerHeaderSize
	end := start + int(ch.SizeCompressed)
	if end > len(m) {
		return errMalformed("container payload extends past end of file")
	}
	compressed := m[start:end]
	uncompressed := make([]byte, ch.SizeUncompressed)
	if ch.SizeCompressed == ch.SizeUncompressed {
		copy(uncompressed, compressed)
	} else {
		n, err := lz4.UncompressBlock(compressed, uncompressed)
		if err != nil {
			return fmt.Errorf("recorder: decompress: %w", err)
		}
		uncompressed = uncompressed[:n]
	}
	it.chunk = uncompressed
	it.chunkPos = 0
	it.offset = end
	return nil
}

func (it *Iterator) decodeRecord() (xcp.RecordedFrame, bool, error) {
	b := it.chunk[it.chunkPos:]
	if len(b) < recordHeaderSize {
		return xcp.RecordedFrame{}, false, errMalformed("truncated record header")
	}
	category := xcp.FrameCategory(b[0])
	counter := binary.LittleEndian.Uint16(b[1:3])
	tsNs := math.Float64frombits(binary.LittleEndian.Uint64(b[3:11]))
	length := binary.LittleEndian.Uint32(b[11:15])
	if uint32(len(b)-recordHeaderSize) < length {
		return xcp.RecordedFrame{}, false, errMalformed("truncated record payload")
	}
	payload := append([]byte(nil), b[recordHeaderSize:recordHeaderSize+int(length)]...)
	it.chunkPos += recordHeaderSize + int(length)
	return xcp.RecordedFrame{
		Category:    category,
		Counter:     counter,
		TimestampNs: tsNs,
		Payload:     payload,
	}, true, nil
}

// Table is a columnar materialization of a recording, convenient for
// downstream conversion (CSV/HDF5/MDF/Arrow) without re-walking the
// iterator.
type Table struct {
	Categories   []xcp.FrameCategory
	Counters     []uint16
	TimestampsNs []float64
	Payloads     [][]byte
}

// AsTable drains an Iterator into a Table.
func AsTable(it *Iterator) (*Table, error) {
	t := &Table{}
	for {
		rec, ok, err := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return t, nil
		}
		t.Categories = append(t.Categories, rec.Category)
		t.Counters = append(t.Counters, rec.Counter)
		t.TimestampsNs = append(t.TimestampsNs, rec.TimestampNs)
		t.Payloads = append(t.Payloads, rec.Payload)
	}
}
