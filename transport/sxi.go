package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	serial "github.com/daedaluz/goserial"
	log "github.com/sirupsen/logrus"

	"github.com/asamint/goxcp"
	"github.com/asamint/goxcp/timestamp"
)

// SxI byte-stuffing control codes, only meaningful when SxiConfig.ByteStuffing
// is set.
const (
	sxiSync byte = 0x8D
	sxiEsc  byte = 0x8E
)

// SxiConfig selects the SxI header/tail layout: header
// length prefix selectable from {1,2} bytes, an optional counter field
// {0,1,2} bytes, an optional fill field, and an optional 1- or 2-byte tail
// checksum.
type SxiConfig struct {
	HeaderLenBytes    int // 1 or 2
	CounterBytes      int // 0, 1 or 2
	FillBytes         int
	TailChecksumBytes int // 0, 1 or 2
	ByteStuffing       bool
	BaudRate          uint32
}

// sxiHeader implements HeaderCodec against a configured layout.
type sxiHeader struct {
	cfg SxiConfig
}

func (h sxiHeader) HeaderLen() int { return h.cfg.HeaderLenBytes + h.cfg.CounterBytes + h.cfg.FillBytes }
func (h sxiHeader) TailLen() int   { return h.cfg.TailChecksumBytes }

func (h sxiHeader) EncodeHeader(payloadLen int, counter uint16) []byte {
	hdr := make([]byte, 0, h.HeaderLen())
	if h.cfg.HeaderLenBytes == 1 {
		hdr = append(hdr, byte(payloadLen))
	} else {
		hdr = append(hdr, byte(payloadLen), byte(payloadLen>>8))
	}
	switch h.cfg.CounterBytes {
	case 1:
		hdr = append(hdr, byte(counter))
	case 2:
		hdr = append(hdr, byte(counter), byte(counter>>8))
	}
	for i := 0; i < h.cfg.FillBytes; i++ {
		hdr = append(hdr, 0)
	}
	return hdr
}

func (h sxiHeader) DecodeHeader(hdr []byte) (int, uint16, error) {
	if len(hdr) < h.HeaderLen() {
		return 0, 0, &xcp.FramingError{Reason: "short SxI header"}
	}
	var payloadLen int
	var off int
	if h.cfg.HeaderLenBytes == 1 {
		payloadLen = int(hdr[0])
		off = 1
	} else {
		payloadLen = int(hdr[0]) | int(hdr[1])<<8
		off = 2
	}
	var counter uint16
	switch h.cfg.CounterBytes {
	case 1:
		counter = uint16(hdr[off])
	case 2:
		counter = uint16(hdr[off]) | uint16(hdr[off+1])<<8
	}
	return payloadLen, counter, nil
}

func (h sxiHeader) EncodeTail(frame []byte) []byte {
	if h.cfg.TailChecksumBytes == 0 {
		return nil
	}
	sum := checksum8(frame)
	if h.cfg.TailChecksumBytes == 1 {
		return []byte{sum}
	}
	s16 := checksum16(frame)
	return []byte{byte(s16), byte(s16 >> 8)}
}

func (h sxiHeader) VerifyTail(frame []byte) error {
	if h.cfg.TailChecksumBytes == 0 {
		return nil
	}
	body := frame[:len(frame)-h.cfg.TailChecksumBytes]
	tail := frame[len(frame)-h.cfg.TailChecksumBytes:]
	if h.cfg.TailChecksumBytes == 1 {
		got := checksum8(body)
		if got != tail[0] {
			return &xcp.ChecksumError{Expected: tail[0], Got: got}
		}
		return nil
	}
	got := checksum16(body)
	want := uint16(tail[0]) | uint16(tail[1])<<8
	if got != want {
		return &xcp.ChecksumError{Expected: byte(want), Got: byte(got)}
	}
	return nil
}

func checksum8(b []byte) byte {
	var s byte
	for _, c := range b {
		s += c
	}
	return s
}

func checksum16(b []byte) uint16 {
	var s uint16
	for _, c := range b {
		s += uint16(c)
	}
	return s
}

// stuff applies ESC/SYNC byte-stuffing: any SYNC or ESC byte occurring in
// the frame body is escaped so SYNC can unambiguously mark frame starts.
func stuff(frame []byte) []byte {
	out := make([]byte, 0, len(frame)+4)
	out = append(out, sxiSync)
	for _, b := range frame {
		if b == sxiSync || b == sxiEsc {
			out = append(out, sxiEsc)
		}
		out = append(out, b)
	}
	return out
}

// unstuff reverses stuff on a complete SYNC-delimited frame (sync byte
// already consumed by the caller).
func unstuff(in []byte) []byte {
	out := make([]byte, 0, len(in))
	for i := 0; i < len(in); i++ {
		if in[i] == sxiEsc && i+1 < len(in) {
			i++
		}
		out = append(out, in[i])
	}
	return out
}

// SxiChannel implements Channel over a serial port via daedaluz/goserial.
// Grounded on pkg/node/node.go's background-reader lifecycle, adapted from
// a CAN socket read loop to a termios-configured serial port.
type SxiChannel struct {
	port    *serial.Port
	cfg     SxiConfig
	header  sxiHeader
	framer  *StreamFramer
	reader  *reader
	timeout time.Duration

	wg        sync.WaitGroup
	exit      chan struct{}
	closeOnce sync.Once
}

// NewSxiChannel opens device (e.g. "/dev/ttyUSB0") with the given layout.
func NewSxiChannel(device string, cfg SxiConfig, policy PolicyFeed, onEvent EventHandler, clock timestamp.Clock) (*SxiChannel, error) {
	if clock == nil {
		clock = timestamp.New(timestamp.Relative)
	}
	port, err := serial.Open(device, serial.NewOptions().SetReadTimeout(100 * time.Millisecond))
	if err != nil {
		return nil, fmt.Errorf("xcp: sxi open %s: %w", device, err)
	}
	if err := port.MakeRaw(); err != nil {
		port.Close()
		return nil, fmt.Errorf("xcp: sxi raw mode: %w", err)
	}
	if attrs, aerr := port.GetAttr(); aerr == nil && cfg.BaudRate > 0 {
		attrs.SetSpeed(baudFlag(cfg.BaudRate))
		_ = port.SetAttr(serial.TCSANOW, attrs)
	}
	h := sxiHeader{cfg: cfg}
	return &SxiChannel{
		port:    port,
		cfg:     cfg,
		header:  h,
		framer:  NewStreamFramer(h, 0),
		reader:  newReader("sxi", clock, policy, onEvent),
		timeout: 2 * time.Second,
		exit:    make(chan struct{}),
	}, nil
}

// baudFlag maps a numeric baud rate onto the small set of termios CFlag
// constants goserial exposes; unrecognized rates fall back to B115200.
func baudFlag(rate uint32) serial.CFlag {
	switch rate {
	case 9600:
		return serial.B9600
	case 19200:
		return serial.B19200
	case 38400:
		return serial.B38400
	case 57600:
		return serial.B57600
	case 230400:
		return serial.B230400
	case 500000:
		return serial.B500000
	case 1000000:
		return serial.B1000000
	default:
		return serial.B115200
	}
}

func (c *SxiChannel) Connect(ctx context.Context) error {
	c.wg.Add(1)
	go c.readLoop()
	return nil
}

func (c *SxiChannel) readLoop() {
	defer c.wg.Done()
	buf := make([]byte, 1024)
	var pending []byte // raw bytes awaiting SYNC-delimiter resolution, stuffing mode only
	for {
		select {
		case <-c.exit:
			return
		default:
		}
		n, err := c.port.Read(buf)
		if err != nil {
			continue // read timeout is expected; any other error also just retries until exit
		}
		if n == 0 {
			continue
		}
		chunk := buf[:n]
		if c.cfg.ByteStuffing {
			pending = append(pending, chunk...)
			frames, rest := splitSyncFrames(pending)
			pending = rest
			for _, f := range frames {
				c.feedUnstuffed(unstuff(f))
			}
			continue
		}
		c.feedUnstuffed(chunk)
	}
}

func (c *SxiChannel) feedUnstuffed(chunk []byte) {
	pdus, err := c.framer.Feed(chunk)
	if err != nil {
		log.WithError(err).Warn("[xcp][sxi][rx] framing error")
		return
	}
	for _, p := range pdus {
		c.reader.dispatch(p)
	}
}

// splitSyncFrames extracts every complete SYNC..SYNC delimited frame from
// buf, returning the extracted frames (sync bytes stripped) and the
// remaining undelimited tail.
func splitSyncFrames(buf []byte) (frames [][]byte, rest []byte) {
	start := -1
	for i := 0; i < len(buf); i++ {
		if buf[i] == sxiEsc {
			i++ // the escaped byte is data, never a delimiter
			continue
		}
		if buf[i] != sxiSync {
			continue
		}
		if start == -1 {
			start = i
			continue
		}
		frames = append(frames, buf[start+1:i])
		start = i
	}
	if start == -1 {
		return frames, buf
	}
	return frames, buf[start:]
}

func (c *SxiChannel) Send(payload []byte) error {
	frame := c.framer.Frame(payload)
	if c.cfg.ByteStuffing {
		frame = stuff(frame)
	}
	if _, err := c.port.Write(frame); err != nil {
		return fmt.Errorf("xcp: sxi send: %w", err)
	}
	c.reader.recordSent()
	return nil
}

func (c *SxiChannel) BlockReceive(ctx context.Context, n int) ([]byte, error) {
	out := make([]byte, 0, n)
	for len(out) < n {
		payload, err := c.reader.mailbox.Wait(ctx, c.timeout, "BLOCK_RECEIVE", c.reader)
		if err != nil {
			return nil, err
		}
		out = append(out, payload[1:]...)
	}
	return out[:n], nil
}

func (c *SxiChannel) Close() error {
	c.closeOnce.Do(func() { close(c.exit) })
	err := c.port.Close()
	c.wg.Wait()
	return err
}

func (c *SxiChannel) Mailbox() *Mailbox          { return c.reader.mailbox }
func (c *SxiChannel) FramesSent() uint64         { return c.reader.Sent() }
func (c *SxiChannel) FramesReceived() uint64     { return c.reader.Received() }
func (c *SxiChannel) SetTimeout(d time.Duration) { c.timeout = d }
