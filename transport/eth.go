package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/asamint/goxcp"
	"github.com/asamint/goxcp/timestamp"
)

// ethHeader implements HeaderCodec for the Ethernet layout:
// header (len: u16 LE, ctr: u16 LE), no tail. USB reuses it verbatim.
type ethHeader struct{}

func (ethHeader) HeaderLen() int { return 4 }
func (ethHeader) TailLen() int   { return 0 }

func (ethHeader) EncodeHeader(payloadLen int, counter uint16) []byte {
	hdr := make([]byte, 4)
	binary.LittleEndian.PutUint16(hdr[0:2], uint16(payloadLen))
	binary.LittleEndian.PutUint16(hdr[2:4], counter)
	return hdr
}

func (ethHeader) DecodeHeader(hdr []byte) (int, uint16, error) {
	if len(hdr) < 4 {
		return 0, 0, &xcp.FramingError{Reason: "short Ethernet header"}
	}
	return int(binary.LittleEndian.Uint16(hdr[0:2])), binary.LittleEndian.Uint16(hdr[2:4]), nil
}

func (ethHeader) EncodeTail([]byte) []byte    { return nil }
func (ethHeader) VerifyTail([]byte) error     { return nil }

// EthChannel implements Channel over TCP or UDP. Its reader-goroutine
// lifecycle (reader goroutine plus exit channel and WaitGroup) is adapted
// from a CAN bus read loop to a net.Conn read loop.
type EthChannel struct {
	conn    net.Conn
	framer  *StreamFramer
	reader  *reader
	timeout time.Duration

	wg        sync.WaitGroup
	exit      chan struct{}
	closeOnce sync.Once
}

// NewEthChannel dials addr ("tcp" or "udp" network) and wires a policy feed
// and event handler into the reader loop.
func NewEthChannel(network, addr string, policy PolicyFeed, onEvent EventHandler, clock timestamp.Clock) (*EthChannel, error) {
	if clock == nil {
		clock = timestamp.New(timestamp.Relative)
	}
	c := &EthChannel{
		framer:  NewStreamFramer(ethHeader{}, 0),
		reader:  newReader("eth", clock, policy, onEvent),
		timeout: 2 * time.Second,
		exit:    make(chan struct{}),
	}
	conn, err := net.Dial(network, addr)
	if err != nil {
		return nil, fmt.Errorf("xcp: eth dial %s %s: %w", network, addr, err)
	}
	c.conn = conn
	return c, nil
}

func (c *EthChannel) Connect(ctx context.Context) error {
	c.wg.Add(1)
	go c.readLoop()
	return nil
}

func (c *EthChannel) readLoop() {
	defer c.wg.Done()
	buf := make([]byte, 4096)
	for {
		select {
		case <-c.exit:
			return
		default:
		}
		n, err := c.conn.Read(buf)
		if err != nil {
			log.WithError(err).Debug("[xcp][eth][rx] connection closed")
			return
		}
		pdus, ferr := c.framer.Feed(buf[:n])
		if ferr != nil {
			log.WithError(ferr).Warn("[xcp][eth][rx] framing error")
			continue
		}
		for _, p := range pdus {
			c.reader.dispatch(p)
		}
	}
}

func (c *EthChannel) Send(payload []byte) error {
	frame := c.framer.Frame(payload)
	if _, err := c.conn.Write(frame); err != nil {
		return fmt.Errorf("xcp: eth send: %w", err)
	}
	c.reader.recordSent()
	return nil
}

func (c *EthChannel) BlockReceive(ctx context.Context, n int) ([]byte, error) {
	out := make([]byte, 0, n)
	for len(out) < n {
		payload, err := c.reader.mailbox.Wait(ctx, c.timeout, "BLOCK_RECEIVE", c.reader)
		if err != nil {
			return nil, err
		}
		out = append(out, payload[1:]...) // strip PID
	}
	return out[:n], nil
}

func (c *EthChannel) Close() error {
	c.closeOnce.Do(func() { close(c.exit) })
	err := c.conn.Close()
	c.wg.Wait()
	return err
}

func (c *EthChannel) Mailbox() *Mailbox        { return c.reader.mailbox }
func (c *EthChannel) FramesSent() uint64       { return c.reader.Sent() }
func (c *EthChannel) FramesReceived() uint64   { return c.reader.Received() }
func (c *EthChannel) SetTimeout(d time.Duration) { c.timeout = d }
