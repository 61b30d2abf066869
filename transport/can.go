package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/asamint/goxcp"
	xcpcan "github.com/asamint/goxcp/pkg/can"
	_ "github.com/asamint/goxcp/pkg/can/socketcan"
	"github.com/asamint/goxcp/timestamp"
)

// legalCanFDDLC are the lengths a CAN-FD controller will transmit; DLC is
// rounded up to the next one of these when FD is active. xcpcan.Frame.Data
// is fixed at 8 bytes (the classic-frame shape the socketcan backend
// carries verbatim), so only the first nine entries are actually reachable
// here — see the DESIGN.md note on CAN-FD payloads above 8 bytes.
var legalCanFDDLC = []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 12, 16, 20, 24, 32, 48, 64}

func roundCanFDLength(n int) int {
	for _, l := range legalCanFDDLC {
		if l >= n {
			return l
		}
	}
	return legalCanFDDLC[len(legalCanFDDLC)-1]
}

// CanConfig configures the CAN/CAN-FD transport.
type CanConfig struct {
	Interface      string // "socketcan"
	Channel        string // e.g. "can0"
	Bitrate        int
	FD             bool
	MaxDLCRequired bool  // pad every frame to the max DLC, per slave requirement
	PaddingValue   byte  // byte value used to pad short frames up to MaxDLCRequired
	MasterTxID     uint32
	SlaveRxID      uint32 // the ID this channel listens on
}

// CanChannel implements Channel directly against the pkg/can Bus interface:
// each CAN frame is exactly one PDU, with no header or tail, so it bypasses
// StreamFramer entirely.
type CanChannel struct {
	bus    xcpcan.Bus
	cfg    CanConfig
	reader *reader

	mu             sync.Mutex
	framesSent     uint64
	framesReceived uint64
	timeout        time.Duration
}

// NewCanChannel opens the named CAN interface/channel and wires the reader.
func NewCanChannel(cfg CanConfig, policy PolicyFeed, onEvent EventHandler, clock timestamp.Clock) (*CanChannel, error) {
	if clock == nil {
		clock = timestamp.New(timestamp.Relative)
	}
	bus, err := xcpcan.NewBus(cfg.Interface, cfg.Channel, cfg.Bitrate)
	if err != nil {
		return nil, fmt.Errorf("xcp: can bus %s/%s: %w", cfg.Interface, cfg.Channel, err)
	}
	c := &CanChannel{
		bus:     bus,
		cfg:     cfg,
		reader:  newReader("can", clock, policy, onEvent),
		timeout: 2 * time.Second,
	}
	return c, nil
}

func (c *CanChannel) Connect(ctx context.Context) error {
	if err := c.bus.Subscribe(c); err != nil {
		return fmt.Errorf("xcp: can subscribe: %w", err)
	}
	return c.bus.Connect()
}

// Handle implements xcpcan.FrameListener: strip padding before
// classification. XCP carries no length field of its own on CAN — a slave
// that pads every frame to the max DLC (MaxDLCRequired) fills the unused
// tail with a fixed byte (PaddingValue), so the real payload length is
// recovered by trimming trailing PaddingValue bytes rather than by reading
// one out of the frame. Padding must be stripped before the PDU is
// classified, or the pad bytes get misread as part of the payload.
func (c *CanChannel) Handle(frame xcpcan.Frame) {
	c.mu.Lock()
	c.framesReceived++
	c.mu.Unlock()

	payloadLen := int(frame.DLC)
	if c.cfg.MaxDLCRequired {
		for payloadLen > 0 && frame.Data[payloadLen-1] == c.cfg.PaddingValue {
			payloadLen--
		}
	}
	payload := append([]byte(nil), frame.Data[:payloadLen]...)
	// CAN has no frame counter field; synthesize one from the receive count
	// so downstream duplicate-detection and recording still have a key.
	c.reader.dispatch(PDU{Counter: uint16(c.reader.Received()), Payload: payload})
}

func (c *CanChannel) Send(payload []byte) error {
	dlc := len(payload)
	if c.cfg.FD {
		dlc = roundCanFDLength(dlc)
	}
	var data [8]byte
	if dlc > 8 {
		// Out of scope: xcpcan.Frame and the socketcan backend only carry a
		// classic 8-byte data field, so a CAN-FD payload that would need a
		// longer DLC is rejected here rather than silently truncated.
		return &xcp.FramingError{Reason: "CAN-FD payloads over 8 bytes are not supported by this transport"}
	}
	copy(data[:], payload)
	if c.cfg.MaxDLCRequired {
		for i := len(payload); i < len(data); i++ {
			data[i] = c.cfg.PaddingValue
		}
		dlc = len(data)
	}
	frame := xcpcan.NewFrame(c.cfg.MasterTxID, 0, uint8(dlc))
	frame.Data = data
	if err := c.bus.Send(frame); err != nil {
		return fmt.Errorf("xcp: can send: %w", err)
	}
	c.mu.Lock()
	c.framesSent++
	c.mu.Unlock()
	return nil
}

func (c *CanChannel) BlockReceive(ctx context.Context, n int) ([]byte, error) {
	out := make([]byte, 0, n)
	for len(out) < n {
		payload, err := c.reader.mailbox.Wait(ctx, c.timeout, "BLOCK_RECEIVE", c)
		if err != nil {
			return nil, err
		}
		out = append(out, payload[1:]...)
	}
	return out[:n], nil
}

func (c *CanChannel) Close() error { return c.bus.Disconnect() }

func (c *CanChannel) Mailbox() *Mailbox { return c.reader.mailbox }

func (c *CanChannel) Sent() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.framesSent
}

func (c *CanChannel) Received() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.framesReceived
}

func (c *CanChannel) FramesSent() uint64         { return c.Sent() }
func (c *CanChannel) FramesReceived() uint64     { return c.Received() }
func (c *CanChannel) SetTimeout(d time.Duration) { c.timeout = d }
