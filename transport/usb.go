package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/gousb"
	log "github.com/sirupsen/logrus"

	"github.com/asamint/goxcp/timestamp"
)

// UsbChannel implements Channel over a bulk USB endpoint pair, reusing the
// Ethernet header layout since USB framing is identical. Its
// Connect/Send/readLoop shape is adapted from a CAN socket read loop to a
// USB bulk in/out endpoint pair.
type UsbChannel struct {
	ctx     *gousb.Context
	dev     *gousb.Device
	intf    *gousb.Interface
	done    func()
	in      *gousb.InEndpoint
	out     *gousb.OutEndpoint
	framer  *StreamFramer
	reader  *reader
	timeout time.Duration

	wg        sync.WaitGroup
	exit      chan struct{}
	closeOnce sync.Once
}

// UsbConfig identifies the endpoint to open. VID/PID select the device and
// InEndpoint/OutEndpoint the pipe. NewUsbChannel always claims the device's
// default interface (configuration 1, interface 0, alternate setting 0);
// Config, Interface and AltSetting are not read.
type UsbConfig struct {
	VID, PID               gousb.ID
	Config, Interface      int
	AltSetting             int
	InEndpoint, OutEndpoint int
}

// NewUsbChannel opens the device matching cfg and wires the reader loop.
func NewUsbChannel(cfg UsbConfig, policy PolicyFeed, onEvent EventHandler, clock timestamp.Clock) (*UsbChannel, error) {
	if clock == nil {
		clock = timestamp.New(timestamp.Relative)
	}
	usbCtx := gousb.NewContext()
	dev, err := usbCtx.OpenDeviceWithVIDPID(cfg.VID, cfg.PID)
	if err != nil {
		usbCtx.Close()
		return nil, fmt.Errorf("xcp: usb open %04x:%04x: %w", cfg.VID, cfg.PID, err)
	}
	if dev == nil {
		usbCtx.Close()
		return nil, fmt.Errorf("xcp: usb device %04x:%04x not found", cfg.VID, cfg.PID)
	}
	intf, done, err := dev.DefaultInterface()
	if err != nil {
		dev.Close()
		usbCtx.Close()
		return nil, fmt.Errorf("xcp: usb claim interface: %w", err)
	}
	in, err := intf.InEndpoint(cfg.InEndpoint)
	if err != nil {
		done()
		dev.Close()
		usbCtx.Close()
		return nil, fmt.Errorf("xcp: usb in endpoint: %w", err)
	}
	out, err := intf.OutEndpoint(cfg.OutEndpoint)
	if err != nil {
		done()
		dev.Close()
		usbCtx.Close()
		return nil, fmt.Errorf("xcp: usb out endpoint: %w", err)
	}
	return &UsbChannel{
		ctx: usbCtx, dev: dev, intf: intf, done: done, in: in, out: out,
		framer:  NewStreamFramer(ethHeader{}, 0),
		reader:  newReader("usb", clock, policy, onEvent),
		timeout: 2 * time.Second,
		exit:    make(chan struct{}),
	}, nil
}

func (c *UsbChannel) Connect(ctx context.Context) error {
	c.wg.Add(1)
	go c.readLoop()
	return nil
}

func (c *UsbChannel) readLoop() {
	defer c.wg.Done()
	stream, err := c.in.NewStream(c.in.Desc.MaxPacketSize, 4)
	if err != nil {
		log.WithError(err).Error("[xcp][usb][rx] failed to open read stream")
		return
	}
	defer stream.Close()
	buf := make([]byte, c.in.Desc.MaxPacketSize)
	for {
		select {
		case <-c.exit:
			return
		default:
		}
		n, err := stream.Read(buf)
		if err != nil {
			log.WithError(err).Debug("[xcp][usb][rx] stream closed")
			return
		}
		pdus, ferr := c.framer.Feed(buf[:n])
		if ferr != nil {
			log.WithError(ferr).Warn("[xcp][usb][rx] framing error")
			continue
		}
		for _, p := range pdus {
			c.reader.dispatch(p)
		}
	}
}

func (c *UsbChannel) Send(payload []byte) error {
	frame := c.framer.Frame(payload)
	if _, err := c.out.Write(frame); err != nil {
		return fmt.Errorf("xcp: usb send: %w", err)
	}
	c.reader.recordSent()
	return nil
}

func (c *UsbChannel) BlockReceive(ctx context.Context, n int) ([]byte, error) {
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

func (c *UsbChannel) Close() error {
	c.closeOnce.Do(func() { close(c.exit) })
	c.wg.Wait()
	c.done()
	err := c.dev.Close()
	c.ctx.Close()
	return err
}

func (c *UsbChannel) Mailbox() *Mailbox          { return c.reader.mailbox }
func (c *UsbChannel) FramesSent() uint64         { return c.reader.Sent() }
func (c *UsbChannel) FramesReceived() uint64     { return c.reader.Received() }
func (c *UsbChannel) SetTimeout(d time.Duration) { c.timeout = d }
