package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asamint/goxcp"
	"github.com/asamint/goxcp/transport"
)

// fakeChannel is a minimal in-memory transport.Channel: Send hands the
// request to a responder function on a goroutine, which delivers a canned
// reply to the channel's own Mailbox, mirroring how a real reader loop
// would route a RES/ERR payload back to the waiting request.
type fakeChannel struct {
	mailbox  *transport.Mailbox
	respond  func(req []byte) []byte
	sent     uint64
	received uint64
}

func newFakeChannel(respond func(req []byte) []byte) *fakeChannel {
	return &fakeChannel{mailbox: transport.NewMailbox(), respond: respond}
}

func (c *fakeChannel) Connect(ctx context.Context) error { return nil }

func (c *fakeChannel) Send(payload []byte) error {
	c.sent++
	reply := c.respond(payload)
	if reply != nil {
		go func() {
			c.received++
			c.mailbox.Deliver(reply)
		}()
	}
	return nil
}

func (c *fakeChannel) BlockReceive(ctx context.Context, n int) ([]byte, error) { return nil, nil }
func (c *fakeChannel) Close() error                                            { return nil }
func (c *fakeChannel) Mailbox() *transport.Mailbox                            { return c.mailbox }
func (c *fakeChannel) FramesSent() uint64                                      { return c.sent }
func (c *fakeChannel) FramesReceived() uint64                                  { return c.received }
func (c *fakeChannel) SetTimeout(time.Duration)                                {}

func connectResponse() []byte {
	// PID_RES, resource=0, comm_mode_basic=0 (Intel, AG1, no block mode),
	// max_cto=8, max_dto=8 (LE), protocol_version=1, transport_version=1.
	return []byte{0xFF, 0x00, 0x00, 0x08, 0x08, 0x00, 0x01, 0x01}
}

func TestSessionConnectHappyPath(t *testing.T) {
	ch := newFakeChannel(func(req []byte) []byte {
		if req[0] == byte(xcp.CmdConnect) {
			return connectResponse()
		}
		return nil
	})
	s := New(ch)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, s.Connect(ctx, 0))
	assert.Equal(t, xcp.ByteOrderIntel, s.Properties().ByteOrder)
	assert.Equal(t, xcp.AG1, s.Properties().AddressGranularity)
	assert.EqualValues(t, 8, s.Properties().MaxCTO)
}

func TestSessionGetStatusUpdatesProtection(t *testing.T) {
	ch := newFakeChannel(func(req []byte) []byte {
		switch xcp.Command(req[0]) {
		case xcp.CmdConnect:
			return connectResponse()
		case xcp.CmdGetStatus:
			// PID_RES, session_status=0, resource_protection=0x05 (CalPag|Daq), reserved, config_id=0
			return []byte{0xFF, 0x00, 0x05, 0x00, 0x00, 0x00}
		default:
			return nil
		}
	})
	s := New(ch)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Connect(ctx, 0))

	res, err := s.GetStatus(ctx)
	require.NoError(t, err)
	assert.True(t, res.Protection.CalPag)
	assert.True(t, res.Protection.Daq)
	assert.False(t, res.Protection.Pgm)
	assert.True(t, s.Protection().CalPag)
}

func TestSessionPerformReturnsResponseErrorOnERR(t *testing.T) {
	ch := newFakeChannel(func(req []byte) []byte {
		switch xcp.Command(req[0]) {
		case xcp.CmdConnect:
			return connectResponse()
		case xcp.CmdGetStatus:
			return []byte{0xFE, byte(xcp.ErrCmdUnknown)}
		default:
			return nil
		}
	})
	s := New(ch)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Connect(ctx, 0))

	_, err := s.GetStatus(ctx)
	require.Error(t, err)
	var respErr *xcp.XcpResponseError
	require.ErrorAs(t, err, &respErr)
	assert.Equal(t, xcp.ErrCmdUnknown, respErr.Code)
}

func TestSessionGetStatusTimesOutWithoutConnect(t *testing.T) {
	ch := newFakeChannel(func(req []byte) []byte { return nil })
	s := New(ch)
	s.SetTimeout(20 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := s.GetStatus(ctx)
	require.Error(t, err)
}
