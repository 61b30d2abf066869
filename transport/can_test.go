package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asamint/goxcp"
	xcpcan "github.com/asamint/goxcp/pkg/can"
	"github.com/asamint/goxcp/timestamp"
)

type fakePolicyFeed struct {
	category xcp.FrameCategory
	payload  []byte
	fed      bool
}

func (f *fakePolicyFeed) Feed(category xcp.FrameCategory, counter uint16, timestampNs float64, payload []byte) {
	f.category = category
	f.payload = append([]byte(nil), payload...)
	f.fed = true
}

func newTestCanChannel(cfg CanConfig) (*CanChannel, *fakePolicyFeed) {
	policy := &fakePolicyFeed{}
	return &CanChannel{
		cfg:    cfg,
		reader: newReader("can", timestamp.New(timestamp.Relative), policy, nil),
	}, policy
}

func TestCanChannelHandleStripsTrailingPadding(t *testing.T) {
	c, policy := newTestCanChannel(CanConfig{MaxDLCRequired: true, PaddingValue: 0xAA})

	frame := xcpcan.Frame{DLC: 8, Data: [8]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0xAA, 0xAA, 0xAA}}
	c.Handle(frame)

	require.True(t, policy.fed)
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04, 0x05}, policy.payload)
}

func TestCanChannelHandleNoPaddingWhenDisabled(t *testing.T) {
	c, policy := newTestCanChannel(CanConfig{MaxDLCRequired: false, PaddingValue: 0xAA})

	frame := xcpcan.Frame{DLC: 8, Data: [8]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0xAA, 0xAA, 0xAA}}
	c.Handle(frame)

	require.True(t, policy.fed)
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0xAA, 0xAA, 0xAA}, policy.payload)
	assert.Len(t, policy.payload, 8)
}

func TestCanChannelHandleKeepsPIDLikeLeadingByteIntact(t *testing.T) {
	// The leading byte (0xFF here, a valid PID range value) must never be
	// mistaken for a declared length; only trailing PaddingValue bytes are
	// stripped, regardless of what the first byte looks like.
	c, policy := newTestCanChannel(CanConfig{MaxDLCRequired: true, PaddingValue: 0xAA})

	frame := xcpcan.Frame{DLC: 8, Data: [8]byte{0xFF, 0x02, 0x03, 0x04, 0x05, 0xAA, 0xAA, 0xAA}}
	c.Handle(frame)

	require.True(t, policy.fed)
	assert.Equal(t, []byte{0xFF, 0x02, 0x03, 0x04, 0x05}, policy.payload)
}

func TestCanChannelHandleAllPaddingYieldsEmptyPayload(t *testing.T) {
	c, policy := newTestCanChannel(CanConfig{MaxDLCRequired: true, PaddingValue: 0x00})

	frame := xcpcan.Frame{DLC: 8, Data: [8]byte{}}
	c.Handle(frame)

	// Stripping leaves an empty PDU, which the reader drops before the policy.
	require.False(t, policy.fed)
	assert.Empty(t, policy.payload)
}

func TestCanChannelSendRejectsOversizeFDPayload(t *testing.T) {
	c, _ := newTestCanChannel(CanConfig{FD: true})
	err := c.Send(make([]byte, 20))
	assert.Error(t, err)
	var framingErr *xcp.FramingError
	assert.ErrorAs(t, err, &framingErr)
}
