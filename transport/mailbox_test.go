package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asamint/goxcp"
)

type fixedCounters struct{ sent, received uint64 }

func (f fixedCounters) Sent() uint64     { return f.sent }
func (f fixedCounters) Received() uint64 { return f.received }

func TestMailboxWaitDeliversPayload(t *testing.T) {
	m := NewMailbox()
	go func() {
		time.Sleep(5 * time.Millisecond)
		m.Deliver([]byte{0x01, 0x02})
	}()

	payload, err := m.Wait(context.Background(), time.Second, "GET_STATUS", fixedCounters{})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02}, payload)
}

func TestMailboxWaitTimesOutWithFrameCounts(t *testing.T) {
	m := NewMailbox()
	_, err := m.Wait(context.Background(), 10*time.Millisecond, "GET_STATUS", fixedCounters{sent: 3, received: 2})
	require.Error(t, err)
	var timeoutErr *xcp.XcpTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.EqualValues(t, 3, timeoutErr.FramesSent)
	assert.EqualValues(t, 2, timeoutErr.FramesReceived)
}

func TestMailboxResetDeadlineExtendsWait(t *testing.T) {
	m := NewMailbox()
	go func() {
		time.Sleep(5 * time.Millisecond)
		m.ResetDeadline()
		time.Sleep(5 * time.Millisecond)
		m.Deliver([]byte{0xAA})
	}()

	// Timeout shorter than total elapsed time, but ResetDeadline pushes the
	// deadline out each time it fires, so the delivery still arrives.
	payload, err := m.Wait(context.Background(), 8*time.Millisecond, "UPLOAD", fixedCounters{})
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA}, payload)
}

func TestMailboxWaitRespectsContextCancellation(t *testing.T) {
	m := NewMailbox()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	_, err := m.Wait(ctx, time.Second, "GET_STATUS", fixedCounters{})
	assert.ErrorIs(t, err, context.Canceled)
}
