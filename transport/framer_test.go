package transport

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testCodec is a simple 4-byte header (len uint16, counter uint16, both
// big-endian) plus a 1-byte XOR checksum tail, used to exercise StreamFramer
// independent of any real transport's wire layout.
type testCodec struct{}

func (testCodec) HeaderLen() int { return 4 }
func (testCodec) TailLen() int   { return 1 }

func (testCodec) EncodeHeader(payloadLen int, counter uint16) []byte {
	hdr := make([]byte, 4)
	binary.BigEndian.PutUint16(hdr[0:2], uint16(payloadLen))
	binary.BigEndian.PutUint16(hdr[2:4], counter)
	return hdr
}

func (testCodec) DecodeHeader(hdr []byte) (int, uint16, error) {
	return int(binary.BigEndian.Uint16(hdr[0:2])), binary.BigEndian.Uint16(hdr[2:4]), nil
}

func (testCodec) EncodeTail(frame []byte) []byte {
	var x byte
	for _, b := range frame {
		x ^= b
	}
	return []byte{x}
}

func (c testCodec) VerifyTail(frame []byte) error {
	body := frame[:len(frame)-1]
	want := c.EncodeTail(body)[0]
	if frame[len(frame)-1] != want {
		return assertErr{}
	}
	return nil
}

type assertErr struct{}

func (assertErr) Error() string { return "bad tail" }

func TestStreamFramerFeedsOneCompleteFrame(t *testing.T) {
	f := NewStreamFramer(testCodec{}, 0)
	frame := f.Frame([]byte{0xDE, 0xAD})

	pdus, err := f.Feed(frame)
	require.NoError(t, err)
	require.Len(t, pdus, 1)
	assert.Equal(t, []byte{0xDE, 0xAD}, pdus[0].Payload)
	assert.EqualValues(t, 0, pdus[0].Counter)
}

func TestStreamFramerReassemblesAcrossChunkBoundaries(t *testing.T) {
	f := NewStreamFramer(testCodec{}, 0)
	frame := f.Frame([]byte{0x01, 0x02, 0x03})

	pdus, err := f.Feed(frame[:2])
	require.NoError(t, err)
	assert.Empty(t, pdus)

	pdus, err = f.Feed(frame[2:])
	require.NoError(t, err)
	require.Len(t, pdus, 1)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, pdus[0].Payload)
}

func TestStreamFramerDropsDuplicateCounter(t *testing.T) {
	f := NewStreamFramer(testCodec{}, 0)
	frame := f.Frame([]byte{0xAA})

	pdus, err := f.Feed(frame)
	require.NoError(t, err)
	require.Len(t, pdus, 1)

	// Same frame retransmitted (same counter) should be dropped silently.
	pdus, err = f.Feed(frame)
	require.NoError(t, err)
	assert.Empty(t, pdus)
}

func TestStreamFramerRejectsImplausibleLength(t *testing.T) {
	f := NewStreamFramer(testCodec{}, 10)
	hdr := make([]byte, 4)
	binary.BigEndian.PutUint16(hdr[0:2], 9999)
	binary.BigEndian.PutUint16(hdr[2:4], 0)

	_, err := f.Feed(hdr)
	assert.Error(t, err)
}

func TestStreamFramerOutCounterIncrementsMonotonically(t *testing.T) {
	f := NewStreamFramer(testCodec{}, 0)
	f1 := f.Frame([]byte{0x01})
	f2 := f.Frame([]byte{0x02})
	_, c1 := uint16FromHeader(f1)
	_, c2 := uint16FromHeader(f2)
	assert.Equal(t, c1+1, c2)
}

func uint16FromHeader(frame []byte) (int, uint16) {
	l, c, _ := testCodec{}.DecodeHeader(frame[:4])
	return l, c
}
