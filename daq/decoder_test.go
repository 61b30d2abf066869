package daq

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asamint/goxcp"
)

func TestDecoderFeedDecodesOneODTRow(t *testing.T) {
	list := xcp.DaqList{
		FirstPID: 3,
		PlannedODTs: []xcp.ODT{
			{
				Capacity: 8,
				Entries: []xcp.MemoryBlock{
					{
						Address: 0x1000,
						Length:  6,
						Components: []xcp.Measurement{
							{Name: "speed", Address: 0x1000, DataType: xcp.U16},
							{Name: "temp", Address: 0x1002, DataType: xcp.I16},
							{Name: "pos", Address: 0x1004, DataType: xcp.I16},
						},
					},
				},
			},
		},
	}
	d := &Decoder{Lists: []xcp.DaqList{list}, ByteOrder: xcp.ByteOrderIntel}

	var got []DecodedValue
	d.OnDaqList = func(listIndex int, tsMasterNs, tsSlaveNs float64, values []DecodedValue) {
		got = values
	}

	payload := make([]byte, 1+6)
	payload[0] = 3 // PID -> list 0, odt 0
	binary.LittleEndian.PutUint16(payload[1:3], 1234)
	binary.LittleEndian.PutUint16(payload[3:5], uint16(int16(-5)))
	binary.LittleEndian.PutUint16(payload[5:7], uint16(int16(-1)))

	d.Feed(xcp.CategoryDAQ, 0, 0, payload)

	require.Len(t, got, 3)
	assert.Equal(t, "speed", got[0].Name)
	assert.Equal(t, float64(1234), got[0].Value)
	assert.Equal(t, "temp", got[1].Name)
	assert.Equal(t, float64(-5), got[1].Value)
	assert.Equal(t, "pos", got[2].Name)
	assert.Equal(t, float64(-1), got[2].Value)
}

func TestDecoderFeedIgnoresUnknownPID(t *testing.T) {
	d := &Decoder{Lists: []xcp.DaqList{{FirstPID: 1, PlannedODTs: []xcp.ODT{{Capacity: 1}}}}}
	called := false
	d.OnDaqList = func(int, float64, float64, []DecodedValue) { called = true }
	d.Feed(xcp.CategoryDAQ, 0, 0, []byte{99})
	assert.False(t, called)
}

func TestDecoderFeedIgnoresNonDAQCategory(t *testing.T) {
	d := &Decoder{Lists: []xcp.DaqList{{FirstPID: 0, PlannedODTs: []xcp.ODT{{Capacity: 1}}}}}
	called := false
	d.OnDaqList = func(int, float64, float64, []DecodedValue) { called = true }
	d.Feed(xcp.CategoryCMD, 0, 0, []byte{0, 1})
	assert.False(t, called)
}

func TestDecoderFeedStripsSlaveTimestamp(t *testing.T) {
	list := xcp.DaqList{
		FirstPID:         0,
		EnableTimestamps: true,
		PlannedODTs: []xcp.ODT{
			{Capacity: 4, Entries: []xcp.MemoryBlock{
				{Address: 0x2000, Length: 2, Components: []xcp.Measurement{
					{Name: "v", Address: 0x2000, DataType: xcp.U16},
				}},
			}},
		},
	}
	d := &Decoder{Lists: []xcp.DaqList{list}, ByteOrder: xcp.ByteOrderIntel, TimestampSize: 2, NsPerTick: 1000}

	var gotTs float64
	var gotValues []DecodedValue
	d.OnDaqList = func(listIndex int, tsMasterNs, tsSlaveNs float64, values []DecodedValue) {
		gotTs = tsSlaveNs
		gotValues = values
	}

	payload := make([]byte, 1+2+2)
	payload[0] = 0
	binary.LittleEndian.PutUint16(payload[1:3], 42) // raw ticks
	binary.LittleEndian.PutUint16(payload[3:5], 777) // value

	d.Feed(xcp.CategoryDAQ, 0, 0, payload)

	assert.Equal(t, float64(42*1000), gotTs)
	require.Len(t, gotValues, 1)
	assert.Equal(t, float64(777), gotValues[0].Value)
}

func TestDecodeScalarBigEndian(t *testing.T) {
	d := &Decoder{ByteOrder: xcp.ByteOrderMotorola}
	raw := make([]byte, 4)
	binary.BigEndian.PutUint32(raw, math.Float32bits(3.5))
	assert.InDelta(t, 3.5, d.decodeScalar(xcp.F32, raw), 1e-9)
}

func TestDecodeHalfFloatZeroAndOne(t *testing.T) {
	assert.Equal(t, float64(0), decodeHalfFloat(xcp.F16, 0x0000))
	// binary16 1.0 == 0x3C00
	assert.InDelta(t, 1.0, decodeHalfFloat(xcp.F16, 0x3C00), 1e-6)
	// bfloat16 1.0 == 0x3F80
	assert.InDelta(t, 1.0, decodeHalfFloat(xcp.BF16, 0x3F80), 1e-6)
}
