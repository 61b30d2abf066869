package xcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyRoutesByPID(t *testing.T) {
	assert.Equal(t, CategoryRESPONSE, Classify(byte(PIDResOk), false))
	assert.Equal(t, CategoryERROR, Classify(byte(PIDResErr), false))
	assert.Equal(t, CategoryEVENT, Classify(byte(PIDEvent), false))
	assert.Equal(t, CategorySERV, Classify(byte(PIDService), false))
	assert.Equal(t, CategoryDAQ, Classify(0x01, false))
	assert.Equal(t, CategorySTIM, Classify(0x01, true))
}

func TestAddressGranularityPadBytes(t *testing.T) {
	assert.Equal(t, 0, AG1.PadBytes())
	assert.Equal(t, 1, AG2.PadBytes())
	assert.Equal(t, 3, AG4.PadBytes())
}

func TestDataTypeSizeAndString(t *testing.T) {
	cases := []struct {
		dt   DataType
		size int
		name string
	}{
		{U8, 1, "U8"},
		{I8, 1, "I8"},
		{U16, 2, "U16"},
		{F16, 2, "F16"},
		{BF16, 2, "BF16"},
		{U32, 4, "U32"},
		{F32, 4, "F32"},
		{U64, 8, "U64"},
		{F64, 8, "F64"},
	}
	for _, c := range cases {
		assert.Equal(t, c.size, c.dt.Size(), c.name)
		assert.Equal(t, c.name, c.dt.String())
	}
}

func TestResourceProtectionLocked(t *testing.T) {
	p := ResourceProtection{CalPag: true, Dbg: true}
	assert.True(t, p.Locked(ResourceCalPag))
	assert.True(t, p.Locked(ResourceCalPag|ResourceDaq))
	assert.False(t, p.Locked(ResourceDaq))
	assert.True(t, p.Locked(ResourceDbg))
}

func TestProtectionFromMaskRoundTrip(t *testing.T) {
	mask := byte(ResourceCalPag) | byte(ResourceStim) | byte(ResourcePgm)
	p := ProtectionFromMask(mask)
	assert.True(t, p.CalPag)
	assert.False(t, p.Daq)
	assert.True(t, p.Stim)
	assert.True(t, p.Pgm)
	assert.False(t, p.Dbg)
}

func TestMTAAdvance(t *testing.T) {
	m := MTA{Address: 0x1000, Extension: 1}
	m.Advance(4)
	assert.EqualValues(t, 0x1004, m.Address)
	assert.EqualValues(t, 1, m.Extension)
}

func TestMeasurementEndAndLength(t *testing.T) {
	m := Measurement{Address: 0x2000, DataType: U32}
	assert.Equal(t, 4, m.Length())
	assert.EqualValues(t, 0x2004, m.End())
}

func TestMemoryBlockEnd(t *testing.T) {
	b := MemoryBlock{Address: 0x3000, Length: 10}
	assert.EqualValues(t, 0x300A, b.End())
}

func TestErrorTypesFormatMessages(t *testing.T) {
	respErr := &XcpResponseError{Command: "UPLOAD", Code: ErrCmdUnknown}
	assert.Contains(t, respErr.Error(), "UPLOAD")

	timeoutErr := &XcpTimeoutError{Command: "GET_STATUS", Timeout: 1.5}
	assert.Contains(t, timeoutErr.Error(), "GET_STATUS")

	planErr := &PlanError{Reason: "too big"}
	assert.Contains(t, planErr.Error(), "too big")
}
