package daq

import (
	"encoding/binary"
	"math"

	"github.com/asamint/goxcp"
)

// DecodedValue is one measurement's value from a single ODT row.
type DecodedValue struct {
	Name  string
	Value float64
}

// OnDaqList is invoked once per decoded ODT row.
type OnDaqList func(listIndex int, tsMasterNs, tsSlaveNs float64, values []DecodedValue)

// Decoder turns the slave's DAQ byte stream back into named values,
// implementing policy.Policy so a transport reader loop can feed it
// directly. Route classification (which DAQ list and ODT a PID belongs to)
// comes from the plan the same Lists were packed with, so Decoder must be
// constructed with the same []xcp.DaqList a session used to configure the
// slave via WriteDaq/WriteDaqMultiple.
type Decoder struct {
	Lists         []xcp.DaqList
	ByteOrder     xcp.ByteOrder
	TimestampSize int     // bytes: 0, 1, 2, or 4
	NsPerTick     float64 // from GetDaqResolutionInfo's TimestampTicks and unit exponent
	OnDaqList     OnDaqList
}

func (d *Decoder) order() binary.ByteOrder {
	if d.ByteOrder == xcp.ByteOrderMotorola {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// locate maps a DAQ PID to (listIndex, odtIndex) using each list's
// FirstPID..FirstPID+len(PlannedODTs)-1 range, as assigned at
// START_STOP_DAQ_LIST(select).
func (d *Decoder) locate(pid byte) (listIdx, odtIdx int, ok bool) {
	for i, list := range d.Lists {
		n := len(list.PlannedODTs)
		if n == 0 {
			continue
		}
		if pid >= list.FirstPID && int(pid) < int(list.FirstPID)+n {
			return i, int(pid) - int(list.FirstPID), true
		}
	}
	return 0, 0, false
}

// Feed implements policy.Policy. Only CategoryDAQ frames are decoded; every
// other category (including CategorySTIM, which originates at the master
// and is never read back) is ignored.
func (d *Decoder) Feed(category xcp.FrameCategory, counter uint16, tsMasterNs float64, payload []byte) {
	if category != xcp.CategoryDAQ || len(payload) == 0 {
		return
	}
	listIdx, odtIdx, ok := d.locate(payload[0])
	if !ok {
		return
	}
	list := d.Lists[listIdx]
	if odtIdx >= len(list.PlannedODTs) {
		return
	}
	odt := list.PlannedODTs[odtIdx]
	data := payload[1:]

	var tsSlaveNs float64
	if odtIdx == 0 && list.EnableTimestamps && d.TimestampSize > 0 {
		if len(data) < d.TimestampSize {
			return
		}
		tsSlaveNs = float64(d.decodeUint(data[:d.TimestampSize])) * d.NsPerTick
		data = data[d.TimestampSize:]
	}

	var values []DecodedValue
	pos := 0
	for _, block := range odt.Entries {
		if pos+block.Length > len(data) {
			break
		}
		blockBytes := data[pos : pos+block.Length]
		pos += block.Length
		for _, comp := range block.Components {
			off := int(comp.Address - block.Address)
			size := comp.Length()
			if off < 0 || off+size > len(blockBytes) {
				continue
			}
			values = append(values, DecodedValue{
				Name:  comp.Name,
				Value: d.decodeScalar(comp.DataType, blockBytes[off:off+size]),
			})
		}
	}
	if d.OnDaqList != nil {
		d.OnDaqList(listIdx, tsMasterNs, tsSlaveNs, values)
	}
}

// Finalize implements policy.Policy.
func (d *Decoder) Finalize() {}

func (d *Decoder) decodeUint(raw []byte) uint64 {
	switch len(raw) {
	case 1:
		return uint64(raw[0])
	case 2:
		return uint64(d.order().Uint16(raw))
	case 4:
		return uint64(d.order().Uint32(raw))
	default:
		return 0
	}
}

func (d *Decoder) decodeScalar(dt xcp.DataType, raw []byte) float64 {
	order := d.order()
	switch dt {
	case xcp.U8:
		return float64(raw[0])
	case xcp.I8:
		return float64(int8(raw[0]))
	case xcp.U16:
		return float64(order.Uint16(raw))
	case xcp.I16:
		return float64(int16(order.Uint16(raw)))
	case xcp.U32:
		return float64(order.Uint32(raw))
	case xcp.I32:
		return float64(int32(order.Uint32(raw)))
	case xcp.U64:
		return float64(order.Uint64(raw))
	case xcp.I64:
		return float64(int64(order.Uint64(raw)))
	case xcp.F32:
		return float64(math.Float32frombits(order.Uint32(raw)))
	case xcp.F64:
		return math.Float64frombits(order.Uint64(raw))
	case xcp.F16, xcp.BF16:
		return decodeHalfFloat(dt, order.Uint16(raw))
	default:
		return 0
	}
}

// decodeHalfFloat expands IEEE-754 binary16 or bfloat16 to float64.
func decodeHalfFloat(dt xcp.DataType, bits uint16) float64 {
	if dt == xcp.BF16 {
		return float64(math.Float32frombits(uint32(bits) << 16))
	}
	sign := uint32(bits>>15) & 0x1
	exp := uint32(bits>>10) & 0x1f
	frac := uint32(bits) & 0x3ff
	var f32bits uint32
	switch {
	case exp == 0 && frac == 0:
		f32bits = sign << 31
	case exp == 0x1f:
		f32bits = sign<<31 | 0xff<<23 | frac<<13
	case exp == 0:
		// Subnormal half -> normalize into float32.
		for frac&0x400 == 0 {
			frac <<= 1
			exp--
		}
		exp++
		frac &= 0x3ff
		f32bits = sign<<31 | (exp+112)<<23 | frac<<13
	default:
		f32bits = sign<<31 | (exp+112)<<23 | frac<<13
	}
	return float64(math.Float32frombits(f32bits))
}
