// Package daq implements the DAQ planner and decoder: packing a
// user-declared measurement list into ODTs ahead of a DAQ run, then turning
// the resulting high-rate byte stream back into named, typed values.
//
// The packing algorithm follows the coalesce-then-bin-pack approach XCP
// host tools converge on, expressed as typed structs and a pure function
// over them rather than a stateful builder.
package daq

import (
	"sort"

	"github.com/asamint/goxcp"
)

// PlanOptions bounds the packer.
type PlanOptions struct {
	// BinCapacity is the per-ODT byte budget for every ODT after the first.
	BinCapacity int
	// BinCapacityFirst is the budget for a DAQ list's first ODT, smaller
	// than BinCapacity when the list carries a leading timestamp.
	BinCapacityFirst int
}

// Plan coalesces measurements into contiguous MemoryBlocks and bin-packs
// them into ODTs within opts' capacities. Measurements sharing an
// (Ext, Address) are deduplicated, keeping the longer one. Returns
// *xcp.PlanError if a single coalesced block cannot fit in any ODT.
func Plan(measurements []xcp.Measurement, opts PlanOptions) ([]xcp.ODT, error) {
	deduped := dedupe(measurements)
	blocks := coalesce(deduped, opts)
	return pack(blocks, opts)
}

// dedupe sorts by (Ext, Address) and, for measurements sharing an address,
// keeps only the longest (the "superset" rule).
func dedupe(measurements []xcp.Measurement) []xcp.Measurement {
	sorted := append([]xcp.Measurement(nil), measurements...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Ext != sorted[j].Ext {
			return sorted[i].Ext < sorted[j].Ext
		}
		return sorted[i].Address < sorted[j].Address
	})
	out := sorted[:0]
	for _, m := range sorted {
		if n := len(out); n > 0 && out[n-1].Ext == m.Ext && out[n-1].Address == m.Address {
			if m.Length() > out[n-1].Length() {
				out[n-1] = m
			}
			continue
		}
		out = append(out, m)
	}
	return out
}

// coalesce merges touching or overlapping measurements into MemoryBlocks,
// splitting when a merge would exceed the block's capacity (BinCapacityFirst
// for the first block emitted, BinCapacity for every block after it).
func coalesce(sorted []xcp.Measurement, opts PlanOptions) []xcp.MemoryBlock {
	var blocks []xcp.MemoryBlock
	// capacityFor reports the cap for the block a merge would extend: the
	// first block (blocks[0], i.e. len(blocks)==1 while it's still being
	// grown) uses BinCapacityFirst, every later block uses BinCapacity.
	capacityFor := func() int {
		if len(blocks) == 1 {
			return opts.BinCapacityFirst
		}
		return opts.BinCapacity
	}
	for _, m := range sorted {
		if len(blocks) > 0 {
			last := &blocks[len(blocks)-1]
			if m.Ext == last.Ext && m.Address <= last.End() {
				newEnd := m.End()
				if newEnd < last.Address+uint32(last.Length) {
					newEnd = last.Address + uint32(last.Length)
				}
				newLen := int(newEnd - last.Address)
				if newLen <= capacityFor() {
					last.Length = newLen
					last.Components = append(last.Components, m)
					continue
				}
			}
		}
		blocks = append(blocks, xcp.MemoryBlock{
			Address:    m.Address,
			Ext:        m.Ext,
			Length:     m.Length(),
			Components: []xcp.Measurement{m},
		})
	}
	return blocks
}

// pack bin-packs blocks into ODTs by First-Fit-Decreasing: sorted by length
// descending, each placed in the first ODT with enough residual capacity,
// opening a new one when none admits it.
func pack(blocks []xcp.MemoryBlock, opts PlanOptions) ([]xcp.ODT, error) {
	sorted := append([]xcp.MemoryBlock(nil), blocks...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Length > sorted[j].Length })

	var odts []xcp.ODT
	for _, b := range sorted {
		if b.Length > opts.BinCapacity && b.Length > opts.BinCapacityFirst {
			return nil, &xcp.PlanError{Reason: "measurement block too large for any ODT"}
		}
		placed := false
		for i := range odts {
			if odts[i].Residual >= b.Length {
				odts[i].Entries = append(odts[i].Entries, b)
				odts[i].Residual -= b.Length
				placed = true
				break
			}
		}
		if placed {
			continue
		}
		capacity := opts.BinCapacity
		if len(odts) == 0 {
			capacity = opts.BinCapacityFirst
		}
		if b.Length > capacity {
			// Doesn't fit as the (smaller-capacity) first ODT; every
			// subsequent ODT uses the full capacity, so open directly at
			// full size instead of wasting the first slot.
			capacity = opts.BinCapacity
		}
		odts = append(odts, xcp.ODT{
			Capacity: capacity,
			Residual: capacity - b.Length,
			Entries:  []xcp.MemoryBlock{b},
		})
	}
	return odts, nil
}
