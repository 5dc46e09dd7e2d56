package ethercat

import "sync/atomic"

// indexSpace size: the PDU header's identifying index is one byte, so at
// most 256 PDUs may be outstanding across the whole pool at once.
const indexSpaceSize = 256

// pduIndexAllocator hands out the 8-bit identifying index stamped into
// every outbound PDU header. owner[i] holds 1+storageSlotIndex of whichever
// slot currently has index i assigned to one of its PDUs, or 0 if free.
// The allocator is a monotonic-counter-guided linear probe over this array,
// the same shape as PduLoop.AllocFrame's rotating-cursor scan over slots,
// just one level down in the index space instead of the slot space.
type pduIndexAllocator struct {
	cursor atomic.Uint32
	owner  [indexSpaceSize]atomic.Uint32
}

// alloc claims one free PDU index and records that slotIndex owns it, so a
// later release can free it again. It never blocks: under contention it
// scans at most indexSpaceSize entries before reporting exhaustion.
func (a *pduIndexAllocator) alloc(slotIndex uint16) (uint8, error) {
	start := a.cursor.Add(1) - 1
	for i := uint32(0); i < indexSpaceSize; i++ {
		idx := (start + i) % indexSpaceSize
		if a.owner[idx].CompareAndSwap(0, uint32(slotIndex)+1) {
			return uint8(idx), nil
		}
	}
	return 0, IndexSpaceExhaustedError()
}

// free releases a previously allocated index. It is a no-op if the index is
// not currently owned by slotIndex, which makes it safe to call from
// release() even if alloc() never actually assigned that index (e.g. a slot
// that was claimed but never pushed a PDU into).
func (a *pduIndexAllocator) free(idx uint8, slotIndex uint16) {
	a.owner[idx].CompareAndSwap(uint32(slotIndex)+1, 0)
}
