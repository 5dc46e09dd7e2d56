package ethercat

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync/atomic"
)

// Addressing holds the Ethernet source and destination MAC addresses this
// Storage stamps into every frame it sends. Destination is typically
// BroadcastMAC, and NewStorage uses BroadcastMAC when Destination is left
// zero; Source is the MainDevice's own network interface address and may be
// left zero.
type Addressing struct {
	Source      [6]byte
	Destination [6]byte
}

// Storage owns the fixed array of N frame slots, each M bytes, that this
// package's three roles (PduLoop, PduTx, PduRx) share. It is published once
// at program start with NewStorage and split exactly once with Split; after
// that its slot addresses never move and the array never grows or shrinks.
type Storage struct {
	slots       []*slot
	allocCursor atomic.Uint32
	indices     pduIndexAllocator
	addressing  Addressing
	txWaker     chan struct{}
	split       atomic.Bool
	diagnostics Diagnostics
}

// minSlotSize is the smallest buffer that can hold a minimum-size Ethernet
// frame (14-byte header plus the 46-byte payload MarkSendable pads up to),
// which also leaves room for the EtherCAT frame header and one PDU with zero
// data bytes.
const minSlotSize = ethernetHeaderLen + minEthernetPayload

// NewStorage constructs a pool of n frame slots of m bytes each. n must be a
// power of two greater than one (so the allocator and index space can use
// mask-based wraparound); m must be at least minSlotSize (60 bytes).
func NewStorage(n, m int, addressing Addressing) (*Storage, error) {
	if n < 2 || n&(n-1) != 0 {
		return nil, fmt.Errorf("ethercat: pool size %d must be a power of two greater than one", n)
	}
	if m < minSlotSize {
		return nil, fmt.Errorf("ethercat: slot size %d is smaller than the minimum %d", m, minSlotSize)
	}
	if addressing.Destination == ([6]byte{}) {
		addressing.Destination = BroadcastMAC
	}
	slots := make([]*slot, n)
	for i := range slots {
		slots[i] = newSlot(uint16(i), m)
	}
	return &Storage{
		slots:      slots,
		addressing: addressing,
		txWaker:    make(chan struct{}, 1),
	}, nil
}

// Len returns the number of frame slots in the pool (N).
func (st *Storage) Len() int {
	return len(st.slots)
}

func (st *Storage) slotAt(index uint16) *slot {
	return st.slots[index]
}

func (st *Storage) signalTX() {
	select {
	case st.txWaker <- struct{}{}:
	default:
	}
}

// Split yields the submitter handle, the TX half and the RX half exactly
// once. A second call fails: the three returned values are non-copyable
// capabilities in spirit (Go cannot enforce move-only types, but Split's
// one-shot guard enforces the singleton invariant for PduTx and PduRx the
// way the teacher's NewTCPConn/NewRTU hand out a single Modbus instance per
// wire).
func (st *Storage) Split() (*PduLoop, *PduTx, *PduRx, error) {
	if !st.split.CompareAndSwap(false, true) {
		return nil, nil, nil, fmt.Errorf("ethercat: storage already split")
	}
	return &PduLoop{storage: st}, &PduTx{storage: st}, &PduRx{storage: st}, nil
}

// Handle identifies a frame slot a submitter currently owns, from
// AllocFrame through Release.
type Handle struct {
	index uint16
}

// PduHandle locates one PDU's data and working-counter trailer within its
// frame, so a submitter can read the response after AwaitResponse returns.
type PduHandle struct {
	offset  int
	dataLen int
}

// Len returns the payload length of the PDU this handle refers to.
func (h PduHandle) Len() int {
	return h.dataLen
}

// PduLoop is the submitter-facing handle onto the pool: AllocFrame,
// PushPDU, MarkSendable, AwaitResponse and Release may all be called
// concurrently from many goroutines.
type PduLoop struct {
	storage *Storage
}

// AllocFrame reserves a free slot for the caller. It scans slots in
// deterministic order starting from a cursor that advances by one on every
// successful allocation (spreading wear across the pool), CASing the first
// slot found in the None state to Created.
func (l *PduLoop) AllocFrame() (Handle, error) {
	st := l.storage
	n := uint16(len(st.slots))
	start := uint16(st.allocCursor.Load()) % n

	for i := uint16(0); i < n; i++ {
		idx := (start + i) % n
		s := st.slots[idx]
		if s.cas(stateNone, stateCreated) {
			st.allocCursor.Store(uint32(idx + 1))
			s.drainWaker()
			s.pduPayloadLen = 0
			s.pduIndexCount = 0
			s.lastPDUHeaderOffset = -1
			writeEthernetHeader(s.buffer, st.addressing.Destination, st.addressing.Source)
			return Handle{index: idx}, nil
		}
	}
	return Handle{}, PoolExhaustedError()
}

// PushPDU appends one PDU header, its payload (filled in by write, which
// may be nil for a zero-length PDU), and a zeroed working-counter trailer
// into the slot's buffer. It fails if the aggregate would exceed the slot's
// capacity or the per-frame PDU count, or if the 256-entry PDU index space
// is currently exhausted.
//
// write, if non-nil, is called with a slice of exactly payloadLen bytes
// pointing directly into the slot's buffer: no intermediate copy is made.
func (l *PduLoop) PushPDU(h Handle, cmd Command, addr Address, payloadLen int, write func([]byte)) (PduHandle, error) {
	s := l.storage.slotAt(h.index)
	if s.load() != stateCreated {
		return PduHandle{}, BusyError("push PDU into a frame that is not being built")
	}
	if s.pduIndexCount >= maxPDUsPerFrame {
		return PduHandle{}, PDUCountExceededError(s.pduIndexCount, maxPDUsPerFrame)
	}

	need := pduHeaderLen + payloadLen + pduTrailerLen
	payload := s.ecatPayload()
	if s.pduPayloadLen+need > len(payload) {
		return PduHandle{}, FrameFullError(s.pduPayloadLen+need, len(payload))
	}

	idx, err := l.storage.indices.alloc(s.index)
	if err != nil {
		return PduHandle{}, err
	}

	if s.pduIndexCount > 0 {
		// Flip the previous PDU's more-follows bit now that we know it
		// isn't the last one in the frame after all.
		prev := payload[s.lastPDUHeaderOffset+6 : s.lastPDUHeaderOffset+8]
		w := binary.LittleEndian.Uint16(prev)
		binary.LittleEndian.PutUint16(prev, w|(1<<15))
	} else {
		s.firstPDUIndex = idx
	}

	offset := s.pduPayloadLen
	writePDUHeader(payload[offset:offset+pduHeaderLen], pduHeader{
		command: cmd,
		index:   idx,
		address: addr,
		dataLen: payloadLen,
		more:    false,
	})
	dataStart := offset + pduHeaderLen
	if write != nil {
		write(payload[dataStart : dataStart+payloadLen])
	}
	writeWorkingCounter(payload[dataStart+payloadLen:dataStart+payloadLen+pduTrailerLen], 0)

	s.pduIndices[s.pduIndexCount] = idx
	s.pduIndexCount++
	s.lastPDUHeaderOffset = offset
	s.pduPayloadLen += need

	return PduHandle{offset: offset, dataLen: payloadLen}, nil
}

// MarkSendable freezes the frame, pads it to the minimum Ethernet payload
// size, finalizes the EtherCAT frame header, transitions the slot from
// Created to Sendable, and wakes the TX driver.
func (l *PduLoop) MarkSendable(h Handle) error {
	s := l.storage.slotAt(h.index)
	if s.load() != stateCreated {
		return BusyError("mark sendable")
	}
	if s.pduIndexCount == 0 {
		return EmptyFrameError()
	}

	payload := s.ecatPayload()
	pad := framePadding(s.pduPayloadLen)
	for i := s.pduPayloadLen; i < s.pduPayloadLen+pad; i++ {
		payload[i] = 0
	}
	writeEcatHeader(s.buffer, s.pduPayloadLen)
	s.frameLen = ethernetHeaderLen + ecatHeaderLen + s.pduPayloadLen + pad

	// The buffer must be fully finalized before this CAS: once it succeeds,
	// TX may pick the frame up and treat its bytes as immutable.
	if !s.cas(stateCreated, stateSendable) {
		return BusyError("mark sendable")
	}
	l.storage.signalTX()
	return nil
}

// AwaitResponse suspends the calling goroutine until the slot reaches
// Received or ctx is done. On success the returned Responses lets the
// caller read out each PDU's data and working counter; the slot remains
// held until Release is called.
func (l *PduLoop) AwaitResponse(ctx context.Context, h Handle) (Responses, error) {
	s := l.storage.slotAt(h.index)
	select {
	case <-s.waker:
		return Responses{slot: s, diag: &l.storage.diagnostics}, nil
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return Responses{}, TimeoutError()
		}
		return Responses{}, ctx.Err()
	}
}

// Release returns the slot to the pool. It is idempotent: calling it twice,
// or calling it after a timeout while TX or RX still holds the slot
// mid-transition, is always safe. Any PDU indices this frame consumed are
// freed so they can be reassigned.
func (l *PduLoop) Release(h Handle) {
	s := l.storage.slotAt(h.index)
	for i := 0; i < s.pduIndexCount; i++ {
		l.storage.indices.free(s.pduIndices[i], s.index)
	}
	s.pduIndexCount = 0
	s.state.Store(uint32(stateNone))
}

// Responses exposes the PDU response data staged in a slot after
// AwaitResponse returns successfully.
type Responses struct {
	slot *slot
	diag *Diagnostics
}

// PDU returns the data and working counter for the PDU identified by h. The
// returned slice aliases the slot's buffer and is only valid until the
// submitter calls Release.
func (r Responses) PDU(h PduHandle) (data []byte, workingCounter uint16, err error) {
	if r.slot == nil {
		return nil, 0, fmt.Errorf("ethercat: zero-value Responses")
	}
	payload := r.slot.ecatPayload()
	dataStart := h.offset + pduHeaderLen
	dataEnd := dataStart + h.dataLen
	if dataEnd+pduTrailerLen > len(payload) {
		return nil, 0, fmt.Errorf("ethercat: PDU handle out of range for this frame")
	}
	return payload[dataStart:dataEnd], readWorkingCounter(payload[dataEnd : dataEnd+pduTrailerLen]), nil
}

// ExpectWorkingCounter is a convenience wrapper around PDU that additionally
// validates the working counter, surfacing KindWorkingCounterMismatch when
// it doesn't match what the caller expected (e.g. the number of SubDevices
// that should have processed this PDU).
func (r Responses) ExpectWorkingCounter(h PduHandle, expect uint16) ([]byte, error) {
	data, got, err := r.PDU(h)
	if err != nil {
		return nil, err
	}
	if got != expect {
		if r.diag != nil {
			r.diag.workingCounter.Add(1)
		}
		return data, WorkingCounterMismatchError(expect, got)
	}
	return data, nil
}
