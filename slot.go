package ethercat

import "sync/atomic"

// slotState is the lifecycle position of one frame slot. All transitions are
// single compare-and-swap operations on slot.state; an unexpected current
// value yields a busy error with no side effects, exactly as specified in
// SPEC_FULL.md section 4.1.
type slotState uint32

const (
	stateNone slotState = iota
	stateCreated
	stateSendable
	stateSending
	stateSent
	stateRxBusy
	stateReceived
)

func (s slotState) String() string {
	switch s {
	case stateNone:
		return "None"
	case stateCreated:
		return "Created"
	case stateSendable:
		return "Sendable"
	case stateSending:
		return "Sending"
	case stateSent:
		return "Sent"
	case stateRxBusy:
		return "RxBusy"
	case stateReceived:
		return "Received"
	default:
		return "Unknown"
	}
}

// maxPDUsPerFrame bounds how many PDUs a single frame may carry, which
// bounds the per-slot index bookkeeping needed to free PDU indices on
// release without a heap allocation.
const maxPDUsPerFrame = 16

// slot is one reusable frame-sized buffer plus its state word. Its address
// is stable for the lifetime of the enclosing Storage: Storage never moves
// or grows the backing array after construction.
type slot struct {
	state atomic.Uint32

	index uint16 // storage_slot_index: immutable identity, 0..N-1

	buffer []byte // M contiguous bytes: ethernet | ecat header | PDUs

	pduPayloadLen       int   // bytes of buffer[ethernetHeaderLen+ecatHeaderLen:] currently staged
	firstPDUIndex       uint8 // identifying index of the first PDU pushed into this frame
	pduIndices          [maxPDUsPerFrame]uint8
	pduIndexCount       int
	lastPDUHeaderOffset int // offset of the most recently pushed PDU's header, -1 if none yet
	frameLen            int // total Ethernet frame length once finalized for sending

	// waker is the submitter's single suspension handle: a capacity-1
	// channel. RX (or a TX failure path that must wake a waiting
	// submitter immediately, which this design never does) sends to it
	// without blocking when the slot reaches Received.
	waker chan struct{}
}

func newSlot(index uint16, bufSize int) *slot {
	return &slot{
		index:  index,
		buffer: make([]byte, bufSize),
		waker:  make(chan struct{}, 1),
	}
}

// load returns the slot's current state with acquire semantics: a caller
// that observes stateReceived is guaranteed to see every byte the RX half
// wrote before the CAS to stateReceived (release on the writer side, below).
func (s *slot) load() slotState {
	return slotState(s.state.Load())
}

// cas performs the single-writer-at-a-time transition at the heart of the
// state machine. On success it has release semantics: all buffer writes
// made by the caller before this call become visible to whichever role
// observes the new state via load().
func (s *slot) cas(from, to slotState) bool {
	return s.state.CompareAndSwap(uint32(from), uint32(to))
}

// drainWaker removes any stale notification left over from a previous
// occupant of this slot (e.g. a timed-out submitter that never consumed the
// signal) before the slot is handed to a new owner.
func (s *slot) drainWaker() {
	select {
	case <-s.waker:
	default:
	}
}

// signal wakes a parked submitter without blocking. At most one value is
// ever buffered per slot, so this is a no-op if a notification is already
// pending.
func (s *slot) signal() {
	select {
	case s.waker <- struct{}{}:
	default:
	}
}

// ecatPayload returns the portion of buffer holding the concatenated PDUs
// (after the Ethernet and EtherCAT frame headers).
func (s *slot) ecatPayload() []byte {
	return s.buffer[ethernetHeaderLen+ecatHeaderLen:]
}

// capacity returns the slot's total buffer size (M).
func (s *slot) capacity() int {
	return len(s.buffer)
}
