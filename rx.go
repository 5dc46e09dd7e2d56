package ethercat

import (
	"context"
	"encoding/binary"
)

// PduRx is the singleton frame receiver produced by Storage.Split. Every
// received frame is matched back to the slot that sent it by the
// identifying index of its first PDU, using the same owner table PushPDU
// populated when it allocated that index — EtherCAT SubDevices never alter
// the PDU index as they process a datagram, so it survives the round trip
// unchanged.
type PduRx struct {
	storage *Storage
}

// Diagnostics returns the running counters for frames this PduRx has
// processed. The same counters are shared with submitters: a working
// counter mismatch discovered by Responses.ExpectWorkingCounter is recorded
// here too, so Diagnostics reflects bus health end to end, not just RX-side
// framing problems.
func (rx *PduRx) Diagnostics() *Diagnostics {
	return &rx.storage.diagnostics
}

// ReceiveFrame matches one frame read off the wire against its sending
// slot and, if the frame looks well-formed and the slot is still waiting
// for it (Sent), copies the received bytes into the slot and wakes the
// submitter. Frames that fail validation or do not match a waiting slot are
// discarded and counted in Diagnostics, never returned as an error to the
// caller: a single corrupt or late frame must not stop RxLoop.
func (rx *PduRx) ReceiveFrame(data []byte) {
	idx, ok := rx.firstPDUIndex(data)
	if !ok {
		rx.storage.diagnostics.malformed.Add(1)
		return
	}

	owner := rx.storage.indices.owner[idx].Load()
	if owner == 0 {
		rx.storage.diagnostics.stale.Add(1)
		return
	}
	slotIndex := uint16(owner - 1)
	s := rx.storage.slotAt(slotIndex)

	if !s.cas(stateSent, stateRxBusy) {
		rx.storage.diagnostics.stale.Add(1)
		return
	}

	ecatPayloadLen, _ := decodeEcatHeaderWord(binary.LittleEndian.Uint16(data[ethernetHeaderLen : ethernetHeaderLen+ecatHeaderLen]))
	n := copy(s.ecatPayload(), data[ethernetHeaderLen+ecatHeaderLen:])
	if n < ecatPayloadLen {
		// The frame declares more PDU bytes than this slot's buffer holds
		// (a frame shorter than its declared length was already rejected by
		// firstPDUIndex): the bytes that fit are kept, the frame is still
		// delivered to the submitter, and it is also counted as malformed.
		rx.storage.diagnostics.malformed.Add(1)
	}

	s.cas(stateRxBusy, stateReceived)
	s.signal()
	rx.storage.diagnostics.received.Add(1)
}

// firstPDUIndex validates the Ethernet and EtherCAT frame headers and
// returns the identifying index of the first PDU in the frame.
func (rx *PduRx) firstPDUIndex(data []byte) (uint8, bool) {
	if len(data) < ethernetHeaderLen+ecatHeaderLen+pduHeaderLen+pduTrailerLen {
		return 0, false
	}
	if binary.BigEndian.Uint16(data[12:14]) != EtherTypeEtherCAT {
		return 0, false
	}
	pduLen, protocolType := decodeEcatHeaderWord(binary.LittleEndian.Uint16(data[ethernetHeaderLen : ethernetHeaderLen+ecatHeaderLen]))
	if protocolType != protocolTypeDLPDU {
		return 0, false
	}
	if ethernetHeaderLen+ecatHeaderLen+pduLen > len(data) {
		return 0, false
	}
	return data[ethernetHeaderLen+ecatHeaderLen+1], true
}

// RxLoop repeatedly calls recv to obtain the next frame off the wire and
// hands it to ReceiveFrame, until ctx is done or recv reports an error.
// recv should block until a frame is available, filling buf and returning
// the number of bytes read, matching the shape of a blocking socket Read.
// RxLoop owns a single scratch buffer sized to the pool's slot size, so
// like the rest of the hot path it never allocates per frame.
func (rx *PduRx) RxLoop(ctx context.Context, recv func([]byte) (int, error)) error {
	buf := make([]byte, rx.storage.slots[0].capacity())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		n, err := recv(buf)
		if err != nil {
			return err
		}
		rx.ReceiveFrame(buf[:n])
	}
}
