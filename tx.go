package ethercat

import "context"

// PduTx is the singleton frame sender produced by Storage.Split. It scans
// the pool for Sendable slots and hands each one out as a SendableFrame for
// the caller's transport to write to the wire, mirroring the teacher's
// dedicated wireWriter goroutine that drains a single TX channel.
type PduTx struct {
	storage *Storage
}

// ReplaceWaker returns the channel the TX side can select on to learn that
// a new frame became Sendable: the Storage's own capacity-1 channel, which
// MarkSendable signals without blocking. It installs nothing and replaces
// nothing; every call returns the same channel. Callers that drive TX from a
// single goroutine with NextSendableFrame in a loop typically call this once
// before the loop; most callers should just use TxLoop instead of calling
// ReplaceWaker/NextSendableFrame directly.
func (tx *PduTx) ReplaceWaker() <-chan struct{} {
	return tx.storage.txWaker
}

// NextSendableFrame scans the pool once for a slot in the Sendable state
// and claims it for sending, returning ok=false if none is currently ready.
// Claiming is a single CAS from Sendable to Sending: only one PduTx may
// exist per Storage, so this never races against another claimer, only
// against AllocFrame/PushPDU/MarkSendable racing to finish building
// unrelated frames.
func (tx *PduTx) NextSendableFrame() (frame SendableFrame, ok bool) {
	for _, s := range tx.storage.slots {
		if s.cas(stateSendable, stateSending) {
			return SendableFrame{slot: s, tx: tx}, true
		}
	}
	return SendableFrame{}, false
}

// SendableFrame is a frame claimed for sending. It must be consumed by
// exactly one call to SendBlocking, which either marks the frame Sent or
// releases the sending claim back to Sendable so a retry can pick it up.
type SendableFrame struct {
	slot *slot
	tx   *PduTx
}

// Bytes returns the finalized Ethernet frame ready to be written to the
// wire verbatim.
func (f SendableFrame) Bytes() []byte {
	return f.slot.buffer[:f.slot.frameLen]
}

// SendBlocking calls send with this frame's bytes. If send reports writing
// exactly len(bytes), the slot transitions to Sent and RX will later match
// the response against it. Any other outcome releases the sending claim
// back to Sendable so a future NextSendableFrame call retries the same
// frame, and returns a non-nil error describing why.
func (f SendableFrame) SendBlocking(send func([]byte) (int, error)) error {
	data := f.Bytes()
	n, err := send(data)
	if err != nil {
		f.slot.cas(stateSending, stateSendable)
		return TransportError(err)
	}
	if n != len(data) {
		f.slot.cas(stateSending, stateSendable)
		return PartialSendError(len(data), n)
	}
	f.slot.cas(stateSending, stateSent)
	return nil
}

// TxLoop drives NextSendableFrame/SendBlocking in a loop until ctx is done,
// parking on the pool's internal ready signal between scans instead of
// busy-polling. A send error is swallowed after the slot's claim has been
// released, since the pending submitter's AwaitResponse will eventually
// time out and the next TxLoop iteration is free to retry a fresh attempt
// on the same or a different frame; callers who want send errors observed
// should call NextSendableFrame/SendBlocking directly instead.
func (tx *PduTx) TxLoop(ctx context.Context, send func([]byte) (int, error)) {
	ready := tx.ReplaceWaker()
	for {
		for {
			frame, ok := tx.NextSendableFrame()
			if !ok {
				break
			}
			_ = frame.SendBlocking(send)
		}
		select {
		case <-ctx.Done():
			return
		case <-ready:
		}
	}
}
