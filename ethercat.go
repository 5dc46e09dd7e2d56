/*
Package ethercat implements the host side of an EtherCAT MainDevice: the
lock-free, allocation-free PDU loop that drives a daisy chain of SubDevices
over raw Ethernet.

The heart of the package is a fixed pool of frame slots shared by three
roles. A Storage owns the slots and is split, exactly once, into a PduLoop
(used by however many goroutines submit PDUs), a PduTx (the singleton frame
sender) and a PduRx (the singleton frame receiver):

	storage, _ := ethercat.NewStorage(4, 256, ethercat.Addressing{
		Source:      [6]byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
		Destination: ethercat.BroadcastMAC,
	})
	loop, tx, rx, _ := storage.Split()

A submitter allocates a frame, stages one or more PDUs into it, publishes it
for sending, and waits for the matching response:

	handle, _ := loop.AllocFrame()
	pdu, _ := loop.PushPDU(handle, ethercat.BRD, ethercat.Address{}, 4, nil)
	loop.MarkSendable(handle)
	resp, err := loop.AwaitResponse(ctx, handle)

Meanwhile the TX and RX halves are driven by a transport the caller supplies:

	go tx.TxLoop(ctx, transport.Send)
	go rx.RxLoop(ctx, transport.Recv)

No goroutine in this package allocates on the steady-state path: the pool is
sized once at construction and never grows, and PDU payloads are written
directly into the slot's preallocated buffer.

Everything outside the PDU loop itself — mailbox protocols (see the coe and
foe subpackages), SII EEPROM decoding (eeprom), the SubDevice state machine
(subdevice), distributed clocks (dc), the raw-socket transport (rawsock) and
the cyclic process-data scheduler (group) — is built on top of this engine,
not inside it.
*/
package ethercat
