// Package rawsock provides an AF_PACKET raw Ethernet transport for the
// ethercat PDU loop, matching the Send/Recv shape PduTx.TxLoop and
// PduRx.RxLoop expect.
package rawsock

import "fmt"

// ErrUnsupported is returned by NewAFPacket on platforms without AF_PACKET
// raw socket support (anything but Linux).
var ErrUnsupported = fmt.Errorf("rawsock: AF_PACKET raw sockets are only supported on Linux")
