//go:build !linux

package rawsock

// AFPacket is unavailable on this platform; NewAFPacket always fails.
// Callers that need a transport on non-Linux platforms should drive the PDU
// loop over a Loopback instead.
type AFPacket struct{}

// NewAFPacket always returns ErrUnsupported outside Linux.
func NewAFPacket(ifname string) (*AFPacket, error) {
	return nil, ErrUnsupported
}

// Send is never reachable; AFPacket cannot be constructed on this platform.
func (a *AFPacket) Send(b []byte) (int, error) { return 0, ErrUnsupported }

// Recv is never reachable; AFPacket cannot be constructed on this platform.
func (a *AFPacket) Recv(b []byte) (int, error) { return 0, ErrUnsupported }

// Close is never reachable; AFPacket cannot be constructed on this platform.
func (a *AFPacket) Close() error { return ErrUnsupported }
