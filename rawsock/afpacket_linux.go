//go:build linux

package rawsock

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// etherTypeEtherCAT matches ethercat.EtherTypeEtherCAT; duplicated here so
// this package has no dependency on the root module (it is meant to be
// usable as a bare transport by any caller, not just this repository).
const etherTypeEtherCAT = 0x88a4

// AFPacket is a bound SOCK_RAW/ETH_P_ECAT socket on a named interface. Its
// Send and Recv methods match the func([]byte) (int, error) shape the PDU
// loop's TxLoop/RxLoop expect, so an *AFPacket can be passed to them
// directly.
type AFPacket struct {
	fd    int
	ifidx int
}

// NewAFPacket opens a raw packet socket bound to ifname, filtering for the
// EtherCAT EtherType so only EtherCAT traffic reaches Recv.
func NewAFPacket(ifname string) (*AFPacket, error) {
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, htons(etherTypeEtherCAT))
	if err != nil {
		return nil, fmt.Errorf("rawsock: socket: %w", err)
	}

	idx, err := interfaceIndex(ifname)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("rawsock: resolve interface %q: %w", ifname, err)
	}

	addr := &unix.SockaddrLinklayer{
		Protocol: htons(etherTypeEtherCAT),
		Ifindex:  idx,
	}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("rawsock: bind to %q: %w", ifname, err)
	}

	return &AFPacket{fd: fd, ifidx: idx}, nil
}

// Send writes one Ethernet frame to the wire.
func (a *AFPacket) Send(b []byte) (int, error) {
	return unix.Write(a.fd, b)
}

// Recv blocks until one Ethernet frame is available and copies it into b.
func (a *AFPacket) Recv(b []byte) (int, error) {
	return unix.Read(a.fd, b)
}

// Close releases the underlying file descriptor.
func (a *AFPacket) Close() error {
	return unix.Close(a.fd)
}

func htons(v uint16) uint16 {
	return v<<8 | v>>8
}

func interfaceIndex(name string) (int, error) {
	iface, err := unix.IfNameIndex()
	if err != nil {
		return 0, err
	}
	for _, e := range iface {
		if e.Name == name {
			return int(e.Index), nil
		}
	}
	return 0, fmt.Errorf("no such interface: %s", name)
}
