package ethercat

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddressEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		cmd  Command
		addr Address
	}{
		{"position", APRD, PositionAddress(3, 0x10)},
		{"station", FPWR, StationAddress(0x1001, 0x20)},
		{"logical", LRW, LogicalAddress(0xdeadbeef)},
		{"broadcast", BRD, Address{}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			buf := make([]byte, 4)
			c.addr.encode(c.cmd, buf)
			got := decodeAddress(c.cmd, buf)
			require.Equal(t, c.addr, got)
		})
	}
}

func TestPDUHeaderRoundTrip(t *testing.T) {
	buf := make([]byte, pduHeaderLen)
	h := pduHeader{
		command: FPRW,
		index:   0x42,
		address: StationAddress(0x1234, 0x5678),
		dataLen: 100,
		more:    true,
		irq:     7,
	}
	writePDUHeader(buf, h)
	got := readPDUHeader(buf)
	require.Equal(t, h, got)
}

func TestEcatHeaderWordRoundTrip(t *testing.T) {
	w := ecatHeaderWord(1500)
	len, proto := decodeEcatHeaderWord(w)
	require.Equal(t, 1500, len)
	require.Equal(t, uint8(protocolTypeDLPDU), proto)
}

func TestPduLenWordMoreFollowsBit(t *testing.T) {
	w := pduLenWord(10, true)
	dataLen, circulating, more := decodePduLenWord(w)
	require.Equal(t, 10, dataLen)
	require.False(t, circulating)
	require.True(t, more)

	w = pduLenWord(10, false)
	_, _, more = decodePduLenWord(w)
	require.False(t, more)
}

func TestFramePadding(t *testing.T) {
	require.Equal(t, 28, framePadding(16))
	require.Equal(t, 0, framePadding(1000))
}

func TestCommandFlatAddress(t *testing.T) {
	require.True(t, BRD.flatAddress())
	require.True(t, LRW.logical())
	require.False(t, APRD.flatAddress())
}
