package coe

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteMailboxHeader(t *testing.T) {
	c := &Client{}
	frame := make([]byte, mailboxHeaderLen+coeHeaderLen)
	c.writeMailboxHeader(frame, 42, coeServiceSDORequest)

	require.Equal(t, uint16(42), binary.LittleEndian.Uint16(frame[0:2]))
	require.Equal(t, mailboxTypeCoE, mailboxType(frame[4]&0x0f))
	require.Equal(t, uint8(1), frame[4]>>4, "first counter value must be 1")

	service := binary.LittleEndian.Uint16(frame[mailboxHeaderLen:]) >> 12
	require.Equal(t, uint16(coeServiceSDORequest), service)
}

func TestNextCounterWrapsWithinOneToSeven(t *testing.T) {
	c := &Client{}
	seen := make(map[uint8]bool)
	for i := 0; i < 20; i++ {
		v := c.nextCounter()
		require.GreaterOrEqual(t, v, uint8(1))
		require.LessOrEqual(t, v, uint8(7))
		seen[v] = true
	}
	require.True(t, len(seen) > 1, "counter must vary across calls")
}

func TestDecodeAbort(t *testing.T) {
	resp := make([]byte, mailboxHeaderLen+coeHeaderLen+8)
	binary.LittleEndian.PutUint32(resp[mailboxHeaderLen+coeHeaderLen+4:], 0x06020000)

	err := decodeAbort(resp)
	require.Error(t, err)
	require.Contains(t, err.Error(), "06020000")
}

func TestDecodeAbortTruncated(t *testing.T) {
	err := decodeAbort(make([]byte, 2))
	require.Error(t, err)
}
