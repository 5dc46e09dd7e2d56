package foe

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSegmentSizeBoundedByMailboxAndCeiling(t *testing.T) {
	c := &Client{mbxOutLen: 256}
	require.Equal(t, 256-mailboxHeaderLen-foeHeaderLen-6, c.segmentSize())

	c2 := &Client{mbxOutLen: 4096}
	require.Equal(t, maxSegment, c2.segmentSize())

	c3 := &Client{mbxOutLen: 4}
	require.Equal(t, 0, c3.segmentSize())
}

func TestCheckOpAccepts(t *testing.T) {
	resp := make([]byte, mailboxHeaderLen+foeHeaderLen+6)
	resp[mailboxHeaderLen] = opACK
	binary.LittleEndian.PutUint32(resp[mailboxHeaderLen+foeHeaderLen+2:], 3)

	require.NoError(t, checkOp(resp, opACK, 3))
}

func TestCheckOpRejectsWrongPacket(t *testing.T) {
	resp := make([]byte, mailboxHeaderLen+foeHeaderLen+6)
	resp[mailboxHeaderLen] = opACK
	binary.LittleEndian.PutUint32(resp[mailboxHeaderLen+foeHeaderLen+2:], 5)

	require.Error(t, checkOp(resp, opACK, 3))
}

func TestCheckOpSurfacesErrOpcode(t *testing.T) {
	resp := make([]byte, mailboxHeaderLen+foeHeaderLen+6)
	resp[mailboxHeaderLen] = opERR
	binary.LittleEndian.PutUint32(resp[mailboxHeaderLen+foeHeaderLen+2:], 0x8001)

	err := checkOp(resp, opDATA, 1)
	require.Error(t, err)
	require.Contains(t, err.Error(), "8001")
}

func TestWriteMailboxHeaderLeavesFilenamePacketIntact(t *testing.T) {
	c := &Client{mbxOutLen: 256}
	frame := make([]byte, mailboxHeaderLen+foeHeaderLen+6+len("foo.bin"))
	c.writeMailboxHeader(frame, uint16(foeHeaderLen+6+len("foo.bin")))
	frame[mailboxHeaderLen] = opWRQ
	copy(frame[mailboxHeaderLen+foeHeaderLen+6:], "foo.bin")

	require.Equal(t, uint8(opWRQ), frame[mailboxHeaderLen])
	require.Equal(t, "foo.bin", string(frame[mailboxHeaderLen+foeHeaderLen+6:]))
}
