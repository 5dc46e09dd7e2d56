package ethercat

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReceiveFrameMalformedCounted(t *testing.T) {
	_, _, _, rx := newTestStorage(t, 2, 64)

	rx.ReceiveFrame([]byte{0x01, 0x02})
	require.Equal(t, uint64(1), rx.Diagnostics().Snapshot().Malformed)

	badEtherType := make([]byte, ethernetHeaderLen+ecatHeaderLen+pduHeaderLen+pduTrailerLen)
	badEtherType[12] = 0x00
	badEtherType[13] = 0x00
	rx.ReceiveFrame(badEtherType)
	require.Equal(t, uint64(2), rx.Diagnostics().Snapshot().Malformed)
}

func TestReceiveFrameStaleWhenNoMatchingSlot(t *testing.T) {
	_, loop, tx, rx := newTestStorage(t, 2, 64)

	handle, err := loop.AllocFrame()
	require.NoError(t, err)
	_, err = loop.PushPDU(handle, BRD, Address{}, 4, nil)
	require.NoError(t, err)
	require.NoError(t, loop.MarkSendable(handle))

	frame, ok := tx.NextSendableFrame()
	require.True(t, ok)
	var bytes []byte
	require.NoError(t, frame.SendBlocking(func(b []byte) (int, error) {
		bytes = append([]byte(nil), b...)
		return len(b), nil
	}))

	// deliver the same frame twice: the second delivery finds the slot no
	// longer in Sent (it is now Received) and must be counted stale.
	rx.ReceiveFrame(bytes)
	require.Equal(t, uint64(1), rx.Diagnostics().Snapshot().Received)

	rx.ReceiveFrame(bytes)
	require.Equal(t, uint64(1), rx.Diagnostics().Snapshot().Stale)
}
