package ethercat

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T, n, m int) (*Storage, *PduLoop, *PduTx, *PduRx) {
	t.Helper()
	st, err := NewStorage(n, m, Addressing{})
	require.NoError(t, err)
	loop, tx, rx, err := st.Split()
	require.NoError(t, err)
	return st, loop, tx, rx
}

// TestBroadcastRoundTripBytes is boundary scenario 1: N=2, M=64, a single
// zero-payload BRD submitted alone must produce the exact byte-for-byte
// frame ETG.1000 mandates, and a loopback working counter of 1 must come
// back to the submitter.
func TestBroadcastRoundTripBytes(t *testing.T) {
	_, loop, tx, rx := newTestStorage(t, 2, 64)

	handle, err := loop.AllocFrame()
	require.NoError(t, err)

	pdu, err := loop.PushPDU(handle, BRD, Address{}, 4, nil)
	require.NoError(t, err)
	require.NoError(t, loop.MarkSendable(handle))

	frame, ok := tx.NextSendableFrame()
	require.True(t, ok)

	want := []byte{
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff, // dst MAC broadcast
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // src MAC (zero Addressing)
		0x88, 0xa4, // EtherType
		0x10, 0x10, // ecat header: len=16, type=1
		0x07, 0x00, // command=BRD, index=0
		0x00, 0x00, 0x00, 0x00, // address (flat, zero)
		0x04, 0x00, // length=4, more=0
		0x00, 0x00, // irq
		0x00, 0x00, 0x00, 0x00, // data
		0x00, 0x00, // working counter
	}
	got := frame.Bytes()
	require.Len(t, got, 60)
	require.Equal(t, want, got[:len(want)])
	for _, b := range got[len(want):] {
		require.Zero(t, b)
	}

	var wireBytes []byte
	require.NoError(t, frame.SendBlocking(func(b []byte) (int, error) {
		binary.LittleEndian.PutUint16(b[len(want)-2:len(want)], 1) // a single SubDevice acked
		wireBytes = b
		return len(b), nil
	}))
	rx.ReceiveFrame(wireBytes)

	resp, err := loop.AwaitResponse(context.Background(), handle)
	require.NoError(t, err)
	data, wkc, err := resp.PDU(pdu)
	require.NoError(t, err)
	require.Equal(t, uint16(1), wkc)
	require.Equal(t, []byte{0, 0, 0, 0}, data)

	loop.Release(handle)
}

// TestMultiplePDUsMoreFollowsBit is boundary scenario 2.
func TestMultiplePDUsMoreFollowsBit(t *testing.T) {
	_, loop, tx, _ := newTestStorage(t, 2, 128)

	handle, err := loop.AllocFrame()
	require.NoError(t, err)

	first, err := loop.PushPDU(handle, BRD, Address{}, 2, func(b []byte) { b[0] = 0xaa; b[1] = 0xbb })
	require.NoError(t, err)
	second, err := loop.PushPDU(handle, BRD, Address{}, 2, func(b []byte) { b[0] = 0xcc; b[1] = 0xdd })
	require.NoError(t, err)

	require.NoError(t, loop.MarkSendable(handle))
	frame, ok := tx.NextSendableFrame()
	require.True(t, ok)

	bytes := frame.Bytes()
	hdr := ethernetHeaderLen + ecatHeaderLen // PduHandle offsets are relative to the EtherCAT payload
	firstLenWord := binary.LittleEndian.Uint16(bytes[hdr+first.offset+6 : hdr+first.offset+8])
	secondLenWord := binary.LittleEndian.Uint16(bytes[hdr+second.offset+6 : hdr+second.offset+8])
	require.NotZero(t, firstLenWord&(1<<15), "first PDU must have more-follows set")
	require.Zero(t, secondLenWord&(1<<15), "last PDU must have more-follows cleared")
	require.Equal(t, first.offset+pduHeaderLen+first.Len()+pduTrailerLen, second.offset, "second PDU's header must immediately follow the first PDU's data+trailer")
}

// TestPoolExhausted is boundary scenario 3.
func TestPoolExhausted(t *testing.T) {
	_, loop, _, _ := newTestStorage(t, 2, 64)

	h1, err := loop.AllocFrame()
	require.NoError(t, err)
	h2, err := loop.AllocFrame()
	require.NoError(t, err)
	require.NotEqual(t, h1.index, h2.index)

	_, err = loop.AllocFrame()
	require.Error(t, err)
	require.True(t, IsKind(err, KindPoolExhausted))
}

// TestPartialSendRetry is boundary scenario 4.
func TestPartialSendRetry(t *testing.T) {
	_, loop, tx, _ := newTestStorage(t, 2, 64)

	handle, err := loop.AllocFrame()
	require.NoError(t, err)
	_, err = loop.PushPDU(handle, BRD, Address{}, 4, nil)
	require.NoError(t, err)
	require.NoError(t, loop.MarkSendable(handle))

	frame, ok := tx.NextSendableFrame()
	require.True(t, ok)
	fullLen := len(frame.Bytes())

	err = frame.SendBlocking(func(b []byte) (int, error) {
		return len(b) - 1, nil
	})
	require.Error(t, err)
	require.True(t, IsKind(err, KindPartialSend))
	var e *Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, fullLen, e.Len)
	require.Equal(t, fullLen-1, e.Sent)

	// the slot must be back in Sendable so a retry can claim it.
	frame2, ok := tx.NextSendableFrame()
	require.True(t, ok)
	require.NoError(t, frame2.SendBlocking(func(b []byte) (int, error) { return len(b), nil }))
}

// TestTimeoutThenStaleReply is boundary scenario 5.
func TestTimeoutThenStaleReply(t *testing.T) {
	_, loop, tx, rx := newTestStorage(t, 2, 64)

	handle, err := loop.AllocFrame()
	require.NoError(t, err)
	_, err = loop.PushPDU(handle, BRD, Address{}, 4, nil)
	require.NoError(t, err)
	require.NoError(t, loop.MarkSendable(handle))

	frame, ok := tx.NextSendableFrame()
	require.True(t, ok)
	var sentBytes []byte
	require.NoError(t, frame.SendBlocking(func(b []byte) (int, error) {
		sentBytes = append([]byte(nil), b...)
		return len(b), nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	_, err = loop.AwaitResponse(ctx, handle)
	require.Error(t, err)
	require.True(t, IsKind(err, KindTimeout))

	loop.Release(handle)

	before := rx.Diagnostics().Snapshot().Stale
	rx.ReceiveFrame(sentBytes)
	after := rx.Diagnostics().Snapshot().Stale
	require.Equal(t, before+1, after, "late reply for a released slot must be counted stale, not delivered")
}

// TestIndexSpaceWraparound is boundary scenario 6: 256 outstanding frames
// exhaust the 8-bit PDU index space before (or exactly as) the pool itself
// would, since N=256 in this test matches the index space exactly.
func TestIndexSpaceWraparound(t *testing.T) {
	_, loop, _, _ := newTestStorage(t, 256, 64)

	handles := make([]Handle, 0, 256)
	for i := 0; i < 256; i++ {
		h, err := loop.AllocFrame()
		require.NoError(t, err)
		_, err = loop.PushPDU(h, BRD, Address{}, 4, nil)
		require.NoError(t, err)
		handles = append(handles, h)
	}
	require.Len(t, handles, 256)

	_, err := loop.AllocFrame()
	require.Error(t, err)
	require.True(t, IsKind(err, KindPoolExhausted))
}

// TestConcurrentSubmitters exercises many goroutines racing AllocFrame
// against a shared pool smaller than their count, verifying no two
// submitters ever observe the same slot index simultaneously.
func TestConcurrentSubmitters(t *testing.T) {
	_, loop, tx, rx := newTestStorage(t, 8, 64)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	// Drive TX and RX from a single goroutine so the loopback "wire" can
	// never deliver a reply before SendBlocking's own CAS to Sent
	// completes: on real hardware the physical round trip always takes
	// longer than returning from the send syscall, but an instantaneous
	// in-process loopback has to enforce that ordering explicitly.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			frame, ok := tx.NextSendableFrame()
			if !ok {
				time.Sleep(time.Millisecond)
				continue
			}
			var reply []byte
			_ = frame.SendBlocking(func(b []byte) (int, error) {
				reply = append([]byte(nil), b...)
				return len(b), nil
			})
			binary.LittleEndian.PutUint16(reply[len(reply)-2:], 1)
			rx.ReceiveFrame(reply)
		}
	}()

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for attempt := 0; attempt < 20; attempt++ {
				h, err := loop.AllocFrame()
				if err != nil {
					continue
				}
				pdu, err := loop.PushPDU(h, BRD, Address{}, 4, nil)
				if err != nil {
					loop.Release(h)
					continue
				}
				if err := loop.MarkSendable(h); err != nil {
					loop.Release(h)
					continue
				}
				resp, err := loop.AwaitResponse(ctx, h)
				if err != nil {
					loop.Release(h)
					errs <- err
					return
				}
				if _, _, err := resp.PDU(pdu); err != nil {
					errs <- err
				}
				loop.Release(h)
				return
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
}
