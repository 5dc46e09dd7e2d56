package ethercat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNextSendableFrameReturnsFalseWhenEmpty(t *testing.T) {
	_, _, tx, _ := newTestStorage(t, 2, 64)
	_, ok := tx.NextSendableFrame()
	require.False(t, ok)
}

func TestTxLoopExitsOnContextDone(t *testing.T) {
	_, _, tx, _ := newTestStorage(t, 2, 64)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		tx.TxLoop(ctx, func(b []byte) (int, error) { return len(b), nil })
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("TxLoop did not exit after context cancellation")
	}
}

func TestTxLoopSendsWhenSignaled(t *testing.T) {
	_, loop, tx, _ := newTestStorage(t, 2, 64)

	sent := make(chan []byte, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tx.TxLoop(ctx, func(b []byte) (int, error) {
		cp := append([]byte(nil), b...)
		sent <- cp
		return len(b), nil
	})

	handle, err := loop.AllocFrame()
	require.NoError(t, err)
	_, err = loop.PushPDU(handle, BRD, Address{}, 4, nil)
	require.NoError(t, err)
	require.NoError(t, loop.MarkSendable(handle))

	select {
	case b := <-sent:
		require.Len(t, b, 60)
	case <-time.After(time.Second):
		t.Fatal("TxLoop never sent the frame")
	}
}
