// Package dc implements EtherCAT distributed clock offset measurement:
// propagating the reference SubDevice's system time to every other
// SubDevice via an ARMW PDU, tracking the resulting offset, and reading the
// reference SubDevice's propagation delay register. It does not perform
// drift compensation.
package dc

import (
	"context"
	"encoding/binary"

	"github.com/rolfl/ethercat"
)

// System time register offsets, ETG.1000-4 table 60.
const (
	regSystemTime       = 0x0910
	regSystemTimeOffset = 0x0920
	regSystemTimeDelay  = 0x0928
)

// Sync drives one distributed clock synchronization exchange and tracks
// the running offset/delay measurements for a single reference SubDevice
// position.
type Sync struct {
	loop            *ethercat.PduLoop
	referencePos    uint16
	expectWkc       uint16
	offset          int64
	propagationTime uint32
}

// New constructs a Sync that addresses the reference SubDevice at the
// given auto-increment position, expecting expectWkc SubDevices to
// participate in each broadcast round (used to validate the working
// counter on every exchange).
func New(loop *ethercat.PduLoop, referencePosition uint16, expectWkc uint16) *Sync {
	return &Sync{loop: loop, referencePos: referencePosition, expectWkc: expectWkc}
}

// LatchOffset performs one ARMW (auto-increment read-multiple-write)
// broadcast of the reference clock's system time, which every SubDevice
// downstream latches and compares against its own clock, accumulating the
// difference into its system time offset register. The measured offset is
// available via Offset as soon as LatchOffset returns; the propagation delay
// is read separately by ReadDelay and reported by PropagationTime.
func (s *Sync) LatchOffset(ctx context.Context, localTime uint64) error {
	addr := ethercat.PositionAddress(s.referencePos, regSystemTime)
	handle, err := s.loop.AllocFrame()
	if err != nil {
		return err
	}
	defer s.loop.Release(handle)

	pdu, err := s.loop.PushPDU(handle, ethercat.ARMW, addr, 8, func(buf []byte) {
		binary.LittleEndian.PutUint64(buf, localTime)
	})
	if err != nil {
		return err
	}
	if err := s.loop.MarkSendable(handle); err != nil {
		return err
	}
	resp, err := s.loop.AwaitResponse(ctx, handle)
	if err != nil {
		return err
	}
	data, err := resp.ExpectWorkingCounter(pdu, s.expectWkc)
	if err != nil {
		return err
	}
	remoteTime := binary.LittleEndian.Uint64(data)
	s.offset = int64(remoteTime) - int64(localTime)
	return nil
}

// ReadDelay reads the measured propagation delay from the reference
// SubDevice's system time delay register (populated by the SubDevice
// hardware during the initial delay-measurement broadcast, which this
// package assumes already ran as part of bus scanning).
func (s *Sync) ReadDelay(ctx context.Context) error {
	addr := ethercat.PositionAddress(s.referencePos, regSystemTimeDelay)
	handle, err := s.loop.AllocFrame()
	if err != nil {
		return err
	}
	defer s.loop.Release(handle)

	pdu, err := s.loop.PushPDU(handle, ethercat.APRD, addr, 4, nil)
	if err != nil {
		return err
	}
	if err := s.loop.MarkSendable(handle); err != nil {
		return err
	}
	resp, err := s.loop.AwaitResponse(ctx, handle)
	if err != nil {
		return err
	}
	data, err := resp.ExpectWorkingCounter(pdu, 1)
	if err != nil {
		return err
	}
	s.propagationTime = binary.LittleEndian.Uint32(data)
	return nil
}

// Offset returns the most recently measured clock offset (remote - local,
// nanoseconds) from LatchOffset.
func (s *Sync) Offset() int64 {
	return s.offset
}

// PropagationTime returns the most recently measured cable propagation
// delay, in nanoseconds, from ReadDelay.
func (s *Sync) PropagationTime() uint32 {
	return s.propagationTime
}
