// Package subdevice drives the EtherCAT application layer state machine
// (INIT → PRE-OP → SAFE-OP → OP) for a single SubDevice, on top of the
// ethercat PDU loop.
package subdevice

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rolfl/ethercat"
)

// State is an EtherCAT application layer state (ETG.1000-4 table 9).
type State uint8

const (
	StateInit State = 1 << iota
	StatePreOp
	StateSafeOp
	StateOp
	// stateErrorBit is ORed onto the AL status register by a SubDevice that
	// rejected the last requested transition; Status reports it separately
	// via Status.Error rather than as a State value of its own.
	stateErrorBit State = 0x10
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StatePreOp:
		return "PRE-OP"
	case StateSafeOp:
		return "SAFE-OP"
	case StateOp:
		return "OP"
	default:
		return fmt.Sprintf("State(0x%02x)", uint8(s))
	}
}

// Register offsets into the SubDevice's ESC, ETG.1000-4 table 34.
const (
	regALControl = 0x0120
	regALStatus  = 0x0130
	regALStatusC = 0x0134 // AL status code
)

// Status is the decoded AL status register.
type Status struct {
	State State
	Error bool
	Code  uint16
}

// Device drives one SubDevice's state machine. It is not safe for
// concurrent use by multiple goroutines against the same SubDevice — state
// transitions must be serialized the way the teacher serializes writes to
// one remote unit through a single Client.
type Device struct {
	loop    *ethercat.PduLoop
	address ethercat.Address
	log     *zap.Logger
}

// New constructs a Device addressed by its fixed station alias (set during
// configured-address assignment, which this package assumes already
// happened).
func New(loop *ethercat.PduLoop, station uint16, log *zap.Logger) *Device {
	if log == nil {
		log = zap.NewNop()
	}
	return &Device{loop: loop, address: ethercat.StationAddress(station, 0), log: log}
}

func (d *Device) fprd(ctx context.Context, offset uint16, dataLen int) ([]byte, error) {
	addr := d.address
	addr.Offset = offset
	handle, err := d.loop.AllocFrame()
	if err != nil {
		return nil, err
	}
	defer d.loop.Release(handle)

	pdu, err := d.loop.PushPDU(handle, ethercat.FPRD, addr, dataLen, nil)
	if err != nil {
		return nil, err
	}
	if err := d.loop.MarkSendable(handle); err != nil {
		return nil, err
	}
	resp, err := d.loop.AwaitResponse(ctx, handle)
	if err != nil {
		return nil, err
	}
	return resp.ExpectWorkingCounter(pdu, 1)
}

func (d *Device) fpwr(ctx context.Context, offset uint16, data []byte) error {
	addr := d.address
	addr.Offset = offset
	handle, err := d.loop.AllocFrame()
	if err != nil {
		return err
	}
	defer d.loop.Release(handle)

	pdu, err := d.loop.PushPDU(handle, ethercat.FPWR, addr, len(data), func(buf []byte) {
		copy(buf, data)
	})
	if err != nil {
		return err
	}
	if err := d.loop.MarkSendable(handle); err != nil {
		return err
	}
	resp, err := d.loop.AwaitResponse(ctx, handle)
	if err != nil {
		return err
	}
	_, err = resp.ExpectWorkingCounter(pdu, 1)
	return err
}

// ReadStatus reads and decodes the AL status register.
func (d *Device) ReadStatus(ctx context.Context) (Status, error) {
	data, err := d.fprd(ctx, regALStatus, 2)
	if err != nil {
		return Status{}, err
	}
	raw := State(data[0])
	st := Status{State: raw &^ stateErrorBit, Error: raw&stateErrorBit != 0}
	if st.Error {
		code, err := d.fprd(ctx, regALStatusC, 2)
		if err == nil {
			st.Code = uint16(code[0]) | uint16(code[1])<<8
		}
	}
	return st, nil
}

// RequestState writes the AL control register to request a transition,
// then polls ReadStatus until the SubDevice confirms it (or rejects it
// with the error bit set) or ctx is done.
func (d *Device) RequestState(ctx context.Context, want State) error {
	if err := d.fpwr(ctx, regALControl, []byte{byte(want), 0}); err != nil {
		return err
	}

	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			st, err := d.ReadStatus(ctx)
			if err != nil {
				return err
			}
			if st.Error {
				d.log.Warn("subdevice rejected state request",
					zap.Stringer("want", want), zap.Stringer("got", st.State), zap.Uint16("code", st.Code))
				return fmt.Errorf("subdevice: transition to %s rejected, AL status code 0x%04x", want, st.Code)
			}
			if st.State == want {
				d.log.Info("subdevice reached state", zap.Stringer("state", want))
				return nil
			}
		}
	}
}
