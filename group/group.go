// Package group implements the cyclic process-data scheduler: the
// user-facing API that drives a fixed set of PDUs against the SubDevice
// network once per cycle, on top of the ethercat PDU loop.
package group

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rolfl/ethercat"
)

// Member is one logical-addressed PDU this Group exchanges every cycle,
// typically an LRW covering a contiguous span of the process data image.
type Member struct {
	Address    ethercat.Address
	Command    ethercat.Command
	DataLen    int
	Expect     uint16
	onResponse func(data []byte)
}

// NewMember describes one cyclic exchange. onResponse, if non-nil, is
// invoked with the response payload every cycle it completes successfully;
// it runs on the cycle goroutine and must not block.
func NewMember(cmd ethercat.Command, addr ethercat.Address, dataLen int, expectWkc uint16, onResponse func(data []byte)) Member {
	return Member{Address: addr, Command: cmd, DataLen: dataLen, Expect: expectWkc, onResponse: onResponse}
}

// Group schedules a fixed list of Members through one PduLoop on a regular
// tick, the way mbcli schedules repeated Modbus requests against a fixed
// register map.
type Group struct {
	loop    *ethercat.PduLoop
	members []Member
	period  time.Duration
	timeout time.Duration
	log     *zap.Logger
}

// New constructs a Group. period is the cycle interval; timeout bounds how
// long one cycle's AwaitResponse may take before that member's result is
// treated as missed for this cycle (it does not stop the Group).
func New(loop *ethercat.PduLoop, members []Member, period, timeout time.Duration, log *zap.Logger) *Group {
	if log == nil {
		log = zap.NewNop()
	}
	return &Group{loop: loop, members: members, period: period, timeout: timeout, log: log}
}

// Run drives the cycle on a time.Ticker until ctx is done, submitting every
// member's PDU as a separate frame each tick. Members run independently: one
// member's timeout or working-counter mismatch neither delays nor cancels
// any other member's exchange within the same cycle.
func (g *Group) Run(ctx context.Context) error {
	ticker := time.NewTicker(g.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			g.cycle(ctx)
		}
	}
}

// cycle submits every member's exchange concurrently and logs each member's
// own failure independently: members do not share a cancellation context,
// so one member timing out never aborts another member still within its own
// deadline.
func (g *Group) cycle(ctx context.Context) {
	var wg sync.WaitGroup
	errs := make([]error, len(g.members))
	for i := range g.members {
		i, m := i, g.members[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = g.exchange(ctx, m)
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			g.log.Warn("member exchange failed", zap.Int("member", i), zap.Error(err))
		}
	}
}

func (g *Group) exchange(ctx context.Context, m Member) error {
	cctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	handle, err := g.loop.AllocFrame()
	if err != nil {
		return err
	}
	defer g.loop.Release(handle)

	pdu, err := g.loop.PushPDU(handle, m.Command, m.Address, m.DataLen, nil)
	if err != nil {
		return err
	}
	if err := g.loop.MarkSendable(handle); err != nil {
		return err
	}

	resp, err := g.loop.AwaitResponse(cctx, handle)
	if err != nil {
		return err
	}
	data, err := resp.ExpectWorkingCounter(pdu, m.Expect)
	if err != nil {
		return err
	}
	if m.onResponse != nil {
		m.onResponse(data)
	}
	return nil
}
