package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rolfl/ethercat"
	"github.com/rolfl/ethercat/rawsock"
	"github.com/rolfl/ethercat/subdevice"
)

// StateCmd requests an AL state transition on one SubDevice and waits for
// it to be confirmed, printing the result the way mbcli's Get commands
// print a fetched register value.
type StateCmd struct {
	Interface string `short:"i" long:"interface" description:"Network interface to bind the raw EtherCAT socket to" required:"true" env:"ECCTL_IFACE"`
	Station   int    `short:"s" long:"station" description:"Fixed station address of the target SubDevice" required:"true"`
	Want      string `short:"w" long:"want" description:"Target state: init, preop, safeop, op" required:"true"`
	Timeout   int    `short:"t" long:"timeout" default:"5" description:"Timeout in seconds"`
}

func (c *StateCmd) Execute(args []string) error {
	var want subdevice.State
	switch c.Want {
	case "init":
		want = subdevice.StateInit
	case "preop":
		want = subdevice.StatePreOp
	case "safeop":
		want = subdevice.StateSafeOp
	case "op":
		want = subdevice.StateOp
	default:
		return fmt.Errorf("unknown state %q (want init, preop, safeop, op)", c.Want)
	}

	log := newLogger(true)
	defer log.Sync()

	sock, err := rawsock.NewAFPacket(c.Interface)
	if err != nil {
		return err
	}
	defer sock.Close()

	storage, err := ethercat.NewStorage(4, 256, ethercat.Addressing{Destination: ethercat.BroadcastMAC})
	if err != nil {
		return err
	}
	loop, tx, rx, err := storage.Split()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(c.Timeout)*time.Second)
	defer cancel()

	go tx.TxLoop(ctx, sock.Send)
	go rx.RxLoop(ctx, sock.Recv)

	dev := subdevice.New(loop, uint16(c.Station), log)
	if err := dev.RequestState(ctx, want); err != nil {
		return err
	}
	log.Info("state confirmed", zap.Int("station", c.Station), zap.Stringer("state", want))
	return nil
}
