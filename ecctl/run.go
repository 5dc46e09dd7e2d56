package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/rolfl/ethercat"
	"github.com/rolfl/ethercat/group"
	"github.com/rolfl/ethercat/rawsock"
)

// RunCmd runs a cyclic broadcast-read group (a 4-byte BRD at address 0)
// against a live segment until interrupted. The member expects a working
// counter of 0: a cycle that comes back with any other count is logged as a
// failed member exchange, and response data is logged at debug level only
// for cycles that match. The working counter itself is not printed.
type RunCmd struct {
	Interface string `short:"i" long:"interface" description:"Network interface to bind the raw EtherCAT socket to" required:"true" env:"ECCTL_IFACE"`
	Cycle     int    `short:"c" long:"cycle-ms" default:"1" description:"Cycle period in milliseconds"`
	Verbose   bool   `long:"verbose" description:"Enable debug logging"`
}

func (c *RunCmd) Execute(args []string) error {
	log := newLogger(c.Verbose)
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go tx.TxLoop(ctx, sock.Send)
	go rx.RxLoop(ctx, sock.Recv)

	members := []group.Member{
		group.NewMember(ethercat.BRD, ethercat.Address{}, 4, 0, func(data []byte) {
			log.Debug("cycle response", zap.Binary("data", data))
		}),
	}
	g := group.New(loop, members, time.Duration(c.Cycle)*time.Millisecond, 2*time.Duration(c.Cycle)*time.Millisecond, log)

	log.Info("starting cyclic group", zap.String("interface", c.Interface), zap.Int("cycle_ms", c.Cycle))
	return g.Run(ctx)
}
